package domain

import "crypto"

// RelayConfig holds STUN/TURN URLs and the credentials used for relayed traffic.
type RelayConfig struct {
	URLs     []string `json:"urls"`
	Username string   `json:"username"`
	Password string   `json:"credential"`
}

// Session is handed to the Engine when a conference is built.
type Session struct {
	Room  string
	Relay RelayConfig
	// Certificate is the private key of the session-lifetime DTLS identity.
	Certificate crypto.PrivateKey
	Media       LocalMedia
}
