package domain

// OfferAnswer is a session description exchanged to negotiate a link.
type OfferAnswer struct {
	Type string `json:"type" msgpack:"type"`
	SDP  string `json:"sdp" msgpack:"sdp"`
}

// Candidate is a trickled ICE candidate.
type Candidate struct {
	Candidate        string `json:"candidate" msgpack:"candidate"`
	SDPMid           string `json:"sdpMid" msgpack:"sdpMid"`
	SDPMLineIndex    int    `json:"sdpMLineIndex" msgpack:"sdpMLineIndex"`
	UsernameFragment string `json:"usernameFragment,omitempty" msgpack:"usernameFragment,omitempty"`
}
