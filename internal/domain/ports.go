package domain

import "context"

// Signaler manages the connection to the signaling server.
type Signaler interface {
	Connect(ctx context.Context) error
	// Join blocks until the server confirms the room join.
	Join(ctx context.Context, room string) error
	Leave()
	SendOfferAnswer(peerID string, payload []byte)
	SendCandidate(peerID string, payload []byte)
	Close()
}

// SignalHandler receives signaling events. Payloads are still serialized.
type SignalHandler interface {
	OnPeerJoined(peerID string)
	OnPeerLeft(peerID string)
	OnRemoteOfferAnswer(peerID string, payload []byte)
	OnRemoteCandidate(peerID string, payload []byte)
}

// Engine negotiates one media link per peer.
type Engine interface {
	// Open starts a session. Events for every link are delivered to handler.
	Open(session Session, handler EngineHandler) error
	CreateLink(peerID string) error
	// ApplyRemoteOfferAnswer creates the link first if the peer is unknown.
	ApplyRemoteOfferAnswer(peerID string, oa OfferAnswer) error
	ApplyRemoteCandidate(peerID string, c Candidate) error
	CloseLink(peerID string) error
	Close() error
}

// EngineHandler receives engine events. Implementations must not block:
// engines may call them while holding per-link locks.
type EngineHandler interface {
	OnLocalOfferAnswer(peerID string, oa OfferAnswer)
	OnLocalCandidate(peerID string, c Candidate)
	OnLinkUp(peerID string, surface Surface)
	OnLinkDown(peerID string)
}

// PresentationSink renders local and remote video surfaces.
type PresentationSink interface {
	AddSurface(peerID string, surface Surface)
	RemoveSurface(peerID string)
	SetLocalSurface(surface Surface)
}

// MediaSource acquires local capture devices. ctx bounds the acquisition
// only; the returned media lives until Close.
type MediaSource interface {
	Acquire(ctx context.Context) (LocalMedia, error)
}

// LocalMedia is an acquired local audio/video stream.
type LocalMedia interface {
	MuteAudio()
	UnmuteAudio()
	MuteVideo()
	UnmuteVideo()
	MuteVideoPreview()
	UnmuteVideoPreview()
	// UseNextVideoDevice switches capture to the next device and returns its index.
	UseNextVideoDevice() (int, error)
	Preview() Surface
	Close() error
}

// Surface is an opaque renderable video handle.
type Surface interface {
	SurfaceID() string
}

// Codec serializes signaling payloads.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}
