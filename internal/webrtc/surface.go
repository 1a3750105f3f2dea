package webrtc

import (
	"io"
	"sync"

	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v4"
)

// RemoteVideo is the surface for a peer's inbound video. The track is
// attached once the remote side starts sending.
type RemoteVideo struct {
	id string

	mu    sync.Mutex
	track *pion.TrackRemote

	ready     chan struct{}
	done      chan struct{}
	readyOnce sync.Once
	doneOnce  sync.Once
}

func newRemoteVideo(peerID string) *RemoteVideo {
	return &RemoteVideo{
		id:    peerID,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// SurfaceID returns the id of the peer the video belongs to.
func (v *RemoteVideo) SurfaceID() string {
	return v.id
}

// MimeType returns the negotiated codec, or "" before the track arrives.
func (v *RemoteVideo) MimeType() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.track == nil {
		return ""
	}
	return v.track.Codec().MimeType
}

// ReadRTP blocks until the track is attached, then returns its next packet.
// It returns io.EOF once the link is closed.
func (v *RemoteVideo) ReadRTP() (*rtp.Packet, error) {
	select {
	case <-v.ready:
	case <-v.done:
		return nil, io.EOF
	}

	v.mu.Lock()
	track := v.track
	v.mu.Unlock()

	pkt, _, err := track.ReadRTP()
	return pkt, err
}

func (v *RemoteVideo) attach(track *pion.TrackRemote) {
	v.readyOnce.Do(func() {
		v.mu.Lock()
		v.track = track
		v.mu.Unlock()
		close(v.ready)
	})
}

func (v *RemoteVideo) close() {
	v.doneOnce.Do(func() { close(v.done) })
}
