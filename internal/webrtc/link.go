package webrtc

import (
	"fmt"
	"sync"

	"webrtc_mobile/conference/internal/domain"

	"github.com/pion/logging"
	pion "github.com/pion/webrtc/v4"
)

// link wraps the PeerConnection negotiated with one peer.
//
// mu serializes everything emitted to the handler for this peer, so the local
// description always goes out before the candidates gathered because of it.
type link struct {
	peerID  string
	pc      *pion.PeerConnection
	handler domain.EngineHandler
	log     logging.LeveledLogger
	video   *RemoteVideo

	mu            sync.Mutex
	descEmitted   bool
	localPending  []domain.Candidate
	remoteSet     bool
	remotePending []pion.ICECandidateInit
	up            bool
	closed        bool
}

func newLink(peerID string, pc *pion.PeerConnection, handler domain.EngineHandler, log logging.LeveledLogger) *link {
	l := &link{
		peerID:  peerID,
		pc:      pc,
		handler: handler,
		log:     log,
		video:   newRemoteVideo(peerID),
	}

	pc.OnICECandidate(l.onICECandidate)
	pc.OnConnectionStateChange(l.onConnectionStateChange)
	pc.OnTrack(l.onTrack)

	return l
}

func (l *link) offer() error {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	l.emitDescription(offer)
	return nil
}

func (l *link) applyRemote(oa domain.OfferAnswer) error {
	var sdpType pion.SDPType
	switch oa.Type {
	case "offer":
		sdpType = pion.SDPTypeOffer
	case "answer":
		sdpType = pion.SDPTypeAnswer
	default:
		return fmt.Errorf("unexpected description type %q", oa.Type)
	}

	if err := l.pc.SetRemoteDescription(pion.SessionDescription{Type: sdpType, SDP: oa.SDP}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	l.flushRemoteCandidates()

	if sdpType != pion.SDPTypeOffer {
		return nil
	}

	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	l.emitDescription(answer)
	return nil
}

// addRemoteCandidate buffers candidates that arrive before the remote description.
func (l *link) addRemoteCandidate(c domain.Candidate) error {
	idx := uint16(c.SDPMLineIndex)
	init := pion.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMLineIndex: &idx,
	}
	if c.SDPMid != "" {
		mid := c.SDPMid
		init.SDPMid = &mid
	}
	if c.UsernameFragment != "" {
		ufrag := c.UsernameFragment
		init.UsernameFragment = &ufrag
	}

	l.mu.Lock()
	if !l.remoteSet {
		l.remotePending = append(l.remotePending, init)
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	if err := l.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

func (l *link) flushRemoteCandidates() {
	l.mu.Lock()
	l.remoteSet = true
	pending := l.remotePending
	l.remotePending = nil
	l.mu.Unlock()

	for _, init := range pending {
		if err := l.pc.AddICECandidate(init); err != nil {
			l.log.Warnf("%s: add buffered candidate: %v", l.peerID, err)
		}
	}
}

func (l *link) emitDescription(desc pion.SessionDescription) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}

	l.handler.OnLocalOfferAnswer(l.peerID, domain.OfferAnswer{Type: desc.Type.String(), SDP: desc.SDP})
	l.descEmitted = true

	for _, c := range l.localPending {
		l.handler.OnLocalCandidate(l.peerID, c)
	}
	l.localPending = nil
}

func (l *link) onICECandidate(c *pion.ICECandidate) {
	if c == nil {
		l.log.Debugf("%s: ICE gathering complete", l.peerID)
		return
	}

	init := c.ToJSON()
	cand := domain.Candidate{Candidate: init.Candidate}
	if init.SDPMid != nil {
		cand.SDPMid = *init.SDPMid
	}
	if init.SDPMLineIndex != nil {
		cand.SDPMLineIndex = int(*init.SDPMLineIndex)
	}
	if init.UsernameFragment != nil {
		cand.UsernameFragment = *init.UsernameFragment
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if !l.descEmitted {
		l.localPending = append(l.localPending, cand)
		return
	}
	l.handler.OnLocalCandidate(l.peerID, cand)
}

func (l *link) onConnectionStateChange(state pion.PeerConnectionState) {
	l.log.Debugf("%s: connection state %s", l.peerID, state)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}

	switch state {
	case pion.PeerConnectionStateConnected:
		if !l.up {
			l.up = true
			l.handler.OnLinkUp(l.peerID, l.video)
		}
	case pion.PeerConnectionStateFailed, pion.PeerConnectionStateClosed:
		l.closed = true
		l.video.close()
		l.handler.OnLinkDown(l.peerID)
	}
}

func (l *link) onTrack(track *pion.TrackRemote, _ *pion.RTPReceiver) {
	codec := track.Codec()
	l.log.Infof("%s: got track kind=%s codec=%s pt=%d", l.peerID, track.Kind(), codec.MimeType, codec.PayloadType)

	if track.Kind() == pion.RTPCodecTypeVideo {
		l.video.attach(track)
		return
	}

	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := track.Read(buf); err != nil {
				return
			}
		}
	}()
}

// close tears down the PeerConnection without reporting link-down.
func (l *link) close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	l.video.close()
	return l.pc.Close()
}
