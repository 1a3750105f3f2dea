package conference

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"webrtc_mobile/conference/internal/domain"
	"webrtc_mobile/conference/internal/logger"
	"webrtc_mobile/conference/internal/wire"

	"github.com/pion/logging"
)

// Config wires the orchestrator to its collaborators.
type Config struct {
	Engine domain.Engine
	Media  domain.MediaSource
	Sink   domain.PresentationSink
	// Codec serializes offer/answer and candidate payloads on the wire.
	// Defaults to JSON.
	Codec domain.Codec
	Relay domain.RelayConfig

	// NewCertificate returns the private key of a fresh session identity.
	// Defaults to an ECDSA P-256 key.
	NewCertificate func() (crypto.PrivateKey, error)

	// LoggerFactory is optional; nil disables logging.
	LoggerFactory logging.LoggerFactory
}

// conference is the active session. It exists only once local media is ready.
type conference struct {
	room        string
	peers       map[string]*peer
	media       domain.LocalMedia
	relay       domain.RelayConfig
	certificate crypto.PrivateKey
	state       MediaState
}

// Orchestrator owns conference membership and routes signaling between the
// signaling transport and the negotiation engine. It implements
// domain.SignalHandler and domain.EngineHandler.
//
// Transport and engine events are queued and handled one at a time by a
// single goroutine. Signaling events received before OnLocalMediaReady
// returns are dropped, not buffered: a peer that joins inside that window
// stays unlinked until it signals again.
type Orchestrator struct {
	engine  domain.Engine
	media   domain.MediaSource
	sink    domain.PresentationSink
	codec   domain.Codec
	relay   domain.RelayConfig
	newCert func() (crypto.PrivateKey, error)
	log     logging.LeveledLogger
	signal  domain.Signaler

	inbox    *eventQueue
	loopDone chan struct{}
	// stopped is closed by Shutdown.
	stopped chan struct{}
	// accepting is set once the conference exists and cleared on shutdown.
	accepting atomic.Bool

	mu       sync.Mutex
	room     string
	conf     *conference
	shutdown bool
}

// New creates an orchestrator and starts its event loop.
// Call SetSignaler before Start.
func New(cfg Config) *Orchestrator {
	newCert := cfg.NewCertificate
	if newCert == nil {
		newCert = generateCertificate
	}
	codec := cfg.Codec
	if codec == nil {
		codec = wire.JSON{}
	}

	o := &Orchestrator{
		engine:   cfg.Engine,
		media:    cfg.Media,
		sink:     cfg.Sink,
		codec:    codec,
		relay:    cfg.Relay,
		newCert:  newCert,
		log:      logger.Scoped(cfg.LoggerFactory, "conference"),
		inbox:    newEventQueue(),
		loopDone: make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	go o.run()
	return o
}

// SetSignaler injects the signaler after construction; the signaler needs
// the orchestrator as its handler.
func (o *Orchestrator) SetSignaler(s domain.Signaler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.signal = s
}

// Start connects to the signaling server, begins local media acquisition and
// joins room. It returns once the join is confirmed and the conference is
// built, or with the first session-level failure, after which the caller
// should Shutdown. A failed join leaves no conference and releases any media
// acquired meanwhile. Concurrent calls are not supported.
func (o *Orchestrator) Start(ctx context.Context, room string) error {
	o.mu.Lock()
	if o.shutdown {
		o.mu.Unlock()
		return ErrShutdown
	}
	o.room = room
	sig := o.signal
	o.mu.Unlock()

	if sig == nil {
		return newError("start", fmt.Errorf("%w: no signaler", ErrJoinFailed))
	}

	o.log.Infof("connecting to signaling for room %q", room)
	if err := sig.Connect(ctx); err != nil {
		return newError("connect signaling", fmt.Errorf("%w: %w", ErrJoinFailed, err))
	}

	// Media is acquired while the join is in flight; the conference is only
	// built once both succeed.
	attempt, cancel := context.WithCancel(ctx)
	defer cancel()
	acquired := make(chan acquisition, 1)
	go func() {
		lm, err := o.media.Acquire(attempt)
		acquired <- acquisition{media: lm, err: err}
	}()

	if err := sig.Join(ctx, room); err != nil {
		cancel()
		o.release(<-acquired)
		return newError("join room", fmt.Errorf("%w: %w", ErrJoinFailed, err))
	}
	o.log.Infof("joined room %q, waiting for local media", room)

	var a acquisition
	select {
	case a = <-acquired:
	case <-ctx.Done():
		go func() { o.release(<-acquired) }()
		return ctx.Err()
	case <-o.stopped:
		go func() { o.release(<-acquired) }()
		return ErrShutdown
	}
	if a.err != nil {
		o.log.Errorf("acquire local media: %v", a.err)
		return newError("acquire local media", fmt.Errorf("%w: %w", ErrMediaAcquisition, a.err))
	}
	return o.OnLocalMediaReady(a.media)
}

type acquisition struct {
	media domain.LocalMedia
	err   error
}

// release drops media from an abandoned start.
func (o *Orchestrator) release(a acquisition) {
	if a.err != nil || a.media == nil {
		return
	}
	o.log.Debugf("start abandoned, releasing local media")
	if err := a.media.Close(); err != nil {
		o.log.Warnf("release local media: %v", err)
	}
}

// OnLocalMediaReady builds the conference around lm: relay credentials, a
// fresh certificate and an engine session. After Shutdown it only releases lm.
func (o *Orchestrator) OnLocalMediaReady(lm domain.LocalMedia) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.shutdown {
		o.log.Debugf("local media ready after shutdown, releasing")
		_ = lm.Close()
		return ErrShutdown
	}
	if o.conf != nil {
		_ = lm.Close()
		return newError("build conference", fmt.Errorf("conference already exists for room %q", o.conf.room))
	}

	cert, err := o.newCert()
	if err != nil {
		_ = lm.Close()
		return newError("generate certificate", err)
	}

	session := domain.Session{
		Room:        o.room,
		Relay:       o.relay,
		Certificate: cert,
		Media:       lm,
	}
	if err := o.engine.Open(session, o); err != nil {
		_ = lm.Close()
		return newError("open engine session", err)
	}

	o.conf = &conference{
		room:        o.room,
		peers:       make(map[string]*peer),
		media:       lm,
		relay:       o.relay,
		certificate: cert,
	}
	o.sink.SetLocalSurface(lm.Preview())
	o.accepting.Store(true)

	o.log.Infof("conference ready in room %q", o.room)
	return nil
}

// Shutdown tears down every peer link, releases local media and leaves the
// room. It is safe to call more than once and before Start completes.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	if o.shutdown {
		o.mu.Unlock()
		return
	}
	o.shutdown = true
	o.accepting.Store(false)
	close(o.stopped)

	if c := o.conf; c != nil {
		for _, p := range c.peers {
			if p.live() {
				o.closePeer(p)
			}
		}
		if err := c.media.Close(); err != nil {
			o.log.Warnf("release local media: %v", err)
		}
		o.conf = nil
	}
	sig := o.signal
	o.mu.Unlock()

	o.inbox.close()
	<-o.loopDone

	if sig != nil {
		sig.Leave()
		sig.Close()
	}
	if err := o.engine.Close(); err != nil {
		o.log.Warnf("close engine: %v", err)
	}
	o.log.Infof("shut down")
}

func (o *Orchestrator) run() {
	defer close(o.loopDone)
	for {
		fn, ok := o.inbox.pop()
		if !ok {
			return
		}
		o.mu.Lock()
		fn()
		o.mu.Unlock()
	}
}

// enqueue drops the event unless a conference exists at receipt time.
func (o *Orchestrator) enqueue(kind, peerID string, fn func()) {
	if !o.accepting.Load() {
		o.log.Debugf("no conference, dropping %s for %s", kind, peerID)
		return
	}
	o.inbox.push(fn)
}

// OnPeerJoined implements domain.SignalHandler.
func (o *Orchestrator) OnPeerJoined(peerID string) {
	o.enqueue("peer-joined", peerID, func() { o.handlePeerJoined(peerID) })
}

// OnPeerLeft implements domain.SignalHandler.
func (o *Orchestrator) OnPeerLeft(peerID string) {
	o.enqueue("peer-left", peerID, func() { o.handlePeerLeft(peerID) })
}

// OnRemoteOfferAnswer implements domain.SignalHandler.
func (o *Orchestrator) OnRemoteOfferAnswer(peerID string, payload []byte) {
	o.enqueue("offer-answer", peerID, func() { o.handleRemoteOfferAnswer(peerID, payload) })
}

// OnRemoteCandidate implements domain.SignalHandler.
func (o *Orchestrator) OnRemoteCandidate(peerID string, payload []byte) {
	o.enqueue("candidate", peerID, func() { o.handleRemoteCandidate(peerID, payload) })
}

// OnLocalOfferAnswer implements domain.EngineHandler.
func (o *Orchestrator) OnLocalOfferAnswer(peerID string, oa domain.OfferAnswer) {
	o.enqueue("local offer-answer", peerID, func() { o.handleLocalOfferAnswer(peerID, oa) })
}

// OnLocalCandidate implements domain.EngineHandler.
func (o *Orchestrator) OnLocalCandidate(peerID string, c domain.Candidate) {
	o.enqueue("local candidate", peerID, func() { o.handleLocalCandidate(peerID, c) })
}

// OnLinkUp implements domain.EngineHandler.
func (o *Orchestrator) OnLinkUp(peerID string, surface domain.Surface) {
	o.enqueue("link-up", peerID, func() { o.handleLinkUp(peerID, surface) })
}

// OnLinkDown implements domain.EngineHandler.
func (o *Orchestrator) OnLinkDown(peerID string) {
	o.enqueue("link-down", peerID, func() { o.handleLinkDown(peerID) })
}

// The handlers below run on the event loop with o.mu held.

func (o *Orchestrator) handlePeerJoined(peerID string) {
	c := o.conf
	if c == nil {
		return
	}
	if p, ok := c.peers[peerID]; ok && p.state != Closed {
		o.log.Debugf("peer %s already %s, ignoring join", peerID, p.state)
		return
	}

	p := newPeer(peerID)
	c.peers[peerID] = p
	o.transition(p, Linking)

	o.log.Infof("peer %s joined, creating link", peerID)
	if err := o.engine.CreateLink(peerID); err != nil {
		o.log.Errorf("%v", newPeerError("create link", peerID, err))
		o.closePeer(p)
	}
}

func (o *Orchestrator) handlePeerLeft(peerID string) {
	c := o.conf
	if c == nil {
		return
	}
	p, ok := c.peers[peerID]
	if !ok || !p.live() {
		return
	}
	o.log.Infof("peer %s left", peerID)
	o.closePeer(p)
}

func (o *Orchestrator) handleRemoteOfferAnswer(peerID string, payload []byte) {
	c := o.conf
	if c == nil {
		return
	}
	p, known := c.peers[peerID]
	if known && p.state == Closed {
		o.log.Debugf("peer %s closed, dropping offer-answer", peerID)
		return
	}

	var oa domain.OfferAnswer
	if err := o.codec.Unmarshal(payload, &oa); err != nil {
		o.log.Warnf("%v", newPeerError("decode offer-answer", peerID, err))
		return
	}

	if !known {
		p = newPeer(peerID)
		c.peers[peerID] = p
		o.transition(p, Linking)
		o.log.Infof("offer-answer from unknown peer %s, linking", peerID)
	}

	if err := o.engine.ApplyRemoteOfferAnswer(peerID, oa); err != nil {
		o.log.Warnf("%v", newPeerError("apply offer-answer", peerID, err))
		if !known {
			o.closePeer(p)
		}
	}
}

func (o *Orchestrator) handleRemoteCandidate(peerID string, payload []byte) {
	c := o.conf
	if c == nil {
		return
	}
	p, ok := c.peers[peerID]
	if !ok || !p.live() {
		o.log.Debugf("no live link for %s, dropping candidate", peerID)
		return
	}

	var cand domain.Candidate
	if err := o.codec.Unmarshal(payload, &cand); err != nil {
		o.log.Warnf("%v", newPeerError("decode candidate", peerID, err))
		return
	}
	if err := o.engine.ApplyRemoteCandidate(peerID, cand); err != nil {
		o.log.Warnf("%v", newPeerError("apply candidate", peerID, err))
	}
}

func (o *Orchestrator) handleLocalOfferAnswer(peerID string, oa domain.OfferAnswer) {
	if !o.sendable(peerID) {
		return
	}
	payload, err := o.codec.Marshal(oa)
	if err != nil {
		o.log.Errorf("%v", newPeerError("encode offer-answer", peerID, err))
		return
	}
	o.signal.SendOfferAnswer(peerID, payload)
}

func (o *Orchestrator) handleLocalCandidate(peerID string, cand domain.Candidate) {
	if !o.sendable(peerID) {
		return
	}
	payload, err := o.codec.Marshal(cand)
	if err != nil {
		o.log.Errorf("%v", newPeerError("encode candidate", peerID, err))
		return
	}
	o.signal.SendCandidate(peerID, payload)
}

// sendable reports whether local signals for peerID may go out.
func (o *Orchestrator) sendable(peerID string) bool {
	if o.conf == nil || o.signal == nil {
		return false
	}
	p, ok := o.conf.peers[peerID]
	if !ok || !p.live() {
		o.log.Debugf("peer %s not live, suppressing local signal", peerID)
		return false
	}
	return true
}

func (o *Orchestrator) handleLinkUp(peerID string, surface domain.Surface) {
	if o.conf == nil {
		return
	}
	p, ok := o.conf.peers[peerID]
	if !ok || p.state != Linking {
		return
	}
	o.transition(p, Connected)
	o.log.Infof("link to %s up", peerID)
	o.sink.AddSurface(peerID, surface)
}

func (o *Orchestrator) handleLinkDown(peerID string) {
	if o.conf == nil {
		return
	}
	p, ok := o.conf.peers[peerID]
	if !ok || !p.live() {
		return
	}
	o.log.Infof("link to %s down", peerID)
	o.closePeer(p)
}

func (o *Orchestrator) closePeer(p *peer) {
	if !o.transition(p, Closed) {
		return
	}
	if err := o.engine.CloseLink(p.id); err != nil {
		o.log.Warnf("%v", newPeerError("close link", p.id, err))
	}
	o.sink.RemoveSurface(p.id)
}

func (o *Orchestrator) transition(p *peer, to LinkState) bool {
	from := p.state
	if err := p.advance(to); err != nil {
		o.log.Errorf("%v", newPeerError("transition", p.id, err))
		return false
	}
	o.log.Debugf("peer %s: %s -> %s", p.id, from, to)
	return true
}

// PeerStatus is the link state of one peer.
type PeerStatus struct {
	ID    string
	State LinkState
}

// Status is a point-in-time view of the orchestrator.
type Status struct {
	Room  string
	Ready bool
	Peers []PeerStatus
	Media MediaState
}

// Snapshot returns the current status, peers sorted by id.
func (o *Orchestrator) Snapshot() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := Status{Room: o.room}
	if o.conf == nil {
		return st
	}
	st.Ready = true
	st.Media = o.conf.state
	for _, p := range o.conf.peers {
		st.Peers = append(st.Peers, PeerStatus{ID: p.id, State: p.state})
	}
	sort.Slice(st.Peers, func(i, j int) bool { return st.Peers[i].ID < st.Peers[j].ID })
	return st
}

func generateCertificate() (crypto.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}
