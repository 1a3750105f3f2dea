package webrtc

import (
	"errors"
	"fmt"
	"sync"

	"webrtc_mobile/conference/internal/domain"
	"webrtc_mobile/conference/internal/logger"

	"github.com/pion/logging"
	pion "github.com/pion/webrtc/v4"
)

var (
	ErrNotOpen      = errors.New("engine not open")
	ErrAlreadyOpen  = errors.New("engine already open")
	ErrEngineClosed = errors.New("engine closed")
	ErrLinkExists   = errors.New("link already exists")
)

// TrackProvider is implemented by local media that can publish tracks.
// Media without it results in receive-only links.
type TrackProvider interface {
	LocalTracks() []pion.TrackLocal
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	LoggerFactory logging.LoggerFactory

	// IncludeLoopback gathers loopback candidates. Only useful in tests.
	IncludeLoopback bool
}

// Engine negotiates one PeerConnection per peer. It implements domain.Engine.
type Engine struct {
	caps *Capabilities
	cfg  EngineConfig
	log  logging.LeveledLogger

	mu      sync.Mutex
	api     *pion.API
	config  pion.Configuration
	handler domain.EngineHandler
	tracks  []pion.TrackLocal
	links   map[string]*link
	open    bool
	closed  bool
}

// NewEngine creates an engine for the registered capabilities.
func NewEngine(caps *Capabilities, cfg EngineConfig) *Engine {
	return &Engine{
		caps:  caps,
		cfg:   cfg,
		log:   logger.Scoped(cfg.LoggerFactory, "webrtc"),
		links: make(map[string]*link),
	}
}

// Open prepares the engine for a session. The DTLS certificate is derived
// from the session key and shared by every link.
func (e *Engine) Open(session domain.Session, handler domain.EngineHandler) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}
	if e.open {
		return ErrAlreadyOpen
	}

	cert, err := pion.GenerateCertificate(session.Certificate)
	if err != nil {
		return fmt.Errorf("generate certificate: %w", err)
	}

	se := pion.SettingEngine{}
	if e.cfg.LoggerFactory != nil {
		se.LoggerFactory = e.cfg.LoggerFactory
	}
	se.SetIncludeLoopbackCandidate(e.cfg.IncludeLoopback)

	e.api = pion.NewAPI(
		pion.WithMediaEngine(e.caps.media),
		pion.WithInterceptorRegistry(e.caps.interceptors),
		pion.WithSettingEngine(se),
	)

	var servers []pion.ICEServer
	if len(session.Relay.URLs) > 0 {
		servers = append(servers, pion.ICEServer{
			URLs:       session.Relay.URLs,
			Username:   session.Relay.Username,
			Credential: session.Relay.Password,
		})
	}
	e.config = pion.Configuration{
		ICEServers:   servers,
		Certificates: []pion.Certificate{*cert},
		BundlePolicy: pion.BundlePolicyMaxBundle,
	}

	if tp, ok := session.Media.(TrackProvider); ok {
		e.tracks = tp.LocalTracks()
	}
	e.handler = handler
	e.open = true

	e.log.Infof("session open: room=%s relays=%d tracks=%d", session.Room, len(session.Relay.URLs), len(e.tracks))
	return nil
}

// CreateLink starts negotiation with peerID by emitting an offer.
func (e *Engine) CreateLink(peerID string) error {
	l, err := e.newLink(peerID)
	if err != nil {
		return err
	}
	if err := l.offer(); err != nil {
		e.dropLink(peerID, l)
		return fmt.Errorf("link %s: %w", peerID, err)
	}
	return nil
}

// ApplyRemoteOfferAnswer applies a remote description, creating the link if
// the peer is unknown. Offers are answered.
func (e *Engine) ApplyRemoteOfferAnswer(peerID string, oa domain.OfferAnswer) error {
	l, err := e.lookup(peerID)
	if errors.Is(err, errNoLink) {
		l, err = e.newLink(peerID)
	}
	if err != nil {
		return err
	}
	if err := l.applyRemote(oa); err != nil {
		return fmt.Errorf("link %s: %w", peerID, err)
	}
	return nil
}

// ApplyRemoteCandidate adds a remote candidate to an existing link.
func (e *Engine) ApplyRemoteCandidate(peerID string, c domain.Candidate) error {
	l, err := e.lookup(peerID)
	if err != nil {
		return err
	}
	if err := l.addRemoteCandidate(c); err != nil {
		return fmt.Errorf("link %s: %w", peerID, err)
	}
	return nil
}

// CloseLink tears down the link to peerID. Unknown peers are ignored.
func (e *Engine) CloseLink(peerID string) error {
	e.mu.Lock()
	l, ok := e.links[peerID]
	delete(e.links, peerID)
	e.mu.Unlock()

	if !ok {
		return nil
	}
	if err := l.close(); err != nil {
		return fmt.Errorf("close link %s: %w", peerID, err)
	}
	return nil
}

// Close tears down every link. The engine cannot be reopened.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	links := e.links
	e.links = make(map[string]*link)
	e.mu.Unlock()

	var errs []error
	for id, l := range links {
		if err := l.close(); err != nil {
			errs = append(errs, fmt.Errorf("close link %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

var errNoLink = errors.New("no link for peer")

func (e *Engine) lookup(peerID string) (*link, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.usable(); err != nil {
		return nil, err
	}
	l, ok := e.links[peerID]
	if !ok {
		return nil, fmt.Errorf("%w %s", errNoLink, peerID)
	}
	return l, nil
}

func (e *Engine) newLink(peerID string) (*link, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.usable(); err != nil {
		return nil, err
	}
	if _, ok := e.links[peerID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrLinkExists, peerID)
	}

	pc, err := e.api.NewPeerConnection(e.config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	if err := e.addMedia(pc); err != nil {
		_ = pc.Close()
		return nil, err
	}

	l := newLink(peerID, pc, e.handler, e.log)
	e.links[peerID] = l
	return l, nil
}

// addMedia publishes the local tracks and adds a receive-only transceiver
// for every kind without one.
func (e *Engine) addMedia(pc *pion.PeerConnection) error {
	sending := map[pion.RTPCodecType]bool{}
	for _, track := range e.tracks {
		sender, err := pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("add %s track: %w", track.Kind(), err)
		}
		sending[track.Kind()] = true

		// Read incoming RTCP so the interceptors see NACKs and reports.
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := sender.Read(buf); err != nil {
					return
				}
			}
		}()
	}

	for _, kind := range []pion.RTPCodecType{pion.RTPCodecTypeAudio, pion.RTPCodecTypeVideo} {
		if sending[kind] {
			continue
		}
		if _, err := pc.AddTransceiverFromKind(kind, pion.RTPTransceiverInit{
			Direction: pion.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}
	return nil
}

func (e *Engine) dropLink(peerID string, l *link) {
	e.mu.Lock()
	if e.links[peerID] == l {
		delete(e.links, peerID)
	}
	e.mu.Unlock()
	_ = l.close()
}

func (e *Engine) usable() error {
	if e.closed {
		return ErrEngineClosed
	}
	if !e.open {
		return ErrNotOpen
	}
	return nil
}
