package webrtc

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"webrtc_mobile/conference/internal/domain"

	"github.com/pion/transport/v3/test"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	caps, err := NewCapabilities(CodecPreferences{Audio: CodecOpus, Video: CodecVP8})
	if err != nil {
		t.Fatal(err)
	}
	return NewEngine(caps, EngineConfig{IncludeLoopback: true})
}

func newSession(t *testing.T) domain.Session {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return domain.Session{Room: "lobby", Certificate: key}
}

// nopHandler discards engine events.
type nopHandler struct{}

func (nopHandler) OnLocalOfferAnswer(string, domain.OfferAnswer) {}
func (nopHandler) OnLocalCandidate(string, domain.Candidate)     {}
func (nopHandler) OnLinkUp(string, domain.Surface)               {}
func (nopHandler) OnLinkDown(string)                             {}

func TestEngine_NotOpen(t *testing.T) {
	e := newTestEngine(t)
	if err := e.CreateLink("bob"); !errors.Is(err, ErrNotOpen) {
		t.Errorf("CreateLink before Open: %v", err)
	}
	if err := e.ApplyRemoteCandidate("bob", domain.Candidate{}); !errors.Is(err, ErrNotOpen) {
		t.Errorf("ApplyRemoteCandidate before Open: %v", err)
	}
	if err := e.CloseLink("bob"); err != nil {
		t.Errorf("CloseLink of unknown peer: %v", err)
	}
}

func TestEngine_OpenTwice(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()

	if err := e.Open(newSession(t), nopHandler{}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := e.Open(newSession(t), nopHandler{}); !errors.Is(err, ErrAlreadyOpen) {
		t.Errorf("second Open: %v", err)
	}
}

func TestEngine_Closed(t *testing.T) {
	e := newTestEngine(t)
	if err := e.Open(newSession(t), nopHandler{}); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := e.CreateLink("bob"); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("CreateLink after Close: %v", err)
	}
	if err := e.Open(newSession(t), nopHandler{}); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("Open after Close: %v", err)
	}
}

func TestEngine_CandidateForUnknownLink(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()
	if err := e.Open(newSession(t), nopHandler{}); err != nil {
		t.Fatal(err)
	}
	if err := e.ApplyRemoteCandidate("ghost", domain.Candidate{Candidate: "candidate:1"}); err == nil {
		t.Error("expected error for unknown link")
	}
}

func TestEngine_DuplicateLink(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()
	if err := e.Open(newSession(t), nopHandler{}); err != nil {
		t.Fatal(err)
	}
	if err := e.CreateLink("bob"); err != nil {
		t.Fatalf("CreateLink: %v", err)
	}
	if err := e.CreateLink("bob"); !errors.Is(err, ErrLinkExists) {
		t.Errorf("duplicate CreateLink: %v", err)
	}
	if err := e.ApplyRemoteOfferAnswer("bob", domain.OfferAnswer{Type: "pranswer"}); err == nil {
		t.Error("expected error for unsupported description type")
	}
}

type engineEvent struct {
	kind string
	oa   domain.OfferAnswer
	c    domain.Candidate
}

// pipeHandler forwards one engine's events to the other engine in order.
type pipeHandler struct {
	events chan engineEvent
	up     chan domain.Surface
	down   chan struct{}
	order  []string
}

func newPipeHandler() *pipeHandler {
	return &pipeHandler{
		events: make(chan engineEvent, 256),
		up:     make(chan domain.Surface, 1),
		down:   make(chan struct{}, 1),
	}
}

func (p *pipeHandler) OnLocalOfferAnswer(_ string, oa domain.OfferAnswer) {
	p.events <- engineEvent{kind: "desc", oa: oa}
}

func (p *pipeHandler) OnLocalCandidate(_ string, c domain.Candidate) {
	p.events <- engineEvent{kind: "candidate", c: c}
}

func (p *pipeHandler) OnLinkUp(_ string, s domain.Surface) { p.up <- s }

func (p *pipeHandler) OnLinkDown(string) {
	select {
	case p.down <- struct{}{}:
	default:
	}
}

// forward applies events to dst as coming from peer from, recording their kinds.
func (p *pipeHandler) forward(t *testing.T, dst *Engine, from string) {
	for ev := range p.events {
		p.order = append(p.order, ev.kind)
		var err error
		switch ev.kind {
		case "desc":
			err = dst.ApplyRemoteOfferAnswer(from, ev.oa)
		case "candidate":
			err = dst.ApplyRemoteCandidate(from, ev.c)
		}
		// Late candidates may race the local teardown.
		if err != nil && !errors.Is(err, ErrEngineClosed) && !errors.Is(err, errNoLink) {
			t.Errorf("forward %s: %v", ev.kind, err)
		}
	}
}

func TestEngine_Loopback(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping loopback negotiation in short mode")
	}

	lim := test.TimeOut(30 * time.Second)
	defer lim.Stop()

	alice, bob := newTestEngine(t), newTestEngine(t)
	aliceH, bobH := newPipeHandler(), newPipeHandler()

	if err := alice.Open(newSession(t), aliceH); err != nil {
		t.Fatal(err)
	}
	if err := bob.Open(newSession(t), bobH); err != nil {
		t.Fatal(err)
	}

	aliceDone := make(chan struct{})
	go func() {
		defer close(aliceDone)
		aliceH.forward(t, bob, "alice")
	}()
	bobDone := make(chan struct{})
	go func() {
		defer close(bobDone)
		bobH.forward(t, alice, "bob")
	}()

	if err := alice.CreateLink("bob"); err != nil {
		t.Fatalf("CreateLink: %v", err)
	}

	var surfaces []domain.Surface
	for _, h := range []*pipeHandler{aliceH, bobH} {
		select {
		case s := <-h.up:
			surfaces = append(surfaces, s)
		case <-time.After(20 * time.Second):
			t.Fatal("timed out waiting for link up")
		}
	}
	if surfaces[0].SurfaceID() != "bob" || surfaces[1].SurfaceID() != "alice" {
		t.Errorf("unexpected surfaces %s, %s", surfaces[0].SurfaceID(), surfaces[1].SurfaceID())
	}

	// Closing locally never reports link-down.
	if err := alice.CloseLink("bob"); err != nil {
		t.Errorf("CloseLink: %v", err)
	}
	select {
	case <-aliceH.down:
		t.Error("unexpected link down after local close")
	case <-time.After(100 * time.Millisecond):
	}

	if err := alice.Close(); err != nil {
		t.Errorf("alice Close: %v", err)
	}
	if err := bob.Close(); err != nil {
		t.Errorf("bob Close: %v", err)
	}

	close(aliceH.events)
	<-aliceDone
	if len(aliceH.order) == 0 || aliceH.order[0] != "desc" {
		t.Errorf("expected the offer before any candidate, got %v", aliceH.order)
	}
	close(bobH.events)
	<-bobDone
}
