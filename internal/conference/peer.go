package conference

import "fmt"

// LinkState is the lifecycle of the media link to one peer.
type LinkState int

const (
	Unlinked LinkState = iota
	Linking
	Connected
	Closed
)

func (s LinkState) String() string {
	switch s {
	case Unlinked:
		return "unlinked"
	case Linking:
		return "linking"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("LinkState(%d)", int(s))
	}
}

// peer is one remote participant. A closed peer is never reopened;
// a rejoin replaces it with a new peer.
type peer struct {
	id    string
	state LinkState
}

func newPeer(id string) *peer {
	return &peer{id: id, state: Unlinked}
}

func (p *peer) live() bool {
	return p.state == Linking || p.state == Connected
}

func (p *peer) advance(to LinkState) error {
	switch {
	case p.state == Unlinked && to == Linking,
		p.state == Linking && to == Connected,
		p.state == Linking && to == Closed,
		p.state == Connected && to == Closed:
		p.state = to
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", errInvalidTransition, p.state, to)
}
