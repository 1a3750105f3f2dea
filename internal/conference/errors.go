package conference

import (
	"errors"
	"fmt"
)

var (
	ErrMediaAcquisition = errors.New("local media acquisition failed")
	ErrJoinFailed       = errors.New("signaling join failed")
	ErrShutdown         = errors.New("orchestrator shut down")

	errInvalidTransition = errors.New("invalid link state transition")
)

// Error records the operation (and peer, if any) that failed.
type Error struct {
	Op     string
	PeerID string
	Err    error
}

func (e *Error) Error() string {
	if e.PeerID != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.PeerID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func newPeerError(op, peerID string, err error) *Error {
	return &Error{Op: op, PeerID: peerID, Err: err}
}
