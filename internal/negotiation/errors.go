package negotiation

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition reports a description applied in a state that
	// cannot accept it, or a step attempted from the wrong state.
	ErrInvalidTransition = errors.New("invalid signaling state transition")
	// ErrWrongRole reports a step the session's role may not perform.
	ErrWrongRole = errors.New("operation not permitted for role")
	// ErrClosed reports a step on, or interrupted by, a closed session.
	ErrClosed = errors.New("session closed")
	// ErrBusy reports a session already claimed by another negotiation attempt.
	ErrBusy = errors.New("session already negotiating")
)

// NegotiationError describes a failed negotiation step. Err is either one of
// the sentinels above or the engine's own error.
type NegotiationError struct {
	Op    string
	Role  Role
	State State
	Err   error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("%s %s (state %s): %v", e.Role, e.Op, e.State, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}
