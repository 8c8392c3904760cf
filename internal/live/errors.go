package live

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session closed")

	// ErrNotConnected is returned when a send happens outside the ready state.
	ErrNotConnected = errors.New("session not connected")

	// ErrStructuralRejection means the service refused the setup payload itself.
	ErrStructuralRejection = errors.New("setup rejected by service")

	// ErrReconnectExhausted means the reconnect budget ran out.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// FatalError is reported through OnError when the session gives up.
type FatalError struct {
	Reason   string
	Attempts int
	Err      error
}

func (e *FatalError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("live session fatal (%s after %d attempts): %v", e.Reason, e.Attempts, e.Err)
}

func (e *FatalError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// State is a position in the connection lifecycle.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateReady
	StateReconnecting
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
