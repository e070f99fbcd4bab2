package session

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupported means casting is not available in this process.
	ErrUnsupported = errors.New("session: casting unavailable")
	// ErrDeclined means the session request failed; it may be retried.
	ErrDeclined = errors.New("session: request declined")
	// ErrSessionDropped is carried by Dropped events.
	ErrSessionDropped = errors.New("session: dropped")
	// ErrBusy rejects calls that arrive during a transition or a reload.
	ErrBusy = errors.New("session: busy")
	// ErrNotConnected rejects remote controls outside Connected.
	ErrNotConnected = errors.New("session: not connected")
	// ErrSessionEnded means the session went away while a reload was in flight.
	ErrSessionEnded = errors.New("session: ended during reload")
)

// LoadError is a failed media load on the remote player. The media info
// from before the load stays authoritative.
type LoadError struct {
	ItemID string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("session: load %q: %v", e.ItemID, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
