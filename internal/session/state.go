package session

import (
	"errors"
	"fmt"
)

// State is the phase of an edit session.
type State int

const (
	// StateIdle holds no source image; the current avatar stands.
	StateIdle State = iota
	// StateDecoding waits for the uploaded bytes to decode.
	StateDecoding
	// StateAdjusting accepts crop and rotation changes.
	StateAdjusting
	// StateCommitted is passed through while a commit runs.
	StateCommitted
	// StateCancelled is passed through while a session is discarded.
	StateCancelled
)

var stateNames = [...]string{
	StateIdle:      "idle",
	StateDecoding:  "decoding",
	StateAdjusting: "adjusting",
	StateCommitted: "committed",
	StateCancelled: "cancelled",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrInvalidState is matched by every StateError.
var ErrInvalidState = errors.New("invalid session state")

// ErrSuperseded is returned to waiters whose upload was replaced or cancelled
// before its decode finished.
var ErrSuperseded = errors.New("upload superseded")

// ErrZoomRange is returned for a zoom factor outside [MinZoom, MaxZoom].
var ErrZoomRange = errors.New("zoom out of range")

// StateError reports an operation attempted in the wrong state.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s while %s", e.Op, e.State)
}

func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}
