package client

import (
	"errors"
	"fmt"
)

// Sentinel errors for invalid API usage.
var (
	// ErrInvalidState is matched by every *StateError.
	ErrInvalidState = errors.New("client: invalid state")

	// ErrAlreadyStarted is returned by Connect when the connection is not closed.
	ErrAlreadyStarted = errors.New("client: connection already started")

	// ErrNotStarted is returned by Close and Post when the connection is
	// closed or closing.
	ErrNotStarted = errors.New("client: connection not started")
)

// StateError reports an operation attempted in the wrong state.
type StateError struct {
	Op    string
	State State
	Err   error
}

// Error implements the error interface.
func (e *StateError) Error() string {
	return fmt.Sprintf("client: %s while %s: %v", e.Op, e.State, e.Err)
}

// Unwrap returns the underlying error.
func (e *StateError) Unwrap() error {
	return e.Err
}

// Is makes every StateError match ErrInvalidState.
func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}
