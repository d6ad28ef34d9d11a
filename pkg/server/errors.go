package server

import (
	"errors"
	"fmt"
)

// Sentinel errors for connection and server error conditions.
var (
	// ErrConnectionGone is reported for a token that is not registered.
	ErrConnectionGone = errors.New("server: connection gone")

	// ErrQueueFull is reported when a connection exceeds MaxQueueLength.
	ErrQueueFull = errors.New("server: queue full")

	// ErrRegistryClosed is returned after Shutdown.
	ErrRegistryClosed = errors.New("server: registry closed")

	// ErrInitTimeout is reported when a socket sends nothing after the
	// upgrade.
	ErrInitTimeout = errors.New("server: init timeout")
)

// ConnectionError wraps an error with connection context for debugging.
type ConnectionError struct {
	Token string
	Op    string
	Err   error
}

// Error returns the error message with connection context.
func (e *ConnectionError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("server: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("server: connection %s: %s: %v", e.Token, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// HandlerError wraps a panic that occurred in a Handler callback.
type HandlerError struct {
	Token    string
	Callback string
	Panic    any
	Stack    []byte
}

// Error returns the error message.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("server: handler panic in %s for connection %s: %v",
		e.Callback, e.Token, e.Panic)
}
