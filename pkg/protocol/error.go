package protocol

import (
	"errors"
	"fmt"
)

// Sentinel errors wrapped by ProtocolError.
var (
	ErrMalformedFrame  = errors.New("protocol: malformed frame")
	ErrUnknownCommand  = errors.New("protocol: unknown command")
	ErrAckMismatch     = errors.New("protocol: acknowledgment mismatch")
	ErrMessageTooLarge = errors.New("protocol: message too large")
	ErrNewline         = errors.New("protocol: encoded message contains a line break")
)

// ErrorCode identifies the type of protocol violation.
type ErrorCode uint8

const (
	CodeUnknown        ErrorCode = iota // Unknown violation
	CodeMalformedFrame                  // Missing or unparsable field
	CodeUnknownCommand                  // Command not valid for the direction
	CodeAckBehind                       // Peer acknowledged fewer messages than before
	CodeAckAhead                        // Peer acknowledged messages never sent
	CodeUnexpected                      // Command not valid in the current state
	CodeTooLarge                        // Frame exceeds the size ceiling
)

// String returns the string representation of the error code.
func (ec ErrorCode) String() string {
	switch ec {
	case CodeMalformedFrame:
		return "MalformedFrame"
	case CodeUnknownCommand:
		return "UnknownCommand"
	case CodeAckBehind:
		return "AckBehind"
	case CodeAckAhead:
		return "AckAhead"
	case CodeUnexpected:
		return "Unexpected"
	case CodeTooLarge:
		return "TooLarge"
	default:
		return "Unknown"
	}
}

// ProtocolError reports a violation of the wire protocol by the peer.
// It is always fatal to the logical connection that produced it.
type ProtocolError struct {
	Code    ErrorCode
	Op      string // Operation that detected the violation, e.g. "decode"
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("protocol: %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("protocol: %s: %s: %s", e.Op, e.Code, e.Message)
}

// Unwrap returns the sentinel error.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsProtocolError reports whether err is or wraps a *ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// CodeOf returns the ErrorCode of a protocol error, or CodeUnknown.
func CodeOf(err error) ErrorCode {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeUnknown
}

func malformed(msg string) *ProtocolError {
	return &ProtocolError{Code: CodeMalformedFrame, Op: "decode", Message: msg, Err: ErrMalformedFrame}
}

func unknownCommand(cmd string) *ProtocolError {
	return &ProtocolError{Code: CodeUnknownCommand, Op: "decode", Message: fmt.Sprintf("%q", cmd), Err: ErrUnknownCommand}
}

// Unexpected returns the error for a command that is valid on the wire but
// not in the receiver's current state.
func Unexpected(cmd Command, state string) *ProtocolError {
	return &ProtocolError{
		Code:    CodeUnexpected,
		Op:      "receive",
		Message: fmt.Sprintf("unexpected %s while %s", cmd, state),
		Err:     ErrUnknownCommand,
	}
}

// TooLarge returns the error for a frame whose messages exceed limit bytes.
func TooLarge(size, limit int) *ProtocolError {
	return &ProtocolError{
		Code:    CodeTooLarge,
		Op:      "receive",
		Message: fmt.Sprintf("%d bytes exceeds limit of %d", size, limit),
		Err:     ErrMessageTooLarge,
	}
}
