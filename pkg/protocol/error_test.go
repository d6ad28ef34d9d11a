package protocol

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorCodeString(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{CodeUnknown, "Unknown"},
		{CodeMalformedFrame, "MalformedFrame"},
		{CodeUnknownCommand, "UnknownCommand"},
		{CodeAckBehind, "AckBehind"},
		{CodeAckAhead, "AckAhead"},
		{CodeUnexpected, "Unexpected"},
		{CodeTooLarge, "TooLarge"},
		{ErrorCode(99), "Unknown"},
	}
	for _, tc := range tests {
		if got := tc.code.String(); got != tc.want {
			t.Errorf("ErrorCode(%d).String() = %q, want %q", tc.code, got, tc.want)
		}
	}
}

func TestProtocolErrorWrapping(t *testing.T) {
	err := fmt.Errorf("receive: %w", TooLarge(300, 256))

	if !IsProtocolError(err) {
		t.Fatal("IsProtocolError = false for wrapped error")
	}
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Error("errors.Is(err, ErrMessageTooLarge) = false")
	}
	if CodeOf(err) != CodeTooLarge {
		t.Errorf("CodeOf = %v, want TooLarge", CodeOf(err))
	}
	if !strings.Contains(err.Error(), "300 bytes exceeds limit of 256") {
		t.Errorf("Error() = %q", err.Error())
	}

	if IsProtocolError(errors.New("other")) {
		t.Error("IsProtocolError = true for plain error")
	}
	if CodeOf(nil) != CodeUnknown {
		t.Error("CodeOf(nil) should be CodeUnknown")
	}
}

func TestUnexpectedError(t *testing.T) {
	err := Unexpected(CmdNew, "ready")
	if err.Code != CodeUnexpected {
		t.Errorf("Code = %v", err.Code)
	}
	if !strings.Contains(err.Error(), "unexpected N while ready") {
		t.Errorf("Error() = %q", err.Error())
	}
}
