package server

import (
	"errors"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		msg  string
	}{
		{"ErrConnectionGone", ErrConnectionGone, "server: connection gone"},
		{"ErrQueueFull", ErrQueueFull, "server: queue full"},
		{"ErrRegistryClosed", ErrRegistryClosed, "server: registry closed"},
		{"ErrInitTimeout", ErrInitTimeout, "server: init timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.msg {
				t.Errorf("Error message = %q, want %q", tt.err.Error(), tt.msg)
			}
		})
	}
}

func TestConnectionError(t *testing.T) {
	err := &ConnectionError{
		Token: "abc",
		Op:    "post",
		Err:   ErrQueueFull,
	}

	expected := "server: connection abc: post: server: queue full"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
	if !errors.Is(err, ErrQueueFull) {
		t.Error("errors.Is should find the wrapped sentinel")
	}

	noToken := &ConnectionError{Op: "post", Err: ErrConnectionGone}
	if noToken.Error() != "server: post: server: connection gone" {
		t.Errorf("Error() = %q", noToken.Error())
	}
}

func TestHandlerError(t *testing.T) {
	err := &HandlerError{Token: "abc", Callback: "OnMessage", Panic: "boom"}

	expected := "server: handler panic in OnMessage for connection abc: boom"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}
