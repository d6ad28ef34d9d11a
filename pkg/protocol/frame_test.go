package protocol

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestClientFrameEncode(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		want  string
	}{
		{
			name:  "handshake",
			frame: Frame{Command: CmdNew},
			want:  "N\n",
		},
		{
			name:  "send",
			frame: Frame{Command: CmdSend, Token: "t1", Ack: 3, FirstSeq: 7, Messages: []string{"a", "b"}},
			want:  "S\nt1\n3\n7\na\nb\n",
		},
		{
			name:  "send_empty_message",
			frame: Frame{Command: CmdSend, Token: "t1", Ack: 0, FirstSeq: 0, Messages: []string{""}},
			want:  "S\nt1\n0\n0\n\n",
		},
		{
			name:  "reconnect_empty_queue",
			frame: Frame{Command: CmdReconnect, Token: "t1", Ack: 2, FirstSeq: 5},
			want:  "R\nt1\n2\n5\n",
		},
		{
			name:  "heartbeat",
			frame: Frame{Command: CmdHeartbeat, Token: "t1", Ack: 4, FirstSeq: 9},
			want:  "H\nt1\n4\n9\n",
		},
		{
			name:  "close",
			frame: Frame{Command: CmdClose, Token: "t1"},
			want:  "C\nt1\n",
		},
		{
			name:  "close_ack",
			frame: Frame{Command: CmdCloseAck, Token: "t1"},
			want:  "CA\nt1\n",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.frame.EncodeClient()
			if got != tc.want {
				t.Fatalf("EncodeClient() = %q, want %q", got, tc.want)
			}

			decoded, err := DecodeClient(got)
			if err != nil {
				t.Fatalf("DecodeClient() error = %v", err)
			}
			if decoded.Command != tc.frame.Command {
				t.Errorf("Command = %q, want %q", decoded.Command, tc.frame.Command)
			}
			if decoded.Token != tc.frame.Token {
				t.Errorf("Token = %q, want %q", decoded.Token, tc.frame.Token)
			}
			if decoded.Ack != tc.frame.Ack || decoded.FirstSeq != tc.frame.FirstSeq {
				t.Errorf("counters = (%d, %d), want (%d, %d)",
					decoded.Ack, decoded.FirstSeq, tc.frame.Ack, tc.frame.FirstSeq)
			}
			if len(decoded.Messages) != len(tc.frame.Messages) {
				t.Fatalf("len(Messages) = %d, want %d", len(decoded.Messages), len(tc.frame.Messages))
			}
			for i := range tc.frame.Messages {
				if decoded.Messages[i] != tc.frame.Messages[i] {
					t.Errorf("Messages[%d] = %q, want %q", i, decoded.Messages[i], tc.frame.Messages[i])
				}
			}
		})
	}
}

func TestServerFrameEncode(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		want  string
	}{
		{
			name:  "handshake_reply",
			frame: Frame{Command: CmdNew, Token: "abc", Heartbeat: 20 * time.Second, Timeout: 2 * time.Minute},
			want:  "N\nabc\n20000\n120000\n",
		},
		{
			name:  "send",
			frame: Frame{Command: CmdSend, Ack: 10, FirstSeq: 4, Messages: []string{"OK+0"}},
			want:  "S\n10\n4\nOK+0\n",
		},
		{
			name:  "heartbeat_ack",
			frame: Frame{Command: CmdHeartbeatAck, Ack: 12},
			want:  "HA\n12\n",
		},
		{
			name:  "closed_with_reason",
			frame: Frame{Command: CmdClose, Reason: ReasonExpired},
			want:  "C\nExpired\n",
		},
		{
			name:  "close_request",
			frame: Frame{Command: CmdCloseRequest},
			want:  "CR\n",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.frame.EncodeServer()
			if got != tc.want {
				t.Fatalf("EncodeServer() = %q, want %q", got, tc.want)
			}

			decoded, err := DecodeServer(got)
			if err != nil {
				t.Fatalf("DecodeServer() error = %v", err)
			}
			if decoded.Command != tc.frame.Command {
				t.Errorf("Command = %q, want %q", decoded.Command, tc.frame.Command)
			}
			if decoded.Token != tc.frame.Token {
				t.Errorf("Token = %q, want %q", decoded.Token, tc.frame.Token)
			}
			if decoded.Heartbeat != tc.frame.Heartbeat || decoded.Timeout != tc.frame.Timeout {
				t.Errorf("timers = (%v, %v), want (%v, %v)",
					decoded.Heartbeat, decoded.Timeout, tc.frame.Heartbeat, tc.frame.Timeout)
			}
			if decoded.Ack != tc.frame.Ack || decoded.FirstSeq != tc.frame.FirstSeq {
				t.Errorf("counters = (%d, %d), want (%d, %d)",
					decoded.Ack, decoded.FirstSeq, tc.frame.Ack, tc.frame.FirstSeq)
			}
			if decoded.Reason != tc.frame.Reason {
				t.Errorf("Reason = %q, want %q", decoded.Reason, tc.frame.Reason)
			}
			if !reflect.DeepEqual(decoded.Messages, tc.frame.Messages) {
				t.Errorf("Messages = %q, want %q", decoded.Messages, tc.frame.Messages)
			}
		})
	}
}

func TestDecodeClientCRLF(t *testing.T) {
	f, err := DecodeClient("S\r\ntok\r\n1\r\n2\r\nx\r\ny\r\n")
	if err != nil {
		t.Fatalf("DecodeClient() error = %v", err)
	}
	if f.Token != "tok" || f.Ack != 1 || f.FirstSeq != 2 {
		t.Errorf("frame = %+v", f)
	}
	if !reflect.DeepEqual(f.Messages, []string{"x", "y"}) {
		t.Errorf("Messages = %q", f.Messages)
	}
}

func TestDecodeClientErrors(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantErr   error
		wantCmd   Command
		wantToken string
	}{
		{name: "empty", text: "", wantErr: ErrMalformedFrame},
		{name: "missing_token", text: "S\n", wantErr: ErrMalformedFrame, wantCmd: CmdSend},
		{name: "missing_ack", text: "S\ntok\n", wantErr: ErrMalformedFrame, wantCmd: CmdSend, wantToken: "tok"},
		{name: "bad_ack", text: "S\ntok\nx\n0\n", wantErr: ErrMalformedFrame, wantCmd: CmdSend, wantToken: "tok"},
		{name: "negative_seq", text: "R\ntok\n0\n-1\n", wantErr: ErrMalformedFrame, wantCmd: CmdReconnect, wantToken: "tok"},
		{name: "server_only_command", text: "HA\ntok\n1\n", wantErr: ErrUnknownCommand, wantCmd: CmdHeartbeatAck, wantToken: "tok"},
		{name: "garbage_command", text: "X\n", wantErr: ErrUnknownCommand, wantCmd: "X"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f, err := DecodeClient(tc.text)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("DecodeClient(%q) error = %v, want %v", tc.text, err, tc.wantErr)
			}
			if !IsProtocolError(err) {
				t.Errorf("error %v is not a *ProtocolError", err)
			}
			if f == nil {
				t.Fatal("DecodeClient returned nil frame on error")
			}
			if f.Command != tc.wantCmd {
				t.Errorf("Command = %q, want %q", f.Command, tc.wantCmd)
			}
			if f.Token != tc.wantToken {
				t.Errorf("Token = %q, want %q", f.Token, tc.wantToken)
			}
		})
	}
}

func TestDecodeServerErrors(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr error
	}{
		{name: "empty", text: "", wantErr: ErrMalformedFrame},
		{name: "handshake_missing_timers", text: "N\ntok\n", wantErr: ErrMalformedFrame},
		{name: "handshake_empty_token", text: "N\n\n1\n2\n", wantErr: ErrMalformedFrame},
		{name: "send_missing_seq", text: "S\n1\n", wantErr: ErrMalformedFrame},
		{name: "client_only_command", text: "R\n", wantErr: ErrUnknownCommand},
		{name: "heartbeat_from_client", text: "H\ntok\n0\n0\n", wantErr: ErrUnknownCommand},
		{name: "garbage_command", text: "X\n", wantErr: ErrUnknownCommand},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeServer(tc.text)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("DecodeServer(%q) error = %v, want %v", tc.text, err, tc.wantErr)
			}
		})
	}
}

func TestDecodeServerCloseWithoutReason(t *testing.T) {
	f, err := DecodeServer("C")
	if err != nil {
		t.Fatalf("DecodeServer() error = %v", err)
	}
	if f.Command != CmdClose || f.Reason != "" {
		t.Errorf("frame = %+v, want bare close", f)
	}
}

func TestFrameMessageBytes(t *testing.T) {
	f := Frame{Messages: []string{"ab", "", "cde"}}
	if got := f.MessageBytes(); got != 5 {
		t.Errorf("MessageBytes() = %d, want 5", got)
	}
}

func TestCommandDirection(t *testing.T) {
	for _, c := range []Command{CmdNew, CmdSend, CmdReconnect, CmdHeartbeat, CmdClose, CmdCloseAck} {
		if !c.FromClient() {
			t.Errorf("%s.FromClient() = false", c)
		}
	}
	for _, c := range []Command{CmdReconnect, CmdHeartbeat, CmdCloseAck} {
		if c.FromServer() {
			t.Errorf("%s.FromServer() = true", c)
		}
	}
	if CmdHeartbeatAck.FromClient() || CmdCloseRequest.FromClient() {
		t.Error("server-only command accepted from client")
	}
}
