package protocol

import (
	"time"
)

// Frame is one decoded protocol frame.
//
// Which fields are meaningful depends on Command and on the direction:
//
//	client N            (no fields)
//	client S, R         Token, Ack, FirstSeq, Messages
//	client H            Token, Ack, FirstSeq (the client's sent counter)
//	client C, CA        Token
//	server N            Token, Heartbeat, Timeout
//	server S            Ack, FirstSeq, Messages
//	server HA           Ack
//	server C, CR        Reason (optional)
type Frame struct {
	Command   Command
	Token     string
	Ack       int64
	FirstSeq  int64
	Messages  []string
	Heartbeat time.Duration
	Timeout   time.Duration
	Reason    string
}

// EncodeClient returns the wire form of a client-to-server frame.
func (f *Frame) EncodeClient() string {
	var w lineWriter
	w.line(string(f.Command))
	switch f.Command {
	case CmdNew:
	case CmdClose, CmdCloseAck:
		w.line(f.Token)
	case CmdHeartbeat:
		w.line(f.Token)
		w.int(f.Ack)
		w.int(f.FirstSeq)
	default:
		w.line(f.Token)
		w.int(f.Ack)
		w.int(f.FirstSeq)
		for _, m := range f.Messages {
			w.line(m)
		}
	}
	return w.String()
}

// EncodeServer returns the wire form of a server-to-client frame.
func (f *Frame) EncodeServer() string {
	var w lineWriter
	w.line(string(f.Command))
	switch f.Command {
	case CmdNew:
		w.line(f.Token)
		w.int(f.Heartbeat.Milliseconds())
		w.int(f.Timeout.Milliseconds())
	case CmdHeartbeatAck:
		w.int(f.Ack)
	case CmdClose, CmdCloseRequest:
		if f.Reason != "" {
			w.line(f.Reason)
		}
	default:
		w.int(f.Ack)
		w.int(f.FirstSeq)
		for _, m := range f.Messages {
			w.line(m)
		}
	}
	return w.String()
}

// DecodeClient parses a frame sent by a client.
//
// On error the returned frame is still non-nil and carries whatever was
// parsed before the failure (at least Command, and Token when present), so
// the caller can route the failure to the right connection.
func DecodeClient(text string) (*Frame, error) {
	r := lineReader{lines: SplitLines(text)}
	f := &Frame{}

	cmd, err := r.next("command")
	if err != nil {
		return f, err
	}
	f.Command = Command(cmd)
	if !f.Command.FromClient() {
		if r.remaining() > 0 {
			f.Token, _ = r.next("token")
		}
		return f, unknownCommand(cmd)
	}
	if f.Command == CmdNew {
		return f, nil
	}

	if f.Token, err = r.next("token"); err != nil {
		return f, err
	}
	switch f.Command {
	case CmdClose, CmdCloseAck:
		return f, nil
	case CmdHeartbeat:
		if f.Ack, err = r.counter("ack"); err != nil {
			return f, err
		}
		// The sent counter is informational on heartbeats.
		if r.remaining() > 0 {
			if f.FirstSeq, err = r.counter("sequence"); err != nil {
				return f, err
			}
		}
		return f, nil
	}

	if f.Ack, err = r.counter("ack"); err != nil {
		return f, err
	}
	if f.FirstSeq, err = r.counter("sequence"); err != nil {
		return f, err
	}
	f.Messages = r.rest()
	return f, nil
}

// DecodeServer parses a frame sent by a server.
func DecodeServer(text string) (*Frame, error) {
	r := lineReader{lines: SplitLines(text)}
	f := &Frame{}

	cmd, err := r.next("command")
	if err != nil {
		return f, err
	}
	f.Command = Command(cmd)
	if !f.Command.FromServer() {
		return f, unknownCommand(cmd)
	}

	switch f.Command {
	case CmdNew:
		if f.Token, err = r.next("token"); err != nil {
			return f, err
		}
		if f.Token == "" {
			return f, malformed("empty token")
		}
		hb, err := r.counter("heartbeat")
		if err != nil {
			return f, err
		}
		timeout, err := r.counter("timeout")
		if err != nil {
			return f, err
		}
		f.Heartbeat = time.Duration(hb) * time.Millisecond
		f.Timeout = time.Duration(timeout) * time.Millisecond
	case CmdHeartbeatAck:
		if f.Ack, err = r.counter("ack"); err != nil {
			return f, err
		}
	case CmdClose, CmdCloseRequest:
		if r.remaining() > 0 {
			f.Reason, _ = r.next("reason")
		}
	case CmdSend:
		if f.Ack, err = r.counter("ack"); err != nil {
			return f, err
		}
		if f.FirstSeq, err = r.counter("sequence"); err != nil {
			return f, err
		}
		f.Messages = r.rest()
	}
	return f, nil
}

// MessageBytes returns the total length of the frame's messages.
func (f *Frame) MessageBytes() int {
	n := 0
	for _, m := range f.Messages {
		n += len(m)
	}
	return n
}
