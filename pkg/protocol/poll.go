package protocol

import (
	"time"
)

// PollTokenParam is the query parameter carrying the connection token on
// long-poll requests.
const PollTokenParam = "cid"

// PollHandshake is the body of a successful long-poll handshake response.
type PollHandshake struct {
	Token    string
	LongPoll time.Duration
	Timeout  time.Duration
}

// Encode returns the wire form of the handshake.
func (h *PollHandshake) Encode() string {
	var w lineWriter
	w.line(h.Token)
	w.int(h.LongPoll.Milliseconds())
	w.int(h.Timeout.Milliseconds())
	return w.String()
}

// DecodePollHandshake parses a long-poll handshake response body.
func DecodePollHandshake(text string) (*PollHandshake, error) {
	r := lineReader{lines: SplitLines(text)}
	token, err := r.next("token")
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, malformed("empty token")
	}
	lp, err := r.counter("long-poll timeout")
	if err != nil {
		return nil, err
	}
	timeout, err := r.counter("timeout")
	if err != nil {
		return nil, err
	}
	return &PollHandshake{
		Token:    token,
		LongPoll: time.Duration(lp) * time.Millisecond,
		Timeout:  time.Duration(timeout) * time.Millisecond,
	}, nil
}

// PollBatch is the body of a long-poll request or response: the sender's
// received counter, the sequence number of the first message and the
// messages themselves.
type PollBatch struct {
	Ack      int64
	FirstSeq int64
	Messages []string
}

// Encode returns the wire form of the batch.
func (b *PollBatch) Encode() string {
	var w lineWriter
	w.int(b.Ack)
	w.int(b.FirstSeq)
	for _, m := range b.Messages {
		w.line(m)
	}
	return w.String()
}

// MessageBytes returns the total length of the batch's messages.
func (b *PollBatch) MessageBytes() int {
	n := 0
	for _, m := range b.Messages {
		n += len(m)
	}
	return n
}

// DecodePollBatch parses a long-poll request or response body.
func DecodePollBatch(text string) (*PollBatch, error) {
	r := lineReader{lines: SplitLines(text)}
	b := &PollBatch{}
	var err error
	if b.Ack, err = r.counter("ack"); err != nil {
		return nil, err
	}
	if b.FirstSeq, err = r.counter("sequence"); err != nil {
		return nil, err
	}
	b.Messages = r.rest()
	return b, nil
}
