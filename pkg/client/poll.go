package client

import (
	"fmt"
	"net/http"
	"time"

	"github.com/vango-dev/channel/pkg/protocol"
)

// Request is one long-poll HTTP exchange.
type Request struct {
	Method string

	// Token is sent as the protocol.PollTokenParam query parameter when set.
	Token string

	Body    string
	Timeout time.Duration
}

// Response is the outcome of a Request. Err is set when no HTTP status was
// obtained (refused, timed out, aborted).
type Response struct {
	Status int
	Body   string
	Err    error
}

// Call is an in-flight Request.
type Call interface {
	Abort()
}

// Requester issues long-poll requests. Send must return without waiting
// for the response and call done at most once. After Abort, done may still
// be called; the result is ignored.
type Requester interface {
	Send(req *Request, done func(*Response)) Call
}

// NewPollConn returns a closed connection that runs over HTTP long-polling
// through r.
func NewPollConn(r Requester, opts *Options) *Conn {
	opts = opts.withDefaults()
	return newConn(&pollTransport{requester: r}, "poll", opts, opts.RequestTimeout)
}

type pollTransport struct {
	requester Requester
	longPoll  time.Duration

	// seq identifies the current request; completions of earlier ones are
	// ignored.
	seq         uint64
	inFlight    bool
	longPolling bool
	call        Call

	// A deferred exchange batches posts made in quick succession.
	deferred   Timer
	deferSeq   uint64
	scheduling bool
}

func (t *pollTransport) open(c *Conn) {
	t.exchange(c)
}

func (t *pollTransport) posted(c *Conn) {
	t.requestExchange(c)
}

func (t *pollTransport) close(c *Conn) {
	c.setState(StateClosing)
	t.requestExchange(c)
}

func (t *pollTransport) shutdown(c *Conn) {
	t.cancelDeferred()
	t.abort(c)
}

// requestExchange schedules an exchange on the next scheduler turn unless
// one is already scheduled.
func (t *pollTransport) requestExchange(c *Conn) {
	if t.scheduling {
		return
	}
	t.scheduling = true
	seq := t.deferSeq
	t.deferred = c.sched.AfterFunc(0, func() {
		c.locked(func() {
			if t.deferSeq != seq {
				return
			}
			t.scheduling = false
			t.deferred = nil
			t.exchange(c)
		})
	})
}

func (t *pollTransport) cancelDeferred() {
	t.deferSeq++
	t.scheduling = false
	stopTimer(t.deferred)
	t.deferred = nil
}

// abort drops the in-flight request. Must hold c.mu.
func (t *pollTransport) abort(c *Conn) {
	if !t.inFlight {
		return
	}
	t.seq++
	t.inFlight = false
	if call := t.call; call != nil {
		t.call = nil
		c.emit(call.Abort)
	}
}

// exchange issues the next request: the handshake GET, a POST carrying the
// queue, or a held PUT (DELETE when closing) when there is nothing to send.
// Only one request is in flight; a data request replaces a held long-poll.
func (t *pollTransport) exchange(c *Conn) {
	if c.state == StateClosed || t.scheduling || c.waitingRetry() {
		return
	}
	if t.inFlight {
		if !t.longPolling {
			return
		}
		t.abort(c)
	}

	req := &Request{Timeout: c.tuning.Timeout}
	t.longPolling = false
	switch {
	case c.token == "":
		req.Method = http.MethodGet
	case c.delivery.Len() > 0:
		req.Method = http.MethodPost
	default:
		req.Method = http.MethodPut
		if c.state == StateClosing {
			req.Method = http.MethodDelete
		}
		req.Timeout = t.longPoll + protocol.PollTimeoutMarginMillis*time.Millisecond
		t.longPolling = true
	}
	if c.token != "" {
		req.Token = c.token
		req.Body = c.delivery.Batch().Encode()
	}

	t.seq++
	seq := t.seq
	t.inFlight = true
	c.emit(func() {
		call := t.requester.Send(req, func(resp *Response) {
			t.complete(c, seq, resp)
		})
		t.adopt(c, seq, call)
	})
}

// adopt records call as the in-flight request unless it was superseded
// before Send returned.
func (t *pollTransport) adopt(c *Conn, seq uint64, call Call) {
	if call == nil {
		return
	}
	c.mu.Lock()
	if t.seq == seq {
		if t.inFlight {
			t.call = call
		}
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	call.Abort()
}

func (t *pollTransport) complete(c *Conn, seq uint64, resp *Response) {
	c.locked(func() {
		if t.seq != seq || !t.inFlight {
			return
		}
		t.inFlight = false
		t.call = nil
		t.handle(c, resp)
	})
}

func (t *pollTransport) handle(c *Conn, resp *Response) {
	if resp.Err != nil {
		c.connectionLost(resp.Err)
		return
	}

	switch resp.Status {
	case http.StatusOK:
		if c.token == "" {
			h, err := protocol.DecodePollHandshake(resp.Body)
			if err != nil {
				c.fail(err)
				return
			}
			c.token = h.Token
			c.connectionTimeout = h.Timeout
			t.longPoll = h.LongPoll
			c.logger.Info("connection created", "token", c.token, "long_poll", h.LongPoll, "timeout", h.Timeout)
			if c.state == StateConnecting {
				c.setState(StateReady)
			}
		} else {
			if c.state == StateConnecting {
				c.setState(StateReady)
			}
			b, err := protocol.DecodePollBatch(resp.Body)
			if err != nil {
				c.fail(err)
				return
			}
			if !c.receive(b.Ack, b.FirstSeq, b.Messages) {
				return
			}
		}
		c.attempts = 0
		t.exchange(c)

	case http.StatusNoContent:
		if c.state == StateConnecting {
			c.setState(StateReady)
		}
		t.exchange(c)

	case http.StatusGone:
		c.logger.Debug("connection gone", "token", c.token)
		c.setState(StateClosed)

	default:
		c.connectionLost(fmt.Errorf("client: http status %d", resp.Status))
	}
}
