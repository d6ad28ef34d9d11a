package server

import (
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/vango-dev/channel/pkg/protocol"
)

// PollHandler returns the long-poll endpoint.
//
//	GET               new connection: 200 token, long-poll and connection timeouts
//	POST ?cid=token   body ack, firstSeq, messages: 200 with ack, firstSeq, queue
//	PUT  ?cid=token   as POST, but held until there is something to deliver
//	DELETE ?cid=token close: 410
//
// A held request is answered 204 when it times out or is superseded, and
// every request for a connection that no longer exists is answered 410.
func (r *Registry) PollHandler() http.Handler {
	return http.HandlerFunc(r.servePoll)
}

type pollResult struct {
	status int
	body   string
}

var (
	pollGone      = pollResult{status: http.StatusGone}
	pollNoContent = pollResult{status: http.StatusNoContent}
)

func (r *Registry) servePoll(w http.ResponseWriter, req *http.Request) {
	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")

	token := req.URL.Query().Get(protocol.PollTokenParam)
	if token == "" {
		if req.Method != http.MethodGet {
			writePoll(w, pollResult{status: http.StatusMethodNotAllowed})
			return
		}
		r.pollOpen(w, req)
		return
	}

	switch req.Method {
	case http.MethodPost, http.MethodPut, http.MethodDelete:
	default:
		writePoll(w, pollResult{status: http.StatusMethodNotAllowed})
		return
	}

	c := r.lookup(token)
	if c == nil {
		writePoll(w, pollGone)
		return
	}

	var body []byte
	var readErr error
	if req.Method != http.MethodDelete {
		body, readErr = io.ReadAll(http.MaxBytesReader(w, req.Body, int64(r.cfg.MaxMessageSize)+frameOverhead))
	}

	res, waiter, fresh := r.pollExchange(c, req.Method, string(body), readErr)
	if len(fresh) > 0 {
		r.deliver(token, fresh)
	}
	if waiter != nil {
		res = r.pollWait(c, waiter, req)
		if res == nil {
			return
		}
	}
	writePoll(w, *res)
}

// pollOpen registers a connection and answers with the handshake.
func (r *Registry) pollOpen(w http.ResponseWriter, req *http.Request) {
	r.metrics.frame(req.Method)

	c, err := r.register(nil)
	if err != nil {
		r.logger.Warn("refusing connection", "remote", r.clientIP(req), "error", err)
		writePoll(w, pollResult{status: http.StatusServiceUnavailable})
		return
	}

	// Messages posted from OnConnected wait in the queue for the first
	// poll.
	r.connected(c.token)
	writePoll(w, pollResult{
		status: http.StatusOK,
		body: (&protocol.PollHandshake{
			Token:    c.token,
			LongPoll: r.cfg.LongPollTimeout,
			Timeout:  r.cfg.ConnectionTimeout,
		}).Encode(),
	})
}

// pollExchange applies one request under the connection lock. It returns
// either an immediate result or a waiter to hold the request on, plus the
// freshly received messages to deliver.
func (r *Registry) pollExchange(c *Connection, method, body string, readErr error) (*pollResult, *heldPoll, []string) {
	c.mu.Lock()
	if !r.memberLocked(c) {
		c.mu.Unlock()
		return &pollGone, nil, nil
	}

	// A new request supersedes the held one.
	if held, ok := c.transport.(pollWaiter); ok {
		c.transport = nil
		held.Close()
	}

	r.metrics.frame(method)
	if method == http.MethodDelete {
		removed := r.removeLocked(c, reasonClosed)
		c.mu.Unlock()
		if removed {
			r.disconnected(c.token)
		}
		return &pollGone, nil, nil
	}

	c.lastUsed = r.now()

	fail := func(reason string, cause error) (*pollResult, *heldPoll, []string) {
		r.metrics.protocolError(protocol.CodeOf(cause).String())
		r.logger.Warn("protocol mismatch", "token", c.token, "error", cause)
		removed := r.removeLocked(c, reason)
		c.mu.Unlock()
		if removed {
			r.disconnected(c.token)
		}
		return &pollGone, nil, nil
	}

	if readErr != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(readErr, &tooLarge) {
			return fail(reasonTooLarge, protocol.TooLarge(int(tooLarge.Limit), r.cfg.MaxMessageSize))
		}
		// The client went away mid-request; it will retry.
		c.mu.Unlock()
		return &pollNoContent, nil, nil
	}

	b, err := protocol.DecodePollBatch(body)
	if err != nil {
		return fail(reasonProtocol, err)
	}
	if size := b.MessageBytes(); size > r.cfg.MaxMessageSize {
		return fail(reasonTooLarge, protocol.TooLarge(size, r.cfg.MaxMessageSize))
	}
	fresh, err := c.delivery.Receive(b.Ack, b.FirstSeq, b.Messages)
	if err != nil {
		return fail(reasonProtocol, err)
	}
	r.metrics.received(len(fresh), len(b.Messages))
	if c.closing {
		fresh = nil
	}

	switch {
	case c.delivery.Len() > 0:
		res := &pollResult{status: http.StatusOK, body: c.delivery.Batch().Encode()}
		c.mu.Unlock()
		return res, nil, fresh

	case c.closing:
		// Server-side close requested and nothing left to deliver.
		removed := r.removeLocked(c, reasonClosed)
		c.mu.Unlock()
		if removed {
			r.disconnected(c.token)
		}
		return &pollGone, nil, fresh

	case method == http.MethodPost:
		res := &pollResult{status: http.StatusOK, body: c.delivery.Batch().Encode()}
		c.mu.Unlock()
		return res, nil, fresh
	}

	waiter := newHeldPoll()
	c.transport = waiter
	c.mu.Unlock()
	return nil, waiter, fresh
}

// pollWait holds the request until the waiter is answered, the long-poll
// times out, or the client goes away. A nil result means nothing should be
// written.
func (r *Registry) pollWait(c *Connection, waiter *heldPoll, req *http.Request) *pollResult {
	timer := time.NewTimer(r.cfg.LongPollTimeout)
	defer timer.Stop()

	select {
	case res := <-waiter.result:
		return &res
	case <-timer.C:
	case <-req.Context().Done():
		c.mu.Lock()
		c.detach(waiter)
		c.mu.Unlock()
		waiter.Close()
		return nil
	}

	c.mu.Lock()
	c.detach(waiter)
	c.mu.Unlock()
	waiter.Close()

	// Close is a no-op if the waiter was answered in the meantime.
	res := <-waiter.result
	return &res
}

func writePoll(w http.ResponseWriter, res pollResult) {
	if res.status == http.StatusGone {
		w.Header().Set("Connection", "close")
	}
	w.WriteHeader(res.status)
	if res.body != "" {
		io.WriteString(w, res.body)
	}
}

// heldPoll is a PUT waiting for something to deliver. It is answered
// exactly once.
type heldPoll struct {
	result chan pollResult
	once   sync.Once
}

func newHeldPoll() *heldPoll {
	return &heldPoll{result: make(chan pollResult, 1)}
}

func (p *heldPoll) finish(res pollResult) {
	p.once.Do(func() { p.result <- res })
}

// Send is unused: a held poll is answered with the whole queue.
func (p *heldPoll) Send(string) {}

// Close answers 204 so the client polls again.
func (p *heldPoll) Close() { p.finish(pollNoContent) }

func (p *heldPoll) deliver(b *protocol.PollBatch) {
	p.finish(pollResult{status: http.StatusOK, body: b.Encode()})
}

func (p *heldPoll) expire() { p.finish(pollGone) }
