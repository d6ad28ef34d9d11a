package client

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// manualScheduler fires timers only when the test advances its clock.
// Callbacks run on the advancing goroutine.
type manualScheduler struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	s       *manualScheduler
	at      time.Time
	every   time.Duration
	f       func()
	stopped bool
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{now: time.Unix(0, 0)}
}

func (s *manualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return s.add(d, 0, f)
}

func (s *manualScheduler) Every(d time.Duration, f func()) Timer {
	return s.add(d, d, f)
}

func (s *manualScheduler) add(d, every time.Duration, f func()) *manualTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{s: s, at: s.now.Add(d), every: every, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

// Advance moves the clock forward by d, firing due timers in order.
func (s *manualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	for {
		var next *manualTimer
		for _, t := range s.timers {
			if t.stopped || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			break
		}
		s.now = next.at
		if next.every > 0 {
			next.at = next.at.Add(next.every)
		} else {
			next.stopped = true
		}
		s.mu.Unlock()
		next.f()
		s.mu.Lock()
	}
	s.now = target
	s.mu.Unlock()
}

// Flush fires the timers that are already due.
func (s *manualScheduler) Flush() {
	s.Advance(0)
}

// fakeDialer hands out fakeSockets that the test drives by hand.
type fakeDialer struct {
	mu      sync.Mutex
	sockets []*fakeSocket
}

func (d *fakeDialer) Dial(h SocketHandler) Socket {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := &fakeSocket{h: h}
	d.sockets = append(d.sockets, s)
	return s
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sockets)
}

func (d *fakeDialer) last(t *testing.T) *fakeSocket {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(t, d.sockets, "no socket dialed")
	return d.sockets[len(d.sockets)-1]
}

type fakeSocket struct {
	h SocketHandler

	mu     sync.Mutex
	sent   []string
	closed bool
}

func (s *fakeSocket) Send(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.sent = append(s.sent, text)
	}
}

func (s *fakeSocket) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSocket) frames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func (s *fakeSocket) lastFrame() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return ""
	}
	return s.sent[len(s.sent)-1]
}

func (s *fakeSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSocket) open()            { s.h.OnOpen(s) }
func (s *fakeSocket) recv(text string) { s.h.OnMessage(s, text) }
func (s *fakeSocket) drop(err error)   { s.h.OnClose(s, err) }

func (s *fakeSocket) handshake(token string) {
	s.open()
	s.recv("N\n" + token + "\n20000\n120000\n")
}

// fakeRequester records requests; the test answers them.
type fakeRequester struct {
	mu    sync.Mutex
	calls []*fakeCall
}

type fakeCall struct {
	req  *Request
	done func(*Response)

	mu      sync.Mutex
	aborted bool
}

func (r *fakeRequester) Send(req *Request, done func(*Response)) Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := &fakeCall{req: req, done: done}
	r.calls = append(r.calls, c)
	return c
}

func (r *fakeRequester) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *fakeRequester) last(t *testing.T) *fakeCall {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.calls, "no request sent")
	return r.calls[len(r.calls)-1]
}

func (c *fakeCall) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aborted = true
}

func (c *fakeCall) isAborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted
}

func (c *fakeCall) respond(status int, body string) {
	c.done(&Response{Status: status, Body: body})
}

func (c *fakeCall) fail(err error) {
	c.done(&Response{Err: err})
}

// stateRecorder collects state transitions.
type stateRecorder struct {
	mu          sync.Mutex
	transitions []State
}

func (r *stateRecorder) record(_, new State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, new)
}

func (r *stateRecorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.transitions...)
}

// messageRecorder collects delivered messages.
type messageRecorder struct {
	mu   sync.Mutex
	msgs []any
}

func (r *messageRecorder) record(msg any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *messageRecorder) received() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.msgs...)
}

func testOptions(sched Scheduler) *Options {
	return DefaultOptions().
		WithScheduler(sched).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}
