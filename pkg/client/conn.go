package client

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/vango-dev/channel/pkg/protocol"
)

// transport is the physical side of a Conn. Every method is called with
// c.mu held; blocking work (I/O, dialing) is deferred through c.emit.
type transport interface {
	// open starts a physical connect, or reconnect when c.token is set.
	open(c *Conn)

	// posted is called after a message was added to the queue.
	posted(c *Conn)

	// close starts a graceful close and moves c to closing.
	close(c *Conn)

	// shutdown releases physical resources once c reached closed.
	shutdown(c *Conn)
}

// Conn is a logical client connection over one transport.
type Conn struct {
	mu sync.Mutex

	transport transport
	kind      string
	codec     protocol.Codec
	sched     Scheduler
	logger    *slog.Logger
	tuning    Tuning

	state    State
	token    string
	delivery protocol.Delivery

	// connectionTimeout is negotiated by the handshake.
	connectionTimeout time.Duration

	// Reconnection bookkeeping
	attempts   int
	lostAt     time.Time
	retryTimer Timer
	retrySeq   uint64

	stateListeners   []func(old, new State)
	messageListeners []func(msg any)

	// outbox holds work that must run without c.mu: transport I/O and
	// listener callbacks, in the order it was produced.
	outbox   []func()
	draining bool
}

func newConn(t transport, kind string, opts *Options, timeout time.Duration) *Conn {
	return &Conn{
		transport: t,
		kind:      kind,
		codec:     opts.Codec,
		sched:     opts.Scheduler,
		logger:    opts.Logger.With("component", kind+"_conn"),
		tuning: Tuning{
			MaxReconnectionAttempts: opts.MaxReconnectionAttempts,
			ReconnectionDelay:       opts.ReconnectionDelay,
			Timeout:                 timeout,
		},
	}
}

// Connect starts a new logical connection. It returns an error wrapping
// ErrAlreadyStarted unless the connection is closed.
func (c *Conn) Connect() error {
	c.mu.Lock()
	if c.state != StateClosed {
		err := &StateError{Op: "connect", State: c.state, Err: ErrAlreadyStarted}
		c.mu.Unlock()
		return err
	}

	c.delivery.Reset()
	c.token = ""
	c.attempts = 0
	c.lostAt = time.Time{}
	c.connectionTimeout = 0
	c.logger.Debug("connecting")
	c.setState(StateConnecting)
	c.transport.open(c)
	c.mu.Unlock()

	c.drain()
	return nil
}

// Close requests a graceful close. The connection reaches closed once the
// server confirms, or once reconnection gives up.
func (c *Conn) Close() error {
	c.mu.Lock()
	if !c.state.Started() {
		err := &StateError{Op: "close", State: c.state, Err: ErrNotStarted}
		c.mu.Unlock()
		return err
	}

	c.logger.Debug("closing", "token", c.token)
	c.transport.close(c)
	c.mu.Unlock()

	c.drain()
	return nil
}

// Post queues msg for delivery. Messages posted while connecting are sent
// once the connection is ready.
func (c *Conn) Post(msg any) error {
	c.mu.Lock()
	if !c.state.Started() {
		err := &StateError{Op: "post", State: c.state, Err: ErrNotStarted}
		c.mu.Unlock()
		return err
	}

	text, err := protocol.EncodeMessage(c.codec, msg)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("client: post: %w", err)
	}

	c.delivery.Enqueue(text)
	c.transport.posted(c)
	c.mu.Unlock()

	c.drain()
	return nil
}

// State returns the current state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Token returns the server-issued connection token, or "" before the first
// handshake.
func (c *Conn) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Pending returns the number of messages not yet acknowledged by the server.
func (c *Conn) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delivery.Len()
}

// OnStateChange registers fn to run on every state change.
func (c *Conn) OnStateChange(fn func(old, new State)) {
	c.mu.Lock()
	c.stateListeners = append(c.stateListeners, fn)
	c.mu.Unlock()
}

// OnMessage registers fn to run for every message received from the server.
func (c *Conn) OnMessage(fn func(msg any)) {
	c.mu.Lock()
	c.messageListeners = append(c.messageListeners, fn)
	c.mu.Unlock()
}

// Tuning returns the current retry and timeout policy.
func (c *Conn) Tuning() Tuning {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tuning
}

// SetTuning replaces the retry and timeout policy. It applies to the next
// attempt.
func (c *Conn) SetTuning(t Tuning) {
	c.mu.Lock()
	c.tuning = t
	c.mu.Unlock()
}

// release abandons the connection: a ready connection is closed
// gracefully, anything else is dropped without notifying the server.
func (c *Conn) release() {
	c.mu.Lock()
	switch c.state {
	case StateClosed:
	case StateReady:
		c.transport.close(c)
	default:
		c.setState(StateClosed)
	}
	c.mu.Unlock()
	c.drain()
}

// emit queues f to run after c.mu is released. Must hold c.mu.
func (c *Conn) emit(f func()) {
	c.outbox = append(c.outbox, f)
}

// drain runs queued work until the outbox is empty. Only one goroutine
// drains at a time; work queued by others meanwhile runs on the draining
// goroutine, in order.
func (c *Conn) drain() {
	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		return
	}
	c.draining = true
	for len(c.outbox) > 0 {
		f := c.outbox[0]
		c.outbox[0] = nil
		c.outbox = c.outbox[1:]
		c.mu.Unlock()
		c.run(f)
		c.mu.Lock()
	}
	c.outbox = nil
	c.draining = false
	c.mu.Unlock()
}

func (c *Conn) run(f func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("listener panic",
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	f()
}

// locked runs f with c.mu held, then drains.
func (c *Conn) locked(f func()) {
	c.mu.Lock()
	f()
	c.mu.Unlock()
	c.drain()
}

// setState changes state and queues the listeners. Must hold c.mu.
func (c *Conn) setState(s State) {
	old := c.state
	if old == s {
		return
	}
	c.state = s
	c.logger.Debug("state changed", "from", old, "to", s)

	if s == StateReady {
		c.lostAt = time.Time{}
	}

	if len(c.stateListeners) > 0 {
		listeners := append([]func(old, new State){}, c.stateListeners...)
		c.emit(func() {
			for _, l := range listeners {
				l(old, s)
			}
		})
	}

	if s == StateClosed {
		c.stopRetry()
		c.transport.shutdown(c)
	}
}

// deliver decodes freshly accepted messages and queues the listeners.
// Must hold c.mu.
func (c *Conn) deliver(texts []string) {
	if len(texts) == 0 {
		return
	}
	msgs := make([]any, 0, len(texts))
	for _, t := range texts {
		m, err := c.codec.Decode(t)
		if err != nil {
			c.logger.Error("dropping undecodable message", "token", c.token, "error", err)
			continue
		}
		msgs = append(msgs, m)
	}
	if len(c.messageListeners) == 0 || len(msgs) == 0 {
		return
	}
	listeners := append([]func(any){}, c.messageListeners...)
	c.emit(func() {
		for _, m := range msgs {
			for _, l := range listeners {
				l(m)
			}
		}
	})
}

// receive applies an inbound batch: the ack trims the queue, then fresh
// messages are delivered unless the connection is closing. An ack mismatch
// is fatal. Must hold c.mu.
func (c *Conn) receive(ack, firstSeq int64, msgs []string) bool {
	if err := c.delivery.Acknowledge(ack); err != nil {
		c.fail(err)
		return false
	}
	if c.state == StateClosing {
		return true
	}
	c.deliver(c.delivery.Accept(firstSeq, msgs))
	return true
}

// fail closes the logical connection after a protocol violation.
// Must hold c.mu.
func (c *Conn) fail(err error) {
	c.logger.Warn("protocol mismatch", "token", c.token, "error", err)
	c.setState(StateClosed)
}

// connectionLost runs the reconnection policy after a physical failure.
// Must hold c.mu.
func (c *Conn) connectionLost(cause error) {
	if c.state == StateClosed {
		return
	}
	now := c.sched.Now()

	if c.state != StateConnecting && c.state != StateClosing {
		c.lostAt = now
		c.setState(StateConnecting)
		c.attempts = 0
		c.logger.Info("connection lost", "token", c.token, "cause", cause)
	} else {
		c.attempts++
		if c.lostAt.IsZero() {
			c.lostAt = now
		}
	}

	if c.attempts > c.tuning.MaxReconnectionAttempts ||
		c.token != "" && now.After(c.lostAt.Add(c.connectionTimeout)) {
		c.logger.Info("could not reconnect",
			"token", c.token,
			"attempts", c.attempts,
			"cause", cause)
		c.setState(StateClosed)
		return
	}

	if c.attempts == 0 {
		c.transport.open(c)
		return
	}

	c.logger.Debug("reconnecting", "token", c.token, "in", c.tuning.ReconnectionDelay, "attempt", c.attempts)
	c.stopRetry()
	seq := c.retrySeq
	c.retryTimer = c.sched.AfterFunc(c.tuning.ReconnectionDelay, func() {
		c.locked(func() {
			if c.retrySeq != seq || c.retryTimer == nil {
				return
			}
			c.retryTimer = nil
			if c.state == StateConnecting || c.state == StateClosing {
				c.transport.open(c)
			}
		})
	})
}

// waitingRetry reports whether a delayed reconnect is pending. Must hold c.mu.
func (c *Conn) waitingRetry() bool {
	return c.retryTimer != nil
}

// stopRetry cancels a pending delayed reconnect. Must hold c.mu.
func (c *Conn) stopRetry() {
	c.retrySeq++
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}
