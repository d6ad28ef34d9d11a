package client

import (
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// FallbackOptions configures a Fallback.
type FallbackOptions struct {
	// TryInParallel probes both transports at once. Otherwise the socket is
	// probed first and polling only after the socket failed.
	TryInParallel bool

	// DetectionTimeout is the connect and request timeout while probing.
	// Default: 5 seconds.
	DetectionTimeout time.Duration

	// DetectionAttempts is the reconnect ceiling of each transport while
	// probing.
	// Default: 0.
	DetectionAttempts int

	// Scheduler runs the delayed detection retries.
	// Default: the poll connection's scheduler.
	Scheduler Scheduler

	// Logger receives selector diagnostics.
	// Default: slog.Default().
	Logger *slog.Logger
}

// availability of a candidate during detection.
type availability uint8

const (
	unknown availability = iota
	available
	unavailable
)

// Fallback connects over a socket when possible and over long-polling
// otherwise. Once a transport won, Fallback forwards its state changes and
// messages and discards everything from the other one.
type Fallback struct {
	mu sync.Mutex

	socket *Conn
	poll   *Conn
	opts   FallbackOptions
	sched  Scheduler
	logger *slog.Logger

	savedSocket Tuning
	savedPoll   Tuning

	// Retry policy of the selector itself: the larger of the candidates'.
	maxAttempts int
	delay       time.Duration

	state     State
	detecting bool
	socketOK  availability
	pollOK    availability

	// pollStarted is set once the poll candidate was started in this round.
	pollStarted bool

	winner   *Conn
	queue    []any
	attempts int

	// flushing is set from commit until the buffered posts reached the
	// winner. Posts keep going to the buffer meanwhile.
	flushing        bool
	closeAfterFlush bool

	retryTimer Timer
	retrySeq   uint64

	stateListeners   []func(old, new State)
	messageListeners []func(msg any)

	outbox   []func()
	draining bool
}

// NewFallback returns a closed selector over the two candidate
// connections. Both must be closed and must not be used directly afterwards.
func NewFallback(socket, poll *Conn, opts *FallbackOptions) *Fallback {
	var o FallbackOptions
	if opts != nil {
		o = *opts
	}
	if o.DetectionTimeout <= 0 {
		o.DetectionTimeout = 5 * time.Second
	}
	if o.Scheduler == nil {
		o.Scheduler = poll.sched
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	f := &Fallback{
		socket:      socket,
		poll:        poll,
		opts:        o,
		sched:       o.Scheduler,
		logger:      o.Logger.With("component", "fallback"),
		savedSocket: socket.Tuning(),
		savedPoll:   poll.Tuning(),
	}
	f.maxAttempts = max(f.savedSocket.MaxReconnectionAttempts, f.savedPoll.MaxReconnectionAttempts)
	f.delay = max(f.savedSocket.ReconnectionDelay, f.savedPoll.ReconnectionDelay)

	socket.OnStateChange(func(old, new State) { f.candidateState(socket, old, new) })
	poll.OnStateChange(func(old, new State) { f.candidateState(poll, old, new) })
	socket.OnMessage(func(msg any) { f.candidateMessage(socket, msg) })
	poll.OnMessage(func(msg any) { f.candidateMessage(poll, msg) })
	return f
}

// Connect starts transport detection.
func (f *Fallback) Connect() error {
	f.mu.Lock()
	if f.state != StateClosed {
		err := &StateError{Op: "connect", State: f.state, Err: ErrAlreadyStarted}
		f.mu.Unlock()
		return err
	}
	f.queue = nil
	f.attempts = 0
	f.winner = nil
	f.setState(StateConnecting)
	f.logger.Debug("trying transports", "parallel", f.opts.TryInParallel)
	f.tryConnect()
	f.mu.Unlock()

	f.drain()
	return nil
}

// Close closes the winning transport, or finishes detection and then
// closes the winner.
func (f *Fallback) Close() error {
	f.mu.Lock()
	if f.flushing {
		f.closeAfterFlush = true
		f.mu.Unlock()
		return nil
	}
	if f.detecting || f.winner == nil {
		if !f.state.Started() {
			err := &StateError{Op: "close", State: f.state, Err: ErrNotStarted}
			f.mu.Unlock()
			return err
		}
		f.setState(StateClosing)
		f.mu.Unlock()
		f.drain()
		return nil
	}
	winner := f.winner
	f.mu.Unlock()
	return winner.Close()
}

// Post sends msg over the winner, or buffers it until detection completes.
func (f *Fallback) Post(msg any) error {
	f.mu.Lock()
	if f.detecting || f.winner == nil || f.flushing {
		if !f.state.Started() {
			err := &StateError{Op: "post", State: f.state, Err: ErrNotStarted}
			f.mu.Unlock()
			return err
		}
		f.queue = append(f.queue, msg)
		f.mu.Unlock()
		return nil
	}
	winner := f.winner
	f.mu.Unlock()
	return winner.Post(msg)
}

// State returns the selector's state, which mirrors the winner's once
// detection is over.
func (f *Fallback) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Transport returns the winning connection, or nil while detecting.
func (f *Fallback) Transport() *Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.detecting {
		return nil
	}
	return f.winner
}

// OnStateChange registers fn to run on every state change.
func (f *Fallback) OnStateChange(fn func(old, new State)) {
	f.mu.Lock()
	f.stateListeners = append(f.stateListeners, fn)
	f.mu.Unlock()
}

// OnMessage registers fn to run for every message from the winner.
func (f *Fallback) OnMessage(fn func(msg any)) {
	f.mu.Lock()
	f.messageListeners = append(f.messageListeners, fn)
	f.mu.Unlock()
}

// tryConnect starts one detection round. Must hold f.mu.
func (f *Fallback) tryConnect() {
	f.detecting = true
	f.socketOK = unknown
	f.pollOK = unknown
	f.pollStarted = f.opts.TryInParallel

	probe := Tuning{
		MaxReconnectionAttempts: f.opts.DetectionAttempts,
		ReconnectionDelay:       0,
		Timeout:                 f.opts.DetectionTimeout,
	}
	parallel := f.opts.TryInParallel
	f.emit(func() {
		f.socket.SetTuning(probe)
		f.poll.SetTuning(probe)
		f.start(f.socket)
		if parallel {
			f.start(f.poll)
		}
	})
}

// start connects a candidate, marking it unavailable if it refuses.
func (f *Fallback) start(c *Conn) {
	if err := c.Connect(); err != nil {
		f.logger.Info("could not use transport", "transport", c.kind, "error", err)
		f.locked(func() {
			if !f.detecting {
				return
			}
			if c == f.socket {
				f.socketOK = unavailable
			} else {
				f.pollOK = unavailable
			}
			f.checkDetection()
		})
	}
}

func (f *Fallback) candidateState(c *Conn, old, new State) {
	f.locked(func() {
		if !f.detecting {
			if f.winner == c {
				f.setState(new)
			}
			return
		}

		ok := &f.pollOK
		if c == f.socket {
			ok = &f.socketOK
		}
		switch {
		case old == StateConnecting && new == StateReady:
			*ok = available
		case old == StateConnecting:
			f.logger.Debug("transport failed", "transport", c.kind, "state", new)
			*ok = unavailable
		case old != StateClosed || new == StateClosed:
			*ok = unavailable
		default:
			return
		}
		f.checkDetection()
	})
}

func (f *Fallback) candidateMessage(c *Conn, msg any) {
	f.locked(func() {
		if f.detecting || f.winner != c || len(f.messageListeners) == 0 {
			return
		}
		listeners := append([]func(any){}, f.messageListeners...)
		f.emit(func() {
			for _, l := range listeners {
				l(msg)
			}
		})
	})
}

// checkDetection commits to a winner or moves detection forward.
// Must hold f.mu.
func (f *Fallback) checkDetection() {
	switch {
	case f.socketOK == available:
		f.commit(f.socket, f.poll, f.savedSocket)
	case f.socketOK == unavailable && f.pollOK == available:
		f.commit(f.poll, f.socket, f.savedPoll)
	case f.socketOK == unavailable && f.pollOK == unavailable:
		f.retry()
	case f.socketOK == unavailable && !f.pollStarted:
		f.pollStarted = true
		f.emit(func() { f.start(f.poll) })
	}
}

// commit makes winner the transport. The buffered posts are flushed and the
// winner's tuning restored before the state listeners run. Must hold f.mu.
func (f *Fallback) commit(winner, loser *Conn, saved Tuning) {
	f.detecting = false
	f.winner = winner
	f.flushing = true
	f.closeAfterFlush = f.state == StateClosing
	if loser == f.poll {
		f.pollOK = unavailable
	} else {
		f.socketOK = unavailable
	}
	f.logger.Info("connection opened", "transport", winner.kind)

	f.emit(func() {
		loser.release()
		winner.SetTuning(saved)
		f.flush(winner)
	})
	if f.state == StateConnecting {
		f.setState(StateReady)
	}
}

// flush posts the buffer to winner until it stays empty, then lets Post go
// straight to the winner.
func (f *Fallback) flush(winner *Conn) {
	for {
		f.mu.Lock()
		queue := f.queue
		f.queue = nil
		if len(queue) == 0 {
			f.flushing = false
			closing := f.closeAfterFlush
			f.closeAfterFlush = false
			f.mu.Unlock()
			if closing {
				winner.Close()
			}
			return
		}
		f.mu.Unlock()

		for _, msg := range queue {
			if err := winner.Post(msg); err != nil {
				f.logger.Warn("dropping buffered message", "transport", winner.kind, "error", err)
			}
		}
	}
}

// retry starts a new detection round after both candidates failed.
// Must hold f.mu.
func (f *Fallback) retry() {
	f.detecting = false
	if f.state != StateConnecting {
		f.setState(StateClosed)
		return
	}

	f.attempts++
	if f.attempts > f.maxAttempts {
		f.logger.Info("could not establish connection", "attempts", f.attempts-1)
		f.setState(StateClosed)
		return
	}
	if f.attempts == 1 {
		f.tryConnect()
		return
	}

	f.logger.Debug("retrying transports", "in", f.delay, "attempt", f.attempts)
	f.retrySeq++
	seq := f.retrySeq
	f.detecting = true
	f.retryTimer = f.sched.AfterFunc(f.delay, func() {
		f.locked(func() {
			if f.retrySeq != seq {
				return
			}
			f.retryTimer = nil
			if f.state == StateConnecting {
				f.tryConnect()
			} else {
				f.detecting = false
				f.setState(StateClosed)
			}
		})
	})
}

// setState changes state and queues the listeners. Must hold f.mu.
func (f *Fallback) setState(s State) {
	old := f.state
	if old == s {
		return
	}
	f.state = s
	if s == StateClosed {
		f.retrySeq++
		stopTimer(f.retryTimer)
		f.retryTimer = nil
		f.queue = nil
	}
	if len(f.stateListeners) == 0 {
		return
	}
	listeners := append([]func(old, new State){}, f.stateListeners...)
	f.emit(func() {
		for _, l := range listeners {
			l(old, s)
		}
	})
}

func (f *Fallback) emit(fn func()) {
	f.outbox = append(f.outbox, fn)
}

func (f *Fallback) locked(fn func()) {
	f.mu.Lock()
	fn()
	f.mu.Unlock()
	f.drain()
}

func (f *Fallback) drain() {
	f.mu.Lock()
	if f.draining {
		f.mu.Unlock()
		return
	}
	f.draining = true
	for len(f.outbox) > 0 {
		fn := f.outbox[0]
		f.outbox[0] = nil
		f.outbox = f.outbox[1:]
		f.mu.Unlock()
		f.run(fn)
		f.mu.Lock()
	}
	f.outbox = nil
	f.draining = false
	f.mu.Unlock()
}

func (f *Fallback) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("listener panic",
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	fn()
}
