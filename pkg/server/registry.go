package server

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vango-dev/channel/pkg/protocol"
)

// Close reasons, used in logs and as the metrics label.
const (
	reasonClosed    = "closed"
	reasonExpired   = "expired"
	reasonOverflow  = "overflow"
	reasonProtocol  = "protocol"
	reasonTooLarge  = "too_large"
	reasonShutdown  = "shutdown"
	reasonTerminate = "terminated"
)

// Registry manages all logical connections: it services inbound frames,
// queues outbound messages, and sweeps idle connections.
//
// Lock order is Connection.mu before Registry.mu. Handler callbacks run
// after both are released.
type Registry struct {
	conns map[string]*Connection
	mu    sync.RWMutex

	cfg     *Config
	handler Handler
	logger  *slog.Logger
	metrics *Metrics
	trusted *proxyMatcher

	// now and newToken are replaced in tests.
	now      func() time.Time
	newToken func() string

	closed       bool
	totalCreated atomic.Uint64
	totalClosed  atomic.Uint64
	peak         int

	done      chan struct{}
	sweepDone chan struct{}
	stopOnce  sync.Once
}

// NewRegistry creates a Registry and starts its sweep goroutine. A nil
// logger falls back to cfg.Logger.
func NewRegistry(cfg *Config, h Handler, logger *slog.Logger) *Registry {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = cfg.Logger
	}
	if h == nil {
		h = HandlerFuncs{}
	}

	r := &Registry{
		conns:     make(map[string]*Connection),
		cfg:       cfg,
		handler:   h,
		logger:    logger.With("component", "registry"),
		metrics:   NewMetrics(cfg.Registerer),
		trusted:   newProxyMatcher(cfg.TrustedProxies, logger),
		now:       time.Now,
		newToken:  uuid.NewString,
		done:      make(chan struct{}),
		sweepDone: make(chan struct{}),
	}

	go r.sweepLoop()

	return r
}

// Config returns the effective configuration.
func (r *Registry) Config() *Config {
	return r.cfg
}

// Service handles one frame received from the physical transport t.
func (r *Registry) Service(t Transport, text string) {
	f, err := protocol.DecodeClient(text)
	if err != nil {
		r.metrics.protocolError(protocol.CodeOf(err).String())
		if c := r.lookup(f.Token); c != nil {
			r.mismatch(c, t, err)
			return
		}
		r.logger.Warn("protocol mismatch", "command", f.Command, "error", err)
		t.Close()
		return
	}
	r.metrics.frame(f.Command.String())

	if f.Command == protocol.CmdNew {
		r.open(t)
		return
	}

	c := r.lookup(f.Token)
	if c == nil {
		r.expired(t, f.Token)
		return
	}

	c.mu.Lock()
	if !r.memberLocked(c) {
		c.mu.Unlock()
		r.expired(t, f.Token)
		return
	}
	if c.attach(t) {
		r.metrics.reconnected()
	}

	switch f.Command {
	case protocol.CmdClose:
		t.Send((&protocol.Frame{Command: protocol.CmdClose, Reason: protocol.ReasonClosed}).EncodeServer())
		r.removeLocked(c, reasonClosed)
		c.mu.Unlock()
		r.disconnected(c.token)
		return

	case protocol.CmdCloseAck:
		if !c.closing {
			r.logger.Warn("protocol mismatch", "token", c.token, "error", "close ack without close request")
		}
		r.removeLocked(c, reasonClosed)
		c.mu.Unlock()
		r.disconnected(c.token)
		return
	}

	c.lastUsed = r.now()

	if f.Command == protocol.CmdHeartbeat {
		if !c.closing {
			t.Send((&protocol.Frame{Command: protocol.CmdHeartbeatAck, Ack: c.delivery.Received}).EncodeServer())
		}
		c.mu.Unlock()
		return
	}

	// S or R
	if size := f.MessageBytes(); size > r.cfg.MaxMessageSize {
		c.mu.Unlock()
		r.metrics.protocolError(protocol.CodeTooLarge.String())
		r.drop(c, reasonTooLarge, protocol.TooLarge(size, r.cfg.MaxMessageSize))
		return
	}
	fresh, err := c.delivery.Receive(f.Ack, f.FirstSeq, f.Messages)
	if err != nil {
		c.mu.Unlock()
		r.metrics.protocolError(protocol.CodeOf(err).String())
		r.drop(c, reasonProtocol, err)
		return
	}
	r.metrics.received(len(fresh), len(f.Messages))

	if f.Command == protocol.CmdReconnect {
		r.logger.Debug("connection resumed", "token", c.token, "queued", c.delivery.Len())
		t.Send(c.resume())
		if c.closing {
			t.Send((&protocol.Frame{Command: protocol.CmdCloseRequest, Reason: protocol.ReasonClose}).EncodeServer())
		}
	}

	if c.closing {
		c.mu.Unlock()
		return
	}
	token := c.token
	c.mu.Unlock()

	r.deliver(token, fresh)
}

// Post queues msg for the connection and pushes it to the live transport.
// Posts to a closing connection are ignored. A connection whose queue is
// full is closed and ErrQueueFull is returned.
func (r *Registry) Post(token string, msg any) error {
	text, err := protocol.EncodeMessage(r.cfg.Codec, msg)
	if err != nil {
		return &ConnectionError{Token: token, Op: "post", Err: err}
	}

	c := r.lookup(token)
	if c == nil {
		return &ConnectionError{Token: token, Op: "post", Err: ErrConnectionGone}
	}

	c.mu.Lock()
	if !r.memberLocked(c) {
		c.mu.Unlock()
		return &ConnectionError{Token: token, Op: "post", Err: ErrConnectionGone}
	}
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	if c.delivery.Len() >= r.cfg.MaxQueueLength {
		r.logger.Warn("queue is full", "token", token, "length", c.delivery.Len())
		r.removeLocked(c, reasonOverflow)
		c.mu.Unlock()
		r.disconnected(token)
		return &ConnectionError{Token: token, Op: "post", Err: ErrQueueFull}
	}

	c.delivery.Enqueue(text)
	c.push()
	c.mu.Unlock()

	r.metrics.posted()
	return nil
}

// Terminate starts a server-initiated close. The client acknowledges and
// the connection is removed then; until that, posts are ignored.
func (r *Registry) Terminate(token string) {
	c := r.lookup(token)
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gone || c.closing {
		return
	}
	c.closing = true
	r.logger.Debug("terminating", "token", token)

	switch t := c.transport.(type) {
	case nil:
	case pollWaiter:
		c.transport = nil
		t.Close()
	default:
		t.Send((&protocol.Frame{Command: protocol.CmdCloseRequest}).EncodeServer())
	}
}

// Close removes the connection immediately, telling a live socket it was
// closed.
func (r *Registry) Close(token string) {
	c := r.lookup(token)
	if c == nil {
		return
	}
	c.mu.Lock()
	if c.gone {
		c.mu.Unlock()
		return
	}
	if t := c.transport; t != nil {
		if _, ok := t.(pollWaiter); !ok {
			t.Send((&protocol.Frame{Command: protocol.CmdClose, Reason: protocol.ReasonClosed}).EncodeServer())
		}
	}
	removed := r.removeLocked(c, reasonTerminate)
	c.mu.Unlock()
	if removed {
		r.disconnected(token)
	}
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Stats returns aggregated registry statistics.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	active := len(r.conns)
	peak := r.peak
	r.mu.RUnlock()

	return RegistryStats{
		Active:       active,
		TotalCreated: r.totalCreated.Load(),
		TotalClosed:  r.totalClosed.Load(),
		Peak:         peak,
	}
}

// RegistryStats contains aggregated registry statistics.
type RegistryStats struct {
	Active       int
	TotalCreated uint64
	TotalClosed  uint64
	Peak         int
}

// ForEach calls fn with a snapshot of every connection until fn returns
// false. fn runs without registry locks held.
func (r *Registry) ForEach(fn func(ConnectionInfo) bool) {
	for _, c := range r.snapshot() {
		if !fn(c.info()) {
			return
		}
	}
}

// Info returns a snapshot of one connection.
func (r *Registry) Info(token string) (ConnectionInfo, bool) {
	c := r.lookup(token)
	if c == nil {
		return ConnectionInfo{}, false
	}
	return c.info(), true
}

// Shutdown stops the sweep and closes every connection, firing
// OnDisconnected once for each. New connections are refused afterwards.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.stopOnce.Do(func() { close(r.done) })

	select {
	case <-r.sweepDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	conns := r.snapshot()
	for _, c := range conns {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.mu.Lock()
		if t := c.transport; t != nil {
			if _, ok := t.(pollWaiter); !ok {
				t.Send((&protocol.Frame{Command: protocol.CmdClose, Reason: protocol.ReasonClosed}).EncodeServer())
			}
		}
		removed := r.removeLocked(c, reasonShutdown)
		c.mu.Unlock()
		if removed {
			r.disconnected(c.token)
		}
	}

	r.logger.Info("registry shutdown", "closed_connections", len(conns))
	return nil
}

// open registers a connection for a socket that sent N and replies with the
// handshake.
func (r *Registry) open(t Transport) {
	c, err := r.register(t)
	if err != nil {
		r.logger.Warn("refusing connection", "error", err)
		t.Send((&protocol.Frame{Command: protocol.CmdClose, Reason: protocol.ReasonClosed}).EncodeServer())
		t.Close()
		return
	}

	t.Send((&protocol.Frame{
		Command:   protocol.CmdNew,
		Token:     c.token,
		Heartbeat: r.cfg.HeartbeatInterval,
		Timeout:   r.cfg.ConnectionTimeout,
	}).EncodeServer())
	r.connected(c.token)
}

// register creates a record with a fresh token attached to t, which may be
// nil.
func (r *Registry) register(t Transport) (*Connection, error) {
	now := r.now()
	c := &Connection{
		created:   now,
		lastUsed:  now,
		transport: t,
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	for {
		c.token = r.newToken()
		if _, exists := r.conns[c.token]; !exists {
			break
		}
	}
	r.conns[c.token] = c
	r.totalCreated.Add(1)
	if len(r.conns) > r.peak {
		r.peak = len(r.conns)
	}
	r.mu.Unlock()

	if b, ok := t.(binder); ok {
		b.bind(c.token)
	}
	r.metrics.connectionCreated()
	r.logger.Info("connection created", "token", c.token)
	return c, nil
}

// release detaches t from the connection it served, if t is still that
// connection's transport. Pushes then wait for the next attach.
func (r *Registry) release(t Transport, token string) {
	c := r.lookup(token)
	if c == nil {
		return
	}
	c.mu.Lock()
	c.detach(t)
	c.mu.Unlock()
}

func (r *Registry) lookup(token string) *Connection {
	if token == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[token]
}

// memberLocked reports whether c is still the registered record for its
// token. Must hold c.mu.
func (r *Registry) memberLocked(c *Connection) bool {
	if c.gone {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[c.token] == c
}

// removeLocked takes c out of the registry and closes its transport. It
// returns false if c was already removed. Must hold c.mu.
func (r *Registry) removeLocked(c *Connection, reason string) bool {
	if c.gone {
		return false
	}
	c.gone = true

	r.mu.Lock()
	if r.conns[c.token] == c {
		delete(r.conns, c.token)
	}
	remaining := len(r.conns)
	r.mu.Unlock()

	switch t := c.transport.(type) {
	case nil:
	case pollWaiter:
		t.expire()
	default:
		t.Close()
	}
	c.transport = nil

	r.totalClosed.Add(1)
	r.metrics.connectionClosed(reason)
	r.logger.Info("connection closed",
		"token", c.token,
		"reason", reason,
		"remaining", remaining)
	return true
}

// drop removes c after a protocol violation.
func (r *Registry) drop(c *Connection, reason string, cause error) {
	r.logger.Warn("protocol mismatch", "token", c.token, "error", cause)

	c.mu.Lock()
	removed := r.removeLocked(c, reason)
	c.mu.Unlock()
	if removed {
		r.disconnected(c.token)
	}
}

// mismatch handles an undecodable frame that names a known connection.
func (r *Registry) mismatch(c *Connection, t Transport, cause error) {
	r.drop(c, reasonProtocol, cause)
	t.Close()
}

// expired tells t that its connection no longer exists.
func (r *Registry) expired(t Transport, token string) {
	r.logger.Debug("unknown connection", "token", token)
	t.Send((&protocol.Frame{Command: protocol.CmdClose, Reason: protocol.ReasonExpired}).EncodeServer())
	t.Close()
}

// deliver decodes fresh messages and hands them to the handler.
func (r *Registry) deliver(token string, texts []string) {
	for _, text := range texts {
		msg, err := r.cfg.Codec.Decode(text)
		if err != nil {
			r.logger.Error("dropping undecodable message", "token", token, "error", err)
			continue
		}
		r.dispatch("OnMessage", token, func() { r.handler.OnMessage(r, token, msg) })
	}
}

func (r *Registry) connected(token string) {
	r.dispatch("OnConnected", token, func() { r.handler.OnConnected(r, token) })
}

func (r *Registry) disconnected(token string) {
	r.dispatch("OnDisconnected", token, func() { r.handler.OnDisconnected(r, token) })
}

// dispatch runs a handler callback, recovering and logging panics.
func (r *Registry) dispatch(callback, token string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			herr := &HandlerError{
				Token:    token,
				Callback: callback,
				Panic:    p,
				Stack:    debug.Stack(),
			}
			r.metrics.panicked(callback)
			r.logger.Error("handler panic",
				"token", token,
				"error", herr,
				"stack", string(herr.Stack))
		}
	}()
	fn()
}

func (r *Registry) snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}

// sweepLoop runs sweep after the warm-up delay and then periodically.
func (r *Registry) sweepLoop() {
	defer close(r.sweepDone)

	warmup := time.NewTimer(r.cfg.SweepDelay)
	select {
	case <-warmup.C:
	case <-r.done:
		warmup.Stop()
		return
	}

	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		r.sweep()
		select {
		case <-ticker.C:
		case <-r.done:
			return
		}
	}
}

// sweep removes connections idle longer than ConnectionTimeout and closes
// the transport of connections silent longer than the heartbeat allows.
func (r *Registry) sweep() {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("sweep panic", "panic", p, "stack", string(debug.Stack()))
		}
	}()

	now := r.now()
	stale := r.cfg.HeartbeatInterval + r.cfg.IdleMargin
	var expired, silenced int

	for _, c := range r.snapshot() {
		c.mu.Lock()
		idle := now.Sub(c.lastUsed)
		removed := false
		switch {
		case c.gone:
		case idle > r.cfg.ConnectionTimeout:
			removed = r.removeLocked(c, reasonExpired)
		case idle > stale && c.transport != nil:
			r.logger.Debug("closing silent transport", "token", c.token, "idle", idle)
			c.transport.Close()
			c.transport = nil
			silenced++
		}
		c.mu.Unlock()

		if removed {
			expired++
			r.disconnected(c.token)
		}
	}

	if expired > 0 || silenced > 0 {
		r.logger.Info("swept connections",
			"expired", expired,
			"silenced", silenced,
			"remaining", r.Count())
	}
}
