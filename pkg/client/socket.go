package client

import (
	"errors"
	"time"

	"github.com/vango-dev/channel/pkg/protocol"
)

// Socket is one physical full-duplex connection. Send and Close must not
// block for long and must not fail on a socket that is not open.
type Socket interface {
	Send(text string)
	Close()
}

// SocketHandler receives the events of one physical socket. OnClose is
// called exactly once per socket, including when the dial fails or Close
// is called before the socket opened.
type SocketHandler interface {
	OnOpen(s Socket)
	OnMessage(s Socket, text string)
	OnClose(s Socket, err error)
}

// Dialer opens physical sockets. Dial must return without waiting for the
// connection; the outcome is reported to h.
type Dialer interface {
	Dial(h SocketHandler) Socket
}

var errConnectTimeout = errors.New("client: connect timeout")

// NewSocketConn returns a closed connection that runs over sockets from d.
func NewSocketConn(d Dialer, opts *Options) *Conn {
	opts = opts.withDefaults()
	return newConn(&socketTransport{dialer: d}, "socket", opts, opts.ConnectTimeout)
}

type socketTransport struct {
	dialer Dialer

	// gen identifies the current physical attempt. Events from sockets of
	// earlier attempts are ignored.
	gen    uint64
	socket Socket

	connectTimer   Timer
	heartbeatTimer Timer
	heartbeat      time.Duration
}

func (t *socketTransport) open(c *Conn) {
	t.release(c)
	gen := t.gen

	t.connectTimer = c.sched.AfterFunc(c.tuning.Timeout, func() {
		c.locked(func() {
			if t.gen == gen {
				t.lost(c, errConnectTimeout)
			}
		})
	})

	h := &socketEvents{c: c, t: t, gen: gen}
	c.emit(func() {
		s := t.dialer.Dial(h)
		h.dialed(s)
	})
}

// release invalidates the current attempt: stops its timers and closes its
// socket. Must hold c.mu.
func (t *socketTransport) release(c *Conn) {
	t.gen++
	stopTimer(t.connectTimer)
	stopTimer(t.heartbeatTimer)
	t.connectTimer = nil
	t.heartbeatTimer = nil
	if s := t.socket; s != nil {
		t.socket = nil
		c.emit(s.Close)
	}
}

// lost handles the failure of the current attempt.
func (t *socketTransport) lost(c *Conn, cause error) {
	t.release(c)
	c.connectionLost(cause)
}

func (t *socketTransport) send(c *Conn, f *protocol.Frame) {
	s := t.socket
	if s == nil {
		return
	}
	text := f.EncodeClient()
	c.emit(func() { s.Send(text) })
}

func (t *socketTransport) posted(c *Conn) {
	if c.state != StateReady {
		return
	}
	first, msgs := c.delivery.Tail(1)
	t.send(c, &protocol.Frame{
		Command:  protocol.CmdSend,
		Token:    c.token,
		Ack:      c.delivery.Received,
		FirstSeq: first,
		Messages: msgs,
	})
}

func (t *socketTransport) close(c *Conn) {
	if c.state == StateReady {
		t.send(c, &protocol.Frame{Command: protocol.CmdClose, Token: c.token})
	}
	c.setState(StateClosing)
}

func (t *socketTransport) shutdown(c *Conn) {
	t.release(c)
}

// opened runs when the physical socket of the current attempt is open.
func (t *socketTransport) opened(c *Conn) {
	if c.token == "" {
		t.send(c, &protocol.Frame{Command: protocol.CmdNew})
		return
	}

	c.logger.Debug("resuming", "token", c.token, "queued", c.delivery.Len())
	first, msgs := c.delivery.Pending()
	t.send(c, &protocol.Frame{
		Command:  protocol.CmdReconnect,
		Token:    c.token,
		Ack:      c.delivery.Received,
		FirstSeq: first,
		Messages: msgs,
	})
	if c.state == StateClosing {
		t.send(c, &protocol.Frame{Command: protocol.CmdClose, Token: c.token})
	}
}

// established stops the connect timer and starts heartbeats.
func (t *socketTransport) established(c *Conn) {
	stopTimer(t.connectTimer)
	t.connectTimer = nil
	c.attempts = 0

	stopTimer(t.heartbeatTimer)
	t.heartbeatTimer = nil
	if t.heartbeat <= 0 {
		return
	}
	gen := t.gen
	t.heartbeatTimer = c.sched.Every(t.heartbeat, func() {
		c.locked(func() {
			if t.gen != gen || c.state != StateReady {
				return
			}
			t.send(c, &protocol.Frame{
				Command:  protocol.CmdHeartbeat,
				Token:    c.token,
				Ack:      c.delivery.Received,
				FirstSeq: c.delivery.Sent,
			})
		})
	})
}

func (t *socketTransport) message(c *Conn, text string) {
	f, err := protocol.DecodeServer(text)
	if err != nil {
		c.fail(err)
		return
	}

	if c.token == "" {
		t.handshake(c, f)
		return
	}

	switch f.Command {
	case protocol.CmdSend, protocol.CmdHeartbeatAck:
		if c.state == StateConnecting {
			c.logger.Debug("reconnected", "token", c.token)
			c.setState(StateReady)
			t.established(c)
		}
		c.attempts = 0
		if f.Command == protocol.CmdHeartbeatAck {
			c.receive(f.Ack, 0, nil)
			return
		}
		c.receive(f.Ack, f.FirstSeq, f.Messages)

	case protocol.CmdCloseRequest:
		c.logger.Debug("close requested by server", "token", c.token)
		t.send(c, &protocol.Frame{Command: protocol.CmdCloseAck, Token: c.token})
		c.setState(StateClosed)

	case protocol.CmdClose:
		c.logger.Debug("closed by server", "token", c.token, "reason", f.Reason)
		c.setState(StateClosed)

	default:
		c.fail(protocol.Unexpected(f.Command, c.state.String()))
	}
}

func (t *socketTransport) handshake(c *Conn, f *protocol.Frame) {
	if f.Command != protocol.CmdNew {
		c.fail(protocol.Unexpected(f.Command, "awaiting handshake"))
		return
	}

	c.token = f.Token
	c.connectionTimeout = f.Timeout
	t.heartbeat = f.Heartbeat
	c.logger.Info("connection created", "token", c.token, "heartbeat", f.Heartbeat, "timeout", f.Timeout)

	if c.state == StateConnecting {
		c.setState(StateReady)
	}

	if c.delivery.Len() > 0 {
		first, msgs := c.delivery.Pending()
		t.send(c, &protocol.Frame{
			Command:  protocol.CmdSend,
			Token:    c.token,
			Ack:      c.delivery.Received,
			FirstSeq: first,
			Messages: msgs,
		})
	}
	if c.state == StateClosing {
		t.send(c, &protocol.Frame{Command: protocol.CmdClose, Token: c.token})
	}
	t.established(c)
}

// socketEvents binds the callbacks of one physical attempt to its Conn.
type socketEvents struct {
	c   *Conn
	t   *socketTransport
	gen uint64
}

func (h *socketEvents) current() bool {
	return h.t.gen == h.gen && h.c.state != StateClosed
}

// dialed records the socket returned by Dial unless the attempt is already
// over.
func (h *socketEvents) dialed(s Socket) {
	h.c.mu.Lock()
	if h.current() {
		if h.t.socket == nil {
			h.t.socket = s
		}
		h.c.mu.Unlock()
		return
	}
	h.c.mu.Unlock()
	s.Close()
}

func (h *socketEvents) OnOpen(s Socket) {
	h.c.mu.Lock()
	if !h.current() {
		h.c.mu.Unlock()
		s.Close()
		return
	}
	h.t.socket = s
	h.t.opened(h.c)
	h.c.mu.Unlock()
	h.c.drain()
}

func (h *socketEvents) OnMessage(s Socket, text string) {
	h.c.locked(func() {
		if h.current() {
			h.t.message(h.c, text)
		}
	})
}

func (h *socketEvents) OnClose(s Socket, err error) {
	h.c.locked(func() {
		if !h.current() {
			return
		}
		if err == nil {
			err = errors.New("client: socket closed")
		}
		// The socket is already gone; do not close it again.
		if h.t.socket == s {
			h.t.socket = nil
		}
		h.t.lost(h.c, err)
	})
}
