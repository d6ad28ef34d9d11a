package server

import (
	"sync"
	"time"

	"github.com/vango-dev/channel/pkg/protocol"
)

// Transport is a physical connection as seen by the Registry. The Registry
// does not own it: Send and Close must not block for long, must not panic,
// and must be silent no-ops once the transport is closed.
type Transport interface {
	Send(text string)
	Close()
}

// pollWaiter is a held long-poll request. It answers with the whole
// outbound queue instead of individual frames. Close answers 204.
type pollWaiter interface {
	Transport
	deliver(b *protocol.PollBatch)
	expire()
}

// Connection is the server record of one logical connection. All fields
// are guarded by mu.
type Connection struct {
	mu sync.Mutex

	token    string
	created  time.Time
	lastUsed time.Time
	delivery protocol.Delivery

	// closing is set by Registry.Terminate; posts are ignored from then on.
	closing bool

	// gone is set once the record left the registry.
	gone bool

	// transport is the current physical connection, or nil.
	transport Transport
}

// ConnectionInfo is a point-in-time view of a Connection.
type ConnectionInfo struct {
	Token    string
	Created  time.Time
	LastUsed time.Time
	Queued   int
	Received int64
	Sent     int64
	Closing  bool
	Attached bool
}

func (c *Connection) info() ConnectionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConnectionInfo{
		Token:    c.token,
		Created:  c.created,
		LastUsed: c.lastUsed,
		Queued:   c.delivery.Len(),
		Received: c.delivery.Received,
		Sent:     c.delivery.Sent,
		Closing:  c.closing,
		Attached: c.transport != nil,
	}
}

// binder is implemented by transports that need to know which connection
// they serve, so they can detach themselves when they end.
type binder interface {
	bind(token string)
}

// attach makes t the current transport, closing the previous one.
// Must hold c.mu.
func (c *Connection) attach(t Transport) bool {
	if c.transport == t {
		return false
	}
	if old := c.transport; old != nil {
		old.Close()
	}
	c.transport = t
	if b, ok := t.(binder); ok {
		b.bind(c.token)
	}
	return true
}

// detach drops t if it is still the current transport. Must hold c.mu.
func (c *Connection) detach(t Transport) {
	if c.transport == t {
		c.transport = nil
	}
}

// push hands a freshly queued message to the live transport. Must hold c.mu.
func (c *Connection) push() {
	switch t := c.transport.(type) {
	case nil:
	case pollWaiter:
		c.transport = nil
		t.deliver(c.delivery.Batch())
	default:
		first, msgs := c.delivery.Tail(1)
		t.Send((&protocol.Frame{
			Command:  protocol.CmdSend,
			Ack:      c.delivery.Received,
			FirstSeq: first,
			Messages: msgs,
		}).EncodeServer())
	}
}

// resume is the reply to a reconnect: the receive count and the full
// outbound queue. Must hold c.mu.
func (c *Connection) resume() string {
	first, msgs := c.delivery.Pending()
	return (&protocol.Frame{
		Command:  protocol.CmdSend,
		Ack:      c.delivery.Received,
		FirstSeq: first,
		Messages: msgs,
	}).EncodeServer()
}
