package client

import (
	"log/slog"
	"time"

	"github.com/vango-dev/channel/pkg/protocol"
)

// Options configures a Conn.
type Options struct {
	// MaxReconnectionAttempts is the number of consecutive failed reconnects
	// tolerated before giving up. Zero gives up on the first failure.
	// Default: 12.
	MaxReconnectionAttempts int

	// ReconnectionDelay is the wait between reconnects after the first,
	// which is immediate.
	// Default: 5 seconds.
	ReconnectionDelay time.Duration

	// ConnectTimeout bounds one socket connect plus handshake.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// RequestTimeout bounds one non-blocking poll request. Held long-poll
	// requests use the negotiated long-poll timeout plus a margin instead.
	// Default: 10 seconds.
	RequestTimeout time.Duration

	// Codec converts messages to and from wire strings.
	// Default: protocol.StringCodec.
	Codec protocol.Codec

	// Scheduler provides the clock and timers.
	// Default: SystemScheduler.
	Scheduler Scheduler

	// Logger receives connection diagnostics.
	// Default: slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() *Options {
	return &Options{
		MaxReconnectionAttempts: 12,
		ReconnectionDelay:       5 * time.Second,
		ConnectTimeout:          10 * time.Second,
		RequestTimeout:          10 * time.Second,
		Codec:                   protocol.StringCodec{},
		Scheduler:               SystemScheduler{},
		Logger:                  slog.Default(),
	}
}

// Clone returns a copy of the Options.
func (o *Options) Clone() *Options {
	if o == nil {
		return nil
	}
	clone := *o
	return &clone
}

// withDefaults fills nil collaborators and non-positive durations.
// MaxReconnectionAttempts is used as given.
func (o *Options) withDefaults() *Options {
	if o == nil {
		return DefaultOptions()
	}
	d := DefaultOptions()
	c := o.Clone()
	if c.ReconnectionDelay <= 0 {
		c.ReconnectionDelay = d.ReconnectionDelay
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.Codec == nil {
		c.Codec = d.Codec
	}
	if c.Scheduler == nil {
		c.Scheduler = d.Scheduler
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	return c
}

// WithMaxReconnectionAttempts returns a copy with the attempt ceiling set.
func (o *Options) WithMaxReconnectionAttempts(n int) *Options {
	c := o.Clone()
	c.MaxReconnectionAttempts = n
	return c
}

// WithReconnectionDelay returns a copy with the retry delay set.
func (o *Options) WithReconnectionDelay(d time.Duration) *Options {
	c := o.Clone()
	c.ReconnectionDelay = d
	return c
}

// WithCodec returns a copy using codec.
func (o *Options) WithCodec(codec protocol.Codec) *Options {
	c := o.Clone()
	c.Codec = codec
	return c
}

// WithScheduler returns a copy using s.
func (o *Options) WithScheduler(s Scheduler) *Options {
	c := o.Clone()
	c.Scheduler = s
	return c
}

// WithLogger returns a copy using logger.
func (o *Options) WithLogger(logger *slog.Logger) *Options {
	c := o.Clone()
	c.Logger = logger
	return c
}

// Tuning is the retry and timeout policy of a Conn that may change while it
// is in use. Fallback lowers it while probing transports.
type Tuning struct {
	MaxReconnectionAttempts int
	ReconnectionDelay       time.Duration

	// Timeout is ConnectTimeout for socket connections and RequestTimeout
	// for poll connections.
	Timeout time.Duration
}
