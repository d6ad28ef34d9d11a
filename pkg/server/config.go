package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vango-dev/channel/pkg/protocol"
)

// Config holds the registry and endpoint configuration.
type Config struct {
	// Negotiated timings

	// HeartbeatInterval is announced to socket clients in the handshake.
	// A socket idle for longer than HeartbeatInterval plus IdleMargin is
	// force-closed so the client reconnects.
	// Default: 20 seconds.
	HeartbeatInterval time.Duration

	// ConnectionTimeout is the idle period after which a logical connection
	// is removed. Announced to clients in the handshake.
	// Default: 120 seconds.
	ConnectionTimeout time.Duration

	// LongPollTimeout is how long a poll request is held when there is
	// nothing to deliver. Announced to poll clients in the handshake.
	// Default: 20 seconds.
	LongPollTimeout time.Duration

	// Limits

	// MaxQueueLength is the number of unacknowledged outbound messages after
	// which a connection is force-closed.
	// Default: 300.
	MaxQueueLength int

	// MaxMessageSize limits the message bytes of one inbound frame or poll
	// body.
	// Default: 256000.
	MaxMessageSize int

	// Sweep

	// SweepDelay is the warm-up before the first sweep.
	// Default: 30 seconds.
	SweepDelay time.Duration

	// SweepInterval is the time between sweeps.
	// Default: 10 seconds.
	SweepInterval time.Duration

	// IdleMargin is added to HeartbeatInterval before a silent socket is
	// force-closed.
	// Default: 10 seconds.
	IdleMargin time.Duration

	// Socket endpoint

	// InitTimeout closes a socket that sends no frame after the upgrade.
	// Default: 5 seconds.
	InitTimeout time.Duration

	// WriteTimeout bounds one socket write.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// SendBuffer is the number of frames buffered per socket before the
	// socket is considered stuck and closed.
	// Default: 256.
	SendBuffer int

	// CheckOrigin validates the Origin header of socket upgrades.
	// Default: SameOriginCheck.
	CheckOrigin func(r *http.Request) bool

	// TrustedProxies lists reverse proxy IPs or CIDRs whose Forwarded and
	// X-Forwarded-For headers are used for the remote address in logs.
	// Default: nil (headers ignored).
	TrustedProxies []string

	// Collaborators

	// Codec converts between application values and message lines.
	// Default: protocol.StringCodec{}.
	Codec protocol.Codec

	// Logger receives registry and endpoint logs.
	// Default: slog.Default().
	Logger *slog.Logger

	// Registerer receives the channel metrics. Nil disables metrics.
	Registerer prometheus.Registerer

	// HTTP server

	// Address is the listen address of Server.Run.
	// Default: ":8080".
	Address string

	// SocketPath, PollPath and MetricsPath are the routes mounted by Server.
	// Defaults: "/channel/ws", "/channel/poll", "/metrics".
	SocketPath  string
	PollPath    string
	MetricsPath string

	// ShutdownTimeout bounds Server.Shutdown.
	// Default: 30 seconds.
	ShutdownTimeout time.Duration

	// ReadHeaderTimeout of the HTTP server.
	// Default: 10 seconds.
	ReadHeaderTimeout time.Duration
}

// DefaultConfig returns a Config with the protocol defaults.
func DefaultConfig() *Config {
	return &Config{
		HeartbeatInterval: protocol.DefaultHeartbeatMillis * time.Millisecond,
		ConnectionTimeout: protocol.DefaultConnectionTimeoutMillis * time.Millisecond,
		LongPollTimeout:   20 * time.Second,
		MaxQueueLength:    protocol.DefaultMaxQueueLength,
		MaxMessageSize:    protocol.DefaultMaxMessageSize,
		SweepDelay:        30 * time.Second,
		SweepInterval:     10 * time.Second,
		IdleMargin:        10 * time.Second,
		InitTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		SendBuffer:        256,
		CheckOrigin:       SameOriginCheck,
		Codec:             protocol.StringCodec{},
		Address:           ":8080",
		SocketPath:        "/channel/ws",
		PollPath:          "/channel/poll",
		MetricsPath:       "/metrics",
		ShutdownTimeout:   30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	if c.TrustedProxies != nil {
		clone.TrustedProxies = append([]string(nil), c.TrustedProxies...)
	}
	return &clone
}

// withDefaults returns a copy with every unset field filled in.
func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	if c == nil {
		return d
	}
	cfg := c.Clone()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = d.HeartbeatInterval
	}
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = d.ConnectionTimeout
	}
	if cfg.LongPollTimeout <= 0 {
		cfg.LongPollTimeout = d.LongPollTimeout
	}
	if cfg.MaxQueueLength <= 0 {
		cfg.MaxQueueLength = d.MaxQueueLength
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = d.MaxMessageSize
	}
	if cfg.SweepDelay <= 0 {
		cfg.SweepDelay = d.SweepDelay
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = d.SweepInterval
	}
	if cfg.IdleMargin <= 0 {
		cfg.IdleMargin = d.IdleMargin
	}
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = d.InitTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = d.WriteTimeout
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = d.SendBuffer
	}
	if cfg.CheckOrigin == nil {
		cfg.CheckOrigin = d.CheckOrigin
	}
	if cfg.Codec == nil {
		cfg.Codec = d.Codec
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = d.Address
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = d.SocketPath
	}
	if cfg.PollPath == "" {
		cfg.PollPath = d.PollPath
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = d.MetricsPath
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = d.ShutdownTimeout
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = d.ReadHeaderTimeout
	}
	return cfg
}

// WithAddress sets the listen address and returns the config for chaining.
func (c *Config) WithAddress(addr string) *Config {
	c.Address = addr
	return c
}

// WithHeartbeatInterval sets the heartbeat interval and returns the config
// for chaining.
func (c *Config) WithHeartbeatInterval(d time.Duration) *Config {
	c.HeartbeatInterval = d
	return c
}

// WithConnectionTimeout sets the connection timeout and returns the config
// for chaining.
func (c *Config) WithConnectionTimeout(d time.Duration) *Config {
	c.ConnectionTimeout = d
	return c
}

// WithMaxQueueLength sets the queue ceiling and returns the config for
// chaining.
func (c *Config) WithMaxQueueLength(n int) *Config {
	c.MaxQueueLength = n
	return c
}

// WithCodec sets the message codec and returns the config for chaining.
func (c *Config) WithCodec(codec protocol.Codec) *Config {
	c.Codec = codec
	return c
}

// WithLogger sets the logger and returns the config for chaining.
func (c *Config) WithLogger(logger *slog.Logger) *Config {
	c.Logger = logger
	return c
}

// WithRegisterer sets the Prometheus registerer and returns the config for
// chaining.
func (c *Config) WithRegisterer(reg prometheus.Registerer) *Config {
	c.Registerer = reg
	return c
}

// SameOriginCheck accepts requests without an Origin header and requests
// whose Origin host matches the Host header.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := r.Host
	if host == "" {
		return false
	}
	return originURL.Host == host
}

// AllowAnyOrigin accepts every socket upgrade.
func AllowAnyOrigin(*http.Request) bool { return true }
