package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/vango-dev/channel/internal/errors"
	"github.com/vango-dev/channel/pkg/client"
	"github.com/vango-dev/channel/pkg/protocol"
	"github.com/vango-dev/channel/pkg/server"
)

const (
	// ConfigFileName is the conventional name of the configuration file.
	ConfigFileName = "channel.yaml"

	// DefaultURL is the server the client connects to by default.
	DefaultURL = "http://localhost:8080"
)

// Transport names accepted by ClientConfig.Transport.
const (
	TransportAuto   = "auto"
	TransportSocket = "socket"
	TransportPoll   = "poll"
)

// Config represents the complete channel.yaml configuration.
type Config struct {
	// Server configures `channel serve`.
	Server ServerConfig `yaml:"server"`

	// Client configures `channel connect`.
	Client ClientConfig `yaml:"client"`

	// Log configures the slog handler of both commands.
	Log LogConfig `yaml:"log"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// ServerConfig contains the server settings. Zero values fall back to the
// server package defaults.
type ServerConfig struct {
	Address     string `yaml:"address,omitempty"`
	SocketPath  string `yaml:"socketPath,omitempty"`
	PollPath    string `yaml:"pollPath,omitempty"`
	MetricsPath string `yaml:"metricsPath,omitempty"`

	// Metrics enables the Prometheus collectors and the metrics route.
	Metrics bool `yaml:"metrics"`

	Heartbeat         Duration `yaml:"heartbeat,omitempty"`
	ConnectionTimeout Duration `yaml:"connectionTimeout,omitempty"`
	LongPollTimeout   Duration `yaml:"longPollTimeout,omitempty"`
	SweepInterval     Duration `yaml:"sweepInterval,omitempty"`
	IdleMargin        Duration `yaml:"idleMargin,omitempty"`
	InitTimeout       Duration `yaml:"initTimeout,omitempty"`
	WriteTimeout      Duration `yaml:"writeTimeout,omitempty"`
	ShutdownTimeout   Duration `yaml:"shutdownTimeout,omitempty"`

	MaxQueueLength int `yaml:"maxQueueLength,omitempty"`
	MaxMessageSize int `yaml:"maxMessageSize,omitempty"`

	// AllowedOrigins lists extra Origin hosts accepted for socket upgrades.
	// "*" accepts any origin. Same-origin requests are always accepted.
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`

	// TrustedProxies lists proxy IPs or CIDRs whose forwarding headers are
	// trusted.
	TrustedProxies []string `yaml:"trustedProxies,omitempty"`

	// Codec is "string" or "json".
	Codec string `yaml:"codec,omitempty"`
}

// ClientConfig contains the client settings.
type ClientConfig struct {
	// URL is the base URL of the server, e.g. "http://localhost:8080".
	URL string `yaml:"url,omitempty"`

	// Transport is "auto", "socket" or "poll".
	Transport string `yaml:"transport,omitempty"`

	// TryInParallel probes both transports at once in auto mode.
	TryInParallel bool `yaml:"tryInParallel,omitempty"`

	MaxReconnectionAttempts int      `yaml:"maxReconnectionAttempts"`
	ReconnectionDelay       Duration `yaml:"reconnectionDelay,omitempty"`
	ConnectTimeout          Duration `yaml:"connectTimeout,omitempty"`
	RequestTimeout          Duration `yaml:"requestTimeout,omitempty"`

	// Codec is "string" or "json".
	Codec string `yaml:"codec,omitempty"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level,omitempty"`

	// Format is "text" or "json".
	Format string `yaml:"format,omitempty"`
}

// Duration is a time.Duration written as a Go duration string ("20s").
type Duration time.Duration

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler. Plain integers are read as
// milliseconds, matching the handshake fields of the wire protocol.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Tag == "!!int" {
		var ms int64
		if err := node.Decode(&ms); err != nil {
			return err
		}
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", node.Line, node.Value)
	}
	*d = Duration(parsed)
	return nil
}

// New creates a new Config with default values.
func New() *Config {
	sd := server.DefaultConfig()
	cd := client.DefaultOptions()
	return &Config{
		Server: ServerConfig{
			Address:           sd.Address,
			SocketPath:        sd.SocketPath,
			PollPath:          sd.PollPath,
			MetricsPath:       sd.MetricsPath,
			Metrics:           true,
			Heartbeat:         Duration(sd.HeartbeatInterval),
			ConnectionTimeout: Duration(sd.ConnectionTimeout),
			LongPollTimeout:   Duration(sd.LongPollTimeout),
			SweepInterval:     Duration(sd.SweepInterval),
			IdleMargin:        Duration(sd.IdleMargin),
			InitTimeout:       Duration(sd.InitTimeout),
			WriteTimeout:      Duration(sd.WriteTimeout),
			ShutdownTimeout:   Duration(sd.ShutdownTimeout),
			MaxQueueLength:    sd.MaxQueueLength,
			MaxMessageSize:    sd.MaxMessageSize,
			Codec:             "string",
		},
		Client: ClientConfig{
			URL:                     DefaultURL,
			Transport:               TransportAuto,
			MaxReconnectionAttempts: cd.MaxReconnectionAttempts,
			ReconnectionDelay:       Duration(cd.ReconnectionDelay),
			ConnectTimeout:          Duration(cd.ConnectTimeout),
			RequestTimeout:          Duration(cd.RequestTimeout),
			Codec:                   "string",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the configuration file at path. An empty path returns the
// defaults. JSON files are accepted since JSON is valid YAML.
func Load(path string) (*Config, error) {
	if path == "" {
		return New(), nil
	}
	return LoadFile(path)
}

// LoadFile reads configuration from the specified file path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.CodeConfigNotFound).
				WithDetail("No config file at " + path).
				WithSuggestion("Run 'channel config init " + path + "' to write one with the defaults")
		}
		return nil, errors.New(errors.CodeConfigParse).Wrap(err)
	}

	cfg, err := Parse(data)
	if err != nil {
		var ce *errors.ChannelError
		if stderrors.As(err, &ce) {
			ce.WithLocationFromError(path, ce.Wrapped)
		}
		return nil, err
	}
	cfg.configPath = path
	return cfg, nil
}

// Parse decodes and validates configuration data. Keys that are not set
// keep their defaults; unknown keys are an error.
func Parse(data []byte) (*Config, error) {
	cfg := New()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, errors.New(errors.CodeConfigParse).
			Wrap(err).
			WithSuggestion("Check that the file is valid YAML and that every key is spelled correctly")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to the file it was loaded from.
func (c *Config) Save() error {
	if c.configPath == "" {
		return errors.Newf(errors.CategoryConfig, "no config path set")
	}
	return c.SaveTo(c.configPath)
}

// SaveTo writes the configuration to the specified path.
func (c *Config) SaveTo(path string) error {
	data, err := c.Marshal()
	if err != nil {
		return errors.New(errors.CodeConfigParse).Wrap(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.New(errors.CodeConfigParse).Wrap(err)
	}
	c.configPath = path
	return nil
}

// Marshal returns the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the directory containing the config file.
func (c *Config) Dir() string {
	if c.configPath == "" {
		return ""
	}
	return filepath.Dir(c.configPath)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	invalid := func(detail string) error {
		return errors.New(errors.CodeConfigInvalid).WithDetail(detail)
	}

	s := c.Server
	if s.Heartbeat < 0 || s.ConnectionTimeout < 0 || s.LongPollTimeout < 0 {
		return invalid("server timings must not be negative")
	}
	if s.Heartbeat > 0 && s.ConnectionTimeout > 0 && s.Heartbeat >= s.ConnectionTimeout {
		return invalid("server.heartbeat must be shorter than server.connectionTimeout")
	}
	if s.MaxQueueLength < 0 || s.MaxMessageSize < 0 {
		return invalid("server limits must not be negative")
	}
	for name, p := range map[string]string{
		"socketPath":  s.SocketPath,
		"pollPath":    s.PollPath,
		"metricsPath": s.MetricsPath,
	} {
		if p != "" && !strings.HasPrefix(p, "/") {
			return invalid("server." + name + " must start with /")
		}
	}
	if _, err := codec(s.Codec); err != nil {
		return invalid("server.codec: " + err.Error())
	}

	cl := c.Client
	switch cl.Transport {
	case "", TransportAuto, TransportSocket, TransportPoll:
	default:
		return errors.New(errors.CodeUnknownTransport).
			WithDetail(fmt.Sprintf("client.transport is %q", cl.Transport))
	}
	if cl.MaxReconnectionAttempts < 0 {
		return invalid("client.maxReconnectionAttempts must not be negative")
	}
	if cl.URL != "" {
		if _, err := ParseURL(cl.URL); err != nil {
			return err
		}
	}
	if _, err := codec(cl.Codec); err != nil {
		return invalid("client.codec: " + err.Error())
	}

	if _, err := c.Log.level(); err != nil {
		return invalid("log.level: " + err.Error())
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return invalid(fmt.Sprintf("log.format must be text or json, not %q", c.Log.Format))
	}
	return nil
}

// ServerOptions converts the server section into a server.Config. reg
// receives the metrics when they are enabled.
func (c *Config) ServerOptions(logger *slog.Logger, reg prometheus.Registerer) *server.Config {
	s := c.Server
	cfg := server.DefaultConfig()
	cfg.Logger = logger
	if s.Metrics {
		cfg.Registerer = reg
	}

	setString(&cfg.Address, s.Address)
	setString(&cfg.SocketPath, s.SocketPath)
	setString(&cfg.PollPath, s.PollPath)
	setString(&cfg.MetricsPath, s.MetricsPath)
	setDuration(&cfg.HeartbeatInterval, s.Heartbeat)
	setDuration(&cfg.ConnectionTimeout, s.ConnectionTimeout)
	setDuration(&cfg.LongPollTimeout, s.LongPollTimeout)
	setDuration(&cfg.SweepInterval, s.SweepInterval)
	setDuration(&cfg.IdleMargin, s.IdleMargin)
	setDuration(&cfg.InitTimeout, s.InitTimeout)
	setDuration(&cfg.WriteTimeout, s.WriteTimeout)
	setDuration(&cfg.ShutdownTimeout, s.ShutdownTimeout)
	if s.MaxQueueLength > 0 {
		cfg.MaxQueueLength = s.MaxQueueLength
	}
	if s.MaxMessageSize > 0 {
		cfg.MaxMessageSize = s.MaxMessageSize
	}
	if s.TrustedProxies != nil {
		cfg.TrustedProxies = append([]string(nil), s.TrustedProxies...)
	}
	cfg.CheckOrigin = originCheck(s.AllowedOrigins)
	if cd, err := codec(s.Codec); err == nil {
		cfg.Codec = cd
	}
	return cfg
}

// ClientOptions converts the client section into client.Options.
func (c *Config) ClientOptions(logger *slog.Logger) *client.Options {
	cl := c.Client
	opts := client.DefaultOptions().
		WithMaxReconnectionAttempts(cl.MaxReconnectionAttempts).
		WithLogger(logger)
	if cl.ReconnectionDelay > 0 {
		opts = opts.WithReconnectionDelay(time.Duration(cl.ReconnectionDelay))
	}
	setDuration(&opts.ConnectTimeout, cl.ConnectTimeout)
	setDuration(&opts.RequestTimeout, cl.RequestTimeout)
	if cd, err := codec(cl.Codec); err == nil {
		opts = opts.WithCodec(cd)
	}
	return opts
}

// Logger builds the slog logger described by the log section.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, err := c.Log.level()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func (l LogConfig) level() (slog.Level, error) {
	var level slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	err := level.UnmarshalText([]byte(l.Level))
	return level, err
}

// ParseURL checks a server base URL. ws and wss URLs are accepted and
// normalized to http and https.
func ParseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, errors.New(errors.CodeInvalidURL).
			WithDetail(fmt.Sprintf("%q is not an absolute URL", raw))
	}
	switch u.Scheme {
	case "http", "https":
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return nil, errors.New(errors.CodeInvalidURL).
			WithDetail(fmt.Sprintf("unsupported scheme %q", u.Scheme))
	}
	return u, nil
}

// codec returns the message codec with the given name.
func codec(name string) (protocol.Codec, error) {
	switch name {
	case "", "string":
		return protocol.StringCodec{}, nil
	case "json":
		return protocol.JSONCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// originCheck accepts same-origin upgrades plus the listed origin hosts.
func originCheck(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return server.SameOriginCheck
	}
	if slices.Contains(allowed, "*") {
		return server.AllowAnyOrigin
	}
	return func(r *http.Request) bool {
		if server.SameOriginCheck(r) {
			return true
		}
		u, err := url.Parse(r.Header.Get("Origin"))
		if err != nil {
			return false
		}
		return slices.Contains(allowed, u.Host)
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, d Duration) {
	if d > 0 {
		*dst = time.Duration(d)
	}
}
