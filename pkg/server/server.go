package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the HTTP server that exposes a Registry over WebSocket and
// long-polling.
type Server struct {
	registry *Registry

	config *Config

	middleware []Middleware

	mu         sync.Mutex
	httpServer *http.Server

	logger *slog.Logger
}

// Middleware is a function that wraps an HTTP handler.
type Middleware func(http.Handler) http.Handler

// New creates a Server and its Registry. A nil config uses DefaultConfig.
func New(config *Config, h Handler) *Server {
	config = config.withDefaults()
	return &Server{
		registry: NewRegistry(config, h, config.Logger),
		config:   config,
		logger:   config.Logger.With("component", "server"),
	}
}

// Use adds middleware to the channel routes. It must be called before
// Handler, Run or Serve.
func (s *Server) Use(mw ...Middleware) {
	s.middleware = append(s.middleware, mw...)
}

// Registry returns the connection registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Config returns the effective configuration.
func (s *Server) Config() *Config {
	return s.config
}

// Logger returns the server logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}

// Handler returns a chi router with the socket, poll, health and metrics
// routes mounted. It can be mounted into an application router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Group(func(r chi.Router) {
		for _, mw := range s.middleware {
			r.Use(mw)
		}
		r.Handle(s.config.SocketPath, s.registry.SocketHandler())
		r.Handle(s.config.PollPath, s.registry.PollHandler())
	})

	r.Get("/healthz", s.health)

	if g, ok := s.config.Registerer.(prometheus.Gatherer); ok {
		r.Handle(s.config.MetricsPath, promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	stats := s.registry.Stats()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"connections": stats.Active,
		"created":     stats.TotalCreated,
		"closed":      stats.TotalClosed,
		"peak":        stats.Peak,
	})
}

// Serve accepts connections on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	hs := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	s.mu.Lock()
	s.httpServer = hs
	s.mu.Unlock()

	s.logger.Info("server starting", "address", l.Addr().String())
	err := hs.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Run listens on Config.Address and blocks until an interrupt or
// termination signal, then shuts down gracefully.
func (s *Server) Run() error {
	l, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Serve(l)
	}()

	select {
	case err := <-errCh:
		return err

	case <-shutdown:
		s.logger.Info("shutting down...")
		return s.Shutdown(context.Background())
	}
}

// Shutdown closes every connection and then stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.registry.Shutdown(ctx); err != nil {
		s.logger.Error("registry shutdown error", "error", err)
	}

	s.mu.Lock()
	hs := s.httpServer
	s.mu.Unlock()

	if hs != nil {
		if err := hs.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.logger.Info("server shutdown complete")
	return nil
}
