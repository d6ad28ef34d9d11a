package main

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/vango-dev/channel/internal/errors"
	"github.com/vango-dev/channel/pkg/middleware"
	"github.com/vango-dev/channel/pkg/server"
)

func serveCmd() *cobra.Command {
	var (
		addr    string
		handler string
		metrics bool
		tracing bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a channel server",
		Long: `Run a channel server that accepts WebSocket and long-poll clients.

The echo handler sends every message back to its sender. The broadcast
handler sends every message to all open connections.

Examples:
  channel serve
  channel serve --addr=:9000 --handler=broadcast
  channel serve --config=channel.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Address = addr
			}
			if cmd.Flags().Changed("metrics") {
				cfg.Server.Metrics = metrics
			}

			h, err := handlerByName(handler)
			if err != nil {
				return err
			}

			logger := cfg.Logger(os.Stderr)

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			srv := server.New(cfg.ServerOptions(logger, reg), h)
			srv.Use(middleware.Logger(logger))
			if cfg.Server.Metrics {
				srv.Use(middleware.Prometheus(middleware.WithRegistry(reg)))
			}
			if tracing {
				srv.Use(middleware.OpenTelemetry())
			}

			sc := srv.Config()
			printBanner()
			success("Listening on %s", sc.Address)
			info("WebSocket:  %s", sc.SocketPath)
			info("Long-poll:  %s", sc.PollPath)
			if cfg.Server.Metrics {
				info("Metrics:    %s", sc.MetricsPath)
			} else {
				warn("Metrics disabled")
			}
			fmt.Fprintln(os.Stderr)

			if err := srv.Run(); err != nil {
				return errors.New(errors.CodeListen).
					Wrap(err).
					WithSuggestion("Pick another address with --addr")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (default from config, \":8080\")")
	cmd.Flags().StringVar(&handler, "handler", "echo", "Message handler: echo or broadcast")
	cmd.Flags().BoolVar(&metrics, "metrics", true, "Expose Prometheus metrics")
	cmd.Flags().BoolVar(&tracing, "tracing", false, "Wrap channel requests in OpenTelemetry spans")

	return cmd
}

// handlerByName returns one of the built-in server handlers.
func handlerByName(name string) (server.Handler, error) {
	switch name {
	case "echo":
		return server.Echo(), nil
	case "broadcast":
		return server.Broadcast(), nil
	default:
		return nil, errors.New(errors.CodeInvalidArgument).
			WithDetail(fmt.Sprintf("unknown handler %q", name)).
			WithSuggestion("Use --handler=echo or --handler=broadcast")
	}
}
