package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vango-dev/channel/internal/config"
	"github.com/vango-dev/channel/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ┌─┐┬ ┬┌─┐┌┐┌┌┐┌┌─┐┬
  │  ├─┤├─┤│││││││├┤ │
  └─┘┴ ┴┴ ┴┘└┘┘└┘└─┘┴─┘
`

// configPath is the value of the persistent --config flag.
var configPath string

func main() {
	if err := rootCmd().Execute(); err != nil {
		errors.PrintError(err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channel",
		Short: "Reliable ordered message channels over WebSocket and long-polling",
		Long: `channel runs and talks to message channel servers.

A channel is a bidirectional, ordered stream of messages that survives
network drops. Clients connect over a WebSocket and fall back to HTTP
long-polling when sockets are unavailable.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a channel.yaml file")

	cmd.AddCommand(
		serveCmd(),
		connectCmd(),
		configCmd(),
		versionCmd(),
	)
	return cmd
}

// loadConfig reads the file named by --config, or returns the defaults.
func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// printBanner prints the ASCII art banner.
func printBanner() {
	fmt.Print(banner)
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "\033[33m⚠\033[0m %s\n", fmt.Sprintf(format, args...))
}
