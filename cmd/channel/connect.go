package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-dev/channel/internal/config"
	"github.com/vango-dev/channel/internal/errors"
	"github.com/vango-dev/channel/pkg/client"
)

func connectCmd() *cobra.Command {
	var (
		rawURL    string
		transport string
		parallel  bool
		linger    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Open a channel and exchange lines with the server",
		Long: `Open a channel to a server, post every line read from stdin as a
message and print every received message on stdout.

When stdin ends the channel stays open for --linger and is then closed.

Examples:
  channel connect
  echo hello | channel connect --url=http://localhost:9000
  channel connect --transport=poll`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("url") {
				cfg.Client.URL = rawURL
			}
			if cmd.Flags().Changed("transport") {
				cfg.Client.Transport = transport
			}
			if cmd.Flags().Changed("parallel") {
				cfg.Client.TryInParallel = parallel
			}

			logger := cfg.Logger(os.Stderr)
			conn, err := newConnector(cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			s := &session{
				conn:      conn,
				out:       cmd.OutOrStdout(),
				linger:    linger,
				jsonLines: cfg.Client.Codec == "json",
			}
			return s.run(ctx, cmd.InOrStdin())
		},
	}

	cmd.Flags().StringVarP(&rawURL, "url", "u", "", "Server base URL (default from config, "+config.DefaultURL+")")
	cmd.Flags().StringVarP(&transport, "transport", "t", "", "Transport: auto, socket or poll")
	cmd.Flags().BoolVar(&parallel, "parallel", false, "Probe both transports at once in auto mode")
	cmd.Flags().DurationVar(&linger, "linger", time.Second, "How long to keep receiving after stdin ends")

	return cmd
}

// endpoints returns the socket and poll URLs of the server at base.
func endpoints(cfg *config.Config) (socket, poll string, err error) {
	base, err := config.ParseURL(cfg.Client.URL)
	if err != nil {
		return "", "", err
	}
	sc := cfg.ServerOptions(nil, nil)

	ws := base.JoinPath(sc.SocketPath)
	if ws.Scheme == "https" {
		ws.Scheme = "wss"
	} else {
		ws.Scheme = "ws"
	}
	return ws.String(), base.JoinPath(sc.PollPath).String(), nil
}

// newConnector builds the client side selected by the client section.
func newConnector(cfg *config.Config, logger *slog.Logger) (client.Connector, error) {
	socketURL, pollURL, err := endpoints(cfg)
	if err != nil {
		return nil, err
	}
	opts := cfg.ClientOptions(logger)

	socket := func() *client.Conn {
		return client.NewSocketConn(&client.WebSocketDialer{URL: socketURL}, opts.Clone())
	}
	poll := func() *client.Conn {
		return client.NewPollConn(&client.HTTPRequester{URL: pollURL}, opts.Clone())
	}

	switch cfg.Client.Transport {
	case config.TransportSocket:
		return socket(), nil
	case config.TransportPoll:
		return poll(), nil
	case config.TransportAuto, "":
		return client.NewFallback(socket(), poll(), &client.FallbackOptions{
			TryInParallel: cfg.Client.TryInParallel,
			Logger:        logger,
		}), nil
	default:
		return nil, errors.New(errors.CodeUnknownTransport).
			WithDetail(fmt.Sprintf("unknown transport %q", cfg.Client.Transport))
	}
}

// session pipes lines between a reader, a connection and a writer.
type session struct {
	conn   client.Connector
	out    io.Writer
	linger time.Duration

	// jsonLines posts lines that hold a JSON value as the decoded value.
	jsonLines bool

	mu    sync.Mutex
	ready bool
}

// run posts the lines of in and writes received messages to out until in
// ends or ctx is cancelled, then closes the connection.
func (s *session) run(ctx context.Context, in io.Reader) error {
	conn := s.conn
	var (
		closed  = make(chan struct{})
		onClose sync.Once
	)
	conn.OnStateChange(func(_, new client.State) {
		switch new {
		case client.StateReady:
			s.mu.Lock()
			s.ready = true
			s.mu.Unlock()
		case client.StateClosed:
			onClose.Do(func() { close(closed) })
		}
	})
	conn.OnMessage(func(msg any) {
		s.mu.Lock()
		defer s.mu.Unlock()
		printMessage(s.out, msg)
	})

	if err := conn.Connect(); err != nil {
		return errors.FromError(err, errors.CodeConnectFailed)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-closed:
				return
			}
		}
	}()

	var (
		closing bool
		done    = ctx.Done()
		timer   <-chan time.Time
	)
	shut := func() {
		if !closing {
			closing = true
			conn.Close()
		}
	}

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				lines = nil
				timer = time.After(s.linger)
				continue
			}
			var msg any = line
			if s.jsonLines {
				msg = decodeLine(line)
			}
			if err := conn.Post(msg); err != nil {
				shut()
				return errors.New(errors.CodeMessageRejected).Wrap(err)
			}

		case <-timer:
			timer = nil
			shut()

		case <-done:
			done = nil
			shut()

		case <-closed:
			if closing {
				return nil
			}
			s.mu.Lock()
			wasReady := s.ready
			s.mu.Unlock()
			if !wasReady {
				return errors.New(errors.CodeConnectFailed).
					WithSuggestion("Check the URL or force a transport with --transport")
			}
			return errors.New(errors.CodeConnectionClosed)
		}
	}
}

// decodeLine returns the JSON value held by line, or line itself.
func decodeLine(line string) any {
	var v any
	if err := json.Unmarshal([]byte(line), &v); err != nil {
		return line
	}
	return v
}

func printMessage(out io.Writer, msg any) {
	if s, ok := msg.(string); ok {
		fmt.Fprintln(out, s)
		return
	}
	b, err := json.Marshal(msg)
	if err != nil {
		fmt.Fprintln(out, msg)
		return
	}
	fmt.Fprintln(out, string(b))
}
