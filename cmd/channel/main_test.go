package main

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vango-dev/channel/internal/config"
	"github.com/vango-dev/channel/internal/errors"
	"github.com/vango-dev/channel/pkg/client"
	"github.com/vango-dev/channel/pkg/server"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	var ce *errors.ChannelError
	require.True(t, stderrors.As(err, &ce), "not a ChannelError: %v", err)
	require.Equal(t, code, ce.Code)
}

func TestVersionShort(t *testing.T) {
	out, err := execute(t, "version", "--short")
	require.NoError(t, err)
	require.Equal(t, version+"\n", out)
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channel.yaml")

	_, err := execute(t, "config", "init", path)
	require.NoError(t, err)

	_, err = execute(t, "config", "init", path)
	requireCode(t, err, errors.CodeInvalidArgument)

	out, err := execute(t, "--config", path, "config", "show")
	require.NoError(t, err)
	require.Contains(t, out, "socketPath: /channel/ws")
	require.Contains(t, out, "url: "+config.DefaultURL)
}

func TestConfigShowMissingFile(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "config", "show")
	requireCode(t, err, errors.CodeConfigNotFound)
}

func TestHandlerByName(t *testing.T) {
	h, err := handlerByName("echo")
	require.NoError(t, err)
	require.NotNil(t, h)

	h, err = handlerByName("broadcast")
	require.NoError(t, err)
	require.NotNil(t, h)

	_, err = handlerByName("fanout")
	requireCode(t, err, errors.CodeInvalidArgument)
}

func TestEndpoints(t *testing.T) {
	cfg := config.New()
	socket, poll, err := endpoints(cfg)
	require.NoError(t, err)
	require.Equal(t, "ws://localhost:8080/channel/ws", socket)
	require.Equal(t, "http://localhost:8080/channel/poll", poll)

	cfg.Client.URL = "wss://example.com/base"
	cfg.Server.SocketPath = "/ws"
	socket, poll, err = endpoints(cfg)
	require.NoError(t, err)
	require.Equal(t, "wss://example.com/base/ws", socket)
	require.Equal(t, "https://example.com/base/channel/poll", poll)

	cfg.Client.URL = "ftp://example.com"
	_, _, err = endpoints(cfg)
	requireCode(t, err, errors.CodeInvalidURL)
}

func TestNewConnector(t *testing.T) {
	cfg := config.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	conn, err := newConnector(cfg, logger)
	require.NoError(t, err)
	require.IsType(t, &client.Fallback{}, conn)

	cfg.Client.Transport = config.TransportPoll
	conn, err = newConnector(cfg, logger)
	require.NoError(t, err)
	require.IsType(t, &client.Conn{}, conn)

	cfg.Client.Transport = "carrier-pigeon"
	_, err = newConnector(cfg, logger)
	requireCode(t, err, errors.CodeUnknownTransport)
}

func TestDecodeLine(t *testing.T) {
	require.Equal(t, "hello", decodeLine("hello"))
	require.Equal(t, float64(3), decodeLine("3"))
	require.Equal(t, map[string]any{"a": true}, decodeLine(`{"a":true}`))
}

func TestPrintMessage(t *testing.T) {
	var buf bytes.Buffer
	printMessage(&buf, "plain")
	printMessage(&buf, map[string]any{"n": 1})
	require.Equal(t, "plain\n{\"n\":1}\n", buf.String())
}

func TestSessionEcho(t *testing.T) {
	for _, transport := range []string{config.TransportSocket, config.TransportPoll} {
		t.Run(transport, func(t *testing.T) {
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			sc := server.DefaultConfig()
			sc.Logger = logger
			srv := server.New(sc, server.Echo())
			ts := httptest.NewServer(srv.Handler())
			defer ts.Close()
			defer srv.Registry().Shutdown(context.Background())

			cfg := config.New()
			cfg.Client.URL = ts.URL
			cfg.Client.Transport = transport
			conn, err := newConnector(cfg, logger)
			require.NoError(t, err)

			var out bytes.Buffer
			s := &session{conn: conn, out: &out, linger: 2 * time.Second}
			require.NoError(t, s.run(context.Background(), strings.NewReader("hello\nworld\n")))
			require.Equal(t, "hello\nworld\n", out.String())
		})
	}
}

func TestSessionCancelled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sc := server.DefaultConfig()
	sc.Logger = logger
	srv := server.New(sc, server.Echo())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	defer srv.Registry().Shutdown(context.Background())

	cfg := config.New()
	cfg.Client.URL = ts.URL
	cfg.Client.Transport = config.TransportSocket
	conn, err := newConnector(cfg, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	conn.OnStateChange(func(_, new client.State) {
		if new == client.StateReady {
			cancel()
		}
	})

	in, w := io.Pipe()
	defer w.Close()
	s := &session{conn: conn, out: io.Discard, linger: time.Second}
	require.NoError(t, s.run(ctx, in))
}
