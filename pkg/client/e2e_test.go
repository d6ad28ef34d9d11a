package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"

	"github.com/vango-dev/channel/pkg/server"
)

type liveServer struct {
	srv *server.Server
	ts  *httptest.Server
}

func startServer(t *testing.T, cfg *server.Config, h server.Handler) *liveServer {
	t.Helper()
	if cfg == nil {
		cfg = server.DefaultConfig()
	}
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := server.New(cfg, h)
	ts := httptest.NewServer(srv.Handler())
	return &liveServer{srv: srv, ts: ts}
}

func (s *liveServer) stop() {
	s.srv.Registry().Shutdown(context.Background())
	s.ts.Close()
}

func (s *liveServer) socketURL() string {
	return "ws" + strings.TrimPrefix(s.ts.URL, "http") + s.srv.Config().SocketPath
}

func (s *liveServer) pollURL() string {
	return s.ts.URL + s.srv.Config().PollPath
}

// watch reports messages and the first time each state is reached.
type watch struct {
	msgs   chan any
	states map[State]chan struct{}
}

func newWatch(c Connector) *watch {
	w := &watch{
		msgs:   make(chan any, 64),
		states: make(map[State]chan struct{}),
	}
	for _, s := range []State{StateReady, StateClosing, StateClosed} {
		w.states[s] = make(chan struct{})
	}
	var once sync.Map
	c.OnStateChange(func(_, new State) {
		if ch, ok := w.states[new]; ok {
			if _, loaded := once.LoadOrStore(new, true); !loaded {
				close(ch)
			}
		}
	})
	c.OnMessage(func(msg any) { w.msgs <- msg })
	return w
}

func (w *watch) waitState(t *testing.T, s State) {
	t.Helper()
	select {
	case <-w.states[s]:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for state %s", s)
	}
}

func (w *watch) next(t *testing.T) any {
	t.Helper()
	select {
	case m := <-w.msgs:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a message")
		return nil
	}
}

func quietOptions() *Options {
	return DefaultOptions().WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSocketEcho(t *testing.T) {
	defer leaktest.Check(t)()

	s := startServer(t, nil, server.Echo())
	defer s.stop()

	c := NewSocketConn(&WebSocketDialer{URL: s.socketURL()}, quietOptions())
	w := newWatch(c)

	require.NoError(t, c.Connect())
	require.NoError(t, c.Post("hello"))
	require.NoError(t, c.Post("world"))

	w.waitState(t, StateReady)
	require.Equal(t, "hello", w.next(t))
	require.Equal(t, "world", w.next(t))

	require.NoError(t, c.Close())
	w.waitState(t, StateClosed)
	require.Eventually(t, func() bool { return s.srv.Registry().Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSocketPostThenClose(t *testing.T) {
	defer leaktest.Check(t)()

	var mu sync.Mutex
	var got []any
	s := startServer(t, nil, server.HandlerFuncs{
		Message: func(_ *server.Registry, _ string, msg any) {
			mu.Lock()
			got = append(got, msg)
			mu.Unlock()
		},
	})
	defer s.stop()

	c := NewSocketConn(&WebSocketDialer{URL: s.socketURL()}, quietOptions())
	w := newWatch(c)

	require.NoError(t, c.Connect())
	w.waitState(t, StateReady)

	require.NoError(t, c.Post("bye"))
	require.NoError(t, c.Close())
	w.waitState(t, StateClosed)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []any{"bye"}, got)
}

func TestSocketQueueOverflowClosesClient(t *testing.T) {
	defer leaktest.Check(t)()

	cfg := server.DefaultConfig().WithMaxQueueLength(3)
	s := startServer(t, cfg, server.HandlerFuncs{
		Connected: func(r *server.Registry, token string) {
			for i := 0; i < 4; i++ {
				r.Post(token, i)
			}
		},
	})
	defer s.stop()

	c := NewSocketConn(&WebSocketDialer{URL: s.socketURL()}, quietOptions())
	w := newWatch(c)

	require.NoError(t, c.Connect())
	w.waitState(t, StateClosed)

	require.Equal(t, "0", w.next(t))
	require.Equal(t, "1", w.next(t))
	require.Equal(t, "2", w.next(t))
	require.Zero(t, s.srv.Registry().Count())
}

func TestPollEcho(t *testing.T) {
	defer leaktest.Check(t)()

	s := startServer(t, nil, server.Echo())
	defer s.stop()

	c := NewPollConn(&HTTPRequester{URL: s.pollURL(), Client: s.ts.Client()}, quietOptions())
	w := newWatch(c)

	require.NoError(t, c.Connect())
	w.waitState(t, StateReady)

	require.NoError(t, c.Post("ping"))
	require.Equal(t, "ping", w.next(t))

	require.NoError(t, c.Close())
	w.waitState(t, StateClosed)
	require.Zero(t, s.srv.Registry().Count())
}

func TestFallbackToPollWhenSocketUnreachable(t *testing.T) {
	defer leaktest.Check(t)()

	s := startServer(t, nil, server.Echo())
	defer s.stop()

	socket := NewSocketConn(&WebSocketDialer{URL: "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/missing"}, quietOptions())
	poll := NewPollConn(&HTTPRequester{URL: s.pollURL(), Client: s.ts.Client()}, quietOptions())
	f := NewFallback(socket, poll, &FallbackOptions{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	w := newWatch(f)

	require.NoError(t, f.Connect())
	require.NoError(t, f.Post("early"))

	w.waitState(t, StateReady)
	require.Same(t, poll, f.Transport())
	require.Equal(t, "early", w.next(t))

	require.NoError(t, f.Close())
	w.waitState(t, StateClosed)
}

// sessionLog records server side events in arrival order.
type sessionLog struct {
	mu     sync.Mutex
	events []string
}

func (l *sessionLog) add(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *sessionLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *sessionLog) handler(reply bool) server.Handler {
	return server.HandlerFuncs{
		Connected: func(_ *server.Registry, _ string) { l.add("connected") },
		Message: func(r *server.Registry, token string, msg any) {
			l.add(fmt.Sprint(msg))
			if reply {
				r.Post(token, "OK "+fmt.Sprint(msg))
			}
		},
		Disconnected: func(_ *server.Registry, _ string) { l.add("disconnected") },
	}
}

func dialTransports(s *liveServer) map[string]func() *Conn {
	return map[string]func() *Conn{
		"socket": func() *Conn {
			return NewSocketConn(&WebSocketDialer{URL: s.socketURL()}, quietOptions())
		},
		"poll": func() *Conn {
			return NewPollConn(&HTTPRequester{URL: s.pollURL(), Client: s.ts.Client()}, quietOptions())
		},
	}
}

func expectedSession(n int) []string {
	events := []string{"connected"}
	for i := 0; i < n; i++ {
		events = append(events, fmt.Sprint(i))
	}
	return append(events, "disconnected")
}

func TestRepliesArriveInOrder(t *testing.T) {
	for _, name := range []string{"socket", "poll"} {
		t.Run(name, func(t *testing.T) {
			defer leaktest.Check(t)()

			log := &sessionLog{}
			s := startServer(t, nil, log.handler(true))
			defer s.stop()

			c := dialTransports(s)[name]()
			rec := &stateRecorder{}
			c.OnStateChange(rec.record)
			w := newWatch(c)

			require.NoError(t, c.Connect())
			w.waitState(t, StateReady)

			for i := 0; i < 10; i++ {
				require.NoError(t, c.Post(fmt.Sprint(i)))
			}
			for i := 0; i < 10; i++ {
				require.Equal(t, "OK "+fmt.Sprint(i), w.next(t))
			}

			require.NoError(t, c.Close())
			w.waitState(t, StateClosed)
			require.Equal(t, []State{StateReady, StateClosing, StateClosed}, rec.states())

			require.Eventually(t, func() bool {
				return len(log.list()) == 12
			}, 5*time.Second, 10*time.Millisecond)
			require.Equal(t, expectedSession(10), log.list())
			require.Zero(t, s.srv.Registry().Count())
		})
	}
}

func TestCloseRightAfterPostsDeliversThem(t *testing.T) {
	for _, name := range []string{"socket", "poll"} {
		t.Run(name, func(t *testing.T) {
			defer leaktest.Check(t)()

			log := &sessionLog{}
			s := startServer(t, nil, log.handler(true))
			defer s.stop()

			c := dialTransports(s)[name]()
			msgs := &messageRecorder{}
			c.OnMessage(msgs.record)
			w := newWatch(c)

			require.NoError(t, c.Connect())
			for i := 0; i < 10; i++ {
				require.NoError(t, c.Post(fmt.Sprint(i)))
			}
			require.NoError(t, c.Close())
			w.waitState(t, StateClosed)

			require.Eventually(t, func() bool {
				events := log.list()
				return len(events) > 0 && events[len(events)-1] == "disconnected"
			}, 5*time.Second, 10*time.Millisecond)
			require.Equal(t, expectedSession(10), log.list())
			require.Empty(t, msgs.received())
		})
	}
}
