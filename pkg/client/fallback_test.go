package client

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

type fallbackFixture struct {
	f      *Fallback
	socket *Conn
	poll   *Conn
	dialer *fakeDialer
	req    *fakeRequester
	sched  *manualScheduler
	states *stateRecorder
	msgs   *messageRecorder
}

func newFallbackFixture(t *testing.T, parallel bool, opts *Options) *fallbackFixture {
	t.Helper()
	sched := newManualScheduler()
	if opts == nil {
		opts = testOptions(sched)
	} else {
		opts = opts.WithScheduler(sched)
	}

	fx := &fallbackFixture{
		dialer: &fakeDialer{},
		req:    &fakeRequester{},
		sched:  sched,
		states: &stateRecorder{},
		msgs:   &messageRecorder{},
	}
	fx.socket = NewSocketConn(fx.dialer, opts)
	fx.poll = NewPollConn(fx.req, opts)
	fx.f = NewFallback(fx.socket, fx.poll, &FallbackOptions{
		TryInParallel: parallel,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	fx.f.OnStateChange(fx.states.record)
	fx.f.OnMessage(fx.msgs.record)
	return fx
}

func TestFallbackPrefersSocket(t *testing.T) {
	fx := newFallbackFixture(t, false, nil)

	require.NoError(t, fx.f.Connect())
	require.Equal(t, StateConnecting, fx.f.State())
	require.Nil(t, fx.f.Transport())
	require.Zero(t, fx.req.count())

	require.NoError(t, fx.f.Post("early"))

	s := fx.dialer.last(t)
	s.handshake("tok")

	require.Equal(t, StateReady, fx.f.State())
	require.Same(t, fx.socket, fx.f.Transport())
	require.Equal(t, "S\ntok\n0\n0\nearly\n", s.lastFrame())
	require.Zero(t, fx.req.count())

	// The winner's own tuning is restored.
	require.Equal(t, 12, fx.socket.Tuning().MaxReconnectionAttempts)

	s.recv("S\n1\n0\nreply\n")
	require.Equal(t, []any{"reply"}, fx.msgs.received())
}

func TestFallbackFallsBackToPoll(t *testing.T) {
	fx := newFallbackFixture(t, false, nil)

	require.NoError(t, fx.f.Connect())
	require.NoError(t, fx.f.Post("early"))

	// The socket endpoint is unreachable.
	fx.dialer.last(t).drop(errors.New("connection refused"))
	require.Equal(t, StateClosed, fx.socket.State())
	require.Equal(t, StateConnecting, fx.f.State())

	get := fx.req.last(t)
	require.Equal(t, http.MethodGet, get.req.Method)
	get.respond(http.StatusOK, "tok\n20000\n120000\n")

	require.Equal(t, StateReady, fx.f.State())
	require.Same(t, fx.poll, fx.f.Transport())

	fx.sched.Flush()
	post := fx.req.last(t)
	require.Equal(t, http.MethodPost, post.req.Method)
	require.Equal(t, "0\n0\nearly\n", post.req.Body)

	post.respond(http.StatusOK, "1\n0\nreply\n")
	require.Equal(t, []any{"reply"}, fx.msgs.received())
	require.Equal(t, 1, fx.dialer.count())
}

func TestFallbackParallelSocketWins(t *testing.T) {
	fx := newFallbackFixture(t, true, nil)

	require.NoError(t, fx.f.Connect())
	require.Equal(t, 1, fx.dialer.count())
	require.Equal(t, 1, fx.req.count())
	get := fx.req.last(t)

	fx.dialer.last(t).handshake("tok")

	require.Same(t, fx.socket, fx.f.Transport())
	require.Equal(t, StateClosed, fx.poll.State())
	require.True(t, get.isAborted())
}

func TestFallbackParallelPollWinsAfterSocketFails(t *testing.T) {
	fx := newFallbackFixture(t, true, nil)
	require.NoError(t, fx.f.Connect())

	// Poll is ready first, but the socket is preferred while it is unknown.
	fx.req.last(t).respond(http.StatusOK, "tok\n20000\n120000\n")
	require.Equal(t, StateConnecting, fx.f.State())

	fx.dialer.last(t).drop(errors.New("connection refused"))
	require.Equal(t, StateReady, fx.f.State())
	require.Same(t, fx.poll, fx.f.Transport())
}

func TestFallbackRetriesThenGivesUp(t *testing.T) {
	opts := testOptions(nil).WithMaxReconnectionAttempts(1)
	fx := newFallbackFixture(t, false, opts)

	require.NoError(t, fx.f.Connect())

	// Round one.
	fx.dialer.last(t).drop(errors.New("refused"))
	fx.req.last(t).fail(errors.New("refused"))

	// The first retry is immediate.
	require.Equal(t, 2, fx.dialer.count())
	require.Equal(t, StateConnecting, fx.f.State())

	fx.dialer.last(t).drop(errors.New("refused"))
	fx.req.last(t).fail(errors.New("refused"))

	require.Equal(t, StateClosed, fx.f.State())
	require.Equal(t, []State{StateConnecting, StateClosed}, fx.states.states())

	err := fx.f.Post("late")
	require.ErrorIs(t, err, ErrNotStarted)
}

func TestFallbackCloseDuringDetection(t *testing.T) {
	fx := newFallbackFixture(t, false, nil)

	require.NoError(t, fx.f.Connect())
	require.NoError(t, fx.f.Close())
	require.Equal(t, StateClosing, fx.f.State())

	s := fx.dialer.last(t)
	s.handshake("tok")
	require.Equal(t, "C\ntok\n", s.lastFrame())

	s.recv("C\nClosed\n")
	require.Equal(t, StateClosed, fx.f.State())
}

func TestFallbackMirrorsWinnerState(t *testing.T) {
	fx := newFallbackFixture(t, false, nil)
	require.NoError(t, fx.f.Connect())
	fx.dialer.last(t).handshake("tok")

	fx.dialer.last(t).drop(errors.New("reset"))
	require.Equal(t, StateConnecting, fx.f.State())

	fx.dialer.last(t).open()
	fx.dialer.last(t).recv("S\n0\n0\n")
	require.Equal(t, StateReady, fx.f.State())

	require.NoError(t, fx.f.Close())
	fx.dialer.last(t).recv("C\nClosed\n")
	require.Equal(t, StateClosed, fx.f.State())
	require.Equal(t, []State{
		StateConnecting, StateReady, StateConnecting, StateReady, StateClosing, StateClosed,
	}, fx.states.states())
}

func TestFallbackStateErrors(t *testing.T) {
	fx := newFallbackFixture(t, false, nil)

	require.ErrorIs(t, fx.f.Close(), ErrNotStarted)
	require.ErrorIs(t, fx.f.Post("x"), ErrInvalidState)

	require.NoError(t, fx.f.Connect())
	require.ErrorIs(t, fx.f.Connect(), ErrAlreadyStarted)
}

func TestFallbackFlushesBufferBeforeReady(t *testing.T) {
	fx := newFallbackFixture(t, false, nil)

	var tuning Tuning
	fx.f.OnStateChange(func(_, new State) {
		if new == StateReady {
			tuning = fx.socket.Tuning()
			require.NoError(t, fx.f.Post("after-ready"))
		}
	})

	require.NoError(t, fx.f.Connect())
	require.NoError(t, fx.f.Post("buffered-1"))
	require.NoError(t, fx.f.Post("buffered-2"))

	s := fx.dialer.last(t)
	s.handshake("tok")

	frames := s.frames()
	require.Len(t, frames, 4)
	require.Equal(t, []string{
		"S\ntok\n0\n0\nbuffered-1\n",
		"S\ntok\n0\n1\nbuffered-2\n",
		"S\ntok\n0\n2\nafter-ready\n",
	}, frames[1:])
	require.Equal(t, 12, tuning.MaxReconnectionAttempts)
}

func TestFallbackCloseWhileFlushing(t *testing.T) {
	fx := newFallbackFixture(t, false, nil)
	fx.f.OnStateChange(func(_, new State) {
		if new == StateReady {
			require.NoError(t, fx.f.Close())
		}
	})

	require.NoError(t, fx.f.Connect())
	require.NoError(t, fx.f.Post("last"))

	s := fx.dialer.last(t)
	s.handshake("tok")
	require.Equal(t, []string{"S\ntok\n0\n0\nlast\n", "C\ntok\n"}, s.frames()[1:])
}
