package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// frameOverhead is the read limit allowance for the header lines of a frame.
const frameOverhead = 1024

// SocketHandler returns the WebSocket endpoint. Every text frame read from
// an upgraded socket is passed to Service.
func (r *Registry) SocketHandler() http.Handler {
	upgrader := &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     r.cfg.CheckOrigin,
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.serveSocket(upgrader, w, req)
	})
}

func (r *Registry) serveSocket(upgrader *websocket.Upgrader, w http.ResponseWriter, req *http.Request) {
	remote := r.clientIP(req)

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "remote", remote, "error", err)
		return
	}

	s := newSocketTransport(conn, r.cfg, r.logger.With("remote", remote))
	go s.writeLoop()
	defer s.Close()
	defer func() { r.release(s, s.token) }()

	conn.SetReadLimit(int64(r.cfg.MaxMessageSize) + frameOverhead)
	conn.SetReadDeadline(time.Now().Add(r.cfg.InitTimeout))
	idle := r.cfg.HeartbeatInterval + r.cfg.IdleMargin

	first := true
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			switch {
			case first && isTimeout(err):
				s.logger.Debug("socket closed", "error", ErrInitTimeout)
			case websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure):
				s.logger.Debug("read error", "error", err)
			}
			return
		}
		first = false
		conn.SetReadDeadline(time.Now().Add(idle))

		r.Service(s, string(msg))
	}
}

func isTimeout(err error) bool {
	t, ok := err.(interface{ Timeout() bool })
	return ok && t.Timeout()
}

// socketTransport adapts a gorilla connection to Transport. Frames are
// written by one goroutine in the order they were sent; Close flushes the
// frames sent before it.
type socketTransport struct {
	conn         *websocket.Conn
	send         chan string
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
	logger       *slog.Logger

	// token of the connection served, written by the read loop only.
	token string
}

func (s *socketTransport) bind(token string) { s.token = token }

func newSocketTransport(conn *websocket.Conn, cfg *Config, logger *slog.Logger) *socketTransport {
	return &socketTransport{
		conn:         conn,
		send:         make(chan string, cfg.SendBuffer),
		done:         make(chan struct{}),
		writeTimeout: cfg.WriteTimeout,
		logger:       logger,
	}
}

// Send queues text for writing. A socket whose buffer is full is closed.
func (s *socketTransport) Send(text string) {
	select {
	case <-s.done:
		return
	default:
	}

	select {
	case s.send <- text:
	default:
		s.logger.Warn("send buffer full, closing socket")
		s.Close()
	}
}

// Close stops the writer after it flushed the queued frames.
func (s *socketTransport) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *socketTransport) writeLoop() {
	defer s.conn.Close()

	for {
		select {
		case text := <-s.send:
			if err := s.write(text); err != nil {
				s.logger.Debug("write error", "error", err)
				s.Close()
				return
			}

		case <-s.done:
			for {
				select {
				case text := <-s.send:
					if err := s.write(text); err != nil {
						return
					}
				default:
					s.conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
						time.Now().Add(time.Second))
					return
				}
			}
		}
	}
}

func (s *socketTransport) write(text string) error {
	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, []byte(text))
}
