package client

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketDialer dials sockets with gorilla/websocket.
type WebSocketDialer struct {
	// URL is the ws:// or wss:// endpoint.
	URL string

	// Header is sent with the upgrade request.
	Header http.Header

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// WriteTimeout bounds one frame write.
	// Default: 10 seconds.
	WriteTimeout time.Duration
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(h SocketHandler) Socket {
	ctx, cancel := context.WithCancel(context.Background())
	s := &wsSocket{
		handler:      h,
		cancel:       cancel,
		writeTimeout: d.WriteTimeout,
	}
	if s.writeTimeout <= 0 {
		s.writeTimeout = 10 * time.Second
	}
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	go s.run(ctx, dialer, d.URL, d.Header)
	return s
}

type wsSocket struct {
	handler      SocketHandler
	cancel       context.CancelFunc
	writeTimeout time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	writeMu sync.Mutex
	once    sync.Once
}

func (s *wsSocket) run(ctx context.Context, dialer *websocket.Dialer, url string, header http.Header) {
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		s.finish(err)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		s.finish(nil)
		return
	}
	s.conn = conn
	s.mu.Unlock()

	s.handler.OnOpen(s)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.finish(err)
			return
		}
		s.handler.OnMessage(s, string(data))
	}
}

func (s *wsSocket) finish(err error) {
	s.cancel()
	s.once.Do(func() {
		s.handler.OnClose(s, err)
	})
}

// Send implements Socket.
func (s *wsSocket) Send(text string) {
	s.mu.Lock()
	conn := s.conn
	closed := s.closed
	s.mu.Unlock()
	if conn == nil || closed {
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		// The read loop observes the broken connection and reports it.
		conn.Close()
	}
}

// Close implements Socket.
func (s *wsSocket) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	s.cancel()
	if conn == nil {
		return
	}

	s.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	conn.Close()
}
