package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Upgrader accepts browser WebSocket connections. Origin checking is left to
// the HTTP layer in front of the relay.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// ServerConn wraps an accepted WebSocket connection in the Transport
// interface, with the same write serialization discipline as Conn.
type ServerConn struct {
	cfg ConnConfig

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	closed  bool
	closeCh chan struct{}
}

// Accept upgrades an HTTP request to a WebSocket and wraps it.
func Accept(w http.ResponseWriter, r *http.Request) (*ServerConn, error) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: upgrade: %w", err)
	}
	return NewServerConn(conn), nil
}

// NewServerConn wraps an already-accepted WebSocket connection.
func NewServerConn(conn *websocket.Conn) *ServerConn {
	cfg := ConnConfig{}
	cfg.defaults()
	conn.SetReadLimit(cfg.MaxMessageSize)
	return &ServerConn{
		cfg:     cfg,
		conn:    conn,
		closeCh: make(chan struct{}),
	}
}

// Send writes one text message.
func (s *ServerConn) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	conn := s.conn
	s.mu.Unlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait)); err != nil {
		return fmt.Errorf("transport: set write deadline: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

// Receive reads the next message, blocking until one arrives or the context
// is canceled.
func (s *ServerConn) Receive(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	conn := s.conn
	s.mu.Unlock()

	return receive(ctx, conn, s.closeCh)
}

// Close gracefully closes the connection.
func (s *ServerConn) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.closeCh)

	s.writeMu.Lock()
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.CloseGracePeriod))
	_ = s.conn.WriteMessage(websocket.CloseMessage, closeMsg)
	s.writeMu.Unlock()

	return s.conn.Close()
}
