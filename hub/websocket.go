package hub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/77mdias/barbershop-hub/event"
)

const (
	pingInterval        = 30 * time.Second
	activityTimeout     = 60 * time.Second
	activityCheck       = 10 * time.Second
	writeWait           = 5 * time.Second
	websocketRetryDelay = 200 * time.Millisecond
	websocketRetries    = 3
)

// WebSocketConn is a push session over a WebSocket connection.
type WebSocketConn struct {
	conn         *websocket.Conn
	lastActivity int64 // UnixNano timestamp
	mu           sync.Mutex
}

func NewWebSocketConn(conn *websocket.Conn) *WebSocketConn {
	return &WebSocketConn{
		conn:         conn,
		lastActivity: time.Now().UnixNano(),
	}
}

func (s *WebSocketConn) Send(ev event.Event) error {
	return s.SafeWriteJSON(ev)
}

func (s *WebSocketConn) SafeWriteJSON(data interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	operation := func() error {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return s.conn.WriteJSON(data)
	}

	return backoff.Retry(operation, backoff.WithMaxRetries(
		backoff.NewConstantBackOff(websocketRetryDelay),
		websocketRetries,
	))
}

func (s *WebSocketConn) UpdateActivity() {
	atomic.StoreInt64(&s.lastActivity, time.Now().UnixNano())
}

func (s *WebSocketConn) LastActivityTime() time.Time {
	return time.Unix(0, atomic.LoadInt64(&s.lastActivity))
}

func (s *WebSocketConn) StartPingSender(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			_ = s.conn.WriteControl(
				websocket.PingMessage,
				nil,
				time.Now().Add(writeWait),
			)
			s.mu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}

func (s *WebSocketConn) StartActivityChecker(ctx context.Context, onTimeout func()) {
	ticker := time.NewTicker(activityCheck)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if time.Since(s.LastActivityTime()) > activityTimeout {
				_ = s.conn.Close()
				onTimeout()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close sends a going-away close frame and closes the connection.
func (s *WebSocketConn) Close(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, reason),
		time.Now().Add(writeWait),
	)

	return s.conn.Close()
}
