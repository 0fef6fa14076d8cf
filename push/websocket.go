package push

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocket connects to the /ws endpoint; each text message is one event.
type WebSocket struct {
	URL    string
	Dialer *websocket.Dialer
}

func NewWebSocket(rawURL string) *WebSocket {
	return &WebSocket{URL: rawURL, Dialer: websocket.DefaultDialer}
}

func (t *WebSocket) Connect(ctx context.Context, token string) (Stream, error) {
	u, err := url.Parse(t.URL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket url: %w", err)
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}

	conn, resp, err := t.Dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %s)", t.URL, err, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", t.URL, err)
	}
	return &wsStream{conn: conn}, nil
}

type wsStream struct {
	conn *websocket.Conn
	once sync.Once
}

func (s *wsStream) Recv() ([]byte, error) {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType == websocket.TextMessage {
			return data, nil
		}
	}
}

func (s *wsStream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.conn.Close()
	})
	return err
}
