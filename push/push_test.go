package push

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		_, _ = fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSSE_Frames(t *testing.T) {
	body := ": connected\n\n" +
		"id: 1\nevent: notification\ndata: {\"a\":1}\n\n" +
		"retry: 3000\n\n" +
		"data: line one\r\ndata: line two\r\n\r\n" +
		": ping\n\n"
	srv := sseServer(t, body)

	stream, err := NewSSE(srv.URL, nil).Connect(context.Background(), "tok")
	require.NoError(t, err)
	defer stream.Close()

	data, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))

	data, err = stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", string(data))

	_, err = stream.Recv()
	assert.Error(t, err, "end of stream is a connection error")

	assert.NoError(t, stream.Close())
	assert.NoError(t, stream.Close(), "close is idempotent")
}

func TestSSE_OversizedFrames(t *testing.T) {
	long := strings.Repeat("x", MaxFrameSize+1)
	srv := sseServer(t, "data: ok\n\ndata: "+long+"\n\n")

	stream, err := NewSSE(srv.URL, nil).Connect(context.Background(), "tok")
	require.NoError(t, err)
	defer stream.Close()

	data, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))

	_, err = stream.Recv()
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	// Many short data lines add up to one frame too.
	body := strings.Repeat("data: 0123456789\n", 8) + "\n"
	small := newSSEStream(io.NopCloser(strings.NewReader(body)), 64)
	_, err = small.Recv()
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestSSE_ConnectErrors(t *testing.T) {
	srv := sseServer(t, "")

	_, err := NewSSE(srv.URL, nil).Connect(context.Background(), "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	plain := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer plain.Close()

	_, err = NewSSE(plain.URL, nil).Connect(context.Background(), "tok")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content type")
}

func TestWebSocket_Recv(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "tok" {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x1})
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"eventId":"e1"}`))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, err := NewWebSocket(wsURL).Connect(context.Background(), "bad")
	require.Error(t, err)

	stream, err := NewWebSocket(wsURL).Connect(context.Background(), "tok")
	require.NoError(t, err)

	data, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, `{"eventId":"e1"}`, string(data))

	require.NoError(t, stream.Close())
	_, err = stream.Recv()
	assert.Error(t, err)
}

func TestSummaryClient_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/summary" || r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"userId":"u1","unread":{"notifications":2,"chats":5},"online":["u1"]}`)
	}))
	defer srv.Close()

	client := NewSummaryClient(srv.URL+"/", nil)

	summary, err := client.Fetch(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "u1", summary.UserID)
	assert.Equal(t, int64(2), summary.Unread.Notifications)
	assert.Equal(t, int64(5), summary.Unread.Chats)
	assert.Equal(t, []string{"u1"}, summary.Online)

	_, err = client.Fetch(context.Background(), "wrong")
	assert.Error(t, err)
}
