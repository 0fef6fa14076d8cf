package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/77mdias/barbershop-hub/auth"
	"github.com/77mdias/barbershop-hub/broker"
	"github.com/77mdias/barbershop-hub/event"
	"github.com/77mdias/barbershop-hub/hub"
	"github.com/77mdias/barbershop-hub/push"
	"github.com/77mdias/barbershop-hub/store"
)

type fakeSummaries struct {
	mu     sync.Mutex
	unread map[string]store.Unread
	online []string
	resets []string
	err    error
}

func (f *fakeSummaries) GetUnread(_ context.Context, userID string) (store.Unread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread[userID], f.err
}

func (f *fakeSummaries) ResetUnread(_ context.Context, userID, kind string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, userID+":"+kind)
	return f.err
}

func (f *fakeSummaries) GetOnlineUsers(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online, f.err
}

type testEnv struct {
	hub       *hub.Hub
	broker    *broker.Memory
	issuer    *auth.Issuer
	handler   *Handler
	server    *httptest.Server
	summaries *fakeSummaries
}

func newTestEnv(t *testing.T, keepAlive time.Duration) *testEnv {
	t.Helper()
	env := &testEnv{
		hub:    hub.New(zerolog.Nop()),
		broker: broker.NewMemory(zerolog.Nop()),
		issuer: auth.NewIssuer([]byte("test-secret"), time.Hour),
		summaries: &fakeSummaries{
			unread: map[string]store.Unread{"u1": {Notifications: 3, Chats: 1}},
			online: []string{"u1", "u2"},
		},
	}
	env.handler = NewHandler(Options{
		Hub:       env.hub,
		Broker:    env.broker,
		Issuer:    env.issuer,
		Summaries: env.summaries,
		KeepAlive: keepAlive,
		DevTokens: true,
		Logger:    zerolog.Nop(),
	})
	env.server = httptest.NewServer(env.handler.Routes(nil))
	t.Cleanup(func() {
		env.hub.CloseAllConnections("test done")
		env.server.Close()
		_ = env.broker.Close()
	})
	return env
}

func (env *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := env.issuer.Issue(userID)
	require.NoError(t, err)
	return token
}

func (env *testEnv) get(t *testing.T, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, env.server.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func recvEvent(t *testing.T, stream push.Stream) event.Event {
	t.Helper()
	data, err := stream.Recv()
	require.NoError(t, err)
	ev, err := event.Parse(data)
	require.NoError(t, err)
	return ev
}

func TestHandleSSE_DeliversTargetedEvents(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	presence, err := env.broker.Subscribe(ctx, broker.PresenceEventsChannel)
	require.NoError(t, err)
	go func() { _ = env.handler.ListenForEvents(ctx) }()

	stream, err := push.NewSSE(env.server.URL+"/events", nil).Connect(ctx, env.token(t, "u1"))
	require.NoError(t, err)
	defer stream.Close()

	require.Eventually(t, func() bool { return env.hub.Count() == 1 }, time.Second, 5*time.Millisecond)

	select {
	case msg := <-presence:
		assert.Equal(t, broker.TypeUserConnected, msg.Type)
		assert.Equal(t, "u1", msg.ClientID)
	case <-time.After(time.Second):
		t.Fatal("no presence message")
	}

	other := event.New(&event.Notification{Title: "not yours"}, "u2")
	mine := event.New(&event.BookingUpdate{BookingID: "b1", Status: event.BookingConfirmed}, "u1")
	require.NoError(t, broker.PublishEvent(ctx, env.broker, other))
	require.NoError(t, broker.PublishEvent(ctx, env.broker, mine))

	ev := recvEvent(t, stream)
	assert.Equal(t, mine.ID, ev.ID)
	assert.Equal(t, event.TypeBookingUpdated, ev.Type)
	update, ok := ev.Payload.(*event.BookingUpdate)
	require.True(t, ok)
	assert.Equal(t, event.BookingConfirmed, update.Status)

	require.NoError(t, stream.Close())
	select {
	case msg := <-presence:
		assert.Equal(t, broker.TypeUserDisconnected, msg.Type)
	case <-time.After(time.Second):
		t.Fatal("no disconnect presence message")
	}
	assert.Eventually(t, func() bool { return env.hub.Count() == 0 }, time.Second, 5*time.Millisecond)
}

// slowConnectBroker delays user_connected so a disconnect published
// independently would overtake it.
type slowConnectBroker struct {
	*broker.Memory
	delay time.Duration
}

func (b *slowConnectBroker) Publish(ctx context.Context, channel string, msg broker.Message) error {
	if msg.Type == broker.TypeUserConnected {
		time.Sleep(b.delay)
	}
	return b.Memory.Publish(ctx, channel, msg)
}

func TestTrackPresence_PublishesInOrder(t *testing.T) {
	h := hub.New(zerolog.Nop())
	mb := &slowConnectBroker{Memory: broker.NewMemory(zerolog.Nop()), delay: 50 * time.Millisecond}
	defer mb.Close()
	handler := NewHandler(Options{Hub: h, Broker: mb, Logger: zerolog.Nop()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	presence, err := mb.Subscribe(ctx, broker.PresenceEventsChannel)
	require.NoError(t, err)

	disconnected := handler.trackPresence("u1")
	disconnected()
	disconnected()

	var got []string
	for len(got) < 2 {
		select {
		case msg := <-presence:
			assert.Equal(t, "u1", msg.ClientID)
			got = append(got, msg.Type)
		case <-time.After(time.Second):
			t.Fatalf("presence messages missing, got %v", got)
		}
	}
	assert.Equal(t, []string{broker.TypeUserConnected, broker.TypeUserDisconnected}, got)

	done := make(chan struct{})
	go func() {
		h.WaitForCompletion()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("presence publisher still running")
	}
}

func TestHandleSSE_KeepAlive(t *testing.T) {
	env := newTestEnv(t, 20*time.Millisecond)

	resp := env.get(t, "/events", env.token(t, "u1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"))

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream ended before keep-alive")
			if line == ": ping" {
				return
			}
		case <-deadline:
			t.Fatal("no keep-alive comment")
		}
	}
}

func TestHandleWebSocket(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = env.handler.ListenForEvents(ctx) }()

	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws"
	stream, err := push.NewWebSocket(wsURL).Connect(ctx, env.token(t, "u2"))
	require.NoError(t, err)
	defer stream.Close()

	require.Eventually(t, func() bool { return env.hub.Count() == 1 }, time.Second, 5*time.Millisecond)

	broadcast := event.New(&event.Presence{UserID: "u9", Online: true}, "")
	require.NoError(t, broker.PublishEvent(ctx, env.broker, broadcast))

	ev := recvEvent(t, stream)
	assert.Equal(t, broadcast.ID, ev.ID)
	assert.Equal(t, event.TypePresence, ev.Type)
}

func TestConnectRequiresToken(t *testing.T) {
	env := newTestEnv(t, time.Minute)

	assert.Equal(t, http.StatusUnauthorized, env.get(t, "/events", "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, env.get(t, "/events", "garbage").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, env.get(t, "/ws", "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, env.get(t, "/api/summary", "").StatusCode)
	assert.Zero(t, env.hub.Count())
}

func TestHandleSummary(t *testing.T) {
	env := newTestEnv(t, time.Minute)

	resp := env.get(t, "/api/summary", env.token(t, "u1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summary store.Summary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	assert.Equal(t, store.Summary{
		UserID: "u1",
		Unread: store.Unread{Notifications: 3, Chats: 1},
		Online: []string{"u1", "u2"},
	}, summary)

	env.summaries.err = errors.New("redis down")
	assert.Equal(t, http.StatusInternalServerError, env.get(t, "/api/summary", env.token(t, "u1")).StatusCode)
}

func TestHandleMarkRead(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	token := env.token(t, "u1")

	post := func(path, body string) int {
		req, err := http.NewRequest(http.MethodPost, env.server.URL+path, strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusNoContent, post("/api/summary/read?kind=chats", ""))
	assert.Equal(t, http.StatusNoContent, post("/api/summary/read", `{"kind":"notifications"}`))
	assert.Equal(t, http.StatusBadRequest, post("/api/summary/read?kind=reviews", ""))
	assert.Equal(t, http.StatusBadRequest, post("/api/summary/read", "not json"))

	assert.Equal(t, []string{"u1:chats", "u1:notifications"}, env.summaries.resets)
}

func TestDevTokenEndpoint(t *testing.T) {
	env := newTestEnv(t, time.Minute)

	resp, err := http.Post(env.server.URL+"/token?user=u5", "", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	userID, err := env.issuer.Verify(body.Token)
	require.NoError(t, err)
	assert.Equal(t, "u5", userID)

	noDev := NewHandler(Options{Hub: env.hub, Broker: env.broker, Issuer: env.issuer, Logger: zerolog.Nop()})
	rec := httptest.NewRecorder()
	noDev.Routes(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/token?user=u5", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, time.Minute)

	resp := env.get(t, "/healthz", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestListenForEvents_SkipsMalformed(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	conn := hub.NewStreamConn()
	env.hub.AddClient("c1", "u1", conn)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.handler.ListenForEvents(ctx) }()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, env.broker.Publish(ctx, broker.EventsChannel, broker.Message{Type: broker.TypeEvent, Data: []byte(`{"type":"nope"}`)}))
	good := event.New(&event.ChatUnread{ConversationID: "c", Count: 2}, "u1")
	require.NoError(t, broker.PublishEvent(ctx, env.broker, good))

	select {
	case ev := <-conn.Events():
		assert.Equal(t, good.ID, ev.ID)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2, time.Minute)
	defer rl.Close()

	assert.True(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("1.2.3.4"))
	assert.False(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("5.6.7.8"), "limits are per client")

	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	req.RemoteAddr = "1.2.3.4:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	var disabled *RateLimiter
	assert.True(t, disabled.Allow("x"))
	assert.True(t, NewRateLimiter(0, 0, 0).Allow("x"))
}

func TestServer_Shutdown(t *testing.T) {
	h := hub.New(zerolog.Nop())
	mb := broker.NewMemory(zerolog.Nop())
	conn := hub.NewStreamConn()
	h.AddClient("c1", "u1", conn)

	srv := NewServer("127.0.0.1:0", http.NewServeMux(), zerolog.Nop())
	srv.Shutdown(context.Background(), h, mb)

	assert.Zero(t, h.Count())
	select {
	case <-conn.Done():
	default:
		t.Fatal("session not closed")
	}
	assert.ErrorIs(t, mb.Publish(context.Background(), broker.EventsChannel, broker.Message{}), broker.ErrClosed)
}
