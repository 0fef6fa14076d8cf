package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/77mdias/barbershop-hub/auth"
	"github.com/77mdias/barbershop-hub/broker"
	"github.com/77mdias/barbershop-hub/hub"
	"github.com/77mdias/barbershop-hub/store"
)

const (
	DefaultKeepAlive = 25 * time.Second
	publishTimeout   = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SummaryStore is the read side of the backend projection.
type SummaryStore interface {
	GetUnread(ctx context.Context, userID string) (store.Unread, error)
	ResetUnread(ctx context.Context, userID, kind string) error
	GetOnlineUsers(ctx context.Context) ([]string, error)
}

type Options struct {
	Hub    *hub.Hub
	Broker broker.MessageBroker
	Issuer *auth.Issuer
	// Summaries backs the polling endpoints; nil answers them with 503.
	Summaries SummaryStore
	KeepAlive time.Duration
	// DevTokens mounts POST /token.
	DevTokens bool
	Logger    zerolog.Logger
}

type Handler struct {
	hub       *hub.Hub
	broker    broker.MessageBroker
	issuer    *auth.Issuer
	summaries SummaryStore
	keepAlive time.Duration
	devTokens bool
	logger    zerolog.Logger
}

func NewHandler(opts Options) *Handler {
	keepAlive := opts.KeepAlive
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	return &Handler{
		hub:       opts.Hub,
		broker:    opts.Broker,
		issuer:    opts.Issuer,
		summaries: opts.Summaries,
		keepAlive: keepAlive,
		devTokens: opts.DevTokens,
		logger:    opts.Logger.With().Str("component", "handler").Logger(),
	}
}

// Routes mounts every endpoint. Connect and token endpoints go through limiter
// when it is non-nil.
func (h *Handler) Routes(limiter *RateLimiter) http.Handler {
	limited := func(fn http.HandlerFunc) http.Handler {
		if limiter == nil {
			return fn
		}
		return limiter.Middleware(fn)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /events", limited(h.HandleSSE))
	mux.Handle("GET /ws", limited(h.HandleWebSocket))
	if h.devTokens {
		mux.Handle("POST /token", limited(h.issuer.GenerateToken))
	}
	mux.HandleFunc("GET /api/summary", h.HandleSummary)
	mux.HandleFunc("POST /api/summary/read", h.HandleMarkRead)
	mux.HandleFunc("GET /healthz", h.HandleHealth)
	return mux
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := h.issuer.Verify(auth.TokenFromRequest(r))
	if err != nil {
		h.logger.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("Authentication failed")
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return "", false
	}
	return userID, true
}

// HandleSSE streams events to one EventSource client. Each event is written as
// an "id:" and a single "data:" line; a comment line keeps idle proxies from
// closing the stream.
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	clientID := uuid.NewString()
	conn := hub.NewStreamConn()
	h.hub.AddClient(clientID, userID, conn)
	disconnected := h.trackPresence(userID)
	defer func() {
		h.hub.RemoveClient(clientID)
		_ = conn.Close("")
		disconnected()
	}()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case ev := <-conn.Events():
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error().Err(err).Str("event_id", ev.ID).Msg("Failed to marshal SSE event")
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\ndata: %s\n\n", ev.ID, data); err != nil {
				h.logger.Debug().Err(err).Str("client_id", clientID).Msg("SSE write failed")
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-conn.Done():
			return
		case <-r.Context().Done():
			return
		}
	}
}

// HandleWebSocket serves one WebSocket push session. Inbound frames only
// count as activity.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	clientID := uuid.NewString()
	session := hub.NewWebSocketConn(conn)
	h.hub.AddClient(clientID, userID, session)
	disconnected := h.trackPresence(userID)
	defer disconnected()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	conn.SetPongHandler(func(string) error { session.UpdateActivity(); return nil })
	go session.StartPingSender(ctx)
	go session.StartActivityChecker(ctx, func() {
		h.logger.Info().Str("client_id", clientID).Msg("Connection timeout")
		h.hub.RemoveClient(clientID)
		cancel()
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.logger.Debug().Err(err).Str("client_id", clientID).Msg("Read error")
			break
		}
		session.UpdateActivity()
	}

	h.logger.Debug().Str("client_id", clientID).Msg("Cleaning up connection")
	h.hub.RemoveClient(clientID)
	_ = conn.Close()
}

// HandleSummary returns the unread counters and online users the fallback
// pollers read while no push connection is available.
func (h *Handler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	if h.summaries == nil {
		http.Error(w, "Summary not available", http.StatusServiceUnavailable)
		return
	}

	unread, err := h.summaries.GetUnread(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to read unread counters")
		http.Error(w, "Failed to read summary", http.StatusInternalServerError)
		return
	}
	online, err := h.summaries.GetOnlineUsers(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read online users")
		http.Error(w, "Failed to read summary", http.StatusInternalServerError)
		return
	}
	if online == nil {
		online = []string{}
	}

	writeJSON(w, http.StatusOK, store.Summary{UserID: userID, Unread: unread, Online: online})
}

// HandleMarkRead clears one unread counter, named by the "kind" query
// parameter or a {"kind": ...} body.
func (h *Handler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	if h.summaries == nil {
		http.Error(w, "Summary not available", http.StatusServiceUnavailable)
		return
	}

	kind := r.URL.Query().Get("kind")
	if kind == "" && r.Body != nil {
		var body struct {
			Kind string `json:"kind"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			kind = body.Kind
		}
	}
	if !store.ValidKind(kind) {
		http.Error(w, "unknown counter kind", http.StatusBadRequest)
		return
	}

	if err := h.summaries.ResetUnread(r.Context(), userID, kind); err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Str("kind", kind).Msg("Failed to reset unread counter")
		http.Error(w, "Failed to reset counter", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": h.hub.Count(),
	})
}

// ListenForEvents delivers every event published on the events channel to
// the local sessions until ctx ends or the broker closes.
func (h *Handler) ListenForEvents(ctx context.Context) error {
	messageChan, err := h.broker.Subscribe(ctx, broker.EventsChannel)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", broker.EventsChannel, err)
	}
	h.logger.Info().Str("channel", broker.EventsChannel).Msg("Subscribed")

	for {
		select {
		case <-ctx.Done():
			return nil
		case message, ok := <-messageChan:
			if !ok {
				h.logger.Info().Msg("Events channel closed")
				return nil
			}

			ev, err := message.Event()
			if err != nil {
				h.logger.Warn().Err(err).Msg("Dropping malformed event message")
				continue
			}
			n := h.hub.Deliver(ev)
			h.logger.Debug().
				Str("event_id", ev.ID).
				Str("type", string(ev.Type)).
				Str("target", ev.Target).
				Int("delivered", n).
				Msg("Event delivered")
		}
	}
}

// trackPresence publishes user_connected now and user_disconnected once the
// returned func is called, in that order, from one goroutine per session.
func (h *Handler) trackPresence(userID string) (disconnected func()) {
	done := make(chan struct{})
	h.hub.IncreaseWaitGroup()
	go func() {
		defer h.hub.DecreaseWaitGroup()
		h.publishPresence(broker.TypeUserConnected, userID)
		<-done
		h.publishPresence(broker.TypeUserDisconnected, userID)
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

func (h *Handler) publishPresence(msgType, userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	msg := broker.Message{Type: msgType, ClientID: userID}
	if err := h.broker.Publish(ctx, broker.PresenceEventsChannel, msg); err != nil {
		h.logger.Warn().Err(err).Str("user_id", userID).Str("type", msgType).Msg("Failed to publish presence")
		return
	}
	h.logger.Debug().Str("user_id", userID).Str("type", msgType).Msg("Published presence")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
