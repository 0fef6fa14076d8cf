// Package hub tracks the push sessions connected to one pushd instance and
// delivers events to them.
package hub

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/77mdias/barbershop-hub/event"
)

var (
	ErrBufferFull = errors.New("session buffer full")
	ErrClosed     = errors.New("session closed")
)

// Conn is one push session, SSE or WebSocket.
type Conn interface {
	Send(ev event.Event) error
	Close(reason string) error
}

type Client struct {
	ID     string
	UserID string
	Conn   Conn
}

type Hub struct {
	clients sync.Map
	wg      sync.WaitGroup
	logger  zerolog.Logger
}

func New(logger zerolog.Logger) *Hub {
	return &Hub{
		logger: logger.With().Str("component", "hub").Logger(),
	}
}

func (h *Hub) AddClient(clientID, userID string, conn Conn) {
	h.clients.Store(clientID, &Client{ID: clientID, UserID: userID, Conn: conn})
	h.logger.Info().Str("client_id", clientID).Str("user_id", userID).Msg("Push client connected")
}

func (h *Hub) RemoveClient(clientID string) {
	if _, loaded := h.clients.LoadAndDelete(clientID); loaded {
		h.logger.Info().Str("client_id", clientID).Msg("Push client disconnected")
	}
}

func (h *Hub) lookup(clientID string) (*Client, bool) {
	if client, ok := h.clients.Load(clientID); ok {
		return client.(*Client), true
	}
	return nil, false
}

// Count returns the number of connected sessions.
func (h *Hub) Count() int {
	n := 0
	h.clients.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// Deliver sends ev to the sessions of its target user, or to every session
// when the event has no target. It returns the number of sessions reached.
// WebSocket sessions that fail a write are closed; SSE sessions with a full
// buffer only miss this event.
func (h *Hub) Deliver(ev event.Event) int {
	delivered := 0
	h.clients.Range(func(_, value interface{}) bool {
		client := value.(*Client)
		if ev.Target != "" && client.UserID != ev.Target {
			return true
		}

		err := client.Conn.Send(ev)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrBufferFull):
			h.logger.Warn().Str("client_id", client.ID).Str("event_id", ev.ID).Msg("Client buffer full, event skipped")
		default:
			h.logger.Warn().Err(err).Str("client_id", client.ID).Msg("Failed to send event to client")
			_ = client.Conn.Close("Failed to send message")
			h.RemoveClient(client.ID)
		}
		return true
	})
	return delivered
}

func (h *Hub) IncreaseWaitGroup() {
	h.wg.Add(1)
}

func (h *Hub) DecreaseWaitGroup() {
	h.wg.Done()
}

func (h *Hub) WaitForCompletion() {
	h.wg.Wait()
}

func (h *Hub) CloseAllConnections(reason string) {
	h.clients.Range(func(key, value interface{}) bool {
		client := value.(*Client)

		h.logger.Info().Str("client_id", client.ID).Str("reason", reason).Msg("Closing connection")
		_ = client.Conn.Close(reason)
		h.RemoveClient(client.ID)

		return true
	})
}
