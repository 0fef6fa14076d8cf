package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/77mdias/barbershop-hub/event"
)

const (
	// EventsChannel carries realtime events from the app backend to every push server.
	EventsChannel = "realtime-events"
	// PresenceEventsChannel carries user_connected / user_disconnected messages.
	PresenceEventsChannel = "presence-events"
)

// Message types.
const (
	TypeEvent            = "event"
	TypeRelay            = "relay"
	TypeUserConnected    = "user_connected"
	TypeUserDisconnected = "user_disconnected"
)

type Message struct {
	Type     string          `json:"type,omitempty"`
	ClientID string          `json:"client_id"`
	Data     json.RawMessage `json:"data,omitempty"`
}

type MessageBroker interface {
	Publish(ctx context.Context, channel string, message Message) error

	Subscribe(ctx context.Context, channel string) (<-chan Message, error)

	Close() error
}

// MarshalBinary implements encoding.BinaryMarshaler interface
func (m Message) MarshalBinary() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler interface
func (m *Message) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, m)
}

// EventMessage wraps ev into a broker message of type msgType.
func EventMessage(msgType, clientID string, ev event.Event) (Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return Message{}, fmt.Errorf("encode event %s: %w", ev.ID, err)
	}
	return Message{Type: msgType, ClientID: clientID, Data: data}, nil
}

// Event decodes the event carried in the message data.
func (m Message) Event() (event.Event, error) {
	return event.Parse(m.Data)
}

// PublishEvent publishes ev on EventsChannel.
func PublishEvent(ctx context.Context, mb MessageBroker, ev event.Event) error {
	msg, err := EventMessage(TypeEvent, ev.Target, ev)
	if err != nil {
		return err
	}
	return mb.Publish(ctx, EventsChannel, msg)
}
