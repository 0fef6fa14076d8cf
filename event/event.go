// Package event defines the realtime events pushed to barbershop clients.
//
// An Event is a tagged union: Type selects the concrete Payload struct. On the
// wire every event is a single JSON object:
//
//	{"eventId":"...","type":"notification","payload":{...},"target":"user-1"}
package event

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Type identifies the kind of an event and therefore the shape of its payload.
type Type string

const (
	TypeNotification   Type = "notification"
	TypeChatMessage    Type = "chat_message"
	TypeChatUnread     Type = "chat_unread"
	TypeBookingUpdated Type = "booking_updated"
	TypeFriendRequest  Type = "friend_request"
	TypeReviewCreated  Type = "review_created"
	TypePresence       Type = "presence"

	// Wildcard matches every event type in a subscription filter.
	Wildcard Type = "*"
)

var (
	ErrUnknownType = errors.New("unknown event type")
	ErrMissingID   = errors.New("event id is required")
)

// Payload is implemented by every event variant.
type Payload interface {
	EventType() Type
}

var payloadTypes = map[Type]func() Payload{
	TypeNotification:   func() Payload { return &Notification{} },
	TypeChatMessage:    func() Payload { return &ChatMessage{} },
	TypeChatUnread:     func() Payload { return &ChatUnread{} },
	TypeBookingUpdated: func() Payload { return &BookingUpdate{} },
	TypeFriendRequest:  func() Payload { return &FriendRequest{} },
	TypeReviewCreated:  func() Payload { return &ReviewCreated{} },
	TypePresence:       func() Payload { return &Presence{} },
}

// Types returns every known event type.
func Types() []Type {
	return []Type{
		TypeNotification,
		TypeChatMessage,
		TypeChatUnread,
		TypeBookingUpdated,
		TypeFriendRequest,
		TypeReviewCreated,
		TypePresence,
	}
}

// Event is a single logical realtime event. ID is unique per logical event so
// that redelivery through another path can be deduplicated.
type Event struct {
	ID      string
	Type    Type
	Payload Payload
	// Target is the recipient user id. Empty means every connected user.
	Target string
}

// New builds an event with a fresh id for the given payload.
func New(p Payload, target string) Event {
	return Event{
		ID:      uuid.NewString(),
		Type:    p.EventType(),
		Payload: p,
		Target:  target,
	}
}

type wireEvent struct {
	ID      string          `json:"eventId"`
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Target  string          `json:"target,omitempty"`
}

// MarshalJSON encodes the event in its wire form.
func (e Event) MarshalJSON() ([]byte, error) {
	var payload json.RawMessage
	if e.Payload != nil {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", e.Type, err)
		}
		payload = raw
	} else {
		payload = json.RawMessage("null")
	}
	return json.Marshal(wireEvent{
		ID:      e.ID,
		Type:    e.Type,
		Payload: payload,
		Target:  e.Target,
	})
}

// UnmarshalJSON decodes the wire form, resolving the payload variant by type.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.ID == "" {
		return ErrMissingID
	}
	p, err := DecodePayload(w.Type, w.Payload)
	if err != nil {
		return err
	}
	*e = Event{ID: w.ID, Type: w.Type, Payload: p, Target: w.Target}
	return nil
}

// Parse decodes a single wire message.
func Parse(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("parse event: %w", err)
	}
	return e, nil
}

// DecodePayload decodes raw JSON into the payload variant registered for t.
func DecodePayload(t Type, raw json.RawMessage) (Payload, error) {
	newPayload, ok := payloadTypes[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	p := newPayload()
	if len(raw) == 0 || string(raw) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return p, nil
}

// Known reports whether t is a registered event type.
func Known(t Type) bool {
	_, ok := payloadTypes[t]
	return ok
}
