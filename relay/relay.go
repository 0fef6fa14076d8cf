// Package relay shares received realtime events between sibling tabs of one
// session, so a tab without its own live connection still sees them.
package relay

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/77mdias/barbershop-hub/broker"
	"github.com/77mdias/barbershop-hub/event"
)

const channelPrefix = "relay:"

// Envelope is an event tagged with the tab that first received it.
type Envelope struct {
	TabID string      `json:"tabId"`
	Event event.Event `json:"event"`
}

// Channel is a broadcast channel shared by every tab of a session. Listeners
// receive every posted envelope, including their own.
type Channel interface {
	Post(ctx context.Context, env Envelope) error
	Listen(ctx context.Context) (<-chan Envelope, error)
}

// ChannelName returns the relay channel shared by the tabs of userID.
func ChannelName(userID string) string {
	return channelPrefix + userID
}

// BrokerChannel is a Channel on top of a broker: Redis pub/sub links tabs
// across processes, the in-memory broker links tabs within one process.
type BrokerChannel struct {
	broker broker.MessageBroker
	name   string
	logger zerolog.Logger
}

func NewBrokerChannel(mb broker.MessageBroker, name string, logger zerolog.Logger) *BrokerChannel {
	return &BrokerChannel{
		broker: mb,
		name:   name,
		logger: logger.With().Str("component", "relay").Str("channel", name).Logger(),
	}
}

func (c *BrokerChannel) Post(ctx context.Context, env Envelope) error {
	msg, err := broker.EventMessage(broker.TypeRelay, env.TabID, env.Event)
	if err != nil {
		return err
	}
	if err := c.broker.Publish(ctx, c.name, msg); err != nil {
		return fmt.Errorf("relay post: %w", err)
	}
	return nil
}

// Listen subscribes before returning, so envelopes posted afterwards are
// never missed. The channel closes when ctx is done.
func (c *BrokerChannel) Listen(ctx context.Context) (<-chan Envelope, error) {
	msgs, err := c.broker.Subscribe(ctx, c.name)
	if err != nil {
		return nil, fmt.Errorf("relay listen: %w", err)
	}

	out := make(chan Envelope)
	go func() {
		defer close(out)
		for msg := range msgs {
			if msg.Type != broker.TypeRelay {
				continue
			}
			ev, err := msg.Event()
			if err != nil {
				c.logger.Warn().Err(err).Str("tab_id", msg.ClientID).Msg("Dropping malformed relay message")
				continue
			}
			select {
			case out <- Envelope{TabID: msg.ClientID, Event: ev}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
