package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/77mdias/barbershop-hub/broker"
	"github.com/77mdias/barbershop-hub/event"
)

// Projection is the write side the listeners update; Store implements it.
type Projection interface {
	AddOnlineUser(ctx context.Context, userID string) error
	RemoveOnlineUser(ctx context.Context, userID string) error
	IncrUnread(ctx context.Context, userID, kind string) error
}

// ListenForPresenceEvents keeps the online users up to date until the
// subscription ends.
func ListenForPresenceEvents(ctx context.Context, mb broker.MessageBroker, p Projection, logger zerolog.Logger) error {
	eventsChan, err := mb.Subscribe(ctx, broker.PresenceEventsChannel)
	if err != nil {
		return fmt.Errorf("subscribe to presence events: %w", err)
	}
	logger.Info().Str("channel", broker.PresenceEventsChannel).Msg("Subscribed")

	for msg := range eventsChan {
		switch msg.Type {
		case broker.TypeUserConnected:
			logger.Debug().Str("user_id", msg.ClientID).Msg("User connected")
			if err := p.AddOnlineUser(ctx, msg.ClientID); err != nil {
				logger.Error().Err(err).Str("user_id", msg.ClientID).Msg("Failed to add online user")
			}
		case broker.TypeUserDisconnected:
			logger.Debug().Str("user_id", msg.ClientID).Msg("User disconnected")
			if err := p.RemoveOnlineUser(ctx, msg.ClientID); err != nil {
				logger.Error().Err(err).Str("user_id", msg.ClientID).Msg("Failed to remove online user")
			}
		default:
			logger.Warn().Str("type", msg.Type).Msg("Unknown presence message type")
		}
	}
	return nil
}

// ListenForEvents counts targeted notifications and chat messages as unread,
// which is what fallback polling reads back.
func ListenForEvents(ctx context.Context, mb broker.MessageBroker, p Projection, logger zerolog.Logger) error {
	eventsChan, err := mb.Subscribe(ctx, broker.EventsChannel)
	if err != nil {
		return fmt.Errorf("subscribe to realtime events: %w", err)
	}
	logger.Info().Str("channel", broker.EventsChannel).Msg("Subscribed")

	for msg := range eventsChan {
		ev, err := msg.Event()
		if err != nil {
			logger.Warn().Err(err).Msg("Dropping malformed event message")
			continue
		}
		kind := unreadKind(ev.Type)
		if kind == "" || ev.Target == "" {
			continue
		}
		if err := p.IncrUnread(ctx, ev.Target, kind); err != nil {
			logger.Error().Err(err).Str("user_id", ev.Target).Str("kind", kind).Msg("Failed to update unread counter")
		}
	}
	return nil
}

func unreadKind(t event.Type) string {
	switch t {
	case event.TypeNotification, event.TypeFriendRequest, event.TypeBookingUpdated:
		return KindNotifications
	case event.TypeChatMessage:
		return KindChats
	default:
		return ""
	}
}
