package broker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

const (
	maxRetries     = 3
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 5 * time.Second

	dialTimeout         = 5 * time.Second
	redisSubscribeQueue = 64
)

// RedisBroker fans messages out over Redis pub/sub so every push server and
// the app backend see the same channels. Its client is shared with the store.
type RedisBroker struct {
	client *redis.Client
	closed atomic.Bool
	logger zerolog.Logger
}

// NewRedisBroker dials addr and checks it answers before returning.
func NewRedisBroker(addr string, logger zerolog.Logger) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisBrokerWithClient(client, logger), nil
}

// NewRedisBrokerWithClient wraps an existing client. Close closes it.
func NewRedisBrokerWithClient(client *redis.Client, logger zerolog.Logger) *RedisBroker {
	return &RedisBroker{
		client: client,
		logger: logger.With().Str("component", "broker").Logger(),
	}
}

func (b *RedisBroker) Client() *redis.Client {
	return b.client
}

// Publish encodes message once and retries transient Redis failures. Encoding
// errors, a closed broker and a done ctx are not retried.
func (b *RedisBroker) Publish(ctx context.Context, channel string, message Message) error {
	if b.closed.Load() {
		return ErrClosed
	}
	payload, err := message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode %s message: %w", message.Type, err)
	}

	var receivers int64
	operation := func() error {
		n, err := b.client.Publish(ctx, channel, payload).Result()
		switch {
		case err == nil:
			receivers = n
			return nil
		case errors.Is(err, redis.ErrClosed) || ctx.Err() != nil:
			return backoff.Permanent(err)
		default:
			return err
		}
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(initialBackoff),
				backoff.WithMaxInterval(maxBackoff),
			),
			maxRetries,
		),
		ctx,
	)

	err = backoff.RetryNotify(operation, policy, func(err error, d time.Duration) {
		b.logger.Warn().
			Err(err).
			Str("channel", channel).
			Str("type", message.Type).
			Dur("next_attempt", d).
			Msg("Retrying Redis publish")
	})
	if err != nil {
		if errors.Is(err, redis.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("publish to %s: %w", channel, err)
	}

	if receivers == 0 {
		b.logger.Debug().Str("channel", channel).Str("type", message.Type).Msg("Published with no subscribers")
	}
	return nil
}

// Subscribe confirms the subscription with Redis before returning. The channel
// closes when ctx ends, the broker closes or Redis drops the subscription.
// Payloads that do not decode as a Message are skipped.
func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (<-chan Message, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	pubsub := b.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		if errors.Is(err, redis.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	messages := make(chan Message, redisSubscribeQueue)
	go b.forward(ctx, channel, pubsub, messages)
	return messages, nil
}

func (b *RedisBroker) forward(ctx context.Context, channel string, pubsub *redis.PubSub, out chan<- Message) {
	defer close(out)
	defer pubsub.Close()

	in := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-in:
			if !ok {
				b.logger.Debug().Str("channel", channel).Msg("Redis subscription ended")
				return
			}

			var message Message
			if err := message.UnmarshalBinary([]byte(raw.Payload)); err != nil {
				b.logger.Warn().Err(err).Str("channel", channel).Msg("Message decode error")
				continue
			}

			select {
			case out <- message:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Close is idempotent. Open subscriptions end once the client closes.
func (b *RedisBroker) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return b.client.Close()
}
