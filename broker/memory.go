package broker

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

var ErrClosed = errors.New("broker closed")

const memoryBufferSize = 256

// Memory is an in-process MessageBroker. Subscribers with a full buffer miss
// messages rather than block publishers.
type Memory struct {
	mu        sync.RWMutex
	listeners map[string]map[uint64]chan Message
	nextID    uint64
	closed    bool
	logger    zerolog.Logger
}

func NewMemory(logger zerolog.Logger) *Memory {
	return &Memory{
		listeners: make(map[string]map[uint64]chan Message),
		logger:    logger.With().Str("component", "broker").Logger(),
	}
}

func (b *Memory) Publish(ctx context.Context, channel string, message Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for _, ch := range b.listeners[channel] {
		select {
		case ch <- message:
		default:
			b.logger.Warn().Str("channel", channel).Msg("Subscriber buffer full, message dropped")
		}
	}
	return nil
}

// Subscribe registers a listener that lives until ctx is cancelled or the
// broker is closed.
func (b *Memory) Subscribe(ctx context.Context, channel string) (<-chan Message, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	id := b.nextID
	b.nextID++
	ch := make(chan Message, memoryBufferSize)
	if b.listeners[channel] == nil {
		b.listeners[channel] = make(map[uint64]chan Message)
	}
	b.listeners[channel][id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.remove(channel, id)
	}()

	return ch, nil
}

func (b *Memory) remove(channel string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.listeners[channel][id]; ok {
		delete(b.listeners[channel], id)
		if len(b.listeners[channel]) == 0 {
			delete(b.listeners, channel)
		}
		close(ch)
	}
}

// Close closes every subscription channel.
func (b *Memory) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for channel, subs := range b.listeners {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.listeners, channel)
	}
	return nil
}
