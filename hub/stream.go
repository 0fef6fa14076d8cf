package hub

import (
	"sync"

	"github.com/77mdias/barbershop-hub/event"
)

const streamBufferSize = 256

// StreamConn is a push session served as Server-Sent Events. The HTTP handler
// drains Events until Done is closed.
type StreamConn struct {
	events chan event.Event
	done   chan struct{}
	once   sync.Once
}

func NewStreamConn() *StreamConn {
	return &StreamConn{
		events: make(chan event.Event, streamBufferSize),
		done:   make(chan struct{}),
	}
}

func (s *StreamConn) Send(ev event.Event) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.events <- ev:
		return nil
	default:
		return ErrBufferFull
	}
}

func (s *StreamConn) Events() <-chan event.Event {
	return s.events
}

func (s *StreamConn) Done() <-chan struct{} {
	return s.done
}

func (s *StreamConn) Close(string) error {
	s.once.Do(func() { close(s.done) })
	return nil
}
