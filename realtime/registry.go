package realtime

import (
	"sync/atomic"

	"github.com/77mdias/barbershop-hub/event"
)

// Subscription registers interest in event types. Events lists the types to
// receive; event.Wildcard receives every type.
type Subscription struct {
	Events  []event.Type
	Handler func(event.Event)
	// OnFallback refreshes the subscriber's data while push delivery is
	// unavailable. Optional.
	OnFallback func()
}

type entry struct {
	id         uint64
	all        bool
	types      map[event.Type]struct{}
	handler    func(event.Event)
	onFallback func()
	active     atomic.Bool
}

func (e *entry) matches(t event.Type) bool {
	if e.all {
		return true
	}
	_, ok := e.types[t]
	return ok
}

func (e *entry) deliver(ev event.Event) {
	if e.handler != nil && e.active.Load() {
		e.handler(ev)
	}
}

func (e *entry) refresh() {
	if e.onFallback != nil && e.active.Load() {
		e.onFallback()
	}
}

// registry keeps subscriptions in registration order. Not safe for
// concurrent use; the Manager guards it.
type registry struct {
	nextID  uint64
	entries []*entry
}

func (r *registry) add(sub Subscription) *entry {
	r.nextID++
	e := &entry{
		id:         r.nextID,
		types:      make(map[event.Type]struct{}, len(sub.Events)),
		handler:    sub.Handler,
		onFallback: sub.OnFallback,
	}
	for _, t := range sub.Events {
		if t == event.Wildcard {
			e.all = true
		}
		e.types[t] = struct{}{}
	}
	e.active.Store(true)
	r.entries = append(r.entries, e)
	return e
}

func (r *registry) remove(id uint64) {
	for i, e := range r.entries {
		if e.id == id {
			e.active.Store(false)
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}

func (r *registry) match(t event.Type) []*entry {
	var out []*entry
	for _, e := range r.entries {
		if e.matches(t) {
			out = append(out, e)
		}
	}
	return out
}

func (r *registry) fallbacks() []*entry {
	var out []*entry
	for _, e := range r.entries {
		if e.onFallback != nil {
			out = append(out, e)
		}
	}
	return out
}

func (r *registry) len() int {
	return len(r.entries)
}
