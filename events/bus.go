// Package events provides the engine-scoped event bus. Subsystems publish
// typed events by name; delivery is ordered per subscriber, not globally.
package events

import (
	"sync"

	"go.uber.org/zap"

	"github.com/routed/routed/logging"
)

// Event is anything that can be published on the bus.
type Event interface {
	EventName() string
}

// Handler receives published events.
type Handler func(Event)

type subscriber struct {
	id int
	fn Handler
}

// Bus is a multi-subscriber broadcast bus. Subscribers registered for a name
// receive every event published under that name, in registration order.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string][]subscriber
	anySub []subscriber // subscribers to all events
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string][]subscriber),
	}
}

// Subscribe registers a handler for events published under name.
// It returns an unsubscribe function.
func (b *Bus) Subscribe(name string, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[name] = append(b.subs[name], subscriber{id: id, fn: fn})
	return func() { b.unsubscribe(name, id) }
}

// SubscribeAll registers a handler for every event regardless of name.
func (b *Bus) SubscribeAll(fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.anySub = append(b.anySub, subscriber{id: id, fn: fn})
	return func() { b.unsubscribe("", id) }
}

func (b *Bus) unsubscribe(name string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if name == "" {
		for i, s := range b.anySub {
			if s.id == id {
				b.anySub = append(b.anySub[:i], b.anySub[i+1:]...)
				return
			}
		}
		return
	}
	list := b.subs[name]
	for i, s := range list {
		if s.id == id {
			b.subs[name] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Publish delivers ev to all subscribers of its name, then to catch-all
// subscribers. Handler panics are logged and do not stop delivery.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	named := append([]subscriber(nil), b.subs[ev.EventName()]...)
	all := append([]subscriber(nil), b.anySub...)
	b.mu.RUnlock()

	for _, s := range named {
		b.deliver(s, ev)
	}
	for _, s := range all {
		b.deliver(s, ev)
	}
}

func (b *Bus) deliver(s subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("event handler panicked",
				zap.String("event", ev.EventName()),
				zap.Any("panic", r),
			)
		}
	}()
	s.fn(ev)
}
