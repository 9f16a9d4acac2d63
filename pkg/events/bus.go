package events

import (
	"log/slog"
	"sync"
	"time"
)

// Bus delivers published events to subscribed handlers. Delivery is
// synchronous and in registration order. A panicking handler is recovered
// and logged; remaining subscribers still receive the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]*Subscription
	nextID int
	logger *slog.Logger
}

// Subscription identifies a registered handler and allows its removal.
type Subscription struct {
	id        int
	eventType string
	handler   Handler
	bus       *Bus
}

// Unsubscribe removes the subscription from the bus. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s)
}

// NewBus creates an event bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[string][]*Subscription),
		logger: logger.With("system", "events"),
	}
}

// Subscribe registers a handler for the given event type. Use Wildcard to
// receive every event. The returned Subscription handle must be retained to
// unsubscribe; long-running processes should never subscribe anonymously.
func (b *Bus) Subscribe(eventType string, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:        b.nextID,
		eventType: eventType,
		handler:   handler,
		bus:       b,
	}
	b.subs[eventType] = append(b.subs[eventType], sub)
	return sub
}

// Publish delivers an event to all handlers registered for its type or the
// wildcard, synchronously, in registration order across both sets.
func (b *Bus) Publish(eventType string, payload map[string]any) {
	event := Event{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.subs[eventType])+len(b.subs[Wildcard]))
	targets = append(targets, b.subs[eventType]...)
	targets = append(targets, b.subs[Wildcard]...)
	b.mu.RUnlock()

	for _, sub := range targets {
		b.deliver(sub, event)
	}
}

func (b *Bus) deliver(sub *Subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error(
				"subscriber panicked",
				"event_type", event.Type,
				"subscription", sub.id,
				"panic", r,
			)
		}
	}()
	sub.handler(event)
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[sub.eventType]
	for i, s := range subs {
		if s.id == sub.id {
			b.subs[sub.eventType] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}
