// Package events provides the in-process publish/subscribe channel used to
// fan out order domain events to registered listeners.
package events

import (
	"context"
	"sync"

	"github.com/shoplane/api/internal/services"
)

// Handler consumes a published order event. Handlers run synchronously in
// subscription order; delivery is at-most-once and failures are not retried.
type Handler func(ctx context.Context, event services.OrderEvent)

// Bus is an explicitly constructed, injectable event bus. A zero value is not
// usable; construct with NewBus.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]Handler
	catchAll    []Handler
	logger      func(ctx context.Context, event string, fields map[string]any)
}

// BusOption customises bus construction.
type BusOption func(*Bus)

// WithBusLogger wires a logger for recovered subscriber panics.
func WithBusLogger(logger func(ctx context.Context, event string, fields map[string]any)) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBus constructs an empty event bus.
func NewBus(opts ...BusOption) *Bus {
	bus := &Bus{
		subscribers: make(map[string][]Handler),
		logger:      func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		opt(bus)
	}
	return bus
}

// Subscribe registers a handler for one event type ("order.created",
// "order.updated", "order.cancelled").
func (b *Bus) Subscribe(eventType string, handler Handler) {
	if handler == nil || eventType == "" {
		return
	}
	b.mu.Lock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
	b.mu.Unlock()
}

// SubscribeAll registers a handler invoked for every published event.
func (b *Bus) SubscribeAll(handler Handler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	b.catchAll = append(b.catchAll, handler)
	b.mu.Unlock()
}

// PublishOrderEvent delivers the event to matching subscribers. Publication is
// fire-and-forget: a panicking subscriber is recovered and logged, and never
// fails the publish.
func (b *Bus) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subscribers[event.Type])+len(b.catchAll))
	handlers = append(handlers, b.subscribers[event.Type]...)
	handlers = append(handlers, b.catchAll...)
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.deliver(ctx, handler, event)
	}
	return nil
}

func (b *Bus) deliver(ctx context.Context, handler Handler, event services.OrderEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger(ctx, "events.subscriber.panicked", map[string]any{
				"type":  event.Type,
				"order": event.OrderID,
				"panic": r,
			})
		}
	}()
	handler(ctx, event)
}
