// Package events provides the in-process domain event bus. Dispatch is
// synchronous fan-out to every handler registered for the event type;
// handler failures are isolated so one broken subscriber cannot stop
// the others or the publisher. The bus is not durable — durable work
// goes through the integration engine's repository.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/domain"
)

// Handler processes one domain event. Errors are logged by the bus and
// never propagated to the publisher.
type Handler func(ctx context.Context, e domain.Event) error

// Bus is a type-indexed in-process publish/subscribe registry.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *slog.Logger
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   slog.Default().With("component", "event-bus"),
	}
}

// Subscribe registers a handler for an event type (one of the
// domain.EventType* constants).
func (b *Bus) Subscribe(eventType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// Publish delivers the event to every handler registered for its type.
// Handlers run sequentially on the caller's goroutine; a panicking or
// failing handler is logged and skipped.
func (b *Bus) Publish(ctx context.Context, e domain.Event) {
	b.mu.RLock()
	hs := b.handlers[e.EventType()]
	b.mu.RUnlock()

	for _, h := range hs {
		b.dispatch(ctx, e, h)
	}
}

// PublishMany publishes events in order. Per-type ordering to a single
// handler is preserved because dispatch is sequential.
func (b *Bus) PublishMany(ctx context.Context, events []domain.Event) {
	for _, e := range events {
		b.Publish(ctx, e)
	}
}

// dispatch runs one handler with panic isolation.
func (b *Bus) dispatch(ctx context.Context, e domain.Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event handler panicked",
				"event_type", e.EventType(), "panic", fmt.Sprint(r))
		}
	}()
	if err := h(ctx, e); err != nil {
		b.logger.Error("Event handler failed",
			"event_type", e.EventType(), "error", err)
	}
}

// SubscriberCount returns how many handlers are registered for a type.
// Used by tests and the ops API.
func (b *Bus) SubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}
