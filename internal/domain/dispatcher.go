package domain

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"nodelife.io/nodelife/internal/pkg/logger"
)

// EventHandler processes a committed event.
type EventHandler func(ctx context.Context, event *Event) error

// EventDispatcher routes committed events to registered handlers. The
// projector subscribes to every variant; auxiliary listeners may subscribe
// per type.
type EventDispatcher struct {
	handlers map[EventType][]EventHandler
	all      []EventHandler
	mu       sync.RWMutex
}

// NewEventDispatcher creates a new EventDispatcher.
func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{
		handlers: make(map[EventType][]EventHandler),
	}
}

// Register registers a handler for a specific event type.
func (d *EventDispatcher) Register(eventType EventType, handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], handler)
}

// RegisterAll registers a handler for every event type.
func (d *EventDispatcher) RegisterAll(handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.all = append(d.all, handler)
}

// Dispatch dispatches an event to all matching handlers. Handlers run
// sequentially; a failing handler is logged and the first error returned,
// but remaining handlers still run.
func (d *EventDispatcher) Dispatch(ctx context.Context, event *Event) error {
	d.mu.RLock()
	handlers := append(append([]EventHandler(nil), d.all...), d.handlers[event.Type]...)
	d.mu.RUnlock()

	if len(handlers) == 0 {
		logger.Warn("No handlers registered for event type",
			zap.String("event_type", string(event.Type)),
			zap.String("event_id", event.ID),
		)
		return nil
	}

	var firstErr error
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			logger.Error("Event handler failed",
				zap.String("event_type", string(event.Type)),
				zap.String("event_id", event.ID),
				zap.String("node_ref", event.NodeRef.String()),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = fmt.Errorf("handler for %s failed: %w", event.Type, err)
			}
		}
	}

	return firstErr
}
