package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/systemshift/whereabouts/internal/platform/logger"
)

type subscription struct {
	name     string
	pattern  Pattern
	listener Listener
}

// Bus dispatches repository events to listeners. Publish runs matching
// listeners inline on the caller's goroutine, in subscription order.
type Bus struct {
	log  *logger.Logger
	mu   sync.RWMutex
	subs []subscription
}

// NewBus creates an empty bus
func NewBus(log *logger.Logger) *Bus {
	if log == nil {
		log = logger.NewNop()
	}
	return &Bus{log: log}
}

// Subscribe registers a listener for events matching pattern
func (b *Bus) Subscribe(name string, pattern Pattern, l Listener) error {
	if name == "" {
		return fmt.Errorf("subscription name is required")
	}
	if l == nil {
		return fmt.Errorf("subscription %s has no listener", name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if s.name == name {
			return fmt.Errorf("subscription already registered: %s", name)
		}
	}
	b.subs = append(b.subs, subscription{name: name, pattern: pattern, listener: l})
	b.log.Debug("registered event listener", "name", name)
	return nil
}

// Unsubscribe removes a listener by name
func (b *Bus) Unsubscribe(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.name == name {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("subscription not found: %s", name)
}

// Len returns the number of registered listeners
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers the event to every matching listener. Listener errors
// are logged and do not stop delivery to the remaining listeners.
func (b *Bus) Publish(ctx context.Context, event Event) {
	// Listeners may publish while handling (e.g. saving a record), so the
	// lock is not held during dispatch.
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if !Match(event, s.pattern) {
			continue
		}
		if err := s.listener.HandleEvent(ctx, event); err != nil {
			b.log.Error("event listener failed",
				"listener", s.name,
				"event_id", event.ID,
				"event_type", event.Type,
				"record_id", event.RecordID,
				"error", err,
			)
		}
	}
}

// Emitter returns a function the repository can call to publish events
func (b *Bus) Emitter() Emitter {
	return b.Publish
}
