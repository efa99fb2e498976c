package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/systemshift/whereabouts/internal/core"
)

// Event type constants
const (
	RecordCreated             = "record.created"
	RecordModified            = "record.modified"
	RecordLifecycleTransition = "record.lifecycle_transition"
	RecordAboutToRemove       = "record.about_to_remove"
	RecordRemoved             = "record.removed"
)

// Event represents a change in the repository that listeners may react to
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	RecordID   string `json:"record_id,omitempty"`
	RecordType string `json:"record_type,omitempty"`

	// Source is a snapshot of the record the event concerns. For
	// record.about_to_remove it is the record as it was before deletion.
	Source *core.Record `json:"source,omitempty"`

	Meta map[string]any `json:"meta,omitempty"`
}

// New builds an event for a record
func New(eventType string, rec *core.Record) Event {
	ev := Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
	}
	if rec != nil {
		ev.RecordID = rec.ID
		ev.RecordType = rec.Type
		ev.Source = rec.Clone()
	}
	return ev
}

// IsHardDelete reports whether the event announces an imminent hard delete
func (e Event) IsHardDelete() bool {
	return e.Type == RecordAboutToRemove
}

// Emitter receives events from the repository
type Emitter func(ctx context.Context, event Event)

// Listener reacts to events published on the bus
type Listener interface {
	HandleEvent(ctx context.Context, event Event) error
}

// ListenerFunc adapts a function to the Listener interface
type ListenerFunc func(ctx context.Context, event Event) error

// HandleEvent calls f
func (f ListenerFunc) HandleEvent(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Pattern defines which events a listener receives
type Pattern struct {
	EventTypes  []string `json:"event_types,omitempty"`
	RecordTypes []string `json:"record_types,omitempty"` // prefix match
}
