package graph

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/systemshift/whereabouts/internal/core"
	"github.com/systemshift/whereabouts/internal/server/events"
)

// MemoryRepository implements Repository in process memory. It keeps
// superseded versions as snapshots so version filtering behaves like the
// persistent backends.
type MemoryRepository struct {
	mu        sync.RWMutex
	current   map[string]*core.Record
	snapshots map[string][]*core.Record
	order     []string
	emitter   events.Emitter
	now       func() time.Time
}

// NewMemory creates an empty in-memory repository
func NewMemory() *MemoryRepository {
	return &MemoryRepository{
		current:   make(map[string]*core.Record),
		snapshots: make(map[string][]*core.Record),
		now:       time.Now,
	}
}

// Close is a no-op
func (r *MemoryRepository) Close(ctx context.Context) error {
	return nil
}

// SetEventEmitter sets the callback for emitting events
func (r *MemoryRepository) SetEventEmitter(emitter events.Emitter) {
	r.mu.Lock()
	r.emitter = emitter
	r.mu.Unlock()
}

// emit must be called without holding r.mu; listeners read back through
// the repository.
func (r *MemoryRepository) emit(ctx context.Context, event events.Event) {
	r.mu.RLock()
	emitter := r.emitter
	r.mu.RUnlock()
	if emitter != nil {
		emitter(ctx, event)
	}
}

// Query returns records matching q in insertion order
func (r *MemoryRepository) Query(ctx context.Context, q core.Query) ([]*core.Record, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*core.Record{}
	for _, id := range r.order {
		if !q.ActiveOnly {
			for _, snap := range r.snapshots[id] {
				if q.Matches(snap) {
					out = append(out, snap.Clone())
				}
			}
		}
		if rec, ok := r.current[id]; ok && q.Matches(rec) {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// GetRecord returns the current version of id, or the snapshot whose
// version ID is id
func (r *MemoryRepository) GetRecord(ctx context.Context, typeName, id string) (*core.Record, error) {
	r.mu.RLock()
	var matches []*core.Record
	if rec, ok := r.current[id]; ok && strings.HasPrefix(rec.Type, typeName) {
		matches = append(matches, rec.Clone())
	}
	for _, snaps := range r.snapshots {
		for _, snap := range snaps {
			if snap.VersionID == id && strings.HasPrefix(snap.Type, typeName) {
				matches = append(matches, snap.Clone())
			}
		}
	}
	r.mu.RUnlock()
	return singleRecord(matches, id)
}

// WorkflowState returns the lifecycle state of the current version of id
func (r *MemoryRepository) WorkflowState(ctx context.Context, id string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.current[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec.LifecycleState, nil
}

// Create stores a new record at version 1. A blank ID is assigned a UUID.
func (r *MemoryRepository) Create(ctx context.Context, rec *core.Record) error {
	if rec == nil {
		return fmt.Errorf("record is nil")
	}
	if rec.Type == "" {
		return fmt.Errorf("record type is required")
	}

	r.mu.Lock()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if _, exists := r.current[rec.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrExists, rec.ID)
	}
	now := r.now()
	rec.Version = 1
	rec.VersionID = versionID(rec.ID, 1)
	rec.IsVersion = false
	if rec.LifecycleState == "" {
		rec.LifecycleState = core.StateProject
	}
	if rec.Created.IsZero() {
		rec.Created = now
	}
	rec.Modified = now
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}
	r.current[rec.ID] = rec.Clone()
	r.order = append(r.order, rec.ID)
	r.mu.Unlock()

	r.emit(ctx, events.New(events.RecordCreated, rec))
	return nil
}

// Save stores rec as a new current version; the previous version becomes
// a snapshot
func (r *MemoryRepository) Save(ctx context.Context, rec *core.Record) error {
	if rec == nil {
		return fmt.Errorf("record is nil")
	}

	r.mu.Lock()
	prev, ok := r.current[rec.ID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, rec.ID)
	}
	next := r.nextVersion(prev, rec)
	rec.Version, rec.VersionID, rec.Type = next.Version, next.VersionID, next.Type
	rec.Created, rec.Modified, rec.IsVersion = next.Created, next.Modified, false
	rec.LifecycleState = next.LifecycleState
	r.mu.Unlock()

	r.emit(ctx, events.New(events.RecordModified, next))
	return nil
}

// SetLifecycleState moves the record to a workflow state. Moving to
// core.StateDeleted is a soft delete.
func (r *MemoryRepository) SetLifecycleState(ctx context.Context, id, state string) error {
	if strings.TrimSpace(state) == "" {
		return fmt.Errorf("lifecycle state is required")
	}

	r.mu.Lock()
	prev, ok := r.current[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	from := prev.LifecycleState
	if from == state {
		r.mu.Unlock()
		return nil
	}
	upd := prev.Clone()
	upd.LifecycleState = state
	upd.ChangeNote = "lifecycle transition to " + state
	next := r.nextVersion(prev, upd)
	r.mu.Unlock()

	ev := events.New(events.RecordLifecycleTransition, next)
	ev.Meta = lifecycleMeta(from, state)
	r.emit(ctx, ev)
	return nil
}

// nextVersion must be called with r.mu held
func (r *MemoryRepository) nextVersion(prev, rec *core.Record) *core.Record {
	snap := prev.Clone()
	snap.IsVersion = true
	r.snapshots[prev.ID] = append(r.snapshots[prev.ID], snap)

	next := rec.Clone()
	next.ID = prev.ID
	next.Type = prev.Type
	next.Version = prev.Version + 1
	next.VersionID = versionID(prev.ID, next.Version)
	next.IsVersion = false
	next.Created = prev.Created
	next.Modified = r.now()
	if next.LifecycleState == "" {
		next.LifecycleState = prev.LifecycleState
	}
	if next.Fields == nil {
		next.Fields = map[string]any{}
	}
	r.current[prev.ID] = next
	return next.Clone()
}

// Delete hard-deletes a record and all of its versions. Listeners see the
// record.about_to_remove event while the record is still stored.
func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.RLock()
	rec, ok := r.current[id]
	if ok {
		rec = rec.Clone()
	}
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	r.emit(ctx, events.New(events.RecordAboutToRemove, rec))

	r.mu.Lock()
	delete(r.current, id)
	delete(r.snapshots, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	r.emit(ctx, events.New(events.RecordRemoved, rec))
	return nil
}
