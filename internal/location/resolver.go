package location

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/systemshift/whereabouts/internal/core"
	"github.com/systemshift/whereabouts/internal/platform/logger"
	"github.com/systemshift/whereabouts/internal/platform/tracing"
	"github.com/systemshift/whereabouts/internal/server/events"
)

const noFurtherProcessing = "no further processing of this event will take place"

// ErrInactiveItem is returned when recomputing an item that is not active
var ErrInactiveItem = errors.New("item is not active")

// Store is the repository surface the resolver reads and writes through
type Store interface {
	RecordStore
	Save(ctx context.Context, rec *core.Record) error
}

// DefaultTriggers lists the event types that start a resolution. Every
// lifecycle transition triggers, since workflows bound to movements and
// relations are opaque here.
func DefaultTriggers() []string {
	return []string{
		events.RecordCreated,
		events.RecordModified,
		events.RecordLifecycleTransition,
		events.RecordAboutToRemove,
	}
}

// Update describes the outcome of resolving one item
type Update struct {
	ItemID     string       `json:"item_id"`
	MovementID string       `json:"movement_id,omitempty"`
	Changed    bool         `json:"changed"`
	Item       *core.Record `json:"item,omitempty"`
}

// Observer is told about every item whose location fields were saved.
// It runs on the resolving goroutine and must not block.
type Observer interface {
	LocationChanged(ctx context.Context, upd Update)
}

// Resolver keeps the derived location fields of items current as
// movements and relations change
type Resolver struct {
	store       Store
	engine      *Engine
	mapper      FieldMapper
	types       Types
	triggers    map[string]struct{}
	triggerList []string
	observers   []Observer
	log         *logger.Logger
}

// Option configures a Resolver
type Option func(*Resolver)

// WithMapper replaces the default field mapping
func WithMapper(m FieldMapper) Option {
	return func(r *Resolver) {
		if m != nil {
			r.mapper = m
		}
	}
}

// WithTriggers replaces the set of event types that start a resolution
func WithTriggers(eventTypes []string) Option {
	return func(r *Resolver) {
		if len(eventTypes) == 0 {
			return
		}
		r.triggers = make(map[string]struct{}, len(eventTypes))
		r.triggerList = r.triggerList[:0]
		for _, t := range eventTypes {
			t = strings.TrimSpace(t)
			if _, dup := r.triggers[t]; t == "" || dup {
				continue
			}
			r.triggers[t] = struct{}{}
			r.triggerList = append(r.triggerList, t)
		}
	}
}

// WithObserver adds an observer of saved location changes
func WithObserver(o Observer) Option {
	return func(r *Resolver) {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
}

// WithLogger sets the resolver's logger
func WithLogger(log *logger.Logger) Option {
	return func(r *Resolver) {
		if log != nil {
			r.log = log
		}
	}
}

// NewResolver creates a resolver over store
func NewResolver(store Store, types Types, opts ...Option) *Resolver {
	r := &Resolver{
		store:  store,
		mapper: DefaultFieldMapping(),
		types:  types,
		log:    logger.NewNop(),
	}
	WithTriggers(DefaultTriggers())(r)
	for _, opt := range opts {
		opt(r)
	}
	r.engine = NewEngine(store, types, r.log)
	return r
}

// Pattern returns the event pattern the resolver should be subscribed with
func (r *Resolver) Pattern() events.Pattern {
	return events.Pattern{
		EventTypes:  append([]string(nil), r.triggerList...),
		RecordTypes: []string{core.RelationType, r.types.Movement},
	}
}

// HandleEvent resolves the items affected by a change notification.
// Per-item failures are logged and skipped; only a failing fan-out query
// is returned.
func (r *Resolver) HandleEvent(ctx context.Context, ev events.Event) error {
	m := getMetrics()
	if _, ok := r.triggers[ev.Type]; !ok {
		r.log.Debug("event type does not trigger location resolution", "event_type", ev.Type)
		m.notificationsTotal.WithLabelValues(notificationIgnored).Inc()
		return nil
	}
	src := ev.Source
	r.log.Debug("event received", "event_type", ev.Type, "record_id", ev.RecordID)

	var movementID, sourceItemID string
	switch {
	case MatchesType(src, core.RelationType):
		rel := core.RelationOf(src)
		movementID = CounterpartID(rel, r.types.Movement, r.types.Item)
		sourceItemID = CounterpartID(rel, r.types.Item, r.types.Movement)
	case MatchesType(src, r.types.Movement):
		movementID = src.ID
	default:
		r.log.Debug("event did not involve a record relevant to location resolution", "record_id", ev.RecordID)
		m.notificationsTotal.WithLabelValues(notificationIrrelevant).Inc()
		return nil
	}
	if strings.TrimSpace(movementID) == "" {
		r.log.Warn("could not obtain movement ID from event; "+noFurtherProcessing, "record_id", ev.RecordID)
		m.notificationsTotal.WithLabelValues(notificationMissing).Inc()
		return nil
	}

	excl := Exclusion{}
	if ev.IsHardDelete() {
		if MatchesType(src, core.RelationType) {
			excl = Exclusion{HardDelete: true, RelationID: src.ID}
		} else {
			excl = Exclusion{HardDelete: true, ID: movementID}
		}
	}

	ctx, span := tracing.Start(ctx, "location.handle_event",
		attribute.String("event.type", ev.Type),
		attribute.String("movement.id", movementID),
	)
	defer span.End()

	itemIDs, err := r.affectedItems(ctx, movementID, sourceItemID)
	if err != nil {
		span.RecordError(err)
		m.notificationsTotal.WithLabelValues(notificationFailed).Inc()
		return err
	}
	if len(itemIDs) == 0 {
		r.log.Debug("movement has no relations to items", "movement_id", movementID)
		m.notificationsTotal.WithLabelValues(notificationNoItems).Inc()
		return nil
	}
	r.log.Debug("found related items", "movement_id", movementID, "count", len(itemIDs))

	for _, itemID := range itemIDs {
		upd, err := r.resolveItem(ctx, itemID, excl)
		switch {
		case err != nil && upd != nil:
			r.log.Error("could not save item location", "item_id", itemID, "error", err)
			m.itemsTotal.WithLabelValues(itemFailed).Inc()
		case err != nil:
			r.log.Warn("skipping item", "item_id", itemID, "error", err)
			m.itemsTotal.WithLabelValues(itemSkipped).Inc()
		case upd.MovementID == "":
			m.itemsTotal.WithLabelValues(itemSkipped).Inc()
		case upd.Changed:
			r.log.Debug("updated item location", "item_id", itemID, "movement_id", upd.MovementID)
			m.itemsTotal.WithLabelValues(itemUpdated).Inc()
		default:
			m.itemsTotal.WithLabelValues(itemUnchanged).Inc()
		}
	}
	m.notificationsTotal.WithLabelValues(notificationProcessed).Inc()
	return nil
}

// affectedItems returns the deduplicated IDs of items related to the
// movement. sourceItemID, when set, is always included first.
func (r *Resolver) affectedItems(ctx context.Context, movementID, sourceItemID string) ([]string, error) {
	rels, err := FindRelations(ctx, r.store, movementID, r.types.Item, r.types.Item)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(rels)+1)
	ids := make([]string, 0, len(rels)+1)
	add := func(id string) {
		if id == "" {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	add(sourceItemID)
	for _, rel := range rels {
		add(CounterpartID(core.RelationOf(rel), r.types.Item, r.types.Movement))
	}
	return ids, nil
}

// RecomputeItem resolves one item outside of any event
func (r *Resolver) RecomputeItem(ctx context.Context, itemID string) (*Update, error) {
	if strings.TrimSpace(itemID) == "" {
		return nil, fmt.Errorf("item ID is required")
	}
	ctx, span := tracing.Start(ctx, "location.recompute_item", attribute.String("item.id", itemID))
	defer span.End()

	upd, err := r.resolveItem(ctx, itemID, Exclusion{})
	if err != nil {
		span.RecordError(err)
	}
	return upd, err
}

// resolveItem applies the most recent movement to one item. A non-nil
// Update with an error means the save failed.
func (r *Resolver) resolveItem(ctx context.Context, itemID string, excl Exclusion) (*Update, error) {
	item, err := r.store.GetRecord(ctx, r.types.Item, itemID)
	if err != nil {
		return nil, fmt.Errorf("getting item %s: %w", itemID, err)
	}
	if !IsActive(item, r.log) {
		return nil, fmt.Errorf("%w: %s", ErrInactiveItem, itemID)
	}

	movement, err := r.engine.MostRecent(ctx, itemID, excl)
	if err != nil {
		return nil, err
	}
	upd := &Update{ItemID: itemID, Item: item}
	if movement == nil {
		return upd, nil
	}
	upd.MovementID = movement.ID

	updated, changed := r.mapper.ApplyMovementToItem(item, movement)
	upd.Item = updated
	if !changed {
		return upd, nil
	}
	if err := r.store.Save(ctx, updated); err != nil {
		return upd, fmt.Errorf("saving item %s: %w", itemID, err)
	}
	upd.Changed = true
	for _, o := range r.observers {
		o.LocationChanged(ctx, *upd)
	}
	return upd, nil
}
