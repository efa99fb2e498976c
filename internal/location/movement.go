package location

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/systemshift/whereabouts/internal/core"
	"github.com/systemshift/whereabouts/internal/platform/logger"
	"github.com/systemshift/whereabouts/internal/platform/tracing"
)

// LocationDateField holds the timestamp a movement took effect
const LocationDateField = "locationDate"

// earliestLocationDate predates every real movement; a movement must be
// strictly later to be selected
var earliestLocationDate = time.Date(1600, time.January, 1, 0, 0, 0, 0, time.UTC)

// RecordStore is the read surface the engine needs
type RecordStore interface {
	Querier
	GetRecord(ctx context.Context, typeName, id string) (*core.Record, error)
}

// Types names the item and movement record types
type Types struct {
	Item     string
	Movement string
}

// DefaultTypes returns the stock item and movement type names
func DefaultTypes() Types {
	return Types{Item: DefaultItemType, Movement: DefaultMovementType}
}

// Exclusion names a record that is about to be hard-deleted and must not
// take part in resolution. ID names a movement; RelationID names a single
// relation edge, leaving other edges to the same movement in play.
type Exclusion struct {
	HardDelete bool
	ID         string
	RelationID string
}

func (e Exclusion) excludes(id string) bool {
	return e.HardDelete && e.ID != "" && e.ID == id
}

func (e Exclusion) excludesRelation(id string) bool {
	return e.HardDelete && e.RelationID != "" && e.RelationID == id
}

// Engine selects the most recent movement of an item
type Engine struct {
	store RecordStore
	types Types
	log   *logger.Logger
}

// NewEngine creates an engine reading through store
func NewEngine(store RecordStore, types Types, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewNop()
	}
	return &Engine{store: store, types: types, log: log}
}

// MostRecent returns the active movement related to itemID with the latest
// location date, or nil when there is none. Equal dates resolve to the
// smallest movement ID. Only a failing relation query is an error.
func (e *Engine) MostRecent(ctx context.Context, itemID string, excl Exclusion) (*core.Record, error) {
	ctx, span := tracing.Start(ctx, "location.most_recent_movement",
		attribute.String("item.id", itemID),
		attribute.Bool("exclusion.hard_delete", excl.HardDelete),
	)
	defer span.End()

	q := RelationQuery(itemID, e.types.Movement, e.types.Movement)
	e.log.Debug("querying movement relations", "item_id", itemID, "query", q.String())
	rels, err := FindRelations(ctx, e.store, itemID, e.types.Movement, e.types.Movement)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(rels) == 0 {
		e.log.Warn("found no relations to movement records for item", "item_id", itemID)
		return nil, nil
	}
	e.log.Debug("found movement relations", "item_id", itemID, "count", len(rels))

	var selected *core.Record
	mostRecent := earliestLocationDate
	seen := make(map[string]struct{}, len(rels))

	for _, relRec := range rels {
		if excl.excludesRelation(relRec.ID) {
			e.log.Debug("skipping relation about to be removed", "relation_id", relRec.ID)
			continue
		}
		movementID := otherEnd(core.RelationOf(relRec), itemID)
		if movementID == "" {
			continue
		}
		// The OR query can return the same movement through edges in both
		// directions.
		if _, dup := seen[movementID]; dup {
			continue
		}
		seen[movementID] = struct{}{}

		if excl.excludes(movementID) {
			e.log.Debug("skipping movement about to be removed", "movement_id", movementID)
			continue
		}

		movement, err := e.store.GetRecord(ctx, e.types.Movement, movementID)
		if err != nil {
			e.log.Warn("could not get movement record", "movement_id", movementID, "error", err)
			continue
		}
		if !IsActive(movement, e.log) {
			e.log.Debug("skipping inactive movement", "movement_id", movementID)
			continue
		}
		date, ok := movement.FieldTime(LocationDateField)
		if !ok {
			continue
		}

		switch {
		case date.After(mostRecent):
			mostRecent, selected = date, movement
		case selected != nil && date.Equal(mostRecent) && movementID < selected.ID:
			selected = movement
		}
	}

	if selected != nil {
		span.SetAttributes(attribute.String("movement.id", selected.ID))
	}
	return selected, nil
}
