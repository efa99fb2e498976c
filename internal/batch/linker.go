// Package batch relates the objects of a group to the group's movement.
package batch

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/systemshift/whereabouts/internal/core"
	"github.com/systemshift/whereabouts/internal/location"
	"github.com/systemshift/whereabouts/internal/platform/logger"
	"github.com/systemshift/whereabouts/internal/platform/tracing"
)

// DefaultRelationshipType labels the relations the linker creates
const DefaultRelationshipType = "affects"

const couldNotMove = "Could not move the objects in this group: "

// User-facing precondition failures
const (
	MsgNoGroupID         = couldNotMove + "no group CSID was provided"
	MsgNoGroup           = couldNotMove + "no group record was found with this CSID"
	MsgNoMovement        = couldNotMove + "no Movement record is currently related to this group"
	MsgAmbiguousMovement = couldNotMove + "more than one Movement record is related to this group"
	MsgNoObjects         = couldNotMove + "no objects were found"
)

// Store is the repository surface the linker needs
type Store interface {
	location.RecordStore
	WorkflowState(ctx context.Context, id string) (string, error)
	Create(ctx context.Context, rec *core.Record) error
}

// Config controls which records and relations the linker considers
type Config struct {
	Types location.Types

	// GroupType, when set, requires the group CSID to name a record of
	// this type
	GroupType string

	// RelationshipType labels created relations; defaults to "affects"
	RelationshipType string
	// MembershipType, when set, restricts group membership to relations
	// with this relationship type
	MembershipType string
}

// GroupLinker relates every object in a group to the group's single
// movement, creating reciprocal relations only where none exist
type GroupLinker struct {
	store Store
	cfg   Config
	log   *logger.Logger
}

// NewGroupLinker creates a linker over store
func NewGroupLinker(store Store, cfg Config, log *logger.Logger) *GroupLinker {
	if cfg.Types.Item == "" {
		cfg.Types.Item = location.DefaultItemType
	}
	if cfg.Types.Movement == "" {
		cfg.Types.Movement = location.DefaultMovementType
	}
	if cfg.RelationshipType == "" {
		cfg.RelationshipType = DefaultRelationshipType
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &GroupLinker{store: store, cfg: cfg, log: log}
}

// Run links the objects of groupID to its movement. Running it again on the
// same state creates nothing.
func (g *GroupLinker) Run(ctx context.Context, groupID string) Outcome {
	ctx, span := tracing.Start(ctx, "batch.relate_movement_to_group", attribute.String("group.id", groupID))
	defer span.End()

	out := g.run(ctx, groupID)
	span.SetAttributes(
		attribute.String("outcome.status", out.Status),
		attribute.Int("outcome.affected_count", out.AffectedCount),
	)
	m := getMetrics()
	m.runsTotal.WithLabelValues(out.Status).Inc()
	if out.OK() {
		g.log.Info(out.Message, "group_id", groupID)
	} else {
		g.log.Error("group linker failed", "group_id", groupID, "affected", out.AffectedCount, "message", out.Message)
	}
	return out
}

func (g *GroupLinker) run(ctx context.Context, groupID string) Outcome {
	if strings.TrimSpace(groupID) == "" {
		return failed(0, MsgNoGroupID)
	}
	if g.cfg.GroupType != "" {
		if _, err := g.store.GetRecord(ctx, g.cfg.GroupType, groupID); err != nil {
			g.log.Warn("could not get group record", "group_id", groupID, "error", err)
			return failed(0, MsgNoGroup)
		}
	}

	movementIDs, err := g.members(ctx, groupID, g.cfg.Types.Movement)
	if err != nil {
		return failed(0, couldNotMove+err.Error())
	}
	switch len(movementIDs) {
	case 0:
		return failed(0, MsgNoMovement)
	case 1:
	default:
		return failed(0, MsgAmbiguousMovement)
	}
	movementID := movementIDs[0]

	itemIDs, err := g.members(ctx, groupID, g.cfg.Types.Item)
	if err != nil {
		return failed(0, couldNotMove+err.Error())
	}
	if len(itemIDs) == 0 {
		return failed(0, MsgNoObjects)
	}
	g.log.Info("identified objects to relate to movement",
		"group_id", groupID, "movement_id", movementID, "count", len(itemIDs))

	linked, err := g.relateAll(ctx, itemIDs, movementID)
	if err != nil {
		return failed(linked, fmt.Sprintf(
			"Error encountered while relating objects to movement: %v. Successfully related %d object(s) to movement prior to error",
			err, linked))
	}
	return complete(linked)
}

// relateAll returns the number of items newly linked, including on error
func (g *GroupLinker) relateAll(ctx context.Context, itemIDs []string, movementID string) (int, error) {
	linked := 0
	for _, itemID := range itemIDs {
		// members filtered deleted items; this catches deletes made since
		state, err := g.store.WorkflowState(ctx, itemID)
		if err != nil {
			g.log.Warn("skipping object with unreadable state", "item_id", itemID, "error", err)
			continue
		}
		if state == core.StateDeleted {
			g.log.Debug("skipping soft-deleted object", "item_id", itemID)
			continue
		}

		related, err := g.alreadyRelated(ctx, itemID, movementID)
		if err != nil {
			return linked, err
		}
		if related {
			g.log.Debug("object already related to movement", "item_id", itemID, "movement_id", movementID)
			continue
		}

		if err := g.relate(ctx, itemID, movementID); err != nil {
			return linked, err
		}
		linked++
	}
	return linked, nil
}

// alreadyRelated reports whether an active relation between the item and
// the movement exists in either direction
func (g *GroupLinker) alreadyRelated(ctx context.Context, itemID, movementID string) (bool, error) {
	rels, err := location.FindRelations(ctx, g.store, itemID, g.cfg.Types.Movement, g.cfg.Types.Movement)
	if err != nil {
		return false, err
	}
	for _, rec := range rels {
		if core.RelationOf(rec).Involves(movementID) {
			return true, nil
		}
	}
	return false, nil
}

// relate creates the item-to-movement and movement-to-item relations
func (g *GroupLinker) relate(ctx context.Context, itemID, movementID string) error {
	pair := []core.Relation{
		{
			SubjectID:        itemID,
			SubjectType:      g.cfg.Types.Item,
			ObjectID:         movementID,
			ObjectType:       g.cfg.Types.Movement,
			RelationshipType: g.cfg.RelationshipType,
		},
		{
			SubjectID:        movementID,
			SubjectType:      g.cfg.Types.Movement,
			ObjectID:         itemID,
			ObjectType:       g.cfg.Types.Item,
			RelationshipType: g.cfg.RelationshipType,
		},
	}
	m := getMetrics()
	for _, rel := range pair {
		if err := g.store.Create(ctx, rel.Record()); err != nil {
			return fmt.Errorf("creating relation %s -> %s: %w", rel.SubjectID, rel.ObjectID, err)
		}
		m.relationsCreatedTotal.Inc()
	}
	return nil
}

// members returns the sorted IDs of active records of memberType related
// to the group
func (g *GroupLinker) members(ctx context.Context, groupID, memberType string) ([]string, error) {
	rels, err := location.FindRelations(ctx, g.store, groupID, memberType, memberType)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(rels))
	ids := make([]string, 0, len(rels))
	for _, rec := range rels {
		rel := core.RelationOf(rec)
		if g.cfg.MembershipType != "" && rel.RelationshipType != g.cfg.MembershipType {
			continue
		}
		id := rel.Other(groupID)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		state, err := g.store.WorkflowState(ctx, id)
		if err != nil {
			g.log.Warn("skipping group member with unreadable state", "member_id", id, "error", err)
			continue
		}
		if state == core.StateDeleted {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
