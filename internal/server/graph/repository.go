package graph

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/systemshift/whereabouts/internal/core"
	"github.com/systemshift/whereabouts/internal/server/events"
)

var (
	// ErrNotFound is returned when a lookup matches no record
	ErrNotFound = errors.New("record not found")
	// ErrAmbiguous is returned when a singleton lookup matches more than one record
	ErrAmbiguous = errors.New("more than one record matched")
	// ErrExists is returned when creating a record whose ID is taken
	ErrExists = errors.New("record already exists")
	// ErrInvalidField is returned for query fields that cannot be addressed
	ErrInvalidField = errors.New("invalid query field")
)

// Repository defines the interface for record storage backends.
// Memory, SQLite, Postgres and Neo4j implement this interface.
type Repository interface {
	// Lifecycle
	Close(ctx context.Context) error
	SetEventEmitter(emitter events.Emitter)

	// Lookups
	Query(ctx context.Context, q core.Query) ([]*core.Record, error)
	GetRecord(ctx context.Context, typeName, id string) (*core.Record, error)
	WorkflowState(ctx context.Context, id string) (string, error)

	// Writes
	Create(ctx context.Context, rec *core.Record) error
	Save(ctx context.Context, rec *core.Record) error
	SetLifecycleState(ctx context.Context, id, state string) error
	Delete(ctx context.Context, id string) error
}

// versionID names a stored version of a record
func versionID(id string, version int) string {
	return fmt.Sprintf("%s:v%d", id, version)
}

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validateQuery rejects field names that cannot be safely embedded in a
// backend query expression
func validateQuery(q core.Query) error {
	for _, group := range q.Any {
		for _, c := range group {
			if !fieldNamePattern.MatchString(c.Field) {
				return fmt.Errorf("%w: %q", ErrInvalidField, c.Field)
			}
		}
	}
	return nil
}

// singleRecord applies the exactly-one rule of GetRecord to a result set
func singleRecord(recs []*core.Record, id string) (*core.Record, error) {
	switch len(recs) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	case 1:
		return recs[0], nil
	default:
		return nil, fmt.Errorf("%w: %d records with id %s", ErrAmbiguous, len(recs), id)
	}
}

// lifecycleMeta describes a workflow transition for event consumers
func lifecycleMeta(from, to string) map[string]any {
	return map[string]any{
		"from_state": from,
		"to_state":   to,
	}
}
