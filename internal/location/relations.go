package location

import (
	"context"
	"fmt"
	"strings"

	"github.com/systemshift/whereabouts/internal/core"
)

// Querier runs record queries against the repository
type Querier interface {
	Query(ctx context.Context, q core.Query) ([]*core.Record, error)
}

// RelationQuery selects active relations where anchorID is the subject and
// the object is of typeB, or anchorID is the object and the subject is of
// typeA.
func RelationQuery(anchorID, typeA, typeB string) core.Query {
	return core.Query{Type: core.RelationType, ActiveOnly: true}.
		Where(core.Eq(core.FieldSubjectCsid, anchorID), core.Prefix(core.FieldObjectDocumentType, typeB)).
		Where(core.Eq(core.FieldObjectCsid, anchorID), core.Prefix(core.FieldSubjectDocumentType, typeA))
}

// FindRelations returns the active relations linking anchorID to records
// of the given types. The result is never nil.
func FindRelations(ctx context.Context, store Querier, anchorID, typeA, typeB string) ([]*core.Record, error) {
	recs, err := store.Query(ctx, RelationQuery(anchorID, typeA, typeB))
	if err != nil {
		return nil, fmt.Errorf("finding relations of %s: %w", anchorID, err)
	}
	if recs == nil {
		recs = []*core.Record{}
	}
	return recs, nil
}

// CounterpartID returns the ID of the endpoint whose type matches
// desiredType when the other endpoint matches relatedType. Relations with
// desiredType at both ends yield "".
func CounterpartID(rel core.Relation, desiredType, relatedType string) string {
	subjectDesired := strings.HasPrefix(rel.SubjectType, desiredType)
	objectDesired := strings.HasPrefix(rel.ObjectType, desiredType)
	switch {
	case subjectDesired && objectDesired:
		return ""
	case subjectDesired && strings.HasPrefix(rel.ObjectType, relatedType):
		return rel.SubjectID
	case strings.HasPrefix(rel.SubjectType, relatedType) && objectDesired:
		return rel.ObjectID
	}
	return ""
}

// otherEnd returns the endpoint of rel that is not anchorID, preferring the
// subject
func otherEnd(rel core.Relation, anchorID string) string {
	if rel.SubjectID == anchorID {
		return rel.ObjectID
	}
	return rel.SubjectID
}
