package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueryMatches(t *testing.T) {
	rel := Relation{
		ID:          "r1",
		SubjectID:   "I1",
		SubjectType: "CollectionObject",
		ObjectID:    "M1",
		ObjectType:  "Movement-2.0",
	}.Record()

	q := Query{Type: RelationType, ActiveOnly: true}.
		Where(Eq(FieldSubjectCsid, "I1"), Prefix(FieldObjectDocumentType, "Movement")).
		Where(Eq(FieldObjectCsid, "I1"), Prefix(FieldSubjectDocumentType, "Movement"))

	assert.True(t, q.Matches(rel))
	assert.False(t, Query{Type: "Movement"}.Matches(rel))
	assert.True(t, Query{}.Matches(rel))
	assert.False(t, q.Matches(nil))
	assert.True(t, Query{}.Where(Eq(FieldID, "r1"), Prefix(FieldType, "Rel")).Matches(rel))

	inactive := []*Record{rel.Clone(), rel.Clone(), rel.Clone()}
	inactive[0].LifecycleState = StateDeleted
	inactive[1].IsProxy = true
	inactive[2].IsVersion = true
	for _, rec := range inactive {
		assert.False(t, q.Matches(rec))
		assert.True(t, Query{Type: RelationType}.Matches(rec))
	}
}

func TestQueryWhereDoesNotAlias(t *testing.T) {
	base := Query{Type: "Movement"}.Where(Eq(FieldID, "a"))
	left := base.Where(Eq(FieldID, "b"))
	right := base.Where(Eq(FieldID, "c"))

	assert.Len(t, base.Any, 1)
	assert.Equal(t, "b", left.Any[1][0].Value)
	assert.Equal(t, "c", right.Any[1][0].Value)
}

func TestQueryString(t *testing.T) {
	assert.Equal(t, "SELECT * FROM Document", Query{}.String())
	assert.Equal(t,
		"SELECT * FROM Movement WHERE ((id = 'o''brien') OR (type STARTSWITH 'Move'))",
		Query{Type: "Movement"}.Where(Eq(FieldID, "o'brien")).Where(Prefix(FieldType, "Move")).String())
	assert.Equal(t, "SELECT * FROM Relation WHERE "+ActiveFragment, Query{Type: RelationType, ActiveOnly: true}.String())
}
