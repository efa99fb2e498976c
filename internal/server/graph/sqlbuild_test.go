package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/systemshift/whereabouts/internal/core"
)

func TestBuildQuery(t *testing.T) {
	q := core.Query{Type: core.RelationType, ActiveOnly: true}.
		Where(core.Eq(core.FieldSubjectCsid, "I1"), core.Prefix(core.FieldObjectDocumentType, "Movement")).
		Where(core.Eq(core.FieldID, "r1"))

	sqliteWhere := "instr(type, ?) = 1 AND " +
		"((COALESCE(json_extract(properties, '$.subjectCsid'), '') = ? AND " +
		"instr(COALESCE(json_extract(properties, '$.objectDocumentType'), ''), ?) = 1) OR (id = ?)) AND " +
		"is_current = 1 AND is_proxy = 0 AND lifecycle_state <> 'deleted'"
	postgresWhere := "starts_with(type, $1) AND " +
		"((COALESCE(properties->>'subjectCsid', '') = $2 AND " +
		"starts_with(COALESCE(properties->>'objectDocumentType', ''), $3)) OR (id = $4)) AND " +
		"is_current AND NOT is_proxy AND lifecycle_state <> 'deleted'"

	tests := []struct {
		name  string
		d     dialect
		where string
	}{
		{"sqlite", sqliteDialect, sqliteWhere},
		{"postgres", postgresDialect, postgresWhere},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildQuery(tt.d, q)
			assert.Equal(t, "SELECT "+recordColumns+" FROM records WHERE "+tt.where+" ORDER BY id, version", query)
			assert.Equal(t, []any{core.RelationType, "I1", "Movement", "r1"}, args)
		})
	}
}

func TestBuildQueryWithoutFilters(t *testing.T) {
	query, args := buildQuery(sqliteDialect, core.Query{})
	assert.Equal(t, "SELECT "+recordColumns+" FROM records ORDER BY id, version", query)
	assert.Empty(t, args)
}

func TestBuildGetRecord(t *testing.T) {
	query, args := buildGetRecord(postgresDialect, "Movement", "M1")
	assert.Equal(t, "SELECT "+recordColumns+" FROM records WHERE "+
		"((id = $1 AND is_current) OR (version_id = $2 AND NOT is_current)) AND starts_with(type, $3)", query)
	assert.Equal(t, []any{"M1", "M1", "Movement"}, args)

	query, args = buildGetRecord(sqliteDialect, "", "M1:v1")
	assert.Equal(t, "SELECT "+recordColumns+" FROM records WHERE "+
		"((id = ? AND is_current = 1) OR (version_id = ? AND is_current = 0))", query)
	assert.Equal(t, []any{"M1:v1", "M1:v1"}, args)
}
