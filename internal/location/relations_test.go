package location

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/whereabouts/internal/core"
)

func TestCounterpartID(t *testing.T) {
	tests := []struct {
		name string
		rel  core.Relation
		want string
	}{
		{
			name: "movement as subject",
			rel:  core.Relation{SubjectID: "m1", SubjectType: "Movement", ObjectID: "i1", ObjectType: "CollectionObject"},
			want: "m1",
		},
		{
			name: "movement as object",
			rel:  core.Relation{SubjectID: "i1", SubjectType: "CollectionObject-5.1", ObjectID: "m1", ObjectType: "Movement"},
			want: "m1",
		},
		{
			name: "movement at both ends",
			rel:  core.Relation{SubjectID: "m1", SubjectType: "Movement", ObjectID: "m2", ObjectType: "Movement"},
			want: "",
		},
		{
			name: "unrelated types",
			rel:  core.Relation{SubjectID: "g1", SubjectType: "Group", ObjectID: "i1", ObjectType: "CollectionObject"},
			want: "",
		},
		{
			name: "movement with non-item counterpart",
			rel:  core.Relation{SubjectID: "m1", SubjectType: "Movement", ObjectID: "g1", ObjectType: "Group"},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CounterpartID(tt.rel, "Movement", "CollectionObject"))
		})
	}
}

func TestFindRelations(t *testing.T) {
	f := newFixture(t)
	i1 := f.item("i1")
	m1 := f.movement("m1", day(2020, 1, 1), "loc-1")
	m2 := f.movement("m2", day(2021, 6, 15), "loc-2")
	g1 := &core.Record{ID: "g1", Type: "Group"}
	require.NoError(t, f.repo.Create(f.ctx, g1))

	forward := f.relate(i1, m1)
	backward := f.relate(m2, i1)
	f.relate(g1, i1)
	deleted := f.relate(i1, m2)
	require.NoError(t, f.repo.SetLifecycleState(f.ctx, deleted.ID, core.StateDeleted))

	t.Run("both directions", func(t *testing.T) {
		rels, err := FindRelations(f.ctx, f.repo, i1.ID, "Movement", "Movement")
		require.NoError(t, err)
		ids := []string{}
		for _, r := range rels {
			ids = append(ids, r.ID)
		}
		assert.ElementsMatch(t, []string{forward.ID, backward.ID}, ids)
	})

	t.Run("no match is empty not nil", func(t *testing.T) {
		rels, err := FindRelations(f.ctx, f.repo, "nobody", "Movement", "Movement")
		require.NoError(t, err)
		assert.NotNil(t, rels)
		assert.Empty(t, rels)
	})

	t.Run("query failure", func(t *testing.T) {
		_, err := FindRelations(f.ctx, failingQuerier{}, i1.ID, "Movement", "Movement")
		require.Error(t, err)
		assert.ErrorIs(t, err, errQuery)
	})
}

func TestRelationQueryString(t *testing.T) {
	q := RelationQuery("i1", "Movement", "Movement")
	assert.Equal(t,
		"SELECT * FROM Relation WHERE ((subjectCsid = 'i1' AND objectDocumentType STARTSWITH 'Movement') OR "+
			"(objectCsid = 'i1' AND subjectDocumentType STARTSWITH 'Movement')) AND "+core.ActiveFragment,
		q.String())
}

var errQuery = errors.New("query failed")

type failingQuerier struct{}

func (failingQuerier) Query(ctx context.Context, q core.Query) ([]*core.Record, error) {
	return nil, errQuery
}
