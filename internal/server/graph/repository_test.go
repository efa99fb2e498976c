package graph

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/whereabouts/internal/core"
	"github.com/systemshift/whereabouts/internal/server/events"
)

// eventLog records emitted events
type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) emit(ctx context.Context, ev events.Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Type)
	}
	return out
}

func (l *eventLog) reset() {
	l.mu.Lock()
	l.events = nil
	l.mu.Unlock()
}

func ids(recs []*core.Record) []string {
	out := make([]string, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.VersionID)
	}
	return out
}

// testRepository runs the behavior every backend shares. open must return
// an empty repository.
func testRepository(t *testing.T, open func(t *testing.T) Repository) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		repo := open(t)
		log := &eventLog{}
		repo.SetEventEmitter(log.emit)

		rec := &core.Record{Type: "CollectionObject-5.1", Fields: map[string]any{"objectNumber": "2024.1.1"}}
		require.NoError(t, repo.Create(ctx, rec))
		assert.NotEmpty(t, rec.ID)
		assert.Equal(t, 1, rec.Version)
		assert.Equal(t, rec.ID+":v1", rec.VersionID)
		assert.Equal(t, core.StateProject, rec.LifecycleState)
		assert.Equal(t, []string{events.RecordCreated}, log.types())

		got, err := repo.GetRecord(ctx, "CollectionObject", rec.ID)
		require.NoError(t, err)
		assert.Equal(t, "2024.1.1", got.FieldString("objectNumber"))
		assert.False(t, got.IsVersion)

		_, err = repo.GetRecord(ctx, "Movement", rec.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		err = repo.Create(ctx, &core.Record{ID: rec.ID, Type: "CollectionObject"})
		assert.ErrorIs(t, err, ErrExists)

		assert.Error(t, repo.Create(ctx, &core.Record{ID: "untyped"}))
	})

	t.Run("save keeps versions", func(t *testing.T) {
		repo := open(t)
		rec := &core.Record{ID: "M1", Type: "Movement", Fields: map[string]any{"currentLocation": "shelf-1"}}
		require.NoError(t, repo.Create(ctx, rec))

		rec.Fields["currentLocation"] = "shelf-2"
		rec.Type = "Renamed"
		require.NoError(t, repo.Save(ctx, rec))
		assert.Equal(t, 2, rec.Version)
		assert.Equal(t, "Movement", rec.Type)

		cur, err := repo.GetRecord(ctx, "", "M1")
		require.NoError(t, err)
		assert.Equal(t, "shelf-2", cur.FieldString("currentLocation"))
		assert.Equal(t, "M1:v2", cur.VersionID)

		snap, err := repo.GetRecord(ctx, "Movement", "M1:v1")
		require.NoError(t, err)
		assert.True(t, snap.IsVersion)
		assert.Equal(t, "shelf-1", snap.FieldString("currentLocation"))

		active, err := repo.Query(ctx, core.Query{Type: "Movement", ActiveOnly: true})
		require.NoError(t, err)
		assert.Equal(t, []string{"M1:v2"}, ids(active))

		all, err := repo.Query(ctx, core.Query{Type: "Movement"})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"M1:v1", "M1:v2"}, ids(all))

		err = repo.Save(ctx, &core.Record{ID: "missing", Type: "Movement"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("lifecycle transitions", func(t *testing.T) {
		repo := open(t)
		log := &eventLog{}
		require.NoError(t, repo.Create(ctx, &core.Record{ID: "I1", Type: "CollectionObject"}))
		repo.SetEventEmitter(log.emit)

		require.NoError(t, repo.SetLifecycleState(ctx, "I1", core.StateDeleted))
		state, err := repo.WorkflowState(ctx, "I1")
		require.NoError(t, err)
		assert.Equal(t, core.StateDeleted, state)
		require.Equal(t, []string{events.RecordLifecycleTransition}, log.types())
		assert.Equal(t, core.StateProject, log.events[0].Meta["from_state"])
		assert.Equal(t, core.StateDeleted, log.events[0].Meta["to_state"])

		log.reset()
		require.NoError(t, repo.SetLifecycleState(ctx, "I1", core.StateDeleted))
		assert.Empty(t, log.types())

		active, err := repo.Query(ctx, core.Query{Type: "CollectionObject", ActiveOnly: true})
		require.NoError(t, err)
		assert.Empty(t, active)

		_, err = repo.WorkflowState(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, repo.SetLifecycleState(ctx, "missing", core.StateLocked), ErrNotFound)
		assert.Error(t, repo.SetLifecycleState(ctx, "I1", " "))
	})

	t.Run("hard delete", func(t *testing.T) {
		repo := open(t)
		rec := &core.Record{ID: "R1", Type: core.RelationType}
		require.NoError(t, repo.Create(ctx, rec))
		require.NoError(t, repo.Save(ctx, rec))

		var seenDuringRemove *core.Record
		log := &eventLog{}
		repo.SetEventEmitter(func(ctx context.Context, ev events.Event) {
			log.emit(ctx, ev)
			if ev.Type == events.RecordAboutToRemove {
				seenDuringRemove, _ = repo.GetRecord(ctx, "", "R1")
			}
		})

		require.NoError(t, repo.Delete(ctx, "R1"))
		assert.Equal(t, []string{events.RecordAboutToRemove, events.RecordRemoved}, log.types())
		require.NotNil(t, seenDuringRemove)
		assert.Equal(t, "R1", log.events[0].Source.ID)

		_, err := repo.GetRecord(ctx, "", "R1")
		assert.ErrorIs(t, err, ErrNotFound)
		all, err := repo.Query(ctx, core.Query{})
		require.NoError(t, err)
		assert.Empty(t, all)

		assert.ErrorIs(t, repo.Delete(ctx, "R1"), ErrNotFound)
	})

	t.Run("relation queries", func(t *testing.T) {
		repo := open(t)
		rels := []core.Relation{
			{ID: "r1", SubjectID: "I1", SubjectType: "CollectionObject", ObjectID: "M1", ObjectType: "Movement", RelationshipType: "affects"},
			{ID: "r2", SubjectID: "M2", SubjectType: "Movement-2.0", ObjectID: "I1", ObjectType: "CollectionObject", RelationshipType: "affects"},
			{ID: "r3", SubjectID: "G1", SubjectType: "Group", ObjectID: "I1", ObjectType: "CollectionObject", RelationshipType: "affects"},
			{ID: "r4", SubjectID: "I2", SubjectType: "CollectionObject", ObjectID: "M1", ObjectType: "Movement", RelationshipType: "affects"},
		}
		for _, rel := range rels {
			require.NoError(t, repo.Create(ctx, rel.Record()))
		}
		require.NoError(t, repo.Create(ctx, &core.Record{ID: "proxy", Type: core.RelationType, IsProxy: true, Fields: map[string]any{
			core.FieldSubjectCsid:        "I1",
			core.FieldObjectDocumentType: "Movement",
		}}))

		q := core.Query{Type: core.RelationType, ActiveOnly: true}.
			Where(core.Eq(core.FieldSubjectCsid, "I1"), core.Prefix(core.FieldObjectDocumentType, "Movement")).
			Where(core.Eq(core.FieldObjectCsid, "I1"), core.Prefix(core.FieldSubjectDocumentType, "Movement"))
		got, err := repo.Query(ctx, q)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"r1:v1", "r2:v1"}, ids(got))

		byID, err := repo.Query(ctx, core.Query{}.Where(core.Eq(core.FieldID, "r4")))
		require.NoError(t, err)
		assert.Equal(t, []string{"r4:v1"}, ids(byID))

		byType, err := repo.Query(ctx, core.Query{}.Where(core.Prefix(core.FieldType, "Rel"), core.Eq(core.FieldSubjectCsid, "G1")))
		require.NoError(t, err)
		assert.Equal(t, []string{"r3:v1"}, ids(byType))

		_, err = repo.Query(ctx, core.Query{}.Where(core.Eq("bad field'", "x")))
		assert.ErrorIs(t, err, ErrInvalidField)
	})
}
