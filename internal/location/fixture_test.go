package location

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/systemshift/whereabouts/internal/core"
	"github.com/systemshift/whereabouts/internal/server/graph"
)

type fixture struct {
	t    *testing.T
	ctx  context.Context
	repo *graph.MemoryRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{t: t, ctx: context.Background(), repo: graph.NewMemory()}
}

func (f *fixture) item(id string) *core.Record {
	f.t.Helper()
	rec := &core.Record{ID: id, Type: "CollectionObject", Fields: map[string]any{"objectNumber": id}}
	require.NoError(f.t, f.repo.Create(f.ctx, rec))
	return rec
}

func (f *fixture) movement(id string, date time.Time, loc string) *core.Record {
	f.t.Helper()
	fields := map[string]any{CurrentLocationField: loc}
	if !date.IsZero() {
		fields[LocationDateField] = date
	}
	rec := &core.Record{ID: id, Type: "Movement", Fields: fields}
	require.NoError(f.t, f.repo.Create(f.ctx, rec))
	return rec
}

func (f *fixture) relate(subject, object *core.Record) *core.Record {
	f.t.Helper()
	return f.relateIDs(subject.ID, subject.Type, object.ID, object.Type)
}

func (f *fixture) relateIDs(subjectID, subjectType, objectID, objectType string) *core.Record {
	f.t.Helper()
	rec := core.Relation{
		SubjectID:        subjectID,
		SubjectType:      subjectType,
		ObjectID:         objectID,
		ObjectType:       objectType,
		RelationshipType: "affects",
	}.Record()
	require.NoError(f.t, f.repo.Create(f.ctx, rec))
	return rec
}

func (f *fixture) get(id string) *core.Record {
	f.t.Helper()
	rec, err := f.repo.GetRecord(f.ctx, "", id)
	require.NoError(f.t, err)
	return rec
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

// countingStore wraps a repository and counts reads and writes per ID
type countingStore struct {
	*graph.MemoryRepository

	mu      sync.Mutex
	gets    map[string]int
	saves   map[string]int
	failIDs map[string]bool
}

func newCountingStore(repo *graph.MemoryRepository) *countingStore {
	return &countingStore{
		MemoryRepository: repo,
		gets:             map[string]int{},
		saves:            map[string]int{},
		failIDs:          map[string]bool{},
	}
}

func (s *countingStore) GetRecord(ctx context.Context, typeName, id string) (*core.Record, error) {
	s.mu.Lock()
	s.gets[id]++
	s.mu.Unlock()
	return s.MemoryRepository.GetRecord(ctx, typeName, id)
}

func (s *countingStore) Save(ctx context.Context, rec *core.Record) error {
	s.mu.Lock()
	s.saves[rec.ID]++
	fail := s.failIDs[rec.ID]
	s.mu.Unlock()
	if fail {
		return errSaveFailed
	}
	return s.MemoryRepository.Save(ctx, rec)
}

var errSaveFailed = errors.New("save failed")
