package graph

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/whereabouts/internal/core"
)

func openTestSQLite(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLite(context.Background(), filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close(context.Background()) })
	return repo
}

func TestSQLiteRepository(t *testing.T) {
	testRepository(t, func(t *testing.T) Repository {
		return openTestSQLite(t)
	})
}

func TestSQLiteFieldRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := openTestSQLite(t)
	when := time.Date(2021, 6, 15, 9, 30, 0, 0, time.UTC)

	rec := &core.Record{ID: "M1", Type: "Movement", ChangedBy: "registrar", Fields: map[string]any{
		"locationDate":    when,
		"currentLocation": "shelf-1",
	}}
	require.NoError(t, repo.Create(ctx, rec))

	got, err := repo.GetRecord(ctx, "Movement", "M1")
	require.NoError(t, err)
	date, ok := got.FieldTime("locationDate")
	require.True(t, ok)
	assert.True(t, when.Equal(date))
	assert.Equal(t, "shelf-1", got.FieldString("currentLocation"))
	assert.Equal(t, "registrar", got.ChangedBy)
}

func TestSQLiteReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "records.db")

	repo, err := NewSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, &core.Record{ID: "I1", Type: "CollectionObject"}))
	require.NoError(t, repo.Close(ctx))

	repo, err = NewSQLite(ctx, path)
	require.NoError(t, err)
	defer repo.Close(ctx)
	state, err := repo.WorkflowState(ctx, "I1")
	require.NoError(t, err)
	assert.Equal(t, core.StateProject, state)
}
