package main

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/whereabouts/internal/batch"
	"github.com/systemshift/whereabouts/internal/config"
	"github.com/systemshift/whereabouts/internal/core"
	"github.com/systemshift/whereabouts/internal/location"
	"github.com/systemshift/whereabouts/internal/server/api"
	"github.com/systemshift/whereabouts/internal/server/graph"
)

func withServerFlag(t *testing.T, url string) {
	t.Helper()
	prev := rootFlags.server
	rootFlags.server = url
	t.Cleanup(func() { rootFlags.server = prev })
}

func TestJobsAgainstServer(t *testing.T) {
	ctx := context.Background()
	repo := graph.NewMemory()
	require.NoError(t, repo.Create(ctx, &core.Record{ID: "I1", Type: "CollectionObject"}))

	r := chi.NewRouter()
	resolver := location.NewResolver(repo, location.DefaultTypes())
	api.New(repo, resolver, batch.NewGroupLinker(repo, batch.Config{}, nil), nil, nil).Routes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()
	withServerFlag(t, srv.URL)

	out, err := relateGroup(ctx, "G1")
	require.NoError(t, err)
	assert.Equal(t, batch.MsgNoMovement, out.Message)

	upd, err := recompute(ctx, "I1")
	require.NoError(t, err)
	assert.Equal(t, "I1", upd.ItemID)
	assert.Empty(t, upd.MovementID)
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	repo, err := openStore(ctx, config.StoreOptions{Backend: config.BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &graph.MemoryRepository{}, repo)

	repo, err = openStore(ctx, config.StoreOptions{
		Backend:    config.BackendSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "records.db"),
	})
	require.NoError(t, err)
	assert.IsType(t, &graph.SQLiteRepository{}, repo)
	require.NoError(t, repo.Close(ctx))

	_, err = openStore(ctx, config.StoreOptions{Backend: "cassandra"})
	assert.Error(t, err)
}

func TestNewAppWithMemoryStore(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	prev := rootFlags.envFiles
	rootFlags.envFiles = []string{filepath.Join(t.TempDir(), "missing.env")}
	t.Cleanup(func() { rootFlags.envFiles = prev })

	ctx := context.Background()
	a, err := newApp(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, a.bus.Len())

	require.NoError(t, a.repo.Create(ctx, &core.Record{ID: "I1", Type: "CollectionObject"}))
	require.NoError(t, a.repo.Create(ctx, &core.Record{ID: "M1", Type: "Movement", Fields: map[string]any{
		location.LocationDateField:    "2020-01-01",
		location.CurrentLocationField: "shelf-1",
	}}))
	require.NoError(t, a.repo.Create(ctx, core.Relation{
		SubjectID: "I1", SubjectType: "CollectionObject", ObjectID: "M1", ObjectType: "Movement",
	}.Record()))

	item, err := a.repo.GetRecord(ctx, "", "I1")
	require.NoError(t, err)
	assert.Equal(t, "shelf-1", item.FieldString(location.ComputedCurrentLocationField))

	a.Close(ctx)
	assert.Zero(t, a.bus.Len())
}
