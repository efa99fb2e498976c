package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unsetEnv clears key for the duration of the test
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "dev", cfg.LogMode)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, "whereabouts.db", cfg.Store.SQLitePath)
	assert.Equal(t, "CollectionObject", cfg.Location.ItemType)
	assert.Equal(t, "Movement", cfg.Location.MovementType)
	assert.Equal(t, []string{
		"record.created",
		"record.modified",
		"record.lifecycle_transition",
		"record.about_to_remove",
	}, cfg.Location.TriggerEvents)
	assert.Equal(t, "affects", cfg.Batch.LinkRelationshipType)
	assert.Empty(t, cfg.Batch.GroupMembershipType)
	assert.Empty(t, cfg.Subscriptions.Webhooks)
	assert.Equal(t, 1000, cfg.Subscriptions.QueueSize)
	assert.Equal(t, 30*time.Second, cfg.Subscriptions.Timeout)
	assert.Equal(t, 3, cfg.Subscriptions.MaxAttempts)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_BACKEND", " Postgres ")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/whereabouts")
	t.Setenv("LOCATION_TRIGGER_EVENTS", "record.modified,record.about_to_remove")
	t.Setenv("GROUP_MEMBERSHIP_TYPE", "hasMember")
	t.Setenv("METRICS_ENABLED", "false")
	t.Setenv("LOCATION_WEBHOOKS", "http://a.example/hook,https://b.example/hook")
	t.Setenv("WEBHOOK_TIMEOUT", "5s")

	cfg, err := Load(noEnvFile(t))
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, BackendPostgres, cfg.Store.Backend)
	assert.Equal(t, "postgres://localhost/whereabouts", cfg.Store.PostgresDSN)
	assert.Equal(t, []string{"record.modified", "record.about_to_remove"}, cfg.Location.TriggerEvents)
	assert.Equal(t, "hasMember", cfg.Batch.GroupMembershipType)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, []string{"http://a.example/hook", "https://b.example/hook"}, cfg.Subscriptions.Webhooks)
	assert.Equal(t, 5*time.Second, cfg.Subscriptions.Timeout)
}

func TestLoadEnvFile(t *testing.T) {
	unsetEnv(t, "STORE_BACKEND")
	unsetEnv(t, "LINK_RELATIONSHIP_TYPE")
	t.Setenv("PORT", "7000")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("STORE_BACKEND=memory\nLINK_RELATIONSHIP_TYPE=movedWith\nPORT=1\n"), 0o600))

	n, err := LoadEnv([]string{noEnvFile(t), path})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cfg, err := Load(noEnvFile(t))
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, "movedWith", cfg.Batch.LinkRelationshipType)
	assert.Equal(t, "7000", cfg.Port, "environment wins over env files")
}

func TestLoadRejectsInvalidEnvironment(t *testing.T) {
	t.Setenv("STORE_BACKEND", "cassandra")
	_, err := Load(noEnvFile(t))
	assert.ErrorContains(t, err, "STORE_BACKEND")

	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("METRICS_ENABLED", "sometimes")
	_, err = Load(noEnvFile(t))
	assert.Error(t, err)
}

func validConfig() Config {
	return Config{
		Port:  "8080",
		Store: StoreOptions{Backend: BackendSQLite, SQLitePath: "test.db", Neo4jURI: "bolt://localhost:7687"},
		Location: LocationOptions{
			ItemType:     "CollectionObject",
			MovementType: "Movement",
		},
		Batch:         BatchOptions{LinkRelationshipType: "affects"},
		Subscriptions: SubscriptionOptions{QueueSize: 10, MaxAttempts: 1},
		Metrics:       MetricsOptions{Enabled: true, Path: "/metrics"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"memory", func(c *Config) { c.Store.Backend = "MEMORY" }, ""},
		{"unknown backend", func(c *Config) { c.Store.Backend = "redis" }, "STORE_BACKEND"},
		{"sqlite without path", func(c *Config) { c.Store.SQLitePath = "" }, "SQLITE_PATH"},
		{"postgres without dsn", func(c *Config) { c.Store.Backend = BackendPostgres }, "POSTGRES_DSN"},
		{"neo4j without uri", func(c *Config) { c.Store.Backend = BackendNeo4j; c.Store.Neo4jURI = "" }, "NEO4J_URI"},
		{"blank item type", func(c *Config) { c.Location.ItemType = " " }, "ITEM_TYPE"},
		{"same types", func(c *Config) { c.Location.ItemType = "Movement" }, "must differ"},
		{"blank link type", func(c *Config) { c.Batch.LinkRelationshipType = "" }, "LINK_RELATIONSHIP_TYPE"},
		{"zero queue size", func(c *Config) { c.Subscriptions.QueueSize = 0 }, "WEBHOOK_QUEUE_SIZE"},
		{"relative metrics path", func(c *Config) { c.Metrics.Path = "metrics" }, "METRICS_PATH"},
		{"metrics disabled", func(c *Config) { c.Metrics.Enabled = false; c.Metrics.Path = "" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
