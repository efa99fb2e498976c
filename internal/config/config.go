// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store backends
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendNeo4j    = "neo4j"
)

type StoreOptions struct {
	Backend    string `env:"STORE_BACKEND" envDefault:"sqlite"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"whereabouts.db"`

	PostgresDSN string `env:"POSTGRES_DSN"`

	Neo4jURI      string `env:"NEO4J_URI" envDefault:"bolt://localhost:7687"`
	Neo4jUser     string `env:"NEO4J_USER" envDefault:"neo4j"`
	Neo4jPassword string `env:"NEO4J_PASSWORD"`
	Neo4jDatabase string `env:"NEO4J_DATABASE" envDefault:"neo4j"`
}

type LocationOptions struct {
	ItemType         string   `env:"ITEM_TYPE" envDefault:"CollectionObject"`
	MovementType     string   `env:"MOVEMENT_TYPE" envDefault:"Movement"`
	GroupType        string   `env:"GROUP_TYPE" envDefault:"Group"`
	TriggerEvents    []string `env:"LOCATION_TRIGGER_EVENTS" envSeparator:"," envDefault:"record.created,record.modified,record.lifecycle_transition,record.about_to_remove"`
	FieldMappingFile string   `env:"FIELD_MAPPING_FILE"`
}

type BatchOptions struct {
	LinkRelationshipType string `env:"LINK_RELATIONSHIP_TYPE" envDefault:"affects"`
	GroupMembershipType  string `env:"GROUP_MEMBERSHIP_TYPE"`
}

type SubscriptionOptions struct {
	Webhooks    []string      `env:"LOCATION_WEBHOOKS" envSeparator:","`
	QueueSize   int           `env:"WEBHOOK_QUEUE_SIZE" envDefault:"1000"`
	Timeout     time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"30s"`
	MaxAttempts int           `env:"WEBHOOK_MAX_ATTEMPTS" envDefault:"3"`
}

type MetricsOptions struct {
	Enabled bool   `env:"METRICS_ENABLED" envDefault:"true"`
	Path    string `env:"METRICS_PATH" envDefault:"/metrics"`
}

type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	LogMode  string `env:"LOG_MODE" envDefault:"dev"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Store         StoreOptions
	Location      LocationOptions
	Batch         BatchOptions
	Subscriptions SubscriptionOptions
	Metrics       MetricsOptions
}

// LoadEnv loads the env files that exist, in order. Variables already set
// in the environment win. It returns how many files were loaded.
func LoadEnv(envFiles []string) (int, error) {
	existing := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

// Load reads .env files and the environment into a validated Config
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env", ".env.local"}
	}
	if _, err := LoadEnv(envFiles); err != nil {
		return nil, fmt.Errorf("loading env files: %w", err)
	}
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks option combinations
func (c *Config) Validate() error {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	switch c.Store.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORE_BACKEND is 'sqlite'")
		}
	case BackendPostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required when STORE_BACKEND is 'postgres'")
		}
	case BackendNeo4j:
		if c.Store.Neo4jURI == "" {
			return fmt.Errorf("NEO4J_URI is required when STORE_BACKEND is 'neo4j'")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be one of memory, sqlite, postgres or neo4j, got '%s'", c.Store.Backend)
	}

	if strings.TrimSpace(c.Location.ItemType) == "" || strings.TrimSpace(c.Location.MovementType) == "" {
		return fmt.Errorf("ITEM_TYPE and MOVEMENT_TYPE must not be empty")
	}
	if c.Location.ItemType == c.Location.MovementType {
		return fmt.Errorf("ITEM_TYPE and MOVEMENT_TYPE must differ, both are '%s'", c.Location.ItemType)
	}
	if strings.TrimSpace(c.Batch.LinkRelationshipType) == "" {
		return fmt.Errorf("LINK_RELATIONSHIP_TYPE must not be empty")
	}
	if c.Subscriptions.QueueSize < 1 || c.Subscriptions.MaxAttempts < 1 {
		return fmt.Errorf("WEBHOOK_QUEUE_SIZE and WEBHOOK_MAX_ATTEMPTS must be positive")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("METRICS_PATH must start with '/', got '%s'", c.Metrics.Path)
	}
	return nil
}
