// Package config reads grove configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"

	"github.com/jacentio/grove/internal/logging"
	"github.com/jacentio/grove/internal/shard"
	"github.com/jacentio/grove/loader"
	"github.com/jacentio/grove/store"
)

// Backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
)

// ErrUnknownBackend is returned for a backend name grove does not support.
var ErrUnknownBackend = errors.New("grove: unknown backend")

// Config holds the runtime configuration of the grove binaries.
type Config struct {
	// FixturesDir is the directory scanned for definition files.
	// Empty means <cwd>/test/factories.
	FixturesDir string `env:"GROVE_FIXTURES_DIR"`

	// Pattern selects definition files relative to FixturesDir.
	Pattern string `env:"GROVE_PATTERN" envDefault:"**/*.{js,yaml,yml}"`

	// SchemaFile is the YAML model schema used by the persistent backends.
	SchemaFile string `env:"GROVE_SCHEMA_FILE"`

	// Backend selects the persister: memory, sqlite, postgres or dynamodb.
	Backend string `env:"GROVE_BACKEND" envDefault:"memory"`

	// DSN is the data source of the sqlite and postgres backends.
	DSN string `env:"GROVE_DSN"`

	// RelationshipTable and NumShards configure the dynamodb backend.
	RelationshipTable string `env:"GROVE_RELATIONSHIP_TABLE" envDefault:"grove_relationships"`
	NumShards         int    `env:"GROVE_NUM_SHARDS" envDefault:"1"`

	LogLevel    string `env:"GROVE_LOG_LEVEL" envDefault:"info"`
	Development bool   `env:"GROVE_DEVELOPMENT"`
}

// DefaultConfig returns the configuration used when no variables are set.
func DefaultConfig() Config {
	return Config{
		Pattern:           loader.DefaultPattern,
		Backend:           BackendMemory,
		RelationshipTable: store.DefaultRelationshipTable,
		NumShards:         1,
		LogLevel:          "info",
	}
}

// Load parses the environment on top of DefaultConfig.
func Load() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validate normalizes values and rejects unusable ones.
func (c *Config) validate() error {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	switch c.Backend {
	case "":
		c.Backend = BackendMemory
	case BackendMemory, BackendSQLite, BackendPostgres, BackendDynamoDB:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Backend)
	}
	if c.Pattern == "" {
		c.Pattern = loader.DefaultPattern
	}
	if c.RelationshipTable == "" {
		c.RelationshipTable = store.DefaultRelationshipTable
	}
	c.NumShards = shard.Clamp(c.NumShards)
	return nil
}

// Validate applies the same normalization as Load to a Config built by hand,
// such as one populated from command-line flags.
func (c *Config) Validate() error {
	return c.validate()
}

// Logging returns the logger configuration.
func (c Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.LogLevel
	cfg.Development = c.Development
	return cfg
}

// StoreConfig returns the DynamoDB store configuration.
func (c Config) StoreConfig() store.Config {
	return store.Config{
		RelationshipTable: c.RelationshipTable,
		NumShards:         c.NumShards,
	}
}
