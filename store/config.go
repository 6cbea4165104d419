package store

import (
	"time"

	"github.com/jacentio/grove/internal/shard"
)

// DefaultRelationshipTable is the relationship table used when none is configured.
const DefaultRelationshipTable = "grove_relationships"

// Config holds configuration for the Store.
type Config struct {
	// RelationshipTable is the name of the relationship table.
	// Default: "grove_relationships"
	RelationshipTable string

	// NumShards is the number of shards per dependency in the relationship table.
	// Higher values spread the writes of many dependents but require more
	// parallel queries during teardown.
	// Default: 1 (no sharding, single query)
	// Max: 256
	NumShards int

	// RecordTTL, when positive, makes every created record expire after this
	// duration so abandoned fixtures clean themselves up.
	// Default: 0 (records live until torn down)
	RecordTTL time.Duration
}

// DefaultConfig returns sensible defaults for small datasets.
func DefaultConfig() Config {
	return Config{
		RelationshipTable: DefaultRelationshipTable,
		NumShards:         1,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.RelationshipTable == "" {
		c.RelationshipTable = DefaultRelationshipTable
	}
	c.NumShards = shard.Clamp(c.NumShards)
	if c.RecordTTL < 0 {
		c.RecordTTL = 0
	}
}
