// Package shard provides shard key generation for the relationship table.
package shard

import (
	"fmt"
	"hash/fnv"
)

// MaxShards is the largest supported shard count.
const MaxShards = 256

// RelationshipPK computes the sharded partition key of a relationship record.
// All dependents of one dependency share the dependency's prefix; with
// numShards>1 they are spread across shards by a hash of the dependent ref.
func RelationshipPK(dependencyRef, dependentRef string, numShards int) string {
	if numShards <= 1 {
		return Key(dependencyRef, 0)
	}
	h := fnv.New32a()
	h.Write([]byte(dependentRef))
	return Key(dependencyRef, int(h.Sum32()%uint32(numShards)))
}

// Key returns the partition key of one shard of a dependency.
func Key(dependencyRef string, shard int) string {
	return fmt.Sprintf("%s#%02x", dependencyRef, shard)
}

// Clamp bounds a shard count to [1, MaxShards].
func Clamp(numShards int) int {
	switch {
	case numShards < 1:
		return 1
	case numShards > MaxShards:
		return MaxShards
	}
	return numShards
}
