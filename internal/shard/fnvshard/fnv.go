// Package fnvshard implements FNV-1a hash-based sharding of encoded keys.
package fnvshard

import "github.com/discochess/strata/internal/shard"

// Strategy implements FNV-1a hash-based sharding.
type Strategy struct{}

// Ensure Strategy implements shard.Strategy.
var _ shard.Strategy = (*Strategy)(nil)

// New creates a new FNV-based sharding strategy.
func New() *Strategy {
	return &Strategy{}
}

// Name returns the strategy name.
func (s *Strategy) Name() string {
	return "fnv32"
}

// ShardID hashes key with FNV-1a. totalShards <= 1 always yields shard 0.
func (s *Strategy) ShardID(key string, totalShards int) int {
	if totalShards <= 1 {
		return 0
	}
	return int(fnv1a32(key) % uint32(totalShards))
}

// fnv1a32 computes the FNV-1a 32-bit hash of a string.
func fnv1a32(s string) uint32 {
	var h uint32 = 2166136261 // FNV offset basis
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619 // FNV prime
	}
	return h
}
