// Package shard defines the strategy that spreads partition keys over a
// fixed number of lock stripes.
package shard

// Strategy maps encoded keys to shard IDs.
type Strategy interface {
	// Name returns a human-readable name for this strategy.
	Name() string

	// ShardID computes the shard for an encoded key.
	// The returned value is in the range [0, totalShards).
	ShardID(key string, totalShards int) int
}
