// Package lru implements a capacity-bounded point cache with
// least-recently-used eviction.
package lru

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/discochess/strata/internal/key"
	"github.com/discochess/strata/internal/pointcache"
)

// Compile-time check that Cache implements pointcache.Cache.
var _ pointcache.Cache[key.Name, []byte] = (*Cache[key.Name, []byte])(nil)

// Cache is a thread-safe LRU point cache.
type Cache[K key.Partition, V any] struct {
	cache *lru.Cache[K, V]
}

// New creates an LRU cache holding at most capacity entries.
func New[K key.Partition, V any](capacity int) (*Cache[K, V], error) {
	c, err := lru.New[K, V](capacity)
	if err != nil {
		return nil, err
	}
	return &Cache[K, V]{cache: c}, nil
}

// Get returns the cached value and marks it recently used.
func (c *Cache[K, V]) Get(_ context.Context, k K) (V, bool, error) {
	v, ok := c.cache.Get(k)
	return v, ok, nil
}

// Put adds v, evicting the least recently used entry when full.
func (c *Cache[K, V]) Put(_ context.Context, k K, v V) error {
	c.cache.Add(k, v)
	return nil
}

// Invalidate removes k.
func (c *Cache[K, V]) Invalidate(_ context.Context, k K) error {
	c.cache.Remove(k)
	return nil
}

// BatchGet looks up every key.
func (c *Cache[K, V]) BatchGet(ctx context.Context, keys []K) (pointcache.Result[K, V], error) {
	return pointcache.BatchGet[K, V](ctx, c, keys)
}

// BatchPut adds every entry.
func (c *Cache[K, V]) BatchPut(ctx context.Context, values map[K]V) error {
	return pointcache.BatchPut[K, V](ctx, c, values)
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	return c.cache.Len()
}
