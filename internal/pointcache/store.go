package pointcache

import (
	"context"

	"github.com/discochess/strata/internal/key"
	"github.com/discochess/strata/internal/store"
)

// Compile-time check that StoreCache implements Cache.
var _ Cache[key.Name, int] = (*StoreCache[key.Name, int])(nil)

// StoreCache is a Cache whose storage is a backing Store, for example an
// in-memory or embedded store acting as a local copy of a remote one.
type StoreCache[K key.Partition, V any] struct {
	store store.Store[K, V]
}

// FromStore returns a cache kept in s.
func FromStore[K key.Partition, V any](s store.Store[K, V]) *StoreCache[K, V] {
	return &StoreCache[K, V]{store: s}
}

// Get returns the value held in the store.
func (c *StoreCache[K, V]) Get(ctx context.Context, k K) (V, bool, error) {
	return c.store.Get(ctx, k)
}

// Put writes v to the store.
func (c *StoreCache[K, V]) Put(ctx context.Context, k K, v V) error {
	return c.store.Put(ctx, k, v)
}

// Invalidate deletes k from the store.
func (c *StoreCache[K, V]) Invalidate(ctx context.Context, k K) error {
	return c.store.Delete(ctx, k)
}

// BatchGet splits keys into those present in the store and those missing.
func (c *StoreCache[K, V]) BatchGet(ctx context.Context, keys []K) (Result[K, V], error) {
	return batchGet[K, V](ctx, c, keys)
}

// BatchPut writes every entry to the store.
func (c *StoreCache[K, V]) BatchPut(ctx context.Context, values map[K]V) error {
	return BatchPut[K, V](ctx, c, values)
}
