// Package pointcache defines the point cache contract used by the caching
// store: unordered get, put and invalidate over single keys, plus batch
// forms.
//
// A lookup that finds nothing, including an expired entry, is a miss and
// never an error. Errors are reserved for failures of the storage behind
// the cache.
package pointcache

import (
	"context"

	"github.com/discochess/strata/internal/key"
)

// Cache is a point cache.
type Cache[K key.Partition, V any] interface {
	// Get returns the cached value for k, or false on a miss.
	Get(ctx context.Context, k K) (V, bool, error)

	// Put caches v under k.
	Put(ctx context.Context, k K, v V) error

	// Invalidate drops any cached value for k.
	Invalidate(ctx context.Context, k K) error

	// BatchGet looks up every key and splits them into hits and misses.
	BatchGet(ctx context.Context, keys []K) (Result[K, V], error)

	// BatchPut caches every entry of values.
	BatchPut(ctx context.Context, values map[K]V) error
}

// Result is the outcome of a batch lookup. Every queried key appears
// exactly once, either in Hits or in Misses.
type Result[K comparable, V any] struct {
	Hits   map[K]V
	Misses []K // in first-seen query order
}

// getter is the single-key lookup BatchGet is built on.
type getter[K comparable, V any] interface {
	Get(ctx context.Context, k K) (V, bool, error)
}

// batchGet implements BatchGet through repeated Get calls. Duplicate keys
// are looked up once.
func batchGet[K comparable, V any](ctx context.Context, g getter[K, V], keys []K) (Result[K, V], error) {
	res := Result[K, V]{Hits: make(map[K]V, len(keys))}
	seen := make(map[K]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}

		v, ok, err := g.Get(ctx, k)
		if err != nil {
			return Result[K, V]{}, err
		}
		if ok {
			res.Hits[k] = v
		} else {
			res.Misses = append(res.Misses, k)
		}
	}
	return res, nil
}

// BatchGet is batchGet for caches outside this package that only
// implement Get.
func BatchGet[K comparable, V any](ctx context.Context, g interface {
	Get(ctx context.Context, k K) (V, bool, error)
}, keys []K) (Result[K, V], error) {
	return batchGet[K, V](ctx, g, keys)
}

// BatchPut implements BatchPut through repeated Put calls.
func BatchPut[K comparable, V any](ctx context.Context, p interface {
	Put(ctx context.Context, k K, v V) error
}, values map[K]V) error {
	for k, v := range values {
		if err := p.Put(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}
