// Package cachedstore provides a read-through caching wrapper for Store
// implementations.
//
// Reads consult the cache first and populate it from the backing store on
// a miss; absent values are never cached. Writes go to the backing store
// only and leave any cached value in place, so a Put that changes a cached
// key stays invisible to Get until the key is deleted through this store or
// evicted from the cache. Delete invalidates the cache before deleting from
// the backing store.
package cachedstore

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/discochess/strata/internal/key"
	"github.com/discochess/strata/internal/pointcache"
	"github.com/discochess/strata/internal/stats"
	"github.com/discochess/strata/internal/store"
)

// Compile-time check that Store implements store.Store.
var _ store.Store[key.Name, []byte] = (*Store[key.Name, []byte])(nil)

// Store wraps another Store with a point cache.
type Store[K key.Partition, V any] struct {
	underlying store.Store[K, V]
	cache      pointcache.Cache[K, V]
	logger     *zap.Logger
	collector  stats.Collector

	// group is nil unless coalescing is enabled.
	group *singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// Option configures a Store.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	collector  stats.Collector
	coalescing bool
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithStats sets the collector for hit and miss counters.
func WithStats(c stats.Collector) Option {
	return func(o *options) { o.collector = c }
}

// WithCoalescing makes concurrent misses for the same key share a single
// backing store read. The shared read runs without the callers'
// cancellation or deadline.
func WithCoalescing() Option {
	return func(o *options) { o.coalescing = true }
}

// New creates a new cached store wrapping the given store.
func New[K key.Partition, V any](underlying store.Store[K, V], cache pointcache.Cache[K, V], opts ...Option) *Store[K, V] {
	o := options{logger: zap.NewNop(), collector: stats.NewNoop()}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Store[K, V]{
		underlying: underlying,
		cache:      cache,
		logger:     o.logger.Named("cachedstore"),
		collector:  o.collector,
	}
	if o.coalescing {
		s.group = &singleflight.Group{}
	}
	return s
}

// Get returns the value for k, checking the cache first.
func (s *Store[K, V]) Get(ctx context.Context, k K) (V, bool, error) {
	var zero V
	if v, ok, err := s.cache.Get(ctx, k); err != nil {
		return zero, false, err
	} else if ok {
		s.hits.Add(1)
		s.collector.IncCounter(stats.MetricPointHits, 1)
		return v, true, nil
	}
	s.misses.Add(1)
	s.collector.IncCounter(stats.MetricPointMisses, 1)

	if s.group == nil {
		return s.load(ctx, k)
	}

	// The shared read outlives any one caller's cancellation; each caller
	// stops waiting when its own ctx ends.
	type loaded struct {
		v  V
		ok bool
	}
	ch := s.group.DoChan(k.Key(), func() (any, error) {
		v, ok, err := s.load(context.WithoutCancel(ctx), k)
		return loaded{v, ok}, err
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, false, res.Err
		}
		if res.Shared {
			s.logger.Debug("coalesced miss", zap.String("key", k.Key()))
		}
		l := res.Val.(loaded)
		return l.v, l.ok, nil
	case <-ctx.Done():
		return zero, false, ctx.Err()
	}
}

// load reads k from the backing store and caches it if present.
func (s *Store[K, V]) load(ctx context.Context, k K) (V, bool, error) {
	v, ok, err := s.underlying.Get(ctx, k)
	if err != nil || !ok {
		return v, ok, err
	}
	if err := s.cache.Put(ctx, k, v); err != nil {
		return v, true, err
	}
	return v, true, nil
}

// Put writes through to the backing store without touching the cache.
func (s *Store[K, V]) Put(ctx context.Context, k K, v V) error {
	return s.underlying.Put(ctx, k, v)
}

// Delete invalidates the cached value, then deletes from the backing store.
func (s *Store[K, V]) Delete(ctx context.Context, k K) error {
	if err := s.cache.Invalidate(ctx, k); err != nil {
		return err
	}
	return s.underlying.Delete(ctx, k)
}

// ContainsKey reports true on a cache hit without consulting the backing
// store.
func (s *Store[K, V]) ContainsKey(ctx context.Context, k K) (bool, error) {
	_, ok, err := s.cache.Get(ctx, k)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	return s.underlying.ContainsKey(ctx, k)
}

// IsEmpty delegates to the backing store.
func (s *Store[K, V]) IsEmpty(ctx context.Context) (bool, error) {
	return s.underlying.IsEmpty(ctx)
}

// Values delegates to the backing store.
func (s *Store[K, V]) Values(ctx context.Context) ([]V, error) {
	return s.underlying.Values(ctx)
}

// MaxConcurrency reports the backing store's limit.
func (s *Store[K, V]) MaxConcurrency() int {
	return s.underlying.MaxConcurrency()
}

// Close closes the underlying store.
func (s *Store[K, V]) Close() error {
	return s.underlying.Close()
}

// Stats returns cache statistics.
func (s *Store[K, V]) Stats() Stats {
	return Stats{Hits: s.hits.Load(), Misses: s.misses.Load()}
}

// Stats contains cache statistics.
type Stats struct {
	Hits   int64
	Misses int64
}

// HitRate returns the cache hit rate as a percentage.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}
