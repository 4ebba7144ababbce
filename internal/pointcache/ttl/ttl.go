// Package ttl decorates a store with expiring entries, turning it into a
// point cache.
package ttl

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/discochess/strata/internal/key"
	"github.com/discochess/strata/internal/pointcache"
	"github.com/discochess/strata/internal/stats"
	"github.com/discochess/strata/internal/store"
)

// Compile-time check that Cache implements pointcache.Cache.
var _ pointcache.Cache[key.Name, int] = (*Cache[key.Name, int])(nil)

// Entry is what the cache stores: a value and the instant it stops being
// served.
type Entry[V any] struct {
	Expires time.Time `json:"expires" msgpack:"expires" cbor:"expires"`
	Value   V         `json:"value" msgpack:"value" cbor:"value"`
}

// Stats counts cache traffic since construction.
type Stats struct {
	Hits   int64
	Misses int64
	Puts   int64
}

// Cache is a point cache whose entries expire ttl after they are put.
type Cache[K key.Partition, V any] struct {
	store     store.Store[K, Entry[V]]
	ttl       time.Duration
	now       func() time.Time
	logger    *zap.Logger
	collector stats.Collector

	hits   atomic.Int64
	misses atomic.Int64
	puts   atomic.Int64
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	now       func() time.Time
	logger    *zap.Logger
	collector stats.Collector
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger misses are reported to at debug level.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithStats sets the collector hit, miss and put counters go to.
func WithStats(c stats.Collector) Option {
	return func(o *options) { o.collector = c }
}

// New returns a cache keeping entries in s for ttl.
func New[K key.Partition, V any](s store.Store[K, Entry[V]], ttl time.Duration, opts ...Option) *Cache[K, V] {
	o := options{now: time.Now, logger: zap.NewNop(), collector: stats.NewNoop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[K, V]{
		store:     s,
		ttl:       ttl,
		now:       o.now,
		logger:    o.logger.Named("ttl"),
		collector: o.collector,
	}
}

// Get returns the value for k unless it is missing or expired.
func (c *Cache[K, V]) Get(ctx context.Context, k K) (V, bool, error) {
	var zero V
	e, ok, err := c.store.Get(ctx, k)
	if err != nil {
		return zero, false, err
	}
	switch {
	case !ok:
		c.logger.Debug("miss", zap.String("key", k.Key()))
	case !c.now().Before(e.Expires):
		c.logger.Debug("expired", zap.String("key", k.Key()), zap.Time("expires", e.Expires))
	default:
		c.hits.Add(1)
		c.collector.IncCounter(stats.MetricPointHits, 1)
		return e.Value, true, nil
	}
	c.misses.Add(1)
	c.collector.IncCounter(stats.MetricPointMisses, 1)
	return zero, false, nil
}

// Put stores v to expire ttl from now.
func (c *Cache[K, V]) Put(ctx context.Context, k K, v V) error {
	if err := c.store.Put(ctx, k, Entry[V]{Expires: c.now().Add(c.ttl), Value: v}); err != nil {
		return err
	}
	c.puts.Add(1)
	c.collector.IncCounter(stats.MetricPointPuts, 1)
	return nil
}

// Invalidate deletes the entry for k.
func (c *Cache[K, V]) Invalidate(ctx context.Context, k K) error {
	return c.store.Delete(ctx, k)
}

// BatchGet looks up every key.
func (c *Cache[K, V]) BatchGet(ctx context.Context, keys []K) (pointcache.Result[K, V], error) {
	return pointcache.BatchGet[K, V](ctx, c, keys)
}

// BatchPut stores every entry with the same expiry.
func (c *Cache[K, V]) BatchPut(ctx context.Context, values map[K]V) error {
	return pointcache.BatchPut[K, V](ctx, c, values)
}

// Stats returns the traffic counters.
func (c *Cache[K, V]) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Puts:   c.puts.Load(),
	}
}
