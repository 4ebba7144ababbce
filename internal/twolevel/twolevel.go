// Package twolevel composes a range cache over a fast mirror with an
// authoritative ranged store. Range reads are answered from the mirror
// where coverage proves it complete, the remaining pieces are fetched from
// the authoritative store, and the merged answer is written back so the
// whole requested range becomes covered.
package twolevel

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/discochess/strata/internal/interval"
	"github.com/discochess/strata/internal/key"
	"github.com/discochess/strata/internal/ordered"
	"github.com/discochess/strata/internal/rangecache"
	"github.com/discochess/strata/internal/stats"
	"github.com/discochess/strata/internal/store"
)

// DefaultFetchParallelism bounds concurrent authoritative fetches per
// range read.
const DefaultFetchParallelism = 4

// Compile-time check that Store implements store.RangedStore.
var _ store.RangedStore[key.Name, key.String, []byte] = (*Store[key.Name, key.String, []byte])(nil)

// Store is a two-level ranged store.
type Store[P key.Partition, R key.Range[R], V any] struct {
	authoritative store.RangedStore[P, R, V]
	cache         *rangecache.Cache[P, R, V]
	parallelism   int
	logger        *zap.Logger
	collector     stats.Collector
}

// Option configures a Store.
type Option func(*options)

type options struct {
	parallelism int
	logger      *zap.Logger
	collector   stats.Collector
}

// WithFetchParallelism bounds how many uncached pieces of one read are
// fetched at once.
func WithFetchParallelism(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.parallelism = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithStats sets the collector for fetch counters and latencies.
func WithStats(c stats.Collector) Option {
	return func(o *options) { o.collector = c }
}

// New composes authoritative with cache.
func New[P key.Partition, R key.Range[R], V any](authoritative store.RangedStore[P, R, V], cache *rangecache.Cache[P, R, V], opts ...Option) *Store[P, R, V] {
	o := options{
		parallelism: DefaultFetchParallelism,
		logger:      zap.NewNop(),
		collector:   stats.NewNoop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store[P, R, V]{
		authoritative: authoritative,
		cache:         cache,
		parallelism:   o.parallelism,
		logger:        o.logger.Named("twolevel"),
		collector:     o.collector,
	}
}

// ValuesInRange returns the entries of p in [lo, hi], identical to what
// the authoritative store holds for that range when coverage is correct.
func (s *Store[P, R, V]) ValuesInRange(ctx context.Context, p P, lo, hi R) (*ordered.Map[R, V], error) {
	statuses, gen, err := s.cache.GetRangeAt(ctx, p, lo, hi)
	if err != nil {
		return nil, err
	}

	result := ordered.New[R, V]()
	var missing []interval.Interval[R]
	for _, st := range statuses {
		if st.Cached {
			result.Merge(st.Values)
		} else {
			missing = append(missing, st.Interval)
		}
	}
	if len(missing) == 0 {
		return result, nil
	}

	fetched, err := s.fetch(ctx, p, missing)
	if err != nil {
		return nil, err
	}
	for _, m := range fetched {
		result.Merge(m)
	}

	// The mirror now receives the complete answer for [lo, hi], not only
	// the fetched pieces, so the whole range can be marked covered. An
	// invalidation since GetRangeAt drops the fill.
	if _, err := s.cache.PutRangeAt(ctx, p, lo, hi, result, gen); err != nil {
		if store.IsCancellation(err) {
			return nil, err
		}
		s.logger.Warn("populating mirror failed",
			zap.String("partition", p.Key()),
			zap.Error(err),
		)
	}
	return result, nil
}

// fetch reads every missing piece from the authoritative store, at most
// s.parallelism at a time. Any failure cancels the remaining fetches.
func (s *Store[P, R, V]) fetch(ctx context.Context, p P, missing []interval.Interval[R]) ([]*ordered.Map[R, V], error) {
	out := make([]*ordered.Map[R, V], len(missing))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, iv := range missing {
		g.Go(func() error {
			start := time.Now()
			m, err := s.authoritative.ValuesInRange(gctx, p, iv.Lo, iv.Hi)
			s.collector.ObserveHistogram(stats.MetricFetchSeconds, time.Since(start).Seconds())
			s.collector.IncCounter(stats.MetricAuthoritativeFetches, 1)
			if err != nil {
				return err
			}
			if iv.LoOpen || iv.HiOpen {
				m = m.Filter(iv.Contains)
			}
			out[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	s.logger.Debug("fetched uncached pieces",
		zap.String("partition", p.Key()),
		zap.Int("pieces", len(missing)),
	)
	return out, nil
}

// ValuesAbove returns the entries of p with key >= lo.
func (s *Store[P, R, V]) ValuesAbove(ctx context.Context, p P, lo R) (*ordered.Map[R, V], error) {
	return s.ValuesInRange(ctx, p, lo, lo.RangeMax())
}

// ValuesBelow returns the entries of p with key <= hi.
func (s *Store[P, R, V]) ValuesBelow(ctx context.Context, p P, hi R) (*ordered.Map[R, V], error) {
	return s.ValuesInRange(ctx, p, hi.RangeMin(), hi)
}

// Get reads k from the authoritative store.
func (s *Store[P, R, V]) Get(ctx context.Context, p P, k R) (V, bool, error) {
	return s.authoritative.Get(ctx, p, k)
}

// HeadValues reads from the authoritative store; a count-limited result
// has no fixed key interval to cover.
func (s *Store[P, R, V]) HeadValues(ctx context.Context, p P, n int) (*ordered.Map[R, V], error) {
	return s.authoritative.HeadValues(ctx, p, n)
}

// NextValues reads from the authoritative store.
func (s *Store[P, R, V]) NextValues(ctx context.Context, p P, after R, n int) (*ordered.Map[R, V], error) {
	return s.authoritative.NextValues(ctx, p, after, n)
}

// Partition reads from the authoritative store.
func (s *Store[P, R, V]) Partition(ctx context.Context, p P) (*ordered.Map[R, V], error) {
	return s.authoritative.Partition(ctx, p)
}

// Put writes to the authoritative store only. A covered range holding k
// keeps serving the mirrored value until k is invalidated.
func (s *Store[P, R, V]) Put(ctx context.Context, p P, k R, v V) error {
	return s.authoritative.Put(ctx, p, k, v)
}

// PutAll writes to the authoritative store only.
func (s *Store[P, R, V]) PutAll(ctx context.Context, p P, values *ordered.Map[R, V]) error {
	return s.authoritative.PutAll(ctx, p, values)
}

// PutIfAbsent writes to the authoritative store only.
func (s *Store[P, R, V]) PutIfAbsent(ctx context.Context, p P, k R, v V) (bool, error) {
	return s.authoritative.PutIfAbsent(ctx, p, k, v)
}

// Delete invalidates k in the cache, deletes it from the authoritative
// store, then invalidates it again. The second invalidation drops any fill
// that read k between the first one and the delete.
func (s *Store[P, R, V]) Delete(ctx context.Context, p P, k R) error {
	if err := s.cache.Invalidate(ctx, p, k); err != nil {
		return err
	}
	if err := s.authoritative.Delete(ctx, p, k); err != nil {
		return err
	}
	return s.cache.Invalidate(ctx, p, k)
}

// Invalidate drops k from the cache without touching the authoritative
// store, for callers that wrote around this layer.
func (s *Store[P, R, V]) Invalidate(ctx context.Context, p P, k R) error {
	return s.cache.Invalidate(ctx, p, k)
}

// IsEmpty asks the authoritative store.
func (s *Store[P, R, V]) IsEmpty(ctx context.Context) (bool, error) {
	return s.authoritative.IsEmpty(ctx)
}

// MaxConcurrency reports the authoritative store's limit.
func (s *Store[P, R, V]) MaxConcurrency() int {
	return s.authoritative.MaxConcurrency()
}

// Close closes the authoritative store.
func (s *Store[P, R, V]) Close() error {
	return s.authoritative.Close()
}
