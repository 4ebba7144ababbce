// Package rangecache tracks, per partition, which intervals of the range
// key space are known to be completely mirrored in a fast local store, and
// answers range queries by splitting them into cached and uncached pieces.
//
// Coverage only grows through PutRange, PutRangeAt and Put, after the
// mirror write has succeeded, and only shrinks through Invalidate. It is
// never evicted.
// Mirror contents outside covered intervals are not trusted.
package rangecache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/discochess/strata/internal/interval"
	"github.com/discochess/strata/internal/key"
	"github.com/discochess/strata/internal/ordered"
	"github.com/discochess/strata/internal/shard"
	"github.com/discochess/strata/internal/shard/fnvshard"
	"github.com/discochess/strata/internal/stats"
	"github.com/discochess/strata/internal/store"
)

// DefaultLockStripes is the number of stripes the partition table is
// split over.
const DefaultLockStripes = 32

// ErrInvalidRange is returned for a range whose minimum sorts after its
// maximum.
var ErrInvalidRange = errors.New("rangecache: min after max")

// Status is the answer for one piece of a range query. Values is nil for
// an uncached piece and holds exactly the mirrored entries of Interval for
// a cached one.
type Status[R key.Range[R], V any] struct {
	Interval interval.Interval[R]
	Cached   bool
	Values   *ordered.Map[R, V]
}

// partition is the coverage of one partition. mu serializes every read
// and mutation of it, including the mirror calls made on its behalf.
// generation counts invalidations.
type partition[R key.Range[R]] struct {
	mu         sync.Mutex
	coverage   *interval.Set[R]
	generation uint64
}

// Generation identifies the invalidation state of a partition at the time
// of a GetRangeAt. A fill read under one generation is only trusted while
// the partition is still at it.
type Generation uint64

type stripe[P key.Partition, R key.Range[R]] struct {
	mu         sync.Mutex
	partitions map[P]*partition[R]
}

// Cache is a partitioned range cache over a mirror store. It is safe for
// concurrent use; operations on different partitions do not block each
// other.
type Cache[P key.Partition, R key.Range[R], V any] struct {
	mirror    store.RangedStore[P, R, V]
	stripes   []stripe[P, R]
	strategy  shard.Strategy
	logger    *zap.Logger
	collector stats.Collector
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	logger    *zap.Logger
	collector stats.Collector
	stripes   int
	strategy  shard.Strategy
}

// WithLogger sets the logger coverage changes are reported to.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithStats sets the collector for interval counters.
func WithStats(c stats.Collector) Option {
	return func(o *options) { o.collector = c }
}

// WithLockStripes sets how many stripes the partition table is split over.
func WithLockStripes(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.stripes = n
		}
	}
}

// WithShardStrategy sets how partitions are assigned to stripes.
func WithShardStrategy(s shard.Strategy) Option {
	return func(o *options) { o.strategy = s }
}

// New creates a cache with empty coverage over mirror. Entries already in
// the mirror are ignored until a PutRange or Put covers them.
func New[P key.Partition, R key.Range[R], V any](mirror store.RangedStore[P, R, V], opts ...Option) *Cache[P, R, V] {
	o := options{
		logger:    zap.NewNop(),
		collector: stats.NewNoop(),
		stripes:   DefaultLockStripes,
		strategy:  fnvshard.New(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	c := &Cache[P, R, V]{
		mirror:    mirror,
		stripes:   make([]stripe[P, R], o.stripes),
		strategy:  o.strategy,
		logger:    o.logger.Named("rangecache"),
		collector: o.collector,
	}
	for i := range c.stripes {
		c.stripes[i].partitions = make(map[P]*partition[R])
	}
	return c
}

// lock returns the state of p, created on first use, with its mutex held.
func (c *Cache[P, R, V]) lock(p P) *partition[R] {
	st := &c.stripes[c.strategy.ShardID(p.Key(), len(c.stripes))]
	st.mu.Lock()
	part, ok := st.partitions[p]
	if !ok {
		part = &partition[R]{coverage: interval.NewSet[R]()}
		st.partitions[p] = part
	}
	st.mu.Unlock()

	part.mu.Lock()
	return part
}

func checkRange[R key.Range[R]](lo, hi R) error {
	if lo.Compare(hi) > 0 {
		return fmt.Errorf("%w: [%v, %v]", ErrInvalidRange, lo, hi)
	}
	return nil
}

// GetRange splits [lo, hi] into ascending pieces that exactly partition
// it. Covered pieces carry their values read from the mirror.
func (c *Cache[P, R, V]) GetRange(ctx context.Context, p P, lo, hi R) ([]Status[R, V], error) {
	out, _, err := c.GetRangeAt(ctx, p, lo, hi)
	return out, err
}

// GetRangeAt is GetRange that also returns the partition's generation, to
// be handed to PutRangeAt when the uncached pieces have been fetched.
func (c *Cache[P, R, V]) GetRangeAt(ctx context.Context, p P, lo, hi R) ([]Status[R, V], Generation, error) {
	if err := checkRange(lo, hi); err != nil {
		return nil, 0, err
	}
	req := interval.Closed(lo, hi)

	part := c.lock(p)
	defer part.mu.Unlock()
	gen := Generation(part.generation)

	if part.coverage.Encloses(req) {
		values, err := c.mirror.ValuesInRange(ctx, p, lo, hi)
		if err != nil {
			return nil, 0, err
		}
		c.collector.IncCounter(stats.MetricCachedIntervals, 1)
		return []Status[R, V]{{Interval: req, Cached: true, Values: values}}, gen, nil
	}

	segs := part.coverage.Split(req)
	out := make([]Status[R, V], 0, len(segs))
	var cached, uncached int64
	for _, seg := range segs {
		if !seg.Covered {
			uncached++
			out = append(out, Status[R, V]{Interval: seg.Interval})
			continue
		}
		values, err := c.readMirror(ctx, p, seg.Interval)
		if err != nil {
			return nil, 0, err
		}
		cached++
		out = append(out, Status[R, V]{Interval: seg.Interval, Cached: true, Values: values})
	}
	c.collector.IncCounter(stats.MetricCachedIntervals, cached)
	c.collector.IncCounter(stats.MetricUncachedIntervals, uncached)
	return out, gen, nil
}

// readMirror reads the closed hull of iv and drops keys its open bounds
// exclude.
func (c *Cache[P, R, V]) readMirror(ctx context.Context, p P, iv interval.Interval[R]) (*ordered.Map[R, V], error) {
	values, err := c.mirror.ValuesInRange(ctx, p, iv.Lo, iv.Hi)
	if err != nil {
		return nil, err
	}
	if iv.LoOpen || iv.HiOpen {
		values = values.Filter(iv.Contains)
	}
	return values, nil
}

// PutRange writes values to the mirror and then marks [lo, hi] covered.
// values must hold the authoritative content of the whole interval, not
// just part of it. If the write fails or ctx ends first, coverage is left
// unchanged.
func (c *Cache[P, R, V]) PutRange(ctx context.Context, p P, lo, hi R, values *ordered.Map[R, V]) error {
	if err := checkRange(lo, hi); err != nil {
		return err
	}

	part := c.lock(p)
	defer part.mu.Unlock()
	return c.putRange(ctx, p, part, lo, hi, values)
}

// PutRangeAt is PutRange for values read while p was at gen. If p has been
// invalidated since, nothing is written and it reports false: the values
// may hold an entry deleted after they were read.
func (c *Cache[P, R, V]) PutRangeAt(ctx context.Context, p P, lo, hi R, values *ordered.Map[R, V], gen Generation) (bool, error) {
	if err := checkRange(lo, hi); err != nil {
		return false, err
	}

	part := c.lock(p)
	defer part.mu.Unlock()

	if Generation(part.generation) != gen {
		c.logger.Debug("dropped fill after invalidation",
			zap.String("partition", p.Key()),
			zap.Stringer("lo", stringer{lo}),
			zap.Stringer("hi", stringer{hi}),
		)
		return false, nil
	}
	if err := c.putRange(ctx, p, part, lo, hi, values); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Cache[P, R, V]) putRange(ctx context.Context, p P, part *partition[R], lo, hi R, values *ordered.Map[R, V]) error {
	if values.Len() > 0 {
		if err := c.mirror.PutAll(ctx, p, values); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	part.coverage.Add(interval.Closed(lo, hi))
	c.logger.Debug("covered range",
		zap.String("partition", p.Key()),
		zap.Stringer("lo", stringer{lo}),
		zap.Stringer("hi", stringer{hi}),
		zap.Int("values", values.Len()),
		zap.Int("intervals", part.coverage.Len()),
	)
	return nil
}

// Put writes one entry to the mirror and marks its key covered.
func (c *Cache[P, R, V]) Put(ctx context.Context, p P, k R, v V) error {
	part := c.lock(p)
	defer part.mu.Unlock()

	if err := c.mirror.Put(ctx, p, k, v); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	part.coverage.Add(interval.Point(k))
	return nil
}

// Invalidate removes k from coverage, splitting the interval holding it,
// and deletes it from the mirror. Coverage is dropped first, so a failed
// delete leaves k uncovered rather than covered and stale. It also moves
// p to a new generation, so fills read before it are not applied.
func (c *Cache[P, R, V]) Invalidate(ctx context.Context, p P, k R) error {
	part := c.lock(p)
	defer part.mu.Unlock()

	part.generation++
	part.coverage.RemovePoint(k)
	c.collector.IncCounter(stats.MetricInvalidations, 1)
	c.logger.Debug("invalidated key",
		zap.String("partition", p.Key()),
		zap.Stringer("key", stringer{k}),
		zap.Int("intervals", part.coverage.Len()),
	)
	return c.mirror.Delete(ctx, p, k)
}

// Coverage returns the covered intervals of p in ascending order.
func (c *Cache[P, R, V]) Coverage(p P) []interval.Interval[R] {
	part := c.lock(p)
	defer part.mu.Unlock()
	return part.coverage.Intervals()
}

// Mirror returns the mirror store.
func (c *Cache[P, R, V]) Mirror() store.RangedStore[P, R, V] {
	return c.mirror
}

// stringer formats any key for logging.
type stringer struct{ v any }

func (s stringer) String() string { return fmt.Sprint(s.v) }
