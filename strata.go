// Package strata provides caching middleware for partitioned, range-ordered
// key-value stores. A Client answers range queries from a fast local mirror
// wherever it can prove the mirror holds the complete answer, and fetches
// only the missing sub-ranges from the authoritative store.
//
// Example usage:
//
//	client, err := strata.New[key.Name, key.Int64, string](
//	    authoritative,
//	    memstore.NewRanged[key.Name, key.Int64, string](),
//	    strata.WithConcurrency(16),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	values, err := client.ValuesInRange(ctx, "games", 100, 200)
package strata

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/discochess/strata/internal/interval"
	"github.com/discochess/strata/internal/key"
	"github.com/discochess/strata/internal/ordered"
	"github.com/discochess/strata/internal/rangecache"
	"github.com/discochess/strata/internal/stats"
	"github.com/discochess/strata/internal/store"
	"github.com/discochess/strata/internal/store/boundedstore"
	"github.com/discochess/strata/internal/twolevel"
)

// Sentinel errors for well-defined error conditions.
var (
	// ErrClosed indicates the client has been closed.
	ErrClosed = errors.New("strata: client closed")

	// ErrNoStore indicates the authoritative store or the mirror is missing.
	ErrNoStore = errors.New("strata: no store provided")

	// ErrInvalidRange is returned for a range whose minimum sorts after its
	// maximum.
	ErrInvalidRange = rangecache.ErrInvalidRange
)

// Compile-time check that Client implements store.RangedStore.
var _ store.RangedStore[key.Name, key.String, []byte] = (*Client[key.Name, key.String, []byte])(nil)

// Client is a two-level ranged store: a concurrency-bounded authoritative
// store behind a range cache over a mirror.
// A Client is safe for concurrent use by multiple goroutines.
type Client[P key.Partition, R key.Range[R], V any] struct {
	authoritative *boundedstore.Ranged[P, R, V]
	mirror        store.RangedStore[P, R, V]
	cache         *rangecache.Cache[P, R, V]
	store         *twolevel.Store[P, R, V]
	stats         stats.Collector
	logger        *zap.Logger
	closed        atomic.Bool
}

// New creates a Client over authoritative, mirroring into mirror. The
// mirror's existing contents are not trusted until a read covers them.
func New[P key.Partition, R key.Range[R], V any](authoritative, mirror store.RangedStore[P, R, V], opts ...Option) (*Client[P, R, V], error) {
	if authoritative == nil || mirror == nil {
		return nil, ErrNoStore
	}

	cfg := defaultOptions()
	for _, opt := range opts {
		opt.apply(&cfg)
	}

	bounded := boundedstore.NewRanged[P, R, V](authoritative, cfg.concurrency,
		boundedstore.WithLogger(cfg.logger),
		boundedstore.WithStats(cfg.stats),
	)
	cache := rangecache.New[P, R, V](mirror,
		rangecache.WithLogger(cfg.logger),
		rangecache.WithStats(cfg.stats),
		rangecache.WithLockStripes(cfg.lockStripes),
	)
	c := &Client[P, R, V]{
		authoritative: bounded,
		mirror:        mirror,
		cache:         cache,
		store: twolevel.New[P, R, V](bounded, cache,
			twolevel.WithFetchParallelism(cfg.fetchParallelism),
			twolevel.WithLogger(cfg.logger),
			twolevel.WithStats(cfg.stats),
		),
		stats:  cfg.stats,
		logger: cfg.logger,
	}

	c.logger.Debug("client initialized",
		zap.Int("concurrency", bounded.MaxConcurrency()),
		zap.Int("fetchParallelism", cfg.fetchParallelism),
		zap.Int("lockStripes", cfg.lockStripes),
	)
	return c, nil
}

func (c *Client[P, R, V]) check() error {
	if c.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Get returns the value for k in p from the authoritative store.
func (c *Client[P, R, V]) Get(ctx context.Context, p P, k R) (V, bool, error) {
	if err := c.check(); err != nil {
		var zero V
		return zero, false, err
	}
	return c.store.Get(ctx, p, k)
}

// ValuesInRange returns the entries of p with lo <= key <= hi, served from
// the mirror where covered.
func (c *Client[P, R, V]) ValuesInRange(ctx context.Context, p P, lo, hi R) (*ordered.Map[R, V], error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.store.ValuesInRange(ctx, p, lo, hi)
}

// ValuesAbove returns the entries of p with key >= lo.
func (c *Client[P, R, V]) ValuesAbove(ctx context.Context, p P, lo R) (*ordered.Map[R, V], error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.store.ValuesAbove(ctx, p, lo)
}

// ValuesBelow returns the entries of p with key <= hi.
func (c *Client[P, R, V]) ValuesBelow(ctx context.Context, p P, hi R) (*ordered.Map[R, V], error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.store.ValuesBelow(ctx, p, hi)
}

// HeadValues returns the first n entries of p.
func (c *Client[P, R, V]) HeadValues(ctx context.Context, p P, n int) (*ordered.Map[R, V], error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.store.HeadValues(ctx, p, n)
}

// NextValues returns up to n entries of p with key > after.
func (c *Client[P, R, V]) NextValues(ctx context.Context, p P, after R, n int) (*ordered.Map[R, V], error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.store.NextValues(ctx, p, after, n)
}

// Partition returns every entry of p.
func (c *Client[P, R, V]) Partition(ctx context.Context, p P) (*ordered.Map[R, V], error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.store.Partition(ctx, p)
}

// Put writes v to the authoritative store. Covered ranges holding k keep
// returning the mirrored value until k is invalidated.
func (c *Client[P, R, V]) Put(ctx context.Context, p P, k R, v V) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.store.Put(ctx, p, k, v)
}

// PutAll writes values to the authoritative store.
func (c *Client[P, R, V]) PutAll(ctx context.Context, p P, values *ordered.Map[R, V]) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.store.PutAll(ctx, p, values)
}

// PutIfAbsent writes v to the authoritative store unless k exists there.
func (c *Client[P, R, V]) PutIfAbsent(ctx context.Context, p P, k R, v V) (bool, error) {
	if err := c.check(); err != nil {
		return false, err
	}
	return c.store.PutIfAbsent(ctx, p, k, v)
}

// Delete invalidates k and deletes it from the authoritative store.
func (c *Client[P, R, V]) Delete(ctx context.Context, p P, k R) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.store.Delete(ctx, p, k)
}

// Invalidate drops k from coverage and the mirror.
func (c *Client[P, R, V]) Invalidate(ctx context.Context, p P, k R) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.store.Invalidate(ctx, p, k)
}

// IsEmpty asks the authoritative store.
func (c *Client[P, R, V]) IsEmpty(ctx context.Context) (bool, error) {
	if err := c.check(); err != nil {
		return false, err
	}
	return c.store.IsEmpty(ctx)
}

// Coverage returns the intervals of p currently served from the mirror.
func (c *Client[P, R, V]) Coverage(p P) []interval.Interval[R] {
	return c.cache.Coverage(p)
}

// MaxConcurrency returns the ceiling on concurrent authoritative
// operations.
func (c *Client[P, R, V]) MaxConcurrency() int {
	return c.authoritative.MaxConcurrency()
}

// Peak returns the highest number of authoritative operations observed in
// flight at once.
func (c *Client[P, R, V]) Peak() int {
	return c.authoritative.Pool().Peak()
}

// Close waits for in-flight authoritative operations, then closes the
// authoritative store and the mirror.
func (c *Client[P, R, V]) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	var errs []error
	if err := c.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing authoritative store: %w", err))
	}
	if err := c.mirror.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing mirror: %w", err))
	}
	return errors.Join(errs...)
}
