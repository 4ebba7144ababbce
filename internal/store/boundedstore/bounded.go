package boundedstore

import (
	"context"

	"github.com/discochess/strata/internal/key"
	"github.com/discochess/strata/internal/ordered"
	"github.com/discochess/strata/internal/store"
)

// Compile-time checks that Store and Ranged implement the store contracts.
var _ store.Store[key.Name, []byte] = (*Store[key.Name, []byte])(nil)

var _ store.RangedStore[key.Name, key.String, []byte] = (*Ranged[key.Name, key.String, []byte])(nil)

// Store bounds the concurrency of a point store.
type Store[K key.Partition, V any] struct {
	underlying store.Store[K, V]
	pool       *Pool
}

// New wraps s with a pool of Ceiling(requested, s.MaxConcurrency())
// workers.
func New[K key.Partition, V any](s store.Store[K, V], requested int, opts ...Option) *Store[K, V] {
	return &Store[K, V]{
		underlying: s,
		pool:       NewPool(Ceiling(requested, s.MaxConcurrency()), opts...),
	}
}

func (s *Store[K, V]) Get(ctx context.Context, k K) (V, bool, error) {
	type result struct {
		v  V
		ok bool
	}
	r, err := call(ctx, s.pool, func(ctx context.Context) (result, error) {
		v, ok, err := s.underlying.Get(ctx, k)
		return result{v, ok}, err
	})
	return r.v, r.ok, err
}

func (s *Store[K, V]) Put(ctx context.Context, k K, v V) error {
	return s.pool.Do(ctx, func(ctx context.Context) error {
		return s.underlying.Put(ctx, k, v)
	})
}

func (s *Store[K, V]) Delete(ctx context.Context, k K) error {
	return s.pool.Do(ctx, func(ctx context.Context) error {
		return s.underlying.Delete(ctx, k)
	})
}

func (s *Store[K, V]) ContainsKey(ctx context.Context, k K) (bool, error) {
	return call(ctx, s.pool, func(ctx context.Context) (bool, error) {
		return s.underlying.ContainsKey(ctx, k)
	})
}

func (s *Store[K, V]) IsEmpty(ctx context.Context) (bool, error) {
	return call(ctx, s.pool, s.underlying.IsEmpty)
}

func (s *Store[K, V]) Values(ctx context.Context) ([]V, error) {
	return call(ctx, s.pool, s.underlying.Values)
}

// MaxConcurrency returns the pool size.
func (s *Store[K, V]) MaxConcurrency() int { return s.pool.Size() }

// Pool exposes the worker pool for inspection.
func (s *Store[K, V]) Pool() *Pool { return s.pool }

// Close drains the pool, then closes the backing store.
func (s *Store[K, V]) Close() error {
	s.pool.Close()
	return s.underlying.Close()
}

// Ranged bounds the concurrency of a ranged store.
type Ranged[P key.Partition, R key.Range[R], V any] struct {
	underlying store.RangedStore[P, R, V]
	pool       *Pool
}

// NewRanged wraps s with a pool of Ceiling(requested, s.MaxConcurrency())
// workers.
func NewRanged[P key.Partition, R key.Range[R], V any](s store.RangedStore[P, R, V], requested int, opts ...Option) *Ranged[P, R, V] {
	return &Ranged[P, R, V]{
		underlying: s,
		pool:       NewPool(Ceiling(requested, s.MaxConcurrency()), opts...),
	}
}

func (s *Ranged[P, R, V]) Get(ctx context.Context, p P, k R) (V, bool, error) {
	type result struct {
		v  V
		ok bool
	}
	r, err := call(ctx, s.pool, func(ctx context.Context) (result, error) {
		v, ok, err := s.underlying.Get(ctx, p, k)
		return result{v, ok}, err
	})
	return r.v, r.ok, err
}

func (s *Ranged[P, R, V]) ValuesInRange(ctx context.Context, p P, lo, hi R) (*ordered.Map[R, V], error) {
	return call(ctx, s.pool, func(ctx context.Context) (*ordered.Map[R, V], error) {
		return s.underlying.ValuesInRange(ctx, p, lo, hi)
	})
}

func (s *Ranged[P, R, V]) ValuesAbove(ctx context.Context, p P, lo R) (*ordered.Map[R, V], error) {
	return call(ctx, s.pool, func(ctx context.Context) (*ordered.Map[R, V], error) {
		return s.underlying.ValuesAbove(ctx, p, lo)
	})
}

func (s *Ranged[P, R, V]) ValuesBelow(ctx context.Context, p P, hi R) (*ordered.Map[R, V], error) {
	return call(ctx, s.pool, func(ctx context.Context) (*ordered.Map[R, V], error) {
		return s.underlying.ValuesBelow(ctx, p, hi)
	})
}

func (s *Ranged[P, R, V]) HeadValues(ctx context.Context, p P, n int) (*ordered.Map[R, V], error) {
	return call(ctx, s.pool, func(ctx context.Context) (*ordered.Map[R, V], error) {
		return s.underlying.HeadValues(ctx, p, n)
	})
}

func (s *Ranged[P, R, V]) NextValues(ctx context.Context, p P, after R, n int) (*ordered.Map[R, V], error) {
	return call(ctx, s.pool, func(ctx context.Context) (*ordered.Map[R, V], error) {
		return s.underlying.NextValues(ctx, p, after, n)
	})
}

func (s *Ranged[P, R, V]) Partition(ctx context.Context, p P) (*ordered.Map[R, V], error) {
	return call(ctx, s.pool, func(ctx context.Context) (*ordered.Map[R, V], error) {
		return s.underlying.Partition(ctx, p)
	})
}

func (s *Ranged[P, R, V]) Put(ctx context.Context, p P, k R, v V) error {
	return s.pool.Do(ctx, func(ctx context.Context) error {
		return s.underlying.Put(ctx, p, k, v)
	})
}

func (s *Ranged[P, R, V]) PutAll(ctx context.Context, p P, values *ordered.Map[R, V]) error {
	return s.pool.Do(ctx, func(ctx context.Context) error {
		return s.underlying.PutAll(ctx, p, values)
	})
}

func (s *Ranged[P, R, V]) PutIfAbsent(ctx context.Context, p P, k R, v V) (bool, error) {
	return call(ctx, s.pool, func(ctx context.Context) (bool, error) {
		return s.underlying.PutIfAbsent(ctx, p, k, v)
	})
}

func (s *Ranged[P, R, V]) Delete(ctx context.Context, p P, k R) error {
	return s.pool.Do(ctx, func(ctx context.Context) error {
		return s.underlying.Delete(ctx, p, k)
	})
}

func (s *Ranged[P, R, V]) IsEmpty(ctx context.Context) (bool, error) {
	return call(ctx, s.pool, s.underlying.IsEmpty)
}

// MaxConcurrency returns the pool size.
func (s *Ranged[P, R, V]) MaxConcurrency() int { return s.pool.Size() }

// Pool exposes the worker pool for inspection.
func (s *Ranged[P, R, V]) Pool() *Pool { return s.pool }

// Close drains the pool, then closes the backing store.
func (s *Ranged[P, R, V]) Close() error {
	s.pool.Close()
	return s.underlying.Close()
}
