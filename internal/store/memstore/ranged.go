package memstore

import (
	"context"
	"sync"

	"github.com/discochess/strata/internal/key"
	"github.com/discochess/strata/internal/ordered"
	"github.com/discochess/strata/internal/store"
)

// Compile-time check that Ranged implements store.RangedStore.
var _ store.RangedStore[key.Name, key.String, string] = (*Ranged[key.Name, key.String, string])(nil)

// Ranged is an in-memory ranged store keeping each partition as an
// ordered map. Returned maps are copies.
type Ranged[P key.Partition, R key.Range[R], V any] struct {
	mu         sync.RWMutex
	partitions map[P]*ordered.Map[R, V]
	limit      int
}

// NewRanged creates an empty in-memory ranged store.
func NewRanged[P key.Partition, R key.Range[R], V any](opts ...Option) *Ranged[P, R, V] {
	o := buildOptions(opts)
	return &Ranged[P, R, V]{
		partitions: make(map[P]*ordered.Map[R, V]),
		limit:      o.maxConcurrency,
	}
}

// read runs fn on partition p under the read lock.
func (s *Ranged[P, R, V]) read(ctx context.Context, p P, fn func(m *ordered.Map[R, V]) *ordered.Map[R, V]) (*ordered.Map[R, V], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.partitions[p]
	if !ok {
		return ordered.New[R, V](), nil
	}
	return fn(m), nil
}

// write runs fn on partition p, creating it if needed, under the write lock.
func (s *Ranged[P, R, V]) write(ctx context.Context, p P, fn func(m *ordered.Map[R, V])) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.partitions[p]
	if !ok {
		m = ordered.New[R, V]()
		s.partitions[p] = m
	}
	fn(m)
	if m.Len() == 0 {
		delete(s.partitions, p)
	}
	return nil
}

// Get returns the value for k in p.
func (s *Ranged[P, R, V]) Get(ctx context.Context, p P, k R) (V, bool, error) {
	var (
		v  V
		ok bool
	)
	_, err := s.read(ctx, p, func(m *ordered.Map[R, V]) *ordered.Map[R, V] {
		v, ok = m.Get(k)
		return nil
	})
	return v, ok, err
}

// ValuesInRange returns the entries of p in [lo, hi].
func (s *Ranged[P, R, V]) ValuesInRange(ctx context.Context, p P, lo, hi R) (*ordered.Map[R, V], error) {
	return s.read(ctx, p, func(m *ordered.Map[R, V]) *ordered.Map[R, V] {
		return m.Between(lo, hi)
	})
}

// ValuesAbove returns the entries of p with key >= lo.
func (s *Ranged[P, R, V]) ValuesAbove(ctx context.Context, p P, lo R) (*ordered.Map[R, V], error) {
	return s.ValuesInRange(ctx, p, lo, lo.RangeMax())
}

// ValuesBelow returns the entries of p with key <= hi.
func (s *Ranged[P, R, V]) ValuesBelow(ctx context.Context, p P, hi R) (*ordered.Map[R, V], error) {
	return s.ValuesInRange(ctx, p, hi.RangeMin(), hi)
}

// HeadValues returns the first n entries of p.
func (s *Ranged[P, R, V]) HeadValues(ctx context.Context, p P, n int) (*ordered.Map[R, V], error) {
	return s.read(ctx, p, func(m *ordered.Map[R, V]) *ordered.Map[R, V] {
		return m.Head(n)
	})
}

// NextValues returns up to n entries of p after k.
func (s *Ranged[P, R, V]) NextValues(ctx context.Context, p P, after R, n int) (*ordered.Map[R, V], error) {
	return s.read(ctx, p, func(m *ordered.Map[R, V]) *ordered.Map[R, V] {
		return m.After(after, n)
	})
}

// Partition returns a copy of p.
func (s *Ranged[P, R, V]) Partition(ctx context.Context, p P) (*ordered.Map[R, V], error) {
	return s.read(ctx, p, func(m *ordered.Map[R, V]) *ordered.Map[R, V] {
		return m.Clone()
	})
}

// Put stores v under k in p.
func (s *Ranged[P, R, V]) Put(ctx context.Context, p P, k R, v V) error {
	return s.write(ctx, p, func(m *ordered.Map[R, V]) {
		m.Put(k, v)
	})
}

// PutAll upserts values into p.
func (s *Ranged[P, R, V]) PutAll(ctx context.Context, p P, values *ordered.Map[R, V]) error {
	return s.write(ctx, p, func(m *ordered.Map[R, V]) {
		m.Merge(values)
	})
}

// PutIfAbsent stores v under k unless a value exists.
func (s *Ranged[P, R, V]) PutIfAbsent(ctx context.Context, p P, k R, v V) (bool, error) {
	var stored bool
	err := s.write(ctx, p, func(m *ordered.Map[R, V]) {
		if _, ok := m.Get(k); !ok {
			m.Put(k, v)
			stored = true
		}
	})
	return stored, err
}

// Delete removes k from p.
func (s *Ranged[P, R, V]) Delete(ctx context.Context, p P, k R) error {
	return s.write(ctx, p, func(m *ordered.Map[R, V]) {
		m.Delete(k)
	})
}

// IsEmpty reports whether no partition holds entries.
func (s *Ranged[P, R, V]) IsEmpty(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.partitions) == 0, nil
}

// MaxConcurrency returns the advertised limit, store.Unbounded by default.
func (s *Ranged[P, R, V]) MaxConcurrency() int { return s.limit }

// Close is a no-op for the memory store.
func (s *Ranged[P, R, V]) Close() error {
	return nil
}
