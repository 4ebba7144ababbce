// Package memstore provides in-memory point and ranged stores, used as fast
// mirrors and in tests.
package memstore

import (
	"context"
	"sync"

	"github.com/discochess/strata/internal/key"
	"github.com/discochess/strata/internal/store"
)

// Compile-time check that Store implements store.Store.
var _ store.Store[key.Name, []byte] = (*Store[key.Name, []byte])(nil)

// Store is a mutex-guarded in-memory point store.
type Store[K key.Partition, V any] struct {
	mu     sync.RWMutex
	values map[K]V
	limit  int
}

// Option configures a memory store.
type Option func(*options)

type options struct {
	maxConcurrency int
}

// WithMaxConcurrency makes the store advertise a concurrency limit. It does
// not enforce it; wrap the store in a boundedstore for that.
func WithMaxConcurrency(n int) Option {
	return func(o *options) {
		o.maxConcurrency = n
	}
}

func buildOptions(opts []Option) options {
	o := options{maxConcurrency: store.Unbounded}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New creates an empty in-memory store.
func New[K key.Partition, V any](opts ...Option) *Store[K, V] {
	o := buildOptions(opts)
	return &Store[K, V]{
		values: make(map[K]V),
		limit:  o.maxConcurrency,
	}
}

// Get returns the value for k.
func (s *Store[K, V]) Get(ctx context.Context, k K) (V, bool, error) {
	if err := ctx.Err(); err != nil {
		var zero V
		return zero, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[k]
	return v, ok, nil
}

// Put stores v under k.
func (s *Store[K, V]) Put(ctx context.Context, k K, v V) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[k] = v
	return nil
}

// Delete removes k.
func (s *Store[K, V]) Delete(ctx context.Context, k K) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, k)
	return nil
}

// ContainsKey reports whether k is present.
func (s *Store[K, V]) ContainsKey(ctx context.Context, k K) (bool, error) {
	_, ok, err := s.Get(ctx, k)
	return ok, err
}

// IsEmpty reports whether the store is empty.
func (s *Store[K, V]) IsEmpty(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values) == 0, nil
}

// Values returns all stored values.
func (s *Store[K, V]) Values(ctx context.Context) ([]V, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]V, 0, len(s.values))
	for _, v := range s.values {
		out = append(out, v)
	}
	return out, nil
}

// MaxConcurrency returns the advertised limit, store.Unbounded by default.
func (s *Store[K, V]) MaxConcurrency() int { return s.limit }

// Len returns the number of stored values.
func (s *Store[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Close is a no-op for the memory store.
func (s *Store[K, V]) Close() error {
	return nil
}
