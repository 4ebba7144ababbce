// Package store defines the backing store contracts consumed by the cache
// layers: a point key-value Store and a partitioned, range-ordered
// RangedStore.
package store

import (
	"context"
	"errors"
	"math"

	"github.com/discochess/strata/internal/key"
	"github.com/discochess/strata/internal/ordered"
)

// Unbounded is reported by MaxConcurrency when a backend has no limit on
// simultaneous operations.
const Unbounded = math.MaxInt32

var (
	// ErrNotFound is returned by byte-oriented helpers when a key does not
	// exist. Store and RangedStore report absence through their bool result.
	ErrNotFound = errors.New("store: key not found")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store: closed")
)

// Store is a point key-value backing store.
type Store[K key.Partition, V any] interface {
	// Get returns the value stored under k, or false if there is none.
	Get(ctx context.Context, k K) (V, bool, error)

	// Put stores v under k, replacing any existing value.
	Put(ctx context.Context, k K, v V) error

	// Delete removes k. Deleting an absent key is not an error.
	Delete(ctx context.Context, k K) error

	// ContainsKey reports whether a value is stored under k.
	ContainsKey(ctx context.Context, k K) (bool, error)

	// IsEmpty reports whether the store holds no values.
	IsEmpty(ctx context.Context) (bool, error)

	// Values returns every stored value in no particular order.
	Values(ctx context.Context) ([]V, error)

	// MaxConcurrency returns the maximum number of operations the backend
	// accepts at once, or Unbounded.
	MaxConcurrency() int

	// Close releases any resources held by the store.
	Close() error
}

// RangedStore is a backing store of partitions, each an ascending mapping
// from range keys to values. Range bounds are inclusive.
type RangedStore[P key.Partition, R key.Range[R], V any] interface {
	Get(ctx context.Context, p P, k R) (V, bool, error)

	// ValuesInRange returns the entries of p with min <= key <= max.
	ValuesInRange(ctx context.Context, p P, min, max R) (*ordered.Map[R, V], error)

	// ValuesAbove returns the entries of p with key >= min.
	ValuesAbove(ctx context.Context, p P, min R) (*ordered.Map[R, V], error)

	// ValuesBelow returns the entries of p with key <= max.
	ValuesBelow(ctx context.Context, p P, max R) (*ordered.Map[R, V], error)

	// HeadValues returns the first n entries of p.
	HeadValues(ctx context.Context, p P, n int) (*ordered.Map[R, V], error)

	// NextValues returns up to n entries of p with key > after.
	NextValues(ctx context.Context, p P, after R, n int) (*ordered.Map[R, V], error)

	// Partition returns every entry of p.
	Partition(ctx context.Context, p P) (*ordered.Map[R, V], error)

	Put(ctx context.Context, p P, k R, v V) error

	// PutAll upserts every entry of values into p.
	PutAll(ctx context.Context, p P, values *ordered.Map[R, V]) error

	// PutIfAbsent stores v under k only if no value exists, atomically,
	// and reports whether it did.
	PutIfAbsent(ctx context.Context, p P, k R, v V) (bool, error)

	// Delete removes k from p. Deleting an absent key is not an error.
	Delete(ctx context.Context, p P, k R) error

	// IsEmpty reports whether no partition holds any entry.
	IsEmpty(ctx context.Context) (bool, error)

	// MaxConcurrency returns the maximum number of operations the backend
	// accepts at once, or Unbounded.
	MaxConcurrency() int

	Close() error
}
