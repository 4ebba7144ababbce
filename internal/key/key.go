// Package key defines the partition and range key contracts shared by the
// stores and cache layers, together with the built-in key types.
//
// Byte-oriented backends persist keys through Key(); for range keys that
// encoding must preserve order, so a.Compare(b) < 0 exactly when
// a.Key() < b.Key().
package key

import (
	"errors"
	"fmt"
)

// ErrInvalidEncoding is returned by parsers given a string that is not the
// Key() encoding of their key type.
var ErrInvalidEncoding = errors.New("key: invalid encoding")

// Partition is the constraint satisfied by partition keys: equality
// comparable with a canonical string encoding. No ordering is required.
type Partition interface {
	comparable
	Key() string
}

// Range is the contract for keys ordered within a partition.
type Range[R any] interface {
	// Compare returns a negative number, zero or a positive number when the
	// receiver sorts before, equal to or after other.
	Compare(other R) int

	// RangeMin returns the smallest key of the key space.
	RangeMin() R

	// RangeMax returns the largest key of the key space.
	RangeMax() R

	// Key returns the order-preserving encoding of the key.
	Key() string
}

// Discrete is implemented by range keys whose key space has no keys between
// a key and its successor. Interval arithmetic uses it to merge [a,b] with
// [b+1,c].
type Discrete[R any] interface {
	// Next returns the successor, or false at RangeMax.
	Next() (R, bool)

	// Prev returns the predecessor, or false at RangeMin.
	Prev() (R, bool)
}

// ParseFunc rebuilds a range key from its Key() encoding.
type ParseFunc[R any] func(encoded string) (R, error)

// Name is a string partition key.
type Name string

// Key returns the name itself.
func (n Name) Key() string { return string(n) }

// String implements fmt.Stringer.
func (n Name) String() string { return string(n) }

func invalid(kind, encoded string) error {
	return fmt.Errorf("%w: %s %q", ErrInvalidEncoding, kind, encoded)
}
