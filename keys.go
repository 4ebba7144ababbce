package strata

import (
	"github.com/discochess/strata/internal/key"
	"github.com/discochess/strata/internal/ordered"
)

// Built-in key types.
type (
	// Name is a string partition key.
	Name = key.Name

	// StringKey is a range key over strings in byte order.
	StringKey = key.String

	// Int64Key is a range key over signed integers.
	Int64Key = key.Int64
)

// NewStringKey returns the range key for s.
func NewStringKey(s string) StringKey { return key.NewString(s) }

// NewMap returns an empty ordered map, as accepted by PutAll.
func NewMap[K key.Range[K], V any]() *ordered.Map[K, V] {
	return ordered.New[K, V]()
}
