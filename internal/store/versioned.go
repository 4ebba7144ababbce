package store

import "github.com/google/uuid"

// Versioned pairs a value with an opaque version token, the unit stored by
// optimistic-locking collaborators built on PutIfAbsent.
type Versioned[V any] struct {
	Version uuid.UUID
	Value   V
}

// NewVersioned returns v tagged with a fresh random version.
func NewVersioned[V any](v V) Versioned[V] {
	return Versioned[V]{Version: uuid.New(), Value: v}
}

// Next returns v replaced by value under a fresh version.
func (v Versioned[V]) Next(value V) Versioned[V] {
	return NewVersioned(value)
}
