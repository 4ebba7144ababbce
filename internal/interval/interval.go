// Package interval implements sets of disjoint intervals over an ordered key
// space: union with merge, removal with split, intersection with a query
// interval and complement within a query interval.
//
// Bounds may be open or closed. For key types implementing key.Discrete,
// open bounds are rewritten as closed bounds on the neighbouring key, so
// adjacent integer intervals such as [1,4] and [5,9] merge into [1,9].
package interval

import (
	"fmt"

	"github.com/discochess/strata/internal/key"
)

// Ordered is the constraint on interval endpoints.
type Ordered[T any] interface {
	Compare(other T) int
}

// Interval is a range of keys between Lo and Hi. Either bound may be open.
type Interval[T Ordered[T]] struct {
	Lo, Hi         T
	LoOpen, HiOpen bool
}

// Closed returns the inclusive interval [lo, hi].
func Closed[T Ordered[T]](lo, hi T) Interval[T] {
	return Interval[T]{Lo: lo, Hi: hi}
}

// Point returns the singleton interval [k, k].
func Point[T Ordered[T]](k T) Interval[T] {
	return Interval[T]{Lo: k, Hi: k}
}

// IsEmpty reports whether no key lies in the interval.
func (iv Interval[T]) IsEmpty() bool {
	c := iv.Lo.Compare(iv.Hi)
	return c > 0 || (c == 0 && (iv.LoOpen || iv.HiOpen))
}

// Contains reports whether k lies in the interval.
func (iv Interval[T]) Contains(k T) bool {
	if c := k.Compare(iv.Lo); c < 0 || (c == 0 && iv.LoOpen) {
		return false
	}
	if c := k.Compare(iv.Hi); c > 0 || (c == 0 && iv.HiOpen) {
		return false
	}
	return true
}

// String formats the interval in mathematical notation, e.g. [a, m).
func (iv Interval[T]) String() string {
	lo, hi := "[", "]"
	if iv.LoOpen {
		lo = "("
	}
	if iv.HiOpen {
		hi = ")"
	}
	return fmt.Sprintf("%s%v, %v%s", lo, iv.Lo, iv.Hi, hi)
}

// Canonical closes open bounds of discrete keys. Other intervals are
// returned unchanged.
func Canonical[T Ordered[T]](iv Interval[T]) Interval[T] {
	if iv.LoOpen {
		if d, ok := any(iv.Lo).(key.Discrete[T]); ok {
			if next, ok := d.Next(); ok {
				iv.Lo, iv.LoOpen = next, false
			}
		}
	}
	if iv.HiOpen {
		if d, ok := any(iv.Hi).(key.Discrete[T]); ok {
			if prev, ok := d.Prev(); ok {
				iv.Hi, iv.HiOpen = prev, false
			}
		}
	}
	return iv
}

// compareLower orders intervals by where they start.
func compareLower[T Ordered[T]](a, b Interval[T]) int {
	if c := a.Lo.Compare(b.Lo); c != 0 {
		return c
	}
	switch {
	case a.LoOpen == b.LoOpen:
		return 0
	case a.LoOpen:
		return 1
	default:
		return -1
	}
}

// compareUpper orders intervals by where they end.
func compareUpper[T Ordered[T]](a, b Interval[T]) int {
	if c := a.Hi.Compare(b.Hi); c != 0 {
		return c
	}
	switch {
	case a.HiOpen == b.HiOpen:
		return 0
	case a.HiOpen:
		return -1
	default:
		return 1
	}
}

// endsBefore reports whether every key of a sorts before every key of b.
func endsBefore[T Ordered[T]](a, b Interval[T]) bool {
	c := a.Hi.Compare(b.Lo)
	return c < 0 || (c == 0 && (a.HiOpen || b.LoOpen))
}

// connected reports whether a, which starts no later than b, overlaps or
// touches b so that their union is a single interval.
func connected[T Ordered[T]](a, b Interval[T]) bool {
	c := a.Hi.Compare(b.Lo)
	switch {
	case c > 0:
		return true
	case c == 0:
		return !(a.HiOpen && b.LoOpen)
	}
	if a.HiOpen || b.LoOpen {
		return false
	}
	d, ok := any(a.Hi).(key.Discrete[T])
	if !ok {
		return false
	}
	next, ok := d.Next()
	return ok && next.Compare(b.Lo) == 0
}

// Intersection returns the keys common to a and b; the result may be empty.
func Intersection[T Ordered[T]](a, b Interval[T]) Interval[T] {
	out := a
	if compareLower(b, a) > 0 {
		out.Lo, out.LoOpen = b.Lo, b.LoOpen
	}
	if compareUpper(b, a) < 0 {
		out.Hi, out.HiOpen = b.Hi, b.HiOpen
	}
	return Canonical(out)
}

// hull returns the smallest interval containing both a and b.
func hull[T Ordered[T]](a, b Interval[T]) Interval[T] {
	out := a
	if compareLower(b, a) < 0 {
		out.Lo, out.LoOpen = b.Lo, b.LoOpen
	}
	if compareUpper(b, a) > 0 {
		out.Hi, out.HiOpen = b.Hi, b.HiOpen
	}
	return out
}
