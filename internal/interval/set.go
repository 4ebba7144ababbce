package interval

import "sort"

// Set is a set of keys stored as a sorted slice of non-empty, pairwise
// disjoint intervals. No two stored intervals are connected: any interval
// touching or overlapping another is merged with it on insertion.
//
// A Set is not safe for concurrent use.
type Set[T Ordered[T]] struct {
	ivs []Interval[T]
}

// NewSet returns an empty set.
func NewSet[T Ordered[T]]() *Set[T] {
	return &Set[T]{}
}

// Len returns the number of stored intervals.
func (s *Set[T]) Len() int { return len(s.ivs) }

// IsEmpty reports whether the set holds no keys.
func (s *Set[T]) IsEmpty() bool { return len(s.ivs) == 0 }

// Intervals returns a copy of the stored intervals in ascending order.
func (s *Set[T]) Intervals() []Interval[T] {
	out := make([]Interval[T], len(s.ivs))
	copy(out, s.ivs)
	return out
}

// Contains reports whether k is in the set.
func (s *Set[T]) Contains(k T) bool {
	i := sort.Search(len(s.ivs), func(i int) bool {
		c := s.ivs[i].Hi.Compare(k)
		return c > 0 || (c == 0 && !s.ivs[i].HiOpen)
	})
	return i < len(s.ivs) && s.ivs[i].Contains(k)
}

// Add unions iv into the set, merging every stored interval it touches or
// overlaps.
func (s *Set[T]) Add(iv Interval[T]) {
	iv = Canonical(iv)
	if iv.IsEmpty() {
		return
	}

	// First stored interval that is not strictly before iv.
	i := sort.Search(len(s.ivs), func(i int) bool {
		a := s.ivs[i]
		return !endsBefore(a, iv) || connected(a, iv)
	})

	merged := iv
	j := i
	for ; j < len(s.ivs); j++ {
		b := s.ivs[j]
		if compareLower(iv, b) <= 0 && !connected(iv, b) {
			break
		}
		merged = hull(merged, b)
	}

	s.ivs = splice(s.ivs, i, j, merged)
}

// Remove subtracts iv from the set, splitting any stored interval that
// contains it.
func (s *Set[T]) Remove(iv Interval[T]) {
	iv = Canonical(iv)
	if iv.IsEmpty() {
		return
	}

	i := s.firstNotBefore(iv)
	j := i
	var pieces []Interval[T]
	for ; j < len(s.ivs) && !endsBefore(iv, s.ivs[j]); j++ {
		a := s.ivs[j]
		left := Canonical(Interval[T]{Lo: a.Lo, LoOpen: a.LoOpen, Hi: iv.Lo, HiOpen: !iv.LoOpen})
		if !left.IsEmpty() {
			pieces = append(pieces, left)
		}
		right := Canonical(Interval[T]{Lo: iv.Hi, LoOpen: !iv.HiOpen, Hi: a.Hi, HiOpen: a.HiOpen})
		if !right.IsEmpty() {
			pieces = append(pieces, right)
		}
	}

	s.ivs = splice(s.ivs, i, j, pieces...)
}

// RemovePoint subtracts the singleton [k, k].
func (s *Set[T]) RemovePoint(k T) {
	s.Remove(Point(k))
}

// Intersect returns the parts of the set lying within iv, ascending.
func (s *Set[T]) Intersect(iv Interval[T]) []Interval[T] {
	iv = Canonical(iv)
	if iv.IsEmpty() {
		return nil
	}

	var out []Interval[T]
	for i := s.firstNotBefore(iv); i < len(s.ivs) && !endsBefore(iv, s.ivs[i]); i++ {
		if part := Intersection(s.ivs[i], iv); !part.IsEmpty() {
			out = append(out, part)
		}
	}
	return out
}

// Complement returns the parts of iv not in the set, ascending.
func (s *Set[T]) Complement(iv Interval[T]) []Interval[T] {
	iv = Canonical(iv)
	if iv.IsEmpty() {
		return nil
	}

	var out []Interval[T]
	cursor := Interval[T]{Lo: iv.Lo, LoOpen: iv.LoOpen}
	for i := s.firstNotBefore(iv); i < len(s.ivs) && !endsBefore(iv, s.ivs[i]); i++ {
		a := s.ivs[i]
		gap := Canonical(Interval[T]{Lo: cursor.Lo, LoOpen: cursor.LoOpen, Hi: a.Lo, HiOpen: !a.LoOpen})
		if !gap.IsEmpty() {
			out = append(out, gap)
		}
		cursor = Interval[T]{Lo: a.Hi, LoOpen: !a.HiOpen}
	}

	tail := Canonical(Interval[T]{Lo: cursor.Lo, LoOpen: cursor.LoOpen, Hi: iv.Hi, HiOpen: iv.HiOpen})
	if !tail.IsEmpty() {
		out = append(out, tail)
	}
	return out
}

// Segment is one piece of a query interval, either inside or outside the
// set.
type Segment[T Ordered[T]] struct {
	Interval[T]
	Covered bool
}

// Split cuts iv into ascending segments alternating between keys in the
// set and keys outside it. The segments are disjoint and their union is
// exactly iv.
func (s *Set[T]) Split(iv Interval[T]) []Segment[T] {
	in, out := s.Intersect(iv), s.Complement(iv)
	segs := make([]Segment[T], 0, len(in)+len(out))
	for len(in) > 0 || len(out) > 0 {
		if len(out) == 0 || (len(in) > 0 && compareLower(in[0], out[0]) < 0) {
			segs = append(segs, Segment[T]{Interval: in[0], Covered: true})
			in = in[1:]
		} else {
			segs = append(segs, Segment[T]{Interval: out[0]})
			out = out[1:]
		}
	}
	return segs
}

// Encloses reports whether every key of iv is in the set.
func (s *Set[T]) Encloses(iv Interval[T]) bool {
	return len(s.Complement(iv)) == 0
}

// firstNotBefore returns the index of the first stored interval that does
// not end before iv starts.
func (s *Set[T]) firstNotBefore(iv Interval[T]) int {
	return sort.Search(len(s.ivs), func(i int) bool {
		return !endsBefore(s.ivs[i], iv)
	})
}

// splice replaces ivs[i:j] with repl.
func splice[T Ordered[T]](ivs []Interval[T], i, j int, repl ...Interval[T]) []Interval[T] {
	out := make([]Interval[T], 0, len(ivs)-(j-i)+len(repl))
	out = append(out, ivs[:i]...)
	out = append(out, repl...)
	return append(out, ivs[j:]...)
}
