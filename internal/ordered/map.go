// Package ordered provides an ascending key-ordered map, the result type of
// every range read.
package ordered

import (
	"iter"
	"sort"
)

// Key is the constraint on map keys.
type Key[K any] interface {
	Compare(other K) int
}

// Map is a mapping from keys to values iterated in ascending key order.
// The zero value is an empty map ready to use. A Map is not safe for
// concurrent use.
type Map[K Key[K], V any] struct {
	keys   []K
	values []V
}

// New returns an empty map.
func New[K Key[K], V any]() *Map[K, V] {
	return &Map[K, V]{}
}

// Len returns the number of entries. A nil map has length zero.
func (m *Map[K, V]) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

func (m *Map[K, V]) search(k K) (int, bool) {
	i := sort.Search(len(m.keys), func(i int) bool {
		return m.keys[i].Compare(k) >= 0
	})
	return i, i < len(m.keys) && m.keys[i].Compare(k) == 0
}

// Put sets the value for k, replacing any existing value.
func (m *Map[K, V]) Put(k K, v V) {
	i, found := m.search(k)
	if found {
		m.values[i] = v
		return
	}
	// Appending in order is the common case for range reads.
	if i == len(m.keys) {
		m.keys = append(m.keys, k)
		m.values = append(m.values, v)
		return
	}
	var zk K
	var zv V
	m.keys = append(m.keys, zk)
	m.values = append(m.values, zv)
	copy(m.keys[i+1:], m.keys[i:])
	copy(m.values[i+1:], m.values[i:])
	m.keys[i], m.values[i] = k, v
}

// Get returns the value for k.
func (m *Map[K, V]) Get(k K) (V, bool) {
	if m == nil {
		var zero V
		return zero, false
	}
	i, found := m.search(k)
	if !found {
		var zero V
		return zero, false
	}
	return m.values[i], true
}

// Delete removes k and reports whether it was present.
func (m *Map[K, V]) Delete(k K) bool {
	i, found := m.search(k)
	if !found {
		return false
	}
	m.keys = append(m.keys[:i], m.keys[i+1:]...)
	m.values = append(m.values[:i], m.values[i+1:]...)
	return true
}

// Keys returns the keys in ascending order.
func (m *Map[K, V]) Keys() []K {
	if m == nil {
		return nil
	}
	out := make([]K, len(m.keys))
	copy(out, m.keys)
	return out
}

// Values returns the values in ascending key order.
func (m *Map[K, V]) Values() []V {
	if m == nil {
		return nil
	}
	out := make([]V, len(m.values))
	copy(out, m.values)
	return out
}

// All iterates the entries in ascending key order.
func (m *Map[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		if m == nil {
			return
		}
		for i := range m.keys {
			if !yield(m.keys[i], m.values[i]) {
				return
			}
		}
	}
}

// Merge copies every entry of other into m; other's values win on
// conflicting keys.
func (m *Map[K, V]) Merge(other *Map[K, V]) {
	for k, v := range other.All() {
		m.Put(k, v)
	}
}

// Filter returns a new map holding the entries whose key satisfies keep.
func (m *Map[K, V]) Filter(keep func(K) bool) *Map[K, V] {
	out := New[K, V]()
	for k, v := range m.All() {
		if keep(k) {
			out.keys = append(out.keys, k)
			out.values = append(out.values, v)
		}
	}
	return out
}

// Head returns a new map holding the first n entries.
func (m *Map[K, V]) Head(n int) *Map[K, V] {
	out := New[K, V]()
	if m == nil || n <= 0 {
		return out
	}
	n = min(n, len(m.keys))
	out.keys = append(out.keys, m.keys[:n]...)
	out.values = append(out.values, m.values[:n]...)
	return out
}

// Between returns a new map holding the entries with lo <= key <= hi.
func (m *Map[K, V]) Between(lo, hi K) *Map[K, V] {
	out := New[K, V]()
	if m == nil || lo.Compare(hi) > 0 {
		return out
	}
	i, _ := m.search(lo)
	j := sort.Search(len(m.keys), func(j int) bool {
		return m.keys[j].Compare(hi) > 0
	})
	if i >= j {
		return out
	}
	out.keys = append(out.keys, m.keys[i:j]...)
	out.values = append(out.values, m.values[i:j]...)
	return out
}

// After returns a new map holding up to n entries with key > k.
func (m *Map[K, V]) After(k K, n int) *Map[K, V] {
	out := New[K, V]()
	if m == nil || n <= 0 {
		return out
	}
	i := sort.Search(len(m.keys), func(i int) bool {
		return m.keys[i].Compare(k) > 0
	})
	j := min(i+n, len(m.keys))
	out.keys = append(out.keys, m.keys[i:j]...)
	out.values = append(out.values, m.values[i:j]...)
	return out
}

// Clone returns a shallow copy of m.
func (m *Map[K, V]) Clone() *Map[K, V] {
	return m.Head(m.Len())
}
