package boltstore

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"

	bolt "go.etcd.io/bbolt"

	"github.com/discochess/strata/internal/key"
	"github.com/discochess/strata/internal/ordered"
	"github.com/discochess/strata/internal/serde"
	"github.com/discochess/strata/internal/store"
)

// Compile-time check that Ranged implements store.RangedStore.
var _ store.RangedStore[key.Name, key.String, []byte] = (*Ranged[key.Name, key.String, []byte])(nil)

// Ranged is a ranged store with one nested bucket per partition under a
// root bucket. A partition bucket is dropped when its last key is deleted.
type Ranged[P key.Partition, R key.Range[R], V any] struct {
	db     *DB
	root   []byte
	parse  key.ParseFunc[R]
	codec  serde.Codec[V]
	closed atomic.Bool
}

// NewRanged creates a ranged store under the root bucket, creating it if
// needed. parse rebuilds range keys from their stored encoding.
func NewRanged[P key.Partition, R key.Range[R], V any](db *DB, root string, parse key.ParseFunc[R], codec serde.Codec[V]) (*Ranged[P, R, V], error) {
	err := db.bolt.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(root))
		return err
	})
	if err != nil {
		return nil, store.Wrap(backend, "open", err)
	}
	db.acquire()
	return &Ranged[P, R, V]{db: db, root: []byte(root), parse: parse, codec: codec}, nil
}

func (s *Ranged[P, R, V]) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return store.ErrClosed
	}
	return nil
}

// view runs fn over the bucket of p, or returns an empty map when p has
// no bucket.
func (s *Ranged[P, R, V]) view(ctx context.Context, op string, p P, fn func(c *bolt.Cursor, out *ordered.Map[R, V]) error) (*ordered.Map[R, V], error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	out := ordered.New[R, V]()
	err := s.db.bolt.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.root).Bucket([]byte(p.Key()))
		if b == nil {
			return nil
		}
		return fn(b.Cursor(), out)
	})
	if err != nil {
		return nil, store.Wrap(backend, op, err)
	}
	return out, nil
}

// scan adds entries from k onwards while more reports true.
func (s *Ranged[P, R, V]) scan(ctx context.Context, c *bolt.Cursor, out *ordered.Map[R, V], k, v []byte, more func(k []byte) bool) error {
	for ; k != nil && more(k); k, v = c.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.add(out, k, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *Ranged[P, R, V]) add(out *ordered.Map[R, V], k, v []byte) error {
	rk, err := s.parse(string(k))
	if err != nil {
		return err
	}
	val, err := s.codec.Decode(clone(v))
	if err != nil {
		return fmt.Errorf("decoding %q: %w", k, err)
	}
	out.Put(rk, val)
	return nil
}

// Get returns the value for k in p.
func (s *Ranged[P, R, V]) Get(ctx context.Context, p P, k R) (V, bool, error) {
	var zero V
	m, err := s.view(ctx, "get", p, func(c *bolt.Cursor, out *ordered.Map[R, V]) error {
		want := []byte(k.Key())
		ck, cv := c.Seek(want)
		if ck == nil || !bytes.Equal(ck, want) {
			return nil
		}
		return s.add(out, ck, cv)
	})
	if err != nil {
		return zero, false, err
	}
	v, ok := m.Get(k)
	return v, ok, nil
}

// ValuesInRange returns the entries of p with lo <= key <= hi.
func (s *Ranged[P, R, V]) ValuesInRange(ctx context.Context, p P, lo, hi R) (*ordered.Map[R, V], error) {
	end := []byte(hi.Key())
	return s.view(ctx, "valuesInRange", p, func(c *bolt.Cursor, out *ordered.Map[R, V]) error {
		k, v := c.Seek([]byte(lo.Key()))
		return s.scan(ctx, c, out, k, v, func(k []byte) bool { return bytes.Compare(k, end) <= 0 })
	})
}

// ValuesAbove returns the entries of p with key >= lo.
func (s *Ranged[P, R, V]) ValuesAbove(ctx context.Context, p P, lo R) (*ordered.Map[R, V], error) {
	return s.view(ctx, "valuesAbove", p, func(c *bolt.Cursor, out *ordered.Map[R, V]) error {
		k, v := c.Seek([]byte(lo.Key()))
		return s.scan(ctx, c, out, k, v, func([]byte) bool { return true })
	})
}

// ValuesBelow returns the entries of p with key <= hi.
func (s *Ranged[P, R, V]) ValuesBelow(ctx context.Context, p P, hi R) (*ordered.Map[R, V], error) {
	end := []byte(hi.Key())
	return s.view(ctx, "valuesBelow", p, func(c *bolt.Cursor, out *ordered.Map[R, V]) error {
		k, v := c.First()
		return s.scan(ctx, c, out, k, v, func(k []byte) bool { return bytes.Compare(k, end) <= 0 })
	})
}

// HeadValues returns the first n entries of p.
func (s *Ranged[P, R, V]) HeadValues(ctx context.Context, p P, n int) (*ordered.Map[R, V], error) {
	return s.view(ctx, "headValues", p, func(c *bolt.Cursor, out *ordered.Map[R, V]) error {
		k, v := c.First()
		return s.scan(ctx, c, out, k, v, func([]byte) bool { return out.Len() < n })
	})
}

// NextValues returns up to n entries of p with key > after.
func (s *Ranged[P, R, V]) NextValues(ctx context.Context, p P, after R, n int) (*ordered.Map[R, V], error) {
	start := []byte(after.Key())
	return s.view(ctx, "nextValues", p, func(c *bolt.Cursor, out *ordered.Map[R, V]) error {
		k, v := c.Seek(start)
		if k != nil && bytes.Equal(k, start) {
			k, v = c.Next()
		}
		return s.scan(ctx, c, out, k, v, func([]byte) bool { return out.Len() < n })
	})
}

// Partition returns every entry of p.
func (s *Ranged[P, R, V]) Partition(ctx context.Context, p P) (*ordered.Map[R, V], error) {
	return s.view(ctx, "partition", p, func(c *bolt.Cursor, out *ordered.Map[R, V]) error {
		k, v := c.First()
		return s.scan(ctx, c, out, k, v, func([]byte) bool { return true })
	})
}

// update runs fn in a write transaction on the bucket of p, created if
// missing.
func (s *Ranged[P, R, V]) update(ctx context.Context, op string, p P, fn func(b *bolt.Bucket) error) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	return store.Wrap(backend, op, s.db.bolt.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(s.root).CreateBucketIfNotExists([]byte(p.Key()))
		if err != nil {
			return err
		}
		return fn(b)
	}))
}

// Put stores v under k in p.
func (s *Ranged[P, R, V]) Put(ctx context.Context, p P, k R, v V) error {
	raw, err := s.codec.Encode(v)
	if err != nil {
		return store.Wrap(backend, "put", err)
	}
	return s.update(ctx, "put", p, func(b *bolt.Bucket) error {
		return b.Put([]byte(k.Key()), raw)
	})
}

// PutAll writes every entry of values in one transaction.
func (s *Ranged[P, R, V]) PutAll(ctx context.Context, p P, values *ordered.Map[R, V]) error {
	if values.Len() == 0 {
		return s.check(ctx)
	}
	type entry struct{ k, v []byte }
	entries := make([]entry, 0, values.Len())
	for k, v := range values.All() {
		raw, err := s.codec.Encode(v)
		if err != nil {
			return store.Wrap(backend, "putAll", err)
		}
		entries = append(entries, entry{[]byte(k.Key()), raw})
	}
	return s.update(ctx, "putAll", p, func(b *bolt.Bucket) error {
		for _, e := range entries {
			if err := b.Put(e.k, e.v); err != nil {
				return err
			}
		}
		return nil
	})
}

// PutIfAbsent stores v under k unless a value exists. The check and the
// write share one write transaction.
func (s *Ranged[P, R, V]) PutIfAbsent(ctx context.Context, p P, k R, v V) (bool, error) {
	raw, err := s.codec.Encode(v)
	if err != nil {
		return false, store.Wrap(backend, "putIfAbsent", err)
	}
	var stored bool
	err = s.update(ctx, "putIfAbsent", p, func(b *bolt.Bucket) error {
		kb := []byte(k.Key())
		if b.Get(kb) != nil {
			return nil
		}
		stored = true
		return b.Put(kb, raw)
	})
	if err != nil {
		return false, err
	}
	return stored, nil
}

// Delete removes k from p, dropping the partition bucket once empty.
func (s *Ranged[P, R, V]) Delete(ctx context.Context, p P, k R) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	return store.Wrap(backend, "delete", s.db.bolt.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(s.root)
		name := []byte(p.Key())
		b := root.Bucket(name)
		if b == nil {
			return nil
		}
		if err := b.Delete([]byte(k.Key())); err != nil {
			return err
		}
		if first, _ := b.Cursor().First(); first == nil {
			return root.DeleteBucket(name)
		}
		return nil
	}))
}

// IsEmpty reports whether no partition holds a key.
func (s *Ranged[P, R, V]) IsEmpty(ctx context.Context) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	empty := true
	err := s.db.bolt.View(func(tx *bolt.Tx) error {
		root := tx.Bucket(s.root)
		return root.ForEachBucket(func(name []byte) error {
			if k, _ := root.Bucket(name).Cursor().First(); k != nil {
				empty = false
			}
			return nil
		})
	})
	return empty, store.Wrap(backend, "isEmpty", err)
}

// MaxConcurrency returns the DB's reader ceiling.
func (s *Ranged[P, R, V]) MaxConcurrency() int { return s.db.maxReaders }

// Close releases this store's reference to the DB.
func (s *Ranged[P, R, V]) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.release()
}
