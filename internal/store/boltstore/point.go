package boltstore

import (
	"context"
	"sync/atomic"

	bolt "go.etcd.io/bbolt"

	"github.com/discochess/strata/internal/key"
	"github.com/discochess/strata/internal/serde"
	"github.com/discochess/strata/internal/store"
)

// Compile-time check that Store implements store.Store.
var _ store.Store[key.Name, []byte] = (*Store[key.Name, []byte])(nil)

// Store is a point store kept in one bucket.
type Store[K key.Partition, V any] struct {
	db     *DB
	bucket []byte
	codec  serde.Codec[V]
	closed atomic.Bool
}

// NewStore creates a point store in bucket, creating the bucket if needed.
func NewStore[K key.Partition, V any](db *DB, bucket string, codec serde.Codec[V]) (*Store[K, V], error) {
	err := db.bolt.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		return nil, store.Wrap(backend, "open", err)
	}
	db.acquire()
	return &Store[K, V]{db: db, bucket: []byte(bucket), codec: codec}, nil
}

func (s *Store[K, V]) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return store.ErrClosed
	}
	return nil
}

// Get returns the value for k.
func (s *Store[K, V]) Get(ctx context.Context, k K) (V, bool, error) {
	var (
		v     V
		found bool
	)
	if err := s.check(ctx); err != nil {
		return v, false, err
	}
	err := s.db.bolt.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(s.bucket).Get([]byte(k.Key()))
		if raw == nil {
			return nil
		}
		var err error
		v, err = s.codec.Decode(clone(raw))
		found = err == nil
		return err
	})
	if err != nil {
		var zero V
		return zero, false, store.Wrap(backend, "get", err)
	}
	return v, found, nil
}

// Put stores v under k.
func (s *Store[K, V]) Put(ctx context.Context, k K, v V) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	raw, err := s.codec.Encode(v)
	if err != nil {
		return store.Wrap(backend, "put", err)
	}
	return store.Wrap(backend, "put", s.db.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(k.Key()), raw)
	}))
}

// Delete removes k.
func (s *Store[K, V]) Delete(ctx context.Context, k K) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	return store.Wrap(backend, "delete", s.db.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Delete([]byte(k.Key()))
	}))
}

// ContainsKey reports whether k is stored.
func (s *Store[K, V]) ContainsKey(ctx context.Context, k K) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	var found bool
	err := s.db.bolt.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(s.bucket).Get([]byte(k.Key())) != nil
		return nil
	})
	return found, store.Wrap(backend, "containsKey", err)
}

// IsEmpty reports whether the bucket holds no keys.
func (s *Store[K, V]) IsEmpty(ctx context.Context) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	var empty bool
	err := s.db.bolt.View(func(tx *bolt.Tx) error {
		k, _ := tx.Bucket(s.bucket).Cursor().First()
		empty = k == nil
		return nil
	})
	return empty, store.Wrap(backend, "isEmpty", err)
}

// Values decodes every value in key order.
func (s *Store[K, V]) Values(ctx context.Context) ([]V, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var out []V
	err := s.db.bolt.View(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).ForEach(func(_, raw []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			v, err := s.codec.Decode(clone(raw))
			if err != nil {
				return err
			}
			out = append(out, v)
			return nil
		})
	})
	if err != nil {
		return nil, store.Wrap(backend, "values", err)
	}
	return out, nil
}

// MaxConcurrency returns the DB's reader ceiling.
func (s *Store[K, V]) MaxConcurrency() int { return s.db.maxReaders }

// Close releases this store's reference to the DB.
func (s *Store[K, V]) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.release()
}
