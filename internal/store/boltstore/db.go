// Package boltstore implements point and ranged stores on an embedded bbolt
// B+tree file. Keys are stored under their Key() encoding, whose byte order
// matches key order, so range reads are cursor scans.
package boltstore

import (
	"errors"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"

	"github.com/discochess/strata/internal/store"
)

const backend = "bolt"

// DefaultMaxReaders is the default concurrency limit reported by stores on
// a DB.
const DefaultMaxReaders = 126

// DB is an open bbolt file shared by the stores created on it. The file is
// closed when the last store on it is closed, or by Close.
type DB struct {
	bolt       *bolt.DB
	maxReaders int

	mu     sync.Mutex
	refs   int
	closed bool
}

// Option configures Open.
type Option func(*options)

type options struct {
	maxReaders int
	timeout    time.Duration
	noSync     bool
}

// WithMaxReaders sets the number of simultaneous operations stores on this
// DB admit, reported through MaxConcurrency.
func WithMaxReaders(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxReaders = n
		}
	}
}

// WithTimeout bounds how long Open waits for the file lock.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithNoSync skips fsync after each commit. Only for tests and scratch data.
func WithNoSync() Option {
	return func(o *options) { o.noSync = true }
}

// Open opens or creates the bbolt file at path.
func Open(path string, opts ...Option) (*DB, error) {
	o := options{maxReaders: DefaultMaxReaders, timeout: time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: o.timeout, NoSync: o.noSync})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return &DB{bolt: db, maxReaders: o.maxReaders}, nil
}

// MaxReaders returns the configured reader ceiling.
func (db *DB) MaxReaders() int { return db.maxReaders }

// Path returns the file path.
func (db *DB) Path() string { return db.bolt.Path() }

// DropBucket deletes the named top-level bucket and everything under it.
// A missing bucket is not an error.
func (db *DB) DropBucket(name string) error {
	err := db.bolt.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket([]byte(name))
		if errors.Is(err, berrors.ErrBucketNotFound) {
			return nil
		}
		return err
	})
	return store.Wrap(backend, "drop", err)
}

func (db *DB) acquire() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.refs++
}

// release drops one store reference and closes the file with the last.
func (db *DB) release() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.refs--
	if db.refs > 0 || db.closed {
		return nil
	}
	db.closed = true
	return db.bolt.Close()
}

// Close closes the file regardless of open stores.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	return db.bolt.Close()
}

// clone copies a slice owned by a bbolt transaction.
func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
