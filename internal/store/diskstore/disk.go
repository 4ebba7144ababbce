// Package diskstore implements a point store keeping one file per key
// under a root directory.
package diskstore

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/discochess/strata/internal/key"
	"github.com/discochess/strata/internal/store"
	"github.com/discochess/strata/internal/store/blob"
)

const backend = "disk"

// Compile-time check that Store implements store.Store.
var _ store.Store[key.Name, []byte] = (*Store[key.Name, []byte])(nil)

// Store is a filesystem point store. File names are the hex encoding of
// the key so any key encoding is a valid name.
type Store[K key.Partition, V any] struct {
	root   string
	format blob.Format[V]
	limit  int
}

// Option configures a Store.
type Option func(*options)

type options struct {
	maxConcurrency int
}

// WithMaxConcurrency sets the limit reported by MaxConcurrency, for
// filesystems that degrade under many simultaneous open files.
func WithMaxConcurrency(n int) Option {
	return func(o *options) { o.maxConcurrency = n }
}

// New creates a disk store rooted at the given directory.
// The directory must exist.
func New[K key.Partition, V any](root string, format blob.Format[V], opts ...Option) (*Store[K, V], error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	o := options{maxConcurrency: store.Unbounded}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store[K, V]{
		root:   root,
		format: format,
		limit:  o.maxConcurrency,
	}, nil
}

// Get reads and decodes the file for k.
func (s *Store[K, V]) Get(ctx context.Context, k K) (V, bool, error) {
	var zero V
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}

	data, err := os.ReadFile(s.path(k))
	if err != nil {
		if os.IsNotExist(err) {
			return zero, false, nil
		}
		return zero, false, store.Wrap(backend, "get", err)
	}
	v, err := s.format.Decode(data)
	if err != nil {
		return zero, false, store.Wrap(backend, "get", err)
	}
	return v, true, nil
}

// Put writes v to a temporary file and renames it over the file for k, so
// readers never observe a partial value.
func (s *Store[K, V]) Put(ctx context.Context, k K, v V) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := s.format.Encode(v)
	if err != nil {
		return store.Wrap(backend, "put", err)
	}

	tmp, err := os.CreateTemp(s.root, ".tmp-*")
	if err != nil {
		return store.Wrap(backend, "put", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return store.Wrap(backend, "put", err)
	}
	if err := tmp.Close(); err != nil {
		return store.Wrap(backend, "put", err)
	}
	if err := os.Rename(tmp.Name(), s.path(k)); err != nil {
		return store.Wrap(backend, "put", err)
	}
	return nil
}

// Delete removes the file for k.
func (s *Store[K, V]) Delete(ctx context.Context, k K) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.path(k)); err != nil && !os.IsNotExist(err) {
		return store.Wrap(backend, "delete", err)
	}
	return nil
}

// ContainsKey stats the file for k.
func (s *Store[K, V]) ContainsKey(ctx context.Context, k K) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(s.path(k))
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, store.Wrap(backend, "containsKey", err)
	}
}

// IsEmpty reports whether no value file exists.
func (s *Store[K, V]) IsEmpty(ctx context.Context) (bool, error) {
	names, err := s.names(ctx)
	if err != nil {
		return false, err
	}
	return len(names) == 0, nil
}

// Values reads every value file under the root.
func (s *Store[K, V]) Values(ctx context.Context) ([]V, error) {
	names, err := s.names(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]V, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(s.root, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue // deleted since listing
			}
			return nil, store.Wrap(backend, "values", err)
		}
		v, err := s.format.Decode(data)
		if err != nil {
			return nil, store.Wrap(backend, "values", fmt.Errorf("%s: %w", name, err))
		}
		out = append(out, v)
	}
	return out, nil
}

// names lists the value files, skipping temporaries.
func (s *Store[K, V]) names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, store.Wrap(backend, "list", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// MaxConcurrency returns the configured limit, store.Unbounded by default.
func (s *Store[K, V]) MaxConcurrency() int { return s.limit }

// Close releases any resources held by the store.
func (s *Store[K, V]) Close() error {
	return nil
}

// path returns the filesystem path for k.
func (s *Store[K, V]) path(k K) string {
	return filepath.Join(s.root, s.format.Name(hex.EncodeToString([]byte(k.Key()))))
}
