// Package gcsstore implements a Google Cloud Storage point store. Each key
// is one object under an optional prefix.
package gcsstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/discochess/strata/internal/key"
	"github.com/discochess/strata/internal/store"
	"github.com/discochess/strata/internal/store/blob"
)

const backend = "gcs"

// Compile-time check that Store implements store.Store.
var _ store.Store[key.Name, []byte] = (*Store[key.Name, []byte])(nil)

// errNotExist is returned by a bucket for a missing object.
var errNotExist = storage.ErrObjectNotExist

// bucket is the object access Store needs. gcsBucket adapts a
// storage.BucketHandle to it.
type bucket interface {
	read(ctx context.Context, name string) ([]byte, error)
	write(ctx context.Context, name string, data []byte) error
	delete(ctx context.Context, name string) error
	exists(ctx context.Context, name string) (bool, error)
	// list returns object names under prefix, at most limit when limit > 0.
	list(ctx context.Context, prefix string, limit int) ([]string, error)
}

// Store is a Google Cloud Storage point store.
type Store[K key.Partition, V any] struct {
	client *storage.Client
	bucket bucket
	prefix string
	format blob.Format[V]
	limit  int
}

// Option configures a Store.
type Option func(*options)

type options struct {
	prefix         string
	maxConcurrency int
}

// WithPrefix sets a key prefix for all operations.
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = blob.NormalizePrefix(prefix) }
}

// WithMaxConcurrency sets the limit reported by MaxConcurrency.
func WithMaxConcurrency(n int) Option {
	return func(o *options) { o.maxConcurrency = n }
}

// New creates a GCS store using application default credentials.
// The bucket must already exist.
func New[K key.Partition, V any](ctx context.Context, bucketName string, format blob.Format[V], opts ...Option) (*Store[K, V], error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}
	s := newStore[K](gcsBucket{client.Bucket(bucketName)}, format, opts)
	s.client = client
	return s, nil
}

func newStore[K key.Partition, V any](b bucket, format blob.Format[V], opts []Option) *Store[K, V] {
	o := options{maxConcurrency: store.Unbounded}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store[K, V]{
		bucket: b,
		prefix: o.prefix,
		format: format,
		limit:  o.maxConcurrency,
	}
}

// Get downloads and decodes the object for k.
func (s *Store[K, V]) Get(ctx context.Context, k K) (V, bool, error) {
	var zero V
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}
	data, err := s.bucket.read(ctx, s.objectName(k))
	if err != nil {
		if errors.Is(err, errNotExist) {
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

// Put encodes v and uploads it as the object for k.
func (s *Store[K, V]) Put(ctx context.Context, k K, v V) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := s.format.Encode(v)
	if err != nil {
		return store.Wrap(backend, "put", err)
	}
	return store.Wrap(backend, "put", s.bucket.write(ctx, s.objectName(k), data))
}

// Delete removes the object for k.
func (s *Store[K, V]) Delete(ctx context.Context, k K) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.bucket.delete(ctx, s.objectName(k))
	if err != nil && !errors.Is(err, errNotExist) {
		return store.Wrap(backend, "delete", err)
	}
	return nil
}

// ContainsKey reads the attributes of the object for k.
func (s *Store[K, V]) ContainsKey(ctx context.Context, k K) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ok, err := s.bucket.exists(ctx, s.objectName(k))
	if err != nil {
		return false, store.Wrap(backend, "containsKey", err)
	}
	return ok, nil
}

// IsEmpty lists at most one object under the prefix.
func (s *Store[K, V]) IsEmpty(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	names, err := s.bucket.list(ctx, s.prefix, 1)
	if err != nil {
		return false, store.Wrap(backend, "isEmpty", err)
	}
	return len(names) == 0, nil
}

// Values lists the prefix and downloads every object.
func (s *Store[K, V]) Values(ctx context.Context) ([]V, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	names, err := s.bucket.list(ctx, s.prefix, 0)
	if err != nil {
		return nil, store.Wrap(backend, "values", err)
	}
	out := make([]V, 0, len(names))
	for _, name := range names {
		data, err := s.bucket.read(ctx, name)
		if err != nil {
			if errors.Is(err, errNotExist) {
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

// MaxConcurrency returns the configured limit, store.Unbounded by default.
func (s *Store[K, V]) MaxConcurrency() int { return s.limit }

// Close releases resources.
func (s *Store[K, V]) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// objectName returns the full object name for k.
func (s *Store[K, V]) objectName(k K) string {
	return s.prefix + s.format.Name(k.Key())
}

type gcsBucket struct {
	h *storage.BucketHandle
}

func (b gcsBucket) read(ctx context.Context, name string) ([]byte, error) {
	r, err := b.h.Object(name).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (b gcsBucket) write(ctx context.Context, name string, data []byte) error {
	w := b.h.Object(name).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (b gcsBucket) delete(ctx context.Context, name string) error {
	return b.h.Object(name).Delete(ctx)
}

func (b gcsBucket) exists(ctx context.Context, name string) (bool, error) {
	_, err := b.h.Object(name).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (b gcsBucket) list(ctx context.Context, prefix string, limit int) ([]string, error) {
	it := b.h.Objects(ctx, &storage.Query{Prefix: prefix})
	var names []string
	for limit <= 0 || len(names) < limit {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}
