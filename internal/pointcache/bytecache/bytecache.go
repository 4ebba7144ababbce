// Package bytecache adapts byte-oriented cache providers (in-process or
// remote) to the point cache contract. Values are serialized with a
// serde.Codec and keys are namespaced so several caches can share one
// provider.
package bytecache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/discochess/strata/internal/key"
	"github.com/discochess/strata/internal/pointcache"
	"github.com/discochess/strata/internal/serde"
)

// Provider is a byte store. Get must return exactly the bytes given to Set.
type Provider interface {
	// Get returns (value, true, nil) on hit and (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value. ok is false when the provider dropped the write
	// under memory pressure.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) (ok bool, err error)

	// Del removes key.
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// Compile-time check that Cache implements pointcache.Cache.
var _ pointcache.Cache[key.Name, int] = (*Cache[key.Name, int])(nil)

// Cache is a point cache over a Provider.
type Cache[K key.Partition, V any] struct {
	provider  Provider
	codec     serde.Codec[V]
	namespace string
	ttl       time.Duration
	logger    *zap.Logger
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	ttl    time.Duration
	logger *zap.Logger
}

// WithTTL sets the expiry passed to the provider. Zero means no expiry.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New returns a cache storing values under "namespace:" + K.Key().
func New[K key.Partition, V any](p Provider, codec serde.Codec[V], namespace string, opts ...Option) *Cache[K, V] {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[K, V]{
		provider:  p,
		codec:     codec,
		namespace: namespace,
		ttl:       o.ttl,
		logger:    o.logger.Named("bytecache").With(zap.String("namespace", namespace)),
	}
}

func (c *Cache[K, V]) providerKey(k K) string {
	return c.namespace + ":" + k.Key()
}

// Get decodes the cached bytes for k. Bytes that fail to decode are
// dropped and reported as a miss.
func (c *Cache[K, V]) Get(ctx context.Context, k K) (V, bool, error) {
	var zero V
	pk := c.providerKey(k)
	b, ok, err := c.provider.Get(ctx, pk)
	if err != nil {
		return zero, false, fmt.Errorf("bytecache get %q: %w", pk, err)
	}
	if !ok {
		return zero, false, nil
	}
	v, err := c.codec.Decode(b)
	if err != nil {
		c.logger.Warn("dropping undecodable entry", zap.String("key", pk), zap.Error(err))
		if err := c.provider.Del(ctx, pk); err != nil {
			return zero, false, fmt.Errorf("bytecache del %q: %w", pk, err)
		}
		return zero, false, nil
	}
	return v, true, nil
}

// Put encodes v and hands it to the provider. A write the provider drops
// is logged, not returned: the next read is simply a miss.
func (c *Cache[K, V]) Put(ctx context.Context, k K, v V) error {
	b, err := c.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("bytecache encode: %w", err)
	}
	pk := c.providerKey(k)
	ok, err := c.provider.Set(ctx, pk, b, c.ttl)
	if err != nil {
		return fmt.Errorf("bytecache set %q: %w", pk, err)
	}
	if !ok {
		c.logger.Debug("provider rejected write", zap.String("key", pk))
	}
	return nil
}

// Invalidate deletes k from the provider.
func (c *Cache[K, V]) Invalidate(ctx context.Context, k K) error {
	pk := c.providerKey(k)
	if err := c.provider.Del(ctx, pk); err != nil {
		return fmt.Errorf("bytecache del %q: %w", pk, err)
	}
	return nil
}

// BatchGet looks up every key.
func (c *Cache[K, V]) BatchGet(ctx context.Context, keys []K) (pointcache.Result[K, V], error) {
	return pointcache.BatchGet[K, V](ctx, c, keys)
}

// BatchPut stores every entry.
func (c *Cache[K, V]) BatchPut(ctx context.Context, values map[K]V) error {
	return pointcache.BatchPut[K, V](ctx, c, values)
}

// Close closes the provider.
func (c *Cache[K, V]) Close(ctx context.Context) error {
	return c.provider.Close(ctx)
}
