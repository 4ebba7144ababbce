// Package ristretto provides an in-process byte provider backed by
// dgraph-io/ristretto, a cost-bounded cache with TinyLFU admission.
package ristretto

import (
	"context"
	"errors"
	"time"

	rc "github.com/dgraph-io/ristretto"

	"github.com/discochess/strata/internal/pointcache/bytecache"
)

// Compile-time check that Provider implements bytecache.Provider.
var _ bytecache.Provider = (*Provider)(nil)

// ErrInvalidConfig is returned for non-positive sizing parameters.
var ErrInvalidConfig = errors.New("ristretto: invalid config")

// Config sizes the cache. Cost is the value length in bytes, so MaxCost
// bounds memory.
type Config struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
}

// DefaultConfig returns a config bounded to maxBytes.
func DefaultConfig(maxBytes int64) Config {
	return Config{NumCounters: 1e6, MaxCost: maxBytes, BufferItems: 64}
}

// Provider wraps a ristretto cache.
type Provider struct {
	c *rc.Cache
}

// New creates a provider.
func New(cfg Config) (*Provider, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, ErrInvalidConfig
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &Provider{c: c}, nil
}

// Get returns the cached bytes.
func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := p.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, ok := v.([]byte)
	if !ok {
		p.c.Del(key)
		return nil, false, nil
	}
	return b, true, nil
}

// Set admits value at a cost of its length. Ristretto applies writes
// asynchronously; call Wait to observe them.
func (p *Provider) Set(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return p.c.SetWithTTL(key, value, int64(len(value)), ttl), nil
}

// Del removes key.
func (p *Provider) Del(_ context.Context, key string) error {
	p.c.Del(key)
	return nil
}

// Wait blocks until buffered writes are applied.
func (p *Provider) Wait() { p.c.Wait() }

// Close stops the cache's background goroutines.
func (p *Provider) Close(_ context.Context) error {
	p.c.Wait()
	p.c.Close()
	return nil
}
