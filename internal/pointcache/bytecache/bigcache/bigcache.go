// Package bigcache provides an in-process byte provider backed by
// allegro/bigcache, which keeps entries off the GC-scanned heap.
package bigcache

import (
	"context"
	"errors"
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/discochess/strata/internal/pointcache/bytecache"
)

// Compile-time check that Provider implements bytecache.Provider.
var _ bytecache.Provider = (*Provider)(nil)

// Config sizes the cache. bigcache applies one eviction window to every
// entry, so per-entry TTLs passed to Set are ignored.
type Config struct {
	LifeWindow         time.Duration
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // 0 = unlimited
}

// Provider wraps a BigCache.
type Provider struct {
	c *bc.BigCache
}

// New creates a provider.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	conf := bc.DefaultConfig(cfg.LifeWindow)
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.New(ctx, conf)
	if err != nil {
		return nil, err
	}
	return &Provider{c: c}, nil
}

// Get returns the cached bytes.
func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, err := p.c.Get(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Set stores value until the life window passes.
func (p *Provider) Set(_ context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	if err := p.c.Set(key, value); err != nil {
		return false, err
	}
	return true, nil
}

// Del removes key. Deleting a missing key is not an error.
func (p *Provider) Del(_ context.Context, key string) error {
	if err := p.c.Delete(key); err != nil && !errors.Is(err, bc.ErrEntryNotFound) {
		return err
	}
	return nil
}

// Len returns the number of stored entries.
func (p *Provider) Len() int { return p.c.Len() }

// Close stops the cleanup goroutine.
func (p *Provider) Close(_ context.Context) error {
	return p.c.Close()
}
