// Package redis provides a remote byte provider backed by Redis, shared by
// every process pointing at the same server.
package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/discochess/strata/internal/pointcache/bytecache"
)

// Compile-time check that Provider implements bytecache.Provider.
var _ bytecache.Provider = (*Provider)(nil)

// ErrNilClient is returned by New without a client.
var ErrNilClient = errors.New("redis provider: nil client")

// Config configures the provider.
type Config struct {
	Client goredis.UniversalClient
	// CloseClient closes Client on Close. Set it only when the provider
	// owns the client.
	CloseClient bool
}

// Provider stores values as Redis strings.
type Provider struct {
	rdb         goredis.UniversalClient
	closeClient bool
}

// New creates a provider.
func New(cfg Config) (*Provider, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Provider{rdb: cfg.Client, closeClient: cfg.CloseClient}, nil
}

// Get returns the stored bytes; a Nil reply is a miss.
func (p *Provider) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := p.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Set stores value with ttl; a non-positive ttl means no expiry.
func (p *Provider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	if err := p.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return false, err
	}
	return true, nil
}

// Del removes key.
func (p *Provider) Del(ctx context.Context, key string) error {
	return p.rdb.Del(ctx, key).Err()
}

// Close closes the client if the provider owns it.
func (p *Provider) Close(context.Context) error {
	if !p.closeClient {
		return nil
	}
	if err := p.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		return err
	}
	return nil
}
