package strata

import (
	"go.uber.org/zap"

	"github.com/discochess/strata/internal/rangecache"
	"github.com/discochess/strata/internal/stats"
	"github.com/discochess/strata/internal/twolevel"
)

// Option configures a Client.
type Option interface {
	apply(*options)
}

// options holds the client configuration.
type options struct {
	concurrency      int
	fetchParallelism int
	lockStripes      int
	stats            stats.Collector
	logger           *zap.Logger
}

// defaultOptions returns the default configuration.
func defaultOptions() options {
	return options{
		fetchParallelism: twolevel.DefaultFetchParallelism,
		lockStripes:      rangecache.DefaultLockStripes,
		stats:            stats.NewNoop(),
		logger:           zap.NewNop(),
	}
}

// optionFunc wraps a function to implement Option.
type optionFunc func(*options)

// Compile-time check that optionFunc implements Option.
var _ Option = optionFunc(nil)

func (f optionFunc) apply(o *options) { f(o) }

// WithConcurrency caps simultaneous operations on the authoritative store.
// The effective ceiling never exceeds the store's own MaxConcurrency.
// Zero or negative means the store's maximum.
func WithConcurrency(n int) Option {
	return optionFunc(func(o *options) {
		o.concurrency = n
	})
}

// WithFetchParallelism bounds how many uncached sub-ranges of one read are
// fetched at once. Default is 4.
func WithFetchParallelism(n int) Option {
	return optionFunc(func(o *options) {
		if n > 0 {
			o.fetchParallelism = n
		}
	})
}

// WithLockStripes sets how many stripes partition locks are spread over.
// Default is 32.
func WithLockStripes(n int) Option {
	return optionFunc(func(o *options) {
		if n > 0 {
			o.lockStripes = n
		}
	})
}

// WithStats sets the stats collector.
// If not set, a no-op collector is used.
func WithStats(c stats.Collector) Option {
	return optionFunc(func(o *options) {
		o.stats = c
	})
}

// WithLogger sets the logger.
// If not set, a no-op logger is used.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(o *options) {
		o.logger = l
	})
}
