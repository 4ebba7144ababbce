// Package boundedstore caps the number of operations executing at once
// against a backing store. Every call is handed to a fixed set of worker
// goroutines; callers beyond the ceiling wait in FIFO order.
package boundedstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/discochess/strata/internal/stats"
	"github.com/discochess/strata/internal/store"
)

// DefaultConcurrency is the ceiling used when neither the caller nor the
// backend names one.
const DefaultConcurrency = 64

// job is one queued call.
type job struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// Pool is a fixed-size worker pool.
type Pool struct {
	size      int
	jobs      chan job
	wg        sync.WaitGroup
	logger    *zap.Logger
	collector stats.Collector

	// mu is read-held while a caller hands a job over and write-held by
	// Close, so jobs is never sent on after it is closed.
	mu     sync.RWMutex
	closed bool

	inFlight atomic.Int64
	peak     atomic.Int64
}

// Option configures a Pool.
type Option func(*options)

type options struct {
	logger    *zap.Logger
	collector stats.Collector
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithStats sets the collector for the in-flight gauge and operation
// counter.
func WithStats(c stats.Collector) Option {
	return func(o *options) { o.collector = c }
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop(), collector: stats.NewNoop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewPool starts size workers. size must be positive.
func NewPool(size int, opts ...Option) *Pool {
	if size <= 0 {
		panic(fmt.Sprintf("boundedstore: pool size %d", size))
	}
	o := buildOptions(opts)
	p := &Pool{
		size:      size,
		jobs:      make(chan job),
		logger:    o.logger.Named("boundedstore"),
		collector: o.collector,
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	p.logger.Debug("pool started", zap.Int("workers", size))
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

// Peak returns the largest number of jobs that ran at the same time.
func (p *Pool) Peak() int { return int(p.peak.Load()) }

// Do runs fn on a worker and returns its error. It blocks until a worker
// is free and fn has returned. If ctx ends before a worker takes the job,
// fn never runs and ctx.Err() is returned.
func (p *Pool) Do(ctx context.Context, fn func(context.Context) error) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return store.ErrClosed
	}
	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case p.jobs <- j:
	case <-ctx.Done():
		p.mu.RUnlock()
		return ctx.Err()
	}
	p.mu.RUnlock()
	return <-j.done
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		j.done <- p.run(j)
	}
}

func (p *Pool) run(j job) (err error) {
	if err := j.ctx.Err(); err != nil {
		return err
	}

	n := p.inFlight.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	p.collector.SetGauge(stats.MetricBoundedInFlight, n)
	defer func() {
		p.collector.SetGauge(stats.MetricBoundedInFlight, p.inFlight.Add(-1))
		p.collector.IncCounter(stats.MetricBoundedOperations, 1)
		if r := recover(); r != nil {
			p.logger.Error("operation panicked", zap.Any("panic", r))
			err = fmt.Errorf("boundedstore: operation panicked: %v", r)
		}
	}()
	return j.fn(j.ctx)
}

// Close stops accepting work, waits for queued and running jobs to finish
// and stops the workers. It is safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Debug("pool drained", zap.Int("workers", p.size))
}

// Ceiling returns min(requested, backendMax). A non-positive request
// means the backend maximum; an unbounded backend with no request gets
// DefaultConcurrency.
func Ceiling(requested, backendMax int) int {
	if backendMax <= 0 {
		backendMax = store.Unbounded
	}
	switch {
	case requested > 0 && requested < backendMax:
		return requested
	case backendMax == store.Unbounded:
		if requested > 0 {
			return requested
		}
		return DefaultConcurrency
	default:
		return backendMax
	}
}

// call runs fn through p and returns its result.
func call[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}
