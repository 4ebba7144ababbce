// Package prometheus provides a Prometheus-based stats collector.
package prometheus

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/discochess/strata/internal/stats"
)

// help describes the metrics the library emits. Unknown names use the
// metric name as help text.
var help = map[string]string{
	stats.MetricPointHits:            "Point cache lookups answered from the cache.",
	stats.MetricPointMisses:          "Point cache lookups that fell through to the backing store.",
	stats.MetricPointPuts:            "Values written into a point cache.",
	stats.MetricCachedIntervals:      "Range query sub-intervals answered from the mirror.",
	stats.MetricUncachedIntervals:    "Range query sub-intervals missing from coverage.",
	stats.MetricInvalidations:        "Range cache keys invalidated.",
	stats.MetricAuthoritativeFetches: "Sub-interval reads sent to the authoritative store.",
	stats.MetricFetchSeconds:         "Latency of authoritative sub-interval reads.",
	stats.MetricBoundedInFlight:      "Operations executing against a concurrency-bounded store.",
	stats.MetricBoundedOperations:    "Operations completed by a concurrency-bounded store.",
}

// Collector implements stats.Collector using Prometheus metrics.
type Collector struct {
	registry    prometheus.Registerer
	constLabels prometheus.Labels

	mu         sync.RWMutex
	counters   map[string]prometheus.Counter
	gauges     map[string]prometheus.Gauge
	histograms map[string]prometheus.Histogram
}

// Compile-time check that Collector implements stats.Collector.
var _ stats.Collector = (*Collector)(nil)

// Option configures a Collector.
type Option func(*Collector)

// WithConstLabels attaches labels to every metric, e.g. the store name when
// several caches share one registry.
func WithConstLabels(labels map[string]string) Option {
	return func(c *Collector) {
		c.constLabels = labels
	}
}

// New creates a new Prometheus collector.
// If registry is nil, prometheus.DefaultRegisterer is used.
func New(registry prometheus.Registerer, opts ...Option) *Collector {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	c := &Collector{
		registry:   registry,
		counters:   make(map[string]prometheus.Counter),
		gauges:     make(map[string]prometheus.Gauge),
		histograms: make(map[string]prometheus.Histogram),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IncCounter increments a counter metric.
func (c *Collector) IncCounter(name string, delta int64) {
	counter := getOrCreate(c, c.counters, name, func() prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Name: name, Help: helpFor(name), ConstLabels: c.constLabels,
		})
	})
	counter.Add(float64(delta))
}

// SetGauge sets a gauge metric.
func (c *Collector) SetGauge(name string, value int64) {
	gauge := getOrCreate(c, c.gauges, name, func() prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Name: name, Help: helpFor(name), ConstLabels: c.constLabels,
		})
	})
	gauge.Set(float64(value))
}

// ObserveHistogram records a value in a histogram.
func (c *Collector) ObserveHistogram(name string, value float64) {
	histogram := getOrCreate(c, c.histograms, name, func() prometheus.Histogram {
		return prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        name,
			Help:        helpFor(name),
			ConstLabels: c.constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.0005, 2, 14),
		})
	})
	histogram.Observe(value)
}

func helpFor(name string) string {
	if h, ok := help[name]; ok {
		return h
	}
	return name
}

// getOrCreate returns the metric registered under name, creating and
// registering it on first use. A metric already registered elsewhere with
// the same descriptor is reused.
func getOrCreate[M prometheus.Collector](c *Collector, metrics map[string]M, name string, create func() M) M {
	c.mu.RLock()
	m, ok := metrics[name]
	c.mu.RUnlock()
	if ok {
		return m
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok = metrics[name]; ok {
		return m
	}

	m = create()
	if err := c.registry.Register(m); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(M); ok {
				m = existing
			}
		}
		// Otherwise the metric still works, it is just not exported.
	}
	metrics[name] = m
	return m
}
