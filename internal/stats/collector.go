// Package stats provides a unified interface for collecting metrics.
package stats

// Metric names used throughout the library.
const (
	// Point cache metrics.
	MetricPointHits   = "strata_point_cache_hits_total"
	MetricPointMisses = "strata_point_cache_misses_total"
	MetricPointPuts   = "strata_point_cache_puts_total"

	// Range cache metrics.
	MetricCachedIntervals   = "strata_range_cache_cached_intervals_total"
	MetricUncachedIntervals = "strata_range_cache_uncached_intervals_total"
	MetricInvalidations     = "strata_range_cache_invalidations_total"

	// Two-level store metrics.
	MetricAuthoritativeFetches = "strata_authoritative_fetches_total"
	MetricFetchSeconds         = "strata_authoritative_fetch_seconds"

	// Bounded store metrics.
	MetricBoundedInFlight   = "strata_bounded_in_flight"
	MetricBoundedOperations = "strata_bounded_operations_total"
)

// Collector defines the interface for collecting metrics.
type Collector interface {
	// IncCounter increments a counter metric by delta.
	IncCounter(name string, delta int64)

	// SetGauge sets a gauge metric to value.
	SetGauge(name string, value int64)

	// ObserveHistogram records a value in a histogram metric.
	ObserveHistogram(name string, value float64)
}
