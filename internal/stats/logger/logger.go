// Package logger provides a zap-based stats collector that logs metrics.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/discochess/strata/internal/stats"
)

// Collector implements stats.Collector by logging every observation via zap.
type Collector struct {
	logger *zap.Logger
	level  zapcore.Level
}

// Compile-time check that Collector implements stats.Collector.
var _ stats.Collector = (*Collector)(nil)

// Option configures a Collector.
type Option func(*Collector)

// WithLevel sets the level metrics are logged at. Defaults to debug.
func WithLevel(level zapcore.Level) Option {
	return func(c *Collector) {
		c.level = level
	}
}

// New creates a new logger-based collector.
// If logger is nil, a no-op logger is used.
func New(logger *zap.Logger, opts ...Option) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{logger: logger.Named("stats"), level: zapcore.DebugLevel}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IncCounter logs a counter increment.
func (c *Collector) IncCounter(name string, delta int64) {
	c.logger.Log(c.level, "counter", zap.String("metric", name), zap.Int64("delta", delta))
}

// SetGauge logs a gauge value.
func (c *Collector) SetGauge(name string, value int64) {
	c.logger.Log(c.level, "gauge", zap.String("metric", name), zap.Int64("value", value))
}

// ObserveHistogram logs a histogram observation.
func (c *Collector) ObserveHistogram(name string, value float64) {
	c.logger.Log(c.level, "histogram", zap.String("metric", name), zap.Float64("value", value))
}
