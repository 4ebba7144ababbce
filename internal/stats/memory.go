package stats

import "sync"

// Compile-time check that Memory implements Collector.
var _ Collector = (*Memory)(nil)

// Memory keeps metrics in memory. It backs the CLI stats command and tests.
type Memory struct {
	mu         sync.Mutex
	counters   map[string]int64
	gauges     map[string]int64
	histograms map[string][]float64
}

// NewMemory creates an empty in-memory collector.
func NewMemory() *Memory {
	return &Memory{
		counters:   make(map[string]int64),
		gauges:     make(map[string]int64),
		histograms: make(map[string][]float64),
	}
}

func (m *Memory) IncCounter(name string, delta int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += delta
}

func (m *Memory) SetGauge(name string, value int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[name] = value
}

func (m *Memory) ObserveHistogram(name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms[name] = append(m.histograms[name], value)
}

// Counter returns the current value of a counter.
func (m *Memory) Counter(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

// Gauge returns the last value set on a gauge.
func (m *Memory) Gauge(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gauges[name]
}

// Observations returns a copy of the values recorded in a histogram.
func (m *Memory) Observations(name string) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.histograms[name]...)
}

// Counters returns a copy of every counter.
func (m *Memory) Counters() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.counters))
	for k, v := range m.counters {
		out[k] = v
	}
	return out
}
