package stats

import (
	"sync"
	"testing"
)

func TestMemory_Concurrent(t *testing.T) {
	m := NewMemory()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.IncCounter(MetricPointHits, 1)
				m.ObserveHistogram(MetricFetchSeconds, 0.1)
			}
		}()
	}
	wg.Wait()
	m.SetGauge(MetricBoundedInFlight, 3)

	if got := m.Counter(MetricPointHits); got != 800 {
		t.Errorf("Counter() = %d, want 800", got)
	}
	if got := len(m.Observations(MetricFetchSeconds)); got != 800 {
		t.Errorf("len(Observations()) = %d, want 800", got)
	}
	if got := m.Gauge(MetricBoundedInFlight); got != 3 {
		t.Errorf("Gauge() = %d, want 3", got)
	}
	if got := m.Counters()[MetricPointMisses]; got != 0 {
		t.Errorf("Counters()[misses] = %d, want 0", got)
	}
}

func TestMulti(t *testing.T) {
	a, b := NewMemory(), NewMemory()
	var c Collector = Multi{a, b, NewNoop()}

	c.IncCounter(MetricPointHits, 2)
	c.SetGauge(MetricBoundedInFlight, 5)
	c.ObserveHistogram(MetricFetchSeconds, 0.25)

	for _, m := range []*Memory{a, b} {
		if got := m.Counter(MetricPointHits); got != 2 {
			t.Errorf("counter = %d, want 2", got)
		}
		if got := m.Gauge(MetricBoundedInFlight); got != 5 {
			t.Errorf("gauge = %d, want 5", got)
		}
		if got := m.Observations(MetricFetchSeconds); len(got) != 1 || got[0] != 0.25 {
			t.Errorf("observations = %v, want [0.25]", got)
		}
	}
}
