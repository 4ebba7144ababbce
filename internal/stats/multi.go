package stats

// Multi fans every observation out to each collector in order.
type Multi []Collector

func (m Multi) IncCounter(name string, delta int64) {
	for _, c := range m {
		c.IncCounter(name, delta)
	}
}

func (m Multi) SetGauge(name string, value int64) {
	for _, c := range m {
		c.SetGauge(name, value)
	}
}

func (m Multi) ObserveHistogram(name string, value float64) {
	for _, c := range m {
		c.ObserveHistogram(name, value)
	}
}
