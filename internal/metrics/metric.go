// Package metrics summarises a run from its sample stream.
package metrics

import (
	"math"
	"sync"

	"github.com/san-kum/reactorsim/internal/sim"
)

type Metric interface {
	Name() string
	Observe(s sim.Sample)
	Value() float64
	Reset()
}

// Set feeds every sample to its metrics. It is safe to read while the
// clock is publishing.
type Set struct {
	mu      sync.Mutex
	metrics []Metric
}

func NewSet(ms ...Metric) *Set {
	return &Set{metrics: ms}
}

// Standard builds the run summary reported by the CLI.
func Standard(cautionTemp, criticalTemp float64) *Set {
	return NewSet(
		NewPeak("peak_core_temp", func(s sim.Sample) float64 { return s.CoreTemp }),
		NewPeak("peak_coolant_temp", func(s sim.Sample) float64 { return s.CoolantTemp }),
		NewTimeAbove("time_above_caution_s", cautionTemp),
		NewMeanRod(),
		NewMinMargin(criticalTemp),
	)
}

func (m *Set) OnSample(s sim.Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, metric := range m.metrics {
		metric.Observe(s)
	}
}

// Values reports each metric by name. Metrics that have not seen a sample
// yet are left out.
func (m *Set) Values() map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]float64, len(m.metrics))
	for _, metric := range m.metrics {
		if v := metric.Value(); !math.IsNaN(v) {
			out[metric.Name()] = v
		}
	}
	return out
}

func (m *Set) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, metric := range m.metrics {
		metric.Reset()
	}
}
