package metrics

import (
	"github.com/san-kum/reactorsim/internal/sim"
)

// TimeAbove accumulates simulated seconds spent at or above a core
// temperature threshold.
type TimeAbove struct {
	name      string
	threshold float64
	last      float64
	total     float64
}

func NewTimeAbove(name string, threshold float64) *TimeAbove {
	return &TimeAbove{
		name:      name,
		threshold: threshold,
	}
}

func (t *TimeAbove) Name() string {
	return t.name
}

func (t *TimeAbove) Observe(s sim.Sample) {
	if s.Time < t.last {
		t.last = 0
	}
	if s.CoreTemp >= t.threshold {
		t.total += s.Time - t.last
	}
	t.last = s.Time
}

func (t *TimeAbove) Value() float64 {
	return t.total
}

func (t *TimeAbove) Reset() {
	t.last = 0
	t.total = 0
}
