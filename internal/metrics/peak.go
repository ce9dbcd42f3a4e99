package metrics

import (
	"math"

	"github.com/san-kum/reactorsim/internal/sim"
)

type Peak struct {
	name  string
	value func(sim.Sample) float64
	peak  float64
	seen  bool
}

func NewPeak(name string, value func(sim.Sample) float64) *Peak {
	return &Peak{name: name, value: value}
}

func (p *Peak) Name() string { return p.name }

func (p *Peak) Observe(s sim.Sample) {
	v := p.value(s)
	if !p.seen || v > p.peak {
		p.peak = v
		p.seen = true
	}
}

func (p *Peak) Value() float64 {
	if !p.seen {
		return math.NaN()
	}
	return p.peak
}

func (p *Peak) Reset() {
	p.peak = 0
	p.seen = false
}

// MinMargin tracks the smallest distance between the core temperature and
// the critical threshold. Negative means the threshold was exceeded.
type MinMargin struct {
	critical float64
	margin   float64
	seen     bool
}

func NewMinMargin(critical float64) *MinMargin {
	return &MinMargin{critical: critical}
}

func (m *MinMargin) Name() string { return "min_critical_margin" }

func (m *MinMargin) Observe(s sim.Sample) {
	v := m.critical - s.CoreTemp
	if !m.seen || v < m.margin {
		m.margin = v
		m.seen = true
	}
}

func (m *MinMargin) Value() float64 {
	if !m.seen {
		return math.NaN()
	}
	return m.margin
}

func (m *MinMargin) Reset() {
	m.margin = 0
	m.seen = false
}
