package metrics

import (
	"math"

	"github.com/san-kum/reactorsim/internal/sim"
)

// IntegralAbsError integrates |core - setpoint| over simulated time. It
// scores how tightly automatic rod control holds its setpoint.
type IntegralAbsError struct {
	setpoint float64
	last     float64
	total    float64
}

func NewIntegralAbsError(setpoint float64) *IntegralAbsError {
	return &IntegralAbsError{setpoint: setpoint}
}

func (e *IntegralAbsError) Name() string { return "setpoint_iae" }

func (e *IntegralAbsError) Observe(s sim.Sample) {
	if s.Time < e.last {
		e.last = 0
	}
	e.total += math.Abs(s.CoreTemp-e.setpoint) * (s.Time - e.last)
	e.last = s.Time
}

func (e *IntegralAbsError) Value() float64 { return e.total }

func (e *IntegralAbsError) Reset() {
	e.last = 0
	e.total = 0
}
