// Package scenario injects timed perturbations into the control inputs and
// restores them afterwards.
package scenario

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/san-kum/reactorsim/internal/thermal"
)

type Rods interface {
	RodPosition() float64
	SetRodPosition(v float64)
}

type Pump interface {
	FlowRate() float64
	SetFlowRate(v float64)
}

type Scheduler interface {
	After(d time.Duration, f func()) string
}

type Engine struct {
	rods   Rods
	pump   Pump
	sched  Scheduler
	logger *zap.Logger
}

func NewEngine(rods Rods, pump Pump, sched Scheduler, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{rods: rods, pump: pump, sched: sched, logger: logger}
}

// Duration truncates seconds to a whole number; negative and NaN become 0.
func Duration(seconds float64) time.Duration {
	if math.IsNaN(seconds) || seconds <= 0 {
		return 0
	}
	if seconds >= math.MaxInt64/float64(time.Second) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(math.Floor(seconds)) * time.Second
}

// ReactivitySpike withdraws or inserts the rods to rod for durationS
// seconds and then puts back the position seen at the call. Returns the
// scheduler task id.
func (e *Engine) ReactivitySpike(durationS, rod float64) string {
	prev := e.rods.RodPosition()
	e.rods.SetRodPosition(thermal.ClampRod(rod))
	d := Duration(durationS)
	e.logger.Info("reactivity spike",
		zap.Float64("rod_position", e.rods.RodPosition()),
		zap.Float64("previous", prev),
		zap.Duration("duration", d))

	return e.sched.After(d, func() {
		e.rods.SetRodPosition(prev)
		e.logger.Info("reactivity spike restored", zap.Float64("rod_position", prev))
	})
}

// CoolantFailure stops the pump for durationS seconds.
func (e *Engine) CoolantFailure(durationS float64) string {
	prev := e.pump.FlowRate()
	e.pump.SetFlowRate(0)
	d := Duration(durationS)
	e.logger.Info("coolant failure",
		zap.Float64("previous_flow", prev),
		zap.Duration("duration", d))

	return e.sched.After(d, func() {
		e.pump.SetFlowRate(prev)
		e.logger.Info("coolant flow restored", zap.Float64("flow_rate", prev))
	})
}
