package controllers

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/san-kum/reactorsim/internal/sim"
	"github.com/san-kum/reactorsim/internal/thermal"
)

type Rods interface {
	SetRodPosition(v float64)
}

// RodController is a clock observer. While enabled it sets the rod
// position to bias minus the PID output, so a core above the setpoint
// drives the rods in.
type RodController struct {
	rods Rods
	bias float64

	mu      sync.Mutex
	pid     *PID
	enabled atomic.Bool
}

func NewRodController(pid *PID, bias float64, rods Rods) *RodController {
	return &RodController{pid: pid, bias: bias, rods: rods}
}

// SetEnabled switches the loop on or off. Switching on starts from a clean
// integral. Once it returns no in-flight sample can move the rods.
func (c *RodController) SetEnabled(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on && !c.enabled.Load() {
		c.pid.Reset()
	}
	c.enabled.Store(on)
}

func (c *RodController) Enabled() bool { return c.enabled.Load() }

func (c *RodController) Setpoint() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pid.Target
}

func (c *RodController) SetParam(name string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pid.SetParam(name, value)
}

func (c *RodController) Params() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pid.GetParams()
}

func (c *RodController) OnSample(s sim.Sample) {
	if !c.enabled.Load() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled.Load() {
		return
	}
	u := c.pid.Compute(s.CoreTemp, s.Time)
	c.rods.SetRodPosition(thermal.ClampRod(c.bias - u))
}
