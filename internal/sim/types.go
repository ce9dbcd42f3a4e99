package sim

import "math"

type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

type Control []float64

// Dynamics is a system of first-order ODEs dx/dt = f(x, u, t).
type Dynamics interface {
	Derivative(x State, u Control, t float64) State
	StateDim() int
	ControlDim() int
}

type Integrator interface {
	Step(dyn Dynamics, x State, u Control, t float64, dt float64) State
}

// Plant owns its mutable state. Advance integrates one tick and returns the
// committed state with the inputs used; the clock fills in Time.
type Plant interface {
	Advance(integ Integrator, t, dt float64) Sample
}

// Sample is an immutable snapshot published once per tick.
type Sample struct {
	Time        float64 `json:"time_s"`
	CoreTemp    float64 `json:"core_temp_c"`
	CoolantTemp float64 `json:"coolant_temp_c"`
	RodPosition float64 `json:"rod_position"`
	FlowRate    float64 `json:"flow_rate"`
}

// Observer is invoked synchronously on the tick goroutine.
type Observer interface {
	OnSample(s Sample)
}

type ObserverFunc func(s Sample)

func (f ObserverFunc) OnSample(s Sample) { f(s) }

// Config holds the loop parameters.
type Config struct {
	Dt        float64
	TimeScale float64
}

func DefaultConfig() Config {
	return Config{
		Dt:        0.5,
		TimeScale: 1.0,
	}
}
