package thermal

import (
	"sync"

	"github.com/san-kum/reactorsim/internal/sim"
)

// Plant couples the core and coolant nodes as a two-state system
// x = [core_temp, coolant_temp] driven by u = [rod_position, flow_rate].
type Plant struct {
	Reactor *Reactor
	Coolant *Coolant

	// stepMu keeps a reset from being overwritten by a tick that read the
	// pre-reset temperatures.
	stepMu sync.Mutex
}

func NewPlant(r *Reactor, c *Coolant) *Plant {
	return &Plant{Reactor: r, Coolant: c}
}

// NewDefaultPlant builds a plant with the default parameters.
func NewDefaultPlant() *Plant {
	return NewPlant(NewReactor(DefaultReactorParams()), NewCoolant(DefaultCoolantParams()))
}

func (p *Plant) StateDim() int   { return 2 }
func (p *Plant) ControlDim() int { return 2 }

func (p *Plant) Derivative(x sim.State, u sim.Control, t float64) sim.State {
	core, coolant := x[0], x[1]
	rod, flow := u[0], u[1]
	return sim.State{
		p.Reactor.TempRate(core, coolant, rod),
		p.Coolant.TempRate(core, coolant, flow),
	}
}

// Snapshot reads the current state and control inputs.
func (p *Plant) Snapshot() (sim.State, sim.Control) {
	x := sim.State{p.Reactor.Temp(), p.Coolant.Temp()}
	u := sim.Control{p.Reactor.RodPosition(), p.Coolant.FlowRate()}
	return x, u
}

// Advance integrates one tick from a single pre-tick snapshot and commits
// both temperatures together. Control inputs are read once; changes made
// during the step apply from the next tick.
func (p *Plant) Advance(integ sim.Integrator, t, dt float64) sim.Sample {
	p.stepMu.Lock()
	defer p.stepMu.Unlock()

	x, u := p.Snapshot()
	next := integ.Step(p, x, u, t, dt)
	p.Reactor.temp.Store(next[0])
	p.Coolant.temp.Store(next[1])

	return sim.Sample{
		CoreTemp:    next[0],
		CoolantTemp: next[1],
		RodPosition: u[0],
		FlowRate:    u[1],
	}
}

// Reset restores initial temperatures, the initial rod position and the
// reset flow rate.
func (p *Plant) Reset() {
	p.stepMu.Lock()
	defer p.stepMu.Unlock()
	p.Reactor.reset()
	p.Coolant.reset()
}

// ThermalPower is the fission power at the current rod position.
func (p *Plant) ThermalPower() float64 {
	return p.Reactor.PowerGenerated(p.Reactor.RodPosition())
}
