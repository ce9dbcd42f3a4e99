package integrators

import "github.com/san-kum/reactorsim/internal/sim"

// Euler is the explicit forward Euler step. Every derivative is taken from
// the same pre-step state, so coupled nodes update simultaneously.
type Euler struct{}

func NewEuler() *Euler {
	return &Euler{}
}

// Step returns x + dt*f(x, u, t). x is left untouched.
func (*Euler) Step(dyn sim.Dynamics, x sim.State, u sim.Control, t, dt float64) sim.State {
	next := x.Clone()
	for i, rate := range dyn.Derivative(x, u, t) {
		next[i] += dt * rate
	}
	return next
}
