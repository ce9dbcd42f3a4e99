// Package controllers holds the automatic rod controller: a PID loop that
// moves the control rods to hold the core at a temperature setpoint.
package controllers

import "math"

type PID struct {
	Kp     float64
	Ki     float64
	Kd     float64
	Target float64
	// IntegralLimit bounds |Ki * integral|; zero disables the bound.
	IntegralLimit float64

	integral float64
	prevErr  float64
	prevT    float64
	first    bool
}

func NewPID(kp, ki, kd, target float64) *PID {
	return &PID{
		Kp:     kp,
		Ki:     ki,
		Kd:     kd,
		Target: target,
		first:  true,
	}
}

// Compute returns the controller output for a measurement taken at time t.
func (p *PID) Compute(measured, t float64) float64 {
	err := p.Target - measured

	// A restarted clock starts over from zero.
	if p.first || t < p.prevT {
		p.prevErr = err
		p.prevT = t
		p.first = false
		return p.Kp * err
	}

	dt := t - p.prevT
	if dt > 0 {
		p.integral += err * dt
		p.clampIntegral()
		derivative := (err - p.prevErr) / dt

		u := p.Kp*err + p.Ki*p.integral + p.Kd*derivative

		p.prevErr = err
		p.prevT = t

		return u
	}
	return p.Kp * err
}

func (p *PID) clampIntegral() {
	if p.IntegralLimit <= 0 || p.Ki == 0 {
		return
	}
	bound := math.Abs(p.IntegralLimit / p.Ki)
	p.integral = math.Max(-bound, math.Min(bound, p.integral))
}

// Reset clears integral and derivative state
func (p *PID) Reset() {
	p.integral = 0
	p.prevErr = 0
	p.first = true
}

// GetParams returns tunable parameters for live adjustment
func (p *PID) GetParams() map[string]float64 {
	return map[string]float64{
		"Kp":     p.Kp,
		"Ki":     p.Ki,
		"Kd":     p.Kd,
		"Target": p.Target,
	}
}

// SetParam adjusts a PID parameter
func (p *PID) SetParam(name string, value float64) {
	switch name {
	case "Kp":
		p.Kp = value
	case "Ki":
		p.Ki = value
	case "Kd":
		p.Kd = value
	case "Target":
		p.Target = value
	}
}
