package thermal

import (
	"math"

	"go.uber.org/atomic"
)

// ReactorParams are the fixed physical constants of the core node.
type ReactorParams struct {
	InitialTemp        float64 // °C
	NominalPower       float64 // W at rod position 0
	Mass               float64 // kg
	SpecificHeat       float64 // J/(kg·K)
	HeatTransferCoeff  float64 // W/K, core to coolant
	InitialRodPosition float64 // 0 withdrawn, 1 inserted
}

func DefaultReactorParams() ReactorParams {
	return ReactorParams{
		InitialTemp:        300.0,
		NominalPower:       1.0e7,
		Mass:               5.0e4,
		SpecificHeat:       500.0,
		HeatTransferCoeff:  1.0e5,
		InitialRodPosition: 1.0,
	}
}

// Reactor is the lumped core node. Temperature and rod position are atomic
// so operator actions and restore timers can race the tick loop safely.
type Reactor struct {
	params ReactorParams
	temp   atomic.Float64
	rod    atomic.Float64
}

func NewReactor(p ReactorParams) *Reactor {
	r := &Reactor{params: p}
	r.temp.Store(p.InitialTemp)
	r.rod.Store(ClampRod(p.InitialRodPosition))
	return r
}

func (r *Reactor) Params() ReactorParams { return r.params }
func (r *Reactor) Temp() float64          { return r.temp.Load() }
func (r *Reactor) RodPosition() float64   { return r.rod.Load() }

// SetRodPosition clamps v to [0, 1]; NaN inserts nothing (0).
func (r *Reactor) SetRodPosition(v float64) { r.rod.Store(ClampRod(v)) }

// PowerGenerated is the fission heat at rod position rod.
func (r *Reactor) PowerGenerated(rod float64) float64 {
	return r.params.NominalPower * (1.0 - rod)
}

// HeatToCoolant is the conductive flow from core to coolant.
func (r *Reactor) HeatToCoolant(coreTemp, coolantTemp float64) float64 {
	return r.params.HeatTransferCoeff * (coreTemp - coolantTemp)
}

// TempRate is dT/dt of the core in K/s.
func (r *Reactor) TempRate(coreTemp, coolantTemp, rod float64) float64 {
	qNet := r.PowerGenerated(rod) - r.HeatToCoolant(coreTemp, coolantTemp)
	return qNet / (r.params.Mass * r.params.SpecificHeat)
}

func (r *Reactor) reset() {
	r.temp.Store(r.params.InitialTemp)
	r.rod.Store(ClampRod(r.params.InitialRodPosition))
}

// ClampRod bounds a rod position to [0, 1], mapping NaN to 0.
func ClampRod(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
