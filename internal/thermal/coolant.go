package thermal

import (
	"math"

	"go.uber.org/atomic"
)

// CoolantParams are the fixed physical constants of the coolant loop.
type CoolantParams struct {
	InitialTemp       float64 // °C
	Mass              float64 // kg
	SpecificHeat      float64 // J/(kg·K)
	SinkTemp          float64 // °C, ambient heat rejection
	HeatTransferCoeff float64 // W/K, core to coolant
	InitialFlowRate   float64 // kg/s at construction
	ResetFlowRate     float64 // kg/s after an explicit reset
}

func DefaultCoolantParams() CoolantParams {
	return CoolantParams{
		InitialTemp:       290.0,
		Mass:              1.0e4,
		SpecificHeat:      4184.0,
		SinkTemp:          290.0,
		HeatTransferCoeff: 1.0e5,
		InitialFlowRate:   0.0,
		ResetFlowRate:     200.0,
	}
}

type Coolant struct {
	params CoolantParams
	temp   atomic.Float64
	flow   atomic.Float64
}

func NewCoolant(p CoolantParams) *Coolant {
	c := &Coolant{params: p}
	c.temp.Store(p.InitialTemp)
	c.flow.Store(ClampFlow(p.InitialFlowRate))
	return c
}

func (c *Coolant) Params() CoolantParams { return c.params }
func (c *Coolant) Temp() float64          { return c.temp.Load() }
func (c *Coolant) FlowRate() float64      { return c.flow.Load() }

// SetFlowRate clamps v to >= 0; NaN and infinities become 0.
func (c *Coolant) SetFlowRate(v float64) { c.flow.Store(ClampFlow(v)) }

// HeatFromCore uses the coolant's own coupling coefficient.
func (c *Coolant) HeatFromCore(coreTemp, coolantTemp float64) float64 {
	return c.params.HeatTransferCoeff * (coreTemp - coolantTemp)
}

// HeatRemoved is the heat carried to the sink by the pumped flow.
func (c *Coolant) HeatRemoved(coolantTemp, flow float64) float64 {
	return flow * c.params.SpecificHeat * (coolantTemp - c.params.SinkTemp)
}

// TempRate is dT/dt of the coolant in K/s.
func (c *Coolant) TempRate(coreTemp, coolantTemp, flow float64) float64 {
	qNet := c.HeatFromCore(coreTemp, coolantTemp) - c.HeatRemoved(coolantTemp, flow)
	return qNet / (c.params.Mass * c.params.SpecificHeat)
}

func (c *Coolant) reset() {
	c.temp.Store(c.params.InitialTemp)
	c.flow.Store(ClampFlow(c.params.ResetFlowRate))
}

func ClampFlow(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
