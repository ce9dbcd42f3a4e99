package control

import (
	"github.com/san-kum/reactorsim/internal/config"
	"github.com/san-kum/reactorsim/internal/eventlog"
	"github.com/san-kum/reactorsim/internal/observability"
	"github.com/san-kum/reactorsim/internal/safety"
	"github.com/san-kum/reactorsim/internal/sim"
)

// Snapshot is a consistent-enough read of everything the dashboard shows.
// Fields are read one by one; a tick may land between them.
type Snapshot struct {
	SimTime      float64
	CoreTemp     float64
	CoolantTemp  float64
	RodPosition  float64
	FlowRate     float64
	Power        float64
	Running      bool
	Status       safety.Status
	Safety       safety.Settings
	RodControl   bool
	RodSetpoint  float64
	Trips        int64
	DroppedTicks int64
}

func (c *Console) Snapshot() Snapshot {
	return Snapshot{
		SimTime:      c.clock.SimTime(),
		CoreTemp:     c.plant.Reactor.Temp(),
		CoolantTemp:  c.plant.Coolant.Temp(),
		RodPosition:  c.plant.Reactor.RodPosition(),
		FlowRate:     c.plant.Coolant.FlowRate(),
		Power:        c.plant.ThermalPower(),
		Running:      c.clock.IsRunning(),
		Status:       c.monitor.Status(),
		Safety:       c.safetyCfg.Settings(),
		RodControl:   c.rods.Enabled(),
		RodSetpoint:  c.rods.Setpoint(),
		Trips:        c.monitor.Trips(),
		DroppedTicks: c.clock.Broadcaster().Dropped(),
	}
}

func (c *Console) CoreTemp() float64     { return c.plant.Reactor.Temp() }
func (c *Console) CoolantTemp() float64  { return c.plant.Coolant.Temp() }
func (c *Console) RodPosition() float64  { return c.plant.Reactor.RodPosition() }
func (c *Console) FlowRate() float64     { return c.plant.Coolant.FlowRate() }
func (c *Console) CautionTemp() float64  { return c.safetyCfg.CautionTemp() }
func (c *Console) CriticalTemp() float64 { return c.safetyCfg.CriticalTemp() }
func (c *Console) AutoShutdown() bool    { return c.safetyCfg.AutoShutdown() }
func (c *Console) IsRunning() bool       { return c.clock.IsRunning() }
func (c *Console) Status() safety.Status { return c.monitor.Status() }
func (c *Console) SimTime() float64      { return c.clock.SimTime() }
func (c *Console) Trips() int64          { return c.monitor.Trips() }
func (c *Console) Dt() float64           { return c.clock.Dt() }

func (c *Console) Config() *config.Config { return c.cfg.Clone() }

func (c *Console) Events() *eventlog.Log { return c.events }

// Samples returns the export buffer since the last start or reset.
func (c *Console) Samples() []sim.Sample { return c.recorder.Samples() }

// Summary reports the run metrics since the last start or reset.
func (c *Console) Summary() map[string]float64 {
	c.summaryMu.Lock()
	m := c.summary
	c.summaryMu.Unlock()
	return m.Values()
}

// ScriptDone reports whether the attached script has fired every step. It
// is true when no script is attached.
func (c *Console) ScriptDone() bool {
	return c.script == nil || c.script.Done()
}

// Collector exposes the Prometheus collector, nil unless WithMetrics was
// given.
func (c *Console) Collector() *observability.Collector { return c.collector }
