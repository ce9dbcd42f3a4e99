// Package safety evaluates every published sample against the caution and
// critical thresholds and owns the protective actions: SCRAM and
// emergency coolant injection.
package safety

import (
	"fmt"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/san-kum/reactorsim/internal/sim"
)

type Status string

const (
	StatusStopped          Status = "Stopped"
	StatusRunning          Status = "Running"
	StatusWarning          Status = "WARNING"
	StatusCritical         Status = "CRITICAL - SCRAMMED"
	StatusScrammed         Status = "SCRAMMED"
	StatusEmergencyCoolant Status = "EMERGENCY COOLANT"
)

// Level is the outcome of evaluating one sample.
type Level int

const (
	LevelDisabled Level = iota
	LevelNormal
	LevelCaution
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelDisabled:
		return "disabled"
	case LevelNormal:
		return "normal"
	case LevelCaution:
		return "caution"
	case LevelCritical:
		return "critical"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

type Rods interface {
	SetRodPosition(v float64)
}

type Pump interface {
	FlowRate() float64
	SetFlowRate(v float64)
}

// Runner is the part of the simulation clock the monitor controls.
type Runner interface {
	Stop() bool
	IsRunning() bool
}

type Journal interface {
	Append(message string) string
}

type Scheduler interface {
	After(d time.Duration, f func()) string
}

// EventRecorder receives a count per evaluated non-normal level.
type EventRecorder interface {
	RecordSafetyEvent(level string)
}

type Deps struct {
	Rods      Rods
	Pump      Pump
	Clock     Runner
	Journal   Journal
	Scheduler Scheduler
	Recorder  EventRecorder
	Logger    *zap.Logger
}

type Monitor struct {
	cfg   *Config
	rods  Rods
	pump  Pump
	clock Runner
	log   Journal
	sched Scheduler
	rec   EventRecorder

	logger *zap.Logger
	status atomic.String
	trips  atomic.Int64
}

func NewMonitor(cfg *Config, deps Deps) *Monitor {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	m := &Monitor{
		cfg:    cfg,
		rods:   deps.Rods,
		pump:   deps.Pump,
		clock:  deps.Clock,
		log:    deps.Journal,
		sched:  deps.Scheduler,
		rec:    deps.Recorder,
		logger: deps.Logger,
	}
	m.status.Store(string(StatusStopped))
	return m
}

func (m *Monitor) Config() *Config { return m.cfg }

func (m *Monitor) Status() Status { return Status(m.status.Load()) }

func (m *Monitor) SetStatus(s Status) { m.status.Store(string(s)) }

// Trips counts automatic shutdowns since construction.
func (m *Monitor) Trips() int64 { return m.trips.Load() }

// RunState is the status that mirrors the clock.
func (m *Monitor) RunState() Status {
	if m.clock != nil && m.clock.IsRunning() {
		return StatusRunning
	}
	return StatusStopped
}

func (m *Monitor) OnSample(s sim.Sample) { m.Evaluate(s) }

// Evaluate applies the protection policy to one sample: nothing when auto
// shutdown is off, trip at or above critical, warn at or above caution.
func (m *Monitor) Evaluate(s sim.Sample) Level {
	if !m.cfg.AutoShutdown() {
		return LevelDisabled
	}

	critical, caution := m.cfg.CriticalTemp(), m.cfg.CautionTemp()
	switch {
	case s.CoreTemp >= critical:
		m.record(LevelCritical)
		m.trips.Inc()
		m.journal(fmt.Sprintf("CRITICAL: core temp %.2f >= %.1f - initiating SCRAM & emergency actions", s.CoreTemp, critical))
		m.logger.Error("automatic shutdown",
			zap.Float64("core_temp", s.CoreTemp),
			zap.Float64("critical_temp", critical),
			zap.Float64("sim_time", s.Time))
		m.Scram()
		m.EmergencyInject(m.cfg.EmergencyDuration(), m.cfg.EmergencyFlow())
		if m.clock != nil {
			m.clock.Stop()
		}
		m.SetStatus(StatusCritical)
		return LevelCritical
	case s.CoreTemp >= caution:
		m.record(LevelCaution)
		m.journal(fmt.Sprintf("CAUTION: core temp %.2f >= %.1f", s.CoreTemp, caution))
		m.SetStatus(StatusWarning)
		return LevelCaution
	default:
		m.SetStatus(m.RunState())
		return LevelNormal
	}
}

// Scram fully inserts the control rods regardless of temperature.
func (m *Monitor) Scram() {
	m.rods.SetRodPosition(1.0)
	m.journal("SCRAM executed: rods inserted (pos=1.0)")
	m.SetStatus(StatusScrammed)
}

// EmergencyInject overrides coolant flow for d, then restores the flow that
// was in effect at the moment of the call. Overlapping injections each
// restore their own snapshot, so the last restore to fire wins.
func (m *Monitor) EmergencyInject(d time.Duration, flow float64) {
	prev := m.pump.FlowRate()
	m.pump.SetFlowRate(flow)
	m.journal(fmt.Sprintf("Emergency coolant injected: flow set to %.1f kg/s for %s", m.pump.FlowRate(), d))
	m.SetStatus(StatusEmergencyCoolant)

	m.sched.After(d, func() {
		m.pump.SetFlowRate(prev)
		m.journal(fmt.Sprintf("Emergency coolant restored to %.1f kg/s", prev))
		m.SetStatus(m.RunState())
	})
}

func (m *Monitor) journal(msg string) {
	if m.log != nil {
		m.log.Append(msg)
	}
}

func (m *Monitor) record(l Level) {
	if m.rec != nil {
		m.rec.RecordSafetyEvent(l.String())
	}
}
