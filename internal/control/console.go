// Package control is the composition root and the operator control
// surface. A Console owns the plant, the clock, the delayed-task
// scheduler, the safety monitor and every sample consumer, and exposes the
// actions the dashboard and the CLI invoke.
package control

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/san-kum/reactorsim/internal/automation"
	"github.com/san-kum/reactorsim/internal/config"
	"github.com/san-kum/reactorsim/internal/controllers"
	"github.com/san-kum/reactorsim/internal/eventlog"
	"github.com/san-kum/reactorsim/internal/export"
	"github.com/san-kum/reactorsim/internal/integrators"
	"github.com/san-kum/reactorsim/internal/metrics"
	"github.com/san-kum/reactorsim/internal/observability"
	"github.com/san-kum/reactorsim/internal/safety"
	"github.com/san-kum/reactorsim/internal/scenario"
	"github.com/san-kum/reactorsim/internal/sim"
	"github.com/san-kum/reactorsim/internal/thermal"
	"github.com/san-kum/reactorsim/internal/timers"
)

// Scheduler runs delayed restorations.
type Scheduler interface {
	After(d time.Duration, f func()) string
}

type options struct {
	registerer   prometheus.Registerer
	script       *automation.Script
	livePath     string
	eventClock   func() time.Time
	headless     bool
	recorderSize int
}

type Option func(*options)

// WithMetrics registers Prometheus collectors against reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithScript plays a scripted timeline against the console.
func WithScript(s *automation.Script) Option {
	return func(o *options) { o.script = s }
}

// WithLiveExport streams every sample to a CSV file at path.
func WithLiveExport(path string) Option {
	return func(o *options) { o.livePath = path }
}

// WithEventClock overrides the event log timestamp source.
func WithEventClock(now func() time.Time) Option {
	return func(o *options) { o.eventClock = now }
}

// Headless schedules delayed restorations on simulated time so RunFor can
// tick without pacing.
func Headless() Option {
	return func(o *options) { o.headless = true }
}

// WithRecorderLimit bounds the export buffer to the most recent n samples.
func WithRecorderLimit(n int) Option {
	return func(o *options) { o.recorderSize = n }
}

type Console struct {
	cfg    *config.Config
	logger *zap.Logger

	plant     *thermal.Plant
	clock     *sim.Clock
	events    *eventlog.Log
	sched     Scheduler
	wallTimer *timers.Scheduler
	safetyCfg *safety.Config
	monitor   *safety.Monitor
	scenarios *scenario.Engine
	recorder  *export.Recorder
	collector *observability.Collector
	rods      *controllers.RodController
	script    *automation.Runner
	stream    *export.Stream

	summaryMu sync.Mutex
	summary   *metrics.Set

	// lifecycle serialises Start, Stop and Reset.
	lifecycle sync.Mutex
}

func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Console, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	integ, err := integrators.Lookup(cfg.Integrator)
	if err != nil {
		return nil, err
	}
	plant := thermal.NewPlant(
		thermal.NewReactor(cfg.Reactor.Params()),
		thermal.NewCoolant(cfg.Coolant.Params()),
	)
	clock, err := sim.NewClock(plant, integ, sim.Config{Dt: cfg.Dt, TimeScale: cfg.TimeScale}, logger.Named("clock"))
	if err != nil {
		return nil, err
	}

	c := &Console{
		cfg:       cfg.Clone(),
		logger:    logger,
		plant:     plant,
		clock:     clock,
		safetyCfg: safety.NewConfig(cfg.Safety.Settings()),
		recorder:  export.NewRecorder(o.recorderSize),
		summary:   metrics.Standard(cfg.Safety.CautionTemp, cfg.Safety.CriticalTemp),
	}

	logOpts := []eventlog.Option{eventlog.WithLogger(logger.Named("events"))}
	if o.eventClock != nil {
		logOpts = append(logOpts, eventlog.WithClock(o.eventClock))
	}
	c.events = eventlog.New(logOpts...)

	var virtual *timers.Virtual
	if o.headless {
		virtual = timers.NewVirtual(logger.Named("timers"))
		c.sched = virtual
	} else {
		c.wallTimer = timers.New(cfg.TimeScale, logger.Named("timers"))
		c.sched = c.wallTimer
	}

	if o.registerer != nil {
		c.collector, err = observability.NewCollector(o.registerer, clock.Broadcaster().Dropped)
		if err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
	}

	deps := safety.Deps{
		Rods:      plant.Reactor,
		Pump:      plant.Coolant,
		Clock:     clock,
		Journal:   c.events,
		Scheduler: c.sched,
		Logger:    logger.Named("safety"),
	}
	if c.collector != nil {
		deps.Recorder = c.collector
	}
	c.monitor = safety.NewMonitor(c.safetyCfg, deps)
	c.scenarios = scenario.NewEngine(plant.Reactor, plant.Coolant, c.sched, logger.Named("scenario"))

	rc := cfg.RodControl
	pid := controllers.NewPID(rc.Kp, rc.Ki, rc.Kd, rc.Setpoint)
	pid.IntegralLimit = rc.IntegralLimit
	c.rods = controllers.NewRodController(pid, rc.Bias, plant.Reactor)
	c.rods.SetEnabled(rc.Enabled)

	// Observers run in registration order on the tick goroutine. Delayed
	// tasks and inputs go first; safety evaluation goes last so a trip
	// overrides anything set earlier in the same tick.
	if virtual != nil {
		clock.AddObserver(virtual)
	}
	clock.AddObserver(c.rods)
	if o.script != nil {
		c.script = automation.NewRunner(o.script, c, logger.Named("script"))
		clock.AddObserver(c.script)
	}
	clock.AddObserver(c.recorder)
	clock.AddObserver(sim.ObserverFunc(c.observeSummary))
	if c.collector != nil {
		clock.AddObserver(c.collector)
	}
	if o.livePath != "" {
		c.stream = export.NewStream(o.livePath, logger.Named("export"))
		clock.AddObserver(c.stream)
	}
	clock.AddObserver(sim.ObserverFunc(c.evaluate))

	return c, nil
}

func (c *Console) evaluate(s sim.Sample) {
	if c.monitor.Evaluate(s) == safety.LevelCritical {
		c.releaseRods("SCRAM")
	}
}

func (c *Console) observeSummary(s sim.Sample) {
	c.summaryMu.Lock()
	m := c.summary
	c.summaryMu.Unlock()
	m.OnSample(s)
}

func (c *Console) resetBuffers() {
	c.recorder.Reset()
	c.summaryMu.Lock()
	c.summary = metrics.Standard(c.safetyCfg.CautionTemp(), c.safetyCfg.CriticalTemp())
	c.summaryMu.Unlock()
}

// Start runs the clock. Starting from stopped resets simulated time and
// clears the export buffer. It reports false when already running.
func (c *Console) Start(ctx context.Context) bool {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.clock.IsRunning() {
		return false
	}
	c.clock.Wait()
	c.resetBuffers()
	c.clock.Start(ctx)
	c.events.Append("Simulation started")
	c.monitor.SetStatus(safety.StatusRunning)
	return true
}

// Stop halts the clock. Pending restorations still fire.
func (c *Console) Stop() bool {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	return c.stopLocked()
}

func (c *Console) stopLocked() bool {
	if !c.clock.Stop() {
		return false
	}
	c.events.Append("Simulation stopped")
	c.monitor.SetStatus(safety.StatusStopped)
	return true
}

// Reset stops the clock, waits for the loop to exit and restores the plant
// to its initial temperatures with rods inserted and the reset flow rate.
func (c *Console) Reset() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	c.stopLocked()
	c.clock.Wait()
	c.plant.Reset()
	c.resetBuffers()
	c.events.Append("Simulation reset")
	c.monitor.SetStatus(safety.StatusStopped)
}

// RunFor ticks headlessly without pacing until seconds of simulated time
// have elapsed or a safety trip stops the clock. It returns the number of
// samples published.
func (c *Console) RunFor(ctx context.Context, seconds float64) int64 {
	c.lifecycle.Lock()
	if c.clock.IsRunning() {
		c.lifecycle.Unlock()
		return 0
	}
	c.clock.Wait()
	c.resetBuffers()
	c.events.Append("Simulation started")
	c.monitor.SetStatus(safety.StatusRunning)
	c.lifecycle.Unlock()

	n := int64(seconds / c.clock.Dt())
	done := c.clock.Run(ctx, n)

	if done == n {
		c.events.Append("Simulation stopped")
		c.monitor.SetStatus(safety.StatusStopped)
	}
	return done
}

// SetRodPosition moves the rods by hand. Manual positioning takes over from
// the automatic controller.
func (c *Console) SetRodPosition(v float64) {
	c.releaseRods("manual rod position")
	c.plant.Reactor.SetRodPosition(v)
}

func (c *Console) releaseRods(reason string) {
	if c.rods.Enabled() {
		c.rods.SetEnabled(false)
		c.events.Append("Automatic rod control disabled: " + reason)
	}
}

func (c *Console) SetFlowRate(v float64) {
	c.plant.Coolant.SetFlowRate(v)
}

// Scram fully inserts the rods and hands rod control back to the operator.
func (c *Console) Scram() {
	c.releaseRods("SCRAM")
	c.monitor.Scram()
}

// EmergencyInject overrides coolant flow for d of simulated time.
func (c *Console) EmergencyInject(d time.Duration, flow float64) {
	c.monitor.EmergencyInject(d, flow)
}

// InjectEmergencyCoolant uses the configured emergency flow and duration.
func (c *Console) InjectEmergencyCoolant() {
	c.monitor.EmergencyInject(c.safetyCfg.EmergencyDuration(), c.safetyCfg.EmergencyFlow())
}

func (c *Console) TriggerReactivitySpike(durationS, rod float64) {
	c.events.Append(fmt.Sprintf("Scenario: Reactivity spike for %.1fs to rod=%.2f", durationS, rod))
	c.releaseRods("reactivity spike")
	c.scenarios.ReactivitySpike(durationS, rod)
}

func (c *Console) TriggerCoolantFailure(durationS float64) {
	c.events.Append(fmt.Sprintf("Scenario: Coolant failure for %.1fs", durationS))
	c.scenarios.CoolantFailure(durationS)
}

// formatSetting renders a value the way the event log has always shown
// thresholds: integral values keep one decimal.
func formatSetting(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

func (c *Console) SetCautionTemp(v float64) {
	c.safetyCfg.SetCautionTemp(v)
	c.events.Append("Caution temp set to " + formatSetting(v))
}

func (c *Console) SetCriticalTemp(v float64) {
	c.safetyCfg.SetCriticalTemp(v)
	c.events.Append("Critical temp set to " + formatSetting(v))
}

func (c *Console) SetAutoShutdown(on bool) {
	c.safetyCfg.SetAutoShutdown(on)
	c.events.Append("Auto-shutdown set to " + strconv.FormatBool(on))
}

func (c *Console) SetEmergencyFlow(v float64) {
	c.safetyCfg.SetEmergencyFlow(v)
	c.events.Append("Emergency injection flow set to " + formatSetting(v))
}

func (c *Console) SetEmergencyDuration(d time.Duration) {
	c.safetyCfg.SetEmergencyDuration(d)
	c.events.Append("Emergency injection duration set to " + d.String())
}

// ApplySafety replaces every safety setting at once, logging each value
// that changed.
func (c *Console) ApplySafety(s safety.Settings) {
	cur := c.safetyCfg.Settings()
	if s.CautionTemp != cur.CautionTemp {
		c.SetCautionTemp(s.CautionTemp)
	}
	if s.CriticalTemp != cur.CriticalTemp {
		c.SetCriticalTemp(s.CriticalTemp)
	}
	if s.AutoShutdown != cur.AutoShutdown {
		c.SetAutoShutdown(s.AutoShutdown)
	}
	if s.EmergencyFlow != cur.EmergencyFlow {
		c.SetEmergencyFlow(s.EmergencyFlow)
	}
	if s.EmergencyDuration != cur.EmergencyDuration {
		c.SetEmergencyDuration(s.EmergencyDuration)
	}
}

// SetRodControl switches the automatic rod controller.
func (c *Console) SetRodControl(on bool) {
	if c.rods.Enabled() == on {
		return
	}
	c.rods.SetEnabled(on)
	if on {
		c.events.Append(fmt.Sprintf("Automatic rod control enabled: setpoint %.1f", c.rods.Setpoint()))
	} else {
		c.events.Append("Automatic rod control disabled")
	}
}

func (c *Console) RodControlEnabled() bool { return c.rods.Enabled() }

func (c *Console) SetRodSetpoint(v float64) {
	c.rods.SetParam("Target", v)
	c.events.Append("Rod control setpoint set to " + formatSetting(v))
}

func (c *Console) RodSetpoint() float64 { return c.rods.Setpoint() }

// ExportCSV writes the buffered samples and records the export in the
// event log under name.
func (c *Console) ExportCSV(w io.Writer, name string) error {
	if err := export.WriteCSV(w, c.recorder.Samples(), time.Now()); err != nil {
		return err
	}
	c.events.Append("CSV exported to " + name)
	return nil
}

// ExportFile writes the buffered samples to path.
func (c *Console) ExportFile(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	f, err := os.Create(abs)
	if err != nil {
		return "", fmt.Errorf("export: %w", err)
	}
	if err := c.ExportCSV(f, abs); err != nil {
		f.Close()
		os.Remove(abs)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(abs)
		return "", fmt.Errorf("export: %w", err)
	}
	return abs, nil
}

func (c *Console) Subscribe(buffer int) (<-chan sim.Sample, func()) {
	return c.clock.Subscribe(buffer)
}

// Shutdown stops the clock, joins the loop, drops pending restorations and
// closes subscriber queues and the live export.
func (c *Console) Shutdown() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	c.stopLocked()
	c.clock.Close()
	if c.wallTimer != nil {
		c.wallTimer.Shutdown()
	}
	c.events.Append("Controller shutdown")
	if c.stream != nil {
		return c.stream.Close()
	}
	return nil
}
