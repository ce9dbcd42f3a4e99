// Package automation drives the console from a YAML timeline keyed on
// simulated time, and sweeps a parameter across headless runs.
package automation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/reactorsim/internal/sim"
)

const (
	ActionReactivitySpike = "reactivity_spike"
	ActionCoolantFailure  = "coolant_failure"
	ActionScram           = "scram"
	ActionEmergencyInject = "emergency_inject"
	ActionSetRod          = "set_rod"
	ActionSetFlow         = "set_flow"
)

var ErrInvalidScript = errors.New("invalid script")

// Script is a timeline of operator actions.
type Script struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Steps       []Step `yaml:"steps"`
}

// Step fires once when simulated time reaches At.
type Step struct {
	At          float64 `yaml:"at_s"`
	Action      string  `yaml:"action"`
	Duration    float64 `yaml:"duration_s"`
	RodPosition float64 `yaml:"rod_position"`
	FlowRate    float64 `yaml:"flow_rate"`
}

// Target is the control surface a script acts on.
type Target interface {
	TriggerReactivitySpike(durationS, rod float64)
	TriggerCoolantFailure(durationS float64)
	Scram()
	EmergencyInject(d time.Duration, flow float64)
	SetRodPosition(v float64)
	SetFlowRate(v float64)
}

func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScript(data)
}

// ParseScript decodes and validates a script. Steps are ordered by time,
// keeping file order for equal times.
func ParseScript(data []byte) (*Script, error) {
	var script Script
	if err := yaml.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScript, err)
	}
	if err := script.Validate(); err != nil {
		return nil, err
	}
	sort.SliceStable(script.Steps, func(i, j int) bool {
		return script.Steps[i].At < script.Steps[j].At
	})
	return &script, nil
}

func (s *Script) Validate() error {
	for i, step := range s.Steps {
		if math.IsNaN(step.At) || step.At < 0 {
			return fmt.Errorf("%w: step %d: at_s must not be negative", ErrInvalidScript, i+1)
		}
		switch step.Action {
		case ActionReactivitySpike, ActionCoolantFailure, ActionScram,
			ActionEmergencyInject, ActionSetRod, ActionSetFlow:
		default:
			return fmt.Errorf("%w: step %d: unknown action %q", ErrInvalidScript, i+1, step.Action)
		}
	}
	return nil
}

// Runner is a clock observer that plays a script against a target.
type Runner struct {
	script *Script
	target Target
	logger *zap.Logger

	mu    sync.Mutex
	next  int
	last  float64
	fired []Step
}

func NewRunner(script *Script, target Target, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{script: script, target: target, logger: logger}
}

// OnSample fires every step that is due. A clock restarted from zero
// rewinds the timeline.
func (r *Runner) OnSample(s sim.Sample) {
	r.mu.Lock()
	if s.Time < r.last {
		r.next = 0
	}
	r.last = s.Time

	var due []Step
	for r.next < len(r.script.Steps) && r.script.Steps[r.next].At <= s.Time {
		due = append(due, r.script.Steps[r.next])
		r.next++
	}
	r.fired = append(r.fired, due...)
	r.mu.Unlock()

	for _, step := range due {
		r.apply(step, s.Time)
	}
}

func (r *Runner) apply(step Step, now float64) {
	r.logger.Info("script step",
		zap.String("action", step.Action),
		zap.Float64("at_s", step.At),
		zap.Float64("sim_time", now))

	switch step.Action {
	case ActionReactivitySpike:
		r.target.TriggerReactivitySpike(step.Duration, step.RodPosition)
	case ActionCoolantFailure:
		r.target.TriggerCoolantFailure(step.Duration)
	case ActionScram:
		r.target.Scram()
	case ActionEmergencyInject:
		r.target.EmergencyInject(time.Duration(step.Duration*float64(time.Second)), step.FlowRate)
	case ActionSetRod:
		r.target.SetRodPosition(step.RodPosition)
	case ActionSetFlow:
		r.target.SetFlowRate(step.FlowRate)
	}
}

// Fired returns the steps applied so far.
func (r *Runner) Fired() []Step {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Step, len(r.fired))
	copy(out, r.fired)
	return out
}

// Done reports whether every step has fired.
func (r *Runner) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next >= len(r.script.Steps)
}

// ParameterSweep runs headless simulations across a range of one parameter.
// Parallel above 1 runs that many simulations at once.
type ParameterSweep struct {
	ParamName string
	ParamMin  float64
	ParamMax  float64
	NumSteps  int
	Parallel  int
}

type SweepResult struct {
	ParamValue float64
	Metrics    map[string]float64
}

// RunFunc executes one headless run with the parameter set to value. It
// must be safe for concurrent use when the sweep is parallel.
type RunFunc func(ctx context.Context, value float64) (map[string]float64, error)

func (s *ParameterSweep) Values() []float64 {
	paramStep := 0.0
	if s.NumSteps > 1 {
		paramStep = (s.ParamMax - s.ParamMin) / float64(s.NumSteps-1)
	}
	values := make([]float64, s.NumSteps)
	for i := range values {
		values[i] = s.ParamMin + float64(i)*paramStep
	}
	return values
}

// RunSweep returns one result per value in order. A sequential sweep
// returns the runs completed before a failure; a parallel sweep returns
// only the error.
func RunSweep(ctx context.Context, sweep *ParameterSweep, run RunFunc) ([]SweepResult, error) {
	if sweep.NumSteps < 1 {
		return nil, fmt.Errorf("sweep %s: steps must be at least 1", sweep.ParamName)
	}
	values := sweep.Values()

	if sweep.Parallel <= 1 {
		results := make([]SweepResult, 0, len(values))
		for _, v := range values {
			if err := ctx.Err(); err != nil {
				return results, err
			}
			metrics, err := run(ctx, v)
			if err != nil {
				return results, fmt.Errorf("sweep %s=%g: %w", sweep.ParamName, v, err)
			}
			results = append(results, SweepResult{ParamValue: v, Metrics: metrics})
		}
		return results, nil
	}

	results := make([]SweepResult, len(values))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweep.Parallel)
	for i, v := range values {
		g.Go(func() error {
			metrics, err := run(gctx, v)
			if err != nil {
				return fmt.Errorf("sweep %s=%g: %w", sweep.ParamName, v, err)
			}
			results[i] = SweepResult{ParamValue: v, Metrics: metrics}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
