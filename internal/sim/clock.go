package sim

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Clock is the fixed-timestep loop. While running it advances the plant by
// dt, publishes a Sample, then sleeps dt/TimeScale of wall-clock time.
type Clock struct {
	plant      Plant
	integrator Integrator
	dt         float64
	interval   time.Duration
	bus        *Broadcaster
	logger     *zap.Logger

	mu        sync.Mutex
	running   bool
	gen       uint64
	cancel    context.CancelFunc
	done      chan struct{}
	observers []Observer
	wg        sync.WaitGroup

	simTime atomic.Float64
	ticks   atomic.Int64
}

func NewClock(plant Plant, integ Integrator, cfg Config, logger *zap.Logger) (*Clock, error) {
	if cfg.Dt <= 0 || math.IsNaN(cfg.Dt) || math.IsInf(cfg.Dt, 0) {
		return nil, fmt.Errorf("dt %v: %w", cfg.Dt, ErrInvalidStep)
	}
	if cfg.TimeScale == 0 {
		cfg.TimeScale = 1
	}
	if cfg.TimeScale < 0 || math.IsNaN(cfg.TimeScale) {
		return nil, fmt.Errorf("time scale %v: %w", cfg.TimeScale, ErrInvalidTimeScale)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Clock{
		plant:      plant,
		integrator: integ,
		dt:         cfg.Dt,
		interval:   scaledInterval(cfg.Dt, cfg.TimeScale),
		bus:        NewBroadcaster(),
		logger:     logger,
	}, nil
}

func (c *Clock) Dt() float64 { return c.dt }

// Interval is the wall-clock pause between ticks.
func (c *Clock) Interval() time.Duration { return c.interval }

// SimTime is the simulated time of the last published sample.
func (c *Clock) SimTime() float64 { return c.simTime.Load() }

// Ticks counts samples published since the process started.
func (c *Clock) Ticks() int64 { return c.ticks.Load() }

func (c *Clock) Broadcaster() *Broadcaster { return c.bus }

// AddObserver registers o to run synchronously after every tick. The list
// is copied on write so the loop iterates a stable snapshot.
func (c *Clock) AddObserver(o Observer) {
	if o == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	next := make([]Observer, len(c.observers), len(c.observers)+1)
	copy(next, c.observers)
	c.observers = append(next, o)
}

// Subscribe returns an independent asynchronous sample queue.
func (c *Clock) Subscribe(buffer int) (<-chan Sample, func()) {
	return c.bus.Subscribe(buffer)
}

// Start moves STOPPED to RUNNING and resets simulated time. It reports false
// when the clock was already running. A loop still finishing its last tick
// after Stop is joined first, so ticks never overlap. Start must not be
// called from an observer. The loop also ends when ctx is done.
func (c *Clock) Start(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	loopCtx, gen, done, ok := c.begin(ctx)
	if !ok {
		return false
	}
	c.wg.Add(1)
	go c.loop(loopCtx, gen, done)
	c.logger.Debug("clock started", zap.Float64("dt", c.dt), zap.Duration("interval", c.interval))
	return true
}

// begin waits for the previous run to exit and claims a new one. It is
// called and returns with c.mu held.
func (c *Clock) begin(ctx context.Context) (context.Context, uint64, chan struct{}, bool) {
	for {
		if c.running {
			return nil, 0, nil, false
		}
		prev := c.done
		if prev == nil || isClosed(prev) {
			break
		}
		c.mu.Unlock()
		<-prev
		c.mu.Lock()
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.gen++
	c.cancel = cancel
	c.done = make(chan struct{})
	c.simTime.Store(0)
	return runCtx, c.gen, c.done, true
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// Stop moves RUNNING to STOPPED. It reports false when already stopped. A
// tick in progress finishes; the loop exits at the next boundary.
func (c *Clock) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return false
	}
	c.running = false
	c.cancel()
	c.cancel = nil
	c.logger.Debug("clock stopped", zap.Float64("sim_time", c.simTime.Load()))
	return true
}

func (c *Clock) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Wait blocks until every loop goroutine has returned.
func (c *Clock) Wait() { c.wg.Wait() }

// Close stops the loop, joins it and closes all subscriber queues.
func (c *Clock) Close() {
	c.Stop()
	c.Wait()
	c.bus.Close()
}

func (c *Clock) loop(ctx context.Context, gen uint64, done chan struct{}) {
	defer c.wg.Done()
	defer close(done)
	defer c.finish(gen)

	timer := time.NewTimer(c.interval)
	timer.Stop()
	defer timer.Stop()

	var n int64
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n++
		c.tick(n)

		timer.Reset(c.interval)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// Run ticks synchronously with no pacing until n samples are published, ctx
// ends or Stop is called, and returns the number published. It reports 0
// when the clock is already running.
func (c *Clock) Run(ctx context.Context, n int64) int64 {
	c.mu.Lock()
	runCtx, gen, done, ok := c.begin(ctx)
	c.mu.Unlock()
	if !ok {
		return 0
	}
	defer close(done)
	defer c.finish(gen)

	var ticks int64
	for ticks < n && runCtx.Err() == nil {
		ticks++
		c.tick(ticks)
	}
	return ticks
}

// tick advances the plant to n*dt and publishes the sample.
func (c *Clock) tick(n int64) {
	t := float64(n) * c.dt
	s := c.plant.Advance(c.integrator, t-c.dt, c.dt)
	s.Time = t
	c.simTime.Store(t)
	c.ticks.Inc()
	c.publish(s)
}

// finish clears the running flag when the parent context ended the loop.
func (c *Clock) finish(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen && c.running {
		c.running = false
		if c.cancel != nil {
			c.cancel()
			c.cancel = nil
		}
	}
}

func (c *Clock) publish(s Sample) {
	c.mu.Lock()
	observers := c.observers
	c.mu.Unlock()

	for _, o := range observers {
		c.notify(o, s)
	}
	c.bus.Publish(s)
}

func (c *Clock) notify(o Observer, s Sample) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("observer panicked", zap.Any("recovered", r), zap.Float64("sim_time", s.Time))
		}
	}()
	o.OnSample(s)
}

func scaledInterval(dt, scale float64) time.Duration {
	if math.IsInf(scale, 1) {
		return 0
	}
	return time.Duration(dt / scale * float64(time.Second))
}
