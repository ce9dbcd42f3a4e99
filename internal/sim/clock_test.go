package sim

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// countingPlant returns the tick start time as the core temperature so
// tests can check which interval each sample covers.
type countingPlant struct {
	advances atomic.Int64
	lastT    atomic.Float64
}

func (p *countingPlant) Advance(integ Integrator, t, dt float64) Sample {
	p.advances.Inc()
	p.lastT.Store(t)
	return Sample{CoreTemp: t, CoolantTemp: t + dt, RodPosition: 1, FlowRate: 200}
}

type eulerStep struct{}

func (eulerStep) Step(dyn Dynamics, x State, u Control, t, dt float64) State {
	dx := dyn.Derivative(x, u, t)
	out := x.Clone()
	for i := range out {
		out[i] += dt * dx[i]
	}
	return out
}

func newTestClock(t *testing.T, cfg Config) (*Clock, *countingPlant) {
	t.Helper()
	p := &countingPlant{}
	c, err := NewClock(p, eulerStep{}, cfg, nil)
	if err != nil {
		t.Fatalf("NewClock: %v", err)
	}
	t.Cleanup(c.Close)
	return c, p
}

func TestNewClockValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"zero dt", Config{Dt: 0, TimeScale: 1}, ErrInvalidStep},
		{"negative dt", Config{Dt: -0.5, TimeScale: 1}, ErrInvalidStep},
		{"NaN dt", Config{Dt: math.NaN(), TimeScale: 1}, ErrInvalidStep},
		{"infinite dt", Config{Dt: math.Inf(1), TimeScale: 1}, ErrInvalidStep},
		{"negative scale", Config{Dt: 0.5, TimeScale: -1}, ErrInvalidTimeScale},
		{"NaN scale", Config{Dt: 0.5, TimeScale: math.NaN()}, ErrInvalidTimeScale},
		{"zero scale is real time", Config{Dt: 0.5}, nil},
		{"unbounded scale", Config{Dt: 0.5, TimeScale: math.Inf(1)}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClock(&countingPlant{}, eulerStep{}, tt.cfg, nil)
			if !errors.Is(err, tt.want) {
				t.Errorf("NewClock() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestClockInterval(t *testing.T) {
	tests := []struct {
		cfg  Config
		want time.Duration
	}{
		{Config{Dt: 0.5, TimeScale: 1}, 500 * time.Millisecond},
		{Config{Dt: 0.5, TimeScale: 10}, 50 * time.Millisecond},
		{Config{Dt: 0.5}, 500 * time.Millisecond},
		{Config{Dt: 0.5, TimeScale: math.Inf(1)}, 0},
	}
	for _, tt := range tests {
		c, _ := newTestClock(t, tt.cfg)
		if got := c.Interval(); got != tt.want {
			t.Errorf("Interval() with %+v = %v, want %v", tt.cfg, got, tt.want)
		}
	}
}

func TestClockRunPublishesAtMultiplesOfDt(t *testing.T) {
	c, p := newTestClock(t, Config{Dt: 0.25, TimeScale: 1})

	var got []Sample
	c.AddObserver(ObserverFunc(func(s Sample) { got = append(got, s) }))

	if n := c.Run(context.Background(), 8); n != 8 {
		t.Fatalf("Run() = %d, want 8", n)
	}
	if len(got) != 8 {
		t.Fatalf("observed %d samples, want 8", len(got))
	}
	for i, s := range got {
		want := float64(i+1) * 0.25
		if s.Time != want {
			t.Errorf("sample %d time = %v, want %v", i, s.Time, want)
		}
		if s.CoreTemp != want-0.25 {
			t.Errorf("sample %d integrated from %v, want %v", i, s.CoreTemp, want-0.25)
		}
	}
	if c.IsRunning() {
		t.Error("clock still running after Run returned")
	}
	if c.SimTime() != 2.0 {
		t.Errorf("SimTime() = %v, want 2", c.SimTime())
	}
	if p.advances.Load() != 8 || c.Ticks() != 8 {
		t.Errorf("advances = %d ticks = %d, want 8", p.advances.Load(), c.Ticks())
	}
}

func TestClockRunRestartsFromZero(t *testing.T) {
	c, _ := newTestClock(t, DefaultConfig())
	c.Run(context.Background(), 4)
	c.Run(context.Background(), 2)
	if c.SimTime() != 1.0 {
		t.Errorf("SimTime() = %v, want 1", c.SimTime())
	}
	if c.Ticks() != 6 {
		t.Errorf("Ticks() = %d, want 6", c.Ticks())
	}
}

func TestClockRunStopsWhenObserverStops(t *testing.T) {
	c, _ := newTestClock(t, DefaultConfig())
	c.AddObserver(ObserverFunc(func(s Sample) {
		if s.Time >= 1.5 {
			c.Stop()
		}
	}))
	if n := c.Run(context.Background(), 100); n != 3 {
		t.Errorf("Run() = %d, want 3", n)
	}
}

func TestClockRunHonoursContext(t *testing.T) {
	c, _ := newTestClock(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if n := c.Run(ctx, 10); n != 0 {
		t.Errorf("Run() with done context = %d, want 0", n)
	}
}

func TestClockStartStopIdempotent(t *testing.T) {
	c, _ := newTestClock(t, Config{Dt: 0.5, TimeScale: 1000})

	if !c.Start(context.Background()) {
		t.Fatal("first Start() = false")
	}
	if c.Start(context.Background()) {
		t.Error("second Start() = true")
	}
	if n := c.Run(context.Background(), 5); n != 0 {
		t.Errorf("Run() while running = %d, want 0", n)
	}

	waitFor(t, func() bool { return c.Ticks() >= 3 })

	if !c.Stop() {
		t.Error("first Stop() = false")
	}
	if c.Stop() {
		t.Error("second Stop() = true")
	}
	c.Wait()
	if c.IsRunning() {
		t.Error("IsRunning() after Stop")
	}
}

func TestClockStartResetsSimTime(t *testing.T) {
	c, _ := newTestClock(t, DefaultConfig())
	c.Run(context.Background(), 10)

	var first atomic.Float64
	first.Store(-1)
	c.AddObserver(ObserverFunc(func(s Sample) { first.CompareAndSwap(-1, s.Time) }))

	c.Start(context.Background())
	waitFor(t, func() bool { return first.Load() >= 0 })
	c.Stop()
	c.Wait()

	if first.Load() != 0.5 {
		t.Errorf("first sample after restart at %v, want 0.5", first.Load())
	}
}

func TestClockRestartJoinsUnfinishedTick(t *testing.T) {
	c, _ := newTestClock(t, Config{Dt: 0.5, TimeScale: math.Inf(1)})

	entered := make(chan struct{})
	release := make(chan struct{})
	var blocked atomic.Bool
	var inFlight, maxInFlight atomic.Int64
	var mu sync.Mutex
	var times []float64

	c.AddObserver(ObserverFunc(func(s Sample) {
		n := inFlight.Inc()
		defer inFlight.Dec()
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		mu.Lock()
		times = append(times, s.Time)
		mu.Unlock()
		if blocked.CompareAndSwap(false, true) {
			close(entered)
			<-release
		}
	}))

	c.Start(context.Background())
	<-entered
	c.Stop()

	started := make(chan bool, 1)
	go func() { started <- c.Start(context.Background()) }()
	select {
	case <-started:
		t.Fatal("Start returned while the previous tick was still running")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	if !<-started {
		t.Fatal("Start() after the previous loop exited = false")
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(times) >= 4
	})
	c.Stop()
	c.Wait()

	if got := maxInFlight.Load(); got != 1 {
		t.Errorf("observers ran concurrently: max in flight %d", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if times[0] != 0.5 || times[1] != 0.5 {
		t.Fatalf("expected one tick per run at 0.5, got %v", times[:2])
	}
	for i := 2; i < len(times); i++ {
		if times[i] != times[i-1]+0.5 {
			t.Fatalf("restarted run out of order: %v", times)
		}
	}
}

func TestClockContextCancelEndsLoop(t *testing.T) {
	c, _ := newTestClock(t, Config{Dt: 0.5, TimeScale: 1000})
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	cancel()
	c.Wait()
	if c.IsRunning() {
		t.Error("IsRunning() after context cancel")
	}
	if !c.Start(context.Background()) {
		t.Error("Start() after context cancel = false")
	}
}

func TestClockObserverPanicIsolated(t *testing.T) {
	c, _ := newTestClock(t, DefaultConfig())

	var after int
	c.AddObserver(ObserverFunc(func(Sample) { panic("boom") }))
	c.AddObserver(ObserverFunc(func(Sample) { after++ }))
	c.AddObserver(nil)

	if n := c.Run(context.Background(), 3); n != 3 {
		t.Fatalf("Run() = %d, want 3", n)
	}
	if after != 3 {
		t.Errorf("observer after panicking one ran %d times, want 3", after)
	}
}

func TestClockObserversRunInOrder(t *testing.T) {
	c, _ := newTestClock(t, DefaultConfig())
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		c.AddObserver(ObserverFunc(func(Sample) { order = append(order, i) }))
	}
	c.Run(context.Background(), 1)
	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Errorf("observer order = %v, want [0 1 2]", order)
	}
}

func TestClockSlowSubscriberDoesNotBlock(t *testing.T) {
	c, _ := newTestClock(t, DefaultConfig())
	slow, cancelSlow := c.Subscribe(1)
	defer cancelSlow()
	fast, cancelFast := c.Subscribe(16)
	defer cancelFast()

	c.Run(context.Background(), 10)

	if len(fast) != 10 {
		t.Errorf("fast subscriber queued %d samples, want 10", len(fast))
	}
	if len(slow) != 1 {
		t.Errorf("slow subscriber queued %d samples, want 1", len(slow))
	}
	if got := c.Broadcaster().Dropped(); got != 9 {
		t.Errorf("Dropped() = %d, want 9", got)
	}
}

func TestClockCloseClosesSubscribers(t *testing.T) {
	c, _ := newTestClock(t, DefaultConfig())
	ch, cancel := c.Subscribe(4)
	c.Close()
	if _, ok := <-ch; ok {
		t.Error("subscriber channel open after Close")
	}
	cancel()

	late, _ := c.Subscribe(1)
	if _, ok := <-late; ok {
		t.Error("subscription after Close not closed")
	}
}

func TestBroadcasterCancelTwice(t *testing.T) {
	b := NewBroadcaster()
	_, cancel := b.Subscribe(0)
	if b.Subscribers() != 1 {
		t.Fatalf("Subscribers() = %d, want 1", b.Subscribers())
	}
	cancel()
	cancel()
	if b.Subscribers() != 0 {
		t.Errorf("Subscribers() = %d, want 0", b.Subscribers())
	}
	if n := b.Publish(Sample{}); n != 0 {
		t.Errorf("Publish() = %d, want 0", n)
	}
}

func TestStateIsValid(t *testing.T) {
	tests := []struct {
		name  string
		state State
		valid bool
	}{
		{"empty", State{}, true},
		{"normal", State{300, 290}, true},
		{"with NaN", State{1.0, math.NaN()}, false},
		{"with +Inf", State{math.Inf(1), 1.0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsValid(); got != tt.valid {
				t.Errorf("IsValid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 2s")
		}
		time.Sleep(time.Millisecond)
	}
}

