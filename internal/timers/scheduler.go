// Package timers runs delayed restoration tasks on wall-clock timers that
// are independent of the simulation tick loop.
package timers

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler owns every pending delayed task. Stopping the simulation clock
// does not affect it; only Cancel or Shutdown do.
type Scheduler struct {
	scale  float64
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	counter uint64
	pending map[string]context.CancelFunc
}

// New returns a scheduler whose delays are divided by scale, matching the
// playback speed of the clock. A scale <= 0 means real time.
func New(scale float64, logger *zap.Logger) *Scheduler {
	if scale <= 0 || math.IsNaN(scale) {
		scale = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scale:   scale,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]context.CancelFunc),
	}
}

// After runs f once d has elapsed and returns an id for Cancel. Negative
// delays run immediately. After Shutdown it returns "" and never runs f.
func (s *Scheduler) After(d time.Duration, f func()) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return ""
	}

	s.counter++
	id := fmt.Sprintf("task-%d", s.counter)
	taskCtx, cancel := context.WithCancel(s.ctx)
	s.pending[id] = cancel

	wait := s.Scaled(d)
	s.wg.Add(1)
	go s.run(taskCtx, id, wait, f)
	return id
}

// Scaled converts a simulated delay into the wall-clock delay used.
func (s *Scheduler) Scaled(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	if math.IsInf(s.scale, 1) {
		return 0
	}
	return time.Duration(float64(d) / s.scale)
}

func (s *Scheduler) run(ctx context.Context, id string, wait time.Duration, f func()) {
	defer s.wg.Done()
	defer s.forget(id)

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("delayed task panicked", zap.String("task", id), zap.Any("recovered", r))
		}
	}()
	f()
}

func (s *Scheduler) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.pending[id]; ok {
		cancel()
		delete(s.pending, id)
	}
}

// Cancel drops a task that has not fired yet. It reports whether the task
// was still pending.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	cancel, ok := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Shutdown cancels every pending task and waits for running ones to return.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}
