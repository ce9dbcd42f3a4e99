package timers

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/san-kum/reactorsim/internal/sim"
)

// Virtual schedules tasks against simulated time instead of the wall
// clock. It observes the sample stream and runs due tasks on the tick
// goroutine, which keeps unpaced headless runs deterministic.
type Virtual struct {
	logger *zap.Logger

	mu      sync.Mutex
	now     float64
	counter uint64
	tasks   []virtualTask
}

type virtualTask struct {
	id       string
	seq      uint64
	deadline float64
	fn       func()
}

func NewVirtual(logger *zap.Logger) *Virtual {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Virtual{logger: logger}
}

// After runs f once simulated time has advanced by d.
func (v *Virtual) After(d time.Duration, f func()) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.counter++
	t := virtualTask{
		id:       fmt.Sprintf("vtask-%d", v.counter),
		seq:      v.counter,
		deadline: v.now + max(d, 0).Seconds(),
		fn:       f,
	}
	v.tasks = append(v.tasks, t)
	sort.SliceStable(v.tasks, func(i, j int) bool {
		return v.tasks[i].deadline < v.tasks[j].deadline
	})
	return t.id
}

func (v *Virtual) OnSample(s sim.Sample) {
	v.Advance(s.Time)
}

// Advance moves simulated time to now and runs every task that is due, in
// deadline order. A clock restarted from zero keeps the remaining delay of
// each pending task.
func (v *Virtual) Advance(now float64) {
	v.mu.Lock()
	// Sample times strictly increase within a run, so a repeat or a step
	// back means the clock restarted from zero.
	if now <= v.now && v.now > 0 {
		for i := range v.tasks {
			v.tasks[i].deadline -= v.now
		}
	}
	v.now = now
	var due []virtualTask
	for len(v.tasks) > 0 && v.tasks[0].deadline <= now {
		due = append(due, v.tasks[0])
		v.tasks = v.tasks[1:]
	}
	v.mu.Unlock()

	for _, t := range due {
		v.runTask(t)
	}
}

func (v *Virtual) runTask(t virtualTask) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("delayed task panicked", zap.String("id", t.id), zap.Any("recovered", r))
		}
	}()
	t.fn()
}

func (v *Virtual) Cancel(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, t := range v.tasks {
		if t.id == id {
			v.tasks = append(v.tasks[:i], v.tasks[i+1:]...)
			return true
		}
	}
	return false
}

func (v *Virtual) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.tasks)
}
