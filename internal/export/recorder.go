// Package export buffers published samples and writes them out as CSV or
// SVG for offline analysis.
package export

import (
	"sync"

	"github.com/san-kum/reactorsim/internal/sim"
)

// Recorder is a clock observer that keeps every sample since the last
// Reset. A positive limit keeps only the most recent samples.
type Recorder struct {
	mu      sync.RWMutex
	samples []sim.Sample
	limit   int
}

func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

func (r *Recorder) OnSample(s sim.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
	if r.limit > 0 && len(r.samples) > r.limit {
		drop := len(r.samples) - r.limit
		r.samples = append(r.samples[:0], r.samples[drop:]...)
	}
}

// Samples returns a copy of the buffer.
func (r *Recorder) Samples() []sim.Sample {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]sim.Sample, len(r.samples))
	copy(out, r.samples)
	return out
}

func (r *Recorder) Last() (sim.Sample, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.samples) == 0 {
		return sim.Sample{}, false
	}
	return r.samples[len(r.samples)-1], true
}

func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.samples)
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.samples = nil
	r.mu.Unlock()
}
