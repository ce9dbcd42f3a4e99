package metrics

import (
	"github.com/san-kum/reactorsim/internal/sim"
)

// MeanRod is the average rod insertion over the run, a measure of how hard
// the operator or the safety system had to work.
type MeanRod struct {
	sum     float64
	samples int
}

func NewMeanRod() *MeanRod {
	return &MeanRod{}
}

func (c *MeanRod) Name() string {
	return "mean_rod_position"
}

func (c *MeanRod) Observe(s sim.Sample) {
	c.sum += s.RodPosition
	c.samples++
}

func (c *MeanRod) Value() float64 {
	if c.samples == 0 {
		return 0
	}
	return c.sum / float64(c.samples)
}

func (c *MeanRod) Reset() {
	c.sum = 0
	c.samples = 0
}
