package metrics

import (
	"github.com/san-kum/propsim/internal/propulsion"
)

// ThrottleEffort is the mean throttle setting over the sweep.
type ThrottleEffort struct {
	name    string
	sum     float64
	samples int
}

func NewThrottleEffort() *ThrottleEffort {
	return &ThrottleEffort{
		name: "mean_throttle",
	}
}

func (c *ThrottleEffort) Name() string {
	return c.name
}

func (c *ThrottleEffort) Observe(op propulsion.OperatingPoint) {
	c.sum += op.Throttle
	c.samples++
}

func (c *ThrottleEffort) Value() float64 {
	if c.samples == 0 {
		return 0
	}
	return c.sum / float64(c.samples)
}

func (c *ThrottleEffort) Reset() {
	c.sum = 0
	c.samples = 0
}
