package metrics

import (
	"github.com/san-kum/propsim/internal/propulsion"
)

// PowerLimit is the fraction of points whose battery power stays within
// the limit, with a relative slack for solver tolerance.
type PowerLimit struct {
	name       string
	limit      float64
	violations int
	samples    int
}

func NewPowerLimit(limit float64) *PowerLimit {
	return &PowerLimit{
		name:  "within_power_limit",
		limit: limit,
	}
}

func (s *PowerLimit) Name() string {
	return s.name
}

func (s *PowerLimit) Observe(op propulsion.OperatingPoint) {
	s.samples++
	if op.BatteryPower > s.limit*(1+1e-6) {
		s.violations++
	}
}

func (s *PowerLimit) Value() float64 {
	if s.samples == 0 {
		return 1.0
	}
	return 1.0 - float64(s.violations)/float64(s.samples)
}

func (s *PowerLimit) Reset() {
	s.violations = 0
	s.samples = 0
}
