package metrics

import (
	"math"

	"github.com/san-kum/propsim/internal/propulsion"
)

type PeakThrust struct {
	name    string
	peak    float64
	samples int
}

func NewPeakThrust() *PeakThrust {
	return &PeakThrust{name: "peak_thrust"}
}

func (p *PeakThrust) Name() string { return p.name }

func (p *PeakThrust) Observe(op propulsion.OperatingPoint) {
	if p.samples == 0 || op.Thrust > p.peak {
		p.peak = op.Thrust
	}
	p.samples++
}

func (p *PeakThrust) Value() float64 { return p.peak }

func (p *PeakThrust) Reset() {
	p.peak = 0
	p.samples = 0
}

// MaxBatteryPower is the largest power drawn from the source.
type MaxBatteryPower struct {
	name string
	max  float64
}

func NewMaxBatteryPower() *MaxBatteryPower {
	return &MaxBatteryPower{name: "max_battery_power"}
}

func (m *MaxBatteryPower) Name() string { return m.name }

func (m *MaxBatteryPower) Observe(op propulsion.OperatingPoint) {
	m.max = math.Max(m.max, op.BatteryPower)
}

func (m *MaxBatteryPower) Value() float64 { return m.max }

func (m *MaxBatteryPower) Reset() { m.max = 0 }
