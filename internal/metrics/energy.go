package metrics

import (
	"math"

	"github.com/san-kum/propsim/internal/propulsion"
)

// MeanEfficiency averages the overall efficiency over points in forward
// flight. Static points have no thrust power and are skipped.
type MeanEfficiency struct {
	name    string
	total   float64
	samples int
}

func NewMeanEfficiency() *MeanEfficiency {
	return &MeanEfficiency{name: "mean_efficiency"}
}

func (e *MeanEfficiency) Name() string { return e.name }

func (e *MeanEfficiency) Observe(op propulsion.OperatingPoint) {
	if op.Velocity <= 0 {
		return
	}
	e.total += op.Efficiency
	e.samples++
}

func (e *MeanEfficiency) Value() float64 {
	if e.samples == 0 {
		return 0
	}
	return e.total / float64(e.samples)
}

func (e *MeanEfficiency) Reset() {
	e.total = 0
	e.samples = 0
}

// PowerBalance is the worst net power left on the series circuit, relative
// to the battery power at that point.
type PowerBalance struct {
	name     string
	maxDrift float64
}

func NewPowerBalance() *PowerBalance {
	return &PowerBalance{name: "power_balance"}
}

func (b *PowerBalance) Name() string { return b.name }

func (b *PowerBalance) Observe(op propulsion.OperatingPoint) {
	drift := math.Abs(op.PowerBalance())
	if op.BatteryPower != 0 {
		drift /= math.Abs(op.BatteryPower)
	}
	b.maxDrift = math.Max(b.maxDrift, drift)
}

func (b *PowerBalance) Value() float64 { return b.maxDrift }

func (b *PowerBalance) Reset() { b.maxDrift = 0 }
