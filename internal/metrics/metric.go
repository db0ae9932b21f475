// Package metrics summarises a sweep of solved operating points.
package metrics

import (
	"github.com/san-kum/propsim/internal/propulsion"
)

// Metric accumulates one scalar over a sequence of operating points.
type Metric interface {
	Name() string
	Observe(op propulsion.OperatingPoint)
	Value() float64
	Reset()
}

// Defaults returns the metrics reported for every sweep. A positive
// powerLimit adds the fraction of points within it.
func Defaults(powerLimit float64) []Metric {
	ms := []Metric{
		NewPeakThrust(),
		NewMaxBatteryPower(),
		NewMeanEfficiency(),
		NewPowerBalance(),
		NewThrottleEffort(),
	}
	if powerLimit > 0 {
		ms = append(ms, NewPowerLimit(powerLimit))
	}
	return ms
}

// Evaluate resets each metric, feeds it every point and collects the values
// by name.
func Evaluate(points []propulsion.OperatingPoint, ms []Metric) map[string]float64 {
	out := make(map[string]float64, len(ms))
	for _, m := range ms {
		m.Reset()
		for _, op := range points {
			m.Observe(op)
		}
		out[m.Name()] = m.Value()
	}
	return out
}
