package viz

import (
	"fmt"
	"sort"
	"strings"

	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/propsim/internal/propulsion"
)

func row(label, value string) string {
	return MetricLabel.Render(label) + MetricValue.Render(value)
}

// RenderPoint draws a solved operating point as a panel.
func RenderPoint(title string, op propulsion.OperatingPoint) string {
	lines := []string{
		Title.Render(title),
		row("throttle", fmt.Sprintf("%.4f", op.Throttle)),
		row("airspeed", fmt.Sprintf("%.3f m/s", op.Velocity)),
		row("current", fmt.Sprintf("%.3f A", op.Current)),
		row("rpm", fmt.Sprintf("%.1f", op.RPM)),
		row("thrust", fmt.Sprintf("%.3f N", op.Thrust)),
		row("battery power", fmt.Sprintf("%.2f W", op.BatteryPower)),
		row("esc power", fmt.Sprintf("%.2f W", op.ESCPower)),
		row("motor power", fmt.Sprintf("%.2f W", op.MotorPower)),
		row("prop power", fmt.Sprintf("%.2f W", op.PropPower)),
		row("efficiency", fmt.Sprintf("%.4f", op.Efficiency)),
		row("net power", fmt.Sprintf("%.3g W", op.PowerBalance())),
		row("iterations", fmt.Sprintf("%d", op.Iterations)),
	}
	return Panel.Render(strings.Join(lines, "\n"))
}

// RenderMetrics draws metric values sorted by name.
func RenderMetrics(metrics map[string]float64) string {
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := []string{HeaderStyle.Render("metrics")}
	for _, name := range names {
		lines = append(lines, row(name, fmt.Sprintf("%.4f", metrics[name])))
	}
	return strings.Join(lines, "\n")
}

// Series extracts one field from every point.
func Series(points []propulsion.OperatingPoint, field func(propulsion.OperatingPoint) float64) []float64 {
	out := make([]float64, len(points))
	for i, op := range points {
		out[i] = field(op)
	}
	return out
}

// Plot charts thrust, battery power and efficiency against sweep index.
func Plot(points []propulsion.OperatingPoint, velocityUnits string) string {
	if len(points) == 0 {
		return Subtle.Render("no solved points")
	}
	lo, hi := points[0].Velocity, points[len(points)-1].Velocity
	span := fmt.Sprintf("airspeed %.1f to %.1f m/s", lo, hi)

	charts := []struct {
		caption string
		field   func(propulsion.OperatingPoint) float64
	}{
		{"thrust (N) vs " + span, func(op propulsion.OperatingPoint) float64 { return op.Thrust }},
		{"battery power (W) vs " + span, func(op propulsion.OperatingPoint) float64 { return op.BatteryPower }},
		{"overall efficiency vs " + span, func(op propulsion.OperatingPoint) float64 { return op.Efficiency }},
	}

	var b strings.Builder
	for _, c := range charts {
		b.WriteString(asciigraph.Plot(Series(points, c.field),
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(c.caption),
		))
		b.WriteString("\n\n")
	}
	b.WriteString(Subtle.Render(fmt.Sprintf("%d points, sweep units %s", len(points), velocityUnits)))
	return b.String()
}
