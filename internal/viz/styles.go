package viz

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	Panel = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444466")).
		Padding(0, 2)

	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#00ffff"))

	Subtle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#666688"))

	StatusOK = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00ff88"))

	StatusFail = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ff4444"))

	MetricValue = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00ccff")).
			Bold(true)

	MetricLabel = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888899")).
			Width(18)

	KeyHint = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#666688")).
		Italic(true)

	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("#444466"))

	SparkHigh = lipgloss.NewStyle().Foreground(lipgloss.Color("#00ff88"))
	SparkMid  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ffcc00"))
	SparkLow  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff4444"))
)

// ProgressBar renders a bar of width cells filled to percent in [0, 1].
func ProgressBar(percent float64, width int) string {
	filled := int(percent * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)

	if percent > 0.8 {
		return SparkHigh.Render(bar)
	} else if percent > 0.4 {
		return SparkMid.Render(bar)
	}
	return SparkLow.Render(bar)
}

// Sparkline renders one character per value, scaled between the
// smallest and largest value.
func Sparkline(values []float64, width int) string {
	if width <= 0 {
		return ""
	}
	if len(values) == 0 {
		return strings.Repeat("─", width)
	}

	chars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	rng := hi - lo
	if rng == 0 {
		rng = 1
	}

	step := len(values) / width
	if step < 1 {
		step = 1
	}

	var result strings.Builder
	for i := 0; i < width && i*step < len(values); i++ {
		norm := (values[i*step] - lo) / rng
		idx := int(norm * float64(len(chars)-1))
		idx = max(0, min(idx, len(chars)-1))

		c := string(chars[idx])
		switch {
		case norm > 0.7:
			result.WriteString(SparkHigh.Render(c))
		case norm > 0.3:
			result.WriteString(SparkMid.Render(c))
		default:
			result.WriteString(SparkLow.Render(c))
		}
	}
	return result.String()
}

func Separator(width int) string {
	mid := width / 2
	left := strings.Repeat("─", max(mid-3, 0))
	right := strings.Repeat("─", max(width-mid-3, 0))
	return Subtle.Render(left + " ◆ " + right)
}
