package viz

import (
	"context"
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/san-kum/propsim/internal/experiment"
)

// SampleMsg delivers one finished sweep point.
type SampleMsg experiment.Sample

// DoneMsg ends the sweep.
type DoneMsg struct {
	Samples []experiment.Sample
	Err     error
}

// SweepModel shows sweep progress as points arrive, in any order.
type SweepModel struct {
	total   int
	units   string
	samples []experiment.Sample
	done    bool
	err     error
	width   int
}

func NewSweepModel(total int, velocityUnits string) SweepModel {
	return SweepModel{total: total, units: velocityUnits, width: 80}
}

func (m SweepModel) Init() tea.Cmd { return nil }

func (m SweepModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case SampleMsg:
		m.samples = append(m.samples, experiment.Sample(msg))
		sort.Slice(m.samples, func(i, j int) bool { return m.samples[i].Index < m.samples[j].Index })
	case DoneMsg:
		m.done = true
		m.err = msg.Err
		if msg.Err == nil {
			m.samples = msg.Samples
		}
		return m, tea.Quit
	}
	return m, nil
}

// Done reports whether the sweep finished.
func (m SweepModel) Done() bool { return m.done }

// Samples returns the points received so far in sweep order.
func (m SweepModel) Samples() []experiment.Sample { return m.samples }

func (m SweepModel) View() string {
	var b strings.Builder
	b.WriteString(Title.Render("velocity sweep"))
	b.WriteString("\n\n")

	frac := 0.0
	if m.total > 0 {
		frac = float64(len(m.samples)) / float64(m.total)
	}
	b.WriteString(ProgressBar(frac, 40))
	b.WriteString(fmt.Sprintf(" %d/%d\n\n", len(m.samples), m.total))

	thrust := make([]float64, 0, len(m.samples))
	for _, s := range m.samples {
		if s.Err == nil {
			thrust = append(thrust, s.Point.Thrust)
		}
	}
	b.WriteString(MetricLabel.Render("thrust"))
	b.WriteString(Sparkline(thrust, max(0, min(len(thrust), m.width-20))))
	b.WriteString("\n\n")

	b.WriteString(HeaderStyle.Render(fmt.Sprintf("%10s %9s %9s %10s %8s", "v ("+m.units+")", "throttle", "thrust N", "battery W", "eff")))
	b.WriteString("\n")
	start := max(0, len(m.samples)-10)
	for _, s := range m.samples[start:] {
		if s.Err != nil {
			b.WriteString(fmt.Sprintf("%10.2f ", s.Velocity))
			b.WriteString(StatusFail.Render(s.Err.Error()))
			b.WriteString("\n")
			continue
		}
		op := s.Point
		b.WriteString(fmt.Sprintf("%10.2f %9.4f %9.3f %10.2f %8.4f\n", s.Velocity, op.Throttle, op.Thrust, op.BatteryPower, op.Efficiency))
	}

	b.WriteString("\n")
	switch {
	case m.err != nil:
		b.WriteString(StatusFail.Render("sweep failed: " + m.err.Error()))
	case m.done:
		b.WriteString(StatusOK.Render("sweep complete"))
	default:
		b.WriteString(KeyHint.Render("q to stop watching"))
	}
	b.WriteString("\n")
	return b.String()
}

// RunSweep runs exp while a SweepModel follows its progress. Samples are
// returned even when the view is closed early.
func RunSweep(ctx context.Context, exp *experiment.Experiment, total int, velocityUnits string) ([]experiment.Sample, error) {
	p := tea.NewProgram(NewSweepModel(total, velocityUnits))
	exp.OnSample = func(s experiment.Sample) { p.Send(SampleMsg(s)) }

	type outcome struct {
		samples []experiment.Sample
		err     error
	}
	result := make(chan outcome, 1)
	go func() {
		samples, err := exp.Sweep(ctx)
		result <- outcome{samples, err}
		p.Send(DoneMsg{Samples: samples, Err: err})
	}()

	if _, err := p.Run(); err != nil {
		return nil, err
	}
	out := <-result
	return out.samples, out.err
}
