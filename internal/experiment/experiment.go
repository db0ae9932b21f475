// Package experiment runs the outer studies around a drivetrain: velocity
// sweeps, power-limited sweeps and surrogate training.
//
// Sweeps are embarrassingly parallel. Every worker owns its drivetrain;
// the propeller component, including a trained surrogate, is the only
// value shared between workers and is never mutated.
package experiment

import (
	"context"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/san-kum/propsim/internal/config"
	"github.com/san-kum/propsim/internal/logging"
	"github.com/san-kum/propsim/internal/optim"
	"github.com/san-kum/propsim/internal/propulsion"
)

// Sample is the outcome at one sweep velocity. Velocity is in the sweep's
// configured unit.
type Sample struct {
	Index    int
	Velocity float64
	Point    propulsion.OperatingPoint
	Err      error
}

type Experiment struct {
	cfg *config.Config
	reg *Registry
	log *slog.Logger

	// OnSample receives every finished sample. It may be called from
	// several goroutines at once.
	OnSample func(Sample)
}

func New(cfg *config.Config, reg *Registry, logger *slog.Logger) *Experiment {
	return &Experiment{
		cfg: cfg,
		reg: reg,
		log: logging.OrDiscard(logger),
	}
}

func (e *Experiment) workers(n int) int {
	w := e.cfg.Sweep.Workers
	if w <= 0 {
		w = runtime.NumCPU()
	}
	if w > n {
		w = n
	}
	return w
}

// Sweep solves the drivetrain at every configured velocity. With a power
// limit each point maximises thrust over throttle under that limit;
// otherwise the configured throttle is used. Failed points are reported in
// their sample and do not stop the sweep.
func (e *Experiment) Sweep(ctx context.Context) ([]Sample, error) {
	prop, err := e.reg.GetPropeller(e.cfg)
	if err != nil {
		return nil, err
	}
	velocities := e.cfg.Velocities()
	samples := make([]Sample, len(velocities))
	if len(velocities) == 0 {
		return samples, nil
	}

	jobs := make(chan int)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for i := range velocities {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for w := 0; w < e.workers(len(velocities)); w++ {
		g.Go(func() error {
			d, err := e.reg.Drivetrain(e.cfg, prop, e.log)
			if err != nil {
				return err
			}
			for i := range jobs {
				s := e.solvePoint(gctx, d, i, velocities[i])
				if err := gctx.Err(); err != nil {
					return err
				}
				samples[i] = s
				if e.OnSample != nil {
					e.OnSample(s)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return samples, nil
}

func (e *Experiment) solvePoint(ctx context.Context, d *propulsion.Drivetrain, i int, v float64) Sample {
	s := Sample{Index: i, Velocity: v}
	if err := d.Set(propulsion.Velocity, v, e.cfg.Sweep.VelocityUnits); err != nil {
		s.Err = err
		return s
	}

	if e.cfg.Sweep.PowerLimit > 0 {
		p := optim.Problem{
			Objective:  propulsion.Thrust,
			Constraint: propulsion.BatteryPower,
			Limit:      e.cfg.Sweep.PowerLimit,
			Guess:      map[string]float64{propulsion.Current: e.cfg.Sweep.InitialCurrent},
		}
		if _, err := optim.DefaultBisection(propulsion.Throttle).Maximize(ctx, d, p); err != nil {
			s.Err = err
		}
	} else {
		if err := d.Set(propulsion.Throttle, e.cfg.ESC.Throttle, ""); err != nil {
			s.Err = err
			return s
		}
		if err := d.ResetCurrent(); err != nil {
			s.Err = err
			return s
		}
		s.Err = d.Solve(ctx)
	}
	if s.Err != nil {
		e.log.Warn("sweep point failed", "velocity", v, "units", e.cfg.Sweep.VelocityUnits, "err", s.Err)
		return s
	}

	s.Point, s.Err = d.OperatingPoint()
	return s
}

// Points returns the operating points of the successful samples in order.
func Points(samples []Sample) []propulsion.OperatingPoint {
	out := make([]propulsion.OperatingPoint, 0, len(samples))
	for _, s := range samples {
		if s.Err == nil {
			out = append(out, s.Point)
		}
	}
	return out
}

// Failed counts samples that did not solve.
func Failed(samples []Sample) int {
	n := 0
	for _, s := range samples {
		if s.Err != nil {
			n++
		}
	}
	return n
}
