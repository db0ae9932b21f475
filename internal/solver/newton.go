// Package solver drives a coupled system of residual equations to zero with
// Newton iteration and a direct LU solve of the full Jacobian.
package solver

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/propsim/internal/dynamo"
	"github.com/san-kum/propsim/internal/logging"
)

// System is a square nonlinear system. Linearize evaluates the residual at
// the current state together with d(residual)/d(state).
type System interface {
	StateDim() int
	State() dynamo.State
	SetState(s dynamo.State)
	Residual() (dynamo.State, error)
	Linearize() (dynamo.State, *mat.Dense, error)
}

type Status int

const (
	StatusUninitialized Status = iota
	StatusEvaluated
	StatusConverged
	StatusDiverged
	StatusIterationLimit
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusEvaluated:
		return "evaluated"
	case StatusConverged:
		return "converged"
	case StatusDiverged:
		return "diverged"
	case StatusIterationLimit:
		return "iteration limit reached"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

type Config struct {
	// AbsTol bounds the residual infinity norm.
	AbsTol float64 `yaml:"abs_tol"`
	// RelTol bounds the residual norm relative to the initial residual.
	RelTol        float64 `yaml:"rel_tol"`
	MaxIterations int     `yaml:"max_iterations"`
	// DivergenceWindow is the number of consecutive residual increases
	// treated as divergence.
	DivergenceWindow int `yaml:"divergence_window"`
	// MaxCondition is the largest acceptable Jacobian condition number.
	MaxCondition float64 `yaml:"max_condition"`
	// Backtrack halves a step until it reduces the residual.
	Backtrack     bool `yaml:"backtrack"`
	MaxBacktracks int  `yaml:"max_backtracks"`
}

func DefaultConfig() Config {
	return Config{
		AbsTol:           1e-8,
		RelTol:           1e-10,
		MaxIterations:    20,
		DivergenceWindow: 3,
		MaxCondition:     1e14,
		Backtrack:        false,
		MaxBacktracks:    8,
	}
}

type Result struct {
	Status          Status
	Iterations      int
	Residual        float64
	InitialResidual float64
	// History holds the residual norm before the first and after every step.
	History []float64
	State   dynamo.State
}

type Newton struct {
	cfg Config
	log *slog.Logger
}

// New returns a Newton solver. Zero config fields take their defaults; a
// nil logger discards output.
func New(cfg Config, logger *slog.Logger) *Newton {
	def := DefaultConfig()
	if cfg.AbsTol <= 0 {
		cfg.AbsTol = def.AbsTol
	}
	if cfg.RelTol <= 0 {
		cfg.RelTol = def.RelTol
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.DivergenceWindow <= 0 {
		cfg.DivergenceWindow = def.DivergenceWindow
	}
	if cfg.MaxCondition <= 0 {
		cfg.MaxCondition = def.MaxCondition
	}
	if cfg.MaxBacktracks <= 0 {
		cfg.MaxBacktracks = def.MaxBacktracks
	}
	return &Newton{cfg: cfg, log: logging.OrDiscard(logger)}
}

func (n *Newton) Config() Config { return n.cfg }

func (n *Newton) converged(norm, initial float64) bool {
	if norm > n.cfg.AbsTol {
		return false
	}
	return norm <= n.cfg.RelTol*initial || initial <= n.cfg.AbsTol
}

func (n *Newton) fail(res *Result, status Status, iter int, err error) error {
	res.Status = status
	return &dynamo.SolveError{
		Status:    status.String(),
		Iteration: iter,
		Residual:  res.Residual,
		Wrapped:   err,
	}
}

// Solve iterates sys from its current state. Component errors abort the
// solve unchanged; convergence failures are returned as *dynamo.SolveError.
// The partial Result is returned in every case.
func (n *Newton) Solve(ctx context.Context, sys System) (*Result, error) {
	res := &Result{Status: StatusUninitialized}

	r, jac, err := sys.Linearize()
	if err != nil {
		return res, err
	}
	res.Status = StatusEvaluated
	norm := r.InfNorm()
	res.InitialResidual = norm
	res.Residual = norm
	res.History = append(res.History, norm)
	if math.IsNaN(norm) || math.IsInf(norm, 0) {
		return res, n.fail(res, StatusDiverged, 0, fmt.Errorf("%w: initial residual %v", dynamo.ErrDiverged, norm))
	}

	increases := 0
	for iter := 0; ; iter++ {
		if n.converged(norm, res.InitialResidual) {
			res.Status = StatusConverged
			res.Iterations = iter
			res.State = sys.State()
			n.log.Info("newton converged", "iterations", iter, "residual", norm)
			return res, nil
		}
		if iter >= n.cfg.MaxIterations {
			res.Iterations = iter
			res.State = sys.State()
			return res, n.fail(res, StatusIterationLimit, iter, dynamo.ErrIterationLimit)
		}

		select {
		case <-ctx.Done():
			res.Iterations = iter
			return res, ctx.Err()
		default:
		}

		dx, err := n.step(jac, r)
		if err != nil {
			res.Iterations = iter
			res.State = sys.State()
			return res, n.fail(res, StatusDiverged, iter, err)
		}

		x := sys.State()
		next := x.Add(dx)
		sys.SetState(next)
		if n.cfg.Backtrack {
			n.backtrack(sys, x, dx, norm)
		}

		r, jac, err = sys.Linearize()
		if err != nil {
			res.Iterations = iter + 1
			return res, err
		}
		prev := norm
		norm = r.InfNorm()
		res.Residual = norm
		res.History = append(res.History, norm)
		n.log.Debug("newton iteration", "iteration", iter+1, "residual", norm, "step", dx.InfNorm())

		if math.IsNaN(norm) || math.IsInf(norm, 0) {
			res.Iterations = iter + 1
			return res, n.fail(res, StatusDiverged, iter+1, fmt.Errorf("%w: residual is %v", dynamo.ErrDiverged, norm))
		}
		if norm > prev {
			increases++
		} else {
			increases = 0
		}
		if increases >= n.cfg.DivergenceWindow {
			res.Iterations = iter + 1
			res.State = sys.State()
			return res, n.fail(res, StatusDiverged, iter+1,
				fmt.Errorf("%w: residual grew for %d consecutive iterations", dynamo.ErrDiverged, increases))
		}
	}
}

// step solves J*dx = -r.
func (n *Newton) step(jac *mat.Dense, r dynamo.State) (dynamo.State, error) {
	m := len(r)
	if jac == nil {
		return nil, fmt.Errorf("%w: no jacobian for %d residuals", dynamo.ErrSingularJacobian, m)
	}
	var lu mat.LU
	lu.Factorize(jac)
	if c := lu.Cond(); math.IsInf(c, 1) || math.IsNaN(c) || c > n.cfg.MaxCondition {
		return nil, fmt.Errorf("%w: condition number %.3g", dynamo.ErrSingularJacobian, c)
	}

	rhs := mat.NewVecDense(m, nil)
	for i, v := range r {
		rhs.SetVec(i, -v)
	}
	var dx mat.VecDense
	if err := lu.SolveVecTo(&dx, false, rhs); err != nil {
		return nil, fmt.Errorf("%w: %v", dynamo.ErrSingularJacobian, err)
	}
	out := make(dynamo.State, m)
	for i := range out {
		out[i] = dx.AtVec(i)
	}
	if !out.IsValid() {
		return nil, fmt.Errorf("%w: non-finite step", dynamo.ErrSingularJacobian)
	}
	return out, nil
}

// backtrack halves the step from x until the residual norm decreases.
// The last trial is kept when no trial improves.
func (n *Newton) backtrack(sys System, x, dx dynamo.State, norm float64) {
	lambda := 1.0
	for i := 0; i < n.cfg.MaxBacktracks; i++ {
		r, err := sys.Residual()
		if err == nil {
			if trial := r.InfNorm(); trial <= (1-1e-4*lambda)*norm {
				return
			}
		}
		lambda /= 2
		sys.SetState(x.Add(dx.Scale(lambda)))
		n.log.Debug("newton backtrack", "lambda", lambda)
	}
}
