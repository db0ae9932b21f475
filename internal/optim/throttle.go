package optim

import (
	"context"
	"fmt"
)

// Bisection refines a single monotone decision variable after a coarse
// grid: the constraint grows with the variable, so the optimum sits where
// the constraint meets its limit.
type Bisection struct {
	Variable  string
	Low, High float64
	// GridPoints is the number of coarse samples in (Low, High].
	GridPoints int
	Tol        float64
	MaxIter    int
}

// Result reports the optimum and how many solves it took.
type Result struct {
	Point
	Evaluations int
	// Active is set when the constraint limits the optimum.
	Active bool
}

func DefaultBisection(variable string) *Bisection {
	return &Bisection{
		Variable:   variable,
		Low:        0,
		High:       1,
		GridPoints: 10,
		Tol:        1e-6,
		MaxIter:    60,
	}
}

func (b *Bisection) grid() []float64 {
	vals := make([]float64, b.GridPoints)
	step := (b.High - b.Low) / float64(b.GridPoints)
	for i := range vals {
		vals[i] = b.Low + step*float64(i+1)
	}
	vals[len(vals)-1] = b.High
	return vals
}

// Maximize runs the coarse grid, then bisects between the best feasible
// sample and its infeasible neighbour.
func (b *Bisection) Maximize(ctx context.Context, plant Plant, p Problem) (*Result, error) {
	if b.GridPoints < 1 || b.High <= b.Low {
		return nil, fmt.Errorf("optim: invalid bracket (%g, %g] with %d points", b.Low, b.High, b.GridPoints)
	}
	vals := b.grid()
	gs := NewGridSearch([]string{b.Variable}, [][]float64{vals})
	best, all, err := gs.Search(ctx, plant, p)
	if err != nil {
		return nil, err
	}
	res := &Result{Point: best, Evaluations: gs.Evaluations}

	lo := best.Params[b.Variable]
	hi := lo
	for i, pt := range all {
		if pt.Params[b.Variable] == lo && i+1 < len(all) {
			hi = all[i+1].Params[b.Variable]
			break
		}
	}
	if hi == lo {
		return res, nil
	}

	res.Active = true
	for i := 0; i < b.MaxIter && hi-lo > b.Tol; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mid := 0.5 * (lo + hi)
		res.Evaluations++
		pt, err := p.evaluate(ctx, plant, map[string]float64{b.Variable: mid})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			hi = mid
			continue
		}
		if pt.Feasible {
			lo = mid
			if pt.Objective >= res.Objective {
				res.Point = pt
			}
		} else {
			hi = mid
		}
	}

	// leave the plant at the reported optimum
	if _, err := p.evaluate(ctx, plant, res.Params); err != nil {
		return nil, err
	}
	res.Evaluations++
	return res, nil
}
