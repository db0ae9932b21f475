// Package optim wraps an outer design loop around a solvable plant. The
// loop only sets inputs, solves and reads outputs by port path.
package optim

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Plant is the set/get/solve surface of a drivetrain.
type Plant interface {
	Set(path string, value float64, unit string) error
	Get(path string, unit string) (float64, error)
	Solve(ctx context.Context) error
}

var ErrInfeasible = errors.New("optim: no feasible point")

// Problem maximises Objective subject to Constraint <= Limit. Guess values
// are written before every solve so each evaluation starts from the same
// initial point.
type Problem struct {
	Objective  string
	Constraint string
	Limit      float64
	Guess      map[string]float64
}

// Point is one evaluated design.
type Point struct {
	Params     map[string]float64
	Objective  float64
	Constraint float64
	Feasible   bool
}

func (p *Problem) evaluate(ctx context.Context, plant Plant, params map[string]float64) (Point, error) {
	for path, v := range params {
		if err := plant.Set(path, v, ""); err != nil {
			return Point{}, err
		}
	}
	for path, v := range p.Guess {
		if err := plant.Set(path, v, ""); err != nil {
			return Point{}, err
		}
	}
	if err := plant.Solve(ctx); err != nil {
		return Point{}, err
	}
	obj, err := plant.Get(p.Objective, "")
	if err != nil {
		return Point{}, err
	}
	con, err := plant.Get(p.Constraint, "")
	if err != nil {
		return Point{}, err
	}
	return Point{
		Params:     copyParams(params),
		Objective:  obj,
		Constraint: con,
		Feasible:   con <= p.Limit,
	}, nil
}

type GridSearch struct {
	paramNames []string
	ranges     [][]float64
	// Evaluations counts solves attempted by the last Search.
	Evaluations int
}

func NewGridSearch(params []string, ranges [][]float64) *GridSearch {
	return &GridSearch{paramNames: params, ranges: ranges}
}

// Search evaluates every grid point and returns the feasible one with the
// largest objective. Points whose solve fails are treated as infeasible;
// a canceled context aborts the search.
func (g *GridSearch) Search(ctx context.Context, plant Plant, p Problem) (Point, []Point, error) {
	if len(g.paramNames) != len(g.ranges) {
		return Point{}, nil, fmt.Errorf("optim: %d parameters but %d ranges", len(g.paramNames), len(g.ranges))
	}
	g.Evaluations = 0
	best := Point{Objective: math.Inf(-1)}
	var all []Point

	if err := g.searchRecursive(ctx, 0, make(map[string]float64), plant, &p, &best, &all); err != nil {
		return Point{}, all, err
	}
	if !best.Feasible {
		return Point{}, all, ErrInfeasible
	}
	return best, all, nil
}

func (g *GridSearch) searchRecursive(
	ctx context.Context,
	depth int,
	current map[string]float64,
	plant Plant,
	p *Problem,
	best *Point,
	all *[]Point,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if depth == len(g.paramNames) {
		g.Evaluations++
		pt, err := p.evaluate(ctx, plant, current)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			*all = append(*all, Point{Params: copyParams(current)})
			return nil
		}
		*all = append(*all, pt)
		if pt.Feasible && pt.Objective > best.Objective {
			*best = pt
		}
		return nil
	}

	paramName := g.paramNames[depth]
	for _, val := range g.ranges[depth] {
		newParams := copyParams(current)
		newParams[paramName] = val

		if err := g.searchRecursive(ctx, depth+1, newParams, plant, p, best, all); err != nil {
			return err
		}
	}
	return nil
}

func copyParams(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
