package graph

import (
	"context"

	"github.com/san-kum/propsim/internal/solver"
)

// Solve assembles the graph if needed, vets every component's external
// inputs and then drives the unknowns to a consistent operating point. On
// return every port holds the values of the last evaluation.
func (g *Graph) Solve(ctx context.Context, s *solver.Newton) (*solver.Result, error) {
	if err := g.Assemble(); err != nil {
		return nil, err
	}
	if err := g.CheckDomain(); err != nil {
		return nil, err
	}
	return s.Solve(ctx, g)
}
