package graph

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/san-kum/propsim/internal/dynamo"
	"github.com/san-kum/propsim/internal/solver"
)

// fn is a single-output explicit component built from closures.
type fn struct {
	in      []dynamo.Port
	out     dynamo.Port
	f       func(in dynamo.Values) float64
	partial func(in dynamo.Values) map[string]float64
}

func (c *fn) Inputs() []dynamo.Port  { return c.in }
func (c *fn) Outputs() []dynamo.Port { return []dynamo.Port{c.out} }

func (c *fn) Compute(in dynamo.Values) (dynamo.Values, error) {
	return dynamo.Values{c.out.Name: c.f(in)}, nil
}

func (c *fn) Partials(in dynamo.Values) (dynamo.Partials, error) {
	p := dynamo.Partials{}
	for wrt, v := range c.partial(in) {
		p.Set(c.out.Name, wrt, v)
	}
	return p, nil
}

func square() *fn {
	return &fn{
		in:      []dynamo.Port{{Name: "u"}},
		out:     dynamo.Port{Name: "v"},
		f:       func(in dynamo.Values) float64 { return in["u"] * in["u"] },
		partial: func(in dynamo.Values) map[string]float64 { return map[string]float64{"u": 2 * in["u"]} },
	}
}

func affine() *fn {
	return &fn{
		in:      []dynamo.Port{{Name: "a"}, {Name: "b"}},
		out:     dynamo.Port{Name: "c", Units: "W"},
		f:       func(in dynamo.Values) float64 { return 3*in["a"] + in["b"] },
		partial: func(dynamo.Values) map[string]float64 { return map[string]float64{"a": 3, "b": 1} },
	}
}

// balance drives x until c equals target.
type balance struct{}

func (balance) Inputs() []dynamo.Port {
	return []dynamo.Port{{Name: "c", Units: "W"}, {Name: "target", Units: "W"}}
}
func (balance) Outputs() []dynamo.Port { return []dynamo.Port{{Name: "x"}} }

func (balance) Residual(in, out dynamo.Values) (dynamo.Values, error) {
	return dynamo.Values{"x": in["c"] - in["target"]}, nil
}

func (balance) Partials(in, out dynamo.Values) (dynamo.Partials, error) {
	p := dynamo.Partials{}
	p.Set("x", "c", 1)
	p.Set("x", "target", -1)
	return p, nil
}

// quadratic wires 3x^2 + x = target, with components registered out of
// dependency order.
func quadratic(t *testing.T) *Graph {
	t.Helper()
	g := New()
	for _, c := range []struct {
		name string
		comp dynamo.Component
	}{
		{"affine", affine()},
		{"square", square()},
		{"balance", balance{}},
	} {
		if err := g.AddComponent(c.name, c.comp); err != nil {
			t.Fatalf("add %s: %v", c.name, err)
		}
	}
	must(t, g.Connect("balance.x", "square.u", "affine.b"))
	must(t, g.Connect("square.v", "affine.a"))
	must(t, g.Connect("affine.c", "balance.c"))
	must(t, g.Set("balance.target", 10))
	must(t, g.Set("balance.x", 1))
	return g
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func TestAssemble_OrderAndState(t *testing.T) {
	g := quadratic(t)
	must(t, g.Assemble())

	if len(g.order) != 2 || g.order[0].name != "square" || g.order[1].name != "affine" {
		t.Errorf("evaluation order: %v", g.order)
	}
	if g.StateDim() != 1 || g.StatePaths()[0] != "balance.x" {
		t.Errorf("state layout: %v", g.StatePaths())
	}

	must(t, g.Evaluate())
	c, err := g.Get("affine.c")
	must(t, err)
	if c != 4 {
		t.Errorf("affine.c = %v, want 4 at x=1", c)
	}
}

func TestLinearize_MatchesFiniteDifference(t *testing.T) {
	g := quadratic(t)
	must(t, g.Assemble())

	for _, x := range []float64{-2, 0.3, 1, 4.5} {
		g.SetState(dynamo.State{x})
		r, jac, err := g.Linearize()
		must(t, err)
		if want := 3*x*x + x - 10; math.Abs(r[0]-want) > 1e-12 {
			t.Errorf("residual at %v = %v, want %v", x, r[0], want)
		}

		h := 1e-6
		g.SetState(dynamo.State{x + h})
		up, err := g.Residual()
		must(t, err)
		g.SetState(dynamo.State{x - h})
		dn, err := g.Residual()
		must(t, err)
		fd := (up[0] - dn[0]) / (2 * h)
		if math.Abs(jac.At(0, 0)-fd) > 1e-6*math.Max(1, math.Abs(fd)) {
			t.Errorf("jacobian at %v = %v, finite difference %v", x, jac.At(0, 0), fd)
		}
	}
}

func TestSolve(t *testing.T) {
	g := quadratic(t)
	res, err := g.Solve(context.Background(), solver.New(solver.DefaultConfig(), nil))
	if err != nil {
		t.Fatalf("solve failed: %v", err)
	}
	x, err := g.Get("balance.x")
	must(t, err)
	if math.Abs(x-5.0/3.0) > 1e-9 {
		t.Errorf("x = %v, want 5/3", x)
	}
	if res.Residual > 1e-8 {
		t.Errorf("residual %v", res.Residual)
	}
	// connected inputs read through to their source
	u, err := g.Get("square.u")
	must(t, err)
	if u != x {
		t.Errorf("square.u = %v, balance.x = %v", u, x)
	}
}

func TestAssemble_Errors(t *testing.T) {
	tests := []struct {
		name  string
		build func(g *Graph) error
		want  error
	}{
		{"duplicate binding", func(g *Graph) error {
			return g.Connect("square.v", "affine.b")
		}, dynamo.ErrDuplicateBinding},
		{"unknown component", func(g *Graph) error {
			return g.Connect("nope.v", "affine.b")
		}, dynamo.ErrUnknownPort},
		{"unknown port", func(g *Graph) error {
			return g.Connect("square.w", "affine.b")
		}, dynamo.ErrUnknownPort},
		{"output as target", func(g *Graph) error {
			return g.Connect("square.v", "affine.c")
		}, dynamo.ErrGraphAssembly},
		{"input as source", func(g *Graph) error {
			return g.Connect("square.u", "balance.target")
		}, dynamo.ErrGraphAssembly},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := quadratic(t)
			if err := tt.build(g); err != nil {
				t.Fatalf("build failed: %v", err)
			}
			err := g.Assemble()
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if !errors.Is(err, dynamo.ErrGraphAssembly) {
				t.Errorf("error %v is not an assembly error", err)
			}
		})
	}
}

func TestAssemble_UnitMismatch(t *testing.T) {
	g := New()
	must(t, g.AddComponent("volts", &fn{
		in:      []dynamo.Port{{Name: "k"}},
		out:     dynamo.Port{Name: "v", Units: "V"},
		f:       func(in dynamo.Values) float64 { return in["k"] },
		partial: func(dynamo.Values) map[string]float64 { return map[string]float64{"k": 1} },
	}))
	must(t, g.AddComponent("balance", balance{}))
	must(t, g.Connect("volts.v", "balance.c"))
	must(t, g.Set("volts.k", 1))
	must(t, g.Set("balance.target", 1))
	if err := g.Assemble(); !errors.Is(err, dynamo.ErrUnitMismatch) {
		t.Errorf("expected unit mismatch, got %v", err)
	}
}

func TestAssemble_UnresolvedInput(t *testing.T) {
	g := New()
	must(t, g.AddComponent("square", square()))
	if err := g.Assemble(); !errors.Is(err, dynamo.ErrUnresolvedInput) {
		t.Errorf("expected unresolved input, got %v", err)
	}
}

func TestAssemble_SetAndConnected(t *testing.T) {
	g := quadratic(t)
	must(t, g.Set("square.u", 2))
	if err := g.Assemble(); !errors.Is(err, dynamo.ErrDuplicateBinding) {
		t.Errorf("expected duplicate binding, got %v", err)
	}
}

func TestAssemble_AlgebraicLoop(t *testing.T) {
	g := New()
	must(t, g.AddComponent("a", square()))
	must(t, g.AddComponent("b", square()))
	must(t, g.Connect("a.v", "b.u"))
	must(t, g.Connect("b.v", "a.u"))
	if err := g.Assemble(); !errors.Is(err, dynamo.ErrAlgebraicLoop) {
		t.Errorf("expected algebraic loop, got %v", err)
	}
}

func TestAssembled_IsFrozen(t *testing.T) {
	g := quadratic(t)
	must(t, g.Assemble())
	if err := g.AddComponent("late", square()); !errors.Is(err, dynamo.ErrGraphAssembly) {
		t.Errorf("expected error adding after assembly, got %v", err)
	}
	if err := g.Connect("square.v", "balance.target"); !errors.Is(err, dynamo.ErrGraphAssembly) {
		t.Errorf("expected error connecting after assembly, got %v", err)
	}
	if err := g.Set("affine.a", 1); !errors.Is(err, dynamo.ErrDuplicateBinding) {
		t.Errorf("expected error setting a connected input, got %v", err)
	}
	if err := g.Set("affine.c", 1); !errors.Is(err, dynamo.ErrGraphAssembly) {
		t.Errorf("expected error setting a computed output, got %v", err)
	}
}

func TestAddComponent_Errors(t *testing.T) {
	g := New()
	must(t, g.AddComponent("square", square()))
	for _, name := range []string{"", "a.b", "square"} {
		if err := g.AddComponent(name, square()); !errors.Is(err, dynamo.ErrGraphAssembly) {
			t.Errorf("name %q: expected assembly error, got %v", name, err)
		}
	}
}

func TestSetGetUnits(t *testing.T) {
	g := quadratic(t)
	must(t, g.SetVal("balance.target", 0.01, "kW"))
	v, err := g.GetVal("balance.target", "W")
	must(t, err)
	if math.Abs(v-10) > 1e-12 {
		t.Errorf("target = %v W, want 10", v)
	}
	if _, err := g.GetVal("balance.target", "V"); !errors.Is(err, dynamo.ErrUnitMismatch) {
		t.Errorf("expected unit mismatch, got %v", err)
	}
	if err := g.SetVal("balance.target", 1, "furlong"); !errors.Is(err, dynamo.ErrUnitMismatch) {
		t.Errorf("expected unit mismatch for unknown unit, got %v", err)
	}
	if _, err := g.Get("balance"); !errors.Is(err, dynamo.ErrUnknownPort) {
		t.Errorf("expected malformed path error, got %v", err)
	}
}

func TestConnectionUnitConversion(t *testing.T) {
	g := New()
	must(t, g.AddComponent("winding", &fn{
		in:      []dynamo.Port{{Name: "k"}},
		out:     dynamo.Port{Name: "r", Units: "mohm"},
		f:       func(in dynamo.Values) float64 { return in["k"] },
		partial: func(dynamo.Values) map[string]float64 { return map[string]float64{"k": 1} },
	}))
	must(t, g.AddComponent("load", &fn{
		in:      []dynamo.Port{{Name: "r", Units: "ohm"}},
		out:     dynamo.Port{Name: "y"},
		f:       func(in dynamo.Values) float64 { return in["r"] },
		partial: func(dynamo.Values) map[string]float64 { return map[string]float64{"r": 1} },
	}))
	must(t, g.Connect("winding.r", "load.r"))
	must(t, g.Set("winding.k", 26.3))
	must(t, g.Assemble())
	must(t, g.Evaluate())

	y, err := g.Get("load.y")
	must(t, err)
	if math.Abs(y-0.0263) > 1e-15 {
		t.Errorf("load.y = %v, want 0.0263", y)
	}
	snap := g.Snapshot()
	if snap["winding.r"] != 26.3 || math.Abs(snap["load.r"]-0.0263) > 1e-15 {
		t.Errorf("snapshot %v", snap)
	}
}

type picky struct{ square *fn }

func (p picky) Inputs() []dynamo.Port  { return p.square.Inputs() }
func (p picky) Outputs() []dynamo.Port { return p.square.Outputs() }
func (p picky) Compute(in dynamo.Values) (dynamo.Values, error) {
	return p.square.Compute(in)
}
func (p picky) Partials(in dynamo.Values) (dynamo.Partials, error) {
	return p.square.Partials(in)
}
func (p picky) CheckDomain(in dynamo.Values) error {
	if u, ok := in["u"]; ok && u < 0 {
		return fmt.Errorf("%w: u=%v", dynamo.ErrComponentDomain, u)
	}
	return nil
}

func TestSolve_DomainCheckedFirst(t *testing.T) {
	g := New()
	must(t, g.AddComponent("p", picky{square()}))
	must(t, g.Set("p.u", -1))
	_, err := g.Solve(context.Background(), solver.New(solver.DefaultConfig(), nil))
	if !errors.Is(err, dynamo.ErrComponentDomain) {
		t.Fatalf("expected domain error, got %v", err)
	}
	// nothing was evaluated
	if v, _ := g.Get("p.v"); v != 0 {
		t.Errorf("p.v = %v, component ran before the domain check", v)
	}
}
