package dynamo

import (
	"fmt"
	"math"
	"sort"
)

type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// InfNorm returns the largest absolute entry.
func (s State) InfNorm() float64 {
	m := 0.0
	for _, v := range s {
		if a := math.Abs(v); a > m || math.IsNaN(a) {
			m = a
		}
	}
	return m
}

func (s State) Add(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] + other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

func (s State) Scale(factor float64) State {
	result := make(State, len(s))
	for i := range s {
		result[i] = s[i] * factor
	}
	return result
}

// Port is a named scalar with a physical unit tag.
type Port struct {
	Name  string
	Units string
}

// Values maps port names to their current numeric values.
type Values map[string]float64

// Require returns the named value or an error naming the missing port.
func (v Values) Require(names ...string) error {
	for _, n := range names {
		if _, ok := v[n]; !ok {
			return fmt.Errorf("missing value for %q", n)
		}
	}
	return nil
}

// Pair identifies one partial derivative d(Of)/d(Wrt).
type Pair struct {
	Of  string
	Wrt string
}

// Partials holds the declared nonzero partial derivatives of a component.
// Undeclared pairs are zero.
type Partials map[Pair]float64

func (p Partials) Set(of, wrt string, v float64) { p[Pair{Of: of, Wrt: wrt}] = v }

func (p Partials) Get(of, wrt string) float64 { return p[Pair{Of: of, Wrt: wrt}] }

// Component is anything with declared input and output ports.
type Component interface {
	Inputs() []Port
	Outputs() []Port
}

// Explicit components compute outputs directly from inputs.
type Explicit interface {
	Component
	Compute(in Values) (Values, error)
	Partials(in Values) (Partials, error)
}

// Implicit components define one residual per output; the outputs are
// unknowns the solver adjusts until every residual vanishes. Residuals are
// keyed by the name of the output they close.
type Implicit interface {
	Component
	Residual(in, out Values) (Values, error)
	// Partials returns derivatives of residuals with respect to both inputs
	// and outputs.
	Partials(in, out Values) (Partials, error)
}

// DomainChecker is implemented by components that can reject inputs before
// any evaluation takes place.
type DomainChecker interface {
	CheckDomain(in Values) error
}

type Configurable interface {
	GetParams() map[string]float64
	SetParam(name string, value float64) error
}

// Configure applies params to c in name order and stops at the first
// name c does not know.
func Configure(c Configurable, params map[string]float64) error {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := c.SetParam(name, params[name]); err != nil {
			return err
		}
	}
	return nil
}
