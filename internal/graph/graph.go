// Package graph wires drivetrain components into one coupled nonlinear
// system.
//
// Components are added by name and connected port to port. [Graph.Assemble]
// validates the wiring once; afterwards the unknowns are the outputs of the
// implicit components, explicit components are evaluated in dependency
// order and the Jacobian of every residual with respect to every unknown is
// assembled by propagating analytic partials forward along connections.
//
// A Graph is not safe for concurrent use. Run independent solves on
// independent graphs.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/propsim/internal/dynamo"
	"github.com/san-kum/propsim/internal/units"
)

// PortRef addresses one port as component.port.
type PortRef struct {
	Node string
	Port string
}

func (r PortRef) String() string { return r.Node + "." + r.Port }

// ParsePath splits "component.port".
func ParsePath(path string) (PortRef, error) {
	node, port, ok := strings.Cut(path, ".")
	if !ok || node == "" || port == "" {
		return PortRef{}, fmt.Errorf("%w: malformed port path %q", dynamo.ErrUnknownPort, path)
	}
	return PortRef{Node: node, Port: port}, nil
}

type node struct {
	name     string
	explicit dynamo.Explicit
	implicit dynamo.Implicit
	inputs   []dynamo.Port
	outputs  []dynamo.Port
}

func (n *node) comp() dynamo.Component {
	if n.explicit != nil {
		return n.explicit
	}
	return n.implicit
}

func findPort(ports []dynamo.Port, name string) (dynamo.Port, bool) {
	for _, p := range ports {
		if p.Name == name {
			return p, true
		}
	}
	return dynamo.Port{}, false
}

type connection struct {
	src, dst PortRef
}

// binding is a validated connection with its unit conversion factor.
type binding struct {
	src    PortRef
	factor float64
}

type Graph struct {
	nodes []*node
	index map[string]*node
	conns []connection

	values map[PortRef]float64
	set    map[PortRef]bool

	assembled bool
	bound     map[PortRef]binding
	order     []*node
	implicit  []*node
	state     []PortRef
}

func New() *Graph {
	return &Graph{
		index:  make(map[string]*node),
		values: make(map[PortRef]float64),
		set:    make(map[PortRef]bool),
	}
}

// AddComponent registers c under name. c must implement [dynamo.Explicit]
// or [dynamo.Implicit].
func (g *Graph) AddComponent(name string, c dynamo.Component) error {
	if g.assembled {
		return fmt.Errorf("%w: cannot add %s after assembly", dynamo.ErrGraphAssembly, name)
	}
	if name == "" || strings.Contains(name, ".") {
		return fmt.Errorf("%w: invalid component name %q", dynamo.ErrGraphAssembly, name)
	}
	if _, ok := g.index[name]; ok {
		return fmt.Errorf("%w: component %s already exists", dynamo.ErrGraphAssembly, name)
	}

	n := &node{name: name, inputs: c.Inputs(), outputs: c.Outputs()}
	switch v := c.(type) {
	case dynamo.Explicit:
		n.explicit = v
	case dynamo.Implicit:
		n.implicit = v
	default:
		return fmt.Errorf("%w: component %s is neither explicit nor implicit", dynamo.ErrGraphAssembly, name)
	}
	g.nodes = append(g.nodes, n)
	g.index[name] = n
	return nil
}

// Component returns the component registered under name.
func (g *Graph) Component(name string) (dynamo.Component, bool) {
	n, ok := g.index[name]
	if !ok {
		return nil, false
	}
	return n.comp(), true
}

// Connect binds an output to one or more inputs. Port validity is checked
// by Assemble.
func (g *Graph) Connect(src string, dsts ...string) error {
	if g.assembled {
		return fmt.Errorf("%w: cannot connect %s after assembly", dynamo.ErrGraphAssembly, src)
	}
	s, err := ParsePath(src)
	if err != nil {
		return err
	}
	for _, dst := range dsts {
		d, err := ParsePath(dst)
		if err != nil {
			return err
		}
		g.conns = append(g.conns, connection{src: s, dst: d})
	}
	return nil
}

func (g *Graph) lookup(ref PortRef) (n *node, p dynamo.Port, isInput bool, err error) {
	n, ok := g.index[ref.Node]
	if !ok {
		return nil, dynamo.Port{}, false, fmt.Errorf("%w: no component %q", dynamo.ErrUnknownPort, ref.Node)
	}
	if p, ok := findPort(n.inputs, ref.Port); ok {
		return n, p, true, nil
	}
	if p, ok := findPort(n.outputs, ref.Port); ok {
		return n, p, false, nil
	}
	return nil, dynamo.Port{}, false, fmt.Errorf("%w: %s has no port %q", dynamo.ErrUnknownPort, ref.Node, ref.Port)
}

// Assemble validates every binding, fixes the evaluation order and the
// layout of the state vector.
func (g *Graph) Assemble() error {
	if g.assembled {
		return nil
	}

	bound := make(map[PortRef]binding, len(g.conns))
	for _, c := range g.conns {
		srcNode, srcPort, srcIsInput, err := g.lookup(c.src)
		if err != nil {
			return err
		}
		if srcIsInput {
			return fmt.Errorf("%w: connection source %s is an input", dynamo.ErrGraphAssembly, c.src)
		}
		_, dstPort, dstIsInput, err := g.lookup(c.dst)
		if err != nil {
			return err
		}
		if !dstIsInput {
			return fmt.Errorf("%w: connection target %s is an output", dynamo.ErrGraphAssembly, c.dst)
		}
		if prev, ok := bound[c.dst]; ok {
			return fmt.Errorf("%w: %s is bound to both %s and %s", dynamo.ErrDuplicateBinding, c.dst, prev.src, c.src)
		}
		if g.set[c.dst] {
			return fmt.Errorf("%w: %s is both connected to %s and set externally", dynamo.ErrDuplicateBinding, c.dst, c.src)
		}
		factor, err := units.Convert(1, srcPort.Units, dstPort.Units)
		if err != nil {
			return fmt.Errorf("connecting %s to %s: %w", c.src, c.dst, err)
		}
		if srcNode.explicit != nil && srcNode.name == c.dst.Node {
			return fmt.Errorf("%w: %s feeds its own input %s", dynamo.ErrAlgebraicLoop, c.src, c.dst)
		}
		bound[c.dst] = binding{src: c.src, factor: factor}
	}

	for _, n := range g.nodes {
		for _, p := range n.inputs {
			ref := PortRef{Node: n.name, Port: p.Name}
			if _, ok := bound[ref]; !ok && !g.set[ref] {
				return fmt.Errorf("%w: %s is neither connected nor set", dynamo.ErrUnresolvedInput, ref)
			}
		}
	}

	order, err := g.topoSort(bound)
	if err != nil {
		return err
	}

	g.bound = bound
	g.order = order
	g.implicit = nil
	g.state = nil
	for _, n := range g.nodes {
		if n.implicit == nil {
			continue
		}
		g.implicit = append(g.implicit, n)
		for _, p := range n.outputs {
			g.state = append(g.state, PortRef{Node: n.name, Port: p.Name})
		}
	}
	g.assembled = true
	return nil
}

// topoSort orders the explicit components so that every component runs
// after the explicit components feeding it. Implicit outputs are unknowns
// and break dependency chains.
func (g *Graph) topoSort(bound map[PortRef]binding) ([]*node, error) {
	deps := make(map[string]map[string]bool)
	indeg := make(map[string]int)
	var explicit []*node
	for _, n := range g.nodes {
		if n.explicit != nil {
			explicit = append(explicit, n)
			indeg[n.name] = 0
		}
	}
	for dst, b := range bound {
		src := g.index[b.src.Node]
		to := g.index[dst.Node]
		if src.explicit == nil || to.explicit == nil {
			continue
		}
		if deps[src.name] == nil {
			deps[src.name] = make(map[string]bool)
		}
		if !deps[src.name][to.name] {
			deps[src.name][to.name] = true
			indeg[to.name]++
		}
	}

	var order []*node
	done := make(map[string]bool)
	for len(order) < len(explicit) {
		progressed := false
		// registration order keeps the result deterministic
		for _, n := range explicit {
			if done[n.name] || indeg[n.name] > 0 {
				continue
			}
			done[n.name] = true
			order = append(order, n)
			progressed = true
			for to := range deps[n.name] {
				indeg[to]--
			}
		}
		if !progressed {
			var stuck []string
			for _, n := range explicit {
				if !done[n.name] {
					stuck = append(stuck, n.name)
				}
			}
			sort.Strings(stuck)
			return nil, fmt.Errorf("%w: %s", dynamo.ErrAlgebraicLoop, strings.Join(stuck, ", "))
		}
	}
	return order, nil
}

// Set assigns a value in the port's own unit.
func (g *Graph) Set(path string, value float64) error {
	return g.SetVal(path, value, "")
}

// SetVal assigns an independent input, or the current guess of an
// implicit unknown, converting from unit. An empty unit means the port's
// own unit.
func (g *Graph) SetVal(path string, value float64, unit string) error {
	ref, err := ParsePath(path)
	if err != nil {
		return err
	}
	n, p, isInput, err := g.lookup(ref)
	if err != nil {
		return err
	}
	if !isInput && n.implicit == nil {
		return fmt.Errorf("%w: %s is a computed output", dynamo.ErrGraphAssembly, ref)
	}
	if g.assembled && isInput {
		if b, ok := g.bound[ref]; ok {
			return fmt.Errorf("%w: %s is connected to %s", dynamo.ErrDuplicateBinding, ref, b.src)
		}
	}
	if unit != "" {
		if value, err = units.Convert(value, unit, p.Units); err != nil {
			return fmt.Errorf("setting %s: %w", ref, err)
		}
	}
	g.values[ref] = value
	if isInput {
		g.set[ref] = true
	}
	return nil
}

// Get reads a value in the port's own unit.
func (g *Graph) Get(path string) (float64, error) {
	return g.GetVal(path, "")
}

// GetVal reads the latest value of any port, converted to unit.
func (g *Graph) GetVal(path string, unit string) (float64, error) {
	ref, err := ParsePath(path)
	if err != nil {
		return 0, err
	}
	_, p, _, err := g.lookup(ref)
	if err != nil {
		return 0, err
	}
	v := g.value(ref)
	if unit == "" {
		return v, nil
	}
	out, err := units.Convert(v, p.Units, unit)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", ref, err)
	}
	return out, nil
}

// value resolves connected inputs to their source.
func (g *Graph) value(ref PortRef) float64 {
	if b, ok := g.bound[ref]; ok {
		return g.values[b.src] * b.factor
	}
	return g.values[ref]
}

// Snapshot returns every port value keyed by path.
func (g *Graph) Snapshot() map[string]float64 {
	out := make(map[string]float64)
	for _, n := range g.nodes {
		for _, p := range n.inputs {
			ref := PortRef{Node: n.name, Port: p.Name}
			out[ref.String()] = g.value(ref)
		}
		for _, p := range n.outputs {
			ref := PortRef{Node: n.name, Port: p.Name}
			out[ref.String()] = g.value(ref)
		}
	}
	return out
}

// StateDim returns the number of implicit unknowns.
func (g *Graph) StateDim() int { return len(g.state) }

// StatePaths names the unknowns in state vector order.
func (g *Graph) StatePaths() []string {
	paths := make([]string, len(g.state))
	for i, ref := range g.state {
		paths[i] = ref.String()
	}
	return paths
}

func (g *Graph) State() dynamo.State {
	s := make(dynamo.State, len(g.state))
	for i, ref := range g.state {
		s[i] = g.values[ref]
	}
	return s
}

func (g *Graph) SetState(s dynamo.State) {
	for i, ref := range g.state {
		if i < len(s) {
			g.values[ref] = s[i]
		}
	}
}

func (g *Graph) inputs(n *node) dynamo.Values {
	in := make(dynamo.Values, len(n.inputs))
	for _, p := range n.inputs {
		in[p.Name] = g.value(PortRef{Node: n.name, Port: p.Name})
	}
	return in
}

func (g *Graph) outputs(n *node) dynamo.Values {
	out := make(dynamo.Values, len(n.outputs))
	for _, p := range n.outputs {
		out[p.Name] = g.values[PortRef{Node: n.name, Port: p.Name}]
	}
	return out
}

// CheckDomain lets every component vet its externally set inputs before
// any evaluation.
func (g *Graph) CheckDomain() error {
	for _, n := range g.nodes {
		dc, ok := n.comp().(dynamo.DomainChecker)
		if !ok {
			continue
		}
		free := make(dynamo.Values)
		for _, p := range n.inputs {
			ref := PortRef{Node: n.name, Port: p.Name}
			if _, connected := g.bound[ref]; !connected && g.set[ref] {
				free[p.Name] = g.values[ref]
			}
		}
		if err := dc.CheckDomain(free); err != nil {
			return fmt.Errorf("%s: %w", n.name, err)
		}
	}
	return nil
}

// Residual evaluates the graph at the current state and returns the
// residual vector, ordered like the state.
func (g *Graph) Residual() (dynamo.State, error) {
	r, _, err := g.evaluate(false)
	return r, err
}

// Linearize evaluates the graph and assembles d(residual)/d(state).
func (g *Graph) Linearize() (dynamo.State, *mat.Dense, error) {
	return g.evaluate(true)
}

// Evaluate runs every component once at the current state.
func (g *Graph) Evaluate() error {
	_, _, err := g.evaluate(false)
	return err
}

func (g *Graph) evaluate(jacobian bool) (dynamo.State, *mat.Dense, error) {
	if !g.assembled {
		return nil, nil, fmt.Errorf("%w: graph not assembled", dynamo.ErrGraphAssembly)
	}
	m := len(g.state)

	// sens[p] is d(p)/d(state); nil means zero
	var sens map[PortRef][]float64
	if jacobian {
		sens = make(map[PortRef][]float64)
		for k, ref := range g.state {
			e := make([]float64, m)
			e[k] = 1
			sens[ref] = e
		}
	}
	sensOf := func(ref PortRef) ([]float64, float64) {
		if b, ok := g.bound[ref]; ok {
			return sens[b.src], b.factor
		}
		return sens[ref], 1
	}

	for _, n := range g.order {
		in := g.inputs(n)
		out, err := n.explicit.Compute(in)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", n.name, err)
		}
		for _, p := range n.outputs {
			v, ok := out[p.Name]
			if !ok {
				return nil, nil, fmt.Errorf("%w: %s did not produce %s", dynamo.ErrGraphAssembly, n.name, p.Name)
			}
			g.values[PortRef{Node: n.name, Port: p.Name}] = v
		}
		if !jacobian {
			continue
		}

		partials, err := n.explicit.Partials(in)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", n.name, err)
		}
		for _, op := range n.outputs {
			acc := make([]float64, m)
			for _, ip := range n.inputs {
				d := partials.Get(op.Name, ip.Name)
				s, f := sensOf(PortRef{Node: n.name, Port: ip.Name})
				if d == 0 || s == nil {
					continue
				}
				for k := range acc {
					acc[k] += d * f * s[k]
				}
			}
			sens[PortRef{Node: n.name, Port: op.Name}] = acc
		}
	}

	r := make(dynamo.State, 0, m)
	var jac *mat.Dense
	if jacobian && m > 0 {
		jac = mat.NewDense(m, m, nil)
	}
	for _, n := range g.implicit {
		in, out := g.inputs(n), g.outputs(n)
		res, err := n.implicit.Residual(in, out)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", n.name, err)
		}
		var partials dynamo.Partials
		if jacobian {
			if partials, err = n.implicit.Partials(in, out); err != nil {
				return nil, nil, fmt.Errorf("%s: %w", n.name, err)
			}
		}
		for _, op := range n.outputs {
			v, ok := res[op.Name]
			if !ok {
				return nil, nil, fmt.Errorf("%w: %s has no residual for %s", dynamo.ErrGraphAssembly, n.name, op.Name)
			}
			row := len(r)
			r = append(r, v)
			if !jacobian {
				continue
			}
			wrt := append(append([]dynamo.Port(nil), n.inputs...), n.outputs...)
			for _, p := range wrt {
				d := partials.Get(op.Name, p.Name)
				s, f := sensOf(PortRef{Node: n.name, Port: p.Name})
				if d == 0 || s == nil {
					continue
				}
				for k := 0; k < m; k++ {
					jac.Set(row, k, jac.At(row, k)+d*f*s[k])
				}
			}
		}
	}
	return r, jac, nil
}
