// Package dynamo provides the core primitives shared by every drivetrain component.
//
// The package defines the fundamental interfaces and types for composing
// physics components into a coupled nonlinear system:
//
//   - [State]: vector of unknowns driven by the Newton solver
//   - [Port]: named, unit-tagged scalar consumed or produced by a component
//   - [Explicit]: component computing outputs (and analytic partials) from inputs
//   - [Implicit]: component defining residuals whose outputs are solved for
//   - [Configurable]: runtime access to fixed calibration options
//
// # Example
//
//	esc := physics.NewESC()
//	out, err := esc.Compute(dynamo.Values{"voltage_in": 22, "current_in": 40, "throttle": 0.8})
//	partials, err := esc.Partials(in)
//
// # Thread Safety
//
// Components are stateless once configured and may be evaluated from
// several goroutines. Graphs built from them are NOT thread-safe; each
// worker must own its own graph.
package dynamo
