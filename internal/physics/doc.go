// Package physics provides the drivetrain components.
//
// Each component implements [dynamo.Explicit] (or [dynamo.Implicit] for the
// power balance) with hand-derived analytic partials:
//
//   - [Battery]: ideal source behind an internal resistance
//   - [ESC]: throttle-dependent efficiency and voltage/current scaling
//   - [Motor]: brushless DC motor with winding resistance and idle current
//   - [RubberMotor]: motor constants regressed from kv and mass
//   - [Propeller], [SurrogatePropeller]: closed-form or regression-backed thrust and power
//   - [PowerNet]: energy balance residual solving for the loop current
//
// Powers follow one sign convention: sources are positive, sinks negative.
//
// Components hold only calibration options, so a configured component may
// be evaluated concurrently.
package physics
