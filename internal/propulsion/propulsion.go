// Package propulsion assembles the electric drivetrain: battery, speed
// controller, motor and propeller closed by the power balance.
//
// A [Drivetrain] exposes only set, get and solve by port path, which is the
// surface outer loops such as the throttle optimizer work through.
package propulsion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/san-kum/propsim/internal/config"
	"github.com/san-kum/propsim/internal/dynamo"
	"github.com/san-kum/propsim/internal/graph"
	"github.com/san-kum/propsim/internal/logging"
	"github.com/san-kum/propsim/internal/physics"
	"github.com/san-kum/propsim/internal/solver"
)

// Port paths of the drivetrain.
const (
	Throttle      = "esc.throttle"
	Velocity      = "prop.velocity"
	Current       = "power_net.current"
	Thrust        = "prop.thrust"
	BatteryPower  = "battery.power"
	VoltageSupply = "battery.voltage_supply"
)

type Drivetrain struct {
	Variant string
	graph   *graph.Graph
	newton  *solver.Newton
	log     *slog.Logger

	initialCurrent float64
	last           *solver.Result
}

// AnalyticPropeller returns the closed-form propeller with params applied
// over its default coefficients.
func AnalyticPropeller(params map[string]float64) (dynamo.Explicit, error) {
	p := physics.NewPropeller()
	if err := dynamo.Configure(p, params); err != nil {
		return nil, fmt.Errorf("%w: prop: %v", dynamo.ErrGraphAssembly, err)
	}
	return p, nil
}

// New builds the drivetrain variant named by cfg around prop.
func New(cfg *config.Config, prop dynamo.Explicit, logger *slog.Logger) (*Drivetrain, error) {
	switch cfg.Variant {
	case config.VariantElectric:
		return NewElectricPropulsion(cfg, prop, logger)
	case config.VariantRubber:
		return NewRubberElectricPropulsion(cfg, prop, logger)
	default:
		return nil, fmt.Errorf("%w: unknown variant %q", dynamo.ErrGraphAssembly, cfg.Variant)
	}
}

// NewElectricPropulsion wires battery, controller, motor, propeller and the
// power balance with the motor constants taken from cfg.
func NewElectricPropulsion(cfg *config.Config, prop dynamo.Explicit, logger *slog.Logger) (*Drivetrain, error) {
	return build(config.VariantElectric, cfg, prop, logger, nil)
}

// NewRubberElectricPropulsion derives the motor constants from kv and mass
// through a RubberMotor.
func NewRubberElectricPropulsion(cfg *config.Config, prop dynamo.Explicit, logger *slog.Logger) (*Drivetrain, error) {
	return build(config.VariantRubber, cfg, prop, logger, func(g *graph.Graph) error {
		rubber := physics.NewRubberMotor()
		if err := dynamo.Configure(rubber, cfg.Rubber.Coefficients); err != nil {
			return fmt.Errorf("%w: rubber_motor: %v", dynamo.ErrGraphAssembly, err)
		}
		if err := g.AddComponent("rubber_motor", rubber); err != nil {
			return err
		}
		links := [][2]string{
			{"rubber_motor.kv_out", "motor.kv"},
			{"rubber_motor.resistance", "motor.resistance"},
			{"rubber_motor.idle_current", "motor.idle_current"},
		}
		for _, l := range links {
			if err := g.Connect(l[0], l[1]); err != nil {
				return err
			}
		}
		return setAll(g, []setting{
			{"rubber_motor.kv", cfg.Rubber.Kv, "rpm/V"},
			{"rubber_motor.mass", cfg.Rubber.Mass, cfg.Rubber.MassUnits},
		})
	})
}

type setting struct {
	path  string
	value float64
	unit  string
}

func setAll(g *graph.Graph, settings []setting) error {
	for _, s := range settings {
		if err := g.SetVal(s.path, s.value, s.unit); err != nil {
			return err
		}
	}
	return nil
}

func build(variant string, cfg *config.Config, prop dynamo.Explicit, logger *slog.Logger, extend func(*graph.Graph) error) (*Drivetrain, error) {
	logger = logging.OrDiscard(logger)
	if prop == nil {
		var err error
		if prop, err = AnalyticPropeller(cfg.Prop.Coefficients); err != nil {
			return nil, err
		}
	}
	esc := physics.NewESC()
	if err := dynamo.Configure(esc, cfg.ESC.Params()); err != nil {
		return nil, fmt.Errorf("%w: esc: %v", dynamo.ErrGraphAssembly, err)
	}
	logger.Debug("esc coefficients", "variant", variant, "params", esc.GetParams())

	g := graph.New()
	components := []struct {
		name string
		comp dynamo.Component
	}{
		{"battery", physics.NewBattery()},
		{"esc", esc},
		{"motor", physics.NewMotor()},
		{"prop", prop},
		{"power_net", physics.NewPowerNet()},
	}
	for _, c := range components {
		if err := g.AddComponent(c.name, c.comp); err != nil {
			return nil, err
		}
	}

	connections := []struct {
		src  string
		dsts []string
	}{
		{"battery.voltage_out", []string{"esc.voltage_in"}},
		{"esc.voltage_out", []string{"motor.voltage_in"}},
		{"esc.current_out", []string{"motor.current"}},
		{"motor.rpm", []string{"prop.rpm"}},
		{"battery.power", []string{"power_net.power_batt"}},
		{"esc.power", []string{"power_net.power_esc"}},
		{"motor.power", []string{"power_net.power_motor"}},
		{"prop.power", []string{"power_net.power_prop"}},
		{"power_net.current", []string{"battery.current", "esc.current_in"}},
	}
	for _, c := range connections {
		if err := g.Connect(c.src, c.dsts...); err != nil {
			return nil, err
		}
	}

	settings := []setting{
		{VoltageSupply, cfg.Battery.VoltageSupply, "V"},
		{"battery.resistance", cfg.Battery.Resistance, "ohm"},
		{Throttle, cfg.ESC.Throttle, ""},
		{"prop.diameter", cfg.Prop.Diameter, "inch"},
		{"prop.pitch", cfg.Prop.Pitch, "inch"},
		{Velocity, 0, "m/s"},
		{Current, cfg.Sweep.InitialCurrent, "A"},
	}
	if variant == config.VariantElectric {
		settings = append(settings,
			setting{"motor.kv", cfg.Motor.Kv, "rpm/V"},
			setting{"motor.idle_current", cfg.Motor.IdleCurrent, "A"},
			setting{"motor.resistance", cfg.Motor.Resistance, cfg.Motor.ResistanceUnits},
		)
	}
	if err := setAll(g, settings); err != nil {
		return nil, err
	}
	if extend != nil {
		if err := extend(g); err != nil {
			return nil, err
		}
	}
	if err := g.Assemble(); err != nil {
		return nil, err
	}

	return &Drivetrain{
		Variant:        variant,
		graph:          g,
		newton:         solver.New(cfg.Solver, logger),
		log:            logger,
		initialCurrent: cfg.Sweep.InitialCurrent,
	}, nil
}

// Set assigns an independent input or the current guess by port path.
func (d *Drivetrain) Set(path string, value float64, unit string) error {
	return d.graph.SetVal(path, value, unit)
}

// Get reads any port by path.
func (d *Drivetrain) Get(path string, unit string) (float64, error) {
	return d.graph.GetVal(path, unit)
}

// ResetCurrent restores the initial current guess.
func (d *Drivetrain) ResetCurrent() error {
	return d.graph.SetVal(Current, d.initialCurrent, "A")
}

// Solve drives the power balance to zero from the current guess.
func (d *Drivetrain) Solve(ctx context.Context) error {
	res, err := d.graph.Solve(ctx, d.newton)
	d.last = res
	if err != nil {
		return err
	}
	d.log.Debug("drivetrain solved", "variant", d.Variant, "iterations", res.Iterations, "residual", res.Residual)
	return nil
}

// LastResult returns the solver result of the latest Solve, or nil.
func (d *Drivetrain) LastResult() *solver.Result { return d.last }

// Snapshot returns every port value keyed by path.
func (d *Drivetrain) Snapshot() map[string]float64 { return d.graph.Snapshot() }

// OperatingPoint is the read-off of a solved drivetrain in SI units.
type OperatingPoint struct {
	Throttle      float64 `json:"throttle"`
	Velocity      float64 `json:"velocity"`
	Current       float64 `json:"current"`
	VoltageSupply float64 `json:"voltage_supply"`
	BatteryPower  float64 `json:"battery_power"`
	ESCPower      float64 `json:"esc_power"`
	MotorPower    float64 `json:"motor_power"`
	PropPower     float64 `json:"prop_power"`
	RPM           float64 `json:"rpm"`
	Thrust        float64 `json:"thrust"`
	// Efficiency is thrust power over the ideal source power.
	Efficiency float64 `json:"efficiency"`
	Iterations int     `json:"iterations"`
}

// PowerBalance is the net power the solve drove to zero.
func (op OperatingPoint) PowerBalance() float64 {
	return op.BatteryPower + op.ESCPower + op.MotorPower + op.PropPower
}

// OperatingPoint reads the values of the latest evaluation.
func (d *Drivetrain) OperatingPoint() (OperatingPoint, error) {
	var op OperatingPoint
	reads := []struct {
		path string
		unit string
		dst  *float64
	}{
		{Throttle, "", &op.Throttle},
		{Velocity, "m/s", &op.Velocity},
		{Current, "A", &op.Current},
		{VoltageSupply, "V", &op.VoltageSupply},
		{BatteryPower, "W", &op.BatteryPower},
		{"esc.power", "W", &op.ESCPower},
		{"motor.power", "W", &op.MotorPower},
		{"prop.power", "W", &op.PropPower},
		{"motor.rpm", "rpm", &op.RPM},
		{Thrust, "N", &op.Thrust},
	}
	for _, r := range reads {
		v, err := d.graph.GetVal(r.path, r.unit)
		if err != nil {
			return OperatingPoint{}, err
		}
		*r.dst = v
	}
	if source := op.VoltageSupply * op.Current; source != 0 {
		op.Efficiency = op.Thrust * op.Velocity / source
	}
	if d.last != nil {
		op.Iterations = d.last.Iterations
	}
	return op, nil
}
