package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/propsim/internal/logging"
	"github.com/san-kum/propsim/internal/solver"
)

const (
	DefaultVoltage           = 22.2
	DefaultBatteryResistance = 0.012
	DefaultThrottle          = 1.0
	DefaultKv                = 280.0
	DefaultIdleCurrent       = 1.2
	DefaultMotorResistance   = 26.3
	DefaultRubberMass        = 500.0
	DefaultDiameter          = 22.0
	DefaultPitch             = 10.0
	DefaultInitialCurrent    = 10.0
	DefaultMaxVelocity       = 60.0
	DefaultPoints            = 51
	DefaultPowerLimit        = 1000.0
	DefaultSamples           = 10
)

const (
	VariantElectric = "electric"
	VariantRubber   = "rubber"

	PropAnalytic  = "analytic"
	PropSurrogate = "surrogate"
)

type Config struct {
	Variant string         `yaml:"variant"`
	Battery BatteryConfig  `yaml:"battery"`
	ESC     ESCConfig      `yaml:"esc"`
	Motor   MotorConfig    `yaml:"motor"`
	Rubber  RubberConfig   `yaml:"rubber"`
	Prop    PropConfig     `yaml:"prop"`
	Solver  solver.Config  `yaml:"solver"`
	Sweep   SweepConfig    `yaml:"sweep"`
	Reduce  ReduceConfig   `yaml:"reduce"`
	Logging logging.Config `yaml:"logging"`
}

type BatteryConfig struct {
	VoltageSupply float64 `yaml:"voltage_supply"` // V
	Resistance    float64 `yaml:"resistance"`     // ohm
}

type ESCConfig struct {
	Throttle float64 `yaml:"throttle"`
	A        float64 `yaml:"a"`
	B        float64 `yaml:"b"`
	C        float64 `yaml:"c"`
}

// Params returns the efficiency coefficients that are set. Zero leaves the
// component default in place.
func (c ESCConfig) Params() map[string]float64 {
	params := make(map[string]float64, 3)
	for name, v := range map[string]float64{"a": c.A, "b": c.B, "c": c.C} {
		if v != 0 {
			params[name] = v
		}
	}
	return params
}

type MotorConfig struct {
	Kv              float64 `yaml:"kv"`           // rpm/V
	IdleCurrent     float64 `yaml:"idle_current"` // A
	Resistance      float64 `yaml:"resistance"`
	ResistanceUnits string  `yaml:"resistance_units"`
}

type RubberConfig struct {
	Kv        float64 `yaml:"kv"`
	Mass      float64 `yaml:"mass"`
	MassUnits string  `yaml:"mass_units"`
	// Coefficients override regression constants by name (a_io, b_r, d_pow, ...).
	Coefficients map[string]float64 `yaml:"coefficients,omitempty"`
}

type PropConfig struct {
	// Model is "analytic" or "surrogate".
	Model    string  `yaml:"model"`
	ID       string  `yaml:"id"`
	Diameter float64 `yaml:"diameter"` // inch
	Pitch    float64 `yaml:"pitch"`    // inch
	Clamp    bool    `yaml:"clamp"`
	// Coefficients override the closed-form model's rho, ct0, ct1, cp0 and cp1.
	Coefficients map[string]float64 `yaml:"coefficients,omitempty"`
}

type SweepConfig struct {
	MaxVelocity    float64 `yaml:"max_velocity"`
	Points         int     `yaml:"points"`
	VelocityUnits  string  `yaml:"velocity_units"`
	InitialCurrent float64 `yaml:"initial_current"` // A
	PowerLimit     float64 `yaml:"power_limit"`     // W, zero disables the limited sweep
	Workers        int     `yaml:"workers"`
}

type ReduceConfig struct {
	Samples  int    `yaml:"samples"`
	ModelDir string `yaml:"model_dir"`
	Workers  int    `yaml:"workers"`
}

func DefaultConfig() *Config {
	return &Config{
		Variant: VariantElectric,
		Battery: BatteryConfig{
			VoltageSupply: DefaultVoltage,
			Resistance:    DefaultBatteryResistance,
		},
		ESC: ESCConfig{
			Throttle: DefaultThrottle,
			A:        1.6054,
			B:        1.6519,
			C:        0.6455,
		},
		Motor: MotorConfig{
			Kv:              DefaultKv,
			IdleCurrent:     DefaultIdleCurrent,
			Resistance:      DefaultMotorResistance,
			ResistanceUnits: "mohm",
		},
		Rubber: RubberConfig{
			Kv:        DefaultKv,
			Mass:      DefaultRubberMass,
			MassUnits: "g",
		},
		Prop: PropConfig{
			Model:    PropAnalytic,
			ID:       "22x10",
			Diameter: DefaultDiameter,
			Pitch:    DefaultPitch,
		},
		Solver: solver.DefaultConfig(),
		Sweep: SweepConfig{
			MaxVelocity:    DefaultMaxVelocity,
			Points:         DefaultPoints,
			VelocityUnits:  "mi/h",
			InitialCurrent: DefaultInitialCurrent,
		},
		Reduce: ReduceConfig{
			Samples:  DefaultSamples,
			ModelDir: "models",
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "text",
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate rejects configurations no drivetrain can be built from.
func (c *Config) Validate() error {
	switch c.Variant {
	case VariantElectric, VariantRubber:
	default:
		return fmt.Errorf("unknown variant: %s", c.Variant)
	}
	switch c.Prop.Model {
	case PropAnalytic, PropSurrogate:
	default:
		return fmt.Errorf("unknown prop model: %s", c.Prop.Model)
	}
	if c.Battery.VoltageSupply <= 0 {
		return fmt.Errorf("battery voltage must be positive, got %f", c.Battery.VoltageSupply)
	}
	if c.Prop.Diameter <= 0 || c.Prop.Pitch <= 0 {
		return fmt.Errorf("prop diameter and pitch must be positive")
	}
	if c.Sweep.Points < 1 {
		return fmt.Errorf("sweep needs at least one point, got %d", c.Sweep.Points)
	}
	if c.Sweep.MaxVelocity < 0 {
		return fmt.Errorf("sweep max velocity must not be negative")
	}
	if c.Reduce.Samples < 2 {
		return fmt.Errorf("reduction needs at least 2 samples, got %d", c.Reduce.Samples)
	}
	return nil
}

// Velocities returns the sweep velocities, evenly spaced from zero, in
// Sweep.VelocityUnits.
func (c *Config) Velocities() []float64 {
	n := c.Sweep.Points
	v := make([]float64, n)
	if n == 1 {
		return v
	}
	for i := range v {
		v[i] = c.Sweep.MaxVelocity * float64(i) / float64(n-1)
	}
	return v
}
