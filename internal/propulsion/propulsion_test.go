package propulsion_test

import (
	"context"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/propsim/internal/breakpoint"
	"github.com/san-kum/propsim/internal/config"
	"github.com/san-kum/propsim/internal/dynamo"
	"github.com/san-kum/propsim/internal/graph"
	"github.com/san-kum/propsim/internal/physics"
	"github.com/san-kum/propsim/internal/propulsion"
	"github.com/san-kum/propsim/internal/surrogate"
)

const (
	thrustCoeff = 1e-6   // N per rpm^2
	powerCoeff  = 5.4e-9 // W per rpm^3
)

// staticPropBundle trains a propeller surrogate on a known static curve:
// thrust = kt*rpm^2, shaft power = kp*rpm^3 at zero velocity.
func staticPropBundle() *surrogate.Bundle {
	data := &breakpoint.Dataset{
		Inputs:  []string{"rpm", "velocity"},
		Outputs: []string{"thrust", "power"},
	}
	for rpm := 3000.0; rpm <= 7000; rpm += 250 {
		data.X = append(data.X, []float64{rpm, 0})
		data.Y = append(data.Y, []float64{thrustCoeff * rpm * rpm, powerCoeff * rpm * rpm * rpm})
	}
	b, err := surrogate.Train("static", data, surrogate.DefaultOptions())
	Expect(err).NotTo(HaveOccurred())
	return b
}

var _ = Describe("ElectricPropulsion", func() {
	var (
		ctx context.Context
		cfg *config.Config
	)

	BeforeEach(func() {
		ctx = context.Background()
		cfg = config.GetPreset("scenario")
	})

	Context("with a surrogate propeller trained on a static curve", func() {
		var d *propulsion.Drivetrain

		BeforeEach(func() {
			prop, err := physics.NewSurrogatePropeller(staticPropBundle())
			Expect(err).NotTo(HaveOccurred())
			d, err = propulsion.NewElectricPropulsion(cfg, prop, nil)
			Expect(err).NotTo(HaveOccurred())
		})

		It("converges to a positive current and thrust with zero net power", func() {
			Expect(d.Solve(ctx)).To(Succeed())

			op, err := d.OperatingPoint()
			Expect(err).NotTo(HaveOccurred())
			Expect(op.Current).To(BeNumerically(">", 0))
			Expect(op.Thrust).To(BeNumerically(">", 0))
			Expect(op.PowerBalance()).To(BeNumerically("~", 0, 1e-6))
			Expect(d.LastResult().Residual).To(BeNumerically("<=", 1e-8))
			Expect(op.Iterations).To(BeNumerically("<=", 10))
		})

		It("lands on the trained curve", func() {
			Expect(d.Solve(ctx)).To(Succeed())
			op, err := d.OperatingPoint()
			Expect(err).NotTo(HaveOccurred())
			Expect(op.Thrust).To(BeNumerically("~", thrustCoeff*op.RPM*op.RPM, 1e-3*op.Thrust))
			Expect(-op.PropPower).To(BeNumerically("~", powerCoeff*math.Pow(op.RPM, 3), 1e-3*-op.PropPower))
		})

		It("has zero overall efficiency when static", func() {
			Expect(d.Solve(ctx)).To(Succeed())
			op, err := d.OperatingPoint()
			Expect(err).NotTo(HaveOccurred())
			Expect(op.Efficiency).To(BeZero())
		})
	})

	Context("with the closed-form propeller", func() {
		var d *propulsion.Drivetrain

		BeforeEach(func() {
			var err error
			d, err = propulsion.New(cfg, nil, nil)
			Expect(err).NotTo(HaveOccurred())
		})

		It("conserves energy across the series circuit", func() {
			for _, v := range []float64{0, 10, 25} {
				Expect(d.Set(propulsion.Velocity, v, "m/s")).To(Succeed())
				Expect(d.ResetCurrent()).To(Succeed())
				Expect(d.Solve(ctx)).To(Succeed())

				op, err := d.OperatingPoint()
				Expect(err).NotTo(HaveOccurred())
				Expect(op.PowerBalance()).To(BeNumerically("~", 0, 1e-6))
				Expect(op.BatteryPower).To(BeNumerically(">", -op.PropPower))
			}
		})

		It("produces less thrust and draws less current at part throttle", func() {
			Expect(d.Solve(ctx)).To(Succeed())
			full, err := d.OperatingPoint()
			Expect(err).NotTo(HaveOccurred())

			Expect(d.Set(propulsion.Throttle, 0.6, "")).To(Succeed())
			Expect(d.ResetCurrent()).To(Succeed())
			Expect(d.Solve(ctx)).To(Succeed())
			part, err := d.OperatingPoint()
			Expect(err).NotTo(HaveOccurred())

			Expect(part.Thrust).To(BeNumerically("<", full.Thrust))
			Expect(part.Current).To(BeNumerically("<", full.Current))
		})

		It("reports positive overall efficiency in forward flight", func() {
			Expect(d.Set(propulsion.Velocity, 30, "mi/h")).To(Succeed())
			Expect(d.Solve(ctx)).To(Succeed())
			op, err := d.OperatingPoint()
			Expect(err).NotTo(HaveOccurred())
			Expect(op.Velocity).To(BeNumerically("~", 30*0.44704, 1e-9))
			Expect(op.Efficiency).To(BeNumerically(">", 0))
			Expect(op.Efficiency).To(BeNumerically("<", 1))
		})

		It("reads values in requested units", func() {
			Expect(d.Solve(ctx)).To(Succeed())
			newtons, err := d.Get(propulsion.Thrust, "N")
			Expect(err).NotTo(HaveOccurred())
			pounds, err := d.Get(propulsion.Thrust, "lbf")
			Expect(err).NotTo(HaveOccurred())
			Expect(pounds).To(BeNumerically("~", newtons/4.4482216152605, 1e-9))

			mohm, err := d.Get("motor.resistance", "mohm")
			Expect(err).NotTo(HaveOccurred())
			Expect(mohm).To(BeNumerically("~", 26.3, 1e-9))
		})

		It("rejects zero throttle before entering the Newton loop", func() {
			Expect(d.Set(propulsion.Throttle, 0, "")).To(Succeed())
			err := d.Solve(ctx)
			Expect(err).To(MatchError(dynamo.ErrZeroThrottle))
			Expect(err).To(MatchError(dynamo.ErrComponentDomain))
			Expect(d.LastResult()).To(BeNil())
		})

		It("refuses to overwrite a connected input", func() {
			Expect(d.Set("battery.current", 5, "A")).To(MatchError(dynamo.ErrDuplicateBinding))
		})
	})

	Context("with coefficient overrides", func() {
		solve := func(cfg *config.Config) propulsion.OperatingPoint {
			d, err := propulsion.New(cfg, nil, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Set(propulsion.Velocity, 30, "mi/h")).To(Succeed())
			Expect(d.Solve(ctx)).To(Succeed())
			op, err := d.OperatingPoint()
			Expect(err).NotTo(HaveOccurred())
			return op
		}

		It("keeps controller defaults for coefficients left at zero", func() {
			want := solve(cfg)

			partial := config.GetPreset("scenario")
			partial.ESC.B, partial.ESC.C = 0, 0
			got := solve(partial)

			Expect(got.Efficiency).To(BeNumerically(">", 0))
			Expect(got.Thrust).To(BeNumerically("~", want.Thrust, 1e-9))
			Expect(got.Current).To(BeNumerically("~", want.Current, 1e-9))
		})

		It("applies closed-form propeller coefficients", func() {
			cfg.Prop.Coefficients = map[string]float64{"ct0": 0, "ct1": 0}
			op := solve(cfg)
			Expect(op.Thrust).To(BeZero())
			Expect(op.PowerBalance()).To(BeNumerically("~", 0, 1e-6))
		})

		It("rejects unknown coefficient names at assembly", func() {
			cfg.Prop.Coefficients = map[string]float64{"cd0": 1}
			_, err := propulsion.New(cfg, nil, nil)
			Expect(err).To(MatchError(dynamo.ErrGraphAssembly))
		})
	})

	It("fails at assembly when a destination is bound twice", func() {
		g := graph.New()
		Expect(g.AddComponent("battery", physics.NewBattery())).To(Succeed())
		Expect(g.AddComponent("esc", physics.NewESC())).To(Succeed())
		Expect(g.AddComponent("power_net", physics.NewPowerNet())).To(Succeed())
		Expect(g.Connect("power_net.current", "battery.current", "esc.current_in")).To(Succeed())
		Expect(g.Connect("battery.voltage_out", "esc.voltage_in")).To(Succeed())
		Expect(g.Connect("battery.power", "esc.current_in")).To(Succeed())

		Expect(g.Assemble()).To(MatchError(dynamo.ErrDuplicateBinding))
		Expect(g.StateDim()).To(BeZero())
	})
})

var _ = Describe("RubberElectricPropulsion", func() {
	It("derives motor constants from kv and mass and converges", func() {
		cfg := config.GetPreset("rubber")
		d, err := propulsion.New(cfg, nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Variant).To(Equal(config.VariantRubber))

		Expect(d.Solve(context.Background())).To(Succeed())
		op, err := d.OperatingPoint()
		Expect(err).NotTo(HaveOccurred())
		Expect(op.Thrust).To(BeNumerically(">", 0))
		Expect(op.PowerBalance()).To(BeNumerically("~", 0, 1e-6))

		r, err := d.Get("motor.resistance", "mohm")
		Expect(err).NotTo(HaveOccurred())
		Expect(r).To(BeNumerically("~", 25.7, 1.5))
	})

	It("applies regression coefficient overrides", func() {
		resistance := func(cfg *config.Config) float64 {
			d, err := propulsion.New(cfg, nil, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Solve(context.Background())).To(Succeed())
			r, err := d.Get("motor.resistance", "mohm")
			Expect(err).NotTo(HaveOccurred())
			return r
		}
		base := resistance(config.GetPreset("rubber"))

		cfg := config.GetPreset("rubber")
		cfg.Rubber.Coefficients = map[string]float64{"c_r": physics.NewRubberMotor().CR + 0.001}
		Expect(resistance(cfg)).To(BeNumerically("~", base+1, 1e-6))

		cfg.Rubber.Coefficients = map[string]float64{"e_r": 1}
		_, err := propulsion.New(cfg, nil, nil)
		Expect(err).To(MatchError(dynamo.ErrGraphAssembly))
	})

	It("rejects a massless motor before solving", func() {
		cfg := config.GetPreset("rubber")
		cfg.Rubber.Mass = 0
		d, err := propulsion.New(cfg, nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Solve(context.Background())).To(MatchError(dynamo.ErrComponentDomain))
	})
})
