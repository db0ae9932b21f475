package physics

import (
	"fmt"
	"math"

	"github.com/san-kum/propsim/internal/dynamo"
)

// ESC is an electronic speed controller. Its efficiency follows
// a*(1 - 1/(1 + b*t^c)) in the throttle t.
type ESC struct {
	A float64
	B float64
	C float64
}

func NewESC() *ESC {
	return &ESC{
		A: 1.6054,
		B: 1.6519,
		C: 0.6455,
	}
}

func (e *ESC) Inputs() []dynamo.Port {
	return []dynamo.Port{
		{Name: "voltage_in", Units: "V"},
		{Name: "current_in", Units: "A"},
		{Name: "throttle", Units: ""},
	}
}

func (e *ESC) Outputs() []dynamo.Port {
	return []dynamo.Port{
		{Name: "efficiency", Units: ""},
		{Name: "voltage_out", Units: "V"},
		{Name: "current_out", Units: "A"},
		{Name: "power", Units: "W"},
	}
}

// CheckDomain rejects a non-positive throttle, where the output current is
// undefined.
func (e *ESC) CheckDomain(in dynamo.Values) error {
	t, ok := in["throttle"]
	if !ok {
		return nil
	}
	if math.IsNaN(t) || t <= 0 {
		return fmt.Errorf("%w: esc throttle %g", dynamo.ErrZeroThrottle, t)
	}
	return nil
}

func (e *ESC) efficiency(t float64) (eff, dEff float64) {
	tc := math.Pow(t, e.C)
	eff = e.A * (1 - 1/(1+e.B*tc))
	den := e.B*tc + 1
	dEff = e.A * e.B * e.C * math.Pow(t, e.C-1) / (den * den)
	return eff, dEff
}

func (e *ESC) Compute(in dynamo.Values) (dynamo.Values, error) {
	if err := in.Require("voltage_in", "current_in", "throttle"); err != nil {
		return nil, err
	}
	if err := e.CheckDomain(in); err != nil {
		return nil, err
	}
	vin, iin, t := in["voltage_in"], in["current_in"], in["throttle"]
	eff, _ := e.efficiency(t)

	return dynamo.Values{
		"efficiency":  eff,
		"voltage_out": vin * t * eff,
		"current_out": iin / t,
		"power":       (eff - 1) * iin * vin,
	}, nil
}

func (e *ESC) Partials(in dynamo.Values) (dynamo.Partials, error) {
	if err := in.Require("voltage_in", "current_in", "throttle"); err != nil {
		return nil, err
	}
	if err := e.CheckDomain(in); err != nil {
		return nil, err
	}
	vin, iin, t := in["voltage_in"], in["current_in"], in["throttle"]
	eff, dEff := e.efficiency(t)

	p := dynamo.Partials{}
	p.Set("efficiency", "throttle", dEff)

	p.Set("voltage_out", "voltage_in", t*eff)
	p.Set("voltage_out", "throttle", vin*(eff+t*dEff))

	p.Set("current_out", "current_in", 1/t)
	p.Set("current_out", "throttle", -iin/(t*t))

	p.Set("power", "voltage_in", (eff-1)*iin)
	p.Set("power", "current_in", (eff-1)*vin)
	p.Set("power", "throttle", iin*vin*dEff)
	return p, nil
}

func (e *ESC) GetParams() map[string]float64 {
	return map[string]float64{
		"a": e.A,
		"b": e.B,
		"c": e.C,
	}
}

func (e *ESC) SetParam(name string, value float64) error {
	switch name {
	case "a":
		e.A = value
	case "b":
		e.B = value
	case "c":
		e.C = value
	default:
		return fmt.Errorf("unknown param: %s", name)
	}
	return nil
}
