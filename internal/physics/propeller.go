package physics

import (
	"errors"
	"fmt"

	"github.com/san-kum/propsim/internal/dynamo"
	"github.com/san-kum/propsim/internal/surrogate"
)

const inchToMetre = 0.0254

var propInputs = []string{"diameter", "pitch", "rpm", "velocity"}

func propellerPorts() ([]dynamo.Port, []dynamo.Port) {
	in := []dynamo.Port{
		{Name: "diameter", Units: "inch"},
		{Name: "pitch", Units: "inch"},
		{Name: "rpm", Units: "rpm"},
		{Name: "velocity", Units: "m/s"},
	}
	out := []dynamo.Port{
		{Name: "thrust", Units: "N"},
		{Name: "power", Units: "W"},
	}
	return in, out
}

// Propeller is a closed-form propeller whose thrust and power coefficients
// are linear in pitch ratio and advance ratio:
//
//	thrust      = rho*(CT0*r*n^2*D^4 + CT1*v*n*D^3)
//	shaft power = rho*(CP0*r*n^3*D^5 + CP1*v*n^2*D^4)
//
// with n in rev/s, D in metres and r = pitch/diameter. The power port
// carries the shaft power as a sink, so it is negative.
type Propeller struct {
	Rho float64
	CT0 float64
	CT1 float64
	CP0 float64
	CP1 float64
}

func NewPropeller() *Propeller {
	return &Propeller{
		Rho: 1.225,
		CT0: 0.22,
		CT1: -0.08,
		CP0: 0.10,
		CP1: -0.05,
	}
}

func (p *Propeller) Inputs() []dynamo.Port {
	in, _ := propellerPorts()
	return in
}

func (p *Propeller) Outputs() []dynamo.Port {
	_, out := propellerPorts()
	return out
}

func (p *Propeller) CheckDomain(in dynamo.Values) error {
	if d, ok := in["diameter"]; ok && !(d > 0) {
		return fmt.Errorf("%w: propeller diameter %g", dynamo.ErrComponentDomain, d)
	}
	return nil
}

func (p *Propeller) Compute(in dynamo.Values) (dynamo.Values, error) {
	if err := in.Require(propInputs...); err != nil {
		return nil, err
	}
	if err := p.CheckDomain(in); err != nil {
		return nil, err
	}
	d := in["diameter"] * inchToMetre
	pitch := in["pitch"] * inchToMetre
	n := in["rpm"] / 60
	v := in["velocity"]

	thrust := p.Rho * (p.CT0*pitch*n*n*d*d*d + p.CT1*v*n*d*d*d)
	shaft := p.Rho * (p.CP0*pitch*n*n*n*d*d*d*d + p.CP1*v*n*n*d*d*d*d)

	return dynamo.Values{
		"thrust": thrust,
		"power":  -shaft,
	}, nil
}

func (p *Propeller) Partials(in dynamo.Values) (dynamo.Partials, error) {
	if err := in.Require(propInputs...); err != nil {
		return nil, err
	}
	if err := p.CheckDomain(in); err != nil {
		return nil, err
	}
	d := in["diameter"] * inchToMetre
	pitch := in["pitch"] * inchToMetre
	n := in["rpm"] / 60
	v := in["velocity"]
	d3 := d * d * d
	d4 := d3 * d

	// r*D^4 = pitch*D^3, so thrust is cubic and shaft power quartic in D
	out := dynamo.Partials{}
	out.Set("thrust", "diameter", inchToMetre*3*p.Rho*(p.CT0*pitch*n*n+p.CT1*v*n)*d*d)
	out.Set("thrust", "pitch", inchToMetre*p.Rho*p.CT0*n*n*d3)
	out.Set("thrust", "rpm", p.Rho*(2*p.CT0*pitch*n+p.CT1*v)*d3/60)
	out.Set("thrust", "velocity", p.Rho*p.CT1*n*d3)

	out.Set("power", "diameter", -inchToMetre*4*p.Rho*(p.CP0*pitch*n*n*n+p.CP1*v*n*n)*d3)
	out.Set("power", "pitch", -inchToMetre*p.Rho*p.CP0*n*n*n*d4)
	out.Set("power", "rpm", -p.Rho*(3*p.CP0*pitch*n*n+2*p.CP1*v*n)*d4/60)
	out.Set("power", "velocity", -p.Rho*p.CP1*n*n*d4)
	return out, nil
}

func (p *Propeller) GetParams() map[string]float64 {
	return map[string]float64{
		"rho": p.Rho,
		"ct0": p.CT0,
		"ct1": p.CT1,
		"cp0": p.CP0,
		"cp1": p.CP1,
	}
}

func (p *Propeller) SetParam(name string, value float64) error {
	switch name {
	case "rho":
		p.Rho = value
	case "ct0":
		p.CT0 = value
	case "ct1":
		p.CT1 = value
	case "cp0":
		p.CP0 = value
	case "cp1":
		p.CP1 = value
	default:
		return fmt.Errorf("unknown param: %s", name)
	}
	return nil
}

// SurrogatePropeller delegates thrust and power to a trained bundle. The
// bundle's feature columns must be a subset of diameter, pitch, rpm and
// velocity in port units; its shaft power output is positive.
type SurrogatePropeller struct {
	thrust *surrogate.Model
	shaft  *surrogate.Model
	// feature column names, in bundle order
	features []string

	// Clamp projects out-of-domain queries onto the widened training box
	// instead of failing.
	Clamp bool
}

// NewSurrogatePropeller binds a bundle with outputs "thrust" and "power".
func NewSurrogatePropeller(b *surrogate.Bundle) (*SurrogatePropeller, error) {
	for _, name := range b.Inputs {
		known := false
		for _, p := range propInputs {
			known = known || p == name
		}
		if !known {
			return nil, fmt.Errorf("%w: bundle %s feature %q is not a propeller input", dynamo.ErrSurrogateFit, b.ID, name)
		}
	}
	thrust, err := b.Model("thrust")
	if err != nil {
		return nil, err
	}
	shaft, err := b.Model("power")
	if err != nil {
		return nil, err
	}
	return &SurrogatePropeller{
		thrust:   thrust,
		shaft:    shaft,
		features: append([]string(nil), b.Inputs...),
	}, nil
}

func (p *SurrogatePropeller) Inputs() []dynamo.Port {
	in, _ := propellerPorts()
	return in
}

func (p *SurrogatePropeller) Outputs() []dynamo.Port {
	_, out := propellerPorts()
	return out
}

// query returns the feature vector and, per feature, whether clamping moved it.
func (p *SurrogatePropeller) query(in dynamo.Values, m *surrogate.Model) ([]float64, []bool) {
	x := make([]float64, len(p.features))
	for i, name := range p.features {
		x[i] = in[name]
	}
	moved := make([]bool, len(x))
	if p.Clamp {
		c := m.Clamp(x)
		for i := range x {
			moved[i] = c[i] != x[i]
		}
		x = c
	}
	return x, moved
}

func (p *SurrogatePropeller) predict(in dynamo.Values) (thrust, shaft float64, gThrust, gShaft []float64, err error) {
	if err := in.Require(propInputs...); err != nil {
		return 0, 0, nil, nil, err
	}
	x, moved := p.query(in, p.thrust)
	thrust, _, gThrust, err = p.thrust.Predict(x)
	if err != nil {
		return 0, 0, nil, nil, fmt.Errorf("propeller thrust: %w", err)
	}
	x, movedP := p.query(in, p.shaft)
	shaft, _, gShaft, err = p.shaft.Predict(x)
	if err != nil {
		return 0, 0, nil, nil, fmt.Errorf("propeller power: %w", err)
	}
	for i := range moved {
		if moved[i] {
			gThrust[i] = 0
		}
		if movedP[i] {
			gShaft[i] = 0
		}
	}
	return thrust, shaft, gThrust, gShaft, nil
}

func (p *SurrogatePropeller) Compute(in dynamo.Values) (dynamo.Values, error) {
	thrust, shaft, _, _, err := p.predict(in)
	if err != nil {
		return nil, err
	}
	return dynamo.Values{
		"thrust": thrust,
		"power":  -shaft,
	}, nil
}

func (p *SurrogatePropeller) Partials(in dynamo.Values) (dynamo.Partials, error) {
	_, _, gThrust, gShaft, err := p.predict(in)
	if err != nil {
		return nil, err
	}
	out := dynamo.Partials{}
	for i, name := range p.features {
		out.Set("thrust", name, gThrust[i])
		out.Set("power", name, -gShaft[i])
	}
	return out, nil
}

// IsOutOfDomain reports whether err came from a query outside the
// training data.
func IsOutOfDomain(err error) bool {
	return errors.Is(err, dynamo.ErrOutOfDomain)
}
