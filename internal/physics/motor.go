package physics

import (
	"github.com/san-kum/propsim/internal/dynamo"
)

// Motor is a brushless DC motor described by its speed constant, winding
// resistance and no-load current.
type Motor struct{}

func NewMotor() *Motor {
	return &Motor{}
}

func (m *Motor) Inputs() []dynamo.Port {
	return []dynamo.Port{
		{Name: "voltage_in", Units: "V"},
		{Name: "current", Units: "A"},
		{Name: "resistance", Units: "ohm"},
		{Name: "kv", Units: "rpm/V"},
		{Name: "idle_current", Units: "A"},
	}
}

func (m *Motor) Outputs() []dynamo.Port {
	return []dynamo.Port{
		{Name: "rpm", Units: "rpm"},
		{Name: "power", Units: "W"},
	}
}

var motorInputs = []string{"voltage_in", "current", "resistance", "kv", "idle_current"}

func (m *Motor) Compute(in dynamo.Values) (dynamo.Values, error) {
	if err := in.Require(motorInputs...); err != nil {
		return nil, err
	}
	i, r, i0 := in["current"], in["resistance"], in["idle_current"]
	vProp := in["voltage_in"] - i*r

	return dynamo.Values{
		"rpm":   in["kv"] * vProp,
		"power": -i*i*r - i0*vProp,
	}, nil
}

func (m *Motor) Partials(in dynamo.Values) (dynamo.Partials, error) {
	if err := in.Require(motorInputs...); err != nil {
		return nil, err
	}
	i, r, kv, i0 := in["current"], in["resistance"], in["kv"], in["idle_current"]
	vProp := in["voltage_in"] - i*r

	// d(vProp)/d(voltage_in) = 1, d/d(current) = -r, d/d(resistance) = -i
	p := dynamo.Partials{}
	p.Set("rpm", "voltage_in", kv)
	p.Set("rpm", "current", -kv*r)
	p.Set("rpm", "resistance", -kv*i)
	p.Set("rpm", "kv", vProp)

	p.Set("power", "voltage_in", -i0)
	p.Set("power", "current", -2*i*r+i0*r)
	p.Set("power", "resistance", -i*i+i0*i)
	p.Set("power", "idle_current", -vProp)
	return p, nil
}
