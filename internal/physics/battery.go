package physics

import (
	"github.com/san-kum/propsim/internal/dynamo"
)

// Battery is an ideal voltage source in series with an internal resistance.
type Battery struct{}

func NewBattery() *Battery {
	return &Battery{}
}

func (b *Battery) Inputs() []dynamo.Port {
	return []dynamo.Port{
		{Name: "voltage_supply", Units: "V"},
		{Name: "current", Units: "A"},
		{Name: "resistance", Units: "ohm"},
	}
}

func (b *Battery) Outputs() []dynamo.Port {
	return []dynamo.Port{
		{Name: "voltage_out", Units: "V"},
		{Name: "power", Units: "W"},
	}
}

func (b *Battery) Compute(in dynamo.Values) (dynamo.Values, error) {
	if err := in.Require("voltage_supply", "current", "resistance"); err != nil {
		return nil, err
	}
	vs, i, r := in["voltage_supply"], in["current"], in["resistance"]

	return dynamo.Values{
		"voltage_out": vs - i*r,
		"power":       i*vs - i*i*r,
	}, nil
}

func (b *Battery) Partials(in dynamo.Values) (dynamo.Partials, error) {
	if err := in.Require("voltage_supply", "current", "resistance"); err != nil {
		return nil, err
	}
	vs, i, r := in["voltage_supply"], in["current"], in["resistance"]

	p := dynamo.Partials{}
	p.Set("voltage_out", "voltage_supply", 1)
	p.Set("voltage_out", "current", -r)
	p.Set("voltage_out", "resistance", -i)

	p.Set("power", "voltage_supply", i)
	p.Set("power", "current", vs-2*i*r)
	p.Set("power", "resistance", -i*i)
	return p, nil
}
