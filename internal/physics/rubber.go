package physics

import (
	"fmt"
	"math"

	"github.com/san-kum/propsim/internal/dynamo"
)

// RubberMotor derives motor constants for a notional motor of given kv and
// mass from regressions over catalogue motors:
//
//	idle_current = kv^AIo * mass^BIo + CIo
//	resistance   = AR/mass + BR/idle_current + CR
//	max_power    = APow*kv + BPow*mass + CPow*kv*mass + DPow
//
// Mass is in kilograms.
type RubberMotor struct {
	AIo, BIo, CIo          float64
	AR, BR, CR             float64
	APow, BPow, CPow, DPow float64
}

func NewRubberMotor() *RubberMotor {
	return &RubberMotor{
		AIo: 0.3040, BIo: 0.2409, CIo: -3.6401,
		AR: 0.003356, BR: 0.04760, CR: -0.02631,
		APow: -0.1316, BPow: 5545.1, CPow: -2.0421, DPow: 181.3208,
	}
}

func (m *RubberMotor) Inputs() []dynamo.Port {
	return []dynamo.Port{
		{Name: "kv", Units: "rpm/V"},
		{Name: "mass", Units: "kg"},
	}
}

func (m *RubberMotor) Outputs() []dynamo.Port {
	return []dynamo.Port{
		{Name: "resistance", Units: "ohm"},
		{Name: "idle_current", Units: "A"},
		{Name: "max_power", Units: "W"},
		{Name: "kv_out", Units: "rpm/V"},
	}
}

// CheckDomain rejects non-positive kv or mass and combinations whose
// regressed idle current vanishes.
func (m *RubberMotor) CheckDomain(in dynamo.Values) error {
	kv, okKv := in["kv"]
	mass, okMass := in["mass"]
	if !okKv || !okMass {
		return nil
	}
	if !(kv > 0) || !(mass > 0) {
		return fmt.Errorf("%w: rubber motor needs positive kv and mass, got kv=%g mass=%g", dynamo.ErrComponentDomain, kv, mass)
	}
	if io, _, _ := m.idleCurrent(kv, mass); io == 0 {
		return fmt.Errorf("%w: rubber motor idle current is zero at kv=%g mass=%g", dynamo.ErrComponentDomain, kv, mass)
	}
	return nil
}

func (m *RubberMotor) idleCurrent(kv, mass float64) (io, dKv, dMass float64) {
	kvA := math.Pow(kv, m.AIo)
	massB := math.Pow(mass, m.BIo)
	io = kvA*massB + m.CIo
	dKv = m.AIo * math.Pow(kv, m.AIo-1) * massB
	dMass = kvA * m.BIo * math.Pow(mass, m.BIo-1)
	return io, dKv, dMass
}

func (m *RubberMotor) Compute(in dynamo.Values) (dynamo.Values, error) {
	if err := in.Require("kv", "mass"); err != nil {
		return nil, err
	}
	if err := m.CheckDomain(in); err != nil {
		return nil, err
	}
	kv, mass := in["kv"], in["mass"]
	io, _, _ := m.idleCurrent(kv, mass)

	return dynamo.Values{
		"idle_current": io,
		"resistance":   m.AR/mass + m.BR/io + m.CR,
		"max_power":    m.APow*kv + m.BPow*mass + m.CPow*kv*mass + m.DPow,
		"kv_out":       kv,
	}, nil
}

func (m *RubberMotor) Partials(in dynamo.Values) (dynamo.Partials, error) {
	if err := in.Require("kv", "mass"); err != nil {
		return nil, err
	}
	if err := m.CheckDomain(in); err != nil {
		return nil, err
	}
	kv, mass := in["kv"], in["mass"]
	io, dIoKv, dIoMass := m.idleCurrent(kv, mass)

	p := dynamo.Partials{}
	p.Set("idle_current", "kv", dIoKv)
	p.Set("idle_current", "mass", dIoMass)

	p.Set("resistance", "kv", -m.BR/(io*io)*dIoKv)
	p.Set("resistance", "mass", -m.AR/(mass*mass)-m.BR/(io*io)*dIoMass)

	p.Set("max_power", "kv", m.APow+m.CPow*mass)
	p.Set("max_power", "mass", m.BPow+m.CPow*kv)

	p.Set("kv_out", "kv", 1)
	return p, nil
}

func (m *RubberMotor) GetParams() map[string]float64 {
	return map[string]float64{
		"a_io": m.AIo, "b_io": m.BIo, "c_io": m.CIo,
		"a_r": m.AR, "b_r": m.BR, "c_r": m.CR,
		"a_pow": m.APow, "b_pow": m.BPow, "c_pow": m.CPow, "d_pow": m.DPow,
	}
}

func (m *RubberMotor) SetParam(name string, value float64) error {
	switch name {
	case "a_io":
		m.AIo = value
	case "b_io":
		m.BIo = value
	case "c_io":
		m.CIo = value
	case "a_r":
		m.AR = value
	case "b_r":
		m.BR = value
	case "c_r":
		m.CR = value
	case "a_pow":
		m.APow = value
	case "b_pow":
		m.BPow = value
	case "c_pow":
		m.CPow = value
	case "d_pow":
		m.DPow = value
	default:
		return fmt.Errorf("unknown param: %s", name)
	}
	return nil
}
