// Package units converts scalar values between the physical units used on
// drivetrain ports.
package units

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/san-kum/propsim/internal/dynamo"
)

type dimension string

const (
	dimless    dimension = "dimensionless"
	voltage    dimension = "voltage"
	current    dimension = "current"
	resistance dimension = "resistance"
	angular    dimension = "angular speed"
	kvRatio    dimension = "speed constant"
	length     dimension = "length"
	speed      dimension = "speed"
	force      dimension = "force"
	power      dimension = "power"
	mass       dimension = "mass"
)

type unit struct {
	dim    dimension
	factor float64 // multiply to reach the dimension's base unit
}

var table = map[string]unit{
	"":      {dimless, 1},
	"V":     {voltage, 1},
	"mV":    {voltage, 1e-3},
	"A":     {current, 1},
	"mA":    {current, 1e-3},
	"ohm":   {resistance, 1},
	"mohm":  {resistance, 1e-3},
	"rpm":   {angular, 1},
	"rad/s": {angular, 60 / (2 * math.Pi)},
	"rpm/V": {kvRatio, 1},
	"m":     {length, 1},
	"cm":    {length, 1e-2},
	"mm":    {length, 1e-3},
	"in":    {length, 0.0254},
	"inch":  {length, 0.0254},
	"ft":    {length, 0.3048},
	"m/s":   {speed, 1},
	"km/h":  {speed, 1000.0 / 3600.0},
	"mi/h":  {speed, 0.44704},
	"mph":   {speed, 0.44704},
	"ft/s":  {speed, 0.3048},
	"N":     {force, 1},
	"lbf":   {force, 4.4482216152605},
	"kgf":   {force, 9.80665},
	"W":     {power, 1},
	"kW":    {power, 1e3},
	"kg":    {mass, 1},
	"g":     {mass, 1e-3},
	"lb":    {mass, 0.45359237},
}

func normalize(u string) string {
	return strings.ReplaceAll(u, " ", "")
}

// Known reports whether u is a recognised unit tag.
func Known(u string) bool {
	_, ok := table[normalize(u)]
	return ok
}

// Convert expresses v, given in unit from, in unit to.
func Convert(v float64, from, to string) (float64, error) {
	f, ok := table[normalize(from)]
	if !ok {
		return 0, fmt.Errorf("%w: unknown unit %q", dynamo.ErrUnitMismatch, from)
	}
	t, ok := table[normalize(to)]
	if !ok {
		return 0, fmt.Errorf("%w: unknown unit %q", dynamo.ErrUnitMismatch, to)
	}
	if f.dim != t.dim {
		return 0, fmt.Errorf("%w: cannot convert %s (%s) to %s (%s)", dynamo.ErrUnitMismatch, from, f.dim, to, t.dim)
	}
	if f.factor == t.factor {
		return v, nil
	}
	return v * f.factor / t.factor, nil
}

// List returns every recognised unit tag.
func List() []string {
	names := make([]string, 0, len(table))
	for name := range table {
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
