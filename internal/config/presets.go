package config

import "sort"

// Presets adjust the defaults into named scenarios.
var Presets = map[string]func(c *Config){
	"scenario": func(c *Config) {
		c.Variant = VariantElectric
		c.Sweep.PowerLimit = 0
	},
	"rubber": func(c *Config) {
		c.Variant = VariantRubber
		c.Rubber = RubberConfig{Kv: DefaultKv, Mass: DefaultRubberMass, MassUnits: "g"}
	},
	"power_limited": func(c *Config) {
		c.Variant = VariantElectric
		c.Sweep.PowerLimit = DefaultPowerLimit
	},
	"surrogate": func(c *Config) {
		c.Variant = VariantElectric
		c.Prop.Model = PropSurrogate
		c.Prop.Clamp = true
	},
}

// GetPreset returns a fresh configuration for the named preset, or nil.
func GetPreset(name string) *Config {
	apply, ok := Presets[name]
	if !ok {
		return nil
	}
	cfg := DefaultConfig()
	apply(cfg)
	return cfg
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
