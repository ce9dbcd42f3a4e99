package config

import "sort"

var Presets = map[string]func(*Config){
	"default": func(*Config) {},
	"fast-heating": func(c *Config) {
		c.Reactor.NominalPower = 2.0e7
	},
	"weak-coupling": func(c *Config) {
		c.Reactor.HeatTransferCoeff = 2.5e4
		c.Coolant.HeatTransferCoeff = 2.5e4
	},
	"no-auto-shutdown": func(c *Config) {
		c.Safety.AutoShutdown = false
	},
}

// GetPreset returns the defaults with the named preset applied, or nil.
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
