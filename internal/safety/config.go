package safety

import (
	"time"

	"go.uber.org/atomic"
)

// Settings is a plain copy of the safety parameters.
type Settings struct {
	CautionTemp       float64       `yaml:"caution_temp" json:"caution_temp"`
	CriticalTemp      float64       `yaml:"critical_temp" json:"critical_temp"`
	AutoShutdown      bool          `yaml:"auto_shutdown" json:"auto_shutdown"`
	EmergencyFlow     float64       `yaml:"emergency_flow" json:"emergency_flow"`
	EmergencyDuration time.Duration `yaml:"-" json:"emergency_duration"`
}

func DefaultSettings() Settings {
	return Settings{
		CautionTemp:       500.0,
		CriticalTemp:      700.0,
		AutoShutdown:      true,
		EmergencyFlow:     1000.0,
		EmergencyDuration: 10 * time.Second,
	}
}

// Config holds the live thresholds. The monitor reads every field on each
// sample, so changes apply from the next tick.
type Config struct {
	caution           atomic.Float64
	critical          atomic.Float64
	autoShutdown      atomic.Bool
	emergencyFlow     atomic.Float64
	emergencyDuration atomic.Duration
}

func NewConfig(s Settings) *Config {
	c := &Config{}
	c.Apply(s)
	return c
}

func (c *Config) Apply(s Settings) {
	c.caution.Store(s.CautionTemp)
	c.critical.Store(s.CriticalTemp)
	c.autoShutdown.Store(s.AutoShutdown)
	c.emergencyFlow.Store(s.EmergencyFlow)
	c.emergencyDuration.Store(s.EmergencyDuration)
}

func (c *Config) Settings() Settings {
	return Settings{
		CautionTemp:       c.caution.Load(),
		CriticalTemp:      c.critical.Load(),
		AutoShutdown:      c.autoShutdown.Load(),
		EmergencyFlow:     c.emergencyFlow.Load(),
		EmergencyDuration: c.emergencyDuration.Load(),
	}
}

func (c *Config) CautionTemp() float64                 { return c.caution.Load() }
func (c *Config) CriticalTemp() float64                { return c.critical.Load() }
func (c *Config) AutoShutdown() bool                   { return c.autoShutdown.Load() }
func (c *Config) EmergencyFlow() float64               { return c.emergencyFlow.Load() }
func (c *Config) EmergencyDuration() time.Duration     { return c.emergencyDuration.Load() }
func (c *Config) SetCautionTemp(v float64)             { c.caution.Store(v) }
func (c *Config) SetCriticalTemp(v float64)            { c.critical.Store(v) }
func (c *Config) SetAutoShutdown(v bool)               { c.autoShutdown.Store(v) }
func (c *Config) SetEmergencyFlow(v float64)           { c.emergencyFlow.Store(v) }
func (c *Config) SetEmergencyDuration(d time.Duration) { c.emergencyDuration.Store(d) }
