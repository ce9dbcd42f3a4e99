// Package config loads simulator settings from YAML, applies presets and
// validates the result before the composition root is built.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/reactorsim/internal/integrators"
	"github.com/san-kum/reactorsim/internal/safety"
	"github.com/san-kum/reactorsim/internal/thermal"
)

const (
	DefaultDt         = 0.5
	DefaultTimeScale  = 1.0
	DefaultIntegrator = "euler"
	DefaultHistory    = 240
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Dt         float64       `yaml:"dt"`
	TimeScale  float64       `yaml:"time_scale"`
	Integrator string        `yaml:"integrator"`
	History    int           `yaml:"history"`
	Reactor    ReactorConfig `yaml:"reactor"`
	Coolant    CoolantConfig `yaml:"coolant"`
	Safety     SafetyConfig  `yaml:"safety"`
	RodControl RodControl    `yaml:"rod_control"`
}

type ReactorConfig struct {
	InitialTemp        float64 `yaml:"initial_temp"`
	NominalPower       float64 `yaml:"nominal_power"`
	Mass               float64 `yaml:"mass"`
	SpecificHeat       float64 `yaml:"specific_heat"`
	HeatTransferCoeff  float64 `yaml:"heat_transfer_coeff"`
	InitialRodPosition float64 `yaml:"initial_rod_position"`
}

type CoolantConfig struct {
	InitialTemp       float64 `yaml:"initial_temp"`
	Mass              float64 `yaml:"mass"`
	SpecificHeat      float64 `yaml:"specific_heat"`
	SinkTemp          float64 `yaml:"sink_temp"`
	HeatTransferCoeff float64 `yaml:"heat_transfer_coeff"`
	InitialFlowRate   float64 `yaml:"initial_flow_rate"`
	ResetFlowRate     float64 `yaml:"reset_flow_rate"`
}

// RodControl tunes the automatic rod controller. Gains are per °C of
// error; Bias is the rod position at zero output.
type RodControl struct {
	Enabled       bool    `yaml:"enabled"`
	Setpoint      float64 `yaml:"setpoint"`
	Kp            float64 `yaml:"kp"`
	Ki            float64 `yaml:"ki"`
	Kd            float64 `yaml:"kd"`
	Bias          float64 `yaml:"bias"`
	IntegralLimit float64 `yaml:"integral_limit"`
}

type SafetyConfig struct {
	CautionTemp        float64 `yaml:"caution_temp"`
	CriticalTemp       float64 `yaml:"critical_temp"`
	AutoShutdown       bool    `yaml:"auto_shutdown"`
	EmergencyFlow      float64 `yaml:"emergency_flow"`
	EmergencyDurationS float64 `yaml:"emergency_duration_s"`
}

func DefaultConfig() *Config {
	r := thermal.DefaultReactorParams()
	c := thermal.DefaultCoolantParams()
	s := safety.DefaultSettings()
	return &Config{
		Dt:         DefaultDt,
		TimeScale:  DefaultTimeScale,
		Integrator: DefaultIntegrator,
		History:    DefaultHistory,
		Reactor: ReactorConfig{
			InitialTemp:        r.InitialTemp,
			NominalPower:       r.NominalPower,
			Mass:               r.Mass,
			SpecificHeat:       r.SpecificHeat,
			HeatTransferCoeff:  r.HeatTransferCoeff,
			InitialRodPosition: r.InitialRodPosition,
		},
		Coolant: CoolantConfig{
			InitialTemp:       c.InitialTemp,
			Mass:              c.Mass,
			SpecificHeat:      c.SpecificHeat,
			SinkTemp:          c.SinkTemp,
			HeatTransferCoeff: c.HeatTransferCoeff,
			InitialFlowRate:   c.InitialFlowRate,
			ResetFlowRate:     c.ResetFlowRate,
		},
		Safety: SafetyConfig{
			CautionTemp:        s.CautionTemp,
			CriticalTemp:       s.CriticalTemp,
			AutoShutdown:       s.AutoShutdown,
			EmergencyFlow:      s.EmergencyFlow,
			EmergencyDurationS: s.EmergencyDuration.Seconds(),
		},
		RodControl: RodControl{
			Setpoint:      450.0,
			Kp:            0.02,
			Ki:            0.002,
			Bias:          0.5,
			IntegralLimit: 0.5,
		},
	}
}

// Clone returns an independent copy.
func (c *Config) Clone() *Config {
	out := *c
	return &out
}

// Load reads path on top of the defaults.
func Load(path string) (*Config, error) {
	return LoadOnto(path, DefaultConfig())
}

// LoadOnto reads path on top of base, leaving base untouched. Fields absent
// from the file keep the base value.
func LoadOnto(path string, base *Config) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := base.Clone()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func positive(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return fmt.Errorf("%w: %s must be positive, got %v", ErrInvalidConfig, name, v)
	}
	return nil
}

func finite(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s must be finite, got %v", ErrInvalidConfig, name, v)
	}
	return nil
}

func (c *Config) Validate() error {
	checks := []error{
		positive("dt", c.Dt),
		positive("time_scale", c.TimeScale),
		positive("reactor.mass", c.Reactor.Mass),
		positive("reactor.specific_heat", c.Reactor.SpecificHeat),
		positive("coolant.mass", c.Coolant.Mass),
		positive("coolant.specific_heat", c.Coolant.SpecificHeat),
		finite("reactor.initial_temp", c.Reactor.InitialTemp),
		finite("reactor.nominal_power", c.Reactor.NominalPower),
		finite("reactor.heat_transfer_coeff", c.Reactor.HeatTransferCoeff),
		finite("coolant.initial_temp", c.Coolant.InitialTemp),
		finite("coolant.sink_temp", c.Coolant.SinkTemp),
		finite("coolant.heat_transfer_coeff", c.Coolant.HeatTransferCoeff),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	if _, err := integrators.Lookup(c.Integrator); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.History < 0 {
		return fmt.Errorf("%w: history must not be negative", ErrInvalidConfig)
	}
	for name, v := range map[string]float64{
		"rod_control.setpoint": c.RodControl.Setpoint,
		"rod_control.kp":       c.RodControl.Kp,
		"rod_control.ki":       c.RodControl.Ki,
		"rod_control.kd":       c.RodControl.Kd,
		"rod_control.bias":     c.RodControl.Bias,
	} {
		if err := finite(name, v); err != nil {
			return err
		}
	}
	return c.Safety.Validate()
}

func (s SafetyConfig) Validate() error {
	if err := finite("safety.caution_temp", s.CautionTemp); err != nil {
		return err
	}
	if err := finite("safety.critical_temp", s.CriticalTemp); err != nil {
		return err
	}
	if s.CautionTemp > s.CriticalTemp {
		return fmt.Errorf("%w: caution_temp %.1f above critical_temp %.1f", ErrInvalidConfig, s.CautionTemp, s.CriticalTemp)
	}
	if math.IsNaN(s.EmergencyFlow) || s.EmergencyFlow < 0 {
		return fmt.Errorf("%w: safety.emergency_flow must not be negative", ErrInvalidConfig)
	}
	if math.IsNaN(s.EmergencyDurationS) || s.EmergencyDurationS < 0 {
		return fmt.Errorf("%w: safety.emergency_duration_s must not be negative", ErrInvalidConfig)
	}
	return nil
}

func (r ReactorConfig) Params() thermal.ReactorParams {
	return thermal.ReactorParams{
		InitialTemp:        r.InitialTemp,
		NominalPower:       r.NominalPower,
		Mass:               r.Mass,
		SpecificHeat:       r.SpecificHeat,
		HeatTransferCoeff:  r.HeatTransferCoeff,
		InitialRodPosition: r.InitialRodPosition,
	}
}

func (c CoolantConfig) Params() thermal.CoolantParams {
	return thermal.CoolantParams{
		InitialTemp:       c.InitialTemp,
		Mass:              c.Mass,
		SpecificHeat:      c.SpecificHeat,
		SinkTemp:          c.SinkTemp,
		HeatTransferCoeff: c.HeatTransferCoeff,
		InitialFlowRate:   c.InitialFlowRate,
		ResetFlowRate:     c.ResetFlowRate,
	}
}

func (s SafetyConfig) Settings() safety.Settings {
	return safety.Settings{
		CautionTemp:       s.CautionTemp,
		CriticalTemp:      s.CriticalTemp,
		AutoShutdown:      s.AutoShutdown,
		EmergencyFlow:     s.EmergencyFlow,
		EmergencyDuration: time.Duration(s.EmergencyDurationS * float64(time.Second)),
	}
}
