package config

import (
	"fmt"
	"sort"
)

// tunables maps parameter names accepted by SetParam to the field they
// address.
var tunables = map[string]func(*Config) *float64{
	"entry_tolerance":     func(c *Config) *float64 { return &c.Control.EntryTolerance },
	"exit_tolerance":      func(c *Config) *float64 { return &c.Control.ExitTolerance },
	"balance_bound":       func(c *Config) *float64 { return &c.Control.BalanceBound },
	"max_wheel_speed":     func(c *Config) *float64 { return &c.Control.MaxWheelSpeed },
	"saturation_fraction": func(c *Config) *float64 { return &c.Control.SaturationFraction },
	"saturation_torque":   func(c *Config) *float64 { return &c.Control.SaturationTorque },
	"swing_torque":        func(c *Config) *float64 { return &c.Control.SwingTorque },
	"bleed_torque":        func(c *Config) *float64 { return &c.Control.BleedTorque },
	"bleed_blend":         func(c *Config) *float64 { return &c.Control.BleedBlend },
	"gain_wheel":          func(c *Config) *float64 { return &c.Control.Gain[0] },
	"gain_angle":          func(c *Config) *float64 { return &c.Control.Gain[1] },
	"gain_rate":           func(c *Config) *float64 { return &c.Control.Gain[2] },
	"lqr_wheel":           func(c *Config) *float64 { return &c.LQR.Weights[0] },
	"lqr_angle":           func(c *Config) *float64 { return &c.LQR.Weights[1] },
	"lqr_rate":            func(c *Config) *float64 { return &c.LQR.Weights[2] },
	"lqr_effort":          func(c *Config) *float64 { return &c.LQR.Effort },
	"angle":               func(c *Config) *float64 { return &c.InitState.Angle },
	"angle_rate":          func(c *Config) *float64 { return &c.InitState.AngleRate },
	"wheel_speed":         func(c *Config) *float64 { return &c.InitState.WheelSpeed },
	"damping":             func(c *Config) *float64 { return &c.Physics.Damping },
}

// SetParam sets a tunable parameter by name.
func (c *Config) SetParam(name string, v float64) error {
	field, ok := tunables[name]
	if !ok {
		return fmt.Errorf("%w: unknown parameter %q", ErrInvalid, name)
	}
	*field(c) = v
	return nil
}

func (c *Config) Param(name string) (float64, bool) {
	field, ok := tunables[name]
	if !ok {
		return 0, false
	}
	return *field(c), true
}

// TunableParams lists the names SetParam accepts.
func TunableParams() []string {
	names := make([]string, 0, len(tunables))
	for name := range tunables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
