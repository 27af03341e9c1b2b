package config

import (
	"math"
	"sort"

	"github.com/san-kum/rwpend/internal/discretize"
)

// Presets are named starting points layered over DefaultConfig.
var Presets = map[string]func(*Config){
	"balance": func(c *Config) {
		c.Duration = 5
		c.InitState = InitStateConfig{Angle: 0.1}
	},
	"swingup": func(c *Config) {
		c.Duration = 30
		c.InitState = InitStateConfig{Angle: math.Pi}
	},
	"bench": func(c *Config) {
		c.Controller = "step"
		c.Duration = 10
		c.InitState = InitStateConfig{Angle: math.Pi}
		c.OpenLoop.Level = 0.1
		c.OpenLoop.Delay = 2
	},
	"sine": func(c *Config) {
		c.Controller = "sine"
		c.Duration = 10
		c.InitState = InitStateConfig{Angle: math.Pi}
	},
	"fast": func(c *Config) {
		c.Grid = discretize.Grid{
			Wheel:  discretize.MustNew(-400, 400, 11),
			Angle:  discretize.MustNew(-math.Pi, math.Pi, 41),
			Rate:   discretize.MustNew(-60, 60, 21),
			Action: discretize.MustNew(-1, 1, 11),
		}
		c.Solver.Sweeps = 100
		c.Solver.Tolerance = 1e-6
	},
	"encoder": func(c *Config) {
		c.Estimator = "encoder"
		c.Estimate.MeasurementNoise = []float64{0.1, 1e-3}
	},
}

// GetPreset returns a fresh config for the named preset, or nil.
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
