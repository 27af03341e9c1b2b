// Package automation runs batches of experiments: scripted scenarios read
// from YAML and Monte Carlo sweeps over randomized initial states.
package automation

import (
	"context"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/rwpend/internal/config"
	"github.com/san-kum/rwpend/internal/dynamo"
	"github.com/san-kum/rwpend/internal/experiment"
)

// Scenario is a scripted sequence of runs.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Steps       []Step `yaml:"steps"`
}

// Step describes one run as changes to a base config. Zero fields keep
// the base value.
type Step struct {
	Name       string             `yaml:"name"`
	Preset     string             `yaml:"preset"`
	Controller string             `yaml:"controller"`
	Estimator  string             `yaml:"estimator"`
	Policy     string             `yaml:"policy"`
	Duration   float64            `yaml:"duration"`
	Dt         float64            `yaml:"dt"`
	InitState  []float64          `yaml:"init_state"`
	Params     map[string]float64 `yaml:"params"`
	Save       bool               `yaml:"save"`
}

// StepResult pairs a finished step with its run.
type StepResult struct {
	Step   string
	Config *config.Config
	Result *dynamo.Result
	RunID  string
}

// SaveFunc stores a run and returns its ID.
type SaveFunc func(cfg *config.Config, res *dynamo.Result) (string, error)

func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(sc.Steps) == 0 {
		return nil, fmt.Errorf("%w: scenario %q has no steps", config.ErrInvalid, sc.Name)
	}
	return &sc, nil
}

// Config builds the step's config on top of base, or on top of its preset
// when one is named.
func (s Step) Config(base *config.Config) (*config.Config, error) {
	cfg := base.Clone()
	if s.Preset != "" {
		cfg = config.GetPreset(s.Preset)
		if cfg == nil {
			return nil, fmt.Errorf("%w: unknown preset %q", config.ErrInvalid, s.Preset)
		}
	}
	if s.Controller != "" {
		cfg.Controller = s.Controller
	}
	if s.Estimator != "" {
		cfg.Estimator = s.Estimator
	}
	if s.Policy != "" {
		cfg.Policy = s.Policy
	}
	if s.Duration > 0 {
		cfg.Duration = s.Duration
	}
	if s.Dt > 0 {
		cfg.Dt = s.Dt
	}
	if n := len(s.InitState); n > 0 {
		if n != dynamo.StateDim {
			return nil, fmt.Errorf("%w: init_state needs %d values, got %d", config.ErrInvalid, dynamo.StateDim, n)
		}
		cfg.InitState = config.InitStateConfig{WheelSpeed: s.InitState[0], Angle: s.InitState[1], AngleRate: s.InitState[2]}
	}
	for name, v := range s.Params {
		if err := cfg.SetParam(name, v); err != nil {
			return nil, err
		}
	}
	return cfg, cfg.Validate()
}

// RunScenario executes the steps in order. Steps marked save are passed to
// save, which may be nil when nothing is stored.
func RunScenario(ctx context.Context, sc *Scenario, base *config.Config, registry *experiment.Registry, save SaveFunc) ([]StepResult, error) {
	results := make([]StepResult, 0, len(sc.Steps))

	for i, step := range sc.Steps {
		name := step.Name
		if name == "" {
			name = fmt.Sprintf("step-%d", i+1)
		}
		entry := log.WithFields(log.Fields{"scenario": sc.Name, "step": name, "of": len(sc.Steps)})

		cfg, err := step.Config(base)
		if err != nil {
			return results, fmt.Errorf("%s: %w", name, err)
		}
		exp := experiment.New(cfg, registry)
		if err := exp.Setup(); err != nil {
			return results, fmt.Errorf("%s setup: %w", name, err)
		}
		res, err := exp.Run(ctx)
		if err != nil {
			return results, fmt.Errorf("%s run: %w", name, err)
		}

		sr := StepResult{Step: name, Config: cfg, Result: res}
		if step.Save && save != nil {
			if sr.RunID, err = save(cfg, res); err != nil {
				return results, fmt.Errorf("%s save: %w", name, err)
			}
		}
		entry.WithField("upright", res.Metrics["upright"]).Info("scenario step done")
		results = append(results, sr)
	}
	return results, nil
}
