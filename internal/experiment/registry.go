// Package experiment resolves the named pieces of a run (controller,
// estimator, integrator) from a Config and assembles closed-loop runs and
// policy solves out of them.
package experiment

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/rwpend/internal/config"
	"github.com/san-kum/rwpend/internal/control"
	"github.com/san-kum/rwpend/internal/dynamo"
	"github.com/san-kum/rwpend/internal/estimate"
	"github.com/san-kum/rwpend/internal/integrators"
	"github.com/san-kum/rwpend/internal/metrics"
	"github.com/san-kum/rwpend/internal/physics"
	"github.com/san-kum/rwpend/internal/policy"
)

// PolicySource loads stored policy tables by name.
type PolicySource interface {
	LoadPolicy(name string) (*policy.Table, error)
}

type (
	controllerFunc func(cfg *config.Config, sys *physics.ReactionWheel) (dynamo.Controller, error)
	estimatorFunc  func(cfg *config.Config, sys *physics.ReactionWheel) (estimate.Model, error)
)

type Registry struct {
	integrators map[string]func() dynamo.Integrator
	controllers map[string]controllerFunc
	estimators  map[string]estimatorFunc
}

// NewRegistry registers the built-in pieces. policies may be nil, in which
// case the policy controller is unavailable.
func NewRegistry(policies PolicySource) *Registry {
	r := &Registry{
		integrators: make(map[string]func() dynamo.Integrator),
		controllers: make(map[string]controllerFunc),
		estimators:  make(map[string]estimatorFunc),
	}

	r.integrators["euler"] = func() dynamo.Integrator { return integrators.NewEuler() }
	r.integrators["rk4"] = func() dynamo.Integrator { return integrators.NewRK4() }

	r.controllers["hybrid"] = func(cfg *config.Config, sys *physics.ReactionWheel) (dynamo.Controller, error) {
		return control.NewHybrid(sys, cfg.Control), nil
	}
	r.controllers["feedback"] = func(cfg *config.Config, _ *physics.ReactionWheel) (dynamo.Controller, error) {
		return control.NewFeedback(cfg.Control.Gain), nil
	}
	r.controllers["lqr"] = func(cfg *config.Config, sys *physics.ReactionWheel) (dynamo.Controller, error) {
		gain, err := lqrGain(cfg, sys)
		if err != nil {
			return nil, err
		}
		return control.NewFeedback(gain), nil
	}
	r.controllers["hybrid-lqr"] = func(cfg *config.Config, sys *physics.ReactionWheel) (dynamo.Controller, error) {
		gain, err := lqrGain(cfg, sys)
		if err != nil {
			return nil, err
		}
		params := cfg.Control
		params.Gain = gain
		return control.NewHybrid(sys, params), nil
	}
	r.controllers["none"] = func(*config.Config, *physics.ReactionWheel) (dynamo.Controller, error) {
		return &control.Constant{}, nil
	}
	r.controllers["constant"] = func(cfg *config.Config, _ *physics.ReactionWheel) (dynamo.Controller, error) {
		return &control.Constant{U: cfg.OpenLoop.Level}, nil
	}
	r.controllers["step"] = func(cfg *config.Config, _ *physics.ReactionWheel) (dynamo.Controller, error) {
		return &control.Step{Delay: cfg.OpenLoop.Delay, Level: cfg.OpenLoop.Level}, nil
	}
	r.controllers["sine"] = func(cfg *config.Config, _ *physics.ReactionWheel) (dynamo.Controller, error) {
		return &control.Sine{Amplitude: cfg.OpenLoop.Amplitude, Frequency: cfg.OpenLoop.Frequency}, nil
	}
	if policies != nil {
		r.controllers["policy"] = func(cfg *config.Config, _ *physics.ReactionWheel) (dynamo.Controller, error) {
			table, err := policies.LoadPolicy(cfg.Policy)
			if err != nil {
				return nil, fmt.Errorf("load policy %q: %w", cfg.Policy, err)
			}
			return control.NewTableController(table, cfg.Grid)
		}
	}

	r.estimators["nonlinear"] = func(cfg *config.Config, sys *physics.ReactionWheel) (estimate.Model, error) {
		m := estimate.NewNonlinearModel(sys, cfg.Dt)
		m.Q = processNoise(cfg)
		rn, err := measurementNoise(cfg, 1)
		if err != nil {
			return nil, err
		}
		if rn != nil {
			m.R = rn
		}
		return m, nil
	}
	r.estimators["encoder"] = func(cfg *config.Config, sys *physics.ReactionWheel) (estimate.Model, error) {
		m := estimate.NewEncoderModel(sys, cfg.Dt)
		m.Q = processNoise(cfg)
		rn, err := measurementNoise(cfg, 2)
		if err != nil {
			return nil, err
		}
		if rn != nil {
			m.R = rn
		}
		return m, nil
	}
	r.estimators["linear"] = func(cfg *config.Config, sys *physics.ReactionWheel) (estimate.Model, error) {
		rn, err := measurementNoise(cfg, 1)
		if err != nil {
			return nil, err
		}
		if rn == nil {
			rn = estimate.DefaultAngleNoise()
		}
		return estimate.Linearize(sys, dynamo.State{0, 0, 0}, cfg.Dt, processNoise(cfg), rn), nil
	}

	return r
}

// lqrGain solves for a balance gain on the plant linearized upright at the
// control period.
func lqrGain(cfg *config.Config, sys *physics.ReactionWheel) ([3]float64, error) {
	lin := estimate.Linearize(sys, dynamo.State{0, 0, 0}, cfg.Dt, processNoise(cfg), estimate.DefaultAngleNoise())
	gain, err := control.LQRGain(lin.A, lin.B, cfg.LQR.Weights, cfg.LQR.Effort)
	if err != nil {
		return gain, fmt.Errorf("lqr: %w", err)
	}
	return gain, nil
}

func processNoise(cfg *config.Config) *mat.SymDense {
	q := cfg.Estimate.ProcessNoise
	return estimate.Diag(q[0], q[1], q[2])
}

// measurementNoise returns nil when the config leaves R to the model. A configured
// R of the wrong size for the model is an error.
func measurementNoise(cfg *config.Config, rows int) (*mat.SymDense, error) {
	r := cfg.Estimate.MeasurementNoise
	if len(r) == 0 {
		return nil, nil
	}
	if len(r) != rows {
		return nil, fmt.Errorf("%w: %s estimator has %d measurement rows, config gives %d",
			config.ErrInvalid, cfg.Estimator, rows, len(r))
	}
	return estimate.Diag(r...), nil
}

func (r *Registry) GetIntegrator(name string) (dynamo.Integrator, error) {
	fn, ok := r.integrators[name]
	if !ok {
		return nil, fmt.Errorf("unknown integrator: %s", name)
	}
	return fn(), nil
}

// IntegratorFactory returns a constructor for fresh integrators of name,
// for callers that need one per worker.
func (r *Registry) IntegratorFactory(name string) (func() dynamo.Integrator, error) {
	fn, ok := r.integrators[name]
	if !ok {
		return nil, fmt.Errorf("unknown integrator: %s", name)
	}
	return fn, nil
}

func (r *Registry) GetController(cfg *config.Config, sys *physics.ReactionWheel) (dynamo.Controller, error) {
	fn, ok := r.controllers[cfg.Controller]
	if !ok {
		return nil, fmt.Errorf("unknown controller: %s", cfg.Controller)
	}
	return fn(cfg, sys)
}

func (r *Registry) GetEstimator(cfg *config.Config, sys *physics.ReactionWheel) (estimate.Model, error) {
	fn, ok := r.estimators[cfg.Estimator]
	if !ok {
		return nil, fmt.Errorf("unknown estimator: %s", cfg.Estimator)
	}
	return fn(cfg, sys)
}

func (r *Registry) ListIntegrators() []string { return sortedKeys(r.integrators) }
func (r *Registry) ListControllers() []string { return sortedKeys(r.controllers) }
func (r *Registry) ListEstimators() []string  { return sortedKeys(r.estimators) }

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) DefaultMetrics(sys *physics.ReactionWheel, ctrl dynamo.Controller) []dynamo.Metric {
	return metrics.Standard(sys, ctrl)
}
