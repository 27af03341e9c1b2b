package experiment

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/san-kum/rwpend/internal/config"
	"github.com/san-kum/rwpend/internal/dynamo"
	"github.com/san-kum/rwpend/internal/estimate"
	"github.com/san-kum/rwpend/internal/hw"
	"github.com/san-kum/rwpend/internal/loop"
	"github.com/san-kum/rwpend/internal/physics"
	"github.com/san-kum/rwpend/internal/policy"
	"github.com/san-kum/rwpend/internal/sim"
	"github.com/san-kum/rwpend/internal/telemetry"
)

// Experiment is one configured closed-loop run.
type Experiment struct {
	cfg        *config.Config
	registry   *Registry
	system     *physics.ReactionWheel
	controller dynamo.Controller
	filter     *estimate.EKF
	simulator  *sim.Simulator
}

func New(cfg *config.Config, registry *Registry) *Experiment {
	return &Experiment{cfg: cfg, registry: registry}
}

// Setup validates the config and builds the plant, estimator, controller
// and loop. opts are passed on to the loop.
func (e *Experiment) Setup(opts ...loop.Option) error {
	if err := e.cfg.Validate(); err != nil {
		return err
	}
	sys, err := e.cfg.System()
	if err != nil {
		return err
	}
	ctrl, err := e.registry.GetController(e.cfg, sys)
	if err != nil {
		return err
	}
	model, err := e.registry.GetEstimator(e.cfg, sys)
	if err != nil {
		return err
	}

	e.system = sys
	e.controller = ctrl
	e.filter = estimate.New(model, estimate.WithCovariance(e.cfg.Estimate.InitialCovariance))
	e.simulator = sim.NewClosedLoop(sim.Setup{
		System:     sys,
		Initial:    e.cfg.InitialState(),
		Plant:      e.cfg.PlantConfig(),
		Filter:     e.filter,
		Controller: ctrl,
		Options:    append([]loop.Option{loop.WithPeriod(e.cfg.Loop.Period)}, opts...),
	})
	for _, m := range e.registry.DefaultMetrics(sys, ctrl) {
		e.simulator.AddMetric(m)
	}

	log.WithFields(log.Fields{
		"controller": e.cfg.Controller,
		"estimator":  e.cfg.Estimator,
		"dt":         e.cfg.Dt,
		"duration":   e.cfg.Duration,
		"x0":         e.cfg.InitialState(),
	}).Info("experiment ready")
	return nil
}

func (e *Experiment) Run(ctx context.Context) (*dynamo.Result, error) {
	if e.simulator == nil {
		return nil, fmt.Errorf("experiment not setup")
	}
	return e.simulator.Run(ctx, e.cfg.RunConfig())
}

// RunWithCallback streams frames instead of recording them.
func (e *Experiment) RunWithCallback(ctx context.Context, fn func(sim.Frame) bool) error {
	if e.simulator == nil {
		return fmt.Errorf("experiment not setup")
	}
	return e.simulator.RunWithCallback(ctx, e.cfg.RunConfig(), fn)
}

func (e *Experiment) Simulator() *sim.Simulator     { return e.simulator }
func (e *Experiment) Controller() dynamo.Controller { return e.controller }
func (e *Experiment) Filter() *estimate.EKF         { return e.filter }
func (e *Experiment) System() *physics.ReactionWheel {
	return e.system
}

// Solver builds the offline policy solver described by cfg.
func Solver(cfg *config.Config, registry *Registry) (*policy.Solver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sys, err := cfg.System()
	if err != nil {
		return nil, err
	}
	newInteg, err := registry.IntegratorFactory(cfg.Solver.Integrator)
	if err != nil {
		return nil, err
	}

	sc := cfg.Solver
	s := policy.NewSolver(cfg.Grid, sys, policy.BalanceReward(sc.RewardGain, sc.RewardWindow))
	s.NewIntegrator = newInteg
	s.Horizon = sc.Horizon
	s.Substeps = sc.Substeps
	s.Sweeps = sc.Sweeps
	s.LearningRate = sc.LearningRate
	s.Discount = sc.Discount
	s.Tolerance = sc.Tolerance
	return s, nil
}

// Bench builds the open-loop motor bench on a fresh plant.
func Bench(cfg *config.Config, registry *Registry, q *telemetry.Queue) (*sim.Bench, error) {
	sys, err := cfg.System()
	if err != nil {
		return nil, err
	}
	ctrl, err := registry.GetController(cfg, sys)
	if err != nil {
		return nil, err
	}
	pc := cfg.PlantConfig()
	plant := hw.NewPlant(sys, cfg.InitialState(), pc)
	b := sim.NewBench(plant, ctrl, pc.TicksPerRev)
	if q != nil {
		b.WithTelemetry(q)
	}
	return b, nil
}

// Evaluate runs cfg with params applied and returns the run's metrics.
// cfg itself is not modified.
func Evaluate(ctx context.Context, cfg *config.Config, registry *Registry, params map[string]float64) (map[string]float64, error) {
	trial := cfg.Clone()
	for name, v := range params {
		if err := trial.SetParam(name, v); err != nil {
			return nil, err
		}
	}
	e := New(trial, registry)
	if err := e.Setup(); err != nil {
		return nil, err
	}
	res, err := e.Run(ctx)
	if err != nil {
		return nil, err
	}
	return res.Metrics, nil
}
