// Package config holds the YAML run configuration: plant constants, the
// shared grid, solver, controller, estimator, loop and telemetry settings.
package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/rwpend/internal/control"
	"github.com/san-kum/rwpend/internal/discretize"
	"github.com/san-kum/rwpend/internal/dynamo"
	"github.com/san-kum/rwpend/internal/estimate"
	"github.com/san-kum/rwpend/internal/hw"
	"github.com/san-kum/rwpend/internal/loop"
	"github.com/san-kum/rwpend/internal/physics"
	"github.com/san-kum/rwpend/internal/policy"
	"github.com/san-kum/rwpend/internal/telemetry"
)

const (
	DefaultDt       = 0.01
	DefaultDuration = 20.0
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Controller string  `yaml:"controller"`
	Estimator  string  `yaml:"estimator"`
	Policy     string  `yaml:"policy,omitempty"`
	Dt         float64 `yaml:"dt"`
	Duration   float64 `yaml:"duration"`
	Seed       uint64  `yaml:"seed"`

	InitState InitStateConfig      `yaml:"init_state"`
	Physics   PhysicsConfig        `yaml:"physics"`
	Grid      discretize.Grid      `yaml:"grid"`
	Solver    SolverConfig         `yaml:"solver"`
	Control   control.HybridParams `yaml:"controller_params"`
	LQR       LQRConfig            `yaml:"lqr"`
	OpenLoop  OpenLoopConfig       `yaml:"open_loop"`
	Estimate  EstimatorConfig      `yaml:"estimator_params"`
	Loop      LoopConfig           `yaml:"loop"`
	Telemetry TelemetryConfig      `yaml:"telemetry"`
	Plant     hw.PlantConfig       `yaml:"plant"`
}

type InitStateConfig struct {
	WheelSpeed float64 `yaml:"wheel_speed"`
	Angle      float64 `yaml:"angle"`
	AngleRate  float64 `yaml:"angle_rate"`
}

type PhysicsConfig struct {
	MotorGain    float64 `yaml:"motor_gain"`
	MotorTau     float64 `yaml:"motor_tau"`
	InertiaRatio float64 `yaml:"inertia_ratio"`
	Radius       float64 `yaml:"radius"`
	Damping      float64 `yaml:"damping"`
	Gravity      float64 `yaml:"gravity"`
}

type SolverConfig struct {
	Integrator   string     `yaml:"integrator"`
	Horizon      float64    `yaml:"horizon"`
	Substeps     int        `yaml:"substeps"`
	Sweeps       int        `yaml:"sweeps"`
	LearningRate float64    `yaml:"learning_rate"`
	Discount     float64    `yaml:"discount"`
	Tolerance    float64    `yaml:"tolerance"`
	RewardGain   [3]float64 `yaml:"reward_gain"`
	RewardWindow float64    `yaml:"reward_window"`
}

// LQRConfig weights the state and command for the lqr controllers.
type LQRConfig struct {
	Weights [3]float64 `yaml:"weights"`
	Effort  float64    `yaml:"effort"`
}

// OpenLoopConfig parameterizes the constant, step and sine controllers.
type OpenLoopConfig struct {
	Level     float64 `yaml:"level"`
	Delay     float64 `yaml:"delay"`
	Amplitude float64 `yaml:"amplitude"`
	Frequency float64 `yaml:"frequency"`
}

// EstimatorConfig sets the filter covariances. An empty MeasurementNoise
// keeps the chosen model's own R; otherwise it needs one entry per
// measurement row.
type EstimatorConfig struct {
	InitialCovariance float64    `yaml:"initial_covariance"`
	ProcessNoise      [3]float64 `yaml:"process_noise"`
	MeasurementNoise  []float64  `yaml:"measurement_noise,omitempty"`
}

type LoopConfig struct {
	Period time.Duration     `yaml:"period"`
	Settle loop.SettleConfig `yaml:"settle"`
}

type TelemetryConfig struct {
	Enabled       bool              `yaml:"enabled"`
	Addr          string            `yaml:"addr"`
	QueueCapacity int               `yaml:"queue_capacity"`
	Heartbeat     time.Duration     `yaml:"heartbeat"`
	MaxFrame      int               `yaml:"max_frame"`
	Backoff       telemetry.Backoff `yaml:"backoff"`
}

func DefaultPhysics() PhysicsConfig {
	rw := physics.NewReactionWheel()
	return PhysicsConfig{
		MotorGain:    rw.MotorGain,
		MotorTau:     rw.MotorTau,
		InertiaRatio: rw.InertiaRatio,
		Radius:       rw.Radius,
		Damping:      rw.Damping,
		Gravity:      rw.Gravity,
	}
}

func DefaultConfig() *Config {
	return &Config{
		Controller: "hybrid",
		Estimator:  "nonlinear",
		Dt:         DefaultDt,
		Duration:   DefaultDuration,
		Seed:       1,
		InitState:  InitStateConfig{Angle: 3.141592653589793},
		Physics:    DefaultPhysics(),
		Grid:       discretize.Standard(),
		Solver: SolverConfig{
			Integrator:   "euler",
			Horizon:      0.1,
			Substeps:     20,
			Sweeps:       400,
			LearningRate: 0.1,
			Discount:     0.9,
			RewardGain:   policy.DefaultRewardGain,
			RewardWindow: 0.3,
		},
		Control:  control.DefaultHybridParams(),
		LQR:      LQRConfig{Weights: control.DefaultLQRWeights, Effort: control.DefaultLQREffort},
		OpenLoop: OpenLoopConfig{Level: 0.1, Delay: 2, Amplitude: 0.2, Frequency: 1},
		Estimate: EstimatorConfig{
			InitialCovariance: estimate.InitialCovariance,
			ProcessNoise:      [3]float64{1, 1e-5, 1e-2},
		},
		Loop: LoopConfig{
			Period: loop.DefaultPeriod,
			Settle: loop.DefaultSettleConfig(),
		},
		Telemetry: TelemetryConfig{
			Addr:          telemetry.DefaultListenAddr,
			QueueCapacity: telemetry.DefaultQueueCapacity,
			Heartbeat:     telemetry.DefaultHeartbeat,
			MaxFrame:      telemetry.DefaultMaxFrame,
			Backoff: telemetry.Backoff{
				Initial: telemetry.DefaultBackoffInitial,
				Max:     telemetry.DefaultBackoffMax,
			},
		},
		Plant: hw.DefaultPlantConfig(),
	}
}

// Load reads path over the defaults, so a file only needs the keys it
// changes.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
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

func (c *Config) Validate() error {
	if c.Dt <= 0 {
		return fmt.Errorf("%w: dt must be positive, got %g", ErrInvalid, c.Dt)
	}
	if c.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive, got %g", ErrInvalid, c.Duration)
	}
	if err := c.Grid.Validate(); err != nil {
		return fmt.Errorf("%w: grid: %w", ErrInvalid, err)
	}
	if err := c.Control.Validate(); err != nil {
		return fmt.Errorf("%w: controller: %w", ErrInvalid, err)
	}
	if c.Solver.Horizon <= 0 || c.Solver.Substeps < 1 || c.Solver.Sweeps < 1 {
		return fmt.Errorf("%w: solver needs a positive horizon, sub-steps and sweeps", ErrInvalid)
	}
	if c.Solver.Discount < 0 || c.Solver.Discount >= 1 {
		return fmt.Errorf("%w: discount must be in [0, 1), got %g", ErrInvalid, c.Solver.Discount)
	}
	if c.Estimate.InitialCovariance <= 0 {
		return fmt.Errorf("%w: initial covariance must be positive", ErrInvalid)
	}
	if c.Controller == "policy" && c.Policy == "" {
		return fmt.Errorf("%w: the policy controller needs a policy name", ErrInvalid)
	}
	return nil
}

// System builds the plant dynamics from the physics section.
func (c *Config) System() (*physics.ReactionWheel, error) {
	rw := physics.NewReactionWheel()
	p := c.Physics
	err := configure(rw, map[string]float64{
		"motor_gain":    p.MotorGain,
		"motor_tau":     p.MotorTau,
		"inertia_ratio": p.InertiaRatio,
		"radius":        p.Radius,
		"damping":       p.Damping,
		"gravity":       p.Gravity,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: physics: %w", ErrInvalid, err)
	}
	return rw, nil
}

// configure sets values on sys by name. Names sys does not report from
// GetParams are rejected before anything is set.
func configure(sys dynamo.Configurable, values map[string]float64) error {
	known := sys.GetParams()
	for _, name := range slices.Sorted(maps.Keys(values)) {
		if _, ok := known[name]; !ok {
			return fmt.Errorf("unknown parameter %q", name)
		}
	}
	for _, name := range slices.Sorted(maps.Keys(values)) {
		if err := sys.SetParam(name, values[name]); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) InitialState() dynamo.State {
	return dynamo.State{c.InitState.WheelSpeed, c.InitState.Angle, c.InitState.AngleRate}
}

func (c *Config) RunConfig() dynamo.Config {
	rc := dynamo.DefaultConfig()
	rc.Dt = c.Dt
	rc.Duration = c.Duration
	return rc
}

// PlantConfig is the plant section with the run seed applied.
func (c *Config) PlantConfig() hw.PlantConfig {
	pc := c.Plant
	pc.Seed = c.Seed
	return pc
}

func (c *Config) TransmitterConfig() telemetry.TransmitterConfig {
	return telemetry.TransmitterConfig{Addr: c.Telemetry.Addr, Backoff: c.Telemetry.Backoff}
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Estimate.MeasurementNoise = append([]float64(nil), c.Estimate.MeasurementNoise...)
	return &out
}
