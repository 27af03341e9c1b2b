// Package sim runs the control loop against the simulated plant in virtual
// time, one loop tick per step, and records what both sides saw.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/san-kum/rwpend/internal/dynamo"
	"github.com/san-kum/rwpend/internal/encoder"
	"github.com/san-kum/rwpend/internal/estimate"
	"github.com/san-kum/rwpend/internal/hw"
	"github.com/san-kum/rwpend/internal/loop"
	"github.com/san-kum/rwpend/internal/physics"
)

// epoch anchors virtual time for components that want a time.Time.
var epoch = time.Unix(0, 0)

func at(t float64) time.Time {
	return epoch.Add(time.Duration(t * float64(time.Second)))
}

// Frame is one step of a closed-loop run.
type Frame struct {
	Time     float64
	State    dynamo.State
	Estimate dynamo.State
	Control  float64
	Mode     string
}

type Simulator struct {
	plant     *hw.Plant
	loop      *loop.Loop
	metrics   []dynamo.Metric
	observers []dynamo.Observer
}

func New(plant *hw.Plant, l *loop.Loop) *Simulator {
	return &Simulator{
		plant:     plant,
		loop:      l,
		metrics:   make([]dynamo.Metric, 0),
		observers: make([]dynamo.Observer, 0),
	}
}

// Setup describes a closed loop around a freshly built plant.
type Setup struct {
	System     *physics.ReactionWheel
	Initial    dynamo.State
	Plant      hw.PlantConfig
	Filter     *estimate.EKF
	Controller dynamo.Controller
	Options    []loop.Option
}

// NewClosedLoop builds the plant, reads its angle through an AS5600 on the
// plant's bus and drives its motor from the loop. Estimators with more than
// one measurement row also get the wheel speed magnitude from the encoder.
func NewClosedLoop(s Setup) *Simulator {
	plant := hw.NewPlant(s.System, s.Initial, s.Plant)
	sensor := hw.NewAS5600(plant.Bus())

	opts := []loop.Option{loop.WithReference(s.Plant.Offset)}
	if _, ny := s.Filter.Model().Dims(); ny > 1 {
		meter := encoder.NewSpeedMeter(plant.Tracker(), tpr(s.Plant), at(plant.Time()))
		opts = append(opts, loop.WithExtraMeasurements(func() []float64 {
			return []float64{meter.Sample(at(plant.Time())).Abs}
		}))
	}
	opts = append(opts, s.Options...)

	return New(plant, loop.New(sensor, plant, s.Filter, s.Controller, opts...))
}

func tpr(cfg hw.PlantConfig) int {
	if cfg.TicksPerRev > 0 {
		return cfg.TicksPerRev
	}
	return encoder.DefaultTicksPerRev
}

func (s *Simulator) AddMetric(m dynamo.Metric)     { s.metrics = append(s.metrics, m) }
func (s *Simulator) AddObserver(o dynamo.Observer) { s.observers = append(s.observers, o) }

func (s *Simulator) Plant() *hw.Plant { return s.plant }
func (s *Simulator) Loop() *loop.Loop { return s.loop }

// Run ticks the loop and advances the plant by cfg.Dt until cfg.Duration.
// Every recorded series has one entry per step, taken before the plant
// moves. Metrics and observers see the true state.
func (s *Simulator) Run(ctx context.Context, cfg dynamo.Config) (*dynamo.Result, error) {
	if err := s.validate(cfg); err != nil {
		return nil, err
	}

	steps := int(math.Round(cfg.Duration / cfg.Dt))
	result := &dynamo.Result{
		States:    make([]dynamo.State, 0, steps),
		Estimates: make([]dynamo.State, 0, steps),
		Controls:  make([]dynamo.Control, 0, steps),
		Modes:     make([]string, 0, steps),
		Times:     make([]float64, 0, steps),
		Metrics:   make(map[string]float64),
		Errors:    make([]error, 0),
	}

	for _, m := range s.metrics {
		m.Reset()
	}

	err := s.step(ctx, cfg, steps, func(i int, f Frame) bool {
		result.States = append(result.States, f.State)
		result.Estimates = append(result.Estimates, f.Estimate)
		result.Controls = append(result.Controls, dynamo.Control{f.Control})
		result.Modes = append(result.Modes, f.Mode)
		result.Times = append(result.Times, f.Time)
		result.StepsTaken++
		return true
	})
	var simErr *dynamo.SimulationError
	if errors.As(err, &simErr) {
		result.Errors = append(result.Errors, simErr)
		err = nil
	}

	for _, m := range s.metrics {
		result.Metrics[m.Name()] = m.Value()
	}
	stats := s.loop.Stats()
	result.Metrics["sensor_errors"] = float64(stats.SensorErrors)
	result.Metrics["singular_updates"] = float64(stats.SingularUpdates)
	result.Metrics["missing_rows"] = float64(stats.MissingRows)

	return result, err
}

// RunWithCallback is Run without the record: callback sees each frame and
// stops the run by returning false.
func (s *Simulator) RunWithCallback(ctx context.Context, cfg dynamo.Config, callback func(Frame) bool) error {
	if err := s.validate(cfg); err != nil {
		return err
	}
	steps := int(math.Round(cfg.Duration / cfg.Dt))
	return s.step(ctx, cfg, steps, func(_ int, f Frame) bool { return callback(f) })
}

func (s *Simulator) step(ctx context.Context, cfg dynamo.Config, steps int, emit func(int, Frame) bool) error {
	for i := 0; i < steps; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		t := s.plant.Time()
		x := s.plant.State()
		tick := s.loop.Tick(ctx, t)
		u := dynamo.Control{tick.Command}

		for _, m := range s.metrics {
			m.Observe(x, u, t)
		}
		for _, obs := range s.observers {
			obs.OnStep(x, u, t)
		}

		if !emit(i, Frame{Time: t, State: x, Estimate: tick.Estimate, Control: tick.Command, Mode: tick.Mode}) {
			return nil
		}

		s.plant.Advance(cfg.Dt)

		if next := s.plant.State(); cfg.ValidateState && !next.IsValid() {
			return &dynamo.SimulationError{Step: i, Time: t, State: next, Wrapped: dynamo.ErrInvalidState}
		}
	}
	return nil
}

func (s *Simulator) validate(cfg dynamo.Config) error {
	if n := len(s.plant.State()); n != dynamo.StateDim {
		return fmt.Errorf("%w: plant state has %d components, want %d", dynamo.ErrDimensionMismatch, n, dynamo.StateDim)
	}
	return validateConfig(cfg)
}

func validateConfig(cfg dynamo.Config) error {
	if cfg.Dt <= 0 {
		return fmt.Errorf("%w: dt must be positive, got %f", dynamo.ErrParameterBounds, cfg.Dt)
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive, got %f", dynamo.ErrParameterBounds, cfg.Duration)
	}
	return nil
}
