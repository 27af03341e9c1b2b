package sim

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/san-kum/rwpend/internal/control"
	"github.com/san-kum/rwpend/internal/dynamo"
	"github.com/san-kum/rwpend/internal/estimate"
	"github.com/san-kum/rwpend/internal/hw"
	"github.com/san-kum/rwpend/internal/physics"
)

const testDt = 0.01

func newTestSim(x0, prior dynamo.State, ctrl func(*physics.ReactionWheel) dynamo.Controller, mutate func(*hw.PlantConfig)) *Simulator {
	rw := physics.NewReactionWheel()
	cfg := hw.DefaultPlantConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	filter := estimate.New(estimate.NewNonlinearModel(rw, testDt), estimate.WithPrior(prior))
	return NewClosedLoop(Setup{
		System:     rw,
		Initial:    x0,
		Plant:      cfg,
		Filter:     filter,
		Controller: ctrl(rw),
	})
}

func hybrid(rw *physics.ReactionWheel) dynamo.Controller {
	return control.NewHybrid(rw, control.DefaultHybridParams())
}

func runConfig(duration float64) dynamo.Config {
	cfg := dynamo.DefaultConfig()
	cfg.Dt = testDt
	cfg.Duration = duration
	return cfg
}

func TestSimulatorRecordsEveryStep(t *testing.T) {
	hanging := dynamo.State{0, math.Pi, 0}
	s := newTestSim(hanging, hanging, hybrid, nil)

	result, err := s.Run(context.Background(), runConfig(1))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	n := 100
	if result.StepsTaken != n {
		t.Fatalf("expected %d steps, got %d", n, result.StepsTaken)
	}
	for name, got := range map[string]int{
		"states":    len(result.States),
		"estimates": len(result.Estimates),
		"controls":  len(result.Controls),
		"modes":     len(result.Modes),
		"times":     len(result.Times),
	} {
		if got != n {
			t.Errorf("expected %d %s, got %d", n, name, got)
		}
	}

	for i, tm := range result.Times {
		if math.Abs(tm-float64(i)*testDt) > 1e-9 {
			t.Fatalf("time %d: expected %.3f, got %.6f", i, float64(i)*testDt, tm)
		}
	}
	for i, mode := range result.Modes {
		if mode != "swinging" {
			t.Fatalf("step %d: expected swinging, got %s", i, mode)
		}
		if result.Controls[i][0] == 0 {
			t.Fatalf("step %d: swinging from rest must command torque", i)
		}
	}
}

func TestSimulatorBalancesNearUpright(t *testing.T) {
	x0 := dynamo.State{0, 0.05, 0}
	s := newTestSim(x0, x0, hybrid, nil)

	result, err := s.Run(context.Background(), runConfig(3))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	last := len(result.States) - 1
	if mode := result.Modes[last]; mode != "balancing" {
		t.Errorf("expected balancing at the end, got %s", mode)
	}
	if theta := result.States[last][dynamo.Angle]; math.Abs(theta) > 0.05 {
		t.Errorf("expected the pendulum near upright, got θ=%.4f", theta)
	}
}

func TestSimulatorSwingsAwayFromRest(t *testing.T) {
	hanging := dynamo.State{0, math.Pi, 0}
	s := newTestSim(hanging, hanging, hybrid, nil)

	result, err := s.Run(context.Background(), runConfig(8))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	maxSwing := 0.0
	for _, x := range result.States {
		maxSwing = math.Max(maxSwing, math.Abs(dynamo.SubAngles(x[dynamo.Angle], math.Pi)))
	}
	if maxSwing < 0.2 {
		t.Errorf("expected the pendulum to swing, max excursion %.4f", maxSwing)
	}
}

func TestSimulatorInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  dynamo.Config
	}{
		{"zero dt", dynamo.Config{Dt: 0, Duration: 1.0}},
		{"negative dt", dynamo.Config{Dt: -0.1, Duration: 1.0}},
		{"zero duration", dynamo.Config{Dt: 0.1, Duration: 0}},
		{"negative duration", dynamo.Config{Dt: 0.1, Duration: -1.0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSim(dynamo.State{0, math.Pi, 0}, dynamo.State{0, math.Pi, 0}, hybrid, nil)
			_, err := s.Run(context.Background(), tt.cfg)
			if !errors.Is(err, dynamo.ErrParameterBounds) {
				t.Errorf("expected ErrParameterBounds, got %v", err)
			}
		})
	}
}

type testMetric struct {
	count int
	sum   float64
}

func (t *testMetric) Name() string { return "test" }
func (t *testMetric) Observe(x dynamo.State, u dynamo.Control, time float64) {
	t.count++
	t.sum += math.Abs(x[dynamo.Angle])
}
func (t *testMetric) Value() float64 {
	if t.count == 0 {
		return 0
	}
	return t.sum / float64(t.count)
}
func (t *testMetric) Reset() {
	t.count = 0
	t.sum = 0
}

func TestSimulatorMetrics(t *testing.T) {
	s := newTestSim(dynamo.State{0, math.Pi, 0}, dynamo.State{0, math.Pi, 0}, hybrid, nil)

	metric := &testMetric{}
	s.AddMetric(metric)

	result, err := s.Run(context.Background(), runConfig(0.5))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if _, ok := result.Metrics["test"]; !ok {
		t.Error("metric not found in result")
	}
	if metric.count != 50 {
		t.Errorf("expected 50 observations, got %d", metric.count)
	}
	if v := result.Metrics["test"]; math.Abs(v-math.Pi) > 0.1 {
		t.Errorf("expected the true angle near π early on, got mean %.4f", v)
	}
}

func TestSimulatorCountsSensorFailures(t *testing.T) {
	s := newTestSim(dynamo.State{0, math.Pi, 0}, dynamo.State{0, math.Pi, 0}, hybrid, func(c *hw.PlantConfig) {
		c.FailEvery = 10
	})

	result, err := s.Run(context.Background(), runConfig(1))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got := result.Metrics["sensor_errors"]; got != 10 {
		t.Errorf("expected 10 sensor errors, got %v", got)
	}
	if result.StepsTaken != 100 {
		t.Errorf("expected the run to ride through failures, got %d steps", result.StepsTaken)
	}
}

func TestSimulatorSensorOffset(t *testing.T) {
	x0 := dynamo.State{0, 0.05, 0}
	s := newTestSim(x0, x0, hybrid, func(c *hw.PlantConfig) {
		c.Offset = 2.1
	})

	result, err := s.Run(context.Background(), runConfig(1))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	est := result.Estimates[len(result.Estimates)-1]
	truth := result.States[len(result.States)-1]
	if d := math.Abs(dynamo.SubAngles(est[dynamo.Angle], truth[dynamo.Angle])); d > 0.05 {
		t.Errorf("estimate %.4f drifted from truth %.4f", est[dynamo.Angle], truth[dynamo.Angle])
	}
}

func TestSimulatorCanceled(t *testing.T) {
	s := newTestSim(dynamo.State{0, math.Pi, 0}, dynamo.State{0, math.Pi, 0}, hybrid, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := s.Run(ctx, runConfig(1))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if result == nil || result.StepsTaken != 0 {
		t.Errorf("expected an empty partial result, got %+v", result)
	}
}

func TestSimulatorRunWithCallback(t *testing.T) {
	s := newTestSim(dynamo.State{0, math.Pi, 0}, dynamo.State{0, math.Pi, 0}, hybrid, nil)

	frames := 0
	err := s.RunWithCallback(context.Background(), runConfig(1), func(f Frame) bool {
		frames++
		if len(f.State) != dynamo.StateDim || len(f.Estimate) != dynamo.StateDim {
			t.Fatalf("unexpected frame dims: %+v", f)
		}
		return frames < 25
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if frames != 25 {
		t.Errorf("expected the callback to stop the run at 25 frames, got %d", frames)
	}
	if got := s.Plant().Time(); math.Abs(got-24*testDt) > 1e-9 {
		t.Errorf("expected the plant to stop at t=%.2f, got %.4f", 24*testDt, got)
	}
}

func TestSimulatorEncoderModel(t *testing.T) {
	rw := physics.NewReactionWheel()
	x0 := dynamo.State{0, math.Pi, 0}
	s := NewClosedLoop(Setup{
		System:     rw,
		Initial:    x0,
		Plant:      hw.DefaultPlantConfig(),
		Filter:     estimate.New(estimate.NewEncoderModel(rw, testDt), estimate.WithPrior(x0)),
		Controller: &control.Constant{U: 0.1},
	})

	result, err := s.Run(context.Background(), runConfig(3))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	for i, x := range result.Estimates {
		if !x.IsValid() {
			t.Fatalf("estimate %d invalid: %v", i, x)
		}
	}
	// The encoder resolves about 6 rad/s per tick at this rate, so compare
	// averages over the last second.
	var est, truth float64
	tail := result.Estimates[len(result.Estimates)-100:]
	for i, x := range tail {
		est += x[dynamo.WheelSpeed]
		truth += result.States[len(result.States)-100+i][dynamo.WheelSpeed]
	}
	est, truth = est/100, truth/100
	if math.Abs(est-truth) > 8 {
		t.Errorf("mean wheel speed estimate %.2f far from truth %.2f", est, truth)
	}
}

func TestSimulatorStopsOnInvalidState(t *testing.T) {
	rw := physics.NewReactionWheel()
	if err := rw.SetParam("gravity", math.NaN()); err != nil {
		t.Fatal(err)
	}
	x0 := dynamo.State{0, 0.1, 0}
	s := NewClosedLoop(Setup{
		System:     rw,
		Initial:    x0,
		Plant:      hw.DefaultPlantConfig(),
		Filter:     estimate.New(estimate.NewNonlinearModel(physics.NewReactionWheel(), testDt), estimate.WithPrior(x0)),
		Controller: hybrid(physics.NewReactionWheel()),
	})

	result, err := s.Run(context.Background(), runConfig(1))
	if err != nil {
		t.Fatalf("an invalid state should end the run without an error, got %v", err)
	}
	if result.StepsTaken != 1 || len(result.Errors) != 1 {
		t.Fatalf("expected one step and one recorded error, got %d steps and %v", result.StepsTaken, result.Errors)
	}
	var simErr *dynamo.SimulationError
	if !errors.As(result.Errors[0], &simErr) || !errors.Is(simErr, dynamo.ErrInvalidState) {
		t.Fatalf("expected a SimulationError wrapping ErrInvalidState, got %v", result.Errors[0])
	}
	if simErr.Step != 0 || simErr.State.IsValid() {
		t.Errorf("unexpected error context: step %d, state %v", simErr.Step, simErr.State)
	}
}

func TestSimulatorRejectsWrongStateSize(t *testing.T) {
	x0 := dynamo.State{0, 0.1, 0, 0}
	s := newTestSim(x0, dynamo.State{0, 0.1, 0}, hybrid, nil)

	if _, err := s.Run(context.Background(), runConfig(1)); !errors.Is(err, dynamo.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch from Run, got %v", err)
	}
	err := s.RunWithCallback(context.Background(), runConfig(1), func(Frame) bool { return true })
	if !errors.Is(err, dynamo.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch from RunWithCallback, got %v", err)
	}
}
