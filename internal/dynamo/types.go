package dynamo

import "math"

// Indices into the pendulum state vector.
const (
	WheelSpeed = iota
	Angle
	AngleRate

	StateDim = 3
)

type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Dot returns the inner product of a gain row with the state.
func (s State) Dot(row []float64) float64 {
	sum := 0.0
	for i := range s {
		if i < len(row) {
			sum += s[i] * row[i]
		}
	}
	return sum
}

type Control []float64

type System interface {
	Derive(x State, u Control, t float64) State
	StateDim() int
	ControlDim() int
}

type Hamiltonian interface {
	Energy(x State) float64
}

// Normalizer is implemented by systems whose state has a periodic component
// that must be folded back after every integration step.
type Normalizer interface {
	Normalize(x State) State
}

type Integrator interface {
	Step(dyn System, x State, u Control, t float64, dt float64) State
}

type Controller interface {
	Compute(x State, t float64) Control
}

type Metric interface {
	Name() string
	Observe(x State, u Control, t float64)
	Value() float64
	Reset()
}

type Observer interface {
	OnStep(x State, u Control, t float64)
}

type Configurable interface {
	GetParams() map[string]float64
	SetParam(name string, value float64) error
}

type Config struct {
	Dt            float64
	Duration      float64
	ValidateState bool
}

func DefaultConfig() Config {
	return Config{
		Dt:            0.01,
		Duration:      10.0,
		ValidateState: true,
	}
}

// Result is the record of a closed-loop run: the true plant state, the
// estimator's view of it, the command issued and the controller mode.
type Result struct {
	States     []State
	Estimates  []State
	Controls   []Control
	Modes      []string
	Times      []float64
	Metrics    map[string]float64
	StepsTaken int
	Errors     []error
}
