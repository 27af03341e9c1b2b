package estimate

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/rwpend/internal/dynamo"
	"github.com/san-kum/rwpend/internal/physics"
)

// NonlinearModel steps the reaction-wheel dynamics with one forward Euler
// step of Dt and measures the pendulum angle only.
type NonlinearModel struct {
	Plant *physics.ReactionWheel
	Dt    float64
	Q     *mat.SymDense
	R     *mat.SymDense
}

// DefaultProcessNoise is the process covariance used when none is configured.
func DefaultProcessNoise() *mat.SymDense {
	return Diag(1.0, 1e-5, 1e-2)
}

// DefaultAngleNoise matches the 12-bit resolution of the magnetic angle sensor.
func DefaultAngleNoise() *mat.SymDense {
	return Diag(1e-3)
}

func NewNonlinearModel(plant *physics.ReactionWheel, dt float64) *NonlinearModel {
	return &NonlinearModel{
		Plant: plant,
		Dt:    dt,
		Q:     DefaultProcessNoise(),
		R:     DefaultAngleNoise(),
	}
}

func (m *NonlinearModel) Dims() (int, int) {
	return dynamo.StateDim, 1
}

func toState(x mat.Vector) dynamo.State {
	return dynamo.State{x.AtVec(0), x.AtVec(1), x.AtVec(2)}
}

func (m *NonlinearModel) Transition(x mat.Vector, u float64) *mat.VecDense {
	s := toState(x)
	dx := m.Plant.Derive(s, dynamo.Control{u}, 0)
	out := mat.NewVecDense(dynamo.StateDim, nil)
	for i := range s {
		out.SetVec(i, s[i]+m.Dt*dx[i])
	}
	return out
}

// TransitionJacobian is I + Dt·J(x) for the continuous Jacobian J.
func (m *NonlinearModel) TransitionJacobian(x mat.Vector) *mat.Dense {
	j := m.Plant.Jacobian(toState(x))
	out := mat.NewDense(3, 3, nil)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			v := m.Dt * j[r][c]
			if r == c {
				v++
			}
			out.Set(r, c, v)
		}
	}
	return out
}

func (m *NonlinearModel) Observe(x mat.Vector) *mat.VecDense {
	return mat.NewVecDense(1, []float64{x.AtVec(dynamo.Angle)})
}

func (m *NonlinearModel) ObservationJacobian(mat.Vector) *mat.Dense {
	return mat.NewDense(1, 3, []float64{0, 1, 0})
}

func (m *NonlinearModel) ProcessNoise() mat.Symmetric     { return m.Q }
func (m *NonlinearModel) MeasurementNoise() mat.Symmetric { return m.R }

func (m *NonlinearModel) AngleRow() int { return 0 }

// EncoderModel augments the nonlinear model with the wheel speed magnitude
// derived from an incremental encoder's tick rate: y = (|ω|, θ).
type EncoderModel struct {
	NonlinearModel
}

func NewEncoderModel(plant *physics.ReactionWheel, dt float64) *EncoderModel {
	m := &EncoderModel{NonlinearModel: *NewNonlinearModel(plant, dt)}
	m.R = Diag(0.1, 1e-3)
	return m
}

func (m *EncoderModel) Dims() (int, int) {
	return dynamo.StateDim, 2
}

func (m *EncoderModel) Observe(x mat.Vector) *mat.VecDense {
	return mat.NewVecDense(2, []float64{math.Abs(x.AtVec(dynamo.WheelSpeed)), x.AtVec(dynamo.Angle)})
}

func (m *EncoderModel) ObservationJacobian(x mat.Vector) *mat.Dense {
	return mat.NewDense(2, 3, []float64{
		dynamo.Signum(x.AtVec(dynamo.WheelSpeed)), 0, 0,
		0, 1, 0,
	})
}

func (m *EncoderModel) AngleRow() int { return 1 }
