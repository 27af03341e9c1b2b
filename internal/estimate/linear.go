package estimate

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/rwpend/internal/dynamo"
	"github.com/san-kum/rwpend/internal/physics"
)

// LinearModel is a discrete-time LTI model: x' = A x + B u, y = C x.
type LinearModel struct {
	A *mat.Dense
	B *mat.VecDense
	C *mat.Dense
	Q *mat.SymDense
	R *mat.SymDense
}

func NewLinearModel(a *mat.Dense, b *mat.VecDense, c *mat.Dense, q, r *mat.SymDense) (*LinearModel, error) {
	nx, nc := a.Dims()
	ny, cc := c.Dims()
	switch {
	case nx != nc:
		return nil, fmt.Errorf("%w: A is %dx%d", ErrDimension, nx, nc)
	case b.Len() != nx:
		return nil, fmt.Errorf("%w: B has %d rows, want %d", ErrDimension, b.Len(), nx)
	case cc != nx:
		return nil, fmt.Errorf("%w: C has %d columns, want %d", ErrDimension, cc, nx)
	case q.SymmetricDim() != nx:
		return nil, fmt.Errorf("%w: Q is %d wide, want %d", ErrDimension, q.SymmetricDim(), nx)
	case r.SymmetricDim() != ny:
		return nil, fmt.Errorf("%w: R is %d wide, want %d", ErrDimension, r.SymmetricDim(), ny)
	}
	return &LinearModel{A: a, B: b, C: c, Q: q, R: r}, nil
}

// Linearize discretizes the reaction wheel around x0 with a forward Euler
// step of dt and returns an angle-only model.
func Linearize(rw *physics.ReactionWheel, x0 dynamo.State, dt float64, q, r *mat.SymDense) *LinearModel {
	j := rw.Jacobian(x0)
	a := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for k := 0; k < 3; k++ {
			v := dt * j[i][k]
			if i == k {
				v += 1
			}
			a.Set(i, k, v)
		}
	}
	gain := rw.MotorGain / rw.MotorTau
	b := mat.NewVecDense(3, []float64{dt * gain, 0, -dt * rw.InertiaRatio * gain})
	c := mat.NewDense(1, 3, []float64{0, 1, 0})
	return &LinearModel{A: a, B: b, C: c, Q: q, R: r}
}

func (m *LinearModel) Dims() (int, int) {
	ny, _ := m.C.Dims()
	return m.B.Len(), ny
}

func (m *LinearModel) Transition(x mat.Vector, u float64) *mat.VecDense {
	out := mat.NewVecDense(m.B.Len(), nil)
	out.MulVec(m.A, x)
	out.AddScaledVec(out, u, m.B)
	return out
}

func (m *LinearModel) TransitionJacobian(mat.Vector) *mat.Dense {
	return mat.DenseCopyOf(m.A)
}

func (m *LinearModel) Observe(x mat.Vector) *mat.VecDense {
	ny, _ := m.C.Dims()
	out := mat.NewVecDense(ny, nil)
	out.MulVec(m.C, x)
	return out
}

func (m *LinearModel) ObservationJacobian(mat.Vector) *mat.Dense {
	return mat.DenseCopyOf(m.C)
}

func (m *LinearModel) ProcessNoise() mat.Symmetric     { return m.Q }
func (m *LinearModel) MeasurementNoise() mat.Symmetric { return m.R }
