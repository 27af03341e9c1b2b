package control

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/rwpend/internal/dynamo"
)

var ErrNoConvergence = errors.New("control: riccati iteration did not converge")

const (
	riccatiIterations = 20000
	riccatiTolerance  = 1e-10
)

// DefaultLQRWeights reproduce a gain close to DefaultGain on the standard
// plant at a 10 ms period.
var (
	DefaultLQRWeights = [3]float64{1e-5, 1, 0.01}
	DefaultLQREffort  = 1.0
)

// LQRGain returns the discrete infinite-horizon LQR gain F for
// x[k+1] = A·x[k] + B·u[k], minimizing Σ xᵀ·diag(q)·x + r·u², so that
// u = -F·x. It iterates the Riccati recursion in the closed-loop form
// P = Q + (A-BF)ᵀP(A-BF) + r·FᵀF, which stays symmetric positive
// semidefinite in floating point.
func LQRGain(a mat.Matrix, b mat.Vector, q [3]float64, r float64) ([3]float64, error) {
	var gain [3]float64
	n, c := a.Dims()
	if n != dynamo.StateDim || c != n || b.Len() != n {
		return gain, fmt.Errorf("%w: want %d-state system, got A %dx%d, B %d",
			dynamo.ErrParameterBounds, dynamo.StateDim, n, c, b.Len())
	}
	if !(r > 0) {
		return gain, fmt.Errorf("%w: effort weight %g must be positive", dynamo.ErrParameterBounds, r)
	}
	for _, w := range q {
		if w < 0 {
			return gain, fmt.Errorf("%w: negative state weight %g", dynamo.ErrParameterBounds, w)
		}
	}

	qm := mat.NewDiagDense(n, q[:])
	p := mat.DenseCopyOf(qm)
	var (
		pb   = mat.NewVecDense(n, nil)
		f    = mat.NewVecDense(n, nil)
		acl  = mat.NewDense(n, n, nil)
		tmp  = mat.NewDense(n, n, nil)
		next = mat.NewDense(n, n, nil)
		ff   = mat.NewDense(n, n, nil)
	)

	for it := 0; it < riccatiIterations; it++ {
		pb.MulVec(p, b)
		s := r + mat.Dot(b, pb)
		f.MulVec(a.T(), pb)
		f.ScaleVec(1/s, f)

		acl.Outer(1, b, f)
		acl.Sub(a, acl)
		tmp.Mul(p, acl)
		next.Mul(acl.T(), tmp)
		ff.Outer(r, f, f)
		next.Add(next, ff)
		next.Add(next, qm)
		tmp.Copy(next.T())
		next.Add(next, tmp)
		next.Scale(0.5, next)

		diff, scale := 0.0, 0.0
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				diff = math.Max(diff, math.Abs(next.At(i, j)-p.At(i, j)))
				scale = math.Max(scale, math.Abs(next.At(i, j)))
			}
		}
		if math.IsNaN(diff) || math.IsInf(scale, 0) {
			break
		}
		p.Copy(next)
		if diff <= riccatiTolerance*scale {
			for i := range gain {
				gain[i] = f.AtVec(i)
			}
			return gain, nil
		}
	}
	return gain, ErrNoConvergence
}
