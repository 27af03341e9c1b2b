// Package estimate implements an extended Kalman filter over a pluggable
// process and measurement model.
//
// A Model supplies the transition f(x, u), its Jacobian, the measurement h(x),
// its Jacobian and both noise covariances. The filter is generic over the
// measurement dimension: angle-only and encoder-augmented models go through
// the same EKF without branching.
package estimate

import (
	"errors"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrSingularInnovation = errors.New("estimate: innovation covariance is singular")
	ErrDimension          = errors.New("estimate: dimension mismatch")
)

// Model is the process and measurement model consumed by the EKF.
// Implementations must not retain or mutate the vectors they are given.
type Model interface {
	// Dims returns the state and measurement dimensions.
	Dims() (nx, ny int)

	Transition(x mat.Vector, u float64) *mat.VecDense
	TransitionJacobian(x mat.Vector) *mat.Dense

	Observe(x mat.Vector) *mat.VecDense
	ObservationJacobian(x mat.Vector) *mat.Dense

	ProcessNoise() mat.Symmetric
	MeasurementNoise() mat.Symmetric
}

// AngleObserver is implemented by models that measure a wrapped angle.
// AngleRow is the measurement row holding it, so callers can wrap the
// innovation before correcting.
type AngleObserver interface {
	AngleRow() int
}

// Diag builds a diagonal covariance.
func Diag(v ...float64) *mat.SymDense {
	s := mat.NewSymDense(len(v), nil)
	for i, d := range v {
		s.SetSym(i, i, d)
	}
	return s
}
