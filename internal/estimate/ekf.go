package estimate

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/rwpend/internal/dynamo"
)

// InitialCovariance scales the identity used as the starting covariance.
const InitialCovariance = 10000.0

// EKF holds a state estimate and its covariance.
//
// The component at the angle index is kept in (-π, π] after every update.
// An EKF is not safe for concurrent use.
type EKF struct {
	model Model
	nx    int
	ny    int
	angle int

	x *mat.VecDense
	p *mat.Dense
}

type Option func(*EKF)

// WithPrior sets the initial state estimate.
func WithPrior(x dynamo.State) Option {
	return func(f *EKF) {
		for i := 0; i < f.nx && i < len(x); i++ {
			f.x.SetVec(i, x[i])
		}
	}
}

// WithCovariance sets the initial covariance to scale·I.
func WithCovariance(scale float64) Option {
	return func(f *EKF) {
		f.p = identity(f.nx, scale)
	}
}

// WithAngleIndex selects which state component is wrapped. A negative index
// disables wrapping.
func WithAngleIndex(i int) Option {
	return func(f *EKF) {
		f.angle = i
	}
}

func New(model Model, opts ...Option) *EKF {
	nx, ny := model.Dims()
	f := &EKF{
		model: model,
		nx:    nx,
		ny:    ny,
		angle: dynamo.Angle,
		x:     mat.NewVecDense(nx, nil),
		p:     identity(nx, InitialCovariance),
	}
	if f.angle >= nx {
		f.angle = -1
	}
	for _, opt := range opts {
		opt(f)
	}
	f.wrap(f.x)
	return f
}

func identity(n int, scale float64) *mat.Dense {
	p := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		p.Set(i, i, scale)
	}
	return p
}

func (f *EKF) wrap(x *mat.VecDense) {
	if f.angle < 0 {
		return
	}
	x.SetVec(f.angle, dynamo.WrapAngle(x.AtVec(f.angle)))
}

// TimeUpdate propagates the estimate through the model with command u.
// The Jacobian is evaluated at the propagated state.
func (f *EKF) TimeUpdate(u float64) {
	x := f.model.Transition(f.x, u)
	f.wrap(x)

	fx := f.model.TransitionJacobian(x)
	var fp, p mat.Dense
	fp.Mul(fx, f.p)
	p.Mul(&fp, fx.T())
	p.Add(f.model.ProcessNoise(), &p)

	f.x = x
	f.p = &p
}

// MeasurementUpdate corrects the estimate against measurement y.
func (f *EKF) MeasurementUpdate(y mat.Vector) error {
	if y.Len() != f.ny {
		return fmt.Errorf("%w: measurement has %d rows, want %d", ErrDimension, y.Len(), f.ny)
	}
	e := mat.NewVecDense(f.ny, nil)
	e.SubVec(y, f.model.Observe(f.x))
	return f.correct(e)
}

// MeasurementUpdateInnovation corrects the estimate with an innovation the
// caller has already computed, for example with angle wraparound applied.
func (f *EKF) MeasurementUpdateInnovation(e mat.Vector) error {
	if e.Len() != f.ny {
		return fmt.Errorf("%w: innovation has %d rows, want %d", ErrDimension, e.Len(), f.ny)
	}
	return f.correct(e)
}

// correct leaves x and P untouched unless the whole update succeeds.
func (f *EKF) correct(e mat.Vector) error {
	h := f.model.ObservationJacobian(f.x)

	var hp, s mat.Dense
	hp.Mul(h, f.p)
	s.Mul(&hp, h.T())
	s.Add(f.model.MeasurementNoise(), &s)

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		return fmt.Errorf("%w: %v", ErrSingularInnovation, err)
	}

	var pht, k mat.Dense
	pht.Mul(f.p, h.T())
	k.Mul(&pht, &sInv)

	var khp, p mat.Dense
	khp.Mul(&k, &hp)
	p.Sub(f.p, &khp)

	x := mat.NewVecDense(f.nx, nil)
	x.MulVec(&k, e)
	x.AddVec(f.x, x)
	f.wrap(x)

	f.x = x
	f.p = &p
	return nil
}

// PredictMeasurement returns h(x) for the current estimate.
func (f *EKF) PredictMeasurement() *mat.VecDense {
	return f.model.Observe(f.x)
}

// State returns a copy of the current estimate.
func (f *EKF) State() dynamo.State {
	s := make(dynamo.State, f.nx)
	for i := range s {
		s[i] = f.x.AtVec(i)
	}
	return s
}

// SetState overwrites the estimate, leaving the covariance alone.
func (f *EKF) SetState(x dynamo.State) {
	WithPrior(x)(f)
	f.wrap(f.x)
}

// Covariance returns a copy of P.
func (f *EKF) Covariance() *mat.Dense {
	return mat.DenseCopyOf(f.p)
}

func (f *EKF) Trace() float64 {
	return mat.Trace(f.p)
}

func (f *EKF) Model() Model {
	return f.model
}
