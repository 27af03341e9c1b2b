package integrators

import "github.com/san-kum/rwpend/internal/dynamo"

// Euler is the explicit first-order method. The policy solver and the
// discrete-time estimator models both use it so that their transitions match.
type Euler struct{}

func NewEuler() *Euler {
	return &Euler{}
}

func (e *Euler) Step(dyn dynamo.System, x dynamo.State, u dynamo.Control, t, dt float64) dynamo.State {
	dx := dyn.Derive(x, u, t)
	result := make(dynamo.State, len(x))
	for i := range x {
		result[i] = x[i] + dt*dx[i]
	}
	return result
}
