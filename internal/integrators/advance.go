package integrators

import (
	"fmt"

	"github.com/san-kum/rwpend/internal/dynamo"
)

// Advance integrates dyn from x over horizon using steps equal sub-steps with
// the command u held constant. When dyn implements dynamo.Normalizer the state
// is normalized after every sub-step so wrapped coordinates stay in range.
func Advance(integ dynamo.Integrator, dyn dynamo.System, x dynamo.State, u dynamo.Control, t, horizon float64, steps int) dynamo.State {
	if steps < 1 {
		steps = 1
	}
	norm, _ := dyn.(dynamo.Normalizer)
	dt := horizon / float64(steps)
	cur := x.Clone()
	for i := 0; i < steps; i++ {
		cur = integ.Step(dyn, cur, u, t+float64(i)*dt, dt)
		if norm != nil {
			cur = norm.Normalize(cur)
		}
	}
	return cur
}

// New returns a fresh integrator by name.
func New(name string) (dynamo.Integrator, error) {
	switch name {
	case "euler":
		return NewEuler(), nil
	case "rk4", "":
		return NewRK4(), nil
	default:
		return nil, fmt.Errorf("unknown integrator: %s", name)
	}
}

// Names lists the integrators accepted by New.
func Names() []string {
	return []string{"euler", "rk4"}
}
