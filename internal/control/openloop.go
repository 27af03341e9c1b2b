package control

import (
	"math"

	"github.com/san-kum/rwpend/internal/dynamo"
)

// Constant commands a fixed output. The zero value stops the motor.
type Constant struct {
	U float64
}

func (c *Constant) Compute(x dynamo.State, t float64) dynamo.Control {
	return dynamo.Control{c.U}
}

// Step holds zero until Delay, then Level. Used to measure the motor's
// speed response on the bench.
type Step struct {
	Delay float64
	Level float64
}

func (s *Step) Compute(x dynamo.State, t float64) dynamo.Control {
	if t < s.Delay {
		return dynamo.Control{0}
	}
	return dynamo.Control{s.Level}
}

// Sine excites the plant with Amplitude·cos(2π·Frequency·t).
type Sine struct {
	Amplitude float64
	Frequency float64
}

func (s *Sine) Compute(x dynamo.State, t float64) dynamo.Control {
	return dynamo.Control{s.Amplitude * math.Cos(2*math.Pi*s.Frequency*t)}
}
