package control

import "github.com/san-kum/rwpend/internal/dynamo"

// DefaultGain is the balance feedback row F for the reaction-wheel pendulum
// at the upright equilibrium.
var DefaultGain = [3]float64{-0.00582551, -8.00347, -0.967164}

// Feedback is the linear balance law u = -F·x, clamped to ±Limit.
type Feedback struct {
	Gain  [3]float64
	Limit float64
}

func NewFeedback(gain [3]float64) *Feedback {
	return &Feedback{Gain: gain, Limit: 1}
}

// Raw returns -F·x without clamping.
func (f *Feedback) Raw(x dynamo.State) float64 {
	return -x.Dot(f.Gain[:])
}

func (f *Feedback) Compute(x dynamo.State, t float64) dynamo.Control {
	return dynamo.Control{dynamo.Clamp(f.Raw(x), -f.Limit, f.Limit)}
}

func (f *Feedback) GetParams() map[string]float64 {
	return map[string]float64{
		"k_wheel": f.Gain[0],
		"k_angle": f.Gain[1],
		"k_rate":  f.Gain[2],
		"limit":   f.Limit,
	}
}

func (f *Feedback) SetParam(name string, value float64) error {
	switch name {
	case "k_wheel":
		f.Gain[0] = value
	case "k_angle":
		f.Gain[1] = value
	case "k_rate":
		f.Gain[2] = value
	case "limit":
		f.Limit = value
	default:
		return unknownParam(name)
	}
	return nil
}
