package control

import (
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"

	"github.com/san-kum/rwpend/internal/dynamo"
)

// Mode is the active law of the Hybrid controller.
type Mode int

const (
	Swinging Mode = iota
	Chilling
	Balancing
)

func (m Mode) String() string {
	switch m {
	case Swinging:
		return "swinging"
	case Chilling:
		return "chilling"
	case Balancing:
		return "balancing"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode is the inverse of Mode.String.
func ParseMode(s string) (Mode, error) {
	for _, m := range []Mode{Swinging, Chilling, Balancing} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown mode: %s", s)
}

// EnergyModel supplies the pendulum energy terms the swing-up law needs.
type EnergyModel interface {
	Energy(x dynamo.State) float64
	TopEnergy() float64
	BottomEnergy() float64
}

type HybridParams struct {
	Gain [3]float64 `yaml:"gain"`

	// Balancing is entered below EntryTolerance and left above
	// ExitTolerance; EntryTolerance < ExitTolerance.
	EntryTolerance float64 `yaml:"entry_tolerance"`
	ExitTolerance  float64 `yaml:"exit_tolerance"`
	BalanceBound   float64 `yaml:"balance_bound"`

	MaxWheelSpeed      float64 `yaml:"max_wheel_speed"`
	SaturationFraction float64 `yaml:"saturation_fraction"`
	SaturationTorque   float64 `yaml:"saturation_torque"`
	SwingTorque        float64 `yaml:"swing_torque"`
	BleedTorque        float64 `yaml:"bleed_torque"`
	BleedBlend         float64 `yaml:"bleed_blend"`
}

func DefaultHybridParams() HybridParams {
	return HybridParams{
		Gain:               DefaultGain,
		EntryTolerance:     0.2,
		ExitTolerance:      0.25,
		BalanceBound:       3.0,
		MaxWheelSpeed:      330,
		SaturationFraction: 0.2,
		SaturationTorque:   0.15,
		SwingTorque:        0.2,
		BleedTorque:        0.3,
		BleedBlend:         0.7,
	}
}

func (p HybridParams) Validate() error {
	if !(p.EntryTolerance > 0 && p.EntryTolerance < p.ExitTolerance) {
		return fmt.Errorf("%w: entry tolerance %g must be positive and below exit tolerance %g",
			dynamo.ErrParameterBounds, p.EntryTolerance, p.ExitTolerance)
	}
	if p.MaxWheelSpeed <= 0 {
		return fmt.Errorf("%w: max wheel speed %g", dynamo.ErrParameterBounds, p.MaxWheelSpeed)
	}
	if p.BleedBlend < 0 || p.BleedBlend > 1 {
		return fmt.Errorf("%w: bleed blend %g", dynamo.ErrParameterBounds, p.BleedBlend)
	}
	return nil
}

// Hybrid switches between energy pumping, energy bleeding and linear
// balance. It starts in Swinging and never terminates.
type Hybrid struct {
	params   HybridParams
	energy   EnergyModel
	feedback *Feedback

	mode     Mode
	last     float64
	switches int

	// OnSwitch, when set, is called after every mode change.
	OnSwitch func(from, to Mode, t float64)
}

func NewHybrid(energy EnergyModel, params HybridParams) *Hybrid {
	return &Hybrid{
		params:   params,
		energy:   energy,
		feedback: NewFeedback(params.Gain),
		mode:     Swinging,
	}
}

func (h *Hybrid) Mode() Mode {
	return h.mode
}

// Switches counts mode changes since construction.
func (h *Hybrid) Switches() int {
	return h.switches
}

func (h *Hybrid) Compute(x dynamo.State, t float64) dynamo.Control {
	var next Mode
	switch h.mode {
	case Swinging:
		next = h.swing(x)
	case Chilling:
		next = h.chill(x)
	case Balancing:
		next = h.balance(x)
	}

	if next != h.mode {
		log.WithFields(log.Fields{
			"from":   h.mode,
			"to":     next,
			"t":      t,
			"angle":  x[dynamo.Angle],
			"energy": h.energy.Energy(x),
		}).Info("mode switch")
		prev := h.mode
		h.mode = next
		h.switches++
		if h.OnSwitch != nil {
			h.OnSwitch(prev, next, t)
		}
	}
	return dynamo.Control{h.last}
}

func (h *Hybrid) swing(x dynamo.State) Mode {
	p := h.params
	omega := x[dynamo.WheelSpeed]
	rate := x[dynamo.AngleRate]
	e := h.energy.Energy(x)
	top := h.energy.TopEnergy()

	switch {
	case math.Abs(omega) > p.MaxWheelSpeed*p.SaturationFraction:
		h.last = -dynamo.Signum(omega) * p.SaturationTorque
	case e < top:
		h.last = -dynamo.Signum(rate) * p.SwingTorque
	case e > top:
		h.last = dynamo.Signum(rate) * p.SwingTorque
	default:
		h.last = omega / p.MaxWheelSpeed
	}

	u := h.feedback.Raw(x)
	if math.Abs(dynamo.WrapAngle(x[dynamo.Angle])) < p.EntryTolerance && math.Abs(u) < p.BalanceBound {
		return Balancing
	}
	return Swinging
}

// chill holds the previous command when handing back to Swinging.
func (h *Hybrid) chill(x dynamo.State) Mode {
	p := h.params
	target := p.BleedBlend*h.energy.TopEnergy() + (1-p.BleedBlend)*h.energy.BottomEnergy()
	if h.energy.Energy(x) > target {
		h.last = -dynamo.Signum(x[dynamo.WheelSpeed]) * p.BleedTorque
		return Chilling
	}
	return Swinging
}

func (h *Hybrid) balance(x dynamo.State) Mode {
	h.last = h.feedback.Compute(x, 0)[0]
	if math.Abs(dynamo.WrapAngle(x[dynamo.Angle])) > h.params.ExitTolerance {
		return Chilling
	}
	return Balancing
}

func unknownParam(name string) error {
	return fmt.Errorf("unknown param: %s", name)
}
