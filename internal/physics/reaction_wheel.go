package physics

import (
	"fmt"
	"math"

	"github.com/san-kum/rwpend/internal/dynamo"
)

// ReactionWheel is an inverted pendulum actuated by a motor-driven wheel.
//
// State is (wheel speed ω, pendulum angle θ, angle rate θ̇) with θ = 0 upright.
// The single control input is the normalized motor command u ∈ [-1, 1].
type ReactionWheel struct {
	MotorGain     float64 // steady-state wheel speed at u = 1, rad/s
	MotorTau      float64 // motor time constant, s
	InertiaRatio  float64 // wheel/pendulum inertia coupling
	Radius        float64 // pivot to center of mass, m
	Damping       float64
	Gravity       float64
	CommandBounds float64
}

func NewReactionWheel() *ReactionWheel {
	return &ReactionWheel{
		MotorGain:     330.0,
		MotorTau:      0.7,
		InertiaRatio:  0.03320426557380722 * 1.15,
		Radius:        0.145,
		Damping:       0.2,
		Gravity:       9.81,
		CommandBounds: 1.0,
	}
}

func (r *ReactionWheel) StateDim() int {
	return dynamo.StateDim
}

func (r *ReactionWheel) ControlDim() int {
	return 1
}

// WheelAccel is the wheel angular acceleration for command u at wheel speed omega.
func (r *ReactionWheel) WheelAccel(omega, u float64) float64 {
	return (r.MotorGain*u - omega) / r.MotorTau
}

func (r *ReactionWheel) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	omega := x[dynamo.WheelSpeed]
	theta := x[dynamo.Angle]
	thetaDot := x[dynamo.AngleRate]

	cmd := 0.0
	if len(u) > 0 {
		cmd = dynamo.Clamp(u[0], -r.CommandBounds, r.CommandBounds)
	}

	wheel := r.WheelAccel(omega, cmd)
	alpha := -r.InertiaRatio*wheel - r.Damping*thetaDot + r.Gravity/r.Radius*math.Sin(theta)

	return dynamo.State{wheel, thetaDot, alpha}
}

// Jacobian returns ∂f/∂x of the continuous dynamics at x. It does not
// depend on the command.
func (r *ReactionWheel) Jacobian(x dynamo.State) [3][3]float64 {
	theta := x[dynamo.Angle]
	return [3][3]float64{
		{-1 / r.MotorTau, 0, 0},
		{0, 0, 1},
		{r.InertiaRatio / r.MotorTau, r.Gravity / r.Radius * math.Cos(theta), -r.Damping},
	}
}

func (r *ReactionWheel) Normalize(x dynamo.State) dynamo.State {
	x[dynamo.Angle] = dynamo.WrapAngle(x[dynamo.Angle])
	return x
}

// Energy is the pendulum's potential plus kinetic energy per unit mass,
// with potential measured from the pivot: r·g·cos θ + (r·θ̇)²/2.
func (r *ReactionWheel) Energy(x dynamo.State) float64 {
	v := r.Radius * x[dynamo.AngleRate]
	return r.Radius*r.Gravity*math.Cos(x[dynamo.Angle]) + v*v/2
}

// TopEnergy is the energy of the pendulum at rest upright.
func (r *ReactionWheel) TopEnergy() float64 {
	return r.Radius * r.Gravity
}

// BottomEnergy is the energy of the pendulum at rest hanging down.
func (r *ReactionWheel) BottomEnergy() float64 {
	return -r.Radius * r.Gravity
}

// NaturalFrequency is the small-swing frequency about the hanging
// equilibrium in Hz, ignoring damping.
func (r *ReactionWheel) NaturalFrequency() float64 {
	return math.Sqrt(r.Gravity/r.Radius) / (2 * math.Pi)
}

func (r *ReactionWheel) GetParams() map[string]float64 {
	return map[string]float64{
		"motor_gain":    r.MotorGain,
		"motor_tau":     r.MotorTau,
		"inertia_ratio": r.InertiaRatio,
		"radius":        r.Radius,
		"damping":       r.Damping,
		"gravity":       r.Gravity,
	}
}

func (r *ReactionWheel) SetParam(name string, value float64) error {
	switch name {
	case "motor_gain":
		r.MotorGain = value
	case "motor_tau":
		if value <= 0 {
			return fmt.Errorf("%w: motor_tau must be positive", dynamo.ErrParameterBounds)
		}
		r.MotorTau = value
	case "inertia_ratio":
		r.InertiaRatio = value
	case "radius":
		if value <= 0 {
			return fmt.Errorf("%w: radius must be positive", dynamo.ErrParameterBounds)
		}
		r.Radius = value
	case "damping":
		r.Damping = value
	case "gravity":
		r.Gravity = value
	default:
		return fmt.Errorf("unknown param: %s", name)
	}
	return nil
}
