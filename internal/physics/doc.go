// Package physics provides the continuous-time model of the reaction-wheel
// pendulum.
//
// [ReactionWheel] implements [dynamo.System] for integration, plus
// [dynamo.Hamiltonian] for the energy terms used by the swing-up law,
// [dynamo.Normalizer] for angle wraparound and [dynamo.Configurable] for
// parameter overrides from configuration:
//
//	rw := physics.NewReactionWheel()
//	dx := rw.Derive(x, dynamo.Control{u}, t)
//	e := rw.Energy(x)
package physics
