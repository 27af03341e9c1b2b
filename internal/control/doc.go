// Package control provides the torque laws for the reaction-wheel pendulum.
//
// Controllers implement [dynamo.Controller]:
//
//   - [Hybrid]: swing-up, energy bleed and balance with hysteresis
//   - [Feedback]: clamped linear state feedback u = -F·x, with F from
//     [DefaultGain] or solved by [LQRGain]
//   - [TableController]: lookup in a synthesized policy table
//   - [Constant], [Step], [Sine]: open-loop commands for bench runs
//
// # Usage
//
//	h := control.NewHybrid(physics.NewReactionWheel(), control.DefaultHybridParams())
//	u := h.Compute(ekf.State(), t)
//	// h.Mode() reports the active law
package control
