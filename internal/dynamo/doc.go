// Package dynamo provides the core primitives shared by the estimator, the
// offline policy solver and the runtime control loop.
//
// The package defines the fundamental interfaces and types:
//
//   - [State]: vector representing system state (wheel speed, angle, angle rate)
//   - [System]: continuous dynamics (dX/dt = f(X, u, t))
//   - [Integrator]: numerical integrator interface
//   - [Controller]: feedback controller interface
//   - [Metric] and [Observer]: per-tick instrumentation of the control loop
//
// # Angles
//
// Pendulum angles are kept in (-π, π]. [WrapAngle] is the single place that
// enforces this; [SubAngles] computes a wrapped difference.
//
// # Thread Safety
//
// Integrators may hold scratch buffers and are NOT safe for concurrent use.
// [ParallelFor] callers must give each chunk its own integrator.
package dynamo
