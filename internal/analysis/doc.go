// Package analysis inspects recorded runs.
//
//   - [Spectrum] and [DominantFrequency]: power spectrum of a sampled
//     signal, used to compare free swings with the pendulum's natural
//     frequency.
//   - [NewPortrait]: a (θ, θ̇) phase portrait of a run, rendered as text
//     with [Portrait.ASCII].
//
// A swing-up shows as a spiral leaving the hanging equilibrium at ±π and
// closing onto the origin once balancing:
//
//	p := analysis.NewPortrait(res, dynamo.Angle, dynamo.AngleRate)
//	fmt.Print(p.ASCII(80, 24))
package analysis
