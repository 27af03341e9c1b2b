// Package policy synthesizes a state-feedback lookup table offline by value
// iteration over a discretized model, and looks actions up at runtime.
package policy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/san-kum/rwpend/internal/discretize"
	"github.com/san-kum/rwpend/internal/dynamo"
	"github.com/san-kum/rwpend/internal/integrators"
)

var ErrTooLarge = errors.New("policy: grid axis exceeds 65535 cells")

// Solver builds transition and reward tables over Grid and runs value
// iteration on them.
//
// Cells with nonzero reward are absorbing: they keep their reward as value
// and are never backed up.
type Solver struct {
	Grid   discretize.Grid
	System dynamo.System
	Reward RewardFunc

	// NewIntegrator returns a fresh integrator per worker. Defaults to Euler.
	NewIntegrator func() dynamo.Integrator

	Horizon      float64
	Substeps     int
	Sweeps       int
	LearningRate float64
	Discount     float64
	// Tolerance stops iteration early once a sweep changes no value by more
	// than it. Zero always runs Sweeps sweeps.
	Tolerance float64

	// OnSweep, when set, is called after every sweep.
	OnSweep func(SweepStats)
}

type SweepStats struct {
	Sweep    int
	MaxDelta float64
	Reached  int
}

type Result struct {
	Table       *Table
	Rewards     []float64
	Values      []float64
	Transitions [][3]uint16
	Sweeps      int
	Converged   bool
	Elapsed     time.Duration
}

func NewSolver(grid discretize.Grid, sys dynamo.System, reward RewardFunc) *Solver {
	return &Solver{
		Grid:          grid,
		System:        sys,
		Reward:        reward,
		NewIntegrator: func() dynamo.Integrator { return integrators.NewEuler() },
		Horizon:       0.1,
		Substeps:      20,
		Sweeps:        400,
		LearningRate:  0.1,
		Discount:      0.9,
	}
}

func (s *Solver) validate() error {
	if err := s.Grid.Validate(); err != nil {
		return err
	}
	for _, n := range []int{s.Grid.Wheel.Count, s.Grid.Angle.Count, s.Grid.Rate.Count, s.Grid.Action.Count} {
		if n > math.MaxUint16 {
			return ErrTooLarge
		}
	}
	if s.System == nil || s.Reward == nil {
		return errors.New("policy: solver needs a system and a reward")
	}
	if s.Horizon <= 0 || s.Substeps < 1 {
		return fmt.Errorf("%w: horizon %g, substeps %d", dynamo.ErrParameterBounds, s.Horizon, s.Substeps)
	}
	if s.LearningRate <= 0 || s.LearningRate > 1 || s.Discount < 0 || s.Discount > 1 {
		return fmt.Errorf("%w: learning rate %g, discount %g", dynamo.ErrParameterBounds, s.LearningRate, s.Discount)
	}
	return nil
}

// Rewards evaluates the reward at every cell center.
func (s *Solver) Rewards() []float64 {
	g := s.Grid
	out := make([]float64, g.States())
	for i := range out {
		out[i] = s.Reward(g.Center(g.CellAt(i)))
	}
	return out
}

// Transitions simulates every (cell, action) pair for Horizon and records
// the destination cell. Entry i*Actions+a belongs to cell i and action a.
func (s *Solver) Transitions(ctx context.Context) ([][3]uint16, error) {
	g := s.Grid
	na := g.Actions()
	out := make([][3]uint16, g.States()*na)

	newInteg := s.NewIntegrator
	if newInteg == nil {
		newInteg = func() dynamo.Integrator { return integrators.NewEuler() }
	}

	dynamo.ParallelFor(g.States(), 64, func(start, end int) {
		integ := newInteg()
		u := dynamo.Control{0}
		for i := start; i < end; i++ {
			if ctx.Err() != nil {
				return
			}
			x := g.Center(g.CellAt(i))
			for a := 0; a < na; a++ {
				u[0] = g.Action.Undiscretize(a)
				c := g.Cell(integrators.Advance(integ, s.System, x, u, 0, s.Horizon, s.Substeps))
				out[i*na+a] = [3]uint16{uint16(c[0]), uint16(c[1]), uint16(c[2])}
			}
		}
	})
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", dynamo.ErrContextCanceled, err)
	}
	return out, nil
}

func (s *Solver) dest(t [3]uint16) int {
	return s.Grid.Index(discretize.Cell{int(t[0]), int(t[1]), int(t[2])})
}

// Iterate runs one synchronous sweep from values into next and returns the
// largest change.
func (s *Solver) Iterate(rewards, values, next []float64, trans [][3]uint16) float64 {
	na := s.Grid.Actions()
	alpha := s.LearningRate
	var maxDelta float64
	for i := range values {
		if rewards[i] != 0 {
			next[i] = values[i]
			continue
		}
		best := math.Inf(-1)
		for a := 0; a < na; a++ {
			best = math.Max(best, s.Discount*values[s.dest(trans[i*na+a])])
		}
		next[i] = (1-alpha)*values[i] + alpha*best
		maxDelta = math.Max(maxDelta, math.Abs(next[i]-values[i]))
	}
	return maxDelta
}

// Extract picks, per cell, the action whose destination has the highest
// value. Ties go to the lowest action index.
func (s *Solver) Extract(values []float64, trans [][3]uint16) []uint16 {
	na := s.Grid.Actions()
	out := make([]uint16, len(values))
	for i := range values {
		best, bestV := 0, math.Inf(-1)
		for a := 0; a < na; a++ {
			if v := values[s.dest(trans[i*na+a])]; v > bestV {
				best, bestV = a, v
			}
		}
		out[i] = uint16(best)
	}
	return out
}

// Solve runs the whole pipeline and returns the derived table.
func (s *Solver) Solve(ctx context.Context) (*Result, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	rewards := s.Rewards()
	trans, err := s.Transitions(ctx)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"cells":   len(rewards),
		"actions": s.Grid.Actions(),
		"elapsed": time.Since(start).Round(time.Millisecond),
	}).Info("transition table built")

	values := append([]float64(nil), rewards...)
	next := append([]float64(nil), rewards...)

	res := &Result{Rewards: rewards, Transitions: trans}
	for sweep := 0; sweep < s.Sweeps; sweep++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", dynamo.ErrContextCanceled, err)
		}
		delta := s.Iterate(rewards, values, next, trans)
		values, next = next, values
		res.Sweeps = sweep + 1

		if s.OnSweep != nil {
			s.OnSweep(SweepStats{Sweep: sweep, MaxDelta: delta, Reached: countNonzero(values)})
		}
		if s.Tolerance > 0 && delta < s.Tolerance {
			res.Converged = true
			break
		}
	}

	res.Values = values
	res.Table = &Table{Grid: s.Grid, Actions: s.Extract(values, trans)}
	res.Elapsed = time.Since(start)

	log.WithFields(log.Fields{
		"sweeps":    res.Sweeps,
		"converged": res.Converged,
		"reached":   countNonzero(values),
		"elapsed":   res.Elapsed.Round(time.Millisecond),
	}).Info("value iteration done")
	return res, nil
}

func countNonzero(v []float64) int {
	n := 0
	for _, x := range v {
		if x != 0 {
			n++
		}
	}
	return n
}
