package discretize

import (
	"errors"
	"fmt"

	"github.com/san-kum/rwpend/internal/dynamo"
)

var ErrGridMismatch = errors.New("discretize: grid mismatch")

// Cell indexes one discretized state.
type Cell [3]int

// Grid is the discretization shared by synthesis and runtime lookup: one
// Discretizer per state component plus one for the torque command.
type Grid struct {
	Wheel  Discretizer `yaml:"wheel" json:"wheel"`
	Angle  Discretizer `yaml:"angle" json:"angle"`
	Rate   Discretizer `yaml:"rate" json:"rate"`
	Action Discretizer `yaml:"action" json:"action"`
}

// Standard is the grid the deployed policy table is generated with.
func Standard() Grid {
	return Grid{
		Wheel:  MustNew(-400, 400, 41),
		Angle:  MustNew(-3.141592653589793, 3.141592653589793, 161),
		Rate:   MustNew(-60, 60, 61),
		Action: MustNew(-1, 1, 61),
	}
}

func (g Grid) Validate() error {
	for _, ax := range []struct {
		name string
		d    Discretizer
	}{{"wheel", g.Wheel}, {"angle", g.Angle}, {"rate", g.Rate}, {"action", g.Action}} {
		if err := ax.d.Validate(); err != nil {
			return fmt.Errorf("%s axis: %w", ax.name, err)
		}
	}
	return nil
}

// States is the number of discretized state cells.
func (g Grid) States() int {
	return g.Wheel.Count * g.Angle.Count * g.Rate.Count
}

func (g Grid) Actions() int {
	return g.Action.Count
}

// Cell discretizes a continuous state.
func (g Grid) Cell(x dynamo.State) Cell {
	return Cell{
		g.Wheel.Discretize(x[dynamo.WheelSpeed]),
		g.Angle.Discretize(x[dynamo.Angle]),
		g.Rate.Discretize(x[dynamo.AngleRate]),
	}
}

// Center returns the continuous state at the center of c.
func (g Grid) Center(c Cell) dynamo.State {
	return dynamo.State{
		g.Wheel.Undiscretize(c[0]),
		g.Angle.Undiscretize(c[1]),
		g.Rate.Undiscretize(c[2]),
	}
}

// Index flattens c in row-major order (wheel slowest, rate fastest).
func (g Grid) Index(c Cell) int {
	return (c[0]*g.Angle.Count+c[1])*g.Rate.Count + c[2]
}

// CellAt is the inverse of Index.
func (g Grid) CellAt(i int) Cell {
	r := i % g.Rate.Count
	i /= g.Rate.Count
	a := i % g.Angle.Count
	return Cell{i / g.Angle.Count, a, r}
}

// Check returns ErrGridMismatch when other differs from g on any axis.
func (g Grid) Check(other Grid) error {
	if g != other {
		return fmt.Errorf("%w: table %+v, runtime %+v", ErrGridMismatch, other, g)
	}
	return nil
}
