// Package discretize maps continuous ranges onto uniform integer grids.
//
// The same Grid value is consumed by the offline policy solver and by the
// runtime table lookup; Standard is the one shared constant set for both.
package discretize

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrCount = errors.New("discretize: count must be at least 2")
	ErrRange = errors.New("discretize: max must exceed min")
)

// Discretizer is an immutable uniform quantizer over [Min, Max] with Count
// cells. Index 0 maps to Min and index Count-1 maps to Max.
type Discretizer struct {
	Min   float64 `yaml:"min" json:"min"`
	Max   float64 `yaml:"max" json:"max"`
	Count int     `yaml:"count" json:"count"`
}

func New(min, max float64, count int) (Discretizer, error) {
	d := Discretizer{Min: min, Max: max, Count: count}
	return d, d.Validate()
}

// MustNew is New for package-level constants.
func MustNew(min, max float64, count int) Discretizer {
	d, err := New(min, max, count)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Discretizer) Validate() error {
	if d.Count < 2 {
		return fmt.Errorf("%w: got %d", ErrCount, d.Count)
	}
	if !(d.Max > d.Min) {
		return fmt.Errorf("%w: [%g, %g]", ErrRange, d.Min, d.Max)
	}
	return nil
}

// Interval is the spacing between adjacent cell centers.
func (d Discretizer) Interval() float64 {
	return (d.Max - d.Min) / float64(d.Count-1)
}

// Discretize returns the index of the cell nearest x, clamped to
// [0, Count-1]. NaN maps to 0.
func (d Discretizer) Discretize(x float64) int {
	k := math.Round((x - d.Min) / d.Interval())
	if !(k > 0) {
		return 0
	}
	if k > float64(d.Count-1) {
		return d.Count - 1
	}
	return int(k)
}

// Undiscretize returns the center of cell k.
func (d Discretizer) Undiscretize(k int) float64 {
	return d.Interval()*float64(k) + d.Min
}

// Values lists every cell center in index order.
func (d Discretizer) Values() []float64 {
	out := make([]float64, d.Count)
	for k := range out {
		out[k] = d.Undiscretize(k)
	}
	return out
}
