package export

import (
	"fmt"
	"io"

	"github.com/san-kum/rwpend/internal/discretize"
	"github.com/san-kum/rwpend/internal/policy"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// policySlice exposes the commands of one wheel-speed slice of a table as
// a grid with angle on X and rate on Y.
type policySlice struct {
	t     *policy.Table
	wheel int
}

func (s policySlice) Dims() (c, r int) {
	return s.t.Grid.Angle.Count, s.t.Grid.Rate.Count
}

func (s policySlice) Z(c, r int) float64 {
	a := s.t.At(discretize.Cell{s.wheel, c, r})
	return s.t.Grid.Action.Undiscretize(a)
}

func (s policySlice) X(c int) float64 { return s.t.Grid.Angle.Undiscretize(c) }
func (s policySlice) Y(r int) float64 { return s.t.Grid.Rate.Undiscretize(r) }

// WritePolicyMap draws the commands chosen by t over angle and rate at the
// given wheel-speed cell.
func WritePolicyMap(w io.Writer, t *policy.Table, wheel int, format string) error {
	if t == nil || len(t.Actions) == 0 {
		return ErrNoData
	}
	if wheel < 0 || wheel >= t.Grid.Wheel.Count {
		return fmt.Errorf("export: wheel cell %d outside [0, %d)", wheel, t.Grid.Wheel.Count)
	}

	hm := plotter.NewHeatMap(policySlice{t: t, wheel: wheel}, moreland.SmoothBlueRed().Palette(255))
	hm.Min, hm.Max = t.Grid.Action.Min, t.Grid.Action.Max

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Policy at ω = %.1f rad/s", t.Grid.Wheel.Undiscretize(wheel))
	p.X.Label.Text = "θ (rad)"
	p.Y.Label.Text = "θ̇ (rad/s)"
	p.Add(hm)

	wt, err := p.WriterTo(7*vg.Inch, 6*vg.Inch, format)
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// SavePolicyMap writes the policy slice to path; the extension picks the
// format.
func SavePolicyMap(path string, t *policy.Table, wheel int) error {
	return saveWith(path, func(w io.Writer, format string) error {
		return WritePolicyMap(w, t, wheel, format)
	})
}
