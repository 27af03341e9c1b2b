// Package export renders runs and policy tables to image files.
package export

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/san-kum/rwpend/internal/dynamo"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

var ErrNoData = errors.New("export: nothing to plot")

const (
	figureWidth = 8 * vg.Inch
	panelHeight = 2.2 * vg.Inch
)

type series struct {
	label string
	ys    []float64
}

type panel struct {
	title, ylabel string
	lines         []series
}

func runPanels(res *dynamo.Result) []panel {
	n := len(res.Times)
	col := func(src []dynamo.State, i int) []float64 {
		if len(src) < n {
			return nil
		}
		out := make([]float64, n)
		for k := range out {
			out[k] = src[k][i]
		}
		return out
	}
	u := make([]float64, n)
	for k := range u {
		if k < len(res.Controls) && len(res.Controls[k]) > 0 {
			u[k] = res.Controls[k][0]
		}
	}

	angle := panel{title: "Pendulum angle (0 = upright)", ylabel: "θ (rad)"}
	angle.lines = append(angle.lines, series{"true", col(res.States, dynamo.Angle)})
	if est := col(res.Estimates, dynamo.Angle); est != nil {
		angle.lines = append(angle.lines, series{"estimate", est})
	}
	rate := panel{title: "Angular rate", ylabel: "θ̇ (rad/s)"}
	rate.lines = append(rate.lines, series{"true", col(res.States, dynamo.AngleRate)})
	if est := col(res.Estimates, dynamo.AngleRate); est != nil {
		rate.lines = append(rate.lines, series{"estimate", est})
	}
	wheel := panel{title: "Wheel speed", ylabel: "ω (rad/s)"}
	wheel.lines = append(wheel.lines, series{"true", col(res.States, dynamo.WheelSpeed)})
	if est := col(res.Estimates, dynamo.WheelSpeed); est != nil {
		wheel.lines = append(wheel.lines, series{"estimate", est})
	}
	control := panel{title: "Motor command", ylabel: "u", lines: []series{{"u", u}}}

	return []panel{angle, rate, wheel, control}
}

func (p panel) plot(ts []float64, last bool) (*plot.Plot, error) {
	pl := plot.New()
	pl.Title.Text = p.title
	pl.Y.Label.Text = p.ylabel
	if last {
		pl.X.Label.Text = "time (s)"
	}
	pl.Add(plotter.NewGrid())
	pl.Legend.Top = true

	for i, s := range p.lines {
		pts := make(plotter.XYs, len(ts))
		for k := range ts {
			pts[k].X = ts[k]
			pts[k].Y = s.ys[k]
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.title, err)
		}
		line.LineStyle.Width = vg.Points(1.2)
		line.LineStyle.Color = plotutil.Color(i)
		if i > 0 {
			line.LineStyle.Dashes = plotutil.Dashes(1)
		}
		pl.Add(line)
		if len(p.lines) > 1 {
			pl.Legend.Add(s.label, line)
		}
	}
	return pl, nil
}

// WriteRun draws angle, rate, wheel speed and command of res as stacked
// panels sharing the time axis. format is any extension gonum/plot
// understands, e.g. "png" or "svg".
func WriteRun(w io.Writer, res *dynamo.Result, format string) error {
	if res == nil || len(res.Times) < 2 || len(res.States) < len(res.Times) {
		return ErrNoData
	}
	panels := runPanels(res)
	plots := make([][]*plot.Plot, len(panels))
	for i, p := range panels {
		pl, err := p.plot(res.Times, i == len(panels)-1)
		if err != nil {
			return err
		}
		plots[i] = []*plot.Plot{pl}
	}

	c, err := draw.NewFormattedCanvas(figureWidth, panelHeight*vg.Length(len(panels)), format)
	if err != nil {
		return err
	}
	tiles := draw.Tiles{
		Rows:      len(panels),
		Cols:      1,
		PadTop:    vg.Points(4),
		PadBottom: vg.Points(4),
		PadLeft:   vg.Points(4),
		PadRight:  vg.Points(8),
		PadY:      vg.Points(6),
	}
	canvases := plot.Align(plots, tiles, draw.New(c))
	for i := range plots {
		plots[i][0].Draw(canvases[i][0])
	}
	_, err = c.WriteTo(w)
	return err
}

// SaveRun writes the run figure to path; the extension picks the format.
func SaveRun(path string, res *dynamo.Result) error {
	return saveWith(path, func(w io.Writer, format string) error {
		return WriteRun(w, res, format)
	})
}

func saveWith(path string, write func(io.Writer, string) error) (err error) {
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if format == "" {
		format = "png"
		path += ".png"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return write(f, format)
}
