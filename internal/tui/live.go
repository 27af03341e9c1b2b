package tui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/san-kum/rwpend/internal/dynamo"
	"github.com/san-kum/rwpend/internal/sim"
)

const (
	liveWidth   = 70
	liveHeight  = 22
	clearScreen = "\033[2J\033[H"
	hideCursor  = "\033[?25l"
	showCursor  = "\033[?25h"
)

// LiveRenderer redraws a simulated run in place, paced so simulated time
// advances no faster than Speed times wall time.
type LiveRenderer struct {
	Speed float64

	out       io.Writer
	frameRate int
	lastFrame time.Time
	started   time.Time
	canvas    *canvas
	wheel     float64
	lastT     float64
	history   []float64
}

func NewLiveRenderer(frameRate int) *LiveRenderer {
	if frameRate <= 0 {
		frameRate = 30
	}
	return &LiveRenderer{
		Speed:     1,
		out:       os.Stdout,
		frameRate: frameRate,
		canvas:    newCanvas(liveWidth, liveHeight),
		history:   make([]float64, 0, 256),
	}
}

// OnFrame renders f when a frame is due and sleeps to keep pace. It always
// returns true so it can be passed straight to RunWithCallback.
func (r *LiveRenderer) OnFrame(f sim.Frame) bool {
	if r.started.IsZero() {
		r.started = time.Now()
	}
	r.wheel += f.State[dynamo.WheelSpeed] * (f.Time - r.lastT)
	r.lastT = f.Time

	r.history = append(r.history, f.State[dynamo.Angle])
	if len(r.history) > 256 {
		r.history = r.history[1:]
	}

	if r.Speed > 0 {
		due := r.started.Add(time.Duration(f.Time / r.Speed * float64(time.Second)))
		if d := time.Until(due); d > 0 {
			time.Sleep(d)
		}
	}
	if time.Since(r.lastFrame) < time.Second/time.Duration(r.frameRate) {
		return true
	}
	r.lastFrame = time.Now()
	r.render(f)
	return true
}

func (r *LiveRenderer) render(f sim.Frame) {
	r.canvas.clear()
	r.canvas.pendulum(f.State[dynamo.Angle], r.wheel)

	style, ok := modeStyles[f.Mode]
	if !ok {
		style = dim
	}

	var b strings.Builder
	b.WriteString(clearScreen)
	b.WriteString(fmt.Sprintf("  %s  t=%.2fs  u=%+.3f\n", style.Render(fmt.Sprintf("%-9s", f.Mode)), f.Time, f.Control))
	b.WriteString("  " + strings.Repeat("─", liveWidth) + "\n")
	b.WriteString(r.canvas.String("  "))
	b.WriteString("  " + strings.Repeat("─", liveWidth) + "\n")
	b.WriteString(fmt.Sprintf("  θ=%+.3f  θ̇=%+.3f  ω=%+.1f   est θ=%+.3f\n",
		f.State[dynamo.Angle], f.State[dynamo.AngleRate], f.State[dynamo.WheelSpeed], f.Estimate[dynamo.Angle]))
	b.WriteString("  θ " + sparkline(r.history, liveWidth-4) + "\n")

	fmt.Fprint(r.out, b.String())
}

func (r *LiveRenderer) Start() { fmt.Fprint(r.out, hideCursor) }
func (r *LiveRenderer) Stop()  { fmt.Fprint(r.out, showCursor) }
