package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/guptarohit/asciigraph"
	"github.com/san-kum/rwpend/internal/control"
	"github.com/san-kum/rwpend/internal/telemetry"
)

const (
	historyLen   = 300
	aliveTimeout = 2 * time.Second
	dashWidth    = 60
	dashHeight   = 18
)

type recordMsg struct{ m telemetry.Message }

type streamClosedMsg struct{}

type tickMsg time.Time

// Dashboard is a bubbletea model showing the latest telemetry from a
// pendulum or a wheel bench.
type Dashboard struct {
	source <-chan telemetry.Message
	canvas *canvas
	now    func() time.Time

	state     telemetry.StateRecord
	bench     telemetry.BenchRecord
	hasState  bool
	hasBench  bool
	wheel     float64
	angles    []float64
	controls  []float64
	speeds    []float64
	records   int
	lastAlive time.Time

	paused bool
	closed bool
	width  int
}

func NewDashboard(source <-chan telemetry.Message) Dashboard {
	return Dashboard{
		source: source,
		canvas: newCanvas(dashWidth, dashHeight),
		now:    time.Now,
		width:  80,
	}
}

func wait(source <-chan telemetry.Message) tea.Cmd {
	return func() tea.Msg {
		m, ok := <-source
		if !ok {
			return streamClosedMsg{}
		}
		return recordMsg{m}
	}
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (d Dashboard) Init() tea.Cmd {
	return tea.Batch(wait(d.source), tick())
}

func (d Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return d, tea.Quit
		case " ", "p":
			d.paused = !d.paused
		case "c":
			d.angles, d.controls, d.speeds = nil, nil, nil
		}
		return d, nil
	case tea.WindowSizeMsg:
		d.width = msg.Width
		return d, nil
	case recordMsg:
		if !d.paused {
			d = d.apply(msg.m)
		}
		return d, wait(d.source)
	case streamClosedMsg:
		d.closed = true
		return d, nil
	case tickMsg:
		return d, tick()
	}
	return d, nil
}

func (d Dashboard) apply(m telemetry.Message) Dashboard {
	switch r := m.(type) {
	case telemetry.StateRecord:
		if d.hasState && r.TimeMs > d.state.TimeMs {
			dt := float64(r.TimeMs-d.state.TimeMs) / 1000
			d.wheel += float64(d.state.WheelSpeed) * dt
		}
		d.state, d.hasState = r, true
		d.records++
		d.angles = push(d.angles, float64(r.Angle))
		d.controls = push(d.controls, float64(r.Control))
	case telemetry.BenchRecord:
		d.bench, d.hasBench = r, true
		d.records++
		d.speeds = push(d.speeds, float64(r.SignedSpeed))
		d.controls = push(d.controls, float64(r.Control))
	case telemetry.Alive:
		d.lastAlive = d.now()
	}
	return d
}

func push(s []float64, v float64) []float64 {
	s = append(s, v)
	if len(s) > historyLen {
		s = s[len(s)-historyLen:]
	}
	return s
}

func (d Dashboard) View() string {
	var b strings.Builder

	b.WriteString("\n  " + cyan.Render("rwpend") + dim.Render("  telemetry") + "  " + d.status() + "\n\n")

	switch {
	case d.hasState:
		b.WriteString(d.viewState())
	case d.hasBench:
		b.WriteString(d.viewBench())
	default:
		b.WriteString(dim.Render("  waiting for records...") + "\n")
	}

	b.WriteString("\n  " + d.heartbeat() + dim.Render(fmt.Sprintf("   records %d", d.records)) + "\n")
	b.WriteString("\n" + dimmer.Render("  space pause · c clear · q quit") + "\n")
	return b.String()
}

func (d Dashboard) status() string {
	switch {
	case d.closed:
		return red.Render("● closed")
	case d.paused:
		return yellow.Render("❚❚ paused")
	default:
		return green.Render("● live")
	}
}

func (d Dashboard) heartbeat() string {
	if d.lastAlive.IsZero() {
		return dim.Render("no heartbeat")
	}
	age := d.now().Sub(d.lastAlive)
	s := fmt.Sprintf("alive %.1fs ago", age.Seconds())
	if age > aliveTimeout {
		return red.Render(s)
	}
	return green.Render(s)
}

func (d Dashboard) viewState() string {
	r := d.state
	mode := control.Mode(r.Mode).String()
	style, ok := modeStyles[mode]
	if !ok {
		style = dim
	}

	d.canvas.clear()
	d.canvas.pendulum(float64(r.Angle), d.wheel)

	var b strings.Builder
	b.WriteString("  " + style.Render(fmt.Sprintf("%-9s", mode)) + dim.Render(fmt.Sprintf("  t=%.2fs", float64(r.TimeMs)/1000)) + "\n")
	b.WriteString(dimmer.Render("  "+strings.Repeat("─", dashWidth)) + "\n")
	b.WriteString(d.canvas.String("  "))
	b.WriteString(dimmer.Render("  "+strings.Repeat("─", dashWidth)) + "\n")
	b.WriteString(fmt.Sprintf("  %s %s  %s %s  %s %s  %s %s\n",
		dim.Render("θ"), white.Render(fmt.Sprintf("%+.3f", r.Angle)),
		dim.Render("θ̇"), white.Render(fmt.Sprintf("%+.3f", r.AngleRate)),
		dim.Render("ω"), white.Render(fmt.Sprintf("%+.1f", r.WheelSpeed)),
		dim.Render("u"), magenta.Render(fmt.Sprintf("%+.3f", r.Control))))
	b.WriteString(dim.Render(fmt.Sprintf("  raw %+.3f", r.RawAngle)) + "\n\n")
	b.WriteString(plot(d.angles, "θ (rad)"))
	b.WriteString("  " + dim.Render("u ") + cyan.Render(sparkline(d.controls, d.graphWidth())) + "\n")
	return b.String()
}

func (d Dashboard) viewBench() string {
	r := d.bench
	var b strings.Builder
	b.WriteString("  " + magenta.Render("bench") + dim.Render(fmt.Sprintf("  t=%.2fs", float64(r.TimeMs)/1000)) + "\n\n")
	b.WriteString(fmt.Sprintf("  %s %s  %s %s  %s %s\n\n",
		dim.Render("u"), white.Render(fmt.Sprintf("%+.3f", r.Control)),
		dim.Render("ω"), white.Render(fmt.Sprintf("%+.2f", r.SignedSpeed)),
		dim.Render("|ω|"), white.Render(fmt.Sprintf("%.2f", r.AbsSpeed))))
	b.WriteString(plot(d.speeds, "wheel speed (rad/s)"))
	b.WriteString("  " + dim.Render("u ") + cyan.Render(sparkline(d.controls, d.graphWidth())) + "\n")
	return b.String()
}

func (d Dashboard) graphWidth() int {
	return max(10, min(d.width-8, dashWidth))
}

func plot(data []float64, caption string) string {
	if len(data) < 2 {
		return ""
	}
	g := asciigraph.Plot(data, asciigraph.Height(8), asciigraph.Width(dashWidth), asciigraph.Caption(caption))
	var b strings.Builder
	for _, line := range strings.Split(g, "\n") {
		b.WriteString("  " + line + "\n")
	}
	return b.String()
}

// RunDashboard shows records from source until the user quits or ctx is
// canceled.
func RunDashboard(ctx context.Context, source <-chan telemetry.Message) error {
	p := tea.NewProgram(NewDashboard(source), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
