// Package tui draws the pendulum in the terminal: a bubbletea dashboard
// fed by telemetry and a plain ANSI renderer for simulated runs.
package tui

import (
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	cyan    = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	white   = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dim     = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	dimmer  = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	green   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	yellow  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	magenta = lipgloss.NewStyle().Foreground(lipgloss.Color("213"))
	red     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

var modeStyles = map[string]lipgloss.Style{
	"swinging":  yellow,
	"chilling":  magenta,
	"balancing": green,
}

type canvas struct {
	cells [][]rune
	w, h  int
}

func newCanvas(w, h int) *canvas {
	c := &canvas{cells: make([][]rune, h), w: w, h: h}
	for i := range c.cells {
		c.cells[i] = make([]rune, w)
	}
	c.clear()
	return c
}

func (c *canvas) clear() {
	for y := range c.cells {
		for x := range c.cells[y] {
			c.cells[y][x] = ' '
		}
	}
}

func (c *canvas) set(x, y int, r rune) {
	if x >= 0 && x < c.w && y >= 0 && y < c.h {
		c.cells[y][x] = r
	}
}

func (c *canvas) line(x1, y1, x2, y2 int, r rune) {
	dx := intAbs(x2 - x1)
	dy := intAbs(y2 - y1)
	sx, sy := 1, 1
	if x1 > x2 {
		sx = -1
	}
	if y1 > y2 {
		sy = -1
	}
	err := dx - dy
	for {
		c.set(x1, y1, r)
		if x1 == x2 && y1 == y2 {
			break
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x1 += sx
		}
		if e2 < dx {
			err += dx
			y1 += sy
		}
	}
}

var spokes = []rune{'│', '╱', '─', '╲'}

// pendulum draws the rod from a pivot in the middle of the canvas with the
// wheel at its tip. theta = 0 points up; wheel is the wheel's own rotation.
func (c *canvas) pendulum(theta, wheel float64) (tipX, tipY int) {
	px, py := c.w/2, c.h/2
	length := float64(c.h) * 0.42
	// Terminal cells are about twice as tall as wide.
	tipX = px + int(math.Round(2*length*math.Sin(theta)))
	tipY = py - int(math.Round(length*math.Cos(theta)))

	c.line(px, py, tipX, tipY, '•')
	c.set(px, py, '▲')

	k := int(math.Floor(wheel/(math.Pi/4))) % len(spokes)
	if k < 0 {
		k += len(spokes)
	}
	for dx := -2; dx <= 2; dx++ {
		c.set(tipX+dx, tipY-1, '─')
		c.set(tipX+dx, tipY+1, '─')
	}
	c.set(tipX-3, tipY, '(')
	c.set(tipX+3, tipY, ')')
	c.set(tipX, tipY, spokes[k])
	return tipX, tipY
}

func (c *canvas) String(indent string) string {
	var b strings.Builder
	for _, row := range c.cells {
		b.WriteString(indent)
		b.WriteString(string(row))
		b.WriteString("\n")
	}
	return b.String()
}

func sparkline(data []float64, width int) string {
	if len(data) == 0 {
		return ""
	}
	chars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}
	minVal, maxVal := data[0], data[0]
	for _, v := range data {
		minVal = math.Min(minVal, v)
		maxVal = math.Max(maxVal, v)
	}
	rang := maxVal - minVal
	if rang == 0 {
		rang = 1
	}
	start := 0
	if len(data) > width {
		start = len(data) - width
	}
	var sb strings.Builder
	for _, v := range data[start:] {
		idx := int((v - minVal) / rang * 7)
		idx = max(0, min(idx, 7))
		sb.WriteRune(chars[idx])
	}
	return sb.String()
}

func intAbs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
