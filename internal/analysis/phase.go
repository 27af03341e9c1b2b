package analysis

import (
	"math"
	"strings"

	"github.com/san-kum/rwpend/internal/dynamo"
)

type Point struct{ X, Y float64 }

// Portrait is a two-dimensional projection of a recorded trajectory.
type Portrait struct {
	XIndex, YIndex int
	Points         []Point
}

// NewPortrait projects the true states of res onto the given state
// indices. Angles are wrapped to (-π, π].
func NewPortrait(res *dynamo.Result, xIdx, yIdx int) *Portrait {
	if res == nil || len(res.States) == 0 {
		return nil
	}
	if xIdx >= len(res.States[0]) || yIdx >= len(res.States[0]) {
		return nil
	}
	p := &Portrait{XIndex: xIdx, YIndex: yIdx, Points: make([]Point, 0, len(res.States))}
	coord := func(x dynamo.State, i int) float64 {
		if i == dynamo.Angle {
			return dynamo.WrapAngle(x[i])
		}
		return x[i]
	}
	for _, x := range res.States {
		p.Points = append(p.Points, Point{coord(x, xIdx), coord(x, yIdx)})
	}
	return p
}

// ASCII renders the portrait on a width × height character grid with
// axes drawn where they cross the visible area.
func (p *Portrait) ASCII(width, height int) string {
	if p == nil || len(p.Points) == 0 || width < 2 || height < 2 {
		return ""
	}

	minX, maxX := p.Points[0].X, p.Points[0].X
	minY, maxY := p.Points[0].Y, p.Points[0].Y
	for _, pt := range p.Points {
		minX, maxX = math.Min(minX, pt.X), math.Max(maxX, pt.X)
		minY, maxY = math.Min(minY, pt.Y), math.Max(maxY, pt.Y)
	}

	rangeX := maxX - minX
	rangeY := maxY - minY
	if rangeX == 0 {
		rangeX = 1
	}
	if rangeY == 0 {
		rangeY = 1
	}
	minX -= rangeX * 0.1
	maxX += rangeX * 0.1
	minY -= rangeY * 0.1
	maxY += rangeY * 0.1
	rangeX = maxX - minX
	rangeY = maxY - minY

	canvas := make([][]rune, height)
	for i := range canvas {
		canvas[i] = []rune(strings.Repeat(" ", width))
	}

	col := func(x float64) int { return int((x - minX) / rangeX * float64(width-1)) }
	row := func(y float64) int { return height - 1 - int((y-minY)/rangeY*float64(height-1)) }

	for _, pt := range p.Points {
		canvas[row(pt.Y)][col(pt.X)] = '•'
	}

	if minX <= 0 && maxX >= 0 {
		c := col(0)
		for r := range canvas {
			if canvas[r][c] == ' ' {
				canvas[r][c] = '│'
			}
		}
	}
	if minY <= 0 && maxY >= 0 {
		r := row(0)
		for c := range canvas[r] {
			if canvas[r][c] == ' ' {
				canvas[r][c] = '─'
			}
		}
	}

	var sb strings.Builder
	for _, r := range canvas {
		sb.WriteString(string(r))
		sb.WriteRune('\n')
	}
	return sb.String()
}
