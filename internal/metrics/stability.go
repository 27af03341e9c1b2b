package metrics

import (
	"math"

	"github.com/san-kum/rwpend/internal/dynamo"
)

// Upright is the fraction of steps spent within threshold of upright.
type Upright struct {
	name      string
	threshold float64
	upright   int
	samples   int
}

func NewUpright(threshold float64) *Upright {
	return &Upright{
		name:      "upright",
		threshold: threshold,
	}
}

func (s *Upright) Name() string {
	return s.name
}

func (s *Upright) Observe(x dynamo.State, u dynamo.Control, t float64) {
	s.samples++
	if math.Abs(dynamo.WrapAngle(x[dynamo.Angle])) <= s.threshold {
		s.upright++
	}
}

func (s *Upright) Value() float64 {
	if s.samples == 0 {
		return 0
	}
	return float64(s.upright) / float64(s.samples)
}

func (s *Upright) Reset() {
	s.upright = 0
	s.samples = 0
}

// CaptureTime is the start of the last uninterrupted stretch near upright
// that lasts to the end of the run, or -1 when the run does not end there.
type CaptureTime struct {
	threshold float64
	since     float64
	inside    bool
}

func NewCaptureTime(threshold float64) *CaptureTime {
	return &CaptureTime{threshold: threshold, since: -1}
}

func (c *CaptureTime) Name() string { return "capture_time" }

func (c *CaptureTime) Observe(x dynamo.State, u dynamo.Control, t float64) {
	near := math.Abs(dynamo.WrapAngle(x[dynamo.Angle])) <= c.threshold
	switch {
	case near && !c.inside:
		c.since = t
	case !near:
		c.since = -1
	}
	c.inside = near
}

func (c *CaptureTime) Value() float64 {
	return c.since
}

func (c *CaptureTime) Reset() {
	c.since = -1
	c.inside = false
}
