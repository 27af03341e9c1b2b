package encoder

import (
	"math"
	"time"
)

// DefaultTicksPerRev is the cycle count of the wheel encoder.
const DefaultTicksPerRev = 100

// Counter is the read side of a Tracker.
type Counter interface {
	Ticks() int32
	AbsTicks() int32
}

// Speed is a wheel speed sample in rad/s.
type Speed struct {
	At     time.Time
	Signed float64
	Abs    float64
}

// SpeedMeter converts tick deltas between samples into angular speed.
type SpeedMeter struct {
	counter     Counter
	ticksPerRev float64

	lastTicks int32
	lastAbs   int32
	lastAt    time.Time
}

func NewSpeedMeter(c Counter, ticksPerRev int, now time.Time) *SpeedMeter {
	return &SpeedMeter{
		counter:     c,
		ticksPerRev: float64(ticksPerRev),
		lastTicks:   c.Ticks(),
		lastAbs:     c.AbsTicks(),
		lastAt:      now,
	}
}

// Sample returns 2π·Δticks/(ticksPerRev·Δt) for both counters since the
// previous sample. A non-positive interval yields zero speeds.
func (m *SpeedMeter) Sample(now time.Time) Speed {
	ticks, abs := m.counter.Ticks(), m.counter.AbsTicks()
	dt := now.Sub(m.lastAt).Seconds()

	s := Speed{At: now}
	if dt > 0 {
		s.Signed = 2 * math.Pi * float64(ticks-m.lastTicks) / (m.ticksPerRev * dt)
		s.Abs = 2 * math.Pi * float64(abs-m.lastAbs) / (m.ticksPerRev * dt)
	}

	m.lastTicks, m.lastAbs, m.lastAt = ticks, abs, now
	return s
}
