// Package encoder decodes a two-channel quadrature encoder into tick
// counters shared between the edge-tracking task and the control loop.
package encoder

import "sync/atomic"

// Phase is the level of channels A and B.
type Phase struct {
	A, B bool
}

// Tracker counts encoder edges. Edge is called from a single edge-tracking
// goroutine; the counters may be read from any goroutine without blocking.
type Tracker struct {
	prev   Phase
	signed atomic.Int32
	abs    atomic.Int32
}

func NewTracker(initial Phase) *Tracker {
	return &Tracker{prev: initial}
}

// Edge records a new channel level pair.
//
// The signed counter moves once per cycle: down on (1,1)→(1,0) and up on
// (1,0)→(1,1). The absolute counter moves once per cycle regardless of
// direction, on any B edge while A stays high.
func (t *Tracker) Edge(cur Phase) {
	prev := t.prev
	switch {
	case prev == Phase{true, true} && cur == Phase{true, false}:
		t.signed.Add(-1)
	case prev == Phase{true, false} && cur == Phase{true, true}:
		t.signed.Add(1)
	}
	if prev.A && cur.A && prev.B != cur.B {
		t.abs.Add(1)
	}
	t.prev = cur
}

func (t *Tracker) Ticks() int32 {
	return t.signed.Load()
}

func (t *Tracker) AbsTicks() int32 {
	return t.abs.Load()
}

// Track feeds phases from edges into t until edges is closed.
func (t *Tracker) Track(edges <-chan Phase) {
	for p := range edges {
		t.Edge(p)
	}
}
