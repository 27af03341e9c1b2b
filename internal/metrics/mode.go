package metrics

import (
	"github.com/san-kum/rwpend/internal/control"
	"github.com/san-kum/rwpend/internal/dynamo"
)

// Moder reports the active controller mode.
type Moder interface {
	Mode() control.Mode
}

// ModeOccupancy is the fraction of steps the controller spent in one mode.
type ModeOccupancy struct {
	mode    control.Mode
	src     Moder
	hits    int
	samples int
}

func NewModeOccupancy(src Moder, mode control.Mode) *ModeOccupancy {
	return &ModeOccupancy{src: src, mode: mode}
}

func (m *ModeOccupancy) Name() string { return "mode_" + m.mode.String() }

func (m *ModeOccupancy) Observe(x dynamo.State, u dynamo.Control, t float64) {
	m.samples++
	if m.src.Mode() == m.mode {
		m.hits++
	}
}

func (m *ModeOccupancy) Value() float64 {
	if m.samples == 0 {
		return 0
	}
	return float64(m.hits) / float64(m.samples)
}

func (m *ModeOccupancy) Reset() {
	m.hits = 0
	m.samples = 0
}

// Standard returns the metrics recorded for every closed-loop run. Mode
// occupancy is included when ctrl has modes.
func Standard(model EnergyModel, ctrl dynamo.Controller) []dynamo.Metric {
	ms := []dynamo.Metric{
		NewControlEffort(),
		NewSaturation(1),
		NewEnergy(model),
		NewEnergyGap(model),
		NewUpright(0.2),
		NewCaptureTime(0.2),
	}
	if src, ok := ctrl.(Moder); ok {
		for _, mode := range []control.Mode{control.Swinging, control.Chilling, control.Balancing} {
			ms = append(ms, NewModeOccupancy(src, mode))
		}
	}
	return ms
}
