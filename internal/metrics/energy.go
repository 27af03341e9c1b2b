package metrics

import (
	"math"

	"github.com/san-kum/rwpend/internal/dynamo"
)

// EnergyModel gives the pendulum energy and its upright rest value.
type EnergyModel interface {
	dynamo.Hamiltonian
	TopEnergy() float64
}

// Energy is the mean pendulum energy over the run.
type Energy struct {
	name    string
	model   dynamo.Hamiltonian
	samples int
	total   float64
}

func NewEnergy(model dynamo.Hamiltonian) *Energy {
	return &Energy{
		name:  "energy",
		model: model,
	}
}

func (e *Energy) Name() string { return e.name }

func (e *Energy) Observe(x dynamo.State, u dynamo.Control, t float64) {
	e.total += e.model.Energy(x)
	e.samples++
}

func (e *Energy) Value() float64 {
	if e.samples == 0 {
		return 0
	}
	return e.total / float64(e.samples)
}

func (e *Energy) Reset() {
	e.total = 0
	e.samples = 0
}

// EnergyGap is the final distance from upright rest energy, normalized by
// the top-to-bottom span. It starts at 1 for a pendulum hanging at rest
// and reaches 0 once balanced.
type EnergyGap struct {
	model EnergyModel
	last  float64
	seen  bool
}

func NewEnergyGap(model EnergyModel) *EnergyGap {
	return &EnergyGap{model: model}
}

func (e *EnergyGap) Name() string { return "energy_gap" }

func (e *EnergyGap) Observe(x dynamo.State, u dynamo.Control, t float64) {
	top := e.model.TopEnergy()
	if top == 0 {
		return
	}
	e.last = math.Abs(top-e.model.Energy(x)) / (2 * math.Abs(top))
	e.seen = true
}

func (e *EnergyGap) Value() float64 {
	if !e.seen {
		return 1
	}
	return e.last
}

func (e *EnergyGap) Reset() {
	e.last = 0
	e.seen = false
}
