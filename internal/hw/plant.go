package hw

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/san-kum/rwpend/internal/dynamo"
	"github.com/san-kum/rwpend/internal/encoder"
	"github.com/san-kum/rwpend/internal/integrators"
	"github.com/san-kum/rwpend/internal/physics"
)

var ErrBus = errors.New("hw: simulated bus error")

type PlantConfig struct {
	// Offset is the raw sensor reading minus the pendulum angle.
	Offset      float64 `yaml:"offset"`
	NoiseStd    float64 `yaml:"noise_std"`
	Seed        uint64  `yaml:"seed"`
	FailEvery   int     `yaml:"fail_every"`
	TicksPerRev int     `yaml:"ticks_per_rev"`
	Substeps    int     `yaml:"substeps"`
}

func DefaultPlantConfig() PlantConfig {
	return PlantConfig{
		NoiseStd:    2e-3,
		Seed:        1,
		TicksPerRev: encoder.DefaultTicksPerRev,
		Substeps:    4,
	}
}

var quadrature = [4]encoder.Phase{{A: false, B: false}, {A: true, B: false}, {A: true, B: true}, {A: false, B: true}}

// Plant simulates the pendulum with its motor, magnetic angle sensor and
// wheel encoder. The sensor is reached through Bus, the motor through
// SetOutput, and the encoder edges land on Tracker.
type Plant struct {
	mu    sync.Mutex
	sys   *physics.ReactionWheel
	integ *integrators.RK4
	cfg   PlantConfig

	x     dynamo.State
	u     float64
	t     float64
	wheel float64
	step  int64

	tracker *encoder.Tracker
	noise   distuv.Normal
	reads   int
}

func NewPlant(sys *physics.ReactionWheel, x0 dynamo.State, cfg PlantConfig) *Plant {
	if cfg.TicksPerRev <= 0 {
		cfg.TicksPerRev = encoder.DefaultTicksPerRev
	}
	if cfg.Substeps < 1 {
		cfg.Substeps = 1
	}
	p := &Plant{
		sys:     sys,
		integ:   integrators.NewRK4(),
		cfg:     cfg,
		x:       sys.Normalize(x0.Clone()),
		tracker: encoder.NewTracker(quadrature[0]),
		noise: distuv.Normal{
			Mu:    0,
			Sigma: cfg.NoiseStd,
			Src:   rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15),
		},
	}
	return p
}

// SetOutput commands the motor. u is clamped to [-1, 1].
func (p *Plant) SetOutput(u float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.u = dynamo.Clamp(u, -1, 1)
}

func (p *Plant) Output() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.u
}

// Advance integrates the plant for dt with the current command and emits
// the encoder edges the wheel passed.
func (p *Plant) Advance(dt float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	u := dynamo.Control{p.u}
	h := dt / float64(p.cfg.Substeps)
	for i := 0; i < p.cfg.Substeps; i++ {
		prev := p.x[dynamo.WheelSpeed]
		p.x = p.sys.Normalize(p.integ.Step(p.sys, p.x, u, p.t, h))
		p.wheel += 0.5 * (prev + p.x[dynamo.WheelSpeed]) * h
		p.t += h
		p.emitEdges()
	}
}

// emitEdges walks the quadrature sequence one phase at a time from the last
// emitted position to the wheel's current one.
func (p *Plant) emitEdges() {
	if math.IsNaN(p.wheel) || math.IsInf(p.wheel, 0) {
		return
	}
	target := int64(math.Floor(p.wheel / (2 * math.Pi) * float64(p.cfg.TicksPerRev) * 4))
	for p.step != target {
		if target > p.step {
			p.step++
		} else {
			p.step--
		}
		p.tracker.Edge(quadrature[((p.step%4)+4)%4])
	}
}

func (p *Plant) State() dynamo.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.x.Clone()
}

// SetState teleports the plant, leaving the encoder untouched.
func (p *Plant) SetState(x dynamo.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.x = p.sys.Normalize(x.Clone())
}

func (p *Plant) Time() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.t
}

func (p *Plant) Tracker() *encoder.Tracker {
	return p.tracker
}

// Bus returns a simulated I2C bus with an AS5600 at its default address.
func (p *Plant) Bus() *SimBus {
	return &SimBus{plant: p}
}

func (p *Plant) sample() (uint16, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reads++
	if p.cfg.FailEvery > 0 && p.reads%p.cfg.FailEvery == 0 {
		return 0, ErrBus
	}
	a := p.x[dynamo.Angle] + p.cfg.Offset
	if p.cfg.NoiseStd > 0 {
		a += p.noise.Rand()
	}
	return radiansToCounts(a), nil
}

// SimBus answers AS5600 raw angle reads from the plant state.
type SimBus struct {
	plant *Plant
}

func (b *SimBus) Tx(addr uint16, w, r []byte) error {
	if addr != AS5600Address {
		return fmt.Errorf("%w: no device at 0x%02x", ErrBus, addr)
	}
	if len(w) != 1 || w[0] != regRawAngle || len(r) != 2 {
		return fmt.Errorf("%w: unsupported transfer", ErrBus)
	}
	raw, err := b.plant.sample()
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(r, raw)
	return nil
}

func (b *SimBus) ReadRegister(addr uint8, reg uint8, buf []byte) error {
	return b.Tx(uint16(addr), []byte{reg}, buf)
}

func (b *SimBus) WriteRegister(addr uint8, reg uint8, buf []byte) error {
	return fmt.Errorf("%w: read-only device", ErrBus)
}
