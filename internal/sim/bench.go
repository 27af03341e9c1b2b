package sim

import (
	"context"
	"math"
	"time"

	"github.com/san-kum/rwpend/internal/dynamo"
	"github.com/san-kum/rwpend/internal/encoder"
	"github.com/san-kum/rwpend/internal/hw"
	"github.com/san-kum/rwpend/internal/telemetry"
)

// DefaultBenchPeriod is the sample period of the motor bench test.
const DefaultBenchPeriod = 50 * time.Millisecond

// Bench drives the motor open loop and samples the wheel encoder, the way
// the motor is characterized on the bench.
type Bench struct {
	plant      *hw.Plant
	controller dynamo.Controller
	meter      *encoder.SpeedMeter
	queue      *telemetry.Queue
}

func NewBench(plant *hw.Plant, controller dynamo.Controller, ticksPerRev int) *Bench {
	if ticksPerRev <= 0 {
		ticksPerRev = encoder.DefaultTicksPerRev
	}
	return &Bench{
		plant:      plant,
		controller: controller,
		meter:      encoder.NewSpeedMeter(plant.Tracker(), ticksPerRev, at(plant.Time())),
	}
}

// WithTelemetry also pushes every record into q.
func (b *Bench) WithTelemetry(q *telemetry.Queue) *Bench {
	b.queue = q
	return b
}

// Run samples every period for duration seconds of virtual time.
func (b *Bench) Run(ctx context.Context, period time.Duration, duration float64) ([]telemetry.BenchRecord, error) {
	dt := period.Seconds()
	if dt <= 0 || duration <= 0 {
		return nil, validateConfig(dynamo.Config{Dt: dt, Duration: duration})
	}

	n := int(math.Round(duration / dt))
	records := make([]telemetry.BenchRecord, 0, n)
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return records, ctx.Err()
		default:
		}

		t := b.plant.Time()
		u := dynamo.Clamp(b.controller.Compute(b.plant.State(), t)[0], -1, 1)
		b.plant.SetOutput(u)
		b.plant.Advance(dt)

		speed := b.meter.Sample(at(b.plant.Time()))
		rec := telemetry.BenchRecord{
			TimeMs:      uint64(math.Round(b.plant.Time() * 1000)),
			Control:     float32(u),
			SignedSpeed: float32(speed.Signed),
			AbsSpeed:    float32(speed.Abs),
		}
		records = append(records, rec)
		if b.queue != nil {
			b.queue.TryPush(rec)
		}
	}
	return records, nil
}
