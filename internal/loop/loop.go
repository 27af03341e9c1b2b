// Package loop runs the fixed-period control loop: sensor read, estimator
// correction, control law, actuator command, estimator prediction and
// telemetry, in that order, once per tick.
package loop

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"k8s.io/client-go/util/flowcontrol"

	"github.com/san-kum/rwpend/internal/control"
	"github.com/san-kum/rwpend/internal/dynamo"
	"github.com/san-kum/rwpend/internal/estimate"
	"github.com/san-kum/rwpend/internal/telemetry"
)

// DefaultPeriod is the tick period of the balancing firmware.
const DefaultPeriod = 10 * time.Millisecond

// AngleSensor reports the raw pendulum angle in radians.
type AngleSensor interface {
	Rotation(ctx context.Context) (float64, error)
}

// Actuator accepts a normalized torque command in [-1, 1].
type Actuator interface {
	SetOutput(u float64)
}

// Moder is implemented by controllers with named modes.
type Moder interface {
	Mode() control.Mode
}

// TickResult describes one tick.
type TickResult struct {
	Time      float64
	RawAngle  float64
	Angle     float64
	SensorOK  bool
	Corrected bool
	Estimate  dynamo.State
	Command   float64
	Mode      string
}

// Stats counts the recoverable failures seen so far.
type Stats struct {
	Ticks           int
	SensorErrors    int
	SingularUpdates int
	// MissingRows counts corrections skipped because the extra
	// measurement source was absent or returned too few rows.
	MissingRows int
	Dropped     int
}

// Loop wires a sensor, an estimator, a controller and an actuator.
// Tick is not safe for concurrent use.
type Loop struct {
	sensor     AngleSensor
	actuator   Actuator
	filter     *estimate.EKF
	controller dynamo.Controller

	period    time.Duration
	reference float64
	angleRow  int
	extra     func() []float64
	queue     *telemetry.Queue
	metrics   []dynamo.Metric
	observers []dynamo.Observer

	warn  flowcontrol.RateLimiter
	stats Stats
}

type Option func(*Loop)

// WithReference sets the raw sensor angle that corresponds to upright.
func WithReference(ref float64) Option {
	return func(l *Loop) { l.reference = ref }
}

func WithPeriod(d time.Duration) Option {
	return func(l *Loop) { l.period = d }
}

// WithTelemetry pushes a StateRecord into q after every tick.
func WithTelemetry(q *telemetry.Queue) Option {
	return func(l *Loop) { l.queue = q }
}

// WithExtraMeasurements supplies the measurement rows other than the angle,
// in row order, for multi-row estimator models.
func WithExtraMeasurements(fn func() []float64) Option {
	return func(l *Loop) { l.extra = fn }
}

func WithMetrics(ms ...dynamo.Metric) Option {
	return func(l *Loop) { l.metrics = append(l.metrics, ms...) }
}

func WithObservers(obs ...dynamo.Observer) Option {
	return func(l *Loop) { l.observers = append(l.observers, obs...) }
}

func New(sensor AngleSensor, actuator Actuator, filter *estimate.EKF, controller dynamo.Controller, opts ...Option) *Loop {
	l := &Loop{
		sensor:     sensor,
		actuator:   actuator,
		filter:     filter,
		controller: controller,
		period:     DefaultPeriod,
		warn:       flowcontrol.NewTokenBucketRateLimiter(1, 3),
	}
	if ao, ok := filter.Model().(estimate.AngleObserver); ok {
		l.angleRow = ao.AngleRow()
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loop) Stats() Stats {
	return l.stats
}

func (l *Loop) Filter() *estimate.EKF {
	return l.filter
}

// Tick runs one control step at time t seconds.
func (l *Loop) Tick(ctx context.Context, t float64) TickResult {
	res := TickResult{Time: t}
	l.stats.Ticks++

	raw, err := l.sensor.Rotation(ctx)
	if err != nil {
		l.stats.SensorErrors++
		if l.warn.TryAccept() {
			log.WithFields(log.Fields{"t": t, "errors": l.stats.SensorErrors}).WithError(err).Warn("angle sensor read failed")
		}
	} else {
		res.SensorOK = true
		res.RawAngle = raw
		res.Angle = dynamo.SubAngles(raw, l.reference)
		res.Corrected = l.correct(res.Angle, t)
	}

	x := l.filter.State()
	res.Estimate = x
	res.Command = dynamo.Clamp(l.controller.Compute(x, t)[0], -1, 1)
	if m, ok := l.controller.(Moder); ok {
		res.Mode = m.Mode().String()
	}

	l.actuator.SetOutput(res.Command)
	l.filter.TimeUpdate(res.Command)

	u := dynamo.Control{res.Command}
	for _, m := range l.metrics {
		m.Observe(x, u, t)
	}
	for _, o := range l.observers {
		o.OnStep(x, u, t)
	}
	l.publish(res)
	return res
}

// correct applies the measurement update with the angle innovation wrapped
// against the estimator's own prediction. Every row needs a measurement;
// otherwise the update is skipped.
func (l *Loop) correct(angle, t float64) bool {
	pred := l.filter.PredictMeasurement()
	e := mat.NewVecDense(pred.Len(), nil)

	var extra []float64
	if l.extra != nil {
		extra = l.extra()
	}
	if want := pred.Len() - 1; len(extra) < want {
		l.stats.MissingRows++
		if l.warn.TryAccept() {
			log.WithFields(log.Fields{"t": t, "rows": len(extra), "want": want}).Warn("measurement rows missing, update skipped")
		}
		return false
	}
	k := 0
	for row := 0; row < pred.Len(); row++ {
		if row == l.angleRow {
			e.SetVec(row, dynamo.SubAngles(angle, pred.AtVec(row)))
			continue
		}
		e.SetVec(row, extra[k]-pred.AtVec(row))
		k++
	}

	if err := l.filter.MeasurementUpdateInnovation(e); err != nil {
		l.stats.SingularUpdates++
		log.WithField("t", t).WithError(err).Debug("measurement update skipped")
		return false
	}
	return true
}

func (l *Loop) publish(res TickResult) {
	if l.queue == nil {
		return
	}
	var mode uint8
	if m, ok := l.controller.(Moder); ok {
		mode = uint8(m.Mode())
	}
	rec := telemetry.StateRecord{
		TimeMs:     uint64(res.Time * 1000),
		Control:    float32(res.Command),
		RawAngle:   float32(res.RawAngle),
		Angle:      float32(res.Estimate[dynamo.Angle]),
		AngleRate:  float32(res.Estimate[dynamo.AngleRate]),
		WheelSpeed: float32(res.Estimate[dynamo.WheelSpeed]),
		Mode:       mode,
	}
	if !l.queue.TryPush(rec) {
		l.stats.Dropped++
	}
}

// Run ticks every period against the wall clock until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.period)
	defer ticker.Stop()

	start := time.Now()
	log.WithFields(log.Fields{"period": l.period, "reference": l.reference}).Info("control loop started")
	for {
		select {
		case <-ctx.Done():
			log.WithFields(log.Fields{
				"ticks":         l.stats.Ticks,
				"sensor_errors": l.stats.SensorErrors,
				"dropped":       l.stats.Dropped,
			}).Info("control loop stopped")
			return nil
		case now := <-ticker.C:
			l.Tick(ctx, now.Sub(start).Seconds())
		}
	}
}
