package loop_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/rwpend/internal/control"
	"github.com/san-kum/rwpend/internal/dynamo"
	"github.com/san-kum/rwpend/internal/estimate"
	"github.com/san-kum/rwpend/internal/loop"
	"github.com/san-kum/rwpend/internal/physics"
	"github.com/san-kum/rwpend/internal/telemetry"
)

var errBus = errors.New("i2c nack")

type scriptedSensor struct {
	mu     sync.Mutex
	angles []float64
	fail   func(n int) bool
	reads  int
}

func (s *scriptedSensor) Rotation(context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.reads
	s.reads++
	if s.fail != nil && s.fail(n) {
		return 0, errBus
	}
	if n >= len(s.angles) {
		return s.angles[len(s.angles)-1], nil
	}
	return s.angles[n], nil
}

func constant(a float64) *scriptedSensor {
	return &scriptedSensor{angles: []float64{a}}
}

type recorder struct {
	mu      sync.Mutex
	outputs []float64
}

func (r *recorder) SetOutput(u float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs = append(r.outputs, u)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.outputs)
}

type countingMetric struct{ n int }

func (m *countingMetric) Name() string                                  { return "count" }
func (m *countingMetric) Observe(dynamo.State, dynamo.Control, float64) { m.n++ }
func (m *countingMetric) Value() float64                                { return float64(m.n) }
func (m *countingMetric) Reset()                                        { m.n = 0 }

const dt = 0.01

var _ = Describe("Loop", func() {
	var (
		rw     *physics.ReactionWheel
		hybrid *control.Hybrid
		act    *recorder
		ctx    context.Context
	)

	BeforeEach(func() {
		rw = physics.NewReactionWheel()
		hybrid = control.NewHybrid(rw, control.DefaultHybridParams())
		act = &recorder{}
		ctx = context.Background()
	})

	newFilter := func() *estimate.EKF {
		return estimate.New(estimate.NewNonlinearModel(rw, dt))
	}

	Context("with the pendulum hanging at rest", func() {
		It("keeps pumping energy and stays in Swinging", func() {
			l := loop.New(constant(math.Pi), act, newFilter(), hybrid)

			for i := 0; i < 200; i++ {
				res := l.Tick(ctx, float64(i)*dt)
				Expect(res.SensorOK).To(BeTrue())
				Expect(res.Command).NotTo(BeZero())
				Expect(res.Mode).To(Equal("swinging"))
			}
			Expect(hybrid.Mode()).To(Equal(control.Swinging))
			Expect(hybrid.Switches()).To(BeZero())
			Expect(math.Abs(l.Filter().State()[dynamo.Angle])).To(BeNumerically("~", math.Pi, 0.05))
			Expect(act.count()).To(Equal(200))
		})

		It("measures angles relative to the reference", func() {
			ref := 1.3
			l := loop.New(constant(dynamo.WrapAngle(ref+math.Pi)), act, newFilter(), hybrid, loop.WithReference(ref))

			res := l.Tick(ctx, 0)
			Expect(math.Abs(res.Angle)).To(BeNumerically("~", math.Pi, 1e-9))
			Expect(res.RawAngle).To(BeNumerically("~", dynamo.WrapAngle(ref+math.Pi), 1e-12))
		})
	})

	It("sends exactly the command it reports to the actuator", func() {
		l := loop.New(constant(0.1), act, newFilter(), control.NewFeedback(control.DefaultGain))
		var cmds []float64
		for i := 0; i < 10; i++ {
			cmds = append(cmds, l.Tick(ctx, float64(i)*dt).Command)
		}
		Expect(act.outputs).To(Equal(cmds))
		for _, u := range cmds {
			Expect(u).To(BeNumerically(">=", -1))
			Expect(u).To(BeNumerically("<=", 1))
		}
	})

	It("clamps controller output to the actuator range", func() {
		l := loop.New(constant(0), act, newFilter(), &control.Constant{U: 5})
		Expect(l.Tick(ctx, 0).Command).To(Equal(1.0))
	})

	Context("when the sensor fails", func() {
		It("skips the correction and still commands and predicts", func() {
			sensor := constant(math.Pi)
			sensor.fail = func(n int) bool { return n%2 == 1 }
			filter := estimate.New(estimate.NewNonlinearModel(rw, dt), estimate.WithCovariance(1))
			l := loop.New(sensor, act, filter, hybrid)

			first := l.Tick(ctx, 0)
			Expect(first.Corrected).To(BeTrue())
			trace := filter.Trace()

			second := l.Tick(ctx, dt)
			Expect(second.SensorOK).To(BeFalse())
			Expect(second.Corrected).To(BeFalse())
			Expect(second.Command).NotTo(BeZero())
			Expect(filter.Trace()).To(BeNumerically(">", trace))

			Expect(l.Stats().SensorErrors).To(Equal(1))
			Expect(act.count()).To(Equal(2))
		})

		It("keeps running through a burst of failures", func() {
			sensor := constant(math.Pi)
			sensor.fail = func(n int) bool { return n >= 5 && n < 50 }
			l := loop.New(sensor, act, newFilter(), hybrid)
			for i := 0; i < 60; i++ {
				l.Tick(ctx, float64(i)*dt)
			}
			Expect(l.Stats().SensorErrors).To(Equal(45))
			Expect(l.Stats().Ticks).To(Equal(60))
			Expect(l.Filter().State().IsValid()).To(BeTrue())
		})
	})

	It("wraps the innovation across the ±π seam", func() {
		filter := estimate.New(estimate.NewNonlinearModel(rw, dt), estimate.WithPrior(dynamo.State{0, 3.1, 0}), estimate.WithCovariance(1))
		l := loop.New(constant(-3.1), act, filter, &control.Constant{})
		l.Tick(ctx, 0)
		Expect(math.Abs(filter.State()[dynamo.Angle])).To(BeNumerically(">", 3))
	})

	It("feeds the extra rows of a multi-row model", func() {
		filter := estimate.New(estimate.NewEncoderModel(rw, dt), estimate.WithCovariance(1))
		calls := 0
		l := loop.New(constant(0), act, filter, &control.Constant{},
			loop.WithExtraMeasurements(func() []float64 {
				calls++
				return []float64{20}
			}))
		for i := 0; i < 20; i++ {
			l.Tick(ctx, float64(i)*dt)
		}
		Expect(calls).To(Equal(20))
		Expect(math.Abs(filter.State()[dynamo.WheelSpeed])).To(BeNumerically(">", 1))
	})

	Context("with a multi-row model", func() {
		var filter *estimate.EKF

		BeforeEach(func() {
			filter = estimate.New(estimate.NewEncoderModel(rw, dt), estimate.WithCovariance(1))
		})

		It("skips the correction when no extra source is configured", func() {
			l := loop.New(constant(0.2), act, filter, &control.Constant{})
			res := l.Tick(ctx, 0)

			Expect(res.SensorOK).To(BeTrue())
			Expect(res.Corrected).To(BeFalse())
			Expect(l.Stats().MissingRows).To(Equal(1))
			Expect(filter.State()[dynamo.Angle]).To(BeNumerically("~", 0, 1e-12))
			Expect(act.count()).To(Equal(1))
		})

		It("skips the correction when the source returns too few rows", func() {
			l := loop.New(constant(0.2), act, filter, &control.Constant{},
				loop.WithExtraMeasurements(func() []float64 { return nil }))
			for i := 0; i < 3; i++ {
				Expect(l.Tick(ctx, float64(i)*dt).Corrected).To(BeFalse())
			}
			Expect(l.Stats().MissingRows).To(Equal(3))
			Expect(l.Stats().SingularUpdates).To(BeZero())
		})
	})

	It("finishes a tick on an absurd sensor reading", func() {
		l := loop.New(constant(1e17), act, newFilter(), hybrid)
		done := make(chan loop.TickResult, 1)
		go func() { done <- l.Tick(ctx, 0) }()

		var res loop.TickResult
		Eventually(done, 2*time.Second).Should(Receive(&res))
		Expect(res.SensorOK).To(BeTrue())
		Expect(res.Angle).To(BeNumerically(">", -math.Pi))
		Expect(res.Angle).To(BeNumerically("<=", math.Pi))
		Expect(act.count()).To(Equal(1))
	})

	It("publishes a state record per tick and counts drops", func() {
		q := telemetry.NewQueue(2)
		l := loop.New(constant(math.Pi), act, newFilter(), hybrid, loop.WithTelemetry(q))
		for i := 0; i < 3; i++ {
			l.Tick(ctx, float64(i)*0.5)
		}
		Expect(q.Len()).To(Equal(2))
		Expect(l.Stats().Dropped).To(Equal(1))

		msg := <-q.C()
		rec, ok := msg.(telemetry.StateRecord)
		Expect(ok).To(BeTrue())
		Expect(rec.TimeMs).To(BeZero())
		Expect(rec.Mode).To(Equal(uint8(control.Swinging)))
		Expect(float64(rec.RawAngle)).To(BeNumerically("~", math.Pi, 1e-6))

		rec = (<-q.C()).(telemetry.StateRecord)
		Expect(rec.TimeMs).To(Equal(uint64(500)))
	})

	It("feeds metrics and observers once per tick", func() {
		m := &countingMetric{}
		l := loop.New(constant(0), act, newFilter(), &control.Constant{}, loop.WithMetrics(m))
		for i := 0; i < 7; i++ {
			l.Tick(ctx, float64(i)*dt)
		}
		Expect(m.Value()).To(Equal(7.0))
	})

	It("runs on a ticker until canceled", func() {
		l := loop.New(constant(math.Pi), act, newFilter(), hybrid, loop.WithPeriod(time.Millisecond))
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- l.Run(runCtx) }()

		Eventually(act.count).Should(BeNumerically(">=", 5))
		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})
})
