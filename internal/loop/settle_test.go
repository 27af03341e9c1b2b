package loop_test

import (
	"context"
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/rwpend/internal/loop"
)

var _ = Describe("Settle", func() {
	fast := loop.SettleConfig{Window: 5, Interval: time.Millisecond, Tolerance: 1e-4, Attempts: 50}

	It("returns the circular mean of a still pendulum", func() {
		a, err := loop.Settle(context.Background(), constant(2.0), fast)
		Expect(err).NotTo(HaveOccurred())
		Expect(a).To(BeNumerically("~", 2.0, 1e-9))
	})

	It("averages across the ±π seam", func() {
		s := &scriptedSensor{angles: []float64{3.14, -3.14, 3.14, -3.14, 3.14, -3.14}}
		a, err := loop.Settle(context.Background(), s, fast)
		Expect(err).NotTo(HaveOccurred())
		Expect(math.Abs(a)).To(BeNumerically("~", math.Pi, 1e-2))
	})

	It("waits out a swinging start", func() {
		s := &scriptedSensor{angles: []float64{0.5, -0.5, 0.4, -0.3, 0.2, 1, 1, 1, 1, 1}}
		a, err := loop.Settle(context.Background(), s, fast)
		Expect(err).NotTo(HaveOccurred())
		Expect(a).To(BeNumerically("~", 1, 1e-9))
		Expect(s.reads).To(Equal(10))
	})

	It("ignores read errors", func() {
		s := constant(0.3)
		s.fail = func(n int) bool { return n < 3 }
		a, err := loop.Settle(context.Background(), s, fast)
		Expect(err).NotTo(HaveOccurred())
		Expect(a).To(BeNumerically("~", 0.3, 1e-9))
	})

	It("gives up after the attempt budget", func() {
		angles := make([]float64, 100)
		for i := range angles {
			angles[i] = 0.5 * math.Sin(float64(i))
		}
		_, err := loop.Settle(context.Background(), &scriptedSensor{angles: angles}, fast)
		Expect(err).To(MatchError(loop.ErrNotSettled))
	})

	It("stops when canceled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		s := &scriptedSensor{angles: []float64{0, 1}}
		_, err := loop.Settle(ctx, s, fast)
		Expect(err).To(MatchError(context.Canceled))
	})

	DescribeTable("reference from the hanging reading",
		func(bottom, want float64) {
			Expect(loop.ReferenceFromBottom(bottom)).To(BeNumerically("~", want, 1e-12))
		},
		Entry("hanging at π", math.Pi, 0.0),
		Entry("hanging at zero", 0.0, math.Pi),
		Entry("hanging at π/2", math.Pi/2, -math.Pi/2),
		Entry("hanging at -π/2", -math.Pi/2, math.Pi/2),
	)
})
