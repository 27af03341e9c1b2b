package control_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/rwpend/internal/control"
	"github.com/san-kum/rwpend/internal/discretize"
	"github.com/san-kum/rwpend/internal/dynamo"
	"github.com/san-kum/rwpend/internal/policy"
)

var _ = Describe("Feedback", func() {
	It("computes -F·x and clamps it", func() {
		f := control.NewFeedback([3]float64{0, -2, -1})
		Expect(f.Raw(dynamo.State{5, 0.1, 0.3})).To(BeNumerically("~", 0.5, 1e-12))
		Expect(f.Compute(dynamo.State{0, 1, 0}, 0)[0]).To(Equal(1.0))
	})

	It("is tunable by name", func() {
		f := control.NewFeedback(control.DefaultGain)
		Expect(f.SetParam("k_angle", -10)).To(Succeed())
		Expect(f.GetParams()["k_angle"]).To(Equal(-10.0))
		Expect(f.SetParam("k_other", 1)).NotTo(Succeed())
	})
})

var _ = Describe("TableController", func() {
	grid := discretize.Grid{
		Wheel:  discretize.MustNew(0, 1, 2),
		Angle:  discretize.MustNew(0, 1, 2),
		Rate:   discretize.MustNew(0, 1, 2),
		Action: discretize.MustNew(-1, 1, 3),
	}
	table := &policy.Table{Grid: grid, Actions: []uint16{0, 1, 2, 0, 1, 2, 0, 2}}

	It("looks up the command for the estimate's cell", func() {
		c, err := control.NewTableController(table, grid)
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Compute(dynamo.State{0, 0, 0}, 0)[0]).To(Equal(-1.0))
		Expect(c.Compute(dynamo.State{0, 0, 1}, 0)[0]).To(Equal(0.0))
		Expect(c.Compute(dynamo.State{0.9, 0.8, 0.7}, 0)[0]).To(Equal(1.0))
	})

	It("refuses a table solved on another grid", func() {
		other := grid
		other.Action = discretize.MustNew(-1, 1, 5)
		_, err := control.NewTableController(table, other)
		Expect(err).To(MatchError(discretize.ErrGridMismatch))
	})
})

var _ = Describe("open-loop commands", func() {
	It("steps after the delay", func() {
		s := &control.Step{Delay: 2, Level: 0.1}
		Expect(s.Compute(nil, 1.99)[0]).To(BeZero())
		Expect(s.Compute(nil, 2)[0]).To(Equal(0.1))
	})

	It("follows a cosine", func() {
		s := &control.Sine{Amplitude: 0.2, Frequency: 1}
		Expect(s.Compute(nil, 0)[0]).To(BeNumerically("~", 0.2, 1e-12))
		Expect(s.Compute(nil, 0.5)[0]).To(BeNumerically("~", -0.2, 1e-12))
	})

	It("holds a constant", func() {
		Expect((&control.Constant{}).Compute(nil, 3)[0]).To(BeZero())
	})
})
