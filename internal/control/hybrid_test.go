package control_test

import (
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/rwpend/internal/control"
	"github.com/san-kum/rwpend/internal/dynamo"
	"github.com/san-kum/rwpend/internal/physics"
)

var _ = Describe("Hybrid", func() {
	var (
		rw *physics.ReactionWheel
		h  *control.Hybrid
	)

	compute := func(x dynamo.State) float64 {
		return h.Compute(x, 0)[0]
	}

	BeforeEach(func() {
		rw = physics.NewReactionWheel()
		h = control.NewHybrid(rw, control.DefaultHybridParams())
	})

	It("starts swinging", func() {
		Expect(h.Mode()).To(Equal(control.Swinging))
	})

	Context("while swinging", func() {
		It("pumps energy from the hanging rest position", func() {
			u := compute(dynamo.State{0, math.Pi, 0})
			Expect(u).NotTo(BeZero())
			Expect(math.Abs(u)).To(BeNumerically("~", 0.2, 1e-12))
			Expect(h.Mode()).To(Equal(control.Swinging))
		})

		It("pushes against the direction of motion below top energy", func() {
			Expect(compute(dynamo.State{0, 2.5, 1})).To(BeNumerically("~", -0.2, 1e-12))
			Expect(compute(dynamo.State{0, 2.5, -1})).To(BeNumerically("~", 0.2, 1e-12))
		})

		It("brakes with motion above top energy", func() {
			Expect(compute(dynamo.State{0, 0.5, 12})).To(BeNumerically("~", 0.2, 1e-12))
		})

		It("slows a saturated wheel first", func() {
			Expect(compute(dynamo.State{100, math.Pi, 0})).To(BeNumerically("~", -0.15, 1e-12))
			Expect(compute(dynamo.State{-100, math.Pi, 0})).To(BeNumerically("~", 0.15, 1e-12))
		})

		It("enters balancing near upright with a small balance command", func() {
			compute(dynamo.State{0, 0.05, 0})
			Expect(h.Mode()).To(Equal(control.Balancing))
			Expect(h.Switches()).To(Equal(1))
		})

		It("enters balancing from either side of upright", func() {
			compute(dynamo.State{0, -0.05, 0})
			Expect(h.Mode()).To(Equal(control.Balancing))
		})

		It("requires a small balance command as well as a small angle", func() {
			compute(dynamo.State{0, 0.1, 10})
			Expect(h.Mode()).To(Equal(control.Swinging))
		})

		It("keeps swinging inside the hysteresis band", func() {
			compute(dynamo.State{0, 0.22, 0})
			Expect(h.Mode()).To(Equal(control.Swinging))
		})
	})

	Context("while balancing", func() {
		BeforeEach(func() {
			compute(dynamo.State{0, 0.05, 0})
			Expect(h.Mode()).To(Equal(control.Balancing))
		})

		It("applies the clamped feedback command", func() {
			Expect(compute(dynamo.State{0, 0.05, 0})).To(BeNumerically("~", 8.00347*0.05, 1e-9))
			Expect(compute(dynamo.State{0, 0.19, 0})).To(Equal(1.0))
			Expect(compute(dynamo.State{0, -0.19, 0})).To(Equal(-1.0))
		})

		It("stays balancing inside the hysteresis band", func() {
			compute(dynamo.State{0, 0.22, 0})
			Expect(h.Mode()).To(Equal(control.Balancing))
		})

		It("falls back to chilling past the exit tolerance", func() {
			compute(dynamo.State{0, 0.3, 0})
			Expect(h.Mode()).To(Equal(control.Chilling))
		})
	})

	Context("while chilling", func() {
		BeforeEach(func() {
			compute(dynamo.State{0, 0.05, 0})
			compute(dynamo.State{0, 0.3, 0})
			Expect(h.Mode()).To(Equal(control.Chilling))
		})

		It("bleeds energy against the wheel speed", func() {
			Expect(compute(dynamo.State{10, 0.4, 0})).To(BeNumerically("~", -0.3, 1e-12))
			Expect(h.Mode()).To(Equal(control.Chilling))
			Expect(compute(dynamo.State{-10, 0.4, 0})).To(BeNumerically("~", 0.3, 1e-12))
		})

		It("hands back to swinging once energy drops below the blend target", func() {
			before := compute(dynamo.State{10, 0.4, 0})
			after := compute(dynamo.State{10, 2.0, 0})
			Expect(h.Mode()).To(Equal(control.Swinging))
			Expect(after).To(Equal(before))
		})
	})

	It("reports every switch", func() {
		var seen []control.Mode
		h.OnSwitch = func(from, to control.Mode, t float64) { seen = append(seen, to) }

		compute(dynamo.State{0, 0.05, 0})
		compute(dynamo.State{0, 0.3, 0})
		compute(dynamo.State{0, math.Pi, 0})

		Expect(seen).To(Equal([]control.Mode{control.Balancing, control.Chilling, control.Swinging}))
	})
})

var _ = Describe("HybridParams", func() {
	It("accepts the defaults", func() {
		Expect(control.DefaultHybridParams().Validate()).To(Succeed())
	})

	It("rejects inverted hysteresis", func() {
		p := control.DefaultHybridParams()
		p.EntryTolerance, p.ExitTolerance = 0.3, 0.2
		Expect(p.Validate()).To(MatchError(dynamo.ErrParameterBounds))
	})
})

var _ = Describe("Mode", func() {
	It("round-trips through its name", func() {
		for _, m := range []control.Mode{control.Swinging, control.Chilling, control.Balancing} {
			parsed, err := control.ParseMode(m.String())
			Expect(err).NotTo(HaveOccurred())
			Expect(parsed).To(Equal(m))
		}
		_, err := control.ParseMode("sleeping")
		Expect(err).To(HaveOccurred())
	})
})
