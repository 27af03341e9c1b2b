package control_test

import (
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/rwpend/internal/control"
	"github.com/san-kum/rwpend/internal/dynamo"
	"github.com/san-kum/rwpend/internal/estimate"
	"github.com/san-kum/rwpend/internal/integrators"
	"github.com/san-kum/rwpend/internal/physics"
)

var _ = Describe("LQRGain", func() {
	var (
		rw  *physics.ReactionWheel
		lin *estimate.LinearModel
	)

	BeforeEach(func() {
		rw = physics.NewReactionWheel()
		lin = estimate.Linearize(rw, dynamo.State{0, 0, 0}, 0.01, estimate.Diag(1, 1, 1), estimate.Diag(1))
	})

	It("lands near the stock balance gain with the default weights", func() {
		f, err := control.LQRGain(lin.A, lin.B, control.DefaultLQRWeights, control.DefaultLQREffort)
		Expect(err).NotTo(HaveOccurred())
		Expect(f[0]).To(BeNumerically("~", -0.0070642, 1e-5))
		Expect(f[1]).To(BeNumerically("~", -9.15582, 1e-3))
		Expect(f[2]).To(BeNumerically("~", -1.09843, 1e-3))
	})

	It("stabilizes the linearized plant", func() {
		f, err := control.LQRGain(lin.A, lin.B, control.DefaultLQRWeights, control.DefaultLQREffort)
		Expect(err).NotTo(HaveOccurred())

		fv := mat.NewVecDense(3, f[:])
		var bf, acl mat.Dense
		bf.Outer(1, lin.B, fv)
		acl.Sub(lin.A, &bf)

		var eig mat.Eigen
		Expect(eig.Factorize(&acl, mat.EigenNone)).To(BeTrue())
		for _, v := range eig.Values(nil) {
			Expect(math.Hypot(real(v), imag(v))).To(BeNumerically("<", 1))
		}
	})

	It("balances the nonlinear plant from a small tilt", func() {
		f, err := control.LQRGain(lin.A, lin.B, control.DefaultLQRWeights, control.DefaultLQREffort)
		Expect(err).NotTo(HaveOccurred())
		fb := control.NewFeedback(f)
		integ := integrators.NewRK4()

		x := dynamo.State{0, 0.1, 0}
		for k := 0; k < 500; k++ {
			u := fb.Compute(x, float64(k)*0.01)
			x = integ.Step(rw, x, u, float64(k)*0.01, 0.01)
		}
		Expect(math.Abs(x[dynamo.Angle])).To(BeNumerically("<", 0.01))
		Expect(math.Abs(x[dynamo.AngleRate])).To(BeNumerically("<", 0.05))
	})

	DescribeTable("rejects bad weights",
		func(q [3]float64, r float64) {
			_, err := control.LQRGain(lin.A, lin.B, q, r)
			Expect(err).To(MatchError(dynamo.ErrParameterBounds))
		},
		Entry("zero effort", control.DefaultLQRWeights, 0.0),
		Entry("negative effort", control.DefaultLQRWeights, -1.0),
		Entry("negative state weight", [3]float64{0, -1, 0}, 1.0),
	)

	It("rejects a system of the wrong size", func() {
		_, err := control.LQRGain(mat.NewDense(2, 2, nil), mat.NewVecDense(2, nil), control.DefaultLQRWeights, 1)
		Expect(err).To(MatchError(dynamo.ErrParameterBounds))
	})
})
