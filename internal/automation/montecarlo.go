package automation

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/san-kum/rwpend/internal/config"
	"github.com/san-kum/rwpend/internal/dynamo"
	"github.com/san-kum/rwpend/internal/experiment"
)

// MonteCarloConfig perturbs the base initial state uniformly by up to
// Spread in each component, one draw per trial.
type MonteCarloConfig struct {
	Trials  int
	Spread  [dynamo.StateDim]float64
	Seed    uint64
	Workers int
}

type MonteCarloResult struct {
	Trial       int
	Initial     dynamo.State
	Captured    bool
	CaptureTime float64
	Upright     float64
	Err         error
}

// MonteCarloSummary aggregates the successful trials.
type MonteCarloSummary struct {
	Trials      int
	Failed      int
	Captured    int
	CaptureRate float64
	// Mean and spread of capture time over captured trials; NaN if none.
	CaptureMean float64
	CaptureStd  float64
	UprightMean float64
}

// Initials draws the perturbed initial states for every trial. The draws
// depend only on Seed, so a sweep is reproducible.
func (mc MonteCarloConfig) Initials(base dynamo.State) []dynamo.State {
	src := rand.NewPCG(mc.Seed, mc.Seed^0xda3e39cb94b95bdb)
	out := make([]dynamo.State, mc.Trials)
	for i := range out {
		x := base.Clone()
		for k, w := range mc.Spread {
			if w > 0 {
				x[k] += distuv.Uniform{Min: -w, Max: w, Src: src}.Rand()
			}
		}
		out[i] = x
	}
	return out
}

// RunMonteCarlo runs every trial of base with a perturbed initial state.
// Trial errors are recorded per trial; only cancellation aborts the sweep.
func RunMonteCarlo(ctx context.Context, base *config.Config, registry *experiment.Registry, mc MonteCarloConfig) ([]MonteCarloResult, error) {
	if mc.Trials < 1 {
		return nil, fmt.Errorf("%w: need at least one trial", config.ErrInvalid)
	}
	initials := mc.Initials(base.InitialState())
	results := make([]MonteCarloResult, mc.Trials)

	g, gctx := errgroup.WithContext(ctx)
	if mc.Workers > 0 {
		g.SetLimit(mc.Workers)
	} else {
		g.SetLimit(4)
	}
	for i, x0 := range initials {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r := MonteCarloResult{Trial: i, Initial: x0, CaptureTime: -1}
			m, err := experiment.Evaluate(gctx, base, registry, map[string]float64{
				"wheel_speed": x0[dynamo.WheelSpeed],
				"angle":       x0[dynamo.Angle],
				"angle_rate":  x0[dynamo.AngleRate],
			})
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				r.Err = err
			} else {
				r.CaptureTime = m["capture_time"]
				r.Captured = r.CaptureTime >= 0
				r.Upright = m["upright"]
			}
			results[i] = r
			if (i+1)%10 == 0 {
				log.WithField("trial", i+1).Debug("monte carlo progress")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func Summarize(results []MonteCarloResult) MonteCarloSummary {
	s := MonteCarloSummary{Trials: len(results), CaptureMean: math.NaN(), CaptureStd: math.NaN()}
	var times, upright []float64
	for _, r := range results {
		if r.Err != nil {
			s.Failed++
			continue
		}
		upright = append(upright, r.Upright)
		if r.Captured {
			s.Captured++
			times = append(times, r.CaptureTime)
		}
	}
	if ok := s.Trials - s.Failed; ok > 0 {
		s.CaptureRate = float64(s.Captured) / float64(ok)
		s.UprightMean = stat.Mean(upright, nil)
	}
	switch len(times) {
	case 0:
	case 1:
		s.CaptureMean, s.CaptureStd = times[0], 0
	default:
		s.CaptureMean, s.CaptureStd = stat.MeanStdDev(times, nil)
	}
	return s
}
