// Package tune searches controller parameters by running a closed-loop
// trial for every point of a grid and scoring one of its metrics.
package tune

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var ErrNoTrials = errors.New("tune: no successful trials")

// Axis is one searched parameter and the values it takes.
type Axis struct {
	Name   string
	Values []float64
}

// ParseAxis reads "name=v1,v2,..." or "name=lo:hi:n" (n evenly spaced
// values including both ends).
func ParseAxis(s string) (Axis, error) {
	name, values, ok := strings.Cut(s, "=")
	if !ok || name == "" || values == "" {
		return Axis{}, fmt.Errorf("tune: axis %q: want name=values", s)
	}
	a := Axis{Name: name}

	if parts := strings.Split(values, ":"); len(parts) == 3 {
		lo, err1 := strconv.ParseFloat(parts[0], 64)
		hi, err2 := strconv.ParseFloat(parts[1], 64)
		n, err3 := strconv.Atoi(parts[2])
		if err := errors.Join(err1, err2, err3); err != nil {
			return Axis{}, fmt.Errorf("tune: axis %q: %w", s, err)
		}
		if n < 2 || !(hi > lo) {
			return Axis{}, fmt.Errorf("tune: axis %q: need lo < hi and at least 2 points", s)
		}
		for i := 0; i < n; i++ {
			a.Values = append(a.Values, lo+(hi-lo)*float64(i)/float64(n-1))
		}
		return a, nil
	}

	for _, f := range strings.Split(values, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return Axis{}, fmt.Errorf("tune: axis %q: %w", s, err)
		}
		a.Values = append(a.Values, v)
	}
	return a, nil
}

// Trial is one evaluated grid point.
type Trial struct {
	Params map[string]float64
	Score  float64
	Err    error
}

// RunFunc evaluates params and returns the run's metrics.
type RunFunc func(ctx context.Context, params map[string]float64) (map[string]float64, error)

type GridSearch struct {
	Axes     []Axis
	Metric   string
	Maximize bool
	// Workers bounds concurrent trials; zero means GOMAXPROCS.
	Workers int
}

// Points lists every combination of axis values, first axis slowest.
func (g *GridSearch) Points() []map[string]float64 {
	points := []map[string]float64{{}}
	for _, axis := range g.Axes {
		next := make([]map[string]float64, 0, len(points)*len(axis.Values))
		for _, p := range points {
			for _, v := range axis.Values {
				q := make(map[string]float64, len(p)+1)
				for k, pv := range p {
					q[k] = pv
				}
				q[axis.Name] = v
				next = append(next, q)
			}
		}
		points = next
	}
	return points
}

// Search runs every grid point and returns the best trial along with all
// trials ordered best first. A failing trial is recorded and skipped; the
// search only fails when no trial succeeds or ctx is canceled.
func (g *GridSearch) Search(ctx context.Context, run RunFunc) (Trial, []Trial, error) {
	points := g.Points()
	trials := make([]Trial, len(points))

	workers := g.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)

	var mu sync.Mutex
	done := 0
	for i, p := range points {
		eg.Go(func() error {
			if err := ectx.Err(); err != nil {
				return err
			}
			trials[i] = g.evaluate(ectx, run, p)

			mu.Lock()
			done++
			entry := log.WithFields(log.Fields{"trial": done, "of": len(points), "score": trials[i].Score})
			mu.Unlock()
			if trials[i].Err != nil {
				entry.WithError(trials[i].Err).Debug("trial failed")
			} else {
				entry.Debug("trial done")
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Trial{}, nil, err
	}
	if err := ctx.Err(); err != nil {
		return Trial{}, nil, err
	}

	sort.SliceStable(trials, func(a, b int) bool {
		return g.better(trials[a], trials[b])
	})
	if len(trials) == 0 || trials[0].Err != nil {
		return Trial{}, trials, ErrNoTrials
	}
	return trials[0], trials, nil
}

func (g *GridSearch) evaluate(ctx context.Context, run RunFunc, p map[string]float64) Trial {
	t := Trial{Params: p, Score: math.NaN()}
	m, err := run(ctx, p)
	if err != nil {
		t.Err = err
		return t
	}
	v, ok := m[g.Metric]
	if !ok {
		t.Err = fmt.Errorf("tune: metric %q not reported", g.Metric)
		return t
	}
	t.Score = v
	return t
}

// better orders successful trials by score and puts failures last.
func (g *GridSearch) better(a, b Trial) bool {
	switch {
	case a.Err != nil:
		return false
	case b.Err != nil:
		return true
	case g.Maximize:
		return a.Score > b.Score
	default:
		return a.Score < b.Score
	}
}
