package loop

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/san-kum/rwpend/internal/dynamo"
)

var ErrNotSettled = errors.New("loop: pendulum did not settle")

type SettleConfig struct {
	Window    int           `yaml:"window"`
	Interval  time.Duration `yaml:"interval"`
	Tolerance float64       `yaml:"tolerance"`
	Attempts  int           `yaml:"attempts"`
}

func DefaultSettleConfig() SettleConfig {
	return SettleConfig{
		Window:    50,
		Interval:  10 * time.Millisecond,
		Tolerance: 1e-4,
		Attempts:  2000,
	}
}

// Settle blocks until the circular spread of the last Window sensor readings
// drops below Tolerance and returns their circular mean. It is meant for
// startup, with the pendulum hanging still.
func Settle(ctx context.Context, sensor AngleSensor, cfg SettleConfig) (float64, error) {
	if cfg.Window < 1 {
		cfg.Window = 1
	}
	sines := make([]float64, 0, cfg.Window)
	cosines := make([]float64, 0, cfg.Window)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		a, err := sensor.Rotation(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			log.WithError(err).Debug("settle read failed")
		} else {
			if len(sines) == cfg.Window {
				sines, cosines = sines[1:], cosines[1:]
			}
			sines = append(sines, math.Sin(a))
			cosines = append(cosines, math.Cos(a))

			if len(sines) == cfg.Window {
				mean, spread := circular(sines, cosines)
				if spread < cfg.Tolerance {
					log.WithFields(log.Fields{"angle": mean, "reads": attempt + 1}).Info("pendulum settled")
					return mean, nil
				}
			}
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
	return 0, fmt.Errorf("%w after %d reads", ErrNotSettled, cfg.Attempts)
}

// circular returns the mean direction and 1 - R, where R is the mean
// resultant length.
func circular(sines, cosines []float64) (float64, float64) {
	var s, c float64
	for i := range sines {
		s += sines[i]
		c += cosines[i]
	}
	n := float64(len(sines))
	s, c = s/n, c/n
	return math.Atan2(s, c), 1 - math.Hypot(s, c)
}

// ReferenceFromBottom converts the raw reading of the pendulum hanging at
// rest into the raw reading of upright.
func ReferenceFromBottom(bottom float64) float64 {
	return dynamo.SubAngles(bottom, math.Pi)
}
