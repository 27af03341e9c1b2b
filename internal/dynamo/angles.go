package dynamo

import (
	"math"

	"golang.org/x/exp/constraints"
)

// WrapAngle folds a into (-π, π]. NaN and ±Inf are returned unchanged.
func WrapAngle(a float64) float64 {
	if math.IsNaN(a) || math.IsInf(a, 0) {
		return a
	}
	if math.Abs(a) > 4*math.Pi {
		a = math.Remainder(a, 2*math.Pi)
	}
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

// SubAngles returns a-b wrapped into (-π, π].
func SubAngles(a, b float64) float64 {
	return WrapAngle(a - b)
}

// Signum returns 1 for positive values and positive zero, -1 for negative
// values and negative zero.
func Signum(x float64) float64 {
	if math.Signbit(x) {
		return -1
	}
	return 1
}

func Clamp[T constraints.Float](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
