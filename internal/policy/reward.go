package policy

import (
	"math"

	"github.com/san-kum/rwpend/internal/dynamo"
)

// RewardFunc scores a continuous state. Cells scoring nonzero are terminal
// during value iteration.
type RewardFunc func(x dynamo.State) float64

// DefaultRewardGain is the feedback row the synthesis reward is scored against.
var DefaultRewardGain = [3]float64{-0.00582265, -8.58642, -1.02539}

// BalanceReward rewards states within window of upright, preferring those
// the linear balance law can hold with little effort: 2 - |clamp(-F·x)|.
func BalanceReward(gain [3]float64, window float64) RewardFunc {
	return func(x dynamo.State) float64 {
		if math.Abs(x[dynamo.Angle]) >= window {
			return 0
		}
		u := -(gain[0]*x[0] + gain[1]*x[1] + gain[2]*x[2])
		return 2 - math.Abs(dynamo.Clamp(u, -1, 1))
	}
}
