// Package scoring computes the safety score for a driving session.
//
// The score is a fixed contract shared by session analytics and reward
// settlement. Both callers must go through Compute so dashboard scores and
// minted amounts never diverge.
package scoring

import "math"

// Weights of each component in the overall score. They sum to 1.
const (
	weightDrowsiness   = 0.30
	weightStress       = 0.25
	weightCompliance   = 0.25
	weightIntervention = 0.20
)

const (
	drowsinessPenaltyRate   = 20
	stressPenaltyRate       = 15
	interventionPenaltyStep = 5
	interventionPenaltyCap  = 30
)

// Input is the metrics bundle for one session.
//
// Drowsiness and Stress accept either a unit value in [0,1] or a percent in
// (1,100]; RouteCompliance accepts either a percent in [0,100] or a unit
// value in [0,1]. Compute normalizes both through a single point so callers
// on different scales cannot skew the result.
type Input struct {
	Drowsiness        float64
	Stress            float64
	InterventionCount int
	RouteCompliance   float64
}

// NormalizeUnit maps a value that may be on a 0-100 scale down to [0,1].
// Values already in [0,1] pass through.
func NormalizeUnit(v float64) float64 {
	if v > 1 {
		v /= 100
	}
	return clamp(v, 0, 1)
}

// NormalizePercent maps a value that may be on a [0,1] scale up to [0,100].
// Values above 1 are treated as already-percent.
func NormalizePercent(v float64) float64 {
	if v >= 0 && v <= 1 {
		v *= 100
	}
	return clamp(v, 0, 100)
}

// Compute maps the metrics bundle to an overall safety score in [0,100].
// Pure function, no side effects.
func Compute(in Input) int {
	drowsiness := NormalizeUnit(in.Drowsiness)
	stress := NormalizeUnit(in.Stress)
	compliance := NormalizePercent(in.RouteCompliance)

	drowsinessScore := math.Max(0, 100-drowsiness*drowsinessPenaltyRate)
	stressScore := math.Max(0, 100-stress*stressPenaltyRate)

	penalty := math.Min(interventionPenaltyCap, float64(in.InterventionCount)*interventionPenaltyStep)
	interventionScore := math.Max(0, 100-penalty)

	overall := math.Round(
		drowsinessScore*weightDrowsiness +
			stressScore*weightStress +
			compliance*weightCompliance +
			interventionScore*weightIntervention,
	)

	return int(clamp(overall, 0, 100))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
