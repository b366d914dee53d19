// Package steering analyzes steering-wheel angle traces for fatigue markers.
//
// Erratic micro-corrections are one of the earliest observable signs of
// driver fatigue, often preceding measurable drowsiness. The analysis is a
// pure function over a window of recent angle readings.
package steering

import (
	"errors"
	"math"
)

// Pattern classifies a steering trace.
type Pattern string

const (
	PatternNormal    Pattern = "normal"
	PatternIrregular Pattern = "irregular"
	PatternErratic   Pattern = "erratic"
)

// Classification thresholds on the fatigue indicator.
const (
	irregularThreshold = 0.4
	erraticThreshold   = 0.7
)

// ErrTooFewAngles is returned when the window is too short to analyze.
var ErrTooFewAngles = errors.New("steering analysis requires at least 2 angle readings")

// Result is the outcome of analyzing one window of steering angles.
type Result struct {
	Variability      float64 `json:"variability"`
	FatigueIndicator float64 `json:"fatigueIndicator"`
	Pattern          Pattern `json:"pattern"`
	SampleCount      int     `json:"sampleCount"`
}

// Analyze computes steering variability (population standard deviation of the
// angle readings, in degrees), maps it to a fatigue indicator in [0,1], and
// classifies the pattern.
func Analyze(angles []float64) (Result, error) {
	if len(angles) < 2 {
		return Result{}, ErrTooFewAngles
	}

	mean := 0.0
	for _, a := range angles {
		mean += a
	}
	mean /= float64(len(angles))

	variance := 0.0
	for _, a := range angles {
		d := a - mean
		variance += d * d
	}
	variance /= float64(len(angles))

	variability := math.Sqrt(variance)
	fatigue := math.Min(1, variability/100)

	return Result{
		Variability:      variability,
		FatigueIndicator: fatigue,
		Pattern:          classify(fatigue),
		SampleCount:      len(angles),
	}, nil
}

func classify(fatigue float64) Pattern {
	switch {
	case fatigue >= erraticThreshold:
		return PatternErratic
	case fatigue >= irregularThreshold:
		return PatternIrregular
	default:
		return PatternNormal
	}
}
