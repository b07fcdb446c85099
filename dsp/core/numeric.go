// Package core holds the numeric helpers shared by the engine and the
// player: range clamping, dB conversion and one-pole smoothing.
package core

import "math"

// Clamp limits value to the inclusive range [lo, hi]. Swapped bounds are
// accepted.
func Clamp(value, lo, hi float64) float64 {
	if lo > hi {
		lo, hi = hi, lo
	}
	return math.Min(math.Max(value, lo), hi)
}

// Finite returns v, or def when v is NaN or infinite.
func Finite(v, def float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return def
	}
	return v
}

// DBToLinear converts dB to linear amplitude (20*log10 convention).
func DBToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

// LinearToDB converts linear amplitude to dB. Zero maps to -Inf and
// negative amplitudes to NaN.
func LinearToDB(linear float64) float64 {
	switch {
	case linear < 0:
		return math.NaN()
	case linear == 0:
		return math.Inf(-1)
	}
	return 20 * math.Log10(linear)
}

// OnePoleCoeff returns the per-sample feedback coefficient of a one-pole
// smoother that covers 1-1/e of a step within timeConstant seconds.
// A non-positive time constant yields 0 (no smoothing).
func OnePoleCoeff(timeConstant, sampleRate float64) float64 {
	if timeConstant <= 0 || sampleRate <= 0 {
		return 0
	}
	return math.Exp(-1 / (timeConstant * sampleRate))
}
