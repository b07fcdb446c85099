// Package testutil holds signal generators and assertions shared by the
// package tests. It must not import the engine so engine tests can use it.
package testutil

import (
	"math"
	"math/rand"
)

// Sine generates a deterministic float32 sine wave.
func Sine(freqHz, sampleRate, amplitude float64, length int) []float32 {
	out := make([]float32, length)
	step := 2 * math.Pi * freqHz / sampleRate
	for i := range out {
		out[i] = float32(amplitude * math.Sin(step*float64(i)))
	}
	return out
}

// Noise generates white noise with a fixed seed for reproducibility.
func Noise(seed int64, amplitude float64, length int) []float32 {
	out := make([]float32, length)
	rng := rand.New(rand.NewSource(seed))
	for i := range out {
		out[i] = float32((rng.Float64()*2 - 1) * amplitude)
	}
	return out
}

// DC generates a constant-valued signal.
func DC(value float32, length int) []float32 {
	out := make([]float32, length)
	for i := range out {
		out[i] = value
	}
	return out
}

// Ramp returns 1, 2, 3, ... so every frame index is recognizable in the
// rendered output.
func Ramp(length int) []float32 {
	out := make([]float32, length)
	for i := range out {
		out[i] = float32(i + 1)
	}
	return out
}

// Deinterleave splits interleaved stereo into left and right.
func Deinterleave(interleaved []float32) (left, right []float32) {
	n := len(interleaved) / 2
	left = make([]float32, n)
	right = make([]float32, n)
	for i := range n {
		left[i] = interleaved[2*i]
		right[i] = interleaved[2*i+1]
	}
	return left, right
}

// Peak returns the largest absolute sample value.
func Peak(data []float32) float64 {
	var p float64
	for _, v := range data {
		p = math.Max(p, math.Abs(float64(v)))
	}
	return p
}
