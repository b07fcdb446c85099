// Package loudness measures programme loudness per ITU-R BS.1770.
package loudness

import (
	"math"

	"github.com/cwbudde/algo-stems/dsp/filter/biquad"
	"github.com/cwbudde/algo-stems/dsp/filter/design"
)

const (
	// K-weighting filter parameters from BS.1770.
	kWeightingShelfFreq = 1500.0
	kWeightingShelfGain = 4.0
	kWeightingHpfFreq   = 38.0

	// Gating blocks are 400 ms with 75% overlap.
	blockDuration = 0.4
	blockStep     = 0.1

	absThreshold = -70.0
	relThreshold = -10.0
)

// Integrated returns the gated integrated loudness of a whole programme in
// LUFS, or -Inf when every block is below the absolute gate. A single
// channel is measured as a mono signal played on both speakers. Only the
// first two channels are measured.
func Integrated(sampleRate float64, channels ...[]float32) float64 {
	if len(channels) == 0 || sampleRate <= 0 {
		return math.Inf(-1)
	}
	if len(channels) > 2 {
		channels = channels[:2]
	}

	weight := 1.0
	if len(channels) == 1 {
		weight = 2
	}

	n := len(channels[0])
	for _, ch := range channels[1:] {
		n = min(n, len(ch))
	}
	if n == 0 {
		return math.Inf(-1)
	}

	// Prefix sums of the K-weighted squares give each block in O(1).
	sums := make([][]float64, len(channels))
	for i, ch := range channels {
		sums[i] = weightedEnergy(ch[:n], sampleRate)
	}

	blockLen := min(max(int(math.Round(blockDuration*sampleRate)), 1), n)
	step := max(int(math.Round(blockStep*sampleRate)), 1)

	var blocks []float64
	for start := 0; start+blockLen <= n; start += step {
		z := 0.0
		for i := range sums {
			z += (sums[i][start+blockLen] - sums[i][start]) / float64(blockLen)
		}
		blocks = append(blocks, weight*z)
	}

	return gate(blocks)
}

// weightedEnergy K-weights x and returns the running sum of its squares,
// with a leading zero.
func weightedEnergy(x []float32, sampleRate float64) []float64 {
	q := 1 / math.Sqrt2
	shelf := biquad.NewSection(design.HighShelf(kWeightingShelfFreq, kWeightingShelfGain, q, sampleRate))
	hpf := biquad.NewSection(design.Highpass(kWeightingHpfFreq, q, sampleRate))

	out := make([]float64, len(x)+1)
	for i, v := range x {
		y := hpf.ProcessSample(shelf.ProcessSample(float64(v)))
		out[i+1] = out[i] + y*y
	}
	return out
}

func gate(blocks []float64) float64 {
	var (
		absSum   float64
		absCount int
	)
	for _, b := range blocks {
		if toLUFS(b) > absThreshold {
			absSum += b
			absCount++
		}
	}
	if absCount == 0 {
		return math.Inf(-1)
	}

	relGate := toLUFS(absSum/float64(absCount)) + relThreshold

	var (
		relSum   float64
		relCount int
	)
	for _, b := range blocks {
		l := toLUFS(b)
		if l > absThreshold && l > relGate {
			relSum += b
			relCount++
		}
	}
	if relCount == 0 {
		return math.Inf(-1)
	}
	return toLUFS(relSum / float64(relCount))
}

func toLUFS(meanSquare float64) float64 {
	if meanSquare <= 0 {
		return math.Inf(-1)
	}
	return -0.691 + 10*math.Log10(meanSquare)
}

// Adjustment returns the gain in dB that moves measured to target. It is 0
// when measured is not finite.
func Adjustment(measured, target float64) float64 {
	if math.IsInf(measured, 0) || math.IsNaN(measured) {
		return 0
	}
	return target - measured
}
