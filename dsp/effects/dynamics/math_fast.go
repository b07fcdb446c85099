//go:build fastmath

package dynamics

import (
	"math"

	"github.com/meko-christian/algo-approx"
)

// mathLog2 computes log2(x) with the fast natural-log approximation.
func mathLog2(x float64) float64 {
	return approx.FastLog(x) / math.Ln2
}

// mathPower2 computes 2^x with the fast exponential approximation.
func mathPower2(x float64) float64 {
	return approx.FastExp(x * math.Ln2)
}
