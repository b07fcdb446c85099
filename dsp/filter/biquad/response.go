package biquad

import "math"

// PowerGain returns |H(f)|², the squared magnitude of the section's
// transfer function at freqHz.
func (c *Coefficients) PowerGain(freqHz, sampleRate float64) float64 {
	w := 2 * math.Pi * freqHz / sampleRate
	cw, c2w := math.Cos(w), math.Cos(2*w)

	num := c.B0*c.B0 + c.B1*c.B1 + c.B2*c.B2 +
		2*(c.B0*c.B1+c.B1*c.B2)*cw + 2*c.B0*c.B2*c2w
	den := 1 + c.A1*c.A1 + c.A2*c.A2 +
		2*(c.A1+c.A1*c.A2)*cw + 2*c.A2*c2w
	if den <= 0 {
		return math.Inf(1)
	}
	return math.Max(num, 0) / den
}

// MagnitudeDB returns the section's gain in dB at freqHz.
func (c *Coefficients) MagnitudeDB(freqHz, sampleRate float64) float64 {
	return 10 * math.Log10(c.PowerGain(freqHz, sampleRate))
}
