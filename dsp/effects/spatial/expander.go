package spatial

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-stems/dsp/filter/biquad"
	"github.com/cwbudde/algo-stems/dsp/filter/design"
)

// Width and bass-mono limits.
const (
	MaxWidth    = 4.0
	MinBassMono = 20.0
	MaxBassMono = 500.0
)

const crossoverQ = 1 / math.Sqrt2

// Expander scales the side signal of a stereo pair. Width 1 is transparent,
// 0 folds to mono and values above 1 widen the image. With a bass-mono
// crossover set, content below it is summed to the center before widening.
//
// Not safe for concurrent use.
type Expander struct {
	sampleRate float64
	width      float64
	bassMono   float64

	// zero-valued and unused while bassMono is 0
	low, high biquad.Stereo
}

// NewExpander returns a transparent expander for sampleRate.
func NewExpander(sampleRate float64) (*Expander, error) {
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return nil, fmt.Errorf("spatial: sample rate must be > 0 and finite: %f", sampleRate)
	}
	return &Expander{sampleRate: sampleRate, width: 1}, nil
}

// Width returns the side gain.
func (e *Expander) Width() float64 { return e.width }

// BassMono returns the crossover in Hz, or 0 when disabled.
func (e *Expander) BassMono() float64 { return e.bassMono }

// SetWidth sets the side gain in [0, MaxWidth].
func (e *Expander) SetWidth(width float64) error {
	if !(width >= 0 && width <= MaxWidth) {
		return fmt.Errorf("spatial: width must be in [0, %g]: %f", MaxWidth, width)
	}
	e.width = width
	return nil
}

// SetBassMono sets the mono crossover in [MinBassMono, MaxBassMono] Hz, or
// disables it with 0. Moving the crossover keeps the filter state.
func (e *Expander) SetBassMono(freq float64) error {
	if freq == 0 {
		if e.bassMono != 0 {
			e.low, e.high = biquad.Stereo{}, biquad.Stereo{}
		}
		e.bassMono = 0
		return nil
	}
	if !(freq >= MinBassMono && freq <= MaxBassMono) || freq >= e.sampleRate/2 {
		return fmt.Errorf("spatial: bass mono must be 0 or in [%g, %g] below Nyquist: %f",
			MinBassMono, MaxBassMono, freq)
	}

	lp := design.Lowpass(freq, crossoverQ, e.sampleRate)
	hp := design.Highpass(freq, crossoverQ, e.sampleRate)
	if e.bassMono == 0 {
		e.low, e.high = biquad.NewStereo(lp), biquad.NewStereo(hp)
	} else {
		e.low.SetCoefficients(lp)
		e.high.SetCoefficients(hp)
	}
	e.bassMono = freq
	return nil
}

// Reset clears the crossover state.
func (e *Expander) Reset() {
	e.low.L.Reset()
	e.low.R.Reset()
	e.high.L.Reset()
	e.high.R.Reset()
}

// Process widens paired buffers in place. right must be at least as long
// as left.
func (e *Expander) Process(left, right []float64) {
	right = right[:len(left)]
	if e.bassMono == 0 {
		for i := range left {
			left[i], right[i] = e.matrix(left[i], right[i], 0)
		}
		return
	}

	for i := range left {
		l, r := left[i], right[i]
		bass := (e.low.L.ProcessSample(l) + e.low.R.ProcessSample(r)) / 2
		left[i], right[i] = e.matrix(e.high.L.ProcessSample(l), e.high.R.ProcessSample(r), bass)
	}
}

// matrix encodes l/r to mid/side, scales side and decodes with center
// added to both channels.
func (e *Expander) matrix(l, r, center float64) (float64, float64) {
	mid := (l + r) / 2
	side := (l - r) / 2 * e.width
	return center + mid + side, center + mid - side
}
