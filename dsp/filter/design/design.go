package design

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-stems/dsp/filter/biquad"
)

const defaultQ = 1 / math.Sqrt2

// Kind selects a filter shape.
type Kind string

const (
	KindLowpass   Kind = "lowpass"
	KindHighpass  Kind = "highpass"
	KindLowShelf  Kind = "lowshelf"
	KindPeak      Kind = "peaking"
	KindHighShelf Kind = "highshelf"
)

// ParseKind validates a filter shape name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindLowpass, KindHighpass, KindLowShelf, KindPeak, KindHighShelf:
		return k, nil
	default:
		return "", fmt.Errorf("design: unknown filter kind %q", s)
	}
}

// UsesGain reports whether gainDB affects the shape.
func (k Kind) UsesGain() bool {
	return k == KindLowShelf || k == KindPeak || k == KindHighShelf
}

// Design dispatches to the design function for kind.
func Design(kind Kind, freq, gainDB, q, sampleRate float64) biquad.Coefficients {
	switch kind {
	case KindLowpass:
		return Lowpass(freq, q, sampleRate)
	case KindHighpass:
		return Highpass(freq, q, sampleRate)
	case KindLowShelf:
		return LowShelf(freq, gainDB, q, sampleRate)
	case KindPeak:
		return Peak(freq, gainDB, q, sampleRate)
	case KindHighShelf:
		return HighShelf(freq, gainDB, q, sampleRate)
	default:
		return biquad.Identity()
	}
}

// prewarp holds the bilinear-transform terms shared by every RBJ design.
type prewarp struct {
	cos, alpha float64
	amp        float64 // sqrt of the linear gain, 10^(dB/40)
}

func warp(freq, gainDB, q, sampleRate float64) (prewarp, bool) {
	if !finite(sampleRate) || sampleRate <= 0 || !finite(freq) || freq <= 0 || freq >= sampleRate/2 {
		return prewarp{}, false
	}
	if !finite(q) || q <= 0 {
		q = defaultQ
	}
	w0 := 2 * math.Pi * freq / sampleRate
	return prewarp{
		cos:   math.Cos(w0),
		alpha: math.Sin(w0) / (2 * q),
		amp:   math.Pow(10, gainDB/40),
	}, true
}

// section divides through by a0.
func section(b0, b1, b2, a0, a1, a2 float64) biquad.Coefficients {
	if a0 == 0 || !finite(a0) {
		return biquad.Identity()
	}
	return biquad.Coefficients{B0: b0 / a0, B1: b1 / a0, B2: b2 / a0, A1: a1 / a0, A2: a2 / a0}
}

// Lowpass designs a lowpass biquad at freq (Hz) with quality factor q.
// An out-of-range frequency yields the identity section.
func Lowpass(freq, q, sampleRate float64) biquad.Coefficients {
	p, ok := warp(freq, 0, q, sampleRate)
	if !ok {
		return biquad.Identity()
	}
	b := (1 - p.cos) / 2
	return section(b, 2*b, b, 1+p.alpha, -2*p.cos, 1-p.alpha)
}

// Highpass designs a highpass biquad at freq (Hz) with quality factor q.
func Highpass(freq, q, sampleRate float64) biquad.Coefficients {
	p, ok := warp(freq, 0, q, sampleRate)
	if !ok {
		return biquad.Identity()
	}
	b := (1 + p.cos) / 2
	return section(b, -2*b, b, 1+p.alpha, -2*p.cos, 1-p.alpha)
}

// Peak designs a peaking-EQ biquad with gain in dB.
func Peak(freq, gainDB, q, sampleRate float64) biquad.Coefficients {
	p, ok := warp(freq, gainDB, q, sampleRate)
	if !ok {
		return biquad.Identity()
	}
	up, down := p.alpha*p.amp, p.alpha/p.amp
	return section(1+up, -2*p.cos, 1-up, 1+down, -2*p.cos, 1-down)
}

// LowShelf designs a low-shelf biquad with gain in dB; q sets the shelf
// slope.
func LowShelf(freq, gainDB, q, sampleRate float64) biquad.Coefficients {
	p, ok := warp(freq, gainDB, q, sampleRate)
	if !ok {
		return biquad.Identity()
	}
	return shelf(p, 1)
}

// HighShelf designs a high-shelf biquad with gain in dB.
func HighShelf(freq, gainDB, q, sampleRate float64) biquad.Coefficients {
	p, ok := warp(freq, gainDB, q, sampleRate)
	if !ok {
		return biquad.Identity()
	}
	return shelf(p, -1)
}

// shelf builds a low shelf for side 1 and a high shelf for side -1. The
// two differ only in the sign of the cosine terms.
func shelf(p prewarp, side float64) biquad.Coefficients {
	a := p.amp
	beta := 2 * math.Sqrt(a) * p.alpha
	c := side * p.cos
	return section(
		a*((a+1)-(a-1)*c+beta),
		2*side*a*((a-1)-(a+1)*c),
		a*((a+1)-(a-1)*c-beta),
		(a+1)+(a-1)*c+beta,
		-2*side*((a-1)+(a+1)*c),
		(a+1)+(a-1)*c-beta,
	)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
