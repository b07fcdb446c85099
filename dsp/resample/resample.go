package resample

import (
	"errors"
	"math"
)

var (
	// ErrInvalidRatio indicates an invalid up/down ratio.
	ErrInvalidRatio = errors.New("resample: invalid ratio")
	// ErrInvalidRate indicates an invalid input/output sample rate.
	ErrInvalidRate = errors.New("resample: invalid sample rate")
)

// Quality controls anti-aliasing filter settings.
type Quality int

const (
	// QualityFast prioritizes lower CPU usage.
	QualityFast Quality = iota
	// QualityBalanced is the default quality/performance trade-off.
	QualityBalanced
	// QualityBest prioritizes stopband attenuation and passband flatness.
	QualityBest
)

// maxDen bounds the denominator when a non-integer rate ratio is
// approximated.
const maxDen = 4096

type config struct {
	halfTaps    int // taps per phase on each side of the center
	cutoffScale float64
	kaiserBeta  float64
}

func configFor(q Quality) config {
	switch q {
	case QualityFast:
		return config{halfTaps: 8, cutoffScale: 0.88, kaiserBeta: 5.0}
	case QualityBest:
		return config{halfTaps: 32, cutoffScale: 0.96, kaiserBeta: 9.0}
	default:
		return config{halfTaps: 16, cutoffScale: 0.92, kaiserBeta: 7.5}
	}
}

// Converter resamples whole signals by a fixed rational factor up/down.
// A Converter holds no stream state and may be shared between goroutines.
type Converter struct {
	up, down int
	center   int // filter delay in upsampled samples
	phases   [][]float64
}

// NewRational creates a converter for ratio up/down.
func NewRational(up, down int, q Quality) (*Converter, error) {
	if up <= 0 || down <= 0 {
		return nil, ErrInvalidRatio
	}

	g := gcd(up, down)
	up /= g
	down /= g

	c := &Converter{up: up, down: down}
	if up == down {
		return c, nil
	}

	cfg := configFor(q)
	c.center = cfg.halfTaps * up
	taps := lowpass(2*c.center+1, c.center, 0.5/float64(max(up, down))*cfg.cutoffScale, cfg.kaiserBeta)

	// Normalize so every phase has roughly unit DC gain.
	var sum float64
	for _, v := range taps {
		sum += v
	}
	if sum == 0 {
		return nil, errors.New("resample: designed zero-sum filter")
	}

	c.phases = make([][]float64, up)
	for p := range up {
		for i := p; i < len(taps); i += up {
			c.phases[p] = append(c.phases[p], taps[i]*float64(up)/sum)
		}
	}
	return c, nil
}

// NewForRates creates a converter from inRate to outRate. Whole-number
// rates are reduced exactly; others are approximated by continued
// fractions.
func NewForRates(inRate, outRate float64, q Quality) (*Converter, error) {
	if !validRate(inRate) || !validRate(outRate) {
		return nil, ErrInvalidRate
	}

	if inRate == math.Trunc(inRate) && outRate == math.Trunc(outRate) &&
		inRate <= math.MaxInt32 && outRate <= math.MaxInt32 {
		return NewRational(int(outRate), int(inRate), q)
	}

	up, down := approximateRatio(outRate/inRate, maxDen)
	return NewRational(up, down, q)
}

// Convert resamples a complete signal from inRate to outRate. The output has
// round(len(input)*outRate/inRate) samples and no filter delay.
func Convert(input []float64, inRate, outRate float64, q Quality) ([]float64, error) {
	c, err := NewForRates(inRate, outRate, q)
	if err != nil {
		return nil, err
	}
	return c.Convert(input), nil
}

// Convert resamples input. Output sample m is aligned with input time
// m*down/up; samples beyond either end of input are taken as zero.
func (c *Converter) Convert(input []float64) []float64 {
	if c.up == c.down {
		return append([]float64(nil), input...)
	}

	n := int(math.Round(float64(len(input)) * float64(c.up) / float64(c.down)))
	out := make([]float64, n)

	for m := range out {
		t := m*c.down + c.center
		i := t / c.up

		var y float64
		for j, h := range c.phases[t%c.up] {
			k := i - j
			if k < 0 {
				break
			}
			if k < len(input) {
				y += h * input[k]
			}
		}
		out[m] = y
	}
	return out
}

// Ratio returns reduced up/down conversion factors.
func (c *Converter) Ratio() (up, down int) {
	return c.up, c.down
}

// lowpass designs a Kaiser-windowed sinc with cutoff fc in cycles per
// sample, centered on tap center.
func lowpass(n, center int, fc, beta float64) []float64 {
	taps := make([]float64, n)
	norm := i0(beta)
	for i := range taps {
		x := float64(i - center)
		r := x / float64(center)
		w := i0(beta*math.Sqrt(math.Max(0, 1-r*r))) / norm
		taps[i] = 2 * fc * sinc(2*fc*x) * w
	}
	return taps
}

func sinc(x float64) float64 {
	if math.Abs(x) < 1e-12 {
		return 1
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}

// i0 is the zeroth-order modified Bessel function of the first kind.
func i0(x float64) float64 {
	sum, term := 1.0, 1.0
	q := x * x / 4
	for k := 1; k < 64 && term >= 1e-16*sum; k++ {
		term *= q / float64(k*k)
		sum += term
	}
	return sum
}

// approximateRatio returns num/den close to v with den <= limit, taking
// convergents of the continued fraction of v.
func approximateRatio(v float64, limit int) (num, den int) {
	if !validRate(v) {
		return 1, 1
	}

	h0, h1 := 0, 1
	k0, k1 := 1, 0
	x := v
	for {
		a := int(math.Floor(x))
		h, k := a*h1+h0, a*k1+k0
		if k > limit {
			break
		}
		h0, h1, k0, k1 = h1, h, k1, k
		frac := x - float64(a)
		if frac < 1e-12 {
			break
		}
		x = 1 / frac
	}

	if h1 <= 0 || k1 <= 0 {
		return 1, 1
	}
	g := gcd(h1, k1)
	return h1 / g, k1 / g
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return max(a, 1)
}

func validRate(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
