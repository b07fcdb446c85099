package reverb

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-stems/dsp/delay"
)

const lines = 8

// Parameter ranges accepted by the setters.
const (
	MaxMix     = 1.0
	MaxDamping = 0.95

	// MinDecay and MaxDecay bound the tail length in seconds.
	MinDecay = 0.1
	MaxDecay = 10.0

	// MaxPreDelay is the longest supported pre-delay in seconds.
	MaxPreDelay = 0.25
)

const (
	defaultMix      = 0.25
	defaultDecay    = 1.8
	defaultDamping  = 0.3
	defaultPreDelay = 0.01

	// Line lengths are mutually prime at 44.1 kHz and scaled to the
	// running rate.
	referenceRate = 44100.0
	// Each line's read point drifts by up to 2 ms at 0.1 Hz, phase-offset
	// per line, to smear the modal peaks.
	modDepth = 0.002
	modRate  = 0.1
)

var lineLengths = [lines]float64{1537, 1753, 1999, 2251, 2473, 2689, 2851, 3067}

// Reverberator is a stereo reverb on an eight-line feedback delay network
// with a Hadamard feedback matrix, per-line damping and a modulated read
// point. The input is summed to mono; the two outputs are taken from
// different Hadamard rows so they are decorrelated.
//
// Setters do not allocate and can be called between render blocks.
type Reverberator struct {
	sampleRate float64

	mix      float64
	dry, wet float64
	decay    float64
	damping  float64
	preDelay float64

	delay    [lines]float64 // nominal length in samples
	feedback [lines]float64
	lp       [lines]float64
	line     [lines]*delay.Line
	pre      *delay.Line
	lfo      float64
	lfoStep  float64
	depth    float64
}

// New creates a reverberator for sampleRate.
func New(sampleRate float64) (*Reverberator, error) {
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return nil, fmt.Errorf("reverb: sample rate must be > 0: %f", sampleRate)
	}

	r := &Reverberator{
		sampleRate: sampleRate,
		damping:    defaultDamping,
		depth:      modDepth * sampleRate,
		lfoStep:    2 * math.Pi * modRate / sampleRate,
	}
	var err error
	for i, n := range lineLengths {
		r.delay[i] = n * sampleRate / referenceRate
		if r.line[i], err = delay.New(int(math.Ceil(r.delay[i]+r.depth)) + 4); err != nil {
			return nil, fmt.Errorf("reverb: %w", err)
		}
	}
	if r.pre, err = delay.New(int(math.Ceil(MaxPreDelay*sampleRate)) + 4); err != nil {
		return nil, fmt.Errorf("reverb: %w", err)
	}

	r.setMix(defaultMix)
	r.setDecay(defaultDecay)
	r.preDelay = defaultPreDelay
	return r, nil
}

// SetMix sets the dry/wet balance in [0,MaxMix] with an equal-power
// crossfade.
func (r *Reverberator) SetMix(mix float64) error {
	if !(mix >= 0 && mix <= MaxMix) {
		return fmt.Errorf("reverb: mix must be in [0,%g]: %f", MaxMix, mix)
	}
	r.setMix(mix)
	return nil
}

func (r *Reverberator) setMix(mix float64) {
	r.mix = mix
	r.dry = math.Cos(mix * math.Pi / 2)
	r.wet = math.Sin(mix * math.Pi / 2)
}

// SetDecay sets the time in seconds for the tail to fall by 60 dB, in
// [MinDecay,MaxDecay].
func (r *Reverberator) SetDecay(seconds float64) error {
	if !(seconds >= MinDecay && seconds <= MaxDecay) {
		return fmt.Errorf("reverb: decay must be in [%g,%g]: %f", MinDecay, MaxDecay, seconds)
	}
	r.setDecay(seconds)
	return nil
}

func (r *Reverberator) setDecay(seconds float64) {
	r.decay = seconds
	for i, d := range r.delay {
		r.feedback[i] = math.Pow(10, -3*d/r.sampleRate/seconds)
	}
}

// SetDamping sets the high-frequency loss in the feedback path, in
// [0,MaxDamping].
func (r *Reverberator) SetDamping(v float64) error {
	if !(v >= 0 && v <= MaxDamping) {
		return fmt.Errorf("reverb: damping must be in [0,%g]: %f", MaxDamping, v)
	}
	r.damping = v
	return nil
}

// SetPreDelay sets the delay before the tail starts, up to MaxPreDelay.
func (r *Reverberator) SetPreDelay(seconds float64) error {
	if !(seconds >= 0 && seconds <= MaxPreDelay) {
		return fmt.Errorf("reverb: pre-delay must be in [0,%g]: %f", MaxPreDelay, seconds)
	}
	r.preDelay = seconds
	return nil
}

func (r *Reverberator) Mix() float64      { return r.mix }
func (r *Reverberator) Decay() float64    { return r.decay }
func (r *Reverberator) Damping() float64  { return r.damping }
func (r *Reverberator) PreDelay() float64 { return r.preDelay }

// Reset clears the network.
func (r *Reverberator) Reset() {
	for i := range r.line {
		r.line[i].Reset()
		r.lp[i] = 0
	}
	r.pre.Reset()
	r.lfo = 0
}

// Process runs the reverb over paired buffers in place.
func (r *Reverberator) Process(left, right []float64) {
	right = right[:len(left)]
	preSamples := r.preDelay * r.sampleRate
	norm := 1 / math.Sqrt(lines)

	var taps [lines]float64
	for n := range left {
		in := (left[n] + right[n]) / 2
		// ReadFractional(1) is the sample just written.
		if preSamples > 0 {
			r.pre.Write(in)
			in = r.pre.ReadFractional(preSamples + 1)
		}

		for i := range taps {
			mod := 0.5 * (1 + math.Sin(r.lfo+2*math.Pi*float64(i)/lines))
			taps[i] = r.line[i].ReadFractional(r.delay[i] + r.depth*mod + 1)
		}
		r.lfo = math.Mod(r.lfo+r.lfoStep, 2*math.Pi)

		hadamard(&taps)

		outL, outR := taps[0], taps[1]
		for i := range taps {
			y := taps[i]*norm*(1-r.damping) + r.lp[i]*r.damping
			if y > -1e-30 && y < 1e-30 {
				y = 0
			}
			r.lp[i] = y
			r.line[i].Write(in*norm + y*r.feedback[i])
		}

		left[n] = left[n]*r.dry + outL*norm*r.wet
		right[n] = right[n]*r.dry + outR*norm*r.wet
	}
}

// hadamard applies the unnormalized 8-point Walsh-Hadamard transform in
// place (Sylvester ordering).
func hadamard(x *[lines]float64) {
	for h := 1; h < lines; h *= 2 {
		for i := 0; i < lines; i += 2 * h {
			for j := i; j < i+h; j++ {
				a, b := x[j], x[j+h]
				x[j], x[j+h] = a+b, a-b
			}
		}
	}
}
