package engine

import (
	"fmt"
	"math"
	"sync"

	algofft "github.com/MeKo-Christian/algo-fft"
	"github.com/cwbudde/algo-stems/dsp/window"
	vecmath "github.com/cwbudde/algo-vecmath"
)

const (
	defaultFFTSize   = 2048
	defaultSmoothing = 0.8
	minDecibels      = -130.0
)

// AnalyserNode records the most recent FFTSize samples of its (mono-mixed)
// input for time-domain and spectral inspection. It has no outputs.
type AnalyserNode struct {
	*node

	mu    sync.Mutex // guards ring and write position
	ring  []float64
	write int

	// spectrum state, guarded by specMu
	specMu     sync.Mutex
	plan       *algofft.Plan[complex128]
	window     []float64
	windowGain float64
	frame      []float64
	fftIn      []complex128
	fftOut     []complex128
	re, im     []float64
	mags       []float64
	smoothed   []float64
	smoothing  float64
	primed     bool
}

// NewAnalyser creates an analyser with an FFT size of 2048.
func (c *Context) NewAnalyser(name string) *AnalyserNode {
	a := &AnalyserNode{node: c.newNode(name, 1, 0), smoothing: defaultSmoothing}
	a.proc = a
	if err := a.SetFFTSize(defaultFFTSize); err != nil {
		panic(err)
	}
	return a
}

// FFTSize returns the analysis window length in samples.
func (a *AnalyserNode) FFTSize() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.ring)
}

// SetFFTSize changes the window length. n must be a power of two in
// [32, 32768]. Recorded history is discarded.
func (a *AnalyserNode) SetFFTSize(n int) error {
	if n < 32 || n > 32768 || n&(n-1) != 0 {
		return fmt.Errorf("engine: analyser fft size must be a power of two in [32, 32768]: %d", n)
	}

	plan, err := algofft.NewPlan64(n)
	if err != nil {
		return fmt.Errorf("engine: analyser fft plan: %w", err)
	}

	win, err := window.Blackman(n, window.WithPeriodic())
	if err != nil {
		return fmt.Errorf("engine: analyser window: %w", err)
	}
	gain, err := window.CoherentGain(win)
	if err != nil {
		return fmt.Errorf("engine: analyser window: %w", err)
	}

	a.specMu.Lock()
	a.plan = plan
	a.window = win
	a.windowGain = gain
	a.frame = make([]float64, n)
	a.fftIn = make([]complex128, n)
	a.fftOut = make([]complex128, n)
	a.re = make([]float64, n/2+1)
	a.im = make([]float64, n/2+1)
	a.mags = make([]float64, n/2+1)
	a.smoothed = make([]float64, n/2+1)
	a.primed = false
	a.specMu.Unlock()

	a.mu.Lock()
	a.ring = make([]float64, n)
	a.write = 0
	a.mu.Unlock()

	return nil
}

// SetSmoothing sets the spectral averaging constant in [0, 1).
func (a *AnalyserNode) SetSmoothing(s float64) {
	a.specMu.Lock()
	a.smoothing = math.Min(math.Max(s, 0), 0.99)
	a.specMu.Unlock()
}

// FloatTimeDomainData copies the most recent samples, oldest first, into
// dst. When dst is shorter than FFTSize only the newest len(dst) samples are
// copied; when longer, the tail is zeroed. It returns the number of samples
// written.
func (a *AnalyserNode) FloatTimeDomainData(dst []float32) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := min(len(dst), len(a.ring))
	size := len(a.ring)
	start := a.write - n
	if start < 0 {
		start += size
	}
	for i := range n {
		dst[i] = float32(a.ring[(start+i)%size])
	}
	clear(dst[n:])
	return n
}

// Peak returns the largest absolute sample in the current window.
func (a *AnalyserNode) Peak() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	var peak float64
	for _, v := range a.ring {
		peak = math.Max(peak, math.Abs(v))
	}
	return peak
}

// FloatFrequencyData writes smoothed magnitudes in dBFS for bins
// 0..FFTSize/2 into dst and returns the count written.
func (a *AnalyserNode) FloatFrequencyData(dst []float32) int {
	a.specMu.Lock()
	defer a.specMu.Unlock()

	n := len(a.frame)
	if got := a.copyFrame(a.frame); got != n {
		// Size changed between locks; the next call sees consistent state.
		return 0
	}

	if err := window.ApplyCoefficientsInPlace(a.frame, a.window); err != nil {
		return 0
	}
	for i, v := range a.frame {
		a.fftIn[i] = complex(v, 0)
	}

	if err := a.plan.Forward(a.fftOut, a.fftIn); err != nil {
		return 0
	}

	bins := n/2 + 1
	for k := range bins {
		a.re[k] = real(a.fftOut[k])
		a.im[k] = imag(a.fftOut[k])
	}
	vecmath.Magnitude(a.mags, a.re, a.im)

	norm := float64(n) * math.Max(a.windowGain, 1e-12)
	for k := range bins {
		mag := a.mags[k] / norm
		if k > 0 && k < bins-1 {
			mag *= 2
		}

		if a.primed {
			mag = a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag
		}
		a.smoothed[k] = mag
	}
	a.primed = true

	count := min(len(dst), bins)
	for k := range count {
		db := 20 * math.Log10(math.Max(a.smoothed[k], 1e-12))
		dst[k] = float32(math.Max(db, minDecibels))
	}
	return count
}

func (a *AnalyserNode) copyFrame(dst []float64) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	size := len(a.ring)
	if size != len(dst) {
		return 0
	}
	for i := range size {
		dst[i] = a.ring[(a.write+i)%size]
	}
	return size
}

func (a *AnalyserNode) process(_ *quantum, in Block, _ []Block) {
	a.mu.Lock()
	size := len(a.ring)
	w := a.write
	for i := range in.L {
		a.ring[w] = 0.5 * (in.L[i] + in.R[i])
		w++
		if w == size {
			w = 0
		}
	}
	a.write = w
	a.mu.Unlock()
}
