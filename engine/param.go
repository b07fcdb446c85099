package engine

import (
	"math"
	"sync/atomic"

	"github.com/cwbudde/algo-stems/dsp/core"
)

// DefaultTimeConstant is the smoothing time constant used by SetTarget
// callers that have no better value, in seconds.
const DefaultTimeConstant = 0.02

// Param is an automatable node parameter.
//
// The control plane writes a target; the render thread approaches it with a
// one-pole exponential curve (the Web Audio setTargetAtTime shape) or jumps
// to it when the write came from SetValue. Values are clamped to the
// parameter range on write.
type Param struct {
	name     string
	def      float64
	min, max float64

	target   atomic.Uint64 // float64 bits
	timeCons atomic.Uint64 // float64 bits, seconds
	jumps    atomic.Uint64

	// render thread only
	current    float64
	seenJumps  uint64
	coeffTC    float64
	coeff      float64
	sampleRate float64
	values     []float64
}

func newParam(name string, def, min, max, sampleRate float64) *Param {
	p := &Param{
		name:       name,
		def:        def,
		min:        min,
		max:        max,
		current:    def,
		sampleRate: sampleRate,
		values:     make([]float64, RenderQuantum),
	}
	p.target.Store(math.Float64bits(def))
	p.timeCons.Store(math.Float64bits(DefaultTimeConstant))
	p.coeffTC = -1
	return p
}

// Name returns the parameter name.
func (p *Param) Name() string { return p.name }

// Default returns the initial value.
func (p *Param) Default() float64 { return p.def }

// Range returns the inclusive value range.
func (p *Param) Range() (min, max float64) { return p.min, p.max }

// Value returns the most recently requested target. The audible value may
// still be approaching it.
func (p *Param) Value() float64 {
	return math.Float64frombits(p.target.Load())
}

// SetValue sets the parameter immediately, without smoothing, from the next
// render quantum on.
func (p *Param) SetValue(v float64) {
	p.target.Store(math.Float64bits(p.clamp(v)))
	p.jumps.Add(1)
}

// SetTarget starts an exponential approach to v with the given time
// constant in seconds. A non-positive time constant behaves like SetValue.
func (p *Param) SetTarget(v, timeConstant float64) {
	if timeConstant <= 0 || math.IsNaN(timeConstant) {
		p.SetValue(v)
		return
	}
	p.timeCons.Store(math.Float64bits(timeConstant))
	p.target.Store(math.Float64bits(p.clamp(v)))
}

func (p *Param) clamp(v float64) float64 {
	return core.Clamp(core.Finite(v, p.def), p.min, p.max)
}

// sync picks up control-plane writes. Render thread only.
func (p *Param) sync() float64 {
	target := math.Float64frombits(p.target.Load())
	if j := p.jumps.Load(); j != p.seenJumps {
		p.seenJumps = j
		target = math.Float64frombits(p.target.Load())
		p.current = target
	}

	if tc := math.Float64frombits(p.timeCons.Load()); tc != p.coeffTC {
		p.coeffTC = tc
		p.coeff = core.OnePoleCoeff(tc, p.sampleRate)
	}

	return target
}

func (p *Param) settled(target float64) bool {
	return math.Abs(p.current-target) <= 1e-7*math.Max(1, math.Abs(target))
}

// block advances the parameter by one quantum and returns the per-sample
// values. Render thread only.
func (p *Param) block() []float64 {
	target := p.sync()
	values := p.values

	if p.settled(target) {
		p.current = target
		for i := range values {
			values[i] = target
		}
		return values
	}

	c := p.coeff
	cur := p.current
	for i := range values {
		cur = target + (cur-target)*c
		values[i] = cur
	}
	p.current = cur

	return values
}

// blockValue advances the parameter by one quantum and returns the value at
// the end of it. Used for coefficients that update once per quantum.
func (p *Param) blockValue() float64 {
	target := p.sync()
	if p.settled(target) {
		p.current = target
		return target
	}

	p.current = target + (p.current-target)*math.Pow(p.coeff, RenderQuantum)
	return p.current
}
