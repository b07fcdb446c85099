package engine

import (
	"github.com/cwbudde/algo-stems/dsp/filter/biquad"
	"github.com/cwbudde/algo-stems/dsp/filter/design"
	vecmath "github.com/cwbudde/algo-vecmath"
)

// DestinationNode is the context's output. Whatever reaches its input is
// what Render returns.
type DestinationNode struct {
	*node
}

// GainNode multiplies its input by a smoothed gain parameter.
type GainNode struct {
	*node
	gain *Param
}

// NewGain creates a gain node with unity gain. Gain is limited to [0, 16].
func (c *Context) NewGain(name string) *GainNode {
	g := &GainNode{node: c.newNode(name, 1, 1)}
	g.gain = newParam("gain", 1, 0, 16, c.sampleRate)
	g.proc = g
	return g
}

// Gain returns the gain parameter.
func (g *GainNode) Gain() *Param { return g.gain }

func (g *GainNode) process(_ *quantum, in Block, out []Block) {
	o := out[0]
	o.copyFrom(in)

	values := g.gain.block()
	vecmath.MulBlockInPlace(o.L, values)
	vecmath.MulBlockInPlace(o.R, values)
}

// SplitterNode splits a stereo input into two mono outputs: output 0
// carries the left channel, output 1 the right. Each output duplicates its
// channel into both lanes of the block.
type SplitterNode struct {
	*node
}

// NewSplitter creates a two-way channel splitter.
func (c *Context) NewSplitter(name string) *SplitterNode {
	s := &SplitterNode{node: c.newNode(name, 1, 2)}
	s.proc = s
	return s
}

func (s *SplitterNode) process(_ *quantum, in Block, out []Block) {
	copy(out[0].L, in.L)
	copy(out[0].R, in.L)
	copy(out[1].L, in.R)
	copy(out[1].R, in.R)
}

// BiquadNode is a second-order filter with smoothed frequency, gain and Q.
type BiquadNode struct {
	*node
	kind design.Kind

	frequency *Param
	gain      *Param
	q         *Param

	// render thread
	filter biquad.Stereo
	lastF  float64
	lastG  float64
	lastQ  float64
	primed bool
}

// NewBiquad creates a filter of the given kind. Frequency defaults to
// 350 Hz, gain to 0 dB and Q to 1/sqrt(2).
func (c *Context) NewBiquad(name string, kind design.Kind) *BiquadNode {
	b := &BiquadNode{node: c.newNode(name, 1, 1), kind: kind}
	b.frequency = newParam("frequency", 350, 10, c.sampleRate/2, c.sampleRate)
	b.gain = newParam("gain", 0, -40, 40, c.sampleRate)
	b.q = newParam("Q", 0.7071067811865476, 0.0001, 1000, c.sampleRate)
	b.filter = biquad.NewStereo(biquad.Identity())
	b.proc = b
	return b
}

// Kind returns the filter shape.
func (b *BiquadNode) Kind() design.Kind { return b.kind }

// Frequency returns the cutoff or center frequency parameter in Hz.
func (b *BiquadNode) Frequency() *Param { return b.frequency }

// GainDB returns the shelf/peak gain parameter in dB.
func (b *BiquadNode) GainDB() *Param { return b.gain }

// Q returns the quality factor parameter.
func (b *BiquadNode) Q() *Param { return b.q }

// ResponseDB returns the magnitude response in dB at freqs for the current
// parameter targets.
func (b *BiquadNode) ResponseDB(freqs []float64) []float64 {
	sr := b.ctx.sampleRate
	coeffs := design.Design(b.kind, b.frequency.Value(), b.gain.Value(), b.q.Value(), sr)

	out := make([]float64, len(freqs))
	for i, f := range freqs {
		out[i] = coeffs.MagnitudeDB(f, sr)
	}
	return out
}

func (b *BiquadNode) process(q *quantum, in Block, out []Block) {
	f := b.frequency.blockValue()
	g := b.gain.blockValue()
	qv := b.q.blockValue()

	if !b.primed || f != b.lastF || g != b.lastG || qv != b.lastQ {
		coeffs := design.Design(b.kind, f, g, qv, q.sampleRate)
		b.filter.SetCoefficients(coeffs)
		b.lastF, b.lastG, b.lastQ = f, g, qv
		b.primed = true
	}

	o := out[0]
	o.copyFrom(in)
	b.filter.Process(o.L, o.R)
}
