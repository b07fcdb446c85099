package modules

import (
	"github.com/cwbudde/algo-stems/dsp/effects/reverb"
	"github.com/cwbudde/algo-stems/engine"
)

// Reverberator parameter names.
const (
	ParamMix      = "mix"
	ParamDecay    = "decay"
	ParamPreDelay = "preDelay"
	ParamDamping  = "damping"
)

func reverberatorDescriptor() engine.ModuleDescriptor {
	return engine.ModuleDescriptor{
		Name: Reverberator,
		Params: []engine.ParamDescriptor{
			{Name: ParamMix, Default: 0.25, Min: 0, Max: reverb.MaxMix},
			{Name: ParamDecay, Default: 1.8, Min: reverb.MinDecay, Max: reverb.MaxDecay},
			{Name: ParamPreDelay, Default: 0.01, Min: 0, Max: reverb.MaxPreDelay},
			{Name: ParamDamping, Default: 0.3, Min: 0, Max: reverb.MaxDamping},
		},
		New: newReverbKernel,
	}
}

type reverbKernel struct {
	rv   *reverb.Reverberator
	port *engine.Port
}

func newReverbKernel(sampleRate float64, port *engine.Port) (engine.Kernel, error) {
	rv, err := reverb.New(sampleRate)
	if err != nil {
		return nil, err
	}
	return &reverbKernel{rv: rv, port: port}, nil
}

func (k *reverbKernel) Process(in, out engine.Block, params [][]float64) {
	k.port.Drain(func(msg any) {
		if _, ok := msg.(Reset); ok {
			k.rv.Reset()
		}
	})

	// Params arrive clamped to the descriptor ranges, which are the
	// setters' own ranges.
	if v := last(params[0]); v != k.rv.Mix() {
		_ = k.rv.SetMix(v)
	}
	if v := last(params[1]); v != k.rv.Decay() {
		_ = k.rv.SetDecay(v)
	}
	if v := last(params[2]); v != k.rv.PreDelay() {
		_ = k.rv.SetPreDelay(v)
	}
	if v := last(params[3]); v != k.rv.Damping() {
		_ = k.rv.SetDamping(v)
	}

	copy(out.L, in.L)
	copy(out.R, in.R)
	k.rv.Process(out.L, out.R)
}
