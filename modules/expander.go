package modules

import (
	"github.com/cwbudde/algo-stems/dsp/effects/spatial"
	"github.com/cwbudde/algo-stems/engine"
)

// Stereo expander parameter names.
const (
	ParamWidth      = "width"
	ParamBassMonoHz = "bassMonoHz"
)

func stereoExpanderDescriptor() engine.ModuleDescriptor {
	return engine.ModuleDescriptor{
		Name: StereoExpander,
		Params: []engine.ParamDescriptor{
			{Name: ParamWidth, Default: 1, Min: 0, Max: spatial.MaxWidth},
			{Name: ParamBassMonoHz, Default: 0, Min: 0, Max: spatial.MaxBassMono},
		},
		New: newExpanderKernel,
	}
}

type expanderKernel struct {
	exp  *spatial.Expander
	port *engine.Port
}

func newExpanderKernel(sampleRate float64, port *engine.Port) (engine.Kernel, error) {
	e, err := spatial.NewExpander(sampleRate)
	if err != nil {
		return nil, err
	}
	return &expanderKernel{exp: e, port: port}, nil
}

func (k *expanderKernel) Process(in, out engine.Block, params [][]float64) {
	k.port.Drain(func(msg any) {
		if _, ok := msg.(Reset); ok {
			k.exp.Reset()
		}
	})

	if w := last(params[0]); w != k.exp.Width() {
		_ = k.exp.SetWidth(w)
	}

	// Below the crossover range the knob means off.
	bass := last(params[1])
	if bass < spatial.MinBassMono {
		bass = 0
	}
	if bass != k.exp.BassMono() {
		_ = k.exp.SetBassMono(bass)
	}

	copy(out.L, in.L)
	copy(out.R, in.R)
	k.exp.Process(out.L, out.R)
}
