package modules

import (
	"math"

	"github.com/cwbudde/algo-stems/dsp/effects/dynamics"
	"github.com/cwbudde/algo-stems/engine"
)

// Compressor parameter names.
const (
	ParamThreshold = "thresholdDB"
	ParamRatio     = "ratio"
	ParamKnee      = "kneeDB"
	ParamAttack    = "attackMs"
	ParamRelease   = "releaseMs"
	ParamCeiling   = "ceilingDB"
)

func compressorDescriptor() engine.ModuleDescriptor {
	return engine.ModuleDescriptor{
		Name: Compressor,
		Params: []engine.ParamDescriptor{
			{Name: ParamThreshold, Default: -18, Min: -60, Max: 0},
			{Name: ParamRatio, Default: 3, Min: 1, Max: 20},
			{Name: ParamKnee, Default: 6, Min: 0, Max: 24},
			{Name: ParamAttack, Default: 10, Min: 0.1, Max: 1000},
			{Name: ParamRelease, Default: 150, Min: 1, Max: 5000},
			{Name: ParamCeiling, Default: 0, Min: -24, Max: 0},
		},
		New: newCompressorKernel,
	}
}

type compressorKernel struct {
	comp *dynamics.Compressor
	port *engine.Port

	settings    [6]float64
	reportEvery int
	blocks      int
}

func newCompressorKernel(sampleRate float64, port *engine.Port) (engine.Kernel, error) {
	comp, err := dynamics.NewCompressor(sampleRate)
	if err != nil {
		return nil, err
	}

	k := &compressorKernel{
		comp:        comp,
		port:        port,
		reportEvery: max(1, int(math.Round(ReportInterval*sampleRate/engine.RenderQuantum))),
	}
	for i := range k.settings {
		k.settings[i] = math.NaN()
	}
	return k, nil
}

func (k *compressorKernel) Process(in, out engine.Block, params [][]float64) {
	k.port.Drain(func(msg any) {
		if _, ok := msg.(Reset); ok {
			k.comp.Reset()
			k.blocks = 0
		}
	})

	k.configure(params)

	copy(out.L, in.L)
	copy(out.R, in.R)
	k.comp.Process(out.L, out.R)

	k.blocks++
	if k.blocks >= k.reportEvery {
		k.blocks = 0
		k.port.Post(GainReduction{DB: k.comp.TakeGainReduction()})
	}
}

// configure pushes changed parameters into the compressor. The descriptor
// ranges match the compressor's accepted ranges, so setters cannot fail.
func (k *compressorKernel) configure(params [][]float64) {
	setters := [6]func(float64) error{
		k.comp.SetThreshold,
		k.comp.SetRatio,
		k.comp.SetKnee,
		k.comp.SetAttack,
		k.comp.SetRelease,
		k.comp.SetCeiling,
	}

	for i, set := range setters {
		v := last(params[i])
		if v == k.settings[i] {
			continue
		}
		if err := set(v); err == nil {
			k.settings[i] = v
		}
	}
}
