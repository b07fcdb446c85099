package effects

import (
	"fmt"

	"github.com/cwbudde/algo-stems/dsp/core"
	"github.com/cwbudde/algo-stems/dsp/effects/reverb"
	"github.com/cwbudde/algo-stems/dsp/effects/spatial"
)

// Kind identifies an effect unit.
type Kind string

// Effect unit kinds.
const (
	Equalizer      Kind = "equalizer"
	StereoExpander Kind = "stereo-expander"
	Reverberator   Kind = "reverberator"
	Compressor     Kind = "compressor"
)

// Order is the fixed processing order of the master chain.
var Order = [numUnits]Kind{Equalizer, StereoExpander, Reverberator, Compressor}

const numUnits = 4

// ParseKind resolves a unit name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Order {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownUnit, s)
}

func (k Kind) index() int {
	for i, o := range Order {
		if o == k {
			return i
		}
	}
	return -1
}

// EqualizerConfig is a three-band equalizer: low shelf, peaking mid and
// high shelf.
type EqualizerConfig struct {
	Enabled    bool    `json:"enabled"`
	LowFreq    float64 `json:"lowFreq"`
	LowGainDB  float64 `json:"lowGainDb"`
	MidFreq    float64 `json:"midFreq"`
	MidGainDB  float64 `json:"midGainDb"`
	MidQ       float64 `json:"midQ"`
	HighFreq   float64 `json:"highFreq"`
	HighGainDB float64 `json:"highGainDb"`
}

// StereoExpanderConfig controls mid/side width.
type StereoExpanderConfig struct {
	Enabled bool `json:"enabled"`
	// Width scales the side signal: 0 is mono, 1 unchanged, 2 double.
	Width float64 `json:"width"`
	// BassMonoHz keeps content below this frequency mono; 0 disables.
	BassMonoHz float64 `json:"bassMonoHz"`
}

// ReverberatorConfig controls the FDN reverb.
type ReverberatorConfig struct {
	Enabled  bool    `json:"enabled"`
	Mix      float64 `json:"mix"`
	Decay    float64 `json:"decay"`
	PreDelay float64 `json:"preDelay"`
	Damping  float64 `json:"damping"`
}

// CompressorConfig controls the compressor/limiter unit.
type CompressorConfig struct {
	Enabled     bool    `json:"enabled"`
	ThresholdDB float64 `json:"thresholdDb"`
	Ratio       float64 `json:"ratio"`
	KneeDB      float64 `json:"kneeDb"`
	AttackMs    float64 `json:"attackMs"`
	ReleaseMs   float64 `json:"releaseMs"`
	CeilingDB   float64 `json:"ceilingDb"`
	AutoMakeup  bool    `json:"autoMakeup"`
}

// Settings is the full master-chain configuration.
type Settings struct {
	Equalizer      EqualizerConfig      `json:"equalizer"`
	StereoExpander StereoExpanderConfig `json:"stereoExpander"`
	Reverberator   ReverberatorConfig   `json:"reverberator"`
	Compressor     CompressorConfig     `json:"compressor"`
}

// DefaultSettings returns a flat chain with every unit disabled.
func DefaultSettings() Settings {
	return Settings{
		Equalizer: EqualizerConfig{
			LowFreq:  100,
			MidFreq:  1000,
			MidQ:     1.2,
			HighFreq: 6000,
		},
		StereoExpander: StereoExpanderConfig{
			Width: 1.25,
		},
		Reverberator: ReverberatorConfig{
			Mix:      0.25,
			Decay:    1.8,
			PreDelay: 0.01,
			Damping:  0.3,
		},
		Compressor: CompressorConfig{
			ThresholdDB: -18,
			Ratio:       3,
			KneeDB:      6,
			AttackMs:    10,
			ReleaseMs:   150,
			CeilingDB:   -0.3,
			AutoMakeup:  true,
		},
	}
}

// Enabled returns the enabled flags in processing order.
func (s Settings) Enabled() [numUnits]bool {
	return [numUnits]bool{
		s.Equalizer.Enabled,
		s.StereoExpander.Enabled,
		s.Reverberator.Enabled,
		s.Compressor.Enabled,
	}
}

func (s *Settings) setEnabled(k Kind, on bool) {
	switch k {
	case Equalizer:
		s.Equalizer.Enabled = on
	case StereoExpander:
		s.StereoExpander.Enabled = on
	case Reverberator:
		s.Reverberator.Enabled = on
	case Compressor:
		s.Compressor.Enabled = on
	}
}

// normalize clamps every field into its usable range. Ranges mirror the
// engine parameters so the stored settings match what is audible.
func (s Settings) normalize() Settings {
	def := DefaultSettings()

	eq := &s.Equalizer
	eq.LowFreq = core.Clamp(core.Finite(eq.LowFreq, def.Equalizer.LowFreq), 20, 1000)
	eq.MidFreq = core.Clamp(core.Finite(eq.MidFreq, def.Equalizer.MidFreq), 100, 10000)
	eq.HighFreq = core.Clamp(core.Finite(eq.HighFreq, def.Equalizer.HighFreq), 1000, 20000)
	eq.MidQ = core.Clamp(core.Finite(eq.MidQ, def.Equalizer.MidQ), 0.1, 10)
	eq.LowGainDB = core.Clamp(core.Finite(eq.LowGainDB, 0), -24, 24)
	eq.MidGainDB = core.Clamp(core.Finite(eq.MidGainDB, 0), -24, 24)
	eq.HighGainDB = core.Clamp(core.Finite(eq.HighGainDB, 0), -24, 24)

	se := &s.StereoExpander
	se.Width = core.Clamp(core.Finite(se.Width, def.StereoExpander.Width), 0, 2)
	se.BassMonoHz = core.Clamp(core.Finite(se.BassMonoHz, 0), 0, spatial.MaxBassMono)

	rv := &s.Reverberator
	rv.Mix = core.Clamp(core.Finite(rv.Mix, def.Reverberator.Mix), 0, reverb.MaxMix)
	rv.Decay = core.Clamp(core.Finite(rv.Decay, def.Reverberator.Decay), reverb.MinDecay, reverb.MaxDecay)
	rv.PreDelay = core.Clamp(core.Finite(rv.PreDelay, def.Reverberator.PreDelay), 0, reverb.MaxPreDelay)
	rv.Damping = core.Clamp(core.Finite(rv.Damping, def.Reverberator.Damping), 0, reverb.MaxDamping)

	c := &s.Compressor
	c.ThresholdDB = core.Clamp(core.Finite(c.ThresholdDB, def.Compressor.ThresholdDB), -60, 0)
	c.Ratio = core.Clamp(core.Finite(c.Ratio, def.Compressor.Ratio), 1, 20)
	c.KneeDB = core.Clamp(core.Finite(c.KneeDB, def.Compressor.KneeDB), 0, 24)
	c.AttackMs = core.Clamp(core.Finite(c.AttackMs, def.Compressor.AttackMs), 0.1, 1000)
	c.ReleaseMs = core.Clamp(core.Finite(c.ReleaseMs, def.Compressor.ReleaseMs), 1, 5000)
	c.CeilingDB = core.Clamp(core.Finite(c.CeilingDB, def.Compressor.CeilingDB), -24, 0)

	return s
}
