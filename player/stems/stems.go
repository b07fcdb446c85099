// Package stems builds and controls the per-stem processing chains that
// feed the master bus.
//
// Each stem runs through
//
//	input gain -> [highpass] -> [lowpass] -> [compressor] -> audibility gain -> bus
//
// The input gain carries the user gain with a short smoothed ramp. The
// audibility gain is a binary mute/solo switch applied instantly.
package stems

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"

	"github.com/cwbudde/algo-stems/dsp/core"
	"github.com/cwbudde/algo-stems/dsp/filter/design"
	"github.com/cwbudde/algo-stems/engine"
	"github.com/cwbudde/algo-stems/modules"
)

// User gain range.
const (
	MinGain = 0.0
	MaxGain = 2.0
)

// DefaultRampTime is the time constant of user gain changes in seconds.
const DefaultRampTime = 0.01

var (
	// ErrUnknownStem is returned for a stem name not in the graph.
	ErrUnknownStem = errors.New("stems: unknown stem")
	// ErrReleased is returned after Release.
	ErrReleased = errors.New("stems: graph released")
)

// Spec describes one stem to build.
type Spec struct {
	Name   string
	Buffer *engine.Buffer

	// LoudnessDB is the loudness adjustment; the initial gain is
	// 10^(LoudnessDB/20). Nil means unity.
	LoudnessDB *float64

	// HighpassHz and LowpassHz insert a filter stage when positive.
	HighpassHz float64
	LowpassHz  float64
	// Compress inserts a compressor module stage.
	Compress bool
}

// Saved is the persisted per-stem configuration restored by Build.
type Saved struct {
	Gain   float64 `json:"gain"`
	Muted  bool    `json:"muted"`
	Soloed bool    `json:"soloed"`
}

// State is a snapshot of one stem.
type State struct {
	Name        string
	Gain        float64
	InitialGain float64
	Muted       bool
	Soloed      bool
	Audible     bool
}

// Option configures Build.
type Option func(*config)

type config struct {
	logger   *slog.Logger
	rampTime float64
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(cfg *config) {
		if l != nil {
			cfg.logger = l
		}
	}
}

// WithRampTime sets the time constant of user gain changes in seconds.
func WithRampTime(seconds float64) Option {
	return func(cfg *config) {
		if seconds > 0 {
			cfg.rampTime = seconds
		}
	}
}

type stem struct {
	spec        Spec
	initialGain float64
	gain        float64
	muted       bool
	soloed      bool
	audible     bool

	input  *engine.GainNode
	stages []engine.Node
	output *engine.GainNode
}

// nodes returns the chain in signal order.
func (s *stem) nodes() []engine.Node {
	chain := make([]engine.Node, 0, len(s.stages)+2)
	chain = append(chain, s.input)
	chain = append(chain, s.stages...)
	return append(chain, s.output)
}

// Graph owns the stem chains of one recording.
type Graph struct {
	ctx    *engine.Context
	bus    engine.Node
	logger *slog.Logger
	ramp   float64

	mu       sync.Mutex
	stems    map[string]*stem
	order    []string
	released bool
}

// Build creates one chain per spec, restores saved settings and connects
// every chain to bus in a single graph batch. On error nothing is
// connected.
func Build(ctx *engine.Context, bus engine.Node, specs []Spec, saved map[string]Saved, opts ...Option) (*Graph, error) {
	cfg := config{logger: slog.Default(), rampTime: DefaultRampTime}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	g := &Graph{
		ctx:    ctx,
		bus:    bus,
		logger: cfg.logger,
		ramp:   cfg.rampTime,
		stems:  make(map[string]*stem, len(specs)),
	}

	for _, spec := range specs {
		if spec.Name == "" {
			return nil, errors.New("stems: empty stem name")
		}
		if _, dup := g.stems[spec.Name]; dup {
			return nil, fmt.Errorf("stems: duplicate stem %q", spec.Name)
		}

		s, err := g.newStem(spec)
		if err != nil {
			return nil, err
		}
		if sv, ok := saved[spec.Name]; ok {
			s.gain = clampGain(sv.Gain)
			s.muted = sv.Muted
			s.soloed = sv.Soloed
		}
		s.input.Gain().SetValue(s.gain)

		g.stems[spec.Name] = s
		g.order = append(g.order, spec.Name)
	}
	g.recomputeAudibility()

	err := ctx.Update(func(eg *engine.Graph) error {
		for _, name := range g.order {
			chain := g.stems[name].nodes()
			for i := 1; i < len(chain); i++ {
				if err := eg.Connect(chain[i-1], chain[i]); err != nil {
					return err
				}
			}
			if err := eg.Connect(chain[len(chain)-1], bus); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("stems: connect chains: %w", err)
	}

	g.logger.Debug("stem graph built", "stems", len(g.order))
	return g, nil
}

func (g *Graph) newStem(spec Spec) (*stem, error) {
	initial := 1.0
	if spec.LoudnessDB != nil {
		initial = clampGain(core.DBToLinear(core.Finite(*spec.LoudnessDB, 0)))
	}

	s := &stem{
		spec:        spec,
		initialGain: initial,
		gain:        initial,
		input:       g.ctx.NewGain(spec.Name + ".gain"),
		output:      g.ctx.NewGain(spec.Name + ".audible"),
	}

	if spec.HighpassHz > 0 {
		hp := g.ctx.NewBiquad(spec.Name+".highpass", design.KindHighpass)
		hp.Frequency().SetValue(spec.HighpassHz)
		s.stages = append(s.stages, hp)
	}
	if spec.LowpassHz > 0 {
		lp := g.ctx.NewBiquad(spec.Name+".lowpass", design.KindLowpass)
		lp.Frequency().SetValue(spec.LowpassHz)
		s.stages = append(s.stages, lp)
	}
	if spec.Compress {
		if err := modules.Register(g.ctx); err != nil {
			return nil, fmt.Errorf("stems: %s: %w", spec.Name, err)
		}
		comp, err := g.ctx.NewModule(modules.Compressor, spec.Name+".compressor")
		if err != nil {
			return nil, fmt.Errorf("stems: %s: %w", spec.Name, err)
		}
		s.stages = append(s.stages, comp)
	}

	return s, nil
}

// Names returns the stem names in build order.
func (g *Graph) Names() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.order)
}

// Input returns the entry node of a stem chain; playback sources connect
// here.
func (g *Graph) Input(name string) (engine.Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, err := g.lookup(name)
	if err != nil {
		return nil, err
	}
	return s.input, nil
}

// Buffer returns the decoded buffer of a stem.
func (g *Graph) Buffer(name string) (*engine.Buffer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, err := g.lookup(name)
	if err != nil {
		return nil, err
	}
	return s.spec.Buffer, nil
}

// SetGain sets the user gain, clamped to [MinGain, MaxGain], and returns the
// value applied.
func (g *Graph) SetGain(name string, v float64) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, err := g.lookup(name)
	if err != nil {
		return 0, err
	}
	s.gain = clampGain(v)
	s.input.Gain().SetTarget(s.gain, g.ramp)
	return s.gain, nil
}

// Gain returns the user gain.
func (g *Graph) Gain(name string) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, err := g.lookup(name)
	if err != nil {
		return 0, err
	}
	return s.gain, nil
}

// ResetGain restores the gain derived from the loudness adjustment.
func (g *Graph) ResetGain(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, err := g.lookup(name)
	if err != nil {
		return err
	}
	s.gain = s.initialGain
	s.input.Gain().SetTarget(s.gain, g.ramp)
	return nil
}

// ToggleMute flips the mute flag and returns the new value.
func (g *Graph) ToggleMute(name string) (bool, error) {
	return g.toggle(name, func(s *stem) *bool { return &s.muted })
}

// ToggleSolo flips the solo flag and returns the new value.
func (g *Graph) ToggleSolo(name string) (bool, error) {
	return g.toggle(name, func(s *stem) *bool { return &s.soloed })
}

// SetMuted sets the mute flag.
func (g *Graph) SetMuted(name string, muted bool) error {
	return g.set(name, func(s *stem) *bool { return &s.muted }, muted)
}

// SetSoloed sets the solo flag.
func (g *Graph) SetSoloed(name string, soloed bool) error {
	return g.set(name, func(s *stem) *bool { return &s.soloed }, soloed)
}

func (g *Graph) toggle(name string, flag func(*stem) *bool) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, err := g.lookup(name)
	if err != nil {
		return false, err
	}
	f := flag(s)
	*f = !*f
	g.recomputeAudibility()
	return *f, nil
}

func (g *Graph) set(name string, flag func(*stem) *bool, v bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, err := g.lookup(name)
	if err != nil {
		return err
	}
	*flag(s) = v
	g.recomputeAudibility()
	return nil
}

// Audible reports whether the stem currently reaches the bus.
func (g *Graph) Audible(name string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, err := g.lookup(name)
	if err != nil {
		return false, err
	}
	return s.audible, nil
}

// Snapshot returns the state of every stem in build order.
func (g *Graph) Snapshot() []State {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]State, 0, len(g.order))
	for _, name := range g.order {
		s := g.stems[name]
		out = append(out, State{
			Name:        name,
			Gain:        s.gain,
			InitialGain: s.initialGain,
			Muted:       s.muted,
			Soloed:      s.soloed,
			Audible:     s.audible,
		})
	}
	return out
}

// Saved returns the persistable settings of every stem.
func (g *Graph) Saved() map[string]Saved {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[string]Saved, len(g.stems))
	for name, s := range g.stems {
		out[name] = Saved{Gain: s.gain, Muted: s.muted, Soloed: s.soloed}
	}
	return out
}

// Release disconnects every chain node. The graph is unusable afterwards.
// Releasing twice is a no-op.
func (g *Graph) Release() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.released {
		return nil
	}

	err := g.ctx.Update(func(eg *engine.Graph) error {
		for _, s := range g.stems {
			for _, n := range s.nodes() {
				eg.Release(n)
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, engine.ErrClosed) {
		return fmt.Errorf("stems: release: %w", err)
	}

	g.released = true
	g.logger.Debug("stem graph released", "stems", len(g.order))
	return nil
}

func (g *Graph) lookup(name string) (*stem, error) {
	if g.released {
		return nil, ErrReleased
	}
	s, ok := g.stems[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStem, name)
	}
	return s, nil
}

// recomputeAudibility applies the mute/solo law to every stem. Callers
// hold g.mu.
func (g *Graph) recomputeAudibility() {
	anySolo := false
	for _, s := range g.stems {
		anySolo = anySolo || s.soloed
	}

	for _, s := range g.stems {
		s.audible = Audible(s.muted, s.soloed, anySolo)
		if s.audible {
			s.output.Gain().SetValue(1)
		} else {
			s.output.Gain().SetValue(0)
		}
	}
}

// Audible is the audibility law: with any stem soloed, a stem is audible
// iff it is soloed; otherwise iff it is not muted.
func Audible(muted, soloed, anySoloed bool) bool {
	if anySoloed {
		return soloed
	}
	return !muted
}

func clampGain(v float64) float64 {
	if math.IsNaN(v) {
		return 1
	}
	return core.Clamp(v, MinGain, MaxGain)
}
