// Package effects implements the master effects chain: an equalizer, a
// stereo expander, a reverberator and a compressor with automatic makeup
// gain, wired between the master bus and the router output in a fixed
// order.
//
// Enabling or disabling a unit rebuilds every router-owned connection in a
// single engine batch from the pure Links function. Parameter changes ramp
// existing nodes and never touch the topology.
package effects

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

// Makeup gain defaults: the gain added is MakeupRatio times the measured
// reduction, capped at MakeupCapDB.
const (
	DefaultMakeupRatio = 0.5
	DefaultMakeupCapDB = 6.0
)

// Master volume range.
const MaxMasterGain = 2.0

// ErrUnknownUnit is returned for an effect name outside Order.
var ErrUnknownUnit = errors.New("effects: unknown unit")

// Option configures a Router.
type Option func(*config)

type config struct {
	logger       *slog.Logger
	timeConstant float64
	makeupRatio  float64
	makeupCapDB  float64
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(cfg *config) {
		if l != nil {
			cfg.logger = l
		}
	}
}

// WithTimeConstant sets the smoothing time constant for parameter changes
// in seconds.
func WithTimeConstant(seconds float64) Option {
	return func(cfg *config) {
		if seconds > 0 {
			cfg.timeConstant = seconds
		}
	}
}

// WithMakeup sets the automatic makeup ratio and cap.
func WithMakeup(ratio, capDB float64) Option {
	return func(cfg *config) {
		if ratio >= 0 {
			cfg.makeupRatio = ratio
		}
		if capDB >= 0 {
			cfg.makeupCapDB = capDB
		}
	}
}

// Telemetry is the compressor metering state.
type Telemetry struct {
	GainReductionDB float64
	MakeupDB        float64
}

type unit struct {
	entry engine.Node
	exit  engine.Node
}

// Router owns the master chain.
type Router struct {
	ctx    *engine.Context
	logger *slog.Logger
	cfg    config

	bus    *engine.GainNode
	output *engine.GainNode

	eqLow, eqMid, eqHigh *engine.BiquadNode
	expander             *engine.ModuleNode
	reverb               *engine.ModuleNode
	comp                 *engine.ModuleNode
	makeup               *engine.GainNode
	units                [numUnits]unit

	mu        sync.Mutex
	settings  Settings
	telemetry Telemetry
	listeners []func(Telemetry)
	closed    bool
}

// New creates the chain nodes, connects the router output to dest and wires
// the initial settings.
func New(ctx *engine.Context, dest engine.Node, settings Settings, opts ...Option) (*Router, error) {
	cfg := config{
		logger:       slog.Default(),
		timeConstant: engine.DefaultTimeConstant,
		makeupRatio:  DefaultMakeupRatio,
		makeupCapDB:  DefaultMakeupCapDB,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	if err := modules.Register(ctx); err != nil {
		return nil, fmt.Errorf("effects: %w", err)
	}

	r := &Router{
		ctx:    ctx,
		logger: cfg.logger,
		cfg:    cfg,
		bus:    ctx.NewGain("master.bus"),
		output: ctx.NewGain("master.output"),
		eqLow:  ctx.NewBiquad("eq.low", design.KindLowShelf),
		eqMid:  ctx.NewBiquad("eq.mid", design.KindPeak),
		eqHigh: ctx.NewBiquad("eq.high", design.KindHighShelf),
		makeup: ctx.NewGain("compressor.makeup"),
	}

	var err error
	if r.expander, err = ctx.NewModule(modules.StereoExpander, "stereo-expander"); err != nil {
		return nil, fmt.Errorf("effects: %w", err)
	}
	if r.reverb, err = ctx.NewModule(modules.Reverberator, "reverberator"); err != nil {
		return nil, fmt.Errorf("effects: %w", err)
	}
	if r.comp, err = ctx.NewModule(modules.Compressor, "compressor"); err != nil {
		return nil, fmt.Errorf("effects: %w", err)
	}

	r.units = [numUnits]unit{
		{entry: r.eqLow, exit: r.eqHigh},
		{entry: r.expander, exit: r.expander},
		{entry: r.reverb, exit: r.reverb},
		{entry: r.comp, exit: r.makeup},
	}

	r.settings = settings.normalize()
	r.applyParams(r.settings, true)
	r.comp.Port().OnMessage(r.onCompressorMessage)

	err = ctx.Update(func(g *engine.Graph) error {
		internal := [][2]engine.Node{
			{r.eqLow, r.eqMid},
			{r.eqMid, r.eqHigh},
			{r.comp, r.makeup},
			{r.output, dest},
		}
		for _, e := range internal {
			if err := g.Connect(e[0], e[1]); err != nil {
				return err
			}
		}
		return r.link(g, r.settings.Enabled())
	})
	if err != nil {
		return nil, fmt.Errorf("effects: build chain: %w", err)
	}

	r.logger.Debug("effects router built", "enabled", r.settings.Enabled())
	return r, nil
}

// Bus returns the master bus; stem chains connect here.
func (r *Router) Bus() engine.Node { return r.bus }

// Output returns the router output node. Its gain is the master volume and
// it is the tap point for metering.
func (r *Router) Output() engine.Node { return r.output }

// Settings returns the current configuration.
func (r *Router) Settings() Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings
}

// Telemetry returns the latest compressor metering.
func (r *Router) Telemetry() Telemetry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.telemetry
}

// GainReduction returns the latest compressor gain reduction in dB.
func (r *Router) GainReduction() float64 {
	return r.Telemetry().GainReductionDB
}

// OnTelemetry registers fn to be called with every telemetry change,
// usually on the engine event goroutine.
func (r *Router) OnTelemetry(fn func(Telemetry)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// SetMasterGain sets the output volume, clamped to [0, MaxMasterGain].
func (r *Router) SetMasterGain(v float64) float64 {
	v = core.Clamp(core.Finite(v, 1), 0, MaxMasterGain)
	r.output.Gain().SetTarget(v, r.cfg.timeConstant)
	return v
}

// MasterGain returns the requested output volume.
func (r *Router) MasterGain() float64 {
	return r.output.Gain().Value()
}

// Apply replaces the configuration. Parameters ramp to their new values;
// the chain is rewired only when an enabled flag changes.
func (r *Router) Apply(s Settings) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return engine.ErrClosed
	}

	s = s.normalize()
	prev := r.settings
	r.applyParams(s, false)

	if s.Enabled() != prev.Enabled() {
		if err := r.rewire(s.Enabled()); err != nil {
			r.applyParams(prev, false)
			r.mu.Unlock()
			return err
		}
	}
	r.settings = s

	changed := false
	if prev.Compressor.Enabled && !s.Compressor.Enabled {
		r.resetCompressor()
		changed = true
	}
	if prev.Compressor.AutoMakeup && !s.Compressor.AutoMakeup {
		r.setMakeup(0)
		changed = true
	}
	r.unlockAndNotify(changed)
	return nil
}

// SetEnabled enables or disables one unit.
func (r *Router) SetEnabled(k Kind, on bool) error {
	if k.index() < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownUnit, k)
	}
	s := r.Settings()
	s.setEnabled(k, on)
	return r.Apply(s)
}

// Toggle flips one unit's enabled flag and returns the new value.
func (r *Router) Toggle(k Kind) (bool, error) {
	i := k.index()
	if i < 0 {
		return false, fmt.Errorf("%w: %q", ErrUnknownUnit, k)
	}
	on := !r.Settings().Enabled()[i]
	return on, r.SetEnabled(k, on)
}

// SetEqualizer replaces the equalizer configuration.
func (r *Router) SetEqualizer(c EqualizerConfig) error {
	s := r.Settings()
	s.Equalizer = c
	return r.Apply(s)
}

// SetStereoExpander replaces the stereo expander configuration.
func (r *Router) SetStereoExpander(c StereoExpanderConfig) error {
	s := r.Settings()
	s.StereoExpander = c
	return r.Apply(s)
}

// SetReverberator replaces the reverberator configuration.
func (r *Router) SetReverberator(c ReverberatorConfig) error {
	s := r.Settings()
	s.Reverberator = c
	return r.Apply(s)
}

// SetCompressor replaces the compressor configuration.
func (r *Router) SetCompressor(c CompressorConfig) error {
	s := r.Settings()
	s.Compressor = c
	return r.Apply(s)
}

// Edges returns the router-owned connections: those leaving the bus or a
// unit exit. Internal unit edges and the output connection are excluded.
func (r *Router) Edges() []engine.Edge {
	owned := map[uint64]bool{r.bus.ID(): true}
	for _, u := range r.units {
		owned[u.exit.ID()] = true
	}

	var out []engine.Edge
	for _, e := range r.ctx.Edges() {
		if owned[e.From.ID()] {
			out = append(out, e)
		}
	}
	return out
}

// EqualizerResponse returns the combined equalizer magnitude in dB at
// freqs. A disabled equalizer is flat.
func (r *Router) EqualizerResponse(freqs []float64) []float64 {
	out := make([]float64, len(freqs))
	if !r.Settings().Equalizer.Enabled {
		return out
	}
	for _, band := range []*engine.BiquadNode{r.eqLow, r.eqMid, r.eqHigh} {
		for i, db := range band.ResponseDB(freqs) {
			out[i] += db
		}
	}
	return out
}

// Release disconnects every chain node. The router is unusable afterwards.
func (r *Router) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.comp.Port().OnMessage(nil)

	nodes := []engine.Node{r.bus, r.output, r.eqLow, r.eqMid, r.eqHigh, r.expander, r.reverb, r.comp, r.makeup}
	err := r.ctx.Update(func(g *engine.Graph) error {
		for _, n := range nodes {
			g.Release(n)
		}
		return nil
	})
	if err != nil && !errors.Is(err, engine.ErrClosed) {
		return fmt.Errorf("effects: release: %w", err)
	}
	return nil
}

// rewire rebuilds every router-owned edge in one batch. Callers hold r.mu.
func (r *Router) rewire(enabled [numUnits]bool) error {
	err := r.ctx.Update(func(g *engine.Graph) error {
		return r.link(g, enabled)
	})
	if err != nil {
		return fmt.Errorf("effects: rewire: %w", err)
	}
	r.logger.Debug("effects chain rewired", "enabled", enabled)
	return nil
}

func (r *Router) link(g *engine.Graph, enabled [numUnits]bool) error {
	g.Disconnect(r.bus)
	for _, u := range r.units {
		g.Disconnect(u.exit)
	}

	for _, l := range Links(enabled) {
		if err := g.Connect(r.exitOf(l.From), r.entryOf(l.To)); err != nil {
			return fmt.Errorf("%s -> %s: %w", l.From, l.To, err)
		}
	}
	return nil
}

func (r *Router) exitOf(e Endpoint) engine.Node {
	if e == Bus {
		return r.bus
	}
	return r.units[e].exit
}

func (r *Router) entryOf(e Endpoint) engine.Node {
	if e == Output {
		return r.output
	}
	return r.units[e].entry
}

// applyParams pushes s into the node parameters. The first application
// jumps; later ones ramp.
func (r *Router) applyParams(s Settings, jump bool) {
	tc := r.cfg.timeConstant
	set := func(p *engine.Param, v float64) {
		if jump {
			p.SetValue(v)
			return
		}
		p.SetTarget(v, tc)
	}

	eq := s.Equalizer
	set(r.eqLow.Frequency(), eq.LowFreq)
	set(r.eqLow.GainDB(), eq.LowGainDB)
	set(r.eqMid.Frequency(), eq.MidFreq)
	set(r.eqMid.GainDB(), eq.MidGainDB)
	set(r.eqMid.Q(), eq.MidQ)
	set(r.eqHigh.Frequency(), eq.HighFreq)
	set(r.eqHigh.GainDB(), eq.HighGainDB)

	set(r.expander.Param(modules.ParamWidth), s.StereoExpander.Width)
	r.expander.Param(modules.ParamBassMonoHz).SetValue(s.StereoExpander.BassMonoHz)

	set(r.reverb.Param(modules.ParamMix), s.Reverberator.Mix)
	set(r.reverb.Param(modules.ParamDecay), s.Reverberator.Decay)
	set(r.reverb.Param(modules.ParamPreDelay), s.Reverberator.PreDelay)
	set(r.reverb.Param(modules.ParamDamping), s.Reverberator.Damping)

	c := s.Compressor
	set(r.comp.Param(modules.ParamThreshold), c.ThresholdDB)
	set(r.comp.Param(modules.ParamRatio), c.Ratio)
	set(r.comp.Param(modules.ParamKnee), c.KneeDB)
	set(r.comp.Param(modules.ParamAttack), c.AttackMs)
	set(r.comp.Param(modules.ParamRelease), c.ReleaseMs)
	set(r.comp.Param(modules.ParamCeiling), c.CeilingDB)
}

func (r *Router) onCompressorMessage(msg any) {
	gr, ok := msg.(modules.GainReduction)
	if !ok {
		return
	}

	r.mu.Lock()
	if r.closed || !r.settings.Compressor.Enabled {
		r.mu.Unlock()
		return
	}
	r.telemetry.GainReductionDB = gr.DB
	if r.settings.Compressor.AutoMakeup {
		r.setMakeup(Makeup(gr.DB, r.cfg.makeupRatio, r.cfg.makeupCapDB))
	}
	r.unlockAndNotify(true)
}

// resetCompressor clears metering, returns makeup to unity and asks the
// kernel to drop its envelope. Callers hold r.mu.
func (r *Router) resetCompressor() {
	r.telemetry.GainReductionDB = 0
	r.telemetry.MakeupDB = 0
	r.makeup.Gain().SetValue(1)
	r.comp.Port().Send(modules.Reset{})
}

// setMakeup ramps the makeup gain. Callers hold r.mu.
func (r *Router) setMakeup(db float64) {
	r.telemetry.MakeupDB = db
	r.makeup.Gain().SetTarget(core.DBToLinear(db), r.cfg.timeConstant)
}

// unlockAndNotify releases r.mu and, if changed, hands the telemetry to the
// listeners outside the lock.
func (r *Router) unlockAndNotify(changed bool) {
	if !changed {
		r.mu.Unlock()
		return
	}
	t := r.telemetry
	fns := slices.Clone(r.listeners)
	r.mu.Unlock()

	for _, fn := range fns {
		fn(t)
	}
}

// Makeup returns the automatic makeup gain in dB for a gain reduction.
func Makeup(gainReductionDB, ratio, capDB float64) float64 {
	if gainReductionDB <= 0 || math.IsNaN(gainReductionDB) {
		return 0
	}
	return math.Min(gainReductionDB*ratio, capDB)
}
