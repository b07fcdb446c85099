// Package player wires the stem loader, stem graph, effects router,
// transport and level monitor around one engine context.
//
// A Player plays one recording at a time. Every control method is safe for
// concurrent use. Configuration changes are mirrored to an optional store
// through a debounced syncer that playback never waits on.
package player

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/algo-stems/engine"
	"github.com/cwbudde/algo-stems/player/effects"
	"github.com/cwbudde/algo-stems/player/loader"
	"github.com/cwbudde/algo-stems/player/meter"
	"github.com/cwbudde/algo-stems/player/stems"
	"github.com/cwbudde/algo-stems/player/store"
	"github.com/cwbudde/algo-stems/player/transport"
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("player: closed")
	// ErrNoRecording is returned by controls that need a loaded recording.
	ErrNoRecording = errors.New("player: no recording loaded")
	// ErrNoStems is returned by Load when every stem failed.
	ErrNoStems = errors.New("player: no stem could be loaded")
)

// Option configures a Player.
type Option func(*config)

type config struct {
	logger          *slog.Logger
	sampleRate      float64
	driver          engine.Driver
	fetcher         loader.Fetcher
	store           store.Store
	syncerOpts      []store.SyncerOption
	meterOpts       []meter.Option
	refreshInterval time.Duration
	effects         effects.Settings
	loudnessTarget  *float64
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(cfg *config) {
		if l != nil {
			cfg.logger = l
		}
	}
}

// WithSampleRate sets the engine sample rate in Hz (default 48000).
func WithSampleRate(sampleRate float64) Option {
	return func(cfg *config) { cfg.sampleRate = sampleRate }
}

// WithDriver attaches an output device. Without one the caller renders
// through Render.
func WithDriver(d engine.Driver) Option {
	return func(cfg *config) { cfg.driver = d }
}

// WithFetcher sets how stem assets are fetched.
func WithFetcher(f loader.Fetcher) Option {
	return func(cfg *config) { cfg.fetcher = f }
}

// WithStore enables persistence of per-recording configuration.
func WithStore(s store.Store, opts ...store.SyncerOption) Option {
	return func(cfg *config) {
		cfg.store = s
		cfg.syncerOpts = opts
	}
}

// WithMeterOptions passes options to the level monitor.
func WithMeterOptions(opts ...meter.Option) Option {
	return func(cfg *config) { cfg.meterOpts = append(cfg.meterOpts, opts...) }
}

// WithRefreshInterval sets the position refresh cadence while playing.
func WithRefreshInterval(d time.Duration) Option {
	return func(cfg *config) { cfg.refreshInterval = d }
}

// WithEffects sets the effect settings used until a recording restores its
// own.
func WithEffects(s effects.Settings) Option {
	return func(cfg *config) { cfg.effects = s }
}

// WithLoudnessTarget normalizes stems without a loudness adjustment of
// their own to lufs integrated loudness.
func WithLoudnessTarget(lufs float64) Option {
	return func(cfg *config) { cfg.loudnessTarget = &lufs }
}

// State is a snapshot of everything a control surface displays.
type State struct {
	SessionID   string
	RecordingID string
	Transport   transport.Snapshot
	Stems       []stems.State
	// Failed lists stems of the current recording that could not be
	// loaded.
	Failed     []string
	Effects    effects.Settings
	Telemetry  effects.Telemetry
	MasterGain float64
	Metrics    meter.Metrics
}

type subscriber struct {
	id uint64
	fn func(State)
}

// Player plays one multi-stem recording.
type Player struct {
	session string
	logger  *slog.Logger

	ctx       *engine.Context
	router    *effects.Router
	monitor   *meter.Monitor
	transport *transport.Controller
	loader    *loader.Loader
	store     store.Store
	syncer    *store.Syncer

	loadSeq atomic.Uint64
	loadMu  sync.Mutex
	loading atomic.Bool

	// mu guards the current recording. It is never held while calling into
	// a component that may notify subscribers.
	mu        sync.Mutex
	graph     *stems.Graph
	recording Recording
	failed    []string
	closed    bool
	lastState transport.State

	subMu   sync.Mutex
	subs    []subscriber
	nextSub uint64
}

// New creates a player with a suspended engine.
func New(opts ...Option) (*Player, error) {
	cfg := config{
		logger:     slog.Default(),
		sampleRate: 48000,
		effects:    effects.DefaultSettings(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	session := uuid.NewString()
	logger := cfg.logger.With("session", session)

	ctx, err := engine.NewContext(
		engine.WithSampleRate(cfg.sampleRate),
		engine.WithLogger(logger),
		engine.WithDriver(cfg.driver),
	)
	if err != nil {
		return nil, fmt.Errorf("player: %w", err)
	}

	router, err := effects.New(ctx, ctx.Destination(), cfg.effects, effects.WithLogger(logger))
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("player: %w", err)
	}

	monitor, err := meter.New(ctx, router.Output(), append([]meter.Option{meter.WithLogger(logger)}, cfg.meterOpts...)...)
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("player: %w", err)
	}

	topts := []transport.Option{transport.WithLogger(logger)}
	if cfg.refreshInterval > 0 {
		topts = append(topts, transport.WithRefreshInterval(cfg.refreshInterval))
	}

	lopts := []loader.Option{loader.WithLogger(logger)}
	if cfg.fetcher != nil {
		lopts = append(lopts, loader.WithFetcher(cfg.fetcher))
	}
	if cfg.loudnessTarget != nil {
		lopts = append(lopts, loader.WithLoudnessTarget(*cfg.loudnessTarget))
	}

	p := &Player{
		session:   session,
		logger:    logger,
		ctx:       ctx,
		router:    router,
		monitor:   monitor,
		transport: transport.New(ctx, topts...),
		loader:    loader.New(ctx.SampleRate(), lopts...),
		store:     cfg.store,
	}
	if cfg.store != nil {
		sopts := append([]store.SyncerOption{store.WithLogger(logger)}, cfg.syncerOpts...)
		p.syncer = store.NewSyncer(cfg.store, sopts...)
	}

	p.transport.Subscribe(p.onTransport)
	p.router.OnTelemetry(func(effects.Telemetry) { p.emit() })
	p.monitor.Subscribe(func(meter.Metrics) { p.emit() })

	if err := p.monitor.Start(); err != nil {
		p.Close()
		return nil, fmt.Errorf("player: %w", err)
	}

	logger.Debug("player created", "sampleRate", ctx.SampleRate())
	return p, nil
}

// SessionID identifies this player in logs.
func (p *Player) SessionID() string { return p.session }

// SampleRate returns the engine sample rate.
func (p *Player) SampleRate() float64 { return p.ctx.SampleRate() }

// Render pulls interleaved stereo audio from the engine. It is the render
// thread when no driver is attached.
func (p *Player) Render(out []float32) { p.ctx.Render(out) }

// State returns a snapshot of the player.
func (p *Player) State() State {
	p.mu.Lock()
	g := p.graph
	s := State{
		SessionID:   p.session,
		RecordingID: p.recording.ID,
		Failed:      slices.Clone(p.failed),
	}
	p.mu.Unlock()

	s.Transport = p.transport.Snapshot()
	if g != nil {
		s.Stems = g.Snapshot()
	}
	s.Effects = p.router.Settings()
	s.Telemetry = p.router.Telemetry()
	s.MasterGain = p.router.MasterGain()
	s.Metrics = p.monitor.Metrics()
	return s
}

// Metrics returns the published level and clip metrics.
func (p *Player) Metrics() meter.Metrics { return p.monitor.Metrics() }

// ResetClip clears the clip indicators and count.
func (p *Player) ResetClip() { p.monitor.Reset() }

// Spectrum returns the output magnitude spectrum in dBFS and the bin
// spacing in Hz.
func (p *Player) Spectrum() (bins []float32, binHz float64) {
	return p.monitor.Spectrum(), p.monitor.BinHz()
}

// EqualizerResponse returns the master equalizer magnitude response in dB
// at freqs.
func (p *Player) EqualizerResponse(freqs []float64) []float64 {
	return p.router.EqualizerResponse(freqs)
}

// Subscribe registers fn for state changes, position refreshes and meter
// updates. fn runs on the goroutine that caused the change and must not
// block. The returned function unsubscribes.
func (p *Player) Subscribe(fn func(State)) (cancel func()) {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	id := p.nextSub
	p.nextSub++
	p.subs = append(p.subs, subscriber{id: id, fn: fn})

	return func() {
		p.subMu.Lock()
		defer p.subMu.Unlock()
		p.subs = slices.DeleteFunc(p.subs, func(s subscriber) bool { return s.id == id })
	}
}

// Close stops playback, writes the current configuration and releases the
// engine.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	g := p.graph
	p.mu.Unlock()

	p.loader.Cancel()
	p.persist()

	var errs []error
	p.transport.Close()
	if err := p.monitor.Release(); err != nil {
		errs = append(errs, err)
	}
	if g != nil {
		if err := g.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := p.router.Release(); err != nil {
		errs = append(errs, err)
	}
	if p.syncer != nil {
		if err := p.syncer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := p.ctx.Close(); err != nil {
		errs = append(errs, err)
	}

	p.subMu.Lock()
	p.subs = nil
	p.subMu.Unlock()

	p.logger.Debug("player closed")
	return errors.Join(errs...)
}

func (p *Player) current() (*stems.Graph, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}
	if p.graph == nil {
		return nil, ErrNoRecording
	}
	return p.graph, nil
}

func (p *Player) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Player) emit() {
	p.subMu.Lock()
	subs := slices.Clone(p.subs)
	p.subMu.Unlock()

	if len(subs) == 0 {
		return
	}
	s := p.State()
	for _, sub := range subs {
		sub.fn(s)
	}
}

// onTransport persists the position whenever playback changes state, which
// includes a natural end.
func (p *Player) onTransport(snap transport.Snapshot) {
	p.mu.Lock()
	changed := snap.State != p.lastState
	p.lastState = snap.State
	p.mu.Unlock()

	if changed && !p.loading.Load() {
		p.persist()
	}
	p.emit()
}
