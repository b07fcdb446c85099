// Package meter implements the post-effects level and clip monitor.
//
// A fast loop reads raw sample blocks from a left/right analyser pair and
// writes peaks into a mutex-guarded slot. A slower loop copies that slot
// into the published metrics at display rate. Neither loop waits on the
// other.
package meter

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/cwbudde/algo-stems/engine"
)

// Defaults.
const (
	DefaultSampleInterval  = 25 * time.Millisecond
	DefaultPublishInterval = time.Second / 60
	DefaultThreshold       = 0.99
	DefaultHold            = 2 * time.Second

	MinSampleInterval = 16 * time.Millisecond
	MaxSampleInterval = 50 * time.Millisecond
)

// Metrics is the clip metering state.
type Metrics struct {
	LeftPeak      float64
	RightPeak     float64
	LeftClipping  bool
	RightClipping bool
	ClipCount     int
}

// Option configures a Monitor.
type Option func(*config)

type config struct {
	logger          *slog.Logger
	sampleInterval  time.Duration
	publishInterval time.Duration
	threshold       float64
	hold            time.Duration
	now             func() time.Time
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(cfg *config) {
		if l != nil {
			cfg.logger = l
		}
	}
}

// WithSampleInterval sets the fast analysis period, clamped to
// [MinSampleInterval, MaxSampleInterval].
func WithSampleInterval(d time.Duration) Option {
	return func(cfg *config) {
		cfg.sampleInterval = min(max(d, MinSampleInterval), MaxSampleInterval)
	}
}

// WithPublishInterval sets the display refresh period.
func WithPublishInterval(d time.Duration) Option {
	return func(cfg *config) {
		if d > 0 {
			cfg.publishInterval = d
		}
	}
}

// WithThreshold sets the clip threshold as a linear peak.
func WithThreshold(v float64) Option {
	return func(cfg *config) {
		if v > 0 && !math.IsNaN(v) {
			cfg.threshold = v
		}
	}
}

// WithHold sets how long a clip indicator stays lit after the last
// crossing.
func WithHold(d time.Duration) Option {
	return func(cfg *config) {
		if d >= 0 {
			cfg.hold = d
		}
	}
}

// WithClock replaces time.Now for hold timing.
func WithClock(now func() time.Time) Option {
	return func(cfg *config) {
		if now != nil {
			cfg.now = now
		}
	}
}

type channel struct {
	clipping  bool
	clipUntil time.Time
}

// update applies one peak reading and reports a rising clip edge.
func (ch *channel) update(peak, threshold float64, now time.Time, hold time.Duration) bool {
	if peak >= threshold {
		ch.clipUntil = now.Add(hold)
		rising := !ch.clipping
		ch.clipping = true
		return rising
	}
	if ch.clipping && !now.Before(ch.clipUntil) {
		ch.clipping = false
	}
	return false
}

// Monitor meters a tap node.
type Monitor struct {
	ctx      *engine.Context
	logger   *slog.Logger
	cfg      config
	splitter *engine.SplitterNode
	left     *engine.AnalyserNode
	right    *engine.AnalyserNode
	tap      engine.Node

	// fast loop only
	block []float32

	mu          sync.Mutex
	slot        Metrics
	channels    [2]channel
	published   Metrics
	subs        []func(Metrics)
	running     bool
	stop        chan struct{}
	wg          sync.WaitGroup
	released    bool
	publishSeq  uint64
	lastPublish uint64
}

// New taps tap through a channel splitter into two analysers.
func New(ctx *engine.Context, tap engine.Node, opts ...Option) (*Monitor, error) {
	cfg := config{
		logger:          slog.Default(),
		sampleInterval:  DefaultSampleInterval,
		publishInterval: DefaultPublishInterval,
		threshold:       DefaultThreshold,
		hold:            DefaultHold,
		now:             time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	m := &Monitor{
		ctx:      ctx,
		logger:   cfg.logger,
		cfg:      cfg,
		splitter: ctx.NewSplitter("meter.split"),
		left:     ctx.NewAnalyser("meter.left"),
		right:    ctx.NewAnalyser("meter.right"),
		tap:      tap,
	}
	m.block = make([]float32, m.left.FFTSize())

	err := ctx.Update(func(g *engine.Graph) error {
		if err := g.Connect(tap, m.splitter); err != nil {
			return err
		}
		if err := g.ConnectOutput(m.splitter, 0, m.left); err != nil {
			return err
		}
		return g.ConnectOutput(m.splitter, 1, m.right)
	})
	if err != nil {
		return nil, fmt.Errorf("meter: connect tap: %w", err)
	}
	return m, nil
}

// Sample runs one fast-loop pass: read both channels, compute peaks and
// update the slot. The published metrics are untouched. Sample is not safe
// for concurrent use with itself; while started, only the fast loop calls
// it.
func (m *Monitor) Sample() {
	lp := m.peak(m.left)
	rp := m.peak(m.right)
	now := m.cfg.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.slot.LeftPeak = lp
	m.slot.RightPeak = rp
	if m.channels[0].update(lp, m.cfg.threshold, now, m.cfg.hold) {
		m.slot.ClipCount++
	}
	if m.channels[1].update(rp, m.cfg.threshold, now, m.cfg.hold) {
		m.slot.ClipCount++
	}
	m.slot.LeftClipping = m.channels[0].clipping
	m.slot.RightClipping = m.channels[1].clipping
	m.publishSeq++
}

func (m *Monitor) peak(a *engine.AnalyserNode) float64 {
	n := a.FloatTimeDomainData(m.block)
	var p float64
	for _, v := range m.block[:n] {
		p = math.Max(p, math.Abs(float64(v)))
	}
	return math.Min(p, 1)
}

// Publish copies the slot into the published metrics and notifies
// subscribers if it changed since the last publish.
func (m *Monitor) Publish() {
	m.mu.Lock()
	if m.publishSeq == m.lastPublish {
		m.mu.Unlock()
		return
	}
	m.lastPublish = m.publishSeq
	m.published = m.slot
	snap := m.published
	subs := slices.Clone(m.subs)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

// Metrics returns the published metrics.
func (m *Monitor) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.published
}

// Subscribe registers fn for published updates.
func (m *Monitor) Subscribe(fn func(Metrics)) {
	m.mu.Lock()
	m.subs = append(m.subs, fn)
	m.mu.Unlock()
}

// Reset zeroes peaks, flags, hold timers, the clip count and the published
// metrics in one step.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.slot = Metrics{}
	m.channels = [2]channel{}
	m.published = Metrics{}
	m.lastPublish = m.publishSeq
	subs := slices.Clone(m.subs)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(Metrics{})
	}
}

// Spectrum returns the smoothed magnitude spectrum in dBFS of the
// left/right average, FFTSize/2+1 bins.
func (m *Monitor) Spectrum() []float32 {
	size := m.left.FFTSize()/2 + 1
	l := make([]float32, size)
	r := make([]float32, size)
	m.left.FloatFrequencyData(l)
	m.right.FloatFrequencyData(r)
	for i := range l {
		l[i] = (l[i] + r[i]) / 2
	}
	return l
}

// BinHz returns the frequency spacing of Spectrum bins.
func (m *Monitor) BinHz() float64 {
	return m.ctx.SampleRate() / float64(m.left.FFTSize())
}

// Start launches the fast and publish loops. Starting a running monitor is
// a no-op.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released {
		return errors.New("meter: released")
	}
	if m.running {
		return nil
	}
	m.running = true
	m.stop = make(chan struct{})

	m.wg.Add(2)
	go m.loop(m.stop, m.cfg.sampleInterval, m.Sample)
	go m.loop(m.stop, m.cfg.publishInterval, m.Publish)

	m.logger.Debug("meter started",
		"sampleInterval", m.cfg.sampleInterval,
		"publishInterval", m.cfg.publishInterval,
	)
	return nil
}

func (m *Monitor) loop(stop <-chan struct{}, every time.Duration, fn func()) {
	defer m.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			fn()
		}
	}
}

// Stop halts both loops and waits for them to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stop)
	m.mu.Unlock()

	m.wg.Wait()
}

// Release stops the loops and disconnects the tap.
func (m *Monitor) Release() error {
	m.Stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return nil
	}
	m.released = true

	err := m.ctx.Update(func(g *engine.Graph) error {
		g.DisconnectFrom(m.tap, m.splitter)
		g.Release(m.splitter)
		return nil
	})
	if err != nil && !errors.Is(err, engine.ErrClosed) {
		return fmt.Errorf("meter: release: %w", err)
	}
	return nil
}
