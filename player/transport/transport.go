// Package transport implements the playback state machine that starts,
// pauses, seeks and stops one buffer source per stem in lock-step.
//
// Every batch of sources belongs to a generation. Starting, stopping or
// replacing sources bumps the generation, and every completion callback
// compares the generation it captured with the current one before touching
// any state, so callbacks from superseded sources are dropped.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/cwbudde/algo-stems/dsp/core"
	"github.com/cwbudde/algo-stems/engine"
)

// State is the transport state.
type State int

// Transport states.
const (
	Stopped State = iota
	Paused
	Playing
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Paused:
		return "paused"
	case Playing:
		return "playing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// DefaultRefreshInterval is the display-refresh period.
const DefaultRefreshInterval = time.Second / 60

// ErrClosed is returned after Close.
var ErrClosed = errors.New("transport: closed")

// Track is one stem to play: its buffer and the node the source feeds.
type Track struct {
	Name   string
	Buffer *engine.Buffer
	Input  engine.Node
}

// Clip selects a sub-range of the buffers in seconds. A zero End plays to
// the end of the longest buffer.
type Clip struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Snapshot is the published transport state.
type Snapshot struct {
	State       State
	CurrentTime float64
	Duration    float64
	Generation  uint64
}

// IsPlaying reports whether the snapshot is Playing.
func (s Snapshot) IsPlaying() bool { return s.State == Playing }

// Option configures a Controller.
type Option func(*config)

type config struct {
	logger  *slog.Logger
	refresh time.Duration
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(cfg *config) {
		if l != nil {
			cfg.logger = l
		}
	}
}

// WithRefreshInterval sets the display-refresh period.
func WithRefreshInterval(d time.Duration) Option {
	return func(cfg *config) {
		if d > 0 {
			cfg.refresh = d
		}
	}
}

type subscriber struct {
	id int
	fn func(Snapshot)
}

// Controller drives playback on one engine context.
type Controller struct {
	ctx     *engine.Context
	logger  *slog.Logger
	refresh time.Duration

	mu          sync.Mutex
	tracks      []Track
	clip        Clip
	duration    float64
	playing     bool
	pausedAt    float64
	startFrame  int64
	generation  uint64
	sources     []*engine.BufferSourceNode
	pendingEnds int
	subs        []subscriber
	nextSub     int
	closed      bool
	done        chan struct{}
}

// New creates a stopped controller with no tracks.
func New(ctx *engine.Context, opts ...Option) *Controller {
	cfg := config{logger: slog.Default(), refresh: DefaultRefreshInterval}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &Controller{
		ctx:     ctx,
		logger:  cfg.logger,
		refresh: cfg.refresh,
		done:    make(chan struct{}),
	}
}

// SetTracks replaces the tracks and clip, stopping playback first. The
// position resets to 0.
func (c *Controller) SetTracks(tracks []Track, clip Clip) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	if c.playing {
		c.teardown()
	}
	c.tracks = slices.Clone(tracks)
	c.clip = clip
	c.duration = clipDuration(tracks, clip)
	c.pausedAt = 0
	c.unlockAndNotify()

	c.logger.Debug("transport tracks set", "tracks", len(tracks), "duration", c.Duration())
	return nil
}

func clipDuration(tracks []Track, clip Clip) float64 {
	longest := 0.0
	for _, t := range tracks {
		if t.Buffer != nil {
			longest = math.Max(longest, t.Buffer.Duration())
		}
	}

	start := core.Clamp(clip.Start, 0, longest)
	end := longest
	if clip.End > start {
		end = math.Min(clip.End, longest)
	}
	return end - start
}

// Duration returns the playable length in seconds.
func (c *Controller) Duration() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duration
}

// Generation returns the current playback generation.
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

// CurrentTime returns the playback position in seconds.
func (c *Controller) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position()
}

// IsPlaying reports whether playback is running.
func (c *Controller) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

// Play starts playback from the current position. It is a no-op while
// playing or without tracks. A suspended engine is resumed first; if that
// fails the error is returned and nothing starts. Playing from the end
// restarts at 0.
func (c *Controller) Play(ctx context.Context) error {
	if ok, err := c.playable(); !ok {
		return err
	}

	// Resume may block on the device; c.mu stays free meanwhile.
	if c.ctx.State() != engine.StateRunning {
		if err := c.ctx.Resume(ctx); err != nil {
			return fmt.Errorf("transport: play: %w", err)
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.playing || len(c.tracks) == 0 {
		c.mu.Unlock()
		return nil
	}

	if c.pausedAt >= c.duration {
		c.pausedAt = 0
	}

	if err := c.start(nil); err != nil {
		c.mu.Unlock()
		return err
	}
	c.playing = true
	gen := c.generation
	c.unlockAndNotify()

	go c.refreshLoop(gen)
	return nil
}

// playable reports whether Play has anything to start.
func (c *Controller) playable() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, ErrClosed
	}
	return !c.playing && len(c.tracks) > 0, nil
}

// Pause stops playback and keeps the position. It is a no-op unless
// playing.
func (c *Controller) Pause() {
	c.mu.Lock()
	if !c.playing {
		c.mu.Unlock()
		return
	}

	c.pausedAt = c.position()
	c.teardown()
	c.unlockAndNotify()
}

// Stop stops playback and rewinds to 0. It is a no-op when already
// stopped.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.playing && c.pausedAt == 0 {
		c.mu.Unlock()
		return
	}

	if c.playing {
		c.teardown()
	} else {
		c.generation++
	}
	c.pausedAt = 0
	c.unlockAndNotify()
}

// Seek moves the position to t, clamped to [0, Duration]. While playing,
// the sources are replaced in a single graph batch under a new generation,
// so the old and new sources never overlap and leave no gap.
func (c *Controller) Seek(t float64) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	t = core.Clamp(core.Finite(t, 0), 0, c.duration)
	c.pausedAt = t

	if !c.playing {
		c.unlockAndNotify()
		return nil
	}
	if t >= c.duration {
		// Seeking to the end while playing is a natural end.
		c.teardown()
		c.pausedAt = 0
		c.unlockAndNotify()
		return nil
	}

	old := c.sources
	if err := c.start(old); err != nil {
		// The old sources are still connected; keep playing them.
		c.mu.Unlock()
		return err
	}
	gen := c.generation
	c.unlockAndNotify()

	go c.refreshLoop(gen)
	return nil
}

// Subscribe registers fn for state changes and display refreshes. The
// returned function unsubscribes.
func (c *Controller) Subscribe(fn func(Snapshot)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	c.subs = append(c.subs, subscriber{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.subs = slices.DeleteFunc(c.subs, func(s subscriber) bool { return s.id == id })
	}
}

// Close stops playback and the refresh loop.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.playing {
		c.teardown()
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()
}

// start creates and schedules one source per track at pausedAt, replacing
// old in the same batch. Callers hold c.mu.
func (c *Controller) start(old []*engine.BufferSourceNode) error {
	gen := c.generation + 1
	frame := c.ctx.CurrentFrame()
	offset := c.clip.Start + c.pausedAt
	remaining := c.duration - c.pausedAt

	sources := make([]*engine.BufferSourceNode, 0, len(c.tracks))
	for _, t := range c.tracks {
		src, err := c.ctx.NewBufferSource(t.Name+".source", t.Buffer)
		if err != nil {
			return fmt.Errorf("transport: source %q: %w", t.Name, err)
		}
		src.OnEnded(func() { c.onEnded(gen) })
		if err := src.StartAt(frame, offset, remaining); err != nil {
			return fmt.Errorf("transport: source %q: %w", t.Name, err)
		}
		sources = append(sources, src)
	}

	err := c.ctx.Update(func(g *engine.Graph) error {
		for _, s := range old {
			g.Release(s)
		}
		for i, s := range sources {
			if err := g.Connect(s, c.tracks[i].Input); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		for _, s := range sources {
			s.OnEnded(nil)
			s.Stop()
		}
		return fmt.Errorf("transport: start sources: %w", err)
	}

	// Old sources are out of the plan now; their ended callbacks carry the
	// previous generation and are dropped.
	for _, s := range old {
		s.Stop()
	}

	c.generation = gen
	c.sources = sources
	c.pendingEnds = len(sources)
	c.startFrame = frame

	c.logger.Debug("sources started",
		"generation", gen,
		"sources", len(sources),
		"offset", offset,
		"frame", frame,
	)
	return nil
}

// teardown stops and disconnects the current sources under a new
// generation and leaves the playing state. Callers hold c.mu.
func (c *Controller) teardown() {
	c.generation++
	old := c.sources
	c.sources = nil
	c.pendingEnds = 0
	c.playing = false

	err := c.ctx.Update(func(g *engine.Graph) error {
		for _, s := range old {
			g.Release(s)
		}
		return nil
	})
	if err != nil && !errors.Is(err, engine.ErrClosed) {
		c.logger.Warn("release sources failed", "err", err)
	}
	for _, s := range old {
		s.Stop()
	}
}

func (c *Controller) onEnded(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || !c.playing {
		c.mu.Unlock()
		return
	}

	c.pendingEnds--
	if c.pendingEnds > 0 {
		c.mu.Unlock()
		return
	}

	c.teardown()
	c.pausedAt = 0
	c.logger.Debug("playback ended", "generation", gen)
	c.unlockAndNotify()
}

// position returns the current position. Callers hold c.mu.
func (c *Controller) position() float64 {
	if !c.playing {
		return c.pausedAt
	}
	elapsed := float64(c.ctx.CurrentFrame()-c.startFrame) / c.ctx.SampleRate()
	return math.Min(c.pausedAt+elapsed, c.duration)
}

func (c *Controller) snapshot() Snapshot {
	st := Stopped
	switch {
	case c.playing:
		st = Playing
	case c.pausedAt > 0:
		st = Paused
	}
	return Snapshot{
		State:       st,
		CurrentTime: c.position(),
		Duration:    c.duration,
		Generation:  c.generation,
	}
}

// unlockAndNotify releases c.mu and publishes a snapshot to the
// subscribers outside the lock.
func (c *Controller) unlockAndNotify() {
	snap := c.snapshot()
	subs := slices.Clone(c.subs)
	c.mu.Unlock()

	for _, s := range subs {
		s.fn(snap)
	}
}

// refreshLoop republishes the position at the display rate until the
// generation changes or the end is reached.
func (c *Controller) refreshLoop(gen uint64) {
	ticker := time.NewTicker(c.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		if gen != c.generation {
			c.mu.Unlock()
			return
		}
		ended := c.position() >= c.duration
		c.unlockAndNotify()

		if ended {
			return
		}
	}
}
