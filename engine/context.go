package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
)

// State is the lifecycle state of a Context.
type State int32

const (
	StateSuspended State = iota
	StateRunning
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateSuspended:
		return "suspended"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Renderer produces interleaved stereo float32 audio on demand.
type Renderer interface {
	Render(out []float32)
}

// Driver connects a Context to an audio device. The driver pulls audio by
// calling Render on the renderer it was attached to.
type Driver interface {
	Attach(r Renderer) error
	Resume(ctx context.Context) error
	Suspend() error
	Close() error
}

// Option configures a Context.
type Option func(*config)

type config struct {
	sampleRate float64
	logger     *slog.Logger
	driver     Driver
}

// WithSampleRate sets the context sample rate in Hz (default 48000).
func WithSampleRate(sampleRate float64) Option {
	return func(cfg *config) {
		if sampleRate > 0 && !math.IsInf(sampleRate, 0) {
			cfg.sampleRate = sampleRate
		}
	}
}

// WithLogger sets the logger used for graph and lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *config) {
		if l != nil {
			cfg.logger = l
		}
	}
}

// WithDriver attaches an output device. Without a driver the context is
// rendered by explicit Render calls.
func WithDriver(d Driver) Option {
	return func(cfg *config) {
		cfg.driver = d
	}
}

// Context is an audio graph together with its clock.
type Context struct {
	sampleRate float64
	logger     *slog.Logger
	driver     Driver

	state  atomic.Int32
	frames atomic.Int64
	plan   atomic.Pointer[renderPlan]

	// mu guards the graph description and lifecycle transitions.
	mu    sync.Mutex
	edges []Edge

	modMu   sync.RWMutex
	modules map[string]ModuleDescriptor

	dest   *DestinationNode
	events *dispatcher

	// render thread
	renderMu sync.Mutex
	q        quantum
	carryPos int
}

// NewContext creates a suspended context.
func NewContext(opts ...Option) (*Context, error) {
	cfg := config{sampleRate: 48000, logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	c := &Context{
		sampleRate: cfg.sampleRate,
		logger:     cfg.logger,
		driver:     cfg.driver,
		modules:    make(map[string]ModuleDescriptor),
		events:     newDispatcher(),
		carryPos:   RenderQuantum,
	}
	c.q.sampleRate = c.sampleRate

	c.dest = &DestinationNode{node: c.newNode("destination", 1, 0)}
	c.dest.proc = destination{}
	c.plan.Store(&renderPlan{dest: c.dest.node})

	if c.driver != nil {
		if err := c.driver.Attach(c); err != nil {
			c.events.close()
			return nil, fmt.Errorf("engine: attach driver: %w", err)
		}
	}

	return c, nil
}

// SampleRate returns the context sample rate in Hz.
func (c *Context) SampleRate() float64 { return c.sampleRate }

// Logger returns the context logger.
func (c *Context) Logger() *slog.Logger { return c.logger }

// State returns the current lifecycle state.
func (c *Context) State() State { return State(c.state.Load()) }

// CurrentFrame returns the number of frames rendered while running.
func (c *Context) CurrentFrame() int64 { return c.frames.Load() }

// CurrentTime returns CurrentFrame in seconds.
func (c *Context) CurrentTime() float64 {
	return float64(c.frames.Load()) / c.sampleRate
}

// Destination returns the final sink of the graph.
func (c *Context) Destination() *DestinationNode { return c.dest }

// Resume starts the clock, waiting for the output device if one is
// attached. Resuming a running context is a no-op.
func (c *Context) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.State() {
	case StateClosed:
		return ErrClosed
	case StateRunning:
		return nil
	}

	if c.driver != nil {
		if err := c.driver.Resume(ctx); err != nil {
			return fmt.Errorf("engine: resume: %w", err)
		}
	}

	c.state.Store(int32(StateRunning))
	c.logger.Debug("audio context resumed", "sampleRate", c.sampleRate)
	return nil
}

// Suspend stops the clock. Rendering a suspended context yields silence.
func (c *Context) Suspend() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.State() {
	case StateClosed:
		return ErrClosed
	case StateSuspended:
		return nil
	}

	c.state.Store(int32(StateSuspended))
	if c.driver != nil {
		if err := c.driver.Suspend(); err != nil {
			return fmt.Errorf("engine: suspend: %w", err)
		}
	}
	return nil
}

// Close releases the device and stops event delivery. Pending events are
// delivered before Close returns. Close must not be called from an event
// callback.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.State() == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state.Store(int32(StateClosed))
	c.mu.Unlock()

	var err error
	if c.driver != nil {
		err = c.driver.Close()
	}
	c.events.close()
	c.logger.Debug("audio context closed")
	return err
}

// Sync blocks until every event queued before the call has been
// delivered. It must not be called from an event callback.
func (c *Context) Sync() {
	c.events.sync()
}

// Render fills out with interleaved stereo samples. While the context is
// not running, out is zeroed and the clock does not advance. Render is the
// render thread: at most one call runs at a time.
func (c *Context) Render(out []float32) {
	c.renderMu.Lock()
	defer c.renderMu.Unlock()

	if c.State() != StateRunning {
		clear(out)
		return
	}

	frames := len(out) / 2
	dst := c.dest.in
	for i := 0; i < frames; {
		if c.carryPos >= RenderQuantum {
			c.renderQuantum()
			c.carryPos = 0
		}

		n := min(RenderQuantum-c.carryPos, frames-i)
		for k := range n {
			out[2*(i+k)] = float32(dst.L[c.carryPos+k])
			out[2*(i+k)+1] = float32(dst.R[c.carryPos+k])
		}
		c.carryPos += n
		i += n
	}

	if len(out)%2 == 1 {
		out[len(out)-1] = 0
	}
}

// RenderFrames advances the graph by at least n frames and discards the
// output.
func (c *Context) RenderFrames(n int) {
	buf := make([]float32, 2*RenderQuantum)
	for ; n > 0; n -= RenderQuantum {
		c.Render(buf)
	}
}

func (c *Context) renderQuantum() {
	plan := c.plan.Load()
	c.q.frame = c.frames.Load()

	for i := range plan.steps {
		step := &plan.steps[i]
		n := step.node

		n.in.clear()
		for _, src := range step.inputs {
			n.in.add(src)
		}

		n.proc.process(&c.q, n.in, n.out)
	}

	if !plan.hasDest {
		plan.dest.in.clear()
	}

	c.frames.Add(RenderQuantum)
}
