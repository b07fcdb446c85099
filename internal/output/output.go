// Package output plays an engine context on the system audio device
// through oto.
package output

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/hajimehoshi/oto/v2"

	"github.com/cwbudde/algo-stems/engine"
)

const (
	channels = 2
	// bytesPerFrame is two float32LE samples.
	bytesPerFrame = channels * 4

	// DefaultLatency is the device buffer length.
	DefaultLatency = 40 * time.Millisecond
)

// ErrNotAttached is returned by Resume before Attach.
var ErrNotAttached = errors.New("output: no renderer attached")

// Option configures a Device.
type Option func(*Device)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Device) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithLatency sets the device buffer length.
func WithLatency(latency time.Duration) Option {
	return func(d *Device) {
		if latency > 0 {
			d.latency = latency
		}
	}
}

// Device is an engine.Driver backed by oto. The device pulls audio by
// rendering the attached context from its own goroutine.
type Device struct {
	sampleRate int
	latency    time.Duration
	logger     *slog.Logger

	mu     sync.Mutex
	ctx    *oto.Context
	ready  chan struct{}
	player oto.Player
}

var _ engine.Driver = (*Device)(nil)

// New returns a device for the given sample rate. The platform device is
// opened on Attach; oto allows a single context per process.
func New(sampleRate int, opts ...Option) *Device {
	d := &Device{
		sampleRate: sampleRate,
		latency:    DefaultLatency,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Attach opens the device and binds r as its audio source.
func (d *Device) Attach(r engine.Renderer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ctx != nil {
		return errors.New("output: already attached")
	}

	ctx, ready, err := oto.NewContext(d.sampleRate, channels, oto.FormatFloat32LE)
	if err != nil {
		return fmt.Errorf("output: open device: %w", err)
	}

	player := ctx.NewPlayer(&stream{r: r})
	frames := int(d.latency.Seconds() * float64(d.sampleRate))
	player.SetBufferSize(max(frames, engine.RenderQuantum) * bytesPerFrame)

	d.ctx = ctx
	d.ready = ready
	d.player = player
	d.logger.Debug("audio device opened", "sampleRate", d.sampleRate, "latency", d.latency)
	return nil
}

// Resume waits for the device to become ready and starts pulling audio.
func (d *Device) Resume(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.player == nil {
		return ErrNotAttached
	}

	select {
	case <-d.ready:
	case <-ctx.Done():
		return fmt.Errorf("output: device not ready: %w", ctx.Err())
	}

	if err := d.ctx.Resume(); err != nil {
		return fmt.Errorf("output: resume: %w", err)
	}
	d.player.Play()
	return nil
}

// Suspend pauses the device.
func (d *Device) Suspend() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.player == nil {
		return nil
	}
	d.player.Pause()
	return d.player.Err()
}

// Close stops the device. The oto context itself lives until the process
// exits.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.player == nil {
		return nil
	}
	err := d.player.Close()
	d.player = nil
	return err
}

// stream adapts a Renderer to the float32LE byte stream oto reads.
type stream struct {
	r   engine.Renderer
	buf []float32
}

// Read renders whole frames into p.
func (s *stream) Read(p []byte) (int, error) {
	frames := len(p) / bytesPerFrame
	if frames == 0 {
		return 0, nil
	}

	n := frames * channels
	if cap(s.buf) < n {
		s.buf = make([]float32, n)
	}
	buf := s.buf[:n]
	s.r.Render(buf)

	for i, v := range buf {
		binary.LittleEndian.PutUint32(p[4*i:], math.Float32bits(v))
	}
	return frames * bytesPerFrame, nil
}
