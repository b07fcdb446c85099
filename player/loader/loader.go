// Package loader fetches and decodes stem assets concurrently.
//
// A failed asset is logged and left out of the result; the others still
// load. Cancellation, by the caller or by a newer Load superseding this
// one, discards the whole result.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/algo-stems/dsp/resample"
	"github.com/cwbudde/algo-stems/engine"
	"github.com/cwbudde/algo-stems/measure/loudness"
)

// DefaultMaxBytes caps the size of one asset.
const DefaultMaxBytes = 512 << 20

var (
	// ErrSuperseded is the cancellation cause of a Load replaced by a newer
	// one.
	ErrSuperseded = errors.New("loader: superseded by a newer load")
	// ErrTooLarge is returned for an asset over the size cap.
	ErrTooLarge = errors.New("loader: asset too large")
)

// Descriptor locates one stem asset.
type Descriptor struct {
	// Type is the stem name, e.g. "vocals".
	Type string `json:"type"`
	// URL is an http(s) URL, file URL or local path.
	URL string `json:"url"`
	// LoudnessDB is the optional loudness adjustment.
	LoudnessDB *float64 `json:"loudnessDb,omitempty"`
	// WaveformURL points at a pre-rendered waveform image. It is carried
	// through for display only.
	WaveformURL string `json:"waveformUrl,omitempty"`
}

// Result is a completed load.
type Result struct {
	// Buffers maps stem type to its decoded buffer.
	Buffers map[string]*engine.Buffer
	// Duration is the longest decoded duration in seconds.
	Duration float64
	// Failures maps stem type to the error that dropped it.
	Failures map[string]error
	// Normalization maps stem type to the gain in dB that brings it to the
	// loudness target. It is nil unless WithLoudnessTarget is set.
	Normalization map[string]float64
}

// Option configures a Loader.
type Option func(*Loader)

// WithFetcher sets the asset fetcher. The default is DefaultFetcher().
func WithFetcher(f Fetcher) Option {
	return func(l *Loader) {
		if f != nil {
			l.fetcher = f
		}
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(lg *slog.Logger) Option {
	return func(l *Loader) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// WithQuality sets the resampling quality for assets whose rate differs
// from the target.
func WithQuality(q resample.Quality) Option {
	return func(l *Loader) { l.quality = q }
}

// WithMaxBytes caps the size of a single asset.
func WithMaxBytes(n int64) Option {
	return func(l *Loader) {
		if n > 0 {
			l.maxBytes = n
		}
	}
}

// WithLoudnessTarget measures each decoded stem and reports the gain that
// brings its integrated loudness to lufs in Result.Normalization.
func WithLoudnessTarget(lufs float64) Option {
	return func(l *Loader) {
		l.target = lufs
		l.normalize = true
	}
}

// Loader decodes assets into engine buffers at a fixed sample rate.
type Loader struct {
	sampleRate float64
	fetcher    Fetcher
	logger     *slog.Logger
	quality    resample.Quality
	maxBytes   int64
	target     float64
	normalize  bool

	mu     sync.Mutex
	cancel context.CancelCauseFunc
	seq    uint64
}

// New creates a loader producing buffers at sampleRate.
func New(sampleRate float64, opts ...Option) *Loader {
	l := &Loader{
		sampleRate: sampleRate,
		fetcher:    DefaultFetcher(),
		logger:     slog.Default(),
		quality:    resample.QualityBalanced,
		maxBytes:   DefaultMaxBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Load fetches and decodes every descriptor concurrently. Any load still
// in flight is cancelled first. If ctx is cancelled or a newer Load starts
// before all assets finish, Load returns nil and the cancellation cause.
func (l *Loader) Load(ctx context.Context, descs []Descriptor) (*Result, error) {
	lctx, cancel := context.WithCancelCause(ctx)

	l.mu.Lock()
	if l.cancel != nil {
		l.cancel(ErrSuperseded)
	}
	l.cancel = cancel
	l.seq++
	seq := l.seq
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		if l.seq == seq {
			l.cancel = nil
		}
		l.mu.Unlock()
		cancel(context.Canceled)
	}()

	id := uuid.NewString()
	logger := l.logger.With("load", id)
	logger.Debug("load started", "assets", len(descs))
	began := time.Now()

	type outcome struct {
		buf *engine.Buffer
		err error
	}
	outcomes := make([]outcome, len(descs))

	var wg sync.WaitGroup
	for i, d := range descs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf, err := l.loadOne(lctx, d)
			outcomes[i] = outcome{buf: buf, err: err}
		}()
	}
	wg.Wait()

	if lctx.Err() != nil {
		cause := context.Cause(lctx)
		logger.Debug("load cancelled", "cause", cause)
		return nil, fmt.Errorf("loader: %w", cause)
	}

	res := &Result{
		Buffers:  make(map[string]*engine.Buffer, len(descs)),
		Failures: make(map[string]error),
	}
	for i, d := range descs {
		o := outcomes[i]
		if o.err == nil {
			if _, dup := res.Buffers[d.Type]; dup {
				o.err = fmt.Errorf("duplicate stem type %q", d.Type)
			}
		}
		if o.err != nil {
			logger.Warn("stem omitted", "stem", d.Type, "url", d.URL, "err", o.err)
			res.Failures[d.Type] = o.err
			continue
		}
		res.Buffers[d.Type] = o.buf
		res.Duration = max(res.Duration, o.buf.Duration())
	}

	if l.normalize {
		res.Normalization = make(map[string]float64, len(res.Buffers))
		for name, buf := range res.Buffers {
			measured := measure(buf)
			res.Normalization[name] = loudness.Adjustment(measured, l.target)
			logger.Debug("stem loudness", "stem", name, "lufs", measured, "gain_db", res.Normalization[name])
		}
	}

	logger.Debug("load finished",
		"loaded", len(res.Buffers),
		"failed", len(res.Failures),
		"duration", res.Duration,
		"elapsed", time.Since(began),
	)
	return res, nil
}

// Cancel aborts the load in flight, if any.
func (l *Loader) Cancel() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel(context.Canceled)
		l.cancel = nil
	}
}

func (l *Loader) loadOne(ctx context.Context, d Descriptor) (*engine.Buffer, error) {
	rc, err := l.fetcher.Fetch(ctx, d.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, l.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if int64(len(data)) > l.maxBytes {
		return nil, ErrTooLarge
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pcm, err := Decode(data, d.URL)
	if err != nil {
		return nil, err
	}
	if pcm.Frames() == 0 {
		return nil, errors.New("decode: no audio frames")
	}

	return l.toBuffer(pcm)
}

func measure(buf *engine.Buffer) float64 {
	chans := make([][]float32, buf.NumChannels())
	for i := range chans {
		chans[i] = buf.Channel(i)
	}
	return loudness.Integrated(buf.SampleRate(), chans...)
}

// toBuffer resamples to the loader rate and keeps at most two channels.
func (l *Loader) toBuffer(pcm *PCM) (*engine.Buffer, error) {
	chans := pcm.Channels
	if len(chans) > 2 {
		chans = chans[:2]
	}

	out := make([][]float32, len(chans))
	for i, ch := range chans {
		if float64(pcm.SampleRate) != l.sampleRate {
			var err error
			ch, err = resample.Convert(ch, float64(pcm.SampleRate), l.sampleRate, l.quality)
			if err != nil {
				return nil, fmt.Errorf("resample: %w", err)
			}
		}
		out[i] = make([]float32, len(ch))
		for j, v := range ch {
			out[i][j] = float32(v)
		}
	}
	return engine.NewBuffer(l.sampleRate, out...)
}
