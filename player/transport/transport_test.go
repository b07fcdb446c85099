package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cwbudde/algo-stems/engine"
	"github.com/cwbudde/algo-stems/internal/testutil"
)

// A low rate keeps 180 s buffers small.
const testRate = 8000.0

type fixture struct {
	ctx  *engine.Context
	ctrl *Controller
	sink *engine.GainNode
}

func newFixture(t *testing.T, opts ...engine.Option) fixture {
	t.Helper()

	opts = append([]engine.Option{engine.WithSampleRate(testRate)}, opts...)
	c, err := engine.NewContext(opts...)
	if err != nil {
		t.Fatalf("NewContext() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	sink := c.NewGain("sink")
	if err := c.Connect(sink, c.Destination()); err != nil {
		t.Fatal(err)
	}

	ctrl := New(c, WithRefreshInterval(time.Millisecond))
	t.Cleanup(ctrl.Close)
	return fixture{ctx: c, ctrl: ctrl, sink: sink}
}

func rampTracks(t *testing.T, f fixture, names []string, seconds float64) []Track {
	t.Helper()

	buf, err := engine.NewBuffer(testRate, testutil.Ramp(int(seconds*testRate)))
	if err != nil {
		t.Fatal(err)
	}
	tracks := make([]Track, len(names))
	for i, name := range names {
		tracks[i] = Track{Name: name, Buffer: buf, Input: f.sink}
	}
	return tracks
}

func firstSample(f fixture) float32 {
	out := make([]float32, 2*engine.RenderQuantum)
	f.ctx.Render(out)
	return out[0]
}

func play(t *testing.T, f fixture) {
	t.Helper()
	if err := f.ctrl.Play(context.Background()); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
}

func TestPlayWithoutTracksIsNoop(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	play(t, f)
	if f.ctrl.IsPlaying() || f.ctrl.Generation() != 0 {
		t.Fatalf("playing=%v generation=%d, want idle", f.ctrl.IsPlaying(), f.ctrl.Generation())
	}
}

func TestPlayResumesEngine(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if err := f.ctrl.SetTracks(rampTracks(t, f, []string{"a"}, 1), Clip{}); err != nil {
		t.Fatal(err)
	}
	play(t, f)
	if f.ctx.State() != engine.StateRunning {
		t.Fatalf("engine state = %v, want running", f.ctx.State())
	}
	if got := firstSample(f); got != 1 {
		t.Fatalf("first sample = %v, want 1", got)
	}
}

type failingDriver struct{}

func (failingDriver) Attach(engine.Renderer) error { return nil }
func (failingDriver) Resume(context.Context) error { return errors.New("device busy") }
func (failingDriver) Suspend() error               { return nil }
func (failingDriver) Close() error                 { return nil }

func TestPlaySurfacesResumeFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, engine.WithDriver(failingDriver{}))
	if err := f.ctrl.SetTracks(rampTracks(t, f, []string{"a"}, 1), Clip{}); err != nil {
		t.Fatal(err)
	}

	if err := f.ctrl.Play(context.Background()); err == nil {
		t.Fatal("Play() error = nil, want resume failure")
	}
	if f.ctrl.IsPlaying() || f.ctrl.Generation() != 0 {
		t.Fatal("playback started despite resume failure")
	}
	if got := len(f.ctx.Edges()); got != 1 {
		t.Fatalf("edges = %d, want no sources connected", got)
	}
}

// slowDriver blocks in Resume until release is closed.
type slowDriver struct {
	entered chan struct{}
	release chan struct{}
}

func (slowDriver) Attach(engine.Renderer) error { return nil }
func (slowDriver) Suspend() error               { return nil }
func (slowDriver) Close() error                 { return nil }

func (d slowDriver) Resume(ctx context.Context) error {
	d.entered <- struct{}{}
	select {
	case <-d.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestStateReadableWhileResuming(t *testing.T) {
	t.Parallel()

	drv := slowDriver{entered: make(chan struct{}, 1), release: make(chan struct{})}
	f := newFixture(t, engine.WithDriver(drv))
	if err := f.ctrl.SetTracks(rampTracks(t, f, []string{"a"}, 1), Clip{}); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	played := make(chan error, 1)
	go func() { played <- f.ctrl.Play(ctx) }()
	<-drv.entered

	read := make(chan Snapshot, 1)
	go func() { read <- f.ctrl.Snapshot() }()
	select {
	case s := <-read:
		if s.State != Stopped {
			t.Fatalf("state while resuming = %v, want stopped", s.State)
		}
	case <-time.After(time.Second):
		t.Fatal("Snapshot blocked while the engine was resuming")
	}

	close(drv.release)
	if err := <-played; err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if !f.ctrl.IsPlaying() {
		t.Fatal("not playing after resume")
	}
}

func TestCurrentTimeFollowsClock(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	names := []string{"vocals", "drums", "bass", "other"}
	if err := f.ctrl.SetTracks(rampTracks(t, f, names, 180), Clip{}); err != nil {
		t.Fatal(err)
	}
	play(t, f)

	f.ctx.RenderFrames(30 * testRate)
	testutil.RequireNear(t, "currentTime", f.ctrl.CurrentTime(), 30, engine.RenderQuantum/testRate)

	// Four phase-aligned copies of the ramp sum to four times the frame.
	want := float32(4 * (30*testRate + 1))
	if got := firstSample(f); got != want {
		t.Fatalf("sample at 30 s = %v, want %v", got, want)
	}
}

func TestPauseAndStopAreIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if err := f.ctrl.SetTracks(rampTracks(t, f, []string{"a", "b"}, 10), Clip{}); err != nil {
		t.Fatal(err)
	}
	play(t, f)
	f.ctx.RenderFrames(2 * testRate)

	f.ctrl.Pause()
	gen := f.ctrl.Generation()
	pos := f.ctrl.CurrentTime()
	testutil.RequireNear(t, "paused at", pos, 2, engine.RenderQuantum/testRate)

	f.ctrl.Pause()
	if f.ctrl.Generation() != gen || f.ctrl.CurrentTime() != pos {
		t.Fatal("second Pause() changed state")
	}
	if st := f.ctrl.Snapshot().State; st != Paused {
		t.Fatalf("state = %v, want paused", st)
	}

	f.ctx.RenderFrames(testRate)
	if f.ctrl.CurrentTime() != pos {
		t.Fatal("position moved while paused")
	}

	f.ctrl.Stop()
	gen = f.ctrl.Generation()
	if f.ctrl.CurrentTime() != 0 || f.ctrl.Snapshot().State != Stopped {
		t.Fatal("Stop() did not rewind")
	}
	f.ctrl.Stop()
	if f.ctrl.Generation() != gen {
		t.Fatal("second Stop() changed generation")
	}
}

func TestPauseThenPlayResumesPosition(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if err := f.ctrl.SetTracks(rampTracks(t, f, []string{"a"}, 10), Clip{}); err != nil {
		t.Fatal(err)
	}
	play(t, f)
	f.ctx.RenderFrames(testRate)
	f.ctrl.Pause()

	// Only the sink remains connected.
	if got := len(f.ctx.Edges()); got != 1 {
		t.Fatalf("edges while paused = %d, want 1", got)
	}
	if got := firstSample(f); got != 0 {
		t.Fatalf("sample while paused = %v, want silence", got)
	}

	play(t, f)
	if got, want := firstSample(f), float32(testRate+1); got != want {
		t.Fatalf("resumed sample = %v, want %v", got, want)
	}
}

func TestSeekWhilePlaying(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if err := f.ctrl.SetTracks(rampTracks(t, f, []string{"a"}, 180), Clip{}); err != nil {
		t.Fatal(err)
	}
	play(t, f)
	f.ctx.RenderFrames(5 * testRate)

	before := f.ctrl.Generation()
	if err := f.ctrl.Seek(90); err != nil {
		t.Fatal(err)
	}
	if got := f.ctrl.CurrentTime(); got != 90 {
		t.Fatalf("currentTime after seek = %v, want 90", got)
	}
	if f.ctrl.Generation() <= before {
		t.Fatal("seek did not advance the generation")
	}

	// A single source at 90 s: any overlap with the old source would add
	// its ramp value, any gap would read 0.
	if got, want := firstSample(f), float32(90*testRate+1); got != want {
		t.Fatalf("sample after seek = %v, want %v", got, want)
	}

	// Ended callbacks of the replaced source are stale.
	f.ctx.Sync()
	if !f.ctrl.IsPlaying() {
		t.Fatal("stale ended callback stopped playback")
	}
}

func TestSeekClampsAndWhilePaused(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if err := f.ctrl.SetTracks(rampTracks(t, f, []string{"a"}, 10), Clip{}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		in, want float64
	}{
		{-5, 0},
		{4, 4},
		{25, 10},
	}
	for _, tt := range tests {
		if err := f.ctrl.Seek(tt.in); err != nil {
			t.Fatal(err)
		}
		if got := f.ctrl.CurrentTime(); got != tt.want {
			t.Fatalf("Seek(%v): currentTime = %v, want %v", tt.in, got, tt.want)
		}
	}
	if f.ctrl.Generation() != 0 {
		t.Fatal("seek while stopped changed generation")
	}

	// Playing from the end starts over.
	play(t, f)
	if got := firstSample(f); got != 1 {
		t.Fatalf("first sample = %v, want restart at 1", got)
	}
}

func TestGenerationMonotonic(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if err := f.ctrl.SetTracks(rampTracks(t, f, []string{"a", "b"}, 10), Clip{}); err != nil {
		t.Fatal(err)
	}

	steps := []func() error{
		func() error { return f.ctrl.Play(context.Background()) },
		func() error { return f.ctrl.Seek(3) },
		func() error { f.ctrl.Pause(); return nil },
		func() error { return f.ctrl.Play(context.Background()) },
		func() error { return f.ctrl.Seek(1) },
		func() error { f.ctrl.Stop(); return nil },
		func() error { return f.ctrl.Play(context.Background()) },
	}

	prev := f.ctrl.Generation()
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d error = %v", i, err)
		}
		f.ctx.RenderFrames(engine.RenderQuantum)
		gen := f.ctrl.Generation()
		if gen <= prev {
			t.Fatalf("step %d: generation %d -> %d", i, prev, gen)
		}
		prev = gen
	}
}

func TestStaleCallbackIsDiscarded(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if err := f.ctrl.SetTracks(rampTracks(t, f, []string{"a"}, 10), Clip{}); err != nil {
		t.Fatal(err)
	}
	play(t, f)
	stale := f.ctrl.Generation()
	if err := f.ctrl.Seek(2); err != nil {
		t.Fatal(err)
	}

	f.ctrl.onEnded(stale)
	if !f.ctrl.IsPlaying() || f.ctrl.CurrentTime() != 2 {
		t.Fatal("stale callback mutated transport state")
	}
}

func TestNaturalEndStops(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if err := f.ctrl.SetTracks(rampTracks(t, f, []string{"a", "b", "c"}, 1), Clip{}); err != nil {
		t.Fatal(err)
	}
	play(t, f)
	f.ctx.RenderFrames(int(1.1 * testRate))
	f.ctx.Sync()

	snap := f.ctrl.Snapshot()
	if snap.State != Stopped || snap.CurrentTime != 0 {
		t.Fatalf("after end: %+v, want stopped at 0", snap)
	}
	if got := len(f.ctx.Edges()); got != 1 {
		t.Fatalf("edges after end = %d, want sources released", got)
	}
}

func TestClipPlaysSubRange(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if err := f.ctrl.SetTracks(rampTracks(t, f, []string{"a"}, 30), Clip{Start: 10, End: 12}); err != nil {
		t.Fatal(err)
	}
	if got := f.ctrl.Duration(); got != 2 {
		t.Fatalf("duration = %v, want 2", got)
	}

	play(t, f)
	if got, want := firstSample(f), float32(10*testRate+1); got != want {
		t.Fatalf("first clip sample = %v, want %v", got, want)
	}

	f.ctx.RenderFrames(int(2.1 * testRate))
	f.ctx.Sync()
	if f.ctrl.IsPlaying() {
		t.Fatal("clip did not end at its end offset")
	}
}

func TestSubscribeReceivesRefreshes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if err := f.ctrl.SetTracks(rampTracks(t, f, []string{"a"}, 10), Clip{}); err != nil {
		t.Fatal(err)
	}

	var (
		mu    sync.Mutex
		snaps []Snapshot
	)
	cancel := f.ctrl.Subscribe(func(s Snapshot) {
		mu.Lock()
		snaps = append(snaps, s)
		mu.Unlock()
	})
	defer cancel()

	play(t, f)

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(snaps)
		mu.Unlock()
		if n >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("got %d snapshots, want refreshes while playing", n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if !snaps[0].IsPlaying() {
		t.Fatalf("first snapshot = %+v, want playing", snaps[0])
	}
}

func TestClosedController(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.ctrl.Close()
	if err := f.ctrl.Play(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Play() after Close error = %v, want ErrClosed", err)
	}
	if err := f.ctrl.Seek(1); !errors.Is(err, ErrClosed) {
		t.Fatalf("Seek() after Close error = %v, want ErrClosed", err)
	}
}
