package engine

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
)

const testRate = 48000.0

func newRunningContext(t *testing.T) *Context {
	t.Helper()

	c, err := NewContext(WithSampleRate(testRate))
	if err != nil {
		t.Fatalf("NewContext() error = %v", err)
	}
	if err := c.Resume(context.Background()); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func constBuffer(t *testing.T, value float32, frames int) *Buffer {
	t.Helper()

	data := make([]float32, frames)
	for i := range data {
		data[i] = value
	}
	b, err := NewBuffer(testRate, data)
	if err != nil {
		t.Fatalf("NewBuffer() error = %v", err)
	}
	return b
}

func rampBuffer(t *testing.T, frames int) *Buffer {
	t.Helper()

	data := make([]float32, frames)
	for i := range data {
		data[i] = float32(i + 1)
	}
	b, err := NewBuffer(testRate, data)
	if err != nil {
		t.Fatalf("NewBuffer() error = %v", err)
	}
	return b
}

func TestSuspendedContextRendersSilence(t *testing.T) {
	c, err := NewContext(WithSampleRate(testRate))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	out := []float32{1, 1, 1, 1}
	c.Render(out)

	for i, v := range out {
		if v != 0 {
			t.Fatalf("out[%d] = %v, want 0", i, v)
		}
	}
	if c.CurrentFrame() != 0 {
		t.Fatalf("CurrentFrame() = %d, want 0 while suspended", c.CurrentFrame())
	}
	if c.State() != StateSuspended {
		t.Fatalf("State() = %v, want suspended", c.State())
	}
}

func TestClockAdvancesByQuanta(t *testing.T) {
	c := newRunningContext(t)

	c.Render(make([]float32, 2*100))
	if got := c.CurrentFrame(); got != RenderQuantum {
		t.Fatalf("CurrentFrame() = %d, want %d", got, RenderQuantum)
	}

	c.Render(make([]float32, 2*100))
	if got := c.CurrentFrame(); got != 2*RenderQuantum {
		t.Fatalf("CurrentFrame() = %d, want %d", got, 2*RenderQuantum)
	}

	if err := c.Suspend(); err != nil {
		t.Fatal(err)
	}
	c.RenderFrames(10 * RenderQuantum)
	if got := c.CurrentFrame(); got != 2*RenderQuantum {
		t.Fatalf("clock advanced while suspended: %d", got)
	}
}

func TestGainChain(t *testing.T) {
	c := newRunningContext(t)

	src, err := c.NewBufferSource("src", constBuffer(t, 0.5, 4*RenderQuantum))
	if err != nil {
		t.Fatal(err)
	}
	gain := c.NewGain("gain")
	gain.Gain().SetValue(0.5)

	err = c.Update(func(g *Graph) error {
		if err := g.Connect(src, gain); err != nil {
			return err
		}
		return g.Connect(gain, c.Destination())
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := src.StartAt(0, 0, 0); err != nil {
		t.Fatal(err)
	}

	out := make([]float32, 2*RenderQuantum)
	c.Render(out)

	for i, v := range out {
		if math.Abs(float64(v)-0.25) > 1e-6 {
			t.Fatalf("out[%d] = %v, want 0.25", i, v)
		}
	}
}

func TestUpdateRollsBackOnError(t *testing.T) {
	c := newRunningContext(t)

	a := c.NewGain("a")
	b := c.NewGain("b")
	if err := c.Connect(a, b); err != nil {
		t.Fatal(err)
	}

	err := c.Update(func(g *Graph) error {
		if err := g.Connect(b, c.Destination()); err != nil {
			return err
		}
		return g.Connect(b, a)
	})
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("Update() error = %v, want ErrCycle", err)
	}

	edges := c.Edges()
	if len(edges) != 1 || edges[0].From != Node(a) || edges[0].To != Node(b) {
		t.Fatalf("edges after rollback = %v, want only a->b", edges)
	}
}

func TestConnectErrors(t *testing.T) {
	c := newRunningContext(t)
	other := newRunningContext(t)

	a := c.NewGain("a")
	foreign := other.NewGain("foreign")
	splitter := c.NewSplitter("split")
	src, err := c.NewBufferSource("src", constBuffer(t, 1, 8))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		fn   func(g *Graph) error
		want error
	}{
		{name: "foreign", fn: func(g *Graph) error { return g.Connect(a, foreign) }, want: ErrForeignNode},
		{name: "self", fn: func(g *Graph) error { return g.Connect(a, a) }, want: ErrCycle},
		{name: "bad output", fn: func(g *Graph) error { return g.ConnectOutput(splitter, 2, a) }, want: ErrInvalidPort},
		{name: "into source", fn: func(g *Graph) error { return g.Connect(a, src) }, want: ErrInvalidPort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Update(tt.fn); !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestClosedContextRejectsUpdates(t *testing.T) {
	c, err := NewContext()
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	if err := c.Connect(c.NewGain("a"), c.Destination()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Connect() error = %v, want ErrClosed", err)
	}
	if err := c.Resume(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Resume() error = %v, want ErrClosed", err)
	}
}

func TestSourcesStartedOnSameFrameStayAligned(t *testing.T) {
	c := newRunningContext(t)
	buf := rampBuffer(t, 10*RenderQuantum)

	c.RenderFrames(3 * RenderQuantum)
	startFrame := c.CurrentFrame()

	first, err := c.NewBufferSource("first", buf)
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.NewBufferSource("second", buf)
	if err != nil {
		t.Fatal(err)
	}
	a1 := c.NewAnalyser("a1")
	a2 := c.NewAnalyser("a2")

	if err := first.StartAt(startFrame, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := c.Connect(first, a1); err != nil {
		t.Fatal(err)
	}

	// The second source joins two quanta late but was scheduled on the
	// same frame.
	c.RenderFrames(2 * RenderQuantum)
	if err := second.StartAt(startFrame, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := c.Connect(second, a2); err != nil {
		t.Fatal(err)
	}
	c.RenderFrames(RenderQuantum)

	d1 := make([]float32, 1)
	d2 := make([]float32, 1)
	a1.FloatTimeDomainData(d1)
	a2.FloatTimeDomainData(d2)

	want := float32(3 * RenderQuantum)
	if d1[0] != want || d2[0] != want {
		t.Fatalf("latest samples = %v, %v; want both %v", d1[0], d2[0], want)
	}
}

func TestSourceStartsMidQuantum(t *testing.T) {
	c := newRunningContext(t)

	src, err := c.NewBufferSource("src", constBuffer(t, 1, 4*RenderQuantum))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Connect(src, c.Destination()); err != nil {
		t.Fatal(err)
	}
	if err := src.StartAt(10, 0, 0); err != nil {
		t.Fatal(err)
	}

	out := make([]float32, 2*RenderQuantum)
	c.Render(out)

	if out[2*9] != 0 || out[2*10] != 1 {
		t.Fatalf("frame 9 = %v, frame 10 = %v; want 0 then 1", out[2*9], out[2*10])
	}
}

func TestSourceEndedFiresOnce(t *testing.T) {
	c := newRunningContext(t)

	src, err := c.NewBufferSource("src", constBuffer(t, 1, RenderQuantum+5))
	if err != nil {
		t.Fatal(err)
	}
	var ended atomic.Int32
	src.OnEnded(func() { ended.Add(1) })

	if err := c.Connect(src, c.Destination()); err != nil {
		t.Fatal(err)
	}
	if err := src.StartAt(0, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := src.StartAt(0, 0, 0); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second StartAt() error = %v, want ErrAlreadyStarted", err)
	}

	c.RenderFrames(4 * RenderQuantum)
	src.Stop()
	c.Sync()

	if got := ended.Load(); got != 1 {
		t.Fatalf("ended fired %d times, want 1", got)
	}
	if !src.Ended() {
		t.Fatal("Ended() = false")
	}
}

func TestSourceOffsetAndDuration(t *testing.T) {
	c := newRunningContext(t)

	src, err := c.NewBufferSource("src", rampBuffer(t, 4*RenderQuantum))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Connect(src, c.Destination()); err != nil {
		t.Fatal(err)
	}
	offset := 100 / testRate
	duration := 20 / testRate
	if err := src.StartAt(0, offset, duration); err != nil {
		t.Fatal(err)
	}

	out := make([]float32, 2*RenderQuantum)
	c.Render(out)

	if out[0] != 101 {
		t.Fatalf("first sample = %v, want 101", out[0])
	}
	if out[2*19] != 120 || out[2*20] != 0 {
		t.Fatalf("samples 19/20 = %v/%v, want 120/0", out[2*19], out[2*20])
	}
	c.Sync()
	if !src.Ended() {
		t.Fatal("source should have ended after its duration")
	}
}

func TestParamSetValueAndSetTarget(t *testing.T) {
	p := newParam("gain", 1, 0, 2, testRate)

	p.SetValue(5)
	if p.Value() != 2 {
		t.Fatalf("Value() = %v, want clamped 2", p.Value())
	}
	if v := p.block()[0]; v != 2 {
		t.Fatalf("first rendered value = %v, want 2 after SetValue", v)
	}

	p.SetTarget(0, 0.01)
	values := p.block()
	if values[0] >= 2 || values[0] <= 1.9 {
		t.Fatalf("first smoothed value = %v, want just below 2", values[0])
	}
	if values[RenderQuantum-1] >= values[0] {
		t.Fatal("expected a decreasing ramp")
	}

	for range 200 {
		p.block()
	}
	if v := p.block()[0]; v != 0 {
		t.Fatalf("settled value = %v, want 0", v)
	}
}

func TestSplitterFeedsAnalysers(t *testing.T) {
	c := newRunningContext(t)

	left := make([]float32, 4*RenderQuantum)
	right := make([]float32, 4*RenderQuantum)
	for i := range left {
		left[i] = 0.25
		right[i] = -0.75
	}
	buf, err := NewBuffer(testRate, left, right)
	if err != nil {
		t.Fatal(err)
	}
	src, err := c.NewBufferSource("src", buf)
	if err != nil {
		t.Fatal(err)
	}
	split := c.NewSplitter("split")
	al := c.NewAnalyser("left")
	ar := c.NewAnalyser("right")

	err = c.Update(func(g *Graph) error {
		if err := g.Connect(src, split); err != nil {
			return err
		}
		if err := g.ConnectOutput(split, 0, al); err != nil {
			return err
		}
		return g.ConnectOutput(split, 1, ar)
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := src.StartAt(0, 0, 0); err != nil {
		t.Fatal(err)
	}
	c.RenderFrames(2 * RenderQuantum)

	if got := al.Peak(); math.Abs(got-0.25) > 1e-6 {
		t.Fatalf("left peak = %v, want 0.25", got)
	}
	if got := ar.Peak(); math.Abs(got-0.75) > 1e-6 {
		t.Fatalf("right peak = %v, want 0.75", got)
	}
}

func TestAnalyserFrequencyData(t *testing.T) {
	c := newRunningContext(t)

	const freq = 1500.0
	data := make([]float32, 8192)
	for i := range data {
		data[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/testRate))
	}
	buf, err := NewBuffer(testRate, data)
	if err != nil {
		t.Fatal(err)
	}
	src, err := c.NewBufferSource("src", buf)
	if err != nil {
		t.Fatal(err)
	}
	an := c.NewAnalyser("an")
	if err := c.Connect(src, an); err != nil {
		t.Fatal(err)
	}
	if err := src.StartAt(0, 0, 0); err != nil {
		t.Fatal(err)
	}
	c.RenderFrames(4096)

	spec := make([]float32, an.FFTSize()/2+1)
	if n := an.FloatFrequencyData(spec); n != len(spec) {
		t.Fatalf("FloatFrequencyData() = %d, want %d", n, len(spec))
	}

	best := 0
	for k := range spec {
		if spec[k] > spec[best] {
			best = k
		}
	}
	binHz := testRate / float64(an.FFTSize())
	if got := float64(best) * binHz; math.Abs(got-freq) > 2*binHz {
		t.Fatalf("peak at %v Hz, want ~%v Hz", got, freq)
	}
	if spec[best] < -10 {
		t.Fatalf("peak level = %v dB, want around -6 dB", spec[best])
	}

	if err := an.SetFFTSize(1000); err == nil {
		t.Fatal("expected error for non power-of-two fft size")
	}
}

func TestSampleRateMismatch(t *testing.T) {
	c := newRunningContext(t)

	buf, err := NewBuffer(44100, make([]float32, 10))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.NewBufferSource("src", buf); !errors.Is(err, ErrSampleRate) {
		t.Fatalf("NewBufferSource() error = %v, want ErrSampleRate", err)
	}
}
