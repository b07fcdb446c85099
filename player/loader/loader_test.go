package loader

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cwbudde/algo-stems/internal/testutil"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const testRate = 48000.0

func TestDetectFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
		hint string
		want Format
	}{
		{"riff header", []byte("RIFF\x00\x00\x00\x00WAVEfmt "), "x.bin", FormatWAV},
		{"id3 header", []byte("ID3\x04\x00"), "", FormatMP3},
		{"mpeg sync", []byte{0xFF, 0xFB, 0x90}, "", FormatMP3},
		{"wav extension", []byte("????"), "https://cdn/x/vocals.WAV?sig=1", FormatWAV},
		{"mp3 extension", []byte("????"), "/tmp/drums.mp3", FormatMP3},
		{"unknown", []byte("OggS"), "bass.ogg", FormatUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := DetectFormat(tt.data, tt.hint); got != tt.want {
				t.Fatalf("DetectFormat() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecodeWAV(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	left := testutil.Sine(440, 8000, 0.5, 800)
	right := testutil.DC(-0.25, 800)
	data, err := os.ReadFile(testutil.WriteWAV(t, dir, "x.wav", 8000, left, right))
	if err != nil {
		t.Fatal(err)
	}

	pcm, err := Decode(data, "x.wav")
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if pcm.SampleRate != 8000 || len(pcm.Channels) != 2 || pcm.Frames() != 800 {
		t.Fatalf("decoded %d Hz, %d ch, %d frames", pcm.SampleRate, len(pcm.Channels), pcm.Frames())
	}
	for i := range 800 {
		testutil.RequireNear(t, "left", pcm.Channels[0][i], float64(left[i]), 1.0/16384)
		testutil.RequireNear(t, "right", pcm.Channels[1][i], -0.25, 1.0/16384)
	}
}

// encodeWAV writes mono samples with the given bit depth and format tag.
func encodeWAV(t *testing.T, bitDepth, audioFormat int, samples []int) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "x.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	enc := wav.NewEncoder(f, 8000, bitDepth, 1, audioFormat)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: 8000},
		Data:           samples,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func floatBits(values ...float32) []int {
	out := make([]int, len(values))
	for i, v := range values {
		out[i] = int(int32(math.Float32bits(v)))
	}
	return out
}

func TestDecodeWAVFormats(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		bitDepth    int
		audioFormat int
		samples     []int
		want        []float64
		wantErr     bool
	}{
		{"8-bit unsigned", 8, 1, []int{128, 192, 64, 0}, []float64{0, 0.5, -0.5, -1}, false},
		{"24-bit", 24, 1, []int{1 << 22, -(1 << 22), 0}, []float64{0.5, -0.5, 0}, false},
		{"32-bit float", 32, 3, floatBits(0.5, -0.25, 0, 1), []float64{0.5, -0.25, 0, 1}, false},
		{"extensible", 16, 0xFFFE, []int{16384, -32768}, []float64{0.5, -1}, false},
		{"adpcm", 16, 2, []int{0, 0}, nil, true},
		{"16-bit float", 16, 3, []int{0, 0}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			pcm, err := Decode(encodeWAV(t, tt.bitDepth, tt.audioFormat, tt.samples), "x.wav")
			if tt.wantErr {
				if err == nil {
					t.Fatal("Decode() succeeded, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if pcm.Frames() != len(tt.want) {
				t.Fatalf("frames = %d, want %d", pcm.Frames(), len(tt.want))
			}
			for i, want := range tt.want {
				testutil.RequireNear(t, "sample", pcm.Channels[0][i], want, 1e-9)
			}
		})
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, err := Decode([]byte("not audio at all"), "notes.txt"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("Decode() error = %v, want ErrUnsupportedFormat", err)
	}
	if _, err := Decode([]byte("RIFF\x10\x00\x00\x00WAVEjunk"), "x.wav"); err == nil {
		t.Fatal("Decode() of a truncated WAV succeeded")
	}
}

func writeStems(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	testutil.WriteWAV(t, dir, "vocals.wav", 48000, testutil.Sine(220, 48000, 0.3, 48000))
	testutil.WriteWAV(t, dir, "drums.wav", 48000, testutil.DC(0.1, 96000), testutil.DC(0.2, 96000))
	testutil.WriteWAV(t, dir, "bass.wav", 24000, testutil.DC(0.5, 24000))
	if err := os.WriteFile(filepath.Join(dir, "other.wav"), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoadIsolatesFailures(t *testing.T) {
	t.Parallel()

	dir := writeStems(t)
	l := New(testRate, WithFetcher(SchemeMux{"": FileFetcher{Root: dir}}))

	res, err := l.Load(context.Background(), []Descriptor{
		{Type: "vocals", URL: "vocals.wav"},
		{Type: "drums", URL: "drums.wav"},
		{Type: "bass", URL: "bass.wav"},
		{Type: "other", URL: "other.wav"},
		{Type: "keys", URL: "missing.wav"},
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(res.Buffers) != 3 {
		t.Fatalf("loaded %d stems, want 3", len(res.Buffers))
	}
	for _, name := range []string{"other", "keys"} {
		if res.Failures[name] == nil {
			t.Fatalf("%s should have failed", name)
		}
	}
	testutil.RequireNear(t, "duration", res.Duration, 2, 1e-9)

	drums := res.Buffers["drums"]
	if drums.NumChannels() != 2 || drums.SampleRate() != testRate {
		t.Fatalf("drums: %d ch at %v Hz", drums.NumChannels(), drums.SampleRate())
	}

	// 24 kHz bass is resampled to the loader rate with its length kept.
	bass := res.Buffers["bass"]
	if bass.Length() != 48000 || bass.NumChannels() != 1 {
		t.Fatalf("bass: %d frames, %d ch", bass.Length(), bass.NumChannels())
	}
	testutil.RequireNear(t, "bass mid sample", float64(bass.Channel(0)[24000]), 0.5, 0.01)
}

func TestLoadOverHTTP(t *testing.T) {
	t.Parallel()

	dir := writeStems(t)
	srv := httptest.NewServer(http.FileServer(http.Dir(dir)))
	defer srv.Close()

	l := New(testRate)
	res, err := l.Load(context.Background(), []Descriptor{
		{Type: "vocals", URL: srv.URL + "/vocals.wav"},
		{Type: "drums", URL: srv.URL + "/nope.wav"},
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if res.Buffers["vocals"] == nil {
		t.Fatal("vocals not loaded over http")
	}
	if !errors.Is(res.Failures["drums"], ErrStatus) {
		t.Fatalf("drums failure = %v, want ErrStatus", res.Failures["drums"])
	}
}

// blockingFetcher waits for cancellation, signalling entry on started.
func blockingFetcher(started chan<- struct{}) Fetcher {
	return FetcherFunc(func(ctx context.Context, _ string) (io.ReadCloser, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	})
}

func TestLoadCancelledByCaller(t *testing.T) {
	t.Parallel()

	started := make(chan struct{}, 4)
	l := New(testRate, WithFetcher(blockingFetcher(started)))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	res, err := l.Load(ctx, []Descriptor{{Type: "vocals", URL: "a"}, {Type: "drums", URL: "b"}})
	if res != nil {
		t.Fatalf("cancelled Load returned a result: %+v", res)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Load() error = %v, want context.Canceled", err)
	}
}

func TestLoadSupersededByNewerLoad(t *testing.T) {
	t.Parallel()

	dir := writeStems(t)
	started := make(chan struct{}, 4)
	files := FileFetcher{Root: dir}

	l := New(testRate, WithFetcher(FetcherFunc(func(ctx context.Context, loc string) (io.ReadCloser, error) {
		if strings.HasPrefix(loc, "slow:") {
			return blockingFetcher(started).Fetch(ctx, loc)
		}
		return files.Fetch(ctx, loc)
	})))

	type result struct {
		res *Result
		err error
	}
	first := make(chan result, 1)
	go func() {
		res, err := l.Load(context.Background(), []Descriptor{{Type: "vocals", URL: "slow:vocals"}})
		first <- result{res, err}
	}()
	<-started

	res, err := l.Load(context.Background(), []Descriptor{{Type: "vocals", URL: "vocals.wav"}})
	if err != nil || res.Buffers["vocals"] == nil {
		t.Fatalf("second Load() = %+v, %v", res, err)
	}

	select {
	case r := <-first:
		if r.res != nil || !errors.Is(r.err, ErrSuperseded) {
			t.Fatalf("first Load() = %+v, %v, want ErrSuperseded", r.res, r.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first Load was not cancelled")
	}
}

func TestCancel(t *testing.T) {
	t.Parallel()

	started := make(chan struct{}, 1)
	l := New(testRate, WithFetcher(blockingFetcher(started)))

	done := make(chan error, 1)
	go func() {
		_, err := l.Load(context.Background(), []Descriptor{{Type: "vocals", URL: "a"}})
		done <- err
	}()
	<-started
	l.Cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Load() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Cancel did not abort the load")
	}
	l.Cancel()
}

func TestLoudnessTarget(t *testing.T) {
	t.Parallel()

	dir := writeStems(t)
	testutil.WriteWAV(t, dir, "quiet.wav", 48000, testutil.Sine(220, 48000, 0.15, 48000))
	descs := []Descriptor{
		{Type: "vocals", URL: "vocals.wav"},
		{Type: "quiet", URL: "quiet.wav"},
	}

	plain, err := New(testRate, WithFetcher(FileFetcher{Root: dir})).Load(context.Background(), descs)
	if err != nil {
		t.Fatal(err)
	}
	if plain.Normalization != nil {
		t.Fatalf("Normalization = %v without a target", plain.Normalization)
	}

	l := New(testRate, WithFetcher(FileFetcher{Root: dir}), WithLoudnessTarget(-14))
	res, err := l.Load(context.Background(), descs)
	if err != nil {
		t.Fatal(err)
	}

	loud, quiet := res.Normalization["vocals"], res.Normalization["quiet"]
	// A 0.3 sine in mono sits near -11.2 LUFS.
	testutil.RequireNear(t, "vocals adjustment", loud, -2.8, 0.3)
	// Half the amplitude needs 6 dB more gain.
	testutil.RequireNear(t, "relative adjustment", quiet-loud, 6.02, 0.1)
}

func TestMaxBytes(t *testing.T) {
	t.Parallel()

	dir := writeStems(t)
	l := New(testRate, WithFetcher(FileFetcher{Root: dir}), WithMaxBytes(1024))
	res, err := l.Load(context.Background(), []Descriptor{{Type: "vocals", URL: "vocals.wav"}})
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(res.Failures["vocals"], ErrTooLarge) {
		t.Fatalf("failure = %v, want ErrTooLarge", res.Failures["vocals"])
	}
}

func TestSchemeMuxUnknownScheme(t *testing.T) {
	t.Parallel()

	if _, err := DefaultFetcher().Fetch(context.Background(), "s3://bucket/key"); err == nil {
		t.Fatal("expected error for unknown scheme")
	}
}
