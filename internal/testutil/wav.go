package testutil

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteWAV encodes channels as a 16-bit PCM WAV file in dir and returns its
// path. All channels must have the same length.
func WriteWAV(t *testing.T, dir, name string, sampleRate int, channels ...[]float32) string {
	t.Helper()

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	numChans := len(channels)
	frames := len(channels[0])
	data := make([]int, frames*numChans)
	for i := range frames {
		for ch := range numChans {
			v := math.Max(-1, math.Min(1, float64(channels[ch][i])))
			data[i*numChans+ch] = int(math.Round(v * 32767))
		}
	}

	enc := wav.NewEncoder(f, sampleRate, 16, numChans, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: numChans, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("finalize %s: %v", path, err)
	}
	return path
}
