package engine

import (
	"fmt"
	"math"
)

// Buffer is decoded PCM audio: planar float32 channels at a fixed sample
// rate. A Buffer is immutable after construction and may be shared by any
// number of sources and goroutines.
type Buffer struct {
	sampleRate float64
	channels   [][]float32
	frames     int
}

// NewBuffer wraps planar channel data. The buffer takes ownership of the
// slices; callers must not modify them afterwards. All channels must have
// the same length and there must be one or two of them.
func NewBuffer(sampleRate float64, channels ...[]float32) (*Buffer, error) {
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return nil, fmt.Errorf("engine: buffer sample rate must be > 0: %f", sampleRate)
	}

	if len(channels) == 0 || len(channels) > 2 {
		return nil, fmt.Errorf("engine: buffer needs 1 or 2 channels, got %d", len(channels))
	}

	frames := len(channels[0])
	for i, ch := range channels[1:] {
		if len(ch) != frames {
			return nil, fmt.Errorf("engine: channel %d has %d frames, want %d", i+1, len(ch), frames)
		}
	}

	return &Buffer{sampleRate: sampleRate, channels: channels, frames: frames}, nil
}

// SampleRate returns the buffer sample rate in Hz.
func (b *Buffer) SampleRate() float64 { return b.sampleRate }

// NumChannels returns 1 or 2.
func (b *Buffer) NumChannels() int { return len(b.channels) }

// Length returns the number of frames.
func (b *Buffer) Length() int { return b.frames }

// Duration returns the length in seconds.
func (b *Buffer) Duration() float64 { return float64(b.frames) / b.sampleRate }

// Channel returns channel i. The slice must be treated as read-only.
func (b *Buffer) Channel(i int) []float32 { return b.channels[i] }

// Peak returns the largest absolute sample value across channels.
func (b *Buffer) Peak() float64 {
	var peak float32
	for _, ch := range b.channels {
		for _, v := range ch {
			if v < 0 {
				v = -v
			}
			peak = max(peak, v)
		}
	}
	return float64(peak)
}
