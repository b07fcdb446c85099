package loader

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"path"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// ErrUnsupportedFormat is returned when an asset is neither WAV nor MP3.
var ErrUnsupportedFormat = errors.New("loader: unsupported audio format")

// Format is a container format.
type Format int

// Supported formats.
const (
	FormatUnknown Format = iota
	FormatWAV
	FormatMP3
)

func (f Format) String() string {
	switch f {
	case FormatWAV:
		return "wav"
	case FormatMP3:
		return "mp3"
	default:
		return "unknown"
	}
}

// DetectFormat sniffs the header, falling back to the extension of hint.
func DetectFormat(data []byte, hint string) Format {
	switch {
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return FormatWAV
	case len(data) >= 3 && string(data[:3]) == "ID3":
		return FormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return FormatMP3
	}

	if i := strings.IndexAny(hint, "?#"); i >= 0 {
		hint = hint[:i]
	}
	switch strings.ToLower(path.Ext(hint)) {
	case ".wav", ".wave":
		return FormatWAV
	case ".mp3":
		return FormatMP3
	}
	return FormatUnknown
}

// PCM is decoded planar audio.
type PCM struct {
	SampleRate int
	Channels   [][]float64
}

// Frames returns the channel length.
func (p *PCM) Frames() int {
	if len(p.Channels) == 0 {
		return 0
	}
	return len(p.Channels[0])
}

// Decode decodes a WAV or MP3 asset.
func Decode(data []byte, hint string) (*PCM, error) {
	switch f := DetectFormat(data, hint); f {
	case FormatWAV:
		return decodeWAV(data)
	case FormatMP3:
		return decodeMP3(data)
	default:
		return nil, ErrUnsupportedFormat
	}
}

// WAV format tags.
const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE
)

func decodeWAV(data []byte) (*PCM, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, errors.New("loader: invalid WAV file")
	}

	bitDepth := int(dec.SampleBitDepth())
	if bitDepth == 0 {
		return nil, errors.New("loader: unknown WAV bit depth")
	}

	var scale func(float64) float64
	switch dec.WavAudioFormat {
	case wavFormatPCM, wavFormatExtensible:
		if bitDepth == 8 {
			// 8-bit PCM is unsigned around 128.
			scale = func(v float64) float64 { return (v - 128) / 128 }
			break
		}
		factor := math.Pow(2, float64(bitDepth-1))
		scale = func(v float64) float64 { return v / factor }
	case wavFormatFloat:
		if bitDepth != 32 {
			return nil, fmt.Errorf("loader: unsupported %d-bit float WAV", bitDepth)
		}
		// The decoder hands back the raw sample bits as a signed int32.
		scale = func(v float64) float64 {
			return float64(math.Float32frombits(uint32(int32(v))))
		}
	default:
		return nil, fmt.Errorf("loader: unsupported WAV format tag %#x", dec.WavAudioFormat)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("loader: decode WAV: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels < 1 {
		return nil, errors.New("loader: WAV has no channels")
	}

	floats := buf.AsFloatBuffer()
	return deinterleave(floats.Data, buf.Format.NumChannels, int(dec.SampleRate), scale), nil
}

func decodeMP3(data []byte) (*PCM, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("loader: decode MP3: %w", err)
	}

	// go-mp3 always yields 16-bit little-endian stereo.
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("loader: decode MP3: %w", err)
	}

	samples := make([]float64, len(raw)/2)
	for i := range samples {
		samples[i] = float64(int16(binary.LittleEndian.Uint16(raw[2*i:])))
	}
	return deinterleave(samples, 2, dec.SampleRate(), func(v float64) float64 {
		return v / 32768
	}), nil
}

func deinterleave(interleaved []float64, numChans, sampleRate int, scale func(float64) float64) *PCM {
	frames := len(interleaved) / numChans
	pcm := &PCM{SampleRate: sampleRate, Channels: make([][]float64, numChans)}
	for ch := range numChans {
		pcm.Channels[ch] = make([]float64, frames)
	}
	for i := range frames {
		for ch := range numChans {
			pcm.Channels[ch][i] = scale(interleaved[i*numChans+ch])
		}
	}
	return pcm
}
