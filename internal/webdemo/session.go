// Package webdemo adapts the player to the string and number values the
// browser bridge passes around.
package webdemo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cwbudde/algo-stems/player"
	"github.com/cwbudde/algo-stems/player/effects"
)

// Session is one browser player.
type Session struct {
	p *player.Player
}

// NewSession creates a player rendered by the browser audio callback.
func NewSession(sampleRate float64, opts ...player.Option) (*Session, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be > 0: %f", sampleRate)
	}
	p, err := player.New(append([]player.Option{player.WithSampleRate(sampleRate)}, opts...)...)
	if err != nil {
		return nil, err
	}
	return &Session{p: p}, nil
}

// Player returns the underlying player.
func (s *Session) Player() *player.Player { return s.p }

// Load decodes a recording from JSON and loads it.
func (s *Session) Load(ctx context.Context, recordingJSON string) error {
	var rec player.Recording
	if err := json.Unmarshal([]byte(recordingJSON), &rec); err != nil {
		return fmt.Errorf("webdemo: recording: %w", err)
	}
	return s.p.Load(ctx, rec)
}

// Play resumes playback.
func (s *Session) Play(ctx context.Context) error { return s.p.Play(ctx) }

// Pause pauses playback.
func (s *Session) Pause() { s.p.Pause() }

// Stop stops playback.
func (s *Session) Stop() { s.p.Stop() }

// Seek moves to t seconds.
func (s *Session) Seek(t float64) error { return s.p.Seek(t) }

// SetGain sets a stem gain and returns the applied value.
func (s *Session) SetGain(name string, v float64) (float64, error) {
	return s.p.SetStemGain(name, v)
}

// ToggleMute flips a stem mute.
func (s *Session) ToggleMute(name string) (bool, error) { return s.p.ToggleMute(name) }

// ToggleSolo flips a stem solo.
func (s *Session) ToggleSolo(name string) (bool, error) { return s.p.ToggleSolo(name) }

// SetMasterGain sets the master volume.
func (s *Session) SetMasterGain(v float64) float64 { return s.p.SetMasterGain(v) }

// SetEffect merges a JSON config into the current config of one unit. An
// empty config toggles the unit instead.
func (s *Session) SetEffect(kind, configJSON string) error {
	k, err := effects.ParseKind(kind)
	if err != nil {
		return err
	}
	if configJSON == "" {
		_, err := s.p.ToggleEffect(k)
		return err
	}

	cur := s.p.State().Effects
	switch k {
	case effects.Equalizer:
		c := cur.Equalizer
		if err := decodeConfig(configJSON, &c); err != nil {
			return err
		}
		return s.p.SetEqualizer(c)
	case effects.StereoExpander:
		c := cur.StereoExpander
		if err := decodeConfig(configJSON, &c); err != nil {
			return err
		}
		return s.p.SetStereoExpander(c)
	case effects.Reverberator:
		c := cur.Reverberator
		if err := decodeConfig(configJSON, &c); err != nil {
			return err
		}
		return s.p.SetReverberator(c)
	default:
		c := cur.Compressor
		if err := decodeConfig(configJSON, &c); err != nil {
			return err
		}
		return s.p.SetCompressor(c)
	}
}

func decodeConfig(data string, dst any) error {
	if err := json.Unmarshal([]byte(data), dst); err != nil {
		return fmt.Errorf("webdemo: effect config: %w", err)
	}
	return nil
}

// Render returns n interleaved stereo samples.
func (s *Session) Render(n int) []float32 {
	buf := make([]float32, max(n, 0))
	s.p.Render(buf)
	return buf
}

// ResponseCurveDB returns the master equalizer response at freqs.
func (s *Session) ResponseCurveDB(freqs []float64) []float64 {
	return s.p.EqualizerResponse(freqs)
}

// Spectrum returns the output spectrum in dBFS and the bin width in Hz.
func (s *Session) Spectrum() ([]float32, float64) { return s.p.Spectrum() }

// ResetClip clears the clip indicators.
func (s *Session) ResetClip() { s.p.ResetClip() }

// Close releases the player.
func (s *Session) Close() error { return s.p.Close() }

// StemView is the JSON shape of one stem.
type StemView struct {
	Name        string  `json:"name"`
	Gain        float64 `json:"gain"`
	InitialGain float64 `json:"initialGain"`
	Muted       bool    `json:"muted"`
	Soloed      bool    `json:"soloed"`
	Audible     bool    `json:"audible"`
}

// StateView is the JSON shape of the player state.
type StateView struct {
	Session       string           `json:"session"`
	Recording     string           `json:"recording"`
	State         string           `json:"state"`
	IsPlaying     bool             `json:"isPlaying"`
	CurrentTime   float64          `json:"currentTime"`
	Duration      float64          `json:"duration"`
	Stems         []StemView       `json:"stems"`
	Failed        []string         `json:"failed,omitempty"`
	Effects       effects.Settings `json:"effects"`
	GainReduction float64          `json:"gainReduction"`
	MakeupDB      float64          `json:"makeupDb"`
	MasterGain    float64          `json:"masterGain"`
	Metrics       MetricsView      `json:"metrics"`
}

// MetricsView is the JSON shape of the clip metrics.
type MetricsView struct {
	LeftPeak      float64 `json:"leftPeak"`
	RightPeak     float64 `json:"rightPeak"`
	LeftClipping  bool    `json:"leftClipping"`
	RightClipping bool    `json:"rightClipping"`
	ClipCount     int     `json:"clipCount"`
}

// View converts a player state.
func View(st player.State) StateView {
	v := StateView{
		Session:       st.SessionID,
		Recording:     st.RecordingID,
		State:         st.Transport.State.String(),
		IsPlaying:     st.Transport.IsPlaying(),
		CurrentTime:   st.Transport.CurrentTime,
		Duration:      st.Transport.Duration,
		Stems:         make([]StemView, 0, len(st.Stems)),
		Failed:        st.Failed,
		Effects:       st.Effects,
		GainReduction: st.Telemetry.GainReductionDB,
		MakeupDB:      st.Telemetry.MakeupDB,
		MasterGain:    st.MasterGain,
		Metrics:       MetricsView(st.Metrics),
	}
	for _, s := range st.Stems {
		v.Stems = append(v.Stems, StemView(s))
	}
	return v
}

// StateJSON returns the player state as JSON.
func (s *Session) StateJSON() (string, error) {
	data, err := json.Marshal(View(s.p.State()))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
