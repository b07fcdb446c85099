package player

import (
	"context"

	"github.com/cwbudde/algo-stems/player/effects"
)

// Play starts or resumes playback, resuming the engine first. An engine
// resume failure is returned and playback does not start.
func (p *Player) Play(ctx context.Context) error {
	if _, err := p.current(); err != nil {
		return err
	}
	return p.transport.Play(ctx)
}

// Pause keeps the position and stops the sources.
func (p *Player) Pause() {
	if p.isClosed() {
		return
	}
	p.transport.Pause()
}

// Stop stops playback and rewinds to the start.
func (p *Player) Stop() {
	if p.isClosed() {
		return
	}
	p.transport.Stop()
}

// Seek moves the position to t seconds.
func (p *Player) Seek(t float64) error {
	if _, err := p.current(); err != nil {
		return err
	}
	if err := p.transport.Seek(t); err != nil {
		return err
	}
	p.persist()
	return nil
}

// IsPlaying reports whether the sources are running.
func (p *Player) IsPlaying() bool { return p.transport.IsPlaying() }

// CurrentTime returns the position in seconds.
func (p *Player) CurrentTime() float64 { return p.transport.CurrentTime() }

// Duration returns the playable length in seconds.
func (p *Player) Duration() float64 { return p.transport.Duration() }

// SetStemGain sets the linear gain of a stem, clamped to [0, 2], and
// returns the applied value.
func (p *Player) SetStemGain(name string, v float64) (float64, error) {
	g, err := p.current()
	if err != nil {
		return 0, err
	}
	applied, err := g.SetGain(name, v)
	if err != nil {
		return 0, err
	}
	p.changed()
	return applied, nil
}

// ResetStemGain restores the loudness-derived initial gain.
func (p *Player) ResetStemGain(name string) error {
	g, err := p.current()
	if err != nil {
		return err
	}
	if err := g.ResetGain(name); err != nil {
		return err
	}
	p.changed()
	return nil
}

// ToggleMute flips the mute flag of a stem and returns the new value.
func (p *Player) ToggleMute(name string) (bool, error) {
	g, err := p.current()
	if err != nil {
		return false, err
	}
	muted, err := g.ToggleMute(name)
	if err != nil {
		return false, err
	}
	p.changed()
	return muted, nil
}

// ToggleSolo flips the solo flag of a stem and returns the new value.
func (p *Player) ToggleSolo(name string) (bool, error) {
	g, err := p.current()
	if err != nil {
		return false, err
	}
	soloed, err := g.ToggleSolo(name)
	if err != nil {
		return false, err
	}
	p.changed()
	return soloed, nil
}

// SetMasterGain sets the master output gain and returns the applied value.
func (p *Player) SetMasterGain(v float64) float64 {
	applied := p.router.SetMasterGain(v)
	p.changed()
	return applied
}

// SetEffects replaces all effect settings.
func (p *Player) SetEffects(s effects.Settings) error {
	return p.effect(func() error { return p.router.Apply(s) })
}

// ToggleEffect flips one effect unit and returns its new enabled state.
func (p *Player) ToggleEffect(k effects.Kind) (bool, error) {
	var on bool
	err := p.effect(func() (err error) {
		on, err = p.router.Toggle(k)
		return err
	})
	return on, err
}

// SetEffectEnabled enables or disables one effect unit.
func (p *Player) SetEffectEnabled(k effects.Kind, on bool) error {
	return p.effect(func() error { return p.router.SetEnabled(k, on) })
}

// SetEqualizer configures the equalizer.
func (p *Player) SetEqualizer(c effects.EqualizerConfig) error {
	return p.effect(func() error { return p.router.SetEqualizer(c) })
}

// SetStereoExpander configures the stereo expander.
func (p *Player) SetStereoExpander(c effects.StereoExpanderConfig) error {
	return p.effect(func() error { return p.router.SetStereoExpander(c) })
}

// SetReverberator configures the reverberator.
func (p *Player) SetReverberator(c effects.ReverberatorConfig) error {
	return p.effect(func() error { return p.router.SetReverberator(c) })
}

// SetCompressor configures the compressor.
func (p *Player) SetCompressor(c effects.CompressorConfig) error {
	return p.effect(func() error { return p.router.SetCompressor(c) })
}

func (p *Player) effect(apply func() error) error {
	if p.isClosed() {
		return ErrClosed
	}
	if err := apply(); err != nil {
		return err
	}
	p.changed()
	return nil
}
