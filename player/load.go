package player

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/cwbudde/algo-stems/player/loader"
	"github.com/cwbudde/algo-stems/player/stems"
	"github.com/cwbudde/algo-stems/player/store"
	"github.com/cwbudde/algo-stems/player/transport"
)

// StemProcessing inserts optional per-stem stages.
type StemProcessing struct {
	HighpassHz float64 `json:"highpassHz,omitempty"`
	LowpassHz  float64 `json:"lowpassHz,omitempty"`
	Compress   bool    `json:"compress,omitempty"`
}

// Recording is one playable set of stems.
type Recording struct {
	// ID keys the persisted configuration. An empty ID disables
	// persistence for this recording.
	ID    string              `json:"id"`
	Stems []loader.Descriptor `json:"stems"`
	// Clip plays a sub-range of the stems.
	Clip       transport.Clip            `json:"clip"`
	Processing map[string]StemProcessing `json:"processing,omitempty"`
}

// Load replaces the current recording. An in-flight Load is cancelled,
// playback stops and the previous stems are released once the new ones
// are connected. Saved configuration for rec.ID is restored and the
// position moves to the saved one. Stems that fail to load are left out,
// as is any repeat of a stem type; Load fails only when none loads. A
// failed Load leaves the previous recording in place.
func (p *Player) Load(ctx context.Context, rec Recording) error {
	if p.isClosed() {
		return ErrClosed
	}
	seq := p.loadSeq.Add(1)
	log := p.logger.With("recording", rec.ID)

	res, err := p.loader.Load(ctx, rec.Stems)
	if err != nil {
		return fmt.Errorf("player: load %q: %w", rec.ID, err)
	}

	specs := make([]stems.Spec, 0, len(res.Buffers))
	var failed []string
	seen := make(map[string]bool, len(rec.Stems))
	for _, d := range rec.Stems {
		buf, ok := res.Buffers[d.Type]
		if !ok || seen[d.Type] {
			failed = append(failed, d.Type)
			continue
		}
		seen[d.Type] = true
		proc := rec.Processing[d.Type]
		adjust := d.LoudnessDB
		if db, ok := res.Normalization[d.Type]; ok && adjust == nil {
			adjust = &db
		}
		specs = append(specs, stems.Spec{
			Name:       d.Type,
			Buffer:     buf,
			LoudnessDB: adjust,
			HighpassHz: proc.HighpassHz,
			LowpassHz:  proc.LowpassHz,
			Compress:   proc.Compress,
		})
	}
	if len(specs) == 0 {
		errs := []error{ErrNoStems}
		for _, name := range failed {
			errs = append(errs, res.Failures[name])
		}
		return fmt.Errorf("player: load %q: %w", rec.ID, errors.Join(errs...))
	}

	doc, found := p.restore(ctx, rec.ID)

	p.loadMu.Lock()
	defer p.loadMu.Unlock()

	if seq != p.loadSeq.Load() {
		return fmt.Errorf("player: load %q: %w", rec.ID, loader.ErrSuperseded)
	}
	if p.isClosed() {
		return ErrClosed
	}

	// The outgoing recording keeps its position; the stop below must not
	// overwrite it.
	p.persist()
	p.loading.Store(true)
	defer p.loading.Store(false)

	p.transport.Stop()

	graph, err := stems.Build(p.ctx, p.router.Bus(), specs, doc.Stems, stems.WithLogger(log))
	if err != nil {
		return fmt.Errorf("player: load %q: %w", rec.ID, err)
	}

	tracks := make([]transport.Track, 0, len(specs))
	for _, s := range specs {
		in, err := graph.Input(s.Name)
		if err != nil {
			graph.Release()
			return fmt.Errorf("player: load %q: %w", rec.ID, err)
		}
		tracks = append(tracks, transport.Track{Name: s.Name, Buffer: s.Buffer, Input: in})
	}
	if err := p.transport.SetTracks(tracks, rec.Clip); err != nil {
		graph.Release()
		return fmt.Errorf("player: load %q: %w", rec.ID, err)
	}

	p.mu.Lock()
	old := p.graph
	p.graph = graph
	p.recording = rec
	p.recording.Stems = slices.Clone(rec.Stems)
	p.failed = failed
	p.mu.Unlock()
	if old != nil {
		if err := old.Release(); err != nil {
			log.Warn("release previous stems failed", "err", err)
		}
	}

	if found {
		if err := p.router.Apply(doc.Effects); err != nil {
			log.Warn("restore effects failed", "err", err)
		}
		p.router.SetMasterGain(doc.MasterGain)
	}

	if found && doc.Position > 0 {
		if err := p.transport.Seek(doc.Position); err != nil {
			log.Warn("restore position failed", "err", err)
		}
	}

	log.Debug("recording loaded",
		"stems", len(specs),
		"failed", len(failed),
		"duration", p.transport.Duration(),
		"restored", found,
	)
	p.emit()
	return nil
}

// restore reads the saved document. Persistence is best effort: any error
// other than a missing document is logged and ignored.
func (p *Player) restore(ctx context.Context, id string) (store.Document, bool) {
	if p.store == nil || id == "" {
		return store.Document{}, false
	}
	doc, err := p.store.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			p.logger.Warn("read saved configuration failed", "recording", id, "err", err)
		}
		return store.Document{}, false
	}
	return doc, true
}
