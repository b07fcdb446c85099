package player

import (
	"time"

	"github.com/cwbudde/algo-stems/player/store"
)

// persist schedules the current configuration for writing. It never
// blocks on the store.
func (p *Player) persist() {
	if p.syncer == nil {
		return
	}

	p.mu.Lock()
	g := p.graph
	id := p.recording.ID
	p.mu.Unlock()

	if g == nil || id == "" {
		return
	}

	p.syncer.Schedule(store.Document{
		RecordingID: id,
		Position:    p.transport.CurrentTime(),
		MasterGain:  p.router.MasterGain(),
		Stems:       g.Saved(),
		Effects:     p.router.Settings(),
		UpdatedAt:   time.Now().UTC(),
	})
}

// changed persists and notifies subscribers after a control change.
func (p *Player) changed() {
	p.persist()
	p.emit()
}
