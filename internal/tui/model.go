// Package tui provides the Bubbletea control surface for stemplay
package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/cwbudde/algo-stems/player"
	"github.com/cwbudde/algo-stems/player/effects"
	"github.com/cwbudde/algo-stems/player/stems"
)

// refreshInterval is the display refresh cadence.
const refreshInterval = time.Second / 30

// Seek and gain step sizes
const (
	seekStep = 5.0
	gainStep = 0.1
)

// Player is the part of player.Player the control surface drives.
type Player interface {
	State() player.State
	Play(ctx context.Context) error
	Pause()
	Stop()
	Seek(t float64) error
	SetStemGain(name string, v float64) (float64, error)
	ResetStemGain(name string) error
	ToggleMute(name string) (bool, error)
	ToggleSolo(name string) (bool, error)
	ToggleEffect(k effects.Kind) (bool, error)
	SetMasterGain(v float64) float64
	ResetClip()
}

var _ Player = (*player.Player)(nil)

type tickMsg time.Time

// Model is the Bubbletea model for the player UI
type Model struct {
	player Player
	title  string

	State    player.State
	Selected int
	Err      error

	// Terminal dimensions
	Width  int
	Height int
}

// NewModel creates a model controlling p
func NewModel(p Player, title string) Model {
	return Model{
		player: p,
		title:  title,
		State:  p.State(),
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init starts the refresh tick
func (m Model) Init() tea.Cmd {
	return tick()
}

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		m.Err = m.handleKey(msg.String())
		m.State = m.player.State()
		return m, nil

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		return m, nil

	case tickMsg:
		m.State = m.player.State()
		return m, tick()
	}

	return m, nil
}

// View renders the current state
func (m Model) View() string {
	return renderPlayerView(m)
}

func (m *Model) handleKey(key string) error {
	p := m.player
	stem, hasStem := m.selectedStem()

	switch key {
	case " ":
		if m.State.Transport.IsPlaying() {
			p.Pause()
			return nil
		}
		return p.Play(context.Background())
	case "s":
		p.Stop()
	case "left":
		return p.Seek(m.State.Transport.CurrentTime - seekStep)
	case "right":
		return p.Seek(m.State.Transport.CurrentTime + seekStep)
	case "up", "k":
		if m.Selected > 0 {
			m.Selected--
		}
	case "down", "j":
		if m.Selected < len(m.State.Stems)-1 {
			m.Selected++
		}
	case "+", "=":
		if hasStem {
			_, err := p.SetStemGain(stem.Name, stem.Gain+gainStep)
			return err
		}
	case "-":
		if hasStem {
			_, err := p.SetStemGain(stem.Name, stem.Gain-gainStep)
			return err
		}
	case "r":
		if hasStem {
			return p.ResetStemGain(stem.Name)
		}
	case "m":
		if hasStem {
			_, err := p.ToggleMute(stem.Name)
			return err
		}
	case "o":
		if hasStem {
			_, err := p.ToggleSolo(stem.Name)
			return err
		}
	case "1", "2", "3", "4":
		_, err := p.ToggleEffect(effects.Order[key[0]-'1'])
		return err
	case "]":
		p.SetMasterGain(m.State.MasterGain + gainStep)
	case "[":
		p.SetMasterGain(m.State.MasterGain - gainStep)
	case "c":
		p.ResetClip()
	}
	return nil
}

func (m Model) selectedStem() (stems.State, bool) {
	if m.Selected < 0 || m.Selected >= len(m.State.Stems) {
		return stems.State{}, false
	}
	return m.State.Stems[m.Selected], true
}
