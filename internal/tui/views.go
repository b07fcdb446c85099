package tui

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/cwbudde/algo-stems/player/effects"
	"github.com/cwbudde/algo-stems/player/meter"
)

const barWidth = 30

// Color palette
var (
	accentColor = lipgloss.Color("#FFA500")
	okColor     = lipgloss.Color("#00AA00")
	clipColor   = lipgloss.Color("#A40000")
	mutedColor  = lipgloss.Color("#888888")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(accentColor)

	subtleStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(accentColor)

	onStyle = lipgloss.NewStyle().
		Foreground(okColor)

	clipStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(clipColor)

	errorStyle = lipgloss.NewStyle().
			Foreground(clipColor)
)

// renderPlayerView renders the whole screen
func renderPlayerView(m Model) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("stemplay"))
	if m.title != "" {
		b.WriteString(subtleStyle.Render("  " + m.title))
	}
	b.WriteString("\n\n")

	b.WriteString(renderTransport(m))
	b.WriteString("\n\n")
	b.WriteString(renderStems(m))
	b.WriteString("\n")
	b.WriteString(renderEffects(m))
	b.WriteString("\n\n")
	b.WriteString(renderMeters(m.State.Metrics))
	b.WriteString("\n")

	if m.Err != nil {
		b.WriteString(errorStyle.Render("Error: " + m.Err.Error()))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(subtleStyle.Render(helpLine))
	return b.String()
}

const helpLine = "space play/pause · s stop · ←/→ seek · ↑/↓ select · +/- gain · r reset · m mute · o solo · 1-4 effects · [/] master · c clear clip · q quit"

func renderTransport(m Model) string {
	t := m.State.Transport
	frac := 0.0
	if t.Duration > 0 {
		frac = t.CurrentTime / t.Duration
	}
	return fmt.Sprintf("%-8s %s %s / %s   master %.2f",
		t.State, bar(frac, barWidth), clock(t.CurrentTime), clock(t.Duration), m.State.MasterGain)
}

func renderStems(m Model) string {
	var b strings.Builder
	for i, s := range m.State.Stems {
		flags := ""
		if s.Muted {
			flags += " M"
		}
		if s.Soloed {
			flags += " S"
		}
		if !s.Audible {
			flags += subtleStyle.Render(" (silent)")
		}

		line := fmt.Sprintf("%-10s %s %.2f%s", s.Name, bar(s.Gain/2, 20), s.Gain, flags)
		if i == m.Selected {
			line = selectedStyle.Render("> " + line)
		} else {
			line = "  " + line
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	for _, name := range m.State.Failed {
		b.WriteString(errorStyle.Render(fmt.Sprintf("  %-10s failed to load", name)))
		b.WriteString("\n")
	}
	return b.String()
}

func renderEffects(m Model) string {
	enabled := m.State.Effects.Enabled()
	parts := make([]string, 0, len(effects.Order))
	for i, k := range effects.Order {
		label := fmt.Sprintf("%d %s", i+1, k)
		if enabled[i] {
			label = onStyle.Render(label)
		} else {
			label = subtleStyle.Render(label)
		}
		parts = append(parts, label)
	}

	line := strings.Join(parts, "  ")
	if enabled[len(enabled)-1] {
		tel := m.State.Telemetry
		line += fmt.Sprintf("   GR %.1f dB  makeup %+.1f dB", tel.GainReductionDB, tel.MakeupDB)
	}
	return line
}

func renderMeters(mt meter.Metrics) string {
	left := meterLine("L", mt.LeftPeak, mt.LeftClipping)
	right := meterLine("R", mt.RightPeak, mt.RightClipping)
	count := subtleStyle.Render(fmt.Sprintf("clips %d", mt.ClipCount))
	return left + "\n" + right + "  " + count
}

func meterLine(label string, peak float64, clipping bool) string {
	db := -math.Inf(1)
	if peak > 0 {
		db = 20 * math.Log10(peak)
	}
	line := fmt.Sprintf("%s %s %6.1f dB", label, bar(peak, barWidth), db)
	if clipping {
		line += " " + clipStyle.Render("CLIP")
	}
	return line
}

// bar draws frac of width as a filled bar.
func bar(frac float64, width int) string {
	if math.IsNaN(frac) {
		frac = 0
	}
	filled := int(math.Round(math.Max(0, math.Min(1, frac)) * float64(width)))
	return "[" + strings.Repeat("█", filled) + strings.Repeat("·", width-filled) + "]"
}

// clock formats seconds as m:ss.
func clock(seconds float64) string {
	s := int(math.Max(0, seconds))
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}
