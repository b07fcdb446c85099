// Command stemplay plays the stems of one recording in sync, with live
// per-stem gain, mute and solo, a master effects chain and clip meters.
//
// Usage:
//
//	stemplay [flags] name=path ...
//
// Stems are local paths, file:// URLs or http(s) URLs. A stem given without
// a name is named after its file. Settings are saved per recording and
// restored on the next run.
//
// Examples:
//
//	stemplay vocals=song/vocals.wav drums=song/drums.wav bass=song/bass.mp3
//	stemplay --effects reverberator,compressor --loudness vocals=-3 song/*.wav
//	stemplay --normalize=-14 drums.wav bass.wav
//	stemplay --headless --clip-start 30 --clip-end 60 https://example.com/a.wav
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/lipgloss"
)

var version = "0.1.0"

// CLI defines the command-line interface
type CLI struct {
	Version    bool               `short:"v" help:"Show version information"`
	ID         string             `help:"Recording ID for saved settings (default: derived from the stem locations)"`
	StateDir   string             `type:"path" help:"Directory for saved settings (default: user config dir)"`
	NoState    bool               `help:"Neither read nor write saved settings"`
	SampleRate int                `default:"48000" help:"Output sample rate in Hz"`
	Latency    time.Duration      `default:"40ms" help:"Output buffer length"`
	ClipStart  float64            `help:"Clip start in seconds"`
	ClipEnd    float64            `help:"Clip end in seconds (0 plays to the end)"`
	Loudness   map[string]float64 `help:"Per-stem loudness adjustment in dB, e.g. vocals=-3"`
	Normalize  float64            `help:"Normalize stems without --loudness to this integrated loudness in LUFS, e.g. -14 (0 disables)"`
	Effects    []string           `help:"Effects to enable: equalizer, stereo-expander, reverberator, compressor"`
	Headless   bool               `help:"Play to the end without the terminal UI"`
	LogFile    string             `type:"path" help:"Write debug logs to this file"`
	Stems      []string           `arg:"" optional:"" name:"stems" help:"Stems as name=location or location"`
}

var errorStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("#A40000"))

func main() {
	cliArgs := &CLI{}
	ctx := kong.Parse(cliArgs,
		kong.Name("stemplay"),
		kong.Description("Synchronized multi-stem player"),
		kong.UsageOnError(),
		kong.Vars{
			"version": version,
		},
	)

	if cliArgs.Version {
		fmt.Printf("stemplay %s\n", version)
		os.Exit(0)
	}

	if len(cliArgs.Stems) == 0 {
		printError("No stems specified")
		ctx.PrintUsage(false)
		os.Exit(1)
	}

	if err := run(cliArgs); err != nil {
		printError(err.Error())
		os.Exit(1)
	}
}

func printError(message string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", errorStyle.Render("Error:"), message)
}
