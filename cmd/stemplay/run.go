package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/cwbudde/algo-stems/internal/output"
	"github.com/cwbudde/algo-stems/internal/tui"
	"github.com/cwbudde/algo-stems/player"
	"github.com/cwbudde/algo-stems/player/effects"
	"github.com/cwbudde/algo-stems/player/loader"
	"github.com/cwbudde/algo-stems/player/store"
	"github.com/cwbudde/algo-stems/player/transport"
)

func run(cli *CLI) error {
	descs, err := parseStems(cli.Stems, cli.Loudness)
	if err != nil {
		return err
	}
	kinds, err := parseEffects(cli.Effects)
	if err != nil {
		return err
	}

	logger, closeLog, err := newLogger(cli.LogFile)
	if err != nil {
		return err
	}
	defer closeLog()

	dev := output.New(cli.SampleRate, output.WithLogger(logger), output.WithLatency(cli.Latency))
	opts := []player.Option{
		player.WithLogger(logger),
		player.WithSampleRate(float64(cli.SampleRate)),
		player.WithDriver(dev),
	}
	if cli.Normalize != 0 {
		opts = append(opts, player.WithLoudnessTarget(cli.Normalize))
	}
	if !cli.NoState {
		fs, err := openStore(cli.StateDir)
		if err != nil {
			return err
		}
		opts = append(opts, player.WithStore(fs))
	}

	p, err := player.New(opts...)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	id := cli.ID
	if id == "" {
		id = recordingID(descs)
	}
	rec := player.Recording{
		ID:    id,
		Stems: descs,
		Clip:  transport.Clip{Start: cli.ClipStart, End: cli.ClipEnd},
	}
	if err := p.Load(ctx, rec); err != nil {
		return err
	}
	for _, k := range kinds {
		if err := p.SetEffectEnabled(k, true); err != nil {
			return err
		}
	}
	for _, name := range p.State().Failed {
		printError(fmt.Sprintf("stem %q could not be loaded", name))
	}

	if err := p.Play(ctx); err != nil {
		return err
	}

	if cli.Headless {
		return playHeadless(ctx, p)
	}

	prog := tea.NewProgram(tui.NewModel(p, titleOf(descs)), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := prog.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("ui: %w", err)
	}
	return nil
}

// playHeadless waits until playback stops or ctx is cancelled.
func playHeadless(ctx context.Context, p *player.Player) error {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.Pause()
			return nil
		case <-ticker.C:
		}

		st := p.State()
		fmt.Printf("\r%s %6.1fs / %.1fs  peak %.2f/%.2f  clips %d ",
			st.Transport.State, st.Transport.CurrentTime, st.Transport.Duration,
			st.Metrics.LeftPeak, st.Metrics.RightPeak, st.Metrics.ClipCount)
		if !st.Transport.IsPlaying() {
			fmt.Println()
			return nil
		}
	}
}

// parseStems turns name=location arguments into descriptors. A bare
// location is named after its file.
func parseStems(args []string, loudness map[string]float64) ([]loader.Descriptor, error) {
	seen := make(map[string]bool, len(args))
	descs := make([]loader.Descriptor, 0, len(args))

	for _, arg := range args {
		name, loc, ok := strings.Cut(arg, "=")
		if !ok || strings.Contains(name, "/") || strings.Contains(name, ":") {
			loc = arg
			name = stemName(arg)
		}
		if name == "" || loc == "" {
			return nil, fmt.Errorf("invalid stem %q", arg)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate stem %q", name)
		}
		seen[name] = true

		d := loader.Descriptor{Type: name, URL: absLocation(loc)}
		if db, ok := loudness[name]; ok {
			d.LoudnessDB = &db
		}
		descs = append(descs, d)
	}

	for name := range loudness {
		if !seen[name] {
			return nil, fmt.Errorf("loudness for unknown stem %q", name)
		}
	}
	return descs, nil
}

func stemName(loc string) string {
	if u, err := url.Parse(loc); err == nil && u.Scheme != "" {
		loc = u.Path
	}
	base := filepath.Base(loc)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// absLocation makes local paths absolute so the recording ID does not
// depend on the working directory.
func absLocation(loc string) string {
	if strings.Contains(loc, "://") {
		return loc
	}
	if abs, err := filepath.Abs(loc); err == nil {
		return abs
	}
	return loc
}

// recordingID derives a stable ID from the stem names and locations.
func recordingID(descs []loader.Descriptor) string {
	var b strings.Builder
	for _, d := range descs {
		b.WriteString(d.Type)
		b.WriteByte('=')
		b.WriteString(d.URL)
		b.WriteByte('\n')
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(b.String())).String()
}

func parseEffects(names []string) ([]effects.Kind, error) {
	kinds := make([]effects.Kind, 0, len(names))
	for _, n := range names {
		k, err := effects.ParseKind(strings.TrimSpace(n))
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func titleOf(descs []loader.Descriptor) string {
	names := make([]string, len(descs))
	for i, d := range descs {
		names[i] = d.Type
	}
	return strings.Join(names, " · ")
}

func openStore(dir string) (*store.FileStore, error) {
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("state dir: %w", err)
		}
		dir = filepath.Join(base, "stemplay")
	}
	return store.NewFileStore(dir)
}

func newLogger(path string) (*slog.Logger, func(), error) {
	if path == "" {
		return slog.New(slog.DiscardHandler), func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("log file: %w", err)
	}
	h := slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(h), func() { f.Close() }, nil
}
