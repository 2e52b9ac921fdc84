// Command book-buddy plays an audiobook in the terminal and lets the listener
// talk about it with a voice agent grounded in the transcript heard so far.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/d-kavaliou/book-buddy/internal/app"
	"github.com/d-kavaliou/book-buddy/internal/arbiter"
	"github.com/d-kavaliou/book-buddy/internal/audio"
	"github.com/d-kavaliou/book-buddy/internal/backend"
	"github.com/d-kavaliou/book-buddy/internal/chunk"
	"github.com/d-kavaliou/book-buddy/internal/config"
	"github.com/d-kavaliou/book-buddy/internal/db"
	"github.com/d-kavaliou/book-buddy/internal/logging"
	"github.com/d-kavaliou/book-buddy/internal/metrics"
	"github.com/d-kavaliou/book-buddy/internal/player"
	"github.com/d-kavaliou/book-buddy/internal/voice"
	"github.com/d-kavaliou/book-buddy/internal/voice/elevenlabs"
	"github.com/d-kavaliou/book-buddy/internal/voice/gemini"
)

func main() {
	os.Exit(runMain(os.Args[1:], os.Stderr))
}

func runMain(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("book-buddy", flag.ContinueOnError)
	fs.SetOutput(stderr)
	envFile := fs.String("env", "", "path to a .env file (default: ./.env)")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: book-buddy [-env file] [audiobook]")
		fmt.Fprintln(stderr, "  audiobook  local file to upload, transcribe and open")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() > 1 {
		fs.Usage()
		return 2
	}

	var cfg *config.Config
	if *envFile != "" {
		cfg = config.Load(*envFile)
	} else {
		cfg = config.Load()
	}

	logger, logFile, err := logging.Open(cfg.LogPath, logging.ParseLevel(cfg.LogLevel))
	if err != nil {
		fmt.Fprintf(stderr, "book-buddy: %v\n", err)
		return 1
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, fs.Arg(0), logger); err != nil {
		logger.Error("book-buddy exited", "error", err)
		fmt.Fprintf(stderr, "book-buddy: %v\n", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg *config.Config, uploadPath string, logger *slog.Logger) error {
	for _, w := range cfg.Warnings {
		logger.Warn("configuration", "warning", w)
	}
	logger.Info("starting book-buddy",
		"backend", cfg.BackendURL,
		"provider", cfg.Provider,
		"voice_enabled", cfg.VoiceEnabled())

	go func() {
		if err := metrics.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
			logger.Error("metrics listener", "error", err)
		}
	}()

	store, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	client := backend.New(cfg.BackendURL, nil)
	opener := player.NewFFplayOpener(player.FFplayConfig{
		FFplayPath:  cfg.FFplayPath,
		FFprobePath: cfg.FFprobePath,
	})

	playerEvents := app.NewPlayerEvents(64)
	book := player.New(opener, playerEvents.Handlers(), logger.With("component", "player"))
	defer book.Close()

	arb := arbiter.New(book, logger.With("component", "arbiter"))

	settle := cfg.ChunkSettleDelay
	if settle == 0 {
		settle = -1 // zero means no wait; chunk.Config treats 0 as the default
	}
	chunks := chunk.New(client, opener, chunk.Config{SettleDelay: settle}, logger.With("component", "chunk"))

	warnings := cfg.Warnings
	platform, speaker, err := newPlatform(cfg, logger)
	if err != nil {
		logger.Warn("voice unavailable", "error", err)
		warnings = append(warnings, "voice unavailable: "+err.Error())
	}
	if speaker != nil {
		defer speaker.Close()
	}

	mic := audio.NewMicrophone(elevenlabs.SampleRate, logger.With("component", "microphone"))
	defer mic.Close()

	controller := voice.NewController(voice.Deps{
		Platform: platform,
		Mic:      mic,
		Contexts: client,
		Position: book,
		Arbiter:  arb,
		Chunks:   chunks,
		Recorder: store,
		Log:      logger.With("component", "voice"),
	}, voice.Options{Volume: cfg.VoiceVolume})
	defer controller.Stop()

	model := app.New(app.Deps{
		Library:      client,
		Player:       book,
		PlayerEvents: playerEvents.C(),
		Voice:        controller,
		Store:        store,
		UploadPath:   uploadPath,
		Volume:       cfg.VoiceVolume,
		Warnings:     warnings,
		Log:          logger.With("component", "tui"),
	})

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("run tui: %w", err)
	}
	logger.Info("book-buddy stopped")
	return nil
}

// newPlatform builds the configured voice platform and the speaker its agent
// talks through. A nil platform leaves conversations unavailable.
func newPlatform(cfg *config.Config, logger *slog.Logger) (voice.Platform, *audio.Speaker, error) {
	if !cfg.VoiceEnabled() {
		return nil, nil, nil
	}

	rate := elevenlabs.SampleRate
	if cfg.Provider == config.ProviderGemini {
		rate = gemini.OutputSampleRate
	}
	speaker, err := audio.NewSpeaker(rate)
	if err != nil {
		return nil, nil, err
	}

	log := logger.With("component", cfg.Provider)
	switch cfg.Provider {
	case config.ProviderGemini:
		return gemini.New(gemini.Config{
			APIKey: cfg.GeminiAPIKey,
			Model:  cfg.GeminiModel,
			Output: speaker,
			Log:    log,
		}), speaker, nil
	default:
		return elevenlabs.New(elevenlabs.Config{
			APIKey:  cfg.ElevenLabsAPIKey,
			AgentID: cfg.ElevenLabsAgentID,
			Output:  speaker,
			Log:     log,
		}), speaker, nil
	}
}
