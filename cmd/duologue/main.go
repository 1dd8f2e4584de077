// Command duologue serves the debate API, or runs a single debate headless
// when -topic is given.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/duologue/internal/app"
	"github.com/MrWong99/duologue/internal/config"
	"github.com/MrWong99/duologue/internal/debate"
	"github.com/MrWong99/duologue/internal/observe"
	"github.com/MrWong99/duologue/internal/transcript"
	"github.com/MrWong99/duologue/pkg/audio"
	"github.com/MrWong99/duologue/pkg/audio/playback"
	"github.com/MrWong99/duologue/pkg/provider/llm"
	"github.com/MrWong99/duologue/pkg/provider/llm/anyllm"
	"github.com/MrWong99/duologue/pkg/provider/llm/openai"
	"github.com/MrWong99/duologue/pkg/provider/tts"
	"github.com/MrWong99/duologue/pkg/provider/tts/coqui"
	"github.com/MrWong99/duologue/pkg/provider/tts/elevenlabs"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	topic := flag.String("topic", "", "run one debate on this topic and exit")
	speakerA := flag.String("a", "albert-einstein", "opening speaker for -topic")
	speakerB := flag.String("b", "warren-buffett", "second speaker for -topic")
	outDir := flag.String("out", "", "directory for the audio clips of a -topic run")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "duologue: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "duologue: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(app.LevelFor(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(&level))

	slog.Info("duologue starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(tctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := app.BuildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	if *topic != "" {
		return runHeadless(ctx, cfg, providers, debate.Session{
			SpeakerA: *speakerA,
			SpeakerB: *speakerB,
			Topic:    *topic,
		}, *outDir)
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithLogLevel(&level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, application.ApplyConfig)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-hup:
					slog.Info("SIGHUP received, reloading config")
					watcher.Reload()
				}
			}
		}()
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.ShutdownTimeout)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// runHeadless runs one debate to completion and prints the transcript.
func runHeadless(ctx context.Context, cfg *config.Config, providers *app.Providers, sess debate.Session, outDir string) int {
	var sink audio.Sink = playback.Discard
	if outDir != "" {
		ds, err := playback.NewDirSink(outDir)
		if err != nil {
			slog.Error("failed to create audio directory", "err", err)
			return 1
		}
		sink = ds
	}

	application, err := app.New(ctx, cfg, providers, app.WithSink(sink))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), app.ShutdownTimeout)
		defer cancel()
		_ = application.Shutdown(sctx)
	}()

	sched := application.Scheduler()
	run, err := sched.Start(ctx, sess)
	if err != nil {
		fmt.Fprintf(os.Stderr, "duologue: %v\n", err)
		return 2
	}

	printed := 0
	for done := false; !done; {
		changed := sched.Changed()
		snap := sched.Snapshot()
		for _, e := range snap.Transcript[printed:] {
			printEntry(e)
		}
		printed = len(snap.Transcript)

		select {
		case <-run.Done():
			done = true
		case <-ctx.Done():
			sched.Reset()
			<-run.Done()
			done = true
		case <-changed:
		}
	}

	// Entries appended between the last snapshot and completion.
	if snap := sched.Snapshot(); len(snap.Transcript) > printed {
		for _, e := range snap.Transcript[printed:] {
			printEntry(e)
		}
	}

	if err := run.Err(); err != nil {
		slog.Error("debate failed", "err", err)
		return 1
	}
	return 0
}

func printEntry(e transcript.Entry) {
	switch e.Kind {
	case transcript.KindInterjection:
		fmt.Printf("[%s asks] %s\n", e.Name, e.Content)
	default:
		fmt.Printf("%s: %s\n", e.Name, e.Content)
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyllmBackends are the LLM names served through any-llm-go.
var anyllmBackends = []string{"anthropic", "gemini", "deepseek", "mistral", "groq"}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// "gmi" is the OpenAI-compatible GMI gateway, the openai package default.
	for _, name := range []string{"openai", "gmi"} {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []openai.Option
			switch {
			case entry.BaseURL != "":
				opts = append(opts, openai.WithBaseURL(entry.BaseURL))
			case name == "openai":
				opts = append(opts, openai.WithBaseURL("https://api.openai.com/v1"))
			}
			if org := optString(entry.Options, "organization"); org != "" {
				opts = append(opts, openai.WithOrganization(org))
			}
			return openai.New(entry.APIKey, entry.Model, opts...)
		})
	}

	for _, name := range anyllmBackends {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────
	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	// coqui is a self-hosted server; base_url is its address.
	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		mode, err := coqui.ParseAPIMode(optString(entry.Options, "api_mode"))
		if err != nil {
			return nil, err
		}
		opts := []coqui.Option{coqui.WithAPIMode(mode)}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if rate, ok := entry.Options["sample_rate"].(int); ok {
			opts = append(opts, coqui.WithSampleRate(rate))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	for _, kind := range []config.Kind{config.KindLLM, config.KindTTS} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        duologue — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("LLM fallback", joinNames(cfg.Providers.LLMFallbacks), "")
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	fmt.Printf("║  Speech mode     : %-19s ║\n", cfg.Speech.Mode)
	fmt.Printf("║  Personas        : %-19d ║\n", len(cfg.Personas.List()))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, truncate(value, 19))
}

// truncate shortens s to at most n runes, ending in "…" when cut.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func joinNames(entries []config.ProviderEntry) string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return strings.Join(names, ", ")
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
