// Package app wires all duologue subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context ends, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithPlayer, WithSink,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/duologue/internal/api"
	"github.com/MrWong99/duologue/internal/config"
	"github.com/MrWong99/duologue/internal/debate"
	"github.com/MrWong99/duologue/internal/generator"
	"github.com/MrWong99/duologue/internal/health"
	"github.com/MrWong99/duologue/internal/observe"
	"github.com/MrWong99/duologue/internal/persona"
	"github.com/MrWong99/duologue/internal/speech"
	"github.com/MrWong99/duologue/internal/transcript"
	"github.com/MrWong99/duologue/pkg/audio"
	"github.com/MrWong99/duologue/pkg/audio/playback"
	"github.com/MrWong99/duologue/pkg/provider/llm"
	"github.com/MrWong99/duologue/pkg/provider/tts"
)

// ShutdownTimeout bounds the graceful HTTP shutdown in [App.Run].
const ShutdownTimeout = 15 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Names label metrics.
type Providers struct {
	LLM     llm.Provider
	LLMName string
	TTS     tts.Provider
	TTSName string
}

// App owns all subsystem lifetimes.
type App struct {
	mu  sync.Mutex
	cfg *config.Config

	providers *Providers
	metrics   *observe.Metrics
	logLevel  *slog.LevelVar

	catalog     *persona.Catalog
	store       *transcript.Store
	generator   *generator.Generator
	speech      *speech.Service
	sink        audio.Sink
	broadcaster *api.Broadcaster
	player      audio.Player
	scheduler   *debate.Scheduler
	api         *api.Server
	health      *health.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithPlayer injects a player instead of creating a playback queue.
func WithPlayer(p audio.Player) Option {
	return func(a *App) { a.player = p }
}

// WithSink replaces the WebSocket broadcaster as the queue's sink, e.g. a
// [playback.DirSink] in headless mode.
func WithSink(s audio.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithMetrics overrides the metrics used by every subsystem.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel hands New the level var of the default logger so hot reloads
// can change it.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from [BuildProviders]; either slot may be nil.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Personas ──────────────────────────────────────────────────────
	catalog, err := persona.NewCatalog(cfg.Personas.List(), cfg.Personas.DefaultVoice)
	if err != nil {
		return nil, fmt.Errorf("app: init personas: %w", err)
	}
	a.catalog = catalog

	// ── 2. Generation ────────────────────────────────────────────────────
	if providers.LLM == nil {
		slog.Warn("no LLM provider; every debate will fail at its first line")
		providers.LLM = unconfiguredLLM{}
	}
	a.generator = generator.New(providers.LLM, generator.Config{
		Temperature:  cfg.Generation.Temperature,
		MaxTokens:    cfg.Generation.MaxTokens,
		ProviderName: providers.LLMName,
	}, generator.WithMetrics(a.metrics))

	// ── 3. Speech ────────────────────────────────────────────────────────
	speechOpts := []speech.Option{speech.WithMetrics(a.metrics)}
	if providers.TTSName != "" {
		speechOpts = append(speechOpts, speech.WithProviderName(providers.TTSName))
	}
	a.speech = speech.New(providers.TTS, speech.Config{
		Mode:              cfg.Speech.Mode,
		EstimatedDuration: cfg.Speech.EstimatedDuration,
		Stability:         cfg.Speech.Stability,
		SimilarityBoost:   cfg.Speech.SimilarityBoost,
	}, speechOpts...)

	// ── 4. Playback ──────────────────────────────────────────────────────
	a.initPlayback()

	// ── 5. Scheduler ─────────────────────────────────────────────────────
	a.store = transcript.NewStore()
	a.scheduler = debate.New(
		a.catalog,
		a.generator,
		a.speech,
		a.player,
		a.store,
		cfg.Debate.SchedulerConfig(cfg.Speech.EstimatedDuration),
		debate.WithMetrics(a.metrics),
	)
	a.closers = append([]func() error{func() error { a.scheduler.Reset(); return nil }}, a.closers...)

	// ── 6. HTTP surface ──────────────────────────────────────────────────
	var voices api.VoiceLister
	if providers.TTS != nil {
		voices = a.speech
	}
	a.api = api.New(a.scheduler, a.catalog, voices, a.broadcaster,
		api.WithAllowedOrigins(cfg.Server.AllowedOrigins...),
		api.WithMetrics(a.metrics),
	)
	a.initHealth()

	slog.Info("app initialised",
		"personas", a.catalog.Len(),
		"speech", a.speech,
		"llm", providers.LLMName,
		"tts", providers.TTSName,
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initPlayback creates the playback queue unless a player was injected.
func (a *App) initPlayback() {
	if a.player != nil {
		return
	}
	if a.sink == nil {
		a.broadcaster = api.NewBroadcaster()
		a.sink = a.broadcaster
	}
	q := playback.NewQueue(a.sink, playback.WithGap(a.cfg.Speech.Gap))
	a.player = q
	a.closers = append(a.closers, q.Close)
}

// initHealth registers the readiness checkers.
func (a *App) initHealth() {
	checkers := []health.Checker{
		health.ConfigLoaded(func() bool { return a.Config() != nil }),
	}
	if _, ok := a.providers.LLM.(unconfiguredLLM); !ok {
		checkers = append(checkers, health.LLM(a.generator.Ping, health.DefaultProbeTTL))
	}
	if a.providers.TTS != nil {
		checkers = append(checkers, health.TTS(a.speech.Voices, health.DefaultProbeTTL))
	}
	a.health = health.New(checkers...)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Scheduler returns the debate scheduler.
func (a *App) Scheduler() *debate.Scheduler { return a.scheduler }

// Catalog returns the live persona catalog.
func (a *App) Catalog() *persona.Catalog { return a.catalog }

// Config returns the config currently in effect.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Handler returns the full HTTP surface: API, health probes and /metrics.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.api.Register(mux)
	a.health.Register(mux)
	mux.Handle("GET /metrics", observe.Handler())
	return mux
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address until ctx is cancelled, then
// shuts the server down gracefully. It returns nil after a clean stop.
func (a *App) Run(ctx context.Context) error {
	cfg := a.Config()
	baseCtx, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBase()
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	// Event streams are hijacked connections that Shutdown does not wait for.
	srv.RegisterOnShutdown(cancelBase)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", srv.Addr, "tls", cfg.Server.TLS != nil)
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the live-reloadable parts of newCfg: the log level,
// the persona catalog and the playback gap. Other changes are logged and
// wait for a restart.
func (a *App) ApplyConfig(old, newCfg *config.Config) {
	d := config.Diff(old, newCfg)

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(LevelFor(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}

	if d.PersonasChanged {
		if err := a.catalog.Replace(newCfg.Personas.List()); err != nil {
			slog.Error("keeping previous personas, reload rejected", "err", err)
		} else {
			for _, c := range d.PersonaChanges {
				slog.Info("persona reloaded", "id", c.ID, "added", c.Added, "removed", c.Removed, "changed", c.Changed)
			}
		}
	}

	if d.GapChanged {
		if p, ok := a.player.(interface{ SetGap(time.Duration) }); ok {
			p.SetGap(d.NewGap)
			slog.Info("playback gap changed", "gap", d.NewGap)
		}
	}

	for _, section := range d.RestartRequired {
		slog.Warn("config change requires a restart", "section", section)
	}

	a.mu.Lock()
	a.cfg = newCfg
	a.mu.Unlock()
}

// LevelFor converts a config log level to its slog equivalent.
func LevelFor(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order: the debate first, then the
// playback queue. It respects the context deadline: if ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// errNoLLM is returned by [unconfiguredLLM].
var errNoLLM = errors.New("app: no llm provider configured")

// unconfiguredLLM stands in for a missing LLM so the server still starts and
// serves personas; starting a debate surfaces errNoLLM as its last error.
type unconfiguredLLM struct{}

func (unconfiguredLLM) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return nil, errNoLLM
}
