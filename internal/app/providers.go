package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/duologue/internal/config"
	"github.com/MrWong99/duologue/internal/resilience"
	"github.com/MrWong99/duologue/internal/speech"
)

// BuildProviders instantiates the providers named in cfg using reg. When
// fallbacks are configured the primary is wrapped in a fallback group with
// one circuit breaker per backend. A name without a registered factory is
// skipped with a warning, the same as an unconfigured slot.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	ps := &Providers{}
	fbCfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{OnStateChange: logBreaker},
	}

	if entry := cfg.Providers.LLM; entry.Name != "" {
		p, err := reg.CreateLLM(entry)
		switch {
		case errors.Is(err, config.ErrProviderNotRegistered):
			slog.Warn("provider not registered, skipping", "kind", "llm", "name", entry.Name)
		case err != nil:
			return nil, fmt.Errorf("create llm provider %q: %w", entry.Name, err)
		default:
			ps.LLM, ps.LLMName = p, entry.Name
			slog.Info("provider created", "kind", "llm", "name", entry.Name, "model", entry.Model)
		}
	}
	if ps.LLM != nil && len(cfg.Providers.LLMFallbacks) > 0 {
		group := resilience.NewLLMFallback(ps.LLM, ps.LLMName, fbCfg)
		for _, entry := range cfg.Providers.LLMFallbacks {
			p, err := reg.CreateLLM(entry)
			if err != nil {
				return nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
			}
			group.AddFallback(entry.Name, p)
			slog.Info("fallback provider created", "kind", "llm", "name", entry.Name)
		}
		ps.LLM = group
	}

	if entry := cfg.Providers.TTS; entry.Name != "" && cfg.Speech.Mode == speech.ModeProvider {
		p, err := reg.CreateTTS(entry)
		switch {
		case errors.Is(err, config.ErrProviderNotRegistered):
			slog.Warn("provider not registered, skipping", "kind", "tts", "name", entry.Name)
		case err != nil:
			return nil, fmt.Errorf("create tts provider %q: %w", entry.Name, err)
		default:
			ps.TTS, ps.TTSName = p, entry.Name
			slog.Info("provider created", "kind", "tts", "name", entry.Name, "model", entry.Model)
		}
	}
	if ps.TTS != nil && len(cfg.Providers.TTSFallbacks) > 0 {
		group := resilience.NewTTSFallback(ps.TTS, ps.TTSName, fbCfg)
		for _, entry := range cfg.Providers.TTSFallbacks {
			p, err := reg.CreateTTS(entry)
			if err != nil {
				return nil, fmt.Errorf("create tts fallback %q: %w", entry.Name, err)
			}
			group.AddFallback(entry.Name, p)
			slog.Info("fallback provider created", "kind", "tts", "name", entry.Name)
		}
		ps.TTS = group
	}

	return ps, nil
}

func logBreaker(name string, from, to resilience.State) {
	slog.Warn("circuit breaker state changed", "provider", name, "from", from, "to", to)
}
