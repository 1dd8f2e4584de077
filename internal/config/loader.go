package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/duologue/internal/persona"
	"github.com/MrWong99/duologue/internal/speech"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultStability       = 0.5
	DefaultSimilarityBoost = 0.5
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "gmi", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq"},
	"tts": {"elevenlabs", "coqui"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands environment
// references, applies defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ExpandEnv(cfg)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExpandEnv replaces ${VAR} and $VAR references in provider credentials and
// URLs with values from the environment.
func ExpandEnv(cfg *Config) {
	expand := func(e *ProviderEntry) {
		e.APIKey = os.ExpandEnv(e.APIKey)
		e.BaseURL = os.ExpandEnv(e.BaseURL)
	}
	expand(&cfg.Providers.LLM)
	expand(&cfg.Providers.TTS)
	for i := range cfg.Providers.LLMFallbacks {
		expand(&cfg.Providers.LLMFallbacks[i])
	}
	for i := range cfg.Providers.TTSFallbacks {
		expand(&cfg.Providers.TTSFallbacks[i])
	}
}

// ApplyDefaults fills zero values. Debate and generation defaults are left
// to their packages.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Speech.Mode == "" {
		cfg.Speech.Mode = speech.ModeProvider
	}
	if cfg.Speech.EstimatedDuration <= 0 {
		cfg.Speech.EstimatedDuration = speech.DefaultEstimatedDuration
	}
	if cfg.Speech.Stability == 0 {
		cfg.Speech.Stability = DefaultStability
	}
	if cfg.Speech.SimilarityBoost == 0 {
		cfg.Speech.SimilarityBoost = DefaultSimilarityBoost
	}
	if cfg.Personas.DefaultVoice == "" {
		cfg.Personas.DefaultVoice = persona.DefaultVoice
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for i, e := range cfg.Providers.LLMFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", e.Name)
	}
	for i, e := range cfg.Providers.TTSFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts_fallbacks[%d].name is required", i))
		}
		validateProviderName("tts", e.Name)
	}
	if cfg.Providers.LLM.Name == "" {
		if len(cfg.Providers.LLMFallbacks) > 0 {
			errs = append(errs, errors.New("providers.llm_fallbacks requires providers.llm"))
		}
		slog.Warn("no LLM provider configured; debates cannot generate lines")
	}
	if cfg.Providers.TTS.Name == "" && len(cfg.Providers.TTSFallbacks) > 0 {
		errs = append(errs, errors.New("providers.tts_fallbacks requires providers.tts"))
	}
	entries := append([]ProviderEntry{cfg.Providers.LLM, cfg.Providers.TTS}, cfg.Providers.LLMFallbacks...)
	for _, e := range append(entries, cfg.Providers.TTSFallbacks...) {
		if e.Name != "" && e.Name != "ollama" && strings.TrimSpace(e.APIKey) == "" {
			slog.Warn("provider has no api_key; check the referenced environment variable", "provider", e.Name)
		}
	}

	// Generation
	if t := cfg.Generation.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("generation.temperature %.2f is out of range [0, 2]", t))
	}
	if cfg.Generation.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("generation.max_tokens %d must not be negative", cfg.Generation.MaxTokens))
	}

	// Speech
	if cfg.Speech.Mode != "" && !cfg.Speech.Mode.Valid() {
		errs = append(errs, fmt.Errorf("speech.mode %q is invalid; valid values: provider, local, off", cfg.Speech.Mode))
	}
	if cfg.Speech.Mode == speech.ModeProvider && cfg.Providers.TTS.Name == "" {
		slog.Warn("speech.mode is provider but providers.tts is not configured; falling back to estimated durations")
	}
	for name, v := range map[string]float64{"stability": cfg.Speech.Stability, "similarity_boost": cfg.Speech.SimilarityBoost} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("speech.%s %.2f is out of range [0, 1]", name, v))
		}
	}
	if cfg.Speech.Gap < 0 {
		errs = append(errs, fmt.Errorf("speech.gap %s must not be negative", cfg.Speech.Gap))
	}

	// Debate
	if cfg.Debate.MaxTurns < 0 {
		errs = append(errs, fmt.Errorf("debate.max_turns %d must not be negative", cfg.Debate.MaxTurns))
	}
	if cfg.Debate.InterjectionTurns < 0 {
		errs = append(errs, fmt.Errorf("debate.interjection_turns %d must not be negative", cfg.Debate.InterjectionTurns))
	}
	if p := cfg.Debate.Pacing; p != nil {
		for name, r := range map[string]RangeConfig{"typing": p.Typing, "between": p.Between, "interjection": p.Interjection} {
			if err := validateRange(r); err != nil {
				errs = append(errs, fmt.Errorf("debate.pacing.%s: %w", name, err))
			}
		}
	}

	// Personas
	ids := make(map[string]int, len(cfg.Personas.Custom))
	for i, pc := range cfg.Personas.Custom {
		prefix := fmt.Sprintf("personas.custom[%d]", i)
		if err := pc.Persona().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
		}
		if prev, ok := ids[pc.ID]; ok && pc.ID != "" {
			errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of personas.custom[%d]", prefix, pc.ID, prev))
		}
		ids[pc.ID] = i
	}
	if list := cfg.Personas.List(); len(list) < 2 {
		errs = append(errs, fmt.Errorf("personas: at least two personas are required, have %d", len(list)))
	} else if _, err := persona.NewCatalog(list, cfg.Personas.DefaultVoice); err != nil {
		errs = append(errs, fmt.Errorf("personas: %w", err))
	}

	return errors.Join(errs...)
}

func validateRange(r RangeConfig) error {
	if r.Min < 0 || r.Max < 0 {
		return errors.New("min and max must not be negative")
	}
	if r.Max > 0 && r.Max < r.Min {
		return fmt.Errorf("max %s is below min %s", r.Max, r.Min)
	}
	if r.Max > time.Minute {
		slog.Warn("pacing delay above one minute", "max", r.Max)
	}
	return nil
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
