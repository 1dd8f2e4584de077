// Package config provides the configuration schema, loader, provider registry
// and hot-reload watcher for the duologue server.
package config

import (
	"time"

	"github.com/MrWong99/duologue/internal/debate"
	"github.com/MrWong99/duologue/internal/persona"
	"github.com/MrWong99/duologue/internal/speech"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Generation GenerationConfig `yaml:"generation"`
	Speech     SpeechConfig     `yaml:"speech"`
	Debate     DebateConfig     `yaml:"debate"`
	Personas   PersonasConfig   `yaml:"personas"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on. Default ":8080".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Default info.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`

	// AllowedOrigins lists extra origins accepted on the event WebSocket.
	// Same-origin requests are always accepted.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TLSConfig holds TLS certificate paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig selects the LLM and TTS backends. Fallbacks are tried in
// order when the primary fails; each backend is called at most once per line.
type ProvidersConfig struct {
	LLM          ProviderEntry   `yaml:"llm"`
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
	TTS          ProviderEntry   `yaml:"tts"`
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`
}

// ProviderEntry is the configuration block shared by all provider kinds.
// Name is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation (e.g. "openai", "elevenlabs").
	Name string `yaml:"name"`

	// APIKey authenticates against the backend. "${VAR}" references are
	// expanded from the environment at load time.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the backend.
	Model string `yaml:"model"`

	// Options holds backend-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// GenerationConfig tunes the completion requests.
type GenerationConfig struct {
	// Temperature defaults to 0.8.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens caps each line. Default 50.
	MaxTokens int `yaml:"max_tokens"`
}

// SpeechConfig selects how lines are voiced.
type SpeechConfig struct {
	// Mode is provider, local or off. Default provider.
	Mode speech.Mode `yaml:"mode"`

	// EstimatedDuration is waited per line in local mode. Default 1s.
	EstimatedDuration time.Duration `yaml:"estimated_duration"`

	// Stability and SimilarityBoost are passed to the voice. Default 0.5.
	Stability       float64 `yaml:"stability"`
	SimilarityBoost float64 `yaml:"similarity_boost"`

	// Gap separates consecutive clips in the playback queue.
	Gap time.Duration `yaml:"gap"`
}

// DebateConfig parameterises the turn scheduler.
type DebateConfig struct {
	// MaxTurns is the main-loop budget. Default 8.
	MaxTurns int `yaml:"max_turns"`

	// InterjectionTurns is the number of answers per audience question. Default 3.
	InterjectionTurns int `yaml:"interjection_turns"`

	// DefaultAuthor names interjections without an author. Default "Aleksander".
	DefaultAuthor string `yaml:"default_author"`

	// Pacing overrides the cosmetic delays. Nil keeps the stock pacing.
	Pacing *PacingConfig `yaml:"pacing"`
}

// PacingConfig mirrors [debate.Pacing].
type PacingConfig struct {
	Typing       RangeConfig `yaml:"typing"`
	Between      RangeConfig `yaml:"between"`
	Interjection RangeConfig `yaml:"interjection"`
}

// RangeConfig is a jitter interval.
type RangeConfig struct {
	Min time.Duration `yaml:"min"`
	Max time.Duration `yaml:"max"`
}

// PersonasConfig adds to or replaces the built-in personas.
type PersonasConfig struct {
	// DisableBuiltin drops the six stock personas.
	DisableBuiltin bool `yaml:"disable_builtin"`

	// DefaultVoice is used for personas without a voice_id.
	DefaultVoice string `yaml:"default_voice"`

	// Custom personas. An entry whose id matches a built-in replaces it.
	Custom []PersonaConfig `yaml:"custom"`
}

// PersonaConfig is the YAML form of a [persona.Persona].
type PersonaConfig struct {
	ID               string   `yaml:"id"`
	Name             string   `yaml:"name"`
	Aliases          []string `yaml:"aliases"`
	Personality      string   `yaml:"personality"`
	Background       string   `yaml:"background"`
	SpeakingStyle    string   `yaml:"speaking_style"`
	Expertise        []string `yaml:"expertise"`
	Quotes           []string `yaml:"quotes"`
	KnowledgeSources []string `yaml:"knowledge_sources"`
	VoiceID          string   `yaml:"voice_id"`
}

// Persona converts pc.
func (pc PersonaConfig) Persona() persona.Persona {
	return persona.Persona{
		ID:               pc.ID,
		Name:             pc.Name,
		Aliases:          pc.Aliases,
		Personality:      pc.Personality,
		Background:       pc.Background,
		SpeakingStyle:    pc.SpeakingStyle,
		Expertise:        pc.Expertise,
		Quotes:           pc.Quotes,
		KnowledgeSources: pc.KnowledgeSources,
		VoiceID:          pc.VoiceID,
	}
}

// List returns the effective persona list: the built-ins unless disabled,
// with custom entries replacing built-ins of the same id or appended.
func (c PersonasConfig) List() []persona.Persona {
	var out []persona.Persona
	if !c.DisableBuiltin {
		out = persona.Builtin()
	}
	index := make(map[string]int, len(out))
	for i, p := range out {
		index[p.ID] = i
	}
	for _, pc := range c.Custom {
		p := pc.Persona()
		if i, ok := index[p.ID]; ok {
			out[i] = p
			continue
		}
		index[p.ID] = len(out)
		out = append(out, p)
	}
	return out
}

// SchedulerConfig converts the debate section.
func (c DebateConfig) SchedulerConfig(estimated time.Duration) debate.Config {
	cfg := debate.Config{
		MaxTurns:          c.MaxTurns,
		InterjectionTurns: c.InterjectionTurns,
		EstimatedDuration: estimated,
		DefaultAuthor:     c.DefaultAuthor,
		Pacing:            debate.DefaultPacing(),
	}
	if p := c.Pacing; p != nil {
		cfg.Pacing = debate.Pacing{
			Typing:       debate.Range(p.Typing),
			Between:      debate.Range(p.Between),
			Interjection: debate.Range(p.Interjection),
		}
	}
	return cfg
}
