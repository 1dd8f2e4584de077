// Package speech turns a line of dialogue into an [Outcome] the debate
// scheduler can wait on.
//
// [Service.Synthesize] never fails. Backend errors and empty audio degrade to
// [Disabled] and are logged; a missing backend degrades to [Estimated] so the
// listener's local speech synthesis gets time to finish.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/duologue/internal/observe"
	"github.com/MrWong99/duologue/internal/persona"
	"github.com/MrWong99/duologue/pkg/audio"
	"github.com/MrWong99/duologue/pkg/provider/tts"
)

// ErrNoBackend is returned by [Service.Voices] when no TTS provider is set.
var ErrNoBackend = errors.New("speech: no tts backend configured")

// Mode selects how lines are voiced.
type Mode string

const (
	// ModeProvider synthesizes through the configured [tts.Provider].
	ModeProvider Mode = "provider"

	// ModeLocal leaves voicing to the listener and estimates its duration.
	ModeLocal Mode = "local"

	// ModeOff disables audio entirely.
	ModeOff Mode = "off"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeProvider, ModeLocal, ModeOff:
		return true
	}
	return false
}

const (
	DefaultEstimatedDuration = time.Second
	DefaultOutputFormat      = "mp3_44100_128"
)

// Config holds the synthesis settings.
type Config struct {
	// Mode defaults to ModeProvider.
	Mode Mode

	// EstimatedDuration is the wait used for local synthesis and for clips
	// whose length cannot be derived from their format. Default 1s.
	EstimatedDuration time.Duration

	// OutputFormat labels produced clips. When empty, the provider's own
	// OutputFormat() is used if it has one, else "mp3_44100_128".
	OutputFormat string

	// Stability and SimilarityBoost are passed to the voice. Zero keeps the
	// provider default.
	Stability       float64
	SimilarityBoost float64
}

// Option configures a [Service].
type Option func(*Service)

// WithMetrics overrides the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithProviderName sets the name recorded in metrics. Default "tts".
func WithProviderName(name string) Option {
	return func(s *Service) { s.providerName = name }
}

// Service synthesizes debate lines. It is safe for concurrent use.
type Service struct {
	backend      tts.Provider
	cfg          Config
	format       string
	metrics      *observe.Metrics
	providerName string
}

// New creates a service. backend may be nil.
func New(backend tts.Provider, cfg Config, opts ...Option) *Service {
	if cfg.Mode == "" {
		cfg.Mode = ModeProvider
	}
	if cfg.EstimatedDuration <= 0 {
		cfg.EstimatedDuration = DefaultEstimatedDuration
	}
	s := &Service{
		backend:      backend,
		cfg:          cfg,
		providerName: "tts",
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	s.format = cfg.OutputFormat
	if s.format == "" {
		if f, ok := backend.(interface{ OutputFormat() string }); ok {
			s.format = f.OutputFormat()
		}
	}
	if s.format == "" {
		s.format = DefaultOutputFormat
	}
	return s
}

// Mode returns the effective mode: ModeProvider without a backend reports
// ModeLocal.
func (s *Service) Mode() Mode {
	if s.cfg.Mode == ModeProvider && s.backend == nil {
		return ModeLocal
	}
	return s.cfg.Mode
}

// Synthesize voices text as p. It never returns an error.
func (s *Service) Synthesize(ctx context.Context, text string, p persona.Persona) Outcome {
	var out Outcome
	switch {
	case s.Mode() == ModeOff, text == "":
		out = Disabled()
	case s.Mode() == ModeLocal:
		out = Estimated(s.cfg.EstimatedDuration)
	default:
		out = s.synthesize(ctx, text, p)
	}
	s.metrics.RecordSpeechOutcome(ctx, out.Kind.String())
	return out
}

func (s *Service) synthesize(ctx context.Context, text string, p persona.Persona) Outcome {
	ctx, span := observe.StartSpan(ctx, "speech.synthesize",
		trace.WithAttributes(
			attribute.String("speaker", p.ID),
			attribute.String("voice", p.VoiceID),
		),
	)
	defer span.End()

	start := time.Now()
	data, err := s.collect(ctx, text, p)
	s.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())

	log := observe.Logger(ctx).With("speaker", p.ID, "voice", p.VoiceID)
	switch {
	case ctx.Err() != nil:
		// Reset or shutdown; not a backend fault.
		log.Debug("speech synthesis cancelled")
		return Disabled()
	case err != nil:
		s.metrics.RecordProviderRequest(ctx, s.providerName, "tts", "error")
		s.metrics.RecordProviderError(ctx, s.providerName, "tts")
		observe.Fail(span, err, "")
		log.Warn("speech synthesis failed, continuing without audio", "err", err)
		return Disabled()
	case len(data) == 0:
		s.metrics.RecordProviderRequest(ctx, s.providerName, "tts", "empty")
		log.Warn("speech synthesis returned no audio, continuing without audio")
		return Disabled()
	}
	s.metrics.RecordProviderRequest(ctx, s.providerName, "tts", "ok")

	d := audio.EstimateDuration(s.format, len(data))
	if d <= 0 {
		d = s.cfg.EstimatedDuration
	}
	span.SetAttributes(attribute.Int("bytes", len(data)), attribute.Int64("duration_ms", d.Milliseconds()))

	return Played(audio.Clip{
		Speaker:  p.ID,
		Format:   s.format,
		Data:     data,
		Duration: d,
	})
}

// collect runs one stream and concatenates its chunks.
func (s *Service) collect(ctx context.Context, text string, p persona.Persona) ([]byte, error) {
	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)

	voice := tts.VoiceProfile{
		ID:              p.VoiceID,
		Name:            p.Name,
		Stability:       s.cfg.Stability,
		SimilarityBoost: s.cfg.SimilarityBoost,
	}
	chunks, err := s.backend.SynthesizeStream(ctx, textCh, voice)
	if err != nil {
		return nil, fmt.Errorf("speech: start stream: %w", err)
	}

	var data []byte
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return data, nil
			}
			data = append(data, chunk...)
		case <-ctx.Done():
			// The provider closes chunks once it sees ctx.
			go func() {
				for range chunks {
				}
			}()
			return nil, ctx.Err()
		}
	}
}

// Voices lists the backend's voices.
func (s *Service) Voices(ctx context.Context) ([]tts.VoiceProfile, error) {
	if s.backend == nil {
		return nil, ErrNoBackend
	}
	voices, err := s.backend.ListVoices(ctx)
	if err != nil {
		return nil, fmt.Errorf("speech: list voices: %w", err)
	}
	return voices, nil
}

// LogValue implements [slog.LogValuer].
func (s *Service) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("mode", string(s.Mode())),
		slog.String("format", s.format),
	)
}
