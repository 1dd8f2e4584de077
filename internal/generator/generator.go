// Package generator produces debate lines through an [llm.Provider].
//
// Each call renders the persona prompt for the speaker, sends a single
// completion request and strips markdown from the reply so it can be read
// aloud. The generator never retries; failover across backends is the job
// of resilience.LLMFallback.
package generator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/duologue/internal/debate"
	"github.com/MrWong99/duologue/internal/observe"
	"github.com/MrWong99/duologue/internal/prompt"
	"github.com/MrWong99/duologue/pkg/provider/llm"
)

// ErrProvider matches every [*ProviderError] via errors.Is.
var ErrProvider = errors.New("generator: provider failure")

// ProviderError wraps a failed completion call.
type ProviderError struct {
	// Provider is the configured backend name.
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("generator: provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is reports whether target is [ErrProvider].
func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

const (
	DefaultTemperature = 0.8
	DefaultMaxTokens   = 50
)

// Config holds the sampling settings sent with each request.
type Config struct {
	// Temperature defaults to 0.8.
	Temperature float64

	// MaxTokens caps each line. Default 50.
	MaxTokens int

	// ProviderName labels metrics and errors. Default "llm".
	ProviderName string
}

// Option configures a [Generator].
type Option func(*Generator)

// WithMetrics overrides the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Generator) { g.metrics = m }
}

// Generator implements [debate.Generator]. It is safe for concurrent use.
type Generator struct {
	provider llm.Provider
	cfg      Config
	metrics  *observe.Metrics
}

var _ debate.Generator = (*Generator)(nil)

// New creates a generator backed by provider.
func New(provider llm.Provider, cfg Config, opts ...Option) *Generator {
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "llm"
	}
	g := &Generator{provider: provider, cfg: cfg}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	return g
}

// Generate returns req.Speaker's next line.
func (g *Generator) Generate(ctx context.Context, req debate.Request) (string, error) {
	ctx, span := observe.StartSpan(ctx, "generator.generate",
		trace.WithAttributes(
			attribute.String("speaker", req.Speaker.ID),
			attribute.String("provider", g.cfg.ProviderName),
			attribute.Int("history", len(req.History)),
			attribute.Bool("interjection", req.Interjection != nil),
		),
	)
	defer span.End()

	var user string
	if ij := req.Interjection; ij != nil {
		user = prompt.Interjection(req.Speaker, req.Counterpart, req.Topic, ij.Author, ij.Content, req.History)
	} else {
		user = prompt.Speaker(req.Speaker, req.Counterpart, req.Topic, req.History)
	}

	start := time.Now()
	resp, err := g.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: prompt.System(),
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: user}},
		Temperature:  g.cfg.Temperature,
		MaxTokens:    g.cfg.MaxTokens,
	})
	g.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("provider", g.cfg.ProviderName)))

	if err == nil && resp == nil {
		err = errors.New("empty response")
	}
	if err != nil {
		if ctx.Err() == nil {
			g.metrics.RecordProviderRequest(ctx, g.cfg.ProviderName, "llm", "error")
			g.metrics.RecordProviderError(ctx, g.cfg.ProviderName, "llm")
		}
		observe.Fail(span, err, "")
		return "", &ProviderError{Provider: g.cfg.ProviderName, Err: err}
	}
	g.metrics.RecordProviderRequest(ctx, g.cfg.ProviderName, "llm", "ok")

	text := prompt.CleanMarkdown(resp.Content)
	if text == "" {
		observe.Logger(ctx).Warn("empty completion, using fallback line",
			"speaker", req.Speaker.ID,
			"finish_reason", resp.FinishReason,
		)
		text = prompt.FallbackContent
	}
	span.SetAttributes(attribute.Int("completion_tokens", resp.Usage.CompletionTokens))
	return text, nil
}

// Ping sends a one-token completion to check connectivity.
func (g *Generator) Ping(ctx context.Context) error {
	_, err := g.provider.Complete(ctx, llm.CompletionRequest{
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: "ping"}},
		MaxTokens: 1,
	})
	if err != nil {
		return &ProviderError{Provider: g.cfg.ProviderName, Err: err}
	}
	return nil
}
