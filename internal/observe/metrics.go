// Package observe provides observability primitives for duologue:
// OpenTelemetry metrics, tracing, trace-aware logging and HTTP middleware.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported for
// Prometheus via [InitProvider] and [Handler]. A package-level [Metrics]
// instance ([DefaultMetrics]) is available for convenience; tests should use
// [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all duologue metrics.
const meterName = "github.com/MrWong99/duologue"

// Metrics holds every metric instrument of the service. All fields are safe
// for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// LLMDuration tracks chat-completion latency per turn.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks speech synthesis latency, from request to last chunk.
	TTSDuration metric.Float64Histogram

	// PlaybackWait tracks how long the scheduler waited for audio per turn.
	PlaybackWait metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Attributes: provider, kind, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// Turns counts appended persona turns. Attributes: speaker, trigger
	// ("main" or "interjection").
	Turns metric.Int64Counter

	// Interjections counts accepted audience interjections.
	Interjections metric.Int64Counter

	// SpeechOutcomes counts synthesis results. Attribute: outcome.
	SpeechOutcomes metric.Int64Counter

	// Sessions counts finished sessions. Attribute: result
	// ("completed", "failed" or "reset").
	Sessions metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions is 1 while a debate is running.
	ActiveSessions metric.Int64UpDownCounter

	// EventSubscribers tracks connected event-stream clients.
	EventSubscribers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks request processing time. Attributes: method, route, status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, sized for provider
// round-trips and spoken sentences.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	if met.LLMDuration, err = histogram("duologue.llm.duration", "Latency of chat-completion calls."); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = histogram("duologue.tts.duration", "Latency of speech synthesis."); err != nil {
		return nil, err
	}
	if met.PlaybackWait, err = histogram("duologue.playback.wait", "Time the scheduler waited for audio completion."); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("duologue.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("duologue.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("duologue.turns",
		metric.WithDescription("Total persona turns appended to the transcript."),
	); err != nil {
		return nil, err
	}
	if met.Interjections, err = m.Int64Counter("duologue.interjections",
		metric.WithDescription("Total audience interjections accepted."),
	); err != nil {
		return nil, err
	}
	if met.SpeechOutcomes, err = m.Int64Counter("duologue.speech.outcomes",
		metric.WithDescription("Speech synthesis results by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Sessions, err = m.Int64Counter("duologue.sessions",
		metric.WithDescription("Finished debate sessions by result."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("duologue.active_sessions",
		metric.WithDescription("Number of running debate sessions."),
	); err != nil {
		return nil, err
	}
	if met.EventSubscribers, err = m.Int64UpDownCounter("duologue.event_subscribers",
		metric.WithDescription("Number of connected event-stream clients."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("duologue.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, created on
// first use from [otel.GetMeterProvider].
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest counts one provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError counts one provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordTurn counts one appended turn.
func (m *Metrics) RecordTurn(ctx context.Context, speaker, trigger string) {
	m.Turns.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("speaker", speaker),
			attribute.String("trigger", trigger),
		),
	)
}

// RecordSpeechOutcome counts one synthesis result.
func (m *Metrics) RecordSpeechOutcome(ctx context.Context, outcome string) {
	m.SpeechOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordSessionEnd counts a finished session.
func (m *Metrics) RecordSessionEnd(ctx context.Context, result string) {
	m.Sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
