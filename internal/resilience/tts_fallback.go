package resilience

import (
	"context"

	"github.com/MrWong99/duologue/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with failover across TTS backends.
// Only stream setup is covered; a stream that dies midway yields short or
// empty audio, which the caller treats as a synthesis failure.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional backend.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// States reports the breaker state of every backend.
func (f *TTSFallback) States() map[string]State { return f.group.States() }

// SynthesizeStream starts a stream on the first healthy backend.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (<-chan []byte, error) {
		return p.SynthesizeStream(ctx, text, voice)
	})
}

// ListVoices lists voices from the first healthy backend.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}

// OutputFormat reports the primary backend's audio format, or "" when the
// primary does not declare one. Fallbacks should be configured to match it.
func (f *TTSFallback) OutputFormat() string {
	if p, ok := f.group.Primary().(interface{ OutputFormat() string }); ok {
		return p.OutputFormat()
	}
	return ""
}
