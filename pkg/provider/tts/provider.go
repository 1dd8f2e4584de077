// Package tts defines the Provider interface for text-to-speech backends.
//
// A provider consumes text fragments from a channel and emits encoded audio
// chunks as they are produced. The debate feeds a single sentence per turn and
// collects the chunks into one playable clip, but the streaming shape keeps the
// door open for sentence-level pipelining and matches the ElevenLabs
// stream-input API.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// VoiceProfile describes a TTS voice and the settings used to drive it.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS backend the voice belongs to.
	Provider string

	// Stability and SimilarityBoost map to the ElevenLabs voice settings.
	// Zero values leave the provider default in place.
	Stability       float64
	SimilarityBoost float64

	// Metadata holds provider-specific attributes (accent, gender, category, ...).
	Metadata map[string]string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes text fragments until text is closed and returns
	// a channel of encoded audio chunks. The audio channel is closed when
	// synthesis completes, fails mid-stream, or ctx is cancelled; callers that
	// need to tell these apart check ctx.Err() and the amount of audio received.
	//
	// A non-nil error is returned only when the stream cannot be started.
	SynthesizeStream(ctx context.Context, text <-chan string, voice VoiceProfile) (<-chan []byte, error)

	// ListVoices returns the voices available to the configured account.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
