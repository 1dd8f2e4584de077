// Package llm defines the Provider interface for chat-completion backends.
//
// A provider wraps a remote model API (an OpenAI-compatible gateway, Anthropic,
// Gemini, a local Ollama instance, ...) and exposes the single blocking
// completion call the debate needs: one short reply per turn. Streaming is not
// part of the contract because a turn is only appended once the full sentence
// is known.
//
// Implementations must be safe for concurrent use; the scheduler prefetches the
// next speaker's line while the current one is still being synthesised.
package llm

import "context"

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single entry in the conversation sent to the model.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the plain-text body of the message.
	Content string

	// Name optionally attributes the message to a participant. Providers that
	// do not support per-message names ignore it.
	Name string
}

// CompletionRequest carries everything the model needs to produce a reply.
type CompletionRequest struct {
	// SystemPrompt is an optional high-priority instruction sent before Messages.
	SystemPrompt string

	// Messages is the ordered conversation. Must not be empty.
	Messages []Message

	// Temperature controls randomness in [0.0, 2.0]. Zero leaves the provider
	// default in place.
	Temperature float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int
}

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionResponse is the model's reply to a [CompletionRequest].
type CompletionResponse struct {
	// Content is the raw text of the first choice.
	Content string

	// FinishReason is the provider-reported stop reason ("stop", "length", ...).
	FinishReason string

	// Usage reports token consumption when the provider returns it.
	Usage Usage
}

// Provider is the abstraction over any chat-completion backend.
type Provider interface {
	// Complete sends req and blocks until the full reply is available or ctx
	// is cancelled. Network, authentication and decoding failures are returned
	// as errors; implementations never retry on their own.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
