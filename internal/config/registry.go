package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/duologue/pkg/provider/llm"
	"github.com/MrWong99/duologue/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// exists for the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Kind names a provider slot.
type Kind string

const (
	KindLLM Kind = "llm"
	KindTTS Kind = "tts"
)

// Factory builds a provider from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

// factories is one kind's name → factory table.
type factories[T any] map[string]Factory[T]

// create looks the factory up under r's lock and calls it outside, so a
// factory may use the registry itself.
func create[T any](r *Registry, table factories[T], kind Kind, entry ProviderEntry) (T, error) {
	r.mu.RLock()
	factory, ok := table[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return factory(entry)
}

// Registry maps provider names to factories, per kind. The binary fills it
// with the built-in backends; tests register doubles. It is safe for
// concurrent use.
type Registry struct {
	mu  sync.RWMutex
	llm factories[llm.Provider]
	tts factories[tts.Provider]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		llm: factories[llm.Provider]{},
		tts: factories[tts.Provider]{},
	}
}

// RegisterLLM registers an LLM factory, replacing any previous one of the
// same name.
func (r *Registry) RegisterLLM(name string, factory Factory[llm.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterTTS registers a TTS factory, replacing any previous one of the
// same name.
func (r *Registry) RegisterTTS(name string, factory Factory[tts.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// CreateLLM builds the LLM named by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return create(r, r.llm, KindLLM, entry)
}

// CreateTTS builds the TTS backend named by entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return create(r, r.tts, KindTTS, entry)
}

// Names returns the sorted names registered for kind.
func (r *Registry) Names(kind Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case KindLLM:
		return slices.Sorted(maps.Keys(r.llm))
	case KindTTS:
		return slices.Sorted(maps.Keys(r.tts))
	default:
		return nil
	}
}
