// Package persona holds the catalog of debate participants.
//
// A [Persona] is pure data: descriptive strings that the prompt builder passes
// through to the language model, plus the TTS voice to speak with. The
// scheduler only relies on the catalog to reject identities it does not know.
package persona

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// ErrUnknownSpeaker is returned when a persona identity is not registered.
var ErrUnknownSpeaker = errors.New("persona: unknown speaker")

// Persona is a preconfigured debate participant.
type Persona struct {
	// ID is the stable, lowercase identifier (e.g. "albert-einstein").
	ID string `json:"id"`

	// Name is the display name used in prompts and the transcript.
	Name string `json:"name"`

	// Aliases are extra lookup keys such as a surname ("einstein").
	Aliases []string `json:"aliases,omitempty"`

	Personality   string   `json:"personality"`
	Background    string   `json:"background"`
	SpeakingStyle string   `json:"speaking_style"`
	Expertise     []string `json:"expertise"`
	Quotes        []string `json:"quotes,omitempty"`

	// KnowledgeSources lists where the persona's public statements come from.
	KnowledgeSources []string `json:"knowledge_sources,omitempty"`

	// VoiceID is the TTS voice. Empty selects the catalog default voice.
	VoiceID string `json:"voice_id,omitempty"`
}

// Validate reports missing mandatory fields.
func (p Persona) Validate() error {
	var errs []error
	if p.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if p.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if p.Personality == "" {
		errs = append(errs, errors.New("personality is required"))
	}
	return errors.Join(errs...)
}

// Catalog maps persona identities to personas. It is safe for concurrent use
// and can be swapped wholesale on config reload.
type Catalog struct {
	mu           sync.RWMutex
	byID         map[string]Persona
	keys         map[string]string // normalised lookup key -> ID
	defaultVoice string
}

// NewCatalog builds a catalog from personas. IDs must be unique; aliases that
// collide with another persona's key are rejected.
func NewCatalog(personas []Persona, defaultVoice string) (*Catalog, error) {
	c := &Catalog{defaultVoice: defaultVoice}
	if err := c.Replace(personas); err != nil {
		return nil, err
	}
	return c, nil
}

// Replace swaps the catalog content. On error the previous content is kept.
func (c *Catalog) Replace(personas []Persona) error {
	byID := make(map[string]Persona, len(personas))
	keys := make(map[string]string, len(personas)*3)

	for i, p := range personas {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("persona: entry %d: %w", i, err)
		}
		id := normalise(p.ID)
		if _, dup := byID[id]; dup {
			return fmt.Errorf("persona: duplicate id %q", p.ID)
		}
		p.ID = id
		byID[id] = p

		for _, k := range append([]string{p.ID, p.Name}, p.Aliases...) {
			nk := normalise(k)
			if nk == "" {
				continue
			}
			if owner, taken := keys[nk]; taken && owner != id {
				return fmt.Errorf("persona: key %q of %q already used by %q", k, p.ID, owner)
			}
			keys[nk] = id
		}
	}

	c.mu.Lock()
	c.byID = byID
	c.keys = keys
	c.mu.Unlock()
	return nil
}

// Lookup resolves an ID, display name or alias (case-insensitive) to a
// persona. The returned persona always carries a voice.
func (c *Catalog) Lookup(identity string) (Persona, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.keys[normalise(identity)]
	if !ok {
		return Persona{}, fmt.Errorf("%w: %q", ErrUnknownSpeaker, identity)
	}
	p := c.byID[id]
	if p.VoiceID == "" {
		p.VoiceID = c.defaultVoice
	}
	return p, nil
}

// Has reports whether identity resolves to a persona.
func (c *Catalog) Has(identity string) bool {
	_, err := c.Lookup(identity)
	return err == nil
}

// List returns every persona sorted by ID.
func (c *Catalog) List() []Persona {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Persona, 0, len(c.byID))
	for _, p := range c.byID {
		if p.VoiceID == "" {
			p.VoiceID = c.defaultVoice
		}
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Persona) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Len returns the number of personas.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}

func normalise(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
