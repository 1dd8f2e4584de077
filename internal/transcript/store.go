// Package transcript holds the ordered log of a debate: persona turns and
// audience interjections, in the order they were finalised.
//
// The [Store] has a single writer (the debate scheduler) and any number of
// readers. Readers that want to react to changes block on [Store.Changed].
package transcript

import (
	"sync"
	"time"
)

// Kind distinguishes transcript entries.
type Kind string

const (
	// KindTurn is a line produced by a persona.
	KindTurn Kind = "turn"

	// KindInterjection is a question submitted by the audience.
	KindInterjection Kind = "interjection"
)

// AudioKind mirrors the outcome of speech synthesis for a turn.
type AudioKind string

const (
	AudioPlayed    AudioKind = "played"
	AudioEstimated AudioKind = "estimated"
	AudioDisabled  AudioKind = "disabled"
)

// Audio summarises the synthesized audio of a turn. The bytes themselves are
// never kept in the transcript.
type Audio struct {
	Kind     AudioKind     `json:"kind"`
	Format   string        `json:"format,omitempty"`
	Bytes    int           `json:"bytes,omitempty"`
	Duration time.Duration `json:"duration_ns,omitempty"`
}

// Entry is one transcript line. Entries are immutable once appended.
type Entry struct {
	// Seq is assigned by [Store.Append], starting at 1 after every Clear.
	Seq int `json:"seq"`

	Kind Kind `json:"kind"`

	// Speaker is the persona ID for turns. Empty for interjections.
	Speaker string `json:"speaker,omitempty"`

	// Name is the display name of the persona or, for interjections, the author.
	Name string `json:"name"`

	Content    string    `json:"content"`
	ProducedAt time.Time `json:"produced_at"`

	// Audio is nil until the turn's speech outcome is known.
	Audio *Audio `json:"audio,omitempty"`
}

// IsTurn reports whether e was produced by a persona.
func (e Entry) IsTurn() bool { return e.Kind == KindTurn }

// Store is an in-memory, append-only transcript. The zero value is ready to use.
type Store struct {
	mu      sync.RWMutex
	entries []Entry
	seq     int
	changed chan struct{}
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Append adds e at the end of the log and returns it with Seq set. A zero
// ProducedAt is replaced by the current time.
func (s *Store) Append(e Entry) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	e.Seq = s.seq
	if e.ProducedAt.IsZero() {
		e.ProducedAt = time.Now()
	}
	s.entries = append(s.entries, e)
	s.notifyLocked()
	return e
}

// All returns a copy of every entry in append order.
func (s *Store) All() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Turns returns only the persona turns, in append order.
func (s *Store) Turns() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.IsTurn() {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear removes every entry and restarts sequence numbering.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = nil
	s.seq = 0
	s.notifyLocked()
}

// Changed returns a channel that is closed on the next mutation. Callers
// fetch a fresh channel after each wake-up.
func (s *Store) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.changed == nil {
		s.changed = make(chan struct{})
	}
	return s.changed
}

func (s *Store) notifyLocked() {
	if s.changed != nil {
		close(s.changed)
		s.changed = nil
	}
}
