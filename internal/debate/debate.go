// Package debate runs a spoken, turn-taking conversation between two personas.
//
// The [Scheduler] owns the whole lifecycle of a session: it decides who
// speaks next, generates the next line while the current one is still
// playing, waits for audio completion before advancing, and splices in
// audience interjections. Every finished line is appended to a
// [transcript.Store], which is the only state the presentation layer reads.
//
// A session runs in its own goroutine. [Scheduler.Start] and
// [Scheduler.SubmitInterjection] return a [Run] future instead of blocking.
package debate

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/duologue/internal/persona"
	"github.com/MrWong99/duologue/internal/speech"
	"github.com/MrWong99/duologue/internal/transcript"
)

var (
	// ErrInvalidSessionConfig is returned for a missing speaker or topic,
	// identical speakers, or an empty interjection.
	ErrInvalidSessionConfig = errors.New("debate: invalid session config")

	// ErrUnknownSpeaker is returned when a speaker is not in the catalog.
	// It is the same value as [persona.ErrUnknownSpeaker].
	ErrUnknownSpeaker = persona.ErrUnknownSpeaker

	// ErrSessionRunning is returned by Start while another session runs.
	ErrSessionRunning = errors.New("debate: session already running")

	// ErrNoActiveSession is returned by SubmitInterjection outside a
	// running session.
	ErrNoActiveSession = errors.New("debate: no active session")

	// ErrGenerationFailed wraps the provider error that aborted a run.
	ErrGenerationFailed = errors.New("debate: generation failed")

	// ErrSessionReset resolves every outstanding [Run] on Reset.
	ErrSessionReset = errors.New("debate: session reset")
)

// State is the lifecycle state of the scheduler.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateEnded   State = "ended"
)

// Session identifies one debate.
type Session struct {
	// ID is generated by Start when empty.
	ID string `json:"id"`

	// SpeakerA opens the debate. Start replaces both speakers with their
	// canonical persona IDs.
	SpeakerA string `json:"speaker_a"`
	SpeakerB string `json:"speaker_b"`

	Topic     string    `json:"topic"`
	StartedAt time.Time `json:"started_at"`
}

// Interjection is an audience question.
type Interjection struct {
	// Author defaults to [Config.DefaultAuthor] when empty.
	Author      string    `json:"author"`
	Content     string    `json:"content"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Request is what a [Generator] receives for one line.
type Request struct {
	Speaker     persona.Persona
	Counterpart persona.Persona
	Topic       string

	// History is the full transcript, in order, when the call was issued.
	History []transcript.Entry

	// Interjection is set for the turns answering an audience question.
	Interjection *Interjection
}

// Generator produces one line of dialogue.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Synthesizer voices one line. It must not fail; problems degrade to
// [speech.Disabled].
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, p persona.Persona) speech.Outcome
}

// Snapshot is a consistent view of the scheduler for rendering.
type Snapshot struct {
	State      State              `json:"state"`
	Session    *Session           `json:"session,omitempty"`
	Transcript []transcript.Entry `json:"transcript"`

	// Typing is the persona whose line is being generated.
	Typing string `json:"typing,omitempty"`

	// Playing is the persona whose audio is playing.
	Playing string `json:"playing,omitempty"`

	// Speaking is the indicator to show: Typing, else Playing.
	Speaking string `json:"speaking,omitempty"`

	// Turns counts main-loop turns; MaxTurns is the main budget.
	Turns    int `json:"turns"`
	MaxTurns int `json:"max_turns"`

	// PendingInterjections is the number of questions not yet answered.
	PendingInterjections int `json:"pending_interjections"`

	LastError string `json:"last_error,omitempty"`
}
