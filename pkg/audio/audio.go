// Package audio defines the clip, handle and player contracts that connect
// speech synthesis to playback.
//
// A [Player] accepts finished [Clip] values and returns a [Handle] per clip.
// The handle is a completion future: natural end, sink error and interruption
// all close [Handle.Done]. Callers that care about the cause inspect
// [Handle.Err] afterwards; the debate scheduler does not.
//
// Concrete players live in audio/playback. Sinks (where the bytes go) are
// supplied by the caller, e.g. a WebSocket broadcaster or a directory writer.
package audio

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrInterrupted is reported by [Handle.Err] when playback was stopped
// before the clip finished.
var ErrInterrupted = errors.New("audio: playback interrupted")

// Clip is one synthesized utterance, fully buffered.
type Clip struct {
	// Speaker is the persona ID the clip belongs to.
	Speaker string

	// Format is the provider output format, e.g. "mp3_44100_128" or "pcm_16000".
	Format string

	// Data is the encoded audio.
	Data []byte

	// Duration is the playback length. It is estimated from Format when the
	// provider does not report it.
	Duration time.Duration
}

// Handle tracks the playback of a single clip.
type Handle interface {
	// Done is closed once playback has ended for any reason.
	Done() <-chan struct{}

	// Err returns nil after a natural end, [ErrInterrupted] after Stop, or the
	// sink error. It is only meaningful after Done is closed.
	Err() error
}

// Player plays clips one at a time.
//
// Implementations must be safe for concurrent use.
type Player interface {
	// Play schedules clip and returns its handle. It never blocks on playback.
	Play(ctx context.Context, clip Clip) Handle

	// Stop interrupts the current clip and drops everything queued. Every
	// affected handle resolves with [ErrInterrupted]. Stop on an idle player
	// is a no-op.
	Stop()
}

// Sink receives clip bytes for delivery to a listener.
type Sink interface {
	// Write delivers clip. It is called from the player's dispatch goroutine
	// and should return promptly; the player itself paces by Duration.
	Write(ctx context.Context, clip Clip) error
}

// Interrupter is implemented by sinks that can cut off audio already handed
// to a listener (e.g. tell a browser to pause).
type Interrupter interface {
	Interrupt(speaker string)
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(ctx context.Context, clip Clip) error

// Write calls f.
func (f SinkFunc) Write(ctx context.Context, clip Clip) error { return f(ctx, clip) }

// ResolvedHandle returns a handle that is already done with err.
func ResolvedHandle(err error) Handle {
	h := NewHandle()
	h.Resolve(err)
	return h
}

// ResolvableHandle is a [Handle] that the producer resolves exactly once.
type ResolvableHandle struct {
	once sync.Once
	done chan struct{}
	err  error
}

// NewHandle returns an unresolved handle.
func NewHandle() *ResolvableHandle {
	return &ResolvableHandle{done: make(chan struct{})}
}

// Done implements [Handle].
func (h *ResolvableHandle) Done() <-chan struct{} { return h.done }

// Err implements [Handle].
func (h *ResolvableHandle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Resolve marks the handle done with err. Only the first call has an effect.
// It reports whether this call resolved the handle.
func (h *ResolvableHandle) Resolve(err error) bool {
	resolved := false
	h.once.Do(func() {
		h.err = err
		close(h.done)
		resolved = true
	})
	return resolved
}
