// Package mock provides a call-recording [audio.Player] for unit tests.
//
// By default every clip "plays" for its own Duration. Set Hold to keep
// handles open until Stop or Release is called.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/duologue/pkg/audio"
)

var _ audio.Player = (*Player)(nil)

// Player is a mock implementation of [audio.Player].
type Player struct {
	mu sync.Mutex

	// Hold keeps every handle unresolved until Stop or Release.
	Hold bool

	// PlayErr, when set, resolves every handle immediately with this error.
	PlayErr error

	// Plays records every clip passed to Play, in order.
	Plays []audio.Clip

	// StopCalls counts calls to Stop.
	StopCalls int

	pending []*audio.ResolvableHandle
}

// Play implements [audio.Player].
func (p *Player) Play(ctx context.Context, clip audio.Clip) audio.Handle {
	h := audio.NewHandle()

	p.mu.Lock()
	p.Plays = append(p.Plays, clip)
	hold, playErr := p.Hold, p.PlayErr
	if hold && playErr == nil {
		p.pending = append(p.pending, h)
	}
	p.mu.Unlock()

	switch {
	case playErr != nil:
		h.Resolve(playErr)
	case hold:
	case clip.Duration <= 0:
		h.Resolve(nil)
	default:
		go func() {
			t := time.NewTimer(clip.Duration)
			defer t.Stop()
			select {
			case <-t.C:
				h.Resolve(nil)
			case <-ctx.Done():
				h.Resolve(ctx.Err())
			}
		}()
	}
	return h
}

// Stop implements [audio.Player]. Every held handle resolves with
// [audio.ErrInterrupted].
func (p *Player) Stop() {
	p.mu.Lock()
	p.StopCalls++
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, h := range pending {
		h.Resolve(audio.ErrInterrupted)
	}
}

// SetHold toggles Hold safely while the player is in use.
func (p *Player) SetHold(hold bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Hold = hold
}

// Release resolves every held handle as a natural end.
func (p *Player) Release() {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, h := range pending {
		h.Resolve(nil)
	}
}

// PlayCount returns the number of Play calls.
func (p *Player) PlayCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Plays)
}

// Stops returns the number of Stop calls.
func (p *Player) Stops() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.StopCalls
}

// Clips returns a copy of the recorded clips.
func (p *Player) Clips() []audio.Clip {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]audio.Clip, len(p.Plays))
	copy(out, p.Plays)
	return out
}
