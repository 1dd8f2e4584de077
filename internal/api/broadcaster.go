package api

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MrWong99/duologue/pkg/audio"
)

// subscriberBuffer is the number of frames a listener may lag behind.
const subscriberBuffer = 16

var (
	_ audio.Sink        = (*Broadcaster)(nil)
	_ audio.Interrupter = (*Broadcaster)(nil)
)

// Frame is one outbound audio event. Clip is nil for interruptions.
type Frame struct {
	Clip        *audio.Clip
	Interrupted string
}

// Broadcaster fans clips out to every connected event stream. It is the
// [audio.Sink] of the server's playback queue. A listener that falls
// behind loses frames rather than stalling playback.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan Frame]struct{}
}

// NewBroadcaster returns a broadcaster without listeners.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Frame]struct{})}
}

// Subscribe registers a listener. The returned cancel func must be called
// once the listener is gone; it closes the channel.
func (b *Broadcaster) Subscribe() (<-chan Frame, func()) {
	ch := make(chan Frame, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Listeners returns the number of subscribed listeners.
func (b *Broadcaster) Listeners() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Write implements [audio.Sink].
func (b *Broadcaster) Write(_ context.Context, clip audio.Clip) error {
	b.publish(Frame{Clip: &clip})
	return nil
}

// Interrupt implements [audio.Interrupter].
func (b *Broadcaster) Interrupt(speaker string) {
	b.publish(Frame{Interrupted: speaker})
}

func (b *Broadcaster) publish(f Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- f:
		default:
			slog.Warn("api: dropping audio frame for slow listener")
		}
	}
}
