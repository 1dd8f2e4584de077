// Package playback provides a sequential [audio.Player] and a few sinks.
package playback

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/MrWong99/duologue/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Player = (*Queue)(nil)

// ErrClosed is reported by handles of clips submitted after [Queue.Close].
var ErrClosed = errors.New("playback: queue closed")

const defaultQueueCap = 8

// Option configures a [Queue] during construction.
type Option func(*Queue)

// WithGap sets the base silence inserted between consecutive clips. Jitter of
// ±1/6 of the gap is applied. Zero plays clips back-to-back.
func WithGap(d time.Duration) Option {
	return func(q *Queue) {
		q.gap = d
	}
}

// Queue plays clips one at a time, in submission order, through a [audio.Sink].
//
// A clip is handed to the sink in one piece and then held "playing" for its
// Duration, since sinks deliver to listeners that play asynchronously. The
// clip's handle resolves when the duration elapses, when [Queue.Stop] is
// called, when the clip's context is cancelled, or when the sink errors.
//
// All exported methods are safe for concurrent use.
type Queue struct {
	sink audio.Sink

	mu            sync.Mutex
	queue         []item
	gap           time.Duration
	playing       *item
	cancelPlaying chan struct{} // closed to interrupt the current clip

	notify chan struct{}
	done   chan struct{}
	closed bool
}

type item struct {
	ctx    context.Context
	clip   audio.Clip
	handle *audio.ResolvableHandle
}

// NewQueue creates a [Queue] writing to sink and starts its dispatch
// goroutine. Call [Queue.Close] to stop it.
func NewQueue(sink audio.Sink, opts ...Option) *Queue {
	q := &Queue{
		sink:   sink,
		queue:  make([]item, 0, defaultQueueCap),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	go q.dispatch()
	return q
}

// Play implements [audio.Player].
func (q *Queue) Play(ctx context.Context, clip audio.Clip) audio.Handle {
	h := audio.NewHandle()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		h.Resolve(ErrClosed)
		return h
	}
	q.queue = append(q.queue, item{ctx: ctx, clip: clip, handle: h})
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return h
}

// Stop implements [audio.Player]. The current clip and every queued clip
// resolve with [audio.ErrInterrupted].
func (q *Queue) Stop() {
	q.mu.Lock()
	speaker, wasPlaying := q.interruptLocked()
	q.mu.Unlock()

	if wasPlaying {
		if in, ok := q.sink.(audio.Interrupter); ok {
			in.Interrupt(speaker)
		}
	}
}

// Playing returns the speaker of the clip currently playing, or "".
func (q *Queue) Playing() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.playing == nil {
		return ""
	}
	return q.playing.clip.Speaker
}

// SetGap changes the inter-clip gap. It takes effect before the next clip.
func (q *Queue) SetGap(d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.gap = d
}

// Close interrupts playback, resolves everything queued and stops the
// dispatch goroutine. Close is idempotent.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.interruptLocked()
	q.mu.Unlock()

	close(q.done)
	return nil
}

// interruptLocked cancels the current clip and resolves every queued clip.
// Must be called with q.mu held.
func (q *Queue) interruptLocked() (speaker string, wasPlaying bool) {
	if q.cancelPlaying != nil {
		close(q.cancelPlaying)
		q.cancelPlaying = nil
	}
	if q.playing != nil {
		speaker, wasPlaying = q.playing.clip.Speaker, true
	}
	for _, it := range q.queue {
		it.handle.Resolve(audio.ErrInterrupted)
	}
	q.queue = q.queue[:0]
	return speaker, wasPlaying
}

func (q *Queue) dispatch() {
	var lastPlayed bool

	gapTimer := time.NewTimer(0)
	if !gapTimer.Stop() {
		<-gapTimer.C
	}
	defer gapTimer.Stop()

	for {
		select {
		case <-q.done:
			return
		case <-q.notify:
		}

		for {
			it, cancel, ok := q.dequeue()
			if !ok {
				break
			}

			if lastPlayed {
				if d := q.gapWithJitter(); d > 0 {
					gapTimer.Reset(d)
					select {
					case <-q.done:
						if !gapTimer.Stop() {
							<-gapTimer.C
						}
						it.handle.Resolve(ErrClosed)
						return
					case <-cancel:
						if !gapTimer.Stop() {
							<-gapTimer.C
						}
						it.handle.Resolve(audio.ErrInterrupted)
						q.finish(it)
						continue
					case <-gapTimer.C:
					}
				}
			}

			it.handle.Resolve(q.play(it, cancel))
			lastPlayed = true
			q.finish(it)
		}
	}
}

func (q *Queue) dequeue() (*item, chan struct{}, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.queue) == 0 {
		return nil, nil, false
	}
	it := q.queue[0]
	q.queue = q.queue[1:]

	cancel := make(chan struct{})
	q.playing = &it
	q.cancelPlaying = cancel
	return &it, cancel, true
}

func (q *Queue) finish(it *item) {
	q.mu.Lock()
	if q.playing == it {
		q.playing = nil
		q.cancelPlaying = nil
	}
	q.mu.Unlock()
}

// play hands the clip to the sink and holds it for its duration.
func (q *Queue) play(it *item, cancel chan struct{}) error {
	if err := it.ctx.Err(); err != nil {
		return err
	}
	if err := q.sink.Write(it.ctx, it.clip); err != nil {
		return err
	}
	if it.clip.Duration <= 0 {
		return nil
	}

	t := time.NewTimer(it.clip.Duration)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-cancel:
		return audio.ErrInterrupted
	case <-q.done:
		return ErrClosed
	case <-it.ctx.Done():
		return it.ctx.Err()
	}
}

func (q *Queue) gapWithJitter() time.Duration {
	q.mu.Lock()
	base := q.gap
	q.mu.Unlock()

	if base <= 0 {
		return 0
	}
	jitterRange := base / 6
	if jitterRange <= 0 {
		return base
	}
	jitter := time.Duration(rand.Int64N(int64(2*jitterRange+1))) - jitterRange
	return base + jitter
}
