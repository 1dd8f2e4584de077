package debate

import (
	"context"
	"sync"
)

// Run is the completion future of a session or an interjection.
type Run struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newRun() *Run {
	return &Run{done: make(chan struct{})}
}

// Done is closed once the run has resolved.
func (r *Run) Done() <-chan struct{} { return r.done }

// Err returns the resolution error, or nil while unresolved.
func (r *Run) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Wait blocks until the run resolves or ctx is done. A nil result means the
// run completed normally.
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resolve sets the outcome. Only the first call has an effect.
func (r *Run) resolve(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.done)
	})
}
