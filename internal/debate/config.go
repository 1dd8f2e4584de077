package debate

import (
	"context"
	"math/rand/v2"
	"time"
)

// Defaults for [Config].
const (
	DefaultMaxTurns          = 8
	DefaultInterjectionTurns = 3
	DefaultEstimatedDuration = time.Second
	DefaultAuthor            = "Aleksander"
)

// Range is a closed jitter interval. The zero value means no delay.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// Pick returns a uniformly random duration in [Min, Max].
func (r Range) Pick() time.Duration {
	if r.Max <= 0 {
		return max(r.Min, 0)
	}
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + rand.N(r.Max-r.Min+1)
}

// Pacing holds the cosmetic delays that make the exchange feel spoken.
// They never affect ordering.
type Pacing struct {
	// Typing precedes every generation call.
	Typing Range

	// Between separates the end of one line's audio from the next line.
	Between Range

	// Interjection precedes the first answer to an audience question.
	Interjection Range
}

// DefaultPacing returns the stock delays.
func DefaultPacing() Pacing {
	return Pacing{
		Typing:       Range{Min: 200 * time.Millisecond, Max: 800 * time.Millisecond},
		Between:      Range{Min: 100 * time.Millisecond, Max: 300 * time.Millisecond},
		Interjection: Range{Min: 300 * time.Millisecond, Max: 800 * time.Millisecond},
	}
}

// Config parameterises the [Scheduler].
type Config struct {
	// MaxTurns is the main-loop budget. Default 8.
	MaxTurns int

	// InterjectionTurns is the length of each interjection sub-sequence.
	// Default 3.
	InterjectionTurns int

	// EstimatedDuration is waited for an estimated outcome that carries no
	// duration of its own. Default 1s.
	EstimatedDuration time.Duration

	// DefaultAuthor names interjections submitted without an author.
	DefaultAuthor string

	Pacing Pacing
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		MaxTurns:          DefaultMaxTurns,
		InterjectionTurns: DefaultInterjectionTurns,
		EstimatedDuration: DefaultEstimatedDuration,
		DefaultAuthor:     DefaultAuthor,
		Pacing:            DefaultPacing(),
	}
}

func (c Config) withDefaults() Config {
	if c.MaxTurns <= 0 {
		c.MaxTurns = DefaultMaxTurns
	}
	if c.InterjectionTurns <= 0 {
		c.InterjectionTurns = DefaultInterjectionTurns
	}
	if c.EstimatedDuration <= 0 {
		c.EstimatedDuration = DefaultEstimatedDuration
	}
	if c.DefaultAuthor == "" {
		c.DefaultAuthor = DefaultAuthor
	}
	return c
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
