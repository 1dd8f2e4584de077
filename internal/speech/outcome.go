package speech

import (
	"time"

	"github.com/MrWong99/duologue/internal/transcript"
	"github.com/MrWong99/duologue/pkg/audio"
)

// Kind tags an [Outcome].
type Kind int

const (
	// KindDisabled means there is no audio: synthesis is off or failed.
	KindDisabled Kind = iota

	// KindEstimated means the line is voiced out-of-band (e.g. by the
	// browser) and only its duration is known, approximately.
	KindEstimated

	// KindPlayed means a clip was produced and must go through a player.
	KindPlayed
)

// String returns the lowercase name used in metrics and the transcript.
func (k Kind) String() string {
	switch k {
	case KindDisabled:
		return "disabled"
	case KindEstimated:
		return "estimated"
	case KindPlayed:
		return "played"
	default:
		return "unknown"
	}
}

// Outcome is the result of synthesizing one line. Exactly one of the
// constructors [Played], [Estimated] and [Disabled] produces each value.
type Outcome struct {
	Kind Kind

	// Clip is set for KindPlayed.
	Clip audio.Clip

	// Duration is the expected playback length: the clip duration for
	// KindPlayed, the estimate for KindEstimated, zero for KindDisabled.
	Duration time.Duration
}

// Played wraps a synthesized clip.
func Played(clip audio.Clip) Outcome {
	return Outcome{Kind: KindPlayed, Clip: clip, Duration: clip.Duration}
}

// Estimated reports out-of-band playback of roughly d.
func Estimated(d time.Duration) Outcome {
	return Outcome{Kind: KindEstimated, Duration: d}
}

// Disabled reports that there is nothing to wait for.
func Disabled() Outcome {
	return Outcome{Kind: KindDisabled}
}

// Summary converts the outcome to its transcript form. Audio bytes are
// dropped.
func (o Outcome) Summary() *transcript.Audio {
	a := &transcript.Audio{Duration: o.Duration}
	switch o.Kind {
	case KindPlayed:
		a.Kind = transcript.AudioPlayed
		a.Format = o.Clip.Format
		a.Bytes = len(o.Clip.Data)
	case KindEstimated:
		a.Kind = transcript.AudioEstimated
	default:
		a.Kind = transcript.AudioDisabled
	}
	return a
}
