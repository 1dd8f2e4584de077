package debate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/duologue/internal/observe"
	"github.com/MrWong99/duologue/internal/persona"
	"github.com/MrWong99/duologue/internal/speech"
	"github.com/MrWong99/duologue/internal/transcript"
	"github.com/MrWong99/duologue/pkg/audio"
)

// errStale marks work that belongs to a session that was reset.
var errStale = errors.New("debate: stale session")

// errPreempted marks a main-loop line dropped because an interjection is
// waiting to be answered.
var errPreempted = errors.New("debate: preempted by interjection")

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithMetrics overrides the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// Scheduler drives one debate session at a time. All exported methods are
// safe for concurrent use.
type Scheduler struct {
	catalog *persona.Catalog
	gen     Generator
	synth   Synthesizer
	player  audio.Player
	store   *transcript.Store
	cfg     Config
	metrics *observe.Metrics

	mu      sync.Mutex
	state   State
	session Session
	epoch   uint64
	cancel  context.CancelFunc
	main    *Run
	runs    []*Run // unresolved runs of the current session
	queue   []queued
	turns   int
	lastErr error

	typing  indicator
	playing indicator
	tokSeq  uint64

	wake    chan struct{} // an interjection was queued
	changed chan struct{}

	// interrupt is closed by the next interjection. It is set from a line's
	// append until its audio wait ends, and nil otherwise.
	interrupt chan struct{}
}

type queued struct {
	ij  Interjection
	run *Run
}

type indicator struct {
	id  string
	tok uint64
}

// line is a generated and synthesized utterance that is not yet appended.
type line struct {
	speaker persona.Persona
	text    string
	outcome speech.Outcome
}

// New creates a scheduler in state idle.
func New(catalog *persona.Catalog, gen Generator, synth Synthesizer, player audio.Player, store *transcript.Store, cfg Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		catalog: catalog,
		gen:     gen,
		synth:   synth,
		player:  player,
		store:   store,
		cfg:     cfg.withDefaults(),
		state:   StateIdle,
		wake:    make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Start validates sess, clears the transcript and launches the session in
// its own goroutine. It returns before any line is generated.
//
// The session outlives ctx; only ctx's values are inherited. Use [Scheduler.Reset]
// to stop it.
func (s *Scheduler) Start(ctx context.Context, sess Session) (*Run, error) {
	a, b, err := s.resolveSpeakers(sess)
	if err != nil {
		return nil, err
	}
	sess.SpeakerA, sess.SpeakerB = a.ID, b.ID
	sess.Topic = strings.TrimSpace(sess.Topic)
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	sess.StartedAt = time.Now()

	s.mu.Lock()
	if s.state == StateRunning {
		s.mu.Unlock()
		return nil, ErrSessionRunning
	}
	s.epoch++
	epoch := s.epoch
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	run := newRun()

	s.state = StateRunning
	s.session = sess
	s.cancel = cancel
	s.main = run
	s.runs = []*Run{run}
	s.queue = nil
	s.turns = 0
	s.lastErr = nil
	s.typing, s.playing = indicator{}, indicator{}
	s.store.Clear()
	drain(s.wake)
	s.interrupt = nil
	s.notifyLocked()
	s.mu.Unlock()

	s.metrics.ActiveSessions.Add(ctx, 1)
	observe.Logger(ctx).Info("debate started",
		"session_id", sess.ID,
		"speaker_a", a.ID,
		"speaker_b", b.ID,
		"topic", sess.Topic,
	)

	go s.loop(sctx, epoch, sess, a, b)
	return run, nil
}

func (s *Scheduler) resolveSpeakers(sess Session) (persona.Persona, persona.Persona, error) {
	var missing []string
	if strings.TrimSpace(sess.SpeakerA) == "" {
		missing = append(missing, "speaker A")
	}
	if strings.TrimSpace(sess.SpeakerB) == "" {
		missing = append(missing, "speaker B")
	}
	if strings.TrimSpace(sess.Topic) == "" {
		missing = append(missing, "topic")
	}
	if len(missing) > 0 {
		return persona.Persona{}, persona.Persona{}, fmt.Errorf("%w: missing %s", ErrInvalidSessionConfig, strings.Join(missing, ", "))
	}

	a, err := s.catalog.Lookup(sess.SpeakerA)
	if err != nil {
		return persona.Persona{}, persona.Persona{}, err
	}
	b, err := s.catalog.Lookup(sess.SpeakerB)
	if err != nil {
		return persona.Persona{}, persona.Persona{}, err
	}
	if a.ID == b.ID {
		return persona.Persona{}, persona.Persona{}, fmt.Errorf("%w: both speakers are %s", ErrInvalidSessionConfig, a.ID)
	}
	return a, b, nil
}

// SubmitInterjection appends ij to the transcript, interrupts the current
// audio and queues a sub-sequence of answers. The returned run resolves once
// all answers are appended.
func (s *Scheduler) SubmitInterjection(ctx context.Context, ij Interjection) (*Run, error) {
	ij.Content = strings.TrimSpace(ij.Content)
	ij.Author = strings.TrimSpace(ij.Author)
	if ij.Author == "" {
		ij.Author = s.cfg.DefaultAuthor
	}
	if ij.SubmittedAt.IsZero() {
		ij.SubmittedAt = time.Now()
	}

	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return nil, ErrNoActiveSession
	}
	if ij.Content == "" {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: empty interjection", ErrInvalidSessionConfig)
	}
	s.store.Append(transcript.Entry{
		Kind:       transcript.KindInterjection,
		Name:       ij.Author,
		Content:    ij.Content,
		ProducedAt: ij.SubmittedAt,
	})
	run := newRun()
	s.queue = append(s.queue, queued{ij: ij, run: run})
	s.runs = append(s.runs, run)
	sessionID := s.session.ID
	// Interrupt while holding the lock so no answer can start playing first.
	s.player.Stop()
	if s.interrupt != nil {
		close(s.interrupt)
		s.interrupt = nil
	}
	signal(s.wake)
	s.notifyLocked()
	s.mu.Unlock()

	s.metrics.Interjections.Add(ctx, 1)
	observe.Logger(ctx).Info("interjection queued", "session_id", sessionID, "author", ij.Author)
	return run, nil
}

// Reset stops audio, cancels in-flight generation, clears the transcript
// and returns to idle. It is safe in any state and idempotent. Outstanding
// runs resolve with [ErrSessionReset].
func (s *Scheduler) Reset() {
	s.mu.Lock()
	wasRunning := s.state == StateRunning
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	for _, r := range s.runs {
		r.resolve(ErrSessionReset)
	}
	s.epoch++
	s.state = StateIdle
	s.session = Session{}
	s.main = nil
	s.runs = nil
	s.queue = nil
	s.turns = 0
	s.lastErr = nil
	s.typing, s.playing = indicator{}, indicator{}
	s.interrupt = nil
	s.store.Clear()
	s.notifyLocked()
	s.mu.Unlock()

	s.player.Stop()

	if wasRunning {
		ctx := context.Background()
		s.metrics.ActiveSessions.Add(ctx, -1)
		s.metrics.RecordSessionEnd(ctx, "reset")
		slog.Info("debate reset")
	}
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Speaking returns the persona being generated or, when none is, the one
// being played. Empty means nobody.
func (s *Scheduler) Speaking() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speakingLocked()
}

func (s *Scheduler) speakingLocked() string {
	if s.typing.id != "" {
		return s.typing.id
	}
	return s.playing.id
}

// Snapshot returns a consistent view of state and transcript.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		State:                s.state,
		Transcript:           s.store.All(),
		Typing:               s.typing.id,
		Playing:              s.playing.id,
		Speaking:             s.speakingLocked(),
		Turns:                s.turns,
		MaxTurns:             s.cfg.MaxTurns,
		PendingInterjections: len(s.queue),
	}
	if s.state != StateIdle {
		sess := s.session
		snap.Session = &sess
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	return snap
}

// Changed returns a channel closed on the next visible change: a transcript
// append, a state transition or a speaking indicator update.
func (s *Scheduler) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.changed == nil {
		s.changed = make(chan struct{})
	}
	return s.changed
}

func (s *Scheduler) notifyLocked() {
	if s.changed != nil {
		close(s.changed)
		s.changed = nil
	}
}

// ─── session goroutine ──────────────────────────────────────────────────────

// loop runs the main budget with prefetch, serving interjections at each
// decision point. It exits when the budget is spent or the session is reset.
func (s *Scheduler) loop(ctx context.Context, epoch uint64, sess Session, a, b persona.Persona) {
	ctx, span := observe.StartSpan(ctx, "debate.session",
		trace.WithAttributes(
			attribute.String("session_id", sess.ID),
			attribute.String("speaker_a", a.ID),
			attribute.String("speaker_b", b.ID),
		),
	)
	defer span.End()
	log := observe.Logger(ctx).With("session_id", sess.ID)

	other := func(p persona.Persona) persona.Persona {
		if p.ID == a.ID {
			return b
		}
		return a
	}

	due := a
	var next *pendingLine
	failed := false
	turns := 0

	defer func() {
		if next != nil {
			next.cancel()
		}
	}()

	for {
		// Decision point.
		if q, ok := s.takeInterjection(epoch); ok {
			if next != nil {
				next.cancel()
				next = nil
			}
			err := s.answer(ctx, epoch, sess, a, b, q.ij)
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, errStale) {
				return
			}
			if err != nil {
				q.run.resolve(err)
				s.fail(ctx, epoch, err)
				failed = true
				log.Error("interjection answer failed", "err", err)
				continue
			}
			q.run.resolve(nil)
			s.forget(q.run)
			continue
		}

		if failed {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
				continue
			}
		}

		if turns >= s.cfg.MaxTurns {
			if s.finish(ctx, epoch) {
				log.Info("debate finished", "turns", turns)
				return
			}
			continue
		}

		if next == nil {
			next = s.startLine(ctx, epoch, sess.Topic, due, other(due), nil, s.cfg.Pacing.Typing)
		}
		ln, woke, err := next.wait(ctx, s.wake)
		if woke {
			continue
		}
		next.cancel()
		next = nil

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			err = fmt.Errorf("%w: turn %d by %s: %w", ErrGenerationFailed, turns+1, due.ID, err)
			observe.Fail(span, err, "generation failed")
			log.Error("generation failed, aborting run", "turn", turns+1, "speaker", due.ID, "err", err)
			s.fail(ctx, epoch, err)
			failed = true
			continue
		}

		interrupted, err := s.appendTurn(ctx, epoch, ln, "main", false)
		if err != nil {
			if errors.Is(err, errPreempted) {
				continue
			}
			return
		}
		turns++
		due = other(due)

		if turns < s.cfg.MaxTurns {
			next = s.startLine(ctx, epoch, sess.Topic, due, other(due), nil, s.cfg.Pacing.Typing)
		}

		if err := s.awaitAudio(ctx, epoch, ln, interrupted); err != nil {
			return
		}
		if err := sleep(ctx, s.cfg.Pacing.Between.Pick()); err != nil {
			return
		}
	}
}

// answer runs the interjection sub-sequence: InterjectionTurns sequential
// lines alternating from speaker A, each aware of the question.
func (s *Scheduler) answer(ctx context.Context, epoch uint64, sess Session, a, b persona.Persona, ij Interjection) error {
	speaker, counterpart := a, b
	for i := range s.cfg.InterjectionTurns {
		pace := s.cfg.Pacing.Typing
		if i == 0 {
			pace = s.cfg.Pacing.Interjection
		}
		p := s.startLine(ctx, epoch, sess.Topic, speaker, counterpart, &ij, pace)
		ln, _, err := p.wait(ctx, nil)
		p.cancel()
		if err != nil {
			if ctx.Err() != nil {
				return errStale
			}
			return fmt.Errorf("%w: answer %d to %s by %s: %w", ErrGenerationFailed, i+1, ij.Author, speaker.ID, err)
		}
		interrupted, err := s.appendTurn(ctx, epoch, ln, "interjection", true)
		if err != nil {
			return err
		}
		if err := s.awaitAudio(ctx, epoch, ln, interrupted); err != nil {
			return errStale
		}
		if i < s.cfg.InterjectionTurns-1 {
			if err := sleep(ctx, s.cfg.Pacing.Between.Pick()); err != nil {
				return errStale
			}
		}
		speaker, counterpart = counterpart, speaker
	}
	return nil
}

// pendingLine is a line being produced in the background.
type pendingLine struct {
	cancel context.CancelFunc
	done   chan struct{}
	line   line
	err    error
}

// wait blocks until the line is ready or ctx is done. It returns woke=true,
// leaving the line pending, when wake fires first.
func (p *pendingLine) wait(ctx context.Context, wake <-chan struct{}) (ln line, woke bool, err error) {
	select {
	case <-p.done:
		return p.line, false, p.err
	case <-ctx.Done():
		return line{}, false, ctx.Err()
	case <-wake:
		return line{}, true, nil
	}
}

func (s *Scheduler) startLine(ctx context.Context, epoch uint64, topic string, speaker, counterpart persona.Persona, ij *Interjection, pace Range) *pendingLine {
	lctx, cancel := context.WithCancel(ctx)
	p := &pendingLine{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(p.done)
		p.line, p.err = s.produce(lctx, epoch, topic, speaker, counterpart, ij, pace)
	}()
	return p
}

// produce paces, generates and synthesizes one line. The history is read
// from the store right before the generation call is issued.
func (s *Scheduler) produce(ctx context.Context, epoch uint64, topic string, speaker, counterpart persona.Persona, ij *Interjection, pace Range) (line, error) {
	if err := sleep(ctx, pace.Pick()); err != nil {
		return line{}, err
	}

	tok := s.mark(epoch, &s.typing, speaker.ID)
	text, err := s.gen.Generate(ctx, Request{
		Speaker:      speaker,
		Counterpart:  counterpart,
		Topic:        topic,
		History:      s.store.All(),
		Interjection: ij,
	})
	s.unmark(&s.typing, tok)
	if err != nil {
		return line{}, err
	}

	return line{
		speaker: speaker,
		text:    text,
		outcome: s.synth.Synthesize(ctx, text, speaker),
	}, nil
}

// appendTurn appends ln if the session is still current. Main-loop lines
// (allowPending=false) are refused while an interjection waits. The
// returned channel is closed by the first interjection submitted after the
// append; pass it to awaitAudio.
func (s *Scheduler) appendTurn(ctx context.Context, epoch uint64, ln line, trigger string, allowPending bool) (<-chan struct{}, error) {
	s.mu.Lock()
	if s.epoch != epoch || s.state != StateRunning {
		s.mu.Unlock()
		return nil, errStale
	}
	if !allowPending && len(s.queue) > 0 {
		s.mu.Unlock()
		return nil, errPreempted
	}
	e := s.store.Append(transcript.Entry{
		Kind:    transcript.KindTurn,
		Speaker: ln.speaker.ID,
		Name:    ln.speaker.Name,
		Content: ln.text,
		Audio:   ln.outcome.Summary(),
	})
	if trigger == "main" {
		s.turns++
	}
	interrupted := make(chan struct{})
	s.interrupt = interrupted
	sessionID := s.session.ID
	s.notifyLocked()
	s.mu.Unlock()

	s.metrics.RecordTurn(ctx, ln.speaker.ID, trigger)
	slog.Debug("turn appended",
		"session_id", sessionID,
		"seq", e.Seq,
		"speaker", ln.speaker.ID,
		"trigger", trigger,
		"audio", ln.outcome.Kind.String(),
	)
	return interrupted, nil
}

// awaitAudio suspends until the line's audio is over. A played clip ends on
// natural completion, error or interruption alike; an estimate is a fixed
// wait; disabled audio does not wait at all. Closing interrupted ends any
// of them early. Only a cancelled ctx is reported as an error.
func (s *Scheduler) awaitAudio(ctx context.Context, epoch uint64, ln line, interrupted <-chan struct{}) error {
	defer func() {
		s.mu.Lock()
		if s.interrupt == interrupted {
			s.interrupt = nil
		}
		s.mu.Unlock()
	}()

	out := ln.outcome
	if out.Kind == speech.KindDisabled {
		return nil
	}

	start := time.Now()
	tok := s.mark(epoch, &s.playing, ln.speaker.ID)
	defer s.unmark(&s.playing, tok)

	var (
		done  <-chan struct{}
		timer <-chan time.Time
	)
	switch out.Kind {
	case speech.KindPlayed:
		// Hand over under the lock so an interjection either sees the clip
		// and stops it, or has already closed interrupted.
		s.mu.Lock()
		select {
		case <-interrupted:
			s.mu.Unlock()
			return nil
		default:
		}
		done = s.player.Play(ctx, out.Clip).Done()
		s.mu.Unlock()
	case speech.KindEstimated:
		d := out.Duration
		if d <= 0 {
			d = s.cfg.EstimatedDuration
		}
		t := time.NewTimer(d)
		defer t.Stop()
		timer = t.C
	}

	defer func() {
		s.metrics.PlaybackWait.Record(ctx, time.Since(start).Seconds())
	}()

	select {
	case <-done:
		return nil
	case <-timer:
		return nil
	case <-interrupted:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// takeInterjection pops the oldest queued interjection.
func (s *Scheduler) takeInterjection(epoch uint64) (queued, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch || len(s.queue) == 0 {
		return queued{}, false
	}
	q := s.queue[0]
	s.queue = s.queue[1:]
	return q, true
}

// finish ends the session once the budget is spent. It returns false when
// an interjection arrived in the meantime.
func (s *Scheduler) finish(ctx context.Context, epoch uint64) bool {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return true
	}
	if len(s.queue) > 0 {
		s.mu.Unlock()
		return false
	}
	s.state = StateEnded
	s.typing, s.playing = indicator{}, indicator{}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	main := s.main
	s.runs = nil
	s.notifyLocked()
	s.mu.Unlock()

	main.resolve(nil)
	s.metrics.ActiveSessions.Add(ctx, -1)
	s.metrics.RecordSessionEnd(ctx, "completed")
	return true
}

// fail records err, resolves the main run with it and leaves the session
// running without further automatic progress.
func (s *Scheduler) fail(ctx context.Context, epoch uint64, err error) {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	first := s.lastErr == nil
	s.lastErr = err
	main := s.main
	s.typing = indicator{}
	s.notifyLocked()
	s.mu.Unlock()

	main.resolve(err)
	if first {
		s.metrics.RecordSessionEnd(ctx, "failed")
	}
}

// forget drops a resolved run from the reset list.
func (s *Scheduler) forget(r *Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, x := range s.runs {
		if x == r {
			s.runs = append(s.runs[:i], s.runs[i+1:]...)
			return
		}
	}
}

// mark sets an indicator for the current session and returns a token that
// unmark needs, so late clears from discarded work never wipe newer state.
func (s *Scheduler) mark(epoch uint64, ind *indicator, id string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch || s.state != StateRunning {
		return 0
	}
	s.tokSeq++
	*ind = indicator{id: id, tok: s.tokSeq}
	s.notifyLocked()
	return s.tokSeq
}

func (s *Scheduler) unmark(ind *indicator, tok uint64) {
	if tok == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ind.tok == tok {
		*ind = indicator{}
		s.notifyLocked()
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func drain(ch chan struct{}) {
	select {
	case <-ch:
	default:
	}
}
