package debate_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/duologue/internal/debate"
	"github.com/MrWong99/duologue/internal/observe"
	"github.com/MrWong99/duologue/internal/persona"
	"github.com/MrWong99/duologue/internal/speech"
	"github.com/MrWong99/duologue/internal/transcript"
	"github.com/MrWong99/duologue/pkg/audio"
	audiomock "github.com/MrWong99/duologue/pkg/audio/mock"
)

const (
	einstein = "albert-einstein"
	buffett  = "warren-buffett"
)

// stubGenerator records requests and answers "<speaker> says X" unless fn
// is set.
type stubGenerator struct {
	mu    sync.Mutex
	calls []debate.Request
	fn    func(ctx context.Context, call int, req debate.Request) (string, error)
}

func (g *stubGenerator) Generate(ctx context.Context, req debate.Request) (string, error) {
	g.mu.Lock()
	idx := len(g.calls)
	g.calls = append(g.calls, req)
	fn := g.fn
	g.mu.Unlock()

	if fn != nil {
		return fn(ctx, idx, req)
	}
	return say(req.Speaker.ID), nil
}

func (g *stubGenerator) requests() []debate.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]debate.Request, len(g.calls))
	copy(out, g.calls)
	return out
}

func (g *stubGenerator) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func say(speaker string) string { return speaker + " says X" }

// stubSynth returns the same outcome for every line.
type stubSynth struct {
	outcome func(text string, p persona.Persona) speech.Outcome
}

func (s stubSynth) Synthesize(_ context.Context, text string, p persona.Persona) speech.Outcome {
	if s.outcome == nil {
		return speech.Disabled()
	}
	return s.outcome(text, p)
}

type fixture struct {
	sched  *debate.Scheduler
	gen    *stubGenerator
	player *audiomock.Player
	store  *transcript.Store
}

func newFixture(t *testing.T, cfg debate.Config, synth debate.Synthesizer) *fixture {
	t.Helper()

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	if synth == nil {
		synth = stubSynth{}
	}
	f := &fixture{
		gen:    &stubGenerator{},
		player: &audiomock.Player{},
		store:  transcript.NewStore(),
	}
	f.sched = debate.New(persona.DefaultCatalog(), f.gen, synth, f.player, f.store, cfg, debate.WithMetrics(metrics))
	t.Cleanup(f.sched.Reset)
	return f
}

func wait(t *testing.T, run *debate.Run) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := run.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("run did not resolve in time")
	}
	return err
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func speakers(entries []transcript.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Speaker
	}
	return out
}

func TestScenario_EinsteinBuffettRisk(t *testing.T) {
	t.Parallel()

	f := newFixture(t, debate.Config{}, nil)

	run, err := f.sched.Start(context.Background(), debate.Session{SpeakerA: "Einstein", SpeakerB: "Buffett", Topic: "risk"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := wait(t, run); err != nil {
		t.Fatalf("run: %v", err)
	}

	turns := f.store.Turns()
	if len(turns) != 8 {
		t.Fatalf("got %d turns, want 8", len(turns))
	}
	for i, e := range turns {
		want := einstein
		if i%2 == 1 {
			want = buffett
		}
		if e.Speaker != want {
			t.Errorf("turn %d speaker = %q, want %q", i, e.Speaker, want)
		}
		if e.Content != say(want) {
			t.Errorf("turn %d content = %q, want %q", i, e.Content, say(want))
		}
		if e.Audio == nil || e.Audio.Kind != transcript.AudioDisabled {
			t.Errorf("turn %d audio = %+v, want disabled", i, e.Audio)
		}
	}
	if got := f.sched.State(); got != debate.StateEnded {
		t.Errorf("state = %q, want ended", got)
	}
	if f.player.PlayCount() != 0 {
		t.Errorf("player used %d times for disabled audio", f.player.PlayCount())
	}
}

func TestMainLoop_ProducesExactlyMaxTurns(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 2, 3, 5, 8, 11} {
		t.Run(fmt.Sprintf("max=%d", n), func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, debate.Config{MaxTurns: n}, nil)
			run, err := f.sched.Start(context.Background(), debate.Session{SpeakerA: "oprah", SpeakerB: "gates", Topic: "education"})
			if err != nil {
				t.Fatalf("Start: %v", err)
			}
			if err := wait(t, run); err != nil {
				t.Fatalf("run: %v", err)
			}

			turns := f.store.Turns()
			if len(turns) != n {
				t.Fatalf("got %d turns, want %d", len(turns), n)
			}
			if turns[0].Speaker != "oprah-winfrey" {
				t.Errorf("first speaker = %q, want oprah-winfrey", turns[0].Speaker)
			}
			for i := 1; i < len(turns); i++ {
				if turns[i].Speaker == turns[i-1].Speaker {
					t.Errorf("turns %d and %d both by %q", i-1, i, turns[i].Speaker)
				}
			}
			if got := f.gen.count(); got != n {
				t.Errorf("generator calls = %d, want %d", got, n)
			}
		})
	}
}

func TestMainLoop_HistoryIsTranscriptAtIssue(t *testing.T) {
	t.Parallel()

	f := newFixture(t, debate.Config{MaxTurns: 4}, nil)
	run, err := f.sched.Start(context.Background(), debate.Session{SpeakerA: einstein, SpeakerB: buffett, Topic: "risk"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := wait(t, run); err != nil {
		t.Fatalf("run: %v", err)
	}

	reqs := f.gen.requests()
	if len(reqs) != 4 {
		t.Fatalf("got %d requests, want 4", len(reqs))
	}
	for i, req := range reqs {
		if len(req.History) != i {
			t.Errorf("request %d history length = %d, want %d", i, len(req.History), i)
		}
		if req.Topic != "risk" {
			t.Errorf("request %d topic = %q", i, req.Topic)
		}
		if req.Interjection != nil {
			t.Errorf("request %d carries an interjection", i)
		}
		if req.Speaker.ID == req.Counterpart.ID {
			t.Errorf("request %d speaker equals counterpart", i)
		}
	}
	// The second speaker sees exactly the opening line.
	if got := reqs[1].History[0]; got.Speaker != einstein || got.Content != say(einstein) {
		t.Errorf("request 1 history = %+v", got)
	}
}

func TestStart_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		sess debate.Session
		want error
	}{
		{name: "missing A", sess: debate.Session{SpeakerB: buffett, Topic: "risk"}, want: debate.ErrInvalidSessionConfig},
		{name: "missing B", sess: debate.Session{SpeakerA: einstein, Topic: "risk"}, want: debate.ErrInvalidSessionConfig},
		{name: "missing topic", sess: debate.Session{SpeakerA: einstein, SpeakerB: buffett, Topic: "   "}, want: debate.ErrInvalidSessionConfig},
		{name: "same speaker", sess: debate.Session{SpeakerA: "Einstein", SpeakerB: einstein, Topic: "risk"}, want: debate.ErrInvalidSessionConfig},
		{name: "unknown A", sess: debate.Session{SpeakerA: "Ada Lovelace", SpeakerB: buffett, Topic: "risk"}, want: debate.ErrUnknownSpeaker},
		{name: "unknown B", sess: debate.Session{SpeakerA: einstein, SpeakerB: "Nikola Tesla", Topic: "risk"}, want: debate.ErrUnknownSpeaker},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, debate.Config{}, nil)
			run, err := f.sched.Start(context.Background(), tt.sess)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if run != nil {
				t.Error("run returned alongside an error")
			}
			if got := f.sched.State(); got != debate.StateIdle {
				t.Errorf("state = %q, want idle", got)
			}
			if f.gen.count() != 0 {
				t.Error("generator called for an invalid session")
			}
		})
	}
}

func TestStart_WhileRunning(t *testing.T) {
	t.Parallel()

	f := newFixture(t, debate.Config{}, nil)
	f.gen.fn = func(ctx context.Context, _ int, _ debate.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}

	sess := debate.Session{SpeakerA: einstein, SpeakerB: buffett, Topic: "risk"}
	if _, err := f.sched.Start(context.Background(), sess); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := f.sched.Start(context.Background(), sess); !errors.Is(err, debate.ErrSessionRunning) {
		t.Fatalf("second Start err = %v, want ErrSessionRunning", err)
	}
}

func TestStart_AfterEndedClearsTranscript(t *testing.T) {
	t.Parallel()

	f := newFixture(t, debate.Config{MaxTurns: 2}, nil)
	run, err := f.sched.Start(context.Background(), debate.Session{SpeakerA: einstein, SpeakerB: buffett, Topic: "risk"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_ = wait(t, run)

	run, err = f.sched.Start(context.Background(), debate.Session{SpeakerA: "jobs", SpeakerB: "musk", Topic: "design"})
	if err != nil {
		t.Fatalf("Start after ended: %v", err)
	}
	if err := wait(t, run); err != nil {
		t.Fatalf("run: %v", err)
	}

	got := speakers(f.store.Turns())
	if len(got) != 2 || got[0] != "steve-jobs" || got[1] != "elon-musk" {
		t.Errorf("speakers = %v, want [steve-jobs elon-musk]", got)
	}
}

func TestSubmitInterjection_NoActiveSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, debate.Config{MaxTurns: 1}, nil)

	// Idle.
	if _, err := f.sched.SubmitInterjection(context.Background(), debate.Interjection{Author: "Maria", Content: "Why?"}); !errors.Is(err, debate.ErrNoActiveSession) {
		t.Fatalf("idle err = %v, want ErrNoActiveSession", err)
	}
	if f.store.Len() != 0 {
		t.Fatalf("store has %d entries after rejected interjection", f.store.Len())
	}

	// Ended.
	run, err := f.sched.Start(context.Background(), debate.Session{SpeakerA: einstein, SpeakerB: buffett, Topic: "risk"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_ = wait(t, run)
	before := f.store.Len()
	if _, err := f.sched.SubmitInterjection(context.Background(), debate.Interjection{Content: "Why?"}); !errors.Is(err, debate.ErrNoActiveSession) {
		t.Fatalf("ended err = %v, want ErrNoActiveSession", err)
	}
	if f.store.Len() != before {
		t.Errorf("store changed from %d to %d entries", before, f.store.Len())
	}
}

func TestSubmitInterjection_EmptyContent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, debate.Config{}, nil)
	f.gen.fn = func(ctx context.Context, _ int, _ debate.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if _, err := f.sched.Start(context.Background(), debate.Session{SpeakerA: einstein, SpeakerB: buffett, Topic: "risk"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := f.sched.SubmitInterjection(context.Background(), debate.Interjection{Content: "  "}); !errors.Is(err, debate.ErrInvalidSessionConfig) {
		t.Fatalf("err = %v, want ErrInvalidSessionConfig", err)
	}
	if f.store.Len() != 0 {
		t.Errorf("store has %d entries", f.store.Len())
	}
}

func TestInterjection_AppendsThenThreeAnswersFromSpeakerA(t *testing.T) {
	t.Parallel()

	f := newFixture(t, debate.Config{}, nil)

	// Hold the first prefetch (speaker B, turn 2) until it is discarded.
	prefetchStarted := make(chan struct{})
	f.gen.fn = func(ctx context.Context, call int, req debate.Request) (string, error) {
		if call == 1 {
			close(prefetchStarted)
			<-ctx.Done()
			return "", ctx.Err()
		}
		return say(req.Speaker.ID), nil
	}

	run, err := f.sched.Start(context.Background(), debate.Session{SpeakerA: einstein, SpeakerB: buffett, Topic: "risk"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-prefetchStarted

	ijRun, err := f.sched.SubmitInterjection(context.Background(), debate.Interjection{Author: "Maria", Content: "Is luck a strategy?"})
	if err != nil {
		t.Fatalf("SubmitInterjection: %v", err)
	}

	// The interjection is visible immediately.
	all := f.store.All()
	if last := all[len(all)-1]; last.Kind != transcript.KindInterjection || last.Name != "Maria" {
		t.Fatalf("last entry = %+v, want Maria's interjection", last)
	}
	ijSeq := all[len(all)-1].Seq

	if err := wait(t, ijRun); err != nil {
		t.Fatalf("interjection run: %v", err)
	}
	if err := wait(t, run); err != nil {
		t.Fatalf("main run: %v", err)
	}

	all = f.store.All()
	var idx int
	for i, e := range all {
		if e.Seq == ijSeq {
			idx = i
		}
	}
	if len(all) < idx+4 {
		t.Fatalf("only %d entries after the interjection", len(all)-idx-1)
	}
	answers := all[idx+1 : idx+4]
	for i, want := range []string{einstein, buffett, einstein} {
		if answers[i].Kind != transcript.KindTurn || answers[i].Speaker != want {
			t.Errorf("answer %d = %s/%s, want turn by %s", i, answers[i].Kind, answers[i].Speaker, want)
		}
	}

	var withQuestion int
	for _, req := range f.gen.requests() {
		if req.Interjection != nil {
			withQuestion++
			if req.Interjection.Author != "Maria" || req.Interjection.Content != "Is luck a strategy?" {
				t.Errorf("interjection in request = %+v", req.Interjection)
			}
		}
	}
	if withQuestion != 3 {
		t.Errorf("requests carrying the interjection = %d, want 3", withQuestion)
	}

	// Einstein opened, so Buffett is due when the main loop resumes.
	if len(all) < idx+5 {
		t.Fatalf("no main turn after the answers")
	}
	if resumed := all[idx+4]; resumed.Kind != transcript.KindTurn || resumed.Speaker != buffett {
		t.Errorf("first main turn after answers = %s/%s, want turn by %s", resumed.Kind, resumed.Speaker, buffett)
	}

	// The sub-sequence extends the budget: 8 main turns plus 3 answers.
	if got := len(f.store.Turns()); got != 11 {
		t.Errorf("total turns = %d, want 11", got)
	}
	var interjections int
	for _, e := range all {
		if e.Kind == transcript.KindInterjection {
			interjections++
		}
	}
	if interjections != 1 {
		t.Errorf("interjection entries = %d, want 1", interjections)
	}
}

func TestInterjection_InterruptsAudio(t *testing.T) {
	t.Parallel()

	clip := func(_ string, p persona.Persona) speech.Outcome {
		return speech.Played(audio.Clip{Speaker: p.ID, Format: "mp3_44100_128", Data: []byte{1}, Duration: time.Hour})
	}
	f := newFixture(t, debate.Config{MaxTurns: 2}, stubSynth{outcome: clip})
	f.player.SetHold(true)

	run, err := f.sched.Start(context.Background(), debate.Session{SpeakerA: einstein, SpeakerB: buffett, Topic: "risk"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	eventually(t, "opening line to play", func() bool { return f.player.PlayCount() == 1 })
	if got := f.sched.Snapshot().Playing; got != einstein {
		t.Errorf("Playing = %q, want %q", got, einstein)
	}

	ijRun, err := f.sched.SubmitInterjection(context.Background(), debate.Interjection{Content: "Louder please"})
	if err != nil {
		t.Fatalf("SubmitInterjection: %v", err)
	}
	if f.player.Stops() == 0 {
		t.Error("interjection did not stop playback")
	}

	// Answers are held until stopped; interrupt them as they come.
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-time.After(5 * time.Millisecond):
				f.player.Stop()
			}
		}
	}()
	defer close(done)

	if err := wait(t, ijRun); err != nil {
		t.Fatalf("interjection run: %v", err)
	}
	if err := wait(t, run); err != nil {
		t.Fatalf("main run: %v", err)
	}

	for _, e := range f.store.All() {
		if e.Kind == transcript.KindInterjection && e.Name != debate.DefaultAuthor {
			t.Errorf("author = %q, want default %q", e.Name, debate.DefaultAuthor)
		}
	}
}

func TestMainLoop_PrefetchesWhilePlaying(t *testing.T) {
	t.Parallel()

	clip := func(_ string, p persona.Persona) speech.Outcome {
		return speech.Played(audio.Clip{Speaker: p.ID, Format: "mp3_44100_128", Data: []byte{1}, Duration: time.Hour})
	}
	f := newFixture(t, debate.Config{MaxTurns: 2}, stubSynth{outcome: clip})
	f.player.SetHold(true)

	run, err := f.sched.Start(context.Background(), debate.Session{SpeakerA: einstein, SpeakerB: buffett, Topic: "risk"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// B's line is generated while A's clip is still held.
	eventually(t, "opening line to play", func() bool { return f.player.PlayCount() == 1 })
	eventually(t, "second line to be generated", func() bool { return f.gen.count() == 2 })
	time.Sleep(20 * time.Millisecond)
	if got := f.store.Len(); got != 1 {
		t.Fatalf("store has %d entries while A plays, want 1", got)
	}
	if got := f.player.PlayCount(); got != 1 {
		t.Fatalf("plays = %d while A plays, want 1", got)
	}
	if req := f.gen.requests()[1]; req.Speaker.ID != buffett || len(req.History) != 1 {
		t.Errorf("prefetch request = %s with %d history entries, want %s with 1", req.Speaker.ID, len(req.History), buffett)
	}

	f.player.Release()
	eventually(t, "second line to be appended", func() bool { return f.store.Len() == 2 })
	if got := speakers(f.store.Turns()); got[1] != buffett {
		t.Errorf("speakers = %v, want %s second", got, buffett)
	}

	eventually(t, "second line to play", func() bool { return f.player.PlayCount() == 2 })
	f.player.SetHold(false)
	f.player.Release()
	if err := wait(t, run); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestInterjection_LateSubmitDoesNotSkipNextAudio(t *testing.T) {
	t.Parallel()

	const clipLen = 300 * time.Millisecond
	estimate := func(string, persona.Persona) speech.Outcome { return speech.Estimated(clipLen) }
	f := newFixture(t, debate.Config{MaxTurns: 1}, stubSynth{outcome: estimate})

	var (
		mu      sync.Mutex
		started = map[int]time.Time{}
	)
	answering := make(chan struct{})
	release := make(chan struct{})
	f.gen.fn = func(ctx context.Context, call int, req debate.Request) (string, error) {
		mu.Lock()
		started[call] = time.Now()
		mu.Unlock()
		if call == 1 {
			close(answering)
			select {
			case <-release:
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		return say(req.Speaker.ID), nil
	}

	run, err := f.sched.Start(context.Background(), debate.Session{SpeakerA: einstein, SpeakerB: buffett, Topic: "risk"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	eventually(t, "opening line", func() bool { return f.store.Len() == 1 })

	first, err := f.sched.SubmitInterjection(context.Background(), debate.Interjection{Author: "Maria", Content: "Is luck a strategy?"})
	if err != nil {
		t.Fatalf("first SubmitInterjection: %v", err)
	}
	<-answering

	// Arrives while the first answer is being generated: nothing is playing,
	// so the answer's audio must still be waited for in full.
	second, err := f.sched.SubmitInterjection(context.Background(), debate.Interjection{Author: "Tom", Content: "And timing?"})
	if err != nil {
		t.Fatalf("second SubmitInterjection: %v", err)
	}
	released := time.Now()
	close(release)

	for _, r := range []*debate.Run{first, second, run} {
		if err := wait(t, r); err != nil {
			t.Fatalf("run: %v", err)
		}
	}

	mu.Lock()
	next, ok := started[2]
	mu.Unlock()
	if !ok {
		t.Fatal("second answer was never generated")
	}
	if gap := next.Sub(released); gap < clipLen-50*time.Millisecond {
		t.Errorf("second answer generated %v after the first, want at least its %v audio", gap, clipLen)
	}
	if got := len(f.store.Turns()); got != 7 {
		t.Errorf("turns = %d, want 1 main plus two sets of 3 answers", got)
	}
}

func TestReset_Idempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, debate.Config{}, nil)
	cancelled := make(chan struct{})
	f.gen.fn = func(ctx context.Context, call int, req debate.Request) (string, error) {
		if call == 0 {
			return say(req.Speaker.ID), nil
		}
		<-ctx.Done()
		close(cancelled)
		return "", ctx.Err()
	}

	run, err := f.sched.Start(context.Background(), debate.Session{SpeakerA: einstein, SpeakerB: buffett, Topic: "risk"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	eventually(t, "opening turn", func() bool { return f.store.Len() == 1 })

	f.sched.Reset()
	if got := f.sched.State(); got != debate.StateIdle {
		t.Errorf("state after reset = %q, want idle", got)
	}
	if f.store.Len() != 0 {
		t.Errorf("store has %d entries after reset", f.store.Len())
	}
	if err := wait(t, run); !errors.Is(err, debate.ErrSessionReset) {
		t.Errorf("run err = %v, want ErrSessionReset", err)
	}
	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight generation not cancelled")
	}

	stops := f.player.Stops()
	f.sched.Reset()
	if got := f.sched.State(); got != debate.StateIdle {
		t.Errorf("state after second reset = %q, want idle", got)
	}
	if f.store.Len() != 0 {
		t.Errorf("store has %d entries after second reset", f.store.Len())
	}
	if f.player.Stops() != stops+1 {
		t.Errorf("player stops = %d, want %d", f.player.Stops(), stops+1)
	}

	// The stale generation never lands in the cleared store.
	time.Sleep(20 * time.Millisecond)
	if f.store.Len() != 0 {
		t.Errorf("stale result appended after reset: %+v", f.store.All())
	}
}

func TestReset_FromIdle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, debate.Config{}, nil)
	f.sched.Reset()
	f.sched.Reset()
	if got := f.sched.State(); got != debate.StateIdle {
		t.Errorf("state = %q, want idle", got)
	}
	if snap := f.sched.Snapshot(); snap.Session != nil || len(snap.Transcript) != 0 {
		t.Errorf("snapshot = %+v, want empty idle snapshot", snap)
	}
}

func TestGenerationFailure_PreservesPartialTranscript(t *testing.T) {
	t.Parallel()

	providerErr := errors.New("gateway timeout")

	for _, k := range []int{1, 2, 3, 6} {
		t.Run(fmt.Sprintf("fail_on_turn_%d", k), func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, debate.Config{}, nil)
			f.gen.fn = func(_ context.Context, call int, req debate.Request) (string, error) {
				if call == k-1 {
					return "", providerErr
				}
				return say(req.Speaker.ID), nil
			}

			run, err := f.sched.Start(context.Background(), debate.Session{SpeakerA: einstein, SpeakerB: buffett, Topic: "risk"})
			if err != nil {
				t.Fatalf("Start: %v", err)
			}
			err = wait(t, run)
			if !errors.Is(err, debate.ErrGenerationFailed) {
				t.Fatalf("err = %v, want ErrGenerationFailed", err)
			}
			if !errors.Is(err, providerErr) {
				t.Errorf("err = %v, does not wrap provider error", err)
			}

			if got := len(f.store.Turns()); got != k-1 {
				t.Errorf("turns = %d, want %d", got, k-1)
			}
			snap := f.sched.Snapshot()
			if snap.State != debate.StateRunning {
				t.Errorf("state = %q, want running", snap.State)
			}
			if snap.LastError == "" {
				t.Error("snapshot has no last error")
			}

			// No further automatic progress.
			time.Sleep(20 * time.Millisecond)
			if got := f.gen.count(); got != k {
				t.Errorf("generator calls = %d, want %d (no retry)", got, k)
			}
		})
	}
}

func TestGenerationFailure_InterjectionsStillServed(t *testing.T) {
	t.Parallel()

	f := newFixture(t, debate.Config{}, nil)
	f.gen.fn = func(_ context.Context, call int, req debate.Request) (string, error) {
		if call == 1 {
			return "", errors.New("boom")
		}
		return say(req.Speaker.ID), nil
	}

	run, err := f.sched.Start(context.Background(), debate.Session{SpeakerA: einstein, SpeakerB: buffett, Topic: "risk"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_ = wait(t, run)

	ijRun, err := f.sched.SubmitInterjection(context.Background(), debate.Interjection{Author: "Maria", Content: "Still there?"})
	if err != nil {
		t.Fatalf("SubmitInterjection after failure: %v", err)
	}
	if err := wait(t, ijRun); err != nil {
		t.Fatalf("interjection run: %v", err)
	}

	got := speakers(f.store.Turns())
	want := []string{einstein, einstein, buffett, einstein}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("turn speakers = %v, want %v", got, want)
	}
	if f.sched.State() != debate.StateRunning {
		t.Errorf("state = %q, want running", f.sched.State())
	}
}

func TestAwaitAudio_PlayedClipsGoThroughPlayer(t *testing.T) {
	t.Parallel()

	clip := func(text string, p persona.Persona) speech.Outcome {
		return speech.Played(audio.Clip{Speaker: p.ID, Data: []byte(text), Duration: 5 * time.Millisecond})
	}
	f := newFixture(t, debate.Config{MaxTurns: 4}, stubSynth{outcome: clip})

	run, err := f.sched.Start(context.Background(), debate.Session{SpeakerA: einstein, SpeakerB: buffett, Topic: "risk"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := wait(t, run); err != nil {
		t.Fatalf("run: %v", err)
	}

	clips := f.player.Clips()
	if len(clips) != 4 {
		t.Fatalf("played %d clips, want 4", len(clips))
	}
	for i, c := range clips {
		want := einstein
		if i%2 == 1 {
			want = buffett
		}
		if c.Speaker != want || string(c.Data) != say(want) {
			t.Errorf("clip %d = %s/%q", i, c.Speaker, c.Data)
		}
	}
	for _, e := range f.store.Turns() {
		if e.Audio == nil || e.Audio.Kind != transcript.AudioPlayed {
			t.Errorf("turn %d audio = %+v, want played", e.Seq, e.Audio)
		}
	}
}

func TestAwaitAudio_PlaybackErrorCountsAsDone(t *testing.T) {
	t.Parallel()

	clip := func(_ string, p persona.Persona) speech.Outcome {
		return speech.Played(audio.Clip{Speaker: p.ID, Duration: time.Hour})
	}
	f := newFixture(t, debate.Config{MaxTurns: 3}, stubSynth{outcome: clip})
	f.player.PlayErr = errors.New("device lost")

	run, err := f.sched.Start(context.Background(), debate.Session{SpeakerA: einstein, SpeakerB: buffett, Topic: "risk"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := wait(t, run); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := len(f.store.Turns()); got != 3 {
		t.Errorf("turns = %d, want 3", got)
	}
}

func TestAwaitAudio_EstimatedWaits(t *testing.T) {
	t.Parallel()

	est := func(string, persona.Persona) speech.Outcome { return speech.Estimated(30 * time.Millisecond) }
	f := newFixture(t, debate.Config{MaxTurns: 3}, stubSynth{outcome: est})

	start := time.Now()
	run, err := f.sched.Start(context.Background(), debate.Session{SpeakerA: einstein, SpeakerB: buffett, Topic: "risk"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := wait(t, run); err != nil {
		t.Fatalf("run: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("three estimated lines took %v, want >= 90ms", elapsed)
	}
	if f.player.PlayCount() != 0 {
		t.Error("estimated audio must not use the player")
	}
}

func TestSpeaking_TypingIndicator(t *testing.T) {
	t.Parallel()

	f := newFixture(t, debate.Config{}, nil)
	started := make(chan struct{})
	f.gen.fn = func(ctx context.Context, _ int, _ debate.Request) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}

	if f.sched.Speaking() != "" {
		t.Error("idle scheduler reports a speaker")
	}
	if _, err := f.sched.Start(context.Background(), debate.Session{SpeakerA: einstein, SpeakerB: buffett, Topic: "risk"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-started

	if got := f.sched.Speaking(); got != einstein {
		t.Errorf("Speaking() = %q, want %q", got, einstein)
	}
	snap := f.sched.Snapshot()
	if snap.Typing != einstein || snap.Session == nil || snap.Session.ID == "" {
		t.Errorf("snapshot = %+v", snap)
	}

	f.sched.Reset()
	if got := f.sched.Speaking(); got != "" {
		t.Errorf("Speaking() after reset = %q, want empty", got)
	}
}

func TestChanged_FiresOnProgress(t *testing.T) {
	t.Parallel()

	f := newFixture(t, debate.Config{MaxTurns: 1}, nil)
	ch := f.sched.Changed()

	run, err := f.sched.Start(context.Background(), debate.Session{SpeakerA: einstein, SpeakerB: buffett, Topic: "risk"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("Changed not closed by Start")
	}
	_ = wait(t, run)

	snap := f.sched.Snapshot()
	if snap.State != debate.StateEnded || snap.Turns != 1 || snap.MaxTurns != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestRange_Pick(t *testing.T) {
	t.Parallel()

	r := debate.Range{Min: 10 * time.Millisecond, Max: 20 * time.Millisecond}
	for range 100 {
		if d := r.Pick(); d < r.Min || d > r.Max {
			t.Fatalf("Pick() = %v outside [%v, %v]", d, r.Min, r.Max)
		}
	}
	if d := (debate.Range{}).Pick(); d != 0 {
		t.Errorf("zero range Pick() = %v, want 0", d)
	}
	if d := (debate.Range{Min: 5, Max: 5}).Pick(); d != 5 {
		t.Errorf("fixed range Pick() = %v, want 5", d)
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := debate.DefaultConfig()
	if cfg.MaxTurns != 8 || cfg.InterjectionTurns != 3 || cfg.EstimatedDuration != time.Second {
		t.Errorf("DefaultConfig() = %+v", cfg)
	}
	if cfg.Pacing.Typing.Min != 200*time.Millisecond || cfg.Pacing.Typing.Max != 800*time.Millisecond {
		t.Errorf("typing pacing = %+v", cfg.Pacing.Typing)
	}
}
