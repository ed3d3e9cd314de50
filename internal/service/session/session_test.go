package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"stt-consolidation-service/internal/engine"
	"stt-consolidation-service/internal/engine/mock"
	"stt-consolidation-service/internal/llm"
	"stt-consolidation-service/internal/models"
)

// captureSink records every emitted event.
type captureSink struct {
	mu   sync.Mutex
	utts []models.UtteranceEvent
	raws []models.EngineTranscriptEvent
	errs []models.ErrorEvent
}

func (c *captureSink) Utterance(_ context.Context, ev models.UtteranceEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.utts = append(c.utts, ev)
	return nil
}

func (c *captureSink) Raw(_ context.Context, ev models.EngineTranscriptEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.raws = append(c.raws, ev)
	return nil
}

func (c *captureSink) Error(_ context.Context, ev models.ErrorEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, ev)
	return nil
}

func (c *captureSink) utterances() []models.UtteranceEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.UtteranceEvent{}, c.utts...)
}

func (c *captureSink) errorEvents() []models.ErrorEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.ErrorEvent{}, c.errs...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func testPool(t *testing.T, scripts map[string][]mock.Utterance, primary string) *engine.Pool {
	t.Helper()
	specs := []engine.Spec{{ID: primary, Kind: "test"}}
	for id := range scripts {
		if id != primary {
			specs = append(specs, engine.Spec{ID: id, Kind: "test"})
		}
	}
	pool, err := engine.NewPool(context.Background(), specs, primary,
		func(_ context.Context, spec engine.Spec) (engine.Adapter, error) {
			a := mock.NewScripted(spec.ID, scripts[spec.ID])
			a.SetDelay(0)
			return a, nil
		})
	if err != nil {
		t.Fatalf("building pool: %v", err)
	}
	return pool
}

// finals builds a script of partial-free utterances, one final per chunk.
func finals(utts ...mock.Utterance) []mock.Utterance {
	return utts
}

func testConfig() Config {
	return Config{
		ContextWindow: 5,
		Margin:        0.15,
	}
}

func startSession(t *testing.T, scripts map[string][]mock.Utterance, model llm.Client, sink Sink) *Session {
	t.Helper()
	pool := testPool(t, scripts, "a")
	s := New("test-session", testConfig(), pool, model, nil, sink, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(s.Stop)
	return s
}

func TestSession_ConsolidatesDisagreement(t *testing.T) {
	sink := &captureSink{}
	s := startSession(t, map[string][]mock.Utterance{
		"a": finals(mock.Utterance{Final: "it is great", WordConfs: []float64{0.9, 0.9, 0.95}}),
		"b": finals(mock.Utterance{Final: "it is grate", WordConfs: []float64{0.9, 0.9, 0.60}}),
	}, nil, sink)

	if err := s.PushAudio([]byte{1, 2}, 100); err != nil {
		t.Fatalf("push: %v", err)
	}

	waitFor(t, func() bool { return len(sink.utterances()) == 1 })
	ev := sink.utterances()[0]
	if ev.Sequence != 0 {
		t.Errorf("expected sequence 0, got %d", ev.Sequence)
	}
	if ev.Text != "it is great" {
		t.Errorf("expected 'it is great', got %q", ev.Text)
	}
	if ev.Disagreements != 1 {
		t.Errorf("expected 1 disagreement, got %d", ev.Disagreements)
	}
	if ev.SingleSource {
		t.Error("expected multi-source event")
	}
	if len(ev.Words) != 3 {
		t.Fatalf("expected 3 words, got %d", len(ev.Words))
	}
	w := ev.Words[2]
	if w.Text != "great" || w.Reason != "confidence margin" {
		t.Errorf("expected 'great' by confidence margin, got %+v", w)
	}
	if w.Sources["b"].Text != "grate" {
		t.Errorf("expected losing value recorded, got %v", w.Sources)
	}
	// one raw final per engine was forwarded
	waitFor(t, func() bool {
		n := 0
		sink.mu.Lock()
		defer sink.mu.Unlock()
		for _, r := range sink.raws {
			if r.Final {
				n++
			}
		}
		return n == 2
	})
}

func TestSession_ReordersAcrossSlowJudgment(t *testing.T) {
	release := make(chan struct{})
	model := llm.NewMockClient(func(ctx context.Context, req llm.Request) ([]llm.Decision, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		var out []llm.Decision
		for _, d := range req.Disagreements {
			out = append(out, llm.Decision{SlotID: d.SlotID, ChosenText: d.Candidates[0].Text, Reason: "context"})
		}
		return out, nil
	})

	sink := &captureSink{}
	s := startSession(t, map[string][]mock.Utterance{
		// first utterance disagrees within the margin and escalates,
		// second agrees and completes instantly
		"a": finals(
			mock.Utterance{Final: "affect", WordConfs: []float64{0.80}},
			mock.Utterance{Final: "yes", WordConfs: []float64{0.95}},
		),
		"b": finals(
			mock.Utterance{Final: "effect", WordConfs: []float64{0.75}},
			mock.Utterance{Final: "yes", WordConfs: []float64{0.93}},
		),
	}, model, sink)

	if err := s.PushAudio([]byte{1}, 100); err != nil {
		t.Fatalf("push 1: %v", err)
	}
	if err := s.PushAudio([]byte{1}, 200); err != nil {
		t.Fatalf("push 2: %v", err)
	}

	// the second utterance is arbitrated while the first waits on the model
	time.Sleep(50 * time.Millisecond)
	if got := len(sink.utterances()); got != 0 {
		t.Fatalf("expected no emission before the judgment returned, got %d", got)
	}

	close(release)
	waitFor(t, func() bool { return len(sink.utterances()) == 2 })
	utts := sink.utterances()
	if utts[0].Sequence != 0 || utts[1].Sequence != 1 {
		t.Errorf("expected emission order 0,1, got %d,%d", utts[0].Sequence, utts[1].Sequence)
	}
	if utts[0].Text != "affect" {
		t.Errorf("expected judged text 'affect', got %q", utts[0].Text)
	}
	if utts[1].Text != "yes" {
		t.Errorf("expected 'yes', got %q", utts[1].Text)
	}
}

func TestSession_SingleEngineBypass(t *testing.T) {
	sink := &captureSink{}
	s := startSession(t, map[string][]mock.Utterance{
		"a": finals(mock.Utterance{Final: "only one opinion", Confidence: 0.88}),
	}, nil, sink)

	if err := s.PushAudio([]byte{1}, 100); err != nil {
		t.Fatalf("push: %v", err)
	}

	waitFor(t, func() bool { return len(sink.utterances()) == 1 })
	ev := sink.utterances()[0]
	if !ev.SingleSource {
		t.Error("expected single-source flag")
	}
	if ev.Text != "only one opinion" {
		t.Errorf("expected the raw text verbatim, got %q", ev.Text)
	}
	if ev.Disagreements != 0 {
		t.Errorf("expected 0 disagreements, got %d", ev.Disagreements)
	}
}

func TestSession_AllEnginesFailedIsRecoverable(t *testing.T) {
	sink := &captureSink{}
	pool := failingPool(t)
	s := New("test-session", testConfig(), pool, nil, nil, sink, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(s.Stop)

	if err := s.PushAudio([]byte{1}, 100); err != nil {
		t.Fatalf("push: %v", err)
	}

	waitFor(t, func() bool {
		for _, ev := range sink.errorEvents() {
			if ev.Code == models.CodeAllEnginesFailed {
				return true
			}
		}
		return false
	})
	for _, ev := range sink.errorEvents() {
		if ev.Fatal {
			t.Errorf("expected recoverable errors only, got fatal %+v", ev)
		}
	}
	if len(sink.utterances()) != 0 {
		t.Errorf("expected no utterance event, got %d", len(sink.utterances()))
	}
	// the session stays usable
	if err := s.PushAudio([]byte{1}, 200); err != nil {
		t.Errorf("expected session to survive, got %v", err)
	}
}

func TestSession_OutOfOrderAudioIsFatal(t *testing.T) {
	sink := &captureSink{}
	s := startSession(t, map[string][]mock.Utterance{
		"a": finals(mock.Utterance{Partials: []string{"..."}, Final: "hello", Confidence: 0.9}),
		"b": finals(mock.Utterance{Partials: []string{"..."}, Final: "hello", Confidence: 0.9}),
	}, nil, sink)

	if err := s.PushAudio([]byte{1}, 100); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := s.PushAudio([]byte{1}, 50); !errors.Is(err, ErrOutOfOrderAudio) {
		t.Fatalf("expected ErrOutOfOrderAudio, got %v", err)
	}

	waitFor(t, func() bool {
		for _, ev := range sink.errorEvents() {
			if ev.Code == models.CodeSessionFatal && ev.Fatal {
				return true
			}
		}
		return false
	})
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected session to stop after fatal error")
	}
}

func TestSession_StopDiscardsPendingUtterance(t *testing.T) {
	started := make(chan struct{})
	model := llm.NewMockClient(func(ctx context.Context, req llm.Request) ([]llm.Decision, error) {
		close(started)
		<-ctx.Done()
		return nil, llm.NewError(llm.KindTimeout, ctx.Err())
	})

	sink := &captureSink{}
	s := startSession(t, map[string][]mock.Utterance{
		"a": finals(mock.Utterance{Final: "affect", WordConfs: []float64{0.80}}),
		"b": finals(mock.Utterance{Final: "effect", WordConfs: []float64{0.75}}),
	}, model, sink)

	if err := s.PushAudio([]byte{1}, 100); err != nil {
		t.Fatalf("push: %v", err)
	}
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("judgment call never started")
	}

	s.Stop()

	if got := len(sink.utterances()); got != 0 {
		t.Errorf("expected the in-flight utterance to be discarded, got %d events", got)
	}
}

func TestSession_ContextFeedsJudgment(t *testing.T) {
	var gotWindow []string
	var mu sync.Mutex
	model := llm.NewMockClient(func(ctx context.Context, req llm.Request) ([]llm.Decision, error) {
		mu.Lock()
		gotWindow = append([]string{}, req.ContextWindow...)
		mu.Unlock()
		var out []llm.Decision
		for _, d := range req.Disagreements {
			out = append(out, llm.Decision{SlotID: d.SlotID, ChosenText: d.Candidates[0].Text, Reason: "context"})
		}
		return out, nil
	})

	sink := &captureSink{}
	s := startSession(t, map[string][]mock.Utterance{
		"a": finals(
			mock.Utterance{Final: "hello there", WordConfs: []float64{0.95, 0.95}},
			mock.Utterance{Final: "affect", WordConfs: []float64{0.80}},
		),
		"b": finals(
			mock.Utterance{Final: "hello there", WordConfs: []float64{0.93, 0.94}},
			mock.Utterance{Final: "effect", WordConfs: []float64{0.75}},
		),
	}, model, sink)

	if err := s.PushAudio([]byte{1}, 100); err != nil {
		t.Fatalf("push 1: %v", err)
	}
	waitFor(t, func() bool { return len(sink.utterances()) == 1 })

	if err := s.PushAudio([]byte{1}, 200); err != nil {
		t.Fatalf("push 2: %v", err)
	}
	waitFor(t, func() bool { return len(sink.utterances()) == 2 })

	mu.Lock()
	defer mu.Unlock()
	if len(gotWindow) != 1 || gotWindow[0] != "hello there" {
		t.Errorf("expected the prior utterance in the context window, got %v", gotWindow)
	}
}

func TestSession_ContextFollowsConsecutiveJudgments(t *testing.T) {
	var mu sync.Mutex
	var windows [][]string
	model := llm.NewMockClient(func(ctx context.Context, req llm.Request) ([]llm.Decision, error) {
		mu.Lock()
		windows = append(windows, append([]string{}, req.ContextWindow...))
		mu.Unlock()
		var out []llm.Decision
		for _, d := range req.Disagreements {
			out = append(out, llm.Decision{SlotID: d.SlotID, ChosenText: d.Candidates[0].Text, Reason: "context"})
		}
		return out, nil
	})

	sink := &captureSink{}
	s := startSession(t, map[string][]mock.Utterance{
		// both utterances disagree within the margin and escalate
		"a": finals(
			mock.Utterance{Final: "affect", WordConfs: []float64{0.80}},
			mock.Utterance{Final: "there", WordConfs: []float64{0.80}},
		),
		"b": finals(
			mock.Utterance{Final: "effect", WordConfs: []float64{0.75}},
			mock.Utterance{Final: "their", WordConfs: []float64{0.75}},
		),
	}, model, sink)

	if err := s.PushAudio([]byte{1}, 100); err != nil {
		t.Fatalf("push 1: %v", err)
	}
	if err := s.PushAudio([]byte{1}, 200); err != nil {
		t.Fatalf("push 2: %v", err)
	}
	waitFor(t, func() bool { return len(sink.utterances()) == 2 })

	mu.Lock()
	defer mu.Unlock()
	if len(windows) != 2 {
		t.Fatalf("expected 2 judgment calls, got %d", len(windows))
	}
	if len(windows[0]) != 0 {
		t.Errorf("expected an empty window for the first utterance, got %v", windows[0])
	}
	if len(windows[1]) != 1 || windows[1][0] != "affect" {
		t.Errorf("expected the first utterance in the second window, got %v", windows[1])
	}
}

func failingPool(t *testing.T) *engine.Pool {
	t.Helper()
	pool, err := engine.NewPool(context.Background(),
		[]engine.Spec{{ID: "a", Kind: "test"}, {ID: "b", Kind: "test"}}, "a",
		func(_ context.Context, spec engine.Spec) (engine.Adapter, error) {
			return &brokenAdapter{id: spec.ID}, nil
		})
	if err != nil {
		t.Fatalf("building pool: %v", err)
	}
	return pool
}

type brokenAdapter struct {
	id string
}

func (b *brokenAdapter) Configure(engine.Options) error { return nil }
func (b *brokenAdapter) Start(context.Context, engine.Callback) error {
	return nil
}
func (b *brokenAdapter) SendAudio(context.Context, []byte) error {
	return engine.NewError(b.id, engine.KindUnavailable, errors.New("backend down"))
}
func (b *brokenAdapter) Close() error { return nil }
