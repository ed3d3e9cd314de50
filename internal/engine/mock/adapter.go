// Package mock provides a mock engine adapter for running without cloud
// credentials. It simulates realistic recognizer behavior with progressive
// interim results and exactly one final result per utterance, including
// word-level confidences so the full consolidation path can be exercised.
package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"stt-consolidation-service/internal/engine"
)

// Utterance is one scripted utterance with progressive transcripts.
type Utterance struct {
	Partials   []string  // progressive interim transcripts
	Final      string    // final transcript text
	Confidence float64   // overall confidence for the final
	WordConfs  []float64 // optional per-word confidences; falls back to Confidence
}

// DefaultUtterances provides sample utterances for simulation.
var DefaultUtterances = []Utterance{
	{
		Partials:   []string{"I want", "I want to", "I want to cancel"},
		Final:      "I want to cancel my subscription",
		Confidence: 0.94,
	},
	{
		Partials:   []string{"Yes", "Yes please"},
		Final:      "Yes please go ahead",
		Confidence: 0.97,
	},
	{
		Partials:   []string{"Can you", "Can you help", "Can you help me with"},
		Final:      "Can you help me with my account",
		Confidence: 0.91,
	},
	{
		Partials:   []string{"Thank you"},
		Final:      "Thank you very much",
		Confidence: 0.98,
	},
}

// Adapter implements engine.Adapter with scripted responses.
type Adapter struct {
	id     string
	script []Utterance
	delay  time.Duration

	mu            sync.Mutex
	cb            engine.Callback
	opts          engine.Options
	audioReceived int
	scriptIndex   int
	partialIndex  int
	closed        bool
}

// New creates a mock adapter cycling through DefaultUtterances.
func New(id string) *Adapter {
	return NewScripted(id, DefaultUtterances)
}

// NewScripted creates a mock adapter with a fixed utterance script.
// Tests use a zero delay for synchronous, deterministic callbacks.
func NewScripted(id string, script []Utterance) *Adapter {
	return &Adapter{id: id, script: script, delay: 50 * time.Millisecond}
}

// SetDelay overrides the simulated processing delay. Zero makes callbacks
// synchronous within SendAudio.
func (a *Adapter) SetDelay(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.delay = d
}

// Configure records the options; the mock honors none of them.
func (a *Adapter) Configure(opts engine.Options) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.opts = opts
	return nil
}

// Start begins a mock recognition session.
func (a *Adapter) Start(_ context.Context, cb engine.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cb = cb
	return nil
}

// SendAudio simulates receiving audio. Each call advances the script by one
// interim result; once all interims are sent the next call produces the final
// result, mimicking silence-triggered end of utterance.
func (a *Adapter) SendAudio(_ context.Context, _ []byte) error {
	a.mu.Lock()
	if a.closed || a.cb == nil || len(a.script) == 0 {
		a.mu.Unlock()
		return nil
	}
	a.audioReceived++
	utt := a.script[a.scriptIndex%len(a.script)]

	if a.partialIndex < len(utt.Partials) {
		text := utt.Partials[a.partialIndex]
		a.partialIndex++
		cb, delay := a.cb, a.delay
		a.mu.Unlock()
		deliver(delay, func() {
			cb.OnInterim(engine.Result{EngineID: a.id, Text: text, Final: false})
		})
		return nil
	}

	// interims exhausted: close the utterance and advance the script
	cb, delay := a.cb, a.delay
	res := a.finalResult(utt)
	a.scriptIndex++
	a.partialIndex = 0
	a.mu.Unlock()
	deliver(delay, func() {
		cb.OnFinal(res)
	})
	return nil
}

func (a *Adapter) finalResult(utt Utterance) engine.Result {
	words := strings.Fields(utt.Final)
	res := engine.Result{
		EngineID:   a.id,
		Text:       utt.Final,
		Confidence: utt.Confidence,
		Final:      true,
	}
	for i, w := range words {
		conf := utt.Confidence
		if i < len(utt.WordConfs) {
			conf = utt.WordConfs[i]
		}
		res.Words = append(res.Words, engine.WordResult{
			Text:       w,
			Confidence: conf,
			StartMs:    int64(i * 300),
			EndMs:      int64((i + 1) * 300),
		})
	}
	return res
}

// Close ends the mock session.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func deliver(delay time.Duration, fn func()) {
	if delay <= 0 {
		fn()
		return
	}
	go func() {
		time.Sleep(delay)
		fn()
	}()
}
