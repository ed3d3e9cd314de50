// Package engine defines the interface for speech-to-text engine adapters.
package engine

import "context"

// WordResult is one recognized word with its confidence and audio offsets.
type WordResult struct {
	Text       string
	Confidence float64
	StartMs    int64
	EndMs      int64
}

// Result is one engine's transcription of one utterance. Interim results
// (Final=false) are advisory only and never enter alignment.
type Result struct {
	EngineID   string
	Text       string
	Confidence float64
	Words      []WordResult
	Final      bool
}

// Options holds engine-specific settings applied at session creation.
type Options struct {
	Language     string
	SampleRateHz int
	Punctuation  bool
}

// Callback receives transcript results from one engine.
type Callback interface {
	// OnInterim is called for each interim result. Delivery is at-most-once
	// per received partial, with no ordering guarantee across engines.
	OnInterim(res Result)

	// OnFinal is called when the engine closes an utterance.
	OnFinal(res Result)

	// OnError is called when the engine fails. The error is an *Error when
	// the failure kind could be classified.
	OnError(err error)
}

// Adapter wraps one external recognizer behind a uniform contract.
// An adapter instance is exclusively owned by one session; it must accept
// concurrent SendAudio calls for independent chunks.
type Adapter interface {
	// Configure applies engine-specific settings. Must be called before Start.
	Configure(opts Options) error

	// Start begins a streaming recognition session.
	Start(ctx context.Context, cb Callback) error

	// SendAudio sends raw PCM bytes to the engine.
	SendAudio(ctx context.Context, audio []byte) error

	// Close ends the session and releases resources.
	Close() error
}
