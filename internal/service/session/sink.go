package session

import (
	"context"

	"stt-consolidation-service/internal/models"
)

// Sink receives a session's outbound events. Implementations must be safe
// for concurrent use across sessions.
type Sink interface {
	Utterance(ctx context.Context, ev models.UtteranceEvent) error
	Raw(ctx context.Context, ev models.EngineTranscriptEvent) error
	Error(ctx context.Context, ev models.ErrorEvent) error
}

// MultiSink fans every event out to several sinks. All sinks are attempted;
// the first error encountered is returned.
type MultiSink []Sink

func (m MultiSink) Utterance(ctx context.Context, ev models.UtteranceEvent) error {
	var first error
	for _, s := range m {
		if err := s.Utterance(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiSink) Raw(ctx context.Context, ev models.EngineTranscriptEvent) error {
	var first error
	for _, s := range m {
		if err := s.Raw(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiSink) Error(ctx context.Context, ev models.ErrorEvent) error {
	var first error
	for _, s := range m {
		if err := s.Error(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
