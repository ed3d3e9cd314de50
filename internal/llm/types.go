// Package llm defines the arbitration language-model client. The model is a
// replaceable, stateless request/response collaborator; one call carries all
// escalated disagreements of one utterance.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Candidate is one engine's proposal for a disputed slot.
type Candidate struct {
	EngineID   string  `json:"engineId"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Disagreement is one escalated slot with its candidate words.
type Disagreement struct {
	SlotID     int         `json:"slotId"`
	Candidates []Candidate `json:"candidates"`
}

// Request batches every escalated slot of one utterance together with each
// engine's aggregate text and the recent session context window.
type Request struct {
	Disagreements []Disagreement
	EngineTexts   map[string]string
	ContextWindow []string
}

// Decision is the model's structured judgment for one disagreement.
type Decision struct {
	SlotID     int    `json:"slotId"`
	ChosenText string `json:"chosenText"`
	Reason     string `json:"reason"`
}

// Client resolves a batch of disagreements. Implementations must be safe for
// concurrent use across sessions; each call is a pure request/response.
type Client interface {
	Resolve(ctx context.Context, req Request) ([]Decision, error)
}

// ErrorKind classifies arbitration-call failures. Every kind is recoverable
// via the confidence fallback, never session-fatal.
type ErrorKind int

const (
	KindTimeout ErrorKind = iota
	KindRateLimited
	KindInvalidResponse
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "TIMEOUT"
	case KindRateLimited:
		return "RATE_LIMITED"
	case KindInvalidResponse:
		return "INVALID_RESPONSE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", k)
	}
}

// Error is a classified arbitration-call failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llm: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("llm: %s", e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err as a classified failure.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the kind from err, defaulting to KindInvalidResponse.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInvalidResponse
}
