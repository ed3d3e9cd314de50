// Package models defines the data structures for transcript events.
package models

// Event type discriminators carried in every payload.
const (
	EventTypeUtterance = "transcript.utterance"
	EventTypeRaw       = "transcript.raw"
	EventTypeError     = "transcript.error"
)

// Error codes surfaced in ErrorEvent.
const (
	CodeEngineError      = "ENGINE_ERROR"
	CodeAllEnginesFailed = "ALL_ENGINES_FAILED"
	CodeLLMError         = "LLM_ERROR"
	CodeSessionFatal     = "SESSION_FATAL"
)

// EngineWord is one engine's raw value at an aligned word position.
// An empty Text means the engine produced no word for that position.
type EngineWord struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// WordDetail is one resolved word of a consolidated utterance.
type WordDetail struct {
	Text            string                `json:"text"`
	ConfidenceClass string                `json:"confidenceClass"`
	Sources         map[string]EngineWord `json:"sources"`
	Reason          string                `json:"reason,omitempty"`
}

// UtteranceEvent is the consolidated result for one utterance.
type UtteranceEvent struct {
	EventType     string       `json:"eventType"`
	SessionID     string       `json:"sessionId"`
	Sequence      uint64       `json:"sequence"`
	Text          string       `json:"text"`
	Words         []WordDetail `json:"words"`
	Speaker       *string      `json:"speaker"`
	Confidence    float64      `json:"confidence"`
	Disagreements int          `json:"disagreements"`
	SingleSource  bool         `json:"singleSource,omitempty"`
	Timestamp     int64        `json:"timestamp"`
}

// EngineTranscriptEvent is one engine's raw interim or final transcript,
// emitted independently of consolidation for live side-by-side display.
type EngineTranscriptEvent struct {
	EventType  string  `json:"eventType"`
	SessionID  string  `json:"sessionId"`
	EngineID   string  `json:"engineId"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Final      bool    `json:"final"`
	Timestamp  int64   `json:"timestamp"`
}

// ErrorEvent reports a failure scoped to a session. Fatal marks errors that
// terminate the session; everything else is recoverable and the session
// continues with the next chunk.
type ErrorEvent struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	Stage     string `json:"stage"`
	EngineID  string `json:"engineId,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Fatal     bool   `json:"fatal,omitempty"`
	Timestamp int64  `json:"timestamp"`
}
