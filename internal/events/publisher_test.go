package events

import (
	"context"
	"testing"

	"stt-consolidation-service/internal/models"
)

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true, Brokers: []string{}}},
		{"empty brokers", &Config{Enabled: true, Brokers: nil}},
		{"nil config", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg)
			if p == nil {
				t.Fatal("expected non-nil publisher")
			}
			if p.enabled {
				t.Error("expected publisher to be disabled")
			}
			if p.writerUtterance != nil || p.writerRaw != nil || p.writerError != nil {
				t.Error("expected nil writers when disabled")
			}
		})
	}
}

func TestNew_ConfigValues(t *testing.T) {
	cfg := &Config{
		Enabled:        false,
		Brokers:        []string{"localhost:9092"},
		TopicUtterance: "test.utterance",
		TopicRaw:       "test.raw",
		TopicError:     "test.error",
		Principal:      "test-principal",
	}

	p := New(cfg)

	if p.principal != "test-principal" {
		t.Errorf("expected principal 'test-principal', got %s", p.principal)
	}
	if p.topicUtterance != "test.utterance" {
		t.Errorf("expected topic 'test.utterance', got %s", p.topicUtterance)
	}
	if p.topicRaw != "test.raw" {
		t.Errorf("expected topic 'test.raw', got %s", p.topicRaw)
	}
	if p.topicError != "test.error" {
		t.Errorf("expected topic 'test.error', got %s", p.topicError)
	}
}

func TestPublisher_PublishDisabled(t *testing.T) {
	p := New(&Config{Enabled: false})

	if err := p.Utterance(context.Background(), models.UtteranceEvent{
		EventType: models.EventTypeUtterance,
		SessionID: "ses-1",
		Text:      "hello world",
	}); err != nil {
		t.Errorf("utterance: expected no error when disabled, got %v", err)
	}

	if err := p.Raw(context.Background(), models.EngineTranscriptEvent{
		EventType: models.EventTypeRaw,
		SessionID: "ses-1",
		EngineID:  "a",
		Text:      "hello",
	}); err != nil {
		t.Errorf("raw: expected no error when disabled, got %v", err)
	}

	if err := p.Error(context.Background(), models.ErrorEvent{
		EventType: models.EventTypeError,
		SessionID: "ses-1",
		Code:      models.CodeEngineError,
	}); err != nil {
		t.Errorf("error: expected no error when disabled, got %v", err)
	}
}

func TestPublisher_Close_NoWriters(t *testing.T) {
	p := New(&Config{Enabled: false})

	if err := p.Close(); err != nil {
		t.Errorf("expected no error closing disabled publisher, got %v", err)
	}
}

func TestPublisher_Close_NilWriters(t *testing.T) {
	p := &Publisher{}

	if err := p.Close(); err != nil {
		t.Errorf("expected no error closing publisher with nil writers, got %v", err)
	}
}
