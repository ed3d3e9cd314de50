package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	// Clear relevant env vars
	envVars := []string{
		"SERVICE_PRINCIPAL", "HTTP_PORT", "LOG_LEVEL",
		"ENGINES", "PRIMARY_ENGINE", "STT_LANGUAGE_CODE", "STT_SAMPLE_RATE_HZ",
		"CONSOLIDATION_ENABLED", "CONSOLIDATION_MARGIN",
		"SESSION_CONTEXT_WINDOW", "SESSION_IDLE_TIMEOUT",
		"LLM_ENABLED", "LLM_ENDPOINT", "LLM_MODEL", "LLM_TIMEOUT",
		"KAFKA_ENABLED", "KAFKA_BROKERS",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}

	cfg := Load()

	// Service defaults
	if cfg.Service.Principal != "svc-stt-consolidation" {
		t.Errorf("expected default principal 'svc-stt-consolidation', got %s", cfg.Service.Principal)
	}
	if cfg.Service.HTTPPort != "8000" {
		t.Errorf("expected default port '8000', got %s", cfg.Service.HTTPPort)
	}

	// Engine defaults
	if len(cfg.Engines.Set) != 2 {
		t.Fatalf("expected 2 default engines, got %d", len(cfg.Engines.Set))
	}
	if cfg.Engines.Set[0].ID != "primary" || cfg.Engines.Set[0].Kind != "mock" {
		t.Errorf("unexpected first engine %+v", cfg.Engines.Set[0])
	}
	if cfg.Engines.Primary != "primary" {
		t.Errorf("expected primary engine 'primary', got %s", cfg.Engines.Primary)
	}
	if cfg.Engines.LanguageCode != "en-US" {
		t.Errorf("expected default language 'en-US', got %s", cfg.Engines.LanguageCode)
	}
	if cfg.Engines.SampleRateHz != 16000 {
		t.Errorf("expected default sample rate 16000, got %d", cfg.Engines.SampleRateHz)
	}

	// Consolidation defaults
	if !cfg.Consolidation.Enabled {
		t.Error("expected consolidation enabled by default")
	}
	if cfg.Consolidation.Margin != 0.15 {
		t.Errorf("expected default margin 0.15, got %v", cfg.Consolidation.Margin)
	}
	if cfg.Consolidation.DispatchTimeout != 3*time.Second {
		t.Errorf("expected default dispatch timeout 3s, got %v", cfg.Consolidation.DispatchTimeout)
	}

	// Session defaults
	if cfg.Session.ContextWindow != 5 {
		t.Errorf("expected default context window 5, got %d", cfg.Session.ContextWindow)
	}
	if cfg.Session.IdleTimeout != 60*time.Second {
		t.Errorf("expected default idle timeout 60s, got %v", cfg.Session.IdleTimeout)
	}

	// LLM defaults
	if cfg.LLM.Enabled {
		t.Error("expected LLM disabled by default")
	}
	if cfg.LLM.Model != "llama3" {
		t.Errorf("expected default model 'llama3', got %s", cfg.LLM.Model)
	}

	// Kafka defaults
	if cfg.Kafka.Enabled {
		t.Error("expected Kafka disabled by default")
	}
	if cfg.Kafka.TopicUtterance != "transcripts.utterance" {
		t.Errorf("expected default topic 'transcripts.utterance', got %s", cfg.Kafka.TopicUtterance)
	}

	// Observability defaults
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	os.Setenv("SERVICE_PRINCIPAL", "custom-principal")
	os.Setenv("HTTP_PORT", "9999")
	os.Setenv("ENGINES", "g1=google, k1=kaldi")
	os.Setenv("PRIMARY_ENGINE", "g1")
	os.Setenv("STT_LANGUAGE_CODE", "lt-LT")
	os.Setenv("CONSOLIDATION_MARGIN", "0.25")
	os.Setenv("SESSION_CONTEXT_WINDOW", "8")
	os.Setenv("SESSION_IDLE_TIMEOUT", "2m")
	os.Setenv("LLM_ENABLED", "true")
	os.Setenv("KAFKA_ENABLED", "true")
	os.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	defer func() {
		os.Unsetenv("SERVICE_PRINCIPAL")
		os.Unsetenv("HTTP_PORT")
		os.Unsetenv("ENGINES")
		os.Unsetenv("PRIMARY_ENGINE")
		os.Unsetenv("STT_LANGUAGE_CODE")
		os.Unsetenv("CONSOLIDATION_MARGIN")
		os.Unsetenv("SESSION_CONTEXT_WINDOW")
		os.Unsetenv("SESSION_IDLE_TIMEOUT")
		os.Unsetenv("LLM_ENABLED")
		os.Unsetenv("KAFKA_ENABLED")
		os.Unsetenv("KAFKA_BROKERS")
	}()

	cfg := Load()

	if cfg.Service.Principal != "custom-principal" {
		t.Errorf("expected principal 'custom-principal', got %s", cfg.Service.Principal)
	}
	if cfg.Service.HTTPPort != "9999" {
		t.Errorf("expected port '9999', got %s", cfg.Service.HTTPPort)
	}
	if len(cfg.Engines.Set) != 2 {
		t.Fatalf("expected 2 engines, got %d", len(cfg.Engines.Set))
	}
	if cfg.Engines.Set[1].ID != "k1" || cfg.Engines.Set[1].Kind != "kaldi" {
		t.Errorf("unexpected second engine %+v", cfg.Engines.Set[1])
	}
	if cfg.Engines.Primary != "g1" {
		t.Errorf("expected primary 'g1', got %s", cfg.Engines.Primary)
	}
	if cfg.Engines.LanguageCode != "lt-LT" {
		t.Errorf("expected language 'lt-LT', got %s", cfg.Engines.LanguageCode)
	}
	if cfg.Consolidation.Margin != 0.25 {
		t.Errorf("expected margin 0.25, got %v", cfg.Consolidation.Margin)
	}
	if cfg.Session.ContextWindow != 8 {
		t.Errorf("expected context window 8, got %d", cfg.Session.ContextWindow)
	}
	if cfg.Session.IdleTimeout != 2*time.Minute {
		t.Errorf("expected idle timeout 2m, got %v", cfg.Session.IdleTimeout)
	}
	if !cfg.LLM.Enabled {
		t.Error("expected LLM enabled")
	}
	if !cfg.Kafka.Enabled {
		t.Error("expected Kafka enabled")
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	os.Setenv("STT_SAMPLE_RATE_HZ", "not-a-number")
	os.Setenv("CONSOLIDATION_MARGIN", "wide")
	os.Setenv("SESSION_IDLE_TIMEOUT", "soon")
	os.Setenv("LLM_ENABLED", "maybe")

	defer func() {
		os.Unsetenv("STT_SAMPLE_RATE_HZ")
		os.Unsetenv("CONSOLIDATION_MARGIN")
		os.Unsetenv("SESSION_IDLE_TIMEOUT")
		os.Unsetenv("LLM_ENABLED")
	}()

	cfg := Load()

	if cfg.Engines.SampleRateHz != 16000 {
		t.Errorf("expected fallback sample rate 16000, got %d", cfg.Engines.SampleRateHz)
	}
	if cfg.Consolidation.Margin != 0.15 {
		t.Errorf("expected fallback margin 0.15, got %v", cfg.Consolidation.Margin)
	}
	if cfg.Session.IdleTimeout != 60*time.Second {
		t.Errorf("expected fallback idle timeout 60s, got %v", cfg.Session.IdleTimeout)
	}
	if cfg.LLM.Enabled {
		t.Error("expected fallback LLM disabled")
	}
}

func TestParseEngines_MalformedEntries(t *testing.T) {
	got := parseEngines("a=mock,,bad,=mock,c=,b=kaldi")
	if len(got) != 2 {
		t.Fatalf("expected 2 valid entries, got %v", got)
	}
	if got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("unexpected entries %v", got)
	}
}
