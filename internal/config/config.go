// Package config loads service configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Configuration holds all service configuration.
type Configuration struct {
	Service       ServiceConfig
	Engines       EnginesConfig
	Consolidation ConsolidationConfig
	Session       SessionConfig
	LLM           LLMConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds service identity and ports.
type ServiceConfig struct {
	Principal string
	HTTPPort  string
}

// EngineEntry is one configured engine.
type EngineEntry struct {
	ID   string
	Kind string
}

// EnginesConfig holds the engine set shared by new sessions.
type EnginesConfig struct {
	Set          []EngineEntry
	Primary      string
	LanguageCode string
	SampleRateHz int
	Punctuation  bool
	KaldiURL     string
}

// ConsolidationConfig tunes alignment and arbitration.
type ConsolidationConfig struct {
	Enabled         bool
	Margin          float64
	DispatchTimeout time.Duration
	FinalWait       time.Duration
}

// SessionConfig holds per-session lifecycle settings.
type SessionConfig struct {
	ContextWindow int
	IdleTimeout   time.Duration
}

// LLMConfig holds tie-breaker model settings.
type LLMConfig struct {
	Enabled  bool
	Endpoint string
	Model    string
	Timeout  time.Duration
}

// KafkaConfig holds Kafka publisher configuration.
type KafkaConfig struct {
	Enabled        bool
	Brokers        []string
	TopicUtterance string
	TopicRaw       string
	TopicError     string
}

// ObservabilityConfig holds logging and metrics configuration.
type ObservabilityConfig struct {
	LogLevel    string
	LogFormat   string
	MetricsPort string
}

// Load reads configuration from environment variables with defaults.
func Load() *Configuration {
	return &Configuration{
		Service: ServiceConfig{
			Principal: envOrDefault("SERVICE_PRINCIPAL", "svc-stt-consolidation"),
			HTTPPort:  envOrDefault("HTTP_PORT", "8000"),
		},
		Engines: EnginesConfig{
			Set:          parseEngines(envOrDefault("ENGINES", "primary=mock,secondary=mock")),
			Primary:      envOrDefault("PRIMARY_ENGINE", "primary"),
			LanguageCode: envOrDefault("STT_LANGUAGE_CODE", "en-US"),
			SampleRateHz: envOrDefaultInt("STT_SAMPLE_RATE_HZ", 16000),
			Punctuation:  envOrDefaultBool("STT_PUNCTUATION", true),
			KaldiURL:     envOrDefault("KALDI_WS_URL", "ws://localhost:8082/client/ws/speech"),
		},
		Consolidation: ConsolidationConfig{
			Enabled:         envOrDefaultBool("CONSOLIDATION_ENABLED", true),
			Margin:          envOrDefaultFloat("CONSOLIDATION_MARGIN", 0.15),
			DispatchTimeout: envOrDefaultDuration("ENGINE_DISPATCH_TIMEOUT", 3*time.Second),
			FinalWait:       envOrDefaultDuration("ENGINE_FINAL_WAIT", 2*time.Second),
		},
		Session: SessionConfig{
			ContextWindow: envOrDefaultInt("SESSION_CONTEXT_WINDOW", 5),
			IdleTimeout:   envOrDefaultDuration("SESSION_IDLE_TIMEOUT", 60*time.Second),
		},
		LLM: LLMConfig{
			Enabled:  envOrDefaultBool("LLM_ENABLED", false),
			Endpoint: envOrDefault("LLM_ENDPOINT", "http://localhost:11434"),
			Model:    envOrDefault("LLM_MODEL", "llama3"),
			Timeout:  envOrDefaultDuration("LLM_TIMEOUT", 10*time.Second),
		},
		Kafka: KafkaConfig{
			Enabled:        envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:        splitNonEmpty(envOrDefault("KAFKA_BROKERS", "")),
			TopicUtterance: envOrDefault("KAFKA_TOPIC_UTTERANCE", "transcripts.utterance"),
			TopicRaw:       envOrDefault("KAFKA_TOPIC_RAW", "transcripts.raw"),
			TopicError:     envOrDefault("KAFKA_TOPIC_ERROR", "transcripts.error"),
		},
		Observability: ObservabilityConfig{
			LogLevel:    envOrDefault("LOG_LEVEL", "info"),
			LogFormat:   envOrDefault("LOG_FORMAT", "json"),
			MetricsPort: envOrDefault("METRICS_PORT", "9090"),
		},
	}
}

// parseEngines parses an engine list of the form "id=kind,id=kind".
// Malformed entries are skipped.
func parseEngines(s string) []EngineEntry {
	var out []EngineEntry
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, kind, ok := strings.Cut(part, "=")
		id = strings.TrimSpace(id)
		kind = strings.TrimSpace(kind)
		if !ok || id == "" || kind == "" {
			continue
		}
		out = append(out, EngineEntry{ID: id, Kind: kind})
	}
	return out
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
