// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "stt_consolidation"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal   prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionsSuccess prometheus.Counter
	SessionsFailed  prometheus.Counter
	SessionDuration prometheus.Histogram

	// Audio metrics
	AudioBytesReceived  prometheus.Counter
	AudioChunksReceived prometheus.Counter

	// Engine metrics
	DispatchLatency *prometheus.HistogramVec
	EngineErrors    *prometheus.CounterVec
	EngineInterims  *prometheus.CounterVec
	EngineFinals    *prometheus.CounterVec

	// Consolidation metrics
	UtterancesTotal      *prometheus.CounterVec
	UtterancesFailed     prometheus.Counter
	Disagreements        *prometheus.CounterVec
	ConsolidationLatency prometheus.Histogram

	// LLM metrics
	LLMCalls     *prometheus.CounterVec
	LLMLatency   prometheus.Histogram
	LLMFallbacks *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		// Session metrics
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of transcription sessions started",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active transcription sessions",
		}),
		SessionsSuccess: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_success_total",
			Help:      "Total number of sessions completed cleanly",
		}),
		SessionsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_failed_total",
			Help:      "Total number of sessions terminated by a fatal error",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of transcription sessions in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),

		// Audio metrics
		AudioBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes received",
		}),
		AudioChunksReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_received_total",
			Help:      "Total audio chunks received",
		}),

		// Engine metrics
		DispatchLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_dispatch_latency_seconds",
			Help:      "Latency of dispatching one audio chunk to one engine",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 3},
		}, []string{"engine"}),
		EngineErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_errors_total",
			Help:      "Total number of engine errors",
		}, []string{"engine", "error_type"}),
		EngineInterims: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_interims_total",
			Help:      "Total number of interim results received",
		}, []string{"engine"}),
		EngineFinals: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_finals_total",
			Help:      "Total number of final results received",
		}, []string{"engine"}),

		// Consolidation metrics
		UtterancesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_total",
			Help:      "Total number of consolidated utterances emitted",
		}, []string{"single_source"}),
		UtterancesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_failed_total",
			Help:      "Total number of utterances lost because every engine failed",
		}),
		Disagreements: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disagreements_total",
			Help:      "Total number of word slots resolved after a disagreement",
		}, []string{"reason"}),
		ConsolidationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "consolidation_latency_seconds",
			Help:      "Time from utterance close to consolidated event emission",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}),

		// LLM metrics
		LLMCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "Total number of tie-breaker calls by outcome",
		}, []string{"outcome"}),
		LLMLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_latency_seconds",
			Help:      "Tie-breaker round-trip latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		LLMFallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_fallbacks_total",
			Help:      "Total number of disagreements resolved without the tie-breaker",
		}, []string{"reason"}),

		// Kafka publish metrics
		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordSessionStart records a new session starting.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session ending.
func (m *Metrics) RecordSessionEnd(success bool, durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
	if success {
		m.SessionsSuccess.Inc()
	} else {
		m.SessionsFailed.Inc()
	}
}

// RecordAudioReceived records audio bytes and chunks received.
func (m *Metrics) RecordAudioReceived(bytes int) {
	m.AudioBytesReceived.Add(float64(bytes))
	m.AudioChunksReceived.Inc()
}

// RecordDispatch records one chunk dispatch to one engine.
func (m *Metrics) RecordDispatch(engine string, latencySeconds float64) {
	m.DispatchLatency.WithLabelValues(engine).Observe(latencySeconds)
}

// RecordEngineError records an engine error.
func (m *Metrics) RecordEngineError(engine, errorType string) {
	m.EngineErrors.WithLabelValues(engine, errorType).Inc()
}

// RecordInterim records an interim result received from an engine.
func (m *Metrics) RecordInterim(engine string) {
	m.EngineInterims.WithLabelValues(engine).Inc()
}

// RecordFinal records a final result received from an engine.
func (m *Metrics) RecordFinal(engine string) {
	m.EngineFinals.WithLabelValues(engine).Inc()
}

// RecordUtterance records a consolidated utterance emission.
func (m *Metrics) RecordUtterance(singleSource bool, latencySeconds float64) {
	label := "false"
	if singleSource {
		label = "true"
	}
	m.UtterancesTotal.WithLabelValues(label).Inc()
	m.ConsolidationLatency.Observe(latencySeconds)
}

// RecordUtteranceFailed records an utterance lost to total engine failure.
func (m *Metrics) RecordUtteranceFailed() {
	m.UtterancesFailed.Inc()
}

// RecordDisagreement records a resolved disagreement by resolution reason.
func (m *Metrics) RecordDisagreement(reason string) {
	m.Disagreements.WithLabelValues(reason).Inc()
}

// RecordLLMCall records a tie-breaker round trip.
func (m *Metrics) RecordLLMCall(outcome string, latencySeconds float64) {
	m.LLMCalls.WithLabelValues(outcome).Inc()
	m.LLMLatency.Observe(latencySeconds)
}

// RecordLLMFallback records a disagreement settled before the tie-breaker.
func (m *Metrics) RecordLLMFallback(reason string) {
	m.LLMFallbacks.WithLabelValues(reason).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}
