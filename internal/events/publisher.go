// Package events provides event publishing functionality.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"stt-consolidation-service/internal/models"
	"stt-consolidation-service/internal/observability/metrics"
)

// Publisher publishes transcript events to separate Kafka topics. It
// implements the session sink; with Kafka disabled events are logged only.
type Publisher struct {
	writerUtterance *kafka.Writer
	writerRaw       *kafka.Writer
	writerError     *kafka.Writer
	principal       string
	topicUtterance  string
	topicRaw        string
	topicError      string
	enabled         bool
	metrics         *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers        []string
	TopicUtterance string
	TopicRaw       string
	TopicError     string
	Principal      string
	Enabled        bool
}

// New creates a new Kafka event publisher with separate topics for
// consolidated utterances, raw engine transcripts, and error events.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled: false,
			metrics: m,
		}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:      cfg.Principal,
			topicUtterance: cfg.TopicUtterance,
			topicRaw:       cfg.TopicRaw,
			topicError:     cfg.TopicError,
			enabled:        false,
			metrics:        m,
		}
	}

	// Custom dialer with longer timeouts for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicUtterance", cfg.TopicUtterance).
		Str("topicRaw", cfg.TopicRaw).
		Str("topicError", cfg.TopicError).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerUtterance: newWriter(cfg.TopicUtterance),
		writerRaw:       newWriter(cfg.TopicRaw),
		writerError:     newWriter(cfg.TopicError),
		principal:       cfg.Principal,
		topicUtterance:  cfg.TopicUtterance,
		topicRaw:        cfg.TopicRaw,
		topicError:      cfg.TopicError,
		enabled:         true,
		metrics:         m,
	}
}

// Utterance publishes a consolidated utterance event, keyed by session so
// all utterances of a session land on one partition in order.
func (p *Publisher) Utterance(ctx context.Context, ev models.UtteranceEvent) error {
	return p.publish(ctx, p.writerUtterance, p.topicUtterance, ev.EventType, ev.SessionID, ev)
}

// Raw publishes a per-engine interim or final transcript event.
func (p *Publisher) Raw(ctx context.Context, ev models.EngineTranscriptEvent) error {
	return p.publish(ctx, p.writerRaw, p.topicRaw, ev.EventType, ev.SessionID, ev)
}

// Error publishes a session-scoped error event.
func (p *Publisher) Error(ctx context.Context, ev models.ErrorEvent) error {
	return p.publish(ctx, p.writerError, p.topicError, ev.EventType, ev.SessionID, ev)
}

// publish is the internal method that writes to a specific Kafka writer.
func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	// If Kafka is disabled, just log
	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes all Kafka writers.
func (p *Publisher) Close() error {
	var err error
	for _, w := range []*kafka.Writer{p.writerUtterance, p.writerRaw, p.writerError} {
		if w == nil {
			continue
		}
		if e := w.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing Kafka writer")
			err = e
		}
	}
	return err
}
