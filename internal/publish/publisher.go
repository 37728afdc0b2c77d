// Package publish hands index documents to Kafka for downstream indexers.
package publish

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/reoring/apimeta"
	"github.com/reoring/apimeta/internal/metrics"
)

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers []string
	Topic   string
	Enabled bool
}

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes index documents keyed by their id. When Kafka is disabled
// it only logs.
type Publisher struct {
	writer  messageWriter
	topic   string
	enabled bool
	metrics *metrics.Collector
	logger  zerolog.Logger
}

// New creates a publisher. A nil or disabled config, or one without brokers,
// yields a log-only publisher. m may be nil.
func New(cfg *Config, m *metrics.Collector) *Publisher {
	logger := log.With().Str("component", "publish").Logger()
	if cfg == nil || !cfg.Enabled || len(cfg.Brokers) == 0 {
		logger.Info().Msg("kafka disabled, using log-only mode")
		p := &Publisher{metrics: m, logger: logger}
		if cfg != nil {
			p.topic = cfg.Topic
		}
		return p
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}
	logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Msg("kafka publisher initialized")
	return &Publisher{writer: w, topic: cfg.Topic, enabled: true, metrics: m, logger: logger}
}

// Enabled reports whether messages reach Kafka.
func (p *Publisher) Enabled() bool { return p.enabled }

// Publish writes index under key id. The message value is the index document
// as JSON with its key order preserved.
func (p *Publisher) Publish(ctx context.Context, id string, index *apimeta.Document) error {
	if id == "" {
		return errors.New("publish: empty id")
	}
	payload, err := index.MarshalJSON()
	if err != nil {
		p.record("error")
		return err
	}

	p.logger.Debug().
		Str("topic", p.topic).
		Str("id", id).
		Int("bytes", len(payload)).
		Msg("publishing index document")

	if !p.enabled || p.writer == nil {
		p.record("skipped")
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(id),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error().Err(err).Str("topic", p.topic).Str("id", id).Msg("failed to write to kafka")
		p.record("error")
		return err
	}
	p.record("ok")
	return nil
}

func (p *Publisher) record(result string) {
	if p.metrics != nil {
		p.metrics.Published.WithLabelValues(result).Inc()
	}
}

// Close closes the underlying writer.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
