package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/vigilsec/sentinel/domain/entity"
)

// ProducerConfig defines Kafka producer settings
type ProducerConfig struct {
	Brokers      []string      `json:"brokers"`
	EventTopic   string        `json:"event_topic"`
	BatchTimeout time.Duration `json:"batch_timeout"`
}

// EventProducer publishes correlated events and incident notifications
// to Kafka for downstream consumers.
type EventProducer struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewEventProducer creates a Kafka event producer
func NewEventProducer(logger *zap.Logger, config *ProducerConfig) *EventProducer {
	if config == nil {
		config = &ProducerConfig{}
	}
	if len(config.Brokers) == 0 {
		config.Brokers = []string{"localhost:9092"}
	}
	if config.EventTopic == "" {
		config.EventTopic = "correlated-events"
	}
	if config.BatchTimeout == 0 {
		config.BatchTimeout = 100 * time.Millisecond
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.EventTopic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: config.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
	}

	return &EventProducer{
		writer: writer,
		logger: logger.With(zap.String("component", "event-producer")),
	}
}

// PublishEvent publishes a correlated event keyed by its primary
// source IP so per-source ordering is preserved.
func (p *EventProducer) PublishEvent(ctx context.Context, event *entity.CorrelatedEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal correlated event: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(event.PrimarySourceIP()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "rule", Value: []byte(event.Rule)},
			{Key: "severity", Value: []byte(event.Severity)},
		},
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("failed to publish correlated event: %w", err)
	}

	p.logger.Debug("Published correlated event",
		zap.String("event_id", event.ID.String()),
		zap.String("rule", string(event.Rule)),
	)
	return nil
}

// Close flushes pending messages and releases the writer
func (p *EventProducer) Close() error {
	return p.writer.Close()
}
