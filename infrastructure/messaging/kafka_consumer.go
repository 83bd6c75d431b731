// Package messaging provides Kafka ingestion and alert publishing.
package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vigilsec/sentinel/domain/entity"
)

// SignalHandler processes one decoded security signal
type SignalHandler interface {
	HandleSignal(ctx context.Context, signal *entity.SecuritySignal) error
}

// ConsumerConfig defines Kafka consumer settings
type ConsumerConfig struct {
	Brokers []string `json:"brokers"`
	Topic   string   `json:"topic"`
	GroupID string   `json:"group_id"`

	// RateLimit caps signals consumed per second; 0 disables limiting
	RateLimit int `json:"rate_limit"`

	MinBytes       int           `json:"min_bytes"`
	MaxBytes       int           `json:"max_bytes"`
	CommitInterval time.Duration `json:"commit_interval"`
}

// SignalConsumer reads security signals from Kafka and feeds them to
// the detection pipeline.
type SignalConsumer struct {
	reader  *kafka.Reader
	handler SignalHandler
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewSignalConsumer creates a Kafka signal consumer
func NewSignalConsumer(logger *zap.Logger, config *ConsumerConfig, handler SignalHandler) *SignalConsumer {
	if config == nil {
		config = &ConsumerConfig{}
	}
	if len(config.Brokers) == 0 {
		config.Brokers = []string{"localhost:9092"}
	}
	if config.Topic == "" {
		config.Topic = "security-signals"
	}
	if config.GroupID == "" {
		config.GroupID = "sentinel-pipeline"
	}
	if config.MinBytes == 0 {
		config.MinBytes = 1
	}
	if config.MaxBytes == 0 {
		config.MaxBytes = 10e6
	}
	if config.CommitInterval == 0 {
		config.CommitInterval = time.Second
	}

	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), config.RateLimit)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        config.Brokers,
		Topic:          config.Topic,
		GroupID:        config.GroupID,
		MinBytes:       config.MinBytes,
		MaxBytes:       config.MaxBytes,
		CommitInterval: config.CommitInterval,
	})

	return &SignalConsumer{
		reader:  reader,
		handler: handler,
		limiter: limiter,
		logger:  logger.With(zap.String("component", "signal-consumer")),
	}
}

// Run consumes signals until the context is cancelled. Malformed and
// rejected messages are logged and skipped; the consumer keeps going.
func (c *SignalConsumer) Run(ctx context.Context) error {
	c.logger.Info("Starting signal consumer",
		zap.String("topic", c.reader.Config().Topic),
		zap.String("group", c.reader.Config().GroupID),
	)

	for {
		message, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("Failed to fetch message", zap.Error(err))
			continue
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		var signal entity.SecuritySignal
		if err := json.Unmarshal(message.Value, &signal); err != nil {
			c.logger.Warn("Skipping malformed signal",
				zap.Int64("offset", message.Offset),
				zap.Error(err),
			)
		} else if err := c.handler.HandleSignal(ctx, &signal); err != nil {
			c.logger.Warn("Signal rejected",
				zap.String("type", string(signal.Type)),
				zap.Error(err),
			)
		}

		if err := c.reader.CommitMessages(ctx, message); err != nil {
			c.logger.Error("Failed to commit offset", zap.Error(err))
		}
	}
}

// Close releases the Kafka reader
func (c *SignalConsumer) Close() error {
	return c.reader.Close()
}
