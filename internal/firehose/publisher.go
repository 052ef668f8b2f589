// Package firehose mirrors decoded ticks onto a kafka topic for downstream
// consumers. Delivery is fire-and-forget: the relay never waits on kafka and
// a write failure never reaches the broadcast path.
package firehose

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Vivek-1102/Capx/pkg/models"
)

// Writer abstracts the kafka writer for testing.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Publisher struct {
	writer Writer
	logger *zap.Logger
}

// NewPublisher wraps an existing writer (tests inject a mock here).
func NewPublisher(writer Writer, logger *zap.Logger) *Publisher {
	return &Publisher{writer: writer, logger: logger}
}

// NewKafkaPublisher builds a Publisher with a production-tuned async writer.
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *Publisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		// Async: the relay's tick loop must never block on kafka.
		Async: true,
	}
	return &Publisher{writer: writer, logger: logger}
}

// Publish mirrors one tick, keyed by symbol so per-symbol ordering survives
// partitioning. Errors are logged and swallowed.
func (p *Publisher) Publish(ctx context.Context, tick models.Tick) {
	payload, err := json.Marshal(tick)
	if err != nil {
		p.logger.Error("Firehose marshal error", zap.Error(err))
		return
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(tick.Symbol),
		Value: payload,
	})
	if err != nil {
		p.logger.Warn("Firehose write error", zap.String("symbol", tick.Symbol), zap.Error(err))
	}
}

// Close flushes buffered messages.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
