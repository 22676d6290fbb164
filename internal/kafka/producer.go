package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/trogers1052/portfolio-service/internal/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes reconciliation events keyed by ticker
type Producer struct {
	writer messageWriter
	topic  string
}

// NewProducer creates a producer for topic
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
	}
	return &Producer{writer: writer, topic: topic}
}

// PublishReconciled publishes a PORTFOLIO_RECONCILED event
func (p *Producer) PublishReconciled(ctx context.Context, event models.PortfolioEvent) error {
	if event.EventType == "" {
		event.EventType = models.EventPortfolioReconciled
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.Ticker),
		Value: data,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to %s: %w", p.topic, err)
	}
	return nil
}

// Close flushes and closes the writer
func (p *Producer) Close() error {
	return p.writer.Close()
}
