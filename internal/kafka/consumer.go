// Package kafka carries transaction events in and reconciliation events out.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/trogers1052/portfolio-service/internal/models"
	"github.com/trogers1052/portfolio-service/internal/portfolio"
)

// Recorder reconciles one transaction
type Recorder interface {
	Record(ctx context.Context, tx models.Transaction) (portfolio.Result, error)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// TransactionChecker reports whether a transaction id is already stored
type TransactionChecker interface {
	TransactionExists(ctx context.Context, id string) (bool, error)
}

// ErrRetriesExhausted marks a message whose transient failures outlasted
// every attempt.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Consumer feeds TRANSACTION_RECORDED events into the engine. Offsets are
// committed once a message has been recorded, permanently rejected or
// handed to the dead letter topic. A message that exhausts its retries with
// no dead letter topic configured stops the consumer with its offset
// uncommitted.
type Consumer struct {
	reader      messageReader
	topic       string
	recorder    Recorder
	checker     TransactionChecker
	deadLetter  messageWriter
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger
}

// ConsumerOption configures a Consumer
type ConsumerOption func(*Consumer)

// WithExistenceCheck skips events whose id checker already has stored
func WithExistenceCheck(checker TransactionChecker) ConsumerOption {
	return func(c *Consumer) { c.checker = checker }
}

// WithDeadLetterTopic forwards messages that cannot be recorded to topic
func WithDeadLetterTopic(brokers []string, topic string) ConsumerOption {
	return withDeadLetter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
	})
}

func withDeadLetter(w messageWriter) ConsumerOption {
	return func(c *Consumer) { c.deadLetter = w }
}

// NewConsumer creates a consumer group reader on topic
func NewConsumer(brokers []string, topic, groupID string, recorder Recorder, logger *slog.Logger, opts ...ConsumerOption) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    10e3, // 10KB
		MaxBytes:    10e6, // 10MB
		MaxWait:     1 * time.Second,
		StartOffset: kafka.FirstOffset,
	})
	return newConsumer(reader, topic, recorder, logger, opts...)
}

func newConsumer(reader messageReader, topic string, recorder Recorder, logger *slog.Logger, opts ...ConsumerOption) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Consumer{
		reader:      reader,
		topic:       topic,
		recorder:    recorder,
		maxAttempts: 3,
		backoff:     500 * time.Millisecond,
		logger:      logger.With(slog.String("topic", topic)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start consumes until ctx is cancelled or a message can neither be
// recorded nor dead-lettered
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("starting kafka consumer")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("kafka consumer shutting down")
			return c.Close()
		default:
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return c.Close()
			}
			c.logger.Error("failed to read message", slog.String("error", err.Error()))
			continue
		}

		if err := c.processMessage(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return c.Close()
			}
			c.logger.Error("failed to process message",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.String("key", string(msg.Key)),
				slog.String("error", err.Error()),
			)
			if err := c.handleFailure(ctx, msg, err); err != nil {
				if ctx.Err() != nil {
					return c.Close()
				}
				c.Close()
				return err
			}
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("failed to commit offset", slog.Int64("offset", msg.Offset), slog.String("error", err.Error()))
		}
	}
}

// handleFailure returns nil when msg may be committed
func (c *Consumer) handleFailure(ctx context.Context, msg kafka.Message, cause error) error {
	if c.deadLetter == nil {
		if errors.Is(cause, ErrRetriesExhausted) {
			return fmt.Errorf("stopping at offset %d: %w", msg.Offset, cause)
		}
		return nil
	}

	dead := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: []kafka.Header{
			{Key: "error", Value: []byte(cause.Error())},
			{Key: "source_topic", Value: []byte(c.topic)},
			{Key: "source_partition", Value: []byte(strconv.Itoa(msg.Partition))},
			{Key: "source_offset", Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		},
	}
	if err := c.deadLetter.WriteMessages(ctx, dead); err != nil {
		return fmt.Errorf("failed to dead-letter offset %d: %w", msg.Offset, err)
	}
	c.logger.Warn("message dead-lettered", slog.Int64("offset", msg.Offset))
	return nil
}

// processMessage records one event. Rejections are final; other failures
// are retried with a growing delay.
func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var event models.TransactionEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal transaction event: %w", err)
	}

	if event.EventType != models.EventTransactionRecorded {
		c.logger.Debug("ignoring event type", slog.String("event_type", event.EventType))
		return nil
	}

	tx, err := ConvertEvent(event)
	if err != nil {
		return fmt.Errorf("failed to convert event %s: %w", event.Data.ID, err)
	}

	if c.checker != nil {
		exists, err := c.checker.TransactionExists(ctx, tx.ID)
		switch {
		case err != nil:
			c.logger.Warn("failed to check stored transaction", slog.String("id", tx.ID), slog.String("error", err.Error()))
		case exists:
			c.logger.Info("transaction already stored, skipping", slog.String("id", tx.ID))
			return nil
		}
	}

	delay := c.backoff
	for attempt := 1; ; attempt++ {
		_, err = c.recorder.Record(ctx, tx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, models.ErrDuplicateTransaction):
			c.logger.Info("transaction already recorded, skipping", slog.String("id", tx.ID))
			return nil
		case models.IsValidation(err), models.IsInsufficientHoldings(err), errors.Is(err, portfolio.ErrTickerUnavailable):
			return fmt.Errorf("transaction %s rejected: %w", tx.ID, err)
		}

		if attempt >= c.maxAttempts {
			return fmt.Errorf("%w for transaction %s after %d attempts: %w", ErrRetriesExhausted, tx.ID, attempt, err)
		}
		c.logger.Warn("retrying transaction",
			slog.String("id", tx.ID),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// ConvertEvent maps an inbound event to a ledger transaction
func ConvertEvent(event models.TransactionEvent) (models.Transaction, error) {
	data := event.Data

	kind, err := models.ParseTransactionKind(data.Kind)
	if err != nil {
		return models.Transaction{}, err
	}

	tx := models.Transaction{
		ID:       data.ID,
		Ticker:   data.Ticker,
		Kind:     kind,
		LotIDs:   data.LotIDs,
		Currency: data.Currency,
		Source:   event.Source,
	}

	if tx.Quantity, err = parseDecimal("quantity", data.Quantity); err != nil {
		return tx, err
	}
	if tx.Amount, err = parseDecimal("amount", data.Amount); err != nil {
		return tx, err
	}
	if tx.Ratio, err = parseDecimal("ratio", data.Ratio); err != nil {
		return tx, err
	}
	if tx.Price, err = parseNullDecimal("price", data.Price); err != nil {
		return tx, err
	}
	if tx.ReinvestPrice, err = parseNullDecimal("reinvest_price", data.ReinvestPrice); err != nil {
		return tx, err
	}

	executedAt := data.ExecutedAt
	if executedAt == "" {
		executedAt = event.Timestamp
	}
	if tx.Timestamp, err = parseTime(executedAt); err != nil {
		return tx, err
	}
	return tx, nil
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	return d, nil
}

func parseNullDecimal(field, s string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := parseDecimal(field, s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("missing executed_at")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	// Without a zone the time is taken as UTC
	t, err := time.Parse("2006-01-02T15:04:05", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid executed_at %q: %w", s, err)
	}
	return t, nil
}

// Close closes the reader and the dead letter writer
func (c *Consumer) Close() error {
	err := c.reader.Close()
	if c.deadLetter != nil {
		err = errors.Join(err, c.deadLetter.Close())
	}
	return err
}
