package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trogers1052/portfolio-service/internal/models"
	"github.com/trogers1052/portfolio-service/internal/portfolio"
	"github.com/trogers1052/portfolio-service/internal/pricefeed"
)

// fakeReader serves queued messages, then blocks until ctx is done
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	closed    bool
	drained   chan struct{}
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	for i := range msgs {
		msgs[i].Offset = int64(i)
	}
	return &fakeReader{queue: msgs, drained: make(chan struct{})}
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.queue) > 0 {
		msg := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()
		return msg, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	if len(f.queue) == 0 {
		select {
		case <-f.drained:
		default:
			close(f.drained)
		}
	}
	return nil
}

func (f *fakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// flakyRecorder fails the first n calls with a transient error
type flakyRecorder struct {
	n     int
	calls int
	next  Recorder
}

func (r *flakyRecorder) Record(ctx context.Context, tx models.Transaction) (portfolio.Result, error) {
	r.calls++
	if r.calls <= r.n {
		return portfolio.Result{}, errors.New("connection reset")
	}
	return r.next.Record(ctx, tx)
}

func event(t *testing.T, data models.TransactionEventData) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(models.TransactionEvent{
		EventType: models.EventTransactionRecorded,
		Source:    "broker",
		Data:      data,
	})
	require.NoError(t, err)
	return kafka.Message{Key: []byte(data.Ticker), Value: raw}
}

func newTestEngine(t *testing.T) *portfolio.Engine {
	t.Helper()
	e, err := portfolio.New(portfolio.Config{}, pricefeed.NewStatic())
	require.NoError(t, err)
	return e
}

func run(t *testing.T, c *Consumer, r *fakeReader) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	select {
	case <-r.drained:
	case <-time.After(5 * time.Second):
		t.Fatal("messages were not consumed")
	}
	cancel()
	require.NoError(t, <-done)
	assert.True(t, r.closed)
}

func TestConsumerRecordsTransactions(t *testing.T) {
	engine := newTestEngine(t)
	reader := newFakeReader(
		event(t, models.TransactionEventData{ID: "b1", Ticker: "vuaa", Kind: "buy", Quantity: "10", Price: "10", ExecutedAt: "2024-01-02T15:00:00Z"}),
		event(t, models.TransactionEventData{ID: "b2", Ticker: "VUAA", Kind: "BUY", Quantity: "10", Price: "20", ExecutedAt: "2024-01-03T15:00:00Z"}),
		event(t, models.TransactionEventData{ID: "s1", Ticker: "VUAA", Kind: "SELL", Quantity: "15", Price: "30", ExecutedAt: "2024-01-04T15:00:00"}),
	)
	c := newConsumer(reader, "portfolio-transactions", engine, nil)
	run(t, c, reader)

	assert.Equal(t, []int64{0, 1, 2}, reader.committed)
	s, ok := engine.State("VUAA")
	require.True(t, ok)
	assert.Equal(t, "250", s.RealizedPnL().String())
	assert.Equal(t, "5", s.OpenQuantity().String())
}

func TestConsumerSkipsBadMessages(t *testing.T) {
	engine := newTestEngine(t)
	buy := models.TransactionEventData{ID: "b1", Ticker: "VUAA", Kind: "BUY", Quantity: "1", Price: "10", ExecutedAt: "2024-01-02T15:00:00Z"}
	reader := newFakeReader(
		kafka.Message{Value: []byte("not json")},
		event(t, buy),
		event(t, buy), // duplicate
		event(t, models.TransactionEventData{ID: "s1", Ticker: "VUAA", Kind: "SELL", Quantity: "5", Price: "10", ExecutedAt: "2024-01-03T15:00:00Z"}),
		event(t, models.TransactionEventData{ID: "x1", Ticker: "VUAA", Kind: "GIFT", ExecutedAt: "2024-01-03T15:00:00Z"}),
	)
	c := newConsumer(reader, "portfolio-transactions", engine, nil)
	run(t, c, reader)

	assert.Len(t, reader.committed, 5, "rejected messages are committed")
	assert.Len(t, engine.Transactions("VUAA"), 1)
}

func TestConsumerRetriesTransientFailures(t *testing.T) {
	engine := newTestEngine(t)
	rec := &flakyRecorder{n: 2, next: engine}
	reader := newFakeReader(
		event(t, models.TransactionEventData{ID: "b1", Ticker: "VUAA", Kind: "BUY", Quantity: "1", Price: "10", ExecutedAt: "2024-01-02T15:00:00Z"}),
	)
	c := newConsumer(reader, "portfolio-transactions", rec, nil)
	c.backoff = time.Millisecond
	run(t, c, reader)

	assert.Equal(t, 3, rec.calls)
	assert.Len(t, engine.Transactions("VUAA"), 1)
}

func TestConsumerStopsWhenRetriesExhausted(t *testing.T) {
	engine := newTestEngine(t)
	rec := &flakyRecorder{n: 100, next: engine}
	reader := newFakeReader(
		event(t, models.TransactionEventData{ID: "b1", Ticker: "VUAA", Kind: "BUY", Quantity: "1", Price: "10", ExecutedAt: "2024-01-02T15:00:00Z"}),
		event(t, models.TransactionEventData{ID: "b2", Ticker: "VUAA", Kind: "BUY", Quantity: "1", Price: "10", ExecutedAt: "2024-01-03T15:00:00Z"}),
	)
	c := newConsumer(reader, "portfolio-transactions", rec, nil)
	c.backoff = time.Millisecond

	done := make(chan error, 1)
	go func() { done <- c.Start(context.Background()) }()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrRetriesExhausted)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.Equal(t, 3, rec.calls)
	assert.Empty(t, reader.committed, "failed offset stays uncommitted")
	assert.Len(t, reader.queue, 1, "later messages are not consumed")
	assert.True(t, reader.closed)
}

func TestConsumerDeadLettersFailures(t *testing.T) {
	engine := newTestEngine(t)
	rec := &flakyRecorder{n: 100, next: engine}
	dlq := &fakeWriter{}
	reader := newFakeReader(
		kafka.Message{Key: []byte("VUAA"), Value: []byte("not json")},
		event(t, models.TransactionEventData{ID: "b1", Ticker: "VUAA", Kind: "BUY", Quantity: "1", Price: "10", ExecutedAt: "2024-01-02T15:00:00Z"}),
	)
	c := newConsumer(reader, "portfolio-transactions", rec, nil, withDeadLetter(dlq))
	c.backoff = time.Millisecond
	run(t, c, reader)

	assert.Equal(t, []int64{0, 1}, reader.committed)
	require.Len(t, dlq.msgs, 2)
	assert.Equal(t, "not json", string(dlq.msgs[0].Value))

	headers := map[string]string{}
	for _, h := range dlq.msgs[1].Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "portfolio-transactions", headers["source_topic"])
	assert.Equal(t, "1", headers["source_offset"])
	assert.Contains(t, headers["error"], ErrRetriesExhausted.Error())

	t.Run("dead letter write failure stops the consumer", func(t *testing.T) {
		reader := newFakeReader(kafka.Message{Value: []byte("not json")})
		c := newConsumer(reader, "portfolio-transactions", engine, nil, withDeadLetter(&fakeWriter{err: errors.New("broker down")}))

		err := c.Start(context.Background())
		require.Error(t, err)
		assert.Empty(t, reader.committed)
	})
}

// fakeChecker reports ids in stored as existing
type fakeChecker struct {
	stored map[string]bool
	err    error
}

func (f *fakeChecker) TransactionExists(_ context.Context, id string) (bool, error) {
	return f.stored[id], f.err
}

func TestConsumerSkipsStoredTransactions(t *testing.T) {
	msgs := func() []kafka.Message {
		return []kafka.Message{
			event(t, models.TransactionEventData{ID: "b1", Ticker: "VUAA", Kind: "BUY", Quantity: "1", Price: "10", ExecutedAt: "2024-01-02T15:00:00Z"}),
			event(t, models.TransactionEventData{ID: "b2", Ticker: "VUAA", Kind: "BUY", Quantity: "2", Price: "10", ExecutedAt: "2024-01-03T15:00:00Z"}),
		}
	}

	engine := newTestEngine(t)
	reader := newFakeReader(msgs()...)
	c := newConsumer(reader, "portfolio-transactions", engine, nil, WithExistenceCheck(&fakeChecker{stored: map[string]bool{"b1": true}}))
	run(t, c, reader)

	assert.Len(t, reader.committed, 2)
	txs := engine.Transactions("VUAA")
	require.Len(t, txs, 1)
	assert.Equal(t, "b2", txs[0].ID)

	t.Run("check failure falls through to the engine", func(t *testing.T) {
		engine := newTestEngine(t)
		reader := newFakeReader(msgs()...)
		c := newConsumer(reader, "portfolio-transactions", engine, nil,
			WithExistenceCheck(&fakeChecker{stored: map[string]bool{"b1": true}, err: errors.New("db down")}))
		run(t, c, reader)

		assert.Len(t, engine.Transactions("VUAA"), 2)
	})
}

func TestConsumerIgnoresOtherEventTypes(t *testing.T) {
	engine := newTestEngine(t)
	c := newConsumer(newFakeReader(), "portfolio-transactions", engine, nil)

	raw, err := json.Marshal(models.TransactionEvent{EventType: "POSITION_SNAPSHOT"})
	require.NoError(t, err)
	assert.NoError(t, c.processMessage(context.Background(), kafka.Message{Value: raw}))
	assert.Empty(t, engine.AllTransactions())
}

func TestConvertEvent(t *testing.T) {
	t.Run("dividend with reinvestment", func(t *testing.T) {
		tx, err := ConvertEvent(models.TransactionEvent{
			Source: "broker",
			Data: models.TransactionEventData{
				ID: "d1", Ticker: "VUAA", Kind: "dividend", Amount: "12.50", ReinvestPrice: "100",
				Currency: "USD", ExecutedAt: "2024-05-01T00:00:00+02:00",
			},
		})
		require.NoError(t, err)
		assert.Equal(t, models.KindDividend, tx.Kind)
		assert.Equal(t, "12.5", tx.Amount.String())
		assert.False(t, tx.Price.Valid)
		assert.True(t, tx.ReinvestPrice.Valid)
		assert.Equal(t, "broker", tx.Source)
		assert.Equal(t, time.Date(2024, 4, 30, 22, 0, 0, 0, time.UTC), tx.Timestamp)
	})

	t.Run("falls back to event timestamp", func(t *testing.T) {
		tx, err := ConvertEvent(models.TransactionEvent{
			Timestamp: "2024-05-01T10:00:00Z",
			Data:      models.TransactionEventData{ID: "x1", Ticker: "VUAA", Kind: "SPLIT", Ratio: "2"},
		})
		require.NoError(t, err)
		assert.Equal(t, "2", tx.Ratio.String())
		assert.Equal(t, 10, tx.Timestamp.Hour())
	})

	tests := []struct {
		name string
		data models.TransactionEventData
	}{
		{"bad kind", models.TransactionEventData{Kind: "GIFT", ExecutedAt: "2024-05-01T10:00:00Z"}},
		{"bad quantity", models.TransactionEventData{Kind: "BUY", Quantity: "ten", ExecutedAt: "2024-05-01T10:00:00Z"}},
		{"bad price", models.TransactionEventData{Kind: "BUY", Quantity: "1", Price: "1,5", ExecutedAt: "2024-05-01T10:00:00Z"}},
		{"missing time", models.TransactionEventData{Kind: "BUY", Quantity: "1", Price: "1"}},
		{"bad time", models.TransactionEventData{Kind: "BUY", Quantity: "1", Price: "1", ExecutedAt: "yesterday"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ConvertEvent(models.TransactionEvent{Data: tt.data})
			assert.Error(t, err)
		})
	}
}
