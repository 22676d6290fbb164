// Package portfolio owns the ledger and the per-ticker lot trackers and
// serializes every write to them.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/trogers1052/portfolio-service/internal/ledger"
	"github.com/trogers1052/portfolio-service/internal/lots"
	"github.com/trogers1052/portfolio-service/internal/models"
	"github.com/trogers1052/portfolio-service/internal/performance"
	"github.com/trogers1052/portfolio-service/internal/positions"
	"github.com/trogers1052/portfolio-service/internal/pricefeed"
)

// ErrTickerUnavailable is returned for writes to a ticker whose stored
// history could not be loaded
var ErrTickerUnavailable = errors.New("ticker history failed to load")

// Store persists recorded transactions
type Store interface {
	SaveTransactions(ctx context.Context, txs []models.Transaction) error
	LoadTransactions(ctx context.Context) ([]models.Transaction, error)
}

// Publisher is notified after a transaction has been reconciled
type Publisher interface {
	PublishReconciled(ctx context.Context, event models.PortfolioEvent) error
}

// Config holds engine policy
type Config struct {
	Ledger      ledger.Config
	Method      lots.Method
	Timeout     time.Duration
	Concurrency int
	MaxGap      int
	Milestones  []performance.Milestone
}

// Result describes a recorded transaction
type Result struct {
	Appended ledger.Appended
	Closed   []models.ClosedLot
	State    lots.State
}

// Engine is the single owner of portfolio state
type Engine struct {
	mu       sync.Mutex
	ledger   *ledger.Ledger
	matcher  lots.Matcher
	trackers map[string]*lots.Tracker
	failures map[string]error

	aggregator *positions.Aggregator
	analyzer   *performance.Analyzer
	milestones []performance.Milestone
	timeout    time.Duration

	store     Store
	publisher Publisher
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithStore persists every recorded transaction
func WithStore(s Store) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithPublisher publishes an event after every recorded transaction
func WithPublisher(p Publisher) Option {
	return func(e *Engine) {
		e.publisher = p
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New creates an empty engine valued against feed
func New(cfg Config, feed pricefeed.Feed, opts ...Option) (*Engine, error) {
	matcher, err := lots.NewMatcher(cfg.Method)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		ledger:     ledger.New(cfg.Ledger),
		matcher:    matcher,
		trackers:   make(map[string]*lots.Tracker),
		failures:   make(map[string]error),
		milestones: cfg.Milestones,
		timeout:    cfg.Timeout,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.aggregator = positions.NewAggregator(feed,
		positions.WithTimeout(cfg.Timeout),
		positions.WithConcurrency(cfg.Concurrency),
		positions.WithLogger(e.logger),
	)
	gap := cfg.MaxGap
	if gap == 0 {
		gap = performance.DefaultMaxGap
	}
	e.analyzer = performance.NewAnalyzer(feed,
		performance.WithMaxGap(gap),
		performance.WithHistoryTimeout(cfg.Timeout),
		performance.WithAnalyzerConcurrency(cfg.Concurrency),
		performance.WithMethod(matcher.Method()),
		performance.WithAnalyzerLogger(e.logger),
	)
	return e, nil
}

// Record validates, reconciles, persists and commits one transaction. On
// any failure neither the ledger nor the lots change.
func (e *Engine) Record(ctx context.Context, tx models.Transaction) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.ledger.Prepare(tx)
	if err != nil {
		return Result{}, err
	}
	if ferr, failed := e.failures[p.Ticker]; failed {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrTickerUnavailable, p.Ticker, ferr)
	}

	next, closed, err := e.reconcile(p)
	if err != nil {
		return Result{}, err
	}

	if e.store != nil {
		if err := e.store.SaveTransactions(ctx, p.Transactions); err != nil {
			return Result{}, fmt.Errorf("failed to persist transaction %s: %w", p.Transactions[0].ID, err)
		}
	}

	appended, err := e.ledger.Commit(p)
	if err != nil {
		return Result{}, fmt.Errorf("failed to commit transaction %s: %w", p.Transactions[0].ID, err)
	}
	e.trackers[p.Ticker] = next

	state := next.State()
	e.logger.Info("transaction recorded",
		slog.String("id", appended.Transactions[0].ID),
		slog.String("ticker", appended.Ticker),
		slog.String("kind", string(appended.Transactions[0].Kind)),
		slog.Bool("backdated", appended.Backdated),
		slog.Int("open_lots", len(state.OpenLots)),
	)

	if e.publisher != nil {
		event := models.PortfolioEvent{
			EventType:     models.EventPortfolioReconciled,
			Ticker:        appended.Ticker,
			TransactionID: appended.Transactions[0].ID,
			Backdated:     appended.Backdated,
			OpenLots:      state.OpenLots,
			ClosedLots:    closed,
			Timestamp:     e.now().UTC(),
		}
		if err := e.publisher.PublishReconciled(ctx, event); err != nil {
			e.logger.Error("failed to publish reconciliation", slog.String("ticker", appended.Ticker), slog.String("error", err.Error()))
		}
	}

	return Result{Appended: appended, Closed: closed, State: state}, nil
}

// reconcile applies a pending append to a copy of the ticker's tracker. A
// backdated append replays the whole ticker from the new sequence.
func (e *Engine) reconcile(p ledger.Pending) (*lots.Tracker, []models.ClosedLot, error) {
	if p.Backdated {
		next, err := lots.Rebuild(p.Ticker, e.matcher, slices.Values(p.Sequence))
		if err != nil {
			return nil, nil, err
		}
		ids := make(map[string]bool, len(p.Transactions))
		for _, tx := range p.Transactions {
			ids[tx.ID] = true
		}
		var closed []models.ClosedLot
		for _, c := range next.State().ClosedLots {
			if ids[c.ClosedBy] {
				closed = append(closed, c)
			}
		}
		return next, closed, nil
	}

	cur, ok := e.trackers[p.Ticker]
	if !ok {
		cur = lots.NewTracker(p.Ticker, e.matcher)
	}
	next := cur.Clone()
	var closed []models.ClosedLot
	for _, tx := range p.Transactions {
		c, err := next.Apply(tx)
		if err != nil {
			return nil, nil, err
		}
		closed = append(closed, c...)
	}
	return next, closed, nil
}

// Load replays stored transactions ticker by ticker. A ticker whose history
// does not replay is recorded in Failures and skipped; the rest load.
func (e *Engine) Load(ctx context.Context, store Store) error {
	txs, err := store.LoadTransactions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load transactions: %w", err)
	}

	byTicker := make(map[string][]models.Transaction)
	for _, tx := range txs {
		byTicker[tx.Ticker] = append(byTicker[tx.Ticker], tx)
	}
	tickers := make([]string, 0, len(byTicker))
	for t := range byTicker {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	e.mu.Lock()
	defer e.mu.Unlock()

	loaded := 0
	for _, ticker := range tickers {
		if err := e.loadTicker(ticker, byTicker[ticker]); err != nil {
			e.failures[ticker] = err
			e.logger.Error("failed to load ticker", slog.String("ticker", ticker), slog.String("error", err.Error()))
			continue
		}
		loaded++
	}

	e.logger.Info("portfolio loaded",
		slog.Int("transactions", len(txs)),
		slog.Int("tickers", loaded),
		slog.Int("failed", len(tickers)-loaded),
	)
	return nil
}

func (e *Engine) loadTicker(ticker string, txs []models.Transaction) error {
	// validate in a scratch ledger so a bad row never half-loads a ticker
	scratch := ledger.New(e.ledger.Config())
	for _, tx := range txs {
		if e.ledger.Has(tx.ID) {
			return fmt.Errorf("transaction %s already loaded", tx.ID)
		}
		if err := scratch.Restore(tx); err != nil {
			return fmt.Errorf("failed to restore %s: %w", tx.ID, err)
		}
	}

	tracker, err := lots.Rebuild(ticker, e.matcher, scratch.TransactionsFor(ticker))
	if err != nil {
		return err
	}

	for tx := range scratch.TransactionsFor(ticker) {
		if err := e.ledger.Restore(tx); err != nil {
			return fmt.Errorf("failed to restore %s: %w", tx.ID, err)
		}
	}
	e.trackers[tracker.Ticker()] = tracker
	return nil
}

// Failures returns the tickers that failed to load and why
func (e *Engine) Failures() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]string, len(e.failures))
	for t, err := range e.failures {
		out[t] = err.Error()
	}
	return out
}
