package portfolio

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/trogers1052/portfolio-service/internal/lots"
	"github.com/trogers1052/portfolio-service/internal/models"
	"github.com/trogers1052/portfolio-service/internal/performance"
	"github.com/trogers1052/portfolio-service/internal/positions"
	"github.com/trogers1052/portfolio-service/internal/pricefeed"
)

// States returns the lot state of every loaded ticker
func (e *Engine) States() map[string]lots.State {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]lots.State, len(e.trackers))
	for t, tr := range e.trackers {
		out[t] = tr.State()
	}
	return out
}

// State returns one ticker's lot state
func (e *Engine) State(ticker string) (lots.State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tr, ok := e.trackers[strings.ToUpper(strings.TrimSpace(ticker))]
	if !ok {
		return lots.State{}, false
	}
	return tr.State(), true
}

// Transactions returns the ticker's transactions in ledger order
func (e *Engine) Transactions(ticker string) []models.Transaction {
	return slices.Collect(e.ledger.TransactionsFor(ticker))
}

// AllTransactions returns every transaction in ledger order
func (e *Engine) AllTransactions() []models.Transaction {
	return e.ledger.All()
}

// transactionsByTicker groups loaded tickers' transactions, keeping only
// those at or before until when it is set
func (e *Engine) transactionsByTicker(until *time.Time) map[string][]models.Transaction {
	e.mu.Lock()
	tickers := make([]string, 0, len(e.trackers))
	for t := range e.trackers {
		tickers = append(tickers, t)
	}
	e.mu.Unlock()

	out := make(map[string][]models.Transaction, len(tickers))
	for _, t := range tickers {
		var txs []models.Transaction
		for tx := range e.ledger.TransactionsFor(t) {
			if until != nil && tx.Timestamp.After(*until) {
				break
			}
			txs = append(txs, tx)
		}
		if len(txs) > 0 {
			out[t] = txs
		}
	}
	return out
}

// Positions values every open position at current quotes
func (e *Engine) Positions(ctx context.Context) positions.Report {
	return e.aggregator.Positions(ctx, e.States())
}

// Performance returns per-ticker and portfolio performance as of asOf. For
// a past date, state is replayed up to asOf and valued at that day's
// closes; a zero asOf means now.
func (e *Engine) Performance(ctx context.Context, asOf time.Time) ([]models.PerformanceSnapshot, error) {
	now := e.now().UTC()
	if asOf.IsZero() || !asOf.Before(pricefeed.Day(now)) {
		states := e.States()
		return performance.Snapshot(now, states, e.aggregator.Positions(ctx, states)), nil
	}

	end := pricefeed.Day(asOf).Add(24*time.Hour - time.Nanosecond)
	states := make(map[string]lots.State)
	for ticker, txs := range e.transactionsByTicker(&end) {
		tr, err := lots.Rebuild(ticker, e.matcher, slices.Values(txs))
		if err != nil {
			return nil, err
		}
		states[ticker] = tr.State()
	}

	agg := positions.NewAggregator(e.analyzer.AsOf(asOf),
		positions.WithTimeout(e.timeout),
		positions.WithLogger(e.logger),
	)
	return performance.Snapshot(end, states, agg.Positions(ctx, states)), nil
}

// Series values one ticker on every weekday in [from, to]
func (e *Engine) Series(ctx context.Context, ticker string, from, to time.Time) ([]models.SeriesPoint, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	return e.analyzer.TickerSeries(ctx, ticker, e.Transactions(ticker), performance.Dates(from, to))
}

// PortfolioSeries values the whole portfolio on every weekday in [from, to]
func (e *Engine) PortfolioSeries(ctx context.Context, from, to time.Time) ([]models.PortfolioSeriesPoint, error) {
	return e.analyzer.PortfolioSeries(ctx, e.transactionsByTicker(nil), performance.Dates(from, to))
}

// Summary counts recorded transactions
func (e *Engine) Summary() performance.TradeSummary {
	return performance.Summarize(e.ledger.All())
}

// Milestones reports progress of current market value toward the
// configured targets. Tickers without a price are listed in Unpriced and
// left out of the value.
func (e *Engine) Milestones(ctx context.Context) performance.MilestoneReport {
	report := e.Positions(ctx)
	m := performance.Milestones(report.Total.MarketValue, e.milestones)
	m.Complete = report.Total.Complete
	m.Unpriced = report.Total.Unpriced
	return m
}
