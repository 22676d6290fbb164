// Package positions values open lots against current quotes
package positions

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/trogers1052/portfolio-service/internal/lots"
	"github.com/trogers1052/portfolio-service/internal/models"
	"github.com/trogers1052/portfolio-service/internal/pricefeed"
)

const (
	// DefaultTimeout bounds each quote lookup
	DefaultTimeout = 10 * time.Second
	// DefaultConcurrency is how many tickers are quoted at once
	DefaultConcurrency = 8
)

var hundred = decimal.NewFromInt(100)

// Report is the result of one valuation pass
type Report struct {
	Positions   []models.Position     `json:"positions"`
	Total       models.PortfolioTotal `json:"total"`
	GeneratedAt time.Time             `json:"generated_at"`
}

// Position returns the position for ticker, if held
func (r Report) Position(ticker string) (models.Position, bool) {
	for _, p := range r.Positions {
		if p.Ticker == ticker {
			return p, true
		}
	}
	return models.Position{}, false
}

// Aggregator builds positions from lot state and a price feed
type Aggregator struct {
	feed        pricefeed.Feed
	timeout     time.Duration
	concurrency int
	now         func() time.Time
	logger      *slog.Logger
}

// Option configures an Aggregator
type Option func(*Aggregator)

// WithTimeout bounds each quote call
func WithTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithConcurrency limits in-flight quote calls
func WithConcurrency(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// NewAggregator creates an aggregator over feed
func NewAggregator(feed pricefeed.Feed, opts ...Option) *Aggregator {
	a := &Aggregator{
		feed:        feed,
		timeout:     DefaultTimeout,
		concurrency: DefaultConcurrency,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Positions values every ticker with open quantity. Quotes are fetched
// concurrently; a ticker whose quote fails or times out is reported
// UNAVAILABLE without holding up the others.
func (a *Aggregator) Positions(ctx context.Context, states map[string]lots.State) Report {
	held := make([]lots.State, 0, len(states))
	for _, s := range states {
		if s.OpenQuantity().IsPositive() {
			held = append(held, s)
		}
	}
	sort.Slice(held, func(i, j int) bool { return held[i].Ticker < held[j].Ticker })

	quotes := make([]models.Quote, len(held))
	g := new(errgroup.Group)
	g.SetLimit(a.concurrency)
	for i, s := range held {
		g.Go(func() error {
			quotes[i] = a.quote(ctx, s.Ticker)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Positions: make([]models.Position, len(held)), GeneratedAt: a.now().UTC()}
	for i, s := range held {
		report.Positions[i] = Build(s, quotes[i])
	}
	report.Total = Total(report.Positions)
	return report
}

func (a *Aggregator) quote(ctx context.Context, ticker string) models.Quote {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	done := make(chan models.Quote, 1)
	go func() { done <- a.feed.Quote(ctx, ticker) }()

	select {
	case q := <-done:
		if !q.Available() {
			a.logger.Warn("position unpriced", slog.String("ticker", ticker), slog.String("reason", q.Reason))
		}
		return q
	case <-ctx.Done():
		a.logger.Warn("quote timed out", slog.String("ticker", ticker), slog.Duration("timeout", a.timeout))
		return models.UnavailableQuote(ticker, "quote timed out")
	}
}

// Build derives one position from lot state and a quote
func Build(s lots.State, q models.Quote) models.Position {
	qty := s.OpenQuantity()
	cost := s.OpenCost()
	p := models.Position{
		Ticker:      s.Ticker,
		Quantity:    qty,
		CostBasis:   cost,
		PriceStatus: q.Status,
		PriceReason: q.Reason,
		OpenLots:    len(s.OpenLots),
	}
	if wac := s.WeightedAverageCost(); wac.Valid {
		p.WeightedAverageCost = wac.Decimal
	}
	if p.PriceStatus == "" {
		p.PriceStatus = models.PriceUnavailable
	}
	if !q.Available() {
		p.PriceStatus = models.PriceUnavailable
		return p
	}

	asOf := q.AsOf
	value := qty.Mul(q.Price)
	pnl := value.Sub(cost)
	p.CurrentPrice = models.Price(q.Price)
	p.PriceAsOf = &asOf
	p.MarketValue = models.Price(value)
	p.UnrealizedPnL = models.Price(pnl)
	if cost.IsPositive() {
		p.UnrealizedPnLPct = models.Price(pnl.Div(cost).Mul(hundred))
	}
	return p
}

// Total sums positions. Unpriced positions count toward cost basis only.
func Total(positions []models.Position) models.PortfolioTotal {
	t := models.PortfolioTotal{Complete: true, PositionsCount: len(positions)}
	for _, p := range positions {
		t.CostBasis = t.CostBasis.Add(p.CostBasis)
		if !p.Priced() {
			t.Complete = false
			t.Unpriced = append(t.Unpriced, p.Ticker)
			continue
		}
		t.PricedCost = t.PricedCost.Add(p.CostBasis)
		t.MarketValue = t.MarketValue.Add(p.MarketValue.Decimal)
		t.UnrealizedPnL = t.UnrealizedPnL.Add(p.UnrealizedPnL.Decimal)
	}
	return t
}
