package pricefeed

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/portfolio-service/internal/models"
)

// ErrNoQuote is returned by a QuoteCache with nothing stored for a ticker
var ErrNoQuote = errors.New("no cached quote")

// QuoteCache stores the last known good price per ticker
type QuoteCache interface {
	SetQuote(ctx context.Context, ticker string, price decimal.Decimal, asOf time.Time) error
	GetQuote(ctx context.Context, ticker string) (decimal.Decimal, time.Time, error)
}

// Fallback serves the last known price, marked STALE, when the wrapped feed
// has no quote. Good quotes are written back to the cache.
type Fallback struct {
	next   Feed
	cache  QuoteCache
	logger *slog.Logger
}

// NewFallback wraps next with a last-known-quote cache
func NewFallback(next Feed, c QuoteCache, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{next: next, cache: c, logger: logger}
}

// Quote returns the live quote, or the cached one marked STALE
func (f *Fallback) Quote(ctx context.Context, ticker string) models.Quote {
	ticker = strings.ToUpper(ticker)
	q := f.next.Quote(ctx, ticker)
	if q.Status == models.PriceAvailable {
		if err := f.cache.SetQuote(ctx, ticker, q.Price, q.AsOf); err != nil {
			f.logger.Warn("failed to cache quote", slog.String("ticker", ticker), slog.String("error", err.Error()))
		}
		return q
	}
	if q.Available() {
		return q
	}

	price, asOf, err := f.cache.GetQuote(ctx, ticker)
	if err != nil {
		if !errors.Is(err, ErrNoQuote) {
			f.logger.Warn("failed to read cached quote", slog.String("ticker", ticker), slog.String("error", err.Error()))
		}
		return q
	}
	return models.Quote{
		Ticker: ticker,
		Price:  price,
		AsOf:   asOf,
		Status: models.PriceStale,
		Reason: "last known price: " + q.Reason,
	}
}

// History delegates to the wrapped feed
func (f *Fallback) History(ctx context.Context, ticker string, from, to time.Time) models.History {
	return f.next.History(ctx, ticker, from, to)
}
