package database

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/trogers1052/portfolio-service/internal/models"
	"github.com/trogers1052/portfolio-service/internal/pricefeed"
)

// PriceArchive stores every close the wrapped feed returns and serves the
// stored bars when the feed has none.
type PriceArchive struct {
	db     *DB
	next   pricefeed.Feed
	source string
	now    func() time.Time
	logger *slog.Logger
}

// NewPriceArchive wraps next with the price_data_daily table
func NewPriceArchive(db *DB, next pricefeed.Feed, source string, logger *slog.Logger) *PriceArchive {
	if logger == nil {
		logger = slog.Default()
	}
	return &PriceArchive{db: db, next: next, source: source, now: time.Now, logger: logger}
}

// Quote returns the live quote, or the latest archived close marked STALE
func (a *PriceArchive) Quote(ctx context.Context, ticker string) models.Quote {
	ticker = strings.ToUpper(ticker)
	q := a.next.Quote(ctx, ticker)
	if q.Available() {
		return q
	}

	latest, err := a.db.GetLatestPriceData(ctx, ticker)
	if err != nil {
		if !errors.Is(err, ErrPriceDataNotFound) {
			a.logger.Warn("failed to read archived close", slog.String("ticker", ticker), slog.String("error", err.Error()))
		}
		return q
	}
	return models.Quote{
		Ticker: ticker,
		Price:  latest.Close,
		AsOf:   latest.Date,
		Status: models.PriceStale,
		Reason: "archived close: " + q.Reason,
	}
}

// History returns the live series and archives it. When the feed has no
// data the archived bars in range are returned instead.
func (a *PriceArchive) History(ctx context.Context, ticker string, from, to time.Time) models.History {
	ticker = strings.ToUpper(ticker)
	h := a.next.History(ctx, ticker, from, to)
	if h.Available() {
		if err := a.db.CreatePriceDataBatch(ctx, a.bars(ticker, h.Points)); err != nil {
			a.logger.Warn("failed to archive closes",
				slog.String("ticker", ticker),
				slog.Int("points", len(h.Points)),
				slog.String("error", err.Error()),
			)
		}
		return h
	}

	stored, err := a.db.GetPriceDataRange(ctx, ticker, from, to)
	if err != nil {
		a.logger.Warn("failed to read archived closes", slog.String("ticker", ticker), slog.String("error", err.Error()))
		return h
	}
	if len(stored) == 0 {
		return h
	}

	points := make([]models.HistoryPoint, 0, len(stored))
	for _, p := range stored {
		points = append(points, models.HistoryPoint{Date: p.Date, Close: p.Close})
	}
	return models.History{
		Ticker: ticker,
		Points: points,
		Status: models.PriceStale,
		Reason: "archived closes: " + h.Reason,
	}
}

// Prune deletes archived closes dated more than keep ago. A zero keep
// retains everything.
func (a *PriceArchive) Prune(ctx context.Context, keep time.Duration) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	return a.db.DeletePriceDataOlderThan(ctx, a.now().Add(-keep))
}

// RunRetention prunes once, then every interval until ctx is done
func (a *PriceArchive) RunRetention(ctx context.Context, keep, interval time.Duration) error {
	if keep <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := a.Prune(ctx, keep)
		switch {
		case err != nil && ctx.Err() == nil:
			a.logger.Warn("failed to prune archived closes", slog.String("error", err.Error()))
		case n > 0:
			a.logger.Info("pruned archived closes", slog.Int64("deleted", n), slog.Duration("retention", keep))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (a *PriceArchive) bars(ticker string, points []models.HistoryPoint) []models.PriceDataDaily {
	out := make([]models.PriceDataDaily, 0, len(points))
	for _, p := range points {
		out = append(out, models.PriceDataDaily{
			Symbol: ticker,
			Date:   p.Date,
			Close:  p.Close,
			Source: a.source,
		})
	}
	return out
}

var _ pricefeed.Feed = (*PriceArchive)(nil)
