package performance

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/trogers1052/portfolio-service/internal/lots"
	"github.com/trogers1052/portfolio-service/internal/models"
	"github.com/trogers1052/portfolio-service/internal/pricefeed"
)

const (
	// DefaultMaxGap is how many trading days a close may be carried forward
	DefaultMaxGap = 5
	// DefaultTimeout bounds each history fetch
	DefaultTimeout = 10 * time.Second
	// DefaultConcurrency is how many histories are fetched at once
	DefaultConcurrency = 4
)

// Analyzer values tickers over a set of dates using daily closes. A date
// without its own close takes the nearest earlier close within MaxGap
// trading days, marked STALE; beyond that the date is UNAVAILABLE. Closes
// are never interpolated and never taken from a later date.
type Analyzer struct {
	feed        pricefeed.Feed
	method      lots.Method
	maxGap      int
	timeout     time.Duration
	concurrency int
	logger      *slog.Logger
}

// AnalyzerOption configures an Analyzer
type AnalyzerOption func(*Analyzer)

// WithMaxGap sets the carry-forward limit in trading days
func WithMaxGap(days int) AnalyzerOption {
	return func(a *Analyzer) {
		if days >= 0 {
			a.maxGap = days
		}
	}
}

// WithHistoryTimeout bounds each history call
func WithHistoryTimeout(d time.Duration) AnalyzerOption {
	return func(a *Analyzer) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithMethod sets the lot matching method used when replaying
func WithMethod(m lots.Method) AnalyzerOption {
	return func(a *Analyzer) {
		a.method = m
	}
}

// WithAnalyzerConcurrency limits concurrent history calls
func WithAnalyzerConcurrency(n int) AnalyzerOption {
	return func(a *Analyzer) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// WithAnalyzerLogger sets the logger
func WithAnalyzerLogger(logger *slog.Logger) AnalyzerOption {
	return func(a *Analyzer) {
		a.logger = logger
	}
}

// NewAnalyzer creates an analyzer over feed
func NewAnalyzer(feed pricefeed.Feed, opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		feed:        feed,
		method:      lots.FIFO,
		maxGap:      DefaultMaxGap,
		timeout:     DefaultTimeout,
		concurrency: DefaultConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// MaxGap returns the carry-forward limit in trading days
func (a *Analyzer) MaxGap() int {
	return a.maxGap
}

// TradingDays counts weekdays in (from, to]. It is zero when to is not
// after from.
func TradingDays(from, to time.Time) int {
	from, to = pricefeed.Day(from), pricefeed.Day(to)
	n := 0
	for d := from.AddDate(0, 0, 1); !d.After(to); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			n++
		}
	}
	return n
}

// normalizeDates returns the distinct UTC days of dates, ascending
func normalizeDates(dates []time.Time) []time.Time {
	out := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		out = append(out, pricefeed.Day(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return slices.CompactFunc(out, func(a, b time.Time) bool { return a.Equal(b) })
}

// lookback returns the earliest calendar day a close for date may come from
func (a *Analyzer) lookback(date time.Time) time.Time {
	d := date
	for n := 0; n < a.maxGap; {
		d = d.AddDate(0, 0, -1)
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			n++
		}
	}
	return d
}

func (a *Analyzer) history(ctx context.Context, ticker string, dates []time.Time) models.History {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	done := make(chan models.History, 1)
	go func() { done <- a.feed.History(ctx, ticker, a.lookback(dates[0]), dates[len(dates)-1]) }()

	select {
	case h := <-done:
		if !h.Available() {
			a.logger.Warn("history unavailable", slog.String("ticker", ticker), slog.String("reason", h.Reason))
		}
		return h
	case <-ctx.Done():
		a.logger.Warn("history timed out", slog.String("ticker", ticker), slog.Duration("timeout", a.timeout))
		return models.UnavailableHistory(ticker, "history timed out")
	}
}

// closeOn finds the close used for date. points must be ascending.
func (a *Analyzer) closeOn(points []models.HistoryPoint, date time.Time) (models.HistoryPoint, models.PriceStatus) {
	i := sort.Search(len(points), func(i int) bool { return points[i].Date.After(date) })
	if i == 0 {
		return models.HistoryPoint{}, models.PriceUnavailable
	}
	p := points[i-1]
	if p.Date.Equal(date) {
		return p, models.PriceAvailable
	}
	if TradingDays(p.Date, date) <= a.maxGap {
		return p, models.PriceStale
	}
	return models.HistoryPoint{}, models.PriceUnavailable
}

// TickerSeries replays txs, which must be in ledger order, up to each date
// and values the holding with that date's close. Transactions dated on a
// day count toward that day.
func (a *Analyzer) TickerSeries(ctx context.Context, ticker string, txs []models.Transaction, dates []time.Time) ([]models.SeriesPoint, error) {
	dates = normalizeDates(dates)
	if len(dates) == 0 {
		return nil, nil
	}

	matcher, err := lots.NewMatcher(a.method)
	if err != nil {
		return nil, err
	}
	tracker := lots.NewTracker(ticker, matcher)

	h := a.history(ctx, ticker, dates)

	out := make([]models.SeriesPoint, 0, len(dates))
	next := 0
	for _, date := range dates {
		for next < len(txs) && !pricefeed.Day(txs[next].Timestamp).After(date) {
			if _, err := tracker.Apply(txs[next]); err != nil {
				return nil, fmt.Errorf("failed to replay %s at %s: %w", ticker, txs[next].ID, err)
			}
			next++
		}
		out = append(out, a.point(tracker.State(), h.Points, date))
	}
	return out, nil
}

func (a *Analyzer) point(s lots.State, points []models.HistoryPoint, date time.Time) models.SeriesPoint {
	sp := models.SeriesPoint{
		Date:         date,
		Quantity:     s.OpenQuantity(),
		CostBasis:    s.OpenCost(),
		DCA:          DCAEffectivePrice(s),
		SharesBought: s.BoughtQuantity,
		RealizedPnL:  s.RealizedPnL(),
		Dividends:    s.DividendTotal(),
	}

	hp, status := a.closeOn(points, date)
	sp.PriceStatus = status
	if status == models.PriceUnavailable {
		return sp
	}
	sp.Close = models.Price(hp.Close)
	if status == models.PriceStale {
		pd := hp.Date
		sp.PriceDate = &pd
	}

	value := sp.Quantity.Mul(hp.Close)
	unrealized := value.Sub(sp.CostBasis)
	profit := unrealized.Add(sp.RealizedPnL).Add(sp.Dividends)
	sp.MarketValue = models.Price(value)
	sp.UnrealizedPnL = models.Price(unrealized)
	sp.Profit = models.Price(profit)
	sp.ReturnPct = returnPct(sp.Profit, s.ContributedCost)
	return sp
}

// PortfolioSeries sums ticker series per date. Invested is DCA price times
// units held. Tickers holding units without a usable close on a date are
// left out of that date's sums and listed in Missing.
func (a *Analyzer) PortfolioSeries(ctx context.Context, txsByTicker map[string][]models.Transaction, dates []time.Time) ([]models.PortfolioSeriesPoint, error) {
	dates = normalizeDates(dates)
	if len(dates) == 0 {
		return nil, nil
	}

	tickers := make([]string, 0, len(txsByTicker))
	for t := range txsByTicker {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	series := make([][]models.SeriesPoint, len(tickers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, ticker := range tickers {
		g.Go(func() error {
			s, err := a.TickerSeries(gctx, ticker, txsByTicker[ticker], dates)
			if err != nil {
				return err
			}
			series[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]models.PortfolioSeriesPoint, len(dates))
	for di, date := range dates {
		p := models.PortfolioSeriesPoint{Date: date}
		for ti, ticker := range tickers {
			sp := series[ti][di]
			if !sp.Quantity.IsPositive() {
				continue
			}
			if !sp.MarketValue.Valid {
				p.Missing = append(p.Missing, ticker)
				continue
			}
			p.MarketValue = p.MarketValue.Add(sp.MarketValue.Decimal)
			if sp.DCA.Valid {
				p.Invested = p.Invested.Add(sp.DCA.Decimal.Mul(sp.Quantity))
			}
		}
		p.Profit = p.MarketValue.Sub(p.Invested)
		if p.Invested.IsPositive() {
			p.YieldPct = models.Price(p.Profit.Div(p.Invested).Mul(hundred))
		}
		out[di] = p
	}
	return out, nil
}

// Dates returns every weekday in [from, to]
func Dates(from, to time.Time) []time.Time {
	from, to = pricefeed.Day(from), pricefeed.Day(to)
	var out []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			out = append(out, d)
		}
	}
	return out
}

// QuoteOn returns the close used for ticker on date as a quote, applying
// the same carry-forward rule as the series
func (a *Analyzer) QuoteOn(ctx context.Context, ticker string, date time.Time) models.Quote {
	date = pricefeed.Day(date)
	h := a.history(ctx, ticker, []time.Time{date})
	hp, status := a.closeOn(h.Points, date)
	if status == models.PriceUnavailable {
		reason := h.Reason
		if reason == "" {
			reason = fmt.Sprintf("no close within %d trading days", a.maxGap)
		}
		return models.UnavailableQuote(ticker, reason)
	}
	return models.Quote{Ticker: ticker, Price: hp.Close, AsOf: hp.Date, Status: status}
}

// AsOf adapts the analyzer into a feed whose quotes are closes on date
func (a *Analyzer) AsOf(date time.Time) pricefeed.Feed {
	return asOfFeed{a: a, date: date}
}

type asOfFeed struct {
	a    *Analyzer
	date time.Time
}

func (f asOfFeed) Quote(ctx context.Context, ticker string) models.Quote {
	return f.a.QuoteOn(ctx, ticker, f.date)
}

func (f asOfFeed) History(ctx context.Context, ticker string, from, to time.Time) models.History {
	return f.a.feed.History(ctx, ticker, from, to)
}
