// Package pricefeed supplies current quotes and daily close history. Missing
// data is reported as an UNAVAILABLE result, never as an error.
package pricefeed

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/portfolio-service/internal/models"
)

// Feed is the price source used by the aggregator and the analyzer
type Feed interface {
	Quote(ctx context.Context, ticker string) models.Quote
	History(ctx context.Context, ticker string, from, to time.Time) models.History
}

// Day truncates t to its UTC calendar date
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Static is an in-memory feed, used offline and in tests
type Static struct {
	mu      sync.RWMutex
	quotes  map[string]models.Quote
	history map[string][]models.HistoryPoint
	delay   map[string]time.Duration
}

// NewStatic creates an empty static feed
func NewStatic() *Static {
	return &Static{
		quotes:  make(map[string]models.Quote),
		history: make(map[string][]models.HistoryPoint),
		delay:   make(map[string]time.Duration),
	}
}

// SetQuote stores an AVAILABLE quote
func (s *Static) SetQuote(ticker string, price decimal.Decimal, asOf time.Time) {
	s.SetQuoteStatus(ticker, price, asOf, models.PriceAvailable)
}

// SetQuoteStatus stores a quote with an explicit status
func (s *Static) SetQuoteStatus(ticker string, price decimal.Decimal, asOf time.Time, status models.PriceStatus) {
	ticker = strings.ToUpper(ticker)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[ticker] = models.Quote{Ticker: ticker, Price: price, AsOf: asOf, Status: status}
}

// SetClose stores a daily close; points are kept sorted by date
func (s *Static) SetClose(ticker string, date time.Time, close decimal.Decimal) {
	ticker = strings.ToUpper(ticker)
	date = Day(date)

	s.mu.Lock()
	defer s.mu.Unlock()
	points := s.history[ticker]
	i := sort.Search(len(points), func(i int) bool { return !points[i].Date.Before(date) })
	if i < len(points) && points[i].Date.Equal(date) {
		points[i].Close = close
		return
	}
	points = append(points, models.HistoryPoint{})
	copy(points[i+1:], points[i:])
	points[i] = models.HistoryPoint{Date: date, Close: close}
	s.history[ticker] = points
}

// SetDelay makes calls for ticker block for d or until ctx is done
func (s *Static) SetDelay(ticker string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay[strings.ToUpper(ticker)] = d
}

func (s *Static) wait(ctx context.Context, ticker string) bool {
	s.mu.RLock()
	d := s.delay[ticker]
	s.mu.RUnlock()
	if d == 0 {
		return true
	}
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// Quote returns the stored quote or UNAVAILABLE
func (s *Static) Quote(ctx context.Context, ticker string) models.Quote {
	ticker = strings.ToUpper(ticker)
	if !s.wait(ctx, ticker) {
		return models.UnavailableQuote(ticker, ctx.Err().Error())
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[ticker]
	if !ok {
		return models.UnavailableQuote(ticker, "no quote")
	}
	return q
}

// History returns the stored closes within [from, to]
func (s *Static) History(ctx context.Context, ticker string, from, to time.Time) models.History {
	ticker = strings.ToUpper(ticker)
	if !s.wait(ctx, ticker) {
		return models.UnavailableHistory(ticker, ctx.Err().Error())
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	from, to = Day(from), Day(to)
	var points []models.HistoryPoint
	for _, p := range s.history[ticker] {
		if p.Date.Before(from) || p.Date.After(to) {
			continue
		}
		points = append(points, p)
	}
	if len(points) == 0 {
		return models.UnavailableHistory(ticker, "no history in range")
	}
	return models.History{Ticker: ticker, Points: points, Status: models.PriceAvailable}
}
