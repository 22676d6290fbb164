package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/trogers1052/portfolio-service/internal/models"
)

const (
	// DefaultYahooBaseURL is the chart API host
	DefaultYahooBaseURL = "https://query1.finance.yahoo.com"
	// DefaultYahooTimeout is the HTTP client timeout
	DefaultYahooTimeout = 20 * time.Second
	// DefaultYahooRate is the request limit per second
	DefaultYahooRate = 2
	// DefaultStaleAfter is how old a quote may be before it is marked STALE
	DefaultStaleAfter = 72 * time.Hour

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
)

// chartResponse is the subset of the v8 chart payload we read
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string              `json:"symbol"`
				Currency           string              `json:"currency"`
				RegularMarketPrice decimal.NullDecimal `json:"regularMarketPrice"`
				RegularMarketTime  int64               `json:"regularMarketTime"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []decimal.NullDecimal `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Yahoo reads quotes and daily closes from the Yahoo Finance chart endpoint
type Yahoo struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	symbols    map[string]string
	staleAfter time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// YahooOption configures the Yahoo feed
type YahooOption func(*Yahoo)

// WithBaseURL sets the API base URL
func WithBaseURL(baseURL string) YahooOption {
	return func(y *Yahoo) {
		y.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPTimeout sets the HTTP client timeout
func WithHTTPTimeout(d time.Duration) YahooOption {
	return func(y *Yahoo) {
		y.httpClient.Timeout = d
	}
}

// WithRateLimit sets the request rate
func WithRateLimit(requestsPerSecond int) YahooOption {
	return func(y *Yahoo) {
		if requestsPerSecond > 0 {
			y.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// WithSymbols maps ledger tickers to feed symbols, e.g. VUAA -> VUAA.DE
func WithSymbols(symbols map[string]string) YahooOption {
	return func(y *Yahoo) {
		for k, v := range symbols {
			y.symbols[strings.ToUpper(k)] = v
		}
	}
}

// WithStaleAfter marks quotes older than d as STALE
func WithStaleAfter(d time.Duration) YahooOption {
	return func(y *Yahoo) {
		y.staleAfter = d
	}
}

// WithYahooLogger sets the logger
func WithYahooLogger(logger *slog.Logger) YahooOption {
	return func(y *Yahoo) {
		y.logger = logger
	}
}

// NewYahoo creates a Yahoo Finance feed
func NewYahoo(opts ...YahooOption) *Yahoo {
	y := &Yahoo{
		baseURL:    DefaultYahooBaseURL,
		httpClient: &http.Client{Timeout: DefaultYahooTimeout},
		limiter:    rate.NewLimiter(rate.Limit(DefaultYahooRate), DefaultYahooRate),
		symbols:    make(map[string]string),
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(y)
	}
	return y
}

// Symbol returns the feed symbol for a ticker
func (y *Yahoo) Symbol(ticker string) string {
	ticker = strings.ToUpper(ticker)
	if s, ok := y.symbols[ticker]; ok {
		return s
	}
	return ticker
}

// Quote returns the latest regular-market price
func (y *Yahoo) Quote(ctx context.Context, ticker string) models.Quote {
	ticker = strings.ToUpper(ticker)
	params := url.Values{}
	params.Set("range", "5d")
	params.Set("interval", "1d")

	chart, err := y.chart(ctx, y.Symbol(ticker), params)
	if err != nil {
		y.logger.Warn("quote unavailable", slog.String("ticker", ticker), slog.String("error", err.Error()))
		return models.UnavailableQuote(ticker, err.Error())
	}

	meta := chart.Chart.Result[0].Meta
	if !meta.RegularMarketPrice.Valid || !meta.RegularMarketPrice.Decimal.IsPositive() {
		return models.UnavailableQuote(ticker, "no market price")
	}

	asOf := time.Unix(meta.RegularMarketTime, 0).UTC()
	status := models.PriceAvailable
	if y.staleAfter > 0 && y.now().Sub(asOf) > y.staleAfter {
		status = models.PriceStale
	}
	return models.Quote{Ticker: ticker, Price: meta.RegularMarketPrice.Decimal, AsOf: asOf, Status: status}
}

// History returns daily closes between from and to inclusive. Days the
// feed reports without a close are skipped.
func (y *Yahoo) History(ctx context.Context, ticker string, from, to time.Time) models.History {
	ticker = strings.ToUpper(ticker)
	params := url.Values{}
	params.Set("period1", strconv.FormatInt(Day(from).Unix(), 10))
	params.Set("period2", strconv.FormatInt(Day(to).AddDate(0, 0, 1).Unix(), 10))
	params.Set("interval", "1d")

	chart, err := y.chart(ctx, y.Symbol(ticker), params)
	if err != nil {
		y.logger.Warn("history unavailable", slog.String("ticker", ticker), slog.String("error", err.Error()))
		return models.UnavailableHistory(ticker, err.Error())
	}

	result := chart.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return models.UnavailableHistory(ticker, "no close series")
	}
	closes := result.Indicators.Quote[0].Close

	lo, hi := Day(from), Day(to)
	var points []models.HistoryPoint
	for i, ts := range result.Timestamp {
		if i >= len(closes) || !closes[i].Valid {
			continue
		}
		date := Day(time.Unix(ts, 0))
		if date.Before(lo) || date.After(hi) {
			continue
		}
		if n := len(points); n > 0 && points[n-1].Date.Equal(date) {
			points[n-1].Close = closes[i].Decimal
			continue
		}
		points = append(points, models.HistoryPoint{Date: date, Close: closes[i].Decimal})
	}
	if len(points) == 0 {
		return models.UnavailableHistory(ticker, "no closes in range")
	}
	return models.History{Ticker: ticker, Points: points, Status: models.PriceAvailable}
}

func (y *Yahoo) chart(ctx context.Context, symbol string, params url.Values) (*chartResponse, error) {
	if err := y.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	reqURL := fmt.Sprintf("%s/v8/finance/chart/%s?%s", y.baseURL, url.PathEscape(symbol), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := y.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chart for %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chart API returned status %d for %s", resp.StatusCode, symbol)
	}

	var chart chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&chart); err != nil {
		return nil, fmt.Errorf("failed to decode chart for %s: %w", symbol, err)
	}
	if chart.Chart.Error != nil {
		return nil, fmt.Errorf("chart API error for %s: %s", symbol, chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 {
		return nil, fmt.Errorf("no chart result for %s", symbol)
	}
	return &chart, nil
}
