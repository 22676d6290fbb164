package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PerformanceSnapshot is a read-only performance summary. Ticker is empty
// for the portfolio-wide row, which has no DCA price.
type PerformanceSnapshot struct {
	AsOf               time.Time           `json:"as_of"`
	Ticker             string              `json:"ticker,omitempty"`
	RealizedPnL        decimal.Decimal     `json:"realized_pnl"`
	UnrealizedPnL      decimal.NullDecimal `json:"unrealized_pnl"`
	UnrealizedComplete bool                `json:"unrealized_complete"`
	Excluded           []string            `json:"excluded,omitempty"`
	DCAEffectivePrice  decimal.NullDecimal `json:"dca_effective_price"`
	ContributedCapital decimal.Decimal     `json:"contributed_capital"`
	Dividends          decimal.Decimal     `json:"dividends"`
	TotalReturn        decimal.NullDecimal `json:"total_return"`
	ReturnPct          decimal.NullDecimal `json:"return_pct"`
}

// SeriesPoint values one ticker on one date
type SeriesPoint struct {
	Date          time.Time           `json:"date"`
	Close         decimal.NullDecimal `json:"close"`
	PriceStatus   PriceStatus         `json:"price_status"`
	PriceDate     *time.Time          `json:"price_date,omitempty"`
	Quantity      decimal.Decimal     `json:"quantity"`
	CostBasis     decimal.Decimal     `json:"cost_basis"`
	DCA           decimal.NullDecimal `json:"dca"`
	SharesBought  decimal.Decimal     `json:"shares_bought"`
	MarketValue   decimal.NullDecimal `json:"market_value"`
	UnrealizedPnL decimal.NullDecimal `json:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal     `json:"realized_pnl"`
	Dividends     decimal.Decimal     `json:"dividends"`
	Profit        decimal.NullDecimal `json:"profit"`
	ReturnPct     decimal.NullDecimal `json:"return_pct"`
}

// PortfolioSeriesPoint sums the priced tickers on one date. Missing lists
// tickers that held units but had no usable price.
type PortfolioSeriesPoint struct {
	Date        time.Time           `json:"date"`
	MarketValue decimal.Decimal     `json:"market_value"`
	Invested    decimal.Decimal     `json:"invested"`
	Profit      decimal.Decimal     `json:"profit"`
	YieldPct    decimal.NullDecimal `json:"yield_pct"`
	Missing     []string            `json:"missing,omitempty"`
}

// Complete reports whether every held ticker was priced on the date
func (p PortfolioSeriesPoint) Complete() bool {
	return len(p.Missing) == 0
}
