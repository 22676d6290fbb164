package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the derived holding for one ticker. Price-dependent fields are
// null whenever PriceStatus is UNAVAILABLE.
type Position struct {
	Ticker              string              `json:"ticker"`
	Quantity            decimal.Decimal     `json:"quantity"`
	WeightedAverageCost decimal.Decimal     `json:"weighted_average_cost"`
	CostBasis           decimal.Decimal     `json:"cost_basis"`
	CurrentPrice        decimal.NullDecimal `json:"current_price"`
	PriceAsOf           *time.Time          `json:"price_as_of,omitempty"`
	PriceStatus         PriceStatus         `json:"price_status"`
	PriceReason         string              `json:"price_reason,omitempty"`
	MarketValue         decimal.NullDecimal `json:"market_value"`
	UnrealizedPnL       decimal.NullDecimal `json:"unrealized_pnl"`
	UnrealizedPnLPct    decimal.NullDecimal `json:"unrealized_pnl_pct"`
	OpenLots            int                 `json:"open_lots"`
}

// Priced reports whether the position carries a usable current price
func (p Position) Priced() bool {
	return p.CurrentPrice.Valid && p.PriceStatus != PriceUnavailable
}

// PortfolioTotal aggregates positions. MarketValue and UnrealizedPnL cover
// priced tickers only; Unpriced lists the rest.
type PortfolioTotal struct {
	CostBasis      decimal.Decimal `json:"cost_basis"`
	PricedCost     decimal.Decimal `json:"priced_cost_basis"`
	MarketValue    decimal.Decimal `json:"market_value"`
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl"`
	Complete       bool            `json:"complete"`
	Unpriced       []string        `json:"unpriced,omitempty"`
	PositionsCount int             `json:"positions_count"`
}
