package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceStatus marks the quality of a price used in a computation
type PriceStatus string

// Price status constants
const (
	PriceAvailable   PriceStatus = "AVAILABLE"
	PriceStale       PriceStatus = "STALE"
	PriceUnavailable PriceStatus = "UNAVAILABLE"
)

// Quote is a point-in-time price. Status UNAVAILABLE is a normal result;
// Price is meaningless in that case.
type Quote struct {
	Ticker string          `json:"ticker"`
	Price  decimal.Decimal `json:"price"`
	AsOf   time.Time       `json:"as_of"`
	Status PriceStatus     `json:"status"`
	Reason string          `json:"reason,omitempty"`
}

// Available reports whether the quote carries a price, stale or not
func (q Quote) Available() bool {
	return q.Status == PriceAvailable || q.Status == PriceStale
}

// UnavailableQuote builds an UNAVAILABLE quote with a reason
func UnavailableQuote(ticker, reason string) Quote {
	return Quote{Ticker: ticker, Status: PriceUnavailable, Reason: reason}
}

// HistoryPoint is one daily close
type HistoryPoint struct {
	Date  time.Time       `json:"date"`
	Close decimal.Decimal `json:"close"`
}

// History is an ordered (ascending by date) close series. It may be partial.
type History struct {
	Ticker string         `json:"ticker"`
	Points []HistoryPoint `json:"points"`
	Status PriceStatus    `json:"status"`
	Reason string         `json:"reason,omitempty"`
}

// Available reports whether any points were returned
func (h History) Available() bool {
	return h.Status != PriceUnavailable && len(h.Points) > 0
}

// UnavailableHistory builds an UNAVAILABLE history with a reason
func UnavailableHistory(ticker, reason string) History {
	return History{Ticker: ticker, Status: PriceUnavailable, Reason: reason}
}

// PriceDataDaily is one archived daily bar. Only Close is required; the
// chart feed does not always report the rest.
type PriceDataDaily struct {
	ID        int                 `json:"id"`
	Symbol    string              `json:"symbol"`
	Date      time.Time           `json:"date"`
	Open      decimal.NullDecimal `json:"open"`
	High      decimal.NullDecimal `json:"high"`
	Low       decimal.NullDecimal `json:"low"`
	Close     decimal.Decimal     `json:"close"`
	Volume    int64               `json:"volume"`
	Source    string              `json:"source"`
	CreatedAt time.Time           `json:"created_at"`
}
