package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Lot is an open quantity acquired by a single BUY. Cost is the lot's total
// cost and is authoritative; CostBasis is the per-unit figure derived from
// it.
type Lot struct {
	Ticker    string          `json:"ticker"`
	OpenedBy  string          `json:"opened_by"`
	Quantity  decimal.Decimal `json:"quantity"`
	Cost      decimal.Decimal `json:"cost"`
	CostBasis decimal.Decimal `json:"cost_basis"`
	OpenedAt  time.Time       `json:"opened_at"`
	Sequence  int64           `json:"sequence"`
}

// TotalCost returns the lot's total cost
func (l Lot) TotalCost() decimal.Decimal {
	return l.Cost
}

// ClosedLot is the portion of a lot consumed by a SELL. Cost is the share
// of the lot's total cost carried by Quantity; Proceeds is per unit.
type ClosedLot struct {
	Ticker    string          `json:"ticker"`
	OpenedBy  string          `json:"opened_by"`
	ClosedBy  string          `json:"closed_by"`
	Quantity  decimal.Decimal `json:"quantity"`
	Cost      decimal.Decimal `json:"cost"`
	CostBasis decimal.Decimal `json:"cost_basis"`
	Proceeds  decimal.Decimal `json:"proceeds"`
	OpenedAt  time.Time       `json:"opened_at"`
	ClosedAt  time.Time       `json:"closed_at"`
}

// RealizedPnL returns quantity * proceeds - cost
func (c ClosedLot) RealizedPnL() decimal.Decimal {
	return c.Quantity.Mul(c.Proceeds).Sub(c.Cost)
}

// HoldingPeriod returns the time between opening and closing
func (c ClosedLot) HoldingPeriod() time.Duration {
	return c.ClosedAt.Sub(c.OpenedAt)
}

// DividendRecord is a realized cash inflow
type DividendRecord struct {
	Ticker        string          `json:"ticker"`
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	PaidAt        time.Time       `json:"paid_at"`
	Reinvested    bool            `json:"reinvested"`
}
