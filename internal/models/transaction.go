package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind identifies the ledger event type
type TransactionKind string

// Transaction kind constants
const (
	KindBuy      TransactionKind = "BUY"
	KindSell     TransactionKind = "SELL"
	KindDividend TransactionKind = "DIVIDEND"
	KindSplit    TransactionKind = "SPLIT"
)

// ParseTransactionKind parses a kind case-insensitively
func ParseTransactionKind(s string) (TransactionKind, error) {
	switch k := TransactionKind(strings.ToUpper(strings.TrimSpace(s))); k {
	case KindBuy, KindSell, KindDividend, KindSplit:
		return k, nil
	default:
		return "", fmt.Errorf("unknown transaction kind: %q", s)
	}
}

// Transaction is an immutable ledger entry.
//
// Quantity is the number of units for BUY and SELL. DIVIDEND events carry
// their cash value in Amount and SPLIT events their ratio in Ratio; neither
// has a Price.
type Transaction struct {
	ID            string              `json:"id"`
	Ticker        string              `json:"ticker"`
	Kind          TransactionKind     `json:"kind"`
	Quantity      decimal.Decimal     `json:"quantity"`
	Price         decimal.NullDecimal `json:"price"`
	Amount        decimal.Decimal     `json:"amount,omitempty"`
	Ratio         decimal.Decimal     `json:"ratio,omitempty"`
	ReinvestPrice decimal.NullDecimal `json:"reinvest_price"`
	LotIDs        []string            `json:"lot_ids,omitempty"`
	Timestamp     time.Time           `json:"timestamp"`
	Currency      string              `json:"currency"`
	Source        string              `json:"source,omitempty"`
	Synthetic     bool                `json:"synthetic,omitempty"`
	Sequence      int64               `json:"sequence"`
}

// Before reports whether t sorts before o under the ledger ordering key
// (timestamp, insertion sequence).
func (t Transaction) Before(o Transaction) bool {
	if !t.Timestamp.Equal(o.Timestamp) {
		return t.Timestamp.Before(o.Timestamp)
	}
	return t.Sequence < o.Sequence
}

// Notional returns quantity * price for BUY and SELL, zero otherwise
func (t Transaction) Notional() decimal.Decimal {
	if !t.Price.Valid {
		return decimal.Zero
	}
	return t.Quantity.Mul(t.Price.Decimal)
}

// Clone returns a copy that shares no slices with t
func (t Transaction) Clone() Transaction {
	if t.LotIDs != nil {
		t.LotIDs = append([]string(nil), t.LotIDs...)
	}
	return t
}

// Price helper for literals in callers and tests
func Price(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}
