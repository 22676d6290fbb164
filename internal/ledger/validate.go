package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/portfolio-service/internal/models"
)

// validate checks a normalized transaction. Callers hold at least a read lock.
func (l *Ledger) validate(tx models.Transaction) error {
	invalid := func(field, reason string) error {
		return &models.ValidationError{TransactionID: tx.ID, Field: field, Reason: reason}
	}

	if tx.ID == "" {
		return invalid("id", "is required")
	}
	if _, dup := l.ids[tx.ID]; dup {
		return &models.ValidationError{
			TransactionID: tx.ID, Field: "id", Reason: "already recorded", Err: models.ErrDuplicateTransaction,
		}
	}
	if tx.Ticker == "" {
		return invalid("ticker", "is required")
	}
	if tx.Timestamp.IsZero() {
		return invalid("timestamp", "is required")
	}
	if cur, ok := l.currency[tx.Ticker]; ok && cur != tx.Currency {
		return invalid("currency", fmt.Sprintf("%s is recorded in %s, got %s", tx.Ticker, cur, tx.Currency))
	}
	for _, f := range []struct {
		name  string
		value decimal.Decimal
	}{
		{"quantity", tx.Quantity},
		{"price", tx.Price.Decimal},
		{"amount", tx.Amount},
		{"ratio", tx.Ratio},
		{"reinvest_price", tx.ReinvestPrice.Decimal},
	} {
		if !f.value.Equal(f.value.Truncate(MaxScale)) {
			return invalid(f.name, fmt.Sprintf("has more than %d decimal places", MaxScale))
		}
	}
	if len(tx.LotIDs) > 0 && tx.Kind != models.KindSell {
		return invalid("lot_ids", "only valid on SELL")
	}

	switch tx.Kind {
	case models.KindBuy, models.KindSell:
		if !positive(tx.Quantity) {
			return invalid("quantity", "must be greater than zero")
		}
		if !tx.Price.Valid {
			return invalid("price", fmt.Sprintf("is required for %s", tx.Kind))
		}
		if !positive(tx.Price.Decimal) {
			return invalid("price", "must be greater than zero")
		}
		if !tx.Amount.IsZero() || !tx.Ratio.IsZero() || tx.ReinvestPrice.Valid {
			return invalid("kind", fmt.Sprintf("%s carries only quantity and price", tx.Kind))
		}
	case models.KindDividend:
		if tx.Price.Valid {
			return invalid("price", "not allowed on DIVIDEND")
		}
		if !positive(tx.Amount) {
			return invalid("amount", "must be greater than zero")
		}
		if !tx.Quantity.IsZero() || !tx.Ratio.IsZero() {
			return invalid("kind", "DIVIDEND carries only an amount")
		}
		if tx.ReinvestPrice.Valid && !positive(tx.ReinvestPrice.Decimal) {
			return invalid("reinvest_price", "must be greater than zero")
		}
	case models.KindSplit:
		if tx.Price.Valid {
			return invalid("price", "not allowed on SPLIT")
		}
		if !positive(tx.Ratio) {
			return invalid("ratio", "must be greater than zero")
		}
		if !tx.Quantity.IsZero() || !tx.Amount.IsZero() || tx.ReinvestPrice.Valid {
			return invalid("kind", "SPLIT carries only a ratio")
		}
	default:
		return invalid("kind", fmt.Sprintf("unknown kind %q", tx.Kind))
	}
	return nil
}
