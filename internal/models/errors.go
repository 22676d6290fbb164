package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrDuplicateTransaction is wrapped by a ValidationError when a transaction
// id has already been recorded
var ErrDuplicateTransaction = errors.New("duplicate transaction id")

// ValidationError rejects a malformed or out-of-policy transaction. The
// ledger is left unchanged.
type ValidationError struct {
	TransactionID string
	Field         string
	Reason        string
	Err           error
}

func (e *ValidationError) Error() string {
	msg := "invalid transaction"
	if e.TransactionID != "" {
		msg += " " + e.TransactionID
	}
	if e.Field != "" {
		msg += ": " + e.Field
	}
	return msg + ": " + e.Reason
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// InsufficientHoldingsError rejects a SELL larger than the open quantity.
// Lot state is left unchanged.
type InsufficientHoldingsError struct {
	Ticker        string
	TransactionID string
	Requested     decimal.Decimal
	Available     decimal.Decimal
}

func (e *InsufficientHoldingsError) Error() string {
	return fmt.Sprintf("insufficient holdings for %s: transaction %s sells %s but only %s open",
		e.Ticker, e.TransactionID, e.Requested, e.Available)
}

// IsValidation reports whether err is or wraps a ValidationError
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsInsufficientHoldings reports whether err is or wraps an
// InsufficientHoldingsError
func IsInsufficientHoldings(err error) bool {
	var ih *InsufficientHoldingsError
	return errors.As(err, &ih)
}
