// Package lots turns a ticker's ordered transaction stream into open lots
// and closed-lot history.
package lots

import (
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/portfolio-service/internal/models"
)

// Tracker holds the lot state of one ticker. It is not safe for concurrent
// use; a single owner applies transactions strictly in ledger order.
type Tracker struct {
	ticker  string
	matcher Matcher

	open      []models.Lot
	closed    []models.ClosedLot
	dividends []models.DividendRecord

	boughtQty   decimal.Decimal
	boughtCost  decimal.Decimal
	contributed decimal.Decimal
	soldQty     decimal.Decimal
	proceeds    decimal.Decimal
	splitFactor decimal.Decimal

	applied     int
	lastApplied time.Time
}

// NewTracker creates an empty tracker for a ticker
func NewTracker(ticker string, m Matcher) *Tracker {
	if m == nil {
		m = fifo{}
	}
	return &Tracker{
		ticker:      strings.ToUpper(ticker),
		matcher:     m,
		splitFactor: decimal.NewFromInt(1),
	}
}

// Rebuild replays seq into a fresh tracker
func Rebuild(ticker string, m Matcher, seq iter.Seq[models.Transaction]) (*Tracker, error) {
	t := NewTracker(ticker, m)
	if err := t.Replay(seq); err != nil {
		return nil, err
	}
	return t, nil
}

// Ticker returns the tracked ticker
func (t *Tracker) Ticker() string {
	return t.ticker
}

// Replay applies every transaction of seq in order, stopping at the first
// failure
func (t *Tracker) Replay(seq iter.Seq[models.Transaction]) error {
	for tx := range seq {
		if _, err := t.Apply(tx); err != nil {
			return fmt.Errorf("failed to replay %s: %w", tx.ID, err)
		}
	}
	return nil
}

// Apply processes one transaction and returns the lots it closed. A
// rejected transaction leaves the tracker unchanged.
func (t *Tracker) Apply(tx models.Transaction) ([]models.ClosedLot, error) {
	if !strings.EqualFold(tx.Ticker, t.ticker) {
		return nil, &models.ValidationError{
			TransactionID: tx.ID, Field: "ticker", Reason: fmt.Sprintf("%s applied to %s tracker", tx.Ticker, t.ticker),
		}
	}

	var closed []models.ClosedLot
	switch tx.Kind {
	case models.KindBuy:
		t.buy(tx)
	case models.KindSell:
		var err error
		if closed, err = t.sell(tx); err != nil {
			return nil, err
		}
	case models.KindDividend:
		t.dividends = append(t.dividends, models.DividendRecord{
			Ticker:        t.ticker,
			TransactionID: tx.ID,
			Amount:        tx.Amount,
			PaidAt:        tx.Timestamp,
		})
	case models.KindSplit:
		if !tx.Ratio.GreaterThan(decimal.Zero) {
			return nil, &models.ValidationError{TransactionID: tx.ID, Field: "ratio", Reason: "must be greater than zero"}
		}
		t.split(tx.Ratio)
	default:
		return nil, &models.ValidationError{TransactionID: tx.ID, Field: "kind", Reason: fmt.Sprintf("unknown kind %q", tx.Kind)}
	}

	t.applied++
	t.lastApplied = tx.Timestamp
	return closed, nil
}

func (t *Tracker) buy(tx models.Transaction) {
	price := tx.Price.Decimal
	cost := tx.Notional()
	t.open = append(t.open, models.Lot{
		Ticker:    t.ticker,
		OpenedBy:  tx.ID,
		Quantity:  tx.Quantity,
		Cost:      cost,
		CostBasis: price,
		OpenedAt:  tx.Timestamp,
		Sequence:  tx.Sequence,
	})

	t.boughtQty = t.boughtQty.Add(tx.Quantity)
	t.boughtCost = t.boughtCost.Add(cost)
	if !tx.Synthetic {
		t.contributed = t.contributed.Add(cost)
		return
	}
	if divID, ok := strings.CutSuffix(tx.ID, ":drip"); ok {
		for i := range t.dividends {
			if t.dividends[i].TransactionID == divID {
				t.dividends[i].Reinvested = true
			}
		}
	}
}

func (t *Tracker) sell(tx models.Transaction) ([]models.ClosedLot, error) {
	order, err := t.matcher.Order(t.open, tx)
	if err != nil {
		return nil, err
	}

	available := decimal.Zero
	for _, i := range order {
		available = available.Add(t.open[i].Quantity)
	}
	if available.LessThan(tx.Quantity) {
		return nil, &models.InsufficientHoldingsError{
			Ticker:        t.ticker,
			TransactionID: tx.ID,
			Requested:     tx.Quantity,
			Available:     available,
		}
	}

	open := slices.Clone(t.open)
	remaining := tx.Quantity
	price := tx.Price.Decimal
	var closed []models.ClosedLot
	for _, i := range order {
		if remaining.IsZero() {
			break
		}
		lot := &open[i]
		take := decimal.Min(remaining, lot.Quantity)
		cost := lot.Cost
		if take.LessThan(lot.Quantity) {
			cost = take.Div(lot.Quantity).Mul(lot.Cost)
		}
		closed = append(closed, models.ClosedLot{
			Ticker:    t.ticker,
			OpenedBy:  lot.OpenedBy,
			ClosedBy:  tx.ID,
			Quantity:  take,
			Cost:      cost,
			CostBasis: lot.CostBasis,
			Proceeds:  price,
			OpenedAt:  lot.OpenedAt,
			ClosedAt:  tx.Timestamp,
		})
		// the remainder keeps whatever cost was not closed, so lot costs
		// always sum to what was paid
		lot.Quantity = lot.Quantity.Sub(take)
		lot.Cost = lot.Cost.Sub(cost)
		remaining = remaining.Sub(take)
	}

	t.open = slices.DeleteFunc(open, func(l models.Lot) bool { return l.Quantity.IsZero() })
	t.closed = append(t.closed, closed...)
	t.soldQty = t.soldQty.Add(tx.Quantity)
	t.proceeds = t.proceeds.Add(tx.Notional())
	return closed, nil
}

// split rescales open lot quantities in place. Each lot's total cost is
// untouched; only the derived per-unit basis is recomputed.
func (t *Tracker) split(ratio decimal.Decimal) {
	for i := range t.open {
		lot := &t.open[i]
		lot.Quantity = lot.Quantity.Mul(ratio)
		lot.CostBasis = lot.Cost.Div(lot.Quantity)
	}
	t.boughtQty = t.boughtQty.Mul(ratio)
	t.soldQty = t.soldQty.Mul(ratio)
	t.splitFactor = t.splitFactor.Mul(ratio)
}

// Clone returns an independent copy of the tracker
func (t *Tracker) Clone() *Tracker {
	c := *t
	c.open = slices.Clone(t.open)
	c.closed = slices.Clone(t.closed)
	c.dividends = slices.Clone(t.dividends)
	return &c
}

// State returns an immutable snapshot of the tracker
func (t *Tracker) State() State {
	return State{
		Ticker:          t.ticker,
		Method:          t.matcher.Method(),
		OpenLots:        slices.Clone(t.open),
		ClosedLots:      slices.Clone(t.closed),
		Dividends:       slices.Clone(t.dividends),
		BoughtQuantity:  t.boughtQty,
		BoughtCost:      t.boughtCost,
		ContributedCost: t.contributed,
		SoldQuantity:    t.soldQty,
		SaleProceeds:    t.proceeds,
		SplitFactor:     t.splitFactor,
		Applied:         t.applied,
		LastApplied:     t.lastApplied,
	}
}
