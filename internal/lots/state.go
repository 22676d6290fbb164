package lots

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/portfolio-service/internal/models"
)

// State is a point-in-time copy of a tracker. Lifetime counters are
// expressed in post-split units.
type State struct {
	Ticker     string                  `json:"ticker"`
	Method     Method                  `json:"method"`
	OpenLots   []models.Lot            `json:"open_lots"`
	ClosedLots []models.ClosedLot      `json:"closed_lots"`
	Dividends  []models.DividendRecord `json:"dividends"`

	BoughtQuantity decimal.Decimal `json:"bought_quantity"`
	BoughtCost     decimal.Decimal `json:"bought_cost"`
	// ContributedCost excludes synthetic reinvestment purchases.
	ContributedCost decimal.Decimal `json:"contributed_cost"`
	SoldQuantity    decimal.Decimal `json:"sold_quantity"`
	SaleProceeds    decimal.Decimal `json:"sale_proceeds"`
	SplitFactor     decimal.Decimal `json:"split_factor"`

	Applied     int       `json:"applied"`
	LastApplied time.Time `json:"last_applied"`
}

// OpenQuantity sums the open lots
func (s State) OpenQuantity() decimal.Decimal {
	q := decimal.Zero
	for _, l := range s.OpenLots {
		q = q.Add(l.Quantity)
	}
	return q
}

// OpenCost sums quantity * cost basis over the open lots
func (s State) OpenCost() decimal.Decimal {
	c := decimal.Zero
	for _, l := range s.OpenLots {
		c = c.Add(l.TotalCost())
	}
	return c
}

// WeightedAverageCost is OpenCost / OpenQuantity, null with nothing open
func (s State) WeightedAverageCost() decimal.NullDecimal {
	q := s.OpenQuantity()
	if q.IsZero() {
		return decimal.NullDecimal{}
	}
	return models.Price(s.OpenCost().Div(q))
}

// RealizedPnL sums the closed lots
func (s State) RealizedPnL() decimal.Decimal {
	total := decimal.Zero
	for _, c := range s.ClosedLots {
		total = total.Add(c.RealizedPnL())
	}
	return total
}

// DividendTotal sums every dividend received
func (s State) DividendTotal() decimal.Decimal {
	total := decimal.Zero
	for _, d := range s.Dividends {
		total = total.Add(d.Amount)
	}
	return total
}

// Conserved reports whether open plus sold quantity equals bought quantity
func (s State) Conserved() bool {
	return s.OpenQuantity().Add(s.SoldQuantity).Equal(s.BoughtQuantity)
}
