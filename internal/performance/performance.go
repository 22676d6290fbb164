// Package performance computes read-only profit and return figures from lot
// state, positions and daily price history.
package performance

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trogers1052/portfolio-service/internal/lots"
	"github.com/trogers1052/portfolio-service/internal/models"
	"github.com/trogers1052/portfolio-service/internal/positions"
)

var hundred = decimal.NewFromInt(100)

// RealizedPnL sums closed lots whose close falls within [from, to]. A nil
// bound is open.
func RealizedPnL(closed []models.ClosedLot, from, to *time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, c := range closed {
		if from != nil && c.ClosedAt.Before(*from) {
			continue
		}
		if to != nil && c.ClosedAt.After(*to) {
			continue
		}
		total = total.Add(c.RealizedPnL())
	}
	return total
}

// UnrealizedPnL sums priced positions and lists the tickers left out
func UnrealizedPnL(ps []models.Position) (decimal.Decimal, []string) {
	total := decimal.Zero
	var excluded []string
	for _, p := range ps {
		if !p.Priced() || !p.UnrealizedPnL.Valid {
			excluded = append(excluded, p.Ticker)
			continue
		}
		total = total.Add(p.UnrealizedPnL.Decimal)
	}
	return total, excluded
}

// DCAEffectivePrice is total BUY cost over total BUY quantity. Sells do not
// affect it; splits are reflected through the split-adjusted quantity.
func DCAEffectivePrice(s lots.State) decimal.NullDecimal {
	if !s.BoughtQuantity.IsPositive() {
		return decimal.NullDecimal{}
	}
	return models.Price(s.BoughtCost.Div(s.BoughtQuantity))
}

func dividendsUntil(divs []models.DividendRecord, asOf time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, d := range divs {
		if !d.PaidAt.After(asOf) {
			total = total.Add(d.Amount)
		}
	}
	return total
}

func returnPct(total decimal.NullDecimal, contributed decimal.Decimal) decimal.NullDecimal {
	if !total.Valid || !contributed.IsPositive() {
		return decimal.NullDecimal{}
	}
	return models.Price(total.Decimal.Div(contributed).Mul(hundred))
}

// Snapshot builds one row per ticker, sorted, followed by the portfolio row.
// A ticker whose open position is unpriced has no unrealized figure and
// therefore no total return.
func Snapshot(asOf time.Time, states map[string]lots.State, report positions.Report) []models.PerformanceSnapshot {
	tickers := make([]string, 0, len(states))
	for t := range states {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	portfolio := models.PerformanceSnapshot{
		AsOf:               asOf,
		UnrealizedPnL:      models.Price(decimal.Zero),
		UnrealizedComplete: true,
	}

	rows := make([]models.PerformanceSnapshot, 0, len(tickers)+1)
	for _, ticker := range tickers {
		s := states[ticker]
		row := models.PerformanceSnapshot{
			AsOf:               asOf,
			Ticker:             ticker,
			RealizedPnL:        RealizedPnL(s.ClosedLots, nil, &asOf),
			UnrealizedPnL:      models.Price(decimal.Zero),
			UnrealizedComplete: true,
			DCAEffectivePrice:  DCAEffectivePrice(s),
			ContributedCapital: s.ContributedCost,
			Dividends:          dividendsUntil(s.Dividends, asOf),
		}

		if p, held := report.Position(ticker); held {
			if p.Priced() && p.UnrealizedPnL.Valid {
				row.UnrealizedPnL = p.UnrealizedPnL
			} else {
				row.UnrealizedPnL = decimal.NullDecimal{}
				row.UnrealizedComplete = false
				row.Excluded = []string{ticker}
			}
		}

		if row.UnrealizedPnL.Valid {
			row.TotalReturn = models.Price(row.RealizedPnL.Add(row.UnrealizedPnL.Decimal).Add(row.Dividends))
		}
		row.ReturnPct = returnPct(row.TotalReturn, row.ContributedCapital)
		rows = append(rows, row)

		portfolio.RealizedPnL = portfolio.RealizedPnL.Add(row.RealizedPnL)
		portfolio.ContributedCapital = portfolio.ContributedCapital.Add(row.ContributedCapital)
		portfolio.Dividends = portfolio.Dividends.Add(row.Dividends)
		if row.UnrealizedComplete {
			portfolio.UnrealizedPnL.Decimal = portfolio.UnrealizedPnL.Decimal.Add(row.UnrealizedPnL.Decimal)
		} else {
			portfolio.UnrealizedComplete = false
			portfolio.Excluded = append(portfolio.Excluded, ticker)
		}
	}

	if portfolio.UnrealizedComplete {
		portfolio.TotalReturn = models.Price(portfolio.RealizedPnL.Add(portfolio.UnrealizedPnL.Decimal).Add(portfolio.Dividends))
	}
	portfolio.ReturnPct = returnPct(portfolio.TotalReturn, portfolio.ContributedCapital)
	return append(rows, portfolio)
}
