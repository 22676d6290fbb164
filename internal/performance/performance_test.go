package performance

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trogers1052/portfolio-service/internal/lots"
	"github.com/trogers1052/portfolio-service/internal/models"
	"github.com/trogers1052/portfolio-service/internal/positions"
	"github.com/trogers1052/portfolio-service/internal/pricefeed"
)

// 2024-01-01 is a Monday
func jan(day int, hour ...int) time.Time {
	h := 0
	if len(hour) > 0 {
		h = hour[0]
	}
	return time.Date(2024, 1, day, h, 0, 0, 0, time.UTC)
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type txOpt func(*models.Transaction)

func tx(id string, kind models.TransactionKind, ticker string, at time.Time, seq int64, opts ...txOpt) models.Transaction {
	t := models.Transaction{ID: id, Ticker: ticker, Kind: kind, Timestamp: at, Sequence: seq}
	for _, o := range opts {
		o(&t)
	}
	return t
}

func qp(qty, price string) txOpt {
	return func(t *models.Transaction) {
		t.Quantity = d(qty)
		t.Price = models.Price(d(price))
	}
}

func amount(a string) txOpt {
	return func(t *models.Transaction) { t.Amount = d(a) }
}

func replay(t *testing.T, ticker string, txs ...models.Transaction) lots.State {
	t.Helper()
	tr, err := lots.Rebuild(ticker, mustMatcher(t), func(yield func(models.Transaction) bool) {
		for _, x := range txs {
			if !yield(x) {
				return
			}
		}
	})
	require.NoError(t, err)
	return tr.State()
}

func mustMatcher(t *testing.T) lots.Matcher {
	t.Helper()
	m, err := lots.NewMatcher(lots.FIFO)
	require.NoError(t, err)
	return m
}

func TestDCAEffectivePriceIgnoresSells(t *testing.T) {
	s := replay(t, "VUAA",
		tx("b1", models.KindBuy, "VUAA", jan(2, 15), 1, qp("10", "10")),
		tx("b2", models.KindBuy, "VUAA", jan(3, 15), 2, qp("10", "30")),
		tx("s1", models.KindSell, "VUAA", jan(4, 15), 3, qp("15", "40")),
	)
	dca := DCAEffectivePrice(s)
	require.True(t, dca.Valid)
	assert.True(t, dca.Decimal.Equal(d("20")), "got %s", dca.Decimal)

	assert.False(t, DCAEffectivePrice(lots.State{}).Valid)
}

func TestDCAEffectivePriceAfterSplit(t *testing.T) {
	s := replay(t, "VUAA",
		tx("b1", models.KindBuy, "VUAA", jan(2, 15), 1, qp("10", "100")),
		tx("x1", models.KindSplit, "VUAA", jan(3, 15), 2, func(t *models.Transaction) { t.Ratio = d("2") }),
	)
	assert.True(t, DCAEffectivePrice(s).Decimal.Equal(d("50")))
}

func TestRealizedPnLWindow(t *testing.T) {
	closed := []models.ClosedLot{
		{Quantity: d("10"), Cost: d("100"), CostBasis: d("10"), Proceeds: d("30"), ClosedAt: jan(3)},
		{Quantity: d("5"), Cost: d("100"), CostBasis: d("20"), Proceeds: d("30"), ClosedAt: jan(10)},
	}
	from, to := jan(5), jan(20)

	assert.True(t, RealizedPnL(closed, nil, nil).Equal(d("250")))
	assert.True(t, RealizedPnL(closed, &from, nil).Equal(d("50")))
	assert.True(t, RealizedPnL(closed, nil, &from).Equal(d("200")))
	assert.True(t, RealizedPnL(closed, &from, &to).Equal(d("50")))
}

func TestUnrealizedPnLFlagsExcluded(t *testing.T) {
	ps := []models.Position{
		{Ticker: "VUAA", PriceStatus: models.PriceAvailable, CurrentPrice: models.Price(d("1")), UnrealizedPnL: models.Price(d("15"))},
		{Ticker: "EQAC", PriceStatus: models.PriceUnavailable},
		{Ticker: "CSPX", PriceStatus: models.PriceStale, CurrentPrice: models.Price(d("1")), UnrealizedPnL: models.Price(d("-5"))},
	}
	total, excluded := UnrealizedPnL(ps)
	assert.True(t, total.Equal(d("10")))
	assert.Equal(t, []string{"EQAC"}, excluded)
}

func TestSnapshot(t *testing.T) {
	vuaa := replay(t, "VUAA",
		tx("b1", models.KindBuy, "VUAA", jan(2, 15), 1, qp("10", "10")),
		tx("b2", models.KindBuy, "VUAA", jan(3, 15), 2, qp("10", "20")),
		tx("s1", models.KindSell, "VUAA", jan(4, 15), 3, qp("15", "30")),
		tx("d1", models.KindDividend, "VUAA", jan(5, 15), 4, amount("7")),
	)
	eqac := replay(t, "EQAC", tx("e1", models.KindBuy, "EQAC", jan(2, 15), 5, qp("4", "50")))
	states := map[string]lots.State{"VUAA": vuaa, "EQAC": eqac}

	feed := pricefeed.NewStatic()
	feed.SetQuote("VUAA", d("40"), jan(8))
	report := positions.NewAggregator(feed).Positions(context.Background(), states)

	rows := Snapshot(jan(8), states, report)
	require.Len(t, rows, 3)

	eq, vu, total := rows[0], rows[1], rows[2]
	assert.Equal(t, "EQAC", eq.Ticker)
	assert.False(t, eq.UnrealizedComplete)
	assert.False(t, eq.UnrealizedPnL.Valid)
	assert.False(t, eq.TotalReturn.Valid, "unknown unrealized means unknown total")
	assert.Equal(t, []string{"EQAC"}, eq.Excluded)

	assert.Equal(t, "VUAA", vu.Ticker)
	assert.True(t, vu.RealizedPnL.Equal(d("250")))
	// 5 open @20, price 40
	assert.True(t, vu.UnrealizedPnL.Decimal.Equal(d("100")))
	assert.True(t, vu.Dividends.Equal(d("7")))
	assert.True(t, vu.TotalReturn.Decimal.Equal(d("357")))
	assert.True(t, vu.ContributedCapital.Equal(d("300")))
	assert.True(t, vu.ReturnPct.Decimal.Equal(d("119")))
	assert.True(t, vu.DCAEffectivePrice.Decimal.Equal(d("15")))

	assert.Empty(t, total.Ticker)
	assert.False(t, total.UnrealizedComplete)
	assert.Equal(t, []string{"EQAC"}, total.Excluded)
	assert.True(t, total.RealizedPnL.Equal(d("250")))
	assert.True(t, total.ContributedCapital.Equal(d("500")))
	assert.False(t, total.TotalReturn.Valid)
	assert.False(t, total.DCAEffectivePrice.Valid)
}

func TestTradingDays(t *testing.T) {
	assert.Equal(t, 0, TradingDays(jan(3), jan(3)))
	assert.Equal(t, 1, TradingDays(jan(5), jan(8)), "friday to monday")
	assert.Equal(t, 5, TradingDays(jan(3), jan(10)))
	assert.Equal(t, 0, TradingDays(jan(10), jan(3)))
	assert.Len(t, Dates(jan(1), jan(14)), 10)
}

func carryForwardFeed() *pricefeed.Static {
	feed := pricefeed.NewStatic()
	feed.SetClose("VUAA", jan(2), d("10"))
	feed.SetClose("VUAA", jan(3), d("11"))
	feed.SetClose("VUAA", jan(17), d("20"))
	return feed
}

func TestTickerSeriesCarryForward(t *testing.T) {
	a := NewAnalyzer(carryForwardFeed())
	txs := []models.Transaction{tx("b1", models.KindBuy, "VUAA", jan(2, 15), 1, qp("10", "10"))}

	points, err := a.TickerSeries(context.Background(), "VUAA", txs, []time.Time{jan(17), jan(1), jan(2), jan(4), jan(10), jan(11), jan(4)})
	require.NoError(t, err)
	require.Len(t, points, 6, "dates are sorted and deduplicated")

	before, exact, stale, edge, beyond, after := points[0], points[1], points[2], points[3], points[4], points[5]

	assert.Equal(t, models.PriceUnavailable, before.PriceStatus)
	assert.True(t, before.Quantity.IsZero())
	assert.False(t, before.DCA.Valid)

	assert.Equal(t, models.PriceAvailable, exact.PriceStatus)
	assert.Nil(t, exact.PriceDate)
	assert.True(t, exact.MarketValue.Decimal.Equal(d("100")))
	assert.True(t, exact.Profit.Decimal.IsZero())

	assert.Equal(t, models.PriceStale, stale.PriceStatus)
	require.NotNil(t, stale.PriceDate)
	assert.True(t, stale.PriceDate.Equal(jan(3)))
	assert.True(t, stale.Close.Decimal.Equal(d("11")))
	assert.True(t, stale.ReturnPct.Decimal.Equal(d("10")))

	assert.Equal(t, models.PriceStale, edge.PriceStatus, "five trading days is within the gap")
	assert.True(t, edge.Close.Decimal.Equal(d("11")), "never interpolated")

	assert.Equal(t, models.PriceUnavailable, beyond.PriceStatus)
	assert.False(t, beyond.Close.Valid)
	assert.False(t, beyond.MarketValue.Valid)
	assert.True(t, beyond.Quantity.Equal(d("10")), "holdings are known without a price")

	assert.Equal(t, models.PriceAvailable, after.PriceStatus)
	assert.True(t, after.Profit.Decimal.Equal(d("100")))
}

func TestTickerSeriesMaxGapOption(t *testing.T) {
	a := NewAnalyzer(carryForwardFeed(), WithMaxGap(1))
	txs := []models.Transaction{tx("b1", models.KindBuy, "VUAA", jan(2, 15), 1, qp("10", "10"))}

	points, err := a.TickerSeries(context.Background(), "VUAA", txs, []time.Time{jan(4), jan(5)})
	require.NoError(t, err)
	assert.Equal(t, models.PriceStale, points[0].PriceStatus)
	assert.Equal(t, models.PriceUnavailable, points[1].PriceStatus)
}

func TestTickerSeriesReplayFailure(t *testing.T) {
	a := NewAnalyzer(pricefeed.NewStatic())
	txs := []models.Transaction{tx("s1", models.KindSell, "VUAA", jan(2, 15), 1, qp("1", "10"))}
	_, err := a.TickerSeries(context.Background(), "VUAA", txs, []time.Time{jan(3)})
	require.Error(t, err)
	assert.True(t, models.IsInsufficientHoldings(err))
}

func TestPortfolioSeries(t *testing.T) {
	feed := carryForwardFeed()
	a := NewAnalyzer(feed)

	txs := map[string][]models.Transaction{
		"VUAA": {
			tx("b1", models.KindBuy, "VUAA", jan(2, 15), 1, qp("10", "10")),
			tx("b2", models.KindBuy, "VUAA", jan(3, 15), 3, qp("10", "12")),
		},
		"EQAC": {tx("e1", models.KindBuy, "EQAC", jan(3, 15), 2, qp("1", "100"))},
	}

	points, err := a.PortfolioSeries(context.Background(), txs, []time.Time{jan(2), jan(3), jan(17)})
	require.NoError(t, err)
	require.Len(t, points, 3)

	assert.True(t, points[0].Complete(), "EQAC holds nothing yet")
	assert.True(t, points[0].MarketValue.Equal(d("100")))
	assert.True(t, points[0].Invested.Equal(d("100")))

	assert.Equal(t, []string{"EQAC"}, points[1].Missing)
	// 20 units @ 11, DCA 11
	assert.True(t, points[1].MarketValue.Equal(d("220")))
	assert.True(t, points[1].Invested.Equal(d("220")))
	assert.True(t, points[1].Profit.IsZero())

	assert.True(t, points[2].MarketValue.Equal(d("400")))
	assert.True(t, points[2].Profit.Equal(d("180")))
	require.True(t, points[2].YieldPct.Valid)
	assert.Equal(t, "81.82", points[2].YieldPct.Decimal.StringFixed(2))

	ext, ok := PortfolioExtrema(points)
	require.True(t, ok)
	assert.True(t, ext.Max.Date.Equal(jan(17)))
	assert.True(t, ext.Min.Value.IsZero())
	assert.True(t, ext.Min.Date.Equal(jan(2)), "first occurrence wins")
}

func TestExtremaSkipsUnavailable(t *testing.T) {
	points := []models.SeriesPoint{
		{Date: jan(2), Profit: models.Price(d("5"))},
		{Date: jan(3)},
		{Date: jan(4), Profit: models.Price(d("-3"))},
		{Date: jan(5), Profit: models.Price(d("9"))},
	}
	ext, ok := Extrema(points)
	require.True(t, ok)
	assert.True(t, ext.Max.Value.Equal(d("9")))
	assert.True(t, ext.Max.Date.Equal(jan(5)))
	assert.True(t, ext.Min.Value.Equal(d("-3")))

	_, ok = Extrema([]models.SeriesPoint{{Date: jan(2)}})
	assert.False(t, ok)
}

func TestMilestones(t *testing.T) {
	targets := []Milestone{
		{Amount: d("25000"), Label: "Long Term"},
		{Amount: d("5000"), Label: "Short Term"},
		{Amount: d("10000"), Label: "Medium Term"},
	}

	r := Milestones(d("12000"), targets)
	assert.Equal(t, 2, r.CompletedCount)
	assert.Equal(t, 3, r.TotalCount)
	assert.False(t, r.Completed)
	require.NotNil(t, r.Next)
	assert.Equal(t, "Long Term", r.Next.Label)
	assert.Equal(t, MilestoneCompleted, r.Milestones[0].Status)
	assert.Equal(t, MilestoneUpcoming, r.Milestones[2].Status)
	assert.Equal(t, "66.67", r.ProgressPct.StringFixed(2))
	assert.True(t, r.FinalGoalProgress.Equal(d("48")))
	assert.Empty(t, targets[0].Status, "input is not modified")

	r = Milestones(d("30000"), targets)
	assert.True(t, r.Completed)
	assert.Nil(t, r.Next)
	assert.True(t, r.FinalGoalProgress.Equal(d("100")))

	r = Milestones(d("1"), nil)
	assert.True(t, r.Completed)
	assert.True(t, r.ProgressPct.IsZero())
}

func TestSummarize(t *testing.T) {
	drip := tx("d1:drip", models.KindBuy, "VUAA", jan(5, 15), 5, qp("0.1", "70"))
	drip.Synthetic = true
	s := Summarize([]models.Transaction{
		tx("b1", models.KindBuy, "VUAA", jan(2, 15), 1, qp("1", "1")),
		tx("b2", models.KindBuy, "EQAC", jan(3, 15), 2, qp("1", "1")),
		tx("s1", models.KindSell, "VUAA", jan(4, 15), 3, qp("1", "1")),
		tx("d1", models.KindDividend, "VUAA", jan(5, 15), 4, amount("7")),
		drip,
		tx("x1", models.KindSplit, "EQAC", jan(8, 15), 6),
	})

	assert.Equal(t, 6, s.Total)
	assert.Equal(t, 2, s.Tickers)
	assert.Equal(t, 2, s.Buys)
	assert.Equal(t, 1, s.Sells)
	assert.Equal(t, 1, s.Dividends)
	assert.Equal(t, 1, s.Splits)
	assert.Equal(t, 1, s.Synthetic)
	require.NotNil(t, s.First)
	assert.True(t, s.First.Equal(jan(2, 15)))
	assert.True(t, s.Last.Equal(jan(8, 15)))
}

func TestQuoteOn(t *testing.T) {
	a := NewAnalyzer(carryForwardFeed())
	ctx := context.Background()

	q := a.QuoteOn(ctx, "VUAA", jan(4, 18))
	assert.Equal(t, models.PriceStale, q.Status)
	assert.True(t, q.Price.Equal(d("11")))
	assert.True(t, q.AsOf.Equal(jan(3)))

	assert.Equal(t, models.PriceAvailable, a.AsOf(jan(17)).Quote(ctx, "VUAA").Status)
	assert.Equal(t, models.PriceUnavailable, a.QuoteOn(ctx, "VUAA", jan(12)).Status)
}
