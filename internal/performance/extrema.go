package performance

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/trogers1052/portfolio-service/internal/models"
)

// Extreme is a value and the date it occurred
type Extreme struct {
	Date  time.Time       `json:"date"`
	Value decimal.Decimal `json:"value"`
}

// Extremes holds the highest and lowest points of a series
type Extremes struct {
	Max Extreme `json:"max"`
	Min Extreme `json:"min"`
}

// Extrema returns the max and min profit of a ticker series, skipping
// unavailable points. The first occurrence wins on ties. ok is false when
// no point has a profit.
func Extrema(points []models.SeriesPoint) (Extremes, bool) {
	dates := make([]time.Time, len(points))
	values := make([]decimal.NullDecimal, len(points))
	for i, p := range points {
		dates[i], values[i] = p.Date, p.Profit
	}
	return extrema(dates, values)
}

// PortfolioExtrema returns the max and min profit of a portfolio series
func PortfolioExtrema(points []models.PortfolioSeriesPoint) (Extremes, bool) {
	dates := make([]time.Time, len(points))
	values := make([]decimal.NullDecimal, len(points))
	for i, p := range points {
		dates[i], values[i] = p.Date, models.Price(p.Profit)
	}
	return extrema(dates, values)
}

func extrema(dates []time.Time, values []decimal.NullDecimal) (Extremes, bool) {
	var e Extremes
	found := false
	for i, v := range values {
		if !v.Valid {
			continue
		}
		if !found {
			e.Max = Extreme{Date: dates[i], Value: v.Decimal}
			e.Min = e.Max
			found = true
			continue
		}
		if v.Decimal.GreaterThan(e.Max.Value) {
			e.Max = Extreme{Date: dates[i], Value: v.Decimal}
		}
		if v.Decimal.LessThan(e.Min.Value) {
			e.Min = Extreme{Date: dates[i], Value: v.Decimal}
		}
	}
	return e, found
}
