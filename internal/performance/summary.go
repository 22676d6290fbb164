package performance

import (
	"time"

	"github.com/trogers1052/portfolio-service/internal/models"
)

// TradeSummary counts ledger entries by kind
type TradeSummary struct {
	Total     int        `json:"total_trades"`
	Tickers   int        `json:"unique_tickers"`
	Buys      int        `json:"buy_trades"`
	Sells     int        `json:"sell_trades"`
	Dividends int        `json:"dividends"`
	Splits    int        `json:"splits"`
	Synthetic int        `json:"synthetic"`
	First     *time.Time `json:"first_trade,omitempty"`
	Last      *time.Time `json:"last_trade,omitempty"`
}

// Summarize counts txs. Synthetic reinvestment buys are counted separately
// and not as buys.
func Summarize(txs []models.Transaction) TradeSummary {
	var s TradeSummary
	tickers := make(map[string]struct{})
	for _, tx := range txs {
		s.Total++
		tickers[tx.Ticker] = struct{}{}

		switch {
		case tx.Synthetic:
			s.Synthetic++
		case tx.Kind == models.KindBuy:
			s.Buys++
		case tx.Kind == models.KindSell:
			s.Sells++
		case tx.Kind == models.KindDividend:
			s.Dividends++
		case tx.Kind == models.KindSplit:
			s.Splits++
		}

		ts := tx.Timestamp
		if s.First == nil || ts.Before(*s.First) {
			s.First = &ts
		}
		if s.Last == nil || ts.After(*s.Last) {
			last := ts
			s.Last = &last
		}
	}
	s.Tickers = len(tickers)
	return s
}
