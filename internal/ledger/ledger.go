// Package ledger records the ordered, append-only transaction log that every
// other component derives its state from.
package ledger

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/portfolio-service/internal/models"
)

// MaxScale is the number of decimal places a stored quantity, price,
// amount or ratio keeps. Values with more places are rejected.
const MaxScale int32 = 10

// TimestampPrecision is the resolution timestamps are stored at
const TimestampPrecision = time.Microsecond

// ErrStale is returned by Commit when the ledger changed after Prepare
var ErrStale = errors.New("ledger changed since prepare")

// Config controls ledger policy
type Config struct {
	// AllowBackdated accepts transactions older than the latest one recorded
	// for the ticker and re-sorts; when false they are rejected.
	AllowBackdated bool
	// ReinvestDividends records a synthetic BUY for dividends that carry a
	// reinvestment price.
	ReinvestDividends bool
	// DefaultCurrency fills transactions that arrive without one.
	DefaultCurrency string
}

// Ledger is a ticker-partitioned transaction log. Per-ticker slices are
// replaced on every commit and never modified in place, so iterators handed
// out earlier keep seeing a consistent snapshot.
type Ledger struct {
	mu       sync.RWMutex
	cfg      Config
	byTicker map[string][]models.Transaction
	ids      map[string]struct{}
	currency map[string]string
	seq      int64
	version  int64
}

// Pending is a validated but not yet recorded append
type Pending struct {
	Ticker string
	// Transactions holds the new entries: the submitted transaction and any
	// synthetic reinvestment BUY.
	Transactions []models.Transaction
	// Sequence is the ticker's full ordered history including the new entries.
	Sequence  []models.Transaction
	Backdated bool
	From      time.Time
	Index     int

	version int64
	seq     int64
}

// Appended describes a committed append
type Appended struct {
	Ticker       string
	Transactions []models.Transaction
	Backdated    bool
	// From is the timestamp of the insertion point; state derived from the
	// ticker must be recomputed from here when Backdated is set.
	From  time.Time
	Index int
}

// New creates an empty ledger
func New(cfg Config) *Ledger {
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "USD"
	}
	cfg.DefaultCurrency = strings.ToUpper(cfg.DefaultCurrency)
	return &Ledger{
		cfg:      cfg,
		byTicker: make(map[string][]models.Transaction),
		ids:      make(map[string]struct{}),
		currency: make(map[string]string),
	}
}

// Config returns the ledger policy
func (l *Ledger) Config() Config {
	return l.cfg
}

// Append validates and records a transaction
func (l *Ledger) Append(tx models.Transaction) (Appended, error) {
	p, err := l.Prepare(tx)
	if err != nil {
		return Appended{}, err
	}
	return l.Commit(p)
}

// Prepare validates tx against the current ledger without recording it
func (l *Ledger) Prepare(tx models.Transaction) (Pending, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.prepare(tx, false)
}

// Commit records a pending append. It fails with ErrStale if any other
// append was committed after p was prepared.
func (l *Ledger) Commit(p Pending) (Appended, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if p.version != l.version {
		return Appended{}, ErrStale
	}
	l.commit(p)

	return Appended{
		Ticker:       p.Ticker,
		Transactions: slices.Clone(p.Transactions),
		Backdated:    p.Backdated,
		From:         p.From,
		Index:        p.Index,
	}, nil
}

// Restore records a transaction loaded from storage. The stored sequence is
// kept when set, ordering policy is not enforced and no synthetic entries
// are generated, since they were persisted alongside the original.
func (l *Ledger) Restore(tx models.Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, err := l.prepare(tx, true)
	if err != nil {
		return err
	}
	l.commit(p)
	return nil
}

func (l *Ledger) commit(p Pending) {
	l.byTicker[p.Ticker] = p.Sequence
	for _, t := range p.Transactions {
		l.ids[t.ID] = struct{}{}
	}
	if _, ok := l.currency[p.Ticker]; !ok {
		l.currency[p.Ticker] = p.Transactions[0].Currency
	}
	if p.seq > l.seq {
		l.seq = p.seq
	}
	l.version++
}

func (l *Ledger) prepare(in models.Transaction, restore bool) (Pending, error) {
	tx := l.normalize(in)
	if err := l.validate(tx); err != nil {
		return Pending{}, err
	}

	seq := l.seq
	if restore && tx.Sequence > 0 {
		if tx.Sequence > seq {
			seq = tx.Sequence
		}
	} else {
		seq++
		tx.Sequence = seq
	}

	entries := []models.Transaction{tx}
	if !restore && l.cfg.ReinvestDividends && tx.Kind == models.KindDividend && tx.ReinvestPrice.Valid {
		// a dividend too small to buy one stored unit is kept as cash
		if drip := reinvestment(tx, seq+1); drip.Quantity.IsPositive() {
			if _, dup := l.ids[drip.ID]; dup {
				return Pending{}, &models.ValidationError{
					TransactionID: tx.ID, Field: "id", Reason: "reinvestment id already recorded", Err: models.ErrDuplicateTransaction,
				}
			}
			seq++
			entries = append(entries, drip)
		}
	}

	existing := l.byTicker[tx.Ticker]
	index := len(existing)
	backdated := false
	if n := len(existing); n > 0 && tx.Before(existing[n-1]) {
		if !restore && !l.cfg.AllowBackdated {
			return Pending{}, &models.ValidationError{
				TransactionID: tx.ID,
				Field:         "timestamp",
				Reason: fmt.Sprintf("%s is earlier than latest %s transaction at %s",
					tx.Timestamp.Format(time.RFC3339), tx.Ticker, existing[n-1].Timestamp.Format(time.RFC3339)),
			}
		}
		index = sort.Search(n, func(i int) bool { return tx.Before(existing[i]) })
		backdated = !restore
	}

	sequence := make([]models.Transaction, 0, len(existing)+len(entries))
	sequence = append(sequence, existing[:index]...)
	sequence = append(sequence, entries...)
	sequence = append(sequence, existing[index:]...)

	return Pending{
		Ticker:       tx.Ticker,
		Transactions: entries,
		Sequence:     sequence,
		Backdated:    backdated,
		From:         tx.Timestamp,
		Index:        index,
		version:      l.version,
		seq:          seq,
	}, nil
}

func (l *Ledger) normalize(tx models.Transaction) models.Transaction {
	tx = tx.Clone()
	tx.ID = strings.TrimSpace(tx.ID)
	tx.Ticker = strings.ToUpper(strings.TrimSpace(tx.Ticker))
	tx.Kind = models.TransactionKind(strings.ToUpper(string(tx.Kind)))
	tx.Currency = strings.ToUpper(strings.TrimSpace(tx.Currency))
	if tx.Currency == "" {
		tx.Currency = l.cfg.DefaultCurrency
	}
	tx.Timestamp = tx.Timestamp.UTC().Truncate(TimestampPrecision)
	return tx
}

// reinvestment builds the synthetic BUY for a reinvested dividend
func reinvestment(div models.Transaction, seq int64) models.Transaction {
	price := div.ReinvestPrice.Decimal
	return models.Transaction{
		ID:        div.ID + ":drip",
		Ticker:    div.Ticker,
		Kind:      models.KindBuy,
		Quantity:  div.Amount.Div(price).Round(MaxScale),
		Price:     models.Price(price),
		Timestamp: div.Timestamp,
		Currency:  div.Currency,
		Source:    div.Source,
		Synthetic: true,
		Sequence:  seq,
	}
}

// TransactionsFor returns the ticker's transactions in ledger order. The
// sequence is finite and can be ranged over any number of times.
func (l *Ledger) TransactionsFor(ticker string) iter.Seq[models.Transaction] {
	l.mu.RLock()
	snapshot := l.byTicker[strings.ToUpper(strings.TrimSpace(ticker))]
	l.mu.RUnlock()

	return func(yield func(models.Transaction) bool) {
		for _, tx := range snapshot {
			if !yield(tx.Clone()) {
				return
			}
		}
	}
}

// Tickers returns every ticker with at least one transaction, sorted
func (l *Ledger) Tickers() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	tickers := make([]string, 0, len(l.byTicker))
	for t := range l.byTicker {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	return tickers
}

// All returns every transaction ordered by (timestamp, sequence)
func (l *Ledger) All() []models.Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()

	all := make([]models.Transaction, 0, len(l.ids))
	for _, txs := range l.byTicker {
		for _, tx := range txs {
			all = append(all, tx.Clone())
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Before(all[j]) })
	return all
}

// Len returns the number of recorded transactions
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ids)
}

// Has reports whether a transaction id has been recorded
func (l *Ledger) Has(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.ids[strings.TrimSpace(id)]
	return ok
}

func positive(d decimal.Decimal) bool {
	return d.GreaterThan(decimal.Zero)
}
