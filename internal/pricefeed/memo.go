package pricefeed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/trogers1052/portfolio-service/internal/models"
)

// Memo caches available history in process. Quotes pass straight through.
type Memo struct {
	next  Feed
	cache *cache.Cache
}

// NewMemo wraps next with a history cache of the given TTL
func NewMemo(next Feed, ttl time.Duration) *Memo {
	return &Memo{next: next, cache: cache.New(ttl, 2*ttl)}
}

func historyKey(ticker string, from, to time.Time) string {
	return fmt.Sprintf("history:%s:%s:%s", strings.ToUpper(ticker), Day(from).Format(time.DateOnly), Day(to).Format(time.DateOnly))
}

// Quote delegates to the wrapped feed
func (m *Memo) Quote(ctx context.Context, ticker string) models.Quote {
	return m.next.Quote(ctx, ticker)
}

// History returns a cached series when present. UNAVAILABLE results are
// not cached so a later call can recover.
func (m *Memo) History(ctx context.Context, ticker string, from, to time.Time) models.History {
	key := historyKey(ticker, from, to)
	if v, ok := m.cache.Get(key); ok {
		return v.(models.History)
	}

	h := m.next.History(ctx, ticker, from, to)
	if h.Available() {
		m.cache.SetDefault(key, h)
	}
	return h
}

// Flush drops every cached series
func (m *Memo) Flush() {
	m.cache.Flush()
}
