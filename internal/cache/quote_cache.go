// Package cache keeps last known quotes in Redis so a feed outage degrades
// to stale prices instead of unpriced positions.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/trogers1052/portfolio-service/internal/pricefeed"
)

// Config holds Redis connection parameters
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// QuoteCache stores each ticker's last good quote as a hash at
// "quote:{ticker}" with fields "price" and "ts" (Unix nanoseconds).
type QuoteCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New connects to Redis and verifies the connection
func New(ctx context.Context, cfg Config) (*QuoteCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &QuoteCache{rdb: rdb, ttl: cfg.TTL}, nil
}

// Close closes the Redis client
func (c *QuoteCache) Close() error {
	return c.rdb.Close()
}

func quoteKey(ticker string) string {
	return "quote:" + strings.ToUpper(ticker)
}

// SetQuote stores the latest price and timestamp for a ticker
func (c *QuoteCache) SetQuote(ctx context.Context, ticker string, price decimal.Decimal, asOf time.Time) error {
	key := quoteKey(ticker)
	fields := map[string]interface{}{
		"price": price.String(),
		"ts":    strconv.FormatInt(asOf.UnixNano(), 10),
	}

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if c.ttl > 0 {
		pipe.Expire(ctx, key, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set quote %s: %w", ticker, err)
	}
	return nil
}

// GetQuote returns the stored price and timestamp, or pricefeed.ErrNoQuote
func (c *QuoteCache) GetQuote(ctx context.Context, ticker string) (decimal.Decimal, time.Time, error) {
	vals, err := c.rdb.HGetAll(ctx, quoteKey(ticker)).Result()
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("failed to get quote %s: %w", ticker, err)
	}

	priceStr, ok := vals["price"]
	if !ok {
		return decimal.Zero, time.Time{}, pricefeed.ErrNoQuote
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("failed to parse price %s: %w", ticker, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return decimal.Zero, time.Time{}, pricefeed.ErrNoQuote
	}
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("failed to parse ts %s: %w", ticker, err)
	}

	return price, time.Unix(0, ts).UTC(), nil
}

var _ pricefeed.QuoteCache = (*QuoteCache)(nil)
