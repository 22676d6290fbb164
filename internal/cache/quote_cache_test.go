package cache

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/trogers1052/portfolio-service/internal/pricefeed"
)

func setupRedis(t *testing.T) *QuoteCache {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	addr, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	c, err := New(ctx, Config{Addr: addr, TTL: time.Hour})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestQuoteCacheRoundTrip(t *testing.T) {
	c := setupRedis(t)
	ctx := context.Background()
	asOf := time.Date(2024, 3, 1, 16, 30, 0, 0, time.UTC)

	_, _, err := c.GetQuote(ctx, "VUAA")
	assert.ErrorIs(t, err, pricefeed.ErrNoQuote)

	require.NoError(t, c.SetQuote(ctx, "vuaa", decimal.RequireFromString("101.2345"), asOf))

	price, ts, err := c.GetQuote(ctx, "VUAA")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("101.2345")))
	assert.True(t, ts.Equal(asOf))

	ttl, err := c.rdb.TTL(ctx, quoteKey("VUAA")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestQuoteCacheBacksFallbackFeed(t *testing.T) {
	c := setupRedis(t)
	ctx := context.Background()
	asOf := time.Date(2024, 3, 1, 16, 30, 0, 0, time.UTC)

	live := pricefeed.NewStatic()
	live.SetQuote("VUAA", decimal.NewFromInt(99), asOf)
	feed := pricefeed.NewFallback(live, c, nil)
	require.Equal(t, "AVAILABLE", string(feed.Quote(ctx, "VUAA").Status))

	// a fresh live feed with no quotes must fall back to the cached one
	feed = pricefeed.NewFallback(pricefeed.NewStatic(), c, nil)
	q := feed.Quote(ctx, "VUAA")
	assert.Equal(t, "STALE", string(q.Status))
	assert.True(t, q.Price.Equal(decimal.NewFromInt(99)))
}

func TestNewFailsWithoutServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := New(ctx, Config{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
