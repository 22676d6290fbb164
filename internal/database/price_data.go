package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/trogers1052/portfolio-service/internal/models"
)

const priceDataColumns = `id, symbol, date, open, high, low, close, volume, source, created_at`

// ErrPriceDataNotFound is returned when no bar matches
var ErrPriceDataNotFound = errors.New("price data not found")

const upsertPriceData = `
		INSERT INTO price_data_daily (symbol, date, open, high, low, close, volume, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (symbol, date) DO UPDATE SET
			open = COALESCE(EXCLUDED.open, price_data_daily.open),
			high = COALESCE(EXCLUDED.high, price_data_daily.high),
			low = COALESCE(EXCLUDED.low, price_data_daily.low),
			close = EXCLUDED.close,
			volume = EXCLUDED.volume,
			source = EXCLUDED.source
`

// CreatePriceDataBatch upserts many daily bars in one transaction
func (db *DB) CreatePriceDataBatch(ctx context.Context, prices []models.PriceDataDaily) error {
	if len(prices) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertPriceData)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, p := range prices {
		_, err := stmt.ExecContext(ctx,
			strings.ToUpper(p.Symbol), dateOnly(p.Date), p.Open, p.High, p.Low, p.Close, p.Volume, p.Source, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert price data for %s: %w", p.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetPriceDataRange returns a symbol's bars within [startDate, endDate],
// oldest first
func (db *DB) GetPriceDataRange(ctx context.Context, symbol string, startDate, endDate time.Time) ([]models.PriceDataDaily, error) {
	query := `
		SELECT ` + priceDataColumns + `
		FROM price_data_daily
		WHERE symbol = $1 AND date >= $2 AND date <= $3
		ORDER BY date ASC
	`
	rows, err := db.conn.QueryContext(ctx, query, strings.ToUpper(symbol), dateOnly(startDate), dateOnly(endDate))
	if err != nil {
		return nil, fmt.Errorf("failed to get price data range: %w", err)
	}
	defer rows.Close()

	var prices []models.PriceDataDaily
	for rows.Next() {
		var p models.PriceDataDaily
		if err := rows.Scan(
			&p.ID, &p.Symbol, &p.Date, &p.Open, &p.High, &p.Low, &p.Close, &p.Volume, &p.Source, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan price data: %w", err)
		}
		p.Date = dateOnly(p.Date)
		prices = append(prices, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate price data: %w", err)
	}
	return prices, nil
}

// GetLatestPriceData returns a symbol's most recent bar
func (db *DB) GetLatestPriceData(ctx context.Context, symbol string) (*models.PriceDataDaily, error) {
	query := `
		SELECT ` + priceDataColumns + `
		FROM price_data_daily
		WHERE symbol = $1
		ORDER BY date DESC
		LIMIT 1
	`
	var p models.PriceDataDaily
	err := db.conn.QueryRowContext(ctx, query, strings.ToUpper(symbol)).Scan(
		&p.ID, &p.Symbol, &p.Date, &p.Open, &p.High, &p.Low, &p.Close, &p.Volume, &p.Source, &p.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w for %s", ErrPriceDataNotFound, symbol)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest price data: %w", err)
	}
	p.Date = dateOnly(p.Date)
	return &p, nil
}

// DeletePriceDataOlderThan removes bars dated before date
func (db *DB) DeletePriceDataOlderThan(ctx context.Context, date time.Time) (int64, error) {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM price_data_daily WHERE date < $1`, dateOnly(date))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old price data: %w", err)
	}
	return result.RowsAffected()
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
