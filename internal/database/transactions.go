package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/trogers1052/portfolio-service/internal/models"
)

const transactionColumns = `id, ticker, kind, quantity, price, amount, ratio, reinvest_price,
		       lot_ids, currency, source, synthetic, sequence, executed_at`

// SaveTransactions inserts ledger entries in one database transaction. The
// table is append-only; an existing id fails the whole batch with
// models.ErrDuplicateTransaction.
func (db *DB) SaveTransactions(ctx context.Context, txs []models.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO portfolio_transactions (
			id, ticker, kind, quantity, price, amount, ratio, reinvest_price,
			lot_ids, currency, source, synthetic, sequence, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, t := range txs {
		lotIDs := t.LotIDs
		if lotIDs == nil {
			lotIDs = []string{}
		}
		_, err := stmt.ExecContext(ctx,
			t.ID, t.Ticker, string(t.Kind), t.Quantity, t.Price, t.Amount, t.Ratio, t.ReinvestPrice,
			pq.Array(lotIDs), t.Currency, t.Source, t.Synthetic, t.Sequence, t.Timestamp,
		)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return fmt.Errorf("failed to insert transaction %s: %w", t.ID, models.ErrDuplicateTransaction)
			}
			return fmt.Errorf("failed to insert transaction %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LoadTransactions returns every stored transaction in ledger order
func (db *DB) LoadTransactions(ctx context.Context) ([]models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM portfolio_transactions
		ORDER BY executed_at ASC, sequence ASC
	`
	return db.queryTransactions(ctx, query)
}

// TransactionExists reports whether id has been stored
func (db *DB) TransactionExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := db.conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM portfolio_transactions WHERE id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check transaction %s: %w", id, err)
	}
	return exists, nil
}

// CountTransactions returns the number of stored transactions
func (db *DB) CountTransactions(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM portfolio_transactions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return n, nil
}

func (db *DB) queryTransactions(ctx context.Context, query string, args ...interface{}) ([]models.Transaction, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return txs, nil
}

func scanTransaction(rows *sql.Rows) (models.Transaction, error) {
	var t models.Transaction
	var kind string
	var lotIDs []string

	err := rows.Scan(
		&t.ID, &t.Ticker, &kind, &t.Quantity, &t.Price, &t.Amount, &t.Ratio, &t.ReinvestPrice,
		pq.Array(&lotIDs), &t.Currency, &t.Source, &t.Synthetic, &t.Sequence, &t.Timestamp,
	)
	if err != nil {
		return t, fmt.Errorf("failed to scan transaction: %w", err)
	}

	t.Kind = models.TransactionKind(kind)
	if len(lotIDs) > 0 {
		t.LotIDs = lotIDs
	}
	t.Timestamp = t.Timestamp.UTC()
	return t, nil
}
