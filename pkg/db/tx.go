package db

import (
	"context"
	"database/sql"
	"fmt"
)

// TxRunner manages database transactions for repositories.
// Repositories use it to keep multi-statement writes atomic while
// sharing a single *sql.DB pool.
type TxRunner struct {
	database *sql.DB
}

// NewTxRunner creates a new TxRunner instance.
func NewTxRunner(database *sql.DB) *TxRunner {
	return &TxRunner{database: database}
}

// WithTx executes the given function within a database transaction.
// If the function returns an error, the transaction is rolled back.
// Otherwise, the transaction is committed.
//
// Usage example:
//
//	err := txRunner.WithTx(ctx, func(tx *sql.Tx) error {
//	    if _, err := tx.ExecContext(ctx, deleteExpired, now); err != nil {
//	        return err
//	    }
//	    _, err := tx.ExecContext(ctx, upsertSession, id, payload, expiresAt)
//	    return err
//	})
func (r *TxRunner) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	_, err := WithTxResult(ctx, r, func(tx *sql.Tx) (struct{}, error) {
		return struct{}{}, fn(tx)
	})
	return err
}

// WithTxResult executes the given function within a database transaction
// and returns a result value. Useful when the transaction needs to return data.
func WithTxResult[T any](ctx context.Context, r *TxRunner, fn func(tx *sql.Tx) (T, error)) (T, error) {
	var result T

	tx, err := r.database.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin transaction: %w", err)
	}

	result, err = fn(tx)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return result, fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return result, err
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("commit transaction: %w", err)
	}

	return result, nil
}

// DB returns the underlying database connection.
// Use this for single-statement reads that don't need a transaction.
func (r *TxRunner) DB() *sql.DB {
	return r.database
}
