package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// TxQuerier is satisfied by *sql.DB, *sql.Tx and *bun.DB, so repositories and
// the migration runner work inside or outside a transaction.
type TxQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// InTx runs fn in a transaction and returns its result. The transaction is
// committed only when fn succeeds; a panic in fn rolls back and propagates.
//
//	created, err := database.InTx(ctx, conn, func(tx *sql.Tx) (bool, error) {
//	    res, err := tx.ExecContext(ctx, "INSERT ... ON CONFLICT DO NOTHING", ...)
//	    ...
//	})
func InTx[T any](ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) (T, error)) (result T, err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) && err != nil {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
	}()

	result, err = fn(tx)
	if err != nil {
		return result, err
	}
	if err = tx.Commit(); err != nil {
		return result, fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return result, nil
}
