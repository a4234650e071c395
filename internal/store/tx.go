package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Querier is the statement surface shared by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// WithTx returns a context carrying tx. Every Store and records.Store call
// made with it runs inside tx.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFrom extracts the transaction carried on ctx.
func TxFrom(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok && tx != nil
}

// Conn returns the transaction on ctx, or db when there is none.
func Conn(ctx context.Context, db *sql.DB) Querier {
	if tx, ok := TxFrom(ctx); ok {
		return tx
	}
	return db
}

// RunInTx runs fn inside a transaction on db and commits when fn returns nil.
//
// Re-entrant: when ctx already carries a transaction fn joins it and the
// outermost caller decides commit or rollback.
func RunInTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context) error) error {
	if _, ok := TxFrom(ctx); ok {
		return fn(ctx)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := fn(WithTx(ctx, tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// conn returns the querier for ctx.
func (s *Store) conn(ctx context.Context) Querier {
	return Conn(ctx, s.db)
}

// InTx runs fn in a transaction on the store's database.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return RunInTx(ctx, s.db, fn)
}
