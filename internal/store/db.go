// Package store provides PostgreSQL-backed persistence for the resilience
// core: dead-letter records, recovery workflows, the delivery outcome log,
// health history, and append-only audit events. All repositories accept a
// DBTX interface satisfied by both *pgxpool.Pool and pgx.Tx, so the same code
// works inside or outside a transaction.
package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
