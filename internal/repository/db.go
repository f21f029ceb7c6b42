package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repository errors.
var (
	ErrNotFound = errors.New("record not found")
	// ErrStaleState is returned when a guarded state update matched no row
	// because another transaction already moved the exam.
	ErrStaleState = errors.New("exam state changed concurrently")
)

// DBTX is the query surface shared by *pgxpool.Pool and pgx.Tx, so every
// repository works both standalone and inside a unit of work.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
