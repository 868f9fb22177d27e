package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xraph/conduct"
	"github.com/xraph/conduct/store"
)

var _ store.Session = (*session)(nil)

// session is one store.Session backed by a database transaction. The
// transaction begins on first use; Commit commits it and clears the
// handle so the next operation starts a fresh one.
type session struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

// conn returns the session's transaction, beginning one if none is open.
func (s *session) conn(ctx context.Context) (pgx.Tx, error) {
	if s.tx != nil {
		return s.tx, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("conduct/postgres: begin: %w: %w", conduct.ErrConnection, err)
	}
	s.tx = tx
	return tx, nil
}

// Commit commits the open transaction. A no-op when nothing is pending.
func (s *session) Commit(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("conduct/postgres: commit: %w", err)
	}
	return nil
}

// Rollback discards the open transaction. Safe to call after Commit.
func (s *session) Rollback(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("conduct/postgres: rollback: %w", err)
	}
	return nil
}

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isDuplicateKey checks if a PostgreSQL error is a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
