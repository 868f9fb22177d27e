package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/xraph/conduct"
	"github.com/xraph/conduct/store"
)

var _ store.Session = (*session)(nil)

// session is one store.Session backed by a bun transaction. The
// transaction begins on first use; Commit commits it and clears the
// handle so the next operation starts a fresh one.
type session struct {
	db *bun.DB
	tx *bun.Tx
}

// conn returns the session's transaction handle, beginning one if none
// is open.
func (s *session) conn(ctx context.Context) (bun.IDB, error) {
	if s.tx != nil {
		return s.tx, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("conduct/bun: begin: %w: %w", conduct.ErrConnection, err)
	}
	s.tx = &tx
	return s.tx, nil
}

// Commit commits the open transaction. A no-op when nothing is pending.
func (s *session) Commit(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("conduct/bun: commit: %w", err)
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
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("conduct/bun: rollback: %w", err)
	}
	return nil
}

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isDuplicateKey checks if a PostgreSQL error is a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C') == "23505"
	}
	return false
}
