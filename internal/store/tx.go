package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/AdamBeresnev/dartsturnier/internal/bracket"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// ErrDuplicate is returned when an insert or update hits a uniqueness constraint other than the
// one-active-match-per-board index.
var ErrDuplicate = errors.New("duplicate record")

// WithTx runs fn inside a transaction that serializes with every other writer. SQLite gets this
// from BEGIN IMMEDIATE on its single connection, Postgres from SERIALIZABLE isolation.
func WithTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	var opts *sql.TxOptions
	if db.DriverName() == "postgres" {
		opts = &sql.TxOptions{Isolation: sql.LevelSerializable}
	}

	tx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		return classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return classify(err)
	}
	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// classify turns driver errors that mean "someone else got there first" into
// bracket.ErrConcurrentAssignment so callers can retry.
func classify(err error) error {
	if err == nil || errors.Is(err, bracket.ErrConcurrentAssignment) || errors.Is(err, ErrDuplicate) {
		return err
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch {
		case liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked:
			return fmt.Errorf("%w: %v", bracket.ErrConcurrentAssignment, err)
		case liteErr.ExtendedCode == sqlite3.ErrConstraintUnique:
			if strings.Contains(liteErr.Error(), "matches.board_id") {
				return fmt.Errorf("%w: board already holds an active match: %v", bracket.ErrConcurrentAssignment, err)
			}
			return fmt.Errorf("%w: %v", ErrDuplicate, err)
		}
		return err
	}

	var pgErr *pq.Error
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %v", bracket.ErrConcurrentAssignment, err)
		case "23505":
			if pgErr.Constraint == "matches_active_board_idx" {
				return fmt.Errorf("%w: board already holds an active match: %v", bracket.ErrConcurrentAssignment, err)
			}
			return fmt.Errorf("%w: %v", ErrDuplicate, err)
		}
	}
	return err
}

func notFound(err error, what string, id any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %v", bracket.ErrNotFound, what, id)
	}
	return err
}

func checkAffected(res sql.Result, err error, what string, id any) error {
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %v changed concurrently", bracket.ErrConcurrentAssignment, what, id)
	}
	return nil
}
