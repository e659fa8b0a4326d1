package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

func isPgErr(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// inTx runs fn inside a transaction, rolling back when it returns an error.
func inTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// touchJobTx bumps the owning job's updated_at so the inactivity sweep sees
// the job as active. Every mutating transaction that changes a job's
// subtree must call it.
func touchJobTx(ctx context.Context, tx *sqlx.Tx, jobID int64) error {
	if _, err := tx.ExecContext(ctx, `UPDATE jobs SET updated_at = NOW() WHERE id = $1`, jobID); err != nil {
		return fmt.Errorf("touch job %d: %w", jobID, err)
	}
	return nil
}
