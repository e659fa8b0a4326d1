package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawtell/cutshop/internal/domain"
)

// TimeLogRepository handles timer interval persistence.
type TimeLogRepository struct {
	db *sqlx.DB
}

// NewTimeLogRepository creates a new TimeLogRepository.
func NewTimeLogRepository(db *sqlx.DB) *TimeLogRepository {
	return &TimeLogRepository{db: db}
}

// OpenTimeLog opens a timer interval for the job unless one is already
// open. It reports whether a new interval was opened.
func (r *TimeLogRepository) OpenTimeLog(ctx context.Context, jobID int64, at time.Time, actor *int64) (bool, error) {
	opened := false
	err := inTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := jobExistsTx(ctx, tx, jobID); err != nil {
			return err
		}
		var err error
		opened, err = openTimeLogTx(ctx, tx, jobID, at, actor)
		if err != nil {
			return err
		}
		if opened {
			return touchJobTx(ctx, tx, jobID)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return opened, nil
}

// CloseTimeLog closes the job's open interval, if any, and refreshes the
// recomputed duration total. It reports whether an interval was closed.
func (r *TimeLogRepository) CloseTimeLog(ctx context.Context, jobID int64, at time.Time) (bool, error) {
	closed := false
	err := inTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := jobExistsTx(ctx, tx, jobID); err != nil {
			return err
		}
		var err error
		closed, err = closeTimeLogsTx(ctx, tx, jobID, at)
		if err != nil {
			return err
		}
		if closed {
			if err := recomputeDurationTx(ctx, tx, jobID); err != nil {
				return err
			}
			return touchJobTx(ctx, tx, jobID)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return closed, nil
}

// ListTimeLogs retrieves the job's intervals, oldest first.
func (r *TimeLogRepository) ListTimeLogs(ctx context.Context, jobID int64) ([]domain.JobTimeLog, error) {
	logs := []domain.JobTimeLog{}
	err := r.db.SelectContext(ctx, &logs,
		`SELECT id, job_id, start_time, end_time, actor_id, created_at
		 FROM job_time_logs WHERE job_id = $1
		 ORDER BY start_time, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list time logs for job %d: %w", jobID, err)
	}
	return logs, nil
}

func jobExistsTx(ctx context.Context, tx *sqlx.Tx, jobID int64) error {
	var id int64
	err := tx.GetContext(ctx, &id, `SELECT id FROM jobs WHERE id = $1`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("find job by id %d: %w", jobID, err)
	}
	return nil
}

// openTimeLogTx inserts an open interval unless one exists. The partial
// unique index on (job_id) WHERE end_time IS NULL backs the guard, so a
// racing insert surfaces as a unique violation and reads as "already open".
func openTimeLogTx(ctx context.Context, tx *sqlx.Tx, jobID int64, at time.Time, actor *int64) (bool, error) {
	var logID int64
	err := tx.QueryRowxContext(ctx,
		`INSERT INTO job_time_logs (job_id, start_time, actor_id)
		 SELECT $1, $2, $3
		 WHERE NOT EXISTS (SELECT 1 FROM job_time_logs WHERE job_id = $1 AND end_time IS NULL)
		 RETURNING id`,
		jobID, at, actor,
	).Scan(&logID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		if isPgErr(err, pgUniqueViolation) {
			return false, nil
		}
		return false, fmt.Errorf("open time log for job %d: %w", jobID, err)
	}
	return true, nil
}

func closeTimeLogsTx(ctx context.Context, tx *sqlx.Tx, jobID int64, at time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE job_time_logs SET end_time = $2 WHERE job_id = $1 AND end_time IS NULL`,
		jobID, at)
	if err != nil {
		return false, fmt.Errorf("close time logs for job %d: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("close time logs for job %d: %w", jobID, err)
	}
	return n > 0, nil
}

// recomputeDurationTx rewrites the stored duration total as the sum of the
// closed intervals. The total is never incremented in place.
func recomputeDurationTx(ctx context.Context, tx *sqlx.Tx, jobID int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE jobs
		 SET total_duration_seconds = COALESCE((
		         SELECT FLOOR(SUM(EXTRACT(EPOCH FROM (end_time - start_time))))::bigint
		         FROM job_time_logs
		         WHERE job_id = $1 AND end_time IS NOT NULL), 0)
		 WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("recompute duration for job %d: %w", jobID, err)
	}
	return nil
}
