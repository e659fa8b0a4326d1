package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/sawtell/cutshop/internal/domain"
)

const recutColumns = `r.id, r.material_id, c.job_id, r.quantity, r.reason, r.completed_sheets, r.skipped_sheets, r.sheet_statuses, r.version, r.created_by, r.created_at, r.updated_at`

// RecutRepository handles recut entry persistence.
type RecutRepository struct {
	db *sqlx.DB
}

// NewRecutRepository creates a new RecutRepository.
func NewRecutRepository(db *sqlx.DB) *RecutRepository {
	return &RecutRepository{db: db}
}

// AddRecut inserts a corrective batch of quantity pending sheets against
// the material.
func (r *RecutRepository) AddRecut(ctx context.Context, materialID int64, quantity int, reason *string, actor *int64) (*domain.RecutEntry, error) {
	var entry domain.RecutEntry
	err := inTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var jobID int64
		err := tx.GetContext(ctx, &jobID,
			`SELECT c.job_id FROM materials m JOIN cutlists c ON c.id = m.cutlist_id WHERE m.id = $1`,
			materialID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("material %d: %w", materialID, domain.ErrNotFound)
			}
			return fmt.Errorf("find material by id %d: %w", materialID, err)
		}
		err = tx.QueryRowxContext(ctx,
			`INSERT INTO recut_entries (material_id, quantity, reason, sheet_statuses, created_by)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id, material_id, quantity, reason, completed_sheets, skipped_sheets, sheet_statuses, version, created_by, created_at, updated_at`,
			materialID, quantity, reason, domain.NewSheetStatuses(quantity), actor,
		).StructScan(&entry)
		if err != nil {
			return fmt.Errorf("insert recut entry: %w", err)
		}
		entry.JobID = jobID
		return touchJobTx(ctx, tx, jobID)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetRecut retrieves a recut entry with its owning job id.
func (r *RecutRepository) GetRecut(ctx context.Context, id int64) (*domain.RecutEntry, error) {
	var entry domain.RecutEntry
	err := r.db.GetContext(ctx, &entry,
		`SELECT `+recutColumns+`
		 FROM recut_entries r
		 JOIN materials m ON m.id = r.material_id
		 JOIN cutlists c ON c.id = m.cutlist_id
		 WHERE r.id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find recut by id %d: %w", id, err)
	}
	return &entry, nil
}

// UpdateRecutSheets persists a new sheet sequence for the batch, guarded by
// the version the caller read, with the cut log entry in the same
// transaction. Semantics mirror MaterialRepository.UpdateSheets.
func (r *RecutRepository) UpdateRecutSheets(ctx context.Context, entry *domain.RecutEntry, expectVersion int64, log *domain.SheetCutLog) error {
	err := inTx(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE recut_entries
			 SET sheet_statuses = $2, quantity = $3, completed_sheets = $4,
			     skipped_sheets = $5, version = version + 1, updated_at = NOW()
			 WHERE id = $1 AND version = $6`,
			entry.ID, entry.SheetStatuses, entry.Quantity, entry.CompletedSheets, entry.SkippedSheets, expectVersion)
		if err != nil {
			return fmt.Errorf("update sheets of recut %d: %w", entry.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update sheets of recut %d: %w", entry.ID, err)
		}
		if n == 0 {
			var exists bool
			if err := tx.GetContext(ctx, &exists,
				`SELECT EXISTS (SELECT 1 FROM recut_entries WHERE id = $1)`, entry.ID); err != nil {
				return fmt.Errorf("check recut %d: %w", entry.ID, err)
			}
			if !exists {
				return domain.ErrNotFound
			}
			return fmt.Errorf("recut %d: %w", entry.ID, domain.ErrConcurrentModification)
		}
		if log != nil {
			if err := insertCutLogTx(ctx, tx, log); err != nil {
				return err
			}
		}
		return touchJobTx(ctx, tx, entry.JobID)
	})
	if err != nil {
		return err
	}
	entry.Version = expectVersion + 1
	return nil
}

// DeleteRecut removes a recut entry and its cut logs, returning the owning
// job id so the caller can reconcile.
func (r *RecutRepository) DeleteRecut(ctx context.Context, id int64) (int64, error) {
	var jobID int64
	err := inTx(ctx, r.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &jobID,
			`SELECT c.job_id
			 FROM recut_entries r
			 JOIN materials m ON m.id = r.material_id
			 JOIN cutlists c ON c.id = m.cutlist_id
			 WHERE r.id = $1`, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrNotFound
			}
			return fmt.Errorf("find recut by id %d: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM recut_entries WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete recut %d: %w", id, err)
		}
		return touchJobTx(ctx, tx, jobID)
	})
	if err != nil {
		return 0, err
	}
	return jobID, nil
}
