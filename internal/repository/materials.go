package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/sawtell/cutshop/internal/domain"
)

const materialColumns = `m.id, m.cutlist_id, c.job_id, m.supply_id, m.total_sheets, m.completed_sheets, m.skipped_sheets, m.sheet_statuses, m.version, m.created_at, m.updated_at`

// MaterialRepository handles material, sheet state and cut log persistence.
type MaterialRepository struct {
	db *sqlx.DB
}

// NewMaterialRepository creates a new MaterialRepository.
func NewMaterialRepository(db *sqlx.DB) *MaterialRepository {
	return &MaterialRepository{db: db}
}

// DefaultCutlist returns the job's first cutlist, creating one when the job
// has none yet.
func (r *MaterialRepository) DefaultCutlist(ctx context.Context, jobID int64) (int64, error) {
	var id int64
	err := r.db.GetContext(ctx, &id,
		`SELECT id FROM cutlists WHERE job_id = $1 ORDER BY order_index, id LIMIT 1`, jobID)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("find default cutlist for job %d: %w", jobID, err)
	}
	err = r.db.GetContext(ctx, &id,
		`INSERT INTO cutlists (job_id, label, order_index) VALUES ($1, $2, 0) RETURNING id`,
		jobID, "Cutlist 1")
	if err != nil {
		if isPgErr(err, pgForeignKeyViolation) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("create default cutlist for job %d: %w", jobID, err)
	}
	return id, nil
}

// AddMaterial inserts a material with an all-pending sheet sequence.
func (r *MaterialRepository) AddMaterial(ctx context.Context, cutlistID, supplyID int64, totalSheets int) (*domain.Material, error) {
	var m domain.Material
	err := inTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var jobID int64
		err := tx.GetContext(ctx, &jobID, `SELECT job_id FROM cutlists WHERE id = $1`, cutlistID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("cutlist %d: %w", cutlistID, domain.ErrNotFound)
			}
			return fmt.Errorf("find cutlist by id %d: %w", cutlistID, err)
		}
		err = tx.QueryRowxContext(ctx,
			`INSERT INTO materials (cutlist_id, supply_id, total_sheets, sheet_statuses)
			 VALUES ($1, $2, $3, $4)
			 RETURNING id, cutlist_id, supply_id, total_sheets, completed_sheets, skipped_sheets, sheet_statuses, version, created_at, updated_at`,
			cutlistID, supplyID, totalSheets, domain.NewSheetStatuses(totalSheets),
		).StructScan(&m)
		if err != nil {
			if isPgErr(err, pgForeignKeyViolation) {
				return fmt.Errorf("supply %d: %w", supplyID, domain.ErrNotFound)
			}
			return fmt.Errorf("insert material: %w", err)
		}
		m.JobID = jobID
		return touchJobTx(ctx, tx, jobID)
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMaterial retrieves a material row with its owning job id, without
// recut entries.
func (r *MaterialRepository) GetMaterial(ctx context.Context, id int64) (*domain.Material, error) {
	var m domain.Material
	err := r.db.GetContext(ctx, &m,
		`SELECT `+materialColumns+`
		 FROM materials m
		 JOIN cutlists c ON c.id = m.cutlist_id
		 WHERE m.id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find material by id %d: %w", id, err)
	}
	return &m, nil
}

// UpdateSheets persists a new sheet sequence and its counters guarded by
// the version the caller read. When log is non-nil the cut log entry lands
// in the same transaction, so history and state never diverge. A stale
// version returns ErrConcurrentModification; the caller re-reads and
// retries. On success the material's version is advanced in place.
func (r *MaterialRepository) UpdateSheets(ctx context.Context, m *domain.Material, expectVersion int64, log *domain.SheetCutLog) error {
	err := inTx(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE materials
			 SET sheet_statuses = $2, total_sheets = $3, completed_sheets = $4,
			     skipped_sheets = $5, version = version + 1, updated_at = NOW()
			 WHERE id = $1 AND version = $6`,
			m.ID, m.SheetStatuses, m.TotalSheets, m.CompletedSheets, m.SkippedSheets, expectVersion)
		if err != nil {
			return fmt.Errorf("update sheets of material %d: %w", m.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update sheets of material %d: %w", m.ID, err)
		}
		if n == 0 {
			var exists bool
			if err := tx.GetContext(ctx, &exists,
				`SELECT EXISTS (SELECT 1 FROM materials WHERE id = $1)`, m.ID); err != nil {
				return fmt.Errorf("check material %d: %w", m.ID, err)
			}
			if !exists {
				return domain.ErrNotFound
			}
			return fmt.Errorf("material %d: %w", m.ID, domain.ErrConcurrentModification)
		}
		if log != nil {
			if err := insertCutLogTx(ctx, tx, log); err != nil {
				return err
			}
		}
		return touchJobTx(ctx, tx, m.JobID)
	})
	if err != nil {
		return err
	}
	m.Version = expectVersion + 1
	return nil
}

// DeleteMaterial removes a material and, through the schema cascade, its
// recut entries and cut logs. It returns the owning job id so the caller
// can reconcile.
func (r *MaterialRepository) DeleteMaterial(ctx context.Context, id int64) (int64, error) {
	var jobID int64
	err := inTx(ctx, r.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &jobID,
			`SELECT c.job_id FROM materials m JOIN cutlists c ON c.id = m.cutlist_id WHERE m.id = $1`, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrNotFound
			}
			return fmt.Errorf("find material by id %d: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM materials WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete material %d: %w", id, err)
		}
		return touchJobTx(ctx, tx, jobID)
	})
	if err != nil {
		return 0, err
	}
	return jobID, nil
}

// ListCutLogsByJob retrieves the job's cut history, newest first.
func (r *MaterialRepository) ListCutLogsByJob(ctx context.Context, jobID int64) ([]domain.SheetCutLog, error) {
	logs := []domain.SheetCutLog{}
	err := r.db.SelectContext(ctx, &logs,
		`SELECT l.id, l.material_id, l.recut_id, l.sheet_index, l.status, l.is_recut, l.actor_id, l.created_at
		 FROM sheet_cut_logs l
		 JOIN materials m ON m.id = l.material_id
		 JOIN cutlists c ON c.id = m.cutlist_id
		 WHERE c.job_id = $1
		 ORDER BY l.created_at DESC, l.id DESC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list cut logs for job %d: %w", jobID, err)
	}
	return logs, nil
}

func insertCutLogTx(ctx context.Context, tx *sqlx.Tx, log *domain.SheetCutLog) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO sheet_cut_logs (material_id, recut_id, sheet_index, status, is_recut, actor_id)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		log.MaterialID, log.RecutID, log.SheetIndex, log.Status, log.IsRecut, log.ActorID)
	if err != nil {
		return fmt.Errorf("insert cut log: %w", err)
	}
	return nil
}
