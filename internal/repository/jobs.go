package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawtell/cutshop/internal/domain"
)

const jobColumns = `id, number, name, customer, derived_status, paused_at, start_time, end_time, total_duration_seconds, created_at, updated_at`

const cutlistColumns = `id, job_id, label, order_index, created_at`

// JobRepository handles job, cutlist and lifecycle persistence.
type JobRepository struct {
	db *sqlx.DB
}

// NewJobRepository creates a new JobRepository.
func NewJobRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

// CreateJob inserts a job together with its nested cutlists and materials
// in one transaction. Every material starts with an all-pending sheet
// sequence.
func (r *JobRepository) CreateJob(ctx context.Context, n domain.NewJob) (*domain.Job, error) {
	var job domain.Job
	err := inTx(ctx, r.db, func(tx *sqlx.Tx) error {
		err := tx.QueryRowxContext(ctx,
			`INSERT INTO jobs (number, name, customer)
			 VALUES ($1, $2, $3)
			 RETURNING `+jobColumns,
			n.Number, n.Name, n.Customer,
		).StructScan(&job)
		if err != nil {
			if isPgErr(err, pgUniqueViolation) {
				return fmt.Errorf("job number %q taken: %w", n.Number, domain.ErrConflict)
			}
			return fmt.Errorf("insert job: %w", err)
		}
		for i, nc := range n.Cutlists {
			var cutlist domain.Cutlist
			err := tx.QueryRowxContext(ctx,
				`INSERT INTO cutlists (job_id, label, order_index)
				 VALUES ($1, $2, $3)
				 RETURNING `+cutlistColumns,
				job.ID, nc.Label, i,
			).StructScan(&cutlist)
			if err != nil {
				return fmt.Errorf("insert cutlist: %w", err)
			}
			for _, nm := range nc.Materials {
				var mat domain.Material
				err := tx.QueryRowxContext(ctx,
					`INSERT INTO materials (cutlist_id, supply_id, total_sheets, sheet_statuses)
					 VALUES ($1, $2, $3, $4)
					 RETURNING id, cutlist_id, supply_id, total_sheets, completed_sheets, skipped_sheets, sheet_statuses, version, created_at, updated_at`,
					cutlist.ID, nm.SupplyID, nm.TotalSheets, domain.NewSheetStatuses(nm.TotalSheets),
				).StructScan(&mat)
				if err != nil {
					if isPgErr(err, pgForeignKeyViolation) {
						return fmt.Errorf("supply %d: %w", nm.SupplyID, domain.ErrNotFound)
					}
					return fmt.Errorf("insert material: %w", err)
				}
				mat.JobID = job.ID
				cutlist.Materials = append(cutlist.Materials, mat)
			}
			job.Cutlists = append(job.Cutlists, cutlist)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob retrieves a job row without its subtree.
func (r *JobRepository) GetJob(ctx context.Context, id int64) (*domain.Job, error) {
	var job domain.Job
	err := r.db.GetContext(ctx, &job,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find job by id %d: %w", id, err)
	}
	return &job, nil
}

// GetJobAggregate retrieves a job with its cutlists, materials and recut
// entries fully loaded, ready for the progress fold.
func (r *JobRepository) GetJobAggregate(ctx context.Context, id int64) (*domain.Job, error) {
	job, err := r.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	cutlists := []domain.Cutlist{}
	err = r.db.SelectContext(ctx, &cutlists,
		`SELECT `+cutlistColumns+` FROM cutlists WHERE job_id = $1 ORDER BY order_index, id`, id)
	if err != nil {
		return nil, fmt.Errorf("list cutlists for job %d: %w", id, err)
	}

	materials := []domain.Material{}
	err = r.db.SelectContext(ctx, &materials,
		`SELECT m.id, m.cutlist_id, c.job_id, m.supply_id, m.total_sheets, m.completed_sheets,
		        m.skipped_sheets, m.sheet_statuses, m.version, m.created_at, m.updated_at
		 FROM materials m
		 JOIN cutlists c ON c.id = m.cutlist_id
		 WHERE c.job_id = $1
		 ORDER BY m.id`, id)
	if err != nil {
		return nil, fmt.Errorf("list materials for job %d: %w", id, err)
	}

	recuts := []domain.RecutEntry{}
	err = r.db.SelectContext(ctx, &recuts,
		`SELECT r.id, r.material_id, c.job_id, r.quantity, r.reason, r.completed_sheets,
		        r.skipped_sheets, r.sheet_statuses, r.version, r.created_by, r.created_at, r.updated_at
		 FROM recut_entries r
		 JOIN materials m ON m.id = r.material_id
		 JOIN cutlists c ON c.id = m.cutlist_id
		 WHERE c.job_id = $1
		 ORDER BY r.id`, id)
	if err != nil {
		return nil, fmt.Errorf("list recuts for job %d: %w", id, err)
	}

	byMaterial := make(map[int64]int, len(materials))
	for i := range materials {
		byMaterial[materials[i].ID] = i
	}
	for _, rec := range recuts {
		if i, ok := byMaterial[rec.MaterialID]; ok {
			materials[i].Recuts = append(materials[i].Recuts, rec)
		}
	}

	byCutlist := make(map[int64]int, len(cutlists))
	for i := range cutlists {
		byCutlist[cutlists[i].ID] = i
	}
	for _, m := range materials {
		if i, ok := byCutlist[m.CutlistID]; ok {
			cutlists[i].Materials = append(cutlists[i].Materials, m)
		}
	}

	job.Cutlists = cutlists
	return job, nil
}

// ListJobs retrieves job rows matching the filter, newest first.
func (r *JobRepository) ListJobs(ctx context.Context, f domain.JobFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var (
		where []string
		args  []any
	)
	if f.Status != nil {
		if *f.Status == domain.StatusPaused {
			where = append(where, `paused_at IS NOT NULL`)
		} else {
			args = append(args, *f.Status)
			where = append(where, fmt.Sprintf(`paused_at IS NULL AND derived_status = $%d`, len(args)))
		}
	}
	if f.Customer != "" {
		args = append(args, "%"+f.Customer+"%")
		where = append(where, fmt.Sprintf(`customer ILIKE $%d`, len(args)))
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	jobs := []domain.Job{}
	if err := r.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// SetDerivedStatus moves the stored derived status from one value to
// another as a compare-and-set. It reports false without error when the
// stored value no longer matches from, or when the job is paused or gone;
// the caller re-reads and retries.
func (r *JobRepository) SetDerivedStatus(ctx context.Context, id int64, from, to domain.JobStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET derived_status = $3, updated_at = NOW()
		 WHERE id = $1 AND derived_status = $2 AND paused_at IS NULL`,
		id, from, to)
	if err != nil {
		return false, fmt.Errorf("set derived status of job %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set derived status of job %d: %w", id, err)
	}
	return n > 0, nil
}

// StartJob marks the job in progress and opens a timer interval, stamping
// the first start. Starting a paused job is a no-op: the override wins
// until resume clears it. The bool reports whether anything changed.
func (r *JobRepository) StartJob(ctx context.Context, id int64, at time.Time, actor *int64) (bool, error) {
	changed := false
	err := inTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var job domain.Job
		if err := lockJob(ctx, tx, id, &job); err != nil {
			return err
		}
		if job.Paused() {
			return nil
		}
		if job.DerivedStatus != domain.StatusInProgress {
			_, err := tx.ExecContext(ctx,
				`UPDATE jobs SET derived_status = $2, start_time = COALESCE(start_time, $3), updated_at = NOW()
				 WHERE id = $1`,
				id, domain.StatusInProgress, at)
			if err != nil {
				return fmt.Errorf("mark job %d in progress: %w", id, err)
			}
			changed = true
		}
		opened, err := openTimeLogTx(ctx, tx, id, at, actor)
		if err != nil {
			return err
		}
		changed = changed || opened
		return nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// PauseJob sets the pause override, closes any open timer interval and
// refreshes the duration total, all in one transaction. Pausing a paused
// job reports false and changes nothing.
func (r *JobRepository) PauseJob(ctx context.Context, id int64, at time.Time) (bool, error) {
	changed := false
	err := inTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var job domain.Job
		if err := lockJob(ctx, tx, id, &job); err != nil {
			return err
		}
		if job.Paused() {
			return nil
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE jobs SET paused_at = $2, updated_at = NOW() WHERE id = $1`, id, at)
		if err != nil {
			return fmt.Errorf("pause job %d: %w", id, err)
		}
		if _, err := closeTimeLogsTx(ctx, tx, id, at); err != nil {
			return err
		}
		if err := recomputeDurationTx(ctx, tx, id); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// ResumeJob clears the pause override and stores the verdict the caller
// recomputed from the sheet state. When openTimer is set a fresh interval
// is opened. Resuming a job that is not paused reports false.
func (r *JobRepository) ResumeJob(ctx context.Context, id int64, verdict domain.JobStatus, at time.Time, openTimer bool, actor *int64) (bool, error) {
	changed := false
	err := inTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var job domain.Job
		if err := lockJob(ctx, tx, id, &job); err != nil {
			return err
		}
		if !job.Paused() {
			return nil
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE jobs SET paused_at = NULL, derived_status = $2, updated_at = NOW() WHERE id = $1`,
			id, verdict)
		if err != nil {
			return fmt.Errorf("resume job %d: %w", id, err)
		}
		if openTimer {
			if _, err := openTimeLogTx(ctx, tx, id, at, actor); err != nil {
				return err
			}
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// CompleteJob forces the job done: closes any open interval, refreshes the
// duration total, clears the pause override and stamps the end time. A
// second complete with nothing left to change reports false.
func (r *JobRepository) CompleteJob(ctx context.Context, id int64, at time.Time) (bool, error) {
	changed := false
	err := inTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var job domain.Job
		if err := lockJob(ctx, tx, id, &job); err != nil {
			return err
		}
		closed, err := closeTimeLogsTx(ctx, tx, id, at)
		if err != nil {
			return err
		}
		if closed {
			if err := recomputeDurationTx(ctx, tx, id); err != nil {
				return err
			}
		}
		if job.DerivedStatus != domain.StatusDone || job.Paused() || job.EndTime == nil {
			_, err := tx.ExecContext(ctx,
				`UPDATE jobs SET derived_status = $2, paused_at = NULL, end_time = $3, updated_at = NOW()
				 WHERE id = $1`,
				id, domain.StatusDone, at)
			if err != nil {
				return fmt.Errorf("complete job %d: %w", id, err)
			}
			changed = true
		}
		changed = changed || closed
		return nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// DeleteJob removes the job; the schema cascades take its cutlists,
// materials, recut entries and both log tables along in the same statement.
func (r *JobRepository) DeleteJob(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete job %d: %w", id, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AddCutlist appends a cutlist at the end of the job's ordering.
func (r *JobRepository) AddCutlist(ctx context.Context, jobID int64, label string) (*domain.Cutlist, error) {
	var cutlist domain.Cutlist
	err := inTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var job domain.Job
		if err := lockJob(ctx, tx, jobID, &job); err != nil {
			return err
		}
		err := tx.QueryRowxContext(ctx,
			`INSERT INTO cutlists (job_id, label, order_index)
			 SELECT $1, $2, COALESCE(MAX(order_index) + 1, 0) FROM cutlists WHERE job_id = $1
			 RETURNING `+cutlistColumns,
			jobID, label,
		).StructScan(&cutlist)
		if err != nil {
			return fmt.Errorf("insert cutlist: %w", err)
		}
		return touchJobTx(ctx, tx, jobID)
	})
	if err != nil {
		return nil, err
	}
	return &cutlist, nil
}

// DeleteCutlist removes a cutlist and, through the schema cascade, its
// materials, recuts and cut logs. It returns the owning job id so the
// caller can reconcile.
func (r *JobRepository) DeleteCutlist(ctx context.Context, id int64) (int64, error) {
	var jobID int64
	err := inTx(ctx, r.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &jobID, `SELECT job_id FROM cutlists WHERE id = $1`, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrNotFound
			}
			return fmt.Errorf("find cutlist by id %d: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM cutlists WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete cutlist %d: %w", id, err)
		}
		return touchJobTx(ctx, tx, jobID)
	})
	if err != nil {
		return 0, err
	}
	return jobID, nil
}

// StaleInProgress lists jobs running unattended: derived in_progress, not
// paused, and untouched since before the cutoff.
func (r *JobRepository) StaleInProgress(ctx context.Context, before time.Time) ([]int64, error) {
	ids := []int64{}
	err := r.db.SelectContext(ctx, &ids,
		`SELECT id FROM jobs
		 WHERE derived_status = $1 AND paused_at IS NULL AND updated_at < $2
		 ORDER BY id`,
		domain.StatusInProgress, before)
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	return ids, nil
}

// lockJob loads a job row FOR UPDATE so lifecycle transitions on the same
// job serialize.
func lockJob(ctx context.Context, tx *sqlx.Tx, id int64, job *domain.Job) error {
	err := tx.GetContext(ctx, job,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("lock job %d: %w", id, err)
	}
	return nil
}
