package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sawtell/cutshop/internal/domain"
)

// MaterialStore defines the material data access interface consumed by
// SheetService.
type MaterialStore interface {
	DefaultCutlist(ctx context.Context, jobID int64) (int64, error)
	AddMaterial(ctx context.Context, cutlistID, supplyID int64, totalSheets int) (*domain.Material, error)
	GetMaterial(ctx context.Context, id int64) (*domain.Material, error)
	UpdateSheets(ctx context.Context, m *domain.Material, expectVersion int64, log *domain.SheetCutLog) error
	DeleteMaterial(ctx context.Context, id int64) (int64, error)
}

// RecutStore defines the recut entry access interface consumed by
// SheetService.
type RecutStore interface {
	AddRecut(ctx context.Context, materialID int64, quantity int, reason *string, actor *int64) (*domain.RecutEntry, error)
	GetRecut(ctx context.Context, id int64) (*domain.RecutEntry, error)
	UpdateRecutSheets(ctx context.Context, entry *domain.RecutEntry, expectVersion int64, log *domain.SheetCutLog) error
	DeleteRecut(ctx context.Context, id int64) (int64, error)
}

// SheetService owns per-sheet state: status writes with growth-on-write,
// sheet adds and removes, and recut batches. Every write is a versioned
// read-modify-write so two concurrent writers on the same material cannot
// clobber each other's array; a stale write is re-read and retried. After
// each committed write the owning job is reconciled and exactly one change
// event is emitted.
type SheetService struct {
	materials MaterialStore
	recuts    RecutStore
	jobs      *JobService
	pub       Publisher
}

// NewSheetService creates a new SheetService.
func NewSheetService(materials MaterialStore, recuts RecutStore, jobs *JobService, pub Publisher) *SheetService {
	return &SheetService{
		materials: materials,
		recuts:    recuts,
		jobs:      jobs,
		pub:       pub,
	}
}

// SetSheetStatus sets one sheet of a material to status. An index past the
// end grows the sequence with pending sheets. Writing the value already
// held is a no-op: no state write, no cut log entry, no event. A real
// change logs one cut history row in the same transaction, reconciles the
// job and emits sheet.updated.
func (s *SheetService) SetSheetStatus(ctx context.Context, materialID int64, index int, status domain.SheetStatus, actor *int64) (*domain.Job, error) {
	if index < 0 {
		return nil, fmt.Errorf("sheet index %d: %w", index, domain.ErrInvalidInput)
	}
	if !status.Valid() {
		return nil, fmt.Errorf("sheet status %q: %w", status, domain.ErrInvalidInput)
	}
	for attempt := 0; ; attempt++ {
		m, err := s.materials.GetMaterial(ctx, materialID)
		if err != nil {
			return nil, err
		}
		next, changed := m.SheetStatuses.Set(index, status)
		if !changed {
			return s.jobs.Aggregate(ctx, m.JobID)
		}
		expect := m.Version
		m.SetSheets(next)
		log := &domain.SheetCutLog{
			MaterialID: m.ID,
			SheetIndex: index,
			Status:     status,
			ActorID:    actor,
		}
		err = s.materials.UpdateSheets(ctx, m, expect, log)
		if errors.Is(err, domain.ErrConcurrentModification) && attempt+1 < reconcileAttempts {
			continue
		}
		if err != nil {
			return nil, err
		}
		return s.reconcileAndPublish(ctx, m.JobID, domain.EventSheetUpdated)
	}
}

// AddSheets grows a material by count pending sheets and emits
// sheets.added.
func (s *SheetService) AddSheets(ctx context.Context, materialID int64, count int) (*domain.Job, error) {
	if count < 1 {
		return nil, fmt.Errorf("sheet count %d: %w", count, domain.ErrInvalidQuantity)
	}
	for attempt := 0; ; attempt++ {
		m, err := s.materials.GetMaterial(ctx, materialID)
		if err != nil {
			return nil, err
		}
		expect := m.Version
		m.SetSheets(m.SheetStatuses.Append(count))
		err = s.materials.UpdateSheets(ctx, m, expect, nil)
		if errors.Is(err, domain.ErrConcurrentModification) && attempt+1 < reconcileAttempts {
			continue
		}
		if err != nil {
			return nil, err
		}
		return s.reconcileAndPublish(ctx, m.JobID, domain.EventSheetsAdded)
	}
}

// DeleteSheet removes the sheet at index from a material, shifting later
// sheets down, and emits sheet.deleted.
func (s *SheetService) DeleteSheet(ctx context.Context, materialID int64, index int) (*domain.Job, error) {
	for attempt := 0; ; attempt++ {
		m, err := s.materials.GetMaterial(ctx, materialID)
		if err != nil {
			return nil, err
		}
		next, err := m.SheetStatuses.Remove(index)
		if err != nil {
			return nil, err
		}
		expect := m.Version
		m.SetSheets(next)
		err = s.materials.UpdateSheets(ctx, m, expect, nil)
		if errors.Is(err, domain.ErrConcurrentModification) && attempt+1 < reconcileAttempts {
			continue
		}
		if err != nil {
			return nil, err
		}
		return s.reconcileAndPublish(ctx, m.JobID, domain.EventSheetDeleted)
	}
}

// AddMaterial adds a material with totalSheets pending sheets to the job,
// into the given cutlist or the job's first one (created on demand), and
// emits material.added.
func (s *SheetService) AddMaterial(ctx context.Context, jobID int64, cutlistID *int64, supplyID int64, totalSheets int) (*domain.Job, error) {
	if totalSheets < 1 {
		return nil, fmt.Errorf("total sheets %d: %w", totalSheets, domain.ErrInvalidQuantity)
	}
	target, err := s.resolveCutlist(ctx, jobID, cutlistID)
	if err != nil {
		return nil, err
	}
	if _, err := s.materials.AddMaterial(ctx, target, supplyID, totalSheets); err != nil {
		return nil, err
	}
	return s.reconcileAndPublish(ctx, jobID, domain.EventMaterialAdded)
}

// DeleteMaterial removes a material with its recuts and cut history, then
// reconciles the job and emits material.deleted.
func (s *SheetService) DeleteMaterial(ctx context.Context, materialID int64) (*domain.Job, error) {
	jobID, err := s.materials.DeleteMaterial(ctx, materialID)
	if err != nil {
		return nil, err
	}
	return s.reconcileAndPublish(ctx, jobID, domain.EventMaterialDeleted)
}

// AddRecut layers a corrective batch of quantity pending sheets on the
// material and emits recut.added. Callers must not blindly retry a failed
// add; unlike a status write it is not idempotent.
func (s *SheetService) AddRecut(ctx context.Context, materialID int64, quantity int, reason *string, actor *int64) (*domain.Job, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("recut quantity %d: %w", quantity, domain.ErrInvalidQuantity)
	}
	entry, err := s.recuts.AddRecut(ctx, materialID, quantity, reason, actor)
	if err != nil {
		return nil, err
	}
	return s.reconcileAndPublish(ctx, entry.JobID, domain.EventRecutAdded)
}

// SetRecutSheetStatus sets one sheet of a recut batch to status, with the
// same growth, idempotence and logging semantics as SetSheetStatus. The
// cut log row carries the recut marker. Emits recut.updated.
func (s *SheetService) SetRecutSheetStatus(ctx context.Context, recutID int64, index int, status domain.SheetStatus, actor *int64) (*domain.Job, error) {
	if index < 0 {
		return nil, fmt.Errorf("sheet index %d: %w", index, domain.ErrInvalidInput)
	}
	if !status.Valid() {
		return nil, fmt.Errorf("sheet status %q: %w", status, domain.ErrInvalidInput)
	}
	for attempt := 0; ; attempt++ {
		entry, err := s.recuts.GetRecut(ctx, recutID)
		if err != nil {
			return nil, err
		}
		next, changed := entry.SheetStatuses.Set(index, status)
		if !changed {
			return s.jobs.Aggregate(ctx, entry.JobID)
		}
		expect := entry.Version
		entry.SetSheets(next)
		log := &domain.SheetCutLog{
			MaterialID: entry.MaterialID,
			RecutID:    &entry.ID,
			SheetIndex: index,
			Status:     status,
			IsRecut:    true,
			ActorID:    actor,
		}
		err = s.recuts.UpdateRecutSheets(ctx, entry, expect, log)
		if errors.Is(err, domain.ErrConcurrentModification) && attempt+1 < reconcileAttempts {
			continue
		}
		if err != nil {
			return nil, err
		}
		return s.reconcileAndPublish(ctx, entry.JobID, domain.EventRecutUpdated)
	}
}

// DeleteRecut removes a recut batch; its sheets drop out of all future
// progress computation. Emits recut.deleted.
func (s *SheetService) DeleteRecut(ctx context.Context, recutID int64) (*domain.Job, error) {
	jobID, err := s.recuts.DeleteRecut(ctx, recutID)
	if err != nil {
		return nil, err
	}
	return s.reconcileAndPublish(ctx, jobID, domain.EventRecutDeleted)
}

func (s *SheetService) resolveCutlist(ctx context.Context, jobID int64, cutlistID *int64) (int64, error) {
	if cutlistID != nil {
		return *cutlistID, nil
	}
	return s.materials.DefaultCutlist(ctx, jobID)
}

// reconcileAndPublish runs the post-commit job reconciliation and emits
// the operation's single change event carrying the fresh aggregate.
func (s *SheetService) reconcileAndPublish(ctx context.Context, jobID int64, t domain.EventType) (*domain.Job, error) {
	job, _, err := s.jobs.Reconcile(ctx, jobID)
	if err != nil {
		return nil, err
	}
	s.pub.Publish(ctx, domain.NewChangeEvent(t, jobID, job))
	return job, nil
}
