package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sawtell/cutshop/internal/domain"
)

// Derived-status writes race with concurrent sheet mutations on sibling
// materials; a stale compare-and-set is re-read and retried this many
// times before giving up.
const reconcileAttempts = 3

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// JobStore defines the job data access interface consumed by JobService.
type JobStore interface {
	CreateJob(ctx context.Context, n domain.NewJob) (*domain.Job, error)
	GetJob(ctx context.Context, id int64) (*domain.Job, error)
	GetJobAggregate(ctx context.Context, id int64) (*domain.Job, error)
	ListJobs(ctx context.Context, f domain.JobFilter) ([]domain.Job, error)
	SetDerivedStatus(ctx context.Context, id int64, from, to domain.JobStatus) (bool, error)
	StartJob(ctx context.Context, id int64, at time.Time, actor *int64) (bool, error)
	PauseJob(ctx context.Context, id int64, at time.Time) (bool, error)
	ResumeJob(ctx context.Context, id int64, verdict domain.JobStatus, at time.Time, openTimer bool, actor *int64) (bool, error)
	CompleteJob(ctx context.Context, id int64, at time.Time) (bool, error)
	DeleteJob(ctx context.Context, id int64) error
	AddCutlist(ctx context.Context, jobID int64, label string) (*domain.Cutlist, error)
	DeleteCutlist(ctx context.Context, id int64) (int64, error)
	StaleInProgress(ctx context.Context, before time.Time) ([]int64, error)
}

// TimeLogStore defines the timer interval access interface consumed by
// JobService.
type TimeLogStore interface {
	OpenTimeLog(ctx context.Context, jobID int64, at time.Time, actor *int64) (bool, error)
	CloseTimeLog(ctx context.Context, jobID int64, at time.Time) (bool, error)
	ListTimeLogs(ctx context.Context, jobID int64) ([]domain.JobTimeLog, error)
}

// CutLogStore defines the cut history access interface consumed by
// JobService.
type CutLogStore interface {
	ListCutLogsByJob(ctx context.Context, jobID int64) ([]domain.SheetCutLog, error)
}

// JobService owns the job lifecycle: creation, the derived-status state
// machine with its manual pause override, timer bookkeeping and deletion.
type JobService struct {
	store    JobStore
	timeLogs TimeLogStore
	cutLogs  CutLogStore
	pub      Publisher
	now      func() time.Time
}

// NewJobService creates a new JobService.
func NewJobService(store JobStore, timeLogs TimeLogStore, cutLogs CutLogStore, pub Publisher) *JobService {
	return &JobService{
		store:    store,
		timeLogs: timeLogs,
		cutLogs:  cutLogs,
		pub:      pub,
		now:      time.Now,
	}
}

// Create persists a job with its nested cutlists and materials and emits
// job.created.
func (s *JobService) Create(ctx context.Context, n domain.NewJob) (*domain.Job, error) {
	if n.Number == "" {
		return nil, fmt.Errorf("job number is required: %w", domain.ErrInvalidInput)
	}
	if n.Name == "" {
		return nil, fmt.Errorf("job name is required: %w", domain.ErrInvalidInput)
	}
	for _, nc := range n.Cutlists {
		for _, nm := range nc.Materials {
			if nm.TotalSheets < 1 {
				return nil, fmt.Errorf("total sheets %d: %w", nm.TotalSheets, domain.ErrInvalidQuantity)
			}
		}
	}
	job, err := s.store.CreateJob(ctx, n)
	if err != nil {
		return nil, err
	}
	s.pub.Publish(ctx, domain.NewChangeEvent(domain.EventJobCreated, job.ID, job))
	return job, nil
}

// Get retrieves the job aggregate, lazily reconciling its derived status
// first: sibling-material writes or a crashed reconciliation may have left
// the stored status one verdict behind. A correction emits job.reconciled.
func (s *JobService) Get(ctx context.Context, id int64) (*domain.Job, error) {
	job, changed, err := s.Reconcile(ctx, id)
	if err != nil {
		return nil, err
	}
	if changed {
		s.pub.Publish(ctx, domain.NewChangeEvent(domain.EventJobReconciled, id, job))
	}
	return job, nil
}

// Aggregate retrieves the job aggregate as stored, without reconciling.
func (s *JobService) Aggregate(ctx context.Context, id int64) (*domain.Job, error) {
	return s.store.GetJobAggregate(ctx, id)
}

// List retrieves job rows matching the filter. Listed rows are served as
// stored; only single-job reads reconcile.
func (s *JobService) List(ctx context.Context, f domain.JobFilter) ([]domain.Job, error) {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	return s.store.ListJobs(ctx, f)
}

// Delete removes the job and its entire subtree and emits job.deleted.
func (s *JobService) Delete(ctx context.Context, id int64) error {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteJob(ctx, id); err != nil {
		return err
	}
	s.pub.Publish(ctx, domain.NewChangeEvent(domain.EventJobDeleted, id, job))
	return nil
}

// Start marks the job in progress and opens a timer interval. Starting a
// paused job changes nothing; a later read may re-derive the status from
// the sheet state.
func (s *JobService) Start(ctx context.Context, id int64, actor *int64) (*domain.Job, error) {
	changed, err := s.store.StartJob(ctx, id, s.now(), actor)
	if err != nil {
		return nil, err
	}
	return s.loadAndPublish(ctx, id, changed, domain.EventJobStarted)
}

// Pause sets the manual override, closes any open timer interval and
// refreshes the duration total. While paused the derived status is frozen.
func (s *JobService) Pause(ctx context.Context, id int64) (*domain.Job, error) {
	changed, err := s.store.PauseJob(ctx, id, s.now())
	if err != nil {
		return nil, err
	}
	return s.loadAndPublish(ctx, id, changed, domain.EventJobPaused)
}

// Resume clears the override and persists the verdict recomputed from the
// current sheet state. A timer interval opens only when that verdict is
// in_progress, so resuming a finished job never restarts its timer.
func (s *JobService) Resume(ctx context.Context, id int64, actor *int64) (*domain.Job, error) {
	job, err := s.store.GetJobAggregate(ctx, id)
	if err != nil {
		return nil, err
	}
	if !job.Paused() {
		return job, nil
	}
	verdict := domain.ComputeProgress(job).Verdict()
	changed, err := s.store.ResumeJob(ctx, id, verdict, s.now(), verdict == domain.StatusInProgress, actor)
	if err != nil {
		return nil, err
	}
	return s.loadAndPublish(ctx, id, changed, domain.EventJobResumed)
}

// Complete forces the job done: closes the timer, refreshes the duration
// total, clears the override and stamps the end time.
func (s *JobService) Complete(ctx context.Context, id int64) (*domain.Job, error) {
	changed, err := s.store.CompleteJob(ctx, id, s.now())
	if err != nil {
		return nil, err
	}
	return s.loadAndPublish(ctx, id, changed, domain.EventJobCompleted)
}

// StartTimer opens a timer interval for the job unless one is already
// open. The job's status is untouched.
func (s *JobService) StartTimer(ctx context.Context, id int64, actor *int64) (*domain.Job, error) {
	opened, err := s.timeLogs.OpenTimeLog(ctx, id, s.now(), actor)
	if err != nil {
		return nil, err
	}
	return s.loadAndPublish(ctx, id, opened, domain.EventTimerStarted)
}

// StopTimer closes the job's open timer interval, if any, and refreshes
// the recomputed duration total.
func (s *JobService) StopTimer(ctx context.Context, id int64) (*domain.Job, error) {
	closed, err := s.timeLogs.CloseTimeLog(ctx, id, s.now())
	if err != nil {
		return nil, err
	}
	return s.loadAndPublish(ctx, id, closed, domain.EventTimerStopped)
}

// TimeLogs retrieves the job's timer intervals, oldest first.
func (s *JobService) TimeLogs(ctx context.Context, id int64) ([]domain.JobTimeLog, error) {
	if _, err := s.store.GetJob(ctx, id); err != nil {
		return nil, err
	}
	return s.timeLogs.ListTimeLogs(ctx, id)
}

// CutLog retrieves the job's sheet cut history, newest first.
func (s *JobService) CutLog(ctx context.Context, id int64) ([]domain.SheetCutLog, error) {
	if _, err := s.store.GetJob(ctx, id); err != nil {
		return nil, err
	}
	return s.cutLogs.ListCutLogsByJob(ctx, id)
}

// AddCutlist appends a cutlist to the job and emits cutlist.added.
func (s *JobService) AddCutlist(ctx context.Context, jobID int64, label string) (*domain.Cutlist, error) {
	if label == "" {
		return nil, fmt.Errorf("cutlist label is required: %w", domain.ErrInvalidInput)
	}
	cutlist, err := s.store.AddCutlist(ctx, jobID, label)
	if err != nil {
		return nil, err
	}
	s.pub.Publish(ctx, domain.NewChangeEvent(domain.EventCutlistAdded, jobID, cutlist))
	return cutlist, nil
}

// DeleteCutlist removes a cutlist with its materials and recuts, then
// reconciles the job, since dropping sheets can change the verdict.
func (s *JobService) DeleteCutlist(ctx context.Context, id int64) (*domain.Job, error) {
	jobID, err := s.store.DeleteCutlist(ctx, id)
	if err != nil {
		return nil, err
	}
	job, _, err := s.Reconcile(ctx, jobID)
	if err != nil {
		return nil, err
	}
	s.pub.Publish(ctx, domain.NewChangeEvent(domain.EventCutlistDeleted, jobID, job))
	return job, nil
}

// Reconcile recomputes the job's verdict from its full tree and persists
// it when it differs from the stored derived status. The pause override
// suppresses recomputation entirely. The persist is a compare-and-set
// against the status that was read; on interference the tree is re-read
// and the fold repeated. The bool reports whether the stored status moved.
func (s *JobService) Reconcile(ctx context.Context, jobID int64) (*domain.Job, bool, error) {
	for attempt := 0; attempt < reconcileAttempts; attempt++ {
		job, err := s.store.GetJobAggregate(ctx, jobID)
		if err != nil {
			return nil, false, err
		}
		if job.Paused() {
			return job, false, nil
		}
		verdict := domain.ComputeProgress(job).Verdict()
		if verdict == job.DerivedStatus {
			return job, false, nil
		}
		ok, err := s.store.SetDerivedStatus(ctx, jobID, job.DerivedStatus, verdict)
		if err != nil {
			return nil, false, err
		}
		if ok {
			job.DerivedStatus = verdict
			return job, true, nil
		}
	}
	return nil, false, fmt.Errorf("reconcile job %d: %w", jobID, domain.ErrConcurrentModification)
}

func (s *JobService) loadAndPublish(ctx context.Context, jobID int64, changed bool, t domain.EventType) (*domain.Job, error) {
	job, err := s.store.GetJobAggregate(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if changed {
		s.pub.Publish(ctx, domain.NewChangeEvent(t, jobID, job))
	}
	return job, nil
}
