package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sawtell/cutshop/internal/domain"
)

// memStore is an in-memory stand-in for the persistence layer honoring the
// same contracts: versioned sheet writes, at most one open timer interval
// per job, recomputed duration totals and updated_at stamping on every
// subtree mutation.
type memStore struct {
	mu  sync.Mutex
	seq int64
	now func() time.Time

	jobs      map[int64]*domain.Job
	cutlists  map[int64]*domain.Cutlist
	materials map[int64]*domain.Material
	recuts    map[int64]*domain.RecutEntry
	timeLogs  map[int64]*domain.JobTimeLog
	cutLogs   []domain.SheetCutLog

	// failUpdates makes the next n sheet writes fail as if another writer
	// got there first.
	failUpdates int
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{
		now:       now,
		jobs:      map[int64]*domain.Job{},
		cutlists:  map[int64]*domain.Cutlist{},
		materials: map[int64]*domain.Material{},
		recuts:    map[int64]*domain.RecutEntry{},
		timeLogs:  map[int64]*domain.JobTimeLog{},
	}
}

func (s *memStore) nextID() int64 {
	s.seq++
	return s.seq
}

func (s *memStore) touch(jobID int64) {
	if j, ok := s.jobs[jobID]; ok {
		j.UpdatedAt = s.now()
	}
}

func (s *memStore) CreateJob(_ context.Context, n domain.NewJob) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	job := &domain.Job{
		ID:            s.nextID(),
		Number:        n.Number,
		Name:          n.Name,
		Customer:      n.Customer,
		DerivedStatus: domain.StatusWaiting,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.jobs[job.ID] = job
	for i, nc := range n.Cutlists {
		cl := &domain.Cutlist{ID: s.nextID(), JobID: job.ID, Label: nc.Label, OrderIndex: i, CreatedAt: now}
		s.cutlists[cl.ID] = cl
		for _, nm := range nc.Materials {
			m := &domain.Material{
				ID:            s.nextID(),
				CutlistID:     cl.ID,
				JobID:         job.ID,
				SupplyID:      nm.SupplyID,
				TotalSheets:   nm.TotalSheets,
				SheetStatuses: domain.NewSheetStatuses(nm.TotalSheets),
				Version:       1,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			s.materials[m.ID] = m
		}
	}
	return s.aggregate(job.ID)
}

func (s *memStore) GetJob(_ context.Context, id int64) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	job := *row
	return &job, nil
}

func (s *memStore) GetJobAggregate(_ context.Context, id int64) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aggregate(id)
}

// aggregate assembles a deep copy of the job tree. Callers hold the lock.
func (s *memStore) aggregate(jobID int64) (*domain.Job, error) {
	row, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	job := *row
	job.Cutlists = []domain.Cutlist{}

	var cls []*domain.Cutlist
	for _, cl := range s.cutlists {
		if cl.JobID == jobID {
			cls = append(cls, cl)
		}
	}
	sort.Slice(cls, func(i, j int) bool {
		if cls[i].OrderIndex != cls[j].OrderIndex {
			return cls[i].OrderIndex < cls[j].OrderIndex
		}
		return cls[i].ID < cls[j].ID
	})
	for _, clRow := range cls {
		cl := *clRow
		cl.Materials = nil

		var mats []*domain.Material
		for _, m := range s.materials {
			if m.CutlistID == cl.ID {
				mats = append(mats, m)
			}
		}
		sort.Slice(mats, func(i, j int) bool { return mats[i].ID < mats[j].ID })
		for _, mRow := range mats {
			m := *mRow
			m.SheetStatuses = append(domain.SheetStatuses(nil), mRow.SheetStatuses...)
			m.Recuts = nil

			var recs []*domain.RecutEntry
			for _, rec := range s.recuts {
				if rec.MaterialID == m.ID {
					recs = append(recs, rec)
				}
			}
			sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
			for _, recRow := range recs {
				rec := *recRow
				rec.SheetStatuses = append(domain.SheetStatuses(nil), recRow.SheetStatuses...)
				m.Recuts = append(m.Recuts, rec)
			}
			cl.Materials = append(cl.Materials, m)
		}
		job.Cutlists = append(job.Cutlists, cl)
	}
	return &job, nil
}

func (s *memStore) ListJobs(_ context.Context, f domain.JobFilter) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []*domain.Job
	for _, j := range s.jobs {
		rows = append(rows, j)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID > rows[j].ID })

	jobs := []domain.Job{}
	for _, j := range rows {
		if f.Status != nil {
			if *f.Status == domain.StatusPaused {
				if !j.Paused() {
					continue
				}
			} else if j.Paused() || j.DerivedStatus != *f.Status {
				continue
			}
		}
		if f.Customer != "" && !strings.Contains(strings.ToLower(j.Customer), strings.ToLower(f.Customer)) {
			continue
		}
		jobs = append(jobs, *j)
	}
	if f.Offset > 0 {
		if f.Offset >= len(jobs) {
			return []domain.Job{}, nil
		}
		jobs = jobs[f.Offset:]
	}
	if f.Limit > 0 && len(jobs) > f.Limit {
		jobs = jobs[:f.Limit]
	}
	return jobs, nil
}

func (s *memStore) SetDerivedStatus(_ context.Context, id int64, from, to domain.JobStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || j.Paused() || j.DerivedStatus != from {
		return false, nil
	}
	j.DerivedStatus = to
	j.UpdatedAt = s.now()
	return true, nil
}

func (s *memStore) StartJob(_ context.Context, id int64, at time.Time, actor *int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if j.Paused() {
		return false, nil
	}
	changed := false
	if j.DerivedStatus != domain.StatusInProgress {
		j.DerivedStatus = domain.StatusInProgress
		if j.StartTime == nil {
			st := at
			j.StartTime = &st
		}
		changed = true
	}
	if s.openLog(id, at, actor) {
		changed = true
	}
	if changed {
		j.UpdatedAt = s.now()
	}
	return changed, nil
}

func (s *memStore) PauseJob(_ context.Context, id int64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if j.Paused() {
		return false, nil
	}
	p := at
	j.PausedAt = &p
	s.closeLogs(id, at)
	s.recomputeDuration(id)
	j.UpdatedAt = s.now()
	return true, nil
}

func (s *memStore) ResumeJob(_ context.Context, id int64, verdict domain.JobStatus, at time.Time, openTimer bool, actor *int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if !j.Paused() {
		return false, nil
	}
	j.PausedAt = nil
	j.DerivedStatus = verdict
	if openTimer {
		s.openLog(id, at, actor)
	}
	j.UpdatedAt = s.now()
	return true, nil
}

func (s *memStore) CompleteJob(_ context.Context, id int64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	closed := s.closeLogs(id, at)
	if closed {
		s.recomputeDuration(id)
	}
	changed := false
	if j.DerivedStatus != domain.StatusDone || j.Paused() || j.EndTime == nil {
		j.DerivedStatus = domain.StatusDone
		j.PausedAt = nil
		end := at
		j.EndTime = &end
		changed = true
	}
	if changed || closed {
		j.UpdatedAt = s.now()
	}
	return changed || closed, nil
}

func (s *memStore) DeleteJob(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return domain.ErrNotFound
	}
	for clID, cl := range s.cutlists {
		if cl.JobID == id {
			s.deleteCutlistTree(clID)
		}
	}
	for lid, l := range s.timeLogs {
		if l.JobID == id {
			delete(s.timeLogs, lid)
		}
	}
	delete(s.jobs, id)
	return nil
}

func (s *memStore) AddCutlist(_ context.Context, jobID int64, label string) (*domain.Cutlist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[jobID]; !ok {
		return nil, domain.ErrNotFound
	}
	next := 0
	for _, cl := range s.cutlists {
		if cl.JobID == jobID && cl.OrderIndex >= next {
			next = cl.OrderIndex + 1
		}
	}
	cl := &domain.Cutlist{ID: s.nextID(), JobID: jobID, Label: label, OrderIndex: next, CreatedAt: s.now()}
	s.cutlists[cl.ID] = cl
	s.touch(jobID)
	out := *cl
	return &out, nil
}

func (s *memStore) DeleteCutlist(_ context.Context, id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cl, ok := s.cutlists[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	jobID := cl.JobID
	s.deleteCutlistTree(id)
	s.touch(jobID)
	return jobID, nil
}

func (s *memStore) StaleInProgress(_ context.Context, before time.Time) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := []int64{}
	for _, j := range s.jobs {
		if j.DerivedStatus == domain.StatusInProgress && !j.Paused() && j.UpdatedAt.Before(before) {
			ids = append(ids, j.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *memStore) OpenTimeLog(_ context.Context, jobID int64, at time.Time, actor *int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[jobID]; !ok {
		return false, domain.ErrNotFound
	}
	opened := s.openLog(jobID, at, actor)
	if opened {
		s.touch(jobID)
	}
	return opened, nil
}

func (s *memStore) CloseTimeLog(_ context.Context, jobID int64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[jobID]; !ok {
		return false, domain.ErrNotFound
	}
	closed := s.closeLogs(jobID, at)
	if closed {
		s.recomputeDuration(jobID)
		s.touch(jobID)
	}
	return closed, nil
}

func (s *memStore) ListTimeLogs(_ context.Context, jobID int64) ([]domain.JobTimeLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logsFor(jobID), nil
}

func (s *memStore) ListCutLogsByJob(_ context.Context, jobID int64) ([]domain.SheetCutLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logs := []domain.SheetCutLog{}
	for _, l := range s.cutLogs {
		if m, ok := s.materials[l.MaterialID]; ok && m.JobID == jobID {
			logs = append(logs, l)
		}
	}
	// Newest first, like the repository.
	for i, j := 0, len(logs)-1; i < j; i, j = i+1, j-1 {
		logs[i], logs[j] = logs[j], logs[i]
	}
	return logs, nil
}

func (s *memStore) DefaultCutlist(_ context.Context, jobID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[jobID]; !ok {
		return 0, domain.ErrNotFound
	}
	var first *domain.Cutlist
	for _, cl := range s.cutlists {
		if cl.JobID != jobID {
			continue
		}
		if first == nil || cl.OrderIndex < first.OrderIndex ||
			(cl.OrderIndex == first.OrderIndex && cl.ID < first.ID) {
			first = cl
		}
	}
	if first != nil {
		return first.ID, nil
	}
	cl := &domain.Cutlist{ID: s.nextID(), JobID: jobID, Label: "Cutlist 1", CreatedAt: s.now()}
	s.cutlists[cl.ID] = cl
	return cl.ID, nil
}

func (s *memStore) AddMaterial(_ context.Context, cutlistID, supplyID int64, totalSheets int) (*domain.Material, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cl, ok := s.cutlists[cutlistID]
	if !ok {
		return nil, fmt.Errorf("cutlist %d: %w", cutlistID, domain.ErrNotFound)
	}
	now := s.now()
	m := &domain.Material{
		ID:            s.nextID(),
		CutlistID:     cutlistID,
		JobID:         cl.JobID,
		SupplyID:      supplyID,
		TotalSheets:   totalSheets,
		SheetStatuses: domain.NewSheetStatuses(totalSheets),
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.materials[m.ID] = m
	s.touch(cl.JobID)
	out := *m
	return &out, nil
}

func (s *memStore) GetMaterial(_ context.Context, id int64) (*domain.Material, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.materials[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *m
	out.SheetStatuses = append(domain.SheetStatuses(nil), m.SheetStatuses...)
	return &out, nil
}

func (s *memStore) UpdateSheets(_ context.Context, m *domain.Material, expectVersion int64, log *domain.SheetCutLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.materials[m.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if s.failUpdates > 0 {
		s.failUpdates--
		return fmt.Errorf("material %d: %w", m.ID, domain.ErrConcurrentModification)
	}
	if row.Version != expectVersion {
		return fmt.Errorf("material %d: %w", m.ID, domain.ErrConcurrentModification)
	}
	row.SheetStatuses = append(domain.SheetStatuses(nil), m.SheetStatuses...)
	row.TotalSheets = m.TotalSheets
	row.CompletedSheets = m.CompletedSheets
	row.SkippedSheets = m.SkippedSheets
	row.Version++
	row.UpdatedAt = s.now()
	if log != nil {
		entry := *log
		entry.ID = s.nextID()
		entry.CreatedAt = s.now()
		s.cutLogs = append(s.cutLogs, entry)
	}
	s.touch(row.JobID)
	m.Version = expectVersion + 1
	return nil
}

func (s *memStore) DeleteMaterial(_ context.Context, id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.materials[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	jobID := m.JobID
	s.deleteMaterialTree(id)
	s.touch(jobID)
	return jobID, nil
}

func (s *memStore) AddRecut(_ context.Context, materialID int64, quantity int, reason *string, actor *int64) (*domain.RecutEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.materials[materialID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	now := s.now()
	rec := &domain.RecutEntry{
		ID:            s.nextID(),
		MaterialID:    materialID,
		JobID:         m.JobID,
		Quantity:      quantity,
		Reason:        reason,
		SheetStatuses: domain.NewSheetStatuses(quantity),
		Version:       1,
		CreatedBy:     actor,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.recuts[rec.ID] = rec
	s.touch(m.JobID)
	out := *rec
	return &out, nil
}

func (s *memStore) GetRecut(_ context.Context, id int64) (*domain.RecutEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recuts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *rec
	out.SheetStatuses = append(domain.SheetStatuses(nil), rec.SheetStatuses...)
	return &out, nil
}

func (s *memStore) UpdateRecutSheets(_ context.Context, entry *domain.RecutEntry, expectVersion int64, log *domain.SheetCutLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.recuts[entry.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if s.failUpdates > 0 {
		s.failUpdates--
		return fmt.Errorf("recut %d: %w", entry.ID, domain.ErrConcurrentModification)
	}
	if row.Version != expectVersion {
		return fmt.Errorf("recut %d: %w", entry.ID, domain.ErrConcurrentModification)
	}
	row.SheetStatuses = append(domain.SheetStatuses(nil), entry.SheetStatuses...)
	row.Quantity = entry.Quantity
	row.CompletedSheets = entry.CompletedSheets
	row.SkippedSheets = entry.SkippedSheets
	row.Version++
	row.UpdatedAt = s.now()
	if log != nil {
		rec := *log
		rec.ID = s.nextID()
		rec.CreatedAt = s.now()
		s.cutLogs = append(s.cutLogs, rec)
	}
	s.touch(row.JobID)
	entry.Version = expectVersion + 1
	return nil
}

func (s *memStore) DeleteRecut(_ context.Context, id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recuts[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	jobID := rec.JobID
	kept := s.cutLogs[:0]
	for _, l := range s.cutLogs {
		if l.RecutID == nil || *l.RecutID != id {
			kept = append(kept, l)
		}
	}
	s.cutLogs = kept
	delete(s.recuts, id)
	s.touch(jobID)
	return jobID, nil
}

func (s *memStore) openLog(jobID int64, at time.Time, actor *int64) bool {
	for _, l := range s.timeLogs {
		if l.JobID == jobID && l.EndTime == nil {
			return false
		}
	}
	l := &domain.JobTimeLog{ID: s.nextID(), JobID: jobID, StartTime: at, ActorID: actor, CreatedAt: s.now()}
	s.timeLogs[l.ID] = l
	return true
}

func (s *memStore) closeLogs(jobID int64, at time.Time) bool {
	closed := false
	for _, l := range s.timeLogs {
		if l.JobID == jobID && l.EndTime == nil {
			end := at
			l.EndTime = &end
			closed = true
		}
	}
	return closed
}

func (s *memStore) recomputeDuration(jobID int64) {
	if j, ok := s.jobs[jobID]; ok {
		j.TotalDurationSeconds = domain.TotalDurationSeconds(s.logsFor(jobID))
	}
}

func (s *memStore) logsFor(jobID int64) []domain.JobTimeLog {
	logs := []domain.JobTimeLog{}
	for _, l := range s.timeLogs {
		if l.JobID == jobID {
			logs = append(logs, *l)
		}
	}
	sort.Slice(logs, func(i, j int) bool {
		if !logs[i].StartTime.Equal(logs[j].StartTime) {
			return logs[i].StartTime.Before(logs[j].StartTime)
		}
		return logs[i].ID < logs[j].ID
	})
	return logs
}

func (s *memStore) dropCutLogs(materialID int64) {
	kept := s.cutLogs[:0]
	for _, l := range s.cutLogs {
		if l.MaterialID != materialID {
			kept = append(kept, l)
		}
	}
	s.cutLogs = kept
}

func (s *memStore) deleteMaterialTree(materialID int64) {
	for rid, rec := range s.recuts {
		if rec.MaterialID == materialID {
			delete(s.recuts, rid)
		}
	}
	s.dropCutLogs(materialID)
	delete(s.materials, materialID)
}

func (s *memStore) deleteCutlistTree(cutlistID int64) {
	for mid, m := range s.materials {
		if m.CutlistID == cutlistID {
			s.deleteMaterialTree(mid)
		}
	}
	delete(s.cutlists, cutlistID)
}

// recordPublisher captures change events in publish order.
type recordPublisher struct {
	mu     sync.Mutex
	events []domain.ChangeEvent
}

func (p *recordPublisher) Publish(_ context.Context, e domain.ChangeEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordPublisher) Events() []domain.ChangeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.ChangeEvent(nil), p.events...)
}

func (p *recordPublisher) Types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := []domain.EventType{}
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}

func (p *recordPublisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fixture bundles the services under test over one in-memory store.
type fixture struct {
	store  *memStore
	pub    *recordPublisher
	clock  *fakeClock
	jobs   *JobService
	sheets *SheetService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := newFakeClock()
	store := newMemStore(clock.Now)
	pub := &recordPublisher{}
	jobs := NewJobService(store, store, store, pub)
	jobs.now = clock.Now
	sheets := NewSheetService(store, store, jobs, pub)
	return &fixture{store: store, pub: pub, clock: clock, jobs: jobs, sheets: sheets}
}

// seedJob creates a job holding one cutlist with one material of n sheets
// and clears the creation event.
func (f *fixture) seedJob(t *testing.T, number string, n int) *domain.Job {
	t.Helper()
	job, err := f.jobs.Create(context.Background(), domain.NewJob{
		Number:   number,
		Name:     "Kitchen run",
		Customer: "Hartley Joinery",
		Cutlists: []domain.NewCutlist{{
			Label:     "Uppers",
			Materials: []domain.NewMaterial{{SupplyID: 1, TotalSheets: n}},
		}},
	})
	if err != nil {
		t.Fatalf("seed job: %v", err)
	}
	f.pub.Reset()
	return job
}

func firstMaterial(t *testing.T, job *domain.Job) domain.Material {
	t.Helper()
	if len(job.Cutlists) == 0 || len(job.Cutlists[0].Materials) == 0 {
		t.Fatal("job has no material")
	}
	return job.Cutlists[0].Materials[0]
}
