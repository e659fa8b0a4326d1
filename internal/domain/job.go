package domain

import (
	"encoding/json"
	"time"
)

// JobStatus represents the lifecycle state of a cutting job.
type JobStatus string

const (
	StatusWaiting    JobStatus = "waiting"
	StatusInProgress JobStatus = "in_progress"
	StatusPaused     JobStatus = "paused"
	StatusDone       JobStatus = "done"
)

// Job represents a CNC sheet-cutting work order. DerivedStatus holds the
// last persisted calculator verdict and never the value "paused"; PausedAt
// is the manual pause override. Callers read the effective state through
// Status.
type Job struct {
	ID                   int64      `json:"id" db:"id"`
	Number               string     `json:"number" db:"number"`
	Name                 string     `json:"name" db:"name"`
	Customer             string     `json:"customer" db:"customer"`
	DerivedStatus        JobStatus  `json:"-" db:"derived_status"`
	PausedAt             *time.Time `json:"paused_at,omitempty" db:"paused_at"`
	StartTime            *time.Time `json:"start_time,omitempty" db:"start_time"`
	EndTime              *time.Time `json:"end_time,omitempty" db:"end_time"`
	TotalDurationSeconds int64      `json:"total_duration_seconds" db:"total_duration_seconds"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at" db:"updated_at"`

	Cutlists []Cutlist `json:"cutlists,omitempty" db:"-"`
}

// Paused reports whether the manual pause override is set.
func (j Job) Paused() bool { return j.PausedAt != nil }

// Status returns the effective lifecycle state: paused while the override
// is set, otherwise the derived status.
func (j Job) Status() JobStatus {
	if j.PausedAt != nil {
		return StatusPaused
	}
	return j.DerivedStatus
}

// MarshalJSON adds the computed "status" field to the wire form.
func (j Job) MarshalJSON() ([]byte, error) {
	type alias Job
	return json.Marshal(struct {
		alias
		Status JobStatus `json:"status"`
	}{alias(j), j.Status()})
}

// Cutlist represents an ordered grouping of materials within a job. It is
// purely organizational and carries no progress state of its own.
type Cutlist struct {
	ID         int64     `json:"id" db:"id"`
	JobID      int64     `json:"job_id" db:"job_id"`
	Label      string    `json:"label" db:"label"`
	OrderIndex int       `json:"order_index" db:"order_index"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`

	Materials []Material `json:"materials,omitempty" db:"-"`
}

// NewJob is the creation payload for a job, optionally with nested cutlists
// and materials created in the same transaction.
type NewJob struct {
	Number   string
	Name     string
	Customer string
	Cutlists []NewCutlist
}

// NewCutlist is the creation payload for one cutlist within a new job.
type NewCutlist struct {
	Label     string
	Materials []NewMaterial
}

// NewMaterial is the creation payload for one material line item.
type NewMaterial struct {
	SupplyID    int64
	TotalSheets int
}

// JobFilter narrows a job listing. Status filters on the effective state,
// so StatusPaused matches any job with the override set regardless of its
// derived status.
type JobFilter struct {
	Status   *JobStatus
	Customer string
	Limit    int
	Offset   int
}
