package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType tags a change notification.
type EventType string

const (
	EventJobCreated    EventType = "job.created"
	EventJobDeleted    EventType = "job.deleted"
	EventJobStarted    EventType = "job.started"
	EventJobPaused     EventType = "job.paused"
	EventJobResumed    EventType = "job.resumed"
	EventJobCompleted  EventType = "job.completed"
	EventJobReconciled EventType = "job.reconciled"
	EventTimerStarted  EventType = "job.timer_started"
	EventTimerStopped  EventType = "job.timer_stopped"

	EventCutlistAdded    EventType = "cutlist.added"
	EventCutlistDeleted  EventType = "cutlist.deleted"
	EventMaterialAdded   EventType = "material.added"
	EventMaterialDeleted EventType = "material.deleted"
	EventSheetUpdated    EventType = "sheet.updated"
	EventSheetsAdded     EventType = "sheets.added"
	EventSheetDeleted    EventType = "sheet.deleted"
	EventRecutAdded      EventType = "recut.added"
	EventRecutUpdated    EventType = "recut.updated"
	EventRecutDeleted    EventType = "recut.deleted"
)

// ChangeEvent describes one committed mutation to subscribers. Every
// successful mutating operation emits exactly one event; no-ops and failed
// operations emit none.
type ChangeEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	JobID      int64     `json:"job_id"`
	Payload    any       `json:"payload,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewChangeEvent stamps a fresh event with an id and occurrence time.
func NewChangeEvent(t EventType, jobID int64, payload any) ChangeEvent {
	return ChangeEvent{
		ID:         uuid.NewString(),
		Type:       t,
		JobID:      jobID,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
}
