package domain

import "time"

// Material represents one supply line item within a cutlist: a run of
// sheets to cut from a single stock item. CompletedSheets and SkippedSheets
// are caches of the SheetStatuses counts, maintained on every write; the
// status sequence itself is authoritative.
type Material struct {
	ID              int64         `json:"id" db:"id"`
	CutlistID       int64         `json:"cutlist_id" db:"cutlist_id"`
	JobID           int64         `json:"job_id" db:"job_id"`
	SupplyID        int64         `json:"supply_id" db:"supply_id"`
	TotalSheets     int           `json:"total_sheets" db:"total_sheets"`
	CompletedSheets int           `json:"completed_sheets" db:"completed_sheets"`
	SkippedSheets   int           `json:"skipped_sheets" db:"skipped_sheets"`
	SheetStatuses   SheetStatuses `json:"sheet_statuses" db:"sheet_statuses"`
	Version         int64         `json:"-" db:"version"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at" db:"updated_at"`

	Recuts []RecutEntry `json:"recuts,omitempty" db:"-"`
}

// SetSheets replaces the status sequence and recomputes the cached
// counters from it, including the sheet total.
func (m *Material) SetSheets(next SheetStatuses) {
	m.SheetStatuses = next
	m.TotalSheets = len(next)
	m.CompletedSheets = next.Count(SheetCut)
	m.SkippedSheets = next.Count(SheetSkip)
}

// RecutEntry represents a corrective batch of replacement sheets layered on
// top of a material. Its sheets count toward job progress exactly like the
// original run's.
type RecutEntry struct {
	ID              int64         `json:"id" db:"id"`
	MaterialID      int64         `json:"material_id" db:"material_id"`
	JobID           int64         `json:"job_id" db:"job_id"`
	Quantity        int           `json:"quantity" db:"quantity"`
	Reason          *string       `json:"reason,omitempty" db:"reason"`
	CompletedSheets int           `json:"completed_sheets" db:"completed_sheets"`
	SkippedSheets   int           `json:"skipped_sheets" db:"skipped_sheets"`
	SheetStatuses   SheetStatuses `json:"sheet_statuses" db:"sheet_statuses"`
	Version         int64         `json:"-" db:"version"`
	CreatedBy       *int64        `json:"created_by,omitempty" db:"created_by"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at" db:"updated_at"`
}

// SetSheets replaces the status sequence and recomputes the cached
// counters, including the batch quantity.
func (r *RecutEntry) SetSheets(next SheetStatuses) {
	r.SheetStatuses = next
	r.Quantity = len(next)
	r.CompletedSheets = next.Count(SheetCut)
	r.SkippedSheets = next.Count(SheetSkip)
}
