package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// SheetStatus represents the cut state of a single sheet.
type SheetStatus string

const (
	SheetPending SheetStatus = "pending"
	SheetCut     SheetStatus = "cut"
	SheetSkip    SheetStatus = "skip"
)

// Valid reports whether s is one of the known sheet states.
func (s SheetStatus) Valid() bool {
	switch s {
	case SheetPending, SheetCut, SheetSkip:
		return true
	}
	return false
}

// SheetStatuses is the ordered per-sheet state sequence of a material or a
// recut entry. It persists as a jsonb array column.
type SheetStatuses []SheetStatus

// NewSheetStatuses returns a sequence of n pending sheets.
func NewSheetStatuses(n int) SheetStatuses {
	s := make(SheetStatuses, n)
	for i := range s {
		s[i] = SheetPending
	}
	return s
}

// Set returns a copy of the sequence with the sheet at index set to v.
// An index past the end grows the sequence, filling the gap with pending
// sheets; the new length then becomes the sheet total. The bool is false
// when the sheet already holds v, in which case the receiver is returned
// unchanged and the caller must not persist, log or notify.
func (s SheetStatuses) Set(index int, v SheetStatus) (SheetStatuses, bool) {
	if index < 0 {
		return s, false
	}
	if index < len(s) && s[index] == v {
		return s, false
	}
	size := len(s)
	if index >= size {
		size = index + 1
	}
	next := make(SheetStatuses, size)
	copy(next, s)
	for i := len(s); i < size; i++ {
		next[i] = SheetPending
	}
	next[index] = v
	return next, true
}

// Append returns a copy of the sequence extended by n pending sheets.
func (s SheetStatuses) Append(n int) SheetStatuses {
	next := make(SheetStatuses, len(s), len(s)+n)
	copy(next, s)
	for i := 0; i < n; i++ {
		next = append(next, SheetPending)
	}
	return next
}

// Remove returns a copy of the sequence with the sheet at index deleted and
// later sheets shifted down one position.
func (s SheetStatuses) Remove(index int) (SheetStatuses, error) {
	if index < 0 || index >= len(s) {
		return nil, fmt.Errorf("%w: sheet index %d out of range", ErrNotFound, index)
	}
	next := make(SheetStatuses, 0, len(s)-1)
	next = append(next, s[:index]...)
	next = append(next, s[index+1:]...)
	return next, nil
}

// Count returns how many sheets are in state v.
func (s SheetStatuses) Count(v SheetStatus) int {
	n := 0
	for _, status := range s {
		if status == v {
			n++
		}
	}
	return n
}

// Value implements driver.Valuer, encoding the sequence as a json array.
func (s SheetStatuses) Value() (driver.Value, error) {
	if s == nil {
		s = SheetStatuses{}
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal sheet statuses: %w", err)
	}
	return b, nil
}

// Scan implements sql.Scanner for the jsonb column.
func (s *SheetStatuses) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	case nil:
		*s = SheetStatuses{}
		return nil
	}
	return fmt.Errorf("cannot scan %T into SheetStatuses", src)
}

// SheetCutLog is one row of the append-only cut history: a single
// status-setting operation on one sheet. Idempotent no-op writes are never
// recorded, so consecutive entries for a sheet always differ in status.
type SheetCutLog struct {
	ID         int64       `json:"id" db:"id"`
	MaterialID int64       `json:"material_id" db:"material_id"`
	RecutID    *int64      `json:"recut_id,omitempty" db:"recut_id"`
	SheetIndex int         `json:"sheet_index" db:"sheet_index"`
	Status     SheetStatus `json:"status" db:"status"`
	IsRecut    bool        `json:"is_recut" db:"is_recut"`
	ActorID    *int64      `json:"actor_id,omitempty" db:"actor_id"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
}
