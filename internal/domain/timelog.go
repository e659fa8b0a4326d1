package domain

import "time"

// JobTimeLog represents one timer interval for a job. An open interval has
// a nil EndTime; at most one interval per job is open at any instant.
type JobTimeLog struct {
	ID        int64      `json:"id" db:"id"`
	JobID     int64      `json:"job_id" db:"job_id"`
	StartTime time.Time  `json:"start_time" db:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty" db:"end_time"`
	ActorID   *int64     `json:"actor_id,omitempty" db:"actor_id"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// Closed reports whether the interval has ended.
func (l JobTimeLog) Closed() bool { return l.EndTime != nil }

// TotalDurationSeconds sums the closed intervals, truncating each to whole
// seconds. Open intervals contribute nothing. The total is always recomputed
// from scratch; it is never incremented in place.
func TotalDurationSeconds(logs []JobTimeLog) int64 {
	var total int64
	for _, l := range logs {
		if l.EndTime == nil {
			continue
		}
		total += int64(l.EndTime.Sub(l.StartTime) / time.Second)
	}
	return total
}
