package domain

// Progress holds the folded sheet counters of one job: every material plus
// every recut batch layered on top.
type Progress struct {
	TotalSheets     int `json:"total_sheets"`
	CompletedSheets int `json:"completed_sheets"`
	SkippedSheets   int `json:"skipped_sheets"`
}

// EffectiveTotal is the completion denominator: skipped sheets are excluded
// from the amount of work the job is measured against.
func (p Progress) EffectiveTotal() int { return p.TotalSheets - p.SkippedSheets }

// HasActivity reports whether any sheet anywhere in the job has been cut or
// skipped. Skips count as activity the same as cuts.
func (p Progress) HasActivity() bool { return p.CompletedSheets > 0 || p.SkippedSheets > 0 }

// Verdict derives the job status from the counters alone:
//
//	no activity yet                  -> waiting
//	activity, work still remaining   -> in_progress
//	activity, nothing left to cut    -> done
//
// A job whose sheets were all skipped is done, not waiting: the floor has
// acted on every sheet and nothing remains to cut.
func (p Progress) Verdict() JobStatus {
	if !p.HasActivity() {
		return StatusWaiting
	}
	if p.CompletedSheets < p.EffectiveTotal() {
		return StatusInProgress
	}
	return StatusDone
}

// ComputeProgress folds a fully loaded job tree into its sheet counters. It
// counts from the status sequences, never from the cached columns, and has
// no side effects.
func ComputeProgress(job *Job) Progress {
	var p Progress
	for _, cl := range job.Cutlists {
		for _, m := range cl.Materials {
			p.TotalSheets += len(m.SheetStatuses)
			p.CompletedSheets += m.SheetStatuses.Count(SheetCut)
			p.SkippedSheets += m.SheetStatuses.Count(SheetSkip)
			for _, r := range m.Recuts {
				p.TotalSheets += len(r.SheetStatuses)
				p.CompletedSheets += r.SheetStatuses.Count(SheetCut)
				p.SkippedSheets += r.SheetStatuses.Count(SheetSkip)
			}
		}
	}
	return p
}
