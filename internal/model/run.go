package model

import "time"

// ItemOutcome is the terminal result of one scheduled slot.
type ItemOutcome struct {
	Slot        ScheduleSlot `json:"slot"`
	State       SlotState    `json:"state"`
	Err         error        `json:"-"`
	Summary     string       `json:"summary,omitempty"`
	DuplicateOf string       `json:"duplicate_of,omitempty"`
	Similarity  float64      `json:"similarity,omitempty"`
	// Committed is false for a published item whose commit failed.
	Committed bool `json:"committed"`
}

// Kind returns the failure kind, or "" for non-failed outcomes.
func (o ItemOutcome) Kind() ErrorKind {
	return KindOf(o.Err)
}

// RunResult summarizes one pipeline run.
type RunResult struct {
	RunID        string        `json:"run_id"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
	Sources      int           `json:"sources"`
	Polled       int           `json:"polled"`
	SourceErrors []SourceError `json:"-"`
	Outcomes     []ItemOutcome `json:"outcomes"`
	// Aborted is set when the run deadline expired before all slots ran.
	Aborted bool `json:"aborted"`
}

// Count returns the number of outcomes in state s.
func (r *RunResult) Count(s SlotState) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.State == s {
			n++
		}
	}
	return n
}

// CountKind returns the number of failed outcomes of kind k.
func (r *RunResult) CountKind(k ErrorKind) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Kind() == k {
			n++
		}
	}
	return n
}

// Uncommitted returns published outcomes whose commit failed.
func (r *RunResult) Uncommitted() []ItemOutcome {
	var out []ItemOutcome
	for _, o := range r.Outcomes {
		if o.State == SlotPublished && !o.Committed {
			out = append(out, o)
		}
	}
	return out
}

// FailedSources returns the IDs of sources that could not be polled.
func (r *RunResult) FailedSources() []string {
	ids := make([]string, 0, len(r.SourceErrors))
	for _, e := range r.SourceErrors {
		ids = append(ids, e.SourceID)
	}
	return ids
}

// Duration returns the wall time of the run.
func (r *RunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
