package monitoring

import (
	"time"

	"github.com/sells-group/newswire/internal/model"
)

// MetricsSnapshot holds the health figures of one pipeline run.
type MetricsSnapshot struct {
	RunID string `json:"run_id"`

	Sources        int            `json:"sources"`
	SourcesFailed  int            `json:"sources_failed"`
	FailedSources  []string       `json:"failed_sources,omitempty"`
	Polled         int            `json:"polled"`
	Scheduled      int            `json:"scheduled"`
	Published      int            `json:"published"`
	Duplicates     int            `json:"duplicates"`
	ItemsFailed    int            `json:"items_failed"`
	CommitFailures int            `json:"commit_failures"`
	// ItemFailRate is failed items over items that left the novelty check
	// (published + failed); duplicates are excluded.
	ItemFailRate   float64        `json:"item_fail_rate"`
	FailuresByKind map[string]int `json:"failures_by_kind,omitempty"`
	Aborted        bool           `json:"aborted"`

	DurationMs  int64     `json:"duration_ms"`
	CollectedAt time.Time `json:"collected_at"`
}

// Collect derives a snapshot from a finished run.
func Collect(res *model.RunResult) *MetricsSnapshot {
	snap := &MetricsSnapshot{
		RunID:          res.RunID,
		Sources:        res.Sources,
		SourcesFailed:  len(res.SourceErrors),
		FailedSources:  res.FailedSources(),
		Polled:         res.Polled,
		Scheduled:      len(res.Outcomes),
		Published:      res.Count(model.SlotPublished),
		Duplicates:     res.Count(model.SlotDuplicate),
		ItemsFailed:    res.Count(model.SlotFailed),
		CommitFailures: len(res.Uncommitted()),
		Aborted:        res.Aborted,
		DurationMs:     res.Duration().Milliseconds(),
		CollectedAt:    time.Now().UTC(),
	}

	for _, o := range res.Outcomes {
		if k := o.Kind(); k != "" {
			if snap.FailuresByKind == nil {
				snap.FailuresByKind = make(map[string]int)
			}
			snap.FailuresByKind[string(k)]++
		}
	}

	if attempted := snap.Published + snap.ItemsFailed; attempted > 0 {
		snap.ItemFailRate = float64(snap.ItemsFailed) / float64(attempted)
	}
	return snap
}
