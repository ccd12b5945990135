package main

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/newswire/internal/model"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show what the novelty store remembers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		ns, err := initNovelty(ctx)
		if err != nil {
			return err
		}
		defer ns.Close() //nolint:errcheck

		recs, err := ns.Snapshot(ctx)
		if err != nil {
			return eris.Wrap(err, "stats")
		}
		counts, err := ns.CountBySource(ctx)
		if err != nil {
			return eris.Wrap(err, "stats")
		}

		report := buildStats(recs, counts)
		report.Indexed = ns.Indexed()
		report.Threshold = ns.Threshold()
		return writeStats(os.Stdout, report)
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

type statsReport struct {
	Records      int            `json:"records"`
	WithVector   int            `json:"with_embedding"`
	Indexed      int            `json:"indexed"`
	Threshold    float64        `json:"threshold"`
	BySource     map[string]int `json:"by_source"`
	OldestSeenAt *time.Time     `json:"oldest_seen_at,omitempty"`
	NewestSeenAt *time.Time     `json:"newest_seen_at,omitempty"`
}

func buildStats(recs []model.NoveltyRecord, counts map[string]int) statsReport {
	report := statsReport{Records: len(recs), BySource: counts}
	if report.BySource == nil {
		report.BySource = map[string]int{}
	}
	for i := range recs {
		if len(recs[i].Embedding) > 0 {
			report.WithVector++
		}
		seen := recs[i].FirstSeenAt
		if report.OldestSeenAt == nil || seen.Before(*report.OldestSeenAt) {
			report.OldestSeenAt = &seen
		}
		if report.NewestSeenAt == nil || seen.After(*report.NewestSeenAt) {
			report.NewestSeenAt = &seen
		}
	}
	return report
}

func writeStats(w io.Writer, report statsReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
