package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var trimOlderThan time.Duration

var trimCmd = &cobra.Command{
	Use:   "trim",
	Short: "Delete novelty records older than a cutoff",
	Long:  "Deletes novelty records first seen before the cutoff. Trimmed items are no longer recognised as duplicates and may be published again.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		cutoff, err := trimCutoff(time.Now(), trimOlderThan, cfg.Store.RetentionDays)
		if err != nil {
			return err
		}

		ns, err := initNovelty(ctx)
		if err != nil {
			return err
		}
		defer ns.Close() //nolint:errcheck

		n, err := ns.Trim(ctx, cutoff)
		if err != nil {
			return err
		}

		zap.L().Info("trim complete",
			zap.Time("cutoff", cutoff),
			zap.Int64("deleted", n),
			zap.Int("remaining", ns.Len()),
		)
		fmt.Fprintf(os.Stdout, "deleted %d records first seen before %s\n", n, cutoff.UTC().Format(time.RFC3339))
		return nil
	},
}

func init() {
	trimCmd.Flags().DurationVar(&trimOlderThan, "older-than", 0, "delete records older than this (defaults to store.retention_days)")
	rootCmd.AddCommand(trimCmd)
}

// trimCutoff resolves the cutoff from the flag, falling back to the
// configured retention.
func trimCutoff(now time.Time, olderThan time.Duration, retentionDays int) (time.Time, error) {
	switch {
	case olderThan > 0:
		return now.Add(-olderThan), nil
	case olderThan < 0:
		return time.Time{}, eris.New("--older-than must be positive")
	case retentionDays > 0:
		return now.Add(-time.Duration(retentionDays) * 24 * time.Hour), nil
	default:
		return time.Time{}, eris.New("set --older-than or store.retention_days")
	}
}
