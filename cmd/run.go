package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/newswire/internal/model"
	"github.com/sells-group/newswire/internal/monitoring"
)

const alertTimeout = 15 * time.Second

// runner is the part of the pipeline the run and watch commands drive.
type runner interface {
	Run(ctx context.Context) (*model.RunResult, error)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll every source and publish one fair batch of new items",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result, snap, err := runOnce(ctx, env.Pipeline, monitoring.NewAlerter(cfg.Monitoring))
		if result != nil {
			if werr := writeRunReport(os.Stdout, result, snap); werr != nil {
				zap.L().Error("write run report", zap.Error(werr))
			}
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// runOnce executes one pass and raises alerts for it. Alerts are sent even
// when ctx was cancelled mid-run.
func runOnce(ctx context.Context, p runner, alerter *monitoring.Alerter) (*model.RunResult, *monitoring.MetricsSnapshot, error) {
	result, err := p.Run(ctx)
	if result == nil {
		return nil, nil, err
	}

	snap := monitoring.Collect(result)
	if alerts := alerter.Evaluate(snap); len(alerts) > 0 {
		alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)
		defer cancel()
		sent := alerter.SendAlerts(alertCtx, alerts)
		zap.L().Warn("run raised alerts",
			zap.String("run_id", result.RunID),
			zap.Int("alerts", len(alerts)),
			zap.Int("sent", sent),
		)
	}
	return result, snap, err
}

type runReport struct {
	Metrics *monitoring.MetricsSnapshot `json:"metrics"`
	Items   []itemReport                `json:"items"`
}

type itemReport struct {
	Position    int     `json:"position"`
	SourceID    string  `json:"source_id"`
	Title       string  `json:"title"`
	URL         string  `json:"url,omitempty"`
	State       string  `json:"state"`
	Kind        string  `json:"kind,omitempty"`
	Error       string  `json:"error,omitempty"`
	DuplicateOf string  `json:"duplicate_of,omitempty"`
	Similarity  float64 `json:"similarity,omitempty"`
	Committed   bool    `json:"committed"`
}

// writeRunReport prints the run metrics and per-slot outcomes as JSON.
func writeRunReport(w io.Writer, result *model.RunResult, snap *monitoring.MetricsSnapshot) error {
	report := runReport{Metrics: snap, Items: make([]itemReport, 0, len(result.Outcomes))}
	for _, o := range result.Outcomes {
		item := itemReport{
			Position:    o.Slot.Position,
			SourceID:    o.Slot.SourceID,
			Title:       o.Slot.Item.Title,
			URL:         o.Slot.Item.URL,
			State:       string(o.State),
			Kind:        string(o.Kind()),
			DuplicateOf: o.DuplicateOf,
			Similarity:  o.Similarity,
			Committed:   o.Committed,
		}
		if o.Err != nil {
			item.Error = o.Err.Error()
		}
		report.Items = append(report.Items, item)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
