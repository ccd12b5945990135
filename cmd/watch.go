package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/newswire/internal/monitoring"
)

var watchInterval time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the pipeline on a fixed interval until interrupted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if watchInterval <= 0 {
			return eris.New("--interval must be positive")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		alerter := monitoring.NewAlerter(cfg.Monitoring)
		retention := time.Duration(cfg.Store.RetentionDays) * 24 * time.Hour

		watchLoop(ctx, watchInterval, func(ctx context.Context) {
			if _, _, err := runOnce(ctx, env.Pipeline, alerter); err != nil {
				zap.L().Warn("watch: run ended early", zap.Error(err))
			}
			if retention > 0 && ctx.Err() == nil {
				n, err := env.Novelty.Trim(ctx, time.Now().Add(-retention))
				if err != nil {
					zap.L().Error("watch: retention trim failed", zap.Error(err))
					return
				}
				if n > 0 {
					zap.L().Info("watch: trimmed novelty records", zap.Int64("deleted", n))
				}
			}
		})
		return nil
	},
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 15*time.Minute, "time between runs")
	rootCmd.AddCommand(watchCmd)
}

// watchLoop calls tick immediately and then once per interval until ctx is
// done. A tick is never interrupted by the next one.
func watchLoop(ctx context.Context, interval time.Duration, tick func(ctx context.Context)) {
	log := zap.L().With(zap.Duration("interval", interval))
	log.Info("watch started")

	tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("watch stopped")
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}
