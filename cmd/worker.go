package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var workerOnce bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the periodic enrichment scheduler",
	Long:  "Selects stale links on the configured interval and refreshes their metadata. With --once a single batch runs immediately and the process exits.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		enricher, err := initEnricher(st)
		if err != nil {
			return err
		}
		sched := newScheduler(st, enricher)

		if workerOnce {
			summary, err := sched.RunOnce(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		}

		zap.L().Info("worker started",
			zap.Duration("interval", cfg.Schedule.UpdateInterval),
			zap.Int("batch_size", cfg.Schedule.BatchSize),
			zap.Int("concurrency", cfg.Schedule.Concurrency))

		done := make(chan error, 1)
		go func() { done <- sched.Run(ctx) }()

		select {
		case err := <-done:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case <-ctx.Done():
		}

		// In-flight links get a bounded grace period to commit before the
		// process exits.
		grace := cfg.Schedule.ShutdownGrace
		if grace <= 0 {
			grace = 30 * time.Second
		}
		zap.L().Info("worker shutting down", zap.Duration("grace", grace))
		select {
		case <-done:
		case <-time.After(grace):
			zap.L().Warn("shutdown grace elapsed, abandoning in-flight work")
		}
		return nil
	},
}

func init() {
	workerCmd.Flags().BoolVar(&workerOnce, "once", false, "run one batch and exit")
	rootCmd.AddCommand(workerCmd)
}
