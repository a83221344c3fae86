package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kosh-hq/invoice-pipeline/internal/monitoring"
	"github.com/kosh-hq/invoice-pipeline/internal/queue"
)

var workerCount int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the OCR worker pool",
	Long:  "Claims queued invoice tasks and runs them through fetch, OCR, validation, and scoring. Also runs the periodic alert checker.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		workers := workerCount
		if workers == 0 {
			workers = cfg.Pipeline.Workers
		}

		pool := queue.NewPool(env.Queue, env.Processor.Process, queue.PoolOptions{
			Workers:      workers,
			PollInterval: time.Duration(cfg.Pipeline.PollIntervalSecs) * time.Second,
		})

		checker := monitoring.NewChecker(
			env.Collector,
			monitoring.NewAlerter(cfg.Monitoring),
			cfg.Monitoring,
		)

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return pool.Run(ctx)
		})
		g.Go(func() error {
			checker.Run(ctx)
			return nil
		})

		if err := g.Wait(); err != nil {
			return err
		}
		zap.L().Info("worker stopped")
		return nil
	},
}

func init() {
	workerCmd.Flags().IntVar(&workerCount, "workers", 0, "worker count (default from config)")
	rootCmd.AddCommand(workerCmd)
}
