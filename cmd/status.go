package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/kosh-hq/invoice-pipeline/internal/monitoring"
)

var statusMerchant string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print pipeline health and extraction quality",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		// Breaker states live in the worker process, so they are absent here.
		collector := monitoring.NewCollector(st, nil)
		snap, err := collector.Collect(ctx)
		if err != nil {
			return eris.Wrap(err, "collect metrics")
		}

		stats, err := st.GetQualityStats(ctx, statusMerchant)
		if err != nil {
			return eris.Wrap(err, "quality stats")
		}

		return printJSON(map[string]any{
			"metrics": snap,
			"quality": stats,
		})
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusMerchant, "merchant", "", "limit quality stats to one merchant")
	rootCmd.AddCommand(statusCmd)
}
