package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/kosh-hq/invoice-pipeline/internal/model"
)

var verifyCorrectionsFile string

var verifyCmd = &cobra.Command{
	Use:   "verify <invoice-id>",
	Short: "Apply corrections and complete a needs-review invoice",
	Long:  "Applies line-item corrections from a JSON file and completes the invoice, triggering supplier rescoring. With no file, the invoice is completed as extracted.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var corrections []model.ItemCorrection
		if verifyCorrectionsFile != "" {
			data, err := os.ReadFile(verifyCorrectionsFile)
			if err != nil {
				return eris.Wrap(err, "read corrections file")
			}
			if err := json.Unmarshal(data, &corrections); err != nil {
				return eris.Wrap(err, "parse corrections file")
			}
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		inv, err := env.Verifier.Verify(ctx, args[0], corrections)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"invoice": inv})
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <invoice-id>",
	Short: "Cancel a pending or in-flight invoice",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		inv, err := env.Verifier.CancelInvoice(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"invoice": inv})
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifyCorrectionsFile, "corrections", "", "JSON file with item corrections")
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(cancelCmd)
}
