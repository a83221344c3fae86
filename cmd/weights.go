package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/kosh-hq/invoice-pipeline/internal/model"
)

var weightsCmd = &cobra.Command{
	Use:   "weights",
	Short: "Inspect and update scoring weights",
}

var weightsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current weight configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		wc, err := st.GetWeightConfig(ctx)
		if err != nil {
			return eris.Wrap(err, "load weight config")
		}
		return printJSON(wc)
	},
}

var (
	weightsFile string
	weightsBy   string
)

var weightsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Install a new weight set from a YAML file",
	Long:  "Reads the five sub-score weights from a YAML file, validates that they sum to 1.0, and installs them as a new config version. Already-stored scores keep their original weight snapshots.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if weightsFile == "" {
			return eris.New("--file is required")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		data, err := os.ReadFile(weightsFile)
		if err != nil {
			return eris.Wrap(err, "read weights file")
		}
		var weights model.WeightSet
		if err := yaml.Unmarshal(data, &weights); err != nil {
			return eris.Wrap(err, "parse weights file")
		}
		if err := weights.Validate(); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		wc, err := st.UpdateWeightConfig(ctx, weights, weightsBy)
		if err != nil {
			return eris.Wrap(err, "update weight config")
		}

		zap.L().Info("weight config updated",
			zap.Int("version", wc.Version),
			zap.String("updated_by", wc.UpdatedBy),
		)
		return printJSON(wc)
	},
}

func init() {
	weightsSetCmd.Flags().StringVar(&weightsFile, "file", "", "YAML file with the new weight set (required)")
	weightsSetCmd.Flags().StringVar(&weightsBy, "by", "", "who is making the change")
	weightsCmd.AddCommand(weightsShowCmd, weightsSetCmd)
	rootCmd.AddCommand(weightsCmd)
}
