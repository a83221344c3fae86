package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/kosh-hq/invoice-pipeline/internal/importer"
)

var (
	importFile  string
	importSheet string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Bulk-load suppliers or products from CSV/XLSX",
}

func importOptions() importer.Options {
	return importer.Options{SheetName: importSheet}
}

var importSuppliersCmd = &cobra.Command{
	Use:   "suppliers",
	Short: "Import suppliers (columns: name, category, credit_terms_days, avg_delivery_days)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if importFile == "" {
			return eris.New("--file is required")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		res, err := importer.New(st).ImportSuppliers(ctx, importFile, importOptions())
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var importProductsCmd = &cobra.Command{
	Use:   "products",
	Short: "Import catalog products (columns: name, category, unit, sku_code)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if importFile == "" {
			return eris.New("--file is required")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		res, err := importer.New(st).ImportProducts(ctx, importFile, importOptions())
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

func init() {
	importCmd.PersistentFlags().StringVar(&importFile, "file", "", "CSV or XLSX file (required)")
	importCmd.PersistentFlags().StringVar(&importSheet, "sheet", "", "XLSX sheet name (default: first sheet)")
	importCmd.AddCommand(importSuppliersCmd, importProductsCmd)
	rootCmd.AddCommand(importCmd)
}
