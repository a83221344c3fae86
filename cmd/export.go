package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/kosh-hq/invoice-pipeline/internal/model"
	"github.com/kosh-hq/invoice-pipeline/internal/store"
)

var (
	exportOut      string
	exportMerchant string
	exportLimit    int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export recommendations and quality stats to an XLSX workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportOut == "" {
			return eris.New("--out is required")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		recs, err := st.ListRecommendations(ctx, store.RecommendationFilter{
			MerchantID: exportMerchant,
			Limit:      exportLimit,
		})
		if err != nil {
			return eris.Wrap(err, "list recommendations")
		}

		stats, err := st.GetQualityStats(ctx, exportMerchant)
		if err != nil {
			return eris.Wrap(err, "quality stats")
		}

		file := xlsx.NewFile()
		if err := writeRecommendationSheet(ctx, file, st, recs); err != nil {
			return err
		}
		if err := writeQualitySheet(file, stats); err != nil {
			return err
		}

		if err := file.Save(exportOut); err != nil {
			return eris.Wrapf(err, "save %s", exportOut)
		}
		zap.L().Info("export written",
			zap.String("path", exportOut),
			zap.Int("recommendations", len(recs)),
		)
		return nil
	},
}

func writeRecommendationSheet(ctx context.Context, file *xlsx.File, st store.Store, recs []model.Recommendation) error {
	sheet, err := file.AddSheet("Recommendations")
	if err != nil {
		return eris.Wrap(err, "add recommendations sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{
		"Merchant", "Product", "Current Supplier", "Recommended Supplier",
		"Est. Savings", "Reason", "Status", "Created",
	} {
		header.AddCell().Value = h
	}

	// Supplier names are resolved once per distinct ID; missing suppliers
	// fall back to the raw ID.
	names := make(map[string]string)
	supplierName := func(id string) string {
		if name, ok := names[id]; ok {
			return name
		}
		name := id
		if s, err := st.GetSupplier(ctx, id); err == nil && s != nil {
			name = s.Name
		}
		names[id] = name
		return name
	}

	for _, rec := range recs {
		row := sheet.AddRow()
		row.AddCell().Value = rec.MerchantID
		row.AddCell().Value = rec.ProductID
		row.AddCell().Value = supplierName(rec.CurrentSupplierID)
		row.AddCell().Value = supplierName(rec.RecommendedSupplierID)
		row.AddCell().SetFloat(rec.SavingsEstimate)
		row.AddCell().Value = rec.Reason
		row.AddCell().Value = string(rec.Status)
		row.AddCell().Value = rec.CreatedAt.Format("2006-01-02")
	}
	return nil
}

func writeQualitySheet(file *xlsx.File, stats *store.QualityStats) error {
	sheet, err := file.AddSheet("Quality")
	if err != nil {
		return eris.Wrap(err, "add quality sheet")
	}

	addRow := func(label string, set func(*xlsx.Cell)) {
		row := sheet.AddRow()
		row.AddCell().Value = label
		set(row.AddCell())
	}
	addRow("Total Processed", func(c *xlsx.Cell) { c.SetInt(stats.TotalProcessed) })
	addRow("Auto Accepted", func(c *xlsx.Cell) { c.SetInt(stats.AutoAccepted) })
	addRow("Reviewed", func(c *xlsx.Cell) { c.SetInt(stats.Reviewed) })
	addRow("Failed", func(c *xlsx.Cell) { c.SetInt(stats.Failed) })
	addRow("Review Backlog", func(c *xlsx.Cell) { c.SetInt(stats.ReviewBacklog) })
	addRow("Avg OCR Confidence", func(c *xlsx.Cell) { c.SetFloat(stats.AvgOCRConfidence) })
	addRow("Correction Rate", func(c *xlsx.Cell) { c.SetFloat(stats.CorrectionRate) })
	return nil
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output .xlsx path (required)")
	exportCmd.Flags().StringVar(&exportMerchant, "merchant", "", "limit to one merchant")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 0, "maximum recommendations to export")
	rootCmd.AddCommand(exportCmd)
}
