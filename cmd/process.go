package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kosh-hq/invoice-pipeline/internal/model"
	"github.com/kosh-hq/invoice-pipeline/internal/queue"
)

var (
	ingestMerchant string
	ingestSupplier string
	ingestFileKey  string
	ingestNumber   string
	ingestDate     string
	ingestCurrency string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Register an invoice and queue it for OCR",
	RunE: func(cmd *cobra.Command, args []string) error {
		if ingestMerchant == "" || ingestFileKey == "" {
			return eris.New("--merchant and --file-key are required")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		var invoiceDate time.Time
		if ingestDate != "" {
			invoiceDate, err = parseDate(ingestDate)
			if err != nil {
				return eris.Wrap(err, "parse --date")
			}
		}

		now := time.Now().UTC()
		inv := &model.Invoice{
			ID:            uuid.New().String(),
			MerchantID:    ingestMerchant,
			SupplierID:    ingestSupplier,
			InvoiceNumber: ingestNumber,
			InvoiceDate:   invoiceDate,
			Currency:      ingestCurrency,
			FileKey:       ingestFileKey,
			Status:        model.InvoicePending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := env.Store.CreateInvoice(ctx, inv); err != nil {
			return eris.Wrap(err, "create invoice")
		}

		task, err := env.Queue.Enqueue(ctx, inv.ID, model.TaskKindOCR)
		if err != nil {
			return eris.Wrap(err, "enqueue")
		}

		zap.L().Info("invoice queued",
			zap.String("invoice_id", inv.ID),
			zap.String("task_id", task.ID),
		)
		return printJSON(map[string]any{"invoice": inv, "task_id": task.ID})
	},
}

var processTimeout time.Duration

var processCmd = &cobra.Command{
	Use:   "process <invoice-id>",
	Short: "Process one queued invoice in the foreground",
	Long:  "Runs a single worker against the queue until the invoice reaches a stable status. Useful for debugging a stuck or re-queued invoice.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		invoiceID := args[0]

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if processTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, processTimeout)
			defer cancel()
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		inv, err := env.Store.GetInvoice(ctx, invoiceID)
		if err != nil {
			return eris.Wrap(err, "load invoice")
		}
		if inv == nil {
			return eris.Errorf("invoice %s not found", invoiceID)
		}

		if _, err := env.Queue.Enqueue(ctx, invoiceID, model.TaskKindOCR); err != nil {
			return eris.Wrap(err, "enqueue")
		}

		poolCtx, stopPool := context.WithCancel(ctx)
		defer stopPool()
		pool := queue.NewPool(env.Queue, env.Processor.Process, queue.PoolOptions{
			Workers:      1,
			PollInterval: 250 * time.Millisecond,
		})
		done := make(chan error, 1)
		go func() { done <- pool.Run(poolCtx) }()

		// Poll until the invoice settles. needs_review is stable: it waits
		// on a human, not on the worker.
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				stopPool()
				<-done
				return eris.Wrap(ctx.Err(), "processing interrupted")
			case <-ticker.C:
			}

			inv, err = env.Store.GetInvoice(ctx, invoiceID)
			if err != nil {
				stopPool()
				<-done
				return eris.Wrap(err, "poll invoice")
			}
			if inv.Status.Terminal() || inv.Status == model.InvoiceNeedsReview {
				break
			}
		}
		stopPool()
		<-done

		items, err := env.Store.ListInvoiceItems(ctx, invoiceID)
		if err != nil {
			return eris.Wrap(err, "list items")
		}
		return printJSON(map[string]any{"invoice": inv, "items": items})
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	ingestCmd.Flags().StringVar(&ingestMerchant, "merchant", "", "merchant ID (required)")
	ingestCmd.Flags().StringVar(&ingestSupplier, "supplier", "", "supplier ID, if already known")
	ingestCmd.Flags().StringVar(&ingestFileKey, "file-key", "", "artifact store file key (required)")
	ingestCmd.Flags().StringVar(&ingestNumber, "number", "", "invoice number")
	ingestCmd.Flags().StringVar(&ingestDate, "date", "", "invoice date (YYYY-MM-DD)")
	ingestCmd.Flags().StringVar(&ingestCurrency, "currency", "", "currency code")
	rootCmd.AddCommand(ingestCmd)

	processCmd.Flags().DurationVar(&processTimeout, "timeout", 15*time.Minute, "give up after this long")
	rootCmd.AddCommand(processCmd)
}
