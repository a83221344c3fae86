package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kosh-hq/invoice-pipeline/internal/model"
	"github.com/kosh-hq/invoice-pipeline/internal/resilience"
)

// requeueDLQEntry replays a dead-lettered task: the invoice goes back to
// pending, a fresh task with a reset attempt counter is queued, and the
// entry is removed. Shared by the HTTP handler and the CLI.
func requeueDLQEntry(ctx context.Context, env *pipelineEnv, id string) (*model.Task, error) {
	entry, err := env.Store.GetDLQEntry(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "load dlq entry")
	}
	if entry == nil {
		return nil, eris.Errorf("dlq entry %s not found", id)
	}

	inv, err := env.Store.GetInvoice(ctx, entry.InvoiceID)
	if err != nil {
		return nil, eris.Wrap(err, "load invoice")
	}
	if inv == nil {
		return nil, eris.Errorf("invoice %s not found", entry.InvoiceID)
	}
	switch inv.Status {
	case model.InvoiceCancelled, model.InvoiceCompleted:
		return nil, eris.Errorf("invoice %s is %s and cannot be requeued", inv.ID, inv.Status)
	}

	if inv.Status != model.InvoicePending {
		inv.Status = model.InvoicePending
		inv.UpdatedAt = time.Now().UTC()
		if err := env.Store.UpdateInvoice(ctx, inv); err != nil {
			return nil, eris.Wrap(err, "reset invoice status")
		}
	}

	task, err := env.Queue.Enqueue(ctx, entry.InvoiceID, model.TaskKind(entry.TaskKind))
	if err != nil {
		return nil, eris.Wrap(err, "enqueue replay task")
	}

	if err := env.Store.DeleteDLQEntry(ctx, id); err != nil {
		return nil, eris.Wrap(err, "delete dlq entry")
	}

	zap.L().Info("dlq entry requeued",
		zap.String("entry_id", id),
		zap.String("invoice_id", entry.InvoiceID),
		zap.String("task_id", task.ID),
	)
	return task, nil
}

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and replay dead-lettered tasks",
}

var (
	dlqErrorType string
	dlqInvoiceID string
	dlqLimit     int
)

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-letter entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		entries, err := st.ListDLQEntries(ctx, resilience.DLQFilter{
			ErrorType: dlqErrorType,
			InvoiceID: dlqInvoiceID,
			Limit:     dlqLimit,
		})
		if err != nil {
			return eris.Wrap(err, "list dlq entries")
		}
		return printJSON(map[string]any{"entries": entries})
	},
}

var dlqShowCmd = &cobra.Command{
	Use:   "show <entry-id>",
	Short: "Show one dead-letter entry with its failure trace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		entry, err := st.GetDLQEntry(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "load dlq entry")
		}
		if entry == nil {
			return eris.Errorf("dlq entry %s not found", args[0])
		}
		return printJSON(entry)
	},
}

var dlqRequeueCmd = &cobra.Command{
	Use:   "requeue <entry-id>",
	Short: "Replay a dead-lettered task with a fresh attempt budget",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		task, err := requeueDLQEntry(ctx, env, args[0])
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"task": task})
	},
}

var dlqDeleteCmd = &cobra.Command{
	Use:   "delete <entry-id>",
	Short: "Discard a dead-letter entry without replaying it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		entry, err := st.GetDLQEntry(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "load dlq entry")
		}
		if entry == nil {
			return eris.Errorf("dlq entry %s not found", args[0])
		}
		if err := st.DeleteDLQEntry(ctx, args[0]); err != nil {
			return eris.Wrap(err, "delete dlq entry")
		}
		zap.L().Info("dlq entry deleted", zap.String("entry_id", args[0]))
		return nil
	},
}

func init() {
	dlqListCmd.Flags().StringVar(&dlqErrorType, "error-type", "", "filter by error type (transient or permanent)")
	dlqListCmd.Flags().StringVar(&dlqInvoiceID, "invoice", "", "filter by invoice ID")
	dlqListCmd.Flags().IntVar(&dlqLimit, "limit", 50, "maximum entries to list")
	dlqCmd.AddCommand(dlqListCmd, dlqShowCmd, dlqRequeueCmd, dlqDeleteCmd)
	rootCmd.AddCommand(dlqCmd)
}
