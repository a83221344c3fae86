// Package pipeline drives an invoice through OCR, validation, catalog
// matching, routing, and scoring. The processor is the queue handler: it
// owns phase ordering and invoice status transitions, while the queue owns
// retries and dead-lettering.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kosh-hq/invoice-pipeline/internal/asset"
	"github.com/kosh-hq/invoice-pipeline/internal/catalog"
	"github.com/kosh-hq/invoice-pipeline/internal/model"
	"github.com/kosh-hq/invoice-pipeline/internal/ocr"
	"github.com/kosh-hq/invoice-pipeline/internal/queue"
	"github.com/kosh-hq/invoice-pipeline/internal/resilience"
	"github.com/kosh-hq/invoice-pipeline/internal/validate"
)

// Breaker names for the two external dependencies of the processing path.
const (
	BreakerArtifactStore = "artifact-store"
	BreakerOCR           = "ocr"
)

// Store is the persistence slice the processor needs.
type Store interface {
	GetInvoice(ctx context.Context, id string) (*model.Invoice, error)
	UpdateInvoice(ctx context.Context, inv *model.Invoice) error
	// ReplaceInvoiceItems clears previous items and writes the new set in
	// one transaction, so reprocessing never duplicates lines.
	ReplaceInvoiceItems(ctx context.Context, invoiceID string, items []model.InvoiceItem) error
	ListInvoiceItems(ctx context.Context, invoiceID string) ([]model.InvoiceItem, error)
	UpdateInvoiceItem(ctx context.Context, item *model.InvoiceItem) error
	GetSupplierByName(ctx context.Context, name string) (*model.Supplier, error)
	GetSupplier(ctx context.Context, id string) (*model.Supplier, error)
	CreateSupplier(ctx context.Context, s *model.Supplier) error
	UpdateSupplier(ctx context.Context, s *model.Supplier) error
	ListSupplierProducts(ctx context.Context, supplierID string) ([]model.Product, error)
}

// AssetFetcher retrieves the invoice document. Implemented by asset.Fetcher.
type AssetFetcher interface {
	Fetch(ctx context.Context, fileKey string) (*asset.Document, error)
}

// Scorer recalculates the value score for a tuple. Implemented by the
// scoring engine.
type Scorer interface {
	ScoreTuple(ctx context.Context, merchantID, supplierID, productID string) (*model.Score, error)
}

// Recommender regenerates recommendations after scoring. Implemented by the
// recommend generator.
type Recommender interface {
	GenerateForProduct(ctx context.Context, merchantID, productID, currentSupplierID, invoiceID string) (*model.Recommendation, error)
}

// Processor is the OCR task handler.
type Processor struct {
	store       Store
	assets      AssetFetcher
	extractor   ocr.Extractor
	matcher     *catalog.Matcher
	scorer      Scorer
	recommender Recommender
	breakers    *resilience.BreakerSet
	policy      resilience.RetryPolicy
	nowFunc     func() time.Time
}

// NewProcessor wires the processing pipeline. All workers share the breaker
// set, so one degraded dependency fails fast for every worker.
func NewProcessor(
	store Store,
	assets AssetFetcher,
	extractor ocr.Extractor,
	matcher *catalog.Matcher,
	scorer Scorer,
	recommender Recommender,
	breakers *resilience.BreakerSet,
	policy resilience.RetryPolicy,
) *Processor {
	return &Processor{
		store:       store,
		assets:      assets,
		extractor:   extractor,
		matcher:     matcher,
		scorer:      scorer,
		recommender: recommender,
		breakers:    breakers,
		policy:      policy,
		nowFunc:     time.Now,
	}
}

// Process handles one claimed OCR task. Returning nil acknowledges the
// task; a non-nil error is routed through the queue's retry policy. The
// invoice status is left consistent with the task outcome before returning:
// back to pending when a retry is coming, failed when it is not.
func (p *Processor) Process(ctx context.Context, task *model.Task) error {
	inv, err := p.store.GetInvoice(ctx, task.InvoiceID)
	if err != nil {
		return eris.Wrap(err, "pipeline: load invoice")
	}
	if inv == nil {
		return eris.Errorf("pipeline: invoice %s not found", task.InvoiceID)
	}

	switch inv.Status {
	case model.InvoiceCancelled:
		return queue.ErrCancelled
	case model.InvoiceCompleted, model.InvoiceFailed, model.InvoiceNeedsReview:
		// A crashed worker already got the invoice to a stable state
		// before the claim expired. Nothing left to do.
		zap.L().Info("pipeline: invoice already settled, acking stale task",
			zap.String("invoice_id", inv.ID),
			zap.String("status", string(inv.Status)),
		)
		return nil
	}

	if inv.Status == model.InvoicePending {
		if err := p.setStatus(ctx, inv, model.InvoiceProcessing); err != nil {
			return err
		}
	}

	if err := p.run(ctx, task, inv); err != nil {
		if errors.Is(err, queue.ErrCancelled) {
			// The merchant's cancel already settled the invoice; only the
			// task needs retiring.
			return err
		}
		p.settleFailure(ctx, task, inv, err)
		return err
	}
	return nil
}

// run executes the phases. Cancellation is observed at phase boundaries:
// once a phase starts it finishes, and its writes stay consistent.
func (p *Processor) run(ctx context.Context, task *model.Task, inv *model.Invoice) error {
	doc, err := p.fetchPhase(ctx, inv)
	if err != nil {
		return err
	}
	if err := p.checkpoint(ctx, inv, "ocr"); err != nil {
		return err
	}

	extraction, err := p.ocrPhase(ctx, inv, doc)
	if err != nil {
		return err
	}
	if err := p.checkpoint(ctx, inv, "validation"); err != nil {
		return err
	}

	tier := validate.ClassifyConfidence(extraction.OverallConfidence)
	report := validate.Check(extraction.Items, extraction.TotalAmount, extraction.OverallConfidence)
	routed := validate.Route(tier, report)

	now := p.nowFunc().UTC()
	inv.OCRRawText = extraction.RawText
	inv.OCRConfidence = extraction.OverallConfidence
	inv.OCRProvider = extraction.Provider
	inv.ProcessedAt = now

	if routed == validate.Reject {
		// Only the raw text survives a rejection, for audit.
		if err := p.setStatus(ctx, inv, model.InvoiceFailed); err != nil {
			return err
		}
		zap.L().Warn("pipeline: extraction rejected",
			zap.String("invoice_id", inv.ID),
			zap.Float64("confidence", extraction.OverallConfidence),
		)
		return nil
	}

	if err := p.persistPhase(ctx, inv, extraction, report); err != nil {
		return err
	}
	if err := p.checkpoint(ctx, inv, "settlement"); err != nil {
		return err
	}

	switch routed {
	case validate.NeedsReview:
		if err := p.setStatus(ctx, inv, model.InvoiceNeedsReview); err != nil {
			return err
		}
		zap.L().Info("pipeline: invoice held for review",
			zap.String("invoice_id", inv.ID),
			zap.Int("flagged_items", report.FlaggedItems),
			zap.Bool("document_mismatch", report.DocumentMismatch),
		)
	default: // auto-accept
		inv.VerifiedAt = now
		if err := p.setStatus(ctx, inv, model.InvoiceCompleted); err != nil {
			return err
		}
	}

	// The invoice row carries supplier_id now, so the rollup sees the items
	// just written.
	if inv.SupplierID != "" {
		RefreshSupplierCategory(ctx, p.store, inv.SupplierID, now)
	}
	if routed == validate.AutoAccept {
		Rescore(ctx, p.store, p.scorer, p.recommender, inv)
	}
	return nil
}

// RefreshSupplierCategory re-derives the supplier's category from the mode
// of products on its completed invoices. The rollup is advisory, so errors
// are logged and processing continues.
func RefreshSupplierCategory(ctx context.Context, store Store, supplierID string, now time.Time) {
	supplier, err := store.GetSupplier(ctx, supplierID)
	if err != nil || supplier == nil {
		zap.L().Warn("pipeline: supplier category refresh skipped",
			zap.String("supplier_id", supplierID), zap.Error(err))
		return
	}
	products, err := store.ListSupplierProducts(ctx, supplierID)
	if err != nil {
		zap.L().Warn("pipeline: supplier product list failed",
			zap.String("supplier_id", supplierID), zap.Error(err))
		return
	}

	inferred := catalog.InferSupplierCategory(products)
	if inferred == catalog.Uncategorized || inferred == supplier.Category {
		return
	}
	supplier.Category = inferred
	supplier.UpdatedAt = now
	if err := store.UpdateSupplier(ctx, supplier); err != nil {
		zap.L().Warn("pipeline: supplier category update failed",
			zap.String("supplier_id", supplierID), zap.Error(err))
		return
	}
	zap.L().Info("pipeline: supplier category inferred",
		zap.String("supplier_id", supplierID),
		zap.String("category", inferred),
	)
}

// checkpoint re-reads the invoice between phases. A merchant cancel is a
// store write on another connection, so the worker only sees it by
// reloading; the process context covers shutdown, not merchant intent.
func (p *Processor) checkpoint(ctx context.Context, inv *model.Invoice, nextPhase string) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrapf(err, "pipeline: shutdown before %s", nextPhase)
	}
	current, err := p.store.GetInvoice(ctx, inv.ID)
	if err != nil {
		return eris.Wrapf(err, "pipeline: reload invoice before %s", nextPhase)
	}
	if current == nil || current.Status == model.InvoiceCancelled {
		zap.L().Info("pipeline: cancel observed at phase boundary",
			zap.String("invoice_id", inv.ID),
			zap.String("next_phase", nextPhase),
		)
		return queue.ErrCancelled
	}
	// Keep the in-memory status fresh so the settlement transition is
	// checked against what is actually persisted.
	inv.Status = current.Status
	return nil
}

func (p *Processor) fetchPhase(ctx context.Context, inv *model.Invoice) (*asset.Document, error) {
	breaker := p.breakers.Get(BreakerArtifactStore)
	doc, err := resilience.ExecuteVal(ctx, breaker, func(ctx context.Context) (*asset.Document, error) {
		return p.assets.Fetch(ctx, inv.FileKey)
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: fetch document")
	}
	return doc, nil
}

func (p *Processor) ocrPhase(ctx context.Context, inv *model.Invoice, doc *asset.Document) (*ocr.Extraction, error) {
	breaker := p.breakers.Get(BreakerOCR)
	extraction, err := resilience.ExecuteVal(ctx, breaker, func(ctx context.Context) (*ocr.Extraction, error) {
		return p.extractor.Extract(ctx, doc.Body, doc.ContentType)
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: ocr extraction")
	}
	return extraction, nil
}

// persistPhase resolves the supplier and products, then replaces the
// invoice's items in one shot.
func (p *Processor) persistPhase(ctx context.Context, inv *model.Invoice, extraction *ocr.Extraction, report validate.Report) error {
	if extraction.SupplierName != "" && inv.SupplierID == "" {
		supplier, err := p.resolveSupplier(ctx, extraction.SupplierName)
		if err != nil {
			return err
		}
		inv.SupplierID = supplier.ID
	}
	if extraction.InvoiceNumber != "" {
		inv.InvoiceNumber = extraction.InvoiceNumber
	}
	if extraction.TotalAmount > 0 {
		inv.TotalAmount = extraction.TotalAmount
	}

	now := p.nowFunc().UTC()
	items := make([]model.InvoiceItem, 0, len(extraction.Items))
	for i, line := range extraction.Items {
		product, confidence, err := p.matcher.Resolve(ctx, line.Description)
		if err != nil {
			return eris.Wrapf(err, "pipeline: resolve product for item %d", i)
		}

		item := model.InvoiceItem{
			ID:              uuid.New().String(),
			InvoiceID:       inv.ID,
			ProductID:       product.ID,
			RawDescription:  line.Description,
			Quantity:        line.Quantity,
			UnitPrice:       line.UnitPrice,
			TotalPrice:      line.TotalPrice,
			MatchedSKU:      product.SKUCode,
			MatchConfidence: confidence,
			CreatedAt:       now,
		}
		if i < len(report.Items) {
			check := report.Items[i]
			item.Flagged = check.Mismatch || len(check.Issues) > 0
			item.FlagReasons = check.Issues
		}
		items = append(items, item)
	}

	if err := p.store.ReplaceInvoiceItems(ctx, inv.ID, items); err != nil {
		return eris.Wrap(err, "pipeline: replace invoice items")
	}
	return nil
}

// resolveSupplier finds the supplier by name or creates an unapproved one.
func (p *Processor) resolveSupplier(ctx context.Context, name string) (*model.Supplier, error) {
	existing, err := p.store.GetSupplierByName(ctx, name)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: supplier lookup")
	}
	if existing != nil {
		return existing, nil
	}

	now := p.nowFunc().UTC()
	supplier := &model.Supplier{
		ID:        uuid.New().String(),
		Name:      name,
		Approved:  false,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.store.CreateSupplier(ctx, supplier); err != nil {
		return nil, eris.Wrap(err, "pipeline: create supplier")
	}
	zap.L().Info("pipeline: supplier auto-created",
		zap.String("supplier_id", supplier.ID),
		zap.String("name", name),
	)
	return supplier, nil
}

// settleFailure leaves the invoice in a state consistent with what the
// queue will do next: pending when a retry is coming, failed when the task
// is about to be dead-lettered.
func (p *Processor) settleFailure(ctx context.Context, task *model.Task, inv *model.Invoice, cause error) {
	next := model.InvoicePending
	if !p.policy.ShouldRetry(task.Attempt, cause) {
		next = model.InvoiceFailed
	}
	if inv.Status == next {
		return
	}
	if err := p.setStatus(ctx, inv, next); err != nil {
		zap.L().Error("pipeline: failed to settle invoice status",
			zap.String("invoice_id", inv.ID),
			zap.String("target", string(next)),
			zap.Error(err),
		)
	}
}

func (p *Processor) setStatus(ctx context.Context, inv *model.Invoice, next model.InvoiceStatus) error {
	if !inv.Status.CanTransition(next) {
		return eris.Errorf("pipeline: illegal transition %s -> %s for invoice %s",
			inv.Status, next, inv.ID)
	}
	inv.Status = next
	inv.UpdatedAt = p.nowFunc().UTC()
	if err := p.store.UpdateInvoice(ctx, inv); err != nil {
		return eris.Wrapf(err, "pipeline: set status %s", next)
	}
	return nil
}
