package pipeline

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kosh-hq/invoice-pipeline/internal/model"
	"github.com/kosh-hq/invoice-pipeline/internal/validate"
)

// Verifier applies human corrections to a needs-review invoice and
// completes it.
type Verifier struct {
	store       Store
	scorer      Scorer
	recommender Recommender
	nowFunc     func() time.Time
}

// NewVerifier wires the verification path.
func NewVerifier(store Store, scorer Scorer, recommender Recommender) *Verifier {
	return &Verifier{store: store, scorer: scorer, recommender: recommender, nowFunc: time.Now}
}

// Verify applies the corrections, transitions the invoice to completed, and
// triggers rescoring. Corrections reference items by ID; nil fields on a
// correction leave the stored value untouched. A corrected item that still
// fails arithmetic is rejected so a typo in the fix cannot complete the
// invoice.
func (v *Verifier) Verify(ctx context.Context, invoiceID string, corrections []model.ItemCorrection) (*model.Invoice, error) {
	inv, err := v.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load invoice for verify")
	}
	if inv == nil {
		return nil, eris.Errorf("pipeline: invoice %s not found", invoiceID)
	}
	if inv.Status != model.InvoiceNeedsReview {
		return nil, eris.Errorf("pipeline: invoice %s is %s, only needs_review can be verified",
			invoiceID, inv.Status)
	}

	items, err := v.store.ListInvoiceItems(ctx, invoiceID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load items for verify")
	}
	byID := make(map[string]*model.InvoiceItem, len(items))
	for i := range items {
		byID[items[i].ID] = &items[i]
	}

	for _, c := range corrections {
		item, ok := byID[c.ItemID]
		if !ok {
			return nil, eris.Errorf("pipeline: correction references unknown item %s", c.ItemID)
		}
		applyCorrection(item, c)
		if err := checkCorrected(item); err != nil {
			return nil, err
		}
		item.Corrected = true
		item.Flagged = false
		item.FlagReasons = nil
		if err := v.store.UpdateInvoiceItem(ctx, item); err != nil {
			return nil, eris.Wrapf(err, "pipeline: persist correction for item %s", c.ItemID)
		}
	}

	now := v.nowFunc().UTC()
	inv.Status = model.InvoiceCompleted
	inv.VerifiedAt = now
	inv.UpdatedAt = now
	if err := v.store.UpdateInvoice(ctx, inv); err != nil {
		return nil, eris.Wrap(err, "pipeline: complete verified invoice")
	}

	zap.L().Info("pipeline: invoice verified",
		zap.String("invoice_id", invoiceID),
		zap.Int("corrections", len(corrections)),
	)

	if inv.SupplierID != "" {
		RefreshSupplierCategory(ctx, v.store, inv.SupplierID, now)
	}
	Rescore(ctx, v.store, v.scorer, v.recommender, inv)
	return inv, nil
}

// CancelInvoice moves a non-terminal invoice to cancelled. In-flight work
// notices at the next phase boundary; finished phases stay persisted.
func (v *Verifier) CancelInvoice(ctx context.Context, invoiceID string) (*model.Invoice, error) {
	inv, err := v.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load invoice for cancel")
	}
	if inv == nil {
		return nil, eris.Errorf("pipeline: invoice %s not found", invoiceID)
	}
	if !inv.Status.CanTransition(model.InvoiceCancelled) {
		return nil, eris.Errorf("pipeline: invoice %s is %s and cannot be cancelled",
			invoiceID, inv.Status)
	}

	inv.Status = model.InvoiceCancelled
	inv.UpdatedAt = v.nowFunc().UTC()
	if err := v.store.UpdateInvoice(ctx, inv); err != nil {
		return nil, eris.Wrap(err, "pipeline: persist cancellation")
	}
	zap.L().Info("pipeline: invoice cancelled", zap.String("invoice_id", invoiceID))
	return inv, nil
}

func applyCorrection(item *model.InvoiceItem, c model.ItemCorrection) {
	if c.Description != nil {
		item.RawDescription = *c.Description
	}
	if c.Quantity != nil {
		item.Quantity = *c.Quantity
	}
	if c.UnitPrice != nil {
		item.UnitPrice = *c.UnitPrice
	}
	if c.TotalPrice != nil {
		item.TotalPrice = *c.TotalPrice
	}
}

func checkCorrected(item *model.InvoiceItem) error {
	if item.Quantity <= 0 || item.UnitPrice <= 0 {
		return eris.Errorf("pipeline: corrected item %s has non-positive quantity or price", item.ID)
	}
	expected := item.Quantity * item.UnitPrice
	if item.TotalPrice > 0 &&
		math.Abs(expected-item.TotalPrice)/math.Max(expected, 1) > validate.Tolerance {
		return eris.Errorf("pipeline: corrected item %s still fails arithmetic: %g × %g ≠ %g",
			item.ID, item.Quantity, item.UnitPrice, item.TotalPrice)
	}
	return nil
}

// Rescore recalculates scores and recommendations for every distinct
// product on a completed invoice. Scoring errors are logged, not
// propagated: the invoice's completion is already durable and a retry of
// the whole task would redo nothing useful.
func Rescore(ctx context.Context, store Store, scorer Scorer, recommender Recommender, inv *model.Invoice) {
	if inv.SupplierID == "" {
		return
	}
	items, err := store.ListInvoiceItems(ctx, inv.ID)
	if err != nil {
		zap.L().Error("pipeline: rescore item load failed",
			zap.String("invoice_id", inv.ID), zap.Error(err))
		return
	}

	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item.ProductID == "" {
			continue
		}
		if _, dup := seen[item.ProductID]; dup {
			continue
		}
		seen[item.ProductID] = struct{}{}

		if _, err := scorer.ScoreTuple(ctx, inv.MerchantID, inv.SupplierID, item.ProductID); err != nil {
			zap.L().Error("pipeline: scoring failed",
				zap.String("invoice_id", inv.ID),
				zap.String("product_id", item.ProductID),
				zap.Error(err),
			)
			continue
		}
		if recommender == nil {
			continue
		}
		if _, err := recommender.GenerateForProduct(ctx, inv.MerchantID, item.ProductID, inv.SupplierID, inv.ID); err != nil {
			zap.L().Error("pipeline: recommendation generation failed",
				zap.String("invoice_id", inv.ID),
				zap.String("product_id", item.ProductID),
				zap.Error(err),
			)
		}
	}
}
