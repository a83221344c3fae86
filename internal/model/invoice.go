// Package model defines the core entities shared across the pipeline:
// invoices, line items, products, suppliers, scores, and recommendations.
package model

import (
	"time"
)

// InvoiceStatus is the OCR lifecycle state of an invoice.
type InvoiceStatus string

const (
	InvoicePending     InvoiceStatus = "pending"
	InvoiceProcessing  InvoiceStatus = "processing"
	InvoiceCompleted   InvoiceStatus = "completed"
	InvoiceFailed      InvoiceStatus = "failed"
	InvoiceNeedsReview InvoiceStatus = "needs_review"
	InvoiceCancelled   InvoiceStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state of the OCR
// lifecycle. needs_review is intermediate: it awaits human correction.
func (s InvoiceStatus) Terminal() bool {
	switch s {
	case InvoiceCompleted, InvoiceFailed, InvoiceCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a transition from s to next is legal.
func (s InvoiceStatus) CanTransition(next InvoiceStatus) bool {
	switch s {
	case InvoicePending:
		return next == InvoiceProcessing || next == InvoiceCancelled
	case InvoiceProcessing:
		// Processing may revert to pending for a retry.
		return next == InvoicePending || next == InvoiceCompleted ||
			next == InvoiceFailed || next == InvoiceNeedsReview || next == InvoiceCancelled
	case InvoiceNeedsReview:
		return next == InvoiceCompleted || next == InvoiceCancelled
	default:
		return false
	}
}

// Invoice is a merchant-uploaded purchase invoice.
type Invoice struct {
	ID            string        `json:"id"`
	MerchantID    string        `json:"merchant_id"`
	SupplierID    string        `json:"supplier_id,omitempty"` // empty until matched
	InvoiceNumber string        `json:"invoice_number,omitempty"`
	InvoiceDate   time.Time     `json:"invoice_date,omitempty"`
	TotalAmount   float64       `json:"total_amount,omitempty"`
	Currency      string        `json:"currency,omitempty"`
	FileKey       string        `json:"file_key"`
	Status        InvoiceStatus `json:"status"`
	OCRRawText    string        `json:"ocr_raw_text,omitempty"`
	OCRConfidence float64       `json:"ocr_confidence,omitempty"`
	OCRProvider   string        `json:"ocr_provider,omitempty"`
	ProcessedAt   time.Time     `json:"processed_at,omitempty"`
	VerifiedAt    time.Time     `json:"verified_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// InvoiceItem is one extracted line of an invoice. Items are created by OCR
// extraction, mutated by human corrections, and immutable once the invoice
// reaches completed.
type InvoiceItem struct {
	ID              string    `json:"id"`
	InvoiceID       string    `json:"invoice_id"`
	ProductID       string    `json:"product_id,omitempty"`
	RawDescription  string    `json:"raw_description"`
	Quantity        float64   `json:"quantity"`
	UnitPrice       float64   `json:"unit_price"`
	TotalPrice      float64   `json:"total_price"`
	MatchedSKU      string    `json:"matched_sku,omitempty"`
	MatchConfidence float64   `json:"match_confidence,omitempty"`
	Flagged         bool      `json:"flagged"`
	FlagReasons     []string  `json:"flag_reasons,omitempty"`
	Corrected       bool      `json:"corrected"`
	CreatedAt       time.Time `json:"created_at"`
}

// ItemCorrection is a human fix applied to a single line item during
// verification. Nil pointer fields are left untouched.
type ItemCorrection struct {
	ItemID      string   `json:"item_id"`
	Description *string  `json:"description,omitempty"`
	Quantity    *float64 `json:"quantity,omitempty"`
	UnitPrice   *float64 `json:"unit_price,omitempty"`
	TotalPrice  *float64 `json:"total_price,omitempty"`
}
