// Package validate classifies OCR extractions into action tiers and checks
// line-item arithmetic. Validation outcomes are data, not errors: they flow
// through the pipeline as tier and flag values.
package validate

// Tier is the action tier for an OCR extraction.
type Tier string

const (
	// AutoAccept extractions proceed straight to scoring.
	AutoAccept Tier = "auto_accept"
	// NeedsReview extractions are held for human correction.
	NeedsReview Tier = "needs_review"
	// Reject extractions fail the invoice; only the raw OCR text is
	// retained for audit.
	Reject Tier = "reject"
)

const (
	// AutoAcceptThreshold is the minimum confidence for auto-acceptance.
	AutoAcceptThreshold = 0.85
	// RejectThreshold is the confidence below which an extraction is
	// rejected outright.
	RejectThreshold = 0.30
)

// ClassifyConfidence maps an overall OCR confidence in [0,1] to a tier.
// Boundary values belong to the lower tier contract: 0.85 is auto-accept,
// 0.30 is needs-review.
func ClassifyConfidence(confidence float64) Tier {
	switch {
	case confidence >= AutoAcceptThreshold:
		return AutoAccept
	case confidence >= RejectThreshold:
		return NeedsReview
	default:
		return Reject
	}
}
