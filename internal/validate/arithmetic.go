package validate

import (
	"fmt"
	"math"

	"github.com/kosh-hq/invoice-pipeline/internal/ocr"
)

// Tolerance is the relative deviation allowed between stated and computed
// amounts before an item or document is flagged.
const Tolerance = 0.05

// ItemCheck is the validation outcome for a single extracted line item.
type ItemCheck struct {
	Index        int      `json:"index"`
	Mismatch     bool     `json:"mismatch"`
	Issues       []string `json:"issues,omitempty"`
	QualityScore float64  `json:"quality_score"`
}

// Report is the aggregate validation outcome for an extraction.
type Report struct {
	Items            []ItemCheck `json:"items"`
	DocumentMismatch bool        `json:"document_mismatch"`
	NeedsCorrection  bool        `json:"needs_correction"`
	FlaggedItems     int         `json:"flagged_items"`
	OverallQuality   float64     `json:"overall_quality"`
	Issues           []string    `json:"issues,omitempty"`
}

// CheckItem validates one line item: arithmetic consistency plus basic
// plausibility of the extracted fields.
func CheckItem(index int, item ocr.LineItem) ItemCheck {
	check := ItemCheck{Index: index, QualityScore: 1.0}

	if len(item.Description) < 2 {
		check.Issues = append(check.Issues, "missing or too-short description")
		check.QualityScore -= 0.3
	} else if len(item.Description) > 500 {
		check.Issues = append(check.Issues, "description suspiciously long (possible OCR merge)")
		check.QualityScore -= 0.1
	}

	if item.Quantity <= 0 {
		check.Issues = append(check.Issues, fmt.Sprintf("invalid quantity: %g", item.Quantity))
		check.QualityScore -= 0.2
	}
	if item.UnitPrice <= 0 {
		check.Issues = append(check.Issues, fmt.Sprintf("invalid unit price: %g", item.UnitPrice))
		check.QualityScore -= 0.2
	}

	if item.Quantity > 0 && item.UnitPrice > 0 && item.TotalPrice > 0 {
		expected := item.Quantity * item.UnitPrice
		if math.Abs(expected-item.TotalPrice)/math.Max(expected, 1) > Tolerance {
			check.Mismatch = true
			check.Issues = append(check.Issues, fmt.Sprintf(
				"price mismatch: %g × %g = %.2f ≠ %.2f stated",
				item.Quantity, item.UnitPrice, expected, item.TotalPrice))
			check.QualityScore -= 0.15
		}
	}

	if check.QualityScore < 0 {
		check.QualityScore = 0
	}
	return check
}

// Check validates all line items against each other and against the stated
// document total. It never rejects outright: a mismatch downgrades an
// auto-accept extraction to needs-review via Route, and a classifier Reject
// is never overridden.
func Check(items []ocr.LineItem, documentTotal float64, ocrConfidence float64) Report {
	report := Report{}

	var qualitySum float64
	var itemSum float64
	for i, item := range items {
		check := CheckItem(i, item)
		report.Items = append(report.Items, check)
		if check.Mismatch || len(check.Issues) > 0 {
			report.FlaggedItems++
		}
		qualitySum += check.QualityScore
		itemSum += item.TotalPrice
	}

	if len(items) == 0 {
		report.NeedsCorrection = true
		report.Issues = append(report.Issues, "no line items extracted")
		return report
	}

	if documentTotal > 0 {
		if math.Abs(itemSum-documentTotal)/math.Max(documentTotal, 1) > Tolerance {
			report.DocumentMismatch = true
			report.Issues = append(report.Issues, fmt.Sprintf(
				"total mismatch: items sum %.2f vs document %.2f", itemSum, documentTotal))
		}
	}

	avgItemQuality := qualitySum / float64(len(items))
	report.OverallQuality = 0.4*ocrConfidence + 0.6*avgItemQuality

	report.NeedsCorrection = report.DocumentMismatch || report.FlaggedItems > 0

	// More than half the items flagged always forces correction, whatever
	// the per-item scores say.
	if report.FlaggedItems*2 > len(items) {
		report.NeedsCorrection = true
		report.Issues = append(report.Issues, fmt.Sprintf(
			"%d/%d items flagged", report.FlaggedItems, len(items)))
	}

	return report
}

// Route combines the confidence tier with the arithmetic report. A needed
// correction downgrades auto-accept to needs-review; reject is final.
func Route(tier Tier, report Report) Tier {
	if tier == Reject {
		return Reject
	}
	if report.NeedsCorrection {
		return NeedsReview
	}
	return tier
}
