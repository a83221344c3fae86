package model

import "time"

// RecommendationStatus tracks merchant action on a recommendation.
type RecommendationStatus string

const (
	RecommendationPending  RecommendationStatus = "pending"
	RecommendationAccepted RecommendationStatus = "accepted"
	RecommendationRejected RecommendationStatus = "rejected"
	RecommendationExpired  RecommendationStatus = "expired"
)

// Recommendation proposes switching a product to a better-scoring supplier.
// At most one pending row exists per (merchant, product, recommended
// supplier); regeneration updates the pending row instead of duplicating it.
type Recommendation struct {
	ID                    string               `json:"id"`
	MerchantID            string               `json:"merchant_id"`
	InvoiceID             string               `json:"invoice_id,omitempty"`
	ProductID             string               `json:"product_id"`
	CurrentSupplierID     string               `json:"current_supplier_id"`
	RecommendedSupplierID string               `json:"recommended_supplier_id"`
	ScoreID               string               `json:"score_id"`
	SavingsEstimate       float64              `json:"savings_estimate"`
	Reason                string               `json:"reason"`
	Status                RecommendationStatus `json:"status"`
	CreatedAt             time.Time            `json:"created_at"`
	UpdatedAt             time.Time            `json:"updated_at"`
}
