// Package store provides persistence for invoices, items, the product
// catalog, suppliers, scores, recommendations, and the durable task queue.
// SQLite backs single-node deployments and tests; Postgres backs production.
package store

import (
	"context"
	"time"

	"github.com/kosh-hq/invoice-pipeline/internal/model"
	"github.com/kosh-hq/invoice-pipeline/internal/resilience"
	"github.com/kosh-hq/invoice-pipeline/internal/scoring"
)

// InvoiceFilter specifies criteria for listing invoices.
type InvoiceFilter struct {
	MerchantID string              `json:"merchant_id,omitempty"`
	SupplierID string              `json:"supplier_id,omitempty"`
	Status     model.InvoiceStatus `json:"status,omitempty"`
	Limit      int                 `json:"limit,omitempty"`
	Offset     int                 `json:"offset,omitempty"`
}

// RecommendationFilter specifies criteria for listing recommendations.
type RecommendationFilter struct {
	MerchantID string                     `json:"merchant_id,omitempty"`
	Status     model.RecommendationStatus `json:"status,omitempty"`
	Limit      int                        `json:"limit,omitempty"`
}

// QualityStats summarizes extraction quality for a merchant.
type QualityStats struct {
	TotalProcessed   int     `json:"total_processed"`
	AutoAccepted     int     `json:"auto_accepted"`
	Reviewed         int     `json:"reviewed"`
	Failed           int     `json:"failed"`
	ReviewBacklog    int     `json:"review_backlog"`
	AvgOCRConfidence float64 `json:"avg_ocr_confidence"`
	CorrectionRate   float64 `json:"correction_rate"`
}

// Store is the persistence interface for the invoice pipeline. It is the
// union of the narrower per-package interfaces (pipeline.Store,
// queue.TaskStore, scoring.HistoryStore, recommend.Store,
// catalog.ProductStore), so one implementation serves them all.
type Store interface {
	// Invoices
	CreateInvoice(ctx context.Context, inv *model.Invoice) error
	GetInvoice(ctx context.Context, id string) (*model.Invoice, error)
	UpdateInvoice(ctx context.Context, inv *model.Invoice) error
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]model.Invoice, error)
	CountInvoicesByStatus(ctx context.Context) (map[model.InvoiceStatus]int, error)
	GetQualityStats(ctx context.Context, merchantID string) (*QualityStats, error)

	// Invoice items
	ReplaceInvoiceItems(ctx context.Context, invoiceID string, items []model.InvoiceItem) error
	ListInvoiceItems(ctx context.Context, invoiceID string) ([]model.InvoiceItem, error)
	UpdateInvoiceItem(ctx context.Context, item *model.InvoiceItem) error

	// Products
	GetProductByNormalizedName(ctx context.Context, normalized string) (*model.Product, error)
	SearchProducts(ctx context.Context, term string, limit int) ([]model.Product, error)
	CreateProduct(ctx context.Context, p *model.Product) error
	ListSupplierProducts(ctx context.Context, supplierID string) ([]model.Product, error)

	// Suppliers
	GetSupplier(ctx context.Context, id string) (*model.Supplier, error)
	GetSupplierByName(ctx context.Context, name string) (*model.Supplier, error)
	CreateSupplier(ctx context.Context, s *model.Supplier) error
	UpdateSupplier(ctx context.Context, s *model.Supplier) error

	// Scores and weights
	LoadScoringHistory(ctx context.Context, merchantID, supplierID, productID string) (*scoring.History, error)
	InsertScore(ctx context.Context, score *model.Score) error
	GetLatestScore(ctx context.Context, merchantID, supplierID, productID string) (*model.Score, error)
	GetWeightConfig(ctx context.Context) (*model.WeightConfig, error)
	UpdateWeightConfig(ctx context.Context, weights model.WeightSet, updatedBy string) (*model.WeightConfig, error)

	// Recommendations
	ListSupplierIDsForProduct(ctx context.Context, merchantID, productID string) ([]string, error)
	AvgUnitPrice(ctx context.Context, merchantID, supplierID, productID string) (float64, error)
	RecentQuantity(ctx context.Context, merchantID, productID string) (float64, error)
	GetPendingRecommendation(ctx context.Context, merchantID, productID, recommendedSupplierID string) (*model.Recommendation, error)
	InsertRecommendation(ctx context.Context, rec *model.Recommendation) error
	UpdateRecommendation(ctx context.Context, rec *model.Recommendation) error
	GetRecommendation(ctx context.Context, id string) (*model.Recommendation, error)
	ListRecommendations(ctx context.Context, filter RecommendationFilter) ([]model.Recommendation, error)

	// Task queue
	InsertTask(ctx context.Context, task *model.Task) error
	ClaimNextTask(ctx context.Context, now time.Time, claimTTL time.Duration) (*model.Task, error)
	UpdateTask(ctx context.Context, task *model.Task) error
	FindActiveTask(ctx context.Context, invoiceID string, kind model.TaskKind) (*model.Task, error)
	CountTasksByStatus(ctx context.Context) (map[model.TaskStatus]int, error)

	// Dead letters
	InsertDLQEntry(ctx context.Context, entry *resilience.DLQEntry) error
	ListDLQEntries(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	GetDLQEntry(ctx context.Context, id string) (*resilience.DLQEntry, error)
	DeleteDLQEntry(ctx context.Context, id string) error
	CountDLQ(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
