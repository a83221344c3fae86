// Package recommend compares value scores across suppliers for equivalent
// products and emits savings-estimate recommendations.
package recommend

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kosh-hq/invoice-pipeline/internal/model"
)

// DefaultMinMargin is the minimum total-score advantage an alternative
// supplier needs before a recommendation is emitted.
const DefaultMinMargin = 0.05

// Store is the persistence slice the generator needs.
type Store interface {
	// ListSupplierIDsForProduct returns suppliers the merchant has verified
	// purchases of the product from.
	ListSupplierIDsForProduct(ctx context.Context, merchantID, productID string) ([]string, error)
	GetLatestScore(ctx context.Context, merchantID, supplierID, productID string) (*model.Score, error)
	AvgUnitPrice(ctx context.Context, merchantID, supplierID, productID string) (float64, error)
	// RecentQuantity is the quantity of the merchant's most recent verified
	// purchase of the product.
	RecentQuantity(ctx context.Context, merchantID, productID string) (float64, error)
	GetPendingRecommendation(ctx context.Context, merchantID, productID, recommendedSupplierID string) (*model.Recommendation, error)
	InsertRecommendation(ctx context.Context, rec *model.Recommendation) error
	UpdateRecommendation(ctx context.Context, rec *model.Recommendation) error
}

// Scorer produces a fresh Score row for a tuple. Implemented by the
// scoring engine.
type Scorer interface {
	ScoreTuple(ctx context.Context, merchantID, supplierID, productID string) (*model.Score, error)
}

// Generator builds recommendations from latest scores.
type Generator struct {
	store     Store
	scorer    Scorer
	minMargin float64
	nowFunc   func() time.Time
}

// NewGenerator creates a Generator. A zero margin uses the default.
func NewGenerator(store Store, scorer Scorer, minMargin float64) *Generator {
	if minMargin <= 0 {
		minMargin = DefaultMinMargin
	}
	return &Generator{store: store, scorer: scorer, minMargin: minMargin, nowFunc: time.Now}
}

// GenerateForProduct compares the merchant's suppliers for one product and
// upserts a recommendation when the best alternative beats the current
// supplier by the configured margin. Idempotent while pending: re-running
// with no new data refreshes the existing pending row instead of
// duplicating it.
func (g *Generator) GenerateForProduct(ctx context.Context, merchantID, productID, currentSupplierID, invoiceID string) (*model.Recommendation, error) {
	supplierIDs, err := g.store.ListSupplierIDsForProduct(ctx, merchantID, productID)
	if err != nil {
		return nil, eris.Wrap(err, "recommend: list suppliers")
	}
	if len(supplierIDs) < 2 {
		return nil, nil // nothing to compare against
	}

	var current *model.Score
	var best *model.Score
	for _, supplierID := range supplierIDs {
		score, err := g.latestOrFresh(ctx, merchantID, supplierID, productID)
		if err != nil {
			return nil, err
		}
		if supplierID == currentSupplierID {
			current = score
		} else if best == nil || score.TotalScore > best.TotalScore {
			best = score
		}
	}
	if current == nil || best == nil {
		return nil, nil
	}

	if best.TotalScore-current.TotalScore <= g.minMargin {
		return nil, nil
	}

	currentPrice, err := g.store.AvgUnitPrice(ctx, merchantID, currentSupplierID, productID)
	if err != nil {
		return nil, eris.Wrap(err, "recommend: current avg price")
	}
	recommendedPrice, err := g.store.AvgUnitPrice(ctx, merchantID, best.SupplierID, productID)
	if err != nil {
		return nil, eris.Wrap(err, "recommend: recommended avg price")
	}
	recentQty, err := g.store.RecentQuantity(ctx, merchantID, productID)
	if err != nil {
		return nil, eris.Wrap(err, "recommend: recent quantity")
	}

	savings := (currentPrice - recommendedPrice) * recentQty
	if savings < 0 {
		savings = 0
	}
	reason := buildReason(current, best)

	// Pending rows are updated in place so re-runs cannot pile up
	// duplicates for the same unresolved opportunity.
	pending, err := g.store.GetPendingRecommendation(ctx, merchantID, productID, best.SupplierID)
	if err != nil {
		return nil, eris.Wrap(err, "recommend: lookup pending")
	}
	now := g.nowFunc().UTC()
	if pending != nil {
		pending.ScoreID = best.ID
		pending.SavingsEstimate = savings
		pending.Reason = reason
		pending.UpdatedAt = now
		if err := g.store.UpdateRecommendation(ctx, pending); err != nil {
			return nil, eris.Wrap(err, "recommend: refresh pending")
		}
		return pending, nil
	}

	rec := &model.Recommendation{
		ID:                    uuid.New().String(),
		MerchantID:            merchantID,
		InvoiceID:             invoiceID,
		ProductID:             productID,
		CurrentSupplierID:     currentSupplierID,
		RecommendedSupplierID: best.SupplierID,
		ScoreID:               best.ID,
		SavingsEstimate:       savings,
		Reason:                reason,
		Status:                model.RecommendationPending,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := g.store.InsertRecommendation(ctx, rec); err != nil {
		return nil, eris.Wrap(err, "recommend: insert")
	}

	zap.L().Info("recommend: recommendation emitted",
		zap.String("merchant_id", merchantID),
		zap.String("product_id", productID),
		zap.String("recommended_supplier_id", best.SupplierID),
		zap.Float64("savings_estimate", savings),
	)
	return rec, nil
}

func (g *Generator) latestOrFresh(ctx context.Context, merchantID, supplierID, productID string) (*model.Score, error) {
	score, err := g.store.GetLatestScore(ctx, merchantID, supplierID, productID)
	if err != nil {
		return nil, eris.Wrap(err, "recommend: latest score")
	}
	if score != nil {
		return score, nil
	}
	score, err = g.scorer.ScoreTuple(ctx, merchantID, supplierID, productID)
	if err != nil {
		return nil, eris.Wrap(err, "recommend: score tuple")
	}
	return score, nil
}

// subDelta is one sub-score advantage of the recommended supplier.
type subDelta struct {
	delta  float64
	phrase string
}

// buildReason renders the dominant sub-score advantages as a human-readable
// sentence, largest contributors first.
func buildReason(current, recommended *model.Score) string {
	deltas := []subDelta{
		{recommended.Sub.PriceConsistency - current.Sub.PriceConsistency,
			fmt.Sprintf("%.0f%% lower price volatility", pct(recommended.Sub.PriceConsistency, current.Sub.PriceConsistency))},
		{recommended.Sub.DeliverySpeed - current.Sub.DeliverySpeed,
			"faster delivery"},
		{recommended.Sub.Reliability - current.Sub.Reliability,
			"fewer invoice corrections"},
		{recommended.Sub.Credit - current.Sub.Credit,
			"better credit terms"},
		{recommended.Sub.SwitchingFriction - current.Sub.SwitchingFriction,
			"low switching friction"},
	}

	sort.SliceStable(deltas, func(i, j int) bool { return deltas[i].delta > deltas[j].delta })

	var phrases []string
	for _, d := range deltas {
		if d.delta > 0.01 && len(phrases) < 2 {
			phrases = append(phrases, d.phrase)
		}
	}
	if len(phrases) == 0 {
		return fmt.Sprintf("higher overall value score (%.2f vs %.2f)",
			recommended.TotalScore, current.TotalScore)
	}
	return "recommended supplier has " + strings.Join(phrases, " and ")
}

func pct(recommended, current float64) float64 {
	if current <= 0 {
		return recommended * 100
	}
	return (recommended - current) / current * 100
}
