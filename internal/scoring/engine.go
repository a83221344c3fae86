// Package scoring computes the five normalized sub-scores and the weighted
// value score per (merchant, supplier, product) tuple. Every run inserts a
// new immutable Score row with the weight snapshot it used.
package scoring

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kosh-hq/invoice-pipeline/internal/model"
)

// deliveryDecayK calibrates the delivery-speed decay so the score is ~0.1
// at a 15-day gap (ln 10 over the 10 days past the 5-day grace window).
var deliveryDecayK = math.Log(10) / 10.0

// CreditReferenceDays is the credit-terms value that earns a full credit
// sub-score.
const CreditReferenceDays = 60.0

// History is the verified purchase history backing one scoring run. The
// store assembles it; the engine only aggregates in memory, which keeps
// scoring fast enough to skip a dedicated timeout.
type History struct {
	// UnitPrices of verified purchases of the product from the supplier.
	UnitPrices []float64
	// TotalInvoices and CorrectedInvoices from this supplier for the
	// merchant. An invoice counts as corrected when a line item needed a
	// fix beyond the arithmetic tolerance.
	TotalInvoices     int
	CorrectedInvoices int
	// DeliveryGapsDays is invoice-date → verified-at per completed invoice.
	DeliveryGapsDays []float64
	// CreditTermsDays from the supplier record.
	CreditTermsDays float64
	// AlternativeSuppliers is how many other suppliers the merchant has
	// verified purchases of this product from.
	AlternativeSuppliers int
	// LastOrderAt is the merchant's most recent order from this supplier.
	LastOrderAt time.Time
}

// HistoryStore is the persistence slice the engine needs.
type HistoryStore interface {
	LoadScoringHistory(ctx context.Context, merchantID, supplierID, productID string) (*History, error)
	GetWeightConfig(ctx context.Context) (*model.WeightConfig, error)
	InsertScore(ctx context.Context, score *model.Score) error
}

// Engine computes and persists value scores.
type Engine struct {
	store HistoryStore
	locks *tupleLocks
	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewEngine creates a scoring engine.
func NewEngine(store HistoryStore) *Engine {
	return &Engine{
		store:   store,
		locks:   newTupleLocks(),
		nowFunc: time.Now,
	}
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

// PriceConsistency is 1 − clamp(CV, 0, 1) over the verified unit prices.
// Fewer than two data points yield a neutral 0.5: one price is not a trend.
func PriceConsistency(unitPrices []float64) float64 {
	if len(unitPrices) < 2 {
		return 0.5
	}
	var sum float64
	for _, p := range unitPrices {
		sum += p
	}
	mean := sum / float64(len(unitPrices))
	if mean <= 0 {
		return 0.5
	}
	var sq float64
	for _, p := range unitPrices {
		sq += (p - mean) * (p - mean)
	}
	stddev := math.Sqrt(sq / float64(len(unitPrices)-1))
	cv := stddev / mean
	return 1 - clamp01(cv)
}

// Reliability is the fraction of invoices completed without a correction
// beyond tolerance. No history yields a neutral 0.5.
func Reliability(total, corrected int) float64 {
	if total <= 0 {
		return 0.5
	}
	if corrected > total {
		corrected = total
	}
	return 1 - float64(corrected)/float64(total)
}

// DeliverySpeed scores the mean invoice-date → verified-at gap: 1.0 up to
// 5 days, exponential decay beyond, floored at 0.
func DeliverySpeed(gapsDays []float64) float64 {
	if len(gapsDays) == 0 {
		return 0.5
	}
	var sum float64
	for _, g := range gapsDays {
		sum += g
	}
	gap := sum / float64(len(gapsDays))
	if gap <= 5 {
		return 1.0
	}
	return clamp01(math.Exp(-deliveryDecayK * (gap - 5)))
}

// Credit normalizes the supplier's credit terms against the reference
// range: 0 days scores 0, CreditReferenceDays or more scores 1.
func Credit(creditTermsDays float64) float64 {
	return clamp01(creditTermsDays / CreditReferenceDays)
}

// SwitchingFriction is an inverse entrenchment measure: more verified
// alternatives and a staler relationship with the current supplier both
// mean switching is easier, so they raise the score.
func SwitchingFriction(alternatives int, lastOrderAt, now time.Time) float64 {
	if alternatives < 0 {
		alternatives = 0
	}
	altComponent := float64(alternatives) / float64(alternatives+1)

	recencyComponent := 1.0 // never ordered: nothing holding the merchant
	if !lastOrderAt.IsZero() {
		staleDays := now.Sub(lastOrderAt).Hours() / 24
		recencyComponent = clamp01(staleDays / 90)
	}

	return clamp01(0.6*altComponent + 0.4*recencyComponent)
}

// Compute derives the sub-scores and weighted total for a history under a
// weight set. It fails loudly on a weight set that does not sum to ~1.0
// rather than silently normalizing.
func (e *Engine) Compute(h *History, weights model.WeightSet) (model.SubScores, float64, error) {
	if err := weights.Validate(); err != nil {
		return model.SubScores{}, 0, eris.Wrap(err, "scoring: refusing invalid weight set")
	}

	sub := model.SubScores{
		Credit:            Credit(h.CreditTermsDays),
		PriceConsistency:  PriceConsistency(h.UnitPrices),
		Reliability:       Reliability(h.TotalInvoices, h.CorrectedInvoices),
		SwitchingFriction: SwitchingFriction(h.AlternativeSuppliers, h.LastOrderAt, e.nowFunc()),
		DeliverySpeed:     DeliverySpeed(h.DeliveryGapsDays),
	}
	return sub, clamp01(sub.Weighted(weights)), nil
}

// ScoreTuple loads the tuple's verified history, computes the score under
// the current weight config, and inserts a new Score row. Concurrent calls
// for the same tuple are serialized so two runs cannot write duplicate rows
// for the same snapshot instant.
func (e *Engine) ScoreTuple(ctx context.Context, merchantID, supplierID, productID string) (*model.Score, error) {
	unlock := e.locks.lock(merchantID + "|" + supplierID + "|" + productID)
	defer unlock()

	history, err := e.store.LoadScoringHistory(ctx, merchantID, supplierID, productID)
	if err != nil {
		return nil, eris.Wrap(err, "scoring: load history")
	}

	cfg, err := e.store.GetWeightConfig(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "scoring: load weight config")
	}

	sub, total, err := e.Compute(history, cfg.Weights)
	if err != nil {
		return nil, err
	}

	score := &model.Score{
		ID:              uuid.New().String(),
		MerchantID:      merchantID,
		SupplierID:      supplierID,
		ProductID:       productID,
		Sub:             sub,
		TotalScore:      total,
		WeightsSnapshot: cfg.Weights,
		CalculatedAt:    e.nowFunc().UTC(),
	}
	if err := e.store.InsertScore(ctx, score); err != nil {
		return nil, eris.Wrap(err, "scoring: insert score")
	}

	zap.L().Debug("scoring: tuple scored",
		zap.String("merchant_id", merchantID),
		zap.String("supplier_id", supplierID),
		zap.String("product_id", productID),
		zap.Float64("total_score", total),
		zap.Int("weights_version", cfg.Version),
	)
	return score, nil
}
