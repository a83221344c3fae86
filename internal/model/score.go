package model

import (
	"math"
	"time"

	"github.com/rotisserie/eris"
)

// WeightSet holds the configured weight for each sub-score. Weights must sum
// to 1.0 within tolerance at update time; scoring fails loudly on a bad set
// rather than silently normalizing.
type WeightSet struct {
	Credit            float64 `json:"credit" yaml:"credit" mapstructure:"credit"`
	PriceConsistency  float64 `json:"price_consistency" yaml:"price_consistency" mapstructure:"price_consistency"`
	Reliability       float64 `json:"reliability" yaml:"reliability" mapstructure:"reliability"`
	SwitchingFriction float64 `json:"switching_friction" yaml:"switching_friction" mapstructure:"switching_friction"`
	DeliverySpeed     float64 `json:"delivery_speed" yaml:"delivery_speed" mapstructure:"delivery_speed"`
}

// WeightSumTolerance is the allowed deviation of the weight sum from 1.0.
const WeightSumTolerance = 0.01

// DefaultWeights returns the factory weight set.
func DefaultWeights() WeightSet {
	return WeightSet{
		Credit:            0.30,
		PriceConsistency:  0.25,
		Reliability:       0.20,
		SwitchingFriction: 0.15,
		DeliverySpeed:     0.10,
	}
}

// Sum returns the total of all five weights.
func (w WeightSet) Sum() float64 {
	return w.Credit + w.PriceConsistency + w.Reliability + w.SwitchingFriction + w.DeliverySpeed
}

// Validate checks the sum-to-1.0 invariant.
func (w WeightSet) Validate() error {
	if math.Abs(w.Sum()-1.0) > WeightSumTolerance {
		return eris.Errorf("weights sum to %.4f, must be 1.0 ± %.2f", w.Sum(), WeightSumTolerance)
	}
	return nil
}

// WeightConfig is the versioned process-wide weight record. Readers always
// see either the old or the fully-updated set.
type WeightConfig struct {
	Version   int       `json:"version"`
	Weights   WeightSet `json:"weights"`
	UpdatedBy string    `json:"updated_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SubScores holds the five normalized components of a value score.
type SubScores struct {
	Credit            float64 `json:"credit"`
	PriceConsistency  float64 `json:"price_consistency"`
	Reliability       float64 `json:"reliability"`
	SwitchingFriction float64 `json:"switching_friction"`
	DeliverySpeed     float64 `json:"delivery_speed"`
}

// Weighted combines the sub-scores under w.
func (s SubScores) Weighted(w WeightSet) float64 {
	return s.Credit*w.Credit +
		s.PriceConsistency*w.PriceConsistency +
		s.Reliability*w.Reliability +
		s.SwitchingFriction*w.SwitchingFriction +
		s.DeliverySpeed*w.DeliverySpeed
}

// Score is one immutable value-score row for a (merchant, supplier, product)
// tuple. Recalculation inserts a new row; rows are never updated in place, so
// history records what was known and weighted when.
type Score struct {
	ID              string    `json:"id"`
	MerchantID      string    `json:"merchant_id"`
	SupplierID      string    `json:"supplier_id"`
	ProductID       string    `json:"product_id"`
	Sub             SubScores `json:"sub_scores"`
	TotalScore      float64   `json:"total_score"`
	WeightsSnapshot WeightSet `json:"weights_snapshot"`
	CalculatedAt    time.Time `json:"calculated_at"`
}
