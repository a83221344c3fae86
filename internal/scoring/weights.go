package scoring

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kosh-hq/invoice-pipeline/internal/model"
)

// WeightStore is the persistence slice for the versioned weight config.
type WeightStore interface {
	GetWeightConfig(ctx context.Context) (*model.WeightConfig, error)
	UpdateWeightConfig(ctx context.Context, weights model.WeightSet, updatedBy string) (*model.WeightConfig, error)
}

// UpdateWeights validates and commits a new weight set. Validation happens
// here, synchronously, so a bad set is rejected before anything is written
// and the existing config stays active. Scores computed earlier keep their
// snapshots; nothing is recomputed.
func UpdateWeights(ctx context.Context, store WeightStore, weights model.WeightSet, updatedBy string) (*model.WeightConfig, error) {
	if err := weights.Validate(); err != nil {
		return nil, eris.Wrap(err, "scoring: weight update rejected")
	}

	cfg, err := store.UpdateWeightConfig(ctx, weights, updatedBy)
	if err != nil {
		return nil, eris.Wrap(err, "scoring: commit weight config")
	}

	zap.L().Info("scoring: weights updated",
		zap.Int("version", cfg.Version),
		zap.String("updated_by", updatedBy),
		zap.Float64("sum", weights.Sum()),
	)
	return cfg, nil
}
