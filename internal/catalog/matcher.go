package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kosh-hq/invoice-pipeline/internal/model"
)

// DefaultSimilarityThreshold is the minimum similarity for reusing an
// existing product instead of lazily creating a new one.
const DefaultSimilarityThreshold = 0.85

const maxCandidates = 200

// ProductStore is the slice of the persistence layer the matcher needs.
type ProductStore interface {
	GetProductByNormalizedName(ctx context.Context, normalized string) (*model.Product, error)
	SearchProducts(ctx context.Context, term string, limit int) ([]model.Product, error)
	CreateProduct(ctx context.Context, p *model.Product) error
}

// Matcher resolves raw invoice descriptions to catalog products.
type Matcher struct {
	store       ProductStore
	categorizer *Categorizer
	threshold   float64
}

// NewMatcher creates a Matcher. A zero threshold uses the default.
func NewMatcher(store ProductStore, categorizer *Categorizer, threshold float64) *Matcher {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	if categorizer == nil {
		categorizer = NewCategorizer(nil)
	}
	return &Matcher{store: store, categorizer: categorizer, threshold: threshold}
}

// Resolve matches a raw description to an existing product, or creates one
// lazily when nothing passes the similarity threshold. Returns the product
// and the match confidence (1.0 for exact matches and fresh creations).
func (m *Matcher) Resolve(ctx context.Context, rawDescription string) (*model.Product, float64, error) {
	normalized := Normalize(rawDescription)
	if normalized == "" {
		// Garbage in: create as-is so the item still links somewhere.
		p, err := m.create(ctx, rawDescription, rawDescription)
		return p, 1.0, err
	}

	// Exact normalized match first: indexed and cheap.
	exact, err := m.store.GetProductByNormalizedName(ctx, normalized)
	if err != nil {
		return nil, 0, eris.Wrap(err, "catalog: exact lookup")
	}
	if exact != nil {
		return exact, 1.0, nil
	}

	// Narrow candidates by the leading word before the fuzzy pass; a full
	// catalog scan does not survive 10k+ products.
	term := strings.SplitN(normalized, " ", 2)[0]
	candidates, err := m.store.SearchProducts(ctx, term, maxCandidates)
	if err != nil {
		return nil, 0, eris.Wrap(err, "catalog: candidate search")
	}

	var best *model.Product
	bestScore := 0.0
	for i := range candidates {
		score := Similarity(normalized, candidates[i].NormalizedName)
		if score > bestScore {
			bestScore = score
			best = &candidates[i]
		}
	}

	if best != nil && bestScore >= m.threshold {
		return best, bestScore, nil
	}

	p, err := m.create(ctx, rawDescription, normalized)
	if err != nil {
		return nil, 0, err
	}
	zap.L().Debug("catalog: created product",
		zap.String("product_id", p.ID),
		zap.String("normalized", normalized),
		zap.Float64("best_candidate_score", bestScore),
	)
	return p, 1.0, nil
}

func (m *Matcher) create(ctx context.Context, rawName, normalized string) (*model.Product, error) {
	now := time.Now().UTC()
	p := &model.Product{
		ID:             uuid.New().String(),
		SKUCode:        skuCode(normalized),
		Name:           rawName,
		NormalizedName: normalized,
		Category:       m.categorizer.Categorize(rawName),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.store.CreateProduct(ctx, p); err != nil {
		return nil, eris.Wrap(err, "catalog: create product")
	}
	return p, nil
}

// skuCode derives a stable human-scannable code from the normalized name.
func skuCode(normalized string) string {
	words := strings.Fields(normalized)
	var parts []string
	for _, w := range words {
		if len(w) > 4 {
			w = w[:4]
		}
		parts = append(parts, strings.ToUpper(w))
		if len(parts) == 3 {
			break
		}
	}
	if len(parts) == 0 {
		parts = []string{"SKU"}
	}
	return fmt.Sprintf("%s-%s", strings.Join(parts, "-"), uuid.New().String()[:8])
}
