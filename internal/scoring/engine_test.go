package scoring

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kosh-hq/invoice-pipeline/internal/model"
)

func TestPriceConsistency(t *testing.T) {
	// Fewer than 2 points: neutral.
	assert.InDelta(t, 0.5, PriceConsistency(nil), 1e-9)
	assert.InDelta(t, 0.5, PriceConsistency([]float64{50}), 1e-9)

	// Identical prices: perfect consistency.
	assert.InDelta(t, 1.0, PriceConsistency([]float64{50, 50, 50}), 1e-9)

	// Wild swings with CV > 1 must clamp to 0, not go negative.
	assert.InDelta(t, 0.0, PriceConsistency([]float64{1, 1, 1, 500}), 1e-9)

	// Mild variation lands in between.
	mid := PriceConsistency([]float64{48, 50, 52})
	assert.Greater(t, mid, 0.9)
	assert.Less(t, mid, 1.0)
}

func TestReliability(t *testing.T) {
	assert.InDelta(t, 0.5, Reliability(0, 0), 1e-9)
	assert.InDelta(t, 1.0, Reliability(10, 0), 1e-9)
	assert.InDelta(t, 0.8, Reliability(10, 2), 1e-9)
	assert.InDelta(t, 0.0, Reliability(5, 5), 1e-9)
	// Corrected can never exceed total.
	assert.InDelta(t, 0.0, Reliability(5, 9), 1e-9)
}

func TestDeliverySpeed(t *testing.T) {
	assert.InDelta(t, 0.5, DeliverySpeed(nil), 1e-9)
	assert.InDelta(t, 1.0, DeliverySpeed([]float64{1, 3, 5}), 1e-9)
	// Calibration point: ~0.1 at a 15-day gap.
	assert.InDelta(t, 0.1, DeliverySpeed([]float64{15}), 0.005)
	// Very long gaps floor near zero but never below.
	assert.GreaterOrEqual(t, DeliverySpeed([]float64{400}), 0.0)
	assert.Less(t, DeliverySpeed([]float64{400}), 0.001)
}

func TestCredit(t *testing.T) {
	assert.InDelta(t, 0.0, Credit(0), 1e-9)
	assert.InDelta(t, 0.5, Credit(30), 1e-9)
	assert.InDelta(t, 1.0, Credit(60), 1e-9)
	assert.InDelta(t, 1.0, Credit(120), 1e-9) // capped
	assert.InDelta(t, 0.0, Credit(-10), 1e-9)
}

func TestSwitchingFriction(t *testing.T) {
	now := time.Now()

	// Entrenched: no alternatives, ordered yesterday.
	low := SwitchingFriction(0, now.Add(-24*time.Hour), now)
	assert.Less(t, low, 0.1)

	// Free: several alternatives, last order months ago.
	high := SwitchingFriction(3, now.Add(-120*24*time.Hour), now)
	assert.Greater(t, high, 0.8)

	// Never ordered from the supplier at all.
	assert.InDelta(t, 0.4, SwitchingFriction(0, time.Time{}, now), 1e-9)

	for _, alt := range []int{-1, 0, 1, 10} {
		s := SwitchingFriction(alt, now, now)
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	}
}

type fakeHistoryStore struct {
	mu      sync.Mutex
	history *History
	weights model.WeightConfig
	scores  []*model.Score
}

func (f *fakeHistoryStore) LoadScoringHistory(_ context.Context, _, _, _ string) (*History, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history, nil
}

func (f *fakeHistoryStore) GetWeightConfig(_ context.Context) (*model.WeightConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg := f.weights
	return &cfg, nil
}

func (f *fakeHistoryStore) InsertScore(_ context.Context, s *model.Score) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores = append(f.scores, s)
	return nil
}

func testHistory() *History {
	return &History{
		UnitPrices:           []float64{50, 51, 49},
		TotalInvoices:        10,
		CorrectedInvoices:    1,
		DeliveryGapsDays:     []float64{2, 4},
		CreditTermsDays:      30,
		AlternativeSuppliers: 2,
		LastOrderAt:          time.Now().Add(-10 * 24 * time.Hour),
	}
}

func TestEngine_Compute_RejectsBadWeights(t *testing.T) {
	e := NewEngine(&fakeHistoryStore{})
	bad := model.WeightSet{Credit: 0.5, PriceConsistency: 0.5, Reliability: 0.5}
	_, _, err := e.Compute(testHistory(), bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid weight set")
}

func TestEngine_Compute_BoundedOutputs(t *testing.T) {
	e := NewEngine(&fakeHistoryStore{})
	extreme := &History{
		UnitPrices:           []float64{0.01, 10000, 3, 99999},
		TotalInvoices:        1,
		CorrectedInvoices:    99,
		DeliveryGapsDays:     []float64{500},
		CreditTermsDays:      100000,
		AlternativeSuppliers: 1000,
	}
	sub, total, err := e.Compute(extreme, model.DefaultWeights())
	require.NoError(t, err)
	for _, v := range []float64{sub.Credit, sub.PriceConsistency, sub.Reliability, sub.SwitchingFriction, sub.DeliverySpeed, total} {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}

func TestEngine_ScoreTuple_InsertsImmutableRows(t *testing.T) {
	store := &fakeHistoryStore{
		history: testHistory(),
		weights: model.WeightConfig{Version: 3, Weights: model.DefaultWeights()},
	}
	e := NewEngine(store)

	s1, err := e.ScoreTuple(context.Background(), "m1", "s1", "p1")
	require.NoError(t, err)
	s2, err := e.ScoreTuple(context.Background(), "m1", "s1", "p1")
	require.NoError(t, err)

	// Identical history + weights: same numbers, distinct rows.
	assert.NotEqual(t, s1.ID, s2.ID)
	assert.Equal(t, s1.Sub, s2.Sub)
	assert.InDelta(t, s1.TotalScore, s2.TotalScore, 1e-9)
	assert.Equal(t, s1.WeightsSnapshot, s2.WeightsSnapshot)
	assert.Len(t, store.scores, 2)
}

func TestEngine_ScoreTuple_SerializesPerTuple(t *testing.T) {
	store := &fakeHistoryStore{
		history: testHistory(),
		weights: model.WeightConfig{Version: 1, Weights: model.DefaultWeights()},
	}
	e := NewEngine(store)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.ScoreTuple(context.Background(), "m1", "s1", "p1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Len(t, store.scores, 16)
}
