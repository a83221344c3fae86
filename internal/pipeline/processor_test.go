package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kosh-hq/invoice-pipeline/internal/asset"
	"github.com/kosh-hq/invoice-pipeline/internal/catalog"
	"github.com/kosh-hq/invoice-pipeline/internal/model"
	"github.com/kosh-hq/invoice-pipeline/internal/ocr"
	"github.com/kosh-hq/invoice-pipeline/internal/queue"
	"github.com/kosh-hq/invoice-pipeline/internal/resilience"
)

type memStore struct {
	mu        sync.Mutex
	invoices  map[string]*model.Invoice
	items     map[string][]model.InvoiceItem
	suppliers map[string]*model.Supplier
	products  map[string]*model.Product

	// onReplaceItems runs before the item write, outside the lock.
	onReplaceItems func()
}

func newMemStore() *memStore {
	return &memStore{
		invoices:  make(map[string]*model.Invoice),
		items:     make(map[string][]model.InvoiceItem),
		suppliers: make(map[string]*model.Supplier),
		products:  make(map[string]*model.Product),
	}
}

func (m *memStore) GetInvoice(_ context.Context, id string) (*model.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, nil
	}
	cp := *inv
	return &cp, nil
}

func (m *memStore) UpdateInvoice(_ context.Context, inv *model.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *inv
	m.invoices[inv.ID] = &cp
	return nil
}

func (m *memStore) ReplaceInvoiceItems(_ context.Context, invoiceID string, items []model.InvoiceItem) error {
	if m.onReplaceItems != nil {
		m.onReplaceItems()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[invoiceID] = append([]model.InvoiceItem(nil), items...)
	return nil
}

func (m *memStore) ListInvoiceItems(_ context.Context, invoiceID string) ([]model.InvoiceItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.InvoiceItem(nil), m.items[invoiceID]...), nil
}

func (m *memStore) UpdateInvoiceItem(_ context.Context, item *model.InvoiceItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.items[item.InvoiceID]
	for i := range list {
		if list[i].ID == item.ID {
			list[i] = *item
			return nil
		}
	}
	return errors.New("item not found")
}

func (m *memStore) GetSupplierByName(_ context.Context, name string) (*model.Supplier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.suppliers {
		if s.Name == name {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetSupplier(_ context.Context, id string) (*model.Supplier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.suppliers[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) CreateSupplier(_ context.Context, s *model.Supplier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.suppliers[s.ID] = &cp
	return nil
}

func (m *memStore) UpdateSupplier(_ context.Context, s *model.Supplier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.suppliers[s.ID] = &cp
	return nil
}

func (m *memStore) ListSupplierProducts(_ context.Context, supplierID string) ([]model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Product
	seen := make(map[string]struct{})
	for _, inv := range m.invoices {
		if inv.SupplierID != supplierID || inv.Status != model.InvoiceCompleted {
			continue
		}
		for _, item := range m.items[inv.ID] {
			if _, dup := seen[item.ProductID]; dup || item.ProductID == "" {
				continue
			}
			seen[item.ProductID] = struct{}{}
			if p, ok := m.products[item.ProductID]; ok {
				out = append(out, *p)
			}
		}
	}
	return out, nil
}

// ProductStore for the catalog matcher.

func (m *memStore) GetProductByNormalizedName(_ context.Context, normalized string) (*model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.products {
		if p.NormalizedName == normalized {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) SearchProducts(_ context.Context, _ string, _ int) ([]model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Product
	for _, p := range m.products {
		out = append(out, *p)
	}
	return out, nil
}

func (m *memStore) CreateProduct(_ context.Context, p *model.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.products[p.ID] = &cp
	return nil
}

type fakeAssets struct {
	doc *asset.Document
	err error
}

func (f *fakeAssets) Fetch(_ context.Context, _ string) (*asset.Document, error) {
	return f.doc, f.err
}

type fakeExtractor struct {
	extraction *ocr.Extraction
	err        error
	hook       func() // runs while the OCR call is in flight
}

func (f *fakeExtractor) Extract(_ context.Context, _ []byte, _ string) (*ocr.Extraction, error) {
	if f.hook != nil {
		f.hook()
	}
	return f.extraction, f.err
}

type fakeScorer struct {
	mu     sync.Mutex
	tuples [][3]string
	err    error
}

func (f *fakeScorer) ScoreTuple(_ context.Context, merchantID, supplierID, productID string) (*model.Score, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.tuples = append(f.tuples, [3]string{merchantID, supplierID, productID})
	return &model.Score{ID: "sc", MerchantID: merchantID, SupplierID: supplierID, ProductID: productID}, nil
}

type fakeRecommender struct {
	mu       sync.Mutex
	products []string
}

func (f *fakeRecommender) GenerateForProduct(_ context.Context, _, productID, _, _ string) (*model.Recommendation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products = append(f.products, productID)
	return nil, nil
}

type env struct {
	store       *memStore
	assets      *fakeAssets
	extractor   *fakeExtractor
	scorer      *fakeScorer
	recommender *fakeRecommender
	breakers    *resilience.BreakerSet
	processor   *Processor
}

func newEnv() *env {
	store := newMemStore()
	e := &env{
		store:       store,
		assets:      &fakeAssets{doc: &asset.Document{Body: []byte("img"), ContentType: "image/png"}},
		extractor:   &fakeExtractor{},
		scorer:      &fakeScorer{},
		recommender: &fakeRecommender{},
		breakers:    resilience.NewBreakerSet(resilience.DefaultCircuitConfig()),
	}
	matcher := catalog.NewMatcher(store, nil, 0)
	e.processor = NewProcessor(store, e.assets, e.extractor, matcher,
		e.scorer, e.recommender, e.breakers, resilience.DefaultRetryPolicy())
	return e
}

func (e *env) seedInvoice(id string, status model.InvoiceStatus) *model.Invoice {
	inv := &model.Invoice{
		ID:         id,
		MerchantID: "m1",
		FileKey:    "invoices/" + id + ".png",
		Status:     status,
	}
	e.store.invoices[id] = inv
	return inv
}

func task(invoiceID string, attempt int) *model.Task {
	return &model.Task{
		ID:          "task-" + invoiceID,
		Kind:        model.TaskKindOCR,
		InvoiceID:   invoiceID,
		Attempt:     attempt,
		MaxAttempts: 4,
	}
}

func cleanExtraction() *ocr.Extraction {
	return &ocr.Extraction{
		RawText:           "INVOICE #42 ...",
		SupplierName:      "Metro Wholesale",
		InvoiceNumber:     "42",
		TotalAmount:       600,
		OverallConfidence: 0.92,
		Provider:          "vision",
		Items: []ocr.LineItem{
			{Description: "Basmati Rice 5kg", Quantity: 10, UnitPrice: 50, TotalPrice: 500},
			{Description: "Sunflower Oil 1L", Quantity: 5, UnitPrice: 20, TotalPrice: 100},
		},
	}
}

func TestProcess_AutoAcceptCompletesAndScores(t *testing.T) {
	e := newEnv()
	e.seedInvoice("inv-1", model.InvoicePending)
	e.extractor.extraction = cleanExtraction()

	require.NoError(t, e.processor.Process(context.Background(), task("inv-1", 1)))

	inv := e.store.invoices["inv-1"]
	assert.Equal(t, model.InvoiceCompleted, inv.Status)
	assert.Equal(t, "42", inv.InvoiceNumber)
	assert.InDelta(t, 0.92, inv.OCRConfidence, 1e-9)
	assert.NotEmpty(t, inv.SupplierID)
	assert.False(t, inv.VerifiedAt.IsZero())

	items := e.store.items["inv-1"]
	require.Len(t, items, 2)
	assert.NotEmpty(t, items[0].ProductID)
	assert.False(t, items[0].Flagged)

	// One supplier auto-created, unapproved.
	require.Len(t, e.store.suppliers, 1)
	for _, s := range e.store.suppliers {
		assert.Equal(t, "Metro Wholesale", s.Name)
		assert.False(t, s.Approved)
	}

	// Scored and recommended per distinct product.
	assert.Len(t, e.scorer.tuples, 2)
	assert.Len(t, e.recommender.products, 2)
}

func TestProcess_InfersSupplierCategory(t *testing.T) {
	e := newEnv()
	e.seedInvoice("inv-1", model.InvoicePending)
	e.extractor.extraction = cleanExtraction()
	e.store.products["p1"] = &model.Product{
		ID: "p1", Name: "Basmati Rice 5kg", NormalizedName: "basmati rice 5kg",
		Category: "dry goods",
	}
	e.store.products["p2"] = &model.Product{
		ID: "p2", Name: "Sunflower Oil 1L", NormalizedName: "sunflower oil 1l",
		Category: "dry goods",
	}

	require.NoError(t, e.processor.Process(context.Background(), task("inv-1", 1)))

	supplierID := e.store.invoices["inv-1"].SupplierID
	require.NotEmpty(t, supplierID)
	assert.Equal(t, "dry goods", e.store.suppliers[supplierID].Category)
}

func TestProcess_MismatchRoutesToReview(t *testing.T) {
	e := newEnv()
	e.seedInvoice("inv-1", model.InvoicePending)
	ext := cleanExtraction()
	ext.Items[0].TotalPrice = 400 // 10 × 50 ≠ 400
	e.extractor.extraction = ext

	require.NoError(t, e.processor.Process(context.Background(), task("inv-1", 1)))

	inv := e.store.invoices["inv-1"]
	assert.Equal(t, model.InvoiceNeedsReview, inv.Status)

	items := e.store.items["inv-1"]
	require.Len(t, items, 2)
	assert.True(t, items[0].Flagged)
	assert.NotEmpty(t, items[0].FlagReasons)
	assert.False(t, items[1].Flagged)

	// No scoring until a human verifies.
	assert.Empty(t, e.scorer.tuples)
}

func TestProcess_LowConfidenceRejects(t *testing.T) {
	e := newEnv()
	e.seedInvoice("inv-1", model.InvoicePending)
	ext := cleanExtraction()
	ext.OverallConfidence = 0.12
	e.extractor.extraction = ext

	require.NoError(t, e.processor.Process(context.Background(), task("inv-1", 1)))

	inv := e.store.invoices["inv-1"]
	assert.Equal(t, model.InvoiceFailed, inv.Status)
	// Raw text retained for audit, nothing else persisted.
	assert.Equal(t, "INVOICE #42 ...", inv.OCRRawText)
	assert.Empty(t, e.store.items["inv-1"])
	assert.Empty(t, e.scorer.tuples)
}

func TestProcess_CancelledInvoiceRetiresTask(t *testing.T) {
	e := newEnv()
	e.seedInvoice("inv-1", model.InvoiceCancelled)

	err := e.processor.Process(context.Background(), task("inv-1", 1))
	assert.ErrorIs(t, err, queue.ErrCancelled)
}

func TestProcess_CancelDuringOCRStopsBeforeValidation(t *testing.T) {
	e := newEnv()
	e.seedInvoice("inv-1", model.InvoicePending)
	e.extractor.extraction = cleanExtraction()
	// The merchant cancels while the OCR call is in flight. The worker's
	// context stays live; only the stored status changes.
	e.extractor.hook = func() {
		e.store.mu.Lock()
		e.store.invoices["inv-1"].Status = model.InvoiceCancelled
		e.store.mu.Unlock()
	}

	err := e.processor.Process(context.Background(), task("inv-1", 1))
	assert.ErrorIs(t, err, queue.ErrCancelled)

	// cancelled is terminal: nothing may overwrite it, and nothing
	// downstream of validation may run.
	assert.Equal(t, model.InvoiceCancelled, e.store.invoices["inv-1"].Status)
	assert.Empty(t, e.store.items["inv-1"])
	assert.Empty(t, e.scorer.tuples)
	assert.Empty(t, e.recommender.products)
}

func TestProcess_CancelDuringPersistBlocksSettlement(t *testing.T) {
	e := newEnv()
	e.seedInvoice("inv-1", model.InvoicePending)
	e.extractor.extraction = cleanExtraction()
	e.store.onReplaceItems = func() {
		e.store.mu.Lock()
		e.store.invoices["inv-1"].Status = model.InvoiceCancelled
		e.store.mu.Unlock()
	}

	err := e.processor.Process(context.Background(), task("inv-1", 1))
	assert.ErrorIs(t, err, queue.ErrCancelled)

	assert.Equal(t, model.InvoiceCancelled, e.store.invoices["inv-1"].Status)
	assert.Empty(t, e.scorer.tuples)
}

func TestProcess_AlreadySettledAcksQuietly(t *testing.T) {
	e := newEnv()
	e.seedInvoice("inv-1", model.InvoiceCompleted)
	require.NoError(t, e.processor.Process(context.Background(), task("inv-1", 2)))
	assert.Empty(t, e.scorer.tuples)
}

func TestProcess_TransientFailureRevertsToPending(t *testing.T) {
	e := newEnv()
	e.seedInvoice("inv-1", model.InvoicePending)
	e.extractor.err = resilience.NewTransientError(errors.New("ocr 503"), 503)

	err := e.processor.Process(context.Background(), task("inv-1", 1))
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, model.InvoicePending, e.store.invoices["inv-1"].Status)
}

func TestProcess_ExhaustedRetriesFailInvoice(t *testing.T) {
	e := newEnv()
	e.seedInvoice("inv-1", model.InvoicePending)
	e.extractor.err = resilience.NewTransientError(errors.New("ocr 503"), 503)

	err := e.processor.Process(context.Background(), task("inv-1", 4))
	require.Error(t, err)
	assert.Equal(t, model.InvoiceFailed, e.store.invoices["inv-1"].Status)
}

func TestProcess_PermanentFailureFailsImmediately(t *testing.T) {
	e := newEnv()
	e.seedInvoice("inv-1", model.InvoicePending)
	e.assets.doc = nil
	e.assets.err = errors.New("asset: fetch invoices/inv-1.png: status 404")

	err := e.processor.Process(context.Background(), task("inv-1", 1))
	require.Error(t, err)
	assert.Equal(t, model.InvoiceFailed, e.store.invoices["inv-1"].Status)
}

func TestProcess_OpenBreakerFailsFast(t *testing.T) {
	e := newEnv()
	e.extractor.err = resilience.NewTransientError(errors.New("ocr down"), 503)

	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		e.seedInvoice("inv-"+id, model.InvoicePending)
		_ = e.processor.Process(context.Background(), task("inv-"+id, 1))
	}
	assert.Equal(t, resilience.CircuitOpen, e.breakers.Get(BreakerOCR).State())

	// Next invoice fails fast without touching the extractor.
	e.extractor.err = errors.New("extractor must not be called")
	e.seedInvoice("inv-z", model.InvoicePending)
	err := e.processor.Process(context.Background(), task("inv-z", 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
}

func TestProcess_ReprocessingReplacesItems(t *testing.T) {
	e := newEnv()
	e.seedInvoice("inv-1", model.InvoicePending)
	ext := cleanExtraction()
	ext.Items[0].TotalPrice = 400
	e.extractor.extraction = ext

	require.NoError(t, e.processor.Process(context.Background(), task("inv-1", 1)))
	require.Len(t, e.store.items["inv-1"], 2)

	// Re-run after the claim expired: same invoice, clean extraction this
	// time. Items are replaced, not appended.
	e.store.invoices["inv-1"].Status = model.InvoicePending
	e.extractor.extraction = cleanExtraction()
	require.NoError(t, e.processor.Process(context.Background(), task("inv-1", 2)))
	assert.Len(t, e.store.items["inv-1"], 2)
}
