package ocr

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kosh-hq/invoice-pipeline/internal/resilience"
)

func newTestClient(handler http.HandlerFunc) (*VisionClient, *httptest.Server) {
	srv := httptest.NewServer(handler)
	client := NewVisionClient(Config{BaseURL: srv.URL, APIKey: "test-key"})
	return client, srv
}

func TestVisionClient_Extract(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/extract", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"raw_text": "INVOICE #42",
			"supplier_name": "Sharma Distributors",
			"invoice_number": "42",
			"total_amount": 600,
			"confidence": 0.92,
			"items": [
				{"description": "Rice 5kg", "quantity": 10, "unit_price": 50, "total_price": 500},
				{"description": "Salt 1kg", "quantity": 5, "unit_price": 20, "total_price": 100}
			]
		}`))
	})
	defer srv.Close()

	extraction, err := client.Extract(context.Background(), []byte("fake-pdf"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "vision", extraction.Provider)
	assert.Equal(t, "Sharma Distributors", extraction.SupplierName)
	assert.InDelta(t, 0.92, extraction.OverallConfidence, 1e-9)
	require.Len(t, extraction.Items, 2)
	assert.InDelta(t, 500.0, extraction.Items[0].TotalPrice, 1e-9)
}

func TestVisionClient_Extract_TransientOn503(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	})
	defer srv.Close()

	_, err := client.Extract(context.Background(), []byte("x"), "image/jpeg")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestVisionClient_Extract_PermanentOn400(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad document", http.StatusBadRequest)
	})
	defer srv.Close()

	_, err := client.Extract(context.Background(), []byte("x"), "image/jpeg")
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
}

func TestNewExtractor_RequiresKey(t *testing.T) {
	_, err := NewExtractor(Config{Provider: "vision"})
	require.Error(t, err)

	_, err = NewExtractor(Config{Provider: "nope", APIKey: "k"})
	require.Error(t, err)

	ext, err := NewExtractor(Config{APIKey: "k"})
	require.NoError(t, err)
	assert.NotNil(t, ext)
}
