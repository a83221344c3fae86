package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/kosh-hq/invoice-pipeline/internal/resilience"
)

const defaultVisionTimeout = 60 * time.Second

// VisionClient extracts invoice data via an HTTP OCR service. Timeouts and
// 5xx responses are wrapped as transient errors so the task layer retries
// them; 4xx responses are permanent.
type VisionClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewVisionClient creates a VisionClient from config.
func NewVisionClient(cfg Config) *VisionClient {
	timeout := defaultVisionTimeout
	if cfg.TimeoutSecs > 0 {
		timeout = time.Duration(cfg.TimeoutSecs) * time.Second
	}
	return &VisionClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type visionRequest struct {
	Document    string `json:"document"`
	ContentType string `json:"content_type"`
}

type visionResponse struct {
	RawText       string  `json:"raw_text"`
	SupplierName  string  `json:"supplier_name"`
	InvoiceNumber string  `json:"invoice_number"`
	TotalAmount   float64 `json:"total_amount"`
	Confidence    float64 `json:"confidence"`
	Items         []struct {
		Description      string             `json:"description"`
		Quantity         float64            `json:"quantity"`
		UnitPrice        float64            `json:"unit_price"`
		TotalPrice       float64            `json:"total_price"`
		FieldConfidences map[string]float64 `json:"field_confidences"`
	} `json:"items"`
}

// Extract sends the document to the OCR service and decodes the extraction.
func (v *VisionClient) Extract(ctx context.Context, document []byte, contentType string) (*Extraction, error) {
	reqBody := visionRequest{
		Document:    base64.StdEncoding.EncodeToString(document),
		ContentType: contentType,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, eris.Wrap(err, "ocr: marshal vision request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/v1/extract", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "ocr: create vision request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+v.apiKey)

	resp, err := v.client.Do(req)
	if err != nil {
		// Network failure or client timeout: retryable.
		return nil, resilience.NewTransientError(eris.Wrap(err, "ocr: vision API call"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "ocr: read vision response"), resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("ocr: vision API returned %d: %s", resp.StatusCode, string(respBody))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var vr visionResponse
	if err := json.Unmarshal(respBody, &vr); err != nil {
		return nil, eris.Wrap(err, "ocr: unmarshal vision response")
	}

	extraction := &Extraction{
		RawText:           vr.RawText,
		SupplierName:      vr.SupplierName,
		InvoiceNumber:     vr.InvoiceNumber,
		TotalAmount:       vr.TotalAmount,
		OverallConfidence: vr.Confidence,
		Provider:          "vision",
	}
	for _, it := range vr.Items {
		extraction.Items = append(extraction.Items, LineItem{
			Description:      it.Description,
			Quantity:         it.Quantity,
			UnitPrice:        it.UnitPrice,
			TotalPrice:       it.TotalPrice,
			FieldConfidences: it.FieldConfidences,
		})
	}
	return extraction, nil
}
