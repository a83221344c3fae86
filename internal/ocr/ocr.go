// Package ocr defines the OCR provider boundary. The engine itself is a
// black box: bytes in, structured extraction out. Timeouts and provider
// unavailability surface as transient errors feeding the retry policy.
package ocr

import (
	"context"

	"github.com/rotisserie/eris"
)

// LineItem is one row extracted from an invoice document.
type LineItem struct {
	Description      string             `json:"description"`
	Quantity         float64            `json:"quantity"`
	UnitPrice        float64            `json:"unit_price"`
	TotalPrice       float64            `json:"total_price"`
	FieldConfidences map[string]float64 `json:"field_confidences,omitempty"`
}

// Extraction is the structured output of one OCR run.
type Extraction struct {
	RawText           string     `json:"raw_text"`
	SupplierName      string     `json:"supplier_name,omitempty"`
	InvoiceNumber     string     `json:"invoice_number,omitempty"`
	TotalAmount       float64    `json:"total_amount,omitempty"`
	Items             []LineItem `json:"items"`
	OverallConfidence float64    `json:"overall_confidence"`
	Provider          string     `json:"provider"`
}

// Extractor extracts structured invoice data from a document.
type Extractor interface {
	Extract(ctx context.Context, document []byte, contentType string) (*Extraction, error)
}

// Config selects and configures an OCR provider.
type Config struct {
	Provider    string `yaml:"provider" mapstructure:"provider"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	APIKey      string `yaml:"api_key" mapstructure:"api_key"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// NewExtractor creates an Extractor based on config.
func NewExtractor(cfg Config) (Extractor, error) {
	switch cfg.Provider {
	case "vision", "":
		if cfg.APIKey == "" {
			return nil, eris.New("ocr: vision provider requires api_key")
		}
		return NewVisionClient(cfg), nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}
