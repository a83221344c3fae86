package model

import "time"

// Supplier is a vendor a merchant buys from. Suppliers are auto-created
// (unapproved) when OCR surfaces a name with no match.
type Supplier struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Category        string    `json:"category,omitempty"`
	CreditTermsDays float64   `json:"credit_terms_days"`
	AvgDeliveryDays float64   `json:"avg_delivery_days,omitempty"`
	Approved        bool      `json:"approved"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Product is a normalized SKU catalog entry, created lazily when no
// existing entry passes the similarity threshold.
type Product struct {
	ID             string    `json:"id"`
	SKUCode        string    `json:"sku_code,omitempty"`
	Name           string    `json:"name"`
	NormalizedName string    `json:"normalized_name"`
	Category       string    `json:"category"`
	Unit           string    `json:"unit,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
