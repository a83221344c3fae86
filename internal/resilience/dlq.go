package resilience

import (
	"time"
)

// DLQEntry is a dead-lettered task held for manual inspection or replay.
// The invoice's raw artifact stays in the store; the entry retains the
// failure trace so operators can see why retries were exhausted.
type DLQEntry struct {
	ID           string    `json:"id"`
	TaskID       string    `json:"task_id"`
	TaskKind     string    `json:"task_kind"`
	InvoiceID    string    `json:"invoice_id"`
	Error        string    `json:"error"`
	ErrorType    string    `json:"error_type"` // "transient" or "permanent"
	FailedPhase  string    `json:"failed_phase,omitempty"`
	Trace        string    `json:"trace,omitempty"`
	RetryCount   int       `json:"retry_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastFailedAt time.Time `json:"last_failed_at"`
}

// DLQFilter specifies criteria for listing dead-letter entries.
type DLQFilter struct {
	ErrorType string `json:"error_type,omitempty"` // "transient", "permanent", or "" for all
	InvoiceID string `json:"invoice_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}
