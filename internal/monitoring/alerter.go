package monitoring

import (
	"fmt"
	"time"

	"github.com/kosh-hq/invoice-pipeline/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFailureRate   AlertType = "failure_rate"
	AlertReviewBacklog AlertType = "review_backlog"
	AlertDLQDepth      AlertType = "dlq_depth"
	AlertBreakerOpen   AlertType = "breaker_open"
)

// Alert represents a single threshold breach.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds.
// Delivery is the operator's concern; breaches surface through the checker's
// structured log stream and the metrics endpoint.
type Alerter struct {
	cfg config.MonitoringConfig
}

// NewAlerter creates an Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{cfg: cfg}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.InvoicesCompleted + snap.InvoicesFailed
	if finished >= 5 && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Invoice failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100,
				snap.InvoicesFailed, finished,
			),
			Details: map[string]any{
				"fail_rate": snap.FailRate,
				"threshold": a.cfg.FailureRateThreshold,
				"failed":    snap.InvoicesFailed,
				"finished":  finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.ReviewBacklogThreshold > 0 && snap.ReviewBacklog > a.cfg.ReviewBacklogThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertReviewBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d invoices awaiting review exceeds threshold %d",
				snap.ReviewBacklog, a.cfg.ReviewBacklogThreshold,
			),
			Details: map[string]any{
				"backlog":   snap.ReviewBacklog,
				"threshold": a.cfg.ReviewBacklogThreshold,
			},
			Timestamp: now,
		})
	}

	if a.cfg.DLQDepthThreshold > 0 && snap.DLQDepth > a.cfg.DLQDepthThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertDLQDepth,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d dead-lettered tasks exceeds threshold %d",
				snap.DLQDepth, a.cfg.DLQDepthThreshold,
			),
			Details: map[string]any{
				"depth":     snap.DLQDepth,
				"threshold": a.cfg.DLQDepthThreshold,
			},
			Timestamp: now,
		})
	}

	for name, state := range snap.BreakerStates {
		if state != "open" {
			continue
		}
		alerts = append(alerts, Alert{
			Type:     AlertBreakerOpen,
			Severity: "high",
			Message:  fmt.Sprintf("Circuit breaker for %s is open", name),
			Details: map[string]any{
				"dependency": name,
			},
			Timestamp: now,
		})
	}

	return alerts
}
