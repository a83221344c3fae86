package monitoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kosh-hq/invoice-pipeline/internal/config"
)

func testMonitoringConfig() config.MonitoringConfig {
	return config.MonitoringConfig{
		FailureRateThreshold:   0.25,
		ReviewBacklogThreshold: 50,
		DLQDepthThreshold:      10,
	}
}

func TestAlerterQuietWhenHealthy(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	alerts := a.Evaluate(&MetricsSnapshot{
		InvoicesCompleted: 90,
		InvoicesFailed:    5,
		FailRate:          5.0 / 95.0,
		ReviewBacklog:     10,
		DLQDepth:          1,
		BreakerStates:     map[string]string{"ocr": "closed"},
	})
	assert.Empty(t, alerts)
}

func TestAlerterFailureRate(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	alerts := a.Evaluate(&MetricsSnapshot{
		InvoicesCompleted: 5,
		InvoicesFailed:    5,
		FailRate:          0.5,
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "50.0%")
}

func TestAlerterIgnoresSmallSample(t *testing.T) {
	// 1 failure out of 2 finished is noise, not signal.
	a := NewAlerter(testMonitoringConfig())
	alerts := a.Evaluate(&MetricsSnapshot{
		InvoicesCompleted: 1,
		InvoicesFailed:    1,
		FailRate:          0.5,
	})
	assert.Empty(t, alerts)
}

func TestAlerterBacklogAndDLQ(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	alerts := a.Evaluate(&MetricsSnapshot{
		ReviewBacklog: 51,
		DLQDepth:      11,
	})
	require.Len(t, alerts, 2)
	types := []AlertType{alerts[0].Type, alerts[1].Type}
	assert.Contains(t, types, AlertReviewBacklog)
	assert.Contains(t, types, AlertDLQDepth)
}

func TestAlerterOpenBreaker(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	alerts := a.Evaluate(&MetricsSnapshot{
		BreakerStates: map[string]string{"ocr": "open", "artifact-store": "closed"},
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertBreakerOpen, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "ocr")
}
