package monitoring

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kosh-hq/invoice-pipeline/internal/model"
	"github.com/kosh-hq/invoice-pipeline/internal/resilience"
)

type fakeStatsStore struct {
	invoices map[model.InvoiceStatus]int
	tasks    map[model.TaskStatus]int
	dlq      int
}

func (f *fakeStatsStore) CountInvoicesByStatus(context.Context) (map[model.InvoiceStatus]int, error) {
	return f.invoices, nil
}

func (f *fakeStatsStore) CountTasksByStatus(context.Context) (map[model.TaskStatus]int, error) {
	return f.tasks, nil
}

func (f *fakeStatsStore) CountDLQ(context.Context) (int, error) {
	return f.dlq, nil
}

func TestCollectorSnapshot(t *testing.T) {
	store := &fakeStatsStore{
		invoices: map[model.InvoiceStatus]int{
			model.InvoicePending:     3,
			model.InvoiceCompleted:   8,
			model.InvoiceFailed:      2,
			model.InvoiceNeedsReview: 5,
		},
		tasks: map[model.TaskStatus]int{
			model.TaskQueued:  4,
			model.TaskClaimed: 1,
			model.TaskDead:    2,
		},
		dlq: 2,
	}
	breakers := resilience.NewBreakerSet(resilience.DefaultCircuitConfig())
	breakers.Get("ocr")

	c := NewCollector(store, breakers)
	snap, err := c.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, snap.InvoicesPending)
	assert.Equal(t, 8, snap.InvoicesCompleted)
	assert.Equal(t, 2, snap.InvoicesFailed)
	assert.Equal(t, 5, snap.ReviewBacklog)
	assert.InDelta(t, 0.2, snap.FailRate, 1e-9)
	assert.Equal(t, 4, snap.TasksQueued)
	assert.Equal(t, 2, snap.TasksDead)
	assert.Equal(t, 2, snap.DLQDepth)
	assert.Equal(t, "closed", snap.BreakerStates["ocr"])
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollectorNoFinishedInvoices(t *testing.T) {
	store := &fakeStatsStore{
		invoices: map[model.InvoiceStatus]int{model.InvoicePending: 2},
		tasks:    map[model.TaskStatus]int{},
	}
	c := NewCollector(store, nil)
	snap, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Zero(t, snap.FailRate)
	assert.Nil(t, snap.BreakerStates)
}
