package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeightSet_Validate_Default(t *testing.T) {
	require.NoError(t, DefaultWeights().Validate())
}

func TestWeightSet_Validate_WithinTolerance(t *testing.T) {
	w := WeightSet{Credit: 0.303, PriceConsistency: 0.25, Reliability: 0.20, SwitchingFriction: 0.15, DeliverySpeed: 0.10}
	assert.InDelta(t, 1.003, w.Sum(), 1e-9)
	assert.NoError(t, w.Validate())
}

func TestWeightSet_Validate_Rejected(t *testing.T) {
	w := WeightSet{Credit: 0.32, PriceConsistency: 0.25, Reliability: 0.20, SwitchingFriction: 0.15, DeliverySpeed: 0.10}
	err := w.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum")
}

func TestSubScores_Weighted(t *testing.T) {
	s := SubScores{Credit: 1, PriceConsistency: 1, Reliability: 1, SwitchingFriction: 1, DeliverySpeed: 1}
	assert.InDelta(t, 1.0, s.Weighted(DefaultWeights()), 1e-9)

	s = SubScores{Credit: 0.5}
	assert.InDelta(t, 0.15, s.Weighted(DefaultWeights()), 1e-9)
}

func TestInvoiceStatus_Transitions(t *testing.T) {
	assert.True(t, InvoicePending.CanTransition(InvoiceProcessing))
	assert.True(t, InvoiceProcessing.CanTransition(InvoicePending)) // retry
	assert.True(t, InvoiceProcessing.CanTransition(InvoiceNeedsReview))
	assert.True(t, InvoiceNeedsReview.CanTransition(InvoiceCompleted))
	assert.True(t, InvoiceNeedsReview.CanTransition(InvoiceCancelled))

	assert.False(t, InvoiceCompleted.CanTransition(InvoiceProcessing))
	assert.False(t, InvoiceFailed.CanTransition(InvoicePending))
	assert.False(t, InvoicePending.CanTransition(InvoiceCompleted))
}

func TestInvoiceStatus_Terminal(t *testing.T) {
	assert.True(t, InvoiceCompleted.Terminal())
	assert.True(t, InvoiceFailed.Terminal())
	assert.True(t, InvoiceCancelled.Terminal())
	assert.False(t, InvoiceNeedsReview.Terminal())
	assert.False(t, InvoiceProcessing.Terminal())
}
