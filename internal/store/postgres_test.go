package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kosh-hq/invoice-pipeline/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetInvoice_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM invoices WHERE id = \$1`).
		WithArgs("inv-404").
		WillReturnError(pgx.ErrNoRows)

	inv, err := s.GetInvoice(context.Background(), "inv-404")
	require.NoError(t, err)
	assert.Nil(t, inv)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetInvoice_ScansNullables(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .+ FROM invoices WHERE id = \$1`).
		WithArgs("inv-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "merchant_id", "supplier_id", "invoice_number", "invoice_date",
			"total_amount", "currency", "file_key", "status", "ocr_raw_text",
			"ocr_confidence", "ocr_provider", "processed_at", "verified_at",
			"created_at", "updated_at",
		}).AddRow(
			"inv-1", "m1", nil, nil, nil,
			0.0, nil, "invoices/inv-1.pdf", "pending", nil,
			0.0, nil, nil, nil,
			now, now,
		))

	inv, err := s.GetInvoice(context.Background(), "inv-1")
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.Equal(t, model.InvoicePending, inv.Status)
	assert.Empty(t, inv.SupplierID)
	assert.True(t, inv.ProcessedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateInvoice_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE invoices SET`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	inv := &model.Invoice{ID: "ghost", MerchantID: "m1", FileKey: "k", Status: model.InvoicePending}
	err := s.UpdateInvoice(context.Background(), inv)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invoice not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceInvoiceItems_DeleteThenCopy(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM invoice_items WHERE invoice_id = \$1`).
		WithArgs("inv-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"invoice_items"}, itemColumnList).WillReturnResult(2)
	mock.ExpectCommit()

	err := s.ReplaceInvoiceItems(context.Background(), "inv-1", []model.InvoiceItem{
		{ID: "item-1", InvoiceID: "inv-1", RawDescription: "Rice",
			Quantity: 10, UnitPrice: 50, TotalPrice: 500, CreatedAt: now},
		{ID: "item-2", InvoiceID: "inv-1", RawDescription: "Oil",
			Quantity: 5, UnitPrice: 20, TotalPrice: 100,
			Flagged: true, FlagReasons: []string{"price mismatch"}, CreatedAt: now},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimNextTask_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`UPDATE tasks SET status = 'claimed'`).
		WithArgs(now, now.Add(-10*time.Minute)).
		WillReturnError(pgx.ErrNoRows)

	task, err := s.ClaimNextTask(context.Background(), now, 10*time.Minute)
	require.NoError(t, err)
	assert.Nil(t, task)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimNextTask_ReturnsClaimedRow(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`UPDATE tasks SET status = 'claimed'`).
		WithArgs(now, now.Add(-10*time.Minute)).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "kind", "invoice_id", "status", "attempt", "max_attempts",
			"next_eligible_at", "claimed_at", "last_error", "created_at", "updated_at",
		}).AddRow(
			"task-1", "ocr", "inv-1", "claimed", 0, 4,
			now, &now, nil, now, now,
		))

	task, err := s.ClaimNextTask(context.Background(), now, 10*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, model.TaskClaimed, task.Status)
	assert.Equal(t, "inv-1", task.InvoiceID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetWeightConfig_DefaultsWhenEmpty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT version, weights, updated_by, updated_at FROM weight_config`).
		WillReturnError(pgx.ErrNoRows)

	cfg, err := s.GetWeightConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Version)
	assert.InDelta(t, 1.0, cfg.Weights.Sum(), 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetLatestScore_UnmarshalsJSON(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT .+ FROM scores`).
		WithArgs("m1", "sup-1", "prod-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "merchant_id", "supplier_id", "product_id", "sub_scores",
			"total_score", "weights_snapshot", "calculated_at",
		}).AddRow(
			"sc-1", "m1", "sup-1", "prod-1", []byte(`{"credit":0.8}`),
			0.72, []byte(`{"credit":0.3,"price_consistency":0.25,"reliability":0.2,"switching_friction":0.15,"delivery_speed":0.1}`),
			now,
		))

	sc, err := s.GetLatestScore(context.Background(), "m1", "sup-1", "prod-1")
	require.NoError(t, err)
	require.NotNil(t, sc)
	assert.InDelta(t, 0.8, sc.Sub.Credit, 1e-9)
	assert.InDelta(t, 0.30, sc.WeightsSnapshot.Credit, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetPendingRecommendation_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM recommendations`).
		WithArgs("m1", "prod-1", "sup-b").
		WillReturnError(pgx.ErrNoRows)

	rec, err := s.GetPendingRecommendation(context.Background(), "m1", "prod-1", "sup-b")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}
