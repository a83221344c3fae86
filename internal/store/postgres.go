package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/kosh-hq/invoice-pipeline/internal/db"
	"github.com/kosh-hq/invoice-pipeline/internal/model"
	"github.com/kosh-hq/invoice-pipeline/internal/resilience"
	"github.com/kosh-hq/invoice-pipeline/internal/scoring"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot pipeline operations.
var preparedStatements = map[string]string{
	"get_invoice":    `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`,
	"list_items":     `SELECT ` + itemColumns + ` FROM invoice_items WHERE invoice_id = $1 ORDER BY created_at, id`,
	"get_latest_score": `SELECT id, merchant_id, supplier_id, product_id, sub_scores, total_score,
		weights_snapshot, calculated_at FROM scores
		WHERE merchant_id = $1 AND supplier_id = $2 AND product_id = $3
		ORDER BY calculated_at DESC LIMIT 1`,
	"find_active_task": `SELECT ` + taskColumns + ` FROM tasks
		WHERE invoice_id = $1 AND kind = $2 AND status IN ('queued', 'claimed')
		ORDER BY created_at DESC LIMIT 1`,
	"claim_next_task": `UPDATE tasks SET status = 'claimed', claimed_at = $1, updated_at = $1
		WHERE id = (
			SELECT id FROM tasks
			WHERE (status = 'queued' AND next_eligible_at <= $1)
			   OR (status = 'claimed' AND claimed_at <= $2)
			ORDER BY created_at LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + taskColumns,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Tests hand a pgxmock pool in.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS invoices (
	id             TEXT PRIMARY KEY,
	merchant_id    TEXT NOT NULL,
	supplier_id    TEXT,
	invoice_number TEXT,
	invoice_date   TIMESTAMPTZ,
	total_amount   DOUBLE PRECISION NOT NULL DEFAULT 0,
	currency       TEXT,
	file_key       TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	ocr_raw_text   TEXT,
	ocr_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	ocr_provider   TEXT,
	processed_at   TIMESTAMPTZ,
	verified_at    TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS invoice_items (
	id               TEXT PRIMARY KEY,
	invoice_id       TEXT NOT NULL REFERENCES invoices(id),
	product_id       TEXT,
	raw_description  TEXT NOT NULL,
	quantity         DOUBLE PRECISION NOT NULL DEFAULT 0,
	unit_price       DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_price      DOUBLE PRECISION NOT NULL DEFAULT 0,
	matched_sku      TEXT,
	match_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	flagged          BOOLEAN NOT NULL DEFAULT false,
	flag_reasons     JSONB,
	corrected        BOOLEAN NOT NULL DEFAULT false,
	created_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS products (
	id              TEXT PRIMARY KEY,
	sku_code        TEXT,
	name            TEXT NOT NULL,
	normalized_name TEXT NOT NULL UNIQUE,
	category        TEXT NOT NULL DEFAULT 'uncategorized',
	unit            TEXT,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS suppliers (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	category          TEXT,
	credit_terms_days DOUBLE PRECISION NOT NULL DEFAULT 0,
	avg_delivery_days DOUBLE PRECISION NOT NULL DEFAULT 0,
	approved          BOOLEAN NOT NULL DEFAULT false,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS scores (
	id               TEXT PRIMARY KEY,
	merchant_id      TEXT NOT NULL,
	supplier_id      TEXT NOT NULL,
	product_id       TEXT NOT NULL,
	sub_scores       JSONB NOT NULL,
	total_score      DOUBLE PRECISION NOT NULL,
	weights_snapshot JSONB NOT NULL,
	calculated_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS weight_config (
	version    INTEGER PRIMARY KEY,
	weights    JSONB NOT NULL,
	updated_by TEXT,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS recommendations (
	id                      TEXT PRIMARY KEY,
	merchant_id             TEXT NOT NULL,
	invoice_id              TEXT,
	product_id              TEXT NOT NULL,
	current_supplier_id     TEXT NOT NULL,
	recommended_supplier_id TEXT NOT NULL,
	score_id                TEXT,
	savings_estimate        DOUBLE PRECISION NOT NULL DEFAULT 0,
	reason                  TEXT,
	status                  TEXT NOT NULL DEFAULT 'pending',
	created_at              TIMESTAMPTZ NOT NULL,
	updated_at              TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id               TEXT PRIMARY KEY,
	kind             TEXT NOT NULL,
	invoice_id       TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'queued',
	attempt          INTEGER NOT NULL DEFAULT 0,
	max_attempts     INTEGER NOT NULL DEFAULT 4,
	next_eligible_at TIMESTAMPTZ NOT NULL,
	claimed_at       TIMESTAMPTZ,
	last_error       TEXT,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	task_id        TEXT NOT NULL,
	task_kind      TEXT NOT NULL,
	invoice_id     TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	failed_phase   TEXT,
	trace          TEXT,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL,
	last_failed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_invoices_merchant_status ON invoices(merchant_id, status);
CREATE INDEX IF NOT EXISTS idx_invoices_supplier ON invoices(supplier_id);
CREATE INDEX IF NOT EXISTS idx_invoice_items_invoice ON invoice_items(invoice_id);
CREATE INDEX IF NOT EXISTS idx_invoice_items_product ON invoice_items(product_id);
CREATE INDEX IF NOT EXISTS idx_scores_tuple ON scores(merchant_id, supplier_id, product_id, calculated_at DESC);
CREATE INDEX IF NOT EXISTS idx_recommendations_pending ON recommendations(merchant_id, product_id, status);
CREATE INDEX IF NOT EXISTS idx_tasks_claim ON tasks(status, next_eligible_at);
CREATE INDEX IF NOT EXISTS idx_tasks_invoice ON tasks(invoice_id);
CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Invoices

func (s *PostgresStore) CreateInvoice(ctx context.Context, inv *model.Invoice) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO invoices (`+invoiceColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		inv.ID, inv.MerchantID, nullStr(inv.SupplierID), nullStr(inv.InvoiceNumber),
		nullTime(inv.InvoiceDate), inv.TotalAmount, nullStr(inv.Currency), inv.FileKey,
		string(inv.Status), nullStr(inv.OCRRawText), inv.OCRConfidence, nullStr(inv.OCRProvider),
		nullTime(inv.ProcessedAt), nullTime(inv.VerifiedAt), inv.CreatedAt, inv.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert invoice")
}

func (s *PostgresStore) GetInvoice(ctx context.Context, id string) (*model.Invoice, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
	inv, err := scanPGInvoice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return inv, err
}

func (s *PostgresStore) UpdateInvoice(ctx context.Context, inv *model.Invoice) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE invoices SET merchant_id = $1, supplier_id = $2, invoice_number = $3,
		 invoice_date = $4, total_amount = $5, currency = $6, file_key = $7, status = $8,
		 ocr_raw_text = $9, ocr_confidence = $10, ocr_provider = $11, processed_at = $12,
		 verified_at = $13, updated_at = $14 WHERE id = $15`,
		inv.MerchantID, nullStr(inv.SupplierID), nullStr(inv.InvoiceNumber),
		nullTime(inv.InvoiceDate), inv.TotalAmount, nullStr(inv.Currency), inv.FileKey,
		string(inv.Status), nullStr(inv.OCRRawText), inv.OCRConfidence, nullStr(inv.OCRProvider),
		nullTime(inv.ProcessedAt), nullTime(inv.VerifiedAt), time.Now().UTC(), inv.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update invoice %s", inv.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("invoice not found: %s", inv.ID)
	}
	return nil
}

func (s *PostgresStore) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]model.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE true`
	args := []any{}
	argIdx := 1

	if filter.MerchantID != "" {
		query += fmt.Sprintf(` AND merchant_id = $%d`, argIdx)
		args = append(args, filter.MerchantID)
		argIdx++
	}
	if filter.SupplierID != "" {
		query += fmt.Sprintf(` AND supplier_id = $%d`, argIdx)
		args = append(args, filter.SupplierID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list invoices")
	}
	defer rows.Close()

	var out []model.Invoice
	for rows.Next() {
		inv, err := scanPGInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list invoices iterate")
}

func (s *PostgresStore) CountInvoicesByStatus(ctx context.Context) (map[model.InvoiceStatus]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM invoices GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count invoices by status")
	}
	defer rows.Close()

	counts := make(map[model.InvoiceStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan status count")
		}
		counts[model.InvoiceStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count invoices iterate")
}

func (s *PostgresStore) GetQualityStats(ctx context.Context, merchantID string) (*QualityStats, error) {
	stats := &QualityStats{}
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN status = 'completed' AND NOT EXISTS
		          (SELECT 1 FROM invoice_items ii WHERE ii.invoice_id = i.id AND ii.corrected)
		          THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = 'completed' AND EXISTS
		          (SELECT 1 FROM invoice_items ii WHERE ii.invoice_id = i.id AND ii.corrected)
		          THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
		        COALESCE(AVG(ocr_confidence), 0)
		 FROM invoices i WHERE merchant_id = $1 AND processed_at IS NOT NULL`,
		merchantID,
	).Scan(&stats.TotalProcessed, &stats.AutoAccepted, &stats.Reviewed,
		&stats.Failed, &stats.AvgOCRConfidence)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: quality stats")
	}

	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM invoices WHERE merchant_id = $1 AND status = 'needs_review'`,
		merchantID,
	).Scan(&stats.ReviewBacklog)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: review backlog")
	}

	err = s.pool.QueryRow(ctx,
		`SELECT COALESCE(AVG(CASE WHEN ii.corrected THEN 1.0 ELSE 0.0 END), 0)
		 FROM invoice_items ii JOIN invoices i ON ii.invoice_id = i.id
		 WHERE i.merchant_id = $1`,
		merchantID,
	).Scan(&stats.CorrectionRate)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: correction rate")
	}
	return stats, nil
}

// Invoice items

var itemColumnList = []string{
	"id", "invoice_id", "product_id", "raw_description", "quantity", "unit_price",
	"total_price", "matched_sku", "match_confidence", "flagged", "flag_reasons",
	"corrected", "created_at",
}

func (s *PostgresStore) ReplaceInvoiceItems(ctx context.Context, invoiceID string, items []model.InvoiceItem) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin replace items")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`DELETE FROM invoice_items WHERE invoice_id = $1`, invoiceID); err != nil {
		return eris.Wrap(err, "postgres: clear invoice items")
	}

	copyRows := make([][]any, 0, len(items))
	for _, item := range items {
		var reasonsJSON []byte
		if len(item.FlagReasons) > 0 {
			reasonsJSON, err = json.Marshal(item.FlagReasons)
			if err != nil {
				return eris.Wrap(err, "postgres: marshal flag reasons")
			}
		}
		copyRows = append(copyRows, []any{
			item.ID, invoiceID, nullStr(item.ProductID), item.RawDescription,
			item.Quantity, item.UnitPrice, item.TotalPrice,
			nullStr(item.MatchedSKU), item.MatchConfidence,
			item.Flagged, reasonsJSON, item.Corrected, item.CreatedAt,
		})
	}
	if _, err := db.CopyFrom(ctx, tx, "invoice_items", itemColumnList, copyRows); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit replace items")
}

func (s *PostgresStore) ListInvoiceItems(ctx context.Context, invoiceID string) ([]model.InvoiceItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+itemColumns+` FROM invoice_items WHERE invoice_id = $1 ORDER BY created_at, id`,
		invoiceID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list invoice items")
	}
	defer rows.Close()

	var out []model.InvoiceItem
	for rows.Next() {
		item, err := scanPGItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list items iterate")
}

func (s *PostgresStore) UpdateInvoiceItem(ctx context.Context, item *model.InvoiceItem) error {
	var reasonsJSON []byte
	if len(item.FlagReasons) > 0 {
		var err error
		reasonsJSON, err = json.Marshal(item.FlagReasons)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal flag reasons")
		}
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE invoice_items SET product_id = $1, raw_description = $2, quantity = $3,
		 unit_price = $4, total_price = $5, matched_sku = $6, match_confidence = $7,
		 flagged = $8, flag_reasons = $9, corrected = $10 WHERE id = $11`,
		nullStr(item.ProductID), item.RawDescription, item.Quantity,
		item.UnitPrice, item.TotalPrice, nullStr(item.MatchedSKU), item.MatchConfidence,
		item.Flagged, reasonsJSON, item.Corrected, item.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update item %s", item.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("invoice_item not found: %s", item.ID)
	}
	return nil
}

// Products

func (s *PostgresStore) GetProductByNormalizedName(ctx context.Context, normalized string) (*model.Product, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE normalized_name = $1`, normalized)
	p, err := scanPGProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (s *PostgresStore) SearchProducts(ctx context.Context, term string, limit int) ([]model.Product, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+productColumns+` FROM products
		 WHERE normalized_name LIKE '%' || $1 || '%' ORDER BY normalized_name LIMIT $2`,
		escapeLike(term), limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: search products")
	}
	defer rows.Close()

	var out []model.Product
	for rows.Next() {
		p, err := scanPGProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: search products iterate")
}

func (s *PostgresStore) CreateProduct(ctx context.Context, p *model.Product) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO products (`+productColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, nullStr(p.SKUCode), p.Name, p.NormalizedName, p.Category,
		nullStr(p.Unit), p.CreatedAt, p.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert product")
}

func (s *PostgresStore) ListSupplierProducts(ctx context.Context, supplierID string) ([]model.Product, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT p.id, p.sku_code, p.name, p.normalized_name, p.category, p.unit,
		        p.created_at, p.updated_at
		 FROM products p
		 JOIN invoice_items ii ON ii.product_id = p.id
		 JOIN invoices i ON i.id = ii.invoice_id
		 WHERE i.supplier_id = $1 AND i.status = 'completed'`,
		supplierID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list supplier products")
	}
	defer rows.Close()

	var out []model.Product
	for rows.Next() {
		p, err := scanPGProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list supplier products iterate")
}

// Suppliers

func (s *PostgresStore) GetSupplier(ctx context.Context, id string) (*model.Supplier, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+supplierColumns+` FROM suppliers WHERE id = $1`, id)
	sup, err := scanPGSupplier(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return sup, err
}

func (s *PostgresStore) GetSupplierByName(ctx context.Context, name string) (*model.Supplier, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+supplierColumns+` FROM suppliers WHERE lower(name) = lower($1) LIMIT 1`, name)
	sup, err := scanPGSupplier(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return sup, err
}

func (s *PostgresStore) CreateSupplier(ctx context.Context, sup *model.Supplier) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO suppliers (`+supplierColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sup.ID, sup.Name, nullStr(sup.Category), sup.CreditTermsDays,
		sup.AvgDeliveryDays, sup.Approved, sup.CreatedAt, sup.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert supplier")
}

func (s *PostgresStore) UpdateSupplier(ctx context.Context, sup *model.Supplier) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE suppliers SET name = $1, category = $2, credit_terms_days = $3,
		 avg_delivery_days = $4, approved = $5, updated_at = $6 WHERE id = $7`,
		sup.Name, nullStr(sup.Category), sup.CreditTermsDays,
		sup.AvgDeliveryDays, sup.Approved, time.Now().UTC(), sup.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update supplier %s", sup.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("supplier not found: %s", sup.ID)
	}
	return nil
}

// Scores and weights

func (s *PostgresStore) LoadScoringHistory(ctx context.Context, merchantID, supplierID, productID string) (*scoring.History, error) {
	h := &scoring.History{}

	rows, err := s.pool.Query(ctx,
		`SELECT ii.unit_price FROM invoice_items ii
		 JOIN invoices i ON i.id = ii.invoice_id
		 WHERE i.merchant_id = $1 AND i.supplier_id = $2 AND ii.product_id = $3
		   AND i.status = 'completed' AND ii.unit_price > 0
		 ORDER BY i.created_at`,
		merchantID, supplierID, productID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: history unit prices")
	}
	for rows.Next() {
		var p float64
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "postgres: scan unit price")
		}
		h.UnitPrices = append(h.UnitPrices, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: history unit prices iterate")
	}

	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN EXISTS
		          (SELECT 1 FROM invoice_items ii WHERE ii.invoice_id = i.id AND ii.corrected)
		          THEN 1 ELSE 0 END), 0)
		 FROM invoices i
		 WHERE i.merchant_id = $1 AND i.supplier_id = $2 AND i.status = 'completed'`,
		merchantID, supplierID,
	).Scan(&h.TotalInvoices, &h.CorrectedInvoices)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: history invoice counts")
	}

	rows, err = s.pool.Query(ctx,
		`SELECT EXTRACT(EPOCH FROM (verified_at - invoice_date)) / 86400.0
		 FROM invoices
		 WHERE merchant_id = $1 AND supplier_id = $2 AND status = 'completed'
		   AND invoice_date IS NOT NULL AND verified_at IS NOT NULL`,
		merchantID, supplierID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: history delivery gaps")
	}
	for rows.Next() {
		var gap float64
		if err := rows.Scan(&gap); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "postgres: scan delivery gap")
		}
		if gap >= 0 {
			h.DeliveryGapsDays = append(h.DeliveryGapsDays, gap)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: history delivery gaps iterate")
	}

	var credit *float64
	err = s.pool.QueryRow(ctx,
		`SELECT credit_terms_days FROM suppliers WHERE id = $1`, supplierID,
	).Scan(&credit)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(err, "postgres: history credit terms")
	}
	if credit != nil {
		h.CreditTermsDays = *credit
	}

	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT i.supplier_id)
		 FROM invoices i JOIN invoice_items ii ON ii.invoice_id = i.id
		 WHERE i.merchant_id = $1 AND ii.product_id = $2 AND i.status = 'completed'
		   AND i.supplier_id IS NOT NULL AND i.supplier_id <> $3`,
		merchantID, productID, supplierID,
	).Scan(&h.AlternativeSuppliers)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: history alternatives")
	}

	var lastInvoiceDate, lastCreatedAt *time.Time
	err = s.pool.QueryRow(ctx,
		`SELECT invoice_date, created_at FROM invoices
		 WHERE merchant_id = $1 AND supplier_id = $2 AND status = 'completed'
		 ORDER BY created_at DESC LIMIT 1`,
		merchantID, supplierID,
	).Scan(&lastInvoiceDate, &lastCreatedAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(err, "postgres: history last order")
	}
	switch {
	case lastInvoiceDate != nil:
		h.LastOrderAt = *lastInvoiceDate
	case lastCreatedAt != nil:
		h.LastOrderAt = *lastCreatedAt
	}

	return h, nil
}

func (s *PostgresStore) InsertScore(ctx context.Context, score *model.Score) error {
	subJSON, err := json.Marshal(score.Sub)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal sub scores")
	}
	weightsJSON, err := json.Marshal(score.WeightsSnapshot)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal weights snapshot")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO scores (id, merchant_id, supplier_id, product_id, sub_scores,
		 total_score, weights_snapshot, calculated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		score.ID, score.MerchantID, score.SupplierID, score.ProductID,
		subJSON, score.TotalScore, weightsJSON, score.CalculatedAt,
	)
	return eris.Wrap(err, "postgres: insert score")
}

func (s *PostgresStore) GetLatestScore(ctx context.Context, merchantID, supplierID, productID string) (*model.Score, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, merchant_id, supplier_id, product_id, sub_scores, total_score,
		        weights_snapshot, calculated_at
		 FROM scores
		 WHERE merchant_id = $1 AND supplier_id = $2 AND product_id = $3
		 ORDER BY calculated_at DESC LIMIT 1`,
		merchantID, supplierID, productID)

	var sc model.Score
	var subJSON, weightsJSON []byte
	err := row.Scan(&sc.ID, &sc.MerchantID, &sc.SupplierID, &sc.ProductID,
		&subJSON, &sc.TotalScore, &weightsJSON, &sc.CalculatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get latest score")
	}
	if err := json.Unmarshal(subJSON, &sc.Sub); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal sub scores")
	}
	if err := json.Unmarshal(weightsJSON, &sc.WeightsSnapshot); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal weights snapshot")
	}
	return &sc, nil
}

func (s *PostgresStore) GetWeightConfig(ctx context.Context) (*model.WeightConfig, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT version, weights, updated_by, updated_at FROM weight_config
		 ORDER BY version DESC LIMIT 1`)

	var cfg model.WeightConfig
	var weightsJSON []byte
	var updatedBy *string
	err := row.Scan(&cfg.Version, &weightsJSON, &updatedBy, &cfg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// No admin update yet: factory defaults, version 0.
		return &model.WeightConfig{Version: 0, Weights: model.DefaultWeights()}, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get weight config")
	}
	if err := json.Unmarshal(weightsJSON, &cfg.Weights); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal weights")
	}
	if updatedBy != nil {
		cfg.UpdatedBy = *updatedBy
	}
	return &cfg, nil
}

func (s *PostgresStore) UpdateWeightConfig(ctx context.Context, weights model.WeightSet, updatedBy string) (*model.WeightConfig, error) {
	weightsJSON, err := json.Marshal(weights)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal weights")
	}
	now := time.Now().UTC()

	var version int
	err = s.pool.QueryRow(ctx,
		`INSERT INTO weight_config (version, weights, updated_by, updated_at)
		 VALUES ((SELECT COALESCE(MAX(version), 0) + 1 FROM weight_config), $1, $2, $3)
		 RETURNING version`,
		weightsJSON, nullStr(updatedBy), now,
	).Scan(&version)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert weight config")
	}
	return &model.WeightConfig{
		Version:   version,
		Weights:   weights,
		UpdatedBy: updatedBy,
		UpdatedAt: now,
	}, nil
}

// Recommendations

func (s *PostgresStore) ListSupplierIDsForProduct(ctx context.Context, merchantID, productID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT i.supplier_id
		 FROM invoices i JOIN invoice_items ii ON ii.invoice_id = i.id
		 WHERE i.merchant_id = $1 AND ii.product_id = $2 AND i.status = 'completed'
		   AND i.supplier_id IS NOT NULL`,
		merchantID, productID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list suppliers for product")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan supplier id")
		}
		out = append(out, id)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list suppliers iterate")
}

func (s *PostgresStore) AvgUnitPrice(ctx context.Context, merchantID, supplierID, productID string) (float64, error) {
	var avg float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(AVG(ii.unit_price), 0)
		 FROM invoice_items ii JOIN invoices i ON i.id = ii.invoice_id
		 WHERE i.merchant_id = $1 AND i.supplier_id = $2 AND ii.product_id = $3
		   AND i.status = 'completed' AND ii.unit_price > 0`,
		merchantID, supplierID, productID,
	).Scan(&avg)
	return avg, eris.Wrap(err, "postgres: avg unit price")
}

func (s *PostgresStore) RecentQuantity(ctx context.Context, merchantID, productID string) (float64, error) {
	var qty float64
	err := s.pool.QueryRow(ctx,
		`SELECT ii.quantity
		 FROM invoice_items ii JOIN invoices i ON i.id = ii.invoice_id
		 WHERE i.merchant_id = $1 AND ii.product_id = $2 AND i.status = 'completed'
		 ORDER BY i.created_at DESC LIMIT 1`,
		merchantID, productID,
	).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return qty, eris.Wrap(err, "postgres: recent quantity")
}

func (s *PostgresStore) GetPendingRecommendation(ctx context.Context, merchantID, productID, recommendedSupplierID string) (*model.Recommendation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+recColumns+` FROM recommendations
		 WHERE merchant_id = $1 AND product_id = $2 AND recommended_supplier_id = $3
		   AND status = 'pending' LIMIT 1`,
		merchantID, productID, recommendedSupplierID)
	rec, err := scanPGRecommendation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (s *PostgresStore) InsertRecommendation(ctx context.Context, rec *model.Recommendation) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO recommendations (`+recColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID, rec.MerchantID, nullStr(rec.InvoiceID), rec.ProductID,
		rec.CurrentSupplierID, rec.RecommendedSupplierID, nullStr(rec.ScoreID),
		rec.SavingsEstimate, nullStr(rec.Reason), string(rec.Status),
		rec.CreatedAt, rec.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert recommendation")
}

func (s *PostgresStore) UpdateRecommendation(ctx context.Context, rec *model.Recommendation) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE recommendations SET score_id = $1, savings_estimate = $2, reason = $3,
		 status = $4, updated_at = $5 WHERE id = $6`,
		nullStr(rec.ScoreID), rec.SavingsEstimate, nullStr(rec.Reason),
		string(rec.Status), rec.UpdatedAt, rec.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update recommendation %s", rec.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("recommendation not found: %s", rec.ID)
	}
	return nil
}

func (s *PostgresStore) GetRecommendation(ctx context.Context, id string) (*model.Recommendation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+recColumns+` FROM recommendations WHERE id = $1`, id)
	rec, err := scanPGRecommendation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (s *PostgresStore) ListRecommendations(ctx context.Context, filter RecommendationFilter) ([]model.Recommendation, error) {
	query := `SELECT ` + recColumns + ` FROM recommendations WHERE true`
	args := []any{}
	argIdx := 1

	if filter.MerchantID != "" {
		query += fmt.Sprintf(` AND merchant_id = $%d`, argIdx)
		args = append(args, filter.MerchantID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY updated_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list recommendations")
	}
	defer rows.Close()

	var out []model.Recommendation
	for rows.Next() {
		rec, err := scanPGRecommendation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list recommendations iterate")
}

// Task queue

func (s *PostgresStore) InsertTask(ctx context.Context, task *model.Task) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tasks (`+taskColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		task.ID, string(task.Kind), task.InvoiceID, string(task.Status),
		task.Attempt, task.MaxAttempts, task.NextEligibleAt,
		nullTime(task.ClaimedAt), nullStr(task.LastError),
		task.CreatedAt, task.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert task")
}

// ClaimNextTask atomically flips the oldest eligible task to claimed. SKIP
// LOCKED keeps concurrent workers from contending on the same row.
func (s *PostgresStore) ClaimNextTask(ctx context.Context, now time.Time, claimTTL time.Duration) (*model.Task, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE tasks SET status = 'claimed', claimed_at = $1, updated_at = $1
		 WHERE id = (
		   SELECT id FROM tasks
		   WHERE (status = 'queued' AND next_eligible_at <= $1)
		      OR (status = 'claimed' AND claimed_at <= $2)
		   ORDER BY created_at LIMIT 1
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+taskColumns,
		now, now.Add(-claimTTL))

	task, err := scanPGTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: claim next task")
	}
	return task, nil
}

func (s *PostgresStore) UpdateTask(ctx context.Context, task *model.Task) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = $1, attempt = $2, next_eligible_at = $3,
		 claimed_at = $4, last_error = $5, updated_at = $6 WHERE id = $7`,
		string(task.Status), task.Attempt, task.NextEligibleAt,
		nullTime(task.ClaimedAt), nullStr(task.LastError), task.UpdatedAt, task.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update task %s", task.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("task not found: %s", task.ID)
	}
	return nil
}

func (s *PostgresStore) FindActiveTask(ctx context.Context, invoiceID string, kind model.TaskKind) (*model.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE invoice_id = $1 AND kind = $2 AND status IN ('queued', 'claimed')
		 ORDER BY created_at DESC LIMIT 1`,
		invoiceID, string(kind))
	task, err := scanPGTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return task, err
}

func (s *PostgresStore) CountTasksByStatus(ctx context.Context) (map[model.TaskStatus]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count tasks by status")
	}
	defer rows.Close()

	counts := make(map[model.TaskStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan task count")
		}
		counts[model.TaskStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count tasks iterate")
}

// Dead letters

func (s *PostgresStore) InsertDLQEntry(ctx context.Context, entry *resilience.DLQEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dead_letter_queue (`+dlqColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID, entry.TaskID, entry.TaskKind, entry.InvoiceID, entry.Error,
		entry.ErrorType, nullStr(entry.FailedPhase), nullStr(entry.Trace),
		entry.RetryCount, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrap(err, "postgres: insert dlq entry")
}

func (s *PostgresStore) ListDLQEntries(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT ` + dlqColumns + ` FROM dead_letter_queue WHERE true`
	args := []any{}
	argIdx := 1

	if filter.ErrorType != "" {
		query += fmt.Sprintf(` AND error_type = $%d`, argIdx)
		args = append(args, filter.ErrorType)
		argIdx++
	}
	if filter.InvoiceID != "" {
		query += fmt.Sprintf(` AND invoice_id = $%d`, argIdx)
		args = append(args, filter.InvoiceID)
		argIdx++
	}
	query += ` ORDER BY last_failed_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dlq entries")
	}
	defer rows.Close()

	var out []resilience.DLQEntry
	for rows.Next() {
		e, err := scanPGDLQ(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list dlq iterate")
}

func (s *PostgresStore) GetDLQEntry(ctx context.Context, id string) (*resilience.DLQEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+dlqColumns+` FROM dead_letter_queue WHERE id = $1`, id)
	e, err := scanPGDLQ(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (s *PostgresStore) DeleteDLQEntry(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM dead_letter_queue WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete dlq entry %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("dlq_entry not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count dlq")
}

// scanners

func scanPGInvoice(row scannable) (*model.Invoice, error) {
	var inv model.Invoice
	var supplierID, invoiceNumber, currency, rawText, provider *string
	var invoiceDate, processedAt, verifiedAt *time.Time

	err := row.Scan(&inv.ID, &inv.MerchantID, &supplierID, &invoiceNumber,
		&invoiceDate, &inv.TotalAmount, &currency, &inv.FileKey, &inv.Status,
		&rawText, &inv.OCRConfidence, &provider, &processedAt, &verifiedAt,
		&inv.CreatedAt, &inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan invoice")
	}

	inv.SupplierID = deref(supplierID)
	inv.InvoiceNumber = deref(invoiceNumber)
	inv.Currency = deref(currency)
	inv.OCRRawText = deref(rawText)
	inv.OCRProvider = deref(provider)
	inv.InvoiceDate = derefTime(invoiceDate)
	inv.ProcessedAt = derefTime(processedAt)
	inv.VerifiedAt = derefTime(verifiedAt)
	return &inv, nil
}

func scanPGItem(row scannable) (*model.InvoiceItem, error) {
	var item model.InvoiceItem
	var productID, matchedSKU *string
	var reasonsJSON []byte

	err := row.Scan(&item.ID, &item.InvoiceID, &productID, &item.RawDescription,
		&item.Quantity, &item.UnitPrice, &item.TotalPrice, &matchedSKU,
		&item.MatchConfidence, &item.Flagged, &reasonsJSON, &item.Corrected,
		&item.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan item")
	}

	item.ProductID = deref(productID)
	item.MatchedSKU = deref(matchedSKU)
	if len(reasonsJSON) > 0 {
		if err := json.Unmarshal(reasonsJSON, &item.FlagReasons); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal flag reasons")
		}
	}
	return &item, nil
}

func scanPGProduct(row scannable) (*model.Product, error) {
	var p model.Product
	var skuCode, unit *string

	err := row.Scan(&p.ID, &skuCode, &p.Name, &p.NormalizedName, &p.Category,
		&unit, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan product")
	}
	p.SKUCode = deref(skuCode)
	p.Unit = deref(unit)
	return &p, nil
}

func scanPGSupplier(row scannable) (*model.Supplier, error) {
	var sup model.Supplier
	var category *string

	err := row.Scan(&sup.ID, &sup.Name, &category, &sup.CreditTermsDays,
		&sup.AvgDeliveryDays, &sup.Approved, &sup.CreatedAt, &sup.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan supplier")
	}
	sup.Category = deref(category)
	return &sup, nil
}

func scanPGRecommendation(row scannable) (*model.Recommendation, error) {
	var rec model.Recommendation
	var invoiceID, scoreID, reason *string

	err := row.Scan(&rec.ID, &rec.MerchantID, &invoiceID, &rec.ProductID,
		&rec.CurrentSupplierID, &rec.RecommendedSupplierID, &scoreID,
		&rec.SavingsEstimate, &reason, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan recommendation")
	}
	rec.InvoiceID = deref(invoiceID)
	rec.ScoreID = deref(scoreID)
	rec.Reason = deref(reason)
	return &rec, nil
}

func scanPGTask(row scannable) (*model.Task, error) {
	var task model.Task
	var claimedAt *time.Time
	var lastError *string

	err := row.Scan(&task.ID, &task.Kind, &task.InvoiceID, &task.Status,
		&task.Attempt, &task.MaxAttempts, &task.NextEligibleAt, &claimedAt,
		&lastError, &task.CreatedAt, &task.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan task")
	}
	task.ClaimedAt = derefTime(claimedAt)
	task.LastError = deref(lastError)
	return &task, nil
}

func scanPGDLQ(row scannable) (*resilience.DLQEntry, error) {
	var e resilience.DLQEntry
	var failedPhase, trace *string

	err := row.Scan(&e.ID, &e.TaskID, &e.TaskKind, &e.InvoiceID, &e.Error,
		&e.ErrorType, &failedPhase, &trace, &e.RetryCount, &e.CreatedAt, &e.LastFailedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan dlq entry")
	}
	e.FailedPhase = deref(failedPhase)
	e.Trace = deref(trace)
	return &e, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
