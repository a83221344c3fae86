package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/kosh-hq/invoice-pipeline/internal/model"
	"github.com/kosh-hq/invoice-pipeline/internal/resilience"
	"github.com/kosh-hq/invoice-pipeline/internal/scoring"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS invoices (
	id             TEXT PRIMARY KEY,
	merchant_id    TEXT NOT NULL,
	supplier_id    TEXT,
	invoice_number TEXT,
	invoice_date   DATETIME,
	total_amount   REAL NOT NULL DEFAULT 0,
	currency       TEXT,
	file_key       TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	ocr_raw_text   TEXT,
	ocr_confidence REAL NOT NULL DEFAULT 0,
	ocr_provider   TEXT,
	processed_at   DATETIME,
	verified_at    DATETIME,
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS invoice_items (
	id               TEXT PRIMARY KEY,
	invoice_id       TEXT NOT NULL REFERENCES invoices(id),
	product_id       TEXT,
	raw_description  TEXT NOT NULL,
	quantity         REAL NOT NULL DEFAULT 0,
	unit_price       REAL NOT NULL DEFAULT 0,
	total_price      REAL NOT NULL DEFAULT 0,
	matched_sku      TEXT,
	match_confidence REAL NOT NULL DEFAULT 0,
	flagged          INTEGER NOT NULL DEFAULT 0,
	flag_reasons     TEXT,
	corrected        INTEGER NOT NULL DEFAULT 0,
	created_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS products (
	id              TEXT PRIMARY KEY,
	sku_code        TEXT,
	name            TEXT NOT NULL,
	normalized_name TEXT NOT NULL UNIQUE,
	category        TEXT NOT NULL DEFAULT 'uncategorized',
	unit            TEXT,
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS suppliers (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	category          TEXT,
	credit_terms_days REAL NOT NULL DEFAULT 0,
	avg_delivery_days REAL NOT NULL DEFAULT 0,
	approved          INTEGER NOT NULL DEFAULT 0,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS scores (
	id               TEXT PRIMARY KEY,
	merchant_id      TEXT NOT NULL,
	supplier_id      TEXT NOT NULL,
	product_id       TEXT NOT NULL,
	sub_scores       TEXT NOT NULL,
	total_score      REAL NOT NULL,
	weights_snapshot TEXT NOT NULL,
	calculated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS weight_config (
	version    INTEGER PRIMARY KEY,
	weights    TEXT NOT NULL,
	updated_by TEXT,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS recommendations (
	id                      TEXT PRIMARY KEY,
	merchant_id             TEXT NOT NULL,
	invoice_id              TEXT,
	product_id              TEXT NOT NULL,
	current_supplier_id     TEXT NOT NULL,
	recommended_supplier_id TEXT NOT NULL,
	score_id                TEXT,
	savings_estimate        REAL NOT NULL DEFAULT 0,
	reason                  TEXT,
	status                  TEXT NOT NULL DEFAULT 'pending',
	created_at              DATETIME NOT NULL,
	updated_at              DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id               TEXT PRIMARY KEY,
	kind             TEXT NOT NULL,
	invoice_id       TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'queued',
	attempt          INTEGER NOT NULL DEFAULT 0,
	max_attempts     INTEGER NOT NULL DEFAULT 4,
	next_eligible_at DATETIME NOT NULL,
	claimed_at       DATETIME,
	last_error       TEXT,
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL
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
	created_at     DATETIME NOT NULL,
	last_failed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_invoices_merchant_status ON invoices(merchant_id, status);
CREATE INDEX IF NOT EXISTS idx_invoices_supplier ON invoices(supplier_id);
CREATE INDEX IF NOT EXISTS idx_invoice_items_invoice ON invoice_items(invoice_id);
CREATE INDEX IF NOT EXISTS idx_invoice_items_product ON invoice_items(product_id);
CREATE INDEX IF NOT EXISTS idx_products_normalized ON products(normalized_name);
CREATE INDEX IF NOT EXISTS idx_scores_tuple ON scores(merchant_id, supplier_id, product_id, calculated_at DESC);
CREATE INDEX IF NOT EXISTS idx_recommendations_pending ON recommendations(merchant_id, product_id, status);
CREATE INDEX IF NOT EXISTS idx_tasks_claim ON tasks(status, next_eligible_at);
CREATE INDEX IF NOT EXISTS idx_tasks_invoice ON tasks(invoice_id);
CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Invoices

const invoiceColumns = `id, merchant_id, supplier_id, invoice_number, invoice_date, total_amount,
	currency, file_key, status, ocr_raw_text, ocr_confidence, ocr_provider,
	processed_at, verified_at, created_at, updated_at`

func (s *SQLiteStore) CreateInvoice(ctx context.Context, inv *model.Invoice) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO invoices (`+invoiceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.MerchantID, nullStr(inv.SupplierID), nullStr(inv.InvoiceNumber),
		nullTime(inv.InvoiceDate), inv.TotalAmount, nullStr(inv.Currency), inv.FileKey,
		string(inv.Status), nullStr(inv.OCRRawText), inv.OCRConfidence, nullStr(inv.OCRProvider),
		nullTime(inv.ProcessedAt), nullTime(inv.VerifiedAt), inv.CreatedAt, inv.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert invoice")
}

func (s *SQLiteStore) GetInvoice(ctx context.Context, id string) (*model.Invoice, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id)
	inv, err := scanInvoice(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return inv, err
}

func (s *SQLiteStore) UpdateInvoice(ctx context.Context, inv *model.Invoice) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE invoices SET merchant_id = ?, supplier_id = ?, invoice_number = ?,
		 invoice_date = ?, total_amount = ?, currency = ?, file_key = ?, status = ?,
		 ocr_raw_text = ?, ocr_confidence = ?, ocr_provider = ?, processed_at = ?,
		 verified_at = ?, updated_at = ? WHERE id = ?`,
		inv.MerchantID, nullStr(inv.SupplierID), nullStr(inv.InvoiceNumber),
		nullTime(inv.InvoiceDate), inv.TotalAmount, nullStr(inv.Currency), inv.FileKey,
		string(inv.Status), nullStr(inv.OCRRawText), inv.OCRConfidence, nullStr(inv.OCRProvider),
		nullTime(inv.ProcessedAt), nullTime(inv.VerifiedAt), time.Now().UTC(), inv.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update invoice %s", inv.ID)
	}
	return checkRowsAffected(res, "invoice", inv.ID)
}

func (s *SQLiteStore) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]model.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE 1=1`
	var args []any

	if filter.MerchantID != "" {
		query += ` AND merchant_id = ?`
		args = append(args, filter.MerchantID)
	}
	if filter.SupplierID != "" {
		query += ` AND supplier_id = ?`
		args = append(args, filter.SupplierID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list invoices")
	}
	defer rows.Close()

	var out []model.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list invoices iterate")
}

func (s *SQLiteStore) CountInvoicesByStatus(ctx context.Context) (map[model.InvoiceStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM invoices GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count invoices by status")
	}
	defer rows.Close()

	counts := make(map[model.InvoiceStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan status count")
		}
		counts[model.InvoiceStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count invoices iterate")
}

func (s *SQLiteStore) GetQualityStats(ctx context.Context, merchantID string) (*QualityStats, error) {
	stats := &QualityStats{}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN status = 'completed' AND NOT EXISTS
		          (SELECT 1 FROM invoice_items ii WHERE ii.invoice_id = i.id AND ii.corrected = 1)
		          THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = 'completed' AND EXISTS
		          (SELECT 1 FROM invoice_items ii WHERE ii.invoice_id = i.id AND ii.corrected = 1)
		          THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
		        COALESCE(AVG(ocr_confidence), 0)
		 FROM invoices i WHERE merchant_id = ? AND processed_at IS NOT NULL`,
		merchantID,
	).Scan(&stats.TotalProcessed, &stats.AutoAccepted, &stats.Reviewed,
		&stats.Failed, &stats.AvgOCRConfidence)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: quality stats")
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM invoices WHERE merchant_id = ? AND status = 'needs_review'`,
		merchantID,
	).Scan(&stats.ReviewBacklog)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: review backlog")
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(AVG(CASE WHEN ii.corrected = 1 THEN 1.0 ELSE 0.0 END), 0)
		 FROM invoice_items ii JOIN invoices i ON ii.invoice_id = i.id
		 WHERE i.merchant_id = ?`,
		merchantID,
	).Scan(&stats.CorrectionRate)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: correction rate")
	}
	return stats, nil
}

// Invoice items

const itemColumns = `id, invoice_id, product_id, raw_description, quantity, unit_price,
	total_price, matched_sku, match_confidence, flagged, flag_reasons, corrected, created_at`

func (s *SQLiteStore) ReplaceInvoiceItems(ctx context.Context, invoiceID string, items []model.InvoiceItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace items")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM invoice_items WHERE invoice_id = ?`, invoiceID); err != nil {
		return eris.Wrap(err, "sqlite: clear invoice items")
	}

	for _, item := range items {
		reasons, err := marshalReasons(item.FlagReasons)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO invoice_items (`+itemColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, invoiceID, nullStr(item.ProductID), item.RawDescription,
			item.Quantity, item.UnitPrice, item.TotalPrice,
			nullStr(item.MatchedSKU), item.MatchConfidence,
			boolInt(item.Flagged), reasons, boolInt(item.Corrected), item.CreatedAt,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert item %s", item.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit replace items")
}

func (s *SQLiteStore) ListInvoiceItems(ctx context.Context, invoiceID string) ([]model.InvoiceItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM invoice_items WHERE invoice_id = ? ORDER BY created_at, id`,
		invoiceID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list invoice items")
	}
	defer rows.Close()

	var out []model.InvoiceItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list items iterate")
}

func (s *SQLiteStore) UpdateInvoiceItem(ctx context.Context, item *model.InvoiceItem) error {
	reasons, err := marshalReasons(item.FlagReasons)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE invoice_items SET product_id = ?, raw_description = ?, quantity = ?,
		 unit_price = ?, total_price = ?, matched_sku = ?, match_confidence = ?,
		 flagged = ?, flag_reasons = ?, corrected = ? WHERE id = ?`,
		nullStr(item.ProductID), item.RawDescription, item.Quantity,
		item.UnitPrice, item.TotalPrice, nullStr(item.MatchedSKU), item.MatchConfidence,
		boolInt(item.Flagged), reasons, boolInt(item.Corrected), item.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update item %s", item.ID)
	}
	return checkRowsAffected(res, "invoice_item", item.ID)
}

// Products

const productColumns = `id, sku_code, name, normalized_name, category, unit, created_at, updated_at`

func (s *SQLiteStore) GetProductByNormalizedName(ctx context.Context, normalized string) (*model.Product, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE normalized_name = ?`, normalized)
	p, err := scanProduct(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (s *SQLiteStore) SearchProducts(ctx context.Context, term string, limit int) ([]model.Product, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products
		 WHERE normalized_name LIKE ? ESCAPE '\' ORDER BY normalized_name LIMIT ?`,
		"%"+escapeLike(term)+"%", limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: search products")
	}
	defer rows.Close()

	var out []model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: search products iterate")
}

func (s *SQLiteStore) CreateProduct(ctx context.Context, p *model.Product) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO products (`+productColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, nullStr(p.SKUCode), p.Name, p.NormalizedName, p.Category,
		nullStr(p.Unit), p.CreatedAt, p.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert product")
}

func (s *SQLiteStore) ListSupplierProducts(ctx context.Context, supplierID string) ([]model.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT p.id, p.sku_code, p.name, p.normalized_name, p.category, p.unit,
		        p.created_at, p.updated_at
		 FROM products p
		 JOIN invoice_items ii ON ii.product_id = p.id
		 JOIN invoices i ON i.id = ii.invoice_id
		 WHERE i.supplier_id = ? AND i.status = 'completed'`,
		supplierID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list supplier products")
	}
	defer rows.Close()

	var out []model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list supplier products iterate")
}

// Suppliers

const supplierColumns = `id, name, category, credit_terms_days, avg_delivery_days, approved, created_at, updated_at`

func (s *SQLiteStore) GetSupplier(ctx context.Context, id string) (*model.Supplier, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+supplierColumns+` FROM suppliers WHERE id = ?`, id)
	sup, err := scanSupplier(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sup, err
}

func (s *SQLiteStore) GetSupplierByName(ctx context.Context, name string) (*model.Supplier, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+supplierColumns+` FROM suppliers WHERE name = ? COLLATE NOCASE LIMIT 1`, name)
	sup, err := scanSupplier(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sup, err
}

func (s *SQLiteStore) CreateSupplier(ctx context.Context, sup *model.Supplier) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO suppliers (`+supplierColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sup.ID, sup.Name, nullStr(sup.Category), sup.CreditTermsDays,
		sup.AvgDeliveryDays, boolInt(sup.Approved), sup.CreatedAt, sup.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert supplier")
}

func (s *SQLiteStore) UpdateSupplier(ctx context.Context, sup *model.Supplier) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE suppliers SET name = ?, category = ?, credit_terms_days = ?,
		 avg_delivery_days = ?, approved = ?, updated_at = ? WHERE id = ?`,
		sup.Name, nullStr(sup.Category), sup.CreditTermsDays,
		sup.AvgDeliveryDays, boolInt(sup.Approved), time.Now().UTC(), sup.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update supplier %s", sup.ID)
	}
	return checkRowsAffected(res, "supplier", sup.ID)
}

// Scores and weights

func (s *SQLiteStore) LoadScoringHistory(ctx context.Context, merchantID, supplierID, productID string) (*scoring.History, error) {
	h := &scoring.History{}

	rows, err := s.db.QueryContext(ctx,
		`SELECT ii.unit_price FROM invoice_items ii
		 JOIN invoices i ON i.id = ii.invoice_id
		 WHERE i.merchant_id = ? AND i.supplier_id = ? AND ii.product_id = ?
		   AND i.status = 'completed' AND ii.unit_price > 0
		 ORDER BY i.created_at`,
		merchantID, supplierID, productID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: history unit prices")
	}
	for rows.Next() {
		var p float64
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "sqlite: scan unit price")
		}
		h.UnitPrices = append(h.UnitPrices, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: history unit prices iterate")
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN EXISTS
		          (SELECT 1 FROM invoice_items ii WHERE ii.invoice_id = i.id AND ii.corrected = 1)
		          THEN 1 ELSE 0 END), 0)
		 FROM invoices i
		 WHERE i.merchant_id = ? AND i.supplier_id = ? AND i.status = 'completed'`,
		merchantID, supplierID,
	).Scan(&h.TotalInvoices, &h.CorrectedInvoices)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: history invoice counts")
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT julianday(verified_at) - julianday(invoice_date)
		 FROM invoices
		 WHERE merchant_id = ? AND supplier_id = ? AND status = 'completed'
		   AND invoice_date IS NOT NULL AND verified_at IS NOT NULL`,
		merchantID, supplierID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: history delivery gaps")
	}
	for rows.Next() {
		var gap float64
		if err := rows.Scan(&gap); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "sqlite: scan delivery gap")
		}
		if gap >= 0 {
			h.DeliveryGapsDays = append(h.DeliveryGapsDays, gap)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: history delivery gaps iterate")
	}

	var credit sql.NullFloat64
	err = s.db.QueryRowContext(ctx,
		`SELECT credit_terms_days FROM suppliers WHERE id = ?`, supplierID,
	).Scan(&credit)
	if err != nil && err != sql.ErrNoRows {
		return nil, eris.Wrap(err, "sqlite: history credit terms")
	}
	if credit.Valid {
		h.CreditTermsDays = credit.Float64
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT i.supplier_id)
		 FROM invoices i JOIN invoice_items ii ON ii.invoice_id = i.id
		 WHERE i.merchant_id = ? AND ii.product_id = ? AND i.status = 'completed'
		   AND i.supplier_id IS NOT NULL AND i.supplier_id <> ?`,
		merchantID, productID, supplierID,
	).Scan(&h.AlternativeSuppliers)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: history alternatives")
	}

	var lastInvoiceDate, lastCreatedAt sql.NullTime
	err = s.db.QueryRowContext(ctx,
		`SELECT invoice_date, created_at FROM invoices
		 WHERE merchant_id = ? AND supplier_id = ? AND status = 'completed'
		 ORDER BY created_at DESC LIMIT 1`,
		merchantID, supplierID,
	).Scan(&lastInvoiceDate, &lastCreatedAt)
	if err != nil && err != sql.ErrNoRows {
		return nil, eris.Wrap(err, "sqlite: history last order")
	}
	switch {
	case lastInvoiceDate.Valid:
		h.LastOrderAt = lastInvoiceDate.Time
	case lastCreatedAt.Valid:
		h.LastOrderAt = lastCreatedAt.Time
	}

	return h, nil
}

func (s *SQLiteStore) InsertScore(ctx context.Context, score *model.Score) error {
	subJSON, err := json.Marshal(score.Sub)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal sub scores")
	}
	weightsJSON, err := json.Marshal(score.WeightsSnapshot)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal weights snapshot")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scores (id, merchant_id, supplier_id, product_id, sub_scores,
		 total_score, weights_snapshot, calculated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		score.ID, score.MerchantID, score.SupplierID, score.ProductID,
		string(subJSON), score.TotalScore, string(weightsJSON), score.CalculatedAt,
	)
	return eris.Wrap(err, "sqlite: insert score")
}

func (s *SQLiteStore) GetLatestScore(ctx context.Context, merchantID, supplierID, productID string) (*model.Score, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, merchant_id, supplier_id, product_id, sub_scores, total_score,
		        weights_snapshot, calculated_at
		 FROM scores
		 WHERE merchant_id = ? AND supplier_id = ? AND product_id = ?
		 ORDER BY calculated_at DESC LIMIT 1`,
		merchantID, supplierID, productID)

	var sc model.Score
	var subJSON, weightsJSON string
	err := row.Scan(&sc.ID, &sc.MerchantID, &sc.SupplierID, &sc.ProductID,
		&subJSON, &sc.TotalScore, &weightsJSON, &sc.CalculatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get latest score")
	}
	if err := json.Unmarshal([]byte(subJSON), &sc.Sub); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal sub scores")
	}
	if err := json.Unmarshal([]byte(weightsJSON), &sc.WeightsSnapshot); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal weights snapshot")
	}
	return &sc, nil
}

func (s *SQLiteStore) GetWeightConfig(ctx context.Context) (*model.WeightConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT version, weights, updated_by, updated_at FROM weight_config
		 ORDER BY version DESC LIMIT 1`)

	var cfg model.WeightConfig
	var weightsJSON string
	var updatedBy sql.NullString
	err := row.Scan(&cfg.Version, &weightsJSON, &updatedBy, &cfg.UpdatedAt)
	if err == sql.ErrNoRows {
		// No admin update yet: factory defaults, version 0.
		return &model.WeightConfig{Version: 0, Weights: model.DefaultWeights()}, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get weight config")
	}
	if err := json.Unmarshal([]byte(weightsJSON), &cfg.Weights); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal weights")
	}
	cfg.UpdatedBy = updatedBy.String
	return &cfg, nil
}

func (s *SQLiteStore) UpdateWeightConfig(ctx context.Context, weights model.WeightSet, updatedBy string) (*model.WeightConfig, error) {
	weightsJSON, err := json.Marshal(weights)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal weights")
	}
	now := time.Now().UTC()

	var version int
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO weight_config (version, weights, updated_by, updated_at)
		 VALUES ((SELECT COALESCE(MAX(version), 0) + 1 FROM weight_config), ?, ?, ?)
		 RETURNING version`,
		string(weightsJSON), nullStr(updatedBy), now,
	).Scan(&version)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert weight config")
	}
	return &model.WeightConfig{
		Version:   version,
		Weights:   weights,
		UpdatedBy: updatedBy,
		UpdatedAt: now,
	}, nil
}

// Recommendations

func (s *SQLiteStore) ListSupplierIDsForProduct(ctx context.Context, merchantID, productID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT i.supplier_id
		 FROM invoices i JOIN invoice_items ii ON ii.invoice_id = i.id
		 WHERE i.merchant_id = ? AND ii.product_id = ? AND i.status = 'completed'
		   AND i.supplier_id IS NOT NULL`,
		merchantID, productID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list suppliers for product")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan supplier id")
		}
		out = append(out, id)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list suppliers iterate")
}

func (s *SQLiteStore) AvgUnitPrice(ctx context.Context, merchantID, supplierID, productID string) (float64, error) {
	var avg float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(AVG(ii.unit_price), 0)
		 FROM invoice_items ii JOIN invoices i ON i.id = ii.invoice_id
		 WHERE i.merchant_id = ? AND i.supplier_id = ? AND ii.product_id = ?
		   AND i.status = 'completed' AND ii.unit_price > 0`,
		merchantID, supplierID, productID,
	).Scan(&avg)
	return avg, eris.Wrap(err, "sqlite: avg unit price")
}

func (s *SQLiteStore) RecentQuantity(ctx context.Context, merchantID, productID string) (float64, error) {
	var qty float64
	err := s.db.QueryRowContext(ctx,
		`SELECT ii.quantity
		 FROM invoice_items ii JOIN invoices i ON i.id = ii.invoice_id
		 WHERE i.merchant_id = ? AND ii.product_id = ? AND i.status = 'completed'
		 ORDER BY i.created_at DESC LIMIT 1`,
		merchantID, productID,
	).Scan(&qty)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return qty, eris.Wrap(err, "sqlite: recent quantity")
}

const recColumns = `id, merchant_id, invoice_id, product_id, current_supplier_id,
	recommended_supplier_id, score_id, savings_estimate, reason, status, created_at, updated_at`

func (s *SQLiteStore) GetPendingRecommendation(ctx context.Context, merchantID, productID, recommendedSupplierID string) (*model.Recommendation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recColumns+` FROM recommendations
		 WHERE merchant_id = ? AND product_id = ? AND recommended_supplier_id = ?
		   AND status = 'pending' LIMIT 1`,
		merchantID, productID, recommendedSupplierID)
	rec, err := scanRecommendation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (s *SQLiteStore) InsertRecommendation(ctx context.Context, rec *model.Recommendation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recommendations (`+recColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.MerchantID, nullStr(rec.InvoiceID), rec.ProductID,
		rec.CurrentSupplierID, rec.RecommendedSupplierID, nullStr(rec.ScoreID),
		rec.SavingsEstimate, nullStr(rec.Reason), string(rec.Status),
		rec.CreatedAt, rec.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert recommendation")
}

func (s *SQLiteStore) UpdateRecommendation(ctx context.Context, rec *model.Recommendation) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE recommendations SET score_id = ?, savings_estimate = ?, reason = ?,
		 status = ?, updated_at = ? WHERE id = ?`,
		nullStr(rec.ScoreID), rec.SavingsEstimate, nullStr(rec.Reason),
		string(rec.Status), rec.UpdatedAt, rec.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update recommendation %s", rec.ID)
	}
	return checkRowsAffected(res, "recommendation", rec.ID)
}

func (s *SQLiteStore) GetRecommendation(ctx context.Context, id string) (*model.Recommendation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recColumns+` FROM recommendations WHERE id = ?`, id)
	rec, err := scanRecommendation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (s *SQLiteStore) ListRecommendations(ctx context.Context, filter RecommendationFilter) ([]model.Recommendation, error) {
	query := `SELECT ` + recColumns + ` FROM recommendations WHERE 1=1`
	var args []any

	if filter.MerchantID != "" {
		query += ` AND merchant_id = ?`
		args = append(args, filter.MerchantID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY updated_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list recommendations")
	}
	defer rows.Close()

	var out []model.Recommendation
	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list recommendations iterate")
}

// Task queue

const taskColumns = `id, kind, invoice_id, status, attempt, max_attempts,
	next_eligible_at, claimed_at, last_error, created_at, updated_at`

func (s *SQLiteStore) InsertTask(ctx context.Context, task *model.Task) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, string(task.Kind), task.InvoiceID, string(task.Status),
		task.Attempt, task.MaxAttempts, task.NextEligibleAt,
		nullTime(task.ClaimedAt), nullStr(task.LastError),
		task.CreatedAt, task.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert task")
}

// ClaimNextTask atomically flips the oldest eligible task to claimed and
// returns it, so two workers can never take the same task.
func (s *SQLiteStore) ClaimNextTask(ctx context.Context, now time.Time, claimTTL time.Duration) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE tasks SET status = 'claimed', claimed_at = ?, updated_at = ?
		 WHERE id = (
		   SELECT id FROM tasks
		   WHERE (status = 'queued' AND next_eligible_at <= ?)
		      OR (status = 'claimed' AND claimed_at <= ?)
		   ORDER BY created_at LIMIT 1
		 )
		 RETURNING `+taskColumns,
		now, now, now, now.Add(-claimTTL))

	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: claim next task")
	}
	return task, nil
}

func (s *SQLiteStore) UpdateTask(ctx context.Context, task *model.Task) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, attempt = ?, next_eligible_at = ?,
		 claimed_at = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		string(task.Status), task.Attempt, task.NextEligibleAt,
		nullTime(task.ClaimedAt), nullStr(task.LastError), task.UpdatedAt, task.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update task %s", task.ID)
	}
	return checkRowsAffected(res, "task", task.ID)
}

func (s *SQLiteStore) FindActiveTask(ctx context.Context, invoiceID string, kind model.TaskKind) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE invoice_id = ? AND kind = ? AND status IN ('queued', 'claimed')
		 ORDER BY created_at DESC LIMIT 1`,
		invoiceID, string(kind))
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return task, err
}

func (s *SQLiteStore) CountTasksByStatus(ctx context.Context) (map[model.TaskStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count tasks by status")
	}
	defer rows.Close()

	counts := make(map[model.TaskStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan task count")
		}
		counts[model.TaskStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count tasks iterate")
}

// Dead letters

const dlqColumns = `id, task_id, task_kind, invoice_id, error, error_type,
	failed_phase, trace, retry_count, created_at, last_failed_at`

func (s *SQLiteStore) InsertDLQEntry(ctx context.Context, entry *resilience.DLQEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dead_letter_queue (`+dlqColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.TaskID, entry.TaskKind, entry.InvoiceID, entry.Error,
		entry.ErrorType, nullStr(entry.FailedPhase), nullStr(entry.Trace),
		entry.RetryCount, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrap(err, "sqlite: insert dlq entry")
}

func (s *SQLiteStore) ListDLQEntries(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT ` + dlqColumns + ` FROM dead_letter_queue WHERE 1=1`
	var args []any

	if filter.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, filter.ErrorType)
	}
	if filter.InvoiceID != "" {
		query += ` AND invoice_id = ?`
		args = append(args, filter.InvoiceID)
	}
	query += ` ORDER BY last_failed_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dlq entries")
	}
	defer rows.Close()

	var out []resilience.DLQEntry
	for rows.Next() {
		e, err := scanDLQ(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list dlq iterate")
}

func (s *SQLiteStore) GetDLQEntry(ctx context.Context, id string) (*resilience.DLQEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+dlqColumns+` FROM dead_letter_queue WHERE id = ?`, id)
	e, err := scanDLQ(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (s *SQLiteStore) DeleteDLQEntry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM dead_letter_queue WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete dlq entry %s", id)
	}
	return checkRowsAffected(res, "dlq_entry", id)
}

func (s *SQLiteStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count dlq")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func escapeLike(term string) string {
	out := make([]byte, 0, len(term))
	for i := 0; i < len(term); i++ {
		c := term[i]
		if c == '%' || c == '_' || c == '\\' {
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	return string(out)
}

func marshalReasons(reasons []string) (any, error) {
	if len(reasons) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(reasons)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal flag reasons")
	}
	return string(b), nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanInvoice(row scannable) (*model.Invoice, error) {
	var inv model.Invoice
	var supplierID, invoiceNumber, currency, rawText, provider sql.NullString
	var invoiceDate, processedAt, verifiedAt sql.NullTime

	err := row.Scan(&inv.ID, &inv.MerchantID, &supplierID, &invoiceNumber,
		&invoiceDate, &inv.TotalAmount, &currency, &inv.FileKey, &inv.Status,
		&rawText, &inv.OCRConfidence, &provider, &processedAt, &verifiedAt,
		&inv.CreatedAt, &inv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan invoice")
	}

	inv.SupplierID = supplierID.String
	inv.InvoiceNumber = invoiceNumber.String
	inv.Currency = currency.String
	inv.OCRRawText = rawText.String
	inv.OCRProvider = provider.String
	inv.InvoiceDate = invoiceDate.Time
	inv.ProcessedAt = processedAt.Time
	inv.VerifiedAt = verifiedAt.Time
	return &inv, nil
}

func scanItem(row scannable) (*model.InvoiceItem, error) {
	var item model.InvoiceItem
	var productID, matchedSKU, reasonsJSON sql.NullString
	var flagged, corrected int

	err := row.Scan(&item.ID, &item.InvoiceID, &productID, &item.RawDescription,
		&item.Quantity, &item.UnitPrice, &item.TotalPrice, &matchedSKU,
		&item.MatchConfidence, &flagged, &reasonsJSON, &corrected, &item.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan item")
	}

	item.ProductID = productID.String
	item.MatchedSKU = matchedSKU.String
	item.Flagged = flagged != 0
	item.Corrected = corrected != 0
	if reasonsJSON.Valid && reasonsJSON.String != "" {
		if err := json.Unmarshal([]byte(reasonsJSON.String), &item.FlagReasons); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal flag reasons")
		}
	}
	return &item, nil
}

func scanProduct(row scannable) (*model.Product, error) {
	var p model.Product
	var skuCode, unit sql.NullString

	err := row.Scan(&p.ID, &skuCode, &p.Name, &p.NormalizedName, &p.Category,
		&unit, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan product")
	}
	p.SKUCode = skuCode.String
	p.Unit = unit.String
	return &p, nil
}

func scanSupplier(row scannable) (*model.Supplier, error) {
	var sup model.Supplier
	var category sql.NullString
	var approved int

	err := row.Scan(&sup.ID, &sup.Name, &category, &sup.CreditTermsDays,
		&sup.AvgDeliveryDays, &approved, &sup.CreatedAt, &sup.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan supplier")
	}
	sup.Category = category.String
	sup.Approved = approved != 0
	return &sup, nil
}

func scanRecommendation(row scannable) (*model.Recommendation, error) {
	var rec model.Recommendation
	var invoiceID, scoreID, reason sql.NullString

	err := row.Scan(&rec.ID, &rec.MerchantID, &invoiceID, &rec.ProductID,
		&rec.CurrentSupplierID, &rec.RecommendedSupplierID, &scoreID,
		&rec.SavingsEstimate, &reason, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan recommendation")
	}
	rec.InvoiceID = invoiceID.String
	rec.ScoreID = scoreID.String
	rec.Reason = reason.String
	return &rec, nil
}

func scanTask(row scannable) (*model.Task, error) {
	var task model.Task
	var claimedAt sql.NullTime
	var lastError sql.NullString

	err := row.Scan(&task.ID, &task.Kind, &task.InvoiceID, &task.Status,
		&task.Attempt, &task.MaxAttempts, &task.NextEligibleAt, &claimedAt,
		&lastError, &task.CreatedAt, &task.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan task")
	}
	task.ClaimedAt = claimedAt.Time
	task.LastError = lastError.String
	return &task, nil
}

func scanDLQ(row scannable) (*resilience.DLQEntry, error) {
	var e resilience.DLQEntry
	var failedPhase, trace sql.NullString

	err := row.Scan(&e.ID, &e.TaskID, &e.TaskKind, &e.InvoiceID, &e.Error,
		&e.ErrorType, &failedPhase, &trace, &e.RetryCount, &e.CreatedAt, &e.LastFailedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan dlq entry")
	}
	e.FailedPhase = failedPhase.String
	e.Trace = trace.String
	return &e, nil
}
