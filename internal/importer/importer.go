// Package importer bulk-loads suppliers and catalog products from CSV or
// XLSX files. Merchants seed their catalog this way before the first
// invoice arrives, so OCR matching starts against known names instead of
// lazily creating everything.
package importer

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kosh-hq/invoice-pipeline/internal/catalog"
	"github.com/kosh-hq/invoice-pipeline/internal/model"
)

// Store is the persistence slice the importer needs.
type Store interface {
	GetSupplierByName(ctx context.Context, name string) (*model.Supplier, error)
	CreateSupplier(ctx context.Context, s *model.Supplier) error
	UpdateSupplier(ctx context.Context, s *model.Supplier) error
	GetProductByNormalizedName(ctx context.Context, normalized string) (*model.Product, error)
	CreateProduct(ctx context.Context, p *model.Product) error
}

// Result summarizes one import run.
type Result struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// Importer writes parsed rows to the store.
type Importer struct {
	store   Store
	nowFunc func() time.Time
}

// New creates an Importer.
func New(store Store) *Importer {
	return &Importer{store: store, nowFunc: time.Now}
}

// ImportSuppliers upserts suppliers from a file. The header row picks the
// columns; a name column is required. Existing suppliers (matched by name,
// case-insensitive) are updated in place and stay approved if they were.
func (im *Importer) ImportSuppliers(ctx context.Context, path string, opts Options) (*Result, error) {
	rows, err := ReadRows(path, opts)
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, eris.Errorf("importer: %s has no data rows", path)
	}

	cols, err := headerIndex(rows[0], "name")
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for i, row := range rows[1:] {
		name := cell(row, col(cols, "name"))
		if name == "" {
			res.Skipped++
			continue
		}

		existing, err := im.store.GetSupplierByName(ctx, name)
		if err != nil {
			return nil, eris.Wrapf(err, "importer: supplier lookup row %d", i+2)
		}

		now := im.nowFunc().UTC()
		if existing != nil {
			applySupplierColumns(existing, row, cols)
			existing.UpdatedAt = now
			if err := im.store.UpdateSupplier(ctx, existing); err != nil {
				return nil, eris.Wrapf(err, "importer: update supplier %q", name)
			}
			res.Updated++
			continue
		}

		s := &model.Supplier{
			ID:        uuid.New().String(),
			Name:      name,
			Approved:  true, // imported suppliers are merchant-vetted
			CreatedAt: now,
			UpdatedAt: now,
		}
		applySupplierColumns(s, row, cols)
		if err := im.store.CreateSupplier(ctx, s); err != nil {
			return nil, eris.Wrapf(err, "importer: create supplier %q", name)
		}
		res.Created++
	}

	zap.L().Info("importer: suppliers imported",
		zap.String("path", path),
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

// ImportProducts creates catalog products from a file. Rows whose
// normalized name already exists are skipped, never overwritten: invoice
// history may already reference them.
func (im *Importer) ImportProducts(ctx context.Context, path string, opts Options) (*Result, error) {
	rows, err := ReadRows(path, opts)
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, eris.Errorf("importer: %s has no data rows", path)
	}

	cols, err := headerIndex(rows[0], "name")
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for i, row := range rows[1:] {
		name := cell(row, col(cols, "name"))
		if name == "" {
			res.Skipped++
			continue
		}
		normalized := catalog.Normalize(name)
		if normalized == "" {
			res.Skipped++
			continue
		}

		existing, err := im.store.GetProductByNormalizedName(ctx, normalized)
		if err != nil {
			return nil, eris.Wrapf(err, "importer: product lookup row %d", i+2)
		}
		if existing != nil {
			res.Skipped++
			continue
		}

		now := im.nowFunc().UTC()
		p := &model.Product{
			ID:             uuid.New().String(),
			SKUCode:        cell(row, col(cols, "sku_code")),
			Name:           name,
			NormalizedName: normalized,
			Category:       cell(row, col(cols, "category")),
			Unit:           cell(row, col(cols, "unit")),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if p.Category == "" {
			p.Category = catalog.Uncategorized
		}
		if err := im.store.CreateProduct(ctx, p); err != nil {
			return nil, eris.Wrapf(err, "importer: create product %q", name)
		}
		res.Created++
	}

	zap.L().Info("importer: products imported",
		zap.String("path", path),
		zap.Int("created", res.Created),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

func applySupplierColumns(s *model.Supplier, row []string, cols map[string]int) {
	if v := cell(row, col(cols, "category")); v != "" {
		s.Category = v
	}
	if v := cell(row, col(cols, "credit_terms_days")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			s.CreditTermsDays = f
		}
	}
	if v := cell(row, col(cols, "avg_delivery_days")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			s.AvgDeliveryDays = f
		}
	}
}

// headerIndex maps lowercased header names to column positions and checks
// the required columns are present.
func headerIndex(header []string, required ...string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		key = strings.ReplaceAll(key, " ", "_")
		if key != "" {
			cols[key] = i
		}
	}
	for _, r := range required {
		if _, ok := cols[r]; !ok {
			return nil, eris.Errorf("importer: missing required column %q", r)
		}
	}
	return cols, nil
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// col returns the position of a header, -1 when absent. A plain map read
// would alias missing headers to column 0.
func col(cols map[string]int, key string) int {
	if i, ok := cols[key]; ok {
		return i
	}
	return -1
}
