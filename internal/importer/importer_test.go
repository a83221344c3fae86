package importer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/kosh-hq/invoice-pipeline/internal/model"
)

type fakeStore struct {
	suppliers map[string]*model.Supplier // keyed by lowercase name
	products  map[string]*model.Product  // keyed by normalized name
	updates   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		suppliers: make(map[string]*model.Supplier),
		products:  make(map[string]*model.Product),
	}
}

func (f *fakeStore) GetSupplierByName(_ context.Context, name string) (*model.Supplier, error) {
	return f.suppliers[strings.ToLower(name)], nil
}

func (f *fakeStore) CreateSupplier(_ context.Context, s *model.Supplier) error {
	f.suppliers[strings.ToLower(s.Name)] = s
	return nil
}

func (f *fakeStore) UpdateSupplier(_ context.Context, s *model.Supplier) error {
	f.suppliers[strings.ToLower(s.Name)] = s
	f.updates++
	return nil
}

func (f *fakeStore) GetProductByNormalizedName(_ context.Context, normalized string) (*model.Product, error) {
	return f.products[normalized], nil
}

func (f *fakeStore) CreateProduct(_ context.Context, p *model.Product) error {
	f.products[p.NormalizedName] = p
	return nil
}

func writeTempCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "import.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestImportSuppliersFromCSV(t *testing.T) {
	path := writeTempCSV(t, strings.Join([]string{
		"Name,Category,Credit Terms Days,Avg Delivery Days",
		"Fresh Farms,produce,30,3",
		"Metro Paper Co,packaging,45,",
		",missing name row,0,0",
	}, "\n"))

	st := newFakeStore()
	res, err := New(st).ImportSuppliers(context.Background(), path, Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Created)
	assert.Zero(t, res.Updated)
	assert.Equal(t, 1, res.Skipped)

	s := st.suppliers["fresh farms"]
	require.NotNil(t, s)
	assert.Equal(t, "produce", s.Category)
	assert.Equal(t, 30.0, s.CreditTermsDays)
	assert.Equal(t, 3.0, s.AvgDeliveryDays)
	assert.True(t, s.Approved)
}

func TestImportSuppliersUpdatesExisting(t *testing.T) {
	st := newFakeStore()
	require.NoError(t, st.CreateSupplier(context.Background(), &model.Supplier{
		ID:              "sup-1",
		Name:            "Fresh Farms",
		CreditTermsDays: 15,
	}))

	path := writeTempCSV(t, "name,credit_terms_days\nFresh Farms,60\n")
	res, err := New(st).ImportSuppliers(context.Background(), path, Options{})
	require.NoError(t, err)

	assert.Zero(t, res.Created)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, st.updates)

	s := st.suppliers["fresh farms"]
	assert.Equal(t, "sup-1", s.ID)
	assert.Equal(t, 60.0, s.CreditTermsDays)
}

func TestImportSuppliersMissingNameColumn(t *testing.T) {
	path := writeTempCSV(t, "vendor,terms\nFresh Farms,30\n")

	_, err := New(newFakeStore()).ImportSuppliers(context.Background(), path, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing required column "name"`)
}

func TestImportProductsSkipsExisting(t *testing.T) {
	st := newFakeStore()
	require.NoError(t, st.CreateProduct(context.Background(), &model.Product{
		ID:             "prod-1",
		Name:           "Roma Tomatoes",
		NormalizedName: "roma tomatoes",
	}))

	path := writeTempCSV(t, strings.Join([]string{
		"name,category,unit,sku_code",
		"Roma Tomatoes,produce,kg,TOM-01",
		"Basmati Rice 5kg,dry goods,bag,RICE-05",
	}, "\n"))

	res, err := New(st).ImportProducts(context.Background(), path, Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Skipped)

	// Existing product keeps its identity.
	assert.Equal(t, "prod-1", st.products["roma tomatoes"].ID)

	created, ok := st.products["basmati rice 5kg"]
	require.True(t, ok)
	assert.Equal(t, "dry goods", created.Category)
	assert.Equal(t, "bag", created.Unit)
	assert.Equal(t, "RICE-05", created.SKUCode)
}

func TestImportProductsDefaultsCategory(t *testing.T) {
	path := writeTempCSV(t, "name\nMystery Widget\n")

	st := newFakeStore()
	_, err := New(st).ImportProducts(context.Background(), path, Options{})
	require.NoError(t, err)

	p := st.products["mystery widget"]
	require.NotNil(t, p)
	assert.Equal(t, "uncategorized", p.Category)
}

func TestReadRowsXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "suppliers.xlsx")
	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Suppliers")
	require.NoError(t, err)
	for _, rowData := range [][]string{
		{"name", "category"},
		{"Fresh Farms", "produce"},
	} {
		row := sheet.AddRow()
		for _, v := range rowData {
			row.AddCell().Value = v
		}
	}
	require.NoError(t, file.Save(path))

	rows, err := ReadRows(path, Options{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Fresh Farms", "produce"}, rows[1])

	_, err = ReadRows(path, Options{SheetName: "Nope"})
	assert.Error(t, err)

	st := newFakeStore()
	res, err := New(st).ImportSuppliers(context.Background(), path, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
}

func TestReadRowsUnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "import.parquet")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, err := ReadRows(path, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file type")
}

func TestReadRowsCSVSemicolonDelimiter(t *testing.T) {
	path := writeTempCSV(t, "name;category\nFresh Farms;produce\n")

	rows, err := ReadRows(path, Options{Delimiter: ';'})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Fresh Farms", "produce"}, rows[1])
}
