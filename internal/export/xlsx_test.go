package export

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/grupocrist/client360/internal/model"
	"github.com/grupocrist/client360/pkg/bitrix"
)

func TestWriteXLSX(t *testing.T) {
	login := "jlopez"
	lastPurchase := "2026-08-15"
	entities := []model.MergedEntity{
		{
			External: bitrix.Record{ID: "1", Title: "Bodega Central",
				Fields: map[string]any{"UF_CODE": "c001"}},
			Financial: &model.FinancialMetrics{
				Login:             &login,
				InTransitBalance:  150.5,
				LastPurchaseDate:  &lastPurchase,
				MonthSKUCount:     14,
				NetSalesThisMonth: 1200,
				OperatingHours:    "8am-5pm",
			},
			Activity:   []model.ActivityEntry{{Weekday: "Lunes"}},
			Annotation: &model.Annotation{Note: "revisar precios"},
		},
		{
			External: bitrix.Record{ID: "2", Title: "Sin Ledger",
				Fields: map[string]any{"UF_CODE": "c002"}},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, entities, "UF_CODE"))

	// Round-trip through the library to verify the sheet contents.
	path := filepath.Join(t.TempDir(), "out.xlsx")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)

	sheet := f.Sheets[0]
	require.Equal(t, "Clientes", sheet.Name)
	require.Len(t, sheet.Rows, 3)

	assert.Equal(t, "ID CRM", sheet.Rows[0].Cells[0].String())

	first := sheet.Rows[1]
	assert.Equal(t, "1", first.Cells[0].String())
	assert.Equal(t, "c001", first.Cells[1].String())
	assert.Equal(t, "Bodega Central", first.Cells[2].String())
	assert.Equal(t, "jlopez", first.Cells[3].String())
	assert.Equal(t, "2026-08-15", first.Cells[6].String())
	assert.Equal(t, "revisar precios", first.Cells[15].String())

	second := sheet.Rows[2]
	assert.Equal(t, "c002", second.Cells[1].String())
	assert.Equal(t, "", second.Cells[3].String(), "missing ledger facet leaves blanks")
	assert.Equal(t, "0", second.Cells[14].String(), "visit count is always present")
}

func TestWriteXLSX_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, nil, "UF_CODE"))
	assert.NotZero(t, buf.Len())
}
