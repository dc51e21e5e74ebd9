// Package export renders merged entities as spreadsheet downloads.
package export

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/grupocrist/client360/internal/model"
)

var headers = []string{
	"ID CRM", "Código", "Nombre", "Login",
	"Saldo Tránsito", "Saldo Vencido", "Última Compra",
	"Factura Morosidad", "Último Cobro", "Fecha Último Cobro",
	"SKU Mes", "Ventas Mes Actual", "Ventas Mes Anterior",
	"Horario", "Visitas Semana", "Bitácora",
}

// WriteXLSX streams entities as a one-sheet workbook. Financial cells
// stay empty when the ledger had no facet for the entity.
func WriteXLSX(w io.Writer, entities []model.MergedEntity, codeField string) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Clientes")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	head := sheet.AddRow()
	for _, h := range headers {
		head.AddCell().SetString(h)
	}

	for _, e := range entities {
		row := sheet.AddRow()
		row.AddCell().SetString(e.External.ID)
		row.AddCell().SetString(e.External.StringField(codeField))
		row.AddCell().SetString(e.External.Title)

		if fin := e.Financial; fin != nil {
			row.AddCell().SetString(deref(fin.Login))
			row.AddCell().SetFloatWithFormat(fin.InTransitBalance, "0.00")
			row.AddCell().SetFloatWithFormat(fin.OverdueBalance, "0.00")
			row.AddCell().SetString(deref(fin.LastPurchaseDate))
			row.AddCell().SetString(deref(fin.OldestOverdueInvoice))
			row.AddCell().SetString(deref(fin.LastPaymentNumber))
			row.AddCell().SetString(deref(fin.LastPaymentDate))
			row.AddCell().SetInt(fin.MonthSKUCount)
			row.AddCell().SetFloatWithFormat(fin.NetSalesThisMonth, "0.00")
			row.AddCell().SetFloatWithFormat(fin.NetSalesLastMonth, "0.00")
			row.AddCell().SetString(fin.OperatingHours)
		} else {
			for range 11 {
				row.AddCell()
			}
		}

		row.AddCell().SetInt(len(e.Activity))
		if e.Annotation != nil {
			row.AddCell().SetString(e.Annotation.Note)
		} else {
			row.AddCell()
		}
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "export: write workbook")
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
