package erp

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
)

// Customer is the ledger's master record for one customer, with its zone
// and segment labels resolved.
type Customer struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	ZoneCode    string `json:"zone_code"`
	ZoneName    string `json:"zone_name"`
	SegmentCode string `json:"segment_code"`
	SegmentName string `json:"segment_name"`
	Coordinates string `json:"coordinates"`
}

// Customers lists the customer master, optionally filtered by zone and
// segment code. Used by the coordinate audit, which compares ledger
// coordinates against the CRM's.
func (f *Fetcher) Customers(ctx context.Context, zoneCode, segmentCode string) ([]Customer, error) {
	query := `
SELECT c.code, c.name, c.zone_code, COALESCE(z.name, '') AS zone_name,
       c.segment_code, COALESCE(s.name, '') AS segment_name,
       COALESCE(c.coordinates, '') AS coordinates
FROM customers c
LEFT JOIN zones z ON z.code = c.zone_code
LEFT JOIN segments s ON s.code = c.segment_code`

	var (
		conds []string
		args  []any
	)
	if zoneCode != "" {
		args = append(args, zoneCode)
		conds = append(conds, "c.zone_code = $1")
	}
	if segmentCode != "" {
		args = append(args, segmentCode)
		if len(args) == 2 {
			conds = append(conds, "c.segment_code = $2")
		} else {
			conds = append(conds, "c.segment_code = $1")
		}
	}
	if len(conds) > 0 {
		query += "\nWHERE " + strings.Join(conds, " AND ")
	}
	query += "\nORDER BY c.code"

	rows, err := f.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "erp: list customers")
	}
	defer rows.Close()

	var out []Customer
	for rows.Next() {
		var c Customer
		if err := rows.Scan(&c.Code, &c.Name, &c.ZoneCode, &c.ZoneName,
			&c.SegmentCode, &c.SegmentName, &c.Coordinates); err != nil {
			return nil, eris.Wrap(err, "erp: scan customer row")
		}
		c.Code = strings.TrimSpace(c.Code)
		c.Name = strings.TrimSpace(c.Name)
		c.ZoneCode = strings.TrimSpace(c.ZoneCode)
		c.ZoneName = strings.TrimSpace(c.ZoneName)
		c.SegmentCode = strings.TrimSpace(c.SegmentCode)
		c.SegmentName = strings.TrimSpace(c.SegmentName)
		c.Coordinates = strings.TrimSpace(c.Coordinates)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "erp: iterate customer rows")
	}
	return out, nil
}
