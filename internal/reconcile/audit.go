package reconcile

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/grupocrist/client360/internal/erp"
	"github.com/grupocrist/client360/internal/geo"
	"github.com/grupocrist/client360/internal/ident"
)

// AuditRequest narrows the coordinate audit by ledger zone and segment
// codes.
type AuditRequest struct {
	ZoneCode    string
	SegmentCode string
}

// AuditCRM is the CRM side of one audit row, nil when the ledger
// customer has no CRM counterpart.
type AuditCRM struct {
	ID          string `json:"id"`
	Coordinates string `json:"coordinates"`
}

// AuditItem pairs a ledger customer with its CRM counterpart and the
// coordinate comparison between the two.
type AuditItem struct {
	Ledger     erp.Customer   `json:"ledger"`
	CRM        *AuditCRM      `json:"crm"`
	Comparison geo.Comparison `json:"coordinate_comparison"`
}

// AuditResult is the coordinate audit report.
type AuditResult struct {
	Count   int          `json:"count"`
	Request AuditRequest `json:"-"`
	Items   []AuditItem  `json:"data"`
}

// CoordinateAudit joins the ledger customer master against the CRM
// catalog and classifies each pair's coordinates. The CRM snapshot comes
// through the TTL cache; the ledger read honors the request filters.
func (s *Service) CoordinateAudit(ctx context.Context, req AuditRequest) (*AuditResult, error) {
	if s.erp == nil {
		return nil, eris.New("reconcile: ledger not configured")
	}

	customers, err := s.erp.Customers(ctx, req.ZoneCode, req.SegmentCode)
	if err != nil {
		return nil, err
	}
	snap, err := s.cachedSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	cfg := s.catalog.Config()
	index := snap.Coordinates(cfg.CodeField, cfg.CoordField, ident.Key)

	items := make([]AuditItem, 0, len(customers))
	for _, c := range customers {
		item := AuditItem{Ledger: c}
		crmCoord := ""
		if entry, ok := index[ident.Key(c.Code)]; ok {
			item.CRM = &AuditCRM{ID: entry.CRMID, Coordinates: entry.Raw}
			crmCoord = entry.Raw
		}
		item.Comparison = geo.Compare(c.Coordinates, crmCoord)
		items = append(items, item)
	}

	return &AuditResult{Count: len(items), Request: req, Items: items}, nil
}
