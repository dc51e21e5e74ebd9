// Package reconcile assembles the per-customer merged view from the
// three sources: the CRM catalog, the ERP ledger aggregates, and the
// operational store.
package reconcile

import (
	"github.com/grupocrist/client360/internal/ident"
	"github.com/grupocrist/client360/internal/model"
	"github.com/grupocrist/client360/pkg/bitrix"
)

// Merge joins source facets onto the catalog records by normalized
// identifier key, preserving record order. Records without a code still
// appear, with every facet absent.
func Merge(
	records []bitrix.Record,
	codeField string,
	financial map[string]model.FinancialMetrics,
	activity map[string][]model.ActivityEntry,
	annotations map[string]*model.Annotation,
) []model.MergedEntity {
	out := make([]model.MergedEntity, len(records))
	for i, rec := range records {
		entity := model.MergedEntity{
			External: rec,
			Activity: []model.ActivityEntry{},
		}

		key := ident.Key(rec.StringField(codeField))
		if key != "" {
			if fin, ok := financial[key]; ok {
				f := fin
				entity.Financial = &f
			}
			if acts, ok := activity[key]; ok && len(acts) > 0 {
				entity.Activity = acts
			}
			if ann, ok := annotations[key]; ok {
				entity.Annotation = ann
			}
		}

		out[i] = entity
	}
	return out
}

// codesOf extracts the identifier display values from a record set,
// skipping blanks.
func codesOf(records []bitrix.Record, codeField string) []string {
	set := ident.NewSet()
	for _, rec := range records {
		set.Add(rec.StringField(codeField))
	}
	return set.Displays()
}
