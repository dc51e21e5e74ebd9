package catalog

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/grupocrist/client360/internal/ident"
	"github.com/grupocrist/client360/pkg/bitrix"
)

// TranslationTable maps enumerated field codes to their labels, per
// field. Built from the live metadata so renamed portal values take
// effect without a deploy.
type TranslationTable struct {
	labels map[string]map[string]string
	defs   bitrix.FieldDefinitions
}

// NewTranslationTable indexes the enumerations of every field that has
// one.
func NewTranslationTable(defs bitrix.FieldDefinitions) *TranslationTable {
	labels := make(map[string]map[string]string)
	for field, def := range defs {
		items := def.Enumeration()
		if len(items) == 0 {
			continue
		}
		m := make(map[string]string, len(items))
		for _, it := range items {
			m[it.ID] = it.Value
		}
		labels[field] = m
	}
	return &TranslationTable{labels: labels, defs: defs}
}

// Label resolves one field code to its label. Unknown codes pass through
// unchanged so records never lose data to stale metadata.
func (t *TranslationTable) Label(field, code string) string {
	code = strings.TrimSpace(code)
	if m, ok := t.labels[field]; ok {
		if label, ok := m[code]; ok {
			return label
		}
	}
	return code
}

// Translate returns a copy of rec with every enumerated field's codes
// replaced by labels, element-wise for multi-value fields, and scalar
// string values trimmed.
func (t *TranslationTable) Translate(rec bitrix.Record) bitrix.Record {
	out := bitrix.Record{
		ID:     rec.ID,
		Title:  strings.TrimSpace(rec.Title),
		Fields: make(map[string]any, len(rec.Fields)),
	}
	for field, val := range rec.Fields {
		out.Fields[field] = t.translateValue(field, val)
	}
	return out
}

func (t *TranslationTable) translateValue(field string, val any) any {
	switch v := val.(type) {
	case string:
		return t.Label(field, v)
	case float64, bool:
		return t.Label(field, asScalar(v))
	case []any:
		out := make([]any, len(v))
		for i, el := range v {
			out[i] = t.translateValue(field, el)
		}
		return out
	default:
		return val
	}
}

// SegmentCodes resolves human labels to the segment field's enumeration
// codes. Matching folds case, accents and separators on both sides.
func (t *TranslationTable) SegmentCodes(segmentField string, labels []string) ([]string, error) {
	items := t.defs[segmentField].Enumeration()
	if len(items) == 0 {
		return nil, eris.Errorf("catalog: field %s has no enumeration", segmentField)
	}

	byFolded := make(map[string]string, len(items))
	available := make([]string, 0, len(items))
	for _, it := range items {
		byFolded[ident.FoldLabel(it.Value)] = it.ID
		available = append(available, it.Value)
	}

	codes := make([]string, 0, len(labels))
	for _, label := range labels {
		code, ok := byFolded[ident.FoldLabel(label)]
		if !ok {
			return nil, eris.Errorf("catalog: unknown segment %q (available: %s)",
				label, strings.Join(available, ", "))
		}
		codes = append(codes, code)
	}
	return codes, nil
}

func asScalar(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
