package bitrix

import (
	"encoding/json"
	"strconv"
)

// PageSize is the fixed number of records a single list call returns.
const PageSize = 50

// MaxBatchCommands is the upstream ceiling on sub-commands per batch call.
const MaxBatchCommands = 50

// Record is one CRM company. ID and TITLE are lifted out of the payload;
// every other key (the UF_* custom fields) lands in Fields with its raw
// coded value, which is either a scalar or an array of codes.
type Record struct {
	ID     string
	Title  string
	Fields map[string]any
}

// UnmarshalJSON flattens the wire object into ID/Title/Fields.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.ID = asString(raw["ID"])
	r.Title = asString(raw["TITLE"])
	delete(raw, "ID")
	delete(raw, "TITLE")
	r.Fields = raw
	return nil
}

// MarshalJSON restores the flat wire shape so responses mirror the CRM's.
func (r Record) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(r.Fields)+2)
	for k, v := range r.Fields {
		flat[k] = v
	}
	flat["ID"] = r.ID
	flat["TITLE"] = r.Title
	return json.Marshal(flat)
}

// Field returns the raw value of a custom field, or nil.
func (r Record) Field(key string) any {
	if r.Fields == nil {
		return nil
	}
	return r.Fields[key]
}

// StringField returns a custom field coerced to string ("" when absent
// or not scalar).
func (r Record) StringField(key string) string {
	return asString(r.Field(key))
}

// FieldItem is one entry of an enumerated field's value list.
type FieldItem struct {
	ID    string
	Value string
}

// UnmarshalJSON tolerates numeric item IDs, which the CRM emits for some
// field kinds.
func (it *FieldItem) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID    any `json:"ID"`
		Value any `json:"VALUE"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	it.ID = asString(raw.ID)
	it.Value = asString(raw.Value)
	return nil
}

// FieldDefinition describes one CRM field from the metadata endpoint.
// Enumerated values arrive under "items" or, for some field kinds, "LIST".
type FieldDefinition struct {
	Title string      `json:"title"`
	Type  string      `json:"type"`
	Items []FieldItem `json:"items"`
	List  []FieldItem `json:"LIST"`
}

// Enumeration returns the field's value list regardless of which wire key
// carried it.
func (d FieldDefinition) Enumeration() []FieldItem {
	if len(d.Items) > 0 {
		return d.Items
	}
	return d.List
}

// FieldDefinitions maps field key to its definition.
type FieldDefinitions map[string]FieldDefinition

// asString coerces the loosely typed values the CRM wire format produces.
func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		return ""
	}
}
