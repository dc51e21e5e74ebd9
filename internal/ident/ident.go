// Package ident canonicalizes ERP-issued client codes shared by the CRM,
// the ERP ledger and the operational store. Every cross-source join in the
// reconciliation pipeline goes through the dedup key produced here.
package ident

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Identifier is a canonicalized client code. Display keeps the original
// casing for anything user-facing or persisted; Key is the case-folded form
// used exclusively for matching across sources.
type Identifier struct {
	Display string
	Key     string
}

// Normalize canonicalizes a raw client code. Empty and whitespace-only
// input yields ok=false and must be excluded from all joins.
//
// Normalize is idempotent: Normalize(Normalize(x).Display) == Normalize(x).
func Normalize(raw string) (Identifier, bool) {
	s := strings.TrimSpace(norm.NFC.String(raw))
	if s == "" {
		return Identifier{}, false
	}
	return Identifier{Display: s, Key: strings.ToUpper(s)}, true
}

// Key returns just the dedup key for a raw code, or "" when the code is empty.
func Key(raw string) string {
	id, ok := Normalize(raw)
	if !ok {
		return ""
	}
	return id.Key
}

// Set deduplicates client codes by dedup key, keeping the first-seen
// display form as canonical and preserving insertion order.
type Set struct {
	order []Identifier
	byKey map[string]int
}

// NewSet returns an empty identifier set.
func NewSet() *Set {
	return &Set{byKey: make(map[string]int)}
}

// Add normalizes raw and records it. The returned Identifier carries the
// canonical (first-seen) display form; ok is false for empty input.
func (s *Set) Add(raw string) (Identifier, bool) {
	id, ok := Normalize(raw)
	if !ok {
		return Identifier{}, false
	}
	if i, seen := s.byKey[id.Key]; seen {
		return s.order[i], true
	}
	s.byKey[id.Key] = len(s.order)
	s.order = append(s.order, id)
	return id, true
}

// Displays returns the canonical display forms in insertion order.
func (s *Set) Displays() []string {
	out := make([]string, len(s.order))
	for i, id := range s.order {
		out[i] = id.Display
	}
	return out
}

// Len reports the number of distinct identifiers.
func (s *Set) Len() int {
	return len(s.order)
}

// accentStripper removes combining marks after NFD decomposition, so
// "Mérida" folds to "Merida".
var accentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

var labelSeparators = regexp.MustCompile(`[\s\-_/\\()\[\]:;,.]+`)

// FoldLabel normalizes a human-entered label (segment names and the like)
// for tolerant matching: lowercase, accents stripped, separator runs
// collapsed to single spaces.
func FoldLabel(s string) string {
	folded := strings.ToLower(strings.TrimSpace(s))
	if out, _, err := transform.String(accentStripper, folded); err == nil {
		folded = out
	}
	return strings.TrimSpace(labelSeparators.ReplaceAllString(folded, " "))
}
