// Package ops persists and reads the locally authored operational data:
// field-visit logs, audit annotations, weekly plans and matrix entries.
// Two interchangeable backends exist, PostgreSQL for deployments and
// SQLite for single-host installs and tests.
package ops

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/grupocrist/client360/internal/model"
)

// inChunkSize bounds IN-list sizes so a large catalog never produces an
// oversized statement. Chunks run sequentially.
const inChunkSize = 1000

// BusinessZone is the fixed local offset all week math and display
// timestamps use, independent of server timezone.
var BusinessZone = time.FixedZone("UTC-4", -4*3600)

// Store is the operational-data surface the reconciliation and HTTP
// layers consume.
type Store interface {
	ActivityByClient(ctx context.Context, codes []string, week Week) (map[string][]model.ActivityEntry, error)
	AnnotationsByClient(ctx context.Context, codes []string) (map[string]*model.Annotation, error)
	WeekActivity(ctx context.Context, week Week) ([]model.ActivityEntry, error)
	InsertAuditNote(ctx context.Context, in model.AuditNoteInput) (int64, error)
	UpsertPlans(ctx context.Context, records []model.PlanInput) ([]model.PlanResult, error)
	ListPlans(ctx context.Context, filter PlanFilter) ([]model.PlanRecord, error)
	InsertMatrixEntry(ctx context.Context, in model.MatrixInput) (int64, error)
	Migrate(ctx context.Context) error
	Close() error
}

// PlanFilter narrows ListPlans. Empty fields match everything.
type PlanFilter struct {
	PlanID     string
	ClientCode string
	CRMID      string
}

// Week is a half-open [Start, End) interval.
type Week struct {
	Start time.Time
	End   time.Time
}

// CurrentWeek returns the Monday-to-Monday week containing now, anchored
// at midnight in the business offset.
func CurrentWeek(now time.Time) Week {
	local := now.In(BusinessZone)
	back := (int(local.Weekday()) + 6) % 7
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, BusinessZone)
	start := day.AddDate(0, 0, -back)
	return Week{Start: start, End: start.AddDate(0, 0, 7)}
}

var weekdayLabels = [...]string{
	"Domingo", "Lunes", "Martes", "Miércoles", "Jueves", "Viernes", "Sábado",
}

// WeekdayLabel names t's weekday in the business offset.
func WeekdayLabel(t time.Time) string {
	return weekdayLabels[int(t.In(BusinessZone).Weekday())]
}

// displayTime renders a stored timestamp in the business offset.
func displayTime(t time.Time) string {
	return t.In(BusinessZone).Format("2006-01-02 15:04:05")
}

// decodeJSONField deserializes stored JSON, falling back to the raw text
// when it does not parse. Nil when the column was NULL or empty.
func decodeJSONField(raw *string) any {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(*raw), &v); err != nil {
		return *raw
	}
	return v
}

// encodeJSONField serializes a map to JSON text, NULL when empty.
func encodeJSONField(m map[string]any) *string {
	if len(m) == 0 {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	s := string(data)
	return &s
}

// formatLocation joins a coordinate pair into "lat, lng", nil when
// either side is missing.
func formatLocation(lat, lng *float64) *string {
	if lat == nil || lng == nil {
		return nil
	}
	s := strconv.FormatFloat(*lat, 'f', -1, 64) + ", " + strconv.FormatFloat(*lng, 'f', -1, 64)
	return &s
}

// extractedNoteKeys are the payload keys an audit note's detail blob
// drops because they are already stored in dedicated columns or in the
// week plan.
var extractedNoteKeys = []string{
	"id", "internal_id", "name", "client_code", "note", "executive_note",
	"lunes_accion", "lunes_ejecucion",
	"martes_accion", "martes_ejecucion",
	"miercoles_accion", "miercoles_ejecucion",
	"jueves_accion", "jueves_ejecucion",
	"viernes_accion", "viernes_ejecucion",
}

// stripCustomerData copies the detail blob minus the extracted keys.
func stripCustomerData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	for _, k := range extractedNoteKeys {
		delete(out, k)
	}
	return out
}

// planID resolves the identifier one plan record is stored under. A
// multi-record payload shares batchID; otherwise the record's own id is
// honored and a fresh one minted when absent.
func planID(batchID string, rec model.PlanInput) string {
	if batchID != "" {
		return batchID
	}
	if rec.PlanID != "" {
		return rec.PlanID
	}
	return uuid.NewString()
}

// planBatchID picks the shared id for a multi-record payload: the first
// id a record provides, or a fresh one.
func planBatchID(records []model.PlanInput) string {
	if len(records) < 2 {
		return ""
	}
	for _, r := range records {
		if r.PlanID != "" {
			return r.PlanID
		}
	}
	return uuid.NewString()
}

// chunkStrings splits codes into IN-list sized groups, trimming each
// entry on the way.
func chunkStrings(codes []string, size int) [][]string {
	trimmed := make([]string, 0, len(codes))
	for _, c := range codes {
		if t := strings.TrimSpace(c); t != "" {
			trimmed = append(trimmed, t)
		}
	}
	var out [][]string
	for start := 0; start < len(trimmed); start += size {
		out = append(out, trimmed[start:min(start+size, len(trimmed))])
	}
	return out
}
