package ops

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/grupocrist/client360/internal/db"
	"github.com/grupocrist/client360/internal/ident"
	"github.com/grupocrist/client360/internal/model"
)

// Postgres implements Store on a pgx pool.
type Postgres struct {
	pool db.Pool
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool db.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// pgSchema statements run one at a time; the extended query protocol
// rejects multi-statement strings.
var pgSchema = []string{`
CREATE TABLE IF NOT EXISTS field_visits (
	id BIGSERIAL PRIMARY KEY,
	client_code TEXT NOT NULL,
	kinds TEXT,
	sale_type TEXT,
	sale_note TEXT,
	collection_type TEXT,
	collection_note TEXT,
	latitude DOUBLE PRECISION,
	longitude DOUBLE PRECISION,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE INDEX IF NOT EXISTS idx_field_visits_client ON field_visits (client_code)`,
	`CREATE INDEX IF NOT EXISTS idx_field_visits_recorded ON field_visits (recorded_at)`,
	`
CREATE TABLE IF NOT EXISTS audit_notes (
	id BIGSERIAL PRIMARY KEY,
	crm_id TEXT NOT NULL,
	client_code TEXT NOT NULL,
	customer_name TEXT NOT NULL DEFAULT '',
	note TEXT NOT NULL DEFAULT '',
	executive_note TEXT NOT NULL DEFAULT '',
	week_plan TEXT,
	customer_data TEXT,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_notes_client ON audit_notes (client_code)`,
	`
CREATE TABLE IF NOT EXISTS weekly_plans (
	id BIGSERIAL PRIMARY KEY,
	crm_id TEXT NOT NULL UNIQUE,
	plan_id TEXT NOT NULL,
	client_code TEXT NOT NULL DEFAULT '',
	customer_name TEXT NOT NULL DEFAULT '',
	rep_code TEXT NOT NULL DEFAULT '',
	note TEXT NOT NULL DEFAULT '',
	executive_note TEXT NOT NULL DEFAULT '',
	week TEXT,
	payload TEXT,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE INDEX IF NOT EXISTS idx_weekly_plans_plan ON weekly_plans (plan_id)`,
	`
CREATE TABLE IF NOT EXISTS matrix_entries (
	id BIGSERIAL PRIMARY KEY,
	crm_id TEXT NOT NULL,
	client_code TEXT NOT NULL DEFAULT '',
	customer_name TEXT NOT NULL DEFAULT '',
	note TEXT NOT NULL DEFAULT '',
	executive_note TEXT NOT NULL DEFAULT '',
	week TEXT,
	audit_matrix TEXT,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
}

// Migrate creates the operational tables.
func (s *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range pgSchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return eris.Wrap(err, "ops: migrate postgres schema")
		}
	}
	return nil
}

const visitColumns = `client_code, kinds, sale_type, sale_note,
	collection_type, collection_note, latitude, longitude, recorded_at`

func scanVisit(scan func(...any) error) (string, model.ActivityEntry, error) {
	var (
		code       string
		kinds      *string
		lat, lng   *float64
		recordedAt time.Time
		e          model.ActivityEntry
	)
	err := scan(&code, &kinds, &e.SaleType, &e.SaleNote,
		&e.CollectionType, &e.CollectionNote, &lat, &lng, &recordedAt)
	if err != nil {
		return "", e, err
	}
	e.Kinds = decodeJSONField(kinds)
	e.Location = formatLocation(lat, lng)
	e.RecordedAt = displayTime(recordedAt)
	e.Weekday = WeekdayLabel(recordedAt)
	return strings.TrimSpace(code), e, nil
}

// ActivityByClient returns this week's visit log per identifier key.
func (s *Postgres) ActivityByClient(ctx context.Context, codes []string, week Week) (map[string][]model.ActivityEntry, error) {
	out := map[string][]model.ActivityEntry{}
	for _, chunk := range chunkStrings(codes, inChunkSize) {
		placeholders := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)+2)
		for i, code := range chunk {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			args = append(args, code)
		}
		args = append(args, week.Start.UTC(), week.End.UTC())

		query := fmt.Sprintf(`SELECT %s FROM field_visits
WHERE client_code IN (%s) AND recorded_at >= $%d AND recorded_at < $%d
ORDER BY recorded_at DESC`,
			visitColumns, strings.Join(placeholders, ","), len(chunk)+1, len(chunk)+2)

		rows, err := s.pool.Query(ctx, query, args...)
		if err != nil {
			return nil, eris.Wrap(err, "ops: query field visits")
		}
		for rows.Next() {
			code, e, err := scanVisit(rows.Scan)
			if err != nil {
				rows.Close()
				return nil, eris.Wrap(err, "ops: scan field visit")
			}
			key := ident.Key(code)
			out[key] = append(out[key], e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, eris.Wrap(err, "ops: iterate field visits")
		}
	}
	return out, nil
}

// WeekActivity returns every visit logged in the given week, newest
// first, with identifiers attached.
func (s *Postgres) WeekActivity(ctx context.Context, week Week) ([]model.ActivityEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM field_visits
WHERE recorded_at >= $1 AND recorded_at < $2
ORDER BY recorded_at DESC`, visitColumns)

	rows, err := s.pool.Query(ctx, query, week.Start.UTC(), week.End.UTC())
	if err != nil {
		return nil, eris.Wrap(err, "ops: query week visits")
	}
	defer rows.Close()

	out := []model.ActivityEntry{}
	for rows.Next() {
		code, e, err := scanVisit(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "ops: scan week visit")
		}
		e.ClientCode = code
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "ops: iterate week visits")
	}
	return out, nil
}

// AnnotationsByClient returns the latest audit annotation per identifier
// key.
func (s *Postgres) AnnotationsByClient(ctx context.Context, codes []string) (map[string]*model.Annotation, error) {
	out := map[string]*model.Annotation{}
	for _, chunk := range chunkStrings(codes, inChunkSize) {
		placeholders := make([]string, len(chunk))
		args := make([]any, len(chunk))
		for i, code := range chunk {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			args[i] = code
		}

		query := fmt.Sprintf(`SELECT client_code, note, executive_note, week_plan
FROM audit_notes WHERE client_code IN (%s)
ORDER BY recorded_at DESC`, strings.Join(placeholders, ","))

		rows, err := s.pool.Query(ctx, query, args...)
		if err != nil {
			return nil, eris.Wrap(err, "ops: query audit notes")
		}
		for rows.Next() {
			var (
				code     string
				ann      model.Annotation
				weekPlan *string
			)
			if err := rows.Scan(&code, &ann.Note, &ann.ExecutiveNote, &weekPlan); err != nil {
				rows.Close()
				return nil, eris.Wrap(err, "ops: scan audit note")
			}
			key := ident.Key(code)
			if _, seen := out[key]; seen {
				continue
			}
			ann.WeekPlan = decodeJSONField(weekPlan)
			out[key] = &ann
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, eris.Wrap(err, "ops: iterate audit notes")
		}
	}
	return out, nil
}

// InsertAuditNote persists one annotation and returns its id.
func (s *Postgres) InsertAuditNote(ctx context.Context, in model.AuditNoteInput) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO audit_notes
(crm_id, client_code, customer_name, note, executive_note, week_plan, customer_data)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		in.CRMID, in.ClientCode, in.CustomerName, in.Note, in.ExecutiveNote,
		encodeJSONField(in.WeekPlan), encodeJSONField(stripCustomerData(in.CustomerData)),
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrap(err, "ops: insert audit note")
	}
	return id, nil
}

const pgPlanUpsert = `INSERT INTO weekly_plans
(crm_id, plan_id, client_code, customer_name, rep_code, note, executive_note, week, payload)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (crm_id) DO UPDATE SET
	plan_id = EXCLUDED.plan_id,
	client_code = EXCLUDED.client_code,
	customer_name = EXCLUDED.customer_name,
	rep_code = EXCLUDED.rep_code,
	note = EXCLUDED.note,
	executive_note = EXCLUDED.executive_note,
	week = EXCLUDED.week,
	payload = EXCLUDED.payload,
	recorded_at = now()`

// UpsertPlans writes each record, collecting per-record outcomes instead
// of aborting the batch on the first failure.
func (s *Postgres) UpsertPlans(ctx context.Context, records []model.PlanInput) ([]model.PlanResult, error) {
	batchID := planBatchID(records)
	results := make([]model.PlanResult, 0, len(records))
	for _, rec := range records {
		id := planID(batchID, rec)
		res := model.PlanResult{CRMID: rec.CRMID, ClientCode: rec.ClientCode, PlanID: id}
		_, err := s.pool.Exec(ctx, pgPlanUpsert,
			rec.CRMID, id, rec.ClientCode, rec.CustomerName, rec.RepCode,
			rec.Note, rec.ExecutiveNote, encodeJSONField(rec.Week), encodeJSONField(rec.Payload))
		if err != nil {
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	return results, nil
}

// ListPlans returns stored plans newest first, optionally filtered.
func (s *Postgres) ListPlans(ctx context.Context, filter PlanFilter) ([]model.PlanRecord, error) {
	query := `SELECT id, crm_id, plan_id, client_code, customer_name, rep_code,
note, executive_note, week, payload, recorded_at FROM weekly_plans`

	var (
		conds []string
		args  []any
	)
	add := func(cond, val string) {
		if val != "" {
			args = append(args, val)
			conds = append(conds, fmt.Sprintf("%s = $%d", cond, len(args)))
		}
	}
	add("plan_id", filter.PlanID)
	add("client_code", filter.ClientCode)
	add("crm_id", filter.CRMID)
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY recorded_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "ops: query plans")
	}
	defer rows.Close()

	out := []model.PlanRecord{}
	for rows.Next() {
		var (
			rec           model.PlanRecord
			week, payload *string
			recordedAt    time.Time
		)
		if err := rows.Scan(&rec.ID, &rec.CRMID, &rec.PlanID, &rec.ClientCode,
			&rec.CustomerName, &rec.RepCode, &rec.Note, &rec.ExecutiveNote,
			&week, &payload, &recordedAt); err != nil {
			return nil, eris.Wrap(err, "ops: scan plan")
		}
		rec.Week = decodeJSONField(week)
		rec.Payload = decodeJSONField(payload)
		rec.RecordedAt = displayTime(recordedAt)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "ops: iterate plans")
	}
	return out, nil
}

// InsertMatrixEntry persists one matrix record and returns its id.
func (s *Postgres) InsertMatrixEntry(ctx context.Context, in model.MatrixInput) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO matrix_entries
(crm_id, client_code, customer_name, note, executive_note, week, audit_matrix)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		in.CRMID, in.ClientCode, in.CustomerName, in.Note, in.ExecutiveNote,
		encodeJSONField(in.Week), encodeJSONField(in.AuditMatrix),
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrap(err, "ops: insert matrix entry")
	}
	return id, nil
}

// Close releases the pool.
func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
