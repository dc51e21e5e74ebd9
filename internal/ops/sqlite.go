package ops

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/grupocrist/client360/internal/ident"
	"github.com/grupocrist/client360/internal/model"
)

// SQLite implements Store on an embedded database. Used for single-host
// installs and tests.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at dsn, e.g. a file path or
// ":memory:".
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "ops: open sqlite")
	}
	// A single writer avoids SQLITE_BUSY under concurrent handlers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "ops: ping sqlite")
	}
	return &SQLite{db: db}, nil
}

var sqliteSchema = []string{`
CREATE TABLE IF NOT EXISTS field_visits (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	client_code TEXT NOT NULL,
	kinds TEXT,
	sale_type TEXT,
	sale_note TEXT,
	collection_type TEXT,
	collection_note TEXT,
	latitude REAL,
	longitude REAL,
	recorded_at DATETIME NOT NULL DEFAULT (datetime('now'))
)`,
	`CREATE INDEX IF NOT EXISTS idx_field_visits_client ON field_visits (client_code)`,
	`CREATE INDEX IF NOT EXISTS idx_field_visits_recorded ON field_visits (recorded_at)`,
	`
CREATE TABLE IF NOT EXISTS audit_notes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	crm_id TEXT NOT NULL,
	client_code TEXT NOT NULL,
	customer_name TEXT NOT NULL DEFAULT '',
	note TEXT NOT NULL DEFAULT '',
	executive_note TEXT NOT NULL DEFAULT '',
	week_plan TEXT,
	customer_data TEXT,
	recorded_at DATETIME NOT NULL DEFAULT (datetime('now'))
)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_notes_client ON audit_notes (client_code)`,
	`
CREATE TABLE IF NOT EXISTS weekly_plans (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	crm_id TEXT NOT NULL UNIQUE,
	plan_id TEXT NOT NULL,
	client_code TEXT NOT NULL DEFAULT '',
	customer_name TEXT NOT NULL DEFAULT '',
	rep_code TEXT NOT NULL DEFAULT '',
	note TEXT NOT NULL DEFAULT '',
	executive_note TEXT NOT NULL DEFAULT '',
	week TEXT,
	payload TEXT,
	recorded_at DATETIME NOT NULL DEFAULT (datetime('now'))
)`,
	`CREATE INDEX IF NOT EXISTS idx_weekly_plans_plan ON weekly_plans (plan_id)`,
	`
CREATE TABLE IF NOT EXISTS matrix_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	crm_id TEXT NOT NULL,
	client_code TEXT NOT NULL DEFAULT '',
	customer_name TEXT NOT NULL DEFAULT '',
	note TEXT NOT NULL DEFAULT '',
	executive_note TEXT NOT NULL DEFAULT '',
	week TEXT,
	audit_matrix TEXT,
	recorded_at DATETIME NOT NULL DEFAULT (datetime('now'))
)`,
}

// Migrate creates the operational tables.
func (s *SQLite) Migrate(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return eris.Wrap(err, "ops: migrate sqlite schema")
		}
	}
	return nil
}

// ActivityByClient returns this week's visit log per identifier key.
func (s *SQLite) ActivityByClient(ctx context.Context, codes []string, week Week) (map[string][]model.ActivityEntry, error) {
	out := map[string][]model.ActivityEntry{}
	for _, chunk := range chunkStrings(codes, inChunkSize) {
		args := make([]any, 0, len(chunk)+2)
		for _, code := range chunk {
			args = append(args, code)
		}
		args = append(args, week.Start.UTC(), week.End.UTC())

		query := fmt.Sprintf(`SELECT %s FROM field_visits
WHERE client_code IN (%s) AND recorded_at >= ? AND recorded_at < ?
ORDER BY recorded_at DESC`,
			visitColumns, sqlitePlaceholders(len(chunk)))

		rows, err := s.db.QueryContext(ctx, query, args...)
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
func (s *SQLite) WeekActivity(ctx context.Context, week Week) ([]model.ActivityEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM field_visits
WHERE recorded_at >= ? AND recorded_at < ?
ORDER BY recorded_at DESC`, visitColumns)

	rows, err := s.db.QueryContext(ctx, query, week.Start.UTC(), week.End.UTC())
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
func (s *SQLite) AnnotationsByClient(ctx context.Context, codes []string) (map[string]*model.Annotation, error) {
	out := map[string]*model.Annotation{}
	for _, chunk := range chunkStrings(codes, inChunkSize) {
		args := make([]any, len(chunk))
		for i, code := range chunk {
			args[i] = code
		}

		query := fmt.Sprintf(`SELECT client_code, note, executive_note, week_plan
FROM audit_notes WHERE client_code IN (%s)
ORDER BY recorded_at DESC, id DESC`, sqlitePlaceholders(len(chunk)))

		rows, err := s.db.QueryContext(ctx, query, args...)
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
func (s *SQLite) InsertAuditNote(ctx context.Context, in model.AuditNoteInput) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_notes
(crm_id, client_code, customer_name, note, executive_note, week_plan, customer_data)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		in.CRMID, in.ClientCode, in.CustomerName, in.Note, in.ExecutiveNote,
		encodeJSONField(in.WeekPlan), encodeJSONField(stripCustomerData(in.CustomerData)))
	if err != nil {
		return 0, eris.Wrap(err, "ops: insert audit note")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, eris.Wrap(err, "ops: audit note id")
	}
	return id, nil
}

const sqlitePlanUpsert = `INSERT INTO weekly_plans
(crm_id, plan_id, client_code, customer_name, rep_code, note, executive_note, week, payload)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (crm_id) DO UPDATE SET
	plan_id = excluded.plan_id,
	client_code = excluded.client_code,
	customer_name = excluded.customer_name,
	rep_code = excluded.rep_code,
	note = excluded.note,
	executive_note = excluded.executive_note,
	week = excluded.week,
	payload = excluded.payload,
	recorded_at = datetime('now')`

// UpsertPlans writes each record, collecting per-record outcomes instead
// of aborting the batch on the first failure.
func (s *SQLite) UpsertPlans(ctx context.Context, records []model.PlanInput) ([]model.PlanResult, error) {
	batchID := planBatchID(records)
	results := make([]model.PlanResult, 0, len(records))
	for _, rec := range records {
		id := planID(batchID, rec)
		res := model.PlanResult{CRMID: rec.CRMID, ClientCode: rec.ClientCode, PlanID: id}
		_, err := s.db.ExecContext(ctx, sqlitePlanUpsert,
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
func (s *SQLite) ListPlans(ctx context.Context, filter PlanFilter) ([]model.PlanRecord, error) {
	query := `SELECT id, crm_id, plan_id, client_code, customer_name, rep_code,
note, executive_note, week, payload, recorded_at FROM weekly_plans`

	var (
		conds []string
		args  []any
	)
	add := func(col, val string) {
		if val != "" {
			conds = append(conds, col+" = ?")
			args = append(args, val)
		}
	}
	add("plan_id", filter.PlanID)
	add("client_code", filter.ClientCode)
	add("crm_id", filter.CRMID)
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY recorded_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
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
func (s *SQLite) InsertMatrixEntry(ctx context.Context, in model.MatrixInput) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO matrix_entries
(crm_id, client_code, customer_name, note, executive_note, week, audit_matrix)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		in.CRMID, in.ClientCode, in.CustomerName, in.Note, in.ExecutiveNote,
		encodeJSONField(in.Week), encodeJSONField(in.AuditMatrix))
	if err != nil {
		return 0, eris.Wrap(err, "ops: insert matrix entry")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, eris.Wrap(err, "ops: matrix entry id")
	}
	return id, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func sqlitePlaceholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
