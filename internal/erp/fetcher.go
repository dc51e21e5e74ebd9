// Package erp computes per-customer financial aggregates from the ERP
// ledger. Identifier batches are staged into a temp table and joined, so
// arbitrarily large batches never hit parameter-count limits.
package erp

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/grupocrist/client360/internal/db"
	"github.com/grupocrist/client360/internal/ident"
	"github.com/grupocrist/client360/internal/model"
)

const (
	// DefaultChunkSize keeps a single temp-table load comfortably sized.
	DefaultChunkSize = 900
	// DefaultConcurrency bounds simultaneous chunk transactions so the
	// ledger pool is never saturated.
	DefaultConcurrency = 3
)

// businessZone is the fixed local offset the ledger operates in. Month
// windows are computed against it, not against server time.
var businessZone = time.FixedZone("UTC-4", -4*3600)

// Fetcher reads financial aggregates from the ledger database.
type Fetcher struct {
	pool        db.Pool
	chunkSize   int
	concurrency int
	now         func() time.Time
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithChunkSize overrides the identifiers-per-transaction chunk size.
func WithChunkSize(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.chunkSize = n
		}
	}
}

// WithConcurrency overrides the simultaneous chunk limit.
func WithConcurrency(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.concurrency = n
		}
	}
}

// WithClock replaces the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// NewFetcher creates a Fetcher on the given pool.
func NewFetcher(pool db.Pool, opts ...Option) *Fetcher {
	f := &Fetcher{
		pool:        pool,
		chunkSize:   DefaultChunkSize,
		concurrency: DefaultConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// monthWindows returns now plus the first-of-month boundaries for the
// current and previous months, in the ledger's local offset.
func monthWindows(now time.Time) (today, monthStart, nextMonthStart, lastMonthStart time.Time) {
	local := now.In(businessZone)
	monthStart = time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, businessZone)
	nextMonthStart = monthStart.AddDate(0, 1, 0)
	lastMonthStart = monthStart.AddDate(0, -1, 0)
	return local, monthStart, nextMonthStart, lastMonthStart
}

// metricsQuery aggregates one staged chunk in a single pass. Every
// monetary sum divides by NULLIF(exchange_rate, 0) so a missing rate
// contributes zero instead of erroring, and the final join starts from
// the staged identifier list so customers without transactions still
// produce a zeroed row.
const metricsQuery = `
WITH invoice_summary AS (
    SELECT i.customer_code,
           ROUND(SUM(CASE WHEN i.due_date >= $1 AND i.balance > 0
                          THEN i.balance / NULLIF(i.exchange_rate, 0) ELSE 0 END)::numeric, 2) AS in_transit,
           ROUND(SUM(CASE WHEN i.due_date < $1 AND i.balance > 0
                          THEN i.balance / NULLIF(i.exchange_rate, 0) ELSE 0 END)::numeric, 2) AS overdue,
           MAX(i.issued_at) AS last_purchase,
           ROUND(SUM(CASE WHEN i.issued_at >= $2 AND i.issued_at < $3
                          THEN i.net_total / NULLIF(i.exchange_rate, 0) ELSE 0 END)::numeric, 2) AS sales_this_month,
           ROUND(SUM(CASE WHEN i.issued_at >= $4 AND i.issued_at < $2
                          THEN i.net_total / NULLIF(i.exchange_rate, 0) ELSE 0 END)::numeric, 2) AS sales_last_month
    FROM invoices i
    JOIN batch_customers bc ON i.customer_code = bc.code
    WHERE NOT i.voided
    GROUP BY i.customer_code
),
sku_summary AS (
    SELECT i.customer_code, COUNT(DISTINCT l.sku) AS sku_count
    FROM invoices i
    JOIN invoice_lines l ON l.doc_number = i.doc_number
    JOIN batch_customers bc ON i.customer_code = bc.code
    WHERE i.issued_at >= $2 AND i.issued_at < $3 AND NOT i.voided
    GROUP BY i.customer_code
),
oldest_overdue AS (
    SELECT customer_code, doc_number FROM (
        SELECT i.customer_code, i.doc_number,
               ROW_NUMBER() OVER (PARTITION BY i.customer_code ORDER BY i.due_date ASC) AS rn
        FROM invoices i
        JOIN batch_customers bc ON i.customer_code = bc.code
        WHERE i.balance > 0 AND NOT i.voided
    ) t WHERE rn = 1
),
last_payment AS (
    SELECT customer_code, doc_number, paid_at FROM (
        SELECT p.customer_code, p.doc_number, p.paid_at,
               ROW_NUMBER() OVER (PARTITION BY p.customer_code ORDER BY p.paid_at DESC) AS rn
        FROM payments p
        JOIN batch_customers bc ON p.customer_code = bc.code
        WHERE NOT p.voided
    ) t WHERE rn = 1
)
SELECT bc.code,
       c.login,
       COALESCE(c.operating_hours, '') AS operating_hours,
       COALESCE(inv.in_transit, 0) AS in_transit,
       COALESCE(inv.overdue, 0) AS overdue,
       to_char(inv.last_purchase, 'YYYY-MM-DD') AS last_purchase,
       COALESCE(inv.sales_this_month, 0) AS sales_this_month,
       COALESCE(inv.sales_last_month, 0) AS sales_last_month,
       COALESCE(sku.sku_count, 0) AS sku_count,
       oo.doc_number AS oldest_overdue_doc,
       lp.doc_number AS last_payment_doc,
       to_char(lp.paid_at, 'YYYY-MM-DD') AS last_payment_date
FROM batch_customers bc
LEFT JOIN customers c ON c.code = bc.code
LEFT JOIN invoice_summary inv ON inv.customer_code = bc.code
LEFT JOIN sku_summary sku ON sku.customer_code = bc.code
LEFT JOIN oldest_overdue oo ON oo.customer_code = bc.code
LEFT JOIN last_payment lp ON lp.customer_code = bc.code`

// FetchMetrics computes financial aggregates for the given identifiers,
// keyed by normalized identifier key. A failed chunk is logged and its
// identifiers are simply absent from the result; the merge treats them
// as having no financial facet.
func (f *Fetcher) FetchMetrics(ctx context.Context, codes []string) map[string]model.FinancialMetrics {
	set := ident.NewSet()
	for _, code := range codes {
		set.Add(code)
	}
	unique := set.Displays()

	out := make(map[string]model.FinancialMetrics, len(unique))
	if len(unique) == 0 {
		return out
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)

	for start := 0; start < len(unique); start += f.chunkSize {
		chunk := unique[start:min(start+f.chunkSize, len(unique))]
		g.Go(func() error {
			metrics, err := f.fetchChunk(gctx, chunk)
			if err != nil {
				zap.L().Error("erp: chunk failed, identifiers skipped",
					zap.Int("size", len(chunk)),
					zap.Error(err),
				)
				return nil
			}
			mu.Lock()
			for k, v := range metrics {
				out[k] = v
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return out
}

func (f *Fetcher) fetchChunk(ctx context.Context, chunk []string) (map[string]model.FinancialMetrics, error) {
	tx, err := f.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "erp: begin chunk tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rows := make([][]any, len(chunk))
	for i, code := range chunk {
		rows[i] = []any{strings.TrimSpace(code)}
	}
	if _, err := db.LoadTempTable(ctx, tx, "batch_customers",
		[]string{"code text PRIMARY KEY"}, []string{"code"}, rows); err != nil {
		return nil, err
	}

	today, monthStart, nextMonthStart, lastMonthStart := monthWindows(f.now())
	res, err := tx.Query(ctx, metricsQuery, today, monthStart, nextMonthStart, lastMonthStart)
	if err != nil {
		return nil, eris.Wrap(err, "erp: metrics query")
	}

	out := make(map[string]model.FinancialMetrics, len(chunk))
	for res.Next() {
		var (
			code, hours                     string
			login                           *string
			lastPurchase, oldestOverdueDoc  *string
			lastPaymentDoc, lastPaymentDate *string
			m                               model.FinancialMetrics
		)
		if err := res.Scan(&code, &login, &hours,
			&m.InTransitBalance, &m.OverdueBalance, &lastPurchase,
			&m.NetSalesThisMonth, &m.NetSalesLastMonth, &m.MonthSKUCount,
			&oldestOverdueDoc, &lastPaymentDoc, &lastPaymentDate); err != nil {
			res.Close()
			return nil, eris.Wrap(err, "erp: scan metrics row")
		}

		m.Login = trimPtr(login)
		m.OperatingHours = strings.TrimSpace(hours)
		m.LastPurchaseDate = trimPtr(lastPurchase)
		m.OldestOverdueInvoice = trimPtr(oldestOverdueDoc)
		m.LastPaymentNumber = trimPtr(lastPaymentDoc)
		m.LastPaymentDate = trimPtr(lastPaymentDate)

		out[ident.Key(code)] = m
	}
	res.Close()
	if err := res.Err(); err != nil {
		return nil, eris.Wrap(err, "erp: iterate metrics rows")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "erp: commit chunk tx")
	}
	return out, nil
}

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}
