// Package model defines the merged-view types shared across the
// reconciliation pipeline and the HTTP layer.
package model

import "github.com/grupocrist/client360/pkg/bitrix"

// FinancialMetrics is the per-customer aggregate computed from the ERP
// ledger on every cycle. Monetary values are currency-converted and
// rounded to 2 decimals; dates are "YYYY-MM-DD". A customer the ERP knows
// but with no transactions carries zeroed balances and nil dates.
type FinancialMetrics struct {
	Login                *string `json:"login"`
	InTransitBalance     float64 `json:"in_transit_balance"`
	OverdueBalance       float64 `json:"overdue_balance"`
	LastPurchaseDate     *string `json:"last_purchase_date"`
	OldestOverdueInvoice *string `json:"oldest_overdue_invoice"`
	LastPaymentNumber    *string `json:"last_payment_number"`
	LastPaymentDate      *string `json:"last_payment_date"`
	MonthSKUCount        int     `json:"month_sku_count"`
	NetSalesThisMonth    float64 `json:"net_sales_this_month"`
	NetSalesLastMonth    float64 `json:"net_sales_last_month"`
	OperatingHours       string  `json:"operating_hours"`
}

// ActivityEntry is one field-visit log row from the operational store,
// scoped to the current week. Kinds holds the deserialized type list, or
// the raw stored text when deserialization fails.
type ActivityEntry struct {
	ClientCode     string  `json:"client_code,omitempty"`
	Kinds          any     `json:"kinds"`
	SaleType       *string `json:"sale_type"`
	SaleNote       *string `json:"sale_note"`
	CollectionType *string `json:"collection_type"`
	CollectionNote *string `json:"collection_note"`
	RecordedAt     string  `json:"recorded_at"`
	Weekday        string  `json:"weekday"`
	Location       *string `json:"location"`
}

// Annotation is the locally authored audit note attached to a customer.
// WeekPlan is the structured weekday plan, or the raw stored text when it
// does not deserialize.
type Annotation struct {
	Note          string `json:"note"`
	ExecutiveNote string `json:"executive_note"`
	WeekPlan      any    `json:"week_plan"`
}

// MergedEntity is the single per-customer view assembled from the three
// sources. Financial and Annotation are nil when that source had nothing
// for the customer; Activity is empty, never nil.
type MergedEntity struct {
	External   bitrix.Record     `json:"crm"`
	Financial  *FinancialMetrics `json:"financial"`
	Activity   []ActivityEntry   `json:"activity"`
	Annotation *Annotation       `json:"annotation"`
}

// AuditNoteInput is a request to persist an audit annotation.
type AuditNoteInput struct {
	CRMID         string         `json:"crm_id"`
	ClientCode    string         `json:"client_code"`
	CustomerName  string         `json:"customer_name"`
	Note          string         `json:"note"`
	ExecutiveNote string         `json:"executive_note"`
	WeekPlan      map[string]any `json:"week_plan"`
	CustomerData  map[string]any `json:"customer_data"`
}

// PlanInput is one weekly-plan record to upsert. PlanID may be empty; the
// store assigns one (shared across a multi-record payload).
type PlanInput struct {
	CRMID         string         `json:"crm_id"`
	PlanID        string         `json:"plan_id"`
	ClientCode    string         `json:"client_code"`
	CustomerName  string         `json:"customer_name"`
	RepCode       string         `json:"rep_code"`
	Note          string         `json:"note"`
	ExecutiveNote string         `json:"executive_note"`
	Week          map[string]any `json:"week"`
	Payload       map[string]any `json:"payload"`
}

// PlanResult is the per-record outcome of a plan upsert batch.
type PlanResult struct {
	CRMID      string `json:"crm_id"`
	ClientCode string `json:"client_code"`
	PlanID     string `json:"plan_id"`
	Error      string `json:"error,omitempty"`
}

// PlanRecord is one persisted weekly plan.
type PlanRecord struct {
	ID            int64  `json:"id"`
	CRMID         string `json:"crm_id"`
	PlanID        string `json:"plan_id"`
	ClientCode    string `json:"client_code"`
	CustomerName  string `json:"customer_name"`
	RepCode       string `json:"rep_code"`
	Note          string `json:"note"`
	ExecutiveNote string `json:"executive_note"`
	Week          any    `json:"week"`
	Payload       any    `json:"payload"`
	RecordedAt    string `json:"recorded_at"`
}

// MatrixInput is one matrix entry to persist.
type MatrixInput struct {
	CRMID         string         `json:"crm_id"`
	ClientCode    string         `json:"client_code"`
	CustomerName  string         `json:"customer_name"`
	Note          string         `json:"note"`
	ExecutiveNote string         `json:"executive_note"`
	Week          map[string]any `json:"week"`
	AuditMatrix   map[string]any `json:"audit_matrix"`
}
