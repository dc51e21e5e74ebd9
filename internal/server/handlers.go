package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/grupocrist/client360/internal/export"
	"github.com/grupocrist/client360/internal/model"
	"github.com/grupocrist/client360/internal/ops"
	"github.com/grupocrist/client360/internal/reconcile"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	body := map[string]any{"success": false, "error": msg}
	if err != nil {
		body["details"] = err.Error()
	}
	writeJSON(w, status, body)
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// ClientsPage serves one merged catalog page. ?start= is the record
// offset, 0 when absent.
func (h *Handler) ClientsPage(w http.ResponseWriter, r *http.Request) {
	start := 0
	if raw := r.URL.Query().Get("start"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid start offset", err)
			return
		}
		start = n
	}

	res, err := h.svc.CompaniesPage(r.Context(), reconcile.PageRequest{Start: start})
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to fetch clients", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   res.Count,
		"total":   res.Total,
		"next":    res.Next,
		"data":    res.Entities,
	})
}

type clientsAllRequest struct {
	Segments []string `json:"segments"`
}

// ClientsAll serves the full merged catalog, optionally narrowed to the
// named segments. The body is optional.
func (h *Handler) ClientsAll(w http.ResponseWriter, r *http.Request) {
	var req clientsAllRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	res, err := h.svc.AllCompanies(r.Context(), reconcile.AllRequest{SegmentLabels: req.Segments})
	if err != nil {
		if strings.Contains(err.Error(), "unknown segment") {
			writeError(w, http.StatusBadRequest, "unknown segment", err)
			return
		}
		writeError(w, http.StatusBadGateway, "failed to fetch clients", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"total":        res.Total,
		"count":        len(res.Entities),
		"time_seconds": res.Elapsed,
		"data":         res.Entities,
	})
}

// ClientsExport streams the merged catalog as a spreadsheet. Repeated
// ?segment= parameters narrow it.
func (h *Handler) ClientsExport(w http.ResponseWriter, r *http.Request) {
	segments := r.URL.Query()["segment"]

	res, err := h.svc.AllCompanies(r.Context(), reconcile.AllRequest{SegmentLabels: segments})
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to fetch clients", err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteXLSX(&buf, res.Entities, h.codeField); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build spreadsheet", err)
		return
	}

	filename := fmt.Sprintf("clientes_%s.xlsx", time.Now().Format("20060102"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// CoordinateAudit serves the ledger-vs-CRM coordinate report, optionally
// filtered by ?zone= and ?segment= codes.
func (h *Handler) CoordinateAudit(w http.ResponseWriter, r *http.Request) {
	req := reconcile.AuditRequest{
		ZoneCode:    r.URL.Query().Get("zone"),
		SegmentCode: r.URL.Query().Get("segment"),
	}

	res, err := h.svc.CoordinateAudit(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to run coordinate audit", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   res.Count,
		"filters": map[string]any{
			"zone":    nullable(req.ZoneCode),
			"segment": nullable(req.SegmentCode),
		},
		"data": res.Items,
	})
}

// VisitsWeek serves the current week's visit log.
func (h *Handler) VisitsWeek(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.WeekActivity(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "visit log unavailable", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(entries),
		"data":    entries,
	})
}

// CreateAuditNote persists one audit annotation.
func (h *Handler) CreateAuditNote(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "operational store not configured", nil)
		return
	}

	var in model.AuditNoteInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if in.CRMID == "" || in.ClientCode == "" {
		writeError(w, http.StatusBadRequest, "crm_id and client_code are required", nil)
		return
	}

	id, err := h.store.InsertAuditNote(r.Context(), in)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save audit note", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "id": id})
}

// SavePlans upserts one plan or a batch of plans. A batch shares one
// plan id. All-failed batches answer 207 with per-record errors.
func (h *Handler) SavePlans(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "operational store not configured", nil)
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	var records []model.PlanInput
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &records); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", err)
			return
		}
	} else {
		var one model.PlanInput
		if err := json.Unmarshal(trimmed, &one); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", err)
			return
		}
		records = []model.PlanInput{one}
	}

	valid := records[:0]
	for _, rec := range records {
		if rec.CRMID != "" {
			valid = append(valid, rec)
		}
	}
	if len(valid) == 0 {
		writeError(w, http.StatusBadRequest, "empty or invalid payload", nil)
		return
	}

	results, err := h.store.UpsertPlans(r.Context(), valid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save plans", err)
		return
	}

	succeeded := 0
	for _, res := range results {
		if res.Error == "" {
			succeeded++
		}
	}
	if succeeded == 0 {
		writeJSON(w, http.StatusMultiStatus, map[string]any{
			"success": false,
			"count":   len(results),
			"data":    results,
		})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"count":   len(results),
		"data":    results,
	})
}

// ListPlans serves stored plans, filtered by ?plan_id=, ?client_code=
// and ?crm_id=.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "operational store not configured", nil)
		return
	}

	q := r.URL.Query()
	plans, err := h.store.ListPlans(r.Context(), ops.PlanFilter{
		PlanID:     q.Get("plan_id"),
		ClientCode: q.Get("client_code"),
		CRMID:      q.Get("crm_id"),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list plans", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(plans),
		"data":    plans,
	})
}

// SaveMatrix persists one matrix entry.
func (h *Handler) SaveMatrix(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "operational store not configured", nil)
		return
	}

	var in model.MatrixInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if in.CRMID == "" {
		writeError(w, http.StatusBadRequest, "crm_id is required", nil)
		return
	}

	id, err := h.store.InsertMatrixEntry(r.Context(), in)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save matrix entry", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"data": map[string]any{
			"id":          id,
			"crm_id":      in.CRMID,
			"client_code": in.ClientCode,
		},
	})
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
