package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grupocrist/client360/internal/model"
	"github.com/grupocrist/client360/internal/ops"
	"github.com/grupocrist/client360/internal/reconcile"
	"github.com/grupocrist/client360/pkg/bitrix"
)

type stubReconciler struct {
	page      *reconcile.PageResult
	bulk      *reconcile.BulkResult
	audit     *reconcile.AuditResult
	visits    []model.ActivityEntry
	err       error
	lastStart int
	lastAll   reconcile.AllRequest
}

func (s *stubReconciler) CompaniesPage(_ context.Context, req reconcile.PageRequest) (*reconcile.PageResult, error) {
	s.lastStart = req.Start
	return s.page, s.err
}

func (s *stubReconciler) AllCompanies(_ context.Context, req reconcile.AllRequest) (*reconcile.BulkResult, error) {
	s.lastAll = req
	return s.bulk, s.err
}

func (s *stubReconciler) CoordinateAudit(_ context.Context, req reconcile.AuditRequest) (*reconcile.AuditResult, error) {
	return s.audit, s.err
}

func (s *stubReconciler) WeekActivity(context.Context) ([]model.ActivityEntry, error) {
	return s.visits, s.err
}

func newTestServer(t *testing.T, svc Reconciler, store ops.Store) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewRouter(NewHandler(svc, store, "UF_CODE"), []string{"*"}))
	t.Cleanup(srv.Close)
	return srv
}

func newOpsStore(t *testing.T) *ops.SQLite {
	t.Helper()
	s, err := ops.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func sampleEntities() []model.MergedEntity {
	return []model.MergedEntity{{
		External: bitrix.Record{ID: "1", Title: "Bodega Central",
			Fields: map[string]any{"UF_CODE": "c001"}},
		Activity: []model.ActivityEntry{},
	}}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &stubReconciler{}, nil)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decodeBody(t, resp)["status"])
}

func TestClientsPage(t *testing.T) {
	next := 100
	stub := &stubReconciler{page: &reconcile.PageResult{
		Entities: sampleEntities(), Count: 1, Total: 130, Next: &next,
	}}
	srv := newTestServer(t, stub, nil)

	resp, err := http.Get(srv.URL + "/api/clients?start=50")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(130), body["total"])
	assert.Equal(t, float64(100), body["next"])
	assert.Equal(t, 50, stub.lastStart)

	data := body["data"].([]any)
	require.Len(t, data, 1)
	crm := data[0].(map[string]any)["crm"].(map[string]any)
	assert.Equal(t, "Bodega Central", crm["TITLE"])
}

func TestClientsPage_InvalidStart(t *testing.T) {
	srv := newTestServer(t, &stubReconciler{}, nil)
	resp, err := http.Get(srv.URL + "/api/clients?start=abc")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestClientsPage_UpstreamFailure(t *testing.T) {
	srv := newTestServer(t, &stubReconciler{err: eris.New("bitrix: retries exhausted")}, nil)
	resp, err := http.Get(srv.URL + "/api/clients")
	require.NoError(t, err)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["details"], "retries exhausted")
}

func TestClientsAll_Segments(t *testing.T) {
	stub := &stubReconciler{bulk: &reconcile.BulkResult{
		Entities: sampleEntities(), Total: 1, Elapsed: 0.42,
	}}
	srv := newTestServer(t, stub, nil)

	resp, err := http.Post(srv.URL+"/api/clients/all", "application/json",
		strings.NewReader(`{"segments":["Capital"]}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, float64(1), body["total"])
	assert.Equal(t, 0.42, body["time_seconds"])
	assert.Equal(t, []string{"Capital"}, stub.lastAll.SegmentLabels)
}

func TestClientsAll_EmptyBody(t *testing.T) {
	stub := &stubReconciler{bulk: &reconcile.BulkResult{Entities: sampleEntities(), Total: 1}}
	srv := newTestServer(t, stub, nil)

	resp, err := http.Post(srv.URL+"/api/clients/all", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, stub.lastAll.SegmentLabels)
}

func TestClientsAll_UnknownSegment(t *testing.T) {
	stub := &stubReconciler{err: eris.New(`catalog: unknown segment "nope"`)}
	srv := newTestServer(t, stub, nil)

	resp, err := http.Post(srv.URL+"/api/clients/all", "application/json",
		strings.NewReader(`{"segments":["nope"]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestClientsExport(t *testing.T) {
	stub := &stubReconciler{bulk: &reconcile.BulkResult{Entities: sampleEntities(), Total: 1}}
	srv := newTestServer(t, stub, nil)

	resp, err := http.Get(srv.URL + "/api/clients/export?segment=Capital")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "spreadsheetml")
	assert.Contains(t, resp.Header.Get("Content-Disposition"), ".xlsx")
	assert.Equal(t, []string{"Capital"}, stub.lastAll.SegmentLabels)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.NotZero(t, buf.Len())
}

func TestCoordinateAudit(t *testing.T) {
	stub := &stubReconciler{audit: &reconcile.AuditResult{Count: 0, Items: []reconcile.AuditItem{}}}
	srv := newTestServer(t, stub, nil)

	resp, err := http.Get(srv.URL + "/api/coordinate-audit?zone=Z1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	filters := body["filters"].(map[string]any)
	assert.Equal(t, "Z1", filters["zone"])
	assert.Nil(t, filters["segment"])
}

func TestVisitsWeek_Unavailable(t *testing.T) {
	stub := &stubReconciler{err: eris.New("reconcile: operational store not configured")}
	srv := newTestServer(t, stub, nil)

	resp, err := http.Get(srv.URL + "/api/visits/week")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestCreateAuditNote(t *testing.T) {
	srv := newTestServer(t, &stubReconciler{}, newOpsStore(t))

	resp, err := http.Post(srv.URL+"/api/audit-notes", "application/json",
		strings.NewReader(`{"crm_id":"7","client_code":"c001","note":"revisar"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(1), body["id"])
}

func TestCreateAuditNote_MissingFields(t *testing.T) {
	srv := newTestServer(t, &stubReconciler{}, newOpsStore(t))

	resp, err := http.Post(srv.URL+"/api/audit-notes", "application/json",
		strings.NewReader(`{"note":"sin ids"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateAuditNote_NoStore(t *testing.T) {
	srv := newTestServer(t, &stubReconciler{}, nil)

	resp, err := http.Post(srv.URL+"/api/audit-notes", "application/json",
		strings.NewReader(`{"crm_id":"7","client_code":"c001"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestSavePlans_SingleObject(t *testing.T) {
	srv := newTestServer(t, &stubReconciler{}, newOpsStore(t))

	resp, err := http.Post(srv.URL+"/api/plans", "application/json",
		strings.NewReader(`{"crm_id":"1","client_code":"c001","note":"plan"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, float64(1), body["count"])
}

func TestSavePlans_ArraySharesPlanID(t *testing.T) {
	store := newOpsStore(t)
	srv := newTestServer(t, &stubReconciler{}, store)

	resp, err := http.Post(srv.URL+"/api/plans", "application/json",
		strings.NewReader(`[{"crm_id":"1","client_code":"c001"},{"crm_id":"2","client_code":"c002"}]`))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decodeBody(t, resp)
	data := body["data"].([]any)
	require.Len(t, data, 2)
	first := data[0].(map[string]any)["plan_id"]
	second := data[1].(map[string]any)["plan_id"]
	assert.NotEmpty(t, first)
	assert.Equal(t, first, second)
}

func TestSavePlans_EmptyPayload(t *testing.T) {
	srv := newTestServer(t, &stubReconciler{}, newOpsStore(t))

	resp, err := http.Post(srv.URL+"/api/plans", "application/json",
		strings.NewReader(`[{}]`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListPlans(t *testing.T) {
	store := newOpsStore(t)
	_, err := store.UpsertPlans(context.Background(), []model.PlanInput{
		{CRMID: "1", PlanID: "p-1", ClientCode: "c001"},
		{CRMID: "2", PlanID: "p-1", ClientCode: "c002"},
	})
	require.NoError(t, err)
	srv := newTestServer(t, &stubReconciler{}, store)

	resp, err := http.Get(srv.URL + "/api/plans?client_code=c002")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, float64(1), body["count"])
}

func TestSaveMatrix(t *testing.T) {
	srv := newTestServer(t, &stubReconciler{}, newOpsStore(t))

	resp, err := http.Post(srv.URL+"/api/matrix", "application/json",
		strings.NewReader(`{"crm_id":"9","client_code":"c001","audit_matrix":{"exhibicion":"ok"}}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decodeBody(t, resp)
	data := body["data"].(map[string]any)
	assert.Equal(t, "9", data["crm_id"])
	assert.Equal(t, float64(1), data["id"])
}
