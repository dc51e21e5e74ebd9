package bitrix

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL+"/rest/1/token/", WithRateLimit(1000))
	require.NoError(t, err)
	return c
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New("not a url")
	assert.Error(t, err)
}

func TestList_DecodesPage(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/1/token/crm.company.list.json", r.URL.Path)

		var p ListParams
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		assert.Equal(t, 50, p.Start)
		assert.Contains(t, p.Select, "TITLE")

		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": []map[string]any{
				{"ID": "7", "TITLE": " Acme ", "UF_CODE": "C001"},
				{"ID": 8, "TITLE": "Beta", "UF_CODE": nil},
			},
			"total": 130,
			"next":  100,
		})
	}))

	res, err := c.List(context.Background(), ListParams{
		Select: []string{"ID", "TITLE", "UF_CODE"},
		Filter: Filter{}.Exclude("UF_KIND", []string{"921", "3135"}),
		Start:  50,
	})
	require.NoError(t, err)

	assert.Equal(t, 130, res.Total)
	require.NotNil(t, res.Next)
	assert.Equal(t, 100, *res.Next)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "7", res.Records[0].ID)
	assert.Equal(t, " Acme ", res.Records[0].Title)
	assert.Equal(t, "C001", res.Records[0].StringField("UF_CODE"))
	assert.Equal(t, "8", res.Records[1].ID, "numeric IDs are coerced")
}

func TestList_APIError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":             "QUERY_LIMIT_EXCEEDED",
			"error_description": "Too many requests",
		})
	}))

	_, err := c.List(context.Background(), ListParams{Start: 0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QUERY_LIMIT_EXCEEDED")
}

func TestCall_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"result": []map[string]any{}, "total": 0})
	}))

	_, err := c.List(context.Background(), ListParams{Start: 0})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFields_ItemsAndListVariants(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{
				"UF_SEGMENT": map[string]any{
					"title": "Segmento",
					"type":  "enumeration",
					"items": []map[string]any{{"ID": 101, "VALUE": "Capital"}},
				},
				"UF_KIND": map[string]any{
					"title": "Tipo",
					"LIST":  []map[string]any{{"ID": "921", "VALUE": "Interno"}},
				},
			},
		})
	}))

	defs, err := c.Fields(context.Background())
	require.NoError(t, err)

	seg := defs["UF_SEGMENT"].Enumeration()
	require.Len(t, seg, 1)
	assert.Equal(t, "101", seg[0].ID)
	assert.Equal(t, "Capital", seg[0].Value)

	kind := defs["UF_KIND"].Enumeration()
	require.Len(t, kind, 1)
	assert.Equal(t, "921", kind[0].ID)
}

func TestBatch_PartialErrors(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Halt int               `json:"halt"`
			Cmd  map[string]string `json:"cmd"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 0, body.Halt)
		assert.Len(t, body.Cmd, 2)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{
				"result": map[string]any{
					"cmd_0": []map[string]any{{"ID": "1", "TITLE": "A"}},
				},
				"result_error": map[string]any{
					"cmd_1": map[string]any{"error": "INTERNAL", "error_description": "upstream hiccup"},
				},
			},
		})
	}))

	res, err := c.Batch(context.Background(), BatchRequest{Commands: map[string]string{
		"cmd_0": ListCommand(0, []string{"ID", "TITLE"}, nil),
		"cmd_1": ListCommand(50, []string{"ID", "TITLE"}, nil),
	}})
	require.NoError(t, err)

	require.Len(t, res.Lists["cmd_0"], 1)
	assert.Equal(t, "upstream hiccup", res.Errors["cmd_1"])
	assert.NotContains(t, res.Lists, "cmd_1")
}

func TestBatch_EmptyErrorArray(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{
				"result":       map[string]any{"cmd_0": []map[string]any{}},
				"result_error": []any{},
			},
		})
	}))

	res, err := c.Batch(context.Background(), BatchRequest{Commands: map[string]string{"cmd_0": "crm.company.list?start=0"}})
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
}

func TestBatch_TooManyCommands(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())

	cmds := make(map[string]string, MaxBatchCommands+1)
	for i := range MaxBatchCommands + 1 {
		cmds[ListCommandName(i)] = "crm.company.list?start=0"
	}
	_, err := c.Batch(context.Background(), BatchRequest{Commands: cmds})
	assert.Error(t, err)
}

func TestListCommand_Encoding(t *testing.T) {
	cmd := ListCommand(150, []string{"ID", "UF_CODE"}, Filter{}.
		Exclude("UF_KIND", []string{"921", "3135"}).
		Include("UF_SEGMENT", []string{"101"}))

	assert.Contains(t, cmd, "crm.company.list?")
	assert.Contains(t, cmd, "start=150")
	assert.Contains(t, cmd, "select%5B%5D=ID")
	assert.Contains(t, cmd, "select%5B%5D=UF_CODE")
	assert.Contains(t, cmd, "filter%5B%21UF_KIND%5D%5B%5D=921")
	assert.Contains(t, cmd, "filter%5B%21UF_KIND%5D%5B%5D=3135")
	assert.Contains(t, cmd, "filter%5BUF_SEGMENT%5D%5B%5D=101")
}

func TestRecord_MarshalRoundTrip(t *testing.T) {
	rec := Record{ID: "9", Title: "Acme", Fields: map[string]any{"UF_CODE": "C9"}}
	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var back Record
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, rec.ID, back.ID)
	assert.Equal(t, rec.Title, back.Title)
	assert.Equal(t, "C9", back.StringField("UF_CODE"))
}
