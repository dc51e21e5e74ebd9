package bitrix

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
)

// Filter is the CRM list filter predicate. Keys are field names, optionally
// prefixed with "!" for exclusion; values are a single code or a code list.
type Filter map[string]any

// Exclude adds a NOT-IN predicate on field.
func (f Filter) Exclude(field string, codes []string) Filter {
	f["!"+field] = codes
	return f
}

// Include adds an IN predicate on field.
func (f Filter) Include(field string, codes []string) Filter {
	f[field] = codes
	return f
}

// Clone returns a shallow copy so per-request additions don't leak into a
// shared base filter.
func (f Filter) Clone() Filter {
	out := make(Filter, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// ListParams describes one crm.company.list call.
type ListParams struct {
	Select []string `json:"select,omitempty"`
	Filter Filter   `json:"filter,omitempty"`
	Start  int      `json:"start"`
}

// ListResult is one page of companies. Next is nil on the last page, but
// the upstream occasionally omits it on a full page; callers fall back to
// offset arithmetic.
type ListResult struct {
	Records []Record `json:"result"`
	Total   int      `json:"total"`
	Next    *int     `json:"next"`
}

// List fetches one page of companies.
func (c *Client) List(ctx context.Context, p ListParams) (*ListResult, error) {
	var out ListResult
	if err := c.call(ctx, "crm.company.list", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Fields fetches the company field definitions (labels and enumerations).
func (c *Client) Fields(ctx context.Context) (FieldDefinitions, error) {
	var out struct {
		Result FieldDefinitions `json:"result"`
	}
	if err := c.call(ctx, "crm.company.fields", nil, &out); err != nil {
		return nil, err
	}
	return out.Result, nil
}

// BatchRequest is a multi-command request. With Halt false a failing
// sub-command does not abort its siblings.
type BatchRequest struct {
	Halt     bool
	Commands map[string]string
}

// BatchResult carries per-command record lists and per-command errors.
// A command present in neither map simply contributed nothing.
type BatchResult struct {
	Lists  map[string][]Record
	Errors map[string]string
}

// Batch executes up to MaxBatchCommands named sub-commands in one call.
func (c *Client) Batch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if len(req.Commands) == 0 {
		return &BatchResult{Lists: map[string][]Record{}, Errors: map[string]string{}}, nil
	}
	if len(req.Commands) > MaxBatchCommands {
		return nil, fmt.Errorf("bitrix: batch of %d commands exceeds limit %d", len(req.Commands), MaxBatchCommands)
	}

	halt := 0
	if req.Halt {
		halt = 1
	}
	body := map[string]any{"halt": halt, "cmd": req.Commands}

	var out struct {
		Result struct {
			Result      map[string][]Record `json:"result"`
			ResultError json.RawMessage     `json:"result_error"`
		} `json:"result"`
	}
	if err := c.call(ctx, "batch", body, &out); err != nil {
		return nil, err
	}

	res := &BatchResult{
		Lists:  out.Result.Result,
		Errors: decodeBatchErrors(out.Result.ResultError),
	}
	if res.Lists == nil {
		res.Lists = map[string][]Record{}
	}
	return res, nil
}

// decodeBatchErrors tolerates the two shapes the upstream emits: a map of
// command name to error object, or an empty array when nothing failed.
func decodeBatchErrors(raw json.RawMessage) map[string]string {
	out := map[string]string{}
	if len(raw) == 0 {
		return out
	}
	var errs map[string]apiError
	if err := json.Unmarshal(raw, &errs); err != nil {
		return out
	}
	for cmd, e := range errs {
		if e.Description != "" {
			out[cmd] = e.Description
		} else {
			out[cmd] = e.Code
		}
	}
	return out
}

// ListCommandName names the i-th sub-command of a batch request.
func ListCommandName(i int) string {
	return fmt.Sprintf("cmd_%d", i)
}

// ListCommand renders a crm.company.list call as a batch sub-command query
// string. Filter keys are emitted in sorted order so command strings are
// deterministic.
func ListCommand(start int, selectFields []string, filter Filter) string {
	v := url.Values{}
	v.Set("start", fmt.Sprintf("%d", start))
	for _, f := range selectFields {
		v.Add("select[]", f)
	}

	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch val := filter[k].(type) {
		case []string:
			for _, code := range val {
				v.Add(fmt.Sprintf("filter[%s][]", k), code)
			}
		case []any:
			for _, code := range val {
				v.Add(fmt.Sprintf("filter[%s][]", k), asString(code))
			}
		default:
			v.Add(fmt.Sprintf("filter[%s]", k), asString(val))
		}
	}

	return "crm.company.list?" + v.Encode()
}
