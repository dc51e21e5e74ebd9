// Package catalog fetches the CRM company catalog: single pages for
// interactive browsing and the batched full export, with coded field
// values translated to their human labels.
package catalog

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/grupocrist/client360/pkg/bitrix"
)

// API is the CRM surface the catalog needs. *bitrix.Client satisfies it.
type API interface {
	List(ctx context.Context, p bitrix.ListParams) (*bitrix.ListResult, error)
	Fields(ctx context.Context) (bitrix.FieldDefinitions, error)
	Batch(ctx context.Context, req bitrix.BatchRequest) (*bitrix.BatchResult, error)
}

// Config names the CRM custom fields the pipeline keys on and the codes
// excluded from every fetch.
type Config struct {
	CodeField    string
	SegmentField string
	CoordField   string
	ExcludeField string
	ExcludeCodes []string
	Fields       []string
	CacheTTL     time.Duration
}

// DefaultConfig returns the field bindings of the production portal.
func DefaultConfig() Config {
	return Config{
		CodeField:    "UF_CRM_1634787828",
		SegmentField: "UF_CRM_1635903069",
		CoordField:   "UF_CRM_1651251237102",
		ExcludeField: "UF_CRM_1638457710",
		ExcludeCodes: []string{"921", "3135"},
		Fields: []string{
			"ID", "TITLE",
			"UF_CRM_1634787828", "UF_CRM_1635903069", "UF_CRM_1638457710",
			"UF_CRM_1651251237102", "UF_CRM_1637672958", "UF_CRM_1638459399",
			"UF_CRM_1639591908", "UF_CRM_1652446242",
		},
		CacheTTL: 5 * time.Minute,
	}
}

// Fetcher reads companies from the CRM and translates their coded values.
type Fetcher struct {
	api API
	cfg Config
}

// NewFetcher creates a Fetcher.
func NewFetcher(api API, cfg Config) *Fetcher {
	return &Fetcher{api: api, cfg: cfg}
}

// Config returns the field bindings the fetcher was built with.
func (f *Fetcher) Config() Config { return f.cfg }

// baseFilter is the exclusion predicate applied to every list call.
func (f *Fetcher) baseFilter() bitrix.Filter {
	flt := bitrix.Filter{}
	if f.cfg.ExcludeField != "" && len(f.cfg.ExcludeCodes) > 0 {
		flt.Exclude(f.cfg.ExcludeField, f.cfg.ExcludeCodes)
	}
	return flt
}

// Page is one translated catalog page.
type Page struct {
	Records []bitrix.Record
	Total   int
	Next    *int
}

// FetchPage fetches one page at the given offset, translating values as
// it goes. The field metadata is fetched alongside the page so labels
// are never stale.
func (f *Fetcher) FetchPage(ctx context.Context, start int) (*Page, error) {
	var (
		list *bitrix.ListResult
		defs bitrix.FieldDefinitions
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		list, err = f.api.List(gctx, bitrix.ListParams{
			Select: f.cfg.Fields,
			Filter: f.baseFilter(),
			Start:  start,
		})
		return err
	})
	g.Go(func() error {
		var err error
		defs, err = f.api.Fields(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "catalog: fetch page")
	}

	table := NewTranslationTable(defs)
	records := make([]bitrix.Record, len(list.Records))
	for i, rec := range list.Records {
		records[i] = table.Translate(rec)
	}

	next := list.Next
	if next == nil && len(list.Records) == bitrix.PageSize {
		// The upstream sometimes omits "next" on a full page.
		n := start + len(list.Records)
		next = &n
	}

	return &Page{Records: records, Total: list.Total, Next: next}, nil
}

// Snapshot is the full translated catalog plus the metadata the caller
// needs to interpret it.
type Snapshot struct {
	Records []bitrix.Record
	Total   int
	Table   *TranslationTable
}

// FetchAll fetches the whole catalog via the batch endpoint. extra is an
// additional inclusion filter (segment codes) merged with the standing
// exclusion; pass nil for the unfiltered catalog. Individual page
// failures inside a batch are logged and contribute nothing; only the
// metadata and count calls are fatal.
func (f *Fetcher) FetchAll(ctx context.Context, extra bitrix.Filter) (*Snapshot, error) {
	filter := f.baseFilter()
	for k, v := range extra {
		filter[k] = v
	}

	var (
		defs  bitrix.FieldDefinitions
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		defs, err = f.api.Fields(gctx)
		return err
	})
	g.Go(func() error {
		head, err := f.api.List(gctx, bitrix.ListParams{
			Select: []string{"ID"},
			Filter: filter,
			Start:  0,
		})
		if err != nil {
			return err
		}
		total = head.Total
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "catalog: fetch catalog metadata")
	}

	table := NewTranslationTable(defs)
	if total == 0 {
		return &Snapshot{Records: []bitrix.Record{}, Total: 0, Table: table}, nil
	}

	// One command per page offset, grouped into batch calls.
	offsets := make([]int, 0, (total+bitrix.PageSize-1)/bitrix.PageSize)
	for start := 0; start < total; start += bitrix.PageSize {
		offsets = append(offsets, start)
	}

	pages := make([][]bitrix.Record, len(offsets))
	bg, bctx := errgroup.WithContext(ctx)
	for batchStart := 0; batchStart < len(offsets); batchStart += bitrix.MaxBatchCommands {
		batchEnd := min(batchStart+bitrix.MaxBatchCommands, len(offsets))

		cmds := make(map[string]string, batchEnd-batchStart)
		index := make(map[string]int, batchEnd-batchStart)
		for i := batchStart; i < batchEnd; i++ {
			name := bitrix.ListCommandName(i)
			cmds[name] = bitrix.ListCommand(offsets[i], f.cfg.Fields, filter)
			index[name] = i
		}

		bg.Go(func() error {
			res, err := f.api.Batch(bctx, bitrix.BatchRequest{Commands: cmds})
			if err != nil {
				zap.L().Error("catalog: batch call failed, pages skipped",
					zap.Int("commands", len(cmds)),
					zap.Error(err),
				)
				return nil
			}
			for name, msg := range res.Errors {
				zap.L().Warn("catalog: page command failed",
					zap.String("command", name),
					zap.String("error", msg),
				)
			}
			for name, recs := range res.Lists {
				if i, ok := index[name]; ok {
					pages[i] = recs
				}
			}
			return nil
		})
	}
	if err := bg.Wait(); err != nil {
		return nil, eris.Wrap(err, "catalog: batch fan-out")
	}

	records := make([]bitrix.Record, 0, total)
	for _, page := range pages {
		for _, rec := range page {
			records = append(records, table.Translate(rec))
		}
	}

	return &Snapshot{Records: records, Total: total, Table: table}, nil
}

// ResolveSegments maps human segment labels to their enumeration codes,
// matching case- and accent-insensitively. Unknown labels are an error
// listing what was available.
func (f *Fetcher) ResolveSegments(ctx context.Context, labels []string) ([]string, error) {
	defs, err := f.api.Fields(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: fetch field metadata")
	}
	table := NewTranslationTable(defs)
	return table.SegmentCodes(f.cfg.SegmentField, labels)
}

// CoordinateIndex maps customer code key to the CRM record ID and the raw
// coordinate field value, for the coordinate audit join.
type CoordinateIndex map[string]CoordinateEntry

// CoordinateEntry is one customer's CRM-side coordinate data.
type CoordinateEntry struct {
	CRMID string
	Raw   string
}

// Coordinates reduces a snapshot to a code-keyed coordinate index.
// Records without a code are skipped.
func (s *Snapshot) Coordinates(codeField, coordField string, key func(string) string) CoordinateIndex {
	out := make(CoordinateIndex, len(s.Records))
	for _, rec := range s.Records {
		k := key(rec.StringField(codeField))
		if k == "" {
			continue
		}
		if _, seen := out[k]; seen {
			continue
		}
		out[k] = CoordinateEntry{CRMID: rec.ID, Raw: rec.StringField(coordField)}
	}
	return out
}
