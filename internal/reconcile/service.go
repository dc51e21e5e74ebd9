package reconcile

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/grupocrist/client360/internal/catalog"
	"github.com/grupocrist/client360/internal/erp"
	"github.com/grupocrist/client360/internal/model"
	"github.com/grupocrist/client360/internal/ops"
	"github.com/grupocrist/client360/pkg/bitrix"
)

// FinancialSource computes ERP aggregates for a batch of identifiers.
type FinancialSource interface {
	FetchMetrics(ctx context.Context, codes []string) map[string]model.FinancialMetrics
	Customers(ctx context.Context, zoneCode, segmentCode string) ([]erp.Customer, error)
}

// Service coordinates the sources. The ERP and operational sources may
// be nil when their backends are not configured; merged entities then
// simply lack those facets. Only the CRM catalog is mandatory.
type Service struct {
	catalog *catalog.Fetcher
	erp     FinancialSource
	ops     ops.Store
	cache   *catalog.Cache[*catalog.Snapshot]
	now     func() time.Time
}

// NewService wires a Service. erpSrc and store may be nil.
func NewService(cat *catalog.Fetcher, erpSrc FinancialSource, store ops.Store) *Service {
	return &Service{
		catalog: cat,
		erp:     erpSrc,
		ops:     store,
		cache:   catalog.NewCache[*catalog.Snapshot](cat.Config().CacheTTL),
		now:     time.Now,
	}
}

// PageRequest asks for one catalog page.
type PageRequest struct {
	Start int
}

// PageResult is one merged page.
type PageResult struct {
	Entities []model.MergedEntity
	Count    int
	Total    int
	Next     *int
}

// CompaniesPage merges one catalog page with the other sources.
func (s *Service) CompaniesPage(ctx context.Context, req PageRequest) (*PageResult, error) {
	page, err := s.catalog.FetchPage(ctx, req.Start)
	if err != nil {
		return nil, err
	}

	fin, act, ann := s.fetchFacets(ctx, codesOf(page.Records, s.catalog.Config().CodeField))
	entities := Merge(page.Records, s.catalog.Config().CodeField, fin, act, ann)

	return &PageResult{
		Entities: entities,
		Count:    len(entities),
		Total:    page.Total,
		Next:     page.Next,
	}, nil
}

// AllRequest asks for the full merged catalog, optionally narrowed to
// the named segments.
type AllRequest struct {
	SegmentLabels []string
}

// BulkResult is the full merged catalog.
type BulkResult struct {
	Entities []model.MergedEntity
	Total    int
	Elapsed  float64
}

// AllCompanies merges the whole catalog. The unfiltered snapshot is
// cached briefly; segment-narrowed fetches always go to the source.
func (s *Service) AllCompanies(ctx context.Context, req AllRequest) (*BulkResult, error) {
	started := s.now()

	var (
		snap *catalog.Snapshot
		err  error
	)
	if len(req.SegmentLabels) > 0 {
		codes, rerr := s.catalog.ResolveSegments(ctx, req.SegmentLabels)
		if rerr != nil {
			return nil, rerr
		}
		extra := bitrix.Filter{}.Include(s.catalog.Config().SegmentField, codes)
		snap, err = s.catalog.FetchAll(ctx, extra)
	} else {
		snap, err = s.cachedSnapshot(ctx)
	}
	if err != nil {
		return nil, err
	}

	codeField := s.catalog.Config().CodeField
	fin, act, ann := s.fetchFacets(ctx, codesOf(snap.Records, codeField))
	entities := Merge(snap.Records, codeField, fin, act, ann)

	// A segment-narrowed view is a field-operations report; entities the
	// ledger does not know add noise there, so they are dropped.
	if len(req.SegmentLabels) > 0 && s.erp != nil {
		kept := entities[:0]
		for _, e := range entities {
			if e.Financial != nil {
				kept = append(kept, e)
			}
		}
		entities = kept
	}

	return &BulkResult{
		Entities: entities,
		Total:    snap.Total,
		Elapsed:  s.now().Sub(started).Seconds(),
	}, nil
}

// cachedSnapshot serves the unfiltered catalog through the TTL cache.
func (s *Service) cachedSnapshot(ctx context.Context) (*catalog.Snapshot, error) {
	if snap, ok := s.cache.Get(); ok {
		return snap, nil
	}
	snap, err := s.catalog.FetchAll(ctx, nil)
	if err != nil {
		return nil, err
	}
	s.cache.Put(snap)
	return snap, nil
}

// fetchFacets loads the non-CRM facets concurrently. Source failures are
// logged and yield empty facets; the merged view degrades instead of
// erroring.
func (s *Service) fetchFacets(ctx context.Context, codes []string) (
	map[string]model.FinancialMetrics,
	map[string][]model.ActivityEntry,
	map[string]*model.Annotation,
) {
	fin := map[string]model.FinancialMetrics{}
	act := map[string][]model.ActivityEntry{}
	ann := map[string]*model.Annotation{}
	if len(codes) == 0 {
		return fin, act, ann
	}

	g, gctx := errgroup.WithContext(ctx)
	if s.erp != nil {
		g.Go(func() error {
			fin = s.erp.FetchMetrics(gctx, codes)
			return nil
		})
	}
	if s.ops != nil {
		week := ops.CurrentWeek(s.now())
		g.Go(func() error {
			m, err := s.ops.ActivityByClient(gctx, codes, week)
			if err != nil {
				zap.L().Warn("reconcile: activity facet unavailable", zap.Error(err))
				return nil
			}
			act = m
			return nil
		})
		g.Go(func() error {
			m, err := s.ops.AnnotationsByClient(gctx, codes)
			if err != nil {
				zap.L().Warn("reconcile: annotation facet unavailable", zap.Error(err))
				return nil
			}
			ann = m
			return nil
		})
	}
	_ = g.Wait()

	return fin, act, ann
}

// WeekActivity lists every visit of the current week.
func (s *Service) WeekActivity(ctx context.Context) ([]model.ActivityEntry, error) {
	if s.ops == nil {
		return nil, eris.New("reconcile: operational store not configured")
	}
	return s.ops.WeekActivity(ctx, ops.CurrentWeek(s.now()))
}
