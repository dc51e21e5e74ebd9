package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/grupocrist/client360/internal/catalog"
	"github.com/grupocrist/client360/internal/config"
	"github.com/grupocrist/client360/internal/db"
	"github.com/grupocrist/client360/internal/erp"
	"github.com/grupocrist/client360/internal/ops"
	"github.com/grupocrist/client360/internal/reconcile"
	"github.com/grupocrist/client360/pkg/bitrix"
)

// env holds the wired services a command runs against. The ledger and
// operational store are optional: when their backends are unreachable
// the merged views degrade to CRM-only data.
type env struct {
	Catalog *catalog.Fetcher
	Ledger  reconcile.FinancialSource
	Store   ops.Store
	Service *reconcile.Service

	closers []func()
}

func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// catalogConfig maps the CRM section onto the catalog field bindings.
func catalogConfig(c config.CRMConfig) catalog.Config {
	cat := catalog.DefaultConfig()
	cat.CodeField = c.CodeField
	cat.SegmentField = c.SegmentField
	cat.CoordField = c.CoordField
	cat.ExcludeField = c.ExcludeField
	cat.ExcludeCodes = c.ExcludeCodes
	cat.CacheTTL = c.CacheTTL()
	if len(c.Fields) > 0 {
		cat.Fields = c.Fields
	}
	return cat
}

// initEnv wires the catalog, ledger and operational store from config.
// Only the CRM client is required; backend failures are logged and the
// corresponding facet is left out.
func initEnv(ctx context.Context) (*env, error) {
	client, err := bitrix.New(cfg.CRM.WebhookURL,
		bitrix.WithRateLimit(cfg.CRM.RequestsPerSec),
		bitrix.WithTimeout(time.Duration(cfg.CRM.TimeoutSecs)*time.Second),
	)
	if err != nil {
		return nil, eris.Wrap(err, "init crm client")
	}

	e := &env{Catalog: catalog.NewFetcher(client, catalogConfig(cfg.CRM))}

	if cfg.Ledger.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.Ledger.DatabaseURL, cfg.Ledger.MaxConns)
		if err != nil {
			zap.L().Warn("ledger database unreachable, financial metrics disabled", zap.Error(err))
		} else {
			e.Ledger = erp.NewFetcher(pool,
				erp.WithChunkSize(cfg.Ledger.ChunkSize),
				erp.WithConcurrency(cfg.Ledger.Concurrency),
			)
			e.closers = append(e.closers, pool.Close)
		}
	}

	store, err := initStore(ctx)
	if err != nil {
		zap.L().Warn("operational store unreachable, visit log disabled", zap.Error(err))
	} else if store != nil {
		e.Store = store
		e.closers = append(e.closers, func() {
			if err := store.Close(); err != nil {
				zap.L().Warn("close operational store", zap.Error(err))
			}
		})
	}

	e.Service = reconcile.NewService(e.Catalog, e.Ledger, e.Store)
	return e, nil
}

// initStore opens the operational store named by config. A nil store
// with nil error means none is configured.
func initStore(ctx context.Context) (ops.Store, error) {
	if cfg.Ops.DatabaseURL == "" {
		return nil, nil
	}

	switch cfg.Ops.Driver {
	case "postgres":
		pool, err := db.NewPool(ctx, cfg.Ops.DatabaseURL, cfg.Ops.MaxConns)
		if err != nil {
			return nil, eris.Wrap(err, "init ops pool")
		}
		return ops.NewPostgres(pool), nil
	case "sqlite", "":
		return ops.NewSQLite(cfg.Ops.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown ops driver %q", cfg.Ops.Driver)
	}
}
