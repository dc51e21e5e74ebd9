// Package server exposes the merged customer views and the operational
// write endpoints over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/grupocrist/client360/internal/model"
	"github.com/grupocrist/client360/internal/ops"
	"github.com/grupocrist/client360/internal/reconcile"
)

// Reconciler is the merged-view surface the handlers consume.
type Reconciler interface {
	CompaniesPage(ctx context.Context, req reconcile.PageRequest) (*reconcile.PageResult, error)
	AllCompanies(ctx context.Context, req reconcile.AllRequest) (*reconcile.BulkResult, error)
	CoordinateAudit(ctx context.Context, req reconcile.AuditRequest) (*reconcile.AuditResult, error)
	WeekActivity(ctx context.Context) ([]model.ActivityEntry, error)
}

// Handler carries the dependencies of the HTTP layer. store may be nil
// when no operational database is configured; its endpoints then answer
// 503.
type Handler struct {
	svc       Reconciler
	store     ops.Store
	codeField string
}

// NewHandler creates a Handler.
func NewHandler(svc Reconciler, store ops.Store, codeField string) *Handler {
	return &Handler{svc: svc, store: store, codeField: codeField}
}

// NewRouter mounts all routes with CORS and request logging.
func NewRouter(h *Handler, allowedOrigins []string) chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(requestLogger)

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/clients", h.ClientsPage)
		r.Post("/clients/all", h.ClientsAll)
		r.Get("/clients/export", h.ClientsExport)
		r.Get("/coordinate-audit", h.CoordinateAudit)
		r.Get("/visits/week", h.VisitsWeek)
		r.Post("/audit-notes", h.CreateAuditNote)
		r.Post("/plans", h.SavePlans)
		r.Get("/plans", h.ListPlans)
		r.Post("/matrix", h.SaveMatrix)
	})

	return r
}

// requestLogger logs one line per request with its outcome.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
