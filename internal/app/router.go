package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/closing"
	"github.com/odyssey-erp/stockledger/internal/documents"
	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/lots"
	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/rbac"
	"github.com/odyssey-erp/stockledger/internal/reorder"
	"github.com/odyssey-erp/stockledger/internal/reports"
	"github.com/odyssey-erp/stockledger/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	RBACMiddleware rbac.Middleware
	Metrics        *observability.Metrics

	CatalogHandler     *catalog.Handler
	LedgerHandler      *ledger.Handler
	LotsHandler        *lots.Handler
	DocumentsHandler   *documents.Handler
	ClosingHandler     *closing.Handler
	ReorderHandler     *reorder.Handler
	ReportsHandler     *reports.Handler
	PermissionsHandler *rbac.PermissionsHandler
	JobHandler         *jobs.Handler
}

// NewHandlers builds every API handler over the container services.
func NewHandlers(logger *slog.Logger, cfg *Config, c *Container, mw rbac.Middleware) RouterParams {
	return RouterParams{
		Logger:             logger,
		Config:             cfg,
		RBACMiddleware:     mw,
		Metrics:            c.Metrics,
		CatalogHandler:     catalog.NewHandler(logger, c.Catalog, mw),
		LedgerHandler:      ledger.NewHandler(logger, c.Ledger, c.Documents, mw),
		LotsHandler:        lots.NewHandler(logger, c.Lots, mw),
		DocumentsHandler:   documents.NewHandler(logger, c.Documents, mw),
		ClosingHandler:     closing.NewHandler(logger, c.Closing, mw),
		ReorderHandler:     reorder.NewHandler(logger, c.Reorder, mw),
		ReportsHandler:     reports.NewHandler(logger, c.Reports, mw),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, mw),
	}
}

// NewRouter constructs the chi.Router with service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
		RBAC:    params.RBACMiddleware,
	}) {
		r.Use(mw)
	}

	if !InTestMode() && (params.Config == nil || !params.Config.IsProduction()) {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if params.CatalogHandler != nil {
			r.Route("/catalog", params.CatalogHandler.MountRoutes)
		}
		if params.LedgerHandler != nil {
			r.Route("/ledger", params.LedgerHandler.MountRoutes)
		}
		if params.LotsHandler != nil {
			r.Route("/lots", params.LotsHandler.MountRoutes)
		}
		if params.DocumentsHandler != nil {
			r.Group(params.DocumentsHandler.MountRoutes)
		}
		if params.ClosingHandler != nil {
			r.Route("/periods", params.ClosingHandler.MountRoutes)
		}
		if params.ReorderHandler != nil {
			r.Route("/reorder", params.ReorderHandler.MountRoutes)
		}
		if params.ReportsHandler != nil {
			r.Route("/exports", params.ReportsHandler.MountRoutes)
		}
		if params.PermissionsHandler != nil {
			r.Route("/permissions", params.PermissionsHandler.MountRoutes)
		}
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpx.Problem(w, http.StatusNotFound, http.StatusText(http.StatusNotFound), "route not found")
	})
	return r
}
