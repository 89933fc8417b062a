package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/matledger/internal/audit"
	"github.com/odyssey-erp/matledger/internal/inventory"
	"github.com/odyssey-erp/matledger/internal/masterdata/materials"
	"github.com/odyssey-erp/matledger/internal/masterdata/units"
	"github.com/odyssey-erp/matledger/internal/observability"
	"github.com/odyssey-erp/matledger/internal/rbac"
	"github.com/odyssey-erp/matledger/internal/shared"
	"github.com/odyssey-erp/matledger/jobs"
)

// Pinger reports store reachability for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	DB                 Pinger
	RBACMiddleware     rbac.Middleware
	InventoryHandler   *inventory.Handler
	MaterialsHandler   *materials.Handler
	UnitsHandler       *units.Handler
	PermissionsHandler *rbac.PermissionsHandler
	AuditHandler       *audit.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router for the ledger API.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if params.DB != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := params.DB.Ping(ctx); err != nil {
				params.Logger.Warn("healthz ping", slog.Any("error", err))
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"degraded"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		if params.InventoryHandler != nil {
			params.InventoryHandler.MountRoutes(r)
		}
		if params.MaterialsHandler != nil {
			r.Route("/materials", params.MaterialsHandler.MountRoutes)
		}
		if params.UnitsHandler != nil {
			params.UnitsHandler.MountRoutes(r)
		}
		if params.PermissionsHandler != nil {
			params.PermissionsHandler.MountRoutes(r)
		}
		if params.AuditHandler != nil {
			r.Route("/audit", params.AuditHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", func(r chi.Router) {
				r.Use(params.RBACMiddleware.RequireAny(shared.PermStockView))
				params.JobHandler.MountRoutes(r)
			})
		}
	})

	return r
}
