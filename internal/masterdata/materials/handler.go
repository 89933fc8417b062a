package materials

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/matledger/internal/platform/httpx"
	"github.com/odyssey-erp/matledger/internal/rbac"
	"github.com/odyssey-erp/matledger/internal/shared"
)

type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers material master routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermStockView))
		r.Get("/{type}", h.list)
		r.Get("/{type}/thresholds", h.listThresholds)
	})
	r.With(h.rbac.RequireAll(shared.PermMaterialsEdit)).Post("/", h.create)
	r.With(h.rbac.RequireAll(shared.PermThresholdsEdit)).Put("/{type}/{article}/threshold", h.setThreshold)
}

type createRequest struct {
	Type           string          `json:"material_type" validate:"required,oneof=fabric accessory"`
	Article        string          `json:"article" validate:"required,max=64"`
	Name           string          `json:"name" validate:"required,max=255"`
	UnitID         int64           `json:"unit_id" validate:"required,gt=0"`
	ScrapThreshold decimal.Decimal `json:"scrap_threshold"`
}

type thresholdRequest struct {
	Threshold decimal.Decimal `json:"scrap_threshold"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	created, err := h.service.Create(r.Context(), Material{
		Type:           Type(req.Type),
		Article:        req.Article,
		Name:           req.Name,
		UnitID:         req.UnitID,
		ScrapThreshold: req.ScrapThreshold,
	})
	if err != nil {
		h.fail(w, r, "create material", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	materialType, err := ParseType(chi.URLParam(r, "type"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, err := h.service.List(r.Context(), materialType, r.URL.Query().Get("search"))
	if err != nil {
		h.fail(w, r, "list materials", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) listThresholds(w http.ResponseWriter, r *http.Request) {
	materialType, err := ParseType(chi.URLParam(r, "type"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, err := h.service.ListThresholds(r.Context(), materialType)
	if err != nil {
		h.fail(w, r, "list thresholds", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) setThreshold(w http.ResponseWriter, r *http.Request) {
	materialType, err := ParseType(chi.URLParam(r, "type"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req thresholdRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.SetScrapThreshold(r.Context(), chi.URLParam(r, "article"), materialType, req.Threshold); err != nil {
		h.fail(w, r, "set scrap threshold", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if !shared.IsDomainError(err) {
		h.logger.ErrorContext(r.Context(), msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
