package audit

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/matledger/internal/platform/httpx"
	"github.com/odyssey-erp/matledger/internal/rbac"
	"github.com/odyssey-erp/matledger/internal/shared"
)

// Handler exposes the audit trail.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler constructs the audit handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.rbac.RequireAny(shared.PermAuditView))
	r.Get("/", h.timeline)
	r.Get("/export", h.export)
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.fail(w, r, "audit timeline", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	body, err := h.service.ExportTimeline(r.Context(), filters)
	if err != nil {
		h.fail(w, r, "audit export", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="audit.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if !shared.IsDomainError(err) {
		h.logger.ErrorContext(r.Context(), msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func parseFilters(r *http.Request) (TimelineFilters, error) {
	q := r.URL.Query()
	filters := TimelineFilters{
		Actor:  q.Get("actor"),
		Entity: q.Get("entity"),
		Action: q.Get("action"),
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return filters, fmt.Errorf("%w: from must be YYYY-MM-DD", shared.ErrValidation)
		}
		filters.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return filters, fmt.Errorf("%w: to must be YYYY-MM-DD", shared.ErrValidation)
		}
		filters.To = t.Add(24*time.Hour - time.Nanosecond)
	}
	for name, dst := range map[string]*int{"page": &filters.Page, "page_size": &filters.PageSize} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return filters, fmt.Errorf("%w: %s must be a positive number", shared.ErrValidation, name)
		}
		*dst = v
	}
	return filters, nil
}
