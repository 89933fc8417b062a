package units

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

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

// MountRoutes registers unit and conversion routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermUnitsView))
		r.Get("/units", h.listUnits)
		r.Get("/conversions/convert", h.convert)
		r.Get("/conversions/{article}", h.listRules)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermUnitsEdit))
		r.Post("/units", h.createUnit)
		r.Put("/conversions", h.setRule)
		r.Delete("/conversions", h.deleteRule)
	})
}

type unitRequest struct {
	Code          string              `json:"code" validate:"required,max=32"`
	Name          string              `json:"name" validate:"required,max=128"`
	DefaultFactor decimal.NullDecimal `json:"default_factor"`
}

type ruleRequest struct {
	Article    string          `json:"article" validate:"required"`
	FromUnitID int64           `json:"from_unit_id" validate:"required,gt=0"`
	ToUnitID   int64           `json:"to_unit_id" validate:"required,gt=0"`
	Factor     decimal.Decimal `json:"factor"`
}

type ruleKeyRequest struct {
	Article    string `json:"article" validate:"required"`
	FromUnitID int64  `json:"from_unit_id" validate:"required,gt=0"`
	ToUnitID   int64  `json:"to_unit_id" validate:"required,gt=0"`
}

type convertResponse struct {
	Article   string          `json:"article"`
	Quantity  decimal.Decimal `json:"quantity"`
	FromUnit  int64           `json:"from_unit_id"`
	ToUnit    int64           `json:"to_unit_id"`
	Converted decimal.Decimal `json:"converted"`
}

func (h *Handler) listUnits(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListUnits(r.Context())
	if err != nil {
		h.fail(w, r, "list units", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) createUnit(w http.ResponseWriter, r *http.Request) {
	var req unitRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	unit, err := h.service.CreateUnit(r.Context(), Unit{Code: req.Code, Name: req.Name, DefaultFactor: req.DefaultFactor})
	if err != nil {
		h.fail(w, r, "create unit", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, unit)
}

func (h *Handler) convert(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	quantity, err := decimal.NewFromString(q.Get("quantity"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: quantity must be a decimal", shared.ErrValidation))
		return
	}
	from, errFrom := strconv.ParseInt(q.Get("from"), 10, 64)
	to, errTo := strconv.ParseInt(q.Get("to"), 10, 64)
	if errFrom != nil || errTo != nil {
		httpx.RespondError(w, fmt.Errorf("%w: from and to must be unit ids", shared.ErrValidation))
		return
	}
	article := q.Get("article")
	converted, err := h.service.ConvertQuantity(r.Context(), article, quantity, from, to)
	if err != nil {
		h.fail(w, r, "convert quantity", err)
		return
	}
	httpx.JSON(w, http.StatusOK, convertResponse{Article: article, Quantity: quantity, FromUnit: from, ToUnit: to, Converted: converted})
}

func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.service.ListConversionRules(r.Context(), chi.URLParam(r, "article"))
	if err != nil {
		h.fail(w, r, "list conversion rules", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": rules})
}

func (h *Handler) setRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	rule, err := h.service.SetConversionRule(r.Context(), ConversionRule{
		Article:    req.Article,
		FromUnitID: req.FromUnitID,
		ToUnitID:   req.ToUnitID,
		Factor:     req.Factor,
	})
	if err != nil {
		h.fail(w, r, "set conversion rule", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rule)
}

func (h *Handler) deleteRule(w http.ResponseWriter, r *http.Request) {
	var req ruleKeyRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	err := h.service.DeleteConversionRule(r.Context(), RuleKey{Article: req.Article, FromUnitID: req.FromUnitID, ToUnitID: req.ToUnitID})
	if err != nil {
		h.fail(w, r, "delete conversion rule", err)
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
