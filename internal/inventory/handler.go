package inventory

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/matledger/internal/masterdata/materials"
	"github.com/odyssey-erp/matledger/internal/platform/httpx"
	"github.com/odyssey-erp/matledger/internal/rbac"
	"github.com/odyssey-erp/matledger/internal/shared"
)

const (
	dateLayout        = "2006-01-02"
	idempotencyHeader = "Idempotency-Key"
)

// Handler wires HTTP endpoints for the ledger.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermStockView))
		r.Get("/stock/{type}", h.snapshot)
		r.Get("/stock/{type}/{article}/card", h.stockCard)
		r.Get("/receipts/{id}", h.getReceipt)
	})
	r.With(h.rbac.RequireAny(shared.PermScrapLogView)).Get("/scrap-log", h.scrapLog)
	r.With(h.rbac.RequireAll(shared.PermReceiptDraft)).Post("/receipts/drafts", h.saveDraft)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermReceiptAccept))
		r.Post("/receipts", h.acceptReceipt)
		r.Post("/receipts/{id}/accept", h.acceptDraft)
	})
	r.With(h.rbac.RequireAll(shared.PermStockReceive)).Post("/stock/receive", h.receive)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermStockWriteOff))
		r.Post("/stock/write-offs", h.writeOff)
		r.Post("/stock/consumptions", h.consume)
		r.Post("/stock/{type}/{article}/scrap", h.scrap)
	})
}

type receiptLineRequest struct {
	MaterialType string          `json:"material_type" validate:"required,oneof=fabric accessory"`
	Article      string          `json:"article" validate:"required"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
}

type receiptRequest struct {
	Number string               `json:"number" validate:"max=64"`
	Date   string               `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Note   string               `json:"note" validate:"max=1024"`
	Lines  []receiptLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type receiveRequest struct {
	MaterialType string          `json:"material_type" validate:"required,oneof=fabric accessory"`
	Article      string          `json:"article" validate:"required"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Number       string          `json:"number" validate:"max=64"`
	Date         string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Note         string          `json:"note" validate:"max=1024"`
}

type writeOffRequest struct {
	MaterialType string          `json:"material_type" validate:"required,oneof=fabric accessory"`
	Article      string          `json:"article" validate:"required"`
	Quantity     decimal.Decimal `json:"quantity"`
}

type consumptionRequest struct {
	Ref   string            `json:"ref" validate:"required,max=64"`
	Lines []writeOffRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) acceptReceipt(w http.ResponseWriter, r *http.Request) {
	doc, err := h.bindReceipt(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	saved, err := h.service.AcceptReceipt(r.Context(), doc)
	if err != nil {
		h.fail(w, r, "accept receipt", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, saved)
}

func (h *Handler) saveDraft(w http.ResponseWriter, r *http.Request) {
	doc, err := h.bindReceipt(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	saved, err := h.service.SaveReceiptDraft(r.Context(), doc)
	if err != nil {
		h.fail(w, r, "save receipt draft", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, saved)
}

func (h *Handler) acceptDraft(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	doc, err := h.service.AcceptReceiptDraft(r.Context(), id)
	if err != nil {
		h.fail(w, r, "accept receipt draft", err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) getReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	doc, err := h.service.GetReceipt(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get receipt", err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	var req receiveRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	key, err := idempotencyKey(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	date, _ := parseDate(req.Date)
	id, err := h.service.ReceiveStock(r.Context(), materials.Type(req.MaterialType), req.Article, req.Quantity, req.UnitPrice, ReceiptMeta{
		Number:         req.Number,
		Date:           date,
		Note:           req.Note,
		IdempotencyKey: key,
	})
	if err != nil {
		h.fail(w, r, "receive stock", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]int64{"document_id": id})
}

func (h *Handler) writeOff(w http.ResponseWriter, r *http.Request) {
	var req writeOffRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.WriteOffStock(r.Context(), req.Article, materials.Type(req.MaterialType), req.Quantity, "")
	if err != nil {
		h.fail(w, r, "write off", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) consume(w http.ResponseWriter, r *http.Request) {
	var req consumptionRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	lines := make([]ConsumptionLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, ConsumptionLine{
			Key:      materials.Key{Type: materials.Type(line.MaterialType), Article: line.Article},
			Quantity: line.Quantity,
		})
	}
	results, err := h.service.ConsumeForProduction(r.Context(), req.Ref, lines, "")
	if err != nil {
		h.fail(w, r, "consume for production", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"ref": req.Ref, "results": results})
}

func (h *Handler) scrap(w http.ResponseWriter, r *http.Request) {
	materialType, err := materials.ParseType(chi.URLParam(r, "type"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.ScrapRemainder(r.Context(), materials.Key{Type: materialType, Article: chi.URLParam(r, "article")}, "")
	if err != nil {
		h.fail(w, r, "scrap remainder", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	materialType, err := materials.ParseType(chi.URLParam(r, "type"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var rows []StockRow
	if raw := r.URL.Query().Get("unit"); raw != "" {
		unitID, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			httpx.RespondError(w, fmt.Errorf("%w: unit must be a unit id", shared.ErrValidation))
			return
		}
		rows, err = h.service.GetStockSnapshotIn(r.Context(), materialType, unitID)
	} else {
		rows, err = h.service.GetStockSnapshot(r.Context(), materialType)
	}
	if err != nil {
		h.fail(w, r, "stock snapshot", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": rows})
}

func (h *Handler) stockCard(w http.ResponseWriter, r *http.Request) {
	materialType, err := materials.ParseType(chi.URLParam(r, "type"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	from, to, err := parseRange(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := StockCardFilter{Key: materials.Key{Type: materialType, Article: chi.URLParam(r, "article")}}
	if from != nil {
		filter.From = *from
	}
	if to != nil {
		filter.To = *to
	}
	entries, err := h.service.GetStockCard(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "stock card", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (h *Handler) scrapLog(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := ScrapLogFilter{From: from, To: to}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, perr := strconv.Atoi(raw)
		if perr != nil {
			httpx.RespondError(w, fmt.Errorf("%w: limit must be a number", shared.ErrValidation))
			return
		}
		filter.Limit = limit
	}
	entries, err := h.service.GetScrapLog(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "scrap log", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (h *Handler) bindReceipt(r *http.Request) (ReceiptDocument, error) {
	var req receiptRequest
	if err := httpx.Bind(r, &req); err != nil {
		return ReceiptDocument{}, err
	}
	key, err := idempotencyKey(r)
	if err != nil {
		return ReceiptDocument{}, err
	}
	date, _ := parseDate(req.Date)
	doc := ReceiptDocument{
		Number:         req.Number,
		Date:           date,
		Note:           req.Note,
		IdempotencyKey: key,
		Lines:          make([]ReceiptLine, 0, len(req.Lines)),
	}
	for _, line := range req.Lines {
		doc.Lines = append(doc.Lines, ReceiptLine{
			MaterialType: materials.Type(line.MaterialType),
			Article:      line.Article,
			Quantity:     line.Quantity,
			UnitPrice:    line.UnitPrice,
		})
	}
	return doc, nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if !shared.IsDomainError(err) || errors.Is(err, shared.ErrTransaction) || errors.Is(err, shared.ErrConnectivity) {
		h.logger.ErrorContext(r.Context(), msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func idempotencyKey(r *http.Request) (string, error) {
	raw := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if raw == "" {
		return "", nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %s must be a UUID", shared.ErrValidation, idempotencyHeader)
	}
	return id.String(), nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id", shared.ErrValidation)
	}
	return id, nil
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateLayout, raw)
}

// parseRange reads inclusive ?from= and ?to= calendar days.
func parseRange(r *http.Request) (*time.Time, *time.Time, error) {
	q := r.URL.Query()
	var from, to *time.Time
	if raw := q.Get("from"); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: from must be YYYY-MM-DD", shared.ErrValidation)
		}
		from = &t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: to must be YYYY-MM-DD", shared.ErrValidation)
		}
		end := t.Add(24*time.Hour - time.Nanosecond)
		to = &end
	}
	return from, to, nil
}
