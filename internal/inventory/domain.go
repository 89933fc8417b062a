package inventory

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/matledger/internal/masterdata/materials"
	"github.com/odyssey-erp/matledger/internal/shared"
)

const (
	// moneyScale and quantityScale match the NUMERIC(18,4) columns.
	moneyScale    = 4
	quantityScale = 4
	// averageScale keeps extra digits for the derived unit cost.
	averageScale  = 8
)

// CostPolicy decides how a write-off treats the ledger's total cost.
type CostPolicy string

const (
	// CostPolicyProportional removes qty × average cost before the decrement.
	CostPolicyProportional CostPolicy = "proportional"
	// CostPolicyLegacy only reduces quantity and leaves total cost untouched,
	// which inflates the average cost of the remainder.
	CostPolicyLegacy CostPolicy = "legacy"
)

// ParseCostPolicy validates a configured policy name. Empty means proportional.
func ParseCostPolicy(raw string) (CostPolicy, error) {
	switch p := CostPolicy(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return CostPolicyProportional, nil
	case CostPolicyProportional, CostPolicyLegacy:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown cost policy %q", shared.ErrValidation, raw)
	}
}

// LedgerEntry is the running balance of one material.
type LedgerEntry struct {
	Key       materials.Key   `json:"key"`
	Quantity  decimal.Decimal `json:"quantity"`
	TotalCost decimal.Decimal `json:"total_cost"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// AverageCost is derived on demand and never stored.
func (e LedgerEntry) AverageCost() decimal.Decimal {
	return averageCost(e.Quantity, e.TotalCost)
}

func averageCost(quantity, totalCost decimal.Decimal) decimal.Decimal {
	if !quantity.IsPositive() {
		return decimal.Zero
	}
	return totalCost.DivRound(quantity, averageScale)
}

// ScrapReason tells automatic threshold scrap from an operator's decision.
type ScrapReason string

const (
	ScrapReasonAuto   ScrapReason = "auto"
	ScrapReasonManual ScrapReason = "manual"
)

// ScrapLogEntry is an immutable write-off record.
type ScrapLogEntry struct {
	ID           int64           `json:"id"`
	LoggedAt     time.Time       `json:"logged_at"`
	MaterialType materials.Type  `json:"material_type"`
	Article      string          `json:"article"`
	MaterialName string          `json:"material_name"`
	Quantity     decimal.Decimal `json:"quantity"`
	Cost         decimal.Decimal `json:"cost"`
	UnitID       int64           `json:"unit_id"`
	UnitName     string          `json:"unit_name"`
	Operator     string          `json:"operator"`
	Reason       ScrapReason     `json:"reason"`
}

func (e ScrapLogEntry) Key() materials.Key {
	return materials.Key{Type: e.MaterialType, Article: e.Article}
}

// ScrapLogFilter bounds a scrap log query. Nil bounds are open; both are inclusive.
type ScrapLogFilter struct {
	From  *time.Time
	To    *time.Time
	Limit int
}

// MovementType enumerates stock card rows.
type MovementType string

const (
	MovementReceipt  MovementType = "receipt"
	MovementWriteOff MovementType = "writeoff"
	MovementScrap    MovementType = "scrap"
)

// Movement is a stock card row with the balance after it was posted.
type Movement struct {
	ID          int64           `json:"id"`
	Key         materials.Key   `json:"key"`
	Type        MovementType    `json:"movement_type"`
	Ref         string          `json:"ref"`
	QtyIn       decimal.Decimal `json:"qty_in"`
	QtyOut      decimal.Decimal `json:"qty_out"`
	Cost        decimal.Decimal `json:"cost"`
	BalanceQty  decimal.Decimal `json:"balance_qty"`
	BalanceCost decimal.Decimal `json:"balance_cost"`
	Operator    string          `json:"operator"`
	Note        string          `json:"note"`
	PostedAt    time.Time       `json:"posted_at"`
}

// StockCardFilter filters card entries.
type StockCardFilter struct {
	Key   materials.Key
	From  time.Time
	To    time.Time
	Limit int
}

// ReceiptLine is one material line of a receipt document.
type ReceiptLine struct {
	MaterialType materials.Type  `json:"material_type"`
	Article      string          `json:"article"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
}

func (l ReceiptLine) Key() materials.Key {
	return materials.Key{Type: l.MaterialType, Article: l.Article}
}

// Total is quantity × unit price at money scale.
func (l ReceiptLine) Total() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice).Round(moneyScale)
}

// ReceiptDocument is an incoming stock document. Only accepted documents
// have touched the ledger.
type ReceiptDocument struct {
	ID             int64           `json:"id"`
	Number         string          `json:"number"`
	Date           time.Time       `json:"date"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Accepted       bool            `json:"accepted"`
	AcceptedAt     *time.Time      `json:"accepted_at,omitempty"`
	CreatedBy      string          `json:"created_by"`
	Note           string          `json:"note"`
	Lines          []ReceiptLine   `json:"lines"`
	IdempotencyKey string          `json:"-"`
}

// ReceiptMeta carries the header fields of a single-line receipt.
type ReceiptMeta struct {
	Number         string
	Date           time.Time
	Note           string
	Operator       string
	IdempotencyKey string
}

// WriteOffResult describes the ledger after a write-off.
type WriteOffResult struct {
	Key       materials.Key   `json:"key"`
	Quantity  decimal.Decimal `json:"quantity"`
	Remaining decimal.Decimal `json:"remaining"`
	TotalCost decimal.Decimal `json:"total_cost"`
	Scrap     *ScrapLogEntry  `json:"scrap,omitempty"`
}

// ConsumptionLine is one material of a production run.
type ConsumptionLine struct {
	Key      materials.Key   `json:"key"`
	Quantity decimal.Decimal `json:"quantity"`
}

// StockRow is one line of a stock snapshot.
type StockRow struct {
	Article         string           `json:"article"`
	Name            string           `json:"name"`
	Quantity        decimal.Decimal  `json:"quantity"`
	TotalCost       decimal.Decimal  `json:"total_cost"`
	AverageCost     decimal.Decimal  `json:"average_cost"`
	UnitID          int64            `json:"unit_id"`
	UnitName        string           `json:"unit_name"`
	DisplayUnitID   int64            `json:"display_unit_id,omitempty"`
	DisplayQuantity *decimal.Decimal `json:"display_quantity,omitempty"`
}

// fitsScale reports whether d is exactly representable with scale decimals.
func fitsScale(d decimal.Decimal, scale int32) bool {
	return d.Round(scale).Equal(d)
}

// checkQuantity rejects quantities that are not positive or that the
// NUMERIC(18,4) columns would round.
func checkQuantity(qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return ErrInvalidQuantity
	}
	if !fitsScale(qty, quantityScale) {
		return ErrQuantityPrecision
	}
	return nil
}

// LedgerAnomaly is a ledger row breaking a balance invariant.
type LedgerAnomaly struct {
	Key       materials.Key   `json:"key"`
	Quantity  decimal.Decimal `json:"quantity"`
	TotalCost decimal.Decimal `json:"total_cost"`
	Problem   string          `json:"problem"`
}

var (
	// ErrInvalidQuantity indicates a quantity that is not strictly positive.
	ErrInvalidQuantity = fmt.Errorf("%w: quantity must be greater than zero", shared.ErrValidation)
	// ErrQuantityPrecision indicates a quantity with more decimals than the ledger stores.
	ErrQuantityPrecision = fmt.Errorf("%w: quantity allows at most %d decimal places", shared.ErrValidation, quantityScale)
	// ErrPricePrecision indicates a price or cost with more decimals than the ledger stores.
	ErrPricePrecision = fmt.Errorf("%w: amount allows at most %d decimal places", shared.ErrValidation, moneyScale)
	// ErrInvalidUnitPrice indicates a negative price or cost.
	ErrInvalidUnitPrice = fmt.Errorf("%w: unit price must be >= 0", shared.ErrValidation)
	// ErrEmptyReceipt indicates a receipt without any positive line.
	ErrEmptyReceipt = fmt.Errorf("%w: receipt needs at least one line with quantity > 0", shared.ErrValidation)
	// ErrAlreadyAccepted indicates a second acceptance of the same receipt.
	ErrAlreadyAccepted = fmt.Errorf("%w: receipt already accepted", shared.ErrValidation)
	// ErrNothingToScrap indicates a manual scrap of an empty ledger entry.
	ErrNothingToScrap = fmt.Errorf("%w: nothing left to scrap", shared.ErrValidation)
	// ErrEntryNotFound indicates a material that never received stock.
	ErrEntryNotFound = fmt.Errorf("%w: ledger entry", shared.ErrNotFound)
)
