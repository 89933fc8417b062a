package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/matledger/internal/masterdata/materials"
	"github.com/odyssey-erp/matledger/internal/shared"
)

// Ledger is the stock ledger as seen from inside one transaction. It holds no
// state of its own; every call reads the current row.
type Ledger struct {
	tx     TxRepository
	policy CostPolicy
}

func newLedger(tx TxRepository, policy CostPolicy) Ledger {
	return Ledger{tx: tx, policy: policy}
}

// Entry returns the locked entry for key, or a zero entry when the material
// has never received stock.
func (l Ledger) Entry(ctx context.Context, key materials.Key) (LedgerEntry, error) {
	entry, err := l.tx.GetEntryForUpdate(ctx, key)
	if errors.Is(err, ErrEntryNotFound) {
		return LedgerEntry{Key: key}, nil
	}
	return entry, err
}

// GetQuantity returns the current quantity, 0 if no entry exists.
func (l Ledger) GetQuantity(ctx context.Context, key materials.Key) (decimal.Decimal, error) {
	entry, err := l.Entry(ctx, key)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return entry.Quantity, nil
}

// Receive adds qty and cost, creating the entry on first receipt.
func (l Ledger) Receive(ctx context.Context, key materials.Key, qty, cost decimal.Decimal) (LedgerEntry, error) {
	if err := checkQuantity(qty); err != nil {
		return LedgerEntry{}, err
	}
	if cost.IsNegative() {
		return LedgerEntry{}, ErrInvalidUnitPrice
	}
	if !fitsScale(cost, moneyScale) {
		return LedgerEntry{}, ErrPricePrecision
	}
	return l.tx.ReceiveEntry(ctx, key, qty, cost)
}

// Decrement removes qty from the entry. The cost side follows the ledger's
// CostPolicy. It returns the entry after the change.
func (l Ledger) Decrement(ctx context.Context, key materials.Key, qty decimal.Decimal) (LedgerEntry, error) {
	if err := checkQuantity(qty); err != nil {
		return LedgerEntry{}, err
	}
	entry, err := l.Entry(ctx, key)
	if err != nil {
		return LedgerEntry{}, err
	}
	if qty.GreaterThan(entry.Quantity) {
		return LedgerEntry{}, fmt.Errorf("%w: %s has %s, requested %s",
			shared.ErrInsufficientStock, key, entry.Quantity, qty)
	}

	next := entry
	next.Quantity = entry.Quantity.Sub(qty)
	if l.policy != CostPolicyLegacy {
		next.TotalCost = entry.TotalCost.Sub(decrementCost(entry, qty))
		if next.Quantity.IsZero() || next.TotalCost.IsNegative() {
			next.TotalCost = decimal.Zero
		}
	}
	if err := l.tx.UpdateEntry(ctx, next); err != nil {
		return LedgerEntry{}, err
	}
	return next, nil
}

// Zero discards the whole balance. Only the scrap paths call it.
func (l Ledger) Zero(ctx context.Context, key materials.Key) error {
	return l.tx.UpdateEntry(ctx, LedgerEntry{Key: key, Quantity: decimal.Zero, TotalCost: decimal.Zero})
}

// decrementCost is qty × average cost before the decrement.
func decrementCost(entry LedgerEntry, qty decimal.Decimal) decimal.Decimal {
	if !entry.Quantity.IsPositive() {
		return decimal.Zero
	}
	return entry.TotalCost.Mul(qty).DivRound(entry.Quantity, moneyScale)
}
