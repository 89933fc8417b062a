package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/matledger/internal/masterdata/materials"
)

// AutoScrapEngine discards the remainder of a material once it falls to or
// below the material's scrap threshold. The whole remainder goes, never a part.
type AutoScrapEngine struct {
	now func() time.Time
}

func NewAutoScrapEngine(now func() time.Time) AutoScrapEngine {
	if now == nil {
		now = time.Now
	}
	return AutoScrapEngine{now: now}
}

// Evaluate must run in the transaction of the decrement that produced
// remaining. It returns the scrap entry when one was booked.
func (e AutoScrapEngine) Evaluate(ctx context.Context, tx TxRepository, ledger Ledger, key materials.Key, remaining decimal.Decimal, operator, ref string) (*ScrapLogEntry, error) {
	material, err := tx.GetMaterial(ctx, key)
	if err != nil {
		return nil, err
	}
	threshold := material.ScrapThreshold
	if !threshold.IsPositive() {
		return nil, nil
	}
	if !remaining.IsPositive() {
		return nil, nil
	}
	if remaining.GreaterThan(threshold) {
		return nil, nil
	}

	entry, err := ledger.Entry(ctx, key)
	if err != nil {
		return nil, err
	}
	scrap, err := bookScrap(ctx, tx, ledger, material, entry, remaining, scrapMeta{
		Operator: operator,
		Reason:   ScrapReasonAuto,
		Ref:      ref,
		At:       e.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	return &scrap, nil
}

type scrapMeta struct {
	Operator string
	Reason   ScrapReason
	Ref      string
	At       time.Time
}

// bookScrap appends the scrap log entry, zeroes the ledger and posts the
// stock card row. Cost is qty × the average before zeroing.
func bookScrap(ctx context.Context, tx TxRepository, ledger Ledger, material materials.Material, entry LedgerEntry, qty decimal.Decimal, meta scrapMeta) (ScrapLogEntry, error) {
	cost := qty.Mul(entry.AverageCost()).Round(moneyScale)
	logged, err := tx.InsertScrap(ctx, ScrapLogEntry{
		LoggedAt:     meta.At,
		MaterialType: material.Type,
		Article:      material.Article,
		Quantity:     qty,
		Cost:         cost,
		UnitID:       material.UnitID,
		Operator:     meta.Operator,
		Reason:       meta.Reason,
	})
	if err != nil {
		return ScrapLogEntry{}, err
	}
	if err := ledger.Zero(ctx, material.Key()); err != nil {
		return ScrapLogEntry{}, err
	}
	err = tx.InsertMovement(ctx, Movement{
		Key:         material.Key(),
		Type:        MovementScrap,
		Ref:         meta.Ref,
		QtyOut:      qty,
		Cost:        cost,
		BalanceQty:  decimal.Zero,
		BalanceCost: decimal.Zero,
		Operator:    meta.Operator,
		Note:        string(meta.Reason),
		PostedAt:    meta.At,
	})
	if err != nil {
		return ScrapLogEntry{}, err
	}
	logged.MaterialName = material.Name
	logged.UnitName = material.UnitName
	return logged, nil
}
