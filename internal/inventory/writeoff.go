package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/matledger/internal/masterdata/materials"
	"github.com/odyssey-erp/matledger/internal/shared"
)

// WriteOff decrements the ledger and evaluates auto-scrap in one transaction.
// If anything fails nothing is committed, including the decrement.
func (s *Service) WriteOff(ctx context.Context, key materials.Key, quantity decimal.Decimal, operator string) (WriteOffResult, error) {
	key.Article = strings.TrimSpace(key.Article)
	if err := key.Validate(); err != nil {
		return WriteOffResult{}, err
	}
	if err := checkQuantity(quantity); err != nil {
		return WriteOffResult{}, err
	}
	operator = operatorOrContext(ctx, operator)

	var result WriteOffResult
	err := s.inTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, err = s.writeOffInTx(ctx, tx, key, quantity, operator, "")
		return err
	})
	if err != nil {
		return WriteOffResult{}, err
	}
	s.afterWriteOff(ctx, result, operator, "")
	return result, nil
}

// WriteOffStock is WriteOff addressed by article and material type.
func (s *Service) WriteOffStock(ctx context.Context, article string, materialType materials.Type, quantity decimal.Decimal, operator string) (WriteOffResult, error) {
	return s.WriteOff(ctx, materials.Key{Type: materialType, Article: article}, quantity, operator)
}

// ConsumeForProduction writes off every line of a production run in one
// transaction: either all materials are debited or none are. Lines for the
// same material are merged and processed in key order.
func (s *Service) ConsumeForProduction(ctx context.Context, ref string, lines []ConsumptionLine, operator string) ([]WriteOffResult, error) {
	merged, err := mergeConsumption(lines)
	if err != nil {
		return nil, err
	}
	ref = strings.TrimSpace(ref)
	operator = operatorOrContext(ctx, operator)

	var results []WriteOffResult
	err = s.inTx(ctx, func(ctx context.Context, tx TxRepository) error {
		results = make([]WriteOffResult, 0, len(merged))
		for _, line := range merged {
			result, err := s.writeOffInTx(ctx, tx, line.Key, line.Quantity, operator, ref)
			if err != nil {
				return fmt.Errorf("%s: %w", line.Key, err)
			}
			results = append(results, result)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, result := range results {
		s.afterWriteOff(ctx, result, operator, ref)
	}
	return results, nil
}

// ScrapRemainder discards the whole balance of a material regardless of its
// threshold.
func (s *Service) ScrapRemainder(ctx context.Context, key materials.Key, operator string) (ScrapLogEntry, error) {
	key.Article = strings.TrimSpace(key.Article)
	if err := key.Validate(); err != nil {
		return ScrapLogEntry{}, err
	}
	operator = operatorOrContext(ctx, operator)

	var scrap ScrapLogEntry
	err := s.inTx(ctx, func(ctx context.Context, tx TxRepository) error {
		material, err := tx.GetMaterial(ctx, key)
		if err != nil {
			return err
		}
		ledger := newLedger(tx, s.policy)
		entry, err := ledger.Entry(ctx, key)
		if err != nil {
			return err
		}
		if !entry.Quantity.IsPositive() {
			return ErrNothingToScrap
		}
		scrap, err = bookScrap(ctx, tx, ledger, material, entry, entry.Quantity, scrapMeta{
			Operator: operator,
			Reason:   ScrapReasonManual,
			At:       s.now().UTC(),
		})
		return err
	})
	if err != nil {
		return ScrapLogEntry{}, err
	}
	s.afterScrap(ctx, scrap)
	return scrap, nil
}

func (s *Service) writeOffInTx(ctx context.Context, tx TxRepository, key materials.Key, quantity decimal.Decimal, operator, ref string) (WriteOffResult, error) {
	ledger := newLedger(tx, s.policy)
	current, err := tx.GetEntryForUpdate(ctx, key)
	if errors.Is(err, ErrEntryNotFound) {
		// Tell an unknown material from one that never received stock.
		if _, err := tx.GetMaterial(ctx, key); err != nil {
			return WriteOffResult{}, err
		}
		current = LedgerEntry{Key: key}
	} else if err != nil {
		return WriteOffResult{}, err
	}

	remaining := current.Quantity.Sub(quantity)
	if remaining.IsNegative() {
		return WriteOffResult{}, fmt.Errorf("%w: %s has %s, requested %s",
			shared.ErrInsufficientStock, key, current.Quantity, quantity)
	}
	after, err := ledger.Decrement(ctx, key, quantity)
	if err != nil {
		return WriteOffResult{}, err
	}
	err = tx.InsertMovement(ctx, Movement{
		Key:         key,
		Type:        MovementWriteOff,
		Ref:         ref,
		QtyOut:      quantity,
		Cost:        current.TotalCost.Sub(after.TotalCost),
		BalanceQty:  after.Quantity,
		BalanceCost: after.TotalCost,
		Operator:    operator,
		PostedAt:    s.now().UTC(),
	})
	if err != nil {
		return WriteOffResult{}, err
	}

	scrap, err := s.scrap.Evaluate(ctx, tx, ledger, key, remaining, operator, ref)
	if err != nil {
		return WriteOffResult{}, err
	}
	result := WriteOffResult{
		Key:       key,
		Quantity:  quantity,
		Remaining: after.Quantity,
		TotalCost: after.TotalCost,
		Scrap:     scrap,
	}
	if scrap != nil {
		result.Remaining = decimal.Zero
		result.TotalCost = decimal.Zero
	}
	return result, nil
}

func (s *Service) afterWriteOff(ctx context.Context, result WriteOffResult, operator, ref string) {
	s.metrics.WriteOffPosted(string(result.Key.Type))
	s.logger.InfoContext(ctx, "stock written off",
		slog.String("material", result.Key.String()),
		slog.String("quantity", result.Quantity.String()),
		slog.String("remaining", result.Remaining.String()))
	meta := map[string]any{
		"quantity":  result.Quantity.String(),
		"remaining": result.Remaining.String(),
	}
	if ref != "" {
		meta["ref"] = ref
	}
	s.record(ctx, shared.AuditLog{
		Actor:    operator,
		Action:   "inventory:writeoff",
		Entity:   "ledger_entry",
		EntityID: result.Key.String(),
		Meta:     meta,
	})
	if result.Scrap != nil {
		s.afterScrap(ctx, *result.Scrap)
	}
}

func (s *Service) afterScrap(ctx context.Context, scrap ScrapLogEntry) {
	cost, _ := scrap.Cost.Float64()
	s.metrics.ScrapBooked(string(scrap.Reason), cost)
	s.logger.InfoContext(ctx, "stock scrapped",
		slog.String("material", scrap.Key().String()),
		slog.String("reason", string(scrap.Reason)),
		slog.String("quantity", scrap.Quantity.String()),
		slog.String("cost", scrap.Cost.String()))
	s.record(ctx, shared.AuditLog{
		Actor:    scrap.Operator,
		Action:   "inventory:scrap",
		Entity:   "scrap_log",
		EntityID: fmt.Sprint(scrap.ID),
		Meta: map[string]any{
			"material": scrap.Key().String(),
			"reason":   string(scrap.Reason),
			"quantity": scrap.Quantity.String(),
			"cost":     scrap.Cost.String(),
		},
	})
}

func mergeConsumption(lines []ConsumptionLine) ([]ConsumptionLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: production run needs at least one line", shared.ErrValidation)
	}
	totals := make(map[materials.Key]decimal.Decimal, len(lines))
	for i, line := range lines {
		line.Key.Article = strings.TrimSpace(line.Key.Article)
		if err := line.Key.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		if err := checkQuantity(line.Quantity); err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		totals[line.Key] = totals[line.Key].Add(line.Quantity)
	}
	merged := make([]ConsumptionLine, 0, len(totals))
	for key, qty := range totals {
		merged = append(merged, ConsumptionLine{Key: key, Quantity: qty})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Key.Less(merged[j].Key) })
	return merged, nil
}
