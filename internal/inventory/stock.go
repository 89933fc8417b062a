package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/matledger/internal/masterdata/materials"
	"github.com/odyssey-erp/matledger/internal/shared"
)

// GetStockSnapshot lists ledger balances of one material family in their
// accounting units.
func (s *Service) GetStockSnapshot(ctx context.Context, materialType materials.Type) ([]StockRow, error) {
	if err := materialType.Validate(); err != nil {
		return nil, err
	}
	rows, err := s.repo.StockSnapshot(ctx, materialType)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].AverageCost = averageCost(rows[i].Quantity, rows[i].TotalCost)
	}
	return rows, nil
}

// GetStockSnapshotIn is GetStockSnapshot with quantities also expressed in
// displayUnitID.
func (s *Service) GetStockSnapshotIn(ctx context.Context, materialType materials.Type, displayUnitID int64) ([]StockRow, error) {
	if displayUnitID <= 0 {
		return nil, fmt.Errorf("%w: display unit id must be positive", shared.ErrValidation)
	}
	if s.factors == nil {
		return nil, errors.New("inventory: no unit resolver configured")
	}
	rows, err := s.GetStockSnapshot(ctx, materialType)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		factor, err := s.factors.GetFactor(ctx, rows[i].Article, rows[i].UnitID, displayUnitID)
		if err != nil {
			return nil, err
		}
		display := rows[i].Quantity.Mul(factor).Round(quantityScale)
		rows[i].DisplayUnitID = displayUnitID
		rows[i].DisplayQuantity = &display
	}
	return rows, nil
}

// GetStockCard lists stock card movements of one material, oldest first.
func (s *Service) GetStockCard(ctx context.Context, filter StockCardFilter) ([]Movement, error) {
	if err := filter.Key.Validate(); err != nil {
		return nil, err
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.From.After(filter.To) {
		return nil, fmt.Errorf("%w: from must not be after to", shared.ErrValidation)
	}
	return s.repo.GetStockCard(ctx, filter)
}

// CheckLedgerIntegrity reports ledger rows breaking the balance invariants.
// It only reads.
func (s *Service) CheckLedgerIntegrity(ctx context.Context) ([]LedgerAnomaly, error) {
	anomalies, err := s.repo.ScanLedgerAnomalies(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range anomalies {
		s.logger.WarnContext(ctx, "ledger anomaly",
			slog.String("material", a.Key.String()),
			slog.String("problem", a.Problem),
			slog.String("quantity", a.Quantity.String()),
			slog.String("total_cost", a.TotalCost.String()))
	}
	return anomalies, nil
}
