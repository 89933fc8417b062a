package materials

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/matledger/internal/shared"
)

func (s *Service) validate(m Material) error {
	if err := m.Key().Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("%w: material name is required", shared.ErrValidation)
	}
	if m.UnitID <= 0 {
		return fmt.Errorf("%w: accounting unit is required", shared.ErrValidation)
	}
	return validateThreshold(m.ScrapThreshold)
}

func validateThreshold(threshold decimal.Decimal) error {
	if threshold.IsNegative() {
		return fmt.Errorf("%w: scrap threshold must be >= 0", shared.ErrValidation)
	}
	return nil
}
