package units

import (
	"fmt"
	"strings"

	"github.com/odyssey-erp/matledger/internal/shared"
)

func validateUnit(unit Unit) error {
	if strings.TrimSpace(unit.Code) == "" {
		return fmt.Errorf("%w: unit code is required", shared.ErrValidation)
	}
	if strings.TrimSpace(unit.Name) == "" {
		return fmt.Errorf("%w: unit name is required", shared.ErrValidation)
	}
	if unit.DefaultFactor.Valid && !unit.DefaultFactor.Decimal.IsPositive() {
		return fmt.Errorf("%w: default factor must be > 0", shared.ErrValidation)
	}
	return nil
}

func validateRuleKey(key RuleKey) error {
	if strings.TrimSpace(key.Article) == "" {
		return fmt.Errorf("%w: article is required", shared.ErrValidation)
	}
	if key.FromUnitID <= 0 || key.ToUnitID <= 0 {
		return fmt.Errorf("%w: unit ids must be positive", shared.ErrValidation)
	}
	if key.FromUnitID == key.ToUnitID {
		return fmt.Errorf("%w: a unit always converts to itself with factor 1", shared.ErrValidation)
	}
	return nil
}

func validateRule(rule ConversionRule) error {
	if err := validateRuleKey(RuleKey{Article: rule.Article, FromUnitID: rule.FromUnitID, ToUnitID: rule.ToUnitID}); err != nil {
		return err
	}
	if !rule.Factor.IsPositive() {
		return fmt.Errorf("%w: factor must be > 0", shared.ErrValidation)
	}
	return nil
}
