package units

import (
	"time"

	"github.com/shopspring/decimal"
)

// Unit represents a unit of measure
type Unit struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
	// DefaultFactor relates the unit to a reference unit. Informational only;
	// conversions always go through ConversionRule.
	DefaultFactor decimal.NullDecimal `json:"default_factor"`
	CreatedAt     time.Time           `json:"created_at"`
}

// ConversionRule scales a quantity of one material from one unit into another.
type ConversionRule struct {
	Article    string          `json:"article"`
	FromUnitID int64           `json:"from_unit_id"`
	ToUnitID   int64           `json:"to_unit_id"`
	Factor     decimal.Decimal `json:"factor"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// RuleKey addresses a single conversion rule.
type RuleKey struct {
	Article    string
	FromUnitID int64
	ToUnitID   int64
}
