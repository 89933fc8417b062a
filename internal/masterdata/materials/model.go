package materials

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/matledger/internal/shared"
)

// Type tags the material family; it decides how a ledger quantity is measured.
type Type string

const (
	// TypeFabric is a bolt-type material measured in continuous units.
	TypeFabric Type = "fabric"
	// TypeAccessory is a discrete-count material.
	TypeAccessory Type = "accessory"
)

// Valid reports whether t is a known material family.
func (t Type) Valid() bool {
	return t == TypeFabric || t == TypeAccessory
}

func (t Type) Validate() error {
	if !t.Valid() {
		return fmt.Errorf("%w: unknown material type %q", shared.ErrValidation, string(t))
	}
	return nil
}

// ParseType normalises user input into a Type.
func ParseType(raw string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(raw)))
	if err := t.Validate(); err != nil {
		return "", err
	}
	return t, nil
}

// Key identifies a material across both families.
type Key struct {
	Type    Type   `json:"material_type"`
	Article string `json:"article"`
}

func (k Key) String() string {
	return string(k.Type) + ":" + k.Article
}

// Validate checks the key before any storage access.
func (k Key) Validate() error {
	if err := k.Type.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(k.Article) == "" {
		return fmt.Errorf("%w: article is required", shared.ErrValidation)
	}
	return nil
}

// Less orders keys by type then article.
func (k Key) Less(other Key) bool {
	if k.Type != other.Type {
		return k.Type < other.Type
	}
	return k.Article < other.Article
}

// Material is a row of the material master.
type Material struct {
	Type           Type            `json:"material_type"`
	Article        string          `json:"article"`
	Name           string          `json:"name"`
	UnitID         int64           `json:"unit_id"`
	UnitName       string          `json:"unit_name"`
	ScrapThreshold decimal.Decimal `json:"scrap_threshold"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (m Material) Key() Key {
	return Key{Type: m.Type, Article: m.Article}
}

// ThresholdSetting is the row shown when editing scrap thresholds.
type ThresholdSetting struct {
	Article   string          `json:"article"`
	Name      string          `json:"name"`
	Threshold decimal.Decimal `json:"scrap_threshold"`
	UnitID    int64           `json:"unit_id"`
	UnitName  string          `json:"unit_name"`
}
