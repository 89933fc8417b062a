package units

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/matledger/internal/shared"
)

// quantityScale matches the NUMERIC scale of stored quantities.
const quantityScale = 4

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

type Service struct {
	repo     Repository
	resolver *Resolver
	cache    *FactorCache
	audit    AuditPort
	logger   *slog.Logger
}

func NewService(repo Repository, cache *FactorCache, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		resolver: NewResolver(repo, cache, logger),
		cache:    cache,
		audit:    audit,
		logger:   logger,
	}
}

// Resolver exposes the factor resolver for other packages.
func (s *Service) Resolver() *Resolver {
	return s.resolver
}

func (s *Service) ListUnits(ctx context.Context) ([]Unit, error) {
	return s.repo.ListUnits(ctx)
}

func (s *Service) GetUnit(ctx context.Context, id int64) (Unit, error) {
	if id <= 0 {
		return Unit{}, fmt.Errorf("%w: invalid unit id", shared.ErrValidation)
	}
	return s.repo.GetUnit(ctx, id)
}

func (s *Service) CreateUnit(ctx context.Context, unit Unit) (Unit, error) {
	unit.Code = strings.TrimSpace(unit.Code)
	unit.Name = strings.TrimSpace(unit.Name)
	if err := validateUnit(unit); err != nil {
		return Unit{}, err
	}
	return s.repo.CreateUnit(ctx, unit)
}

// ConvertQuantity converts quantity of article between units. The target
// unit is always explicit; there is no remembered display unit.
func (s *Service) ConvertQuantity(ctx context.Context, article string, quantity decimal.Decimal, fromUnitID, toUnitID int64) (decimal.Decimal, error) {
	if quantity.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("%w: quantity must be >= 0", shared.ErrValidation)
	}
	if fromUnitID <= 0 || toUnitID <= 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: unit ids must be positive", shared.ErrValidation)
	}
	factor, err := s.resolver.GetFactor(ctx, strings.TrimSpace(article), fromUnitID, toUnitID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return quantity.Mul(factor).Round(quantityScale), nil
}

func (s *Service) ListConversionRules(ctx context.Context, article string) ([]ConversionRule, error) {
	article = strings.TrimSpace(article)
	if article == "" {
		return nil, fmt.Errorf("%w: article is required", shared.ErrValidation)
	}
	return s.repo.ListRules(ctx, article)
}

func (s *Service) SetConversionRule(ctx context.Context, rule ConversionRule) (ConversionRule, error) {
	rule.Article = strings.TrimSpace(rule.Article)
	if err := validateRule(rule); err != nil {
		return ConversionRule{}, err
	}
	saved, err := s.repo.UpsertRule(ctx, rule)
	if err != nil {
		return ConversionRule{}, err
	}
	s.invalidate(ctx)
	s.record(ctx, "units:rule_set", saved.Article, map[string]any{
		"from_unit_id": saved.FromUnitID,
		"to_unit_id":   saved.ToUnitID,
		"factor":       saved.Factor.String(),
	})
	return saved, nil
}

func (s *Service) DeleteConversionRule(ctx context.Context, key RuleKey) error {
	key.Article = strings.TrimSpace(key.Article)
	if err := validateRuleKey(key); err != nil {
		return err
	}
	if err := s.repo.DeleteRule(ctx, key); err != nil {
		return err
	}
	s.invalidate(ctx)
	s.record(ctx, "units:rule_delete", key.Article, map[string]any{
		"from_unit_id": key.FromUnitID,
		"to_unit_id":   key.ToUnitID,
	})
	return nil
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.WarnContext(ctx, "factor cache bump failed", slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	actor := ""
	if op, ok := shared.OperatorFromContext(ctx); ok {
		actor = op.Login
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "conversion_rule",
		EntityID: entityID,
		Meta:     meta,
	}); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", slog.Any("error", err))
	}
}
