package materials

import (
	"context"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/matledger/internal/shared"
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

type Service struct {
	repo   Repository
	audit  AuditPort
	logger *slog.Logger
}

func NewService(repo Repository, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger}
}

func (s *Service) Create(ctx context.Context, material Material) (Material, error) {
	material.Article = strings.TrimSpace(material.Article)
	material.Name = strings.TrimSpace(material.Name)
	if err := s.validate(material); err != nil {
		return Material{}, err
	}
	created, err := s.repo.Create(ctx, material)
	if err != nil {
		return Material{}, err
	}
	s.record(ctx, "materials:create", created.Key(), map[string]any{
		"name":    created.Name,
		"unit_id": created.UnitID,
	})
	return created, nil
}

func (s *Service) Get(ctx context.Context, key Key) (Material, error) {
	if err := key.Validate(); err != nil {
		return Material{}, err
	}
	return s.repo.Get(ctx, key)
}

func (s *Service) List(ctx context.Context, materialType Type, search string) ([]Material, error) {
	if err := materialType.Validate(); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, materialType, search)
}

// SetScrapThreshold replaces the usability threshold of a material. A zero
// threshold disables auto-scrap for it.
func (s *Service) SetScrapThreshold(ctx context.Context, article string, materialType Type, threshold decimal.Decimal) error {
	key := Key{Type: materialType, Article: strings.TrimSpace(article)}
	if err := key.Validate(); err != nil {
		return err
	}
	if err := validateThreshold(threshold); err != nil {
		return err
	}
	if err := s.repo.SetThreshold(ctx, key, threshold); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "scrap threshold updated",
		slog.String("material", key.String()),
		slog.String("threshold", threshold.String()))
	s.record(ctx, "materials:threshold", key, map[string]any{"threshold": threshold.String()})
	return nil
}

func (s *Service) ListThresholds(ctx context.Context, materialType Type) ([]ThresholdSetting, error) {
	if err := materialType.Validate(); err != nil {
		return nil, err
	}
	return s.repo.ListThresholds(ctx, materialType)
}

func (s *Service) record(ctx context.Context, action string, key Key, meta map[string]any) {
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
		Entity:   "material",
		EntityID: key.String(),
		Meta:     meta,
	}); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", slog.Any("error", err))
	}
}
