package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/matledger/internal/masterdata/materials"
	"github.com/odyssey-erp/matledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListScrapLog(ctx context.Context, filter ScrapLogFilter) ([]ScrapLogEntry, error)
	StockSnapshot(ctx context.Context, materialType materials.Type) ([]StockRow, error)
	GetStockCard(ctx context.Context, filter StockCardFilter) ([]Movement, error)
	GetReceipt(ctx context.Context, id int64) (ReceiptDocument, error)
	ScanLedgerAnomalies(ctx context.Context) ([]LedgerAnomaly, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards against replayed requests.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// FactorResolver converts between units for display.
type FactorResolver interface {
	GetFactor(ctx context.Context, article string, fromUnitID, toUnitID int64) (decimal.Decimal, error)
}

// MetricsPort receives counters for committed operations.
type MetricsPort interface {
	ReceiptAccepted(lines int)
	WriteOffPosted(materialType string)
	ScrapBooked(reason string, cost float64)
}

// Service coordinates ledger operations.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	factors     FactorResolver
	metrics     MetricsPort
	policy      CostPolicy
	scrap       AutoScrapEngine
	logger      *slog.Logger
	now         func() time.Time
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	CostPolicy CostPolicy
	Factors    FactorResolver
	Metrics    MetricsPort
	Logger     *slog.Logger
	Now        func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem IdempotencyPort, cfg ServiceConfig) *Service {
	policy := cfg.CostPolicy
	if policy == "" {
		policy = CostPolicyProportional
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Service{
		repo:        repo,
		audit:       audit,
		idempotency: idem,
		factors:     cfg.Factors,
		metrics:     metrics,
		policy:      policy,
		scrap:       NewAutoScrapEngine(now),
		logger:      logger,
		now:         now,
	}
}

// CostPolicy reports the configured write-off cost policy.
func (s *Service) CostPolicy() CostPolicy {
	return s.policy
}

// inTx runs fn in one transaction. Failures that do not already carry a
// domain sentinel are reported as shared.ErrTransaction.
func (s *Service) inTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := s.repo.WithTx(ctx, fn)
	if err == nil || shared.IsDomainError(err) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", shared.ErrTransaction, err)
}

func (s *Service) record(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if log.Actor == "" {
		if op, ok := shared.OperatorFromContext(ctx); ok {
			log.Actor = op.Login
		}
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", slog.String("action", log.Action), slog.Any("error", err))
	}
}

// claim reserves an idempotency key; the returned release undoes it.
func (s *Service) claim(ctx context.Context, key, module string) (func(), error) {
	if key == "" || s.idempotency == nil {
		return func() {}, nil
	}
	scoped := module + ":" + key
	if err := s.idempotency.CheckAndInsert(ctx, scoped, module); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("inventory: idempotency: %w", err)
	}
	return func() {
		if err := s.idempotency.Delete(context.WithoutCancel(ctx), scoped); err != nil {
			s.logger.WarnContext(ctx, "idempotency release failed", slog.Any("error", err))
		}
	}, nil
}

func operatorOrContext(ctx context.Context, operator string) string {
	if operator != "" {
		return operator
	}
	if op, ok := shared.OperatorFromContext(ctx); ok {
		return op.Login
	}
	return ""
}

type noopMetrics struct{}

func (noopMetrics) ReceiptAccepted(int) {}
func (noopMetrics) WriteOffPosted(string) {}
func (noopMetrics) ScrapBooked(string, float64) {}
