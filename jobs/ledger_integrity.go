package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/matledger/internal/inventory"
	jobmetrics "github.com/odyssey-erp/matledger/internal/jobs"
)

// IntegrityChecker reports ledger entries violating invariants without mutating them.
type IntegrityChecker interface {
	CheckLedgerIntegrity(ctx context.Context) ([]inventory.LedgerAnomaly, error)
}

// LedgerIntegrityJob runs the read-only ledger sweep.
type LedgerIntegrityJob struct {
	Checker IntegrityChecker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewLedgerIntegrityJob initialises the integrity handler.
func NewLedgerIntegrityJob(checker IntegrityChecker, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{
		Checker: checker,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the sweep and reports anomalies.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Checker == nil {
		return errors.New("ledger integrity: handler not configured")
	}
	var payload LedgerIntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	start := j.now()
	tracker := j.Metrics.Track(TaskLedgerIntegrity)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	if !payload.ScheduledFor.IsZero() {
		logger = logger.With(slog.Time("scheduled_for", payload.ScheduledFor))
	}
	logger.Info("starting ledger integrity check")

	anomalies, err := j.Checker.CheckLedgerIntegrity(ctx)
	if err != nil {
		logger.Error("ledger integrity check failed", slog.Any("error", err))
		return err
	}
	byKind := make(map[string]int)
	for _, a := range anomalies {
		byKind[a.Problem]++
	}
	for kind, count := range byKind {
		j.Metrics.AddAnomalies(kind, count)
	}

	logger.Info("completed ledger integrity check",
		slog.Int("anomalies", len(anomalies)),
		slog.Duration("duration", j.now().Sub(start)),
	)
	return nil
}

func (j *LedgerIntegrityJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

func (j *LedgerIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskLedgerIntegrity))
}
