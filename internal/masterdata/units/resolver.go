package units

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/matledger/internal/shared"
)

var identityFactor = decimal.NewFromInt(1)

// Resolver answers conversion factors for a material. A missing rule resolves
// to 1 so that callers keep working with incomplete rule sets; a store that
// cannot be reached is reported.
type Resolver struct {
	rules  RuleReader
	cache  *FactorCache
	group  singleflight.Group
	logger *slog.Logger
}

func NewResolver(rules RuleReader, cache *FactorCache, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{rules: rules, cache: cache, logger: logger}
}

// GetFactor returns the factor that converts a quantity of article from one
// unit into another.
func (r *Resolver) GetFactor(ctx context.Context, article string, fromUnitID, toUnitID int64) (decimal.Decimal, error) {
	if fromUnitID == toUnitID {
		return identityFactor, nil
	}
	key := RuleKey{Article: article, FromUnitID: fromUnitID, ToUnitID: toUnitID}

	factor, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.logger.WarnContext(ctx, "factor cache read failed", slog.Any("error", err))
	} else if ok {
		return factor, nil
	}

	flightKey := fmt.Sprintf("%s|%d|%d", article, fromUnitID, toUnitID)
	resultChan := r.group.DoChan(flightKey, func() (interface{}, error) {
		return r.load(context.WithoutCancel(ctx), key)
	})
	select {
	case <-ctx.Done():
		return decimal.Decimal{}, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return decimal.Decimal{}, res.Err
		}
		return res.Val.(decimal.Decimal), nil
	}
}

// load runs detached from the first caller's cancellation; every waiter on
// the same flight shares its result.
func (r *Resolver) load(ctx context.Context, key RuleKey) (decimal.Decimal, error) {
	ver, verErr := r.cache.Version(ctx)
	if verErr != nil {
		r.logger.WarnContext(ctx, "factor cache version read failed", slog.Any("error", verErr))
	}
	rule, err := r.rules.FindRule(ctx, key)
	if errors.Is(err, shared.ErrNotFound) {
		r.logger.DebugContext(ctx, "no conversion rule, using factor 1",
			slog.String("article", key.Article),
			slog.Int64("from_unit_id", key.FromUnitID),
			slog.Int64("to_unit_id", key.ToUnitID))
		return identityFactor, nil
	}
	if err != nil {
		return decimal.Decimal{}, err
	}
	if verErr == nil {
		if err := r.cache.Set(ctx, key, ver, rule.Factor); err != nil {
			r.logger.WarnContext(ctx, "factor cache write failed", slog.Any("error", err))
		}
	}
	return rule.Factor, nil
}
