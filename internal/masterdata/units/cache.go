package units

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const cacheVersionKey = "units:factor:version"

// FactorCache stores resolved conversion factors in Redis. Keys embed a
// global version; Bump invalidates every cached factor at once. A nil cache
// or a nil client is a valid no-op cache.
type FactorCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewFactorCache(client *redis.Client, ttl time.Duration) *FactorCache {
	return &FactorCache{client: client, ttl: ttl}
}

func (c *FactorCache) enabled() bool {
	return c != nil && c.client != nil
}

// Version returns the current cache version, initialising when missing.
func (c *FactorCache) Version(ctx context.Context) (int64, error) {
	if !c.enabled() {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, cacheVersionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

func versionedKey(key RuleKey, ver int64) string {
	return strings.Join([]string{
		"units", "factor",
		key.Article,
		fmt.Sprint(key.FromUnitID),
		fmt.Sprint(key.ToUnitID),
		fmt.Sprint(ver),
	}, ":")
}

// Get returns the cached factor and whether it was present.
func (c *FactorCache) Get(ctx context.Context, key RuleKey) (decimal.Decimal, bool, error) {
	if !c.enabled() {
		return decimal.Decimal{}, false, nil
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return decimal.Decimal{}, false, err
	}
	raw, err := c.client.Get(ctx, versionedKey(key, ver)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Decimal{}, false, nil
	}
	if err != nil {
		return decimal.Decimal{}, false, err
	}
	factor, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("units: corrupt cached factor %q: %w", raw, err)
	}
	return factor, true, nil
}

// Set stores factor under version ver, which must be read before the rule
// itself so that a concurrent Bump leaves the entry unreachable.
func (c *FactorCache) Set(ctx context.Context, key RuleKey, ver int64, factor decimal.Decimal) error {
	if !c.enabled() {
		return nil
	}
	return c.client.Set(ctx, versionedKey(key, ver), factor.String(), c.ttl).Err()
}

// Bump invalidates the cache by incrementing the global version.
func (c *FactorCache) Bump(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}
