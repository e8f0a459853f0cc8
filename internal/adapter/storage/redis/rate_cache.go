package redis

import (
	"context"
	"fmt"
	"time"

	"agroledger/internal/core/domain"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// RateCache implements ports.RateCache using Redis. Rates and fee estimates
// are stored as decimal strings to avoid float drift.
type RateCache struct {
	client *goredis.Client
	prefix string
}

// NewRateCache creates a new Redis-backed rate cache.
func NewRateCache(client *goredis.Client) *RateCache {
	return &RateCache{
		client: client,
		prefix: "rate:",
	}
}

// GetRate retrieves the cached conversion rate.
// Returns nil, nil when nothing is cached.
func (c *RateCache) GetRate(ctx context.Context) (*decimal.Decimal, error) {
	return c.get(ctx, c.prefix+"current")
}

// SetRate stores the conversion rate with TTL.
func (c *RateCache) SetRate(ctx context.Context, rate decimal.Decimal, ttl time.Duration) error {
	return c.set(ctx, c.prefix+"current", rate, ttl)
}

// GetFee retrieves the cached fee estimate for a transaction kind.
// Returns nil, nil when nothing is cached.
func (c *RateCache) GetFee(ctx context.Context, kind domain.TransactionKind) (*decimal.Decimal, error) {
	return c.get(ctx, c.prefix+"fee:"+string(kind))
}

// SetFee stores a fee estimate for a transaction kind with TTL.
func (c *RateCache) SetFee(ctx context.Context, kind domain.TransactionKind, fee decimal.Decimal, ttl time.Duration) error {
	return c.set(ctx, c.prefix+"fee:"+string(kind), fee, ttl)
}

func (c *RateCache) get(ctx context.Context, key string) (*decimal.Decimal, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis rate get: %w", err)
	}
	d, err := decimal.NewFromString(val)
	if err != nil {
		return nil, fmt.Errorf("parse cached rate %q: %w", val, err)
	}
	return &d, nil
}

func (c *RateCache) set(ctx context.Context, key string, value decimal.Decimal, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value.String(), ttl).Err(); err != nil {
		return fmt.Errorf("redis rate set: %w", err)
	}
	return nil
}
