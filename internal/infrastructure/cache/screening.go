package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/ledgerline/compliance_service/internal/domain/entities"
	"github.com/ledgerline/compliance_service/internal/infrastructure/config"
)

const screeningKeyPrefix = "compliance:aml:"

// ScreeningCache keeps recent AML screening results in Redis so repeated
// checks of the same address within the TTL skip the provider round trip.
type ScreeningCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// Connect opens a Redis client and verifies the connection.
func Connect(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewScreeningCache creates a screening cache with the given TTL.
func NewScreeningCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *ScreeningCache {
	return &ScreeningCache{client: client, ttl: ttl, logger: logger}
}

// Get returns the cached result for an address, or nil on a miss. Corrupt
// entries are dropped and treated as misses.
func (c *ScreeningCache) Get(ctx context.Context, address string) (*entities.AMLCheckResult, error) {
	key := screeningKeyPrefix + address
	raw, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("screening cache read failed: %w", err)
	}

	var result entities.AMLCheckResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		c.logger.Warn("dropping corrupt screening cache entry", zap.String("key", key), zap.Error(err))
		if delErr := c.client.Del(ctx, key).Err(); delErr != nil {
			c.logger.Warn("failed to drop corrupt entry", zap.Error(delErr))
		}
		return nil, nil
	}
	return &result, nil
}

// Set stores a screening result under the address with the configured TTL.
func (c *ScreeningCache) Set(ctx context.Context, address string, result *entities.AMLCheckResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal screening result: %w", err)
	}
	return c.client.Set(ctx, screeningKeyPrefix+address, raw, c.ttl).Err()
}
