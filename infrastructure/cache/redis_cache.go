// Package cache provides Redis-backed caching for indicator lookups.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vigilsec/sentinel/domain/entity"
)

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Address  string        `json:"address"`
	Password string        `json:"password"`
	DB       int           `json:"db"`
	PoolSize int           `json:"pool_size"`
	TTL      time.Duration `json:"ttl"`
}

// RedisIndicatorCache caches threat indicator lookups in Redis
type RedisIndicatorCache struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewRedisIndicatorCache connects to Redis and verifies the connection
func NewRedisIndicatorCache(logger *zap.Logger, config *RedisConfig) (*RedisIndicatorCache, error) {
	if config == nil {
		config = &RedisConfig{}
	}
	if config.Address == "" {
		config.Address = "localhost:6379"
	}
	if config.PoolSize == 0 {
		config.PoolSize = 10
	}
	if config.TTL == 0 {
		config.TTL = 30 * time.Minute
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis", zap.String("address", config.Address))

	return &RedisIndicatorCache{
		client: client,
		logger: logger.With(zap.String("component", "indicator-cache")),
		ttl:    config.TTL,
	}, nil
}

func cacheKey(key string) string {
	return "sentinel:indicator:" + key
}

// Get returns the cached indicator for key, or (nil, false, nil) on a
// cache miss.
func (c *RedisIndicatorCache) Get(ctx context.Context, key string) (*entity.ThreatIndicator, bool, error) {
	data, err := c.client.Get(ctx, cacheKey(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cached indicator: %w", err)
	}

	var indicator entity.ThreatIndicator
	if err := json.Unmarshal(data, &indicator); err != nil {
		// A corrupt entry is treated as a miss and evicted.
		c.logger.Warn("Dropping corrupt cache entry", zap.String("key", key), zap.Error(err))
		c.client.Del(ctx, cacheKey(key))
		return nil, false, nil
	}

	return &indicator, true, nil
}

// Set stores the indicator under key with the configured TTL
func (c *RedisIndicatorCache) Set(ctx context.Context, key string, indicator *entity.ThreatIndicator) error {
	data, err := json.Marshal(indicator)
	if err != nil {
		return fmt.Errorf("failed to marshal indicator: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache indicator: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (c *RedisIndicatorCache) Close() error {
	return c.client.Close()
}
