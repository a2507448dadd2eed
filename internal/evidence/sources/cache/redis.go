package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"verity/internal/evidence/sources"
)

const keyPrefix = "verity:source:"

// RedisCache stores source results as JSON under a per-source key prefix so
// several instances share lookups while each source keeps its own namespace.
type RedisCache struct {
	client redis.Cmdable
	prefix string
}

// NewRedisCache creates a cache namespaced to source.
func NewRedisCache(client redis.Cmdable, source string) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: keyPrefix + source + ":",
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) (sources.Result, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return sources.Result{}, false, nil
	}
	if err != nil {
		return sources.Result{}, false, fmt.Errorf("redis get: %w", err)
	}
	var result sources.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return sources.Result{}, false, fmt.Errorf("decode cached result: %w", err)
	}
	return result, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, result sources.Result, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
