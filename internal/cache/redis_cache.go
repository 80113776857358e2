package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// redisKV is the slice of redis.Cmdable the cache needs.
type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Unlink(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisCache backs the call-context registry: a backend writes the context
// when it books a call, and the voice socket reads it once on connect.
// Every entry carries a TTL so calls that never connect are purged.
type RedisCache struct {
	rdb redisKV
	log logrus.FieldLogger
}

func NewRedisCache(rdb redis.Cmdable, log logrus.FieldLogger) *RedisCache {
	return newRedisCache(rdb, log)
}

func newRedisCache(rdb redisKV, log logrus.FieldLogger) *RedisCache {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RedisCache{rdb: rdb, log: log.WithField("component", "call_context_cache")}
}

// GetJSON reports a miss for absent keys. An entry that no longer decodes,
// e.g. one written before a CallContext field changed type, is unlinked and
// also reported as a miss so the caller re-registers the call.
func (c *RedisCache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("unlinking undecodable call context")
		_ = c.rdb.Unlink(ctx, key).Err()
		return false, nil
	}
	return true, nil
}

// SetJSON refuses a non-positive ttl; a registration without expiry would
// outlive an abandoned call forever.
func (c *RedisCache) SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("redis set %s: ttl must be positive, got %s", key, ttl)
	}
	b, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, key, b, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Del unlinks so ending a call never blocks on freeing a large resume.
func (c *RedisCache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Unlink(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis unlink: %w", err)
	}
	return nil
}
