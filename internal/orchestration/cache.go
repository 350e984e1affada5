package orchestration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/refinement"
)

// ResultCache stores accepted results by cache key.
type ResultCache interface {
	Get(ctx context.Context, key string) (*refinement.Result, bool, error)
	Set(ctx context.Context, key string, result *refinement.Result) error
}

// SourceHash returns the hex sha256 of a source spec.
func SourceHash(sourceSpec string) string {
	sum := sha256.Sum256([]byte(sourceSpec))
	return hex.EncodeToString(sum[:])
}

// CacheKey identifies an accepted result. Results produced under different
// prompts, models or loop options never share a key.
func CacheKey(sourceHash, promptVersion, models string, opts refinement.Options) string {
	return fmt.Sprintf("%s:%s:%s:%d:%t:%t", sourceHash, promptVersion, models,
		opts.MaxIterations, opts.PassPriorConfiguration, opts.TrackDocumentation)
}

// RedisResultCache keeps accepted results in Redis with a TTL.
type RedisResultCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

// NewRedisResultCache creates a cache on client.
func NewRedisResultCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisResultCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisResultCache{
		client: client,
		ttl:    ttl,
		prefix: "mcp_config_builder:result:",
		logger: logger,
	}
}

func (c *RedisResultCache) redisKey(key string) string {
	return c.prefix + key
}

// Get implements ResultCache.
func (c *RedisResultCache) Get(ctx context.Context, key string) (*refinement.Result, bool, error) {
	data, err := c.client.Get(ctx, c.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached result: %w", err)
	}

	var result refinement.Result
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Warn("dropping undecodable cache entry", zap.String("key", key), zap.Error(err))
		if err := c.client.Del(ctx, c.redisKey(key)).Err(); err != nil {
			c.logger.Warn("failed to delete undecodable cache entry", zap.String("key", key), zap.Error(err))
		}
		return nil, false, nil
	}
	return &result, true, nil
}

// Set implements ResultCache.
func (c *RedisResultCache) Set(ctx context.Context, key string, result *refinement.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := c.client.Set(ctx, c.redisKey(key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache result: %w", err)
	}
	return nil
}
