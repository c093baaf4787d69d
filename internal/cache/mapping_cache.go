// Package cache provides an optional Redis-backed lookup cache for
// pseudonym mappings, shared across runs and processes. The mapping store
// remains the source of truth; the cache only accelerates repeat lookups
// of fingerprints that were already pseudonymized by an earlier run.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// MappingCache handles Redis-based caching of fingerprint-to-pseudonym
// mappings.
type MappingCache struct {
	client *redis.Client
	config *Config
	logger *zap.Logger
	stats  *cacheStats
}

// cacheStats tracks cache performance metrics.
type cacheStats struct {
	hits   int64
	misses int64
}

// New creates a new Redis-based mapping cache and verifies connectivity.
func New(config *Config, logger *zap.Logger) (*MappingCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = config.MaxConnections
	opts.MinIdleConns = config.MinIdleConns

	mc := &MappingCache{
		client: redis.NewClient(opts),
		config: config,
		logger: logger,
		stats:  &cacheStats{},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := mc.client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Mapping cache initialized",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Int("max_connections", config.MaxConnections),
		zap.Duration("default_ttl", config.DefaultTTL))

	return mc, nil
}

// Get looks up the pseudonym for a fingerprint. A miss is not an error.
func (mc *MappingCache) Get(ctx context.Context, fingerprint string) (*CachedMapping, bool, error) {
	key := mc.key(fingerprint)

	data, err := mc.client.Get(ctx, key).Result()
	if err == redis.Nil {
		mc.stats.misses++
		return nil, false, nil
	}
	if err != nil {
		mc.logger.Error("Cache lookup failed", zap.Error(err))
		return nil, false, err
	}

	var mapping CachedMapping
	if err := json.Unmarshal([]byte(data), &mapping); err != nil {
		mc.logger.Error("Failed to unmarshal cached mapping", zap.Error(err))
		mc.client.Del(ctx, key)
		mc.stats.misses++
		return nil, false, nil
	}

	mc.stats.hits++
	mc.logger.Debug("Cache hit", zap.String("category", mapping.Category))
	return &mapping, true, nil
}

// Set caches one mapping with the configured TTL.
func (mc *MappingCache) Set(ctx context.Context, mapping *CachedMapping) error {
	mapping.CachedAt = time.Now()
	mapping.TTL = int64(mc.config.DefaultTTL.Seconds())

	data, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("failed to marshal mapping for caching: %w", err)
	}

	if err := mc.client.Set(ctx, mc.key(mapping.Fingerprint), data, mc.config.DefaultTTL).Err(); err != nil {
		mc.logger.Error("Failed to cache mapping", zap.Error(err))
		return fmt.Errorf("failed to cache mapping: %w", err)
	}
	return nil
}

// GetStats returns cache performance statistics.
func (mc *MappingCache) GetStats(ctx context.Context) (*Stats, error) {
	info, err := mc.client.Info(ctx, "memory").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis info: %w", err)
	}

	stats := &Stats{
		Hits:   mc.stats.hits,
		Misses: mc.stats.misses,
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	for _, line := range strings.Split(info, "\r\n") {
		if strings.HasPrefix(line, "used_memory:") {
			if mem, err := strconv.ParseInt(strings.TrimPrefix(line, "used_memory:"), 10, 64); err == nil {
				stats.MemoryUsage = mem
			}
		}
	}
	if keys, err := mc.client.DBSize(ctx).Result(); err == nil {
		stats.TotalKeys = keys
	}
	return stats, nil
}

// Clear removes every cached mapping under the configured prefix.
func (mc *MappingCache) Clear(ctx context.Context) error {
	iter := mc.client.Scan(ctx, 0, mc.config.KeyPrefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}
	if len(keys) > 0 {
		if err := mc.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}
	mc.logger.Info("Mapping cache cleared", zap.Int("keys_removed", len(keys)))
	return nil
}

// Close releases the Redis connection pool.
func (mc *MappingCache) Close() error {
	return mc.client.Close()
}

func (mc *MappingCache) key(fingerprint string) string {
	return mc.config.KeyPrefix + fingerprint
}

// maskRedisURL hides credentials embedded in a Redis URL for logging.
func maskRedisURL(url string) string {
	if at := strings.LastIndex(url, "@"); at != -1 {
		if scheme := strings.Index(url, "://"); scheme != -1 {
			return url[:scheme+3] + "***" + url[at:]
		}
	}
	return url
}
