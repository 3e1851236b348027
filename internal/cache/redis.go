// Package cache stores redaction results in Redis so that an identical upload
// with identical options is served without running the engine again.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/raaihank/pdf-redactor/internal/config"
)

// ResultCache handles Redis-based caching of redacted documents
type ResultCache struct {
	client *redis.Client
	config config.CacheConfig
	logger *zap.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a Redis-backed result cache and checks the connection
func New(cfg config.CacheConfig, logger *zap.Logger) (*ResultCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	// Parse Redis URL
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure connection pool
	opts.PoolSize = cfg.MaxConnections
	opts.MinIdleConns = cfg.MinIdleConns

	rc := &ResultCache{
		client: redis.NewClient(opts),
		config: cfg,
		logger: logger.With(zap.String("component", "cache")),
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rc.client.Ping(ctx).Err(); err != nil {
		rc.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	rc.logger.Info("Result cache initialized",
		zap.String("redis_url", maskRedisURL(cfg.RedisURL)),
		zap.Int("max_connections", cfg.MaxConnections),
		zap.Duration("default_ttl", cfg.DefaultTTL))

	return rc, nil
}

// Key derives the cache key for an upload and its options
func (rc *ResultCache) Key(upload []byte, opts KeyOptions) string {
	return Key(rc.config.KeyPrefix, upload, opts)
}

// Key hashes the upload together with its normalized options. Predefined
// pattern names are order independent; search order is kept.
func Key(prefix string, upload []byte, opts KeyOptions) string {
	kinds := make([]string, len(opts.PredefinedPatterns))
	for i, k := range opts.PredefinedPatterns {
		kinds[i] = strings.ToLower(strings.TrimSpace(k))
	}
	sort.Strings(kinds)
	opts.PredefinedPatterns = kinds
	if opts.Searches == nil {
		opts.Searches = []string{}
	}

	optData, _ := json.Marshal(opts)

	hasher := sha256.New()
	hasher.Write(upload)
	hasher.Write([]byte{0})
	hasher.Write(optData)

	return fmt.Sprintf("%s:result:%s", prefix, hex.EncodeToString(hasher.Sum(nil)))
}

// Get returns the cached entry for key. A miss, or an entry that cannot be
// decoded, returns (nil, nil).
func (rc *ResultCache) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := rc.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		rc.misses.Add(1)
		rc.logger.Debug("Cache miss", zap.String("key", key))
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("cache lookup failed: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		rc.logger.Error("Failed to unmarshal cached result", zap.Error(err))
		// Delete corrupted cache entry
		rc.client.Del(ctx, key)
		rc.misses.Add(1)
		return nil, nil
	}

	rc.hits.Add(1)
	rc.logger.Debug("Cache hit", zap.String("key", key))
	return &entry, nil
}

// Store caches entry under key with the configured TTL. Entries larger than
// the configured maximum are skipped.
func (rc *ResultCache) Store(ctx context.Context, key string, entry *Entry) error {
	if rc.config.MaxEntrySize > 0 && int64(len(entry.Output)) > rc.config.MaxEntrySize {
		rc.logger.Debug("Result too large to cache",
			zap.String("key", key),
			zap.Int("size", len(entry.Output)))
		return nil
	}

	entry.CachedAt = time.Now()
	entry.TTL = int64(rc.config.DefaultTTL.Seconds())

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal result for caching: %w", err)
	}

	if err := rc.client.Set(ctx, key, data, rc.config.DefaultTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache result: %w", err)
	}

	rc.logger.Debug("Result cached",
		zap.String("key", key),
		zap.Int("size", len(entry.Output)),
		zap.Int("total_matches", entry.Statistics.TotalMatches))
	return nil
}

// GetStats returns cache performance statistics
func (rc *ResultCache) GetStats(ctx context.Context) (*CacheStats, error) {
	info, err := rc.client.Info(ctx, "memory").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis info: %w", err)
	}

	stats := &CacheStats{
		Hits:   rc.hits.Load(),
		Misses: rc.misses.Load(),
	}

	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	for _, line := range strings.Split(info, "\r\n") {
		if memStr, ok := strings.CutPrefix(line, "used_memory:"); ok {
			if mem, err := strconv.ParseInt(memStr, 10, 64); err == nil {
				stats.MemoryUsage = mem
			}
		}
	}

	if keys, err := rc.client.DBSize(ctx).Result(); err == nil {
		stats.TotalKeys = keys
	}

	return stats, nil
}

// Clear removes all cached results under the key prefix
func (rc *ResultCache) Clear(ctx context.Context) error {
	iter := rc.client.Scan(ctx, 0, rc.config.KeyPrefix+":result:*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}

	// Delete keys in batches
	const batchSize = 100
	for i := 0; i < len(keys); i += batchSize {
		end := min(i+batchSize, len(keys))
		if err := rc.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	rc.logger.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Close closes the Redis connection
func (rc *ResultCache) Close() error {
	return rc.client.Close()
}

// maskRedisURL masks the password in a Redis URL for logging
func maskRedisURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	scheme := strings.Index(userPart, "://")
	if colon < 0 || colon <= scheme+2 {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}
