package external

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pharmgx-risk-server/internal/domain"
)

const explanationKeyPrefix = "pgx:explanation:"

// redisClient is the subset of *redis.Client used by ExplanationCache
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// ExplanationCache stores generated explanations in Redis so that replicas
// share them
type ExplanationCache struct {
	redis      redisClient
	defaultTTL time.Duration
}

// CachedExplanation represents a cached explanation with its expiry
type CachedExplanation struct {
	Summary   string    `json:"summary"`
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewExplanationCache connects to Redis and verifies the connection
func NewExplanationCache(config domain.CacheConfig) (*ExplanationCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newExplanationCache(client, config.DefaultTTL), nil
}

func newExplanationCache(client redisClient, ttl time.Duration) *ExplanationCache {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &ExplanationCache{redis: client, defaultTTL: ttl}
}

// Get retrieves a cached explanation. A miss returns found=false with no error.
func (c *ExplanationCache) Get(ctx context.Context, req domain.ExplanationRequest) (string, bool, error) {
	key := explanationKeyPrefix + ExplanationKey(req)

	val, err := c.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get explanation cache: %w", err)
	}

	var cached CachedExplanation
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		// Remove corrupted cache entry
		c.redis.Del(ctx, key)
		return "", false, nil
	}

	if time.Now().After(cached.ExpiresAt) {
		c.redis.Del(ctx, key)
		return "", false, nil
	}

	return cached.Summary, true, nil
}

// Set caches an explanation; a zero ttl uses the default
func (c *ExplanationCache) Set(ctx context.Context, req domain.ExplanationRequest, summary string, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	now := time.Now()
	data, err := json.Marshal(CachedExplanation{
		Summary:   summary,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal explanation cache data: %w", err)
	}

	return c.redis.Set(ctx, explanationKeyPrefix+ExplanationKey(req), data, ttl).Err()
}

// Ping checks the Redis connection
func (c *ExplanationCache) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *ExplanationCache) Close() error {
	return c.redis.Close()
}

// ExplanationKey derives a stable cache key from every field that appears in
// the prompt or the fallback text
func ExplanationKey(req domain.ExplanationRequest) string {
	parts := []string{
		req.Drug,
		req.Profile.Gene,
		req.Profile.Diplotype,
		req.Profile.Phenotype.String(),
		req.Risk.RiskLabel,
		req.Risk.DosingNote,
		strconv.FormatFloat(req.Risk.ConfidenceScore, 'f', -1, 64),
	}
	hash := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(hash[:])
}
