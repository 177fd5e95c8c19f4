// Package cache provides Redis-backed read caching for Balance, User,
// and Asset lookups (C8), with the same circuit-breaker degradation
// the teacher's Redis cache applies: after maxFailures consecutive
// errors the cache marks itself unhealthy and every call fails fast
// until a background health check (or organic retry past
// checkInterval) finds Redis reachable again. The core never reads
// through the cache inside a lock or on a write path — caches are
// read-repair only, so circuit-breaker degradation costs latency, not
// correctness.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Key prefixes for the three entity kinds the transactional core
// caches on the read path.
const (
	PrefixBalance = "balance:%s"
	PrefixUser    = "user:%s"
	PrefixAsset   = "asset:%s"
)

// DefaultTTL is applied to every cached read unless the caller
// overrides it.
const DefaultTTL = 30 * time.Second

// Config configures the Redis connection backing the Cache.
type Config struct {
	Address  string
	Password string
	DB       int
	PoolSize int
	Enabled  bool
}

// Cache wraps a Redis client with circuit-breaker degradation.
type Cache struct {
	client *redis.Client
	cfg    Config

	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	maxFailures     int
	checkInterval   time.Duration
	recoveryBackoff time.Duration
}

// New connects to Redis per cfg. If Redis is unreachable at startup,
// the Cache is returned in degraded mode rather than as an error —
// every method call fails fast until a health check succeeds.
func New(cfg Config) (*Cache, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	c := &Cache{
		client:          client,
		cfg:             cfg,
		maxFailures:     3,
		checkInterval:   30 * time.Second,
		recoveryBackoff: 5 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("initial redis connection failed, starting in degraded mode")
		return c, nil
	}

	c.healthy = true
	c.lastCheck = time.Now()
	log.Info().Str("address", cfg.Address).Msg("connected to redis cache")
	return c, nil
}

// IsHealthy reports whether the circuit breaker currently considers
// Redis reachable.
func (c *Cache) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy
}

func (c *Cache) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCount++
	if c.failureCount >= c.maxFailures && c.healthy {
		log.Warn().Int("failures", c.failureCount).Msg("cache circuit breaker open")
	}
	if c.failureCount >= c.maxFailures {
		c.healthy = false
	}
}

func (c *Cache) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.healthy {
		log.Info().Msg("cache circuit breaker closed, redis recovered")
	}
	c.healthy = true
	c.failureCount = 0
	c.lastCheck = time.Now()
}

func (c *Cache) checkHealth(ctx context.Context) {
	c.mu.RLock()
	shouldCheck := !c.healthy && time.Since(c.lastCheck) >= c.checkInterval
	c.mu.RUnlock()
	if !shouldCheck {
		return
	}
	go func() {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.client.Ping(pingCtx).Err(); err == nil {
			c.recordSuccess()
		}
	}()
}

// errDegraded is returned by every method when the circuit breaker is
// open, so callers can fall back to the DAO read path.
var errDegraded = fmt.Errorf("cache unavailable (circuit breaker open)")

// GetJSON reads key and unmarshals it into dest. redis.Nil (cache
// miss) is returned unwrapped so callers can distinguish "not
// cached yet" from "cache broken".
func (c *Cache) GetJSON(ctx context.Context, key string, dest any) error {
	c.checkHealth(ctx)
	if !c.IsHealthy() {
		return errDegraded
	}
	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return err
		}
		c.recordFailure()
		return fmt.Errorf("cache get failed: %w", err)
	}
	c.recordSuccess()
	return json.Unmarshal([]byte(data), dest)
}

// SetJSON marshals value and stores it under key with ttl.
func (c *Cache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	c.checkHealth(ctx)
	if !c.IsHealthy() {
		return errDegraded
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.recordFailure()
		return fmt.Errorf("cache set failed: %w", err)
	}
	c.recordSuccess()
	return nil
}

// Delete invalidates key (used after a write changes the underlying
// row, so the next read repopulates the cache rather than serving a
// stale entry).
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.checkHealth(ctx)
	if !c.IsHealthy() {
		return errDegraded
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.recordFailure()
		return fmt.Errorf("cache delete failed: %w", err)
	}
	c.recordSuccess()
	return nil
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// BalanceKey returns the cache key for a user's balance.
func BalanceKey(username string) string { return fmt.Sprintf(PrefixBalance, username) }

// UserKey returns the cache key for a user's profile.
func UserKey(username string) string { return fmt.Sprintf(PrefixUser, username) }

// AssetKey returns the cache key for a catalog asset.
func AssetKey(assetID string) string { return fmt.Sprintf(PrefixAsset, assetID) }
