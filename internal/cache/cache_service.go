// Package cache provides Redis-based caching with graceful degradation. When
// Redis is unavailable callers fall back to the database; the cache is never
// on the safety-critical path.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"futures-safety-bot/config"
	"futures-safety-bot/internal/database"
)

// Key prefixes per cache type
const (
	keyBotState       = "user:%s:bot_state"
	keyCommissionRate = "platform:commission_rate"
)

// Default TTLs
const (
	BotStateTTL       = 5 * time.Minute
	CommissionRateTTL = 15 * time.Minute
)

// ErrCacheMiss is returned when a key is absent or Redis is degraded
var ErrCacheMiss = errors.New("cache miss")

// CacheService wraps the Redis client with failure tracking. After enough
// consecutive failures it marks itself unhealthy and short-circuits reads
// until the backoff elapses.
type CacheService struct {
	client *redis.Client
	logger zerolog.Logger

	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastFailure  time.Time

	maxFailures     int
	recoveryBackoff time.Duration
}

// NewCacheService connects to Redis. A failed initial connection returns the
// service in degraded mode rather than an error; the process must start even
// when the cache is down.
func NewCacheService(cfg config.RedisConfig, logger zerolog.Logger) *CacheService {
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

	cs := &CacheService{
		client:          client,
		logger:          logger.With().Str("component", "cache").Logger(),
		maxFailures:     3,
		recoveryBackoff: 30 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		cs.logger.Warn().Err(err).Str("address", cfg.Address).Msg("Redis unavailable, cache degraded")
		return cs
	}

	cs.healthy = true
	cs.logger.Info().Str("address", cfg.Address).Msg("Redis connected")
	return cs
}

// IsHealthy reports whether Redis is currently usable
func (cs *CacheService) IsHealthy() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if cs.healthy {
		return true
	}
	return time.Since(cs.lastFailure) >= cs.recoveryBackoff
}

func (cs *CacheService) recordFailure(err error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.failureCount++
	cs.lastFailure = time.Now()
	if cs.failureCount >= cs.maxFailures && cs.healthy {
		cs.healthy = false
		cs.logger.Warn().Err(err).Int("failures", cs.failureCount).Msg("Cache marked unhealthy")
	}
}

func (cs *CacheService) recordSuccess() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if !cs.healthy {
		cs.logger.Info().Msg("Cache recovered")
	}
	cs.healthy = true
	cs.failureCount = 0
}

func (cs *CacheService) getJSON(ctx context.Context, key string, dest interface{}) error {
	if !cs.IsHealthy() {
		return ErrCacheMiss
	}
	data, err := cs.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		cs.recordFailure(err)
		return ErrCacheMiss
	}
	cs.recordSuccess()
	if err := json.Unmarshal(data, dest); err != nil {
		// Corrupt entry: drop it and treat as a miss.
		cs.client.Del(ctx, key)
		return ErrCacheMiss
	}
	return nil
}

func (cs *CacheService) setJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if !cs.IsHealthy() {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		cs.logger.Error().Err(err).Str("key", key).Msg("Cache marshal failed")
		return
	}
	if err := cs.client.Set(ctx, key, data, ttl).Err(); err != nil {
		cs.recordFailure(err)
		return
	}
	cs.recordSuccess()
}

// GetBotState returns a cached bot state, or ErrCacheMiss
func (cs *CacheService) GetBotState(ctx context.Context, userID string) (*database.BotState, error) {
	var state database.BotState
	if err := cs.getJSON(ctx, fmt.Sprintf(keyBotState, userID), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// SetBotState caches a bot state; failures are absorbed
func (cs *CacheService) SetBotState(ctx context.Context, state *database.BotState) {
	cs.setJSON(ctx, fmt.Sprintf(keyBotState, state.UserID), state, BotStateTTL)
}

// InvalidateBotState drops a user's cached bot state after a write
func (cs *CacheService) InvalidateBotState(ctx context.Context, userID string) {
	if !cs.IsHealthy() {
		return
	}
	if err := cs.client.Del(ctx, fmt.Sprintf(keyBotState, userID)).Err(); err != nil {
		cs.recordFailure(err)
	}
}

// Close releases the Redis connection pool
func (cs *CacheService) Close() error {
	return cs.client.Close()
}
