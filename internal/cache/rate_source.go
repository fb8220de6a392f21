package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// CachedRateSource serves the platform commission rate from Redis with a
// configured fallback, so an out-of-band rate change propagates without a
// restart. A missing or invalid fallback with no cached value is a hard
// error; the rate is never defaulted to zero.
type CachedRateSource struct {
	cache    *CacheService
	fallback float64
	logger   zerolog.Logger
}

// NewCachedRateSource creates a rate source backed by the cache with the
// configured platform rate as fallback
func NewCachedRateSource(cache *CacheService, fallback float64, logger zerolog.Logger) *CachedRateSource {
	return &CachedRateSource{
		cache:    cache,
		fallback: fallback,
		logger:   logger.With().Str("component", "rate_source").Logger(),
	}
}

// CommissionRate returns the current platform rate as a percentage of profit
func (s *CachedRateSource) CommissionRate(ctx context.Context) (float64, error) {
	if s.cache.IsHealthy() {
		rate, err := s.cache.client.Get(ctx, keyCommissionRate).Float64()
		switch {
		case err == nil:
			if rate > 0 && rate <= 100 {
				s.cache.recordSuccess()
				return rate, nil
			}
			s.logger.Warn().Float64("rate", rate).Msg("Ignoring out-of-range cached commission rate")
		case err == redis.Nil:
			s.cache.recordSuccess()
		default:
			s.cache.recordFailure(err)
		}
	}

	if s.fallback <= 0 || s.fallback > 100 {
		return 0, fmt.Errorf("commission rate unavailable: no cached value and fallback %.4f is invalid", s.fallback)
	}
	return s.fallback, nil
}

// SetRate publishes a new platform rate to the cache
func (s *CachedRateSource) SetRate(ctx context.Context, rate float64) error {
	if rate <= 0 || rate > 100 {
		return fmt.Errorf("commission rate %.4f out of range (0, 100]", rate)
	}
	if err := s.cache.client.Set(ctx, keyCommissionRate, rate, CommissionRateTTL).Err(); err != nil {
		s.cache.recordFailure(err)
		return fmt.Errorf("publish commission rate: %w", err)
	}
	s.cache.recordSuccess()
	return nil
}
