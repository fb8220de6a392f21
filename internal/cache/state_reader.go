package cache

import (
	"context"

	"github.com/rs/zerolog"

	"futures-safety-bot/internal/database"
)

// StateSource is the durable store behind the cache
type StateSource interface {
	GetBotState(ctx context.Context, userID string) (*database.BotState, error)
}

// StateReader serves bot states cache-first. Misses fall through to the
// store and populate the cache; with a degraded cache it reads the store
// directly, so callers see the same interface either way.
type StateReader struct {
	cache  *CacheService
	store  StateSource
	logger zerolog.Logger
}

func NewStateReader(cache *CacheService, store StateSource, logger zerolog.Logger) *StateReader {
	return &StateReader{
		cache:  cache,
		store:  store,
		logger: logger.With().Str("component", "state_reader").Logger(),
	}
}

// GetBotState returns the cached state when present, otherwise loads from
// the store and caches the result.
func (r *StateReader) GetBotState(ctx context.Context, userID string) (*database.BotState, error) {
	if state, err := r.cache.GetBotState(ctx, userID); err == nil {
		return state, nil
	}
	state, err := r.store.GetBotState(ctx, userID)
	if err != nil {
		return nil, err
	}
	r.cache.SetBotState(ctx, state)
	return state, nil
}

// Invalidate drops the cached entry after a state-changing write
func (r *StateReader) Invalidate(ctx context.Context, userID string) {
	r.cache.InvalidateBotState(ctx, userID)
}
