package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"futures-safety-bot/internal/database"
	"futures-safety-bot/internal/events"
	"futures-safety-bot/internal/exchange"
)

// StatusStore extends StateStore with the status writes the manager owns
type StatusStore interface {
	StateStore
	UpdateBotStatus(ctx context.Context, userID, status string) error
	ListBotStates(ctx context.Context, status string) ([]*database.BotState, error)
}

// Manager owns the per-user bots. Bots across users run independently; the
// manager only serializes start/stop bookkeeping.
type Manager struct {
	store        StatusStore
	riskGate     RiskGate
	scorer       Scorer
	safety       SafetyEngine
	exchange     exchange.Client
	bus          *events.EventBus
	logger       zerolog.Logger
	pollInterval time.Duration

	mu   sync.Mutex
	bots map[string]*Bot
}

// NewManager creates the bot manager
func NewManager(store StatusStore, riskGate RiskGate, scorer Scorer, safety SafetyEngine, ex exchange.Client, bus *events.EventBus, pollInterval time.Duration, logger zerolog.Logger) *Manager {
	return &Manager{
		store:        store,
		riskGate:     riskGate,
		scorer:       scorer,
		safety:       safety,
		exchange:     ex,
		bus:          bus,
		logger:       logger.With().Str("component", "bot_manager").Logger(),
		pollInterval: pollInterval,
		bots:         make(map[string]*Bot),
	}
}

// StartBot activates a user's bot and begins accepting signals for it
func (m *Manager) StartBot(ctx context.Context, userID string) (*Bot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.bots[userID]; ok {
		return b, nil
	}

	if _, err := m.store.GetBotState(ctx, userID); err != nil {
		return nil, fmt.Errorf("start bot for %s: %w", userID, err)
	}
	if err := m.store.UpdateBotStatus(ctx, userID, database.BotStatusActive); err != nil {
		return nil, fmt.Errorf("activate bot for %s: %w", userID, err)
	}

	b := New(userID, m.store, m.riskGate, m.scorer, m.safety, m.exchange, m.bus, m.pollInterval, m.logger)
	m.bots[userID] = b

	m.bus.Publish(events.Event{Type: events.EventBotStarted, UserID: userID})
	m.logger.Info().Str("user_id", userID).Msg("Bot started")
	return b, nil
}

// StopBot pauses a user's bot. The bot's monitoring loop runs its final
// safety check before this returns.
func (m *Manager) StopBot(ctx context.Context, userID string) error {
	m.mu.Lock()
	b, ok := m.bots[userID]
	if ok {
		delete(m.bots, userID)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("no running bot for user %s", userID)
	}

	b.Stop()
	if err := m.store.UpdateBotStatus(ctx, userID, database.BotStatusPaused); err != nil {
		return fmt.Errorf("pause bot for %s: %w", userID, err)
	}

	m.bus.Publish(events.Event{Type: events.EventBotStopped, UserID: userID})
	m.logger.Info().Str("user_id", userID).Msg("Bot stopped")
	return nil
}

// GetBot returns a running bot, or nil when the user has none
func (m *Manager) GetBot(userID string) *Bot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bots[userID]
}

// ResumeActive restarts bots that were active before the process last exited
func (m *Manager) ResumeActive(ctx context.Context) error {
	states, err := m.store.ListBotStates(ctx, database.BotStatusActive)
	if err != nil {
		return fmt.Errorf("list active bots: %w", err)
	}
	for _, state := range states {
		if _, err := m.StartBot(ctx, state.UserID); err != nil {
			m.logger.Error().Err(err).Str("user_id", state.UserID).Msg("Failed to resume bot")
		}
	}
	m.logger.Info().Int("count", len(states)).Msg("Resumed active bots")
	return nil
}

// StopAll stops every running bot, used on process shutdown
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	bots := make([]*Bot, 0, len(m.bots))
	users := make([]string, 0, len(m.bots))
	for userID, b := range m.bots {
		bots = append(bots, b)
		users = append(users, userID)
	}
	m.bots = make(map[string]*Bot)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for i, b := range bots {
		wg.Add(1)
		go func(b *Bot, userID string) {
			defer wg.Done()
			b.Stop()
			if err := m.store.UpdateBotStatus(ctx, userID, database.BotStatusPaused); err != nil {
				m.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to persist pause on shutdown")
			}
		}(b, users[i])
	}
	wg.Wait()
	m.logger.Info().Int("count", len(bots)).Msg("All bots stopped")
}
