package risk

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"futures-safety-bot/internal/database"
	"futures-safety-bot/internal/logging"
)

// memStore is an in-memory StateStore/BalanceSource with the same conditional
// cooldown semantics as the SQL repository
type memStore struct {
	mu       sync.Mutex
	states   map[string]*database.BotState
	balances map[string]float64
}

func newMemStore() *memStore {
	return &memStore{
		states:   make(map[string]*database.BotState),
		balances: make(map[string]float64),
	}
}

func (m *memStore) GetBotState(ctx context.Context, userID string) (*database.BotState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[userID]
	if !ok {
		return nil, database.ErrNotFound
	}
	copied := *state
	return &copied, nil
}

func (m *memStore) StartCooldown(ctx context.Context, userID, reason string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.states[userID]
	if state.IsInCooldown {
		return false, nil
	}
	state.IsInCooldown = true
	state.CooldownStartedAt = &at
	state.CooldownReason = &reason
	return true, nil
}

func (m *memStore) ClearCooldown(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.states[userID]
	state.IsInCooldown = false
	state.CooldownStartedAt = nil
	state.CooldownReason = nil
	state.ConsecutiveLosses = 0
	return nil
}

func (m *memStore) RecordTradeOutcome(ctx context.Context, state *database.BotState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.states[state.UserID]
	existing.Stats = state.Stats
	existing.ConsecutiveWins = state.ConsecutiveWins
	existing.ConsecutiveLosses = state.ConsecutiveLosses
	existing.LastTradeTime = state.LastTradeTime
	return nil
}

func (m *memStore) GetUserBalance(ctx context.Context, userID string) (*database.UserBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, ok := m.balances[userID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &database.UserBalance{UserID: userID, GasFeeBalance: balance}, nil
}

func defaultState(userID string) *database.BotState {
	return &database.BotState{
		UserID: userID,
		Status: database.BotStatusActive,
		AIConfig: database.AIConfig{
			Enabled:             true,
			ConfidenceThreshold: 0.82,
			MinGasFeeBalance:    10,
		},
		RiskConfig: database.RiskConfig{
			MaxDailyTradesHighWinRate: 10,
			MaxDailyTradesLowWinRate:  5,
			WinRateThreshold:          0.85,
			MaxConsecutiveLosses:      2,
			CooldownPeriodHours:       4,
		},
	}
}

func newTestController(store *memStore) (*Controller, *time.Time) {
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewController(store, store, logging.Nop())
	c.now = func() time.Time { return current }
	return c, &current
}

func TestCanTradeGateOrder(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(*memStore)
		wantAllow  bool
		wantReason string
	}{
		{
			name:      "all gates pass",
			setup:     func(m *memStore) {},
			wantAllow: true,
		},
		{
			name: "inactive bot fails first",
			setup: func(m *memStore) {
				m.states["u1"].Status = database.BotStatusPaused
				m.balances["u1"] = 0 // would also fail, but status wins
			},
			wantReason: "not active",
		},
		{
			name: "low balance",
			setup: func(m *memStore) {
				m.balances["u1"] = 5
			},
			wantReason: "below required minimum",
		},
		{
			name: "quota exhausted",
			setup: func(m *memStore) {
				m.states["u1"].DailyTradeCount = 5 // low-win-rate cap with no trades yet
			},
			wantReason: "daily trade limit reached",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			store.states["u1"] = defaultState("u1")
			store.balances["u1"] = 100
			tt.setup(store)

			controller, _ := newTestController(store)
			result, err := controller.CanTrade(context.Background(), "u1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Allowed != tt.wantAllow {
				t.Errorf("Allowed = %v, want %v (reason %q)", result.Allowed, tt.wantAllow, result.Reason)
			}
			if tt.wantReason != "" && !strings.Contains(result.Reason, tt.wantReason) {
				t.Errorf("Reason = %q, want it to contain %q", result.Reason, tt.wantReason)
			}
		})
	}
}

func TestCanTradeUnknownUserFailsClosed(t *testing.T) {
	controller, _ := newTestController(newMemStore())

	result, err := controller.CanTrade(context.Background(), "ghost")
	if err == nil {
		t.Fatal("expected error for missing bot state")
	}
	if result.Allowed {
		t.Error("missing bot state must never default to allowed")
	}
}

func TestAdaptiveDailyQuota(t *testing.T) {
	cfg := database.RiskConfig{
		MaxDailyTradesHighWinRate: 10,
		MaxDailyTradesLowWinRate:  5,
		WinRateThreshold:          0.85,
	}

	if limit, mode := EffectiveDailyCap(cfg, 0.90); limit != 10 || mode != QuotaModeHighWinRate {
		t.Errorf("win rate 0.90: got cap %d mode %s, want 10 %s", limit, mode, QuotaModeHighWinRate)
	}
	if limit, mode := EffectiveDailyCap(cfg, 0.70); limit != 5 || mode != QuotaModeLowWinRate {
		t.Errorf("win rate 0.70: got cap %d mode %s, want 5 %s", limit, mode, QuotaModeLowWinRate)
	}
	if limit, _ := EffectiveDailyCap(cfg, 0.85); limit != 10 {
		t.Errorf("win rate at threshold: got cap %d, want 10", limit)
	}
}

func TestConsecutiveLossesTriggerCooldown(t *testing.T) {
	store := newMemStore()
	store.states["u1"] = defaultState("u1")
	store.balances["u1"] = 100
	controller, now := newTestController(store)

	var startedReason string
	controller.OnCooldownStart(func(userID, reason string) { startedReason = reason })

	if _, err := controller.RecordTradeResult(context.Background(), "u1", database.ResultLoss, -20); err != nil {
		t.Fatalf("first loss: %v", err)
	}
	if store.states["u1"].IsInCooldown {
		t.Fatal("cooldown must not start after a single loss")
	}

	if _, err := controller.RecordTradeResult(context.Background(), "u1", database.ResultLoss, -15); err != nil {
		t.Fatalf("second loss: %v", err)
	}
	if !store.states["u1"].IsInCooldown {
		t.Fatal("cooldown must start after maxConsecutiveLosses losses")
	}
	if !strings.Contains(startedReason, "2x consecutive losses") {
		t.Errorf("cooldown reason = %q", startedReason)
	}

	// Gate denies with a COOLDOWN reason before the period elapses.
	result, err := controller.CanTrade(context.Background(), "u1")
	if err != nil {
		t.Fatalf("CanTrade during cooldown: %v", err)
	}
	if result.Allowed {
		t.Fatal("trade allowed during cooldown")
	}
	if !strings.Contains(result.Reason, "COOLDOWN") {
		t.Errorf("reason %q does not mention COOLDOWN", result.Reason)
	}

	// After the period elapses the next CanTrade clears the cooldown and
	// resets the loss streak before evaluating the remaining gates.
	*now = now.Add(4*time.Hour + time.Minute)
	ended := false
	controller.OnCooldownEnd(func(userID string) { ended = true })

	result, err = controller.CanTrade(context.Background(), "u1")
	if err != nil {
		t.Fatalf("CanTrade after cooldown: %v", err)
	}
	if !result.Allowed {
		t.Fatalf("trade denied after cooldown expiry: %s", result.Reason)
	}
	if !ended {
		t.Error("cooldown end callback not fired")
	}
	if store.states["u1"].IsInCooldown {
		t.Error("cooldown flag not cleared")
	}
	if store.states["u1"].ConsecutiveLosses != 0 {
		t.Errorf("consecutive losses = %d after expiry, want 0", store.states["u1"].ConsecutiveLosses)
	}
}

func TestCooldownTripsExactlyOnce(t *testing.T) {
	store := newMemStore()
	store.states["u1"] = defaultState("u1")
	controller, _ := newTestController(store)

	trips := 0
	controller.OnCooldownStart(func(userID, reason string) { trips++ })

	for i := 0; i < 4; i++ {
		if _, err := controller.RecordTradeResult(context.Background(), "u1", database.ResultLoss, -10); err != nil {
			t.Fatalf("loss %d: %v", i, err)
		}
	}
	if trips != 1 {
		t.Errorf("cooldown fired %d times for one qualifying streak, want 1", trips)
	}
}

func TestWinDoesNotClearActiveCooldown(t *testing.T) {
	store := newMemStore()
	store.states["u1"] = defaultState("u1")
	store.balances["u1"] = 100
	controller, _ := newTestController(store)

	controller.RecordTradeResult(context.Background(), "u1", database.ResultLoss, -10)
	controller.RecordTradeResult(context.Background(), "u1", database.ResultLoss, -10)
	if !store.states["u1"].IsInCooldown {
		t.Fatal("expected cooldown")
	}

	state, err := controller.RecordTradeResult(context.Background(), "u1", database.ResultWin, 30)
	if err != nil {
		t.Fatalf("win during cooldown: %v", err)
	}
	if state.ConsecutiveLosses != 0 {
		t.Errorf("consecutive losses = %d after win, want 0", state.ConsecutiveLosses)
	}
	if !store.states["u1"].IsInCooldown {
		t.Error("a win must not clear a time-gated cooldown")
	}

	result, _ := controller.CanTrade(context.Background(), "u1")
	if result.Allowed {
		t.Error("trade allowed during cooldown despite win")
	}
}

func TestWinLossBookkeeping(t *testing.T) {
	store := newMemStore()
	store.states["u1"] = defaultState("u1")
	controller, _ := newTestController(store)

	state, err := controller.RecordTradeResult(context.Background(), "u1", database.ResultWin, 42.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if state.Stats.TotalProfit != 42.5 {
		t.Errorf("TotalProfit = %.2f, want 42.5", state.Stats.TotalProfit)
	}
	if state.ConsecutiveWins != 1 {
		t.Errorf("ConsecutiveWins = %d, want 1", state.ConsecutiveWins)
	}
	if state.ConsecutiveLosses != 0 {
		t.Errorf("ConsecutiveLosses = %d, want 0", state.ConsecutiveLosses)
	}
	if state.Stats.WinRate() != 1.0 {
		t.Errorf("WinRate = %.2f, want 1.0", state.Stats.WinRate())
	}
	if state.Stats.BestTrade != 42.5 {
		t.Errorf("BestTrade = %.2f, want 42.5", state.Stats.BestTrade)
	}

	state, err = controller.RecordTradeResult(context.Background(), "u1", database.ResultLoss, -12.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Stats.TotalLoss != 12.5 {
		t.Errorf("TotalLoss = %.2f, want 12.5", state.Stats.TotalLoss)
	}
	if state.Stats.NetProfit() != 30 {
		t.Errorf("NetProfit = %.2f, want 30", state.Stats.NetProfit())
	}
	if state.Stats.WinRate() != 0.5 {
		t.Errorf("WinRate = %.2f, want 0.5", state.Stats.WinRate())
	}
	if state.Stats.WorstTrade != -12.5 {
		t.Errorf("WorstTrade = %.2f, want -12.5", state.Stats.WorstTrade)
	}
}
