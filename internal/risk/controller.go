// Package risk implements the per-user trading safety state machine: loss
// streak tracking, time-boxed cooldowns, and the adaptive daily trade quota.
package risk

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"futures-safety-bot/internal/database"
)

// Quota mode labels reported by CanTrade
const (
	QuotaModeHighWinRate = "high_win_rate"
	QuotaModeLowWinRate  = "low_win_rate"
)

// StateStore is the persistence surface the controller needs. Satisfied by
// *database.Repository.
type StateStore interface {
	GetBotState(ctx context.Context, userID string) (*database.BotState, error)
	StartCooldown(ctx context.Context, userID, reason string, at time.Time) (bool, error)
	ClearCooldown(ctx context.Context, userID string) error
	RecordTradeOutcome(ctx context.Context, state *database.BotState) error
}

// BalanceSource supplies the gas fee balance for the trade gate
type BalanceSource interface {
	GetUserBalance(ctx context.Context, userID string) (*database.UserBalance, error)
}

// GateResult is the outcome of one CanTrade evaluation
type GateResult struct {
	Allowed      bool    `json:"allowed"`
	Reason       string  `json:"reason,omitempty"`
	Balance      float64 `json:"balance"`
	WinRate      float64 `json:"win_rate"`
	QuotaMode    string  `json:"quota_mode"`
	EffectiveCap int     `json:"effective_cap"`
}

// Controller gates trade-open requests and tracks win/loss streaks. There are
// two states, NORMAL and COOLDOWN; cooldown expiry is evaluated lazily on the
// next CanTrade call rather than by a background timer, so the persisted
// state remains the single source of truth.
type Controller struct {
	store    StateStore
	balances BalanceSource
	logger   zerolog.Logger
	now      func() time.Time

	onCooldownStart func(userID, reason string)
	onCooldownEnd   func(userID string)
}

// NewController creates a risk controller shared across users; all per-user
// state lives in the store.
func NewController(store StateStore, balances BalanceSource, logger zerolog.Logger) *Controller {
	return &Controller{
		store:    store,
		balances: balances,
		logger:   logger.With().Str("component", "risk").Logger(),
		now:      time.Now,
	}
}

// OnCooldownStart sets the callback fired when a cooldown begins
func (c *Controller) OnCooldownStart(handler func(userID, reason string)) {
	c.onCooldownStart = handler
}

// OnCooldownEnd sets the callback fired when a cooldown expires
func (c *Controller) OnCooldownEnd(handler func(userID string)) {
	c.onCooldownEnd = handler
}

// EffectiveDailyCap returns the daily trade cap for the current win rate
func EffectiveDailyCap(cfg database.RiskConfig, winRate float64) (int, string) {
	if winRate >= cfg.WinRateThreshold {
		return cfg.MaxDailyTradesHighWinRate, QuotaModeHighWinRate
	}
	return cfg.MaxDailyTradesLowWinRate, QuotaModeLowWinRate
}

// CanTrade evaluates the trade gate in fixed order: bot status, balance
// floor, cooldown (with lazy expiry), adaptive daily quota. First failure
// wins and carries a distinct reason. A failure to verify any input denies
// the trade; the gate never defaults open.
func (c *Controller) CanTrade(ctx context.Context, userID string) (*GateResult, error) {
	state, err := c.store.GetBotState(ctx, userID)
	if err != nil {
		return &GateResult{Allowed: false, Reason: "cannot verify bot state"}, fmt.Errorf("lookup bot state: %w", err)
	}

	result := &GateResult{WinRate: state.Stats.WinRate()}

	// 1. Bot must be active
	if state.Status != database.BotStatusActive {
		result.Reason = fmt.Sprintf("bot status is %s, not active", state.Status)
		return result, nil
	}

	// 2. Gas fee balance must meet the per-user minimum
	balance, err := c.balances.GetUserBalance(ctx, userID)
	if err != nil {
		result.Reason = "cannot verify gas fee balance"
		return result, fmt.Errorf("lookup balance: %w", err)
	}
	result.Balance = balance.GasFeeBalance
	if balance.GasFeeBalance < state.AIConfig.MinGasFeeBalance {
		result.Reason = fmt.Sprintf("gas fee balance %.4f below required minimum %.4f",
			balance.GasFeeBalance, state.AIConfig.MinGasFeeBalance)
		return result, nil
	}

	// 3. Cooldown must be inactive or expired. Expiry is persisted before
	// the gate proceeds.
	if state.IsInCooldown {
		expired, remaining := c.cooldownExpired(state)
		if !expired {
			reason := "unspecified"
			if state.CooldownReason != nil {
				reason = *state.CooldownReason
			}
			result.Reason = fmt.Sprintf("COOLDOWN active for another %s (reason: %s)",
				remaining.Round(time.Second), reason)
			return result, nil
		}
		if err := c.store.ClearCooldown(ctx, userID); err != nil {
			result.Reason = "cannot verify cooldown state"
			return result, fmt.Errorf("clear expired cooldown: %w", err)
		}
		state.IsInCooldown = false
		state.ConsecutiveLosses = 0
		c.logger.Info().Str("user_id", userID).Msg("Cooldown expired, loss streak reset")
		if c.onCooldownEnd != nil {
			c.onCooldownEnd(userID)
		}
	}

	// 4. Daily trade count must be under the adaptive cap
	limit, mode := EffectiveDailyCap(state.RiskConfig, result.WinRate)
	result.QuotaMode = mode
	result.EffectiveCap = limit
	if state.DailyTradeCount >= limit {
		result.Reason = fmt.Sprintf("daily trade limit reached: %d/%d (%s quota at %.1f%% win rate)",
			state.DailyTradeCount, limit, mode, result.WinRate*100)
		return result, nil
	}

	result.Allowed = true
	return result, nil
}

func (c *Controller) cooldownExpired(state *database.BotState) (bool, time.Duration) {
	if state.CooldownStartedAt == nil {
		// Inconsistent row; treat as still cooling down rather than open the gate.
		return false, 0
	}
	period := time.Duration(state.RiskConfig.CooldownPeriodHours * float64(time.Hour))
	expiry := state.CooldownStartedAt.Add(period)
	now := c.now()
	if now.Before(expiry) {
		return false, expiry.Sub(now)
	}
	return true, 0
}

// RecordTradeResult updates streaks and cumulative statistics after a trade
// close, and fires the NORMAL -> COOLDOWN transition the instant the loss
// streak reaches the configured maximum. The conditional store update
// guarantees the transition fires exactly once per qualifying streak. A win
// resets the loss streak but never clears an active cooldown; cooldown is
// time-gated.
func (c *Controller) RecordTradeResult(ctx context.Context, userID, result string, profit float64) (*database.BotState, error) {
	state, err := c.store.GetBotState(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("lookup bot state: %w", err)
	}

	now := c.now()
	state.LastTradeTime = &now
	state.Stats.TotalTrades++

	switch result {
	case database.ResultWin:
		state.Stats.WinningTrades++
		state.Stats.TotalProfit += profit
		if profit > state.Stats.BestTrade {
			state.Stats.BestTrade = profit
		}
		state.ConsecutiveWins++
		state.ConsecutiveLosses = 0
	case database.ResultLoss:
		state.Stats.LosingTrades++
		state.Stats.TotalLoss += math.Abs(profit)
		if profit < state.Stats.WorstTrade {
			state.Stats.WorstTrade = profit
		}
		state.ConsecutiveLosses++
		state.ConsecutiveWins = 0
	default:
		return nil, fmt.Errorf("unknown trade result %q", result)
	}

	if err := c.store.RecordTradeOutcome(ctx, state); err != nil {
		return nil, fmt.Errorf("persist trade outcome: %w", err)
	}

	if result == database.ResultLoss && state.ConsecutiveLosses >= state.RiskConfig.MaxConsecutiveLosses {
		reason := fmt.Sprintf("%dx consecutive losses detected", state.ConsecutiveLosses)
		started, err := c.store.StartCooldown(ctx, userID, reason, now)
		if err != nil {
			return nil, fmt.Errorf("start cooldown: %w", err)
		}
		if started {
			state.IsInCooldown = true
			state.CooldownStartedAt = &now
			state.CooldownReason = &reason
			c.logger.Warn().
				Str("user_id", userID).
				Int("consecutive_losses", state.ConsecutiveLosses).
				Str("reason", reason).
				Msg("Cooldown started")
			if c.onCooldownStart != nil {
				c.onCooldownStart(userID, reason)
			}
		}
	}

	return state, nil
}
