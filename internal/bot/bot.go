// Package bot runs one autonomous trading loop per user: signal gate,
// decision scoring, position open, safety-ceiling monitoring, and trade
// settlement with commission deduction.
package bot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"futures-safety-bot/internal/commission"
	"futures-safety-bot/internal/database"
	"futures-safety-bot/internal/events"
	"futures-safety-bot/internal/exchange"
	"futures-safety-bot/internal/risk"
)

// StateStore is the persistence surface the bot needs. Satisfied by
// *database.Repository.
type StateStore interface {
	GetBotState(ctx context.Context, userID string) (*database.BotState, error)
	GetUserBalance(ctx context.Context, userID string) (*database.UserBalance, error)
	OpenDecisionExecution(ctx context.Context, decisionID int64, positionID string, entryPrice, quantity float64, leverage int, openedAt time.Time) error
	CloseDecisionExecution(ctx context.Context, decisionID int64, result string, exitPrice float64, exitType string, realizedProfit, commissionPaid float64, closedAt time.Time) error
}

// RiskGate is the trade gate and streak tracker. Satisfied by
// *risk.Controller.
type RiskGate interface {
	CanTrade(ctx context.Context, userID string) (*risk.GateResult, error)
	RecordTradeResult(ctx context.Context, userID, result string, profit float64) (*database.BotState, error)
}

// Scorer evaluates signals into decision records. Satisfied by
// *decision.Engine.
type Scorer interface {
	Evaluate(ctx context.Context, state *database.BotState, sig *database.SignalSnapshot) (*database.DecisionRecord, error)
}

// SafetyEngine is the commission safety surface. Satisfied by
// *commission.Engine.
type SafetyEngine interface {
	CanTrade(ctx context.Context, userID string) (bool, float64, string, error)
	ShouldAutoClose(ctx context.Context, userID string, currentProfit float64) (bool, string, *commission.Ceiling, error)
	DeductCommission(ctx context.Context, userID string, profit float64, positionID string) (*commission.Deduction, error)
}

// Bot is one user's trading loop. Signal handling is sequential within a
// bot; bots across users share no mutable state beyond the store.
type Bot struct {
	userID       string
	store        StateStore
	riskGate     RiskGate
	scorer       Scorer
	safety       SafetyEngine
	exchange     exchange.Client
	bus          *events.EventBus
	logger       zerolog.Logger
	pollInterval time.Duration

	mu       sync.Mutex
	open     *openTrade
	handling bool
	stopped  bool
	cancel   context.CancelFunc
	monitors sync.WaitGroup
}

type openTrade struct {
	decisionID int64
	position   *exchange.Position
}

// New creates a bot for one user. The poll interval bounds how stale the
// safety-ceiling check can be while a position is open.
func New(userID string, store StateStore, riskGate RiskGate, scorer Scorer, safety SafetyEngine, ex exchange.Client, bus *events.EventBus, pollInterval time.Duration, logger zerolog.Logger) *Bot {
	return &Bot{
		userID:       userID,
		store:        store,
		riskGate:     riskGate,
		scorer:       scorer,
		safety:       safety,
		exchange:     ex,
		bus:          bus,
		logger:       logger.With().Str("component", "bot").Str("user_id", userID).Logger(),
		pollInterval: pollInterval,
	}
}

// SignalOutcome reports what one signal produced: a gate denial (no record),
// a scored SKIP, or an executed trade. Rejection carries the reason when the
// signal was refused before scoring by a check outside the risk gate.
type SignalOutcome struct {
	Gate      *risk.GateResult         `json:"gate,omitempty"`
	Rejection string                   `json:"rejection,omitempty"`
	Decision  *database.DecisionRecord `json:"decision,omitempty"`
	Position  *exchange.Position       `json:"position,omitempty"`
}

// HandleSignal runs one signal through the full pipeline: risk gate, platform
// gas fee floor, symbol policy, decision scoring, and when the decision is
// EXECUTE, position open plus a monitoring goroutine that polls the safety
// ceiling until the position closes. One signal is in flight at a time; a
// second concurrent signal is rejected, never raced.
func (b *Bot) HandleSignal(ctx context.Context, sig *database.SignalSnapshot) (*SignalOutcome, error) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil, fmt.Errorf("bot for user %s is stopped", b.userID)
	}
	if b.open != nil {
		b.mu.Unlock()
		return nil, fmt.Errorf("bot for user %s already has position %s open", b.userID, b.open.position.ID)
	}
	if b.handling {
		b.mu.Unlock()
		return nil, fmt.Errorf("bot for user %s is already handling a signal", b.userID)
	}
	b.handling = true
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.handling = false
		b.mu.Unlock()
	}()

	gate, err := b.riskGate.CanTrade(ctx, b.userID)
	if err != nil {
		return nil, fmt.Errorf("risk gate: %w", err)
	}
	if !gate.Allowed {
		b.logger.Info().Str("reason", gate.Reason).Msg("Signal rejected by risk gate")
		return &SignalOutcome{Gate: gate}, nil
	}

	// Platform-wide gas fee floor, independent of the per-user minimum the
	// risk gate enforces.
	allowed, balance, reason, err := b.safety.CanTrade(ctx, b.userID)
	if err != nil {
		return nil, fmt.Errorf("safety gate: %w", err)
	}
	if !allowed {
		b.logger.Info().Str("reason", reason).Float64("balance", balance).Msg("Signal rejected by safety gate")
		return &SignalOutcome{Gate: gate, Rejection: reason}, nil
	}

	state, err := b.store.GetBotState(ctx, b.userID)
	if err != nil {
		return nil, fmt.Errorf("load bot state: %w", err)
	}

	if !state.AIConfig.Enabled {
		b.logger.Info().Msg("Signal rejected, decision engine disabled for user")
		return &SignalOutcome{Gate: gate, Rejection: "decision engine disabled"}, nil
	}
	if reason, ok := symbolAllowed(state.TradingConfig, sig.Symbol); !ok {
		b.logger.Info().Str("symbol", sig.Symbol).Str("reason", reason).Msg("Signal rejected by symbol policy")
		return &SignalOutcome{Gate: gate, Rejection: reason}, nil
	}

	rec, err := b.scorer.Evaluate(ctx, state, sig)
	if err != nil {
		return nil, fmt.Errorf("evaluate signal: %w", err)
	}
	b.bus.Publish(events.Event{
		Type:   events.EventSignalEvaluated,
		UserID: b.userID,
		Data: map[string]interface{}{
			"symbol":           sig.Symbol,
			"decision":         rec.Decision,
			"total_confidence": rec.TotalConfidence,
		},
	})

	if rec.Decision != database.DecisionExecute {
		return &SignalOutcome{Gate: gate, Decision: rec}, nil
	}

	pos, err := b.openPosition(ctx, state, rec, sig)
	if err != nil {
		return nil, err
	}
	return &SignalOutcome{Gate: gate, Decision: rec, Position: pos}, nil
}

func (b *Bot) openPosition(ctx context.Context, state *database.BotState, rec *database.DecisionRecord, sig *database.SignalSnapshot) (*exchange.Position, error) {
	quantity, err := b.positionSize(ctx, state, sig)
	if err != nil {
		return nil, err
	}

	req := exchange.OpenRequest{
		UserID:     b.userID,
		PositionID: uuid.NewString(),
		Symbol:     sig.Symbol,
		Side:       sig.Action,
		EntryPrice: sig.EntryPrice,
		Quantity:   quantity,
		Leverage:   state.TradingConfig.MaxLeverage,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
	}
	pos, err := b.exchange.OpenPosition(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("open position: %w", err)
	}

	if err := b.store.OpenDecisionExecution(ctx, rec.ID, pos.ID, pos.EntryPrice, pos.Quantity, pos.Leverage, pos.OpenedAt); err != nil {
		// The exchange position exists but the ledger open failed; close it
		// rather than monitor a position the audit trail cannot settle.
		if _, closeErr := b.exchange.ClosePosition(ctx, pos.ID); closeErr != nil {
			b.logger.Error().Err(closeErr).Str("position_id", pos.ID).Msg("Failed to unwind position after ledger error")
		}
		return nil, fmt.Errorf("record execution open: %w", err)
	}

	monitorCtx, cancel := context.WithCancel(context.Background())
	b.mu.Lock()
	if b.stopped {
		// Stop won the race: its monitors.Wait may already have returned, so
		// this position must not start an unsupervised monitor. Unwind.
		b.mu.Unlock()
		cancel()
		if _, closeErr := b.exchange.ClosePosition(ctx, pos.ID); closeErr != nil {
			b.logger.Error().Err(closeErr).Str("position_id", pos.ID).Msg("Failed to unwind position after stop")
		}
		return nil, fmt.Errorf("bot for user %s stopped during position open", b.userID)
	}
	b.open = &openTrade{decisionID: rec.ID, position: pos}
	b.cancel = cancel
	b.monitors.Add(1)
	b.mu.Unlock()

	b.bus.PublishTradeOpened(b.userID, pos.ID, pos.Symbol, pos.Side, pos.EntryPrice)
	b.logger.Info().
		Str("position_id", pos.ID).
		Str("symbol", pos.Symbol).
		Float64("quantity", pos.Quantity).
		Msg("Position opened")

	go b.monitor(monitorCtx, rec.ID, pos)

	return pos, nil
}

// positionSize derives quantity from the risk-per-trade fraction of the gas
// fee balance and the stop distance.
func (b *Bot) positionSize(ctx context.Context, state *database.BotState, sig *database.SignalSnapshot) (float64, error) {
	balance, err := b.store.GetUserBalance(ctx, b.userID)
	if err != nil {
		return 0, fmt.Errorf("load balance for sizing: %w", err)
	}
	stopDistance := math.Abs(sig.EntryPrice - sig.StopLoss)
	if stopDistance == 0 {
		return 0, fmt.Errorf("signal for %s has zero stop distance", sig.Symbol)
	}
	riskAmount := balance.GasFeeBalance * state.TradingConfig.RiskPerTrade
	quantity := riskAmount / stopDistance
	if quantity <= 0 {
		return 0, fmt.Errorf("computed non-positive quantity for %s", sig.Symbol)
	}
	return quantity, nil
}

// monitor polls the position until it closes by any path. The safety ceiling
// is re-evaluated on every tick against the live balance, never a cached one.
func (b *Bot) monitor(ctx context.Context, decisionID int64, pos *exchange.Position) {
	defer b.monitors.Done()

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if done := b.checkPosition(ctx, decisionID, pos); done {
				return
			}
		case <-ctx.Done():
			// Final safety check before shutdown: a position left open must
			// not skip its ceiling evaluation.
			b.finalCheck(decisionID, pos)
			return
		}
	}
}

// checkPosition runs one monitoring tick. Returns true when the position is
// settled and monitoring should stop.
func (b *Bot) checkPosition(ctx context.Context, decisionID int64, pos *exchange.Position) bool {
	status, err := b.exchange.PositionStatus(ctx, pos.ID)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		b.logger.Warn().Err(err).Str("position_id", pos.ID).Msg("Position status poll failed")
		return false
	}

	if !status.Open {
		// Closed server-side: stop-loss or take-profit filled.
		b.settle(ctx, decisionID, pos, status.Profit, status.ExitPrice, exitTypeFor(status.ExitType))
		return true
	}

	shouldClose, reason, ceiling, err := b.safety.ShouldAutoClose(ctx, b.userID, status.Profit)
	if err != nil {
		// Fail closed: if the ceiling cannot be verified the position must
		// not keep running.
		b.logger.Error().Err(err).Str("position_id", pos.ID).Msg("Cannot verify safety ceiling, force closing")
		shouldClose, reason = true, "cannot verify safety ceiling"
	}
	if !shouldClose {
		return false
	}

	result, err := b.exchange.ClosePosition(ctx, pos.ID)
	if err != nil {
		if errors.Is(err, exchange.ErrPositionClosed) {
			return false // next tick reads the terminal status
		}
		b.logger.Error().Err(err).Str("position_id", pos.ID).Msg("Auto-close failed")
		return false
	}

	threshold := 0.0
	if ceiling != nil {
		threshold = ceiling.AutoCloseThreshold
	}
	b.bus.PublishAutoClose(b.userID, pos.ID, reason, result.Profit, threshold)
	b.logger.Warn().
		Str("position_id", pos.ID).
		Float64("profit", result.Profit).
		Str("reason", reason).
		Msg("Position auto-closed at safety ceiling")

	b.settle(ctx, decisionID, pos, result.Profit, result.ExitPrice, database.ExitAutoClose)
	return true
}

// finalCheck runs the shutdown-path ceiling evaluation with a fresh context;
// the monitor context is already cancelled.
func (b *Bot) finalCheck(decisionID int64, pos *exchange.Position) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	status, err := b.exchange.PositionStatus(ctx, pos.ID)
	if err != nil {
		b.logger.Error().Err(err).Str("position_id", pos.ID).Msg("Final position check failed")
		return
	}
	if !status.Open {
		b.settle(ctx, decisionID, pos, status.Profit, status.ExitPrice, exitTypeFor(status.ExitType))
		return
	}

	shouldClose, reason, _, err := b.safety.ShouldAutoClose(ctx, b.userID, status.Profit)
	if err != nil {
		shouldClose, reason = true, "cannot verify safety ceiling"
	}
	if !shouldClose {
		b.logger.Info().Str("position_id", pos.ID).Msg("Shutdown with position open, ceiling not reached")
		return
	}

	result, err := b.exchange.ClosePosition(ctx, pos.ID)
	if err != nil {
		b.logger.Error().Err(err).Str("position_id", pos.ID).Msg("Final auto-close failed")
		return
	}
	b.bus.PublishAutoClose(b.userID, pos.ID, reason, result.Profit, 0)
	b.settle(ctx, decisionID, pos, result.Profit, result.ExitPrice, database.ExitAutoClose)
}

// settle records the trade close: commission deduction (profit only), streak
// and stats update, and the execution close on the decision record. A failed
// deduction never blocks settlement; the failure is already in the audit
// trail.
func (b *Bot) settle(ctx context.Context, decisionID int64, pos *exchange.Position, profit, exitPrice float64, exitType string) {
	b.mu.Lock()
	b.open = nil
	b.cancel = nil
	b.mu.Unlock()

	commissionPaid := 0.0
	if profit > 0 {
		ded, err := b.safety.DeductCommission(ctx, b.userID, profit, pos.ID)
		switch {
		case err == nil:
			commissionPaid = ded.Commission
		case errors.Is(err, database.ErrDuplicateDeduction):
			b.logger.Info().Str("position_id", pos.ID).Msg("Commission already deducted for position")
		default:
			var insufficient *commission.InsufficientBalanceError
			if errors.As(err, &insufficient) {
				b.bus.Publish(events.Event{
					Type:   events.EventCommissionRejected,
					UserID: b.userID,
					Data: map[string]interface{}{
						"position_id": pos.ID,
						"required":    insufficient.Required,
						"available":   insufficient.Available,
					},
				})
			}
			b.logger.Error().Err(err).Str("position_id", pos.ID).Msg("Commission deduction failed")
		}
	}

	result := database.ResultLoss
	if profit > 0 {
		result = database.ResultWin
	}

	if _, err := b.riskGate.RecordTradeResult(ctx, b.userID, result, profit); err != nil {
		b.logger.Error().Err(err).Str("position_id", pos.ID).Msg("Failed to record trade result")
	}

	if err := b.store.CloseDecisionExecution(ctx, decisionID, result, exitPrice, exitType, profit, commissionPaid, time.Now().UTC()); err != nil {
		b.logger.Error().Err(err).Int64("decision_id", decisionID).Msg("Failed to close decision execution")
	}

	b.bus.PublishTradeClosed(b.userID, pos.ID, result, exitType, profit)
	b.logger.Info().
		Str("position_id", pos.ID).
		Str("result", result).
		Str("exit_type", exitType).
		Float64("profit", profit).
		Float64("commission", commissionPaid).
		Msg("Trade settled")
}

// Stop cancels the monitoring loop and waits for its final safety check to
// finish. Safe to call more than once.
func (b *Bot) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	cancel := b.cancel
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.monitors.Wait()
	b.logger.Info().Msg("Bot stopped")
}

// HasOpenPosition reports whether a position is currently being monitored
func (b *Bot) HasOpenPosition() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open != nil
}

// symbolAllowed checks the per-user symbol policy: the blacklist always
// wins, and a non-empty allow list restricts trading to its entries.
func symbolAllowed(cfg database.TradingConfig, symbol string) (string, bool) {
	for _, blocked := range cfg.BlacklistedSymbols {
		if blocked == symbol {
			return fmt.Sprintf("symbol %s is blacklisted", symbol), false
		}
	}
	if len(cfg.AllowedSymbols) > 0 {
		for _, s := range cfg.AllowedSymbols {
			if s == symbol {
				return "", true
			}
		}
		return fmt.Sprintf("symbol %s is not in the allowed list", symbol), false
	}
	return "", true
}

func exitTypeFor(exchangeExit string) string {
	switch exchangeExit {
	case exchange.ExitStopLoss:
		return database.ExitStopLoss
	case exchange.ExitTakeProfit:
		return database.ExitTakeProfit
	default:
		return database.ExitManual
	}
}
