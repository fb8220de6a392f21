// Package commission implements the commission and safety engine: the safe
// profit ceiling, forced auto-close checks, and the atomic commission
// deduction that can never drive a user's gas fee balance negative.
package commission

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"futures-safety-bot/internal/database"
)

// autoCloseSafetyMargin is the fraction of the safe profit ceiling at which a
// position is force-closed. The remaining 10% absorbs price slippage between
// the monitoring check and the actual close. Tunable risk parameter; the
// value is inherited, not derived.
const autoCloseSafetyMargin = 0.9

// Engine errors
var (
	ErrRateUnavailable = errors.New("commission rate not configured")
	ErrNoCommissionDue = errors.New("no commission due for non-positive profit")
)

// InsufficientBalanceError reports a deduction that exceeded the available
// balance, with both amounts so the caller can surface the discrepancy.
type InsufficientBalanceError struct {
	UserID     string
	PositionID string
	Required   float64
	Available  float64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient gas fee balance for user %s: commission %.4f exceeds balance %.4f (position %s)",
		e.UserID, e.Required, e.Available, e.PositionID)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return database.ErrInsufficientBalance
}

// BalanceStore is the persistence surface the engine needs. Satisfied by
// *database.Repository.
type BalanceStore interface {
	GetUserBalance(ctx context.Context, userID string) (*database.UserBalance, error)
	ApplyCommission(ctx context.Context, userID, positionID string, profit, commission, rate float64) (float64, error)
	RecordFailedCommission(ctx context.Context, userID, positionID string, profit, commission, rate float64) error
	GetCommissionSummary(ctx context.Context, userID string) (*database.CommissionSummary, error)
}

// RateSource supplies the platform-wide commission rate. The rate is fetched
// once per evaluation rather than read as ambient state; a zero or missing
// rate is a hard error, never a 0% default.
type RateSource interface {
	CommissionRate(ctx context.Context) (float64, error)
}

// StaticRateSource returns a fixed rate from configuration
type StaticRateSource float64

func (s StaticRateSource) CommissionRate(ctx context.Context) (float64, error) {
	return float64(s), nil
}

// Ceiling is the result of a safe-profit-ceiling computation
type Ceiling struct {
	MaxProfit          float64 `json:"max_profit"`
	AutoCloseThreshold float64 `json:"auto_close_threshold"`
	Balance            float64 `json:"balance"`
	Rate               float64 `json:"rate"`
}

// Deduction is the result of a successful commission deduction
type Deduction struct {
	Commission       float64 `json:"commission"`
	RemainingBalance float64 `json:"remaining_balance"`
}

// Engine computes safe profit ceilings and performs commission deductions
type Engine struct {
	store         BalanceStore
	rates         RateSource
	minimumGasFee float64
	logger        zerolog.Logger
}

// NewEngine creates a commission engine. minimumGasFee is the fixed floor
// below which trading is not allowed.
func NewEngine(store BalanceStore, rates RateSource, minimumGasFee float64, logger zerolog.Logger) *Engine {
	return &Engine{
		store:         store,
		rates:         rates,
		minimumGasFee: minimumGasFee,
		logger:        logger.With().Str("component", "commission").Logger(),
	}
}

// MinimumGasFee returns the configured trading floor
func (e *Engine) MinimumGasFee() float64 {
	return e.minimumGasFee
}

// CanTrade reports whether the user's balance meets the minimum gas fee
// floor. Pure read, no side effects. Any lookup failure fails closed.
func (e *Engine) CanTrade(ctx context.Context, userID string) (bool, float64, string, error) {
	balance, err := e.store.GetUserBalance(ctx, userID)
	if err != nil {
		return false, 0, "cannot verify gas fee balance", fmt.Errorf("lookup balance: %w", err)
	}
	if balance.GasFeeBalance < e.minimumGasFee {
		reason := fmt.Sprintf("gas fee balance %.4f below minimum %.4f", balance.GasFeeBalance, e.minimumGasFee)
		return false, balance.GasFeeBalance, reason, nil
	}
	return true, balance.GasFeeBalance, "", nil
}

// ComputeSafeProfitCeiling returns the maximum profit the user may realize
// before the commission on it would exceed the balance, and the earlier
// threshold at which an open position is force-closed.
func (e *Engine) ComputeSafeProfitCeiling(ctx context.Context, userID string) (*Ceiling, error) {
	rate, err := e.rates.CommissionRate(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch commission rate: %w", err)
	}
	if rate <= 0 {
		return nil, ErrRateUnavailable
	}

	balance, err := e.store.GetUserBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("lookup balance: %w", err)
	}

	maxProfit := balance.GasFeeBalance / (rate / 100)
	return &Ceiling{
		MaxProfit:          maxProfit,
		AutoCloseThreshold: autoCloseSafetyMargin * maxProfit,
		Balance:            balance.GasFeeBalance,
		Rate:               rate,
	}, nil
}

// ShouldAutoClose reports whether an open position must be force-closed at
// the current profit. Invoked repeatedly while a position is open. On any
// data failure the answer is "do not close" with the error surfaced; the
// caller decides how to degrade.
func (e *Engine) ShouldAutoClose(ctx context.Context, userID string, currentProfit float64) (bool, string, *Ceiling, error) {
	ceiling, err := e.ComputeSafeProfitCeiling(ctx, userID)
	if err != nil {
		return false, "", nil, err
	}

	if currentProfit >= ceiling.AutoCloseThreshold {
		reason := fmt.Sprintf("profit %.4f reached auto-close threshold %.4f (max safe profit %.4f at rate %.2f%%)",
			currentProfit, ceiling.AutoCloseThreshold, ceiling.MaxProfit, ceiling.Rate)
		return true, reason, ceiling, nil
	}
	return false, "", ceiling, nil
}

// DeductCommission charges the platform commission on a profitable close.
// The balance is re-read inside a conditional update at mutation time, so
// this is safe against concurrent top-ups and replays: a second call with the
// same positionID is rejected without touching the balance. This is the last
// line of defense if the safety ceiling was bypassed by a race, a slipped
// fill, or an external manual close.
func (e *Engine) DeductCommission(ctx context.Context, userID string, profit float64, positionID string) (*Deduction, error) {
	if profit <= 0 {
		return nil, ErrNoCommissionDue
	}

	rate, err := e.rates.CommissionRate(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch commission rate: %w", err)
	}
	if rate <= 0 {
		return nil, ErrRateUnavailable
	}

	commission := profit * rate / 100

	remaining, err := e.store.ApplyCommission(ctx, userID, positionID, profit, commission, rate)
	if errors.Is(err, database.ErrInsufficientBalance) {
		available := 0.0
		if balance, balErr := e.store.GetUserBalance(ctx, userID); balErr == nil {
			available = balance.GasFeeBalance
		}
		// The attempt itself is still part of the audit trail.
		if recErr := e.store.RecordFailedCommission(ctx, userID, positionID, profit, commission, rate); recErr != nil {
			e.logger.Error().Err(recErr).Str("position_id", positionID).
				Msg("Failed to record rejected commission deduction")
		}
		return nil, &InsufficientBalanceError{
			UserID:     userID,
			PositionID: positionID,
			Required:   commission,
			Available:  available,
		}
	}
	if err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("user_id", userID).
		Str("position_id", positionID).
		Float64("profit", profit).
		Float64("commission", commission).
		Float64("remaining_balance", remaining).
		Msg("Commission deducted")

	return &Deduction{Commission: commission, RemainingBalance: remaining}, nil
}

// GetCommissionSummary returns the read-only rollup of a user's commission
// transactions
func (e *Engine) GetCommissionSummary(ctx context.Context, userID string) (*database.CommissionSummary, error) {
	return e.store.GetCommissionSummary(ctx, userID)
}
