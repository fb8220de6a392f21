package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Sentinel errors shared across repository methods
var (
	ErrNotFound             = errors.New("record not found")
	ErrInsufficientBalance  = errors.New("insufficient gas fee balance")
	ErrDuplicateDeduction   = errors.New("commission already deducted for position")
	ErrExecutionAlreadyOpen = errors.New("decision already has an open execution")
	ErrNoOpenExecution      = errors.New("decision has no open execution to close")
)

// Repository provides data access methods
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// USER BALANCES
// ============================================================================

// GetUserBalance retrieves a user's gas fee balance
func (r *Repository) GetUserBalance(ctx context.Context, userID string) (*UserBalance, error) {
	query := `
		SELECT user_id, gas_fee_balance, created_at, updated_at
		FROM user_balances
		WHERE user_id = $1
	`
	balance := &UserBalance{}
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(
		&balance.UserID, &balance.GasFeeBalance, &balance.CreatedAt, &balance.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("balance for user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return balance, nil
}

// CreateUserBalance inserts a balance row for a new user
func (r *Repository) CreateUserBalance(ctx context.Context, userID string, initial float64) (*UserBalance, error) {
	query := `
		INSERT INTO user_balances (user_id, gas_fee_balance)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
		RETURNING user_id, gas_fee_balance, created_at, updated_at
	`
	balance := &UserBalance{}
	err := r.db.Pool.QueryRow(ctx, query, userID, initial).Scan(
		&balance.UserID, &balance.GasFeeBalance, &balance.CreatedAt, &balance.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return r.GetUserBalance(ctx, userID)
	}
	if err != nil {
		return nil, err
	}
	return balance, nil
}

// CreditGasFee tops up a user's operating balance
func (r *Repository) CreditGasFee(ctx context.Context, userID string, amount float64) (float64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("credit amount must be positive, got %.4f", amount)
	}
	query := `
		UPDATE user_balances
		SET gas_fee_balance = gas_fee_balance + $2, updated_at = NOW()
		WHERE user_id = $1
		RETURNING gas_fee_balance
	`
	var remaining float64
	err := r.db.Pool.QueryRow(ctx, query, userID, amount).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("balance for user %s: %w", userID, ErrNotFound)
	}
	return remaining, err
}

// ============================================================================
// BOT STATES
// ============================================================================

const botStateColumns = `
	user_id, status, ai_config, trading_config, risk_config,
	total_signals_received, signals_executed, signals_rejected,
	total_trades, winning_trades, losing_trades,
	total_profit, total_loss, best_trade, worst_trade,
	consecutive_wins, consecutive_losses, daily_trade_count, last_trade_time,
	is_in_cooldown, cooldown_started_at, cooldown_reason,
	created_at, updated_at`

func scanBotState(row pgx.Row) (*BotState, error) {
	state := &BotState{}
	var aiJSON, tradingJSON, riskJSON []byte
	err := row.Scan(
		&state.UserID, &state.Status, &aiJSON, &tradingJSON, &riskJSON,
		&state.Stats.TotalSignalsReceived, &state.Stats.SignalsExecuted, &state.Stats.SignalsRejected,
		&state.Stats.TotalTrades, &state.Stats.WinningTrades, &state.Stats.LosingTrades,
		&state.Stats.TotalProfit, &state.Stats.TotalLoss, &state.Stats.BestTrade, &state.Stats.WorstTrade,
		&state.ConsecutiveWins, &state.ConsecutiveLosses, &state.DailyTradeCount, &state.LastTradeTime,
		&state.IsInCooldown, &state.CooldownStartedAt, &state.CooldownReason,
		&state.CreatedAt, &state.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(aiJSON, &state.AIConfig); err != nil {
		return nil, fmt.Errorf("decode ai_config: %w", err)
	}
	if err := json.Unmarshal(tradingJSON, &state.TradingConfig); err != nil {
		return nil, fmt.Errorf("decode trading_config: %w", err)
	}
	if err := json.Unmarshal(riskJSON, &state.RiskConfig); err != nil {
		return nil, fmt.Errorf("decode risk_config: %w", err)
	}
	return state, nil
}

// GetBotState retrieves a user's bot state
func (r *Repository) GetBotState(ctx context.Context, userID string) (*BotState, error) {
	query := `SELECT ` + botStateColumns + ` FROM bot_states WHERE user_id = $1`
	state, err := scanBotState(r.db.Pool.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("bot state for user %s: %w", userID, ErrNotFound)
	}
	return state, err
}

// CreateBotState inserts a bot state for a newly activated user
func (r *Repository) CreateBotState(ctx context.Context, userID string, ai AIConfig, trading TradingConfig, risk RiskConfig) (*BotState, error) {
	aiJSON, err := json.Marshal(ai)
	if err != nil {
		return nil, err
	}
	tradingJSON, err := json.Marshal(trading)
	if err != nil {
		return nil, err
	}
	riskJSON, err := json.Marshal(risk)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO bot_states (user_id, ai_config, trading_config, risk_config)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := r.db.Pool.Exec(ctx, query, userID, aiJSON, tradingJSON, riskJSON); err != nil {
		return nil, err
	}
	return r.GetBotState(ctx, userID)
}

// ListBotStates returns all bot states with the given status
func (r *Repository) ListBotStates(ctx context.Context, status string) ([]*BotState, error) {
	query := `SELECT ` + botStateColumns + ` FROM bot_states WHERE status = $1 ORDER BY user_id`
	rows, err := r.db.Pool.Query(ctx, query, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []*BotState
	for rows.Next() {
		state, err := scanBotState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

// UpdateBotStatus sets the bot's lifecycle status
func (r *Repository) UpdateBotStatus(ctx context.Context, userID, status string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE bot_states SET status = $2, updated_at = NOW() WHERE user_id = $1`,
		userID, status,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bot state for user %s: %w", userID, ErrNotFound)
	}
	return nil
}

// StartCooldown marks the bot as in cooldown. The is_in_cooldown guard makes
// the transition fire exactly once per qualifying streak even when two close
// events race on the same threshold crossing. Returns whether this caller won
// the transition.
func (r *Repository) StartCooldown(ctx context.Context, userID, reason string, at time.Time) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE bot_states
		SET is_in_cooldown = TRUE, cooldown_started_at = $3, cooldown_reason = $2, updated_at = NOW()
		WHERE user_id = $1 AND is_in_cooldown = FALSE
	`, userID, reason, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ClearCooldown ends a cooldown and resets the loss streak. Persisted before
// the trade gate proceeds so a crash cannot leave the reset half-applied.
func (r *Repository) ClearCooldown(ctx context.Context, userID string) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE bot_states
		SET is_in_cooldown = FALSE, cooldown_started_at = NULL, cooldown_reason = NULL,
		    consecutive_losses = 0, updated_at = NOW()
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bot state for user %s: %w", userID, ErrNotFound)
	}
	return nil
}

// RecordTradeOutcome persists streak counters and cumulative statistics after
// a trade close
func (r *Repository) RecordTradeOutcome(ctx context.Context, state *BotState) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE bot_states
		SET total_trades = $2, winning_trades = $3, losing_trades = $4,
		    total_profit = $5, total_loss = $6, best_trade = $7, worst_trade = $8,
		    consecutive_wins = $9, consecutive_losses = $10, last_trade_time = $11,
		    updated_at = NOW()
		WHERE user_id = $1
	`,
		state.UserID,
		state.Stats.TotalTrades, state.Stats.WinningTrades, state.Stats.LosingTrades,
		state.Stats.TotalProfit, state.Stats.TotalLoss, state.Stats.BestTrade, state.Stats.WorstTrade,
		state.ConsecutiveWins, state.ConsecutiveLosses, state.LastTradeTime,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bot state for user %s: %w", state.UserID, ErrNotFound)
	}
	return nil
}

// ResetDailyTradeCounts zeroes daily_trade_count across all bots. Invoked by
// the calendar-day scheduler.
func (r *Repository) ResetDailyTradeCounts(ctx context.Context) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE bot_states SET daily_trade_count = 0, updated_at = NOW() WHERE daily_trade_count > 0`,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
