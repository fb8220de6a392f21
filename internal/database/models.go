package database

import (
	"time"
)

// Bot status constants
const (
	BotStatusActive  = "active"
	BotStatusPaused  = "paused"
	BotStatusStopped = "stopped"
)

// Decision constants
const (
	DecisionExecute = "EXECUTE"
	DecisionSkip    = "SKIP"
)

// Execution sub-record status constants
const (
	ExecutionNone   = "NONE"
	ExecutionOpen   = "OPEN"
	ExecutionClosed = "CLOSED"
)

// Trade result constants
const (
	ResultWin  = "WIN"
	ResultLoss = "LOSS"
)

// Exit type constants
const (
	ExitAutoClose  = "AUTO_CLOSE"
	ExitStopLoss   = "STOP_LOSS"
	ExitTakeProfit = "TAKE_PROFIT"
	ExitManual     = "MANUAL"
)

// Commission transaction status constants
const (
	CommissionApplied = "applied"
	CommissionFailed  = "failed"
)

// UserBalance is a user's operating (gas fee) balance. It never goes negative;
// a deduction that would violate this is rejected, not clamped.
type UserBalance struct {
	UserID        string    `json:"user_id"`
	GasFeeBalance float64   `json:"gas_fee_balance"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// AIConfig controls the decision engine for one user
type AIConfig struct {
	Enabled             bool    `json:"enabled"`
	ConfidenceThreshold float64 `json:"confidence_threshold"` // 0.5-0.99
	NewsWeight          float64 `json:"news_weight"`
	BacktestWeight      float64 `json:"backtest_weight"`
	LearningWeight      float64 `json:"learning_weight"`
	MinGasFeeBalance    float64 `json:"min_gas_fee_balance"`
}

// TradingConfig holds per-user execution limits
type TradingConfig struct {
	RiskPerTrade       float64  `json:"risk_per_trade"`
	MaxLeverage        int      `json:"max_leverage"`
	AllowedSymbols     []string `json:"allowed_symbols,omitempty"`
	BlacklistedSymbols []string `json:"blacklisted_symbols,omitempty"`
}

// RiskConfig holds the risk controller limits for one user
type RiskConfig struct {
	MaxDailyTradesHighWinRate int     `json:"max_daily_trades_high_win_rate"`
	MaxDailyTradesLowWinRate  int     `json:"max_daily_trades_low_win_rate"`
	WinRateThreshold          float64 `json:"win_rate_threshold"`
	MaxConsecutiveLosses      int     `json:"max_consecutive_losses"`
	CooldownPeriodHours       float64 `json:"cooldown_period_hours"`
}

// BotStats holds cumulative per-user statistics. Derived values (win rate,
// averages) are recomputed from the cumulative totals, never by re-scanning
// decision history.
type BotStats struct {
	TotalSignalsReceived int64   `json:"total_signals_received"`
	SignalsExecuted      int64   `json:"signals_executed"`
	SignalsRejected      int64   `json:"signals_rejected"`
	TotalTrades          int64   `json:"total_trades"`
	WinningTrades        int64   `json:"winning_trades"`
	LosingTrades         int64   `json:"losing_trades"`
	TotalProfit          float64 `json:"total_profit"`
	TotalLoss            float64 `json:"total_loss"`
	BestTrade            float64 `json:"best_trade"`
	WorstTrade           float64 `json:"worst_trade"`
}

// WinRate returns winning/total trades, 0 when no trades closed yet
func (s BotStats) WinRate() float64 {
	if s.TotalTrades == 0 {
		return 0
	}
	return float64(s.WinningTrades) / float64(s.TotalTrades)
}

// NetProfit returns cumulative profit minus cumulative loss
func (s BotStats) NetProfit() float64 {
	return s.TotalProfit - s.TotalLoss
}

// AvgProfit returns the average winning trade profit
func (s BotStats) AvgProfit() float64 {
	if s.WinningTrades == 0 {
		return 0
	}
	return s.TotalProfit / float64(s.WinningTrades)
}

// AvgLoss returns the average losing trade loss
func (s BotStats) AvgLoss() float64 {
	if s.LosingTrades == 0 {
		return 0
	}
	return s.TotalLoss / float64(s.LosingTrades)
}

// BotState is the per-user bot record. Created once at activation, mutated on
// every signal evaluation and trade close.
type BotState struct {
	UserID            string        `json:"user_id"`
	Status            string        `json:"status"`
	AIConfig          AIConfig      `json:"ai_config"`
	TradingConfig     TradingConfig `json:"trading_config"`
	RiskConfig        RiskConfig    `json:"risk_config"`
	Stats             BotStats      `json:"stats"`
	ConsecutiveWins   int           `json:"consecutive_wins"`
	ConsecutiveLosses int           `json:"consecutive_losses"`
	DailyTradeCount   int           `json:"daily_trade_count"`
	LastTradeTime     *time.Time    `json:"last_trade_time,omitempty"`
	IsInCooldown      bool          `json:"is_in_cooldown"`
	CooldownStartedAt *time.Time    `json:"cooldown_started_at,omitempty"`
	CooldownReason    *string       `json:"cooldown_reason,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// SignalSnapshot is the validated signal as received, persisted verbatim with
// the decision record
type SignalSnapshot struct {
	Symbol              string             `json:"symbol"`
	Action              string             `json:"action"` // LONG or SHORT
	TechnicalConfidence float64            `json:"technical_confidence"`
	EntryPrice          float64            `json:"entry_price"`
	StopLoss            float64            `json:"stop_loss"`
	TakeProfit          float64            `json:"take_profit"`
	Indicators          map[string]float64 `json:"indicators,omitempty"`
	PatternID           string             `json:"pattern_id,omitempty"`
}

// Execution is the optional sub-record of a decision, written exactly twice:
// once at position open, once at close
type Execution struct {
	Status         string     `json:"status"`
	PositionID     *string    `json:"position_id,omitempty"`
	EntryPrice     *float64   `json:"entry_price,omitempty"`
	Quantity       *float64   `json:"quantity,omitempty"`
	Leverage       *int       `json:"leverage,omitempty"`
	OpenedAt       *time.Time `json:"opened_at,omitempty"`
	Result         *string    `json:"result,omitempty"` // WIN or LOSS
	ExitPrice      *float64   `json:"exit_price,omitempty"`
	ExitType       *string    `json:"exit_type,omitempty"`
	RealizedProfit *float64   `json:"realized_profit,omitempty"`
	CommissionPaid *float64   `json:"commission_paid,omitempty"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
}

// DecisionRecord is the immutable audit entry for one signal evaluation and
// its eventual trade outcome
type DecisionRecord struct {
	ID                 int64          `json:"id"`
	UserID             string         `json:"user_id"`
	Symbol             string         `json:"symbol"`
	Action             string         `json:"action"`
	Signal             SignalSnapshot `json:"signal"`
	TechnicalConf      float64        `json:"technical_confidence"`
	NewsAdjustment     float64        `json:"news_adjustment"`
	BacktestAdjustment float64        `json:"backtest_adjustment"`
	LearningAdjustment float64        `json:"learning_adjustment"`
	TotalConfidence    float64        `json:"total_confidence"`
	Decision           string         `json:"decision"`
	Reason             string         `json:"reason"`
	BalanceSnapshot    float64        `json:"balance_snapshot"`
	Execution          Execution      `json:"execution"`
	CreatedAt          time.Time      `json:"created_at"`
}

// CommissionTransaction is one row of the append-only commission audit trail
type CommissionTransaction struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"user_id"`
	PositionID   string    `json:"position_id"`
	Profit       float64   `json:"profit"`
	Commission   float64   `json:"commission"`
	RateUsed     float64   `json:"rate_used"`
	BalanceAfter *float64  `json:"balance_after,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// CommissionSummary is the read-only rollup over a user's applied commission
// transactions
type CommissionSummary struct {
	UserID           string  `json:"user_id"`
	TotalCommission  float64 `json:"total_commission"`
	TotalProfit      float64 `json:"total_profit"`
	TransactionCount int64   `json:"transaction_count"`
	AvgEffectiveRate float64 `json:"avg_effective_rate"`
	FailedDeductions int64   `json:"failed_deductions"`
}

// PatternOutcome aggregates historical results for one learned pattern
type PatternOutcome struct {
	PatternID string `json:"pattern_id"`
	Wins      int64  `json:"wins"`
	Losses    int64  `json:"losses"`
}
