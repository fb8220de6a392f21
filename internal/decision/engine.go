// Package decision scores incoming trading signals against a per-user
// confidence threshold and writes the immutable audit record for every
// evaluation.
package decision

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"futures-safety-bot/internal/database"
)

// Ledger persists decision records atomically with the signal counters.
// Satisfied by *database.Repository.
type Ledger interface {
	SaveDecisionWithStats(ctx context.Context, rec *database.DecisionRecord) error
}

// BalanceSource supplies the gas fee balance snapshotted into each decision
type BalanceSource interface {
	GetUserBalance(ctx context.Context, userID string) (*database.UserBalance, error)
}

// Engine combines the signal's technical confidence with weighted news,
// backtest, and learning adjustments and records the full breakdown.
type Engine struct {
	ledger   Ledger
	balances BalanceSource
	news     Provider
	backtest Provider
	learning Provider
	logger   zerolog.Logger
}

// NewEngine creates a decision engine. Nil providers are replaced with
// NoopProvider so every slot always reports.
func NewEngine(ledger Ledger, balances BalanceSource, news, backtest, learning Provider, logger zerolog.Logger) *Engine {
	if news == nil {
		news = NoopProvider{}
	}
	if backtest == nil {
		backtest = NoopProvider{}
	}
	if learning == nil {
		learning = NoopProvider{}
	}
	return &Engine{
		ledger:   ledger,
		balances: balances,
		news:     news,
		backtest: backtest,
		learning: learning,
		logger:   logger.With().Str("component", "decision").Logger(),
	}
}

// Evaluate scores one signal and persists the decision record. The signal is
// validated first; a malformed signal is rejected before scoring and no
// record is written. Provider failures never abort the evaluation: the
// corresponding adjustment degrades to zero with a visible trace in the
// stored reason.
func (e *Engine) Evaluate(ctx context.Context, state *database.BotState, sig *database.SignalSnapshot) (*database.DecisionRecord, error) {
	if err := ValidateSignal(sig); err != nil {
		return nil, err
	}

	balance, err := e.balances.GetUserBalance(ctx, state.UserID)
	if err != nil {
		return nil, fmt.Errorf("snapshot balance: %w", err)
	}

	cfg := state.AIConfig
	newsAdj, newsNote := e.weighted(ctx, state.UserID, sig, "news", e.news, cfg.NewsWeight)
	backtestAdj, backtestNote := e.weighted(ctx, state.UserID, sig, "backtest", e.backtest, cfg.BacktestWeight)
	learningAdj, learningNote := e.weighted(ctx, state.UserID, sig, "learning", e.learning, cfg.LearningWeight)

	total := sig.TechnicalConfidence + newsAdj + backtestAdj + learningAdj

	verdict := database.DecisionSkip
	if total >= cfg.ConfidenceThreshold {
		verdict = database.DecisionExecute
	}

	reason := fmt.Sprintf("total %.4f %s threshold %.4f; technical %.4f; %s; %s; %s",
		total, comparator(verdict), cfg.ConfidenceThreshold,
		sig.TechnicalConfidence, newsNote, backtestNote, learningNote)

	rec := &database.DecisionRecord{
		UserID:             state.UserID,
		Symbol:             sig.Symbol,
		Action:             sig.Action,
		Signal:             *sig,
		TechnicalConf:      sig.TechnicalConfidence,
		NewsAdjustment:     newsAdj,
		BacktestAdjustment: backtestAdj,
		LearningAdjustment: learningAdj,
		TotalConfidence:    total,
		Decision:           verdict,
		Reason:             reason,
		BalanceSnapshot:    balance.GasFeeBalance,
	}

	if err := e.ledger.SaveDecisionWithStats(ctx, rec); err != nil {
		return nil, fmt.Errorf("save decision: %w", err)
	}

	e.logger.Info().
		Str("user_id", state.UserID).
		Str("symbol", sig.Symbol).
		Str("decision", verdict).
		Float64("total_confidence", total).
		Float64("threshold", cfg.ConfidenceThreshold).
		Msg("Signal evaluated")

	return rec, nil
}

// weighted runs one provider and scales its normalized score by the
// configured weight, so the contribution is always in [-weight, +weight].
// Returns the adjustment and the reason-text fragment for it.
func (e *Engine) weighted(ctx context.Context, userID string, sig *database.SignalSnapshot, name string, p Provider, weight float64) (float64, string) {
	if weight == 0 {
		return 0, name + ": disabled (weight 0)"
	}

	adj, err := p.Adjust(ctx, userID, sig)
	if err != nil {
		e.logger.Warn().Err(err).
			Str("user_id", userID).
			Str("provider", name).
			Msg("Adjustment provider degraded to zero")
		return 0, fmt.Sprintf("%s: degraded to 0 (%s)", name, trimErr(err))
	}
	if !adj.HasContext {
		return 0, name + ": no context"
	}

	value := clamp(adj.Score, -1, 1) * weight
	return value, fmt.Sprintf("%s: %+.4f (%s)", name, value, adj.Context)
}

func comparator(verdict string) string {
	if verdict == database.DecisionExecute {
		return ">="
	}
	return "<"
}

// trimErr keeps reason text on one line
func trimErr(err error) string {
	return strings.ReplaceAll(err.Error(), "\n", " ")
}
