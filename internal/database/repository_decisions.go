package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// SaveDecisionWithStats appends a decision record and bumps the bot's signal
// counters in a single transaction, so a crash between scoring and bookkeeping
// cannot under-count. EXECUTE decisions also increment daily_trade_count.
func (r *Repository) SaveDecisionWithStats(ctx context.Context, rec *DecisionRecord) error {
	signalJSON, err := json.Marshal(rec.Signal)
	if err != nil {
		return fmt.Errorf("encode signal snapshot: %w", err)
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var patternID *string
	if rec.Signal.PatternID != "" {
		patternID = &rec.Signal.PatternID
	}

	insert := `
		INSERT INTO decision_records (
			user_id, symbol, action, signal, pattern_id,
			technical_confidence, news_adjustment, backtest_adjustment, learning_adjustment,
			total_confidence, decision, reason, balance_snapshot
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at
	`
	err = tx.QueryRow(ctx, insert,
		rec.UserID, rec.Symbol, rec.Action, signalJSON, patternID,
		rec.TechnicalConf, rec.NewsAdjustment, rec.BacktestAdjustment, rec.LearningAdjustment,
		rec.TotalConfidence, rec.Decision, rec.Reason, rec.BalanceSnapshot,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return err
	}

	var bump string
	if rec.Decision == DecisionExecute {
		bump = `
			UPDATE bot_states
			SET total_signals_received = total_signals_received + 1,
			    signals_executed = signals_executed + 1,
			    daily_trade_count = daily_trade_count + 1,
			    updated_at = NOW()
			WHERE user_id = $1
		`
	} else {
		bump = `
			UPDATE bot_states
			SET total_signals_received = total_signals_received + 1,
			    signals_rejected = signals_rejected + 1,
			    updated_at = NOW()
			WHERE user_id = $1
		`
	}
	tag, err := tx.Exec(ctx, bump, rec.UserID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bot state for user %s: %w", rec.UserID, ErrNotFound)
	}

	return tx.Commit(ctx)
}

// OpenDecisionExecution attaches the open-side execution sub-record. The
// execution_status precondition means the open write happens at most once and
// is committed before any result update can become visible.
func (r *Repository) OpenDecisionExecution(ctx context.Context, decisionID int64, positionID string, entryPrice, quantity float64, leverage int, openedAt time.Time) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE decision_records
		SET execution_status = 'OPEN', position_id = $2, entry_price = $3,
		    quantity = $4, leverage = $5, opened_at = $6
		WHERE id = $1 AND execution_status = 'NONE'
	`, decisionID, positionID, entryPrice, quantity, leverage, openedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrExecutionAlreadyOpen
	}
	return nil
}

// CloseDecisionExecution records the realized result. Closing a decision with
// no open execution indicates an upstream sequencing bug and is rejected, not
// silently created.
func (r *Repository) CloseDecisionExecution(ctx context.Context, decisionID int64, result string, exitPrice float64, exitType string, realizedProfit, commissionPaid float64, closedAt time.Time) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE decision_records
		SET execution_status = 'CLOSED', result = $2, exit_price = $3, exit_type = $4,
		    realized_profit = $5, commission_paid = $6, closed_at = $7
		WHERE id = $1 AND execution_status = 'OPEN'
	`, decisionID, result, exitPrice, exitType, realizedProfit, commissionPaid, closedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNoOpenExecution
	}
	return nil
}

const decisionColumns = `
	id, user_id, symbol, action, signal,
	technical_confidence, news_adjustment, backtest_adjustment, learning_adjustment,
	total_confidence, decision, reason, balance_snapshot,
	execution_status, position_id, entry_price, quantity, leverage, opened_at,
	result, exit_price, exit_type, realized_profit, commission_paid, closed_at,
	created_at`

func scanDecision(row pgx.Row) (*DecisionRecord, error) {
	rec := &DecisionRecord{}
	var signalJSON []byte
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.Symbol, &rec.Action, &signalJSON,
		&rec.TechnicalConf, &rec.NewsAdjustment, &rec.BacktestAdjustment, &rec.LearningAdjustment,
		&rec.TotalConfidence, &rec.Decision, &rec.Reason, &rec.BalanceSnapshot,
		&rec.Execution.Status, &rec.Execution.PositionID, &rec.Execution.EntryPrice,
		&rec.Execution.Quantity, &rec.Execution.Leverage, &rec.Execution.OpenedAt,
		&rec.Execution.Result, &rec.Execution.ExitPrice, &rec.Execution.ExitType,
		&rec.Execution.RealizedProfit, &rec.Execution.CommissionPaid, &rec.Execution.ClosedAt,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(signalJSON) > 0 {
		if err := json.Unmarshal(signalJSON, &rec.Signal); err != nil {
			return nil, fmt.Errorf("decode signal snapshot: %w", err)
		}
	}
	return rec, nil
}

// GetDecisionByID retrieves one decision record
func (r *Repository) GetDecisionByID(ctx context.Context, id int64) (*DecisionRecord, error) {
	query := `SELECT ` + decisionColumns + ` FROM decision_records WHERE id = $1`
	rec, err := scanDecision(r.db.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("decision %d: %w", id, ErrNotFound)
	}
	return rec, err
}

// GetDecisions retrieves a user's decision records, newest first
func (r *Repository) GetDecisions(ctx context.Context, userID string, limit int) ([]*DecisionRecord, error) {
	query := `SELECT ` + decisionColumns + `
		FROM decision_records
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	return r.queryDecisions(ctx, query, userID, limit)
}

func (r *Repository) queryDecisions(ctx context.Context, query string, args ...interface{}) ([]*DecisionRecord, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*DecisionRecord
	for rows.Next() {
		rec, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountDecisions returns the number of decision records for a user
func (r *Repository) CountDecisions(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM decision_records WHERE user_id = $1`, userID,
	).Scan(&count)
	return count, err
}

// RecentOutcomes returns the win/loss results of the last closed executions
// for a symbol, newest first. Feeds the backtest adjustment provider.
func (r *Repository) RecentOutcomes(ctx context.Context, userID, symbol string, limit int) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT result
		FROM decision_records
		WHERE user_id = $1 AND symbol = $2 AND execution_status = 'CLOSED' AND result IS NOT NULL
		ORDER BY closed_at DESC
		LIMIT $3
	`, userID, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []string
	for rows.Next() {
		var result string
		if err := rows.Scan(&result); err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// PatternOutcomes aggregates closed-trade results for one learned pattern.
// Feeds the learning adjustment provider.
func (r *Repository) PatternOutcomes(ctx context.Context, userID, patternID string) (*PatternOutcome, error) {
	outcome := &PatternOutcome{PatternID: patternID}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE result = 'WIN'),
		       COUNT(*) FILTER (WHERE result = 'LOSS')
		FROM decision_records
		WHERE user_id = $1 AND pattern_id = $2 AND execution_status = 'CLOSED'
	`, userID, patternID).Scan(&outcome.Wins, &outcome.Losses)
	if err != nil {
		return nil, err
	}
	return outcome, nil
}
