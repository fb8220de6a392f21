package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// ApplyCommission deducts a commission from a user's gas fee balance and
// appends the applied transaction row in one transaction.
//
// Idempotence: the partial unique index on position_id (status = 'applied')
// rejects a second deduction for the same position; callers get
// ErrDuplicateDeduction and the balance is untouched.
//
// Safety: the balance decrement is a single conditional update
// (gas_fee_balance >= commission), so the balance is re-read at mutation time
// and can never go negative, regardless of what the caller observed earlier
// in its monitoring loop.
func (r *Repository) ApplyCommission(ctx context.Context, userID, positionID string, profit, commission, rate float64) (float64, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var txID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO commission_transactions (user_id, position_id, profit, commission, rate_used, status)
		VALUES ($1, $2, $3, $4, $5, 'applied')
		ON CONFLICT (position_id) WHERE status = 'applied' DO NOTHING
		RETURNING id
	`, userID, positionID, profit, commission, rate).Scan(&txID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrDuplicateDeduction
	}
	if err != nil {
		return 0, err
	}

	var remaining float64
	err = tx.QueryRow(ctx, `
		UPDATE user_balances
		SET gas_fee_balance = gas_fee_balance - $2, updated_at = NOW()
		WHERE user_id = $1 AND gas_fee_balance >= $2
		RETURNING gas_fee_balance
	`, userID, commission).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrInsufficientBalance
	}
	if err != nil {
		return 0, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE commission_transactions SET balance_after = $2 WHERE id = $1`,
		txID, remaining,
	); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return remaining, nil
}

// RecordFailedCommission appends a failed-deduction audit row. Written outside
// the deduction transaction so the discrepancy is visible even though the
// balance was left unchanged.
func (r *Repository) RecordFailedCommission(ctx context.Context, userID, positionID string, profit, commission, rate float64) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO commission_transactions (user_id, position_id, profit, commission, rate_used, status)
		VALUES ($1, $2, $3, $4, $5, 'failed')
	`, userID, positionID, profit, commission, rate)
	return err
}

// GetCommissionSummary rolls up a user's commission transactions
func (r *Repository) GetCommissionSummary(ctx context.Context, userID string) (*CommissionSummary, error) {
	summary := &CommissionSummary{UserID: userID}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(commission) FILTER (WHERE status = 'applied'), 0),
		       COALESCE(SUM(profit) FILTER (WHERE status = 'applied'), 0),
		       COUNT(*) FILTER (WHERE status = 'applied'),
		       COUNT(*) FILTER (WHERE status = 'failed')
		FROM commission_transactions
		WHERE user_id = $1
	`, userID).Scan(
		&summary.TotalCommission, &summary.TotalProfit,
		&summary.TransactionCount, &summary.FailedDeductions,
	)
	if err != nil {
		return nil, err
	}
	if summary.TotalProfit > 0 {
		summary.AvgEffectiveRate = summary.TotalCommission / summary.TotalProfit * 100
	}
	return summary, nil
}

// GetCommissionTransactions returns a user's commission audit trail, newest
// first
func (r *Repository) GetCommissionTransactions(ctx context.Context, userID string, limit int) ([]*CommissionTransaction, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, user_id, position_id, profit, commission, rate_used, balance_after, status, created_at
		FROM commission_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*CommissionTransaction
	for rows.Next() {
		t := &CommissionTransaction{}
		err := rows.Scan(
			&t.ID, &t.UserID, &t.PositionID, &t.Profit, &t.Commission,
			&t.RateUsed, &t.BalanceAfter, &t.Status, &t.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}
