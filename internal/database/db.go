package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"futures-safety-bot/config"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger zerolog.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger.Info().Str("database", cfg.Database).Msg("Connected to PostgreSQL")

	return &DB{Pool: pool, logger: logger.With().Str("component", "database").Logger()}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("Database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info().Msg("Running database migrations")

	migrations := []string{
		// Per-user operating balance used to pay trade commissions. The CHECK
		// constraint is the backstop for the balance >= 0 invariant; the
		// conditional update in DeductCommission is the primary guard.
		`CREATE TABLE IF NOT EXISTS user_balances (
			user_id TEXT PRIMARY KEY,
			gas_fee_balance DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (gas_fee_balance >= 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		// One bot state row per user. Config sub-documents are JSONB; the
		// transient counters and cooldown state are discrete columns so they
		// can be mutated with conditional single-statement updates.
		`CREATE TABLE IF NOT EXISTS bot_states (
			user_id TEXT PRIMARY KEY,
			status TEXT NOT NULL DEFAULT 'active',
			ai_config JSONB NOT NULL DEFAULT '{}',
			trading_config JSONB NOT NULL DEFAULT '{}',
			risk_config JSONB NOT NULL DEFAULT '{}',
			total_signals_received BIGINT NOT NULL DEFAULT 0,
			signals_executed BIGINT NOT NULL DEFAULT 0,
			signals_rejected BIGINT NOT NULL DEFAULT 0,
			total_trades BIGINT NOT NULL DEFAULT 0,
			winning_trades BIGINT NOT NULL DEFAULT 0,
			losing_trades BIGINT NOT NULL DEFAULT 0,
			total_profit DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_loss DOUBLE PRECISION NOT NULL DEFAULT 0,
			best_trade DOUBLE PRECISION NOT NULL DEFAULT 0,
			worst_trade DOUBLE PRECISION NOT NULL DEFAULT 0,
			consecutive_wins INT NOT NULL DEFAULT 0,
			consecutive_losses INT NOT NULL DEFAULT 0,
			daily_trade_count INT NOT NULL DEFAULT 0,
			last_trade_time TIMESTAMPTZ,
			is_in_cooldown BOOLEAN NOT NULL DEFAULT FALSE,
			cooldown_started_at TIMESTAMPTZ,
			cooldown_reason TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		// Append-only audit trail of signal evaluations. Rows are immutable
		// except for the execution sub-record, which transitions
		// NONE -> OPEN -> CLOSED exactly once each.
		`CREATE TABLE IF NOT EXISTS decision_records (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			action TEXT NOT NULL,
			signal JSONB NOT NULL,
			pattern_id TEXT,
			technical_confidence DOUBLE PRECISION NOT NULL,
			news_adjustment DOUBLE PRECISION NOT NULL DEFAULT 0,
			backtest_adjustment DOUBLE PRECISION NOT NULL DEFAULT 0,
			learning_adjustment DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_confidence DOUBLE PRECISION NOT NULL,
			decision TEXT NOT NULL,
			reason TEXT NOT NULL,
			balance_snapshot DOUBLE PRECISION NOT NULL DEFAULT 0,
			execution_status TEXT NOT NULL DEFAULT 'NONE',
			position_id TEXT,
			entry_price DOUBLE PRECISION,
			quantity DOUBLE PRECISION,
			leverage INT,
			opened_at TIMESTAMPTZ,
			result TEXT,
			exit_price DOUBLE PRECISION,
			exit_type TEXT,
			realized_profit DOUBLE PRECISION,
			commission_paid DOUBLE PRECISION,
			closed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decision_records_user ON decision_records(user_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_decision_records_symbol ON decision_records(user_id, symbol, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_decision_records_position ON decision_records(position_id)`,

		// Commission audit trail. The partial unique index enforces at most
		// one applied deduction per position; failed attempts are still
		// recorded for the audit trail.
		`CREATE TABLE IF NOT EXISTS commission_transactions (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			position_id TEXT NOT NULL,
			profit DOUBLE PRECISION NOT NULL,
			commission DOUBLE PRECISION NOT NULL,
			rate_used DOUBLE PRECISION NOT NULL,
			balance_after DOUBLE PRECISION,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_commission_tx_position_applied
			ON commission_transactions(position_id) WHERE status = 'applied'`,
		`CREATE INDEX IF NOT EXISTS idx_commission_tx_user ON commission_transactions(user_id, created_at DESC)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info().Int("count", len(migrations)).Msg("Migrations completed")
	return nil
}
