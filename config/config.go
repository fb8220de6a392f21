package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the top-level application configuration. Values are loaded from an
// optional JSON file and then overridden by environment variables.
type Config struct {
	ServerConfig   ServerConfig   `json:"server"`
	DatabaseConfig DatabaseConfig `json:"database"`
	RedisConfig    RedisConfig    `json:"redis"`
	LoggingConfig  LoggingConfig  `json:"logging"`
	PlatformConfig PlatformConfig `json:"platform"`
	MonitorConfig  MonitorConfig  `json:"monitor"`
	BotDefaults    BotDefaults    `json:"bot_defaults"`
	ExchangeConfig ExchangeConfig `json:"exchange"`
}

// ServerConfig holds the reporting API server configuration
type ServerConfig struct {
	Enabled      bool     `json:"enabled"`
	Port         int      `json:"port"`
	AllowOrigins []string `json:"allow_origins"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis cache configuration
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

type LoggingConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	JSONFormat bool   `json:"json_format"` // JSON output instead of console
}

// PlatformConfig holds platform-wide financial settings. CommissionRate is a
// percentage of realized profit (0-100). A zero rate is treated as unset and
// rejected by the commission engine rather than defaulted.
type PlatformConfig struct {
	CommissionRate float64 `json:"commission_rate"`
	MinimumGasFee  float64 `json:"minimum_gas_fee"`
}

// MonitorConfig controls the open-position safety monitor loop
type MonitorConfig struct {
	PollInterval time.Duration `json:"poll_interval"`
}

// BotDefaults are applied when a bot state is created for a new user
type BotDefaults struct {
	ConfidenceThreshold       float64 `json:"confidence_threshold"`
	NewsWeight                float64 `json:"news_weight"`
	BacktestWeight            float64 `json:"backtest_weight"`
	LearningWeight            float64 `json:"learning_weight"`
	MinGasFeeBalance          float64 `json:"min_gas_fee_balance"`
	RiskPerTrade              float64 `json:"risk_per_trade"`
	MaxLeverage               int     `json:"max_leverage"`
	MaxDailyTradesHighWinRate int     `json:"max_daily_trades_high_win_rate"`
	MaxDailyTradesLowWinRate  int     `json:"max_daily_trades_low_win_rate"`
	WinRateThreshold          float64 `json:"win_rate_threshold"`
	MaxConsecutiveLosses      int     `json:"max_consecutive_losses"`
	CooldownPeriodHours       float64 `json:"cooldown_period_hours"`
}

// ExchangeConfig selects the execution layer backing the bots
type ExchangeConfig struct {
	Simulated bool `json:"simulated"` // paper execution without a live exchange
}

// Load reads configuration from CONFIG_FILE (if set) and the environment
func Load() (*Config, error) {
	cfg := &Config{}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		loaded, err := loadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	applyEnvOverrides(cfg)

	if cfg.PlatformConfig.CommissionRate < 0 || cfg.PlatformConfig.CommissionRate > 100 {
		return nil, fmt.Errorf("commission rate must be within 0-100, got %.2f", cfg.PlatformConfig.CommissionRate)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.ServerConfig.Enabled = getEnvOrDefault("SERVER_ENABLED", "true") == "true"
	cfg.ServerConfig.Port = getEnvIntOrDefault("SERVER_PORT", 8080)
	if origins := os.Getenv("SERVER_ALLOW_ORIGINS"); origins != "" {
		cfg.ServerConfig.AllowOrigins = []string{origins}
	}

	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", "localhost")
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", 5432)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", "trading_bot")
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", "trading_bot_password")
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", "trading_bot")
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", "disable")

	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", "false") == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", "localhost:6379")
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", "")
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", 0)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", 10)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"

	cfg.PlatformConfig.CommissionRate = getEnvFloatOrDefault("PLATFORM_COMMISSION_RATE", cfg.PlatformConfig.CommissionRate)
	cfg.PlatformConfig.MinimumGasFee = getEnvFloatOrDefault("PLATFORM_MINIMUM_GAS_FEE", 10.0)

	cfg.MonitorConfig.PollInterval = getEnvDurationOrDefault("MONITOR_POLL_INTERVAL", 15*time.Second)

	cfg.BotDefaults.ConfidenceThreshold = getEnvFloatOrDefault("BOT_CONFIDENCE_THRESHOLD", 0.82)
	cfg.BotDefaults.NewsWeight = getEnvFloatOrDefault("BOT_NEWS_WEIGHT", 0.05)
	cfg.BotDefaults.BacktestWeight = getEnvFloatOrDefault("BOT_BACKTEST_WEIGHT", 0.05)
	cfg.BotDefaults.LearningWeight = getEnvFloatOrDefault("BOT_LEARNING_WEIGHT", 0.05)
	cfg.BotDefaults.MinGasFeeBalance = getEnvFloatOrDefault("BOT_MIN_GAS_FEE_BALANCE", 10.0)
	cfg.BotDefaults.RiskPerTrade = getEnvFloatOrDefault("BOT_RISK_PER_TRADE", 0.02)
	cfg.BotDefaults.MaxLeverage = getEnvIntOrDefault("BOT_MAX_LEVERAGE", 20)
	cfg.BotDefaults.MaxDailyTradesHighWinRate = getEnvIntOrDefault("BOT_MAX_DAILY_TRADES_HIGH", 10)
	cfg.BotDefaults.MaxDailyTradesLowWinRate = getEnvIntOrDefault("BOT_MAX_DAILY_TRADES_LOW", 5)
	cfg.BotDefaults.WinRateThreshold = getEnvFloatOrDefault("BOT_WIN_RATE_THRESHOLD", 0.85)
	cfg.BotDefaults.MaxConsecutiveLosses = getEnvIntOrDefault("BOT_MAX_CONSECUTIVE_LOSSES", 2)
	cfg.BotDefaults.CooldownPeriodHours = getEnvFloatOrDefault("BOT_COOLDOWN_PERIOD_HOURS", 4)

	cfg.ExchangeConfig.Simulated = getEnvOrDefault("EXCHANGE_SIMULATED", "true") == "true"
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GenerateSampleConfig writes a config file populated with defaults
func GenerateSampleConfig(filename string) error {
	config := Config{
		ServerConfig: ServerConfig{
			Enabled:      true,
			Port:         8080,
			AllowOrigins: []string{"http://localhost:3000"},
		},
		DatabaseConfig: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "trading_bot",
			Password: "trading_bot_password",
			Database: "trading_bot",
			SSLMode:  "disable",
		},
		RedisConfig: RedisConfig{
			Enabled:  false,
			Address:  "localhost:6379",
			PoolSize: 10,
		},
		LoggingConfig: LoggingConfig{
			Level:      "info",
			JSONFormat: true,
		},
		PlatformConfig: PlatformConfig{
			CommissionRate: 20.0,
			MinimumGasFee:  10.0,
		},
		MonitorConfig: MonitorConfig{
			PollInterval: 15 * time.Second,
		},
		BotDefaults: BotDefaults{
			ConfidenceThreshold:       0.82,
			NewsWeight:                0.05,
			BacktestWeight:            0.05,
			LearningWeight:            0.05,
			MinGasFeeBalance:          10.0,
			RiskPerTrade:              0.02,
			MaxLeverage:               20,
			MaxDailyTradesHighWinRate: 10,
			MaxDailyTradesLowWinRate:  5,
			WinRateThreshold:          0.85,
			MaxConsecutiveLosses:      2,
			CooldownPeriodHours:       4,
		},
		ExchangeConfig: ExchangeConfig{
			Simulated: true,
		},
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
