package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"futures-safety-bot/config"
	"futures-safety-bot/internal/database"
)

type createBotRequest struct {
	InitialBalance float64 `json:"initial_balance" binding:"omitempty,gte=0"`
}

// defaultsToConfigs maps the configured bot defaults onto the per-user
// config blocks stored with a fresh bot state.
func defaultsToConfigs(d config.BotDefaults) (database.AIConfig, database.TradingConfig, database.RiskConfig) {
	ai := database.AIConfig{
		Enabled:             true,
		ConfidenceThreshold: d.ConfidenceThreshold,
		NewsWeight:          d.NewsWeight,
		BacktestWeight:      d.BacktestWeight,
		LearningWeight:      d.LearningWeight,
		MinGasFeeBalance:    d.MinGasFeeBalance,
	}
	trading := database.TradingConfig{
		RiskPerTrade: d.RiskPerTrade,
		MaxLeverage:  d.MaxLeverage,
	}
	risk := database.RiskConfig{
		MaxDailyTradesHighWinRate: d.MaxDailyTradesHighWinRate,
		MaxDailyTradesLowWinRate:  d.MaxDailyTradesLowWinRate,
		WinRateThreshold:          d.WinRateThreshold,
		MaxConsecutiveLosses:      d.MaxConsecutiveLosses,
		CooldownPeriodHours:       d.CooldownPeriodHours,
	}
	return ai, trading, risk
}

// handleCreateBot provisions a balance row and a paused bot state for a new
// user. Both inserts are idempotent, so repeating the call returns the
// existing records untouched.
func (s *Server) handleCreateBot(c *gin.Context) {
	userID := c.Param("id")

	var req createBotRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "initial_balance must be a non-negative number"})
			return
		}
	}

	balance, err := s.repo.CreateUserBalance(c.Request.Context(), userID, req.InitialBalance)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Balance provisioning failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "provisioning failed"})
		return
	}

	ai, trading, risk := defaultsToConfigs(s.defaults)
	state, err := s.repo.CreateBotState(c.Request.Context(), userID, ai, trading, risk)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Bot state provisioning failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "provisioning failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"balance": balance, "bot": state})
}
