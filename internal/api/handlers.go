package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"futures-safety-bot/internal/database"
)

func (s *Server) handleGetBalance(c *gin.Context) {
	userID := c.Param("id")

	balance, err := s.repo.GetUserBalance(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Balance lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "balance lookup failed"})
		return
	}
	c.JSON(http.StatusOK, balance)
}

type creditRequest struct {
	Amount float64 `json:"amount" binding:"required,gt=0"`
}

func (s *Server) handleCreditBalance(c *gin.Context) {
	userID := c.Param("id")

	var req creditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be a positive number"})
		return
	}

	newBalance, err := s.repo.CreditGasFee(c.Request.Context(), userID, req.Amount)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Balance credit failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "credit failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "gas_fee_balance": newBalance})
}

func (s *Server) handleGetBotState(c *gin.Context) {
	userID := c.Param("id")

	state, err := s.states.GetBotState(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "bot not found"})
			return
		}
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Bot state lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "bot state lookup failed"})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleStartBot(c *gin.Context) {
	userID := c.Param("id")

	if _, err := s.bots.StartBot(c.Request.Context(), userID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "bot not found"})
			return
		}
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Bot start failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "bot start failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "status": database.BotStatusActive})
}

func (s *Server) handleStopBot(c *gin.Context) {
	userID := c.Param("id")

	if err := s.bots.StopBot(c.Request.Context(), userID); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "status": database.BotStatusPaused})
}

func (s *Server) handleGetDecisions(c *gin.Context) {
	userID := c.Param("id")

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = parsed
	}

	decisions, err := s.repo.GetDecisions(c.Request.Context(), userID, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Decision query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "decision query failed"})
		return
	}

	total, err := s.repo.CountDecisions(c.Request.Context(), userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Decision count failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "decision query failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"decisions": decisions, "total": total})
}

func (s *Server) handleGetDecision(c *gin.Context) {
	userID := c.Param("id")

	decisionID, err := strconv.ParseInt(c.Param("decisionID"), 10, 64)
	if err != nil || decisionID < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "decision id must be a positive integer"})
		return
	}

	rec, err := s.repo.GetDecisionByID(c.Request.Context(), decisionID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "decision not found"})
			return
		}
		s.logger.Error().Err(err).Int64("decision_id", decisionID).Msg("Decision lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "decision lookup failed"})
		return
	}
	// Decisions are only visible to their owner.
	if rec.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "decision not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleGetCommissions(c *gin.Context) {
	userID := c.Param("id")

	transactions, err := s.repo.GetCommissionTransactions(c.Request.Context(), userID, 100)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Commission query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "commission query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": transactions})
}

func (s *Server) handleGetCommissionSummary(c *gin.Context) {
	userID := c.Param("id")

	summary, err := s.safety.GetCommissionSummary(c.Request.Context(), userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Commission summary failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "commission summary failed"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleGetCeiling(c *gin.Context) {
	userID := c.Param("id")

	ceiling, err := s.safety.ComputeSafeProfitCeiling(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Ceiling computation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ceiling computation failed"})
		return
	}
	c.JSON(http.StatusOK, ceiling)
}
