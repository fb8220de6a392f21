// Package api exposes the read-only reporting surface plus bot start/stop
// controls over HTTP. The trading core never depends on this package.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"futures-safety-bot/config"
	"futures-safety-bot/internal/bot"
	"futures-safety-bot/internal/commission"
	"futures-safety-bot/internal/database"
)

// BotStateReader serves bot-state lookups. In production this is the
// cache-backed reader; the repository satisfies it directly when Redis
// is disabled.
type BotStateReader interface {
	GetBotState(ctx context.Context, userID string) (*database.BotState, error)
}

// Server is the HTTP reporting server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	repo       *database.Repository
	states     BotStateReader
	safety     *commission.Engine
	bots       *bot.Manager
	config     config.ServerConfig
	defaults   config.BotDefaults
	logger     zerolog.Logger
}

// NewServer creates the API server with CORS and recovery middleware
func NewServer(cfg config.ServerConfig, defaults config.BotDefaults, repo *database.Repository, states BotStateReader, safety *commission.Engine, bots *bot.Manager, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:   router,
		repo:     repo,
		states:   states,
		safety:   safety,
		bots:     bots,
		config:   cfg,
		defaults: defaults,
		logger:   logger.With().Str("component", "api").Logger(),
	}
	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	users := s.router.Group("/api/users/:id")
	{
		users.GET("/balance", s.handleGetBalance)
		users.POST("/balance/credit", s.handleCreditBalance)
		users.GET("/bot", s.handleGetBotState)
		users.POST("/bot", s.handleCreateBot)
		users.POST("/bot/start", s.handleStartBot)
		users.POST("/bot/stop", s.handleStopBot)
		users.GET("/decisions", s.handleGetDecisions)
		users.GET("/decisions/:decisionID", s.handleGetDecision)
		users.GET("/commissions", s.handleGetCommissions)
		users.GET("/commissions/summary", s.handleGetCommissionSummary)
		users.GET("/safety/ceiling", s.handleGetCeiling)
	}
}

// Start blocks serving HTTP until Shutdown is called
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("HTTP server starting")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info().Msg("HTTP server shutting down")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.repo.HealthCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "database": "healthy"})
}
