package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"futures-safety-bot/config"
	"futures-safety-bot/internal/api"
	"futures-safety-bot/internal/bot"
	"futures-safety-bot/internal/cache"
	"futures-safety-bot/internal/commission"
	"futures-safety-bot/internal/database"
	"futures-safety-bot/internal/decision"
	"futures-safety-bot/internal/events"
	"futures-safety-bot/internal/exchange"
	"futures-safety-bot/internal/logging"
	"futures-safety-bot/internal/risk"
	"futures-safety-bot/internal/scheduler"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "gen-config" {
		if err := config.GenerateSampleConfig("config.sample.json"); err != nil {
			fmt.Fprintf(os.Stderr, "generate sample config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Wrote config.sample.json")
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LoggingConfig.Level, cfg.LoggingConfig.JSONFormat)
	logger.Info().Msg("Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.NewDB(cfg.DatabaseConfig, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Database connection failed")
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Migrations failed")
	}

	repo := database.NewRepository(db)
	bus := events.NewEventBus()

	eventLog := logger.With().Str("component", "events").Logger()
	bus.SubscribeAll(func(evt events.Event) {
		eventLog.Info().
			Str("event", string(evt.Type)).
			Str("user_id", evt.UserID).
			Fields(evt.Data).
			Msg("Event")
	})

	// Commission rate source: cached with the configured platform rate as
	// fallback when Redis is enabled, static otherwise.
	var rates commission.RateSource = commission.StaticRateSource(cfg.PlatformConfig.CommissionRate)
	var cacheService *cache.CacheService
	var states api.BotStateReader = repo
	if cfg.RedisConfig.Enabled {
		cacheService = cache.NewCacheService(cfg.RedisConfig, logger)
		defer cacheService.Close()
		rates = cache.NewCachedRateSource(cacheService, cfg.PlatformConfig.CommissionRate, logger)

		reader := cache.NewStateReader(cacheService, repo, logger)
		states = reader
		// Any trade or lifecycle event mutates bot state, so drop the
		// cached copy and let the next read repopulate it.
		for _, evtType := range []events.EventType{
			events.EventTradeClosed,
			events.EventCooldownStarted,
			events.EventCooldownEnded,
			events.EventBotStarted,
			events.EventBotStopped,
		} {
			bus.Subscribe(evtType, func(evt events.Event) {
				reader.Invalidate(context.Background(), evt.UserID)
			})
		}
	}

	safety := commission.NewEngine(repo, rates, cfg.PlatformConfig.MinimumGasFee, logger)
	riskController := risk.NewController(repo, repo, logger)
	riskController.OnCooldownStart(func(userID, reason string) {
		bus.PublishCooldown(events.EventCooldownStarted, userID, reason)
	})
	riskController.OnCooldownEnd(func(userID string) {
		bus.PublishCooldown(events.EventCooldownEnded, userID, "")
	})

	scorer := decision.NewEngine(
		repo,
		repo,
		nil, // news provider: wire a sentiment feed here when one is configured
		decision.NewBacktestProvider(repo),
		decision.NewLearningProvider(repo),
		logger,
	)

	var ex exchange.Client
	if cfg.ExchangeConfig.Simulated {
		ex = exchange.NewSimulatedClient(nil, logger)
		logger.Info().Msg("Using simulated exchange")
	} else {
		logger.Fatal().Msg("Live exchange execution is not configured in this build; set EXCHANGE_SIMULATED=true")
	}

	manager := bot.NewManager(repo, riskController, scorer, safety, ex, bus, cfg.MonitorConfig.PollInterval, logger)
	if err := manager.ResumeActive(ctx); err != nil {
		logger.Error().Err(err).Msg("Bot resume failed")
	}

	sched := scheduler.New(repo, logger)
	if err := sched.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Scheduler start failed")
	}

	var server *api.Server
	if cfg.ServerConfig.Enabled {
		server = api.NewServer(cfg.ServerConfig, cfg.BotDefaults, repo, states, safety, manager, logger)
		go func() {
			if err := server.Start(); err != nil {
				logger.Error().Err(err).Msg("HTTP server failed")
				cancel()
			}
		}()
	}

	logger.Info().Msg("Futures safety bot running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP shutdown failed")
		}
	}
	sched.Stop()
	manager.StopAll(shutdownCtx)

	logger.Info().Msg("Shutdown complete")
}
