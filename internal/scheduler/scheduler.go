// Package scheduler runs the recurring maintenance jobs, currently the
// midnight-UTC daily trade quota reset.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// QuotaResetter clears every bot's daily trade count. Satisfied by
// *database.Repository.
type QuotaResetter interface {
	ResetDailyTradeCounts(ctx context.Context) (int64, error)
}

// Scheduler wraps the cron runner
type Scheduler struct {
	cron   *cron.Cron
	store  QuotaResetter
	logger zerolog.Logger
}

// New creates a scheduler pinned to UTC so the daily reset boundary does not
// drift with the host timezone
func New(store QuotaResetter, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		store:  store,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start registers the jobs and begins the cron loop
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("0 0 * * *", s.resetDailyQuotas); err != nil {
		return fmt.Errorf("register daily quota reset: %w", err)
	}
	s.cron.Start()
	s.logger.Info().Msg("Scheduler started")
	return nil
}

func (s *Scheduler) resetDailyQuotas() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, err := s.store.ResetDailyTradeCounts(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Daily quota reset failed")
		return
	}
	s.logger.Info().Int64("bots", count).Msg("Daily trade quotas reset")
}

// Stop halts the cron loop and waits for a running job to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Scheduler stopped")
}
