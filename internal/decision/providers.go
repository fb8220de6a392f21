package decision

import (
	"context"
	"fmt"

	"futures-safety-bot/internal/database"
)

// Adjustment is one provider's contribution to a decision, normalized to
// [-1, +1]. The engine scales it by the provider's configured weight. Context
// distinguishes "no data available" (HasContext=false) from a genuine zero
// score (HasContext=true, Score=0) in the stored reason text.
type Adjustment struct {
	Score      float64
	HasContext bool
	Context    string
}

// Provider supplies one signed adjustment to a signal evaluation. Providers
// are optional: a provider error never fails the decision, the engine
// degrades that adjustment to zero and records the degradation.
type Provider interface {
	Adjust(ctx context.Context, userID string, sig *database.SignalSnapshot) (Adjustment, error)
}

// NoopProvider always reports no context. Used when a provider slot has no
// real data source configured.
type NoopProvider struct{}

func (NoopProvider) Adjust(ctx context.Context, userID string, sig *database.SignalSnapshot) (Adjustment, error) {
	return Adjustment{}, nil
}

// StaticSentimentProvider reports a fixed market sentiment score, typically
// fed by an external sentiment feed and refreshed out of band.
type StaticSentimentProvider struct {
	Score  float64 // -1 (extreme fear) to +1 (extreme greed)
	Source string
}

func (p *StaticSentimentProvider) Adjust(ctx context.Context, userID string, sig *database.SignalSnapshot) (Adjustment, error) {
	return Adjustment{
		Score:      clamp(p.Score, -1, 1),
		HasContext: true,
		Context:    fmt.Sprintf("market sentiment %.2f from %s", p.Score, p.Source),
	}, nil
}

// OutcomeSource supplies recent closed-trade results for one user/symbol.
// Satisfied by *database.Repository.
type OutcomeSource interface {
	RecentOutcomes(ctx context.Context, userID, symbol string, limit int) ([]string, error)
}

// BacktestProvider scores a signal against the user's own recent history on
// the same symbol: a streak of wins pushes the adjustment positive, a streak
// of losses negative. With no closed trades yet it reports no context.
type BacktestProvider struct {
	Outcomes OutcomeSource
	Window   int
}

// NewBacktestProvider uses the last 10 closed trades per symbol by default
func NewBacktestProvider(outcomes OutcomeSource) *BacktestProvider {
	return &BacktestProvider{Outcomes: outcomes, Window: 10}
}

func (p *BacktestProvider) Adjust(ctx context.Context, userID string, sig *database.SignalSnapshot) (Adjustment, error) {
	results, err := p.Outcomes.RecentOutcomes(ctx, userID, sig.Symbol, p.Window)
	if err != nil {
		return Adjustment{}, fmt.Errorf("recent outcomes for %s: %w", sig.Symbol, err)
	}
	if len(results) == 0 {
		return Adjustment{}, nil
	}

	wins := 0
	for _, r := range results {
		if r == database.ResultWin {
			wins++
		}
	}
	// Map the recent win rate [0,1] onto [-1,+1] around a 50% midpoint.
	score := 2*float64(wins)/float64(len(results)) - 1
	return Adjustment{
		Score:      score,
		HasContext: true,
		Context:    fmt.Sprintf("%d/%d recent wins on %s", wins, len(results), sig.Symbol),
	}, nil
}

// PatternSource supplies aggregated outcomes for a learned pattern.
// Satisfied by *database.Repository.
type PatternSource interface {
	PatternOutcomes(ctx context.Context, userID, patternID string) (*database.PatternOutcome, error)
}

// LearningProvider scores a signal by the historical performance of its
// matched pattern. Signals without a pattern id, or patterns with too few
// samples, report no context.
type LearningProvider struct {
	Patterns   PatternSource
	MinSamples int64
}

// NewLearningProvider requires at least 3 closed trades on a pattern before
// trusting its outcome history
func NewLearningProvider(patterns PatternSource) *LearningProvider {
	return &LearningProvider{Patterns: patterns, MinSamples: 3}
}

func (p *LearningProvider) Adjust(ctx context.Context, userID string, sig *database.SignalSnapshot) (Adjustment, error) {
	if sig.PatternID == "" {
		return Adjustment{}, nil
	}
	outcome, err := p.Patterns.PatternOutcomes(ctx, userID, sig.PatternID)
	if err != nil {
		return Adjustment{}, fmt.Errorf("pattern outcomes for %s: %w", sig.PatternID, err)
	}
	total := outcome.Wins + outcome.Losses
	if total < p.MinSamples {
		return Adjustment{}, nil
	}

	score := 2*float64(outcome.Wins)/float64(total) - 1
	return Adjustment{
		Score:      score,
		HasContext: true,
		Context:    fmt.Sprintf("pattern %s: %d wins / %d losses", sig.PatternID, outcome.Wins, outcome.Losses),
	}, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
