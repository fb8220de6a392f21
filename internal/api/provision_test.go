package api

import (
	"testing"

	"futures-safety-bot/config"
)

func TestDefaultsToConfigs(t *testing.T) {
	defaults := config.BotDefaults{
		ConfidenceThreshold:       0.82,
		NewsWeight:                0.05,
		BacktestWeight:            0.05,
		LearningWeight:            0.05,
		MinGasFeeBalance:          10,
		RiskPerTrade:              0.02,
		MaxLeverage:               20,
		MaxDailyTradesHighWinRate: 10,
		MaxDailyTradesLowWinRate:  5,
		WinRateThreshold:          0.85,
		MaxConsecutiveLosses:      2,
		CooldownPeriodHours:       4,
	}

	ai, trading, risk := defaultsToConfigs(defaults)

	if !ai.Enabled {
		t.Error("provisioned bots must start with the decision engine enabled")
	}
	if ai.ConfidenceThreshold != 0.82 || ai.MinGasFeeBalance != 10 {
		t.Errorf("unexpected AI config %+v", ai)
	}
	if ai.NewsWeight != 0.05 || ai.BacktestWeight != 0.05 || ai.LearningWeight != 0.05 {
		t.Errorf("unexpected adjustment weights %+v", ai)
	}
	if trading.RiskPerTrade != 0.02 || trading.MaxLeverage != 20 {
		t.Errorf("unexpected trading config %+v", trading)
	}
	if len(trading.AllowedSymbols) != 0 || len(trading.BlacklistedSymbols) != 0 {
		t.Error("new bots must start without symbol restrictions")
	}
	if risk.MaxDailyTradesHighWinRate != 10 || risk.MaxDailyTradesLowWinRate != 5 {
		t.Errorf("unexpected daily caps %+v", risk)
	}
	if risk.WinRateThreshold != 0.85 || risk.MaxConsecutiveLosses != 2 || risk.CooldownPeriodHours != 4 {
		t.Errorf("unexpected risk config %+v", risk)
	}
}
