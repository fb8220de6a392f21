package decision

import (
	"fmt"
	"strings"

	"futures-safety-bot/internal/database"
)

// Signal actions accepted from the signal source
const (
	ActionLong  = "LONG"
	ActionShort = "SHORT"
)

// ValidationError reports a malformed signal rejected before scoring
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid signal: %s %s", e.Field, e.Detail)
}

// ValidateSignal rejects malformed signals before any scoring happens. Price
// fields must all be present and positive; stop/target must sit on the right
// side of entry for the signal direction.
func ValidateSignal(sig *database.SignalSnapshot) error {
	if strings.TrimSpace(sig.Symbol) == "" {
		return &ValidationError{Field: "symbol", Detail: "is required"}
	}
	if sig.Action != ActionLong && sig.Action != ActionShort {
		return &ValidationError{Field: "action", Detail: fmt.Sprintf("must be %s or %s, got %q", ActionLong, ActionShort, sig.Action)}
	}
	if sig.TechnicalConfidence < 0 || sig.TechnicalConfidence > 1 {
		return &ValidationError{Field: "technical_confidence", Detail: fmt.Sprintf("must be in [0,1], got %.4f", sig.TechnicalConfidence)}
	}
	if sig.EntryPrice <= 0 {
		return &ValidationError{Field: "entry_price", Detail: "must be positive"}
	}
	if sig.StopLoss <= 0 {
		return &ValidationError{Field: "stop_loss", Detail: "must be positive"}
	}
	if sig.TakeProfit <= 0 {
		return &ValidationError{Field: "take_profit", Detail: "must be positive"}
	}

	switch sig.Action {
	case ActionLong:
		if sig.StopLoss >= sig.EntryPrice {
			return &ValidationError{Field: "stop_loss", Detail: "must be below entry for LONG"}
		}
		if sig.TakeProfit <= sig.EntryPrice {
			return &ValidationError{Field: "take_profit", Detail: "must be above entry for LONG"}
		}
	case ActionShort:
		if sig.StopLoss <= sig.EntryPrice {
			return &ValidationError{Field: "stop_loss", Detail: "must be above entry for SHORT"}
		}
		if sig.TakeProfit >= sig.EntryPrice {
			return &ValidationError{Field: "take_profit", Detail: "must be below entry for SHORT"}
		}
	}
	return nil
}
