// Package signal turns a token's history window, the market regime and the
// active strategy parameters into an entry/exit decision.
package signal

import (
	"solana-momentum-bot-go/internal/indicators"
	"solana-momentum-bot-go/internal/models"
)

// Levels returns the stop-loss and take-profit prices for an entry.
func Levels(entryPrice float64, p models.StrategyParams) (stopLoss, takeProfit float64) {
	return entryPrice * (1 - p.StopLossPct), entryPrice * (1 + p.TakeProfitPct)
}

// CheckStops tests a held position against its stop-loss and take-profit over a
// price range. The stop wins when both are touched in the same range.
func CheckStops(pos models.Position, low, high float64) (reason string, price float64, hit bool) {
	if pos.StopLoss > 0 && low <= pos.StopLoss {
		return models.ReasonStopLoss, pos.StopLoss, true
	}
	if pos.TakeProfit > 0 && high >= pos.TakeProfit {
		return models.ReasonTakeProfit, pos.TakeProfit, true
	}
	return "", 0, false
}

// Evaluate produces the signal for one token. pos is nil when the token has no
// active position. The result depends only on the arguments.
func Evaluate(token string, window []models.Candle, regime models.Regime, p models.StrategyParams, pos *models.Position) models.Signal {
	sig := models.Signal{Token: token, Regime: regime, Decision: models.DecisionHold}
	if len(window) == 0 {
		sig.Reason = "no-data"
		return sig
	}
	last := window[len(window)-1]
	sig.Timestamp = last.Time
	sig.Price = last.Close

	warm := len(window) >= p.WarmUp()
	if warm {
		sig.Score = indicators.Composite(window, p).Score
	}

	if pos != nil {
		if pos.State != models.StateOpen {
			// pending and liquidating positions are driven by the state machine
			sig.Reason = string(pos.State)
			return sig
		}
		if reason, _, hit := CheckStops(*pos, last.Close, last.Close); hit {
			sig.Decision = models.DecisionExit
			sig.Reason = reason
			return sig
		}
		if warm && sig.Score < p.ExitThreshold {
			sig.Decision = models.DecisionExit
			sig.Reason = models.ReasonScore
			return sig
		}
		sig.Reason = "holding"
		return sig
	}

	switch {
	case !warm:
		sig.Reason = "warming-up"
	case sig.Score < p.EntryThreshold:
		sig.Reason = "below-entry-threshold"
	case !regime.FavorsLongs():
		sig.Reason = "regime-" + string(regime)
	default:
		sig.Decision = models.DecisionEnterLong
		sig.Reason = "momentum"
	}
	return sig
}
