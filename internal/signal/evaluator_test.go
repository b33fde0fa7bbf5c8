package signal

import (
	"testing"
	"time"

	"solana-momentum-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
)

func params() models.StrategyParams {
	return models.StrategyParams{
		RSIPeriod: 14, RSILow: 57, RSIHigh: 63, VolumeMultiplier: 1.5,
		VolumeLookback: 20, TrendLookback: 20, EntryThreshold: 50, ExitThreshold: 20,
		StopLossPct: 0.15, TakeProfitPct: 0.30,
		Weights: models.IndicatorWeights{RSI: 0.4, Volume: 0.3, Trend: 0.3},
	}
}

// rising series with a volume spike on the last sample scores 60
func hot(n int) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		p := 10 + float64(i)*0.1
		out[i] = models.Candle{Time: time.Unix(int64(i), 0), Open: p, High: p, Low: p, Close: p, Volume: 100}
	}
	out[n-1].Volume = 200
	return out
}

// flat series scores RSI 50 (outside band), no volume, no trend
func cold(n int, price float64) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		out[i] = models.Candle{Time: time.Unix(int64(i), 0), Open: price, High: price, Low: price, Close: price, Volume: 100}
	}
	return out
}

func TestLevels(t *testing.T) {
	sl, tp := Levels(100, params())
	assert.InDelta(t, 85, sl, 1e-9)
	assert.InDelta(t, 130, tp, 1e-9)
}

func TestEvaluate_Entry(t *testing.T) {
	p := params()

	sig := Evaluate("T", hot(40), models.RegimeTrendingUp, p, nil)
	assert.Equal(t, models.DecisionEnterLong, sig.Decision)
	assert.Greater(t, sig.Score, p.EntryThreshold)
	assert.Equal(t, "T", sig.Token)
	assert.Equal(t, models.RegimeTrendingUp, sig.Regime)

	blocked := Evaluate("T", hot(40), models.RegimeTrendingDown, p, nil)
	assert.Equal(t, models.DecisionHold, blocked.Decision)
	assert.Equal(t, "regime-trending-down", blocked.Reason)

	unknown := Evaluate("T", hot(40), models.RegimeUnknown, p, nil)
	assert.Equal(t, models.DecisionHold, unknown.Decision)

	short := Evaluate("T", hot(5), models.RegimeTrendingUp, p, nil)
	assert.Equal(t, models.DecisionHold, short.Decision)
	assert.Equal(t, "warming-up", short.Reason)

	weak := Evaluate("T", cold(40, 10), models.RegimeTrendingUp, p, nil)
	assert.Equal(t, models.DecisionHold, weak.Decision)
	assert.Equal(t, "below-entry-threshold", weak.Reason)
}

func TestEvaluate_ExitPriority(t *testing.T) {
	p := params()
	open := &models.Position{State: models.StateOpen, StopLoss: 8.5, TakeProfit: 13}

	// price below stop and score below exit threshold: stop wins
	sig := Evaluate("T", cold(40, 8), models.RegimeTrendingUp, p, open)
	assert.Equal(t, models.DecisionExit, sig.Decision)
	assert.Equal(t, models.ReasonStopLoss, sig.Reason)

	sig = Evaluate("T", cold(40, 14), models.RegimeTrendingUp, p, open)
	assert.Equal(t, models.ReasonTakeProfit, sig.Reason)

	sig = Evaluate("T", cold(40, 10), models.RegimeTrendingUp, p, open)
	assert.Equal(t, models.DecisionExit, sig.Decision)
	assert.Equal(t, models.ReasonScore, sig.Reason)

	wide := &models.Position{State: models.StateOpen, StopLoss: 5, TakeProfit: 20}
	sig = Evaluate("T", hot(40), models.RegimeTrendingDown, p, wide)
	assert.Equal(t, models.DecisionHold, sig.Decision, "regime does not force exits")

	pending := &models.Position{State: models.StatePendingExit, StopLoss: 8.5}
	sig = Evaluate("T", cold(40, 8), models.RegimeTrendingUp, p, pending)
	assert.Equal(t, models.DecisionHold, sig.Decision)
}

func TestCheckStops_StopWinsOnWideRange(t *testing.T) {
	pos := models.Position{StopLoss: 90, TakeProfit: 120}
	reason, price, hit := CheckStops(pos, 85, 125)
	assert.True(t, hit)
	assert.Equal(t, models.ReasonStopLoss, reason)
	assert.Equal(t, 90.0, price)

	_, _, hit = CheckStops(pos, 95, 110)
	assert.False(t, hit)
}

func TestEvaluate_Deterministic(t *testing.T) {
	w := hot(60)
	a := Evaluate("T", w, models.RegimeChoppy, params(), nil)
	b := Evaluate("T", w, models.RegimeChoppy, params(), nil)
	assert.Equal(t, a, b)
}
