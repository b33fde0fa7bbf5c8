package indicators

import (
	"math"

	"solana-momentum-bot-go/internal/models"
)

// Scores holds the raw indicator values and the weighted composite score.
type Scores struct {
	RSI         float64 `json:"rsi"`
	VolumeRatio float64 `json:"volume_ratio"`
	Trend       float64 `json:"trend"`
	MACDHist    float64 `json:"macd_hist"`
	PercentB    float64 `json:"percent_b"`
	EMASpread   float64 `json:"ema_spread"`
	Score       float64 `json:"score"` // 0-100
}

// RSIComponent is 1 inside the momentum band and fades to 0 ten points outside it.
func RSIComponent(rsi, low, high float64) float64 {
	switch {
	case rsi >= low && rsi <= high:
		return 1
	case rsi < low:
		return clamp01(1 - (low-rsi)/10)
	default:
		return clamp01(1 - (rsi-high)/10)
	}
}

// VolumeComponent reaches 1 once the volume ratio hits the multiplier.
func VolumeComponent(ratio, multiplier float64) float64 {
	if multiplier <= 1 {
		return clamp01(ratio - 1)
	}
	return clamp01((ratio - 1) / (multiplier - 1))
}

// Composite scores the window with the strategy's indicator weights.
// Windows shorter than the strategy warm-up score zero.
func Composite(window []models.Candle, p models.StrategyParams) Scores {
	if len(window) < p.WarmUp() || p.Weights.Total() <= 0 {
		return Scores{RSI: 50, PercentB: 0.5}
	}
	closes := Closes(window)
	last := closes[len(closes)-1]

	s := Scores{
		RSI:         RSI(closes, p.RSIPeriod),
		VolumeRatio: VolumeRatio(Volumes(window), p.VolumeLookback),
		Trend:       TrendStrength(closes, p.TrendLookback),
		PercentB:    0.5,
	}
	w := p.Weights
	weighted := w.RSI*RSIComponent(s.RSI, p.RSILow, p.RSIHigh) +
		w.Volume*VolumeComponent(s.VolumeRatio, p.VolumeMultiplier) +
		w.Trend*clamp01(s.Trend)

	if w.MACD > 0 {
		_, _, s.MACDHist = MACD(closes, 12, 26, 9)
		if last > 0 {
			weighted += w.MACD * clamp01(0.5+s.MACDHist/last*50)
		}
	}
	if w.Bollinger > 0 {
		s.PercentB = PercentB(closes, 20, 2)
		weighted += w.Bollinger * clamp01(s.PercentB)
	}
	if w.EMACross > 0 {
		s.EMASpread = EMASpread(closes, 8, 21)
		weighted += w.EMACross * clamp01(0.5+s.EMASpread*25)
	}

	s.Score = math.Max(0, math.Min(100, 100*weighted/w.Total()))
	return s
}
