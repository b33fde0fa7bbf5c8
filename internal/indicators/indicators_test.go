package indicators

import (
	"testing"
	"time"

	"solana-momentum-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
)

func series(closes []float64, volume float64) []models.Candle {
	out := make([]models.Candle, len(closes))
	for i, c := range closes {
		out[i] = models.Candle{Time: time.Unix(int64(i*60), 0), Open: c, High: c, Low: c, Close: c, Volume: volume}
	}
	return out
}

func ramp(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func TestRSI(t *testing.T) {
	assert.Equal(t, 50.0, RSI([]float64{1, 2}, 14), "not enough data is neutral")
	assert.Equal(t, 100.0, RSI(ramp(20, 1, 1), 14))
	assert.Equal(t, 0.0, RSI(ramp(20, 100, -1), 14))
	assert.Equal(t, 50.0, RSI(ramp(20, 5, 0), 14))

	// alternating +2/-1 gives avg gain 2x avg loss
	closes := []float64{10}
	for i := 0; i < 14; i++ {
		if i%2 == 0 {
			closes = append(closes, closes[len(closes)-1]+2)
		} else {
			closes = append(closes, closes[len(closes)-1]-1)
		}
	}
	assert.InDelta(t, 100-100/(1+2.0), RSI(closes, 14), 1e-9)
}

func TestVolumeRatio(t *testing.T) {
	vols := []float64{10, 10, 10, 10, 30}
	assert.InDelta(t, 3.0, VolumeRatio(vols, 4), 1e-9)
	assert.Equal(t, 0.0, VolumeRatio(vols, 10))
	assert.Equal(t, 0.0, VolumeRatio([]float64{0, 0, 5}, 2))
}

func TestTrendStrength(t *testing.T) {
	assert.InDelta(t, 1.0, TrendStrength(ramp(30, 1, 1), 20), 1e-9)
	assert.InDelta(t, -1.0, TrendStrength(ramp(30, 100, -1), 20), 1e-9)
	assert.InDelta(t, 0.0, TrendStrength([]float64{1, 2, 1, 2, 1}, 4), 1e-9)
}

func TestPercentB(t *testing.T) {
	assert.Equal(t, 0.5, PercentB(ramp(25, 5, 0), 20, 2), "flat series sits mid-band")
	assert.Greater(t, PercentB(ramp(25, 1, 1), 20, 2), 0.5)
}

func TestEMAAndMACD(t *testing.T) {
	ema := EMA([]float64{1, 1, 1}, 3)
	assert.Equal(t, []float64{1, 1, 1}, ema)

	_, _, hist := MACD(ramp(10, 1, 1), 12, 26, 9)
	assert.Equal(t, 0.0, hist, "too short")

	macd, _, _ := MACD(ramp(60, 1, 1), 12, 26, 9)
	assert.Greater(t, macd, 0.0)
	assert.Greater(t, EMASpread(ramp(60, 1, 1), 8, 21), 0.0)
}

func TestATR(t *testing.T) {
	candles := []models.Candle{
		{High: 10, Low: 9, Close: 9.5},
		{High: 11, Low: 9, Close: 10},
		{High: 10.5, Low: 10, Close: 10.2},
	}
	assert.InDelta(t, (2.0+0.5)/2, ATR(candles, 2), 1e-9)
}

func TestComponents(t *testing.T) {
	assert.Equal(t, 1.0, RSIComponent(60, 57, 63))
	assert.InDelta(t, 0.5, RSIComponent(52, 57, 63), 1e-9)
	assert.Equal(t, 0.0, RSIComponent(80, 57, 63))

	assert.Equal(t, 1.0, VolumeComponent(2, 1.5))
	assert.InDelta(t, 0.5, VolumeComponent(1.25, 1.5), 1e-9)
	assert.Equal(t, 0.0, VolumeComponent(0.8, 1.5))
}

func params() models.StrategyParams {
	return models.StrategyParams{
		RSIPeriod: 14, RSILow: 57, RSIHigh: 63, VolumeMultiplier: 1.5,
		VolumeLookback: 20, TrendLookback: 20, EntryThreshold: 65, ExitThreshold: 30,
		StopLossPct: 0.15, TakeProfitPct: 0.3,
		Weights: models.IndicatorWeights{RSI: 0.4, Volume: 0.3, Trend: 0.3},
	}
}

func TestComposite(t *testing.T) {
	p := params()

	short := Composite(series(ramp(5, 1, 1), 100), p)
	assert.Equal(t, 0.0, short.Score)

	// steady uptrend with flat volume: RSI 100 (out of band), volume ratio 1, trend 1
	up := Composite(series(ramp(40, 1, 1), 100), p)
	assert.InDelta(t, 100*0.3/1.0, up.Score, 1e-9)
	assert.InDelta(t, 1.0, up.VolumeRatio, 1e-9)

	// same series with a volume spike on the last sample
	candles := series(ramp(40, 1, 1), 100)
	candles[len(candles)-1].Volume = 200
	spike := Composite(candles, p)
	assert.InDelta(t, 100*(0.3+0.3)/1.0, spike.Score, 1e-9)

	for _, s := range []Scores{short, up, spike} {
		assert.GreaterOrEqual(t, s.Score, 0.0)
		assert.LessOrEqual(t, s.Score, 100.0)
	}
}

func TestComposite_Deterministic(t *testing.T) {
	p := params()
	p.Weights.MACD = 0.2
	p.Weights.Bollinger = 0.1
	p.Weights.EMACross = 0.1
	candles := series(ramp(80, 10, 0.3), 50)
	assert.Equal(t, Composite(candles, p), Composite(candles, p))
}
