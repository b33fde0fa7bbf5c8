// Package indicators computes momentum scoring signals from a history window.
// Every function is pure: identical input always produces identical output.
package indicators

import (
	"math"

	"solana-momentum-bot-go/internal/models"
)

// Closes extracts close prices.
func Closes(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Volumes extracts volumes.
func Volumes(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// RSI is the relative strength index over the last period price changes.
// Returns the neutral 50 when there is not enough data.
func RSI(closes []float64, period int) float64 {
	if period <= 0 || len(closes) < period+1 {
		return 50
	}
	var gains, losses float64
	for i := len(closes) - period; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}
	if losses == 0 {
		if gains == 0 {
			return 50
		}
		return 100
	}
	rs := (gains / float64(period)) / (losses / float64(period))
	return 100 - 100/(1+rs)
}

// EMA returns the exponential moving average series, seeded with the first value.
func EMA(values []float64, period int) []float64 {
	if len(values) == 0 || period <= 0 {
		return nil
	}
	k := 2.0 / float64(period+1)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

// MACD returns the latest MACD line, signal line and histogram.
func MACD(closes []float64, fast, slow, signal int) (macd, sig, hist float64) {
	if len(closes) < slow+signal {
		return 0, 0, 0
	}
	fastEMA := EMA(closes, fast)
	slowEMA := EMA(closes, slow)
	line := make([]float64, len(closes))
	for i := range closes {
		line[i] = fastEMA[i] - slowEMA[i]
	}
	signalLine := EMA(line, signal)
	macd = line[len(line)-1]
	sig = signalLine[len(signalLine)-1]
	return macd, sig, macd - sig
}

// PercentB locates the latest close within Bollinger bands (period, k standard deviations).
// 0 is the lower band, 1 the upper band.
func PercentB(closes []float64, period int, k float64) float64 {
	if period <= 1 || len(closes) < period {
		return 0.5
	}
	window := closes[len(closes)-period:]
	m := mean(window)
	variance := 0.0
	for _, v := range window {
		variance += (v - m) * (v - m)
	}
	sd := math.Sqrt(variance / float64(period))
	if sd == 0 {
		return 0.5
	}
	lower := m - k*sd
	upper := m + k*sd
	return (closes[len(closes)-1] - lower) / (upper - lower)
}

// VolumeRatio compares the latest volume with the mean of the lookback samples before it.
func VolumeRatio(volumes []float64, lookback int) float64 {
	if lookback <= 0 || len(volumes) < lookback+1 {
		return 0
	}
	avg := mean(volumes[len(volumes)-lookback-1 : len(volumes)-1])
	if avg <= 0 {
		return 0
	}
	return volumes[len(volumes)-1] / avg
}

// TrendStrength is the signed efficiency ratio over the lookback: net move divided
// by the total path length, in [-1, 1].
func TrendStrength(closes []float64, lookback int) float64 {
	if lookback <= 0 || len(closes) < lookback+1 {
		return 0
	}
	window := closes[len(closes)-lookback-1:]
	path := 0.0
	for i := 1; i < len(window); i++ {
		path += math.Abs(window[i] - window[i-1])
	}
	if path == 0 {
		return 0
	}
	return (window[len(window)-1] - window[0]) / path
}

// EMASpread is the relative distance between a fast and a slow EMA of closes.
func EMASpread(closes []float64, fast, slow int) float64 {
	if len(closes) < slow {
		return 0
	}
	f := EMA(closes, fast)
	s := EMA(closes, slow)
	last := s[len(s)-1]
	if last == 0 {
		return 0
	}
	return (f[len(f)-1] - last) / last
}

// ATR is the average true range over the last period candles.
func ATR(candles []models.Candle, period int) float64 {
	if period <= 0 || len(candles) < period+1 {
		return 0
	}
	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		c, prev := candles[i], candles[i-1]
		tr := math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prev.Close), math.Abs(c.Low-prev.Close)))
		sum += tr
	}
	return sum / float64(period)
}
