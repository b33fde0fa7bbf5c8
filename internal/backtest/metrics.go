package backtest

import (
	"math"

	"solana-momentum-bot-go/internal/models"
)

// MaxProfitFactor caps the profit factor of a sample without losing trades.
const MaxProfitFactor = 100.0

// ComputeMetrics derives the performance metrics from closed trades and the
// equity curve.
func ComputeMetrics(trades []models.Trade, equityCurve []float64) models.BacktestMetrics {
	m := models.BacktestMetrics{TradeCount: len(trades)}

	var grossProfit, grossLoss float64
	for _, t := range trades {
		m.NetPnL += t.PnL
		m.TotalFees += t.Fees
		if t.PnL > 0 {
			m.Wins++
			grossProfit += t.PnL
		} else {
			m.Losses++
			grossLoss += math.Abs(t.PnL)
		}
	}

	if m.TradeCount > 0 {
		m.WinRate = float64(m.Wins) / float64(m.TradeCount)
	}
	switch {
	case grossLoss > 0:
		m.ProfitFactor = math.Min(grossProfit/grossLoss, MaxProfitFactor)
	case grossProfit > 0:
		m.ProfitFactor = MaxProfitFactor
	}

	m.MaxDrawdown = calculateMaxDrawdown(equityCurve)
	return m
}

func calculateMaxDrawdown(equityCurve []float64) float64 {
	if len(equityCurve) < 2 {
		return 0.0
	}
	peak := equityCurve[0]
	maxDrawdown := 0.0

	for _, equity := range equityCurve {
		if equity > peak {
			peak = equity
		}
		if peak <= 0 {
			continue
		}
		drawdown := (peak - equity) / peak
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}
	}
	return maxDrawdown
}
