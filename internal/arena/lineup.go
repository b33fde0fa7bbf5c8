package arena

import (
	"fmt"

	"solana-momentum-bot-go/internal/models"
)

// Lineup returns the named indicator configurations built on base.
func Lineup(base models.StrategyParams) []models.StrategyConfig {
	with := func(name string, w models.IndicatorWeights, tweak func(p *models.StrategyParams)) models.StrategyConfig {
		p := base
		p.Weights = w
		if tweak != nil {
			tweak(&p)
		}
		return models.StrategyConfig{Name: name, Params: p}
	}
	return []models.StrategyConfig{
		with("rsi_volume_trend", models.IndicatorWeights{RSI: 0.4, Volume: 0.3, Trend: 0.3}, nil),
		with("rsi_focus", models.IndicatorWeights{RSI: 0.7, Volume: 0.15, Trend: 0.15}, nil),
		with("macd_trend", models.IndicatorWeights{MACD: 0.5, Trend: 0.5}, nil),
		with("bollinger_volume", models.IndicatorWeights{Bollinger: 0.5, Volume: 0.5}, nil),
		with("volume_breakout", models.IndicatorWeights{Volume: 0.6, Trend: 0.4}, func(p *models.StrategyParams) {
			p.VolumeMultiplier = 2.0
		}),
		with("ema_cross", models.IndicatorWeights{EMACross: 0.6, Trend: 0.4}, nil),
		with("balanced", models.IndicatorWeights{RSI: 1, Volume: 1, Trend: 1, MACD: 1, Bollinger: 1, EMACross: 1}, nil),
	}
}

// Select returns the lineup entries with the given names, in the given order.
func Select(lineup []models.StrategyConfig, names ...string) ([]models.StrategyConfig, error) {
	if len(names) == 0 {
		return lineup, nil
	}
	byName := make(map[string]models.StrategyConfig, len(lineup))
	for _, c := range lineup {
		byName[c.Name] = c
	}
	out := make([]models.StrategyConfig, 0, len(names))
	for _, n := range names {
		c, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("unknown indicator configuration %q", n)
		}
		out = append(out, c)
	}
	return out, nil
}
