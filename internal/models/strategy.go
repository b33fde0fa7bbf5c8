package models

import "time"

// IndicatorWeights are the relative weights of each indicator in the composite score.
type IndicatorWeights struct {
	RSI       float64 `json:"rsi" yaml:"rsi"`
	Volume    float64 `json:"volume" yaml:"volume"`
	Trend     float64 `json:"trend" yaml:"trend"`
	MACD      float64 `json:"macd" yaml:"macd"`
	Bollinger float64 `json:"bollinger" yaml:"bollinger"`
	EMACross  float64 `json:"ema_cross" yaml:"ema_cross"`
}

// Total returns the sum of all weights.
func (w IndicatorWeights) Total() float64 {
	return w.RSI + w.Volume + w.Trend + w.MACD + w.Bollinger + w.EMACross
}

// StrategyParams 是 SignalEvaluator 的可调参数
type StrategyParams struct {
	RSIPeriod        int              `json:"rsi_period" yaml:"rsi_period"`
	RSILow           float64          `json:"rsi_low" yaml:"rsi_low"`
	RSIHigh          float64          `json:"rsi_high" yaml:"rsi_high"`
	VolumeMultiplier float64          `json:"volume_multiplier" yaml:"volume_multiplier"`
	VolumeLookback   int              `json:"volume_lookback" yaml:"volume_lookback"`
	TrendLookback    int              `json:"trend_lookback" yaml:"trend_lookback"`
	EntryThreshold   float64          `json:"entry_threshold" yaml:"entry_threshold"`
	ExitThreshold    float64          `json:"exit_threshold" yaml:"exit_threshold"`
	StopLossPct      float64          `json:"stop_loss_pct" yaml:"stop_loss_pct"`
	TakeProfitPct    float64          `json:"take_profit_pct" yaml:"take_profit_pct"`
	Weights          IndicatorWeights `json:"weights" yaml:"weights"`
}

// WarmUp is the minimum history length needed before the params can score.
func (p StrategyParams) WarmUp() int {
	n := p.RSIPeriod + 1
	if p.VolumeLookback+1 > n {
		n = p.VolumeLookback + 1
	}
	if p.TrendLookback+1 > n {
		n = p.TrendLookback + 1
	}
	if p.Weights.MACD > 0 && n < 35 {
		n = 35
	}
	if (p.Weights.Bollinger > 0 || p.Weights.EMACross > 0) && n < 22 {
		n = 22
	}
	return n
}

// BacktestMetrics are the performance numbers promotion decisions are based on.
type BacktestMetrics struct {
	TradeCount   int     `json:"trade_count"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate"`      // [0,1]
	ProfitFactor float64 `json:"profit_factor"` // gross profit / gross loss, capped
	MaxDrawdown  float64 `json:"max_drawdown"`  // [0,1]
	NetPnL       float64 `json:"net_pnl"`
	TotalFees    float64 `json:"total_fees"`
}

// StrategyConfig is a named, versioned, immutable parameter set.
// Version is 0 until the registry assigns one on promotion.
type StrategyConfig struct {
	Name       string          `json:"name"`
	Version    int             `json:"version"`
	Generation int             `json:"generation"`
	Parent     int             `json:"parent,omitempty"`
	Params     StrategyParams  `json:"params"`
	Metrics    BacktestMetrics `json:"metrics"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Trade is a completed round trip.
type Trade struct {
	Token      string    `json:"token"`
	PositionID string    `json:"position_id,omitempty"`
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Quantity   float64   `json:"quantity"`
	Size       float64   `json:"size"`
	Fees       float64   `json:"fees"`
	PnL        float64   `json:"pnl"`
	Reason     string    `json:"reason"`
	Version    int       `json:"strategy_version,omitempty"`
}

// BacktestResult is produced by the backtest engine and read-only afterwards.
type BacktestResult struct {
	StrategyName    string `json:"strategy_name"`
	StrategyVersion int    `json:"strategy_version"`
	BacktestMetrics `json:"metrics"`
	SampleStart     time.Time `json:"sample_start"`
	SampleEnd       time.Time `json:"sample_end"`
	Candles         int       `json:"candles"`
	Series          int       `json:"series"`
	Trades          []Trade   `json:"trades,omitempty"`
	EquityCurve     []float64 `json:"-"`
}

// IndicatorRank summarizes one arena leaderboard entry.
type IndicatorRank struct {
	Rank         int     `json:"rank"`
	Name         string  `json:"name"`
	Trades       int     `json:"trades"`
	WinRate      float64 `json:"win_rate"`
	ProfitFactor float64 `json:"profit_factor"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	NetPnL       float64 `json:"net_pnl"`
}

// EvolutionRun is the journal record of one evolution cycle.
type EvolutionRun struct {
	RunID            string    `json:"run_id"`
	Generation       int       `json:"generation"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	Candidates       int       `json:"candidates"`
	IncumbentVersion int       `json:"incumbent_version"`
	PromotedVersion  int       `json:"promoted_version,omitempty"` // 0 表示未晋升
	BestCandidate    string    `json:"best_candidate,omitempty"`
	BestWinRate      float64   `json:"best_win_rate"`
	BestTrades       int       `json:"best_trades"`
	Reason           string    `json:"reason"`
}
