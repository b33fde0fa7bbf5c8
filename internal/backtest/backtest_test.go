package backtest

import (
	"bytes"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"solana-momentum-bot-go/internal/execution"
	"solana-momentum-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func trendOnly() models.StrategyConfig {
	return models.StrategyConfig{
		Name:    "trend",
		Version: 1,
		Params: models.StrategyParams{
			RSIPeriod: 14, RSILow: 57, RSIHigh: 63,
			VolumeMultiplier: 1.38, VolumeLookback: 20, TrendLookback: 20,
			EntryThreshold: 50, ExitThreshold: 10,
			StopLossPct: 0.15, TakeProfitPct: 0.30,
			Weights: models.IndicatorWeights{Trend: 1},
		},
	}
}

func testOptions() Options {
	return Options{
		StartingCapital:  300,
		PositionSize:     50,
		MaxOpenPositions: 3,
		Fees:             execution.FeeModel{SwapFeeRate: 0.003, SlippageRate: 0.005},
	}
}

// rising returns n candles climbing 1% per step from 1.0.
func rising(n int) []models.Candle {
	out := make([]models.Candle, n)
	price := 1.0
	for i := range out {
		out[i] = models.Candle{
			Time: t0.Add(time.Duration(i) * time.Minute), Open: price,
			High: price * 1.001, Low: price * 0.999, Close: price, Volume: 1000,
		}
		price *= 1.01
	}
	return out
}

func randomWalk(seed int64, n int) []models.Candle {
	rng := rand.New(rand.NewSource(seed))
	out := make([]models.Candle, n)
	price := 1.0
	for i := range out {
		next := price * (1 + (rng.Float64()-0.45)*0.04)
		out[i] = models.Candle{
			Time: t0.Add(time.Duration(i) * time.Minute), Open: price,
			High:  math.Max(price, next) * (1 + rng.Float64()*0.01),
			Low:   math.Min(price, next) * (1 - rng.Float64()*0.01),
			Close: next, Volume: 500 + rng.Float64()*1000,
		}
		price = next
	}
	return out
}

func TestRun_StopLossWinsOverTakeProfitOnSameCandle(t *testing.T) {
	candles := rising(60)
	last := candles[59].Close
	candles = append(candles, models.Candle{
		Time: t0.Add(60 * time.Minute), Open: last,
		High: last * 1.5, Low: last * 0.70, Close: last * 0.72, Volume: 1000,
	})
	ds := NewDataset(map[string][]models.Candle{"T": candles}, 240)

	res := NewEngine(testOptions()).Run(trendOnly(), ds)
	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]

	// the first candle with enough history for the regime is index 49
	assert.Equal(t, candles[49].Time, tr.EntryTime)
	entry := candles[49].Close * 1.005
	assert.InDelta(t, entry, tr.EntryPrice, 1e-12)
	assert.Equal(t, models.ReasonStopLoss, tr.Reason)
	assert.InDelta(t, entry*0.85*0.995, tr.ExitPrice, 1e-12)

	gross := 50 * 0.85 * 0.995
	assert.InDelta(t, gross-gross*0.003-50-0.15, tr.PnL, 1e-9)
	assert.InDelta(t, 0.15+gross*0.003, tr.Fees, 1e-9)
	assert.Equal(t, 0, res.Wins)
	assert.Equal(t, 1, res.Losses)
	assert.Greater(t, res.MaxDrawdown, 0.0)
}

func TestRun_ClosesOpenPositionsAtEndOfSample(t *testing.T) {
	ds := NewDataset(map[string][]models.Candle{"T": rising(70)}, 240)
	res := NewEngine(testOptions()).Run(trendOnly(), ds)

	require.Len(t, res.Trades, 1)
	assert.Equal(t, models.ReasonEndOfSample, res.Trades[0].Reason)
	assert.Equal(t, 1, res.Wins)
	assert.Equal(t, MaxProfitFactor, res.ProfitFactor)
	assert.Len(t, res.EquityCurve, 70)
	assert.InDelta(t, 300+res.NetPnL, res.EquityCurve[69], 1e-9)
}

func TestRun_RespectsPositionCap(t *testing.T) {
	series := map[string][]models.Candle{"A": rising(60), "B": rising(60), "C": rising(60)}
	opts := testOptions()
	opts.MaxOpenPositions = 2

	res := NewEngine(opts).Run(trendOnly(), NewDataset(series, 240))
	require.Len(t, res.Trades, 2)
	assert.Equal(t, "A", res.Trades[0].Token)
	assert.Equal(t, "B", res.Trades[1].Token)
}

func TestRun_LiquidityGate(t *testing.T) {
	candles := rising(60)
	for i := range candles {
		candles[i].Liquidity = 5000
	}
	opts := testOptions()
	opts.MinLiquidity = 1_000_000

	res := NewEngine(opts).Run(trendOnly(), NewDataset(map[string][]models.Candle{"T": candles}, 240))
	assert.Empty(t, res.Trades)
}

func TestNewDataset_DuplicateAndOutOfOrderCandles(t *testing.T) {
	candles := rising(5)
	late := candles[2]
	late.Close = 42
	shuffled := []models.Candle{candles[3], candles[0], candles[2], candles[4], late, candles[1], candles[0]}

	ds := NewDataset(map[string][]models.Candle{"T": shuffled}, 240)
	got := ds.Series("T")
	require.Len(t, got, 5)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i].Time.After(got[i-1].Time), "candle %d", i)
	}
	// the last candle seen for a timestamp wins
	assert.Equal(t, 42.0, got[2].Close)
	assert.Equal(t, 5, ds.Len())
	assert.Equal(t, 5, ds.Candles())

	// the input is left untouched
	assert.Equal(t, candles[3], shuffled[0])
}

func TestRun_DuplicateCandleDoesNotStallReplay(t *testing.T) {
	clean := rising(120)
	dup := make([]models.Candle, 0, 121)
	dup = append(dup, clean[:10]...)
	dup = append(dup, clean[9])
	dup = append(dup, clean[10:]...)

	engine := NewEngine(testOptions())
	want := engine.Run(trendOnly(), NewDataset(map[string][]models.Candle{"T": clean}, 240))
	got := engine.Run(trendOnly(), NewDataset(map[string][]models.Candle{"T": dup}, 240))

	require.NotEmpty(t, want.Trades)
	assert.Equal(t, want.Trades, got.Trades)
	assert.Equal(t, want.BacktestMetrics, got.BacktestMetrics)
	assert.Len(t, got.EquityCurve, 120)
}

func TestRun_Deterministic(t *testing.T) {
	series := map[string][]models.Candle{}
	for i, token := range []string{"A", "B", "C", "D"} {
		series[token] = randomWalk(int64(i+1), 400)
	}
	ds := NewDataset(series, 240)
	strategy := trendOnly()
	strategy.Params.Weights = models.IndicatorWeights{RSI: 0.4, Volume: 0.3, Trend: 0.3, MACD: 0.2}
	strategy.Params.EntryThreshold = 40
	strategy.Params.ExitThreshold = 25
	engine := NewEngine(testOptions())

	first := engine.Run(strategy, ds)
	second := engine.Run(strategy, ds)
	assert.Equal(t, first, second)

	// concurrent runs over the shared dataset give the same answer
	var wg sync.WaitGroup
	results := make([]models.BacktestResult, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = engine.Run(strategy, ds)
		}(i)
	}
	wg.Wait()
	for _, r := range results {
		assert.Equal(t, first, r)
	}
	assert.Equal(t, 4, first.Series)
	assert.Equal(t, 1600, first.Candles)
}

func TestComputeMetrics(t *testing.T) {
	trades := []models.Trade{{PnL: 10, Fees: 1}, {PnL: -5, Fees: 1}, {PnL: 5, Fees: 1}}
	m := ComputeMetrics(trades, []float64{100, 120, 90, 130})
	assert.Equal(t, 3, m.TradeCount)
	assert.InDelta(t, 2.0/3, m.WinRate, 1e-12)
	assert.InDelta(t, 3, m.ProfitFactor, 1e-12)
	assert.InDelta(t, 0.25, m.MaxDrawdown, 1e-12)
	assert.InDelta(t, 10, m.NetPnL, 1e-12)
	assert.InDelta(t, 3, m.TotalFees, 1e-12)

	empty := ComputeMetrics(nil, nil)
	assert.Zero(t, empty.WinRate)
	assert.Zero(t, empty.ProfitFactor)
}

func TestWriteReport(t *testing.T) {
	res := NewEngine(testOptions()).Run(trendOnly(), NewDataset(map[string][]models.Candle{"T": rising(70)}, 240))
	var buf bytes.Buffer
	WriteReport(&buf, res, 300)
	WriteTrades(&buf, res)
	out := buf.String()
	assert.Contains(t, out, "trend")
	assert.Contains(t, out, "胜率")
	assert.Contains(t, out, models.ReasonEndOfSample)
}
