// Package backtest replays historical candles through the signal evaluator
// with the live fee and slippage model. Runs are deterministic.
package backtest

import (
	"solana-momentum-bot-go/internal/execution"
	"solana-momentum-bot-go/internal/models"
	"solana-momentum-bot-go/internal/signal"
)

// Options are the portfolio rules applied during replay.
type Options struct {
	StartingCapital  float64
	PositionSize     float64
	MaxOpenPositions int
	MinLiquidity     float64
	Fees             execution.FeeModel
}

// OptionsFromConfig takes the replay rules from the live configuration.
func OptionsFromConfig(cfg *models.Config) Options {
	return Options{
		StartingCapital:  cfg.Risk.StartingCapitalUSD,
		PositionSize:     cfg.Risk.MaxPositionSizeUSD,
		MaxOpenPositions: cfg.Risk.MaxOpenPositions,
		MinLiquidity:     cfg.MinLiquidityUSD,
		Fees:             execution.NewFeeModel(cfg.Fees),
	}
}

// Engine runs strategies over datasets. It holds no mutable state.
type Engine struct {
	opts Options
}

// NewEngine creates an engine.
func NewEngine(opts Options) *Engine {
	return &Engine{opts: opts}
}

type openPosition struct {
	pos   models.Position
	entry models.Trade
}

// run is the mutable state of a single replay.
type run struct {
	opts   Options
	tokens []string
	cash   float64
	open   map[string]*openPosition
	last   map[string]float64
	trades []models.Trade
	curve  []float64
}

// Run replays strategy over ds. The same inputs always give the same result.
func (e *Engine) Run(strategy models.StrategyConfig, ds *Dataset) models.BacktestResult {
	r := &run{
		opts:   e.opts,
		tokens: ds.Tokens,
		cash:   e.opts.StartingCapital,
		open:   make(map[string]*openPosition),
		last:   make(map[string]float64),
	}
	p := strategy.Params

	cursor := make(map[string]int, len(ds.Tokens))
	for i, t := range ds.timeline {
		reg := ds.regimes[i]
		for _, token := range ds.Tokens {
			series := ds.series[token]
			start := cursor[token]
			j := start
			for j < len(series) && !series[j].Time.After(t) {
				j++
			}
			if j == start {
				continue
			}
			cursor[token] = j
			j--
			c := series[j]
			r.last[token] = c.Close

			if op, ok := r.open[token]; ok {
				// stops first, on the candle's range
				if reason, price, hit := signal.CheckStops(op.pos, c.Low, c.High); hit {
					r.exit(token, price, c, reason)
					continue
				}
				sig := signal.Evaluate(token, ds.window(token, j+1), reg, p, &op.pos)
				if sig.Decision == models.DecisionExit {
					r.exit(token, c.Close, c, sig.Reason)
				}
				continue
			}

			if len(r.open) >= r.opts.MaxOpenPositions {
				continue
			}
			if r.opts.MinLiquidity > 0 && c.Liquidity > 0 && c.Liquidity < r.opts.MinLiquidity {
				continue
			}
			sig := signal.Evaluate(token, ds.window(token, j+1), reg, p, nil)
			if sig.Decision == models.DecisionEnterLong {
				r.enter(token, c, p, strategy.Version)
			}
		}
		r.curve = append(r.curve, r.equity())
	}

	// whatever is still open is closed at the last seen price
	for _, token := range ds.Tokens {
		if _, ok := r.open[token]; ok {
			series := ds.series[token]
			r.exit(token, r.last[token], series[len(series)-1], models.ReasonEndOfSample)
		}
	}
	if len(r.curve) > 0 {
		r.curve[len(r.curve)-1] = r.equity()
	}

	start, end := ds.Span()
	return models.BacktestResult{
		StrategyName:    strategy.Name,
		StrategyVersion: strategy.Version,
		BacktestMetrics: ComputeMetrics(r.trades, r.curve),
		SampleStart:     start,
		SampleEnd:       end,
		Candles:         ds.Candles(),
		Series:          len(ds.Tokens),
		Trades:          r.trades,
		EquityCurve:     r.curve,
	}
}

func (r *run) enter(token string, c models.Candle, p models.StrategyParams, version int) {
	size := r.opts.PositionSize
	if size <= 0 || c.Close <= 0 {
		return
	}
	price, qty, fee := r.opts.Fees.Buy(c.Close, size)
	if size+fee > r.cash || qty <= 0 {
		return
	}
	r.cash -= size + fee

	sl, tp := signal.Levels(price, p)
	r.open[token] = &openPosition{
		pos: models.Position{
			Token:      token,
			State:      models.StateOpen,
			Size:       size,
			Quantity:   qty,
			EntryPrice: price,
			EntryFee:   fee,
			StopLoss:   sl,
			TakeProfit: tp,
			MarkPrice:  c.Close,
			OpenedAt:   c.Time,
		},
		entry: models.Trade{
			Token:      token,
			EntryTime:  c.Time,
			EntryPrice: price,
			Quantity:   qty,
			Size:       size,
			Fees:       fee,
			Version:    version,
		},
	}
}

func (r *run) exit(token string, quote float64, c models.Candle, reason string) {
	op := r.open[token]
	delete(r.open, token)

	price, gross, fee := r.opts.Fees.Sell(quote, op.pos.Quantity)
	r.cash += gross - fee

	t := op.entry
	t.ExitTime = c.Time
	t.ExitPrice = price
	t.Fees += fee
	t.PnL = gross - fee - op.pos.Size - op.pos.EntryFee
	t.Reason = reason
	r.trades = append(r.trades, t)
}

func (r *run) equity() float64 {
	eq := r.cash
	for _, token := range r.tokens {
		if op, ok := r.open[token]; ok {
			eq += op.pos.Quantity * r.last[token]
		}
	}
	return eq
}
