// Package arena backtests many strategy configurations over the same data
// concurrently and ranks them.
package arena

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"solana-momentum-bot-go/internal/backtest"
	"solana-momentum-bot-go/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Entry is one ranked configuration.
type Entry struct {
	Rank     int                   `json:"rank"`
	Strategy models.StrategyConfig `json:"strategy"`
	Result   models.BacktestResult `json:"result"`
}

// Arena runs candidates on a bounded worker pool.
type Arena struct {
	engine  *backtest.Engine
	workers int
	logger  *zap.Logger
}

// New creates an arena.
func New(engine *backtest.Engine, workers int, logger *zap.Logger) *Arena {
	if workers < 1 {
		workers = 1
	}
	return &Arena{engine: engine, workers: workers, logger: logger}
}

// Run backtests every candidate over ds and returns them ranked. The dataset is
// shared read-only; each run keeps its own state.
func (a *Arena) Run(ctx context.Context, candidates []models.StrategyConfig, ds *backtest.Dataset) ([]Entry, error) {
	start := time.Now()
	entries := make([]Entry, len(candidates))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			entries[i] = Entry{Strategy: c, Result: a.engine.Run(c, ds)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("arena run: %w", err)
	}

	Rank(entries)
	a.logger.Sugar().Infof("Arena ranked %d configurations over %d candles in %v.", len(entries), ds.Candles(), time.Since(start).Round(time.Millisecond))
	return entries, nil
}

// Better reports whether a ranks above b: higher win rate, then higher profit
// factor, then lower drawdown, then name.
func Better(a, b Entry) bool {
	ra, rb := a.Result, b.Result
	if ra.WinRate != rb.WinRate {
		return ra.WinRate > rb.WinRate
	}
	if ra.ProfitFactor != rb.ProfitFactor {
		return ra.ProfitFactor > rb.ProfitFactor
	}
	if ra.MaxDrawdown != rb.MaxDrawdown {
		return ra.MaxDrawdown < rb.MaxDrawdown
	}
	return a.Strategy.Name < b.Strategy.Name
}

// Rank sorts entries best first and numbers them from 1.
func Rank(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool { return Better(entries[i], entries[j]) })
	for i := range entries {
		entries[i].Rank = i + 1
	}
}

// Top returns a summary of the first n entries.
func Top(entries []Entry, n int) []models.IndicatorRank {
	if n > len(entries) {
		n = len(entries)
	}
	out := make([]models.IndicatorRank, 0, n)
	for _, e := range entries[:n] {
		out = append(out, models.IndicatorRank{
			Rank:         e.Rank,
			Name:         e.Strategy.Name,
			Trades:       e.Result.TradeCount,
			WinRate:      e.Result.WinRate,
			ProfitFactor: e.Result.ProfitFactor,
			MaxDrawdown:  e.Result.MaxDrawdown,
			NetPnL:       e.Result.NetPnL,
		})
	}
	return out
}

// WriteLeaderboard 打印排行榜
func WriteLeaderboard(w io.Writer, entries []Entry) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("INDICATOR LEADERBOARD")
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Name", "Trades", "Win %", "PF", "Max DD %", "Net PnL"})
	for _, e := range entries {
		r := e.Result
		t.AppendRow(table.Row{
			e.Rank,
			e.Strategy.Name,
			r.TradeCount,
			fmt.Sprintf("%.1f", r.WinRate*100),
			fmt.Sprintf("%.2f", r.ProfitFactor),
			fmt.Sprintf("%.2f", r.MaxDrawdown*100),
			fmt.Sprintf("%+.2f", r.NetPnL),
		})
	}
	t.Render()
}
