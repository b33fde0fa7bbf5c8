package evolver

import (
	"context"
	"errors"
	"sync"
	"testing"

	"solana-momentum-bot-go/internal/arena"
	"solana-momentum-bot-go/internal/backtest"
	"solana-momentum-bot-go/internal/config"
	"solana-momentum-bot-go/internal/models"
	"solana-momentum-bot-go/internal/persistence"
	"solana-momentum-bot-go/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedRunner returns fixed metrics per candidate name.
type scriptedRunner struct {
	metrics map[string]models.BacktestMetrics
	seen    []models.StrategyConfig
}

func (r *scriptedRunner) Run(_ context.Context, candidates []models.StrategyConfig, _ *backtest.Dataset) ([]arena.Entry, error) {
	r.seen = candidates
	entries := make([]arena.Entry, 0, len(candidates))
	for _, c := range candidates {
		m, ok := r.metrics[c.Name]
		if !ok {
			m = models.BacktestMetrics{TradeCount: 40, WinRate: 0.40, ProfitFactor: 0.9, MaxDrawdown: 0.2}
		}
		entries = append(entries, arena.Entry{Strategy: c, Result: models.BacktestResult{BacktestMetrics: m}})
	}
	arena.Rank(entries)
	return entries, nil
}

type memJournal struct {
	mu         sync.Mutex
	generation int
	runs       []models.EvolutionRun
}

func (j *memJournal) NextGeneration(context.Context) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.generation++
	return j.generation, nil
}

func (j *memJournal) RecordEvolutionRun(_ context.Context, run models.EvolutionRun) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runs = append(j.runs, run)
	return nil
}

type recordingLedger struct {
	events []models.LedgerEvent
}

func (l *recordingLedger) Commit(_ context.Context, ev models.LedgerEvent) (models.Position, error) {
	l.events = append(l.events, ev)
	return models.Position{}, nil
}

type fixture struct {
	evolver  *Evolver
	registry *strategy.Registry
	runner   *scriptedRunner
	journal  *memJournal
	ledger   *recordingLedger
}

func newFixture(t *testing.T, metrics map[string]models.BacktestMetrics) *fixture {
	t.Helper()
	repo, err := persistence.NewInMemoryRepository()
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	registry, err := strategy.Load(repo, config.DefaultStrategy(), zap.NewNop())
	require.NoError(t, err)

	f := &fixture{
		registry: registry,
		runner:   &scriptedRunner{metrics: metrics},
		journal:  &memJournal{},
		ledger:   &recordingLedger{},
	}
	cfg := models.EvolutionConfig{Candidates: 5, MinTrades: 30, Seed: 42, RollbackMinTrades: 20, RollbackTolerance: 0.15}
	f.evolver = New(cfg, registry, f.runner, f.journal, f.ledger, zap.NewNop())
	return f
}

var incumbentMetrics = models.BacktestMetrics{TradeCount: 50, WinRate: 0.55, ProfitFactor: 1.4, MaxDrawdown: 0.10}

func TestGenerate_DeterministicAndBounded(t *testing.T) {
	space := DefaultSearchSpace()
	a := Generate(config.DefaultStrategy(), space, 20, 3, 42)
	b := Generate(config.DefaultStrategy(), space, 20, 3, 42)
	other := Generate(config.DefaultStrategy(), space, 20, 4, 42)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, other)
	require.Len(t, a, 20)
	assert.Equal(t, "v3_0", a[0].Name)
	assert.Equal(t, "v3_19", a[19].Name)

	for _, c := range a {
		p := c.Params
		assert.Equal(t, 3, c.Generation)
		assert.GreaterOrEqual(t, p.RSIPeriod, 12)
		assert.LessOrEqual(t, p.RSIPeriod, 18)
		assert.GreaterOrEqual(t, p.RSILow, 52.0)
		assert.LessOrEqual(t, p.RSIHigh, 68.0)
		assert.InDelta(t, 1.6, p.VolumeMultiplier, 0.4+1e-9)
		assert.InDelta(t, 67.5, p.EntryThreshold, 12.5+1e-9)
		assert.InDelta(t, 32.5, p.ExitThreshold, 12.5+1e-9)
		assert.InDelta(t, 0.15, p.StopLossPct, 0.05+1e-9)
		assert.InDelta(t, 0.325, p.TakeProfitPct, 0.075+1e-9)
		assert.NoError(t, config.ValidateStrategy(p), c.Name)
		assert.Equal(t, config.DefaultStrategy().Weights, p.Weights)
	}
}

func TestDominates(t *testing.T) {
	inc := incumbentMetrics
	assert.True(t, Dominates(models.BacktestMetrics{WinRate: 0.6, ProfitFactor: 1.5, MaxDrawdown: 0.09}, inc))
	assert.False(t, Dominates(models.BacktestMetrics{WinRate: 0.6, ProfitFactor: 1.5, MaxDrawdown: 0.10}, inc), "equal drawdown is not strictly better")
	assert.False(t, Dominates(models.BacktestMetrics{WinRate: 0.9, ProfitFactor: 5, MaxDrawdown: 0.3}, inc))
	assert.False(t, Dominates(inc, inc))
}

func TestEvolve_PromotesDominatingCandidate(t *testing.T) {
	f := newFixture(t, map[string]models.BacktestMetrics{
		IncumbentName: incumbentMetrics,
		"v1_2":        {TradeCount: 45, WinRate: 0.62, ProfitFactor: 1.8, MaxDrawdown: 0.08},
	})

	out, err := f.evolver.Evolve(context.Background(), nil)
	require.NoError(t, err)

	require.NotNil(t, out.Promoted)
	assert.Equal(t, 2, out.Promoted.Version)
	assert.Equal(t, 1, out.Promoted.Parent)
	assert.Equal(t, "v1_2", out.Promoted.Name)
	assert.Equal(t, 0.62, out.Promoted.Metrics.WinRate)
	assert.Equal(t, 2, f.registry.Active().Version)

	// 候选集包含重新回测的现任策略
	require.Len(t, f.runner.seen, 6)
	assert.Equal(t, IncumbentName, f.runner.seen[0].Name)

	require.Len(t, f.ledger.events, 1)
	assert.Equal(t, models.EventStrategyActivated, f.ledger.events[0].Kind)
	assert.Equal(t, 2, f.ledger.events[0].StrategyVersion)

	require.Len(t, f.journal.runs, 1)
	run := f.journal.runs[0]
	assert.Equal(t, 1, run.Generation)
	assert.Equal(t, 2, run.PromotedVersion)
	assert.Equal(t, "v1_2", run.BestCandidate)
	assert.NotEmpty(t, run.RunID)
}

func TestEvolve_NeverPromotesBelowMinimumSample(t *testing.T) {
	f := newFixture(t, map[string]models.BacktestMetrics{
		IncumbentName: incumbentMetrics,
		// looks far better but only 12 trades
		"v1_0": {TradeCount: 12, WinRate: 0.95, ProfitFactor: 9, MaxDrawdown: 0.01},
	})

	out, err := f.evolver.Evolve(context.Background(), nil)
	require.ErrorIs(t, err, ErrConfigPromotionFailed)

	assert.Nil(t, out.Promoted)
	assert.Equal(t, 1, f.registry.Active().Version)
	assert.Empty(t, f.ledger.events)
	require.NotNil(t, out.Best)
	assert.NotEqual(t, "v1_0", out.Best.Strategy.Name)
	require.Len(t, f.journal.runs, 1)
	assert.Equal(t, 0, f.journal.runs[0].PromotedVersion)
	assert.Contains(t, f.journal.runs[0].Reason, "does not dominate")
}

func TestEvolve_UnderSampledIncumbentIsNotTheBar(t *testing.T) {
	f := newFixture(t, map[string]models.BacktestMetrics{
		// the active version never traded on this dataset
		IncumbentName: {TradeCount: 0},
		"v1_2":        {TradeCount: 80, WinRate: 0.75, ProfitFactor: 3.0, MaxDrawdown: 0.02},
	})

	out, err := f.evolver.Evolve(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, out.Promoted)
	assert.Equal(t, "v1_2", out.Promoted.Name)
	assert.Equal(t, 2, f.registry.Active().Version)
	require.Len(t, f.ledger.events, 1)
	assert.Equal(t, 2, f.ledger.events[0].StrategyVersion)
}

func TestEvolve_UnderSampledIncumbentStillNeedsProfitableCandidate(t *testing.T) {
	// every candidate falls back to the losing default metrics
	f := newFixture(t, map[string]models.BacktestMetrics{
		IncumbentName: {TradeCount: 5, WinRate: 0.2, ProfitFactor: 0.3, MaxDrawdown: 0.05},
	})

	out, err := f.evolver.Evolve(context.Background(), nil)
	require.ErrorIs(t, err, ErrConfigPromotionFailed)
	assert.Nil(t, out.Promoted)
	assert.Equal(t, 1, f.registry.Active().Version)
	assert.Empty(t, f.ledger.events)
	require.Len(t, f.journal.runs, 1)
	assert.Contains(t, f.journal.runs[0].Reason, "not profitable")
}

func TestProfitable(t *testing.T) {
	assert.True(t, Profitable(models.BacktestMetrics{WinRate: 0.5, ProfitFactor: 1.2}))
	assert.False(t, Profitable(models.BacktestMetrics{WinRate: 0.5, ProfitFactor: 1}))
	assert.False(t, Profitable(models.BacktestMetrics{WinRate: 0, ProfitFactor: 2}))
	assert.False(t, Profitable(models.BacktestMetrics{}))
}

func TestEvolve_RequiresDominanceOnEveryMetric(t *testing.T) {
	f := newFixture(t, map[string]models.BacktestMetrics{
		IncumbentName: incumbentMetrics,
		"v1_1":        {TradeCount: 60, WinRate: 0.70, ProfitFactor: 2.0, MaxDrawdown: 0.25},
	})

	out, err := f.evolver.Evolve(context.Background(), nil)
	require.ErrorIs(t, err, ErrConfigPromotionFailed)
	assert.Equal(t, "v1_1", out.Best.Strategy.Name)
	assert.Equal(t, 1, f.registry.Active().Version)
}

func TestEvolve_GenerationsAdvance(t *testing.T) {
	f := newFixture(t, map[string]models.BacktestMetrics{IncumbentName: incumbentMetrics})

	_, err := f.evolver.Evolve(context.Background(), nil)
	require.ErrorIs(t, err, ErrConfigPromotionFailed)
	_, err = f.evolver.Evolve(context.Background(), nil)
	require.ErrorIs(t, err, ErrConfigPromotionFailed)

	assert.Equal(t, "v2_0", f.runner.seen[1].Name)
	require.Len(t, f.journal.runs, 2)
	assert.Equal(t, 2, f.journal.runs[1].Generation)
}

type failingRunner struct{}

func (failingRunner) Run(context.Context, []models.StrategyConfig, *backtest.Dataset) ([]arena.Entry, error) {
	return nil, errors.New("worker pool closed")
}

func TestEvolve_RunnerFailureKeepsIncumbent(t *testing.T) {
	f := newFixture(t, nil)
	f.evolver.runner = failingRunner{}

	_, err := f.evolver.Evolve(context.Background(), nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrConfigPromotionFailed)
	assert.Equal(t, 1, f.registry.Active().Version)
}

func TestCheckRegression(t *testing.T) {
	f := newFixture(t, map[string]models.BacktestMetrics{
		IncumbentName: incumbentMetrics,
		"v1_2":        {TradeCount: 45, WinRate: 0.70, ProfitFactor: 1.8, MaxDrawdown: 0.08},
	})
	_, err := f.evolver.Evolve(context.Background(), nil)
	require.NoError(t, err)
	f.ledger.events = nil

	snap := func(trades, wins int) models.PortfolioSnapshot {
		return models.PortfolioSnapshot{VersionTrades: map[int]models.TradeStats{2: {Trades: trades, Wins: wins}}}
	}

	// too few live trades to judge
	got, err := f.evolver.CheckRegression(context.Background(), snap(10, 0))
	require.NoError(t, err)
	assert.Nil(t, got)

	// 60% live vs 70% backtest is within tolerance
	got, err = f.evolver.CheckRegression(context.Background(), snap(20, 12))
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 2, f.registry.Active().Version)

	// 40% live is a regression
	got, err = f.evolver.CheckRegression(context.Background(), snap(20, 8))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, got.Version)
	assert.Equal(t, 1, f.registry.Active().Version)
	require.Len(t, f.ledger.events, 1)
	assert.Equal(t, 1, f.ledger.events[0].StrategyVersion)
	assert.Equal(t, "rollback", f.ledger.events[0].Reason)

	// the baseline has nothing to fall back to
	got, err = f.evolver.CheckRegression(context.Background(), models.PortfolioSnapshot{
		VersionTrades: map[int]models.TradeStats{1: {Trades: 50, Wins: 0}},
	})
	require.NoError(t, err)
	assert.Nil(t, got)
}
