// Package evolver searches for better strategy parameters and promotes them
// when they clear the bar on a large enough backtest sample.
package evolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"solana-momentum-bot-go/internal/arena"
	"solana-momentum-bot-go/internal/backtest"
	"solana-momentum-bot-go/internal/ids"
	"solana-momentum-bot-go/internal/models"

	"go.uber.org/zap"
)

// ErrConfigPromotionFailed means no candidate cleared the promotion bar. The
// incumbent stays active.
var ErrConfigPromotionFailed = errors.New("config promotion failed")

// IncumbentName labels the re-backtested active config on the leaderboard.
const IncumbentName = "incumbent"

// Registry is the versioned strategy store.
type Registry interface {
	Active() models.StrategyConfig
	Promote(cfg models.StrategyConfig) (models.StrategyConfig, error)
	Rollback() (models.StrategyConfig, error)
}

// Journal hands out generation numbers and records runs.
type Journal interface {
	NextGeneration(ctx context.Context) (int, error)
	RecordEvolutionRun(ctx context.Context, run models.EvolutionRun) error
}

// Ledger records strategy activations in the event log.
type Ledger interface {
	Commit(ctx context.Context, ev models.LedgerEvent) (models.Position, error)
}

// Runner backtests candidates over a dataset.
type Runner interface {
	Run(ctx context.Context, candidates []models.StrategyConfig, ds *backtest.Dataset) ([]arena.Entry, error)
}

// Outcome describes one evolution cycle.
type Outcome struct {
	Run         models.EvolutionRun
	Incumbent   arena.Entry
	Best        *arena.Entry // best candidate with enough trades, if any
	Promoted    *models.StrategyConfig
	Leaderboard []arena.Entry
}

// Evolver runs evolution cycles. Cycles must not overlap.
type Evolver struct {
	cfg      models.EvolutionConfig
	space    SearchSpace
	registry Registry
	runner   Runner
	journal  Journal
	ledger   Ledger
	logger   *zap.Logger
	now      func() time.Time
}

// New creates an evolver.
func New(cfg models.EvolutionConfig, registry Registry, runner Runner, journal Journal, ledger Ledger, logger *zap.Logger) *Evolver {
	return &Evolver{
		cfg:      cfg,
		space:    DefaultSearchSpace(),
		registry: registry,
		runner:   runner,
		journal:  journal,
		ledger:   ledger,
		logger:   logger,
		now:      time.Now,
	}
}

// Dominates reports whether c strictly beats inc on win rate, profit factor and
// drawdown at the same time.
func Dominates(c, inc models.BacktestMetrics) bool {
	return c.WinRate > inc.WinRate && c.ProfitFactor > inc.ProfitFactor && c.MaxDrawdown < inc.MaxDrawdown
}

// Profitable is the bar for a candidate when the incumbent traded too little
// on the dataset to be compared: a positive win rate and a profit factor
// above 1.
func Profitable(m models.BacktestMetrics) bool {
	return m.WinRate > 0 && m.ProfitFactor > 1
}

// Evolve runs one generation over ds. When nothing is promoted the returned
// error wraps ErrConfigPromotionFailed and the outcome is still filled in.
func (e *Evolver) Evolve(ctx context.Context, ds *backtest.Dataset) (Outcome, error) {
	started := e.now().UTC()
	generation, err := e.journal.NextGeneration(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("next generation: %w", err)
	}

	incumbent := e.registry.Active()
	candidates := Generate(incumbent.Params, e.space, e.cfg.Candidates, generation, e.cfg.Seed)
	baseline := incumbent
	baseline.Name = IncumbentName

	entries, err := e.runner.Run(ctx, append([]models.StrategyConfig{baseline}, candidates...), ds)
	if err != nil {
		return Outcome{}, fmt.Errorf("generation %d backtests: %w", generation, err)
	}

	out := Outcome{
		Leaderboard: entries,
		Run: models.EvolutionRun{
			RunID:            ids.RunID(),
			Generation:       generation,
			StartedAt:        started,
			Candidates:       len(candidates),
			IncumbentVersion: incumbent.Version,
		},
	}
	for i := range entries {
		if entries[i].Strategy.Name == IncumbentName {
			out.Incumbent = entries[i]
			continue
		}
		// entries are ranked, so the first with enough trades is the best
		if out.Best == nil && entries[i].Result.TradeCount >= e.cfg.MinTrades {
			out.Best = &entries[i]
		}
	}

	promoteErr := e.decide(&out)
	if promoteErr == nil {
		out.Promoted, promoteErr = e.promote(ctx, out.Best)
		if out.Promoted != nil {
			out.Run.PromotedVersion = out.Promoted.Version
		}
	}
	if promoteErr != nil {
		out.Run.Reason = promoteErr.Error()
	} else {
		out.Run.Reason = "promoted"
	}

	out.Run.FinishedAt = e.now().UTC()
	if err := e.journal.RecordEvolutionRun(ctx, out.Run); err != nil {
		e.logger.Sugar().Warnf("Failed to record evolution run %s: %v", out.Run.RunID, err)
	}
	if promoteErr != nil {
		return out, promoteErr
	}
	return out, nil
}

func (e *Evolver) decide(out *Outcome) error {
	if out.Best == nil {
		return fmt.Errorf("%w: no candidate reached %d backtest trades", ErrConfigPromotionFailed, e.cfg.MinTrades)
	}
	best, inc := out.Best.Result, out.Incumbent.Result
	out.Run.BestCandidate = out.Best.Strategy.Name
	out.Run.BestWinRate = best.WinRate
	out.Run.BestTrades = best.TradeCount
	if inc.TradeCount < e.cfg.MinTrades {
		// 现任策略样本不足, 它的指标不能作为门槛
		if !Profitable(best.BacktestMetrics) {
			return fmt.Errorf("%w: %s (win %.1f%%, pf %.2f) is not profitable and v%d has only %d backtest trades",
				ErrConfigPromotionFailed, out.Best.Strategy.Name, best.WinRate*100, best.ProfitFactor,
				out.Run.IncumbentVersion, inc.TradeCount)
		}
		return nil
	}
	if !Dominates(best.BacktestMetrics, inc.BacktestMetrics) {
		return fmt.Errorf("%w: %s (win %.1f%%, pf %.2f, dd %.2f%%) does not dominate v%d (win %.1f%%, pf %.2f, dd %.2f%%)",
			ErrConfigPromotionFailed, out.Best.Strategy.Name,
			best.WinRate*100, best.ProfitFactor, best.MaxDrawdown*100,
			out.Run.IncumbentVersion, inc.WinRate*100, inc.ProfitFactor, inc.MaxDrawdown*100)
	}
	return nil
}

func (e *Evolver) promote(ctx context.Context, best *arena.Entry) (*models.StrategyConfig, error) {
	cfg := best.Strategy
	cfg.Metrics = best.Result.BacktestMetrics
	promoted, err := e.registry.Promote(cfg)
	if err != nil {
		return nil, fmt.Errorf("promote %s: %w", cfg.Name, err)
	}
	if err := e.activate(ctx, promoted.Version, "promotion"); err != nil {
		return &promoted, err
	}
	e.logger.Sugar().Infof("Generation %d: promoted %s as v%d (win %.1f%% over %d trades).",
		promoted.Generation, promoted.Name, promoted.Version, promoted.Metrics.WinRate*100, promoted.Metrics.TradeCount)
	return &promoted, nil
}

func (e *Evolver) activate(ctx context.Context, version int, reason string) error {
	_, err := e.ledger.Commit(ctx, models.LedgerEvent{
		Timestamp:       e.now().UTC(),
		Kind:            models.EventStrategyActivated,
		StrategyVersion: version,
		Reason:          reason,
	})
	if err != nil {
		return fmt.Errorf("record activation of v%d: %w", version, err)
	}
	return nil
}

// CheckRegression rolls back the active version once its live win rate has
// fallen too far below its backtest win rate. It returns the reactivated
// version, or nil when nothing changed.
func (e *Evolver) CheckRegression(ctx context.Context, snap models.PortfolioSnapshot) (*models.StrategyConfig, error) {
	active := e.registry.Active()
	if active.Parent == 0 {
		return nil, nil
	}
	live := snap.VersionTrades[active.Version]
	if live.Trades < e.cfg.RollbackMinTrades {
		return nil, nil
	}
	if live.WinRate() >= active.Metrics.WinRate-e.cfg.RollbackTolerance {
		return nil, nil
	}

	parent, err := e.registry.Rollback()
	if err != nil {
		return nil, fmt.Errorf("rollback v%d: %w", active.Version, err)
	}
	e.logger.Sugar().Warnf("Strategy v%d live win rate %.1f%% over %d trades vs backtest %.1f%%, rolled back to v%d.",
		active.Version, live.WinRate()*100, live.Trades, active.Metrics.WinRate*100, parent.Version)
	if err := e.activate(ctx, parent.Version, "rollback"); err != nil {
		return &parent, err
	}
	return &parent, nil
}
