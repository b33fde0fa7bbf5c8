package scheduler

import (
	"context"
	"errors"
	"fmt"

	"solana-momentum-bot-go/internal/alert"
	"solana-momentum-bot-go/internal/arena"
	"solana-momentum-bot-go/internal/backtest"
	"solana-momentum-bot-go/internal/evolver"
	"solana-momentum-bot-go/internal/history"
	"solana-momentum-bot-go/internal/models"
)

const leaderboardSize = 5

// RunEvolutionCycle backtests the indicator lineup for the leaderboard, runs
// one evolution generation and checks the active version for regression. It
// never touches the live cycle; a failure here leaves trading as it was.
func (s *Scheduler) RunEvolutionCycle(ctx context.Context) error {
	if s.halted.Load() {
		return ErrHalted
	}
	if !s.evolving.CompareAndSwap(false, true) {
		s.logger.Sugar().Warn("Previous evolution cycle still running, skipping.")
		return nil
	}
	defer s.evolving.Store(false)

	series := history.Merge(s.universe.Histories(s.cfg.Evolution.MinSamples), s.extra)
	if len(series) == 0 {
		s.logger.Sugar().Infof("历史数据不足 (需要 %d 个样本), 跳过本轮进化。", s.cfg.Evolution.MinSamples)
		return nil
	}
	ds := backtest.NewDataset(series, s.cfg.HistorySize)

	if s.arena != nil {
		entries, err := s.arena.Run(ctx, arena.Lineup(s.registry.Active().Params), ds)
		if err != nil {
			return fmt.Errorf("indicator arena: %w", err)
		}
		top := arena.Top(entries, leaderboardSize)
		s.leaderboard.Store(&top)
	}

	if s.evolver == nil {
		return nil
	}

	out, err := s.evolver.Evolve(ctx, ds)
	switch {
	case err == nil && out.Promoted != nil:
		s.metrics.Promotions.Inc()
		s.metrics.ActiveVersion.Set(float64(out.Promoted.Version))
		s.alerts.Notify(alert.KindPromotion, fmt.Sprintf("generation %d: %s promoted as v%d (win %.1f%%, pf %.2f, dd %.2f%% over %d trades)",
			out.Run.Generation, out.Promoted.Name, out.Promoted.Version,
			out.Promoted.Metrics.WinRate*100, out.Promoted.Metrics.ProfitFactor, out.Promoted.Metrics.MaxDrawdown*100, out.Promoted.Metrics.TradeCount))
	case errors.Is(err, evolver.ErrConfigPromotionFailed):
		s.logger.Sugar().Infof("Generation %d kept v%d: %v", out.Run.Generation, out.Run.IncumbentVersion, err)
	case err != nil:
		if s.halt(err) {
			return ErrHalted
		}
		return fmt.Errorf("evolve: %w", err)
	}

	rolled, err := s.evolver.CheckRegression(ctx, s.ledger.Snapshot())
	if err != nil {
		if s.halt(err) {
			return ErrHalted
		}
		return fmt.Errorf("regression check: %w", err)
	}
	if rolled != nil {
		s.metrics.Rollbacks.Inc()
		s.metrics.ActiveVersion.Set(float64(rolled.Version))
		s.alerts.Notify(alert.KindRollback, fmt.Sprintf("live win rate regressed, rolled back to v%d (%s)", rolled.Version, rolled.Name))
	}
	return nil
}

// Leaderboard returns the top indicators of the last evolution cycle.
func (s *Scheduler) Leaderboard() []models.IndicatorRank {
	if top := s.leaderboard.Load(); top != nil {
		return *top
	}
	return nil
}
