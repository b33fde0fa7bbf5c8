package scheduler

import (
	"solana-momentum-bot-go/internal/status"
)

// Record builds the status record from the latest committed state.
func (s *Scheduler) Record() status.Record {
	snap := s.ledger.Snapshot()
	rg := s.regime.Current()
	active := s.registry.Active()
	return status.Record{
		UpdatedAt:        s.now().UTC(),
		Mode:             s.cfg.Mode,
		Regime:           rg.Regime,
		RegimeConfidence: rg.Confidence,
		WinRate:          snap.Trades.WinRate(),
		ClosedTrades:     snap.Trades.Trades,
		OpenPositions:    snap.OpenPositions,
		MaxPositions:     s.cfg.Risk.MaxOpenPositions,
		Equity:           snap.Equity,
		Cash:             snap.Cash,
		Drawdown:         snap.Drawdown,
		RealizedPnL:      snap.RealizedPnL,
		ActiveStrategy: status.ActiveStrategy{
			Name:       active.Name,
			Version:    active.Version,
			Generation: active.Generation,
		},
		TopIndicators: s.Leaderboard(),
		Positions:     snap.Positions,
		Halted:        s.halted.Load(),
	}
}

// publishStatus 更新状态文件和组合指标
func (s *Scheduler) publishStatus() {
	rec := s.Record()
	s.metrics.ObservePortfolio(rec.Equity, rec.Drawdown, rec.OpenPositions)
	s.status.Publish(rec)
}
