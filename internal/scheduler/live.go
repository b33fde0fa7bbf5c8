package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"solana-momentum-bot-go/internal/alert"
	"solana-momentum-bot-go/internal/execution"
	"solana-momentum-bot-go/internal/ids"
	"solana-momentum-bot-go/internal/models"
	"solana-momentum-bot-go/internal/regime"
	"solana-momentum-bot-go/internal/risk"
	"solana-momentum-bot-go/internal/signal"

	"golang.org/x/sync/errgroup"
)

// RunLiveCycle refreshes every token, updates the regime, evaluates signals
// and drives pending exits and liquidations. A failure on one token skips that
// token for this cycle only. The only error that stops a cycle is a ledger
// that can no longer be trusted.
func (s *Scheduler) RunLiveCycle(ctx context.Context) error {
	if s.halted.Load() {
		return ErrHalted
	}
	s.liveMu.Lock()
	defer s.liveMu.Unlock()

	tokens := s.universe.Tokens()
	fresh := make([]bool, len(tokens))

	// 1. 刷新行情并标记持仓
	var g errgroup.Group
	g.SetLimit(s.cfg.Schedule.LiveWorkers)
	for i, t := range tokens {
		i, mint := i, t.Mint
		g.Go(func() error {
			ok, err := s.refresh(ctx, mint)
			fresh[i] = ok
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// 2. 市场状态
	state, changed := s.regime.Update(s.universe.Histories(regime.MinSamples), s.now())
	if changed {
		s.alerts.Notify(alert.KindRegimeShift, fmt.Sprintf("regime is now %s (confidence %.2f over %d tokens)",
			state.Regime, state.Confidence, state.Tokens))
	}

	// 3. 信号评估
	var eg errgroup.Group
	eg.SetLimit(s.cfg.Schedule.LiveWorkers)
	for i, t := range tokens {
		if !fresh[i] {
			continue
		}
		mint := t.Mint
		eg.Go(func() error {
			return s.evaluate(ctx, mint, state.Regime)
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	// 4. 推进待平仓与强平
	return s.drive(ctx)
}

// refresh pulls one snapshot within the token timeout. It returns false when
// the token has to sit this cycle out.
func (s *Scheduler) refresh(ctx context.Context, mint string) (bool, error) {
	tctx, cancel := context.WithTimeout(ctx, s.cfg.Schedule.TokenTimeout())
	defer cancel()

	snap, err := s.feed.GetSnapshot(tctx, mint)
	if err != nil {
		s.metrics.TokenFailures.WithLabelValues("feed").Inc()
		s.logger.Sugar().Warnf("获取 %s 行情失败, 本轮跳过: %v", s.universe.Symbol(mint), err)
		return false, nil
	}
	if snap.Token == "" {
		snap.Token = mint
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = s.now().UTC()
	}
	if snap.Price <= 0 {
		s.metrics.TokenFailures.WithLabelValues("feed").Inc()
		s.logger.Sugar().Warnf("Feed returned no price for %s, skipping this cycle.", s.universe.Symbol(mint))
		return false, nil
	}
	if err := s.universe.Observe(snap); err != nil {
		s.metrics.TokenFailures.WithLabelValues("universe").Inc()
		s.logger.Sugar().Warnf("Failed to record %s: %v", mint, err)
		return false, nil
	}

	a, err := s.risk.OnPriceUpdate(tctx, mint, snap.Price)
	if err != nil {
		if s.halt(err) {
			return false, ErrHalted
		}
		s.metrics.TokenFailures.WithLabelValues("risk").Inc()
		s.logger.Sugar().Warnf("Risk update for %s failed: %v", s.universe.Symbol(mint), err)
		return false, nil
	}
	s.report(a)
	return true, nil
}

// report turns forced liquidations into metrics and alerts.
func (s *Scheduler) report(a risk.Assessment) {
	for _, p := range a.Liquidations {
		s.metrics.Liquidations.WithLabelValues(p.ExitReason).Inc()
		s.alerts.Notify(alert.KindLiquidation, fmt.Sprintf("liquidating %s position %s (%s): %s",
			s.universe.Symbol(p.Token), p.ID, p.ExitReason, a.Reason))
	}
	if a.PortfolioStop && len(a.Liquidations) > 0 {
		s.alerts.Notify(alert.KindPortfolioStop, fmt.Sprintf("portfolio stop: %s, %d position(s) liquidating", a.Reason, len(a.Liquidations)))
	}
}

// paramsFor returns the parameters a position was opened under, falling back
// to the active version.
func (s *Scheduler) paramsFor(version int) models.StrategyParams {
	if version > 0 {
		if cfg, ok := s.registry.Get(version); ok {
			return cfg.Params
		}
	}
	return s.registry.Active().Params
}

func (s *Scheduler) evaluate(ctx context.Context, mint string, rg models.Regime) error {
	active := s.registry.Active()
	params := active.Params

	var pos *models.Position
	if p, ok := s.ledger.Snapshot().PositionFor(mint); ok {
		pos = &p
		params = s.paramsFor(p.StrategyVersion)
	} else if !s.universe.Eligible(mint) {
		return nil
	}

	sig := signal.Evaluate(mint, s.universe.History(mint, s.cfg.HistorySize), rg, params, pos)
	switch sig.Decision {
	case models.DecisionEnterLong:
		s.logger.Sugar().Infof("Entry signal for %s: score %.1f, price %.8f, regime %s.",
			s.universe.Symbol(mint), sig.Score, sig.Price, sig.Regime)
		return s.enter(ctx, mint, active.Version)
	case models.DecisionExit:
		s.logger.Sugar().Infof("Exit signal for %s position %s: %s at %.8f.",
			s.universe.Symbol(mint), pos.ID, sig.Reason, sig.Price)
		return s.requestExit(ctx, *pos, sig.Reason)
	}
	return nil
}

func (s *Scheduler) enter(ctx context.Context, mint string, version int) error {
	d, err := s.risk.ApproveEntry(ctx, mint, s.cfg.Risk.MaxPositionSizeUSD, version)
	if err != nil {
		return s.ledgerErr(err, "approve entry for "+mint)
	}
	if !d.Approved {
		s.metrics.EntryDecisions.WithLabelValues("denied").Inc()
		s.logger.Sugar().Infof("Entry for %s denied: %s", s.universe.Symbol(mint), d.Codes())
		return nil
	}
	s.metrics.EntryDecisions.WithLabelValues("approved").Inc()
	return s.executeEntry(ctx, d.Position)
}

// executeEntry submits the buy for a pending-entry position. A retry of the
// same position reuses the same idempotency key.
func (s *Scheduler) executeEntry(ctx context.Context, p models.Position) error {
	fill, err := s.submit(ctx, execution.Order{
		IdempotencyKey: ids.IdempotencyKey(p.ID, string(models.Buy), 0),
		PositionID:     p.ID,
		Token:          p.Token,
		Side:           models.Buy,
		Notional:       p.Size,
	})
	commitCtx := context.WithoutCancel(ctx)
	if err != nil {
		s.logger.Sugar().Warnf("买入 %s 失败, 仓位 %s 回到空闲: %v", s.universe.Symbol(p.Token), p.ID, err)
		_, cerr := s.ledger.Commit(commitCtx, models.LedgerEvent{
			Kind:       models.EventEntryFailed,
			PositionID: p.ID,
			Token:      p.Token,
			Reason:     err.Error(),
		})
		return s.ledgerErr(cerr, "record entry failure for "+p.ID)
	}

	stopLoss, takeProfit := signal.Levels(fill.FilledPrice, s.paramsFor(p.StrategyVersion))
	opened, err := s.ledger.Commit(commitCtx, models.LedgerEvent{
		Timestamp:  fill.Timestamp,
		Kind:       models.EventEntryFilled,
		PositionID: p.ID,
		Token:      p.Token,
		Price:      fill.FilledPrice,
		Size:       fill.Notional,
		Quantity:   fill.FilledAmount,
		Fee:        fill.Fee,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
	})
	if err != nil {
		return s.ledgerErr(err, "record entry fill for "+p.ID)
	}
	s.logger.Sugar().Infof("开仓成功 %s: %.6f @ %.8f, 止损 %.8f, 止盈 %.8f",
		s.universe.Symbol(p.Token), opened.Quantity, opened.EntryPrice, opened.StopLoss, opened.TakeProfit)
	s.alerts.Notify(alert.KindPositionOpened, fmt.Sprintf("%s: %.2f USD @ %.8f (stop %.8f, target %.8f, strategy v%d)",
		s.universe.Symbol(p.Token), opened.Size, opened.EntryPrice, opened.StopLoss, opened.TakeProfit, opened.StrategyVersion))
	return nil
}

func (s *Scheduler) requestExit(ctx context.Context, p models.Position, reason string) error {
	_, err := s.ledger.Commit(ctx, models.LedgerEvent{
		Kind:       models.EventExitRequested,
		PositionID: p.ID,
		Token:      p.Token,
		Price:      p.MarkPrice,
		Reason:     reason,
	})
	return s.ledgerErr(err, "request exit for "+p.ID)
}

// drive pushes every pending position one step further: exits are submitted,
// overdue liquidations are written off and orphaned entries are resumed.
func (s *Scheduler) drive(ctx context.Context) error {
	a, err := s.risk.CheckPortfolio(ctx)
	if err != nil {
		if s.halt(err) {
			return ErrHalted
		}
		s.logger.Sugar().Warnf("Portfolio check failed: %v", err)
	} else {
		s.report(a)
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.Schedule.LiveWorkers)
	for _, p := range s.ledger.Snapshot().Positions {
		p := p
		switch p.State {
		case models.StatePendingEntry:
			if s.risk.ShuttingDown() {
				continue
			}
			g.Go(func() error {
				s.logger.Sugar().Infof("Resuming pending entry %s on %s.", p.ID, s.universe.Symbol(p.Token))
				return s.executeEntry(ctx, p)
			})
		case models.StatePendingExit:
			g.Go(func() error { return s.exit(ctx, p) })
		case models.StateLiquidating:
			g.Go(func() error {
				if s.overdue(p) {
					return s.writeOff(ctx, p)
				}
				return s.exit(ctx, p)
			})
		}
	}
	return g.Wait()
}

func (s *Scheduler) overdue(p models.Position) bool {
	if p.LiquidationRequestedAt.IsZero() {
		return false
	}
	return s.now().Sub(p.LiquidationRequestedAt) >= s.cfg.Risk.LiquidationTimeout()
}

// exit submits one sell attempt. Each attempt has its own key; a failed
// pending exit is escalated to liquidation after MaxExitAttempts.
func (s *Scheduler) exit(ctx context.Context, p models.Position) error {
	fill, err := s.submit(ctx, execution.Order{
		IdempotencyKey: ids.IdempotencyKey(p.ID, string(models.Sell), p.ExitAttempts),
		PositionID:     p.ID,
		Token:          p.Token,
		Side:           models.Sell,
		Quantity:       p.Quantity,
	})
	commitCtx := context.WithoutCancel(ctx)
	if err != nil {
		failed, cerr := s.ledger.Commit(commitCtx, models.LedgerEvent{
			Kind:       models.EventExitFailed,
			PositionID: p.ID,
			Token:      p.Token,
			Reason:     err.Error(),
		})
		if cerr != nil {
			return s.ledgerErr(cerr, "record exit failure for "+p.ID)
		}
		s.logger.Sugar().Warnf("卖出 %s 失败 (第 %d 次): %v", s.universe.Symbol(p.Token), failed.ExitAttempts, err)
		if failed.State != models.StatePendingExit || failed.ExitAttempts < s.cfg.Risk.MaxExitAttempts {
			return nil
		}
		liq, lerr := s.risk.RequestLiquidation(commitCtx, p.ID, models.ReasonEscalation)
		if lerr != nil {
			return s.ledgerErr(lerr, "escalate exit of "+p.ID)
		}
		s.metrics.Liquidations.WithLabelValues(models.ReasonEscalation).Inc()
		s.alerts.Notify(alert.KindLiquidation, fmt.Sprintf("liquidating %s position %s after %d failed exits",
			s.universe.Symbol(p.Token), liq.ID, failed.ExitAttempts))
		return nil
	}

	closed, err := s.ledger.Commit(commitCtx, models.LedgerEvent{
		Timestamp:  fill.Timestamp,
		Kind:       models.EventExitFilled,
		PositionID: p.ID,
		Token:      p.Token,
		Price:      fill.FilledPrice,
		Quantity:   fill.FilledAmount,
		Fee:        fill.Fee,
	})
	if err != nil {
		return s.ledgerErr(err, "record exit fill for "+p.ID)
	}
	s.closed(commitCtx, closed, fill.Fee)
	return nil
}

// writeOff closes a liquidation that did not fill within the emergency
// timeout. The holding is booked at zero.
func (s *Scheduler) writeOff(ctx context.Context, p models.Position) error {
	s.logger.Sugar().Errorf("CRITICAL: %s 强平超时 (%v), 按零价值核销仓位 %s",
		s.universe.Symbol(p.Token), s.cfg.Risk.LiquidationTimeout(), p.ID)
	closed, err := s.ledger.Commit(context.WithoutCancel(ctx), models.LedgerEvent{
		Kind:       models.EventLiquidationTimeout,
		PositionID: p.ID,
		Token:      p.Token,
		Reason:     models.ReasonEmergency,
	})
	if err != nil {
		return s.ledgerErr(err, "write off "+p.ID)
	}
	s.metrics.Liquidations.WithLabelValues(models.ReasonEmergency).Inc()
	s.alerts.Notify(alert.KindLiquidation, fmt.Sprintf("liquidation of %s position %s timed out, written off at zero",
		s.universe.Symbol(p.Token), p.ID))
	s.closed(ctx, closed, 0)
	return nil
}

// closed journals a finished round trip and announces it.
func (s *Scheduler) closed(ctx context.Context, p models.Position, exitFee float64) {
	s.logger.Sugar().Infof("平仓 %s (%s): %.8f -> %.8f, 盈亏 %.4f USD",
		s.universe.Symbol(p.Token), p.ExitReason, p.EntryPrice, p.ExitPrice, p.RealizedPnL)
	s.alerts.Notify(alert.KindPositionClosed, fmt.Sprintf("%s closed (%s): %.8f -> %.8f, PnL %.2f USD",
		s.universe.Symbol(p.Token), p.ExitReason, p.EntryPrice, p.ExitPrice, p.RealizedPnL))
	if s.journal == nil {
		return
	}
	trade := models.Trade{
		Token:      p.Token,
		PositionID: p.ID,
		EntryTime:  p.OpenedAt,
		ExitTime:   p.ClosedAt,
		EntryPrice: p.EntryPrice,
		ExitPrice:  p.ExitPrice,
		Quantity:   p.Quantity,
		Size:       p.Size,
		Fees:       p.EntryFee + exitFee,
		PnL:        p.RealizedPnL,
		Reason:     p.ExitReason,
		Version:    p.StrategyVersion,
	}
	if err := s.journal.RecordTrade(ctx, trade); err != nil {
		s.logger.Sugar().Warnf("Failed to journal trade %s: %v", p.ID, err)
	}
}

// submit sends one order through the gateway. In-flight submissions are
// tracked so shutdown can wait for them; they are not cancelled with ctx.
func (s *Scheduler) submit(ctx context.Context, order execution.Order) (execution.Fill, error) {
	s.inflight.Add(1)
	defer s.inflight.Done()

	side := string(order.Side)
	start := time.Now()
	fill, err := s.gateway.Submit(context.WithoutCancel(ctx), order)
	s.metrics.SubmitLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		kind := "rejected"
		if errors.Is(err, execution.ErrExecutionTimeout) {
			kind = "timeout"
		}
		s.metrics.FillFailures.WithLabelValues(side, kind).Inc()
		return execution.Fill{}, err
	}
	s.metrics.Fills.WithLabelValues(side).Inc()
	return fill, nil
}

// ledgerErr halts on corruption and otherwise logs err without failing the cycle.
func (s *Scheduler) ledgerErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if s.halt(err) {
		return ErrHalted
	}
	s.logger.Sugar().Warnf("Failed to %s: %v", what, err)
	return nil
}
