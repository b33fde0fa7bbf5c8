// Package scheduler drives the controller: a short live cycle that scans the
// universe and manages positions, a long evolution cycle that searches for
// better parameters, and the status and heartbeat ticks.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"solana-momentum-bot-go/internal/alert"
	"solana-momentum-bot-go/internal/arena"
	"solana-momentum-bot-go/internal/evolver"
	"solana-momentum-bot-go/internal/execution"
	"solana-momentum-bot-go/internal/feed"
	"solana-momentum-bot-go/internal/ledger"
	"solana-momentum-bot-go/internal/market"
	"solana-momentum-bot-go/internal/models"
	"solana-momentum-bot-go/internal/regime"
	"solana-momentum-bot-go/internal/risk"
	"solana-momentum-bot-go/internal/status"
	"solana-momentum-bot-go/internal/strategy"

	"go.uber.org/zap"
)

// ErrHalted is returned by cycles after the ledger refused to continue.
var ErrHalted = errors.New("scheduler halted")

// TradeJournal records closed trades.
type TradeJournal interface {
	RecordTrade(ctx context.Context, t models.Trade) error
}

// Deps are the collaborators of the scheduler.
type Deps struct {
	Config   *models.Config
	Universe *market.Universe
	Feed     feed.PriceFeed
	Gateway  execution.Gateway
	Ledger   *ledger.Ledger
	Risk     *risk.Engine
	Registry *strategy.Registry
	Regime   *regime.Detector
	Arena    *arena.Arena
	Evolver  *evolver.Evolver // nil when evolution is disabled
	Journal  TradeJournal     // optional
	Alerts   alert.Notifier   // optional
	Metrics  *status.Metrics
	Status   *status.Publisher
	// ExtraSeries are historical candles added to every evolution dataset.
	ExtraSeries map[string][]models.Candle
	Logger      *zap.Logger
}

// Scheduler owns the loops. Live cycles never overlap; neither do evolution cycles.
type Scheduler struct {
	cfg      *models.Config
	universe *market.Universe
	feed     feed.PriceFeed
	gateway  execution.Gateway
	ledger   *ledger.Ledger
	risk     *risk.Engine
	registry *strategy.Registry
	regime   *regime.Detector
	arena    *arena.Arena
	evolver  *evolver.Evolver
	journal  TradeJournal
	alerts   alert.Notifier
	metrics  *status.Metrics
	status   *status.Publisher
	extra    map[string][]models.Candle
	logger   *zap.Logger
	now      func() time.Time

	liveMu      sync.Mutex // one live cycle at a time
	evolving    atomic.Bool
	leaderboard atomic.Pointer[[]models.IndicatorRank]
	inflight    sync.WaitGroup // gateway submissions

	halted    atomic.Bool
	fatalChan chan error
	fatalOnce sync.Once

	stopChannel chan struct{}
	stopOnce    sync.Once
	cancelEvo   context.CancelFunc
	wg          sync.WaitGroup
	running     atomic.Bool
}

// New creates a scheduler.
func New(d Deps) *Scheduler {
	alerts := d.Alerts
	if alerts == nil {
		alerts = alert.Nop{}
	}
	return &Scheduler{
		cfg:         d.Config,
		universe:    d.Universe,
		feed:        d.Feed,
		gateway:     d.Gateway,
		ledger:      d.Ledger,
		risk:        d.Risk,
		registry:    d.Registry,
		regime:      d.Regime,
		arena:       d.Arena,
		evolver:     d.Evolver,
		journal:     d.Journal,
		alerts:      alerts,
		metrics:     d.Metrics,
		status:      d.Status,
		extra:       d.ExtraSeries,
		logger:      d.Logger,
		now:         time.Now,
		fatalChan:   make(chan error, 1),
		stopChannel: make(chan struct{}),
	}
}

// Fatal delivers the error that halted trading. The process should exit.
func (s *Scheduler) Fatal() <-chan error {
	return s.fatalChan
}

// Halted reports whether trading stopped on an unverifiable ledger.
func (s *Scheduler) Halted() bool {
	return s.halted.Load()
}

// Start aligns the ledger with the active strategy and launches the loops.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("scheduler already running")
	}

	active := s.registry.Active()
	if s.ledger.Snapshot().ActiveStrategyVersion != active.Version {
		if _, err := s.ledger.Commit(ctx, models.LedgerEvent{
			Kind:            models.EventStrategyActivated,
			StrategyVersion: active.Version,
			Reason:          "startup",
		}); err != nil {
			return fmt.Errorf("record active strategy: %w", err)
		}
	}
	s.metrics.ActiveVersion.Set(float64(active.Version))

	snap := s.ledger.Snapshot()
	s.logger.Sugar().Infof("控制器启动: mode=%s, tokens=%d, equity=%.2f, active positions=%d, strategy %s v%d",
		s.cfg.Mode, len(s.universe.Tokens()), snap.Equity, snap.OpenPositions, active.Name, active.Version)
	s.alerts.Notify(alert.KindStartup, fmt.Sprintf("%s mode, %d tokens, equity %.2f USD, %d active positions, strategy v%d",
		s.cfg.Mode, len(s.universe.Tokens()), snap.Equity, snap.OpenPositions, active.Version))

	evoCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancelEvo = cancel
	liveCtx := context.WithoutCancel(ctx)

	s.wg.Add(3)
	go s.liveLoop(liveCtx)
	go s.statusLoop()
	go s.heartbeatLoop()
	if s.evolver != nil || s.arena != nil {
		s.wg.Add(1)
		go s.evolutionLoop(evoCtx)
	}
	return nil
}

// Stop stops approving entries, lets the running cycles and in-flight
// submissions finish, makes a last pass over pending exits and checkpoints the
// ledger. The ledger itself is left open.
func (s *Scheduler) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		s.logger.Sugar().Info("正在停止控制器...")
		s.risk.BeginShutdown()
		close(s.stopChannel)
		if s.cancelEvo != nil {
			s.cancelEvo()
		}
	})

	timeout := s.cfg.Schedule.ShutdownTimeout()
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-waitCtx.Done():
		s.logger.Sugar().Warnf("Shutdown timeout (%v) reached with work still in flight.", timeout)
	}

	// pending exits and liquidations are not abandoned
	if !s.halted.Load() && waitCtx.Err() == nil {
		s.liveMu.Lock()
		s.drive(waitCtx)
		s.liveMu.Unlock()
	}

	s.publishStatus()
	if !s.halted.Load() {
		if err := s.ledger.Checkpoint(context.WithoutCancel(ctx)); err != nil {
			s.logger.Sugar().Errorf("Final ledger checkpoint failed: %v", err)
		}
	}
	snap := s.ledger.Snapshot()
	s.alerts.Notify(alert.KindShutdown, fmt.Sprintf("stopped with equity %.2f USD and %d active positions", snap.Equity, snap.OpenPositions))
	s.logger.Sugar().Info("控制器已停止。")
}

// halt stops trading for good when err means the ledger can no longer be trusted.
func (s *Scheduler) halt(err error) bool {
	if !errors.Is(err, ledger.ErrPersistenceCorruption) {
		return false
	}
	s.fatalOnce.Do(func() {
		s.halted.Store(true)
		s.metrics.Halted.Set(1)
		s.risk.BeginShutdown()
		s.logger.Sugar().Errorf("CRITICAL: 账本不可信, 停止交易: %v", err)
		s.alerts.Notify(alert.KindFatal, fmt.Sprintf("trading halted: %v", err))
		s.fatalChan <- err
	})
	return true
}

// liveLoop 是控制器的主循环
func (s *Scheduler) liveLoop(ctx context.Context) {
	defer s.wg.Done()
	s.runLive(ctx)

	ticker := time.NewTicker(s.cfg.Schedule.LiveInterval())
	defer ticker.Stop()
	for {
		select {
		case <-s.stopChannel:
			return
		case <-ticker.C:
			s.runLive(ctx)
		}
	}
}

func (s *Scheduler) runLive(ctx context.Context) {
	start := time.Now()
	err := s.RunLiveCycle(ctx)
	s.metrics.CycleDuration.WithLabelValues("live").Observe(time.Since(start).Seconds())
	switch {
	case err == nil:
		s.metrics.Cycles.WithLabelValues("live", "ok").Inc()
	case errors.Is(err, ErrHalted):
		s.metrics.Cycles.WithLabelValues("live", "halted").Inc()
	default:
		s.metrics.Cycles.WithLabelValues("live", "error").Inc()
		s.logger.Sugar().Errorf("Live cycle failed: %v", err)
	}
}

// evolutionLoop waits one interval before the first cycle so that live
// history can accumulate.
func (s *Scheduler) evolutionLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Schedule.EvolutionInterval())
	defer ticker.Stop()
	for {
		select {
		case <-s.stopChannel:
			return
		case <-ticker.C:
			start := time.Now()
			outcome := "ok"
			if err := s.RunEvolutionCycle(ctx); err != nil {
				outcome = "error"
				s.logger.Sugar().Errorf("Evolution cycle failed: %v", err)
			}
			s.metrics.Cycles.WithLabelValues("evolution", outcome).Inc()
			s.metrics.CycleDuration.WithLabelValues("evolution").Observe(time.Since(start).Seconds())
		}
	}
}

// statusLoop 定期写状态文件
func (s *Scheduler) statusLoop() {
	defer s.wg.Done()
	s.publishStatus()

	ticker := time.NewTicker(s.cfg.Schedule.StatusInterval())
	defer ticker.Stop()
	for {
		select {
		case <-s.stopChannel:
			return
		case <-ticker.C:
			s.publishStatus()
		}
	}
}

func (s *Scheduler) heartbeatLoop() {
	defer s.wg.Done()
	if s.cfg.Schedule.HeartbeatIntervalSec <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.Schedule.HeartbeatInterval())
	defer ticker.Stop()
	for {
		select {
		case <-s.stopChannel:
			return
		case <-ticker.C:
			snap := s.ledger.Snapshot()
			s.alerts.Notify(alert.KindHeartbeat, fmt.Sprintf("equity %.2f USD, drawdown %.2f%%, %d active positions, win rate %.1f%% over %d trades, regime %s",
				snap.Equity, snap.Drawdown*100, snap.OpenPositions, snap.Trades.WinRate()*100, snap.Trades.Trades, s.regime.Current().Regime))
		}
	}
}
