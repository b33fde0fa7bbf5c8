// Package ledger is the portfolio's durable source of truth. All writes go
// through one goroutine; every event is persisted before it is applied.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"solana-momentum-bot-go/internal/models"
	"solana-momentum-bot-go/internal/persistence"
	"solana-momentum-bot-go/internal/position"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrPersistenceCorruption is fatal: the ledger cannot be trusted and no
	// further trading decisions may be made from it.
	ErrPersistenceCorruption = errors.New("persistence corruption")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("ledger closed")
)

// TxFunc inspects the latest committed snapshot and returns the events to commit.
// Returning no events commits nothing.
type TxFunc func(snap models.PortfolioSnapshot) ([]models.LedgerEvent, error)

// Result is the outcome of a committed transaction.
type Result struct {
	Snapshot  models.PortfolioSnapshot
	Events    []models.LedgerEvent // as committed, with offsets
	Positions []models.Position    // position state after each event
}

type requestKind int

const (
	txRequest requestKind = iota
	markRequest
	checkpointRequest
)

type request struct {
	kind  requestKind
	fn    TxFunc
	token string
	price float64
	reply chan response
}

type response struct {
	result Result
	err    error
}

// Options configures a Ledger.
type Options struct {
	StartingCapital float64
	SnapshotEvery   int
	Now             func() time.Time
}

// Ledger owns positions, cash and the equity curve.
type Ledger struct {
	store  persistence.EventStore
	logger *zap.Logger
	opts   Options

	requests        chan request
	persistenceChan chan *models.LedgerSnapshot
	stopChan        chan struct{}
	loopDone        chan struct{}
	wg              sync.WaitGroup
	closeOnce       sync.Once
	closed          atomic.Bool

	latest atomic.Pointer[models.PortfolioSnapshot]
	fatal  atomic.Pointer[error]

	// owned by the event loop after Open returns
	book          *position.Book
	cash          decimal.Decimal
	realized      decimal.Decimal
	peak          float64
	offset        uint64
	sinceSnapshot int
	activeVersion int
	trades        models.TradeStats
	versionTrades map[int]models.TradeStats
}

// Open loads the snapshot, replays the event log written after it and starts
// the ledger's loops. A log that cannot be replayed cleanly returns
// ErrPersistenceCorruption.
func Open(store persistence.EventStore, opts Options, logger *zap.Logger) (*Ledger, error) {
	if opts.SnapshotEvery <= 0 {
		opts.SnapshotEvery = 50
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l := &Ledger{
		store:           store,
		logger:          logger,
		opts:            opts,
		requests:        make(chan request, 256),
		persistenceChan: make(chan *models.LedgerSnapshot, 16),
		stopChan:        make(chan struct{}),
		loopDone:        make(chan struct{}),
		book:            position.NewBook(),
		cash:            decimal.NewFromFloat(opts.StartingCapital),
		peak:            opts.StartingCapital,
		versionTrades:   make(map[int]models.TradeStats),
	}

	if err := l.recover(); err != nil {
		return nil, err
	}
	l.publish()

	l.wg.Add(2)
	go l.eventLoop()
	go l.persistenceLoop()
	l.logger.Sugar().Infof("Ledger opened at offset %d with %d active positions.", l.offset, l.book.Len())
	return l, nil
}

func (l *Ledger) recover() error {
	snap, err := l.store.LoadSnapshot()
	if err != nil {
		return fmt.Errorf("%w: load snapshot: %v", ErrPersistenceCorruption, err)
	}
	if snap != nil {
		if err := l.book.Restore(snap.Positions, snap.Finished); err != nil {
			return fmt.Errorf("%w: restore snapshot: %v", ErrPersistenceCorruption, err)
		}
		l.offset = snap.Offset
		l.cash = snap.Cash
		l.realized = snap.RealizedPnL
		l.peak = snap.PeakEquity
		if snap.StartingCapital > 0 {
			l.opts.StartingCapital = snap.StartingCapital
		}
		l.activeVersion = snap.ActiveStrategyVersion
		l.trades = snap.Trades
		for v, s := range snap.VersionTrades {
			l.versionTrades[v] = s
		}
	}

	events, err := l.store.EventsAfter(l.offset)
	if err != nil {
		return fmt.Errorf("%w: read event log: %v", ErrPersistenceCorruption, err)
	}
	for _, ev := range events {
		if ev.Offset != l.offset+1 {
			return fmt.Errorf("%w: event log gap, expected offset %d got %d", ErrPersistenceCorruption, l.offset+1, ev.Offset)
		}
		if _, err := l.apply(ev); err != nil {
			return fmt.Errorf("%w: replay offset %d: %v", ErrPersistenceCorruption, ev.Offset, err)
		}
	}
	if len(events) > 0 {
		l.logger.Sugar().Infof("Replayed %d ledger events after snapshot offset %d.", len(events), l.offset-uint64(len(events)))
	}
	return nil
}

// Close stops the loops and writes a final snapshot.
func (l *Ledger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		close(l.stopChan)
		l.wg.Wait()
		if l.Fatal() == nil {
			err = l.store.SaveSnapshot(l.record())
		}
		l.logger.Sugar().Info("Ledger closed.")
	})
	return err
}

// Fatal returns the error that halted the ledger, if any.
func (l *Ledger) Fatal() error {
	if p := l.fatal.Load(); p != nil {
		return *p
	}
	return nil
}

// Snapshot returns the latest committed portfolio snapshot without blocking.
func (l *Ledger) Snapshot() models.PortfolioSnapshot {
	return *l.latest.Load()
}

// Transact runs fn on the writer goroutine against the latest committed
// snapshot and commits the events it returns, in order.
func (l *Ledger) Transact(ctx context.Context, fn TxFunc) (Result, error) {
	return l.send(ctx, request{kind: txRequest, fn: fn})
}

// Commit commits a single event and returns the resulting position.
func (l *Ledger) Commit(ctx context.Context, ev models.LedgerEvent) (models.Position, error) {
	res, err := l.Transact(ctx, func(models.PortfolioSnapshot) ([]models.LedgerEvent, error) {
		return []models.LedgerEvent{ev}, nil
	})
	if err != nil {
		return models.Position{}, err
	}
	if len(res.Positions) == 0 {
		return models.Position{}, nil
	}
	return res.Positions[0], nil
}

// Mark updates the mark price of the token's held position and recomputes equity.
// Marks are not persisted.
func (l *Ledger) Mark(ctx context.Context, token string, price float64) (models.PortfolioSnapshot, error) {
	res, err := l.send(ctx, request{kind: markRequest, token: token, price: price})
	return res.Snapshot, err
}

// Checkpoint synchronously writes a snapshot at the current offset.
func (l *Ledger) Checkpoint(ctx context.Context) error {
	_, err := l.send(ctx, request{kind: checkpointRequest})
	return err
}

func (l *Ledger) send(ctx context.Context, req request) (Result, error) {
	if err := l.Fatal(); err != nil {
		return Result{}, err
	}
	if l.closed.Load() {
		return Result{}, ErrClosed
	}
	req.reply = make(chan response, 1)
	select {
	case l.requests <- req:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-l.stopChan:
		return Result{}, ErrClosed
	}
	// accepted requests are always answered: the caller must learn whether
	// its events were committed
	select {
	case resp := <-req.reply:
		return resp.result, resp.err
	case <-l.loopDone:
		select {
		case resp := <-req.reply:
			return resp.result, resp.err
		default:
			return Result{}, ErrClosed
		}
	}
}

// eventLoop is the single writer: all state mutations happen here.
func (l *Ledger) eventLoop() {
	defer l.wg.Done()
	defer close(l.loopDone)
	for {
		select {
		case req := <-l.requests:
			req.reply <- l.process(req)
		case <-l.stopChan:
			// answer whatever is still queued so no caller blocks forever
			for {
				select {
				case req := <-l.requests:
					req.reply <- l.process(req)
				default:
					return
				}
			}
		}
	}
}

// persistenceLoop handles the asynchronous saving of snapshots.
func (l *Ledger) persistenceLoop() {
	defer l.wg.Done()
	for {
		select {
		case snap := <-l.persistenceChan:
			l.saveSnapshot(snap)
		case <-l.stopChan:
			for {
				select {
				case snap := <-l.persistenceChan:
					l.saveSnapshot(snap)
				default:
					return
				}
			}
		}
	}
}

func (l *Ledger) saveSnapshot(snap *models.LedgerSnapshot) {
	if err := l.store.SaveSnapshot(snap); err != nil {
		// the event log stays authoritative; a missed snapshot only lengthens replay
		l.logger.Sugar().Errorf("Failed to save ledger snapshot at offset %d: %v", snap.Offset, err)
	}
}

func (l *Ledger) process(req request) response {
	if err := l.Fatal(); err != nil {
		return response{err: err}
	}

	switch req.kind {
	case markRequest:
		if l.book.SetMark(req.token, req.price) {
			l.publish()
		}
		return response{result: Result{Snapshot: l.Snapshot()}}
	case checkpointRequest:
		if err := l.store.SaveSnapshot(l.record()); err != nil {
			return response{err: fmt.Errorf("checkpoint: %w", err)}
		}
		l.sinceSnapshot = 0
		return response{result: Result{Snapshot: l.Snapshot()}}
	}

	events, err := req.fn(l.Snapshot())
	if err != nil {
		return response{err: err}
	}

	var res Result
	for _, ev := range events {
		ev.Offset = l.offset + 1
		if ev.Timestamp.IsZero() {
			ev.Timestamp = l.opts.Now().UTC()
		}
		if err := l.check(ev); err != nil {
			if errors.Is(err, position.ErrDuplicateFill) {
				l.halt(fmt.Errorf("%w: %v", ErrPersistenceCorruption, err))
				return response{result: res, err: l.Fatal()}
			}
			l.publish()
			res.Snapshot = l.Snapshot()
			return response{result: res, err: err}
		}
		if err := l.store.AppendEvent(ev); err != nil {
			err = fmt.Errorf("append event %d: %w", ev.Offset, err)
			if isFill(ev.Kind) || errors.Is(err, persistence.ErrDuplicateEvent) {
				// a fill we cannot record means cash and holdings no longer reconcile
				l.halt(fmt.Errorf("%w: %v", ErrPersistenceCorruption, err))
				return response{result: res, err: l.Fatal()}
			}
			l.publish()
			res.Snapshot = l.Snapshot()
			return response{result: res, err: err}
		}
		p, err := l.apply(ev)
		if err != nil {
			// check passed, so this is an internal inconsistency
			l.halt(fmt.Errorf("%w: apply offset %d: %v", ErrPersistenceCorruption, ev.Offset, err))
			return response{result: res, err: l.Fatal()}
		}
		res.Events = append(res.Events, ev)
		res.Positions = append(res.Positions, p)
		l.sinceSnapshot++
	}

	l.publish()
	res.Snapshot = l.Snapshot()
	if l.sinceSnapshot >= l.opts.SnapshotEvery {
		l.sinceSnapshot = 0
		l.persistenceChan <- l.record()
	}
	return response{result: res}
}

func (l *Ledger) halt(err error) {
	l.fatal.CompareAndSwap(nil, &err)
	l.logger.Sugar().Errorf("CRITICAL: ledger halted: %v", err)
}

func isFill(kind models.EventKind) bool {
	return kind == models.EventEntryFilled || kind == models.EventExitFilled || kind == models.EventLiquidationTimeout
}

func (l *Ledger) check(ev models.LedgerEvent) error {
	if ev.Kind == models.EventStrategyActivated {
		if ev.StrategyVersion <= 0 {
			return fmt.Errorf("strategy activation without a version")
		}
		return nil
	}
	_, err := l.book.Check(ev)
	return err
}

// apply mutates the in-memory state for a committed event.
func (l *Ledger) apply(ev models.LedgerEvent) (models.Position, error) {
	if ev.Kind == models.EventStrategyActivated {
		if ev.StrategyVersion <= 0 {
			return models.Position{}, fmt.Errorf("strategy activation without a version")
		}
		l.activeVersion = ev.StrategyVersion
		l.offset = ev.Offset
		return models.Position{}, nil
	}

	p, err := l.book.Apply(ev)
	if err != nil {
		return p, err
	}
	l.offset = ev.Offset

	switch ev.Kind {
	case models.EventEntryFilled:
		spent := decimal.NewFromFloat(p.Size).Add(decimal.NewFromFloat(ev.Fee))
		l.cash = l.cash.Sub(spent)
	case models.EventExitFilled, models.EventLiquidationTimeout:
		proceeds := decimal.NewFromFloat(ev.Price).Mul(decimal.NewFromFloat(p.Quantity)).Sub(decimal.NewFromFloat(ev.Fee))
		l.cash = l.cash.Add(proceeds)
		l.realized = l.realized.Add(decimal.NewFromFloat(p.RealizedPnL))

		l.trades.Trades++
		vs := l.versionTrades[p.StrategyVersion]
		vs.Trades++
		if p.RealizedPnL > 0 {
			l.trades.Wins++
			vs.Wins++
		}
		l.versionTrades[p.StrategyVersion] = vs
	}
	l.updatePeak()
	return p, nil
}

func (l *Ledger) equity() float64 {
	eq := l.cash.InexactFloat64()
	for _, p := range l.book.Active() {
		eq += p.MarketValue()
	}
	return eq
}

func (l *Ledger) updatePeak() {
	if eq := l.equity(); eq > l.peak {
		l.peak = eq
	}
}

// publish derives a fresh PortfolioSnapshot and makes it the committed view.
func (l *Ledger) publish() {
	l.updatePeak()
	positions := l.book.Active()
	snap := models.PortfolioSnapshot{
		Offset:                l.offset,
		Timestamp:             l.opts.Now().UTC(),
		Cash:                  l.cash.InexactFloat64(),
		Equity:                l.equity(),
		PeakEquity:            l.peak,
		StartingCapital:       l.opts.StartingCapital,
		RealizedPnL:           l.realized.InexactFloat64(),
		Positions:             positions,
		ActiveStrategyVersion: l.activeVersion,
		Trades:                l.trades,
		VersionTrades:         make(map[int]models.TradeStats, len(l.versionTrades)),
	}
	for v, s := range l.versionTrades {
		snap.VersionTrades[v] = s
	}
	for _, p := range positions {
		snap.OpenPositions++
		if p.State == models.StatePendingEntry {
			snap.Reserved += p.Size
		} else {
			snap.OpenNotional += p.Size
		}
	}
	if snap.PeakEquity > 0 && snap.Equity < snap.PeakEquity {
		snap.Drawdown = (snap.PeakEquity - snap.Equity) / snap.PeakEquity
	}
	l.latest.Store(&snap)
}

// record builds the persisted snapshot. Only called from the event loop or after it stopped.
func (l *Ledger) record() *models.LedgerSnapshot {
	rec := &models.LedgerSnapshot{
		Offset:                l.offset,
		Timestamp:             l.opts.Now().UTC(),
		Cash:                  l.cash,
		RealizedPnL:           l.realized,
		StartingCapital:       l.opts.StartingCapital,
		PeakEquity:            l.peak,
		Positions:             l.book.Active(),
		Finished:              l.book.Finished(),
		ActiveStrategyVersion: l.activeVersion,
		Trades:                l.trades,
		VersionTrades:         make(map[int]models.TradeStats, len(l.versionTrades)),
	}
	for v, s := range l.versionTrades {
		rec.VersionTrades[v] = s
	}
	return rec
}
