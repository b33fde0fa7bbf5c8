// Package risk is the only component allowed to approve an order submission
// or force a liquidation. Every decision is taken on the ledger's writer
// goroutine against its latest committed snapshot.
package risk

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"solana-momentum-bot-go/internal/ids"
	"solana-momentum-bot-go/internal/ledger"
	"solana-momentum-bot-go/internal/models"

	"go.uber.org/zap"
)

// ViolationCode identifies why an entry was denied.
type ViolationCode string

const (
	ViolationPositionExists   ViolationCode = "position_exists"
	ViolationMaxPositions     ViolationCode = "max_positions"
	ViolationSizeCap          ViolationCode = "size_cap"
	ViolationPortfolioStop    ViolationCode = "portfolio_stop"
	ViolationInsufficientCash ViolationCode = "insufficient_cash"
	ViolationShuttingDown     ViolationCode = "shutting_down"
)

// Violation is one broken limit.
type Violation struct {
	Code    ViolationCode `json:"code"`
	Message string        `json:"message"`
}

// Decision is the outcome of an entry request. A denial is a normal outcome,
// not an error. Approval is all or nothing.
type Decision struct {
	Approved   bool
	Violations []Violation
	// Position is the pending-entry position committed on approval.
	Position models.Position
}

// Codes returns the violation codes joined by commas.
func (d Decision) Codes() string {
	codes := make([]string, 0, len(d.Violations))
	for _, v := range d.Violations {
		codes = append(codes, string(v.Code))
	}
	return strings.Join(codes, ",")
}

// Assessment is the outcome of a price update.
type Assessment struct {
	Snapshot      models.PortfolioSnapshot
	UnrealizedPnL float64
	PortfolioStop bool
	Reason        string
	Liquidations  []models.Position
}

// Ledger is the part of the portfolio ledger the engine needs.
type Ledger interface {
	Transact(ctx context.Context, fn ledger.TxFunc) (ledger.Result, error)
	Mark(ctx context.Context, token string, price float64) (models.PortfolioSnapshot, error)
	Snapshot() models.PortfolioSnapshot
}

// Engine enforces per-position and portfolio-wide limits.
type Engine struct {
	cfg      models.RiskConfig
	ledger   Ledger
	logger   *zap.Logger
	shutdown atomic.Bool
}

// NewEngine creates a risk engine over the ledger.
func NewEngine(cfg models.RiskConfig, l Ledger, logger *zap.Logger) *Engine {
	return &Engine{cfg: cfg, ledger: l, logger: logger}
}

// BeginShutdown makes every later entry request fail with shutting_down.
// Exits and liquidations are unaffected.
func (e *Engine) BeginShutdown() {
	e.shutdown.Store(true)
}

// ShuttingDown reports whether BeginShutdown was called.
func (e *Engine) ShuttingDown() bool {
	return e.shutdown.Load()
}

// Evaluate checks an entry of size USD on token against a snapshot. It collects
// every violation rather than stopping at the first.
func (e *Engine) Evaluate(snap models.PortfolioSnapshot, token string, size float64) Decision {
	var d Decision
	deny := func(code ViolationCode, format string, args ...any) {
		d.Violations = append(d.Violations, Violation{Code: code, Message: fmt.Sprintf(format, args...)})
	}

	if e.shutdown.Load() {
		deny(ViolationShuttingDown, "shutdown in progress")
	}
	if p, ok := snap.PositionFor(token); ok {
		deny(ViolationPositionExists, "%s already has %s position %s", token, p.State, p.ID)
	}
	if snap.OpenPositions+1 > e.cfg.MaxOpenPositions {
		deny(ViolationMaxPositions, "%d open positions, cap is %d", snap.OpenPositions, e.cfg.MaxOpenPositions)
	}
	if size <= 0 || size > e.cfg.MaxPositionSizeUSD {
		deny(ViolationSizeCap, "size %.2f outside (0, %.2f]", size, e.cfg.MaxPositionSizeUSD)
	}
	if stopped, reason := e.PortfolioStopped(snap); stopped {
		deny(ViolationPortfolioStop, "%s", reason)
	}
	if size > snap.FreeCash() {
		deny(ViolationInsufficientCash, "size %.2f exceeds free cash %.2f", size, snap.FreeCash())
	}

	d.Approved = len(d.Violations) == 0
	return d
}

// PortfolioStopped reports whether the portfolio-level stop is breached: the
// drawdown from peak equity reached the threshold, or the loss from starting
// capital reached the absolute cap.
func (e *Engine) PortfolioStopped(snap models.PortfolioSnapshot) (bool, string) {
	if e.cfg.PortfolioStopDrawdown > 0 && snap.Drawdown+1e-12 >= e.cfg.PortfolioStopDrawdown {
		return true, fmt.Sprintf("drawdown %.2f%% reached stop %.2f%%", snap.Drawdown*100, e.cfg.PortfolioStopDrawdown*100)
	}
	if e.cfg.PortfolioStopLossUSD > 0 && snap.StartingCapital-snap.Equity >= e.cfg.PortfolioStopLossUSD {
		return true, fmt.Sprintf("loss %.2f USD reached cap %.2f USD", snap.StartingCapital-snap.Equity, e.cfg.PortfolioStopLossUSD)
	}
	return false, ""
}

// ApproveEntry decides an entry and, when approved, commits the pending-entry
// position in the same ledger transaction so concurrent requests cannot spend
// the same capital twice.
func (e *Engine) ApproveEntry(ctx context.Context, token string, size float64, strategyVersion int) (Decision, error) {
	var d Decision
	res, err := e.ledger.Transact(ctx, func(snap models.PortfolioSnapshot) ([]models.LedgerEvent, error) {
		d = e.Evaluate(snap, token, size)
		if !d.Approved {
			return nil, nil
		}
		return []models.LedgerEvent{{
			Kind:            models.EventEntryRequested,
			PositionID:      ids.PositionID(),
			Token:           token,
			Size:            size,
			StrategyVersion: strategyVersion,
		}}, nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("approve entry %s: %w", token, err)
	}
	if d.Approved && len(res.Positions) > 0 {
		d.Position = res.Positions[0]
	}
	if !d.Approved {
		e.logger.Sugar().Debugf("Entry denied for %s: %s", token, d.Codes())
	}
	return d, nil
}

// OnPriceUpdate marks the token's position to price and enforces the stops. A
// breached portfolio stop requests liquidation of every holding position; a
// position past its hard stop is liquidated on its own.
func (e *Engine) OnPriceUpdate(ctx context.Context, token string, price float64) (Assessment, error) {
	if _, err := e.ledger.Mark(ctx, token, price); err != nil {
		return Assessment{}, fmt.Errorf("mark %s: %w", token, err)
	}
	return e.enforce(ctx, token)
}

// CheckPortfolio enforces the portfolio stop against the latest snapshot.
func (e *Engine) CheckPortfolio(ctx context.Context) (Assessment, error) {
	return e.enforce(ctx, "")
}

func (e *Engine) enforce(ctx context.Context, token string) (Assessment, error) {
	var a Assessment
	res, err := e.ledger.Transact(ctx, func(snap models.PortfolioSnapshot) ([]models.LedgerEvent, error) {
		a = Assessment{}
		if token != "" {
			if p, ok := snap.PositionFor(token); ok {
				a.UnrealizedPnL = p.UnrealizedPnL()
			}
		}

		if stopped, reason := e.PortfolioStopped(snap); stopped {
			a.PortfolioStop = true
			a.Reason = reason
			var events []models.LedgerEvent
			for _, p := range snap.Positions {
				if p.State == models.StateOpen || p.State == models.StatePendingExit {
					events = append(events, liquidation(p, models.ReasonPortfolio))
				}
			}
			return events, nil
		}

		if token == "" {
			return nil, nil
		}
		p, ok := snap.PositionFor(token)
		if !ok || (p.State != models.StateOpen && p.State != models.StatePendingExit) {
			return nil, nil
		}
		if e.cfg.PositionHardStopPct > 0 && p.EntryPrice > 0 && p.MarkPrice > 0 {
			loss := (p.EntryPrice - p.MarkPrice) / p.EntryPrice
			if loss >= e.cfg.PositionHardStopPct {
				a.Reason = fmt.Sprintf("position loss %.2f%% reached hard stop %.2f%%", loss*100, e.cfg.PositionHardStopPct*100)
				return []models.LedgerEvent{liquidation(p, models.ReasonHardStop)}, nil
			}
		}
		return nil, nil
	})
	if err != nil {
		return Assessment{}, fmt.Errorf("enforce limits: %w", err)
	}
	a.Snapshot = res.Snapshot
	a.Liquidations = res.Positions
	if len(a.Liquidations) > 0 {
		e.logger.Sugar().Warnf("Forced liquidation of %d position(s): %s", len(a.Liquidations), a.Reason)
	}
	return a, nil
}

// RequestLiquidation forces one position into liquidation, e.g. after its exit
// failed too many times.
func (e *Engine) RequestLiquidation(ctx context.Context, positionID, reason string) (models.Position, error) {
	res, err := e.ledger.Transact(ctx, func(snap models.PortfolioSnapshot) ([]models.LedgerEvent, error) {
		for _, p := range snap.Positions {
			if p.ID != positionID {
				continue
			}
			if p.State == models.StateLiquidating {
				return nil, nil
			}
			return []models.LedgerEvent{liquidation(p, reason)}, nil
		}
		return nil, fmt.Errorf("position %s is not active", positionID)
	})
	if err != nil {
		return models.Position{}, err
	}
	if len(res.Positions) == 0 {
		for _, p := range res.Snapshot.Positions {
			if p.ID == positionID {
				return p, nil
			}
		}
		return models.Position{}, nil
	}
	return res.Positions[0], nil
}

func liquidation(p models.Position, reason string) models.LedgerEvent {
	return models.LedgerEvent{
		Kind:       models.EventLiquidationRequested,
		PositionID: p.ID,
		Token:      p.Token,
		Price:      p.MarkPrice,
		Reason:     reason,
	}
}
