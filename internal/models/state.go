package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side 定义了交易方向的类型
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// PositionState is a lifecycle state of a position.
type PositionState string

const (
	StateIdle         PositionState = "idle"
	StatePendingEntry PositionState = "pending-entry"
	StateOpen         PositionState = "open"
	StatePendingExit  PositionState = "pending-exit"
	StateLiquidating  PositionState = "liquidating"
	StateClosed       PositionState = "closed"
)

// Active reports whether the state occupies the token's single position slot.
func (s PositionState) Active() bool {
	switch s {
	case StatePendingEntry, StateOpen, StatePendingExit, StateLiquidating:
		return true
	}
	return false
}

// Holding reports whether tokens are actually held in this state.
func (s PositionState) Holding() bool {
	return s == StateOpen || s == StatePendingExit || s == StateLiquidating
}

// Position 代表一个仓位的完整生命周期记录
type Position struct {
	ID                     string        `json:"id"`
	Token                  string        `json:"token"`
	State                  PositionState `json:"state"`
	Size                   float64       `json:"size"`     // 报价货币名义价值 (USD)
	Quantity               float64       `json:"quantity"` // 持有的代币数量
	EntryPrice             float64       `json:"entry_price"`
	EntryFee               float64       `json:"entry_fee"`
	StopLoss               float64       `json:"stop_loss"`
	TakeProfit             float64       `json:"take_profit"`
	MarkPrice              float64       `json:"mark_price"`
	OpenedAt               time.Time     `json:"opened_at"`
	ExitReason             string        `json:"exit_reason,omitempty"`
	ExitAttempts           int           `json:"exit_attempts"`
	LiquidationRequestedAt time.Time     `json:"liquidation_requested_at,omitempty"`
	ExitPrice              float64       `json:"exit_price,omitempty"`
	RealizedPnL            float64       `json:"realized_pnl,omitempty"`
	ClosedAt               time.Time     `json:"closed_at,omitempty"`
	StrategyVersion        int           `json:"strategy_version"`
	UpdatedAt              time.Time     `json:"updated_at"`
}

// UnrealizedPnL 按标记价格计算的未实现盈亏 (含开仓手续费)
func (p Position) UnrealizedPnL() float64 {
	if !p.State.Holding() || p.MarkPrice <= 0 {
		return 0
	}
	return p.Quantity*p.MarkPrice - p.Size - p.EntryFee
}

// MarketValue 按标记价格计算的持仓市值
func (p Position) MarketValue() float64 {
	if !p.State.Holding() {
		return 0
	}
	price := p.MarkPrice
	if price <= 0 {
		price = p.EntryPrice
	}
	return p.Quantity * price
}

// EventKind names a ledger event.
type EventKind string

const (
	EventEntryRequested       EventKind = "entry-requested"
	EventEntryFilled          EventKind = "entry-filled"
	EventEntryFailed          EventKind = "entry-failed"
	EventExitRequested        EventKind = "exit-requested"
	EventExitFailed           EventKind = "exit-failed"
	EventExitFilled           EventKind = "exit-filled"
	EventLiquidationRequested EventKind = "liquidation-requested"
	EventLiquidationTimeout   EventKind = "liquidation-timeout"
	EventStrategyActivated    EventKind = "strategy-activated"
)

// LedgerEvent is one record of the append-only event log.
type LedgerEvent struct {
	Offset          uint64    `json:"offset"`
	Timestamp       time.Time `json:"timestamp"`
	PositionID      string    `json:"position_id,omitempty"`
	Token           string    `json:"token,omitempty"`
	Kind            EventKind `json:"kind"`
	Price           float64   `json:"price,omitempty"`
	Size            float64   `json:"size,omitempty"`
	Quantity        float64   `json:"quantity,omitempty"`
	Fee             float64   `json:"fee,omitempty"`
	StopLoss        float64   `json:"stop_loss,omitempty"`
	TakeProfit      float64   `json:"take_profit,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	StrategyVersion int       `json:"strategy_version,omitempty"`
}

// TradeStats counts closed trades.
type TradeStats struct {
	Trades int `json:"trades"`
	Wins   int `json:"wins"`
}

// WinRate returns wins/trades in [0,1].
func (s TradeStats) WinRate() float64 {
	if s.Trades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Trades)
}

// PortfolioSnapshot is derived from committed ledger entries and never mutated directly.
type PortfolioSnapshot struct {
	Offset                uint64             `json:"offset"`
	Timestamp             time.Time          `json:"timestamp"`
	Cash                  float64            `json:"cash"`
	Reserved              float64            `json:"reserved"` // notional held by pending entries
	OpenNotional          float64            `json:"open_notional"`
	Equity                float64            `json:"equity"`
	PeakEquity            float64            `json:"peak_equity"`
	Drawdown              float64            `json:"drawdown"`
	StartingCapital       float64            `json:"starting_capital"`
	RealizedPnL           float64            `json:"realized_pnl"`
	OpenPositions         int                `json:"open_positions"`
	Positions             []Position         `json:"positions"`
	ActiveStrategyVersion int                `json:"active_strategy_version"`
	Trades                TradeStats         `json:"trades"`
	VersionTrades         map[int]TradeStats `json:"version_trades,omitempty"`
}

// PositionFor returns the active position on a token, if any.
func (s PortfolioSnapshot) PositionFor(token string) (Position, bool) {
	for _, p := range s.Positions {
		if p.Token == token && p.State.Active() {
			return p, true
		}
	}
	return Position{}, false
}

// FreeCash is cash not reserved by pending entries.
func (s PortfolioSnapshot) FreeCash() float64 {
	return s.Cash - s.Reserved
}

// LedgerSnapshot is the persisted checkpoint of the ledger. Events with an
// offset above Offset are replayed on top of it at startup.
type LedgerSnapshot struct {
	Offset                uint64             `json:"offset"`
	Timestamp             time.Time          `json:"timestamp"`
	Cash                  decimal.Decimal    `json:"cash"`
	RealizedPnL           decimal.Decimal    `json:"realized_pnl"`
	StartingCapital       float64            `json:"starting_capital"`
	PeakEquity            float64            `json:"peak_equity"`
	Positions             []Position         `json:"positions"`
	Finished              []string           `json:"finished,omitempty"` // 最近结束的仓位 id, 用于识别重复成交
	ActiveStrategyVersion int                `json:"active_strategy_version"`
	Trades                TradeStats         `json:"trades"`
	VersionTrades         map[int]TradeStats `json:"version_trades,omitempty"`
}
