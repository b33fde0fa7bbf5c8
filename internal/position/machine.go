// Package position holds the position lifecycle rules and the book of active
// positions they are applied to.
package position

import (
	"errors"
	"fmt"

	"solana-momentum-bot-go/internal/models"
)

var (
	// ErrInvalidTransition means the event is not legal in the position's current state.
	ErrInvalidTransition = errors.New("invalid position transition")
	// ErrDuplicateFill means a fill arrived for a position that was already filled.
	ErrDuplicateFill = errors.New("duplicate fill")
	// ErrTokenBusy means the token already has an active position.
	ErrTokenBusy = errors.New("token already has an active position")
	// ErrUnknownPosition means the event references a position the book does not hold.
	ErrUnknownPosition = errors.New("unknown position")
)

// transitions lists, per event, the states it may be applied in and the state it leads to.
var transitions = map[models.EventKind]struct {
	from []models.PositionState
	to   models.PositionState
}{
	models.EventEntryRequested:       {[]models.PositionState{models.StateIdle}, models.StatePendingEntry},
	models.EventEntryFilled:          {[]models.PositionState{models.StatePendingEntry}, models.StateOpen},
	models.EventEntryFailed:          {[]models.PositionState{models.StatePendingEntry}, models.StateIdle},
	models.EventExitRequested:        {[]models.PositionState{models.StateOpen}, models.StatePendingExit},
	models.EventExitFailed:           {[]models.PositionState{models.StatePendingExit, models.StateLiquidating}, ""},
	models.EventExitFilled:           {[]models.PositionState{models.StatePendingExit, models.StateLiquidating}, models.StateClosed},
	models.EventLiquidationRequested: {[]models.PositionState{models.StateOpen, models.StatePendingExit}, models.StateLiquidating},
	models.EventLiquidationTimeout:   {[]models.PositionState{models.StateLiquidating}, models.StateClosed},
}

// CanApply reports whether an event kind is legal in the given state.
func CanApply(state models.PositionState, kind models.EventKind) bool {
	if state == "" {
		state = models.StateIdle
	}
	t, ok := transitions[kind]
	if !ok {
		return false
	}
	for _, s := range t.from {
		if s == state {
			return true
		}
	}
	return false
}

// Apply returns the position after the event. The input is not modified.
func Apply(p models.Position, ev models.LedgerEvent) (models.Position, error) {
	if p.State == "" {
		p.State = models.StateIdle
	}
	if !CanApply(p.State, ev.Kind) {
		if ev.Kind == models.EventEntryFilled && p.State.Holding() {
			return p, fmt.Errorf("%w: position %s already open", ErrDuplicateFill, p.ID)
		}
		if ev.Kind == models.EventExitFilled && p.State == models.StateClosed {
			return p, fmt.Errorf("%w: position %s already closed", ErrDuplicateFill, p.ID)
		}
		return p, fmt.Errorf("%w: %s in state %s (position %s)", ErrInvalidTransition, ev.Kind, p.State, p.ID)
	}

	switch ev.Kind {
	case models.EventEntryRequested:
		p.ID = ev.PositionID
		p.Token = ev.Token
		p.Size = ev.Size
		p.StrategyVersion = ev.StrategyVersion
	case models.EventEntryFilled:
		if ev.Size > 0 {
			p.Size = ev.Size
		}
		p.EntryPrice = ev.Price
		p.MarkPrice = ev.Price
		p.Quantity = ev.Quantity
		p.EntryFee = ev.Fee
		p.StopLoss = ev.StopLoss
		p.TakeProfit = ev.TakeProfit
		p.OpenedAt = ev.Timestamp
	case models.EventExitRequested:
		p.ExitReason = ev.Reason
	case models.EventExitFailed:
		p.ExitAttempts++
	case models.EventLiquidationRequested:
		p.ExitReason = ev.Reason
		p.LiquidationRequestedAt = ev.Timestamp
	case models.EventExitFilled, models.EventLiquidationTimeout:
		proceeds := ev.Price*p.Quantity - ev.Fee
		p.ExitPrice = ev.Price
		p.RealizedPnL = proceeds - p.Size - p.EntryFee
		p.ClosedAt = ev.Timestamp
		if ev.Kind == models.EventLiquidationTimeout {
			p.ExitReason = models.ReasonEmergency
		}
	}

	if to := transitions[ev.Kind].to; to != "" {
		p.State = to
	}
	p.UpdatedAt = ev.Timestamp
	return p, nil
}
