package position

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"solana-momentum-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func ev(kind models.EventKind, id, token string) models.LedgerEvent {
	return models.LedgerEvent{Kind: kind, PositionID: id, Token: token, Timestamp: t0}
}

func TestApply_EntryFillLifecycle(t *testing.T) {
	b := NewBook()

	req := ev(models.EventEntryRequested, "p1", "T")
	req.Size = 50
	p, err := b.Apply(req)
	require.NoError(t, err)
	assert.Equal(t, models.StatePendingEntry, p.State)

	fill := ev(models.EventEntryFilled, "p1", "T")
	fill.Price, fill.Quantity, fill.Fee = 2, 25, 0.15
	fill.StopLoss, fill.TakeProfit = 1.7, 2.6
	p, err = b.Apply(fill)
	require.NoError(t, err)
	assert.Equal(t, models.StateOpen, p.State)
	assert.Equal(t, 25.0, p.Quantity)
	assert.Equal(t, 1.7, p.StopLoss)

	_, err = b.Apply(ev(models.EventExitRequested, "p1", "T"))
	require.NoError(t, err)

	exit := ev(models.EventExitFilled, "p1", "T")
	exit.Price, exit.Fee = 3, 0.2
	p, err = b.Apply(exit)
	require.NoError(t, err)
	assert.Equal(t, models.StateClosed, p.State)
	assert.InDelta(t, 3*25-0.2-50-0.15, p.RealizedPnL, 1e-9)
	assert.Equal(t, 0, b.Len(), "closed positions leave the book")

	// closed is terminal for the id
	_, err = b.Apply(ev(models.EventExitRequested, "p1", "T"))
	assert.ErrorIs(t, err, ErrUnknownPosition)
	_, err = b.Apply(ev(models.EventEntryRequested, "p1", "T"))
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// a new id may enter the same token
	_, err = b.Apply(ev(models.EventEntryRequested, "p2", "T"))
	assert.NoError(t, err)
}

func TestApply_EntryFailureReturnsToIdle(t *testing.T) {
	b := NewBook()
	_, err := b.Apply(ev(models.EventEntryRequested, "p1", "T"))
	require.NoError(t, err)

	p, err := b.Apply(ev(models.EventEntryFailed, "p1", "T"))
	require.NoError(t, err)
	assert.Equal(t, models.StateIdle, p.State)
	assert.Zero(t, p.Quantity)
	_, ok := b.ForToken("T")
	assert.False(t, ok, "no position is created")
}

func TestApply_DuplicateFill(t *testing.T) {
	b := NewBook()
	_, _ = b.Apply(ev(models.EventEntryRequested, "p1", "T"))
	_, err := b.Apply(ev(models.EventEntryFilled, "p1", "T"))
	require.NoError(t, err)

	_, err = b.Apply(ev(models.EventEntryFilled, "p1", "T"))
	assert.ErrorIs(t, err, ErrDuplicateFill)
}

func TestBook_RestoreRemembersFinishedPositions(t *testing.T) {
	b := NewBook()
	_, _ = b.Apply(ev(models.EventEntryRequested, "p1", "T"))
	_, _ = b.Apply(ev(models.EventEntryFilled, "p1", "T"))
	_, _ = b.Apply(ev(models.EventExitRequested, "p1", "T"))
	_, err := b.Apply(ev(models.EventExitFilled, "p1", "T"))
	require.NoError(t, err)
	require.Equal(t, []string{"p1"}, b.Finished())

	restored := NewBook()
	require.NoError(t, restored.Restore(b.Active(), b.Finished()))
	_, err = restored.Apply(ev(models.EventExitFilled, "p1", "T"))
	assert.ErrorIs(t, err, ErrDuplicateFill)
	_, err = restored.Apply(ev(models.EventEntryRequested, "p1", "T"))
	assert.ErrorIs(t, err, ErrInvalidTransition, "finished ids are never reused")
}

func TestBook_FinishedIsBounded(t *testing.T) {
	b := NewBook()
	for i := 0; i < FinishedLimit+10; i++ {
		id := fmt.Sprintf("p%05d", i)
		_, _ = b.Apply(ev(models.EventEntryRequested, id, "T"))
		_, err := b.Apply(ev(models.EventEntryFailed, id, "T"))
		require.NoError(t, err)
	}

	finished := b.Finished()
	require.Len(t, finished, FinishedLimit)
	assert.Equal(t, "p00010", finished[0])
	assert.Equal(t, fmt.Sprintf("p%05d", FinishedLimit+9), finished[len(finished)-1])
}

func TestApply_TokenBusy(t *testing.T) {
	b := NewBook()
	_, err := b.Apply(ev(models.EventEntryRequested, "p1", "T"))
	require.NoError(t, err)
	_, err = b.Apply(ev(models.EventEntryRequested, "p2", "T"))
	assert.ErrorIs(t, err, ErrTokenBusy)
}

func TestApply_LiquidationPaths(t *testing.T) {
	b := NewBook()
	_, _ = b.Apply(ev(models.EventEntryRequested, "p1", "T"))
	_, _ = b.Apply(ev(models.EventEntryFilled, "p1", "T"))
	_, _ = b.Apply(ev(models.EventExitRequested, "p1", "T"))

	p, err := b.Apply(ev(models.EventExitFailed, "p1", "T"))
	require.NoError(t, err)
	assert.Equal(t, models.StatePendingExit, p.State)
	assert.Equal(t, 1, p.ExitAttempts)

	p, err = b.Apply(ev(models.EventLiquidationRequested, "p1", "T"))
	require.NoError(t, err)
	assert.Equal(t, models.StateLiquidating, p.State)

	p, err = b.Apply(ev(models.EventLiquidationTimeout, "p1", "T"))
	require.NoError(t, err)
	assert.Equal(t, models.StateClosed, p.State)
	assert.Equal(t, models.ReasonEmergency, p.ExitReason)

	// liquidation is only reachable from open or pending-exit
	_, _ = b.Apply(ev(models.EventEntryRequested, "p2", "T"))
	_, err = b.Apply(ev(models.EventLiquidationRequested, "p2", "T"))
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCanApply(t *testing.T) {
	assert.True(t, CanApply("", models.EventEntryRequested))
	assert.True(t, CanApply(models.StateOpen, models.EventLiquidationRequested))
	assert.False(t, CanApply(models.StatePendingEntry, models.EventLiquidationRequested))
	assert.False(t, CanApply(models.StateClosed, models.EventExitFilled))
	assert.False(t, CanApply(models.StateOpen, models.EventStrategyActivated))
}

// TestBook_OneActivePositionPerToken drives the book with random event sequences
// and checks that no token ever has two active positions.
func TestBook_OneActivePositionPerToken(t *testing.T) {
	kinds := []models.EventKind{
		models.EventEntryRequested, models.EventEntryFilled, models.EventEntryFailed,
		models.EventExitRequested, models.EventExitFailed, models.EventExitFilled,
		models.EventLiquidationRequested, models.EventLiquidationTimeout,
	}
	tokens := []string{"A", "B", "C"}

	for seed := int64(0); seed < 50; seed++ {
		rng := rand.New(rand.NewSource(seed))
		b := NewBook()
		var ids []string
		next := 0

		for step := 0; step < 500; step++ {
			kind := kinds[rng.Intn(len(kinds))]
			token := tokens[rng.Intn(len(tokens))]
			var id string
			if kind == models.EventEntryRequested || len(ids) == 0 {
				id = fmt.Sprintf("p%04d", next)
				next++
				ids = append(ids, id)
			} else {
				id = ids[rng.Intn(len(ids))]
				if p, ok := b.Get(id); ok {
					token = p.Token
				}
			}

			_, err := b.Apply(models.LedgerEvent{Kind: kind, PositionID: id, Token: token, Timestamp: t0})
			if err != nil {
				require.True(t,
					errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrTokenBusy) ||
						errors.Is(err, ErrUnknownPosition) || errors.Is(err, ErrDuplicateFill),
					"unexpected error %v", err)
			}

			perToken := map[string]int{}
			for _, p := range b.Active() {
				perToken[p.Token]++
				require.True(t, p.State.Active())
			}
			for tok, n := range perToken {
				require.LessOrEqual(t, n, 1, "seed %d step %d token %s", seed, step, tok)
			}
		}
	}
}
