package position

import (
	"fmt"
	"sort"

	"solana-momentum-bot-go/internal/models"
)

// FinishedLimit is how many finished position ids the book remembers for
// duplicate fill detection.
const FinishedLimit = 4096

// Book holds the active positions, at most one per token. It is not safe for
// concurrent use; the ledger owns it from a single goroutine.
type Book struct {
	positions map[string]models.Position
	byToken   map[string]string
	finished  map[string]bool
	order     []string // finished ids, oldest first
}

// NewBook creates an empty book.
func NewBook() *Book {
	return &Book{
		positions: make(map[string]models.Position),
		byToken:   make(map[string]string),
		finished:  make(map[string]bool),
	}
}

// Restore loads active positions and recently finished ids from a snapshot.
func (b *Book) Restore(positions []models.Position, finished []string) error {
	for _, id := range finished {
		b.finish(id)
	}
	for _, p := range positions {
		if !p.State.Active() {
			return fmt.Errorf("%w: snapshot holds %s position %s", ErrInvalidTransition, p.State, p.ID)
		}
		if id, ok := b.byToken[p.Token]; ok && id != p.ID {
			return fmt.Errorf("%w: %s has %s and %s", ErrTokenBusy, p.Token, id, p.ID)
		}
		b.positions[p.ID] = p
		b.byToken[p.Token] = p.ID
	}
	return nil
}

// Check validates an event without applying it.
func (b *Book) Check(ev models.LedgerEvent) (models.Position, error) {
	if ev.PositionID == "" {
		return models.Position{}, fmt.Errorf("%w: event %s has no position id", ErrInvalidTransition, ev.Kind)
	}
	cur, ok := b.positions[ev.PositionID]
	if ev.Kind == models.EventEntryRequested {
		if ok || b.finished[ev.PositionID] {
			return cur, fmt.Errorf("%w: position id %s reused", ErrInvalidTransition, ev.PositionID)
		}
		if id, busy := b.byToken[ev.Token]; busy {
			return cur, fmt.Errorf("%w: %s held by %s", ErrTokenBusy, ev.Token, id)
		}
		return Apply(models.Position{}, ev)
	}
	if !ok {
		if b.finished[ev.PositionID] && isFill(ev.Kind) {
			return cur, fmt.Errorf("%w: position %s already finished", ErrDuplicateFill, ev.PositionID)
		}
		return cur, fmt.Errorf("%w: %s", ErrUnknownPosition, ev.PositionID)
	}
	return Apply(cur, ev)
}

// Apply validates and applies an event, returning the resulting position.
// Positions that reach closed or fall back to idle leave the book.
func (b *Book) Apply(ev models.LedgerEvent) (models.Position, error) {
	next, err := b.Check(ev)
	if err != nil {
		return next, err
	}
	if next.State.Active() {
		b.positions[next.ID] = next
		b.byToken[next.Token] = next.ID
		return next, nil
	}
	delete(b.positions, next.ID)
	if b.byToken[next.Token] == next.ID {
		delete(b.byToken, next.Token)
	}
	b.finish(next.ID)
	return next, nil
}

func (b *Book) finish(id string) {
	if b.finished[id] {
		return
	}
	b.finished[id] = true
	b.order = append(b.order, id)
	if len(b.order) > FinishedLimit {
		delete(b.finished, b.order[0])
		b.order = b.order[1:]
	}
}

// Finished returns the remembered finished ids, oldest first.
func (b *Book) Finished() []string {
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out
}

func isFill(kind models.EventKind) bool {
	return kind == models.EventEntryFilled || kind == models.EventExitFilled || kind == models.EventLiquidationTimeout
}

// SetMark updates the mark price of the token's held position.
func (b *Book) SetMark(token string, price float64) bool {
	id, ok := b.byToken[token]
	if !ok {
		return false
	}
	p := b.positions[id]
	if !p.State.Holding() {
		return false
	}
	p.MarkPrice = price
	b.positions[id] = p
	return true
}

// Get returns an active position by id.
func (b *Book) Get(id string) (models.Position, bool) {
	p, ok := b.positions[id]
	return p, ok
}

// ForToken returns the token's active position.
func (b *Book) ForToken(token string) (models.Position, bool) {
	id, ok := b.byToken[token]
	if !ok {
		return models.Position{}, false
	}
	return b.positions[id], true
}

// Active returns all active positions ordered by id.
func (b *Book) Active() []models.Position {
	out := make([]models.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of active positions.
func (b *Book) Len() int { return len(b.positions) }
