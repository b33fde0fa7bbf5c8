package persistence

import (
	"errors"

	"solana-momentum-bot-go/internal/models"
)

// ErrDuplicateEvent is returned when an event offset is already present in the log.
var ErrDuplicateEvent = errors.New("event offset already written")

// EventStore persists the ledger's append-only event log and its snapshots.
type EventStore interface {
	// AppendEvent writes one event under its offset. Offsets are never overwritten.
	AppendEvent(ev models.LedgerEvent) error

	// EventsAfter returns every event with an offset greater than offset, in order.
	EventsAfter(offset uint64) ([]models.LedgerEvent, error)

	// SaveSnapshot replaces the current snapshot.
	SaveSnapshot(s *models.LedgerSnapshot) error

	// LoadSnapshot loads the current snapshot.
	// If no snapshot is found, it returns (nil, nil).
	LoadSnapshot() (*models.LedgerSnapshot, error)
}

// StrategyStore persists strategy versions and the active version pointer.
type StrategyStore interface {
	SaveStrategy(cfg models.StrategyConfig) error
	LoadStrategies() ([]models.StrategyConfig, error)
	SaveActiveVersion(version int) error
	// LoadActiveVersion returns 0 when nothing has been activated yet.
	LoadActiveVersion() (int, error)
}

// Repository is the full storage surface backed by a single database.
type Repository interface {
	EventStore
	StrategyStore

	// Close gracefully closes the connection to the database.
	Close() error
}
