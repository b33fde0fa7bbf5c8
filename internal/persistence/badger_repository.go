package persistence

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"solana-momentum-bot-go/internal/models"

	"github.com/dgraph-io/badger/v3"
)

var (
	eventPrefix    = []byte("event/")
	strategyPrefix = []byte("strategy/")
	snapshotKey    = []byte("ledger_snapshot")
	activeKey      = []byte("strategy_active")
)

// badgerRepository is the BadgerDB implementation of the Repository.
type badgerRepository struct {
	db *badger.DB
}

// NewBadgerRepository creates and returns a new repository instance connected to a BadgerDB database.
func NewBadgerRepository(dbPath string) (Repository, error) {
	return openBadger(badger.DefaultOptions(dbPath))
}

// NewInMemoryRepository returns a repository that lives only in memory.
func NewInMemoryRepository() (Repository, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true))
}

func openBadger(opts badger.Options) (Repository, error) {
	// Badger's own logging is disabled; errors are still returned from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &badgerRepository{db: db}, nil
}

// eventKey encodes offsets big-endian so keys sort in offset order.
func eventKey(offset uint64) []byte {
	key := make([]byte, len(eventPrefix)+8)
	copy(key, eventPrefix)
	binary.BigEndian.PutUint64(key[len(eventPrefix):], offset)
	return key
}

func strategyKey(version int) []byte {
	key := make([]byte, len(strategyPrefix)+8)
	copy(key, strategyPrefix)
	binary.BigEndian.PutUint64(key[len(strategyPrefix):], uint64(version))
	return key
}

// AppendEvent writes the event under its offset key, refusing to overwrite.
func (r *badgerRepository) AppendEvent(ev models.LedgerEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	key := eventKey(ev.Offset)

	return r.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return fmt.Errorf("%w: %d", ErrDuplicateEvent, ev.Offset)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
}

// EventsAfter iterates the log from offset+1.
func (r *badgerRepository) EventsAfter(offset uint64) ([]models.LedgerEvent, error) {
	var events []models.LedgerEvent

	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(eventKey(offset + 1)); it.ValidForPrefix(eventPrefix); it.Next() {
			var ev models.LedgerEvent
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ev)
			})
			if err != nil {
				return fmt.Errorf("decode event %x: %w", it.Item().Key(), err)
			}
			events = append(events, ev)
		}
		return nil
	})
	return events, err
}

// SaveSnapshot atomically replaces the ledger snapshot.
func (r *badgerRepository) SaveSnapshot(s *models.LedgerSnapshot) error {
	return r.setJSON(snapshotKey, s)
}

// LoadSnapshot loads the ledger snapshot.
// If the snapshot key is not found, it returns (nil, nil) to indicate no state is present.
func (r *badgerRepository) LoadSnapshot() (*models.LedgerSnapshot, error) {
	var s models.LedgerSnapshot
	found, err := r.getJSON(snapshotKey, &s)
	if err != nil || !found {
		return nil, err
	}
	return &s, nil
}

// SaveStrategy stores an immutable strategy version.
func (r *badgerRepository) SaveStrategy(cfg models.StrategyConfig) error {
	if cfg.Version <= 0 {
		return fmt.Errorf("strategy %s has no version", cfg.Name)
	}
	return r.setJSON(strategyKey(cfg.Version), cfg)
}

// LoadStrategies returns all stored versions ordered by version.
func (r *badgerRepository) LoadStrategies() ([]models.StrategyConfig, error) {
	var out []models.StrategyConfig
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(strategyPrefix); it.ValidForPrefix(strategyPrefix); it.Next() {
			var cfg models.StrategyConfig
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &cfg)
			}); err != nil {
				return err
			}
			out = append(out, cfg)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, err
}

// SaveActiveVersion records which strategy version is live.
func (r *badgerRepository) SaveActiveVersion(version int) error {
	return r.setJSON(activeKey, version)
}

// LoadActiveVersion returns the live strategy version, or 0 if none was saved.
func (r *badgerRepository) LoadActiveVersion() (int, error) {
	var v int
	_, err := r.getJSON(activeKey, &v)
	return v, err
}

func (r *badgerRepository) setJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

func (r *badgerRepository) getJSON(key []byte, v any) (bool, error) {
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return fmt.Errorf("value for %s is empty in database", key)
			}
			return json.Unmarshal(val, v)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Close gracefully closes the connection to the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}
