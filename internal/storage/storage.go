package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"solana-momentum-bot-go/internal/models"

	_ "github.com/mattn/go-sqlite3" // Import the sqlite3 driver
)

// Journal is the sqlite record of closed trades and evolution runs. It is
// write-mostly and never read on the trading path.
type Journal struct {
	db *sql.DB
}

// Open initializes the database connection and creates necessary tables.
func Open(dataSourceName string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite 只允许一个写者; ":memory:" 时每个连接都是独立的库
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err = createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// createTables creates the necessary database tables if they don't exist.
func createTables(db *sql.DB) error {
	// One row per closed position. position_id makes re-recording after a restart a no-op.
	createTradesTableSQL := `
	CREATE TABLE IF NOT EXISTS trades (
		position_id TEXT PRIMARY KEY,
		token TEXT NOT NULL,
		strategy_version INTEGER NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		quantity REAL NOT NULL,
		size REAL NOT NULL,
		fees REAL NOT NULL,
		pnl REAL NOT NULL,
		reason TEXT NOT NULL,
		entry_time INTEGER NOT NULL,
		exit_time INTEGER NOT NULL
	);`

	if _, err := db.Exec(createTradesTableSQL); err != nil {
		return err
	}

	createEvolutionRunsTableSQL := `
	CREATE TABLE IF NOT EXISTS evolution_runs (
		run_id TEXT PRIMARY KEY,
		generation INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL,
		candidates INTEGER NOT NULL,
		incumbent_version INTEGER NOT NULL,
		promoted_version INTEGER NOT NULL,
		best_candidate TEXT NOT NULL,
		best_win_rate REAL NOT NULL,
		best_trades INTEGER NOT NULL,
		reason TEXT NOT NULL
	);`

	if _, err := db.Exec(createEvolutionRunsTableSQL); err != nil {
		return err
	}

	// BotMetadata table to store simple key-value metadata.
	createBotMetadataTableSQL := `
	CREATE TABLE IF NOT EXISTS bot_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`
	if _, err := db.Exec(createBotMetadataTableSQL); err != nil {
		return err
	}

	// Initialize the generation counter if it doesn't exist.
	initGenerationCounterSQL := `INSERT OR IGNORE INTO bot_metadata (key, value) VALUES ('generation_counter', '0');`
	if _, err := db.Exec(initGenerationCounterSQL); err != nil {
		return err
	}

	return nil
}

// RecordTrade inserts a closed trade. Recording the same position twice is ignored.
func (j *Journal) RecordTrade(ctx context.Context, t models.Trade) error {
	if t.PositionID == "" {
		return errors.New("trade without position id")
	}
	query := `
	INSERT OR IGNORE INTO trades (position_id, token, strategy_version, entry_price, exit_price, quantity, size, fees, pnl, reason, entry_time, exit_time)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := j.db.ExecContext(ctx, query,
		t.PositionID, t.Token, t.Version, t.EntryPrice, t.ExitPrice, t.Quantity,
		t.Size, t.Fees, t.PnL, t.Reason, t.EntryTime.UnixMilli(), t.ExitTime.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert trade %s: %w", t.PositionID, err)
	}
	return nil
}

// RecentTrades returns up to limit trades, newest first.
func (j *Journal) RecentTrades(ctx context.Context, limit int) ([]models.Trade, error) {
	query := `
	SELECT position_id, token, strategy_version, entry_price, exit_price, quantity, size, fees, pnl, reason, entry_time, exit_time
	FROM trades ORDER BY exit_time DESC, position_id DESC LIMIT ?`

	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		var entryMs, exitMs int64
		if err := rows.Scan(
			&t.PositionID, &t.Token, &t.Version, &t.EntryPrice, &t.ExitPrice, &t.Quantity,
			&t.Size, &t.Fees, &t.PnL, &t.Reason, &entryMs, &exitMs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		t.EntryTime = time.UnixMilli(entryMs).UTC()
		t.ExitTime = time.UnixMilli(exitMs).UTC()
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// RecordEvolutionRun inserts the outcome of one evolution cycle.
func (j *Journal) RecordEvolutionRun(ctx context.Context, run models.EvolutionRun) error {
	query := `
	INSERT INTO evolution_runs (run_id, generation, started_at, finished_at, candidates, incumbent_version, promoted_version, best_candidate, best_win_rate, best_trades, reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := j.db.ExecContext(ctx, query,
		run.RunID, run.Generation, run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(),
		run.Candidates, run.IncumbentVersion, run.PromotedVersion, run.BestCandidate,
		run.BestWinRate, run.BestTrades, run.Reason,
	)
	if err != nil {
		return fmt.Errorf("failed to insert evolution run %s: %w", run.RunID, err)
	}
	return nil
}

// EvolutionRuns returns up to limit runs, newest generation first.
func (j *Journal) EvolutionRuns(ctx context.Context, limit int) ([]models.EvolutionRun, error) {
	query := `
	SELECT run_id, generation, started_at, finished_at, candidates, incumbent_version, promoted_version, best_candidate, best_win_rate, best_trades, reason
	FROM evolution_runs ORDER BY generation DESC LIMIT ?`

	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query evolution runs: %w", err)
	}
	defer rows.Close()

	var runs []models.EvolutionRun
	for rows.Next() {
		var r models.EvolutionRun
		var startedMs, finishedMs int64
		if err := rows.Scan(
			&r.RunID, &r.Generation, &startedMs, &finishedMs, &r.Candidates, &r.IncumbentVersion,
			&r.PromotedVersion, &r.BestCandidate, &r.BestWinRate, &r.BestTrades, &r.Reason,
		); err != nil {
			return nil, fmt.Errorf("failed to scan evolution run row: %w", err)
		}
		r.StartedAt = time.UnixMilli(startedMs).UTC()
		r.FinishedAt = time.UnixMilli(finishedMs).UTC()
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// NextGeneration atomically retrieves and increments the generation counter.
func (j *Journal) NextGeneration(ctx context.Context) (int, error) {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction for generation: %w", err)
	}
	defer tx.Rollback() // Rollback on any error

	var counterStr string
	err = tx.QueryRowContext(ctx, "SELECT value FROM bot_metadata WHERE key = 'generation_counter'").Scan(&counterStr)
	if err != nil {
		return 0, fmt.Errorf("failed to read generation_counter: %w", err)
	}

	counter, err := strconv.Atoi(counterStr)
	if err != nil {
		return 0, fmt.Errorf("failed to parse generation_counter value '%s': %w", counterStr, err)
	}

	next := counter + 1

	_, err = tx.ExecContext(ctx, "UPDATE bot_metadata SET value = ? WHERE key = 'generation_counter'", strconv.Itoa(next))
	if err != nil {
		return 0, fmt.Errorf("failed to update generation_counter: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit generation_counter transaction: %w", err)
	}

	return next, nil
}
