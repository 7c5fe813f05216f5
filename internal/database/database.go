// Package database opens the SQL connection and owns the schema
package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver
)

// Supported drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DB wraps the SQL database connection
type DB struct {
	*sql.DB
	Driver string
}

// New creates a new database connection
func New(driver, dsn string) (*DB, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		// one writer; also keeps :memory: databases on a single connection
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db, Driver: driver}, nil
}

// Timestamps are stored as unix milliseconds and amounts of jackpots as
// decimal text, so the same schema serves both drivers.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS balances (
		player_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		amount BIGINT NOT NULL DEFAULT 0,
		updated_at BIGINT NOT NULL,
		PRIMARY KEY (player_id, currency)
	)`,

	`CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		player_id TEXT NOT NULL,
		type TEXT NOT NULL,
		amount BIGINT NOT NULL,
		currency TEXT NOT NULL,
		balance_before BIGINT NOT NULL,
		balance_after BIGINT NOT NULL,
		reference TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS game_sessions (
		id TEXT PRIMARY KEY,
		player_id TEXT NOT NULL,
		game_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		total_bet BIGINT NOT NULL DEFAULT 0,
		total_win BIGINT NOT NULL DEFAULT 0,
		spin_count BIGINT NOT NULL DEFAULT 0,
		free_spins_remaining INTEGER NOT NULL DEFAULT 0,
		free_spin_bet BIGINT NOT NULL DEFAULT 0,
		started_at BIGINT NOT NULL,
		ended_at BIGINT,
		updated_at BIGINT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS spins (
		spin_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		player_id TEXT NOT NULL,
		game_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		bet BIGINT NOT NULL,
		base_win BIGINT NOT NULL,
		total_win BIGINT NOT NULL,
		free_spin INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		outcome TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS jackpots (
		id TEXT PRIMARY KEY,
		game_id TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		contribution_rate TEXT NOT NULL,
		min_bet BIGINT NOT NULL,
		seed_amount BIGINT NOT NULL,
		total_contributions TEXT NOT NULL,
		trigger_probability DOUBLE PRECISION NOT NULL DEFAULT 0,
		growth_per_tick BIGINT NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1,
		last_won_at BIGINT,
		last_winner TEXT NOT NULL DEFAULT '',
		pending_win_id TEXT NOT NULL DEFAULT '',
		updated_at BIGINT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS jackpot_wins (
		id TEXT PRIMARY KEY,
		jackpot_id TEXT NOT NULL,
		game_id TEXT NOT NULL,
		player_id TEXT NOT NULL,
		spin_id TEXT NOT NULL UNIQUE,
		amount BIGINT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		confirmed_at BIGINT
	)`,

	`CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		timestamp BIGINT NOT NULL,
		player_id TEXT,
		session_id TEXT,
		description TEXT NOT NULL,
		data TEXT,
		component TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS system_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		updated_at BIGINT NOT NULL,
		updated_by TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS disabled_games (
		game_id TEXT PRIMARY KEY,
		reason TEXT NOT NULL DEFAULT '',
		disabled_at BIGINT NOT NULL,
		disabled_by TEXT NOT NULL DEFAULT ''
	)`,

	// (reference, type) is the idempotency key of a ledger entry
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_reference ON transactions(reference, type)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_player ON transactions(player_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_game_sessions_player ON game_sessions(player_id)`,
	`CREATE INDEX IF NOT EXISTS idx_spins_session ON spins(session_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_spins_status ON spins(status)`,
	`CREATE INDEX IF NOT EXISTS idx_jackpot_wins_status ON jackpot_wins(status)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_player ON audit_events(player_id)`,
}

var tables = []string{
	"disabled_games", "system_state", "audit_events", "jackpot_wins", "jackpots",
	"spins", "game_sessions", "transactions", "balances",
}

// Migrate creates all required tables
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	return nil
}

// CleanData empties all tables without dropping them (for testing)
func (db *DB) CleanData(ctx context.Context) error {
	for _, t := range tables {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+t); err != nil {
			return err
		}
	}
	return nil
}
