package migrations

import (
	"database/sql"
	"fmt"
)

// Migration represents a single database migration
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: 1,
		Name:    "Add target and status indices to echo_runs",
		Up: `
			CREATE INDEX IF NOT EXISTS idx_echo_runs_target ON echo_runs(target);
			CREATE INDEX IF NOT EXISTS idx_echo_runs_status ON echo_runs(status);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_echo_runs_target;
			DROP INDEX IF EXISTS idx_echo_runs_status;
		`,
	},
	{
		Version: 2,
		Name:    "Add composite index for per-run error breakdown",
		Up: `
			-- Serves GROUP BY error_message for a single run
			CREATE INDEX IF NOT EXISTS idx_echo_results_run_success ON echo_results(run_id, success, error_message);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_echo_results_run_success;
		`,
	},
}

// InitSchema creates all tables required across all modules
// This must be called before running migrations to ensure all tables exist
func InitSchema(db *sql.DB) error {
	schema := `
	-- Echo test runs
	CREATE TABLE IF NOT EXISTS echo_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		target TEXT NOT NULL,
		iterations INTEGER NOT NULL,
		workers INTEGER NOT NULL,
		pool_size INTEGER NOT NULL,
		response_timeout_ms INTEGER NOT NULL,
		delay_ms INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		status TEXT NOT NULL DEFAULT 'running',
		total_completed INTEGER DEFAULT 0,
		total_success INTEGER DEFAULT 0,
		total_errors INTEGER DEFAULT 0,
		avg_response_ms REAL,
		min_response_ms REAL,
		max_response_ms REAL,
		p50_response_ms REAL,
		p95_response_ms REAL,
		p99_response_ms REAL,
		pool_transactions INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_echo_runs_started_at ON echo_runs(started_at DESC);

	-- One row per iteration attempt
	CREATE TABLE IF NOT EXISTS echo_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		iteration INTEGER NOT NULL,
		worker_id INTEGER NOT NULL,
		connection_id INTEGER NOT NULL DEFAULT 0,
		start_time DATETIME NOT NULL,
		end_time DATETIME NOT NULL,
		response_time_ms REAL NOT NULL,
		success INTEGER NOT NULL,
		error_message TEXT,
		request_message TEXT,
		response_message TEXT,
		response_code TEXT,
		FOREIGN KEY (run_id) REFERENCES echo_runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_echo_results_run_id ON echo_results(run_id, iteration);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Run executes all pending migrations on the database
func Run(db *sql.DB) error {
	// Initialize schema first to ensure all tables exist
	if err := InitSchema(db); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	currentVersion, err := GetCurrentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	for _, migration := range AllMigrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", migration.Version, err)
		}
		if _, err := tx.Exec(migration.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to apply migration %d (%s): %w", migration.Version, migration.Name, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
			migration.Version,
			migration.Name,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// GetCurrentVersion returns the current database schema version
func GetCurrentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow(`
		SELECT COALESCE(MAX(version), 0)
		FROM schema_migrations
	`).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}
	return version, nil
}
