package echotest

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/studiowebux/echotest/internal/migrations"
)

// Manager handles echo test run persistence
type Manager struct {
	db *sql.DB
}

// StoredResult is an iteration result as read back from the database
type StoredResult struct {
	ID              int64
	RunID           int64
	Iteration       int
	WorkerID        int
	ConnectionID    int
	StartTime       time.Time
	EndTime         time.Time
	ResponseTimeMs  float64
	Success         bool
	ErrorMessage    string
	RequestMessage  string
	ResponseMessage string
	ResponseCode    string
}

// ErrorCount is one row of a per-run error breakdown
type ErrorCount struct {
	Message string
	Count   int
}

// NewManager creates a new echo test manager
func NewManager(dbPath string) (*Manager, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each new connection would get its own empty in-memory database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Manager{db: db}, nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	return m.db.Close()
}

// NewRun builds a running record for config
func NewRun(config *Config, startedAt time.Time) *Run {
	return &Run{
		Target:            config.Target,
		Iterations:        config.Iterations,
		Workers:           config.Workers,
		PoolSize:          config.PoolSize,
		ResponseTimeoutMs: config.GetResponseTimeout().Milliseconds(),
		DelayMs:           config.Delay.Milliseconds(),
		StartedAt:         startedAt,
		Status:            StatusRunning,
	}
}

// Finish copies the final figures of report into the run
func (r *Run) Finish(report *Report) {
	completedAt := report.CompletedAt
	r.CompletedAt = &completedAt
	r.Status = report.Status
	r.TotalCompleted = report.Stats.Completed
	r.TotalSuccess = report.Stats.SuccessCount
	r.TotalErrors = report.Stats.ErrorCount
	r.AvgResponseMs = report.Stats.AvgDurationMs()
	r.MinResponseMs = report.Stats.Min()
	r.MaxResponseMs = report.Stats.Max()
	r.P50ResponseMs = report.Stats.P50()
	r.P95ResponseMs = report.Stats.P95()
	r.P99ResponseMs = report.Stats.P99()
	r.PoolTransactions = report.Pool.Transactions
}

// CreateRun creates a new echo test run record
func (m *Manager) CreateRun(run *Run) error {
	result, err := m.db.Exec(`
		INSERT INTO echo_runs
		(target, iterations, workers, pool_size, response_timeout_ms, delay_ms, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.Target, run.Iterations, run.Workers, run.PoolSize, run.ResponseTimeoutMs, run.DelayMs, run.StartedAt, run.Status)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	run.ID = id
	return nil
}

// UpdateRun updates an echo test run record
func (m *Manager) UpdateRun(run *Run) error {
	_, err := m.db.Exec(`
		UPDATE echo_runs
		SET completed_at = ?, status = ?, total_completed = ?, total_success = ?, total_errors = ?,
		    avg_response_ms = ?, min_response_ms = ?, max_response_ms = ?,
		    p50_response_ms = ?, p95_response_ms = ?, p99_response_ms = ?, pool_transactions = ?
		WHERE id = ?
	`, run.CompletedAt, run.Status, run.TotalCompleted, run.TotalSuccess, run.TotalErrors,
		run.AvgResponseMs, run.MinResponseMs, run.MaxResponseMs,
		run.P50ResponseMs, run.P95ResponseMs, run.P99ResponseMs, run.PoolTransactions, run.ID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return nil
}

const runColumns = `
	id, target, iterations, workers, pool_size, response_timeout_ms, delay_ms, started_at, completed_at, status,
	COALESCE(total_completed, 0), COALESCE(total_success, 0), COALESCE(total_errors, 0),
	COALESCE(avg_response_ms, 0), COALESCE(min_response_ms, 0), COALESCE(max_response_ms, 0),
	COALESCE(p50_response_ms, 0), COALESCE(p95_response_ms, 0), COALESCE(p99_response_ms, 0),
	COALESCE(pool_transactions, 0)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var completedAt sql.NullTime

	err := row.Scan(&run.ID, &run.Target, &run.Iterations, &run.Workers, &run.PoolSize,
		&run.ResponseTimeoutMs, &run.DelayMs, &run.StartedAt, &completedAt, &run.Status,
		&run.TotalCompleted, &run.TotalSuccess, &run.TotalErrors,
		&run.AvgResponseMs, &run.MinResponseMs, &run.MaxResponseMs,
		&run.P50ResponseMs, &run.P95ResponseMs, &run.P99ResponseMs, &run.PoolTransactions)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return run, nil
}

// GetRun retrieves a run by ID
func (m *Manager) GetRun(id int64) (*Run, error) {
	row := m.db.QueryRow(`SELECT `+runColumns+` FROM echo_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get run %d: %w", id, err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first. limit <= 0 returns all.
func (m *Manager) ListRuns(limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM echo_runs ORDER BY started_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := m.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeleteRun deletes a run and all its results
func (m *Manager) DeleteRun(id int64) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// The cascade only fires on connections that enabled foreign keys
	if _, err := tx.Exec("DELETE FROM echo_results WHERE run_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete results: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM echo_runs WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return tx.Commit()
}

// SaveResultsBatch saves iteration results in a single transaction
func (m *Manager) SaveResultsBatch(runID int64, results []IterationResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO echo_results
		(run_id, iteration, worker_id, connection_id, start_time, end_time, response_time_ms, success,
		 error_message, request_message, response_message, response_code)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range results {
		_, err := stmt.Exec(runID, r.Iteration, r.WorkerID, r.ConnectionID, r.StartTime, r.EndTime,
			r.ResponseTimeMs, r.Success, nullString(r.Error), nullString(r.RequestMessage),
			nullString(r.ResponseMessage), nullString(r.ResponseFields["39"]))
		if err != nil {
			return fmt.Errorf("failed to insert result for iteration %d: %w", r.Iteration, err)
		}
	}

	return tx.Commit()
}

// GetResults retrieves all results of a run ordered by iteration
func (m *Manager) GetResults(runID int64) ([]*StoredResult, error) {
	rows, err := m.db.Query(`
		SELECT id, run_id, iteration, worker_id, connection_id, start_time, end_time, response_time_ms, success,
		       COALESCE(error_message, ''), COALESCE(request_message, ''), COALESCE(response_message, ''),
		       COALESCE(response_code, '')
		FROM echo_results
		WHERE run_id = ?
		ORDER BY iteration
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get results: %w", err)
	}
	defer rows.Close()

	var results []*StoredResult
	for rows.Next() {
		r := &StoredResult{}
		err := rows.Scan(&r.ID, &r.RunID, &r.Iteration, &r.WorkerID, &r.ConnectionID, &r.StartTime, &r.EndTime,
			&r.ResponseTimeMs, &r.Success, &r.ErrorMessage, &r.RequestMessage, &r.ResponseMessage, &r.ResponseCode)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ErrorBreakdown counts failed iterations of a run by error message
func (m *Manager) ErrorBreakdown(runID int64) ([]ErrorCount, error) {
	rows, err := m.db.Query(`
		SELECT error_message, COUNT(*)
		FROM echo_results
		WHERE run_id = ? AND success = 0
		GROUP BY error_message
		ORDER BY COUNT(*) DESC, error_message
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get error breakdown: %w", err)
	}
	defer rows.Close()

	var counts []ErrorCount
	for rows.Next() {
		var c ErrorCount
		var msg sql.NullString
		if err := rows.Scan(&msg, &c.Count); err != nil {
			return nil, err
		}
		c.Message = msg.String
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
