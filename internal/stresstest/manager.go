package stresstest

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/studiowebux/difyload/internal/migrations"
)

// Manager handles run history persistence
type Manager struct {
	db *sql.DB
}

// EndpointSummary is the per-endpoint aggregate of a stored run
type EndpointSummary struct {
	Method        string
	Name          string
	Requests      int
	Failures      int
	AvgDurationMs float64
	MaxDurationMs int64
}

// NewManager creates a new run history manager
func NewManager(dbPath string) (*Manager, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer; also keeps ":memory:" on a single database
	db.SetMaxOpenConns(1)

	m := &Manager{db: db}

	// Run database migrations (includes schema initialization)
	if err := migrations.Run(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return m, nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	return m.db.Close()
}

// CreateRun creates a new run record
func (m *Manager) CreateRun(run *Run) error {
	result, err := m.db.Exec(`
		INSERT INTO load_runs
		(scenario, mode, api_users, sandbox_users, spawn_rate, duration_sec, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.Scenario, run.Mode, run.APIUsers, run.SandboxUsers, run.SpawnRate, run.DurationSec, run.StartedAt, run.Status)
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

// UpdateRun updates a run record
func (m *Manager) UpdateRun(run *Run) error {
	_, err := m.db.Exec(`
		UPDATE load_runs
		SET completed_at = ?, status = ?, total_requests = ?, total_failures = ?, total_transport_errors = ?,
		    avg_duration_ms = ?, min_duration_ms = ?, max_duration_ms = ?,
		    p50_duration_ms = ?, p95_duration_ms = ?, p99_duration_ms = ?, rps = ?, passed = ?
		WHERE id = ?
	`, run.CompletedAt, run.Status, run.TotalRequests, run.TotalFailures, run.TotalTransportErrors,
		run.AvgDurationMs, run.MinDurationMs, run.MaxDurationMs,
		run.P50DurationMs, run.P95DurationMs, run.P99DurationMs, run.RPS, run.Passed, run.ID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return nil
}

const runColumns = `
	id, scenario, mode, api_users, sandbox_users, spawn_rate, duration_sec, started_at, completed_at, status,
	COALESCE(total_requests, 0), COALESCE(total_failures, 0), COALESCE(total_transport_errors, 0),
	COALESCE(avg_duration_ms, 0), COALESCE(min_duration_ms, 0), COALESCE(max_duration_ms, 0),
	COALESCE(p50_duration_ms, 0), COALESCE(p95_duration_ms, 0), COALESCE(p99_duration_ms, 0),
	COALESCE(rps, 0), passed`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	run := &Run{}
	var completedAt sql.NullTime
	var passed sql.NullBool

	err := row.Scan(&run.ID, &run.Scenario, &run.Mode, &run.APIUsers, &run.SandboxUsers, &run.SpawnRate,
		&run.DurationSec, &run.StartedAt, &completedAt, &run.Status,
		&run.TotalRequests, &run.TotalFailures, &run.TotalTransportErrors,
		&run.AvgDurationMs, &run.MinDurationMs, &run.MaxDurationMs,
		&run.P50DurationMs, &run.P95DurationMs, &run.P99DurationMs, &run.RPS, &passed)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if passed.Valid {
		run.Passed = &passed.Bool
	}
	return run, nil
}

// GetRun retrieves a run by ID
func (m *Manager) GetRun(id int64) (*Run, error) {
	run, err := scanRun(m.db.QueryRow(`SELECT `+runColumns+` FROM load_runs WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get run %d: %w", id, err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, optionally filtered by scenario
func (m *Manager) ListRuns(scenario string, limit int) ([]*Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM load_runs
		WHERE scenario = ? OR ? = ''
		ORDER BY started_at DESC, id DESC
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := m.db.Query(query, scenario, scenario)
	if err != nil {
		return nil, err
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

// DeleteRun deletes a run and all its metrics
func (m *Manager) DeleteRun(id int64) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM load_metrics WHERE run_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete metrics: %w", err)
	}
	result, err := tx.Exec("DELETE FROM load_runs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %d not found", id)
	}

	return tx.Commit()
}

// SaveMetricsBatch saves multiple metrics in a single transaction
func (m *Manager) SaveMetricsBatch(metrics []*Metric) error {
	if len(metrics) == 0 {
		return nil
	}

	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO load_metrics
		(run_id, timestamp, elapsed_ms, name, method, status_code, duration_ms, request_size, response_size, failure, transport)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, metric := range metrics {
		_, err := stmt.Exec(metric.RunID, metric.Timestamp, metric.ElapsedMs, metric.Name, metric.Method,
			metric.StatusCode, metric.DurationMs, metric.RequestSize, metric.ResponseSize, metric.Failure, metric.Transport)
		if err != nil {
			return fmt.Errorf("failed to insert metric: %w", err)
		}
	}

	return tx.Commit()
}

// GetMetrics retrieves all metrics for a run
func (m *Manager) GetMetrics(runID int64) ([]*Metric, error) {
	rows, err := m.db.Query(`
		SELECT id, run_id, timestamp, elapsed_ms, name, method, status_code, duration_ms,
		       request_size, response_size, COALESCE(failure, ''), transport
		FROM load_metrics
		WHERE run_id = ?
		ORDER BY elapsed_ms, id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metrics []*Metric
	for rows.Next() {
		metric := &Metric{}
		err := rows.Scan(&metric.ID, &metric.RunID, &metric.Timestamp, &metric.ElapsedMs, &metric.Name,
			&metric.Method, &metric.StatusCode, &metric.DurationMs, &metric.RequestSize, &metric.ResponseSize,
			&metric.Failure, &metric.Transport)
		if err != nil {
			return nil, err
		}
		metrics = append(metrics, metric)
	}
	return metrics, rows.Err()
}

// GetEndpointSummary aggregates the stored metrics of a run per endpoint
func (m *Manager) GetEndpointSummary(runID int64) ([]EndpointSummary, error) {
	rows, err := m.db.Query(`
		SELECT method, name, COUNT(*),
		       SUM(CASE WHEN failure IS NOT NULL AND failure != '' THEN 1 ELSE 0 END),
		       COALESCE(AVG(CASE WHEN method != 'ERROR' THEN duration_ms END), 0),
		       COALESCE(MAX(duration_ms), 0)
		FROM load_metrics
		WHERE run_id = ?
		GROUP BY name, method
		ORDER BY name, method
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []EndpointSummary
	for rows.Next() {
		var s EndpointSummary
		if err := rows.Scan(&s.Method, &s.Name, &s.Requests, &s.Failures, &s.AvgDurationMs, &s.MaxDurationMs); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}
