package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gateway-fm/rpcloadgen/pkg/types"
)

// unmarshalJSON unmarshals JSON and logs any errors without failing.
// Used for non-critical columns so a corrupt blob does not hide the run.
func unmarshalJSON(data string, v any, field string, runID string) {
	if err := json.Unmarshal([]byte(data), v); err != nil {
		slog.Warn("failed to unmarshal JSON field",
			"field", field,
			"runID", runID,
			"error", err.Error(),
			"dataLen", len(data))
	}
}

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

var _ Storage = (*SQLiteStorage)(nil)

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL so status readers do not block the final bulk insert
	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_foreign_keys=ON", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStorage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// migrate creates the schema if it does not exist.
func (s *SQLiteStorage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		rpc_url TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		target_tps REAL NOT NULL,
		duration_ms INTEGER NOT NULL,
		final_state TEXT NOT NULL DEFAULT 'running',
		attempts INTEGER DEFAULT 0,
		successes INTEGER DEFAULT 0,
		failures INTEGER DEFAULT 0,
		rpc_calls INTEGER DEFAULT 0,
		gas_used INTEGER DEFAULT 0,
		average_tps REAL DEFAULT 0,
		peak_tps REAL DEFAULT 0,
		failure_rate REAL DEFAULT 0,
		first_block INTEGER DEFAULT 0,
		last_block INTEGER DEFAULT 0,
		latency_stats TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

	CREATE TABLE IF NOT EXISTS rate_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		timestamp_ms INTEGER NOT NULL,
		attempts INTEGER NOT NULL,
		tps REAL NOT NULL,
		rps REAL NOT NULL,
		mgas_per_sec REAL NOT NULL,
		failure_rate REAL NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_rate_samples_run ON rate_samples(run_id);

	CREATE TABLE IF NOT EXISTS block_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		timestamp_ms INTEGER NOT NULL,
		block_number INTEGER NOT NULL,
		block_time_secs REAL NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_block_samples_run ON block_samples(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new run record in the running state.
func (s *SQLiteStorage) CreateRun(ctx context.Context, run *types.RunSummary) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}
	state := run.FinalState
	if state == "" {
		state = types.StateRunning
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, rpc_url, started_at, target_tps, duration_ms, final_state)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.ID, run.RPCURL, run.StartedAt, run.TargetTPS, run.DurationMs, string(state))

	return err
}

// CompleteRun stores the final counters of a run.
func (s *SQLiteStorage) CompleteRun(ctx context.Context, run *types.RunSummary) error {
	latencyJSON, err := json.Marshal(run.Latency)
	if err != nil {
		return fmt.Errorf("failed to marshal latency stats: %w", err)
	}

	completedAt := time.Now()
	if run.CompletedAt != nil {
		completedAt = *run.CompletedAt
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			completed_at = ?,
			final_state = ?,
			attempts = ?,
			successes = ?,
			failures = ?,
			rpc_calls = ?,
			gas_used = ?,
			average_tps = ?,
			peak_tps = ?,
			failure_rate = ?,
			first_block = ?,
			last_block = ?,
			latency_stats = ?
		WHERE id = ?
	`, completedAt, string(run.FinalState), run.Attempts, run.Successes, run.Failures, run.RPCCalls,
		run.GasUsed, run.AverageTPS, run.PeakTPS, run.FailureRate, run.FirstBlock, run.LastBlock,
		string(latencyJSON), run.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", run.ID)
	}
	return nil
}

const runColumns = `id, rpc_url, started_at, completed_at, target_tps, duration_ms, final_state,
	attempts, successes, failures, rpc_calls, gas_used, average_tps, peak_tps, failure_rate,
	COALESCE(first_block, 0), COALESCE(last_block, 0), latency_stats`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*types.RunSummary, error) {
	var (
		run         types.RunSummary
		completedAt sql.NullTime
		state       string
		latencyJSON sql.NullString
	)

	err := row.Scan(&run.ID, &run.RPCURL, &run.StartedAt, &completedAt, &run.TargetTPS, &run.DurationMs, &state,
		&run.Attempts, &run.Successes, &run.Failures, &run.RPCCalls, &run.GasUsed,
		&run.AverageTPS, &run.PeakTPS, &run.FailureRate, &run.FirstBlock, &run.LastBlock, &latencyJSON)
	if err != nil {
		return nil, err
	}

	run.FinalState = types.DispatcherState(state)
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	if latencyJSON.Valid && latencyJSON.String != "" && latencyJSON.String != "null" {
		var stats types.LatencyStats
		unmarshalJSON(latencyJSON.String, &stats, "latency_stats", run.ID)
		run.Latency = &stats
	}
	return &run, nil
}

// GetRun retrieves a single run by ID. It returns nil, nil when the run
// does not exist.
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*types.RunSummary, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// ListRuns returns a page of runs, newest first.
func (s *SQLiteStorage) ListRuns(ctx context.Context, limit, offset int) (*types.RunPage, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&total); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []types.RunSummary{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &types.RunPage{
		Runs:   runs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}, nil
}

// GetRunDetail returns a run with its samples, or nil, nil when absent.
func (s *SQLiteStorage) GetRunDetail(ctx context.Context, id string) (*types.RunDetail, error) {
	run, err := s.GetRun(ctx, id)
	if err != nil || run == nil {
		return nil, err
	}

	rates, err := s.getRateSamples(ctx, id)
	if err != nil {
		return nil, err
	}
	blocks, err := s.getBlockSamples(ctx, id)
	if err != nil {
		return nil, err
	}

	return &types.RunDetail{Run: run, RateSamples: rates, BlockSamples: blocks}, nil
}

// DeleteRun deletes a run and its samples.
func (s *SQLiteStorage) DeleteRun(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	return err
}

// BulkInsertRateSamples inserts all samples in a single transaction.
func (s *SQLiteStorage) BulkInsertRateSamples(ctx context.Context, runID string, samples []types.RateSample) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rate_samples (run_id, timestamp_ms, attempts, tps, rps, mgas_per_sec, failure_rate)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range samples {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := stmt.ExecContext(ctx, runID, p.TimestampMs, p.Attempts, p.TPS, p.RPS, p.MgasPerSecond, p.FailureRate); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// BulkInsertBlockSamples inserts all samples in a single transaction.
func (s *SQLiteStorage) BulkInsertBlockSamples(ctx context.Context, runID string, samples []types.BlockSample) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO block_samples (run_id, timestamp_ms, block_number, block_time_secs)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, b := range samples {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := stmt.ExecContext(ctx, runID, b.TimestampMs, b.Number, b.BlockTimeSeconds); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteStorage) getRateSamples(ctx context.Context, runID string) ([]types.RateSample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp_ms, attempts, tps, rps, mgas_per_sec, failure_rate
		FROM rate_samples
		WHERE run_id = ?
		ORDER BY timestamp_ms, id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	samples := []types.RateSample{}
	for rows.Next() {
		var p types.RateSample
		if err := rows.Scan(&p.TimestampMs, &p.Attempts, &p.TPS, &p.RPS, &p.MgasPerSecond, &p.FailureRate); err != nil {
			return nil, err
		}
		samples = append(samples, p)
	}
	return samples, rows.Err()
}

func (s *SQLiteStorage) getBlockSamples(ctx context.Context, runID string) ([]types.BlockSample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp_ms, block_number, block_time_secs
		FROM block_samples
		WHERE run_id = ?
		ORDER BY timestamp_ms, id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	samples := []types.BlockSample{}
	for rows.Next() {
		var b types.BlockSample
		if err := rows.Scan(&b.TimestampMs, &b.Number, &b.BlockTimeSeconds); err != nil {
			return nil, err
		}
		samples = append(samples, b)
	}
	return samples, rows.Err()
}
