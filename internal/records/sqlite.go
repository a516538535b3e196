// Package records persists task invocation records in SQLite.
package records

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fyrsmithlabs/assessd/internal/dispatch"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore implements dispatch.RecordStore on a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

var _ dispatch.RecordStore = (*SQLiteStore)(nil)

// Open opens (creating if needed) the database at dbPath. ":memory:" gives a
// private in-memory database.
func Open(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save inserts rec, replacing a record with the same correlation id.
func (s *SQLiteStore) Save(ctx context.Context, rec dispatch.Record) error {
	if rec.CorrelationID == "" {
		return errors.New("save record: correlation id is required")
	}

	input, err := json.Marshal(rec.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	var output sql.NullString
	if rec.Output != nil {
		data, err := json.Marshal(rec.Output)
		if err != nil {
			return fmt.Errorf("marshal output: %w", err)
		}
		output = sql.NullString{String: string(data), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO invocations
			(correlation_id, run_id, task_id, contract_kind, input, output, status, reason, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CorrelationID, rec.RunID, rec.TaskID, rec.ContractKind,
		string(input), output, rec.Status, string(rec.Reason), rec.Error,
		rec.StartedAt.UnixNano(), rec.FinishedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

const selectColumns = `correlation_id, run_id, task_id, contract_kind, input, output, status, reason, error, started_at, finished_at`

// Get returns the record for correlationID or dispatch.ErrRecordNotFound.
func (s *SQLiteStore) Get(ctx context.Context, correlationID string) (dispatch.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM invocations WHERE correlation_id = ?`, correlationID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return dispatch.Record{}, fmt.Errorf("%w: %s", dispatch.ErrRecordNotFound, correlationID)
	}
	return rec, err
}

// ListByRun returns the run's records ordered by start time.
func (s *SQLiteStore) ListByRun(ctx context.Context, runID string) ([]dispatch.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM invocations WHERE run_id = ? ORDER BY started_at`, runID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []dispatch.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (dispatch.Record, error) {
	var (
		rec               dispatch.Record
		input             string
		output            sql.NullString
		reason            string
		started, finished int64
	)
	err := sc.Scan(&rec.CorrelationID, &rec.RunID, &rec.TaskID, &rec.ContractKind,
		&input, &output, &rec.Status, &reason, &rec.Error, &started, &finished)
	if err != nil {
		return dispatch.Record{}, err
	}

	if err := json.Unmarshal([]byte(input), &rec.Input); err != nil {
		return dispatch.Record{}, fmt.Errorf("decode input: %w", err)
	}
	if output.Valid {
		if err := json.Unmarshal([]byte(output.String), &rec.Output); err != nil {
			return dispatch.Record{}, fmt.Errorf("decode output: %w", err)
		}
	}
	rec.Reason = dispatch.Reason(reason)
	rec.StartedAt = time.Unix(0, started)
	rec.FinishedAt = time.Unix(0, finished)
	return rec, nil
}
