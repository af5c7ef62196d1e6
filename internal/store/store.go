// Package store persists raw LLM exchanges in SQLite for audit and export.
// The engine itself only produces an in-memory response log; persisting it
// is the CLI's concern.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

// New opens (and migrates) the database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		document_title TEXT,
		source_lang TEXT NOT NULL,
		target_lang TEXT NOT NULL,
		unit_count INTEGER,
		unresolved_count INTEGER,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS exchanges (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		variant TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		response TEXT,
		error TEXT,
		completed_at TIMESTAMP NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_exchanges_run ON exchanges(run_id);
	CREATE INDEX IF NOT EXISTS idx_exchanges_task ON exchanges(task_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Run is one persisted translation run.
type Run struct {
	ID              string
	DocumentTitle   string
	SourceLang      string
	TargetLang      string
	UnitCount       int
	UnresolvedCount int
	CreatedAt       time.Time
}

// Exchange is one persisted raw LLM exchange.
type Exchange struct {
	ID          string
	RunID       string
	TaskID      string
	Variant     string
	Attempts    int
	Response    string
	Error       string
	CompletedAt time.Time
}

// SaveRun records run metadata and returns its generated id.
func (s *Store) SaveRun(ctx context.Context, title, sourceLang, targetLang string, unitCount, unresolvedCount int) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, document_title, source_lang, target_lang, unit_count, unresolved_count)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, title, sourceLang, targetLang, unitCount, unresolvedCount)
	if err != nil {
		return "", fmt.Errorf("failed to save run: %w", err)
	}
	return id, nil
}

// SaveExchange appends one exchange to a run.
func (s *Store) SaveExchange(ctx context.Context, runID, taskID, variant string, attempts int, response, errText string, completedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exchanges (id, run_id, task_id, variant, attempts, response, error, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), runID, taskID, variant, attempts, response, errText, completedAt)
	if err != nil {
		return fmt.Errorf("failed to save exchange: %w", err)
	}
	return nil
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_title, source_lang, target_lang, unit_count, unresolved_count, created_at
		FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.DocumentTitle, &r.SourceLang, &r.TargetLang,
			&r.UnitCount, &r.UnresolvedCount, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListExchanges returns a run's exchanges in completion order.
func (s *Store) ListExchanges(ctx context.Context, runID string) ([]Exchange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, task_id, variant, attempts, response, error, completed_at
		FROM exchanges WHERE run_id = ? ORDER BY completed_at ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query exchanges: %w", err)
	}
	defer rows.Close()

	var out []Exchange
	for rows.Next() {
		var e Exchange
		if err := rows.Scan(&e.ID, &e.RunID, &e.TaskID, &e.Variant,
			&e.Attempts, &e.Response, &e.Error, &e.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan exchange: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ExportJSONL writes a run's exchanges to w as JSON lines, the debugging
// format external tooling consumes.
func (s *Store) ExportJSONL(ctx context.Context, runID string, w io.Writer) error {
	exchanges, err := s.ListExchanges(ctx, runID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	for _, e := range exchanges {
		entry := map[string]any{
			"task_id":      e.TaskID,
			"variant":      e.Variant,
			"attempts":     e.Attempts,
			"response":     e.Response,
			"completed_at": e.CompletedAt.Format(time.RFC3339),
		}
		if e.Error != "" {
			entry["error"] = e.Error
		}
		if err := enc.Encode(entry); err != nil {
			return fmt.Errorf("failed to encode exchange: %w", err)
		}
	}
	return nil
}

// Stats summarizes the exchange log.
type Stats struct {
	TotalRuns      int
	TotalExchanges int
	FailedTasks    int
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM runs),
			(SELECT COUNT(*) FROM exchanges),
			(SELECT COUNT(*) FROM exchanges WHERE error != '')`)
	if err := row.Scan(&st.TotalRuns, &st.TotalExchanges, &st.FailedTasks); err != nil {
		return st, fmt.Errorf("failed to get stats: %w", err)
	}
	return st, nil
}

// Clear removes all runs and exchanges, returning the number of exchanges
// deleted.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM exchanges`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear exchanges: %w", err)
	}
	n, _ := res.RowsAffected()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs`); err != nil {
		return n, fmt.Errorf("failed to clear runs: %w", err)
	}
	return n, nil
}
