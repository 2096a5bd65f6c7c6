// Package runlog keeps a SQLite history of pipeline runs so past outcomes
// can be listed and inspected after their summary files are gone.
package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"vidscribe/internal/services"
	"vidscribe/internal/stage"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Entry is one recorded pipeline run.
type Entry struct {
	RunID       string          `json:"run_id"`
	SourceID    string          `json:"source_id"`
	SourceRef   string          `json:"source_ref"`
	Status      stage.RunStatus `json:"status"`
	Model       string          `json:"model,omitempty"`
	CachePolicy string          `json:"cache_policy,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
	HandoffPath string          `json:"handoff_path,omitempty"`
	SummaryPath string          `json:"summary_path,omitempty"`
	FailedStage string          `json:"failed_stage,omitempty"`
	ErrorKind   string          `json:"error_kind,omitempty"`
	Error       string          `json:"error,omitempty"`
	Stages      []stage.Result  `json:"stages"`
}

// Duration returns the wall time of the run.
func (e Entry) Duration() time.Duration {
	if e.FinishedAt.Before(e.StartedAt) {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}

// Store persists run entries in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the run database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("run log path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure run log directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record inserts or replaces the entry for e.RunID.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if strings.TrimSpace(e.RunID) == "" {
		return errors.New("record run: empty run id")
	}
	stagesJSON, err := json.Marshal(e.Stages)
	if err != nil {
		return fmt.Errorf("marshal stages: %w", err)
	}
	return retryOnBusy(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO runs (
                run_id, source_id, source_ref, status, model, cache_policy,
                started_at, finished_at, handoff_path, summary_path,
                failed_stage, error_kind, error_message, stages_json
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.RunID,
			e.SourceID,
			e.SourceRef,
			string(e.Status),
			nullableString(e.Model),
			nullableString(e.CachePolicy),
			e.StartedAt.UTC().Format(timeLayout),
			e.FinishedAt.UTC().Format(timeLayout),
			nullableString(e.HandoffPath),
			nullableString(e.SummaryPath),
			nullableString(e.FailedStage),
			nullableString(e.ErrorKind),
			nullableString(e.Error),
			string(stagesJSON),
		)
		if execErr != nil {
			return fmt.Errorf("insert run: %w", execErr)
		}
		return nil
	})
}

const entryColumns = "run_id, source_id, source_ref, status, model, cache_policy, started_at, finished_at, handoff_path, summary_path, failed_stage, error_kind, error_message, stages_json"

// List returns the most recent runs, newest first. A limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM runs ORDER BY started_at DESC, run_id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return entries, nil
}

// Get returns the run with the given id. A unique id prefix is accepted.
func (s *Store) Get(ctx context.Context, runID string) (Entry, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return Entry{}, services.Wrap(services.ErrNotFound, "", "runs", "Empty run id", nil)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM runs WHERE run_id = ? OR run_id LIKE ? ESCAPE '\' ORDER BY run_id LIMIT 2`,
		runID, escapeLike(runID)+"%")
	if err != nil {
		return Entry{}, fmt.Errorf("get run: %w", err)
	}
	defer rows.Close()

	var matches []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return Entry{}, fmt.Errorf("scan run: %w", err)
		}
		if entry.RunID == runID {
			return entry, nil
		}
		matches = append(matches, entry)
	}
	if err := rows.Err(); err != nil {
		return Entry{}, fmt.Errorf("iterate runs: %w", err)
	}
	switch len(matches) {
	case 0:
		return Entry{}, services.Wrap(services.ErrNotFound, "", "runs", fmt.Sprintf("No run %q", runID), nil)
	case 1:
		return matches[0], nil
	default:
		return Entry{}, services.Wrap(services.ErrValidation, "", "runs", fmt.Sprintf("Run id prefix %q is ambiguous", runID), nil)
	}
}

// LatestForSource returns the most recent run for sourceID.
func (s *Store) LatestForSource(ctx context.Context, sourceID string) (Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM runs WHERE source_id = ? ORDER BY started_at DESC, run_id LIMIT 1`, sourceID)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, services.Wrap(services.ErrNotFound, "", "runs", fmt.Sprintf("No runs recorded for %s", sourceID), nil)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("latest run: %w", err)
	}
	return entry, nil
}

func scanEntry(scanner interface{ Scan(dest ...any) error }) (Entry, error) {
	var (
		entry       Entry
		status      string
		model       sql.NullString
		cachePolicy sql.NullString
		startedRaw  string
		finishedRaw string
		handoff     sql.NullString
		summary     sql.NullString
		failedStage sql.NullString
		errorKind   sql.NullString
		errorMsg    sql.NullString
		stagesJSON  string
	)
	if err := scanner.Scan(
		&entry.RunID,
		&entry.SourceID,
		&entry.SourceRef,
		&status,
		&model,
		&cachePolicy,
		&startedRaw,
		&finishedRaw,
		&handoff,
		&summary,
		&failedStage,
		&errorKind,
		&errorMsg,
		&stagesJSON,
	); err != nil {
		return Entry{}, err
	}
	entry.Status = stage.RunStatus(status)
	entry.Model = model.String
	entry.CachePolicy = cachePolicy.String
	entry.StartedAt = parseTime(startedRaw)
	entry.FinishedAt = parseTime(finishedRaw)
	entry.HandoffPath = handoff.String
	entry.SummaryPath = summary.String
	entry.FailedStage = failedStage.String
	entry.ErrorKind = errorKind.String
	entry.Error = errorMsg.String
	if err := json.Unmarshal([]byte(stagesJSON), &entry.Stages); err != nil {
		return Entry{}, fmt.Errorf("decode stages: %w", err)
	}
	return entry, nil
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
