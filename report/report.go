// Package report stores the results of optimization runs in SQLite.
package report

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrRunNotFound indicates the requested run doesn't exist
var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER,
	config      TEXT NOT NULL,
	methods     INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS results (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	method      TEXT NOT NULL,
	input_hash  TEXT NOT NULL,
	output_hash TEXT,
	code_before INTEGER NOT NULL,
	code_after  INTEGER,
	locals_before INTEGER NOT NULL,
	locals_after  INTEGER,
	pops        INTEGER NOT NULL DEFAULT 0,
	collapsed   INTEGER NOT NULL DEFAULT 0,
	duration_us INTEGER NOT NULL,
	error       TEXT,
	PRIMARY KEY (run_id, method)
);`

// Run is one invocation of the optimizer.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time // zero until FinishRun
	Config     string
	Methods    int
	Failed     int
}

// Entry is the result for one method. Output fields are empty when Error
// is set.
type Entry struct {
	Method       string
	InputHash    string
	OutputHash   string
	CodeBefore   uint32
	CodeAfter    uint32
	LocalsBefore int
	LocalsAfter  int
	Pops         int
	Collapsed    int
	Duration     time.Duration
	Error        string
}

// Store is a report database.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the report database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating report directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// BeginRun records a new run with the configuration it used.
func (s *Store) BeginRun(config string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := &Run{ID: uuid.New().String(), StartedAt: time.Now().UTC(), Config: config}
	_, err := s.db.Exec(
		"INSERT INTO runs (id, started_at, config) VALUES (?, ?, ?)",
		r.ID, r.StartedAt.UnixMilli(), r.Config,
	)
	if err != nil {
		return nil, fmt.Errorf("beginning run: %w", err)
	}
	return r, nil
}

// Record stores the result of one method.
func (s *Store) Record(runID string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkRun(runID); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO results
			(run_id, method, input_hash, output_hash, code_before, code_after,
			 locals_before, locals_after, pops, collapsed, duration_us, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, e.Method, e.InputHash, nullString(e.OutputHash), e.CodeBefore, nullIf(e.Error == "", e.CodeAfter),
		e.LocalsBefore, nullIf(e.Error == "", e.LocalsAfter), e.Pops, e.Collapsed, e.Duration.Microseconds(), nullString(e.Error),
	)
	if err != nil {
		return fmt.Errorf("recording %s: %w", e.Method, err)
	}
	return nil
}

// FinishRun closes a run with its totals.
func (s *Store) FinishRun(runID string, methods, failed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"UPDATE runs SET finished_at = ?, methods = ?, failed = ? WHERE id = ?",
		time.Now().UTC().UnixMilli(), methods, failed, runID,
	)
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	return nil
}

// GetRun returns a run by id.
func (s *Store) GetRun(runID string) (*Run, error) {
	r, err := scanRun(s.db.QueryRow(
		"SELECT id, started_at, finished_at, config, methods, failed FROM runs WHERE id = ?", runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		r        Run
		started  int64
		finished sql.NullInt64
	)
	if err := row.Scan(&r.ID, &started, &finished, &r.Config, &r.Methods, &r.Failed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning run: %w", err)
	}
	r.StartedAt = time.UnixMilli(started).UTC()
	if finished.Valid {
		r.FinishedAt = time.UnixMilli(finished.Int64).UTC()
	}
	return &r, nil
}

// Runs returns every run, most recent first.
func (s *Store) Runs() ([]*Run, error) {
	rows, err := s.db.Query(
		"SELECT id, started_at, finished_at, config, methods, failed FROM runs ORDER BY started_at DESC, id")
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Entries returns the results of a run ordered by method name.
func (s *Store) Entries(runID string) ([]Entry, error) {
	if err := s.checkRun(runID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(
		`SELECT method, input_hash, output_hash, code_before, code_after,
			locals_before, locals_after, pops, collapsed, duration_us, error
			FROM results WHERE run_id = ? ORDER BY method`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying results: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e           Entry
			outHash     sql.NullString
			codeAfter   sql.NullInt64
			localsAfter sql.NullInt64
			durationUS  int64
			errText     sql.NullString
		)
		if err := rows.Scan(&e.Method, &e.InputHash, &outHash, &e.CodeBefore, &codeAfter,
			&e.LocalsBefore, &localsAfter, &e.Pops, &e.Collapsed, &durationUS, &errText); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		e.OutputHash = outHash.String
		e.CodeAfter = uint32(codeAfter.Int64)
		e.LocalsAfter = int(localsAfter.Int64)
		e.Duration = time.Duration(durationUS) * time.Microsecond
		e.Error = errText.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) checkRun(runID string) error {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM runs WHERE id = ?", runID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return fmt.Errorf("querying run: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullIf(valid bool, v any) any {
	if !valid {
		return nil
	}
	return v
}
