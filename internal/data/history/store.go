// Package history persists per-run transformation outcomes in a local sqlite
// database so repeated runs over the same project can be compared.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	driverName  = "sqlite"
	maxAttempts = 5
)

// Run summarizes one pipeline invocation over a set of units.
type Run struct {
	ID       string
	Started  time.Time
	Finished time.Time
	Tier     string
	Files    int
	Complete int
	Partial  int
	Failed   int
}

// UnitRecord is one unit's outcome within a run, with ledger totals.
type UnitRecord struct {
	Path     string
	Status   string
	Applied  int
	Skipped  int
	FellBack int
}

type Store struct {
	path string
	db   *sql.DB
	mu   sync.Mutex
}

func Open(path string) (*Store, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, fmt.Errorf("history path must not be empty")
	}
	if info, err := os.Stat(cleanPath); err == nil && info.IsDir() {
		return nil, fmt.Errorf("history path %q is a directory, expected file", cleanPath)
	}

	dir := filepath.Dir(cleanPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory %q: %w", dir, err)
		}
	}

	// busy_timeout + WAL reduce lock conflicts during watch-mode churn.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(2000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cleanPath)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite history %q: %w", cleanPath, err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite history %q: %w", cleanPath, err)
	}
	if err := EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize sqlite schema %q: %w", cleanPath, err)
	}

	return &Store{path: cleanPath, db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveRun records a run and its unit outcomes in one transaction. When the
// run carries no ID one is assigned; the assigned ID is returned.
func (s *Store) SaveRun(run Run, units []UnitRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Started.IsZero() {
		run.Started = time.Now().UTC()
	}
	if run.Finished.IsZero() {
		run.Finished = time.Now().UTC()
	}

	err := s.withRetry("save run", func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}

		if _, err := tx.Exec(`
INSERT INTO runs (
  run_id, started_utc, finished_utc, tier, file_count,
  complete_count, partial_count, failed_count
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
			run.ID,
			run.Started.UTC().Format(time.RFC3339Nano),
			run.Finished.UTC().Format(time.RFC3339Nano),
			run.Tier,
			run.Files,
			run.Complete,
			run.Partial,
			run.Failed,
		); err != nil {
			_ = tx.Rollback()
			return err
		}

		for _, u := range units {
			if _, err := tx.Exec(`
INSERT INTO unit_results (run_id, path, status, applied_count, skipped_count, fellback_count)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id, path) DO UPDATE SET
  status=excluded.status,
  applied_count=excluded.applied_count,
  skipped_count=excluded.skipped_count,
  fellback_count=excluded.fellback_count
`, run.ID, u.Path, u.Status, u.Applied, u.Skipped, u.FellBack); err != nil {
				_ = tx.Rollback()
				return err
			}
		}

		return tx.Commit()
	})
	if err != nil {
		return "", err
	}
	return run.ID, nil
}

// RecentRuns returns the newest runs first, at most limit of them.
func (s *Store) RecentRuns(limit int) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}

	var rows *sql.Rows
	err := s.withRetry("load runs", func() error {
		var qErr error
		rows, qErr = s.db.Query(`
SELECT run_id, started_utc, finished_utc, tier, file_count,
       complete_count, partial_count, failed_count
FROM runs
ORDER BY started_utc DESC
LIMIT ?
`, limit)
		return qErr
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]Run, 0, limit)
	for rows.Next() {
		var (
			run         Run
			startedRaw  string
			finishedRaw string
		)
		if err := rows.Scan(
			&run.ID,
			&startedRaw,
			&finishedRaw,
			&run.Tier,
			&run.Files,
			&run.Complete,
			&run.Partial,
			&run.Failed,
		); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}

		started, err := time.Parse(time.RFC3339Nano, startedRaw)
		if err != nil {
			return nil, fmt.Errorf("parse run start %q: %w", startedRaw, err)
		}
		run.Started = started.UTC()

		finished, err := time.Parse(time.RFC3339Nano, finishedRaw)
		if err != nil {
			return nil, fmt.Errorf("parse run finish %q: %w", finishedRaw, err)
		}
		run.Finished = finished.UTC()

		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}

	return runs, nil
}

// UnitResults returns every unit outcome of one run, ordered by path.
func (s *Store) UnitResults(runID string) ([]UnitRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows *sql.Rows
	err := s.withRetry("load unit results", func() error {
		var qErr error
		rows, qErr = s.db.Query(`
SELECT path, status, applied_count, skipped_count, fellback_count
FROM unit_results
WHERE run_id = ?
ORDER BY path ASC
`, runID)
		return qErr
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	units := make([]UnitRecord, 0)
	for rows.Next() {
		var u UnitRecord
		if err := rows.Scan(&u.Path, &u.Status, &u.Applied, &u.Skipped, &u.FellBack); err != nil {
			return nil, fmt.Errorf("scan unit row: %w", err)
		}
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unit rows: %w", err)
	}

	return units, nil
}

func (s *Store) withRetry(op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isLockError(err) || attempt == maxAttempts {
			break
		}
		time.Sleep(time.Duration(attempt*25) * time.Millisecond)
	}
	return fmt.Errorf("%s: %w", op, lastErr)
}

func isLockError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}
