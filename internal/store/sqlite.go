package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/healdash/internal/domain"
	"github.com/ashureev/healdash/internal/shared"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

const defaultListLimit = 20

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry shared.RetryPolicy
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// WAL mode for concurrent readers while the recorder writes.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL DEFAULT '',
		repo_url TEXT NOT NULL,
		branch_name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		score INTEGER NOT NULL DEFAULT 0,
		total_failures INTEGER NOT NULL DEFAULT 0,
		fixes_applied INTEGER NOT NULL DEFAULT 0,
		remaining_issues INTEGER NOT NULL DEFAULT 0,
		duration TEXT NOT NULL DEFAULT '',
		pr_url TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_session ON runs(session_id) WHERE session_id != '';

	CREATE TABLE IF NOT EXISTS run_fixes (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		file_path TEXT NOT NULL,
		fix_type TEXT NOT NULL DEFAULT '',
		line_number INTEGER NOT NULL DEFAULT 0,
		commit_message TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		method TEXT NOT NULL,
		agent TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, position)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// newID returns a lexically sortable run ID.
func newID() string {
	return ulid.Make().String()
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveRun inserts a run and its fixes in one transaction.
// Implements retry logic with exponential backoff to handle SQLITE_BUSY errors.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *domain.Run) error {
	if run == nil {
		return errors.New("save run: nil run")
	}
	if run.ID == "" {
		run.ID = newID()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	return shared.RetryOnConflict(ctx, "save run", s.retry, func(ctx context.Context) error {
		return s.saveRunOnce(ctx, run)
	})
}

func (s *SQLiteStore) saveRunOnce(ctx context.Context, run *domain.Run) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save run: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Warn("Failed to roll back run insert", "error", rbErr, "run_id", run.ID)
			}
		}
	}()

	var prURL any
	if run.PRURL != "" {
		prURL = run.PRURL
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, session_id, repo_url, branch_name, status, score,
			total_failures, fixes_applied, remaining_issues, duration, pr_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.SessionID, run.RepoURL, run.BranchName, run.Status, run.Score,
		run.TotalFailures, run.FixesApplied, run.RemainingIssues, run.Duration, prURL,
		run.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrDuplicateRun, run.SessionID)
		}
		return fmt.Errorf("insert run: %w", err)
	}

	for i, f := range run.Fixes {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_fixes (run_id, position, file_path, fix_type, line_number,
				commit_message, status, method, agent)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, i, f.File, f.Type, f.Line, f.CommitMessage, f.Status, f.Method, f.Agent,
		)
		if err != nil {
			return fmt.Errorf("insert fix %d: %w", i, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

const runColumns = `id, session_id, repo_url, branch_name, status, score,
	total_failures, fixes_applied, remaining_issues, duration, pr_url, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var run domain.Run
	var prURL sql.NullString
	var createdAt int64
	if err := row.Scan(
		&run.ID, &run.SessionID, &run.RepoURL, &run.BranchName, &run.Status, &run.Score,
		&run.TotalFailures, &run.FixesApplied, &run.RemainingIssues, &run.Duration,
		&prURL, &createdAt,
	); err != nil {
		return nil, err
	}
	run.PRURL = prURL.String
	run.CreatedAt = time.UnixMilli(createdAt)
	return &run, nil
}

// GetRun retrieves a run with its fixes.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan run row: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT file_path, fix_type, line_number, commit_message, status, method, agent
		FROM run_fixes WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("query fixes: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("Failed to close fix rows", "error", closeErr)
		}
	}()

	for rows.Next() {
		var f domain.RunFix
		if err := rows.Scan(&f.File, &f.Type, &f.Line, &f.CommitMessage, &f.Status, &f.Method, &f.Agent); err != nil {
			return nil, fmt.Errorf("scan fix row: %w", err)
		}
		run.Fixes = append(run.Fixes, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fixes: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*domain.Run, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("Failed to close run rows", "error", closeErr)
		}
	}()

	runs := make([]*domain.Run, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// DeleteRunsBefore removes runs created before t. Fixes go with them.
func (s *SQLiteStore) DeleteRunsBefore(ctx context.Context, t time.Time) (int64, error) {
	var deleted int64
	err := shared.RetryOnConflict(ctx, "delete runs", s.retry, func(ctx context.Context) error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE created_at < ?`, t.UnixMilli())
		if err != nil {
			return fmt.Errorf("delete runs: %w", err)
		}
		deleted, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		return nil
	})
	return deleted, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
