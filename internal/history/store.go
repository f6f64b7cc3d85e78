// Package history records finished download jobs in a local SQLite
// database so clients can list past work across restarts.
package history

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped when the schema changes; a mismatched database
// must be deleted rather than silently reused.
const schemaVersion = 1

var ErrSchemaMismatch = errors.New("history schema version mismatch")

type Entry struct {
	ID         int64     `db:"id" json:"id"`
	JobID      string    `db:"job_id" json:"jobId"`
	URL        string    `db:"url" json:"url"`
	Platform   string    `db:"platform" json:"platform"`
	Engine     string    `db:"engine" json:"engine"`
	Outcome    string    `db:"outcome" json:"outcome"`
	FileName   string    `db:"file_name" json:"fileName,omitempty"`
	FileSize   int64     `db:"file_size" json:"fileSize,omitempty"`
	Error      string    `db:"error" json:"error,omitempty"`
	StartedAt  time.Time `db:"started_at" json:"startedAt"`
	FinishedAt time.Time `db:"finished_at" json:"finishedAt"`
}

type Store struct {
	db   *sqlx.DB
	path string
}

// Default is the process-wide store, set in main. Recording is a no-op
// until it is opened, so tests and the pack tool need no database.
var Default *Store

// Open connects to (or creates) the history database under dataDir.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "history.db")
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin schema tx: %w", err)
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return tx.Commit()
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

// Record inserts one finished job. Safe to call on a nil store.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if s == nil {
		return nil
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO downloads (job_id, url, platform, engine, outcome, file_name, file_size, error, started_at, finished_at)
		VALUES (:job_id, :url, :platform, :engine, :outcome, :file_name, :file_size, :error, :started_at, :finished_at)`,
		e)
	if err != nil {
		return fmt.Errorf("record download: %w", err)
	}
	return nil
}

// Recent returns the newest entries first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var entries []Entry
	err := s.db.SelectContext(ctx, &entries,
		"SELECT * FROM downloads ORDER BY finished_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return entries, nil
}

// Prune removes entries older than the retention window.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil {
		return 0, nil
	}
	cutoff := time.Now().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, "DELETE FROM downloads WHERE finished_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
