package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Run describes one extraction run persisted alongside its mapping.
type Run struct {
	ID          string    `db:"id"`
	Destination string    `db:"destination"`
	Source      string    `db:"source"`
	StartedAt   time.Time `db:"started_at"`
	FinishedAt  time.Time `db:"finished_at"`
	Written     int       `db:"written"`
}

// SQLiteStore persists run mappings in a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and runs any
// pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// SaveRun stores the run and all entries of its mapping in one transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run Run, m *Mapping) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO runs (id, destination, source, started_at, finished_at, written)
		VALUES (:id, :destination, :source, :started_at, :finished_at, :written)`,
		run,
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO entries (run_id, position, stored_name, message_id, content_hash, subject)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing entry statement: %w", err)
	}
	defer stmt.Close()

	for i, e := range m.Entries() {
		if _, err := stmt.ExecContext(ctx, run.ID, i, e.StoredName, e.MessageID, e.ContentHash, e.Subject); err != nil {
			return fmt.Errorf("inserting entry %s: %w", e.StoredName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing run %s: %w", run.ID, err)
	}
	return nil
}

// Runs lists persisted runs, newest first.
func (s *SQLiteStore) Runs(ctx context.Context) ([]Run, error) {
	var runs []Run
	err := s.db.SelectContext(ctx, &runs, `
		SELECT id, destination, source, started_at, finished_at, written
		FROM runs ORDER BY started_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

// Entries returns the entries of one run, or of all runs when runID is empty.
func (s *SQLiteStore) Entries(ctx context.Context, runID string) ([]Entry, error) {
	query := `
		SELECT e.stored_name, e.message_id, e.content_hash, e.subject
		FROM entries e JOIN runs r ON r.id = e.run_id`
	args := []any{}
	if runID != "" {
		query += ` WHERE e.run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY r.started_at, e.run_id, e.position`

	var entries []Entry
	if err := s.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	return entries, nil
}
